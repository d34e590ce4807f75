package recon

import (
    "time"

    "github.com/google/uuid"
    "github.com/govalues/money"

    "github.com/tinoosan/recon/internal/meta"
)

// RecordKind identifies which business record a ledger entry points at.
type RecordKind string

const (
	// RecordKindReceipt marks an outflow record (expense documentation).
	RecordKindReceipt RecordKind = "receipt"
	// RecordKindPayment marks an inflow record (money received against a booking).
	RecordKindPayment RecordKind = "payment"
)

// Valid reports whether k is one of the known record kinds.
func (k RecordKind) Valid() bool {
	return k == RecordKindReceipt || k == RecordKindPayment
}

// MatchType records how a ledger entry came to exist.
type MatchType string

const (
	// MatchTypeExact means amount and date matched exactly.
	MatchTypeExact MatchType = "exact"
	// MatchTypeFuzzy means the link was ranked by text similarity and confirmed.
	MatchTypeFuzzy MatchType = "fuzzy"
	// MatchTypeManual means an operator created the link directly.
	MatchTypeManual MatchType = "manual"
	// MatchTypeAuto means the consistency trigger derived the link from a
	// record's bank-line field. Auto entries are the only ones the trigger
	// may remove implicitly.
	MatchTypeAuto MatchType = "auto_generated"
)

// Confidence is a coarse label attached to a ledger entry for audit review.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// ToleranceMinor is the margin, in minor units, within which two sums are
// considered equal. One cent.
const ToleranceMinor int64 = 1

// BankLineItem is one row of an imported bank or card-processor statement.
// Immutable once imported except for annotations and the unexplained flag;
// corrected re-imports supersede rather than mutate.
type BankLineItem struct {
	ID      uuid.UUID
	Account string
	Date    time.Time
	// Amount is signed: negative for debits, positive for credits.
	Amount      money.Amount
	Description string
	// Vendor is the payee string extracted upstream, may be empty.
	Vendor     string
	SourceFile string
	// RunningBalance is the statement balance after this line, when the feed provides one.
	RunningBalance *money.Amount
	// Unexplained marks a line whose ledger entries do not cover its amount.
	Unexplained bool
	// Annotations holds provenance and operator notes.
	Annotations meta.Metadata
}

// Receipt is a documented expense or income event. A surrogate receipt is
// generated directly from a bank line when no paper trail exists.
type Receipt struct {
	ID              uuid.UUID
	Date            time.Time
	Vendor          string
	VendorCanonical string
	// Amount is the gross amount, always positive.
	Amount money.Amount
	// BankLineID links this receipt to at most one bank line.
	BankLineID *uuid.UUID
	// SplitGroupID is set when this receipt is part of a split allocation.
	SplitGroupID       *uuid.UUID
	Voided             bool
	ExcludeFromReports bool
	Surrogate          bool
}

// Payment is money received against a booking. Orphaned until a booking is
// assigned. Payments and receipts are disjoint views of money movement but
// share the matching and linking machinery.
type Payment struct {
	ID uuid.UUID
	// BookingID is nil while the payment is orphaned.
	BookingID *uuid.UUID
	Amount    money.Amount
	Date      time.Time
	Method    string
	// ProcessorRef is the external card-processor transaction id, if any.
	ProcessorRef string
	BankLineID   *uuid.UUID
}

// Booking is the business transaction being paid for. PaidAmount and Balance
// are derived from the linked payment set and never authoritative.
type Booking struct {
	ID uuid.UUID
	// Reference is a fixed-width zero-padded digit string. It is opaque:
	// leading zeros are significant and it must never be parsed as an integer.
	Reference  string
	AmountDue  money.Amount
	PaidAmount money.Amount
	Balance    money.Amount
}

// LedgerEntry is the durable fact that a bank line is explained, fully or
// partially, by one business record.
type LedgerEntry struct {
	ID         uuid.UUID
	BankLineID uuid.UUID
	RecordID   uuid.UUID
	RecordKind RecordKind
	MatchType  MatchType
	Confidence Confidence
	// Amount is the linked amount, which may be less than either side's full
	// amount for partial splits. Always positive.
	Amount    money.Amount
	CreatedAt time.Time
	// CreatedBy names the operator or automated process that made the link.
	CreatedBy string
}

// MinorUnits returns the amount in minor units, discarding the fit flag.
// Amounts in this domain always fit int64.
func MinorUnits(a money.Amount) int64 {
	m, _ := a.MinorUnits()
	return m
}

// AbsMinor returns the absolute amount of a bank line in minor units.
func (b BankLineItem) AbsMinor() int64 {
	m := MinorUnits(b.Amount)
	if m < 0 {
		return -m
	}
	return m
}
