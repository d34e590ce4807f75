package httpapi

import (
	"time"

	"github.com/google/uuid"

	"github.com/tinoosan/recon/internal/recon"
)

// Bank lines

type postBankLineRequest struct {
	Account     string            `json:"account"`
	Date        time.Time         `json:"date"`
	Currency    string            `json:"currency"`
	AmountMinor int64             `json:"amount_minor"`
	Description string            `json:"description"`
	Vendor      string            `json:"vendor,omitempty"`
	SourceFile  string            `json:"source_file,omitempty"`
	// RunningBalanceMinor carries the statement balance when the feed has one.
	RunningBalanceMinor *int64            `json:"running_balance_minor,omitempty"`
	Annotations         map[string]string `json:"annotations,omitempty"`
}

type bankLineResponse struct {
	ID                  uuid.UUID         `json:"id"`
	Account             string            `json:"account"`
	Date                time.Time         `json:"date"`
	Currency            string            `json:"currency"`
	AmountMinor         int64             `json:"amount_minor"`
	Amount              string            `json:"amount"`
	Description         string            `json:"description"`
	Vendor              string            `json:"vendor,omitempty"`
	SourceFile          string            `json:"source_file,omitempty"`
	RunningBalanceMinor *int64            `json:"running_balance_minor,omitempty"`
	Unexplained         bool              `json:"unexplained"`
	Annotations         map[string]string `json:"annotations,omitempty"`
}

func toBankLineResponse(b recon.BankLineItem) bankLineResponse {
	resp := bankLineResponse{
		ID:          b.ID,
		Account:     b.Account,
		Date:        b.Date,
		Currency:    b.Amount.Curr().Code(),
		AmountMinor: recon.MinorUnits(b.Amount),
		Amount:      b.Amount.String(),
		Description: b.Description,
		Vendor:      b.Vendor,
		SourceFile:  b.SourceFile,
		Unexplained: b.Unexplained,
		Annotations: b.Annotations,
	}
	if b.RunningBalance != nil {
		m := recon.MinorUnits(*b.RunningBalance)
		resp.RunningBalanceMinor = &m
	}
	return resp
}

// Receipts

type postReceiptRequest struct {
	Date            time.Time `json:"date"`
	Vendor          string    `json:"vendor"`
	VendorCanonical string    `json:"vendor_canonical,omitempty"`
	Currency        string    `json:"currency"`
	AmountMinor     int64     `json:"amount_minor"`
}

type receiptResponse struct {
	ID                 uuid.UUID  `json:"id"`
	Date               time.Time  `json:"date"`
	Vendor             string     `json:"vendor"`
	VendorCanonical    string     `json:"vendor_canonical,omitempty"`
	Currency           string     `json:"currency"`
	AmountMinor        int64      `json:"amount_minor"`
	Amount             string     `json:"amount"`
	BankLineID         *uuid.UUID `json:"bank_line_id,omitempty"`
	SplitGroupID       *uuid.UUID `json:"split_group_id,omitempty"`
	Voided             bool       `json:"voided"`
	ExcludeFromReports bool       `json:"exclude_from_reports"`
	Surrogate          bool       `json:"surrogate"`
}

func toReceiptResponse(r recon.Receipt) receiptResponse {
	return receiptResponse{
		ID:                 r.ID,
		Date:               r.Date,
		Vendor:             r.Vendor,
		VendorCanonical:    r.VendorCanonical,
		Currency:           r.Amount.Curr().Code(),
		AmountMinor:        recon.MinorUnits(r.Amount),
		Amount:             r.Amount.String(),
		BankLineID:         r.BankLineID,
		SplitGroupID:       r.SplitGroupID,
		Voided:             r.Voided,
		ExcludeFromReports: r.ExcludeFromReports,
		Surrogate:          r.Surrogate,
	}
}

// Payments

type postPaymentRequest struct {
	BookingID    *uuid.UUID `json:"booking_id,omitempty"`
	Date         time.Time  `json:"date"`
	Currency     string     `json:"currency"`
	AmountMinor  int64      `json:"amount_minor"`
	Method       string     `json:"method,omitempty"`
	ProcessorRef string     `json:"processor_ref,omitempty"`
}

type paymentResponse struct {
	ID           uuid.UUID  `json:"id"`
	BookingID    *uuid.UUID `json:"booking_id,omitempty"`
	Date         time.Time  `json:"date"`
	Currency     string     `json:"currency"`
	AmountMinor  int64      `json:"amount_minor"`
	Amount       string     `json:"amount"`
	Method       string     `json:"method,omitempty"`
	ProcessorRef string     `json:"processor_ref,omitempty"`
	BankLineID   *uuid.UUID `json:"bank_line_id,omitempty"`
}

func toPaymentResponse(p recon.Payment) paymentResponse {
	return paymentResponse{
		ID:           p.ID,
		BookingID:    p.BookingID,
		Date:         p.Date,
		Currency:     p.Amount.Curr().Code(),
		AmountMinor:  recon.MinorUnits(p.Amount),
		Amount:       p.Amount.String(),
		Method:       p.Method,
		ProcessorRef: p.ProcessorRef,
		BankLineID:   p.BankLineID,
	}
}

// Bookings

type postBookingRequest struct {
	Reference      string `json:"reference"`
	Currency       string `json:"currency"`
	AmountDueMinor int64  `json:"amount_due_minor"`
}

type bookingResponse struct {
	ID             uuid.UUID `json:"id"`
	Reference      string    `json:"reference"`
	Currency       string    `json:"currency"`
	AmountDueMinor int64     `json:"amount_due_minor"`
	PaidMinor      int64     `json:"paid_minor"`
	BalanceMinor   int64     `json:"balance_minor"`
	AmountDue      string    `json:"amount_due"`
	Paid           string    `json:"paid"`
	Balance        string    `json:"balance"`
}

func toBookingResponse(b recon.Booking) bookingResponse {
	return bookingResponse{
		ID:             b.ID,
		Reference:      b.Reference,
		Currency:       b.AmountDue.Curr().Code(),
		AmountDueMinor: recon.MinorUnits(b.AmountDue),
		PaidMinor:      recon.MinorUnits(b.PaidAmount),
		BalanceMinor:   recon.MinorUnits(b.Balance),
		AmountDue:      b.AmountDue.String(),
		Paid:           b.PaidAmount.String(),
		Balance:        b.Balance.String(),
	}
}

// Ledger links

type postLinkRequest struct {
	BankLineID  uuid.UUID        `json:"bank_line_id"`
	RecordID    uuid.UUID        `json:"record_id"`
	RecordKind  recon.RecordKind `json:"record_kind"`
	AmountMinor int64            `json:"amount_minor"`
	MatchType   recon.MatchType  `json:"match_type,omitempty"`
	Confidence  recon.Confidence `json:"confidence,omitempty"`
	CreatedBy   string           `json:"created_by,omitempty"`
}

type ledgerEntryResponse struct {
	ID          uuid.UUID        `json:"id"`
	BankLineID  uuid.UUID        `json:"bank_line_id"`
	RecordID    uuid.UUID        `json:"record_id"`
	RecordKind  recon.RecordKind `json:"record_kind"`
	MatchType   recon.MatchType  `json:"match_type"`
	Confidence  recon.Confidence `json:"confidence"`
	AmountMinor int64            `json:"amount_minor"`
	Amount      string           `json:"amount"`
	CreatedAt   time.Time        `json:"created_at"`
	CreatedBy   string           `json:"created_by,omitempty"`
}

func toEntryResponse(e recon.LedgerEntry) ledgerEntryResponse {
	return ledgerEntryResponse{
		ID:          e.ID,
		BankLineID:  e.BankLineID,
		RecordID:    e.RecordID,
		RecordKind:  e.RecordKind,
		MatchType:   e.MatchType,
		Confidence:  e.Confidence,
		AmountMinor: recon.MinorUnits(e.Amount),
		Amount:      e.Amount.String(),
		CreatedAt:   e.CreatedAt,
		CreatedBy:   e.CreatedBy,
	}
}

// Allocations

type postAllocationRequest struct {
	BankLineID uuid.UUID                 `json:"bank_line_id"`
	Proposals  []postAllocationProposal  `json:"proposals"`
	Partial    bool                      `json:"partial,omitempty"`
	MatchType  recon.MatchType           `json:"match_type,omitempty"`
	CreatedBy  string                    `json:"created_by,omitempty"`
}

type postAllocationProposal struct {
	RecordID    uuid.UUID        `json:"record_id"`
	Kind        recon.RecordKind `json:"kind"`
	AmountMinor int64            `json:"amount_minor"`
}

type allocationLineResponse struct {
	RecordID    uuid.UUID        `json:"record_id"`
	Kind        recon.RecordKind `json:"kind"`
	AmountMinor int64            `json:"amount_minor"`
	EntryID     uuid.UUID        `json:"entry_id"`
}

type allocationResponse struct {
	GroupID       uuid.UUID                `json:"group_id"`
	Lines         []allocationLineResponse `json:"lines"`
	ResidualMinor int64                    `json:"residual_minor"`
}

// Matching

type candidateResponse struct {
	RecordID      uuid.UUID        `json:"record_id"`
	Kind          recon.RecordKind `json:"kind"`
	Date          time.Time        `json:"date"`
	AmountMinor   int64            `json:"amount_minor"`
	Vendor        string           `json:"vendor,omitempty"`
	Score         int              `json:"score"`
	DateDeltaDays int              `json:"date_delta_days"`
}

type candidatesResponse struct {
	Candidates []candidateResponse `json:"candidates"`
	Ambiguous  bool                `json:"ambiguous"`
}

// Balance recalculation

type recalcAllResponse struct {
	Recalculated int                 `json:"recalculated"`
	Skipped      int                 `json:"skipped"`
	Violations   []violationResponse `json:"violations"`
}

type violationResponse struct {
	BookingID     uuid.UUID `json:"booking_id"`
	Reference     string    `json:"reference"`
	ExpectedMinor int64     `json:"expected_paid_minor"`
	ActualMinor   int64     `json:"actual_paid_minor"`
}

// Field update payloads. A present-but-null id clears the link.

type patchBankLineRef struct {
	BankLineID *uuid.UUID `json:"bank_line_id"`
}

type patchBookingRef struct {
	BookingID *uuid.UUID `json:"booking_id"`
}

type patchAmount struct {
	AmountMinor int64 `json:"amount_minor"`
}
