// Package ledger owns the reconciliation ledger: the single source of truth
// for "this bank line is explained by this business record". It also hosts
// the consistency trigger, so every record-field transition that affects a
// link re-derives the ledger and the affected booking inside one transaction.
package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/govalues/money"

	"github.com/tinoosan/recon/internal/errs"
	"github.com/tinoosan/recon/internal/recon"
	"github.com/tinoosan/recon/internal/service/balance"
	"github.com/tinoosan/recon/internal/storage"
)

// TriggerActor names the automated process on trigger-created entries.
const TriggerActor = "consistency-trigger"

// LinkParams describes an explicit link request.
type LinkParams struct {
	BankLineID  uuid.UUID
	RecordID    uuid.UUID
	Kind        recon.RecordKind
	AmountMinor int64
	MatchType   recon.MatchType
	Confidence  recon.Confidence
	CreatedBy   string
}

// Service exposes the ledger operations and the trigger-bearing record
// updates. The ledger never computes matches itself; matching and allocation
// live in their own packages.
type Service interface {
	Link(ctx context.Context, p LinkParams) (recon.LedgerEntry, error)
	Unlink(ctx context.Context, entryID uuid.UUID) error
	EntriesFor(ctx context.Context, bankLineID uuid.UUID) ([]recon.LedgerEntry, error)

	// SetReceiptBankLine and SetPaymentBankLine are the "normal field update"
	// paths: external correction scripts go through these, and the trigger
	// keeps the ledger in step without a second manual sync.
	SetReceiptBankLine(ctx context.Context, receiptID uuid.UUID, bankLineID *uuid.UUID) (recon.Receipt, error)
	SetPaymentBankLine(ctx context.Context, paymentID uuid.UUID, bankLineID *uuid.UUID) (recon.Payment, error)
	SetPaymentBooking(ctx context.Context, paymentID uuid.UUID, bookingID *uuid.UUID) (recon.Payment, error)
	CorrectPaymentAmount(ctx context.Context, paymentID uuid.UUID, amountMinor int64) (recon.Payment, error)

	// CreateSurrogateReceipt generates a receipt directly from a bank line
	// when no paper trail exists, and links it.
	CreateSurrogateReceipt(ctx context.Context, bankLineID uuid.UUID, createdBy string) (recon.Receipt, recon.LedgerEntry, error)
}

type service struct {
	store storage.Store
	now   func() time.Time
}

// New constructs the ledger service. now is injectable for tests; pass nil
// for the wall clock.
func New(store storage.Store, now func() time.Time) Service {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &service{store: store, now: now}
}

func (s *service) Link(ctx context.Context, p LinkParams) (recon.LedgerEntry, error) {
	if p.BankLineID == uuid.Nil || p.RecordID == uuid.Nil || !p.Kind.Valid() || p.AmountMinor <= 0 {
		return recon.LedgerEntry{}, errs.ErrInvalid
	}
	if p.MatchType == "" {
		p.MatchType = recon.MatchTypeManual
	}
	if p.Confidence == "" {
		p.Confidence = recon.ConfidenceHigh
	}
	var entry recon.LedgerEntry
	err := s.store.InTx(ctx, func(tx storage.Store) error {
		line, err := tx.BankLine(ctx, p.BankLineID)
		if err != nil {
			return err
		}
		if err := checkRecord(ctx, tx, p.RecordID, p.Kind); err != nil {
			return err
		}
		if _, exists, err := tx.LedgerEntryByPair(ctx, p.BankLineID, p.RecordID); err != nil {
			return err
		} else if exists {
			return errs.ErrDuplicateLink
		}
		amt, err := money.NewAmountFromMinorUnits(line.Amount.Curr().Code(), p.AmountMinor)
		if err != nil {
			return err
		}
		entry = recon.LedgerEntry{
			ID:         uuid.New(),
			BankLineID: p.BankLineID,
			RecordID:   p.RecordID,
			RecordKind: p.Kind,
			MatchType:  p.MatchType,
			Confidence: p.Confidence,
			Amount:     amt,
			CreatedAt:  s.now(),
			CreatedBy:  p.CreatedBy,
		}
		if entry, err = tx.CreateLedgerEntry(ctx, entry); err != nil {
			return err
		}
		if err := RefreshUnexplained(ctx, tx, p.BankLineID); err != nil {
			return err
		}
		return recalcIfPayment(ctx, tx, p.RecordID, p.Kind)
	})
	if err != nil {
		return recon.LedgerEntry{}, err
	}
	return entry, nil
}

func (s *service) Unlink(ctx context.Context, entryID uuid.UUID) error {
	if entryID == uuid.Nil {
		return errs.ErrInvalid
	}
	return s.store.InTx(ctx, func(tx storage.Store) error {
		entry, err := tx.LedgerEntry(ctx, entryID)
		if err != nil {
			return err
		}
		if err := tx.DeleteLedgerEntry(ctx, entryID); err != nil {
			return err
		}
		// Keep the record's bank-line field coherent with the ledger when the
		// removed entry was the one backing it.
		if err := clearRecordLinkIfOrphaned(ctx, tx, entry); err != nil {
			return err
		}
		if err := RefreshUnexplained(ctx, tx, entry.BankLineID); err != nil {
			return err
		}
		return recalcIfPayment(ctx, tx, entry.RecordID, entry.RecordKind)
	})
}

func (s *service) EntriesFor(ctx context.Context, bankLineID uuid.UUID) ([]recon.LedgerEntry, error) {
	if bankLineID == uuid.Nil {
		return nil, errs.ErrInvalid
	}
	return s.store.LedgerEntriesByBankLine(ctx, bankLineID)
}

func (s *service) SetReceiptBankLine(ctx context.Context, receiptID uuid.UUID, bankLineID *uuid.UUID) (recon.Receipt, error) {
	if receiptID == uuid.Nil {
		return recon.Receipt{}, errs.ErrInvalid
	}
	var out recon.Receipt
	err := s.store.InTx(ctx, func(tx storage.Store) error {
		r, err := tx.Receipt(ctx, receiptID)
		if err != nil {
			return err
		}
		old := r.BankLineID
		r.BankLineID = bankLineID
		if out, err = tx.UpdateReceipt(ctx, r); err != nil {
			return err
		}
		return s.syncRecordLink(ctx, tx, receiptID, recon.RecordKindReceipt, old, bankLineID, recon.MinorUnits(r.Amount))
	})
	return out, err
}

func (s *service) SetPaymentBankLine(ctx context.Context, paymentID uuid.UUID, bankLineID *uuid.UUID) (recon.Payment, error) {
	if paymentID == uuid.Nil {
		return recon.Payment{}, errs.ErrInvalid
	}
	var out recon.Payment
	err := s.store.InTx(ctx, func(tx storage.Store) error {
		p, err := tx.Payment(ctx, paymentID)
		if err != nil {
			return err
		}
		old := p.BankLineID
		p.BankLineID = bankLineID
		if out, err = tx.UpdatePayment(ctx, p); err != nil {
			return err
		}
		if err := s.syncRecordLink(ctx, tx, paymentID, recon.RecordKindPayment, old, bankLineID, recon.MinorUnits(p.Amount)); err != nil {
			return err
		}
		if p.BookingID != nil {
			if _, err := balance.Apply(ctx, tx, *p.BookingID); err != nil {
				return err
			}
		}
		return nil
	})
	return out, err
}

func (s *service) SetPaymentBooking(ctx context.Context, paymentID uuid.UUID, bookingID *uuid.UUID) (recon.Payment, error) {
	if paymentID == uuid.Nil {
		return recon.Payment{}, errs.ErrInvalid
	}
	var out recon.Payment
	err := s.store.InTx(ctx, func(tx storage.Store) error {
		p, err := tx.Payment(ctx, paymentID)
		if err != nil {
			return err
		}
		old := p.BookingID
		p.BookingID = bookingID
		if out, err = tx.UpdatePayment(ctx, p); err != nil {
			return err
		}
		// Both sides of a reassignment need fresh figures.
		if old != nil {
			if _, err := balance.Apply(ctx, tx, *old); err != nil {
				return err
			}
		}
		if bookingID != nil {
			if _, err := balance.Apply(ctx, tx, *bookingID); err != nil {
				return err
			}
		}
		return nil
	})
	return out, err
}

func (s *service) CorrectPaymentAmount(ctx context.Context, paymentID uuid.UUID, amountMinor int64) (recon.Payment, error) {
	if paymentID == uuid.Nil || amountMinor <= 0 {
		return recon.Payment{}, errs.ErrInvalid
	}
	var out recon.Payment
	err := s.store.InTx(ctx, func(tx storage.Store) error {
		p, err := tx.Payment(ctx, paymentID)
		if err != nil {
			return err
		}
		amt, err := money.NewAmountFromMinorUnits(p.Amount.Curr().Code(), amountMinor)
		if err != nil {
			return err
		}
		p.Amount = amt
		if out, err = tx.UpdatePayment(ctx, p); err != nil {
			return err
		}
		// Trigger-created entries carry the record's full amount; refresh the
		// auto entry so the ledger keeps covering the corrected figure.
		// Manual and split-allocated entries are never touched implicitly.
		if p.BankLineID != nil {
			entry, exists, err := tx.LedgerEntryByPair(ctx, *p.BankLineID, p.ID)
			if err != nil {
				return err
			}
			if exists && entry.MatchType == recon.MatchTypeAuto {
				entry.Amount = amt
				if _, err := tx.UpdateLedgerEntry(ctx, entry); err != nil {
					return err
				}
			}
			if err := RefreshUnexplained(ctx, tx, *p.BankLineID); err != nil {
				return err
			}
		}
		if p.BookingID != nil {
			if _, err := balance.Apply(ctx, tx, *p.BookingID); err != nil {
				return err
			}
		}
		return nil
	})
	return out, err
}

func (s *service) CreateSurrogateReceipt(ctx context.Context, bankLineID uuid.UUID, createdBy string) (recon.Receipt, recon.LedgerEntry, error) {
	if bankLineID == uuid.Nil {
		return recon.Receipt{}, recon.LedgerEntry{}, errs.ErrInvalid
	}
	var (
		receipt recon.Receipt
		entry   recon.LedgerEntry
	)
	err := s.store.InTx(ctx, func(tx storage.Store) error {
		line, err := tx.BankLine(ctx, bankLineID)
		if err != nil {
			return err
		}
		amt, err := money.NewAmountFromMinorUnits(line.Amount.Curr().Code(), line.AbsMinor())
		if err != nil {
			return err
		}
		lineID := line.ID
		receipt = recon.Receipt{
			ID:         uuid.New(),
			Date:       line.Date,
			Vendor:     line.Vendor,
			Amount:     amt,
			BankLineID: &lineID,
			Surrogate:  true,
		}
		if receipt.Vendor == "" {
			receipt.Vendor = line.Description
		}
		if receipt, err = tx.CreateReceipt(ctx, receipt); err != nil {
			return err
		}
		entry = recon.LedgerEntry{
			ID:         uuid.New(),
			BankLineID: bankLineID,
			RecordID:   receipt.ID,
			RecordKind: recon.RecordKindReceipt,
			MatchType:  recon.MatchTypeAuto,
			Confidence: recon.ConfidenceHigh,
			Amount:     amt,
			CreatedAt:  s.now(),
			CreatedBy:  createdBy,
		}
		if entry, err = tx.CreateLedgerEntry(ctx, entry); err != nil {
			return err
		}
		return RefreshUnexplained(ctx, tx, bankLineID)
	})
	if err != nil {
		return recon.Receipt{}, recon.LedgerEntry{}, err
	}
	return receipt, entry, nil
}

// syncRecordLink is the consistency trigger. It runs inside the caller's
// transaction on every (set, changed, cleared) transition of a record's
// bank-line field:
//  1. a new non-nil link with no ledger entry for the pair gets an
//     auto-generated entry at the record's full amount;
//  2. a cleared or replaced link drops the pair's auto-generated entry, but
//     never a manual or split-allocated one;
//  3. the unexplained flag of every touched bank line is re-derived.
func (s *service) syncRecordLink(ctx context.Context, tx storage.Store, recordID uuid.UUID, kind recon.RecordKind, oldID, newID *uuid.UUID, amountMinor int64) error {
	if oldID != nil && (newID == nil || *newID != *oldID) {
		entry, exists, err := tx.LedgerEntryByPair(ctx, *oldID, recordID)
		if err != nil {
			return err
		}
		if exists && entry.MatchType == recon.MatchTypeAuto {
			if err := tx.DeleteLedgerEntry(ctx, entry.ID); err != nil {
				return err
			}
		}
		if err := RefreshUnexplained(ctx, tx, *oldID); err != nil {
			return err
		}
	}
	if newID != nil && (oldID == nil || *oldID != *newID) {
		line, err := tx.BankLine(ctx, *newID)
		if err != nil {
			return err
		}
		_, exists, err := tx.LedgerEntryByPair(ctx, *newID, recordID)
		if err != nil {
			return err
		}
		if !exists {
			amt, err := money.NewAmountFromMinorUnits(line.Amount.Curr().Code(), amountMinor)
			if err != nil {
				return err
			}
			entry := recon.LedgerEntry{
				ID:         uuid.New(),
				BankLineID: *newID,
				RecordID:   recordID,
				RecordKind: kind,
				MatchType:  recon.MatchTypeAuto,
				Confidence: recon.ConfidenceMedium,
				Amount:     amt,
				CreatedAt:  s.now(),
				CreatedBy:  TriggerActor,
			}
			if _, err := tx.CreateLedgerEntry(ctx, entry); err != nil {
				return err
			}
		}
		if err := RefreshUnexplained(ctx, tx, *newID); err != nil {
			return err
		}
	}
	return nil
}

// RefreshUnexplained re-derives a bank line's unexplained flag from its
// current entry set: flagged when the linked amounts do not cover the line's
// amount within tolerance. Exported for the allocator, which maintains the
// flag inside its own transaction.
func RefreshUnexplained(ctx context.Context, tx storage.Store, bankLineID uuid.UUID) error {
	line, err := tx.BankLine(ctx, bankLineID)
	if err != nil {
		return err
	}
	entries, err := tx.LedgerEntriesByBankLine(ctx, bankLineID)
	if err != nil {
		return err
	}
	var sum int64
	for _, e := range entries {
		sum += recon.MinorUnits(e.Amount)
	}
	diff := sum - line.AbsMinor()
	if diff < 0 {
		diff = -diff
	}
	unexplained := len(entries) == 0 || diff > recon.ToleranceMinor
	if unexplained == line.Unexplained {
		return nil
	}
	line.Unexplained = unexplained
	_, err = tx.UpdateBankLine(ctx, line)
	return err
}

// checkRecord verifies the linked record exists under the claimed kind.
func checkRecord(ctx context.Context, tx storage.Store, recordID uuid.UUID, kind recon.RecordKind) error {
	switch kind {
	case recon.RecordKindReceipt:
		_, err := tx.Receipt(ctx, recordID)
		return err
	case recon.RecordKindPayment:
		_, err := tx.Payment(ctx, recordID)
		return err
	default:
		return errs.ErrInvalid
	}
}

// recalcIfPayment re-derives the booking figures when the record is a payment
// attached to a booking.
func recalcIfPayment(ctx context.Context, tx storage.Store, recordID uuid.UUID, kind recon.RecordKind) error {
	if kind != recon.RecordKindPayment {
		return nil
	}
	p, err := tx.Payment(ctx, recordID)
	if err != nil {
		return err
	}
	if p.BookingID == nil {
		return nil
	}
	_, err = balance.Apply(ctx, tx, *p.BookingID)
	return err
}

// clearRecordLinkIfOrphaned clears the record's bank-line field when the
// deleted entry was the last one for the pair the field pointed at.
func clearRecordLinkIfOrphaned(ctx context.Context, tx storage.Store, entry recon.LedgerEntry) error {
	switch entry.RecordKind {
	case recon.RecordKindReceipt:
		r, err := tx.Receipt(ctx, entry.RecordID)
		if err != nil {
			return err
		}
		if r.BankLineID == nil || *r.BankLineID != entry.BankLineID {
			return nil
		}
		if _, exists, err := tx.LedgerEntryByPair(ctx, entry.BankLineID, entry.RecordID); err != nil || exists {
			return err
		}
		r.BankLineID = nil
		_, err = tx.UpdateReceipt(ctx, r)
		return err
	case recon.RecordKindPayment:
		p, err := tx.Payment(ctx, entry.RecordID)
		if err != nil {
			return err
		}
		if p.BankLineID == nil || *p.BankLineID != entry.BankLineID {
			return nil
		}
		if _, exists, err := tx.LedgerEntryByPair(ctx, entry.BankLineID, entry.RecordID); err != nil || exists {
			return err
		}
		p.BankLineID = nil
		_, err = tx.UpdatePayment(ctx, p)
		return err
	}
	return nil
}
