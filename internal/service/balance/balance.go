// Package balance derives booking paid-amount and balance figures from the
// current payment set. Derivation is always full, never incremental, so any
// sequence of out-of-order corrections converges to the same result.
package balance

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/govalues/money"

	"github.com/tinoosan/recon/internal/errs"
	"github.com/tinoosan/recon/internal/recon"
	"github.com/tinoosan/recon/internal/storage"
)

// Result is the derived pair of figures for one booking.
type Result struct {
	PaidMinor    int64
	BalanceMinor int64
	Paid         money.Amount
	Balance      money.Amount
}

// BatchResult summarizes a full re-derivation run.
type BatchResult struct {
	Recalculated int
	Skipped      int
	Violations   []*recon.IntegrityError
}

// Service exposes balance recalculation.
type Service interface {
	// Recalculate re-derives and stores the figures for one booking.
	Recalculate(ctx context.Context, bookingID uuid.UUID) (Result, error)
	// RecalculateAll walks every booking. A booking whose stored paid amount
	// disagrees with the derived sum beyond tolerance is reported as an
	// integrity violation and left untouched for manual review; the batch
	// continues. The walk honors ctx cancellation and is restartable because
	// per-booking recalculation is idempotent.
	RecalculateAll(ctx context.Context) (BatchResult, error)
}

type service struct {
	store storage.Store
	log   *slog.Logger
}

func New(store storage.Store, log *slog.Logger) Service {
	return &service{store: store, log: log}
}

// Derive computes the figures for a booking from the store without writing.
// A payment counts in full even while its bank-line link is unmatched; the
// reconciliation state affects auditability, not the paid figure.
func Derive(ctx context.Context, s storage.Store, bookingID uuid.UUID) (Result, error) {
	booking, err := s.Booking(ctx, bookingID)
	if err != nil {
		return Result{}, err
	}
	payments, err := s.PaymentsByBooking(ctx, bookingID)
	if err != nil {
		return Result{}, err
	}
	var paid int64
	for _, p := range payments {
		paid += recon.MinorUnits(p.Amount)
	}
	due := recon.MinorUnits(booking.AmountDue)
	curr := booking.AmountDue.Curr().Code()
	paidAmt, err := money.NewAmountFromMinorUnits(curr, paid)
	if err != nil {
		return Result{}, err
	}
	// Balance may legitimately be negative (overpayment/credit), and a zero
	// amount-due booking with nonzero paid is a valid terminal state
	// (forfeited deposit on a cancelled booking).
	balAmt, err := money.NewAmountFromMinorUnits(curr, due-paid)
	if err != nil {
		return Result{}, err
	}
	return Result{PaidMinor: paid, BalanceMinor: due - paid, Paid: paidAmt, Balance: balAmt}, nil
}

// Apply derives and stores the figures for a booking within the caller's
// transaction. Used by the consistency trigger and by Recalculate.
func Apply(ctx context.Context, s storage.Store, bookingID uuid.UUID) (Result, error) {
	res, err := Derive(ctx, s, bookingID)
	if err != nil {
		return Result{}, err
	}
	booking, err := s.Booking(ctx, bookingID)
	if err != nil {
		return Result{}, err
	}
	booking.PaidAmount = res.Paid
	booking.Balance = res.Balance
	if _, err := s.UpdateBooking(ctx, booking); err != nil {
		return Result{}, err
	}
	return res, nil
}

func (s *service) Recalculate(ctx context.Context, bookingID uuid.UUID) (Result, error) {
	if bookingID == uuid.Nil {
		return Result{}, errs.ErrInvalid
	}
	var res Result
	err := s.store.InTx(ctx, func(tx storage.Store) error {
		var err error
		res, err = Apply(ctx, tx, bookingID)
		return err
	})
	return res, err
}

func (s *service) RecalculateAll(ctx context.Context) (BatchResult, error) {
	bookings, err := s.store.Bookings(ctx)
	if err != nil {
		return BatchResult{}, err
	}
	var out BatchResult
	for _, b := range bookings {
		if err := ctx.Err(); err != nil {
			// Interrupted mid-batch: partial completion is a valid, resumable
			// state because each booking re-derives independently.
			return out, err
		}
		derived, err := Derive(ctx, s.store, b.ID)
		if err != nil {
			return out, err
		}
		stored := recon.MinorUnits(b.PaidAmount)
		delta := stored - derived.PaidMinor
		if delta < 0 {
			delta = -delta
		}
		if stored != 0 && delta > recon.ToleranceMinor {
			// Never silently corrected: history shows "fixing" balances in
			// place masks real data-entry errors.
			v := &recon.IntegrityError{
				BookingID:     b.ID,
				Reference:     b.Reference,
				ExpectedMinor: derived.PaidMinor,
				ActualMinor:   stored,
			}
			out.Violations = append(out.Violations, v)
			out.Skipped++
			s.log.Error("balance integrity violation",
				"booking_id", b.ID.String(),
				"reference", b.Reference,
				"stored_paid_minor", stored,
				"derived_paid_minor", derived.PaidMinor,
			)
			continue
		}
		err = s.store.InTx(ctx, func(tx storage.Store) error {
			_, err := Apply(ctx, tx, b.ID)
			return err
		})
		if err != nil {
			return out, err
		}
		out.Recalculated++
	}
	return out, nil
}
