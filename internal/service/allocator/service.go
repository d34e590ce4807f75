// Package allocator verifies and applies split allocations: one bank line
// explained by several records, or one record spread over several bank lines.
// It is the only place split-group identifiers are minted.
package allocator

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/govalues/money"

	"github.com/tinoosan/recon/internal/errs"
	"github.com/tinoosan/recon/internal/recon"
	"github.com/tinoosan/recon/internal/service/balance"
	"github.com/tinoosan/recon/internal/service/ledger"
	"github.com/tinoosan/recon/internal/storage"
)

// Proposal is one member of a proposed split group.
type Proposal struct {
	RecordID    uuid.UUID
	Kind        recon.RecordKind
	AmountMinor int64
}

// Request describes a proposed allocation of a bank line across a group.
type Request struct {
	BankLineID uuid.UUID
	Proposals  []Proposal
	// Partial permits the group to cover less than the bank line amount; the
	// shortfall comes back as an explicit residual instead of an error. The
	// allocator never force-fits a residual onto an existing member.
	Partial   bool
	MatchType recon.MatchType
	CreatedBy string
}

// Line is one applied allocation member.
type Line struct {
	RecordID    uuid.UUID
	Kind        recon.RecordKind
	AmountMinor int64
	EntryID     uuid.UUID
}

// Allocation is the applied result. ResidualMinor is nonzero only for
// partial allocations; it is a first-class outcome, not an error.
type Allocation struct {
	GroupID       uuid.UUID
	Lines         []Line
	ResidualMinor int64
}

// Service exposes split allocation.
type Service interface {
	Allocate(ctx context.Context, req Request) (Allocation, error)
}

type service struct {
	store storage.Store
	now   func() time.Time
}

// New constructs the allocator. now is injectable for tests; pass nil for
// the wall clock.
func New(store storage.Store, now func() time.Time) Service {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &service{store: store, now: now}
}

// Allocate validates the proposed amounts against the bank line, assigns one
// shared split-group id to the receipt members, and writes a ledger entry per
// member, all in one transaction. Re-running an identical allocation reuses
// the existing group id and entries; it never duplicates either.
func (s *service) Allocate(ctx context.Context, req Request) (Allocation, error) {
	if req.BankLineID == uuid.Nil || len(req.Proposals) == 0 {
		return Allocation{}, errs.ErrInvalid
	}
	if req.MatchType == "" {
		req.MatchType = recon.MatchTypeManual
	}

	var out Allocation
	err := s.store.InTx(ctx, func(tx storage.Store) error {
		line, err := tx.BankLine(ctx, req.BankLineID)
		if err != nil {
			return err
		}
		target := line.AbsMinor()
		curr := line.Amount.Curr().Code()

		var sum int64
		receipts := make(map[uuid.UUID]recon.Receipt)
		for _, p := range req.Proposals {
			if p.RecordID == uuid.Nil || !p.Kind.Valid() || p.AmountMinor <= 0 {
				return errs.ErrInvalid
			}
			switch p.Kind {
			case recon.RecordKindReceipt:
				r, err := tx.Receipt(ctx, p.RecordID)
				if err != nil {
					return err
				}
				receipts[p.RecordID] = r
			case recon.RecordKindPayment:
				if _, err := tx.Payment(ctx, p.RecordID); err != nil {
					return err
				}
			}
			sum += p.AmountMinor
		}

		delta := sum - target
		absDelta := delta
		if absDelta < 0 {
			absDelta = -absDelta
		}
		switch {
		case !req.Partial && absDelta > recon.ToleranceMinor:
			return &recon.AllocationMismatchError{BankLineID: req.BankLineID, DeltaMinor: delta}
		case req.Partial && delta > recon.ToleranceMinor:
			// Over-covering the line is a mismatch even for partial groups.
			return &recon.AllocationMismatchError{BankLineID: req.BankLineID, DeltaMinor: delta}
		}
		residual := target - sum
		if residual < 0 || residual <= recon.ToleranceMinor {
			residual = 0
		}

		groupID, err := resolveGroupID(receipts)
		if err != nil {
			return err
		}
		for id, r := range receipts {
			if r.SplitGroupID != nil && *r.SplitGroupID == groupID {
				continue
			}
			gid := groupID
			r.SplitGroupID = &gid
			if _, err := tx.UpdateReceipt(ctx, r); err != nil {
				return err
			}
			receipts[id] = r
		}

		lines := make([]Line, 0, len(req.Proposals))
		for _, p := range req.Proposals {
			entry, exists, err := tx.LedgerEntryByPair(ctx, req.BankLineID, p.RecordID)
			if err != nil {
				return err
			}
			if exists {
				// Same pair, possibly corrected amount: update in place so a
				// re-run never duplicates the entry.
				if recon.MinorUnits(entry.Amount) != p.AmountMinor {
					amt, err := money.NewAmountFromMinorUnits(curr, p.AmountMinor)
					if err != nil {
						return err
					}
					entry.Amount = amt
					if entry, err = tx.UpdateLedgerEntry(ctx, entry); err != nil {
						return err
					}
				}
			} else {
				amt, err := money.NewAmountFromMinorUnits(curr, p.AmountMinor)
				if err != nil {
					return err
				}
				entry = recon.LedgerEntry{
					ID:         uuid.New(),
					BankLineID: req.BankLineID,
					RecordID:   p.RecordID,
					RecordKind: p.Kind,
					MatchType:  req.MatchType,
					Confidence: recon.ConfidenceHigh,
					Amount:     amt,
					CreatedAt:  s.now(),
					CreatedBy:  req.CreatedBy,
				}
				if entry, err = tx.CreateLedgerEntry(ctx, entry); err != nil {
					return err
				}
			}
			lines = append(lines, Line{RecordID: p.RecordID, Kind: p.Kind, AmountMinor: p.AmountMinor, EntryID: entry.ID})

			if p.Kind == recon.RecordKindPayment {
				pay, err := tx.Payment(ctx, p.RecordID)
				if err != nil {
					return err
				}
				if pay.BookingID != nil {
					if _, err := balance.Apply(ctx, tx, *pay.BookingID); err != nil {
						return err
					}
				}
			}
		}

		if err := ledger.RefreshUnexplained(ctx, tx, req.BankLineID); err != nil {
			return err
		}
		out = Allocation{GroupID: groupID, Lines: lines, ResidualMinor: residual}
		return nil
	})
	if err != nil {
		return Allocation{}, err
	}
	return out, nil
}

// resolveGroupID reuses the group id the receipt members already share, or
// mints a fresh one. Members spread across different existing groups cannot
// be merged implicitly.
func resolveGroupID(receipts map[uuid.UUID]recon.Receipt) (uuid.UUID, error) {
	var existing *uuid.UUID
	for _, r := range receipts {
		if r.SplitGroupID == nil {
			continue
		}
		if existing == nil {
			gid := *r.SplitGroupID
			existing = &gid
			continue
		}
		if *existing != *r.SplitGroupID {
			return uuid.Nil, errs.ErrConflict
		}
	}
	if existing != nil {
		return *existing, nil
	}
	return uuid.New(), nil
}
