package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/govalues/money"

	"github.com/tinoosan/recon/internal/errs"
	"github.com/tinoosan/recon/internal/recon"
	"github.com/tinoosan/recon/internal/storage"
)

var baseDate = time.Date(2026, 5, 10, 0, 0, 0, 0, time.UTC)

func mustAmt(t *testing.T, minor int64) money.Amount {
	t.Helper()
	a, err := money.NewAmountFromMinorUnits("USD", minor)
	if err != nil {
		t.Fatalf("amount: %v", err)
	}
	return a
}

func newEntry(t *testing.T, lineID, recordID uuid.UUID, minor int64, createdAt time.Time) recon.LedgerEntry {
	t.Helper()
	return recon.LedgerEntry{
		ID:         uuid.New(),
		BankLineID: lineID,
		RecordID:   recordID,
		RecordKind: recon.RecordKindReceipt,
		MatchType:  recon.MatchTypeManual,
		Confidence: recon.ConfidenceHigh,
		Amount:     mustAmt(t, minor),
		CreatedAt:  createdAt,
		CreatedBy:  "test",
	}
}

func TestCreateLedgerEntry_PairUniqueness(t *testing.T) {
	s := New()
	ctx := context.Background()
	lineID, recordID := uuid.New(), uuid.New()

	if _, err := s.CreateLedgerEntry(ctx, newEntry(t, lineID, recordID, 100, baseDate)); err != nil {
		t.Fatalf("first create: %v", err)
	}
	_, err := s.CreateLedgerEntry(ctx, newEntry(t, lineID, recordID, 200, baseDate))
	if !errors.Is(err, errs.ErrDuplicateLink) {
		t.Fatalf("expected ErrDuplicateLink, got %v", err)
	}
	// Same record against a different line is fine.
	if _, err := s.CreateLedgerEntry(ctx, newEntry(t, uuid.New(), recordID, 100, baseDate)); err != nil {
		t.Fatalf("different line: %v", err)
	}
}

func TestLedgerEntriesByBankLine_Ordered(t *testing.T) {
	s := New()
	ctx := context.Background()
	lineID := uuid.New()

	// Insert out of order; scans must come back asc by (CreatedAt, ID).
	later := newEntry(t, lineID, uuid.New(), 100, baseDate.Add(2*time.Hour))
	earlier := newEntry(t, lineID, uuid.New(), 100, baseDate)
	middle := newEntry(t, lineID, uuid.New(), 100, baseDate.Add(time.Hour))
	for _, e := range []recon.LedgerEntry{later, earlier, middle} {
		if _, err := s.CreateLedgerEntry(ctx, e); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	got, err := s.LedgerEntriesByBankLine(ctx, lineID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(got))
	}
	if got[0].ID != earlier.ID || got[1].ID != middle.ID || got[2].ID != later.ID {
		t.Fatalf("wrong order: %v %v %v", got[0].CreatedAt, got[1].CreatedAt, got[2].CreatedAt)
	}
}

func TestUpdateLedgerEntry_PreservesIdentity(t *testing.T) {
	s := New()
	ctx := context.Background()
	lineID, recordID := uuid.New(), uuid.New()
	e, err := s.CreateLedgerEntry(ctx, newEntry(t, lineID, recordID, 100, baseDate))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	e.Amount = mustAmt(t, 250)
	e.BankLineID = uuid.New() // must be ignored
	upd, err := s.UpdateLedgerEntry(ctx, e)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if upd.BankLineID != lineID || upd.RecordID != recordID {
		t.Fatalf("pair identity changed: %v %v", upd.BankLineID, upd.RecordID)
	}
	if got := recon.MinorUnits(upd.Amount); got != 250 {
		t.Fatalf("amount not updated: %d", got)
	}
}

func TestDeleteLedgerEntry_FreesPair(t *testing.T) {
	s := New()
	ctx := context.Background()
	lineID, recordID := uuid.New(), uuid.New()
	e, err := s.CreateLedgerEntry(ctx, newEntry(t, lineID, recordID, 100, baseDate))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.DeleteLedgerEntry(ctx, e.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, found, err := s.LedgerEntryByPair(ctx, lineID, recordID); err != nil || found {
		t.Fatalf("pair still occupied: found=%v err=%v", found, err)
	}
	// Pair is free again.
	if _, err := s.CreateLedgerEntry(ctx, newEntry(t, lineID, recordID, 100, baseDate)); err != nil {
		t.Fatalf("recreate: %v", err)
	}
}

func TestInTx_RollsBackOnError(t *testing.T) {
	s := New()
	ctx := context.Background()
	line := recon.BankLineItem{ID: uuid.New(), Account: "x", Date: baseDate, Amount: mustAmt(t, -100), Unexplained: true}
	s.SeedBankLine(line)

	boom := errors.New("boom")
	err := s.InTx(ctx, func(tx storage.Store) error {
		if _, err := tx.CreateLedgerEntry(ctx, newEntry(t, line.ID, uuid.New(), 100, baseDate)); err != nil {
			return err
		}
		line.Unexplained = false
		if _, err := tx.UpdateBankLine(ctx, line); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	entries, err := s.LedgerEntriesByBankLine(ctx, line.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("entry survived rollback")
	}
	got, err := s.BankLine(ctx, line.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.Unexplained {
		t.Fatalf("flag update survived rollback")
	}
}

func TestInTx_NestedJoinsEnclosing(t *testing.T) {
	s := New()
	ctx := context.Background()
	lineID := uuid.New()

	err := s.InTx(ctx, func(tx storage.Store) error {
		return tx.InTx(ctx, func(inner storage.Store) error {
			_, err := inner.CreateLedgerEntry(ctx, newEntry(t, lineID, uuid.New(), 100, baseDate))
			return err
		})
	})
	if err != nil {
		t.Fatalf("nested tx: %v", err)
	}
	entries, err := s.LedgerEntriesByBankLine(ctx, lineID)
	if err != nil || len(entries) != 1 {
		t.Fatalf("expected 1 entry after commit, got %d err=%v", len(entries), err)
	}
}

func TestInTx_ConcurrentCallersSerialize(t *testing.T) {
	s := New()
	ctx := context.Background()
	boom := errors.New("boom")
	lineID := uuid.New()
	bookingID := uuid.New()

	entered := make(chan struct{})
	release := make(chan struct{})
	firstDone := make(chan error, 1)
	go func() {
		firstDone <- s.InTx(ctx, func(tx storage.Store) error {
			line := recon.BankLineItem{ID: lineID, Account: "x", Date: baseDate, Amount: mustAmt(t, -100), Unexplained: true}
			if _, err := tx.CreateBankLine(ctx, line); err != nil {
				return err
			}
			close(entered)
			<-release
			return boom
		})
	}()
	<-entered

	// Second caller starts while the first transaction is open; it must wait
	// for the first to finish rather than join it.
	secondDone := make(chan error, 1)
	go func() {
		secondDone <- s.InTx(ctx, func(tx storage.Store) error {
			b := recon.Booking{ID: bookingID, Reference: "00000777", AmountDue: mustAmt(t, 500), PaidAmount: mustAmt(t, 0), Balance: mustAmt(t, 500)}
			_, err := tx.CreateBooking(ctx, b)
			return err
		})
	}()

	time.Sleep(20 * time.Millisecond)
	close(release)

	if err := <-firstDone; !errors.Is(err, boom) {
		t.Fatalf("first tx: expected boom, got %v", err)
	}
	if err := <-secondDone; err != nil {
		t.Fatalf("second tx: %v", err)
	}
	if _, err := s.Booking(ctx, bookingID); err != nil {
		t.Fatalf("committed booking lost to a concurrent rollback: %v", err)
	}
	if _, err := s.BankLine(ctx, lineID); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("rolled-back bank line survived: %v", err)
	}
}

func TestCreateBooking_UniqueReference(t *testing.T) {
	s := New()
	ctx := context.Background()
	b1 := recon.Booking{ID: uuid.New(), Reference: "00000123", AmountDue: mustAmt(t, 100), PaidAmount: mustAmt(t, 0), Balance: mustAmt(t, 100)}
	if _, err := s.CreateBooking(ctx, b1); err != nil {
		t.Fatalf("create: %v", err)
	}
	b2 := recon.Booking{ID: uuid.New(), Reference: "00000123", AmountDue: mustAmt(t, 200), PaidAmount: mustAmt(t, 0), Balance: mustAmt(t, 200)}
	if _, err := s.CreateBooking(ctx, b2); !errors.Is(err, errs.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestBookings_OrderedByReference(t *testing.T) {
	s := New()
	ctx := context.Background()
	refs := []string{"00000300", "00000001", "00000150"}
	for _, ref := range refs {
		s.SeedBooking(recon.Booking{ID: uuid.New(), Reference: ref, AmountDue: mustAmt(t, 100), PaidAmount: mustAmt(t, 0), Balance: mustAmt(t, 100)})
	}
	got, err := s.Bookings(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	want := []string{"00000001", "00000150", "00000300"}
	for i := range want {
		if got[i].Reference != want[i] {
			t.Fatalf("order wrong at %d: %s", i, got[i].Reference)
		}
	}
}

func TestReceiptsInWindow_Bounds(t *testing.T) {
	s := New()
	ctx := context.Background()
	in := recon.Receipt{ID: uuid.New(), Date: baseDate, Vendor: "A", Amount: mustAmt(t, 100)}
	out := recon.Receipt{ID: uuid.New(), Date: baseDate.AddDate(0, 0, 10), Vendor: "B", Amount: mustAmt(t, 100)}
	s.SeedReceipt(in)
	s.SeedReceipt(out)
	got, err := s.ReceiptsInWindow(ctx, baseDate.AddDate(0, 0, -7), baseDate.AddDate(0, 0, 7))
	if err != nil {
		t.Fatalf("window: %v", err)
	}
	if len(got) != 1 || got[0].ID != in.ID {
		t.Fatalf("window filter wrong: %d", len(got))
	}
}

func TestNotFoundSentinels(t *testing.T) {
	s := New()
	ctx := context.Background()
	if _, err := s.BankLine(ctx, uuid.New()); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("bank line: %v", err)
	}
	if _, err := s.Receipt(ctx, uuid.New()); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("receipt: %v", err)
	}
	if _, err := s.Payment(ctx, uuid.New()); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("payment: %v", err)
	}
	if _, err := s.Booking(ctx, uuid.New()); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("booking: %v", err)
	}
	if err := s.DeleteLedgerEntry(ctx, uuid.New()); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("delete entry: %v", err)
	}
}
