package postgres

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/govalues/money"

	"github.com/tinoosan/recon/internal/errs"
	"github.com/tinoosan/recon/internal/recon"
	"github.com/tinoosan/recon/internal/storage"
)

func getTestDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set; skipping Postgres store tests")
	}
	return dsn
}

func mustOpen(t *testing.T, dsn string) *Store {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s, err := Open(ctx, dsn)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	return s
}

func applyInitSQL(t *testing.T, dsn string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s, err := Open(ctx, dsn)
	if err != nil {
		t.Fatalf("open for init: %v", err)
	}
	defer s.Close()
	// Resolve init SQL path relative to this test file so CWD doesn't matter
	_, thisFile, _, _ := runtime.Caller(0)
	repoRoot := filepath.Clean(filepath.Join(filepath.Dir(thisFile), "../../../"))
	path := filepath.Join(repoRoot, "db", "migrations", "0001_init.sql")
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read init sql: %v", err)
	}
	// Exec may contain multiple statements; pgx supports this
	if _, err := s.pool.Exec(ctx, string(b)); err != nil {
		t.Fatalf("apply init sql: %v", err)
	}
}

func truncateAll(t *testing.T, dsn string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s, err := Open(ctx, dsn)
	if err != nil {
		t.Fatalf("open for truncate: %v", err)
	}
	defer s.Close()
	_, _ = s.pool.Exec(ctx, `truncate table ledger_entries, payments, bookings, receipts, bank_lines cascade`)
}

func mustAmt(t *testing.T, minor int64) money.Amount {
	t.Helper()
	a, err := money.NewAmountFromMinorUnits("USD", minor)
	if err != nil {
		t.Fatalf("amount: %v", err)
	}
	return a
}

func TestStore_RoundTripAndConstraints(t *testing.T) {
	dsn := getTestDSN(t)
	applyInitSQL(t, dsn)
	truncateAll(t, dsn)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s := mustOpen(t, dsn)
	defer s.Close()

	if err := s.Ready(ctx); err != nil {
		t.Fatalf("ready: %v", err)
	}

	date := time.Date(2026, 5, 10, 0, 0, 0, 0, time.UTC)
	line := recon.BankLineItem{
		ID:          uuid.New(),
		Account:     "operating",
		Date:        date,
		Amount:      mustAmt(t, -4250),
		Description: "ACME SUPPLY CO",
		Vendor:      "Acme Supply",
		SourceFile:  "stmt-2026-05.csv",
		Unexplained: true,
	}
	if _, err := s.CreateBankLine(ctx, line); err != nil {
		t.Fatalf("create bank line: %v", err)
	}
	gotLine, err := s.BankLine(ctx, line.ID)
	if err != nil {
		t.Fatalf("get bank line: %v", err)
	}
	if recon.MinorUnits(gotLine.Amount) != -4250 || !gotLine.Unexplained {
		t.Fatalf("bank line round trip: %+v", gotLine)
	}

	receipt := recon.Receipt{ID: uuid.New(), Date: date, Vendor: "Acme Supply", Amount: mustAmt(t, 4250)}
	if _, err := s.CreateReceipt(ctx, receipt); err != nil {
		t.Fatalf("create receipt: %v", err)
	}

	booking := recon.Booking{ID: uuid.New(), Reference: "00012345", AmountDue: mustAmt(t, 16689), PaidAmount: mustAmt(t, 0), Balance: mustAmt(t, 16689)}
	if _, err := s.CreateBooking(ctx, booking); err != nil {
		t.Fatalf("create booking: %v", err)
	}
	// Reference uniqueness is a storage constraint.
	dup := recon.Booking{ID: uuid.New(), Reference: "00012345", AmountDue: mustAmt(t, 100), PaidAmount: mustAmt(t, 0), Balance: mustAmt(t, 100)}
	if _, err := s.CreateBooking(ctx, dup); !errors.Is(err, errs.ErrConflict) {
		t.Fatalf("expected ErrConflict for duplicate reference, got %v", err)
	}

	payment := recon.Payment{ID: uuid.New(), BookingID: &booking.ID, Amount: mustAmt(t, 16689), Date: date, Method: "card"}
	if _, err := s.CreatePayment(ctx, payment); err != nil {
		t.Fatalf("create payment: %v", err)
	}
	pays, err := s.PaymentsByBooking(ctx, booking.ID)
	if err != nil || len(pays) != 1 {
		t.Fatalf("payments by booking: %v len=%d", err, len(pays))
	}

	entry := recon.LedgerEntry{
		ID:         uuid.New(),
		BankLineID: line.ID,
		RecordID:   receipt.ID,
		RecordKind: recon.RecordKindReceipt,
		MatchType:  recon.MatchTypeManual,
		Confidence: recon.ConfidenceHigh,
		Amount:     mustAmt(t, 4250),
		CreatedAt:  date,
		CreatedBy:  "test",
	}
	if _, err := s.CreateLedgerEntry(ctx, entry); err != nil {
		t.Fatalf("create entry: %v", err)
	}
	// The unique (bank_line_id, record_id) index maps onto ErrDuplicateLink.
	dupEntry := entry
	dupEntry.ID = uuid.New()
	if _, err := s.CreateLedgerEntry(ctx, dupEntry); !errors.Is(err, errs.ErrDuplicateLink) {
		t.Fatalf("expected ErrDuplicateLink, got %v", err)
	}

	got, found, err := s.LedgerEntryByPair(ctx, line.ID, receipt.ID)
	if err != nil || !found || got.ID != entry.ID {
		t.Fatalf("entry by pair: %v found=%v", err, found)
	}
}

func TestStore_InTxRollsBack(t *testing.T) {
	dsn := getTestDSN(t)
	applyInitSQL(t, dsn)
	truncateAll(t, dsn)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s := mustOpen(t, dsn)
	defer s.Close()

	date := time.Date(2026, 5, 10, 0, 0, 0, 0, time.UTC)
	boom := errors.New("boom")
	lineID := uuid.New()
	err := s.InTx(ctx, func(tx storage.Store) error {
		line := recon.BankLineItem{ID: lineID, Account: "operating", Date: date, Amount: mustAmt(t, -100), Unexplained: true}
		if _, err := tx.CreateBankLine(ctx, line); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if _, err := s.BankLine(ctx, lineID); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("row survived rollback: %v", err)
	}
}
