// Package storage defines the persistence contract shared by the memory and
// postgres backends. The store is passive: integrity rules that must hold
// across operators (the unique (bank_line_id, record_id) pair) are enforced
// here, all other business logic lives in the service layer.
package storage

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/tinoosan/recon/internal/recon"
)

// Store is the full read/write surface over the five entity kinds.
type Store interface {
	// InTx runs fn against a transactional view of the store. Either every
	// write inside fn applies or none do. Calling InTx on a store that is
	// already transactional runs fn in the same transaction.
	InTx(ctx context.Context, fn func(Store) error) error

	// Bank lines
	CreateBankLine(ctx context.Context, b recon.BankLineItem) (recon.BankLineItem, error)
	BankLine(ctx context.Context, id uuid.UUID) (recon.BankLineItem, error)
	// UpdateBankLine persists annotation and unexplained-flag changes only;
	// imported lines are otherwise immutable.
	UpdateBankLine(ctx context.Context, b recon.BankLineItem) (recon.BankLineItem, error)
	UnexplainedBankLines(ctx context.Context) ([]recon.BankLineItem, error)

	// Receipts
	CreateReceipt(ctx context.Context, r recon.Receipt) (recon.Receipt, error)
	Receipt(ctx context.Context, id uuid.UUID) (recon.Receipt, error)
	UpdateReceipt(ctx context.Context, r recon.Receipt) (recon.Receipt, error)
	ReceiptsInWindow(ctx context.Context, from, to time.Time) ([]recon.Receipt, error)

	// Payments
	CreatePayment(ctx context.Context, p recon.Payment) (recon.Payment, error)
	Payment(ctx context.Context, id uuid.UUID) (recon.Payment, error)
	UpdatePayment(ctx context.Context, p recon.Payment) (recon.Payment, error)
	PaymentsInWindow(ctx context.Context, from, to time.Time) ([]recon.Payment, error)
	PaymentsByBooking(ctx context.Context, bookingID uuid.UUID) ([]recon.Payment, error)

	// Bookings
	CreateBooking(ctx context.Context, b recon.Booking) (recon.Booking, error)
	Booking(ctx context.Context, id uuid.UUID) (recon.Booking, error)
	UpdateBooking(ctx context.Context, b recon.Booking) (recon.Booking, error)
	Bookings(ctx context.Context) ([]recon.Booking, error)

	// Ledger entries
	// CreateLedgerEntry fails with errs.ErrDuplicateLink when an entry
	// already exists for the (bank line, record) pair.
	CreateLedgerEntry(ctx context.Context, e recon.LedgerEntry) (recon.LedgerEntry, error)
	UpdateLedgerEntry(ctx context.Context, e recon.LedgerEntry) (recon.LedgerEntry, error)
	DeleteLedgerEntry(ctx context.Context, id uuid.UUID) error
	LedgerEntry(ctx context.Context, id uuid.UUID) (recon.LedgerEntry, error)
	// LedgerEntriesByBankLine returns entries ordered by (CreatedAt, ID) for
	// stable audit replay.
	LedgerEntriesByBankLine(ctx context.Context, bankLineID uuid.UUID) ([]recon.LedgerEntry, error)
	LedgerEntryByPair(ctx context.Context, bankLineID, recordID uuid.UUID) (recon.LedgerEntry, bool, error)
	LedgerEntriesByRecord(ctx context.Context, recordID uuid.UUID) ([]recon.LedgerEntry, error)
	AllLedgerEntries(ctx context.Context) ([]recon.LedgerEntry, error)
}

// ReadyChecker is optionally implemented by stores to indicate readiness.
type ReadyChecker interface {
	Ready(ctx context.Context) error
}
