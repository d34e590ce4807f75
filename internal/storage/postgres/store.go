package postgres

// Package postgres provides a pgx-backed implementation of the storage
// contract. The schema lives under db/migrations; this package maps between
// domain entities and SQL rows and runs the necessary transactions.
//
// The unique index on ledger_entries (bank_line_id, record_id) is the
// storage-enforced duplicate-link guard: concurrent operators cannot race an
// application-level existence check past it.

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/govalues/money"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tinoosan/recon/internal/errs"
	"github.com/tinoosan/recon/internal/meta"
	"github.com/tinoosan/recon/internal/recon"
	"github.com/tinoosan/recon/internal/storage"
)

const uniqueViolation = "23505"

// querier is satisfied by both pgxpool.Pool and pgx.Tx, so every query method
// works identically inside and outside a transaction.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store implements storage.Store over a pgx pool. All methods are safe for
// concurrent use.
type Store struct {
	pool *pgxpool.Pool
	q    querier
	inTx bool
}

var _ storage.Store = (*Store)(nil)

// Open establishes a pgx pool using the provided connection string.
func Open(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &Store{pool: pool, q: pool}, nil
}

// Close releases the underlying pool.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Ready pings the pool to verify connectivity.
func (s *Store) Ready(ctx context.Context) error { return s.pool.Ping(ctx) }

// InTx runs fn inside a database transaction. Nested calls join the
// enclosing transaction.
func (s *Store) InTx(ctx context.Context, fn func(storage.Store) error) error {
	if s.inTx {
		return fn(s)
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	txStore := &Store{pool: s.pool, q: tx, inTx: true}
	if err := fn(txStore); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

// --- Bank lines ---

func (s *Store) CreateBankLine(ctx context.Context, b recon.BankLineItem) (recon.BankLineItem, error) {
	ann, _ := b.Annotations.MarshalStableJSON()
	var running *int64
	if b.RunningBalance != nil {
		m := recon.MinorUnits(*b.RunningBalance)
		running = &m
	}
	_, err := s.q.Exec(ctx, `
        insert into bank_lines (id, account, date, amount_minor, currency, description, vendor, source_file, running_balance_minor, unexplained, annotations)
        values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
    `, b.ID, b.Account, b.Date, recon.MinorUnits(b.Amount), b.Amount.Curr().Code(), b.Description, b.Vendor, b.SourceFile, running, b.Unexplained, ann)
	if err != nil {
		return recon.BankLineItem{}, mapPgErr(err)
	}
	return b, nil
}

const bankLineCols = `id, account, date, amount_minor, currency, description, vendor, source_file, running_balance_minor, unexplained, annotations`

func (s *Store) BankLine(ctx context.Context, id uuid.UUID) (recon.BankLineItem, error) {
	row := s.q.QueryRow(ctx, `select `+bankLineCols+` from bank_lines where id = $1`, id)
	b, err := scanBankLine(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return recon.BankLineItem{}, errs.ErrNotFound
	}
	return b, err
}

func (s *Store) UpdateBankLine(ctx context.Context, b recon.BankLineItem) (recon.BankLineItem, error) {
	ann, _ := b.Annotations.MarshalStableJSON()
	ct, err := s.q.Exec(ctx, `
        update bank_lines set unexplained=$1, annotations=$2 where id=$3
    `, b.Unexplained, ann, b.ID)
	if err != nil {
		return recon.BankLineItem{}, err
	}
	if ct.RowsAffected() == 0 {
		return recon.BankLineItem{}, errs.ErrNotFound
	}
	return b, nil
}

func (s *Store) UnexplainedBankLines(ctx context.Context) ([]recon.BankLineItem, error) {
	rows, err := s.q.Query(ctx, `select `+bankLineCols+` from bank_lines where unexplained order by date asc, id asc`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]recon.BankLineItem, 0)
	for rows.Next() {
		b, err := scanBankLine(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

type rowScanner interface{ Scan(dest ...any) error }

func scanBankLine(row rowScanner) (recon.BankLineItem, error) {
	var (
		b        recon.BankLineItem
		minor    int64
		currency string
		running  *int64
		annBytes []byte
	)
	if err := row.Scan(&b.ID, &b.Account, &b.Date, &minor, &currency, &b.Description, &b.Vendor, &b.SourceFile, &running, &b.Unexplained, &annBytes); err != nil {
		return recon.BankLineItem{}, err
	}
	amt, err := money.NewAmountFromMinorUnits(currency, minor)
	if err != nil {
		return recon.BankLineItem{}, err
	}
	b.Amount = amt
	if running != nil {
		r, err := money.NewAmountFromMinorUnits(currency, *running)
		if err != nil {
			return recon.BankLineItem{}, err
		}
		b.RunningBalance = &r
	}
	if len(annBytes) > 0 {
		var m meta.Metadata
		if err := m.UnmarshalJSON(annBytes); err == nil {
			b.Annotations = m
		}
	}
	return b, nil
}

// --- Receipts ---

const receiptCols = `id, date, vendor, vendor_canonical, amount_minor, currency, bank_line_id, split_group_id, voided, exclude_from_reports, surrogate`

func (s *Store) CreateReceipt(ctx context.Context, r recon.Receipt) (recon.Receipt, error) {
	_, err := s.q.Exec(ctx, `
        insert into receipts (`+receiptCols+`)
        values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
    `, r.ID, r.Date, r.Vendor, r.VendorCanonical, recon.MinorUnits(r.Amount), r.Amount.Curr().Code(), r.BankLineID, r.SplitGroupID, r.Voided, r.ExcludeFromReports, r.Surrogate)
	if err != nil {
		return recon.Receipt{}, mapPgErr(err)
	}
	return r, nil
}

func (s *Store) Receipt(ctx context.Context, id uuid.UUID) (recon.Receipt, error) {
	row := s.q.QueryRow(ctx, `select `+receiptCols+` from receipts where id = $1`, id)
	r, err := scanReceipt(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return recon.Receipt{}, errs.ErrNotFound
	}
	return r, err
}

func (s *Store) UpdateReceipt(ctx context.Context, r recon.Receipt) (recon.Receipt, error) {
	ct, err := s.q.Exec(ctx, `
        update receipts
        set date=$1, vendor=$2, vendor_canonical=$3, amount_minor=$4, bank_line_id=$5, split_group_id=$6, voided=$7, exclude_from_reports=$8
        where id=$9
    `, r.Date, r.Vendor, r.VendorCanonical, recon.MinorUnits(r.Amount), r.BankLineID, r.SplitGroupID, r.Voided, r.ExcludeFromReports, r.ID)
	if err != nil {
		return recon.Receipt{}, err
	}
	if ct.RowsAffected() == 0 {
		return recon.Receipt{}, errs.ErrNotFound
	}
	return r, nil
}

func (s *Store) ReceiptsInWindow(ctx context.Context, from, to time.Time) ([]recon.Receipt, error) {
	rows, err := s.q.Query(ctx, `
        select `+receiptCols+` from receipts
        where date >= $1 and date <= $2
        order by date asc, id asc
    `, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]recon.Receipt, 0)
	for rows.Next() {
		r, err := scanReceipt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanReceipt(row rowScanner) (recon.Receipt, error) {
	var (
		r        recon.Receipt
		minor    int64
		currency string
	)
	if err := row.Scan(&r.ID, &r.Date, &r.Vendor, &r.VendorCanonical, &minor, &currency, &r.BankLineID, &r.SplitGroupID, &r.Voided, &r.ExcludeFromReports, &r.Surrogate); err != nil {
		return recon.Receipt{}, err
	}
	amt, err := money.NewAmountFromMinorUnits(currency, minor)
	if err != nil {
		return recon.Receipt{}, err
	}
	r.Amount = amt
	return r, nil
}

// --- Payments ---

const paymentCols = `id, booking_id, amount_minor, currency, date, method, processor_ref, bank_line_id`

func (s *Store) CreatePayment(ctx context.Context, p recon.Payment) (recon.Payment, error) {
	_, err := s.q.Exec(ctx, `
        insert into payments (`+paymentCols+`)
        values ($1,$2,$3,$4,$5,$6,$7,$8)
    `, p.ID, p.BookingID, recon.MinorUnits(p.Amount), p.Amount.Curr().Code(), p.Date, p.Method, p.ProcessorRef, p.BankLineID)
	if err != nil {
		return recon.Payment{}, mapPgErr(err)
	}
	return p, nil
}

func (s *Store) Payment(ctx context.Context, id uuid.UUID) (recon.Payment, error) {
	row := s.q.QueryRow(ctx, `select `+paymentCols+` from payments where id = $1`, id)
	p, err := scanPayment(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return recon.Payment{}, errs.ErrNotFound
	}
	return p, err
}

func (s *Store) UpdatePayment(ctx context.Context, p recon.Payment) (recon.Payment, error) {
	ct, err := s.q.Exec(ctx, `
        update payments
        set booking_id=$1, amount_minor=$2, date=$3, method=$4, processor_ref=$5, bank_line_id=$6
        where id=$7
    `, p.BookingID, recon.MinorUnits(p.Amount), p.Date, p.Method, p.ProcessorRef, p.BankLineID, p.ID)
	if err != nil {
		return recon.Payment{}, err
	}
	if ct.RowsAffected() == 0 {
		return recon.Payment{}, errs.ErrNotFound
	}
	return p, nil
}

func (s *Store) PaymentsInWindow(ctx context.Context, from, to time.Time) ([]recon.Payment, error) {
	rows, err := s.q.Query(ctx, `
        select `+paymentCols+` from payments
        where date >= $1 and date <= $2
        order by date asc, id asc
    `, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPayments(rows)
}

func (s *Store) PaymentsByBooking(ctx context.Context, bookingID uuid.UUID) ([]recon.Payment, error) {
	rows, err := s.q.Query(ctx, `
        select `+paymentCols+` from payments
        where booking_id = $1
        order by date asc, id asc
    `, bookingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPayments(rows)
}

func collectPayments(rows pgx.Rows) ([]recon.Payment, error) {
	out := make([]recon.Payment, 0)
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanPayment(row rowScanner) (recon.Payment, error) {
	var (
		p        recon.Payment
		minor    int64
		currency string
	)
	if err := row.Scan(&p.ID, &p.BookingID, &minor, &currency, &p.Date, &p.Method, &p.ProcessorRef, &p.BankLineID); err != nil {
		return recon.Payment{}, err
	}
	amt, err := money.NewAmountFromMinorUnits(currency, minor)
	if err != nil {
		return recon.Payment{}, err
	}
	p.Amount = amt
	return p, nil
}

// --- Bookings ---

const bookingCols = `id, reference, amount_due_minor, paid_minor, balance_minor, currency`

func (s *Store) CreateBooking(ctx context.Context, b recon.Booking) (recon.Booking, error) {
	_, err := s.q.Exec(ctx, `
        insert into bookings (`+bookingCols+`)
        values ($1,$2,$3,$4,$5,$6)
    `, b.ID, b.Reference, recon.MinorUnits(b.AmountDue), recon.MinorUnits(b.PaidAmount), recon.MinorUnits(b.Balance), b.AmountDue.Curr().Code())
	if err != nil {
		return recon.Booking{}, mapPgErr(err)
	}
	return b, nil
}

func (s *Store) Booking(ctx context.Context, id uuid.UUID) (recon.Booking, error) {
	row := s.q.QueryRow(ctx, `select `+bookingCols+` from bookings where id = $1`, id)
	b, err := scanBooking(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return recon.Booking{}, errs.ErrNotFound
	}
	return b, err
}

func (s *Store) UpdateBooking(ctx context.Context, b recon.Booking) (recon.Booking, error) {
	ct, err := s.q.Exec(ctx, `
        update bookings
        set amount_due_minor=$1, paid_minor=$2, balance_minor=$3
        where id=$4
    `, recon.MinorUnits(b.AmountDue), recon.MinorUnits(b.PaidAmount), recon.MinorUnits(b.Balance), b.ID)
	if err != nil {
		return recon.Booking{}, err
	}
	if ct.RowsAffected() == 0 {
		return recon.Booking{}, errs.ErrNotFound
	}
	return b, nil
}

func (s *Store) Bookings(ctx context.Context) ([]recon.Booking, error) {
	// reference is a fixed-width digit string; byte order matches numeric order.
	rows, err := s.q.Query(ctx, `select `+bookingCols+` from bookings order by reference asc`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]recon.Booking, 0)
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func scanBooking(row rowScanner) (recon.Booking, error) {
	var (
		b                 recon.Booking
		due, paid, balMin int64
		currency          string
	)
	if err := row.Scan(&b.ID, &b.Reference, &due, &paid, &balMin, &currency); err != nil {
		return recon.Booking{}, err
	}
	var err error
	if b.AmountDue, err = money.NewAmountFromMinorUnits(currency, due); err != nil {
		return recon.Booking{}, err
	}
	if b.PaidAmount, err = money.NewAmountFromMinorUnits(currency, paid); err != nil {
		return recon.Booking{}, err
	}
	if b.Balance, err = money.NewAmountFromMinorUnits(currency, balMin); err != nil {
		return recon.Booking{}, err
	}
	return b, nil
}

// --- Ledger entries ---

const entryCols = `id, bank_line_id, record_id, record_kind, match_type, confidence, amount_minor, currency, created_at, created_by`

func (s *Store) CreateLedgerEntry(ctx context.Context, e recon.LedgerEntry) (recon.LedgerEntry, error) {
	_, err := s.q.Exec(ctx, `
        insert into ledger_entries (`+entryCols+`)
        values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
    `, e.ID, e.BankLineID, e.RecordID, e.RecordKind, e.MatchType, e.Confidence, recon.MinorUnits(e.Amount), e.Amount.Curr().Code(), e.CreatedAt, e.CreatedBy)
	if err != nil {
		return recon.LedgerEntry{}, mapPgErr(err)
	}
	return e, nil
}

func (s *Store) UpdateLedgerEntry(ctx context.Context, e recon.LedgerEntry) (recon.LedgerEntry, error) {
	ct, err := s.q.Exec(ctx, `
        update ledger_entries
        set match_type=$1, confidence=$2, amount_minor=$3, created_by=$4
        where id=$5
    `, e.MatchType, e.Confidence, recon.MinorUnits(e.Amount), e.CreatedBy, e.ID)
	if err != nil {
		return recon.LedgerEntry{}, err
	}
	if ct.RowsAffected() == 0 {
		return recon.LedgerEntry{}, errs.ErrNotFound
	}
	return e, nil
}

func (s *Store) DeleteLedgerEntry(ctx context.Context, id uuid.UUID) error {
	ct, err := s.q.Exec(ctx, `delete from ledger_entries where id = $1`, id)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

func (s *Store) LedgerEntry(ctx context.Context, id uuid.UUID) (recon.LedgerEntry, error) {
	row := s.q.QueryRow(ctx, `select `+entryCols+` from ledger_entries where id = $1`, id)
	e, err := scanEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return recon.LedgerEntry{}, errs.ErrNotFound
	}
	return e, err
}

func (s *Store) LedgerEntriesByBankLine(ctx context.Context, bankLineID uuid.UUID) ([]recon.LedgerEntry, error) {
	rows, err := s.q.Query(ctx, `
        select `+entryCols+` from ledger_entries
        where bank_line_id = $1
        order by created_at asc, id asc
    `, bankLineID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEntries(rows)
}

func (s *Store) LedgerEntryByPair(ctx context.Context, bankLineID, recordID uuid.UUID) (recon.LedgerEntry, bool, error) {
	row := s.q.QueryRow(ctx, `
        select `+entryCols+` from ledger_entries
        where bank_line_id = $1 and record_id = $2
    `, bankLineID, recordID)
	e, err := scanEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return recon.LedgerEntry{}, false, nil
	}
	if err != nil {
		return recon.LedgerEntry{}, false, err
	}
	return e, true, nil
}

func (s *Store) LedgerEntriesByRecord(ctx context.Context, recordID uuid.UUID) ([]recon.LedgerEntry, error) {
	rows, err := s.q.Query(ctx, `
        select `+entryCols+` from ledger_entries
        where record_id = $1
        order by created_at asc, id asc
    `, recordID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEntries(rows)
}

func (s *Store) AllLedgerEntries(ctx context.Context) ([]recon.LedgerEntry, error) {
	rows, err := s.q.Query(ctx, `select ` + entryCols + ` from ledger_entries order by created_at asc, id asc`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEntries(rows)
}

func collectEntries(rows pgx.Rows) ([]recon.LedgerEntry, error) {
	out := make([]recon.LedgerEntry, 0)
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanEntry(row rowScanner) (recon.LedgerEntry, error) {
	var (
		e        recon.LedgerEntry
		minor    int64
		currency string
	)
	if err := row.Scan(&e.ID, &e.BankLineID, &e.RecordID, &e.RecordKind, &e.MatchType, &e.Confidence, &minor, &currency, &e.CreatedAt, &e.CreatedBy); err != nil {
		return recon.LedgerEntry{}, err
	}
	amt, err := money.NewAmountFromMinorUnits(currency, minor)
	if err != nil {
		return recon.LedgerEntry{}, err
	}
	e.Amount = amt
	return e, nil
}

// mapPgErr translates postgres constraint violations into sentinel errors.
func mapPgErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		if pgErr.ConstraintName == "ledger_entries_pair_key" {
			return errs.ErrDuplicateLink
		}
		return errs.ErrConflict
	}
	return err
}
