package memory

// Package memory provides an in-memory implementation of the storage contract
// used for development and tests. It keeps code paths easy to follow while
// allowing the postgres backend to be plugged in unchanged.

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tinoosan/recon/internal/errs"
	"github.com/tinoosan/recon/internal/recon"
	"github.com/tinoosan/recon/internal/storage"
)

// pairKey identifies the unique (bank line, record) pair of a ledger entry.
type pairKey struct {
	BankLineID uuid.UUID
	RecordID   uuid.UUID
}

// entryKey tracks ordering of ledger entries per bank line: asc by (CreatedAt, ID).
type entryKey struct {
	CreatedAt time.Time
	ID        uuid.UUID
}

// Store is an in-memory implementation of storage.Store guarded by an RWMutex.
// Transactions hold txMu for their whole callback and roll back via map
// snapshots, so concurrent InTx callers serialize instead of interleaving.
type Store struct {
	mu        sync.RWMutex
	txMu      sync.Mutex
	bankLines map[uuid.UUID]recon.BankLineItem
	receipts  map[uuid.UUID]recon.Receipt
	payments  map[uuid.UUID]recon.Payment
	bookings  map[uuid.UUID]recon.Booking
	entries   map[uuid.UUID]recon.LedgerEntry
	// Pair uniqueness: this is the storage-enforced constraint from the
	// contract, mirrored by the unique index in the postgres schema.
	entryByPair map[pairKey]uuid.UUID
	// Per-bank-line sorted index of entries for ordered audit scans.
	entryKeysByLine map[uuid.UUID][]entryKey
}

// New constructs an empty in-memory store.
func New() *Store {
	return &Store{
		bankLines:       make(map[uuid.UUID]recon.BankLineItem),
		receipts:        make(map[uuid.UUID]recon.Receipt),
		payments:        make(map[uuid.UUID]recon.Payment),
		bookings:        make(map[uuid.UUID]recon.Booking),
		entries:         make(map[uuid.UUID]recon.LedgerEntry),
		entryByPair:     make(map[pairKey]uuid.UUID),
		entryKeysByLine: make(map[uuid.UUID][]entryKey),
	}
}

// Seed helpers for local dev/tests.
func (s *Store) SeedBankLine(b recon.BankLineItem) {
	s.mu.Lock()
	s.bankLines[b.ID] = b
	s.mu.Unlock()
}
func (s *Store) SeedReceipt(r recon.Receipt) { s.mu.Lock(); s.receipts[r.ID] = r; s.mu.Unlock() }
func (s *Store) SeedPayment(p recon.Payment) { s.mu.Lock(); s.payments[p.ID] = p; s.mu.Unlock() }
func (s *Store) SeedBooking(b recon.Booking) { s.mu.Lock(); s.bookings[b.ID] = b; s.mu.Unlock() }

// txView is the transactional view handed to InTx callbacks. It carries the
// root store's data methods; only InTx differs, so nested calls join the
// enclosing transaction instead of snapshotting again.
type txView struct {
	*Store
}

func (t txView) InTx(_ context.Context, fn func(storage.Store) error) error {
	return fn(t)
}

// InTx holds txMu for the whole callback, snapshots state, and restores it
// when fn returns an error. The callback receives a distinct transactional
// view, so a concurrent InTx call on the root store waits its turn rather
// than joining a transaction it did not open.
func (s *Store) InTx(_ context.Context, fn func(storage.Store) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	snap := s.snapshot()
	if err := fn(txView{s}); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

type snapshotState struct {
	bankLines       map[uuid.UUID]recon.BankLineItem
	receipts        map[uuid.UUID]recon.Receipt
	payments        map[uuid.UUID]recon.Payment
	bookings        map[uuid.UUID]recon.Booking
	entries         map[uuid.UUID]recon.LedgerEntry
	entryByPair     map[pairKey]uuid.UUID
	entryKeysByLine map[uuid.UUID][]entryKey
}

func (s *Store) snapshot() snapshotState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := snapshotState{
		bankLines:       make(map[uuid.UUID]recon.BankLineItem, len(s.bankLines)),
		receipts:        make(map[uuid.UUID]recon.Receipt, len(s.receipts)),
		payments:        make(map[uuid.UUID]recon.Payment, len(s.payments)),
		bookings:        make(map[uuid.UUID]recon.Booking, len(s.bookings)),
		entries:         make(map[uuid.UUID]recon.LedgerEntry, len(s.entries)),
		entryByPair:     make(map[pairKey]uuid.UUID, len(s.entryByPair)),
		entryKeysByLine: make(map[uuid.UUID][]entryKey, len(s.entryKeysByLine)),
	}
	for k, v := range s.bankLines {
		snap.bankLines[k] = v
	}
	for k, v := range s.receipts {
		snap.receipts[k] = v
	}
	for k, v := range s.payments {
		snap.payments[k] = v
	}
	for k, v := range s.bookings {
		snap.bookings[k] = v
	}
	for k, v := range s.entries {
		snap.entries[k] = v
	}
	for k, v := range s.entryByPair {
		snap.entryByPair[k] = v
	}
	for k, v := range s.entryKeysByLine {
		keys := make([]entryKey, len(v))
		copy(keys, v)
		snap.entryKeysByLine[k] = keys
	}
	return snap
}

func (s *Store) restore(snap snapshotState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bankLines = snap.bankLines
	s.receipts = snap.receipts
	s.payments = snap.payments
	s.bookings = snap.bookings
	s.entries = snap.entries
	s.entryByPair = snap.entryByPair
	s.entryKeysByLine = snap.entryKeysByLine
}

// --- Bank lines ---

func (s *Store) CreateBankLine(_ context.Context, b recon.BankLineItem) (recon.BankLineItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.bankLines[b.ID]; ok {
		return recon.BankLineItem{}, errs.ErrConflict
	}
	s.bankLines[b.ID] = b
	return b, nil
}

func (s *Store) BankLine(_ context.Context, id uuid.UUID) (recon.BankLineItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.bankLines[id]
	if !ok {
		return recon.BankLineItem{}, errs.ErrNotFound
	}
	return b, nil
}

func (s *Store) UpdateBankLine(_ context.Context, b recon.BankLineItem) (recon.BankLineItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.bankLines[b.ID]; !ok {
		return recon.BankLineItem{}, errs.ErrNotFound
	}
	s.bankLines[b.ID] = b
	return b, nil
}

func (s *Store) UnexplainedBankLines(_ context.Context) ([]recon.BankLineItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]recon.BankLineItem, 0)
	for _, b := range s.bankLines {
		if b.Unexplained {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

// --- Receipts ---

func (s *Store) CreateReceipt(_ context.Context, r recon.Receipt) (recon.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.receipts[r.ID]; ok {
		return recon.Receipt{}, errs.ErrConflict
	}
	s.receipts[r.ID] = r
	return r, nil
}

func (s *Store) Receipt(_ context.Context, id uuid.UUID) (recon.Receipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.receipts[id]
	if !ok {
		return recon.Receipt{}, errs.ErrNotFound
	}
	return r, nil
}

func (s *Store) UpdateReceipt(_ context.Context, r recon.Receipt) (recon.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.receipts[r.ID]; !ok {
		return recon.Receipt{}, errs.ErrNotFound
	}
	s.receipts[r.ID] = r
	return r, nil
}

func (s *Store) ReceiptsInWindow(_ context.Context, from, to time.Time) ([]recon.Receipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]recon.Receipt, 0)
	for _, r := range s.receipts {
		if r.Date.Before(from) || r.Date.After(to) {
			continue
		}
		out = append(out, r)
	}
	sortReceipts(out)
	return out, nil
}

// --- Payments ---

func (s *Store) CreatePayment(_ context.Context, p recon.Payment) (recon.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.payments[p.ID]; ok {
		return recon.Payment{}, errs.ErrConflict
	}
	s.payments[p.ID] = p
	return p, nil
}

func (s *Store) Payment(_ context.Context, id uuid.UUID) (recon.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.payments[id]
	if !ok {
		return recon.Payment{}, errs.ErrNotFound
	}
	return p, nil
}

func (s *Store) UpdatePayment(_ context.Context, p recon.Payment) (recon.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.payments[p.ID]; !ok {
		return recon.Payment{}, errs.ErrNotFound
	}
	s.payments[p.ID] = p
	return p, nil
}

func (s *Store) PaymentsInWindow(_ context.Context, from, to time.Time) ([]recon.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]recon.Payment, 0)
	for _, p := range s.payments {
		if p.Date.Before(from) || p.Date.After(to) {
			continue
		}
		out = append(out, p)
	}
	sortPayments(out)
	return out, nil
}

func (s *Store) PaymentsByBooking(_ context.Context, bookingID uuid.UUID) ([]recon.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]recon.Payment, 0)
	for _, p := range s.payments {
		if p.BookingID != nil && *p.BookingID == bookingID {
			out = append(out, p)
		}
	}
	sortPayments(out)
	return out, nil
}

// --- Bookings ---

func (s *Store) CreateBooking(_ context.Context, b recon.Booking) (recon.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.bookings[b.ID]; ok {
		return recon.Booking{}, errs.ErrConflict
	}
	for _, existing := range s.bookings {
		if existing.Reference == b.Reference {
			return recon.Booking{}, errs.ErrConflict
		}
	}
	s.bookings[b.ID] = b
	return b, nil
}

func (s *Store) Booking(_ context.Context, id uuid.UUID) (recon.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.bookings[id]
	if !ok {
		return recon.Booking{}, errs.ErrNotFound
	}
	return b, nil
}

func (s *Store) UpdateBooking(_ context.Context, b recon.Booking) (recon.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.bookings[b.ID]; !ok {
		return recon.Booking{}, errs.ErrNotFound
	}
	s.bookings[b.ID] = b
	return b, nil
}

func (s *Store) Bookings(_ context.Context) ([]recon.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]recon.Booking, 0, len(s.bookings))
	for _, b := range s.bookings {
		out = append(out, b)
	}
	// References are fixed-width digit strings, so byte order is stable and
	// matches numeric order.
	sort.Slice(out, func(i, j int) bool { return out[i].Reference < out[j].Reference })
	return out, nil
}

// --- Ledger entries ---

func (s *Store) CreateLedgerEntry(_ context.Context, e recon.LedgerEntry) (recon.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pk := pairKey{BankLineID: e.BankLineID, RecordID: e.RecordID}
	if _, ok := s.entryByPair[pk]; ok {
		return recon.LedgerEntry{}, errs.ErrDuplicateLink
	}
	s.entries[e.ID] = e
	s.entryByPair[pk] = e.ID
	s.insertEntryIndexLocked(e.BankLineID, entryKey{CreatedAt: e.CreatedAt, ID: e.ID})
	return e, nil
}

func (s *Store) UpdateLedgerEntry(_ context.Context, e recon.LedgerEntry) (recon.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.entries[e.ID]
	if !ok {
		return recon.LedgerEntry{}, errs.ErrNotFound
	}
	// The pair is the entry's identity; amount and labels are the mutable part.
	e.BankLineID = old.BankLineID
	e.RecordID = old.RecordID
	e.CreatedAt = old.CreatedAt
	s.entries[e.ID] = e
	return e, nil
}

func (s *Store) DeleteLedgerEntry(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return errs.ErrNotFound
	}
	delete(s.entries, id)
	delete(s.entryByPair, pairKey{BankLineID: e.BankLineID, RecordID: e.RecordID})
	keys := s.entryKeysByLine[e.BankLineID]
	for i, k := range keys {
		if k.ID == id {
			s.entryKeysByLine[e.BankLineID] = append(keys[:i], keys[i+1:]...)
			break
		}
	}
	return nil
}

func (s *Store) LedgerEntry(_ context.Context, id uuid.UUID) (recon.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[id]
	if !ok {
		return recon.LedgerEntry{}, errs.ErrNotFound
	}
	return e, nil
}

func (s *Store) LedgerEntriesByBankLine(_ context.Context, bankLineID uuid.UUID) ([]recon.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := s.entryKeysByLine[bankLineID]
	out := make([]recon.LedgerEntry, 0, len(keys))
	for _, k := range keys {
		if e, ok := s.entries[k.ID]; ok {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *Store) LedgerEntryByPair(_ context.Context, bankLineID, recordID uuid.UUID) (recon.LedgerEntry, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.entryByPair[pairKey{BankLineID: bankLineID, RecordID: recordID}]
	if !ok {
		return recon.LedgerEntry{}, false, nil
	}
	e, ok := s.entries[id]
	if !ok {
		return recon.LedgerEntry{}, false, nil
	}
	return e, true, nil
}

func (s *Store) LedgerEntriesByRecord(_ context.Context, recordID uuid.UUID) ([]recon.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]recon.LedgerEntry, 0)
	for _, e := range s.entries {
		if e.RecordID == recordID {
			out = append(out, e)
		}
	}
	sortEntries(out)
	return out, nil
}

func (s *Store) AllLedgerEntries(_ context.Context) ([]recon.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]recon.LedgerEntry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	sortEntries(out)
	return out, nil
}

// insertEntryIndexLocked inserts k into the per-line sorted index, keeping
// order asc by (CreatedAt, ID). Caller must hold s.mu (write lock).
func (s *Store) insertEntryIndexLocked(bankLineID uuid.UUID, k entryKey) {
	keys := s.entryKeysByLine[bankLineID]
	i := sort.Search(len(keys), func(i int) bool {
		if keys[i].CreatedAt.After(k.CreatedAt) {
			return true
		}
		if keys[i].CreatedAt.Equal(k.CreatedAt) {
			return keys[i].ID.String() > k.ID.String()
		}
		return false
	})
	if i == len(keys) {
		s.entryKeysByLine[bankLineID] = append(keys, k)
		return
	}
	keys = append(keys, entryKey{})
	copy(keys[i+1:], keys[i:])
	keys[i] = k
	s.entryKeysByLine[bankLineID] = keys
}

func sortReceipts(rs []recon.Receipt) {
	sort.Slice(rs, func(i, j int) bool {
		if !rs[i].Date.Equal(rs[j].Date) {
			return rs[i].Date.Before(rs[j].Date)
		}
		return rs[i].ID.String() < rs[j].ID.String()
	})
}

func sortPayments(ps []recon.Payment) {
	sort.Slice(ps, func(i, j int) bool {
		if !ps[i].Date.Equal(ps[j].Date) {
			return ps[i].Date.Before(ps[j].Date)
		}
		return ps[i].ID.String() < ps[j].ID.String()
	})
}

func sortEntries(es []recon.LedgerEntry) {
	sort.Slice(es, func(i, j int) bool {
		if !es[i].CreatedAt.Equal(es[j].CreatedAt) {
			return es[i].CreatedAt.Before(es[j].CreatedAt)
		}
		return es[i].ID.String() < es[j].ID.String()
	})
}
