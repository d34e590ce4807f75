package allocator

import (
	"context"
	"math/rand"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/govalues/money"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinoosan/recon/internal/errs"
	"github.com/tinoosan/recon/internal/recon"
	"github.com/tinoosan/recon/internal/storage/memory"
)

var baseDate = time.Date(2026, 5, 10, 0, 0, 0, 0, time.UTC)

func amt(t *testing.T, minor int64) money.Amount {
	t.Helper()
	a, err := money.NewAmountFromMinorUnits("USD", minor)
	require.NoError(t, err)
	return a
}

func fixedNow() time.Time { return time.Date(2026, 5, 11, 12, 0, 0, 0, time.UTC) }

func seedSplitScenario(t *testing.T, st *memory.Store) (recon.BankLineItem, recon.Receipt, recon.Receipt) {
	t.Helper()
	line := recon.BankLineItem{
		ID:          uuid.New(),
		Account:     "operating",
		Date:        baseDate,
		Amount:      amt(t, -16689),
		Description: "COMBINED CHARGE",
		Unexplained: true,
	}
	st.SeedBankLine(line)
	r1 := recon.Receipt{ID: uuid.New(), Date: baseDate, Vendor: "Vendor A", Amount: amt(t, 14000)}
	r2 := recon.Receipt{ID: uuid.New(), Date: baseDate, Vendor: "Vendor B", Amount: amt(t, 2689)}
	st.SeedReceipt(r1)
	st.SeedReceipt(r2)
	return line, r1, r2
}

func TestAllocate_FullSplitAcrossTwoReceipts(t *testing.T) {
	st := memory.New()
	line, r1, r2 := seedSplitScenario(t, st)
	svc := New(st, fixedNow)

	alloc, err := svc.Allocate(context.Background(), Request{
		BankLineID: line.ID,
		Proposals: []Proposal{
			{RecordID: r1.ID, Kind: recon.RecordKindReceipt, AmountMinor: 14000},
			{RecordID: r2.ID, Kind: recon.RecordKindReceipt, AmountMinor: 2689},
		},
		CreatedBy: "ops",
	})
	require.NoError(t, err)
	require.Len(t, alloc.Lines, 2)
	assert.NotEqual(t, uuid.Nil, alloc.GroupID)
	assert.Zero(t, alloc.ResidualMinor)

	// Both receipts share the minted group id.
	got1, err := st.Receipt(context.Background(), r1.ID)
	require.NoError(t, err)
	got2, err := st.Receipt(context.Background(), r2.ID)
	require.NoError(t, err)
	require.NotNil(t, got1.SplitGroupID)
	require.NotNil(t, got2.SplitGroupID)
	assert.Equal(t, *got1.SplitGroupID, *got2.SplitGroupID)

	// Entries sum to the line amount and the flag clears.
	entries, err := st.LedgerEntriesByBankLine(context.Background(), line.ID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	gotLine, err := st.BankLine(context.Background(), line.ID)
	require.NoError(t, err)
	assert.False(t, gotLine.Unexplained)
}

func TestAllocate_MismatchRejectsAndRollsBack(t *testing.T) {
	st := memory.New()
	line, r1, r2 := seedSplitScenario(t, st)
	svc := New(st, fixedNow)

	_, err := svc.Allocate(context.Background(), Request{
		BankLineID: line.ID,
		Proposals: []Proposal{
			{RecordID: r1.ID, Kind: recon.RecordKindReceipt, AmountMinor: 14000},
			{RecordID: r2.ID, Kind: recon.RecordKindReceipt, AmountMinor: 2000},
		},
	})
	var mismatch *recon.AllocationMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, int64(-689), mismatch.DeltaMinor)

	// Nothing persisted.
	entries, err := st.LedgerEntriesByBankLine(context.Background(), line.ID)
	require.NoError(t, err)
	assert.Empty(t, entries)
	got1, err := st.Receipt(context.Background(), r1.ID)
	require.NoError(t, err)
	assert.Nil(t, got1.SplitGroupID)
}

func TestAllocate_PartialReportsResidual(t *testing.T) {
	st := memory.New()
	line, r1, _ := seedSplitScenario(t, st)
	svc := New(st, fixedNow)

	alloc, err := svc.Allocate(context.Background(), Request{
		BankLineID: line.ID,
		Proposals: []Proposal{
			{RecordID: r1.ID, Kind: recon.RecordKindReceipt, AmountMinor: 14000},
		},
		Partial: true,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2689), alloc.ResidualMinor)

	// Residual is never force-fitted: entries cover only what was proposed
	// and the line stays unexplained.
	gotLine, err := st.BankLine(context.Background(), line.ID)
	require.NoError(t, err)
	assert.True(t, gotLine.Unexplained)
}

func TestAllocate_PartialStillRejectsOverCoverage(t *testing.T) {
	st := memory.New()
	line, r1, _ := seedSplitScenario(t, st)
	svc := New(st, fixedNow)

	_, err := svc.Allocate(context.Background(), Request{
		BankLineID: line.ID,
		Proposals: []Proposal{
			{RecordID: r1.ID, Kind: recon.RecordKindReceipt, AmountMinor: 17000},
		},
		Partial: true,
	})
	var mismatch *recon.AllocationMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, int64(311), mismatch.DeltaMinor)
}

func TestAllocate_RerunIsIdempotent(t *testing.T) {
	st := memory.New()
	line, r1, r2 := seedSplitScenario(t, st)
	svc := New(st, fixedNow)

	req := Request{
		BankLineID: line.ID,
		Proposals: []Proposal{
			{RecordID: r1.ID, Kind: recon.RecordKindReceipt, AmountMinor: 14000},
			{RecordID: r2.ID, Kind: recon.RecordKindReceipt, AmountMinor: 2689},
		},
	}
	first, err := svc.Allocate(context.Background(), req)
	require.NoError(t, err)
	second, err := svc.Allocate(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, first.GroupID, second.GroupID)
	entries, err := st.LedgerEntriesByBankLine(context.Background(), line.ID)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestAllocate_RerunUpdatesCorrectedAmounts(t *testing.T) {
	st := memory.New()
	line := recon.BankLineItem{ID: uuid.New(), Account: "operating", Date: baseDate, Amount: amt(t, -10000), Unexplained: true}
	st.SeedBankLine(line)
	r1 := recon.Receipt{ID: uuid.New(), Date: baseDate, Vendor: "A", Amount: amt(t, 6000)}
	r2 := recon.Receipt{ID: uuid.New(), Date: baseDate, Vendor: "B", Amount: amt(t, 4000)}
	st.SeedReceipt(r1)
	st.SeedReceipt(r2)
	svc := New(st, fixedNow)

	_, err := svc.Allocate(context.Background(), Request{
		BankLineID: line.ID,
		Proposals: []Proposal{
			{RecordID: r1.ID, Kind: recon.RecordKindReceipt, AmountMinor: 7000},
			{RecordID: r2.ID, Kind: recon.RecordKindReceipt, AmountMinor: 3000},
		},
	})
	require.NoError(t, err)

	// Corrected split over the same pairs updates amounts in place.
	_, err = svc.Allocate(context.Background(), Request{
		BankLineID: line.ID,
		Proposals: []Proposal{
			{RecordID: r1.ID, Kind: recon.RecordKindReceipt, AmountMinor: 6000},
			{RecordID: r2.ID, Kind: recon.RecordKindReceipt, AmountMinor: 4000},
		},
	})
	require.NoError(t, err)

	entries, err := st.LedgerEntriesByBankLine(context.Background(), line.ID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	var sum int64
	for _, e := range entries {
		sum += recon.MinorUnits(e.Amount)
	}
	assert.Equal(t, int64(10000), sum)
}

func TestAllocate_MixedExistingGroupsConflict(t *testing.T) {
	st := memory.New()
	line, r1, r2 := seedSplitScenario(t, st)
	g1, g2 := uuid.New(), uuid.New()
	r1.SplitGroupID = &g1
	r2.SplitGroupID = &g2
	st.SeedReceipt(r1)
	st.SeedReceipt(r2)
	svc := New(st, fixedNow)

	_, err := svc.Allocate(context.Background(), Request{
		BankLineID: line.ID,
		Proposals: []Proposal{
			{RecordID: r1.ID, Kind: recon.RecordKindReceipt, AmountMinor: 14000},
			{RecordID: r2.ID, Kind: recon.RecordKindReceipt, AmountMinor: 2689},
		},
	})
	require.ErrorIs(t, err, errs.ErrConflict)
}

func TestAllocate_PaymentMemberRecalculatesBooking(t *testing.T) {
	st := memory.New()
	booking := recon.Booking{ID: uuid.New(), Reference: "00000042", AmountDue: amt(t, 5000), PaidAmount: amt(t, 0), Balance: amt(t, 5000)}
	st.SeedBooking(booking)
	pay := recon.Payment{ID: uuid.New(), BookingID: &booking.ID, Date: baseDate, Amount: amt(t, 5000), Method: "card"}
	st.SeedPayment(pay)
	line := recon.BankLineItem{ID: uuid.New(), Account: "operating", Date: baseDate, Amount: amt(t, 5000), Unexplained: true}
	st.SeedBankLine(line)
	svc := New(st, fixedNow)

	_, err := svc.Allocate(context.Background(), Request{
		BankLineID: line.ID,
		Proposals: []Proposal{
			{RecordID: pay.ID, Kind: recon.RecordKindPayment, AmountMinor: 5000},
		},
	})
	require.NoError(t, err)

	got, err := st.Booking(context.Background(), booking.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(5000), recon.MinorUnits(got.PaidAmount))
	assert.Equal(t, int64(0), recon.MinorUnits(got.Balance))
}

// randomPartition splits total into k positive parts by cutting the interval
// at k-1 distinct points.
func randomPartition(rng *rand.Rand, total int64, k int) []int64 {
	cuts := make(map[int64]struct{}, k-1)
	for len(cuts) < k-1 {
		cuts[rng.Int63n(total-1)+1] = struct{}{}
	}
	points := make([]int64, 0, k+1)
	points = append(points, 0)
	for c := range cuts {
		points = append(points, c)
	}
	points = append(points, total)
	sort.Slice(points, func(i, j int) bool { return points[i] < points[j] })
	parts := make([]int64, 0, k)
	for i := 1; i < len(points); i++ {
		parts = append(parts, points[i]-points[i-1])
	}
	return parts
}

func TestAllocate_RandomPartitionsSumToLineAmount(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for trial := 0; trial < 25; trial++ {
		st := memory.New()
		target := rng.Int63n(90000) + 10000
		k := rng.Intn(4) + 2
		parts := randomPartition(rng, target, k)

		line := recon.BankLineItem{
			ID:          uuid.New(),
			Account:     "operating",
			Date:        baseDate,
			Amount:      amt(t, -target),
			Description: "COMBINED CHARGE",
			Unexplained: true,
		}
		st.SeedBankLine(line)
		proposals := make([]Proposal, 0, k)
		for _, p := range parts {
			r := recon.Receipt{ID: uuid.New(), Date: baseDate, Vendor: "Split Vendor", Amount: amt(t, p)}
			st.SeedReceipt(r)
			proposals = append(proposals, Proposal{RecordID: r.ID, Kind: recon.RecordKindReceipt, AmountMinor: p})
		}

		alloc, err := New(st, fixedNow).Allocate(context.Background(), Request{
			BankLineID: line.ID,
			Proposals:  proposals,
			CreatedBy:  "ops",
		})
		require.NoError(t, err, "trial %d target %d parts %v", trial, target, parts)
		assert.Zero(t, alloc.ResidualMinor)

		entries, err := st.LedgerEntriesByBankLine(context.Background(), line.ID)
		require.NoError(t, err)
		require.Len(t, entries, k)
		var sum int64
		for _, e := range entries {
			sum += recon.MinorUnits(e.Amount)
		}
		assert.Equal(t, target, sum, "trial %d parts %v", trial, parts)

		gotLine, err := st.BankLine(context.Background(), line.ID)
		require.NoError(t, err)
		assert.False(t, gotLine.Unexplained)
	}
}

func TestAllocate_ValidatesInput(t *testing.T) {
	st := memory.New()
	svc := New(st, fixedNow)

	_, err := svc.Allocate(context.Background(), Request{})
	require.ErrorIs(t, err, errs.ErrInvalid)

	line := recon.BankLineItem{ID: uuid.New(), Account: "x", Date: baseDate, Amount: amt(t, -100), Unexplained: true}
	st.SeedBankLine(line)
	_, err = svc.Allocate(context.Background(), Request{
		BankLineID: line.ID,
		Proposals:  []Proposal{{RecordID: uuid.New(), Kind: "bogus", AmountMinor: 100}},
	})
	require.ErrorIs(t, err, errs.ErrInvalid)
}
