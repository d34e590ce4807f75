// Package matcher ranks plausible counterpart records for an unmatched bank
// line. Amount and date are hard filters; text similarity only orders the
// survivors. A bank line whose amount matches nothing returns an empty list,
// never a fuzzy guess.
package matcher

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/tinoosan/recon/internal/recon"
)

// Scoring weights. Amount exactness dominates, then date proximity, then
// vendor text similarity. All integer points.
const (
	amountExactScore  = 500
	amountWithinScore = 400
	dateExactScore    = 200
	datePenaltyPerDay = 25
	simWeight         = 300
)

// DefaultWindowDays bounds the candidate scan around the bank line date.
const DefaultWindowDays = 7

// Repo defines the read operations needed by the matcher.
type Repo interface {
	BankLine(ctx context.Context, id uuid.UUID) (recon.BankLineItem, error)
	ReceiptsInWindow(ctx context.Context, from, to time.Time) ([]recon.Receipt, error)
	PaymentsInWindow(ctx context.Context, from, to time.Time) ([]recon.Payment, error)
}

// Options tune a single findCandidates call. Zero values fall back to the
// defaults (7-day window, one-cent tolerance).
type Options struct {
	WindowDays     int
	ToleranceMinor int64
}

// Candidate is one ranked counterpart record.
type Candidate struct {
	RecordID      uuid.UUID
	Kind          recon.RecordKind
	Date          time.Time
	AmountMinor   int64
	Vendor        string
	Score         int
	DateDeltaDays int
}

// Result is the ranked candidate list. Ambiguous is set when the two best
// candidates score equally; such matches require human confirmation before
// any ledger entry is created.
type Result struct {
	Candidates []Candidate
	Ambiguous  bool
}

// Service exposes candidate matching.
type Service interface {
	FindCandidates(ctx context.Context, bankLineID uuid.UUID, opts Options) (Result, error)
}

type service struct {
	repo Repo
}

func New(repo Repo) Service { return &service{repo: repo} }

// FindCandidates returns records whose amount equals the bank line amount
// within tolerance and whose date falls inside the search window, ranked by
// score. The ranking is deterministic: score desc, then date delta asc, then
// record id asc.
func (s *service) FindCandidates(ctx context.Context, bankLineID uuid.UUID, opts Options) (Result, error) {
	if opts.WindowDays <= 0 {
		opts.WindowDays = DefaultWindowDays
	}
	if opts.ToleranceMinor <= 0 {
		opts.ToleranceMinor = recon.ToleranceMinor
	}

	line, err := s.repo.BankLine(ctx, bankLineID)
	if err != nil {
		return Result{}, err
	}
	target := line.AbsMinor()
	if target == 0 {
		// Malformed or null amount on the bank line: nothing can match.
		return Result{Candidates: []Candidate{}}, nil
	}

	window := time.Duration(opts.WindowDays) * 24 * time.Hour
	from := line.Date.Add(-window)
	to := line.Date.Add(window)

	bankText := line.Description
	if line.Vendor != "" {
		bankText += " " + line.Vendor
	}

	var out []Candidate
	receipts, err := s.repo.ReceiptsInWindow(ctx, from, to)
	if err != nil {
		return Result{}, err
	}
	for _, r := range receipts {
		if r.Voided || r.BankLineID != nil {
			continue
		}
		vendor := r.Vendor
		if r.VendorCanonical != "" {
			vendor = r.VendorCanonical
		}
		if c, ok := score(line, bankText, r.ID, recon.RecordKindReceipt, r.Date, recon.MinorUnits(r.Amount), vendor, target, opts.ToleranceMinor); ok {
			out = append(out, c)
		}
	}
	payments, err := s.repo.PaymentsInWindow(ctx, from, to)
	if err != nil {
		return Result{}, err
	}
	for _, p := range payments {
		if p.BankLineID != nil {
			continue
		}
		if c, ok := score(line, bankText, p.ID, recon.RecordKindPayment, p.Date, recon.MinorUnits(p.Amount), p.Method, target, opts.ToleranceMinor); ok {
			out = append(out, c)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		di, dj := abs(out[i].DateDeltaDays), abs(out[j].DateDeltaDays)
		if di != dj {
			return di < dj
		}
		return out[i].RecordID.String() < out[j].RecordID.String()
	})

	res := Result{Candidates: out}
	if len(out) >= 2 && out[0].Score == out[1].Score {
		res.Ambiguous = true
	}
	if res.Candidates == nil {
		res.Candidates = []Candidate{}
	}
	return res, nil
}

// score applies the amount filter and computes the candidate's rank points.
// A malformed (non-positive) candidate amount excludes the candidate, it is
// not an engine error.
func score(line recon.BankLineItem, bankText string, id uuid.UUID, kind recon.RecordKind, date time.Time, amountMinor int64, vendor string, target, tol int64) (Candidate, bool) {
	if amountMinor <= 0 {
		return Candidate{}, false
	}
	diff := amountMinor - target
	if diff < 0 {
		diff = -diff
	}
	if diff > tol {
		return Candidate{}, false
	}

	pts := amountWithinScore
	if diff == 0 {
		pts = amountExactScore
	}

	deltaDays := int(date.Sub(line.Date).Hours() / 24)
	dayPenalty := abs(deltaDays) * datePenaltyPerDay
	if dayPenalty < dateExactScore {
		pts += dateExactScore - dayPenalty
	}

	pts += similarityScore(bankText, vendor)

	return Candidate{
		RecordID:      id,
		Kind:          kind,
		Date:          date,
		AmountMinor:   amountMinor,
		Vendor:        vendor,
		Score:         pts,
		DateDeltaDays: deltaDays,
	}, true
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
