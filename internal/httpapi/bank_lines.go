// Bank line handlers: import, lookup, candidate matching, surrogate receipts.
package httpapi

import (
	"net/http"
	"strconv"

	chi "github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/govalues/money"

	"github.com/tinoosan/recon/internal/errs"
	"github.com/tinoosan/recon/internal/meta"
	"github.com/tinoosan/recon/internal/recon"
	"github.com/tinoosan/recon/internal/service/ledger"
)

func (s *Server) postBankLine(w http.ResponseWriter, r *http.Request) {
	v := r.Context().Value(ctxKeyPostBankLine)
	req, ok := v.(postBankLineRequest)
	if !ok {
		toJSON(w, http.StatusInternalServerError, errorResponse{Error: "validated request missing"})
		return
	}
	amt, err := money.NewAmountFromMinorUnits(req.Currency, req.AmountMinor)
	if err != nil {
		badRequest(w, "invalid currency")
		return
	}
	line := recon.BankLineItem{
		ID:          uuid.New(),
		Account:     req.Account,
		Date:        req.Date.UTC(),
		Amount:      amt,
		Description: req.Description,
		Vendor:      req.Vendor,
		SourceFile:  req.SourceFile,
		Unexplained: true,
		Annotations: meta.New(req.Annotations),
	}
	if req.RunningBalanceMinor != nil {
		rb, err := money.NewAmountFromMinorUnits(req.Currency, *req.RunningBalanceMinor)
		if err != nil {
			badRequest(w, "invalid running balance")
			return
		}
		line.RunningBalance = &rb
	}
	created, err := s.store.CreateBankLine(r.Context(), line)
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	toJSON(w, http.StatusCreated, toBankLineResponse(created))
}

func (s *Server) getBankLine(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	line, err := s.store.BankLine(r.Context(), id)
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	toJSON(w, http.StatusOK, toBankLineResponse(line))
}

func (s *Server) listUnexplained(w http.ResponseWriter, r *http.Request) {
	lines, err := s.store.UnexplainedBankLines(r.Context())
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	out := make([]bankLineResponse, 0, len(lines))
	for _, l := range lines {
		out = append(out, toBankLineResponse(l))
	}
	toJSON(w, http.StatusOK, out)
}

// getCandidates handles GET /v1/bank-lines/{id}/candidates.
// Optional query params window_days and tolerance_minor tune the search.
func (s *Server) getCandidates(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	opts := s.matchOpts
	if raw := r.URL.Query().Get("window_days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			badRequest(w, "invalid window_days")
			return
		}
		opts.WindowDays = n
	}
	if raw := r.URL.Query().Get("tolerance_minor"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n < 0 {
			badRequest(w, "invalid tolerance_minor")
			return
		}
		opts.ToleranceMinor = n
	}
	res, err := s.matcherSvc.FindCandidates(r.Context(), id, opts)
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	candidateSearchesTotal.Inc()
	out := candidatesResponse{Candidates: make([]candidateResponse, 0, len(res.Candidates)), Ambiguous: res.Ambiguous}
	for _, c := range res.Candidates {
		out.Candidates = append(out.Candidates, candidateResponse{
			RecordID:      c.RecordID,
			Kind:          c.Kind,
			Date:          c.Date,
			AmountMinor:   c.AmountMinor,
			Vendor:        c.Vendor,
			Score:         c.Score,
			DateDeltaDays: c.DateDeltaDays,
		})
	}
	toJSON(w, http.StatusOK, out)
}

func (s *Server) getBankLineEntries(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	if _, err := s.store.BankLine(r.Context(), id); err != nil {
		writeDomainErr(w, err)
		return
	}
	entries, err := s.ledgerSvc.EntriesFor(r.Context(), id)
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	out := make([]ledgerEntryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, toEntryResponse(e))
	}
	toJSON(w, http.StatusOK, out)
}

type autoLinkRequest struct {
	CreatedBy string `json:"created_by,omitempty"`
}

// postAutoLink links the single best candidate for a bank line. A tied top
// score is refused with 409: ambiguous matches need a human to pick, so only
// an unambiguous winner ever becomes a ledger entry without review.
func (s *Server) postAutoLink(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	var req autoLinkRequest
	if r.ContentLength > 0 {
		if !decodeStrict(w, r, &req) {
			return
		}
	}
	line, err := s.store.BankLine(r.Context(), id)
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	res, err := s.matcherSvc.FindCandidates(r.Context(), id, s.matchOpts)
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	candidateSearchesTotal.Inc()
	if len(res.Candidates) == 0 {
		toJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: "no candidate records found", Code: "no_candidates"})
		return
	}
	if res.Ambiguous {
		writeDomainErr(w, errs.ErrAmbiguousMatch)
		return
	}
	top := res.Candidates[0]
	matchType := recon.MatchTypeFuzzy
	confidence := recon.ConfidenceMedium
	if top.DateDeltaDays == 0 && top.AmountMinor == line.AbsMinor() {
		matchType = recon.MatchTypeExact
		confidence = recon.ConfidenceHigh
	}
	entry, err := s.ledgerSvc.Link(r.Context(), ledger.LinkParams{
		BankLineID:  id,
		RecordID:    top.RecordID,
		Kind:        top.Kind,
		AmountMinor: top.AmountMinor,
		MatchType:   matchType,
		Confidence:  confidence,
		CreatedBy:   req.CreatedBy,
	})
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	linksCreatedTotal.WithLabelValues(string(entry.MatchType)).Inc()
	toJSON(w, http.StatusCreated, toEntryResponse(entry))
}

type postSurrogateRequest struct {
	CreatedBy string `json:"created_by,omitempty"`
}

type surrogateResponse struct {
	Receipt receiptResponse     `json:"receipt"`
	Entry   ledgerEntryResponse `json:"entry"`
}

// postSurrogateReceipt generates a receipt straight from the bank line for
// charges that never produce paper (bank fees, interest).
func (s *Server) postSurrogateReceipt(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	var req postSurrogateRequest
	if r.ContentLength > 0 {
		if !decodeStrict(w, r, &req) {
			return
		}
	}
	receipt, entry, err := s.ledgerSvc.CreateSurrogateReceipt(r.Context(), id, req.CreatedBy)
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	linksCreatedTotal.WithLabelValues(string(entry.MatchType)).Inc()
	toJSON(w, http.StatusCreated, surrogateResponse{Receipt: toReceiptResponse(receipt), Entry: toEntryResponse(entry)})
}
