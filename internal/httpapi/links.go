// Ledger link and split allocation handlers.
package httpapi

import (
	"net/http"

	chi "github.com/go-chi/chi/v5"

	"github.com/tinoosan/recon/internal/service/allocator"
	"github.com/tinoosan/recon/internal/service/ledger"
)

func (s *Server) postLink(w http.ResponseWriter, r *http.Request) {
	v := r.Context().Value(ctxKeyPostLink)
	req, ok := v.(postLinkRequest)
	if !ok {
		toJSON(w, http.StatusInternalServerError, errorResponse{Error: "validated request missing"})
		return
	}
	entry, err := s.ledgerSvc.Link(r.Context(), ledger.LinkParams{
		BankLineID:  req.BankLineID,
		RecordID:    req.RecordID,
		Kind:        req.RecordKind,
		AmountMinor: req.AmountMinor,
		MatchType:   req.MatchType,
		Confidence:  req.Confidence,
		CreatedBy:   req.CreatedBy,
	})
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	linksCreatedTotal.WithLabelValues(string(entry.MatchType)).Inc()
	toJSON(w, http.StatusCreated, toEntryResponse(entry))
}

func (s *Server) deleteLink(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	if err := s.ledgerSvc.Unlink(r.Context(), id); err != nil {
		writeDomainErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) postAllocation(w http.ResponseWriter, r *http.Request) {
	v := r.Context().Value(ctxKeyPostAllocation)
	req, ok := v.(postAllocationRequest)
	if !ok {
		toJSON(w, http.StatusInternalServerError, errorResponse{Error: "validated request missing"})
		return
	}
	proposals := make([]allocator.Proposal, 0, len(req.Proposals))
	for _, p := range req.Proposals {
		proposals = append(proposals, allocator.Proposal{RecordID: p.RecordID, Kind: p.Kind, AmountMinor: p.AmountMinor})
	}
	alloc, err := s.allocSvc.Allocate(r.Context(), allocator.Request{
		BankLineID: req.BankLineID,
		Proposals:  proposals,
		Partial:    req.Partial,
		MatchType:  req.MatchType,
		CreatedBy:  req.CreatedBy,
	})
	if err != nil {
		allocationsTotal.WithLabelValues("rejected").Inc()
		writeDomainErr(w, err)
		return
	}
	allocationsTotal.WithLabelValues("applied").Inc()
	out := allocationResponse{
		GroupID:       alloc.GroupID,
		Lines:         make([]allocationLineResponse, 0, len(alloc.Lines)),
		ResidualMinor: alloc.ResidualMinor,
	}
	for _, l := range alloc.Lines {
		out.Lines = append(out.Lines, allocationLineResponse{RecordID: l.RecordID, Kind: l.Kind, AmountMinor: l.AmountMinor, EntryID: l.EntryID})
	}
	toJSON(w, http.StatusCreated, out)
}
