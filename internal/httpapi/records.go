// Receipt and payment handlers: creation plus the field-update paths that
// carry the consistency trigger.
package httpapi

import (
	"net/http"

	chi "github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/govalues/money"

	"github.com/tinoosan/recon/internal/recon"
)

func (s *Server) postReceipt(w http.ResponseWriter, r *http.Request) {
	v := r.Context().Value(ctxKeyPostReceipt)
	req, ok := v.(postReceiptRequest)
	if !ok {
		toJSON(w, http.StatusInternalServerError, errorResponse{Error: "validated request missing"})
		return
	}
	amt, err := money.NewAmountFromMinorUnits(req.Currency, req.AmountMinor)
	if err != nil {
		badRequest(w, "invalid currency")
		return
	}
	rec := recon.Receipt{
		ID:              uuid.New(),
		Date:            req.Date.UTC(),
		Vendor:          req.Vendor,
		VendorCanonical: req.VendorCanonical,
		Amount:          amt,
	}
	created, err := s.store.CreateReceipt(r.Context(), rec)
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	toJSON(w, http.StatusCreated, toReceiptResponse(created))
}

// patchReceiptBankLine sets or clears a receipt's bank-line link. The ledger
// follows through the consistency trigger; callers never sync it separately.
func (s *Server) patchReceiptBankLine(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	var req patchBankLineRef
	if !decodeStrict(w, r, &req) {
		return
	}
	rec, err := s.ledgerSvc.SetReceiptBankLine(r.Context(), id, req.BankLineID)
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	toJSON(w, http.StatusOK, toReceiptResponse(rec))
}

func (s *Server) postPayment(w http.ResponseWriter, r *http.Request) {
	v := r.Context().Value(ctxKeyPostPayment)
	req, ok := v.(postPaymentRequest)
	if !ok {
		toJSON(w, http.StatusInternalServerError, errorResponse{Error: "validated request missing"})
		return
	}
	amt, err := money.NewAmountFromMinorUnits(req.Currency, req.AmountMinor)
	if err != nil {
		badRequest(w, "invalid currency")
		return
	}
	p := recon.Payment{
		ID:           uuid.New(),
		BookingID:    req.BookingID,
		Amount:       amt,
		Date:         req.Date.UTC(),
		Method:       req.Method,
		ProcessorRef: req.ProcessorRef,
	}
	created, err := s.store.CreatePayment(r.Context(), p)
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	if created.BookingID != nil {
		if _, err := s.balanceSvc.Recalculate(r.Context(), *created.BookingID); err != nil {
			writeDomainErr(w, err)
			return
		}
	}
	toJSON(w, http.StatusCreated, toPaymentResponse(created))
}

func (s *Server) patchPaymentBankLine(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	var req patchBankLineRef
	if !decodeStrict(w, r, &req) {
		return
	}
	p, err := s.ledgerSvc.SetPaymentBankLine(r.Context(), id, req.BankLineID)
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	toJSON(w, http.StatusOK, toPaymentResponse(p))
}

func (s *Server) patchPaymentBooking(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	var req patchBookingRef
	if !decodeStrict(w, r, &req) {
		return
	}
	p, err := s.ledgerSvc.SetPaymentBooking(r.Context(), id, req.BookingID)
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	toJSON(w, http.StatusOK, toPaymentResponse(p))
}

func (s *Server) patchPaymentAmount(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	var req patchAmount
	if !decodeStrict(w, r, &req) {
		return
	}
	p, err := s.ledgerSvc.CorrectPaymentAmount(r.Context(), id, req.AmountMinor)
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	toJSON(w, http.StatusOK, toPaymentResponse(p))
}
