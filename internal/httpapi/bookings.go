// Booking handlers: creation, lookup and balance recalculation.
package httpapi

import (
	"net/http"

	chi "github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/govalues/money"

	"github.com/tinoosan/recon/internal/recon"
)

func (s *Server) postBooking(w http.ResponseWriter, r *http.Request) {
	v := r.Context().Value(ctxKeyPostBooking)
	req, ok := v.(postBookingRequest)
	if !ok {
		toJSON(w, http.StatusInternalServerError, errorResponse{Error: "validated request missing"})
		return
	}
	due, err := money.NewAmountFromMinorUnits(req.Currency, req.AmountDueMinor)
	if err != nil {
		badRequest(w, "invalid currency")
		return
	}
	zero, err := money.NewAmountFromMinorUnits(req.Currency, 0)
	if err != nil {
		badRequest(w, "invalid currency")
		return
	}
	b := recon.Booking{
		ID:         uuid.New(),
		Reference:  req.Reference,
		AmountDue:  due,
		PaidAmount: zero,
		Balance:    due,
	}
	created, err := s.store.CreateBooking(r.Context(), b)
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	toJSON(w, http.StatusCreated, toBookingResponse(created))
}

func (s *Server) getBooking(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	b, err := s.store.Booking(r.Context(), id)
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	toJSON(w, http.StatusOK, toBookingResponse(b))
}

func (s *Server) recalculateBooking(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	if _, err := s.balanceSvc.Recalculate(r.Context(), id); err != nil {
		writeDomainErr(w, err)
		return
	}
	b, err := s.store.Booking(r.Context(), id)
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	toJSON(w, http.StatusOK, toBookingResponse(b))
}

// recalculateAllBookings walks every booking. Integrity violations come back
// in the response body; the run itself still succeeds.
func (s *Server) recalculateAllBookings(w http.ResponseWriter, r *http.Request) {
	res, err := s.balanceSvc.RecalculateAll(r.Context())
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	out := recalcAllResponse{
		Recalculated: res.Recalculated,
		Skipped:      res.Skipped,
		Violations:   make([]violationResponse, 0, len(res.Violations)),
	}
	for _, v := range res.Violations {
		out.Violations = append(out.Violations, violationResponse{
			BookingID:     v.BookingID,
			Reference:     v.Reference,
			ExpectedMinor: v.ExpectedMinor,
			ActualMinor:   v.ActualMinor,
		})
	}
	toJSON(w, http.StatusOK, out)
}
