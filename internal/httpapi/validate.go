package httpapi

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/tinoosan/recon/internal/meta"
	"github.com/tinoosan/recon/internal/refnum"
)

type ctxKey string

const (
	ctxKeyPostBankLine   ctxKey = "validatedPostBankLine"
	ctxKeyPostReceipt    ctxKey = "validatedPostReceipt"
	ctxKeyPostPayment    ctxKey = "validatedPostPayment"
	ctxKeyPostBooking    ctxKey = "validatedPostBooking"
	ctxKeyPostLink       ctxKey = "validatedPostLink"
	ctxKeyPostAllocation ctxKey = "validatedPostAllocation"
)

func decodeStrict(w http.ResponseWriter, r *http.Request, dst any) bool {
	if !requireJSON(w, r) {
		return false
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		badRequest(w, "invalid JSON: "+err.Error())
		return false
	}
	return true
}

// validatePostBankLine checks the import payload and stores it in the request
// context for the handler. The amount stays signed; a zero amount is accepted
// at import and simply never matches anything.
func (s *Server) validatePostBankLine() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var req postBankLineRequest
			if !decodeStrict(w, r, &req) {
				return
			}
			if req.Account == "" || req.Currency == "" || req.Date.IsZero() {
				badRequest(w, "account, currency and date are required")
				return
			}
			if req.Annotations != nil {
				if err := meta.New(req.Annotations).Validate(); err != nil {
					writeErr(w, http.StatusUnprocessableEntity, err.Error(), "validation_error")
					return
				}
			}
			ctx := context.WithValue(r.Context(), ctxKeyPostBankLine, req)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func (s *Server) validatePostReceipt() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var req postReceiptRequest
			if !decodeStrict(w, r, &req) {
				return
			}
			if req.Currency == "" || req.Date.IsZero() || req.AmountMinor <= 0 {
				badRequest(w, "currency, date and a positive amount_minor are required")
				return
			}
			ctx := context.WithValue(r.Context(), ctxKeyPostReceipt, req)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func (s *Server) validatePostPayment() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var req postPaymentRequest
			if !decodeStrict(w, r, &req) {
				return
			}
			if req.Currency == "" || req.Date.IsZero() || req.AmountMinor <= 0 {
				badRequest(w, "currency, date and a positive amount_minor are required")
				return
			}
			ctx := context.WithValue(r.Context(), ctxKeyPostPayment, req)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func (s *Server) validatePostBooking() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var req postBookingRequest
			if !decodeStrict(w, r, &req) {
				return
			}
			if err := refnum.Validate(req.Reference); err != nil {
				writeErr(w, http.StatusUnprocessableEntity, err.Error(), "invalid_reference")
				return
			}
			if req.Currency == "" || req.AmountDueMinor < 0 {
				badRequest(w, "currency is required and amount_due_minor must be >= 0")
				return
			}
			ctx := context.WithValue(r.Context(), ctxKeyPostBooking, req)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func (s *Server) validatePostLink() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var req postLinkRequest
			if !decodeStrict(w, r, &req) {
				return
			}
			if req.BankLineID == uuid.Nil || req.RecordID == uuid.Nil || !req.RecordKind.Valid() || req.AmountMinor <= 0 {
				badRequest(w, "bank_line_id, record_id, a valid record_kind and a positive amount_minor are required")
				return
			}
			ctx := context.WithValue(r.Context(), ctxKeyPostLink, req)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func (s *Server) validatePostAllocation() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var req postAllocationRequest
			if !decodeStrict(w, r, &req) {
				return
			}
			if req.BankLineID == uuid.Nil || len(req.Proposals) == 0 {
				badRequest(w, "bank_line_id and at least one proposal are required")
				return
			}
			for _, p := range req.Proposals {
				if p.RecordID == uuid.Nil || !p.Kind.Valid() || p.AmountMinor <= 0 {
					badRequest(w, "each proposal needs record_id, a valid kind and a positive amount_minor")
					return
				}
			}
			ctx := context.WithValue(r.Context(), ctxKeyPostAllocation, req)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// urlID parses the {id} route parameter.
func urlID(w http.ResponseWriter, raw string) (uuid.UUID, bool) {
	id, err := uuid.Parse(raw)
	if err != nil {
		badRequest(w, "invalid id")
		return uuid.Nil, false
	}
	return id, true
}
