package httpapi

import (
	"errors"
	"net/http"

	"github.com/tinoosan/recon/internal/errs"
	"github.com/tinoosan/recon/internal/recon"
)

// errorResponse is the standard error payload for the API. DeltaMinor is set
// only for allocation mismatches, so callers can show the exact discrepancy.
type errorResponse struct {
	Error      string `json:"error"`
	Code       string `json:"code,omitempty"`
	DeltaMinor *int64 `json:"delta_minor,omitempty"`
}

func writeErr(w http.ResponseWriter, status int, msg, code string) {
	toJSON(w, status, errorResponse{Error: msg, Code: code})
}

func badRequest(w http.ResponseWriter, msg string) { writeErr(w, http.StatusBadRequest, msg, "") }
func notFound(w http.ResponseWriter)               { writeErr(w, http.StatusNotFound, "not_found", "not_found") }

// writeDomainErr maps service errors onto HTTP statuses and stable codes.
func writeDomainErr(w http.ResponseWriter, err error) {
	var mismatch *recon.AllocationMismatchError
	var integrity *recon.IntegrityError
	switch {
	case errors.Is(err, errs.ErrNotFound):
		notFound(w)
	case errors.Is(err, errs.ErrInvalid):
		writeErr(w, http.StatusBadRequest, err.Error(), "invalid_request")
	case errors.Is(err, errs.ErrDuplicateLink):
		writeErr(w, http.StatusConflict, err.Error(), "duplicate_link")
	case errors.Is(err, errs.ErrAmbiguousMatch):
		writeErr(w, http.StatusConflict, err.Error(), "ambiguous_match")
	case errors.Is(err, errs.ErrConflict):
		writeErr(w, http.StatusConflict, err.Error(), "conflict")
	case errors.As(err, &mismatch):
		delta := mismatch.DeltaMinor
		toJSON(w, http.StatusUnprocessableEntity, errorResponse{
			Error:      mismatch.Error(),
			Code:       "allocation_mismatch",
			DeltaMinor: &delta,
		})
	case errors.As(err, &integrity):
		writeErr(w, http.StatusConflict, integrity.Error(), "integrity_violation")
	default:
		writeErr(w, http.StatusInternalServerError, "internal_error", "internal_error")
	}
}
