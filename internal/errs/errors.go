package errs

import "errors"

// Common sentinel errors for cross-layer signaling.
var (
	ErrNotFound = errors.New("not_found")
	ErrInvalid  = errors.New("invalid")
	ErrConflict = errors.New("conflict")
	// ErrDuplicateLink indicates a ledger entry already exists for the
	// (bank line, record) pair. Recoverable: the caller decides between
	// treating it as a no-op and surfacing it.
	ErrDuplicateLink = errors.New("duplicate_link")
	// ErrAmbiguousMatch indicates more than one equally ranked candidate.
	// Never auto-resolved; requires human confirmation.
	ErrAmbiguousMatch = errors.New("ambiguous_match")
)
