package recon

import (
	"fmt"

	"github.com/google/uuid"
)

// AllocationMismatchError reports that a proposed split group does not sum to
// the bank line amount. DeltaMinor is signed: proposed sum minus target.
type AllocationMismatchError struct {
	BankLineID uuid.UUID
	DeltaMinor int64
}

func (e *AllocationMismatchError) Error() string {
	return fmt.Sprintf("allocation mismatch for bank line %s: delta %d minor units", e.BankLineID, e.DeltaMinor)
}

// IntegrityError reports a booking whose stored paid amount cannot be
// reconciled with the derived payment sum outside tolerance. It is fatal for
// the booking, not for the batch.
type IntegrityError struct {
	BookingID     uuid.UUID
	Reference     string
	ExpectedMinor int64
	ActualMinor   int64
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("integrity violation for booking %s (ref %s): stored paid %d, derived %d",
		e.BookingID, e.Reference, e.ActualMinor, e.ExpectedMinor)
}
