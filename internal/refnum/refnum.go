// Package refnum handles booking reference numbers: fixed-width zero-padded
// digit strings. References are opaque identifiers. They are never parsed or
// reformatted as integers because leading zeros are significant; lexical and
// numeric order agree only while the width is preserved.
package refnum

import (
	"errors"
	"fmt"
)

// Width is the fixed width of a booking reference.
const Width = 8

var (
	ErrBadWidth  = errors.New("reference has wrong width")
	ErrNotDigits = errors.New("reference contains non-digit characters")
)

// Validate checks that ref is exactly Width digits.
func Validate(ref string) error {
	if len(ref) != Width {
		return fmt.Errorf("%w: got %d, want %d", ErrBadWidth, len(ref), Width)
	}
	for i := 0; i < len(ref); i++ {
		if ref[i] < '0' || ref[i] > '9' {
			return ErrNotDigits
		}
	}
	return nil
}

// Format renders a sequence number as a fixed-width reference. Only for
// minting new references; existing references pass through untouched.
func Format(seq uint64) string {
	return fmt.Sprintf("%0*d", Width, seq)
}

// Less compares two references. With fixed width and digits only, byte
// comparison and numeric comparison agree.
func Less(a, b string) bool { return a < b }
