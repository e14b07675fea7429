package email

import (
	"errors"
	"fmt"
)

// ErrInvalidAddress matches every *ValidationError raised for a malformed
// address via errors.Is.
var ErrInvalidAddress = errors.New("invalid email address")

// ValidationError reports message or address input that was rejected during
// construction, before any network activity.
type ValidationError struct {
	Field  string
	Value  string
	Reason string
}

// AddressFormatError is the name used for address validation failures.
type AddressFormatError = ValidationError

func (e *ValidationError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("validation failed for %s %q: %s", e.Field, e.Value, e.Reason)
}

// Is makes address failures match ErrInvalidAddress.
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidAddress && e.Reason == "invalid email address"
}
