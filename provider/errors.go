package provider

import (
	"errors"
	"fmt"
)

// ErrDelivery matches every *APIError and *TransportError via errors.Is.
var ErrDelivery = errors.New("shoutbox delivery failed")

// APIError is returned when the backend answered with a non-success status.
type APIError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s API error (HTTP %d): %s", e.Provider, e.StatusCode, e.Body)
}

// Is makes APIError match ErrDelivery.
func (e *APIError) Is(target error) bool { return target == ErrDelivery }

// TransportError wraps a connection, TLS, DNS, authentication or timeout
// failure. Op names the step that failed.
type TransportError struct {
	Provider string
	Op       string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s failed: %v", e.Provider, e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Is makes TransportError match ErrDelivery.
func (e *TransportError) Is(target error) bool { return target == ErrDelivery }
