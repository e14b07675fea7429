// Package provider defines the interface shared by the delivery backends and
// the error types they report.
package provider

import (
	"context"
	"errors"
	"os"
	"strings"

	"github.com/shineum/shoutbox-go/email"
)

// APIKeyEnv is the environment variable consulted when no API key is passed
// explicitly.
const APIKeyEnv = "SHOUTBOX_API_KEY"

// ErrMissingAPIKey is returned by constructors when neither an explicit key
// nor APIKeyEnv is set.
var ErrMissingAPIKey = errors.New("API key is required: pass one explicitly or set " + APIKeyEnv)

// Provider is implemented by every delivery backend. Each Send makes at most
// one delivery attempt; retry policy belongs to the caller.
type Provider interface {
	// Send delivers msg. A nil error means the backend accepted the message.
	Send(ctx context.Context, msg *email.Message) (*Result, error)

	// Name returns the human-readable name of this provider.
	Name() string

	// Close releases pooled transport resources. It is safe to call more
	// than once.
	Close() error
}

// Result describes an accepted message.
type Result struct {
	Provider   string
	StatusCode int
	// Body is the decoded JSON object returned by the backend, if any.
	Body map[string]any
	// Raw is the undecoded response body, if any.
	Raw       []byte
	MessageID string
}

// ResolveAPIKey returns explicit if set, else the value of APIKeyEnv.
func ResolveAPIKey(explicit string) (string, error) {
	if key := strings.TrimSpace(explicit); key != "" {
		return key, nil
	}
	if key := strings.TrimSpace(os.Getenv(APIKeyEnv)); key != "" {
		return key, nil
	}
	return "", ErrMissingAPIKey
}
