// Package stdout implements a Provider that prints messages instead of
// delivering them, for dry runs.
package stdout

import (
	"context"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	units "github.com/docker/go-units"

	"github.com/shineum/shoutbox-go/email"
	"github.com/shineum/shoutbox-go/provider"
)

// Provider prints email messages in a human-readable format.
type Provider struct {
	// writer is the output destination, defaulting to os.Stdout.
	writer io.Writer
}

var _ provider.Provider = (*Provider)(nil)

// New creates a new stdout Provider that writes to os.Stdout.
func New() *Provider {
	return &Provider{writer: os.Stdout}
}

// NewWithWriter creates a new stdout Provider that writes to the given writer.
// This is useful for testing.
func NewWithWriter(w io.Writer) *Provider {
	return &Provider{writer: w}
}

// Send prints the message. It fails only if the writer does.
func (p *Provider) Send(_ context.Context, msg *email.Message) (*provider.Result, error) {
	var b strings.Builder

	b.WriteString("========================================\n")
	if from, ok := msg.From(); ok {
		fmt.Fprintf(&b, "From: %s\n", from)
	}

	to := msg.To()
	recipients := make([]string, 0, len(to))
	for _, addr := range to {
		recipients = append(recipients, addr.String())
	}
	fmt.Fprintf(&b, "To: %s\n", strings.Join(recipients, ", "))

	if replyTo, ok := msg.ReplyTo(); ok {
		fmt.Fprintf(&b, "Reply-To: %s\n", replyTo)
	}
	fmt.Fprintf(&b, "Subject: %s\n", msg.Subject())

	headers := msg.Headers()
	if len(headers) > 0 {
		pairs := make([]string, 0, len(headers))
		for k, v := range headers {
			pairs = append(pairs, k+"="+v)
		}
		slices.Sort(pairs)
		fmt.Fprintf(&b, "Headers: %s\n", strings.Join(pairs, ", "))
	}

	b.WriteString("Body:\n")
	b.WriteString(msg.HTML() + "\n")

	if atts := msg.Attachments(); len(atts) > 0 {
		attachments := make([]string, 0, len(atts))
		for _, att := range atts {
			attachments = append(attachments, fmt.Sprintf("%s (%s)", att.Filename(), formatSize(att.Size())))
		}
		fmt.Fprintf(&b, "Attachments: %s\n", strings.Join(attachments, ", "))
	}

	b.WriteString("========================================\n")

	if _, err := io.WriteString(p.writer, b.String()); err != nil {
		return nil, &provider.TransportError{Provider: p.Name(), Op: "write", Err: err}
	}

	return &provider.Result{Provider: p.Name()}, nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "stdout"
}

// Close is a no-op.
func (p *Provider) Close() error {
	return nil
}

// formatSize formats a byte count with binary units, e.g. "45KiB".
func formatSize(bytes int) string {
	return units.BytesSize(float64(bytes))
}
