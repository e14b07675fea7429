package stdout

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/shineum/shoutbox-go/email"
	"github.com/shineum/shoutbox-go/provider"
)

func newTestMessage(t *testing.T, draft email.Draft) *email.Message {
	t.Helper()
	msg, err := email.NewMessage(draft)
	if err != nil {
		t.Fatalf("NewMessage: %v", err)
	}
	return msg
}

func TestSend_BasicEmail(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	p := NewWithWriter(&buf)

	msg := newTestMessage(t, email.Draft{
		From:    email.RawAddress("sender@example.com"),
		To:      email.Addresses("alice@example.com", "Bob <bob@example.com>"),
		Subject: "Monthly Report",
		HTML:    "<p>Please find the report attached.</p>",
	})

	result, err := p.Send(context.Background(), msg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Provider != "stdout" {
		t.Errorf("Provider: got %q", result.Provider)
	}

	output := buf.String()

	if !strings.Contains(output, "From: sender@example.com\n") {
		t.Error("output missing From header")
	}
	if !strings.Contains(output, "To: alice@example.com, Bob <bob@example.com>\n") {
		t.Error("output missing To header")
	}
	if !strings.Contains(output, "Subject: Monthly Report\n") {
		t.Error("output missing Subject header")
	}
	if !strings.Contains(output, "<p>Please find the report attached.</p>") {
		t.Error("output missing body")
	}
	for _, absent := range []string{"Attachments:", "Reply-To:", "Headers:"} {
		if strings.Contains(output, absent) {
			t.Errorf("output should not contain %q", absent)
		}
	}
	if !strings.HasPrefix(output, "========================================\n") {
		t.Error("output should start with separator line")
	}
	if !strings.HasSuffix(output, "========================================\n") {
		t.Error("output should end with separator line")
	}
}

func TestSend_OptionalFields(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	p := NewWithWriter(&buf)

	report, _ := email.NewAttachment("report.pdf", make([]byte, 1258291), "application/pdf")
	summary, _ := email.NewAttachment("summary.xlsx", make([]byte, 46080), "")

	msg := newTestMessage(t, email.Draft{
		To:          email.Addresses("alice@example.com"),
		ReplyTo:     email.RawAddress("support@example.com"),
		Subject:     "Monthly Report",
		HTML:        "<p>see attached</p>",
		Headers:     map[string]string{"X-Priority": "1", "X-Custom": "test"},
		Attachments: []email.Attachment{report, summary},
	})

	if _, err := p.Send(context.Background(), msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	output := buf.String()
	if strings.Contains(output, "From:") {
		t.Error("output should not contain From line without a sender")
	}
	if !strings.Contains(output, "Reply-To: support@example.com\n") {
		t.Error("output missing Reply-To line")
	}
	if !strings.Contains(output, "Headers: X-Custom=test, X-Priority=1\n") {
		t.Errorf("output missing sorted headers:\n%s", output)
	}
	if !strings.Contains(output, "Attachments: report.pdf (1.2MiB), summary.xlsx (45KiB)\n") {
		t.Errorf("output missing attachments line:\n%s", output)
	}
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("broken pipe") }

func TestSend_WriteError(t *testing.T) {
	t.Parallel()

	p := NewWithWriter(failingWriter{})
	_, err := p.Send(context.Background(), newTestMessage(t, email.Draft{To: email.Addresses("a@example.com")}))

	var tErr *provider.TransportError
	if !errors.As(err, &tErr) {
		t.Fatalf("expected *provider.TransportError, got %v", err)
	}
}

func TestName(t *testing.T) {
	t.Parallel()

	p := New()
	if p.Name() != "stdout" {
		t.Errorf("Name: got %q, want %q", p.Name(), "stdout")
	}
	if err := p.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}

func TestFormatSize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		bytes int
		want  string
	}{
		{name: "zero bytes", bytes: 0, want: "0B"},
		{name: "small bytes", bytes: 512, want: "512B"},
		{name: "kilobytes", bytes: 46080, want: "45KiB"},
		{name: "megabytes", bytes: 1258291, want: "1.2MiB"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := formatSize(tt.bytes)
			if got != tt.want {
				t.Errorf("formatSize(%d): got %q, want %q", tt.bytes, got, tt.want)
			}
		})
	}
}
