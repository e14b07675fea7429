package smtp

import (
	"context"
	"errors"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/shineum/shoutbox-go/email"
	"github.com/shineum/shoutbox-go/internal/parser"
	"github.com/shineum/shoutbox-go/internal/smtptest"
	"github.com/shineum/shoutbox-go/provider"
)

var relayCredentials = smtptest.Options{Username: "test-key", Password: "test-key"}

func TestRelay_PlainSession(t *testing.T) {
	t.Parallel()

	relay := smtptest.Start(t, relayCredentials)

	c, err := New(Config{APIKey: "test-key", Host: "127.0.0.1", Port: relay.Port, TLSMode: TLSNone, Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	msg, _ := email.NewMessage(email.Draft{
		From:    email.RawAddress("Sender <sender@example.com>"),
		To:      email.Addresses("a@example.com", "b@example.com"),
		Subject: "Relay test",
		HTML:    "<p>over the wire</p>",
		Headers: map[string]string{"X-Custom": "test"},
	})

	if _, err := c.Send(context.Background(), msg); err != nil {
		t.Fatalf("Send: %v", err)
	}

	got := relay.Delivered()
	if len(got) != 1 {
		t.Fatalf("delivered: got %d envelopes, want 1", len(got))
	}
	if got[0].From != "sender@example.com" {
		t.Errorf("MAIL FROM: got %q", got[0].From)
	}
	if len(got[0].To) != 2 {
		t.Errorf("RCPT TO: got %v", got[0].To)
	}

	parsed, err := parser.Parse(got[0].Data)
	if err != nil {
		t.Fatalf("parse delivered message: %v", err)
	}
	if parsed.Subject() != "Relay test" || parsed.HTML() != "<p>over the wire</p>" {
		t.Errorf("delivered content: %q / %q", parsed.Subject(), parsed.HTML())
	}
	if parsed.Headers()["X-Custom"] != "test" {
		t.Errorf("X-Custom: got %q", parsed.Headers()["X-Custom"])
	}
}

func TestRelay_StartTLS(t *testing.T) {
	t.Parallel()

	keyPath, certPath := smtptest.GenerateTLSFiles(t)
	opts := relayCredentials
	opts.KeyPath, opts.CertPath = keyPath, certPath
	relay := smtptest.Start(t, opts)

	c, err := New(Config{
		APIKey:  "test-key",
		Host:    "127.0.0.1",
		Port:    relay.Port,
		Timeout: 5 * time.Second,
		CAFile:  certPath,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	msg, _ := email.NewMessage(email.Draft{
		From:    email.RawAddress("sender@example.com"),
		To:      email.Addresses("recipient@example.com"),
		Subject: "Encrypted",
		HTML:    "<p>secret</p>",
	})

	if _, err := c.Send(context.Background(), msg); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if n := len(relay.Delivered()); n != 1 {
		t.Errorf("delivered: got %d, want 1", n)
	}
}

func TestRelay_WrongCredentials(t *testing.T) {
	t.Parallel()

	relay := smtptest.Start(t, relayCredentials)

	c, _ := New(Config{APIKey: "wrong-key", Host: "127.0.0.1", Port: relay.Port, TLSMode: TLSNone, Timeout: 5 * time.Second})
	msg, _ := email.NewMessage(email.Draft{
		From: email.RawAddress("sender@example.com"),
		To:   email.Addresses("recipient@example.com"),
	})

	_, err := c.Send(context.Background(), msg)
	var tErr *provider.TransportError
	if !errors.As(err, &tErr) || tErr.Op != "auth" {
		t.Fatalf("expected auth TransportError, got %v", err)
	}
	if n := len(relay.Delivered()); n != 0 {
		t.Errorf("delivered: got %d, want 0", n)
	}
}

func TestRelay_ConnectionRefused(t *testing.T) {
	t.Parallel()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()

	c, _ := New(Config{APIKey: "test-key", Host: "127.0.0.1", Port: port, TLSMode: TLSNone, Timeout: time.Second})
	msg, _ := email.NewMessage(email.Draft{
		From: email.RawAddress("sender@example.com"),
		To:   email.Addresses("recipient@example.com"),
	})

	_, err = c.Send(context.Background(), msg)
	var tErr *provider.TransportError
	if !errors.As(err, &tErr) || tErr.Op != "connect" {
		t.Fatalf("expected connect TransportError, got %v", err)
	}
	if c.Addr() != net.JoinHostPort("127.0.0.1", strconv.Itoa(port)) {
		t.Errorf("Addr: got %q", c.Addr())
	}
}
