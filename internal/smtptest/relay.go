// Package smtptest runs an in-process SMTP relay for tests of the SMTP
// transport. Delivered envelopes are kept in memory for inspection.
package smtptest

import (
	"crypto/tls"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	units "github.com/docker/go-units"
	gosmtp "github.com/emersion/go-smtp"
)

// maxMessageSize caps how much of a DATA payload the relay keeps.
const maxMessageSize = 100 * units.MiB

// Envelope is one delivered message.
type Envelope struct {
	From string
	To   []string
	Data []byte
}

// Relay is a go-smtp server accepting a single credential pair. You must
// create it via Start.
type Relay struct {
	// Port is the loopback port the relay listens on.
	Port int

	username string
	password string

	mu        sync.Mutex
	envelopes []Envelope
}

// Options configures Start.
type Options struct {
	// Username and Password are the only accepted AUTH credentials.
	Username string
	Password string
	// KeyPath and CertPath, when both set, enable STARTTLS. The relay then
	// refuses AUTH before the upgrade.
	KeyPath  string
	CertPath string
}

// Start runs a relay on a random loopback port until the test ends.
func Start(t *testing.T, opts Options) *Relay {
	t.Helper()

	r := &Relay{username: opts.Username, password: opts.Password}

	srv := gosmtp.NewServer(r)
	srv.Domain = "localhost"
	srv.ReadTimeout = 5 * time.Second
	srv.WriteTimeout = 5 * time.Second
	srv.MaxMessageBytes = maxMessageSize

	if opts.CertPath != "" && opts.KeyPath != "" {
		cert, err := tls.LoadX509KeyPair(opts.CertPath, opts.KeyPath)
		if err != nil {
			t.Fatalf("load relay certificate: %v", err)
		}
		srv.TLSConfig = &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		}
	} else {
		srv.AllowInsecureAuth = true
	}

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go srv.Serve(l)
	t.Cleanup(func() { srv.Close() })

	r.Port = l.Addr().(*net.TCPAddr).Port
	return r
}

// Delivered returns a copy of every envelope accepted so far.
func (r *Relay) Delivered() []Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Envelope(nil), r.envelopes...)
}

func (r *Relay) store(e Envelope) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.envelopes = append(r.envelopes, e)
}

// Login implements gosmtp.Backend.
func (r *Relay) Login(_ *gosmtp.ConnectionState, username, password string) (gosmtp.Session, error) {
	if username != r.username || password != r.password {
		return nil, errors.New("invalid credentials")
	}
	return &session{relay: r}, nil
}

// AnonymousLogin implements gosmtp.Backend. Every session must authenticate.
func (r *Relay) AnonymousLogin(_ *gosmtp.ConnectionState) (gosmtp.Session, error) {
	return nil, gosmtp.ErrAuthUnsupported
}

type session struct {
	relay   *Relay
	current Envelope
}

func (s *session) Reset() { s.current = Envelope{} }

func (s *session) Logout() error { return nil }

func (s *session) Mail(from string, _ gosmtp.MailOptions) error {
	s.current.From = from
	return nil
}

func (s *session) Rcpt(to string) error {
	s.current.To = append(s.current.To, to)
	return nil
}

func (s *session) Data(r io.Reader) error {
	data, err := io.ReadAll(io.LimitReader(r, maxMessageSize))
	if err != nil {
		return err
	}
	s.current.Data = data
	s.relay.store(s.current)
	return nil
}
