// Package smtp implements a Provider that submits email to a relay over SMTP,
// authenticating with the Shoutbox API key.
package smtp

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-sasl"
	gosmtp "github.com/emersion/go-smtp"

	"github.com/shineum/shoutbox-go/email"
	"github.com/shineum/shoutbox-go/internal/tlsconf"
	"github.com/shineum/shoutbox-go/provider"
)

// Relay defaults.
const (
	DefaultHost    = "smtp.shoutbox.net"
	DefaultPort    = 587
	DefaultTimeout = 30 * time.Second
)

// TLSMode selects how the session is encrypted.
type TLSMode string

const (
	// TLSStartTLS upgrades a plain connection with STARTTLS. It is the default.
	TLSStartTLS TLSMode = "starttls"
	// TLSImplicit performs the TLS handshake immediately after connecting.
	TLSImplicit TLSMode = "implicit"
	// TLSNone sends everything in clear text.
	TLSNone TLSMode = "none"
)

// ParseTLSMode parses s, treating "" as TLSStartTLS.
func ParseTLSMode(s string) (TLSMode, error) {
	switch TLSMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", TLSStartTLS:
		return TLSStartTLS, nil
	case TLSImplicit:
		return TLSImplicit, nil
	case TLSNone:
		return TLSNone, nil
	}
	return "", fmt.Errorf("unknown TLS mode %q (want starttls, implicit or none)", s)
}

// Config holds the configuration for creating a Client. Zero values select
// the relay defaults.
type Config struct {
	// APIKey falls back to provider.APIKeyEnv when empty. It is used as
	// both the SMTP username and password.
	APIKey  string
	Host    string
	Port    int
	TLSMode TLSMode
	Timeout time.Duration
	// LocalName is sent with EHLO.
	LocalName string
	// DefaultFrom is used when a message has no sender.
	DefaultFrom string
	// CAFile replaces the system roots when verifying the relay.
	CAFile string
	// TLSConfig overrides the configuration built from Host and CAFile.
	TLSConfig *tls.Config
}

// session is the subset of *gosmtp.Client used for one delivery.
type session interface {
	Hello(localName string) error
	Extension(ext string) (bool, string)
	StartTLS(config *tls.Config) error
	Auth(a sasl.Client) error
	Mail(from string, opts *gosmtp.MailOptions) error
	Rcpt(to string) error
	Data() (io.WriteCloser, error)
	Quit() error
	Close() error
}

// Client sends messages by opening one SMTP session per Send. A Client may
// be reused for sequential sends.
type Client struct {
	apiKey      string
	host        string
	port        int
	tlsMode     TLSMode
	timeout     time.Duration
	localName   string
	defaultFrom email.Address
	tlsConfig   *tls.Config

	dial func(ctx context.Context) (session, error)
}

var _ provider.Provider = (*Client)(nil)

// New creates a Client. It fails if no API key can be resolved or the
// configuration is invalid.
func New(cfg Config) (*Client, error) {
	key, err := provider.ResolveAPIKey(cfg.APIKey)
	if err != nil {
		return nil, err
	}

	mode, err := ParseTLSMode(string(cfg.TLSMode))
	if err != nil {
		return nil, err
	}

	c := &Client{
		apiKey:    key,
		host:      cfg.Host,
		port:      cfg.Port,
		tlsMode:   mode,
		timeout:   cfg.Timeout,
		localName: cfg.LocalName,
	}
	if c.host == "" {
		c.host = DefaultHost
	}
	if c.port == 0 {
		c.port = DefaultPort
	}
	if c.port < 0 || c.port > 65535 {
		return nil, fmt.Errorf("invalid SMTP port %d", c.port)
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	if c.localName == "" {
		c.localName = "localhost"
	}

	if cfg.DefaultFrom != "" {
		if c.defaultFrom, err = email.ParseAddress(cfg.DefaultFrom); err != nil {
			return nil, fmt.Errorf("invalid default sender: %w", err)
		}
	}

	if cfg.TLSConfig != nil {
		c.tlsConfig = cfg.TLSConfig.Clone()
		if c.tlsConfig.ServerName == "" {
			c.tlsConfig.ServerName = c.host
		}
	} else if c.tlsConfig, err = tlsconf.ClientConfig(c.host, cfg.CAFile); err != nil {
		return nil, err
	}

	c.dial = c.connect
	return c, nil
}

// APIKey returns the resolved API key.
func (c *Client) APIKey() string { return c.apiKey }

// Addr returns the relay address as host:port.
func (c *Client) Addr() string { return net.JoinHostPort(c.host, strconv.Itoa(c.port)) }

// TLSMode returns the configured encryption mode.
func (c *Client) TLSMode() TLSMode { return c.tlsMode }

// Timeout returns the session timeout.
func (c *Client) Timeout() time.Duration { return c.timeout }

// Name returns the provider name.
func (c *Client) Name() string {
	return "smtp"
}

// Send renders msg as MIME and transmits it in a fresh session. The session
// is closed on every path. Failures after the message is rendered are
// returned as *provider.TransportError.
func (c *Client) Send(ctx context.Context, msg *email.Message) (*provider.Result, error) {
	sender, ok := msg.From()
	if !ok {
		sender = c.defaultFrom
	}
	if sender.IsZero() {
		return nil, &email.ValidationError{
			Field:  "from",
			Reason: "message has no sender and no default sender is configured",
		}
	}

	defaultFrom := ""
	if !c.defaultFrom.IsZero() {
		defaultFrom = c.defaultFrom.MIMEString()
	}
	raw, err := msg.MIME(defaultFrom)
	if err != nil {
		return nil, fmt.Errorf("failed to build MIME message: %w", err)
	}

	slog.Debug("sending message via SMTP",
		"addr", c.Addr(),
		"tls_mode", c.tlsMode,
		"recipients", len(msg.To()),
		"size", len(raw),
	)

	sess, err := c.dial(ctx)
	if err != nil {
		return nil, &provider.TransportError{Provider: c.Name(), Op: "connect", Err: err}
	}
	defer sess.Close()

	if err := c.deliver(sess, sender.Email(), msg.To(), raw); err != nil {
		return nil, err
	}

	return &provider.Result{Provider: c.Name()}, nil
}

// deliver runs the command sequence on an open session.
func (c *Client) deliver(sess session, from string, to []email.Address, raw []byte) error {
	fail := func(op string, err error) error {
		return &provider.TransportError{Provider: c.Name(), Op: op, Err: err}
	}

	if err := sess.Hello(c.localName); err != nil {
		return fail("hello", err)
	}

	if c.tlsMode == TLSStartTLS {
		if ok, _ := sess.Extension("STARTTLS"); !ok {
			return fail("starttls", fmt.Errorf("server %s does not support STARTTLS", c.Addr()))
		}
		if err := sess.StartTLS(c.tlsConfig); err != nil {
			return fail("starttls", err)
		}
	}

	if err := sess.Auth(sasl.NewPlainClient("", c.apiKey, c.apiKey)); err != nil {
		return fail("auth", err)
	}

	if err := sess.Mail(from, nil); err != nil {
		return fail("mail from", err)
	}
	for _, rcpt := range to {
		if err := sess.Rcpt(rcpt.Email()); err != nil {
			return fail("rcpt to", fmt.Errorf("%s: %w", rcpt.Email(), err))
		}
	}

	w, err := sess.Data()
	if err != nil {
		return fail("data", err)
	}
	if _, err := w.Write(raw); err != nil {
		w.Close()
		return fail("data", err)
	}
	if err := w.Close(); err != nil {
		return fail("data", err)
	}

	if err := sess.Quit(); err != nil {
		slog.Debug("SMTP QUIT failed after successful delivery", "error", err)
	}
	return nil
}

// connect dials the relay, performing the TLS handshake first in implicit
// mode. The whole session is bounded by the client timeout and ctx.
func (c *Client) connect(ctx context.Context) (session, error) {
	dialer := &net.Dialer{Timeout: c.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.Addr())
	if err != nil {
		return nil, err
	}

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		conn.Close()
		return nil, err
	}

	if c.tlsMode == TLSImplicit {
		tlsConn := tls.Client(conn, c.tlsConfig)
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			conn.Close()
			return nil, fmt.Errorf("TLS handshake failed: %w", err)
		}
		conn = tlsConn
	}

	client, err := gosmtp.NewClient(conn, c.host)
	if err != nil {
		conn.Close()
		return nil, err
	}

	return &boundSession{Client: client, stop: context.AfterFunc(ctx, func() { conn.Close() })}, nil
}

// Close is a no-op; sessions are opened and closed within Send.
func (c *Client) Close() error {
	return nil
}

// boundSession closes the connection if its context is cancelled mid-session.
type boundSession struct {
	*gosmtp.Client
	stop func() bool
}

func (s *boundSession) Close() error {
	s.stop()
	return s.Client.Close()
}
