// Package main is the entry point for the shoutbox command, which sends a
// single email through the configured transport.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/shineum/shoutbox-go/email"
	"github.com/shineum/shoutbox-go/internal/config"
	"github.com/shineum/shoutbox-go/internal/parser"
	"github.com/shineum/shoutbox-go/provider"
	"github.com/shineum/shoutbox-go/provider/api"
	"github.com/shineum/shoutbox-go/provider/metrics"
	"github.com/shineum/shoutbox-go/provider/ses"
	"github.com/shineum/shoutbox-go/provider/smtp"
	"github.com/shineum/shoutbox-go/provider/stdout"
)

// Exit codes.
const (
	exitOK       = 0
	exitDelivery = 1
	exitInvalid  = 2
)

// listFlag collects a repeatable string flag.
type listFlag []string

func (l *listFlag) String() string { return strings.Join(*l, ",") }

func (l *listFlag) Set(v string) error {
	*l = append(*l, v)
	return nil
}

// options holds the parsed command line.
type options struct {
	configPath string
	transport  string
	dryRun     bool

	to       listFlag
	from     string
	replyTo  string
	subject  string
	html     string
	htmlFile string
	attach   listFlag
	headers  listFlag
	eml      string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run executes the command and returns the process exit code.
func run(ctx context.Context, args []string, out, errOut io.Writer) int {
	opts, err := parseFlags(args, errOut)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitInvalid
	}

	// Load configuration
	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		fmt.Fprintf(errOut, "shoutbox: %v\n", err)
		return exitInvalid
	}
	if opts.transport != "" {
		cfg.Transport = strings.ToLower(opts.transport)
	}
	if opts.dryRun {
		cfg.Transport = config.TransportStdout
	}

	// Setup structured logging
	setupLogger(errOut, cfg.Logging.Level)

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		return exitInvalid
	}

	msg, err := buildMessage(opts, cfg.From)
	if err != nil {
		slog.Error("invalid message", "error", err)
		return exitInvalid
	}

	// Select email delivery provider
	prov, err := selectProvider(ctx, cfg, out)
	if err != nil {
		slog.Error("failed to create provider", "transport", cfg.Transport, "error", err)
		return exitInvalid
	}
	defer prov.Close()

	var reg *prometheus.Registry
	if cfg.Metrics.Textfile != "" {
		reg = prometheus.NewRegistry()
		collector, err := metrics.New(reg)
		if err != nil {
			slog.Error("failed to set up metrics", "error", err)
			return exitInvalid
		}
		prov = collector.Wrap(prov)
	}

	result, err := prov.Send(ctx, msg)
	if reg != nil {
		if werr := prometheus.WriteToTextfile(cfg.Metrics.Textfile, reg); werr != nil {
			slog.Warn("failed to write metrics textfile", "path", cfg.Metrics.Textfile, "error", werr)
		}
	}
	if err != nil {
		slog.Error("failed to send email", "provider", prov.Name(), "error", err)
		return exitCode(err)
	}

	slog.Info("email sent",
		"provider", result.Provider,
		"recipients", len(msg.To()),
		"status", result.StatusCode,
		"message_id", result.MessageID,
	)
	return exitOK
}

// exitCode maps a send error to the process exit code.
func exitCode(err error) int {
	var vErr *email.ValidationError
	if errors.As(err, &vErr) {
		return exitInvalid
	}
	return exitDelivery
}

func parseFlags(args []string, errOut io.Writer) (*options, error) {
	opts := &options{}

	fs := flag.NewFlagSet("shoutbox", flag.ContinueOnError)
	fs.SetOutput(errOut)
	fs.StringVar(&opts.configPath, "config", "", "path to YAML configuration file (optional)")
	fs.StringVar(&opts.transport, "transport", "", "delivery transport: api, smtp, ses or stdout")
	fs.BoolVar(&opts.dryRun, "dry-run", false, "print the message instead of sending it")
	fs.Var(&opts.to, "to", "recipient address (repeatable)")
	fs.StringVar(&opts.from, "from", "", "sender address")
	fs.StringVar(&opts.replyTo, "reply-to", "", "reply-to address")
	fs.StringVar(&opts.subject, "subject", "", "subject line")
	fs.StringVar(&opts.html, "html", "", "HTML body")
	fs.StringVar(&opts.htmlFile, "html-file", "", "read the HTML body from a file")
	fs.Var(&opts.attach, "attach", "file to attach (repeatable)")
	fs.Var(&opts.headers, "header", "custom header as Name=Value (repeatable)")
	fs.StringVar(&opts.eml, "eml", "", "send an existing RFC 5322 message file")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		err := fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
		fmt.Fprintf(errOut, "shoutbox: %v\n", err)
		return nil, err
	}
	return opts, nil
}

// loadConfig loads configuration from the specified path (YAML + env override)
// or from environment variables only if no path is given.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

// setupLogger configures the global slog logger with JSON output and the
// specified log level.
func setupLogger(w io.Writer, level string) {
	var logLevel slog.Level

	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))
}

// buildMessage assembles the message from an .eml file or from the message
// flags. defaultFrom fills in a missing sender in both cases.
func buildMessage(opts *options, defaultFrom string) (*email.Message, error) {
	if opts.eml != "" {
		if len(opts.to) > 0 || opts.from != "" || opts.replyTo != "" || opts.subject != "" ||
			opts.html != "" || opts.htmlFile != "" || len(opts.attach) > 0 || len(opts.headers) > 0 {
			return nil, errors.New("-eml cannot be combined with message flags")
		}
		raw, err := os.ReadFile(opts.eml)
		if err != nil {
			return nil, fmt.Errorf("failed to read message file: %w", err)
		}
		msg, err := parser.Parse(raw)
		if err != nil {
			return nil, err
		}
		if _, ok := msg.From(); ok || defaultFrom == "" {
			return msg, nil
		}
		draft := msg.Draft()
		draft.From = email.RawAddress(defaultFrom)
		return email.NewMessage(draft)
	}

	draft := email.Draft{
		To:      make([]email.Recipient, 0, len(opts.to)),
		Subject: opts.subject,
		HTML:    opts.html,
	}
	for _, to := range opts.to {
		draft.To = append(draft.To, email.RawAddress(to))
	}

	from := opts.from
	if from == "" {
		from = defaultFrom
	}
	if from != "" {
		draft.From = email.RawAddress(from)
	}
	if opts.replyTo != "" {
		draft.ReplyTo = email.RawAddress(opts.replyTo)
	}

	if opts.htmlFile != "" {
		if opts.html != "" {
			return nil, errors.New("-html and -html-file are mutually exclusive")
		}
		body, err := os.ReadFile(opts.htmlFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read HTML body: %w", err)
		}
		draft.HTML = string(body)
	}

	headers, err := parseHeaders(opts.headers)
	if err != nil {
		return nil, err
	}
	draft.Headers = headers

	for _, path := range opts.attach {
		att, err := loadAttachment(path)
		if err != nil {
			return nil, err
		}
		draft.Attachments = append(draft.Attachments, att)
	}

	return email.NewMessage(draft)
}

// parseHeaders splits Name=Value pairs. Later duplicates win.
func parseHeaders(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	headers := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		name, value, ok := strings.Cut(pair, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, &email.ValidationError{Field: "headers", Value: pair, Reason: "expected Name=Value"}
		}
		headers[name] = value
	}
	return headers, nil
}

// loadAttachment reads a file and guesses its content type from the
// extension.
func loadAttachment(path string) (email.Attachment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return email.Attachment{}, fmt.Errorf("failed to read attachment: %w", err)
	}
	return email.NewAttachment(filepath.Base(path), data, mime.TypeByExtension(filepath.Ext(path)))
}

// selectProvider builds the delivery backend named by cfg.Transport. The
// stdout provider writes to out.
func selectProvider(ctx context.Context, cfg *config.Config, out io.Writer) (provider.Provider, error) {
	switch cfg.Transport {
	case config.TransportAPI:
		slog.Debug("using API provider", "endpoint", cfg.API.Endpoint)
		return api.New(api.Config{
			APIKey:   cfg.APIKey,
			Endpoint: cfg.API.Endpoint,
			Timeout:  cfg.API.Timeout,
		})

	case config.TransportSMTP:
		mode, err := smtp.ParseTLSMode(cfg.SMTP.TLSMode)
		if err != nil {
			return nil, err
		}
		slog.Debug("using SMTP provider",
			"host", cfg.SMTP.Host,
			"port", cfg.SMTP.Port,
			"tls_mode", mode,
		)
		return smtp.New(smtp.Config{
			APIKey:      cfg.APIKey,
			Host:        cfg.SMTP.Host,
			Port:        cfg.SMTP.Port,
			TLSMode:     mode,
			Timeout:     cfg.SMTP.Timeout,
			LocalName:   cfg.SMTP.LocalName,
			DefaultFrom: cfg.From,
			CAFile:      cfg.SMTP.CAFile,
		})

	case config.TransportSES:
		slog.Debug("using AWS SES provider", "region", cfg.SES.Region)
		return ses.New(ctx, ses.Config{
			Region:          cfg.SES.Region,
			AccessKeyID:     cfg.SES.AccessKeyID,
			SecretAccessKey: cfg.SES.SecretAccessKey,
			DefaultFrom:     cfg.From,
		})

	case config.TransportStdout:
		return stdout.NewWithWriter(out), nil

	default:
		return nil, fmt.Errorf("unknown transport %q", cfg.Transport)
	}
}
