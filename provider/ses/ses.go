// Package ses implements a Provider that relays the MIME rendering of a
// message through AWS SES v2.
package ses

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/credentials"
	sesv2 "github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/shineum/shoutbox-go/email"
	"github.com/shineum/shoutbox-go/provider"
)

// Config holds the configuration for creating a Provider.
type Config struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	// DefaultFrom is used when a message has no sender.
	DefaultFrom string
}

// SendEmailAPI is the interface for the SES v2 SendEmail operation.
// Used for testing with mock implementations.
type SendEmailAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// Provider sends messages via the SES v2 raw send API. The SDK's own retryer
// is limited to a single attempt.
type Provider struct {
	defaultFrom email.Address
	client      SendEmailAPI
}

var _ provider.Provider = (*Provider)(nil)

// New creates a Provider. Static credentials are used when both keys are set;
// otherwise the default AWS credential chain applies.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	var opts []func(*awsconfig.LoadOptions) error

	opts = append(opts,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithRetryMaxAttempts(1),
	)

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return NewWithClient(cfg.DefaultFrom, sesv2.NewFromConfig(awsCfg))
}

// NewWithClient creates a Provider with a custom client, used for testing.
func NewWithClient(defaultFrom string, client SendEmailAPI) (*Provider, error) {
	p := &Provider{client: client}
	if defaultFrom != "" {
		addr, err := email.ParseAddress(defaultFrom)
		if err != nil {
			return nil, fmt.Errorf("invalid default sender: %w", err)
		}
		p.defaultFrom = addr
	}
	return p, nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "ses"
}

// Send builds the raw MIME message and submits it once. AWS HTTP error
// responses become *provider.APIError; other failures *provider.TransportError.
func (p *Provider) Send(ctx context.Context, msg *email.Message) (*provider.Result, error) {
	sender, ok := msg.From()
	if !ok {
		sender = p.defaultFrom
	}
	if sender.IsZero() {
		return nil, &email.ValidationError{
			Field:  "from",
			Reason: "message has no sender and no default sender is configured",
		}
	}

	raw, err := msg.MIME(sender.MIMEString())
	if err != nil {
		return nil, fmt.Errorf("failed to build raw message: %w", err)
	}

	to := msg.To()
	dest := make([]string, 0, len(to))
	for _, addr := range to {
		dest = append(dest, addr.Email())
	}

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(sender.Email()),
		Destination:      &types.Destination{ToAddresses: dest},
		Content: &types.EmailContent{
			Raw: &types.RawMessage{Data: raw},
		},
	}

	slog.Debug("sending message via SES", "recipients", len(dest), "size", len(raw))

	out, err := p.client.SendEmail(ctx, input)
	if err != nil {
		var respErr *awshttp.ResponseError
		if errors.As(err, &respErr) {
			return nil, &provider.APIError{
				Provider:   p.Name(),
				StatusCode: respErr.HTTPStatusCode(),
				Body:       respErr.Err.Error(),
			}
		}
		return nil, &provider.TransportError{Provider: p.Name(), Op: "SendEmail", Err: err}
	}

	result := &provider.Result{Provider: p.Name()}
	if out != nil && out.MessageId != nil {
		result.MessageID = *out.MessageId
	}
	return result, nil
}

// Close is a no-op; the SDK client holds no per-provider resources.
func (p *Provider) Close() error {
	return nil
}
