// Package config provides environment-variable-first configuration loading
// with optional YAML file fallback for the shoutbox command.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/shineum/shoutbox-go/email"
)

// Transports understood by the command.
const (
	TransportAPI    = "api"
	TransportSMTP   = "smtp"
	TransportSES    = "ses"
	TransportStdout = "stdout"
)

const (
	defaultEndpoint = "https://api.shoutbox.net/send"
	defaultHost     = "smtp.shoutbox.net"
	defaultPort     = 587
	defaultTLSMode  = "starttls"
	defaultTimeout  = 30 * time.Second
)

// Config holds the complete application configuration.
type Config struct {
	Transport string        `yaml:"transport"`
	APIKey    string        `yaml:"api_key"`
	From      string        `yaml:"from"`
	API       APIConfig     `yaml:"api"`
	SMTP      SMTPConfig    `yaml:"smtp"`
	SES       SESConfig     `yaml:"ses"`
	Metrics   MetricsConfig `yaml:"metrics"`
	Logging   LoggingConfig `yaml:"logging"`
}

// APIConfig holds the REST endpoint configuration.
type APIConfig struct {
	Endpoint string        `yaml:"endpoint"`
	Timeout  time.Duration `yaml:"timeout"`
}

// SMTPConfig holds the relay configuration.
type SMTPConfig struct {
	Host      string        `yaml:"host"`
	Port      int           `yaml:"port"`
	TLSMode   string        `yaml:"tls_mode"`
	Timeout   time.Duration `yaml:"timeout"`
	LocalName string        `yaml:"local_name"`
	CAFile    string        `yaml:"ca_file"`
}

// SESConfig holds AWS SES configuration. Empty keys select the default
// AWS credential chain.
type SESConfig struct {
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

// MetricsConfig holds metrics output configuration.
type MetricsConfig struct {
	// Textfile, when set, receives the send metrics in Prometheus text
	// format after each run.
	Textfile string `yaml:"textfile"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Load loads configuration from environment variables with sensible defaults.
// Environment variables always take precedence.
func Load() (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()
	cfg.applyEnvVars()
	return cfg, nil
}

// LoadFromFile loads configuration from a YAML file as the base layer,
// then overrides with environment variables. Returns an error if the
// specified file path does not exist.
func LoadFromFile(path string) (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Environment variables always override YAML values
	cfg.applyEnvVars()

	return cfg, nil
}

// SESConfigured returns true if a region is set.
func (c *Config) SESConfigured() bool {
	return c.SES.Region != ""
}

// Validate reports every problem that would stop the selected transport
// from being built.
func (c *Config) Validate() error {
	var errs []error

	switch c.Transport {
	case TransportAPI, TransportSMTP:
		if c.APIKey == "" {
			errs = append(errs, fmt.Errorf("transport %q requires an API key (SHOUTBOX_API_KEY)", c.Transport))
		}
	case TransportSES:
		if !c.SESConfigured() {
			errs = append(errs, errors.New("transport \"ses\" requires SES_REGION"))
		}
	case TransportStdout:
	default:
		errs = append(errs, fmt.Errorf("unknown transport %q", c.Transport))
	}

	switch strings.ToLower(c.SMTP.TLSMode) {
	case "", "starttls", "implicit", "none":
	default:
		errs = append(errs, fmt.Errorf("unknown smtp tls_mode %q", c.SMTP.TLSMode))
	}
	if c.SMTP.Port < 0 || c.SMTP.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid smtp port %d", c.SMTP.Port))
	}

	if c.From != "" {
		if _, err := email.ParseAddress(c.From); err != nil {
			errs = append(errs, fmt.Errorf("invalid from address: %w", err))
		}
	}

	return errors.Join(errs...)
}

// applyDefaults sets sensible default values for all configuration fields.
func (c *Config) applyDefaults() {
	c.Transport = TransportAPI
	c.API.Endpoint = defaultEndpoint
	c.API.Timeout = defaultTimeout
	c.SMTP.Host = defaultHost
	c.SMTP.Port = defaultPort
	c.SMTP.TLSMode = defaultTLSMode
	c.SMTP.Timeout = defaultTimeout
	c.SMTP.LocalName = "localhost"
	c.Logging.Level = "info"
}

// applyEnvVars overrides configuration with environment variable values.
// Only non-empty environment variables override existing values; numbers
// and durations that fail to parse are ignored.
func (c *Config) applyEnvVars() {
	if v := os.Getenv("SHOUTBOX_TRANSPORT"); v != "" {
		c.Transport = strings.ToLower(v)
	}
	if v := os.Getenv("SHOUTBOX_API_KEY"); v != "" {
		c.APIKey = v
	}
	if v := os.Getenv("SHOUTBOX_FROM"); v != "" {
		c.From = v
	}

	if v := os.Getenv("SHOUTBOX_API_ENDPOINT"); v != "" {
		c.API.Endpoint = v
	}
	if v := os.Getenv("SHOUTBOX_API_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.API.Timeout = d
		}
	}

	if v := os.Getenv("SHOUTBOX_SMTP_HOST"); v != "" {
		c.SMTP.Host = v
	}
	if v := os.Getenv("SHOUTBOX_SMTP_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.SMTP.Port = port
		}
	}
	if v := os.Getenv("SHOUTBOX_SMTP_TLS_MODE"); v != "" {
		c.SMTP.TLSMode = strings.ToLower(v)
	}
	if v := os.Getenv("SHOUTBOX_SMTP_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.SMTP.Timeout = d
		}
	}
	if v := os.Getenv("SHOUTBOX_SMTP_CA_FILE"); v != "" {
		c.SMTP.CAFile = v
	}

	if v := os.Getenv("SES_REGION"); v != "" {
		c.SES.Region = v
	}
	if v := os.Getenv("SES_ACCESS_KEY_ID"); v != "" {
		c.SES.AccessKeyID = v
	}
	if v := os.Getenv("SES_SECRET_ACCESS_KEY"); v != "" {
		c.SES.SecretAccessKey = v
	}

	if v := os.Getenv("SHOUTBOX_METRICS_TEXTFILE"); v != "" {
		c.Metrics.Textfile = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
}
