package tlsconf

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"

	"github.com/shineum/shoutbox-go/internal/smtptest"
)

func TestClientConfig_SystemRoots(t *testing.T) {
	t.Parallel()

	cfg, err := ClientConfig("smtp.example.com", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ServerName != "smtp.example.com" {
		t.Errorf("ServerName: got %q", cfg.ServerName)
	}
	if cfg.RootCAs != nil {
		t.Error("RootCAs should be nil when no CA file is given")
	}
	if cfg.MinVersion != tls.VersionTLS12 {
		t.Errorf("MinVersion: got %d, want TLS 1.2", cfg.MinVersion)
	}
}

func TestClientConfig_CAFile(t *testing.T) {
	t.Parallel()

	_, certPath := smtptest.GenerateTLSFiles(t)

	cfg, err := ClientConfig("127.0.0.1", certPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.RootCAs == nil {
		t.Fatal("RootCAs should be set")
	}

	data, err := os.ReadFile(certPath)
	if err != nil {
		t.Fatalf("read certificate: %v", err)
	}
	block, _ := pem.Decode(data)
	if block == nil {
		t.Fatal("certificate file holds no PEM block")
	}
	leaf, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		t.Fatalf("parse certificate: %v", err)
	}
	if _, err := leaf.Verify(x509.VerifyOptions{DNSName: cfg.ServerName, Roots: cfg.RootCAs}); err != nil {
		t.Errorf("certificate does not verify against the configured roots: %v", err)
	}
}

func TestClientConfig_BadCAFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	bogus := filepath.Join(dir, "bogus.pem")
	if err := os.WriteFile(bogus, []byte("not a certificate"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := ClientConfig("localhost", bogus); err == nil {
		t.Error("expected error for CA file without certificates")
	}

	if _, err := ClientConfig("localhost", filepath.Join(dir, "missing.pem")); err == nil {
		t.Error("expected error for missing CA file")
	}
}
