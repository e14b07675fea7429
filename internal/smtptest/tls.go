package smtptest

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/flashmob/go-guerrilla/tests/testcert"
)

const certHost = "127.0.0.1"

// GenerateTLSFiles writes a self-signed root certificate for 127.0.0.1 and
// its key into a temporary directory removed with the test. It returns the
// key and certificate paths.
func GenerateTLSFiles(t *testing.T) (keyPath, certPath string) {
	t.Helper()

	// testcert concatenates the prefix and host without a separator.
	dir := t.TempDir() + string(os.PathSeparator)
	err := testcert.GenerateCert(
		certHost,
		"", // valid from now
		time.Hour,
		true, // CA, so the certificate can be its own root
		2048,
		"", // RSA
		dir,
	)
	if err != nil {
		t.Fatalf("generate test certificate: %v", err)
	}

	return filepath.Join(dir, certHost+".key.pem"), filepath.Join(dir, certHost+".cert.pem")
}
