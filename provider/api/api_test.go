package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shineum/shoutbox-go/email"
	"github.com/shineum/shoutbox-go/provider"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func newTestMessage(t *testing.T, draft email.Draft) *email.Message {
	t.Helper()
	if draft.To == nil {
		draft.To = email.Addresses("recipient@example.com")
	}
	if draft.From == nil {
		draft.From = email.RawAddress("sender@example.com")
	}
	if draft.Subject == "" {
		draft.Subject = "Test Email"
	}
	if draft.HTML == "" {
		draft.HTML = "<h1>Test</h1>"
	}
	msg, err := email.NewMessage(draft)
	if err != nil {
		t.Fatalf("NewMessage: %v", err)
	}
	return msg
}

func TestNew_APIKey(t *testing.T) {
	t.Setenv(provider.APIKeyEnv, "")

	c, err := New(Config{APIKey: "test-key"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.APIKey() != "test-key" {
		t.Errorf("APIKey: got %q, want %q", c.APIKey(), "test-key")
	}
	if c.Endpoint() != DefaultEndpoint {
		t.Errorf("Endpoint: got %q, want %q", c.Endpoint(), DefaultEndpoint)
	}

	t.Setenv(provider.APIKeyEnv, "env-key")
	c, err = New(Config{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.APIKey() != "env-key" {
		t.Errorf("APIKey from env: got %q, want %q", c.APIKey(), "env-key")
	}

	t.Setenv(provider.APIKeyEnv, "")
	if _, err := New(Config{}); !errors.Is(err, provider.ErrMissingAPIKey) {
		t.Errorf("missing key: got %v, want ErrMissingAPIKey", err)
	}
}

func TestSend_Success(t *testing.T) {
	t.Parallel()

	att, _ := email.NewAttachment("test.txt", []byte("test content"), "text/plain")
	msg := newTestMessage(t, email.Draft{
		Headers:     map[string]string{"X-Custom": "test"},
		Attachments: []email.Attachment{att},
	})

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)

		if r.Method != http.MethodPost {
			t.Errorf("method: got %s, want POST", r.Method)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Authorization: got %q, want %q", got, "Bearer test-key")
		}
		if got := r.Header.Get("Content-Type"); got != "application/json" {
			t.Errorf("Content-Type: got %q, want %q", got, "application/json")
		}

		body, _ := io.ReadAll(r.Body)
		want, _ := json.Marshal(msg.APIPayload())
		if string(body) != string(want) {
			t.Errorf("body:\n got %s\nwant %s", body, want)
		}

		var decoded map[string]any
		if err := json.Unmarshal(body, &decoded); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if _, ok := decoded["attachments"]; !ok {
			t.Error("attachments missing from request body")
		}
		if h, _ := decoded["headers"].(map[string]any); h["X-Custom"] != "test" {
			t.Errorf("headers: got %v", decoded["headers"])
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"success","id":"msg-123"}`))
	}))
	defer server.Close()

	c, err := New(Config{APIKey: "test-key", Endpoint: server.URL})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	result, err := c.Send(context.Background(), msg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Body["status"] != "success" {
		t.Errorf("Body[status]: got %v, want success", result.Body["status"])
	}
	if result.MessageID != "msg-123" {
		t.Errorf("MessageID: got %q, want %q", result.MessageID, "msg-123")
	}
	if result.StatusCode != http.StatusOK {
		t.Errorf("StatusCode: got %d, want 200", result.StatusCode)
	}
	if calls.Load() != 1 {
		t.Errorf("calls: got %d, want 1", calls.Load())
	}
}

func TestSend_NonJSONSuccess(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		w.Write([]byte("queued"))
	}))
	defer server.Close()

	c, _ := New(Config{APIKey: "test-key", Endpoint: server.URL})
	result, err := c.Send(context.Background(), newTestMessage(t, email.Draft{}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Body != nil {
		t.Errorf("Body: got %v, want nil", result.Body)
	}
	if string(result.Raw) != "queued" {
		t.Errorf("Raw: got %q, want %q", result.Raw, "queued")
	}
}

func TestSend_APIError(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte("Bad Request"))
	}))
	defer server.Close()

	c, _ := New(Config{APIKey: "test-key", Endpoint: server.URL})
	_, err := c.Send(context.Background(), newTestMessage(t, email.Draft{}))

	var apiErr *provider.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *provider.APIError, got %T: %v", err, err)
	}
	if apiErr.StatusCode != http.StatusBadRequest {
		t.Errorf("StatusCode: got %d, want 400", apiErr.StatusCode)
	}
	if apiErr.Body != "Bad Request" {
		t.Errorf("Body: got %q, want %q", apiErr.Body, "Bad Request")
	}
	if !errors.Is(err, provider.ErrDelivery) {
		t.Error("expected errors.Is(err, provider.ErrDelivery)")
	}
	if calls.Load() != 1 {
		t.Errorf("calls: got %d, want exactly 1 attempt", calls.Load())
	}
}

func TestSend_TransportError(t *testing.T) {
	t.Parallel()

	cause := errors.New("Connection failed")
	c, _ := New(Config{
		APIKey: "test-key",
		HTTPClient: &http.Client{Transport: roundTripFunc(func(*http.Request) (*http.Response, error) {
			return nil, cause
		})},
	})

	_, err := c.Send(context.Background(), newTestMessage(t, email.Draft{}))

	var tErr *provider.TransportError
	if !errors.As(err, &tErr) {
		t.Fatalf("expected *provider.TransportError, got %T: %v", err, err)
	}
	if !errors.Is(err, cause) {
		t.Error("expected the cause to be preserved")
	}
	if !errors.Is(err, provider.ErrDelivery) {
		t.Error("expected errors.Is(err, provider.ErrDelivery)")
	}
}

func TestSend_Timeout(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	c, _ := New(Config{APIKey: "test-key", Endpoint: server.URL, Timeout: 50 * time.Millisecond})
	_, err := c.Send(context.Background(), newTestMessage(t, email.Draft{}))

	var tErr *provider.TransportError
	if !errors.As(err, &tErr) {
		t.Fatalf("expected *provider.TransportError, got %T: %v", err, err)
	}
}

func TestClose_ClientReusable(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"success"}`))
	}))
	defer server.Close()

	c, _ := New(Config{APIKey: "test-key", Endpoint: server.URL})
	msg := newTestMessage(t, email.Draft{})

	func() {
		defer c.Close()
		if _, err := c.Send(context.Background(), msg); err != nil {
			t.Fatalf("first send: %v", err)
		}
	}()

	if err := c.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if _, err := c.Send(context.Background(), msg); err != nil {
		t.Errorf("send after Close: %v", err)
	}
	if c.Name() != "api" {
		t.Errorf("Name(): got %q, want %q", c.Name(), "api")
	}
}
