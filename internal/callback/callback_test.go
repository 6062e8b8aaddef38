package callback

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"
)

func TestSend_SignsHeaderVerifiableByRecomputation(t *testing.T) {
	const secret = "test-secret"

	var capturedHeader string
	var capturedBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		capturedHeader = r.Header.Get("x-internal-auth")
		capturedBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(srv.URL, secret, 5*time.Second, nil)
	err := c.Send(context.Background(), "file-1", "S", Metadata{TotalWords: 10})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	parts := strings.SplitN(capturedHeader, ".", 2)
	if len(parts) != 2 {
		t.Fatalf("expected header format <ts>.<hmac>, got %q", capturedHeader)
	}
	ts := parts[0]
	if _, err := strconv.ParseInt(ts, 10, 64); err != nil {
		t.Fatalf("expected numeric timestamp prefix, got %q", ts)
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(capturedBody)
	expected := hex.EncodeToString(mac.Sum(nil))
	if parts[1] != expected {
		t.Errorf("hmac mismatch: got %s, want %s", parts[1], expected)
	}

	var body map[string]interface{}
	if err := json.Unmarshal(capturedBody, &body); err != nil {
		t.Fatalf("unmarshal captured body: %v", err)
	}
	if body["fileId"] != "file-1" {
		t.Errorf("expected fileId file-1, got %v", body["fileId"])
	}
}

func TestSend_NonSuccessStatusReturnsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("boom"))
	}))
	defer srv.Close()

	c := New(srv.URL, "secret", 5*time.Second, nil)
	err := c.Send(context.Background(), "file-1", "S", Metadata{})
	if err == nil {
		t.Fatal("expected error on 500 response")
	}
}

func TestSend_DifferentSecretsProduceDifferentSignatures(t *testing.T) {
	c1 := New("http://example.invalid", "secret-a", time.Second, nil)
	c2 := New("http://example.invalid", "secret-b", time.Second, nil)

	body := []byte(`{"fileId":"f"}`)
	h1 := c1.signHeader(1000, body)
	h2 := c2.signHeader(1000, body)
	if h1 == h2 {
		t.Fatal("expected different secrets to produce different signatures")
	}
}
