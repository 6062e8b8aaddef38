// Package callback posts completed job results to the configured egress
// endpoint, authenticated with an HMAC signature over the request body.
package callback

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/bobmcallan/sumqueue/internal/common"
)

// Metadata accompanies a summary in the callback body.
type Metadata struct {
	ContentBlocks    int       `json:"contentBlocks"`
	TotalWords       int       `json:"totalWords"`
	MainContentWords int       `json:"mainContentWords"`
	ProcessingTimeMs int64     `json:"processingTimeMs"`
	ProcessedAt      time.Time `json:"processedAt"`
}

type payload struct {
	FileID   string   `json:"fileId"`
	Summary  string   `json:"summary"`
	Metadata Metadata `json:"metadata"`
}

// Client posts signed job-completion callbacks.
type Client struct {
	url        string
	secret     []byte
	httpClient *http.Client
	logger     *common.Logger
}

// New builds a callback Client. secret must be non-empty; callers are
// expected to have already rejected a default/empty secret at startup via
// Config.ValidateRequired.
func New(url string, secret string, timeout time.Duration, logger *common.Logger) *Client {
	return &Client{
		url:        url,
		secret:     []byte(secret),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// Send posts fileID/summary/metadata to the configured callback URL,
// signing the body with x-internal-auth: <timestamp_ms>.<hex_hmac>. A
// non-2xx response or transport error is returned to the caller, who
// treats it as a retryable CallbackFailed per spec §4.5.1.
func (c *Client) Send(ctx context.Context, fileID, summary string, meta Metadata) error {
	body, err := json.Marshal(payload{FileID: fileID, Summary: summary, Metadata: meta})
	if err != nil {
		return fmt.Errorf("marshal callback body: %w", err)
	}

	timestampMs := time.Now().UnixMilli()
	header := c.signHeader(timestampMs, body)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build callback request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-internal-auth", header)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("callback request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("callback returned status %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

// signHeader computes <timestamp_ms>.<hex_hmac> where
// hex_hmac = HMAC_SHA256(secret, timestamp_ms + "." + body).
func (c *Client) signHeader(timestampMs int64, body []byte) string {
	ts := strconv.FormatInt(timestampMs, 10)
	mac := hmac.New(sha256.New, c.secret)
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(body)
	sig := hex.EncodeToString(mac.Sum(nil))
	return ts + "." + sig
}
