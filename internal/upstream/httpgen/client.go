// Package httpgen is a generic REST adapter for OpenAI-compatible
// (prompt-style) completion endpoints, for providers without a dedicated SDK in the
// dependency graph.
package httpgen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/bobmcallan/sumqueue/internal/common"
	"github.com/bobmcallan/sumqueue/internal/upstream"
)

const (
	DefaultTimeout   = 30 * time.Second
	DefaultRateLimit = 10 // requests per second, transport-level safety net
)

// Client implements upstream.Generator against a bearer-token JSON REST
// completions endpoint.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *common.Logger
	limiter    *rate.Limiter
}

// ClientOption configures the client.
type ClientOption func(*Client)

// WithBaseURL sets the completions endpoint base URL.
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		c.baseURL = baseURL
	}
}

// WithLogger sets the logger.
func WithLogger(logger *common.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithRateLimit sets the transport-level requests-per-second cap. This is
// a local safety net only; durable quota enforcement lives in ratelimit.
func WithRateLimit(requestsPerSecond int) ClientOption {
	return func(c *Client) {
		c.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond)
	}
}

// WithTimeout sets the HTTP timeout.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// NewClient creates a new generic HTTP completions client bound to one
// credential.
func NewClient(baseURL, apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		limiter: rate.NewLimiter(rate.Limit(DefaultRateLimit), DefaultRateLimit),
		logger:  common.NewSilentLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type completionRequest struct {
	Model     string `json:"model"`
	Prompt    string `json:"prompt"`
	MaxTokens int    `json:"max_tokens"`
}

type completionChoice struct {
	Text string `json:"text"`
}

type completionResponse struct {
	Choices []completionChoice `json:"choices"`
}

type apiErrorBody struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Generate implements upstream.Generator.
func (c *Client) Generate(ctx context.Context, modelName, prompt string, maxTokens int) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", upstream.NewError(0, fmt.Sprintf("rate limit wait: %s", err))
	}

	c.logger.Debug().Str("model", modelName).Int("max_tokens", maxTokens).Msg("Dispatching to generic completions endpoint")

	body, err := json.Marshal(completionRequest{
		Model:     modelName,
		Prompt:    prompt,
		MaxTokens: maxTokens,
	})
	if err != nil {
		return "", upstream.NewError(0, fmt.Sprintf("marshal request: %s", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/completions", bytes.NewReader(body))
	if err != nil {
		return "", upstream.NewError(0, fmt.Sprintf("build request: %s", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", upstream.NewError(0, err.Error())
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", upstream.NewError(resp.StatusCode, fmt.Sprintf("read response: %s", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr apiErrorBody
		message := string(respBody)
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error.Message != "" {
			message = apiErr.Error.Message
		}
		return "", upstream.NewError(resp.StatusCode, message)
	}

	var parsed completionResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", upstream.NewError(resp.StatusCode, fmt.Sprintf("unmarshal response: %s", err))
	}
	if len(parsed.Choices) == 0 || parsed.Choices[0].Text == "" {
		return "", upstream.NewError(resp.StatusCode, "")
	}

	return parsed.Choices[0].Text, nil
}

var _ upstream.Generator = (*Client)(nil)
