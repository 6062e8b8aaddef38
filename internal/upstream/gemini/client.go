// Package gemini adapts Google's Gemini API to the upstream.Generator
// contract.
package gemini

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"github.com/bobmcallan/sumqueue/internal/common"
	"github.com/bobmcallan/sumqueue/internal/upstream"
)

const DefaultModel = "gemini-3-flash-preview"

// Client implements upstream.Generator against the genai SDK.
type Client struct {
	client *genai.Client
	logger *common.Logger
}

// ClientOption configures the client.
type ClientOption func(*Client)

// WithLogger sets the logger.
func WithLogger(logger *common.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient creates a new Gemini client bound to one credential.
func NewClient(ctx context.Context, apiKey string, opts ...ClientOption) (*Client, error) {
	genaiClient, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	c := &Client{
		client: genaiClient,
		logger: common.NewSilentLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Close releases client resources. The genai client has none to release.
func (c *Client) Close() error {
	return nil
}

// Generate implements upstream.Generator. modelName selects the Gemini
// model per call, since the router may address several models sharing one
// credential.
func (c *Client) Generate(ctx context.Context, modelName, prompt string, maxTokens int) (string, error) {
	c.logger.Debug().Str("model", modelName).Int("max_tokens", maxTokens).Msg("Dispatching to Gemini")

	contents := genai.Text(prompt)
	config := &genai.GenerateContentConfig{
		MaxOutputTokens: int32(maxTokens),
	}

	result, err := c.client.Models.GenerateContent(ctx, modelName, contents, config)
	if err != nil {
		return "", upstream.NewError(statusFromErr(err), err.Error())
	}

	text, extractErr := extractTextFromResponse(result)
	if extractErr != nil {
		return "", upstream.NewError(0, "")
	}
	return text, nil
}

// extractTextFromResponse extracts text from a generate content response.
func extractTextFromResponse(result *genai.GenerateContentResponse) (string, error) {
	if len(result.Candidates) == 0 || result.Candidates[0].Content == nil || len(result.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("no content generated")
	}

	text := ""
	for _, part := range result.Candidates[0].Content.Parts {
		if part.Text != "" {
			text += part.Text
		}
	}
	if text == "" {
		return "", fmt.Errorf("empty content generated")
	}
	return text, nil
}

// statusFromErr extracts an HTTP-like status code from a genai APIError, if
// the SDK surfaces one; otherwise 0 and message-substring classification
// in upstream.Classify carries the load.
func statusFromErr(err error) int {
	type apiError interface {
		error
		Code() int
	}
	if ae, ok := err.(apiError); ok {
		return ae.Code()
	}
	return 0
}

var _ upstream.Generator = (*Client)(nil)
