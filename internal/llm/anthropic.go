package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/StarterNode/NITYA-V1.2-sub000/internal/domain"
)

const (
	defaultBaseURL   = "https://api.anthropic.com/v1/messages"
	anthropicVersion = "2023-06-01"

	// defaultHTTPTimeout bounds a single completion request. Tool-heavy turns
	// make several of these calls, so the gateway deadline is longer.
	defaultHTTPTimeout = 120 * time.Second
)

// UpstreamError is a non-2xx reply from the completion API. The call that
// produced it is never retried; decorators and handlers inspect StatusCode
// to decide what to do next (rotate a key, map to a gateway status).
type UpstreamError struct {
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("anthropic status %d: %s", e.StatusCode, e.Body)
}

// IsRateLimit reports whether the upstream rejected the call for quota reasons.
func (e *UpstreamError) IsRateLimit() bool {
	return e.StatusCode == http.StatusTooManyRequests
}

// completionRequest is the Messages API request envelope.
type completionRequest struct {
	Model     string                  `json:"model"`
	MaxTokens int                     `json:"max_tokens"`
	System    string                  `json:"system,omitempty"`
	Messages  []domain.Message        `json:"messages"`
	Tools     []domain.ToolDefinition `json:"tools,omitempty"`
}

// AnthropicClient calls the Anthropic Messages API. One Complete call is
// exactly one HTTP request; key rotation lives in PooledClient and only the
// startup probe retries.
type AnthropicClient struct {
	apiKey      string
	model       string
	maxTokens   int
	client      *http.Client
	version     string
	baseURL     string
	marshalFunc func(v interface{}) ([]byte, error) // for testing
}

// NewAnthropicClient returns a client for the given model. maxTokens caps the
// assistant reply per completion call.
func NewAnthropicClient(apiKey, model string, maxTokens int) *AnthropicClient {
	return &AnthropicClient{
		apiKey:      apiKey,
		model:       model,
		maxTokens:   maxTokens,
		client:      &http.Client{Timeout: defaultHTTPTimeout},
		version:     anthropicVersion,
		baseURL:     defaultBaseURL,
		marshalFunc: json.Marshal,
	}
}

// Complete implements domain.CompletionClient. It sends the conversation
// upstream and returns the decoded reply with the verbatim body attached.
func (c *AnthropicClient) Complete(ctx context.Context, messages []domain.Message, system string, tools []domain.ToolDefinition) (*domain.CompletionResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	body := completionRequest{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		System:    system,
		Messages:  messages,
		Tools:     tools,
	}
	raw, err := c.marshalFunc(body)
	if err != nil {
		return nil, fmt.Errorf("anthropic marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("anthropic request: %w", err)
	}
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", c.version)
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("anthropic do: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("anthropic read: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &UpstreamError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(payload))}
	}

	var out domain.CompletionResponse
	if err := json.Unmarshal(payload, &out); err != nil {
		return nil, fmt.Errorf("anthropic decode: %w", err)
	}
	out.Raw = payload
	return &out, nil
}

var _ domain.CompletionClient = (*AnthropicClient)(nil)
