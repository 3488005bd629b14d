package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"persona-relay/internal/domain"
)

const (
	defaultBaseURL = "https://openrouter.ai/api/v1"
	defaultModel   = "qwen/qwen-1.5-1.8b-chat"
	defaultTimeout = 30 * time.Second
)

// chatRequest is the minimal request shape for the Chat Completions endpoint.
type chatRequest struct {
	Model    string               `json:"model"`
	Messages []domain.ChatMessage `json:"messages"`
}

// chatResponse is the minimal response shape returned by the Chat Completions endpoint.
type chatResponse struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	Choices []struct {
		Index   int                `json:"index"`
		Message domain.ChatMessage `json:"message"`
	} `json:"choices"`
}

// errorEnvelope is the error body OpenAI-compatible providers return on non-2xx.
type errorEnvelope struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Client is a focused OpenAI-compatible client for chat completions. It
// performs exactly one attempt per call and is safe for concurrent use.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	referer    string
	title      string
	httpClient *http.Client
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimSpace(baseURL)
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

func WithModel(model string) Option {
	return func(c *Client) {
		if m := strings.TrimSpace(model); m != "" {
			c.model = m
		}
	}
}

// WithTimeout bounds each completion request, including reading the body.
// It applies to a copy of the current HTTP client, so a transport set by
// WithHTTPClient is kept whatever the option order.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d <= 0 {
			return
		}
		hc := http.Client{}
		if c.httpClient != nil {
			hc = *c.httpClient
		}
		hc.Timeout = d
		c.httpClient = &hc
	}
}

// WithAttribution sets the HTTP-Referer and X-Title headers OpenRouter uses
// to attribute traffic to an app.
func WithAttribution(referer, title string) Option {
	return func(c *Client) {
		c.referer = strings.TrimSpace(referer)
		c.title = strings.TrimSpace(title)
	}
}

// NewClient creates a Client authorised with the given bearer token.
func NewClient(apiKey string, opts ...Option) (*Client, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("openai: api key must not be empty")
	}
	c := &Client{
		baseURL:    defaultBaseURL,
		apiKey:     apiKey,
		model:      defaultModel,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Model returns the model identifier sent with every request.
func (c *Client) Model() string {
	return c.model
}

// resolvedHTTPClient returns the configured HTTP client, or a default with a 30s
// timeout if none was set (e.g. in tests that nil out the field).
func (c *Client) resolvedHTTPClient() *http.Client {
	if c.httpClient != nil {
		return c.httpClient
	}
	return &http.Client{Timeout: defaultTimeout}
}

// Close releases idle pooled connections. In-flight requests are unaffected.
func (c *Client) Close() {
	c.resolvedHTTPClient().CloseIdleConnections()
}

func chatURL(baseURL string) string {
	base := strings.TrimRight(baseURL, "/")
	if base == "" {
		base = defaultBaseURL
	}
	if strings.HasSuffix(base, "/v1") {
		return base + "/chat/completions"
	}
	return base + "/v1/chat/completions"
}

// buildMessages orders an optional system prompt before the user's text.
func buildMessages(systemPrompt, userText string) []domain.ChatMessage {
	messages := make([]domain.ChatMessage, 0, 2)
	if sp := strings.TrimSpace(systemPrompt); sp != "" {
		messages = append(messages, domain.ChatMessage{Role: domain.RoleSystem, Content: sp})
	}
	return append(messages, domain.ChatMessage{Role: domain.RoleUser, Content: userText})
}

// Complete sends one chat-completion request and classifies the result.
// An empty systemPrompt sends the user's text alone.
func (c *Client) Complete(ctx context.Context, systemPrompt, userText string) domain.CompletionOutcome {
	body, err := json.Marshal(chatRequest{
		Model:    c.model,
		Messages: buildMessages(systemPrompt, userText),
	})
	if err != nil {
		return domain.ConnectionFailure(fmt.Sprintf("openai: marshal request: %v", err))
	}

	url := chatURL(c.baseURL)

	req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if reqErr != nil {
		return domain.ConnectionFailure(fmt.Sprintf("openai: create request: %v", reqErr))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if c.referer != "" {
		req.Header.Set("HTTP-Referer", c.referer)
	}
	if c.title != "" {
		req.Header.Set("X-Title", c.title)
	}

	res, doErr := c.resolvedHTTPClient().Do(req)
	if doErr != nil {
		return classifyTransportError(doErr)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode != http.StatusOK {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return domain.RemoteError(res.StatusCode, remoteDetail(res.StatusCode, buf))
	}

	raw, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return classifyTransportError(fmt.Errorf("read response body: %w", err))
	}

	var payload chatResponse
	if decErr := json.Unmarshal(raw, &payload); decErr != nil {
		return domain.MalformedResponse(fmt.Sprintf("openai: decode response: %v", decErr))
	}
	if len(payload.Choices) == 0 {
		return domain.MalformedResponse("openai: no choices in response")
	}
	return domain.Success(payload.Choices[0].Message.Content)
}

func remoteDetail(status int, body []byte) string {
	var env errorEnvelope
	if err := json.Unmarshal(body, &env); err == nil && strings.TrimSpace(env.Error.Message) != "" {
		return fmt.Sprintf("openai: unexpected status %d: %s", status, strings.TrimSpace(env.Error.Message))
	}
	return fmt.Sprintf("openai: unexpected status %d: %s", status, strings.TrimSpace(string(body)))
}

// classifyTransportError separates deadline expiry from every other
// low-level failure.
func classifyTransportError(err error) domain.CompletionOutcome {
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.Timeout(fmt.Sprintf("openai: request timed out: %v", err))
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return domain.Timeout(fmt.Sprintf("openai: request timed out: %v", err))
	}
	return domain.ConnectionFailure(fmt.Sprintf("openai: request failed: %v", err))
}
