package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

const (
	// DefaultBaseURL points at the public OpenAI API.
	DefaultBaseURL = "https://api.openai.com/v1"
	// DefaultModel is used when no model is configured.
	DefaultModel = "gpt-4o"
	// DefaultTemperature matches the sampling used for code generation.
	DefaultTemperature = 0.7
	// DefaultTopP matches the sampling used for code generation.
	DefaultTopP = 0.9
	// DefaultTimeout bounds a single completion request.
	DefaultTimeout = 120 * time.Second
)

// ClientSettings configures an OpenAI-compatible chat-completions backend.
type ClientSettings struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	TopP        float64
	Timeout     time.Duration
}

func (s *ClientSettings) normalize() {
	s.BaseURL = strings.TrimRight(strings.TrimSpace(s.BaseURL), "/")
	if s.BaseURL == "" {
		s.BaseURL = DefaultBaseURL
	}
	s.Model = strings.TrimSpace(s.Model)
	if s.Model == "" {
		s.Model = DefaultModel
	}
	if s.Temperature < 0 {
		s.Temperature = DefaultTemperature
	}
	if s.TopP <= 0 || s.TopP > 1 {
		s.TopP = DefaultTopP
	}
	if s.Timeout <= 0 {
		s.Timeout = DefaultTimeout
	}
}

// Client is a Backend speaking the /chat/completions protocol through
// go-openai.
type Client struct {
	settings   ClientSettings
	endpoint   string
	httpClient *http.Client
	api        *openai.Client
}

// ClientOption customizes a Client.
type ClientOption func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// NewClient validates settings and returns a ready backend.
func NewClient(settings ClientSettings, opts ...ClientOption) (*Client, error) {
	settings.normalize()
	base, err := url.Parse(settings.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("llm: invalid base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("llm: base url must include scheme and host (https://...)")
	}
	c := &Client{
		settings:   settings,
		endpoint:   settings.BaseURL + "/chat/completions",
		httpClient: &http.Client{Timeout: settings.Timeout},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	cfg := openai.DefaultConfig(settings.APIKey)
	cfg.BaseURL = settings.BaseURL
	cfg.HTTPClient = c.httpClient
	c.api = openai.NewClientWithConfig(cfg)
	return c, nil
}

// Model reports the configured model name.
func (c *Client) Model() string { return c.settings.Model }

// Generate sends the system prompt followed by messages and returns the
// content of the first choice.
func (c *Client) Generate(ctx context.Context, system string, messages []Message) (string, error) {
	req := openai.ChatCompletionRequest{
		Model:       c.settings.Model,
		Messages:    make([]openai.ChatCompletionMessage, 0, len(messages)+1),
		Temperature: float32(c.settings.Temperature),
		TopP:        float32(c.settings.TopP),
	}
	if strings.TrimSpace(system) != "" {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}
	for _, m := range messages {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{Role: string(m.Role), Content: m.Content})
	}
	resp, err := c.api.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", c.translate(err)
	}
	if len(resp.Choices) == 0 {
		return "", &HTTPError{StatusCode: http.StatusOK, Body: "completion has no choices"}
	}
	return resp.Choices[0].Message.Content, nil
}

// translate maps go-openai failures onto HTTPError and NetworkError so the
// retry layer can classify them.
func (c *Client) translate(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &HTTPError{StatusCode: apiErr.HTTPStatusCode, Body: apiErr.Message}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode > 0 {
		body := ""
		if reqErr.Err != nil {
			body = reqErr.Err.Error()
		}
		return &HTTPError{StatusCode: reqErr.HTTPStatusCode, Body: body}
	}
	return &NetworkError{Op: "post " + c.endpoint, Err: err}
}
