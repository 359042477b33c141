// Package llm is a client for OpenAI-compatible chat-completions APIs
// (OpenRouter, Perplexity).
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

	"perpKeeper/internal/ports"

	"github.com/hashicorp/go-retryablehttp"
)

// Provider identifies the API flavour.
type Provider string

const (
	ProviderOpenRouter Provider = "openrouter"
	ProviderPerplexity Provider = "perplexity"
)

// Base URLs of the supported providers.
const (
	OpenRouterBaseURL = "https://openrouter.ai/api/v1"
	PerplexityBaseURL = "https://api.perplexity.ai"
)

// ClientConfig holds LLM client configuration
type ClientConfig struct {
	Provider    Provider
	BaseURL     string
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration

	// CacheSystemPrompt marks the system message with an ephemeral
	// cache_control hint. OpenRouter only.
	CacheSystemPrompt bool

	RetryMax     int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration

	Logger ports.Logger
}

// DefaultClientConfig returns the defaults for provider.
func DefaultClientConfig(provider Provider) ClientConfig {
	cfg := ClientConfig{
		Provider:     provider,
		MaxTokens:    150,
		Temperature:  0.3,
		Timeout:      120 * time.Second,
		RetryMax:     2,
		RetryWaitMin: time.Second,
		RetryWaitMax: 10 * time.Second,
	}
	switch provider {
	case ProviderPerplexity:
		cfg.BaseURL = PerplexityBaseURL
		cfg.Model = "sonar"
	default:
		cfg.BaseURL = OpenRouterBaseURL
		cfg.Model = "x-ai/grok-4.1-fast"
	}
	return cfg
}

// Client is the LLM API client
type Client struct {
	config     ClientConfig
	httpClient *retryablehttp.Client
	logger     ports.Logger
}

// NewClient creates a new LLM client
func NewClient(config ClientConfig) (*Client, error) {
	if config.Logger == nil {
		return nil, fmt.Errorf("missing required dependencies for llm Client")
	}
	if config.APIKey == "" {
		return nil, fmt.Errorf("%w: %s API key is empty", ports.ErrConfigurationError, config.Provider)
	}
	if config.Model == "" || config.BaseURL == "" {
		return nil, fmt.Errorf("%w: %s model and base URL are required", ports.ErrConfigurationError, config.Provider)
	}

	hc := retryablehttp.NewClient()
	hc.RetryMax = config.RetryMax
	if config.RetryWaitMin > 0 {
		hc.RetryWaitMin = config.RetryWaitMin
	}
	if config.RetryWaitMax > 0 {
		hc.RetryWaitMax = config.RetryWaitMax
	}
	hc.HTTPClient.Timeout = config.Timeout
	hc.Logger = leveledLogger{l: config.Logger}
	// Hand the final response back so the status can be mapped below.
	hc.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &Client{config: config, httpClient: hc, logger: config.Logger}, nil
}

// Model returns the configured model name.
func (c *Client) Model() string {
	return c.config.Model
}

// Provider returns the configured provider.
func (c *Client) Provider() Provider {
	return c.config.Provider
}

// WithModel returns a copy of the client bound to another model.
func (c *Client) WithModel(model string) *Client {
	cp := *c
	cp.config.Model = model
	return &cp
}

// Message represents a chat message
type Message struct {
	Role         string        `json:"role"`
	Content      string        `json:"content"`
	CacheControl *CacheControl `json:"cache_control,omitempty"`
}

// CacheControl is OpenRouter's prompt caching hint.
type CacheControl struct {
	Type string `json:"type"`
}

// ChatRequest represents a chat-completions request
type ChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature"`
}

// ChatResponse represents a chat-completions response
type ChatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index   int `json:"index"`
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// buildMessages lays out the prompts for the provider. Perplexity receives
// one user message holding both prompts.
func (c *Client) buildMessages(systemPrompt, userPrompt string) []Message {
	if c.config.Provider == ProviderPerplexity || systemPrompt == "" {
		content := userPrompt
		if systemPrompt != "" {
			content = systemPrompt + "\n\n" + userPrompt
		}
		return []Message{{Role: "user", Content: content}}
	}
	system := Message{Role: "system", Content: systemPrompt}
	if c.config.CacheSystemPrompt {
		system.CacheControl = &CacheControl{Type: "ephemeral"}
	}
	return []Message{system, {Role: "user", Content: userPrompt}}
}

// Complete sends a completion request and returns the first choice's text.
func (c *Client) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	op := fmt.Sprintf("Complete(%s/%s)", c.config.Provider, c.config.Model)
	req := ChatRequest{
		Model:       c.config.Model,
		Messages:    c.buildMessages(systemPrompt, userPrompt),
		MaxTokens:   c.config.MaxTokens,
		Temperature: c.config.Temperature,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("%s: failed to marshal request: %w", op, err)
	}

	url := strings.TrimRight(c.config.BaseURL, "/") + "/chat/completions"
	httpReq, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%s: failed to create request: %w", op, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("%s: %w: %w", op, ports.ErrContextCanceled, err)
		}
		return "", fmt.Errorf("%s: %w: %w", op, ports.ErrSignalUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%s: %w: failed to read response: %w", op, ports.ErrSignalUnavailable, err)
	}

	var chat ChatResponse
	decodeErr := json.Unmarshal(respBody, &chat)

	if resp.StatusCode != http.StatusOK {
		detail := strings.TrimSpace(string(respBody))
		if decodeErr == nil && chat.Error != nil {
			detail = chat.Error.Message
		}
		if len(detail) > 200 {
			detail = detail[:200]
		}
		return "", fmt.Errorf("%s: %w: status %d: %s", op, statusError(resp.StatusCode), resp.StatusCode, detail)
	}
	if decodeErr != nil {
		return "", fmt.Errorf("%s: %w: failed to unmarshal response: %w", op, ports.ErrInvalidSignal, decodeErr)
	}
	if chat.Error != nil {
		return "", fmt.Errorf("%s: %w: %s", op, ports.ErrSignalUnavailable, chat.Error.Message)
	}
	if len(chat.Choices) == 0 {
		return "", fmt.Errorf("%s: %w: empty choices", op, ports.ErrInvalidSignal)
	}

	c.logger.Debug(ctx, op+" successful", map[string]interface{}{
		"latency":          time.Since(start).String(),
		"promptTokens":     chat.Usage.PromptTokens,
		"completionTokens": chat.Usage.CompletionTokens,
	})
	return strings.TrimSpace(chat.Choices[0].Message.Content), nil
}

func statusError(code int) error {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return ports.ErrAuthenticationFailed
	case code == http.StatusTooManyRequests:
		return ports.ErrRateLimited
	case code == http.StatusBadRequest:
		return ports.ErrInvalidRequest
	default:
		return ports.ErrSignalUnavailable
	}
}

// leveledLogger routes retryablehttp's logging into ports.Logger.
type leveledLogger struct {
	l ports.Logger
}

func kvFields(keysAndValues []interface{}) map[string]interface{} {
	fields := make(map[string]interface{}, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		fields[fmt.Sprint(keysAndValues[i])] = keysAndValues[i+1]
	}
	return fields
}

func (a leveledLogger) Error(msg string, keysAndValues ...interface{}) {
	a.l.Warn(context.Background(), "llm http: "+msg, kvFields(keysAndValues))
}

func (a leveledLogger) Info(msg string, keysAndValues ...interface{}) {
	a.l.Info(context.Background(), "llm http: "+msg, kvFields(keysAndValues))
}

func (a leveledLogger) Debug(msg string, keysAndValues ...interface{}) {
	a.l.Debug(context.Background(), "llm http: "+msg, kvFields(keysAndValues))
}

func (a leveledLogger) Warn(msg string, keysAndValues ...interface{}) {
	a.l.Warn(context.Background(), "llm http: "+msg, kvFields(keysAndValues))
}
