package llm

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"vestnik/internal/config"
	"vestnik/internal/ports"

	"vestnik/internal/domain"
)

// Client implements ports.ChatClient against any OpenAI-compatible API.
// HTTP status >= 400 and transport errors are treated identically: retried
// a fixed number of times with a fixed sleep, then surfaced as
// *domain.UpstreamError. JSON repair is not this layer's concern.
type Client struct {
	api        *openai.Client
	maxRetries int
	retrySleep time.Duration
	logger     *slog.Logger
}

var _ ports.ChatClient = (*Client)(nil)

// New builds a client from configuration.
func New(cfg config.AIConfig, logger *slog.Logger) *Client {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	timeout := time.Duration(cfg.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	oc.HTTPClient = &http.Client{Timeout: timeout}

	retries := cfg.MaxRetries
	if retries <= 0 {
		retries = 3
	}

	return &Client{
		api:        openai.NewClientWithConfig(oc),
		maxRetries: retries,
		retrySleep: time.Duration(cfg.RetrySleepSec) * time.Second,
		logger:     logger,
	}
}

// Complete issues one chat completion and returns the generated text.
func (c *Client) Complete(ctx context.Context, req ports.ChatRequest) (string, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}

	var lastErr error
	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:       req.Model,
			Messages:    messages,
			Temperature: req.Temperature,
			MaxTokens:   req.MaxTokens,
		})
		if err == nil {
			if len(resp.Choices) == 0 {
				return "", &domain.UpstreamError{Op: "chat completion", Err: errors.New("no choices in response")}
			}
			return strings.TrimSpace(resp.Choices[0].Message.Content), nil
		}

		lastErr = err
		if c.logger != nil {
			c.logger.Warn("chat completion failed", "attempt", attempt, "model", req.Model, "error", err)
		}
		if attempt < c.maxRetries {
			select {
			case <-ctx.Done():
				return "", &domain.UpstreamError{Op: "chat completion", Err: ctx.Err()}
			case <-time.After(c.retrySleep):
			}
		}
	}

	return "", &domain.UpstreamError{Op: "chat completion", Err: lastErr}
}
