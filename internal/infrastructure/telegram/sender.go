package telegram

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"vestnik/internal/domain"
	"vestnik/internal/ports"
)

// Sender delivers plain-text messages through the Telegram bot API.
type Sender struct {
	botToken string
	baseURL  string
	client   *http.Client
}

var _ ports.Messenger = (*Sender)(nil)

// NewSender registers the bot token; baseURL defaults to the public API.
func NewSender(botToken, baseURL string) *Sender {
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}
	return &Sender{
		botToken: botToken,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

// Send posts one message to the given chat. Transport and HTTP failures are
// both reported as upstream errors; the caller never rolls back a delivery
// reservation because of them.
func (s *Sender) Send(ctx context.Context, chatID int64, text string) error {
	if s.botToken == "" {
		return fmt.Errorf("telegram sender misconfigured: empty bot token")
	}

	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", s.baseURL, s.botToken)
	form := url.Values{}
	form.Set("chat_id", strconv.FormatInt(chatID, 10))
	form.Set("text", text)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.client.Do(req)
	if err != nil {
		return &domain.UpstreamError{Op: "telegram send", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &domain.UpstreamError{
			Op:  "telegram send",
			Err: fmt.Errorf("%s: %s", resp.Status, strings.TrimSpace(string(body))),
		}
	}

	return nil
}
