package llm

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"vestnik/internal/config"
	"vestnik/internal/domain"
	"vestnik/internal/ports"
)

const completionBody = `{"choices":[{"message":{"role":"assistant","content":"  summarized text \n"}}]}`

func newTestClient(t *testing.T, handler http.HandlerFunc, retries int) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return New(config.AIConfig{
		APIKey:        "test-key",
		BaseURL:       server.URL + "/v1",
		MaxRetries:    retries,
		RetrySleepSec: 0,
		TimeoutSec:    5,
	}, nil), server
}

func TestCompleteTrimsText(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(completionBody))
	}, 3)

	got, err := client.Complete(context.Background(), ports.ChatRequest{
		Model:    "gpt-4o-mini",
		Messages: []ports.ChatMessage{{Role: "user", Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("Complete returned error: %v", err)
	}
	if got != "summarized text" {
		t.Fatalf("unexpected text: %q", got)
	}
}

func TestCompleteRetriesHTTPErrors(t *testing.T) {
	t.Parallel()

	var calls int
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			http.Error(w, `{"error":{"message":"overloaded"}}`, http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(completionBody))
	}, 3)

	if _, err := client.Complete(context.Background(), ports.ChatRequest{Model: "m"}); err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
}

func TestCompleteExhaustsRetries(t *testing.T) {
	t.Parallel()

	var calls int
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, `{"error":{"message":"nope"}}`, http.StatusBadGateway)
	}, 2)

	_, err := client.Complete(context.Background(), ports.ChatRequest{Model: "m"})
	if err == nil {
		t.Fatalf("expected error after exhausting retries")
	}

	var upstream *domain.UpstreamError
	if !errors.As(err, &upstream) {
		t.Fatalf("expected UpstreamError, got %T: %v", err, err)
	}
	if calls != 2 {
		t.Fatalf("expected exactly 2 attempts, got %d", calls)
	}
}
