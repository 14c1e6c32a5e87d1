package telegram

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"vestnik/internal/domain"
)

func TestSendPostsForm(t *testing.T) {
	t.Parallel()

	var gotPath, gotChat, gotText string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_ = r.ParseForm()
		gotChat = r.PostForm.Get("chat_id")
		gotText = r.PostForm.Get("text")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	s := NewSender("123:abc", server.URL)
	if err := s.Send(context.Background(), 42, "report body"); err != nil {
		t.Fatalf("Send returned error: %v", err)
	}

	if gotPath != "/bot123:abc/sendMessage" {
		t.Fatalf("unexpected path: %s", gotPath)
	}
	if gotChat != "42" || gotText != "report body" {
		t.Fatalf("unexpected form: chat_id=%s text=%s", gotChat, gotText)
	}
}

func TestSendHTTPErrorIsUpstream(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"ok":false,"description":"Too Many Requests"}`, http.StatusTooManyRequests)
	}))
	defer server.Close()

	s := NewSender("123:abc", server.URL)
	err := s.Send(context.Background(), 42, "x")
	if err == nil {
		t.Fatalf("expected error")
	}

	var upstream *domain.UpstreamError
	if !errors.As(err, &upstream) {
		t.Fatalf("expected UpstreamError, got %T: %v", err, err)
	}
}

func TestSendEmptyTokenFailsFast(t *testing.T) {
	t.Parallel()

	s := NewSender("", "")
	if err := s.Send(context.Background(), 1, "x"); err == nil {
		t.Fatalf("expected misconfiguration error")
	}
}
