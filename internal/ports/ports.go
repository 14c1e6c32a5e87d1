package ports

import (
	"context"
	"time"

	"vestnik/internal/domain"
)

// PostLoader reads harvested posts from the store. Results exclude
// soft-deleted and expired rows and come ordered by parse time descending;
// that order is part of the report identity downstream.
type PostLoader interface {
	PostsInWindow(ctx context.Context, refs []string, w domain.ReportWindow, limit int) ([]domain.Post, error)
	UnsentPosts(ctx context.Context, userID int64, refs []string, limit int) ([]domain.Post, error)
}

// FactCache memoizes stage-1 summaries keyed by (channel_ref, message_id).
type FactCache interface {
	Lookup(ctx context.Context, keys []domain.FactKey) (map[domain.FactKey]domain.FactItem, error)
	Upsert(ctx context.Context, items []domain.FactItem) error
}

// ReportCache stores finished reports. Save is insert-only; Find returns the
// most recent row matching the idempotence key, or nil.
type ReportCache interface {
	Find(ctx context.Context, userID int64, packKey string, w domain.ReportWindow, inputHash string) (*domain.Report, error)
	Save(ctx context.Context, r *domain.Report) error
}

// DeliveryLedger records send reservations. Reserve* returns true only when
// this call created the row; the insert must be atomic (unique-constrained),
// never check-then-insert.
type DeliveryLedger interface {
	ReserveReport(ctx context.Context, userID int64, reportID string) (bool, error)
	ReservePost(ctx context.Context, userID int64, key domain.FactKey) (bool, error)
}

// ChatMessage is one role-tagged prompt message for the summarization API.
type ChatMessage struct {
	Role    string
	Content string
}

// ChatRequest is one summarization call.
type ChatRequest struct {
	Model       string
	Messages    []ChatMessage
	Temperature float32
	MaxTokens   int
}

// ChatClient issues one summarization call and returns the generated text.
// Transport/HTTP failures surface as *domain.UpstreamError after retries.
type ChatClient interface {
	Complete(ctx context.Context, req ChatRequest) (string, error)
}

// Messenger delivers plain text (<= 4096 chars) to a subscriber chat.
type Messenger interface {
	Send(ctx context.Context, chatID int64, text string) error
}

// HarvestStore is the persistence surface the channel harvester writes to.
type HarvestStore interface {
	ActiveChannels(ctx context.Context) ([]domain.Channel, error)
	LastMessageID(ctx context.Context, channelRef string) (int64, error)
	UpsertPosts(ctx context.Context, posts []domain.Post, expiresAt time.Time) (int, error)
	UpdateChannelTitle(ctx context.Context, channelID int64, title string) error
	CleanupExpired(ctx context.Context, now time.Time) (int64, error)
}

// Scheduler drives a recurring job until stopped or the context ends.
type Scheduler interface {
	Start(ctx context.Context, job func(time.Time)) error
	Stop(ctx context.Context) error
}

// Directory resolves subscribers, their settings, and pack membership.
type Directory interface {
	Subscribers(ctx context.Context) ([]domain.Subscriber, error)
	Settings(ctx context.Context, userID int64) (domain.SubscriberSettings, error)
	SubscribedPacks(ctx context.Context, userID int64) ([]domain.Pack, error)
	PackByKey(ctx context.Context, key string) (domain.Pack, error)
	ChannelRefs(ctx context.Context, packID int64) ([]string, error)
	TouchLastSent(ctx context.Context, userID int64) error
}
