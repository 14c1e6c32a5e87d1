package harvester

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"vestnik/internal/domain"
	"vestnik/internal/ports"
)

// Harvester fills posts_cache by scraping the public t.me/s previews of
// active channels. Incremental per channel: only messages newer than the
// last harvested id are collected.
type Harvester struct {
	store   ports.HarvestStore
	client  *http.Client
	baseURL string
	limit   int
	ttl     time.Duration
	logger  *slog.Logger
}

// Config bounds one harvest cycle.
type Config struct {
	BaseURL         string
	LimitPerChannel int
	TTLHours        int
}

// New wires the harvest store and an HTTP client.
func New(store ports.HarvestStore, client *http.Client, cfg Config, logger *slog.Logger) *Harvester {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://t.me"
	}
	limit := cfg.LimitPerChannel
	if limit <= 0 {
		limit = 50
	}
	ttl := time.Duration(cfg.TTLHours) * time.Hour
	if ttl <= 0 {
		ttl = 48 * time.Hour
	}
	return &Harvester{
		store:   store,
		client:  client,
		baseURL: strings.TrimRight(baseURL, "/"),
		limit:   limit,
		ttl:     ttl,
		logger:  logger,
	}
}

// Cycle visits every active channel once and returns how many posts were
// inserted. A failing channel is logged and skipped; it never aborts the
// cycle.
func (h *Harvester) Cycle(ctx context.Context) (int, error) {
	channels, err := h.store.ActiveChannels(ctx)
	if err != nil {
		return 0, fmt.Errorf("list channels: %w", err)
	}

	now := time.Now().UTC()
	if cleaned, err := h.store.CleanupExpired(ctx, now); err != nil {
		h.warn("cleanup failed", "error", err)
	} else if cleaned > 0 {
		h.debug("cleaned expired posts", "rows", cleaned)
	}

	total := 0
	for _, ch := range channels {
		inserted, err := h.harvestChannel(ctx, ch, now)
		if err != nil {
			h.warn("harvest channel failed", "channel", ch.Username, "error", err)
			continue
		}
		total += inserted
	}

	h.debug("harvest cycle done", "channels", len(channels), "inserted", total)
	return total, nil
}

func (h *Harvester) harvestChannel(ctx context.Context, ch domain.Channel, now time.Time) (int, error) {
	ref := strings.TrimPrefix(ch.Username, "@")

	lastID, err := h.store.LastMessageID(ctx, ref)
	if err != nil {
		return 0, err
	}

	doc, err := h.fetchPreview(ctx, ref)
	if err != nil {
		return 0, err
	}

	if title := channelTitle(doc); title != "" && title != ch.Title {
		if err := h.store.UpdateChannelTitle(ctx, ch.ID, title); err != nil {
			h.warn("title update failed", "channel", ref, "error", err)
		}
	}

	posts := extractPosts(doc, ref, lastID, now)
	if len(posts) > h.limit {
		posts = posts[len(posts)-h.limit:]
	}
	if len(posts) == 0 {
		return 0, nil
	}

	return h.store.UpsertPosts(ctx, posts, now.Add(h.ttl))
}

func (h *Harvester) fetchPreview(ctx context.Context, ref string) (*goquery.Document, error) {
	pageURL := fmt.Sprintf("%s/s/%s", h.baseURL, ref)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "vestnik/1.0")

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request preview: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("preview returned %s", resp.Status)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse preview: %w", err)
	}
	return doc, nil
}

func channelTitle(doc *goquery.Document) string {
	return strings.TrimSpace(doc.Find(".tgme_channel_info_header_title").First().Text())
}

// extractPosts walks the preview's message blocks in document order (oldest
// first) and keeps non-empty texts with an id above sinceID.
func extractPosts(doc *goquery.Document, ref string, sinceID int64, now time.Time) []domain.Post {
	var out []domain.Post

	doc.Find(".tgme_widget_message").Each(func(_ int, msg *goquery.Selection) {
		dataPost, ok := msg.Attr("data-post")
		if !ok {
			return
		}
		id := messageID(dataPost)
		if id <= 0 || id <= sinceID {
			return
		}

		text := strings.TrimSpace(msg.Find(".tgme_widget_message_text").First().Text())
		if text == "" {
			return
		}

		parsedAt := now
		if dt, ok := msg.Find(".tgme_widget_message_date time").First().Attr("datetime"); ok {
			if t, err := time.Parse(time.RFC3339, dt); err == nil {
				parsedAt = t.UTC()
			}
		}

		out = append(out, domain.Post{
			ChannelRef: ref,
			MessageID:  strconv.FormatInt(id, 10),
			Text:       text,
			URL:        fmt.Sprintf("https://t.me/%s/%d", ref, id),
			ParsedAt:   parsedAt,
		})
	})

	return out
}

func messageID(dataPost string) int64 {
	i := strings.LastIndex(dataPost, "/")
	if i == -1 {
		return 0
	}
	id, err := strconv.ParseInt(dataPost[i+1:], 10, 64)
	if err != nil {
		return 0
	}
	return id
}

func (h *Harvester) debug(msg string, args ...any) {
	if h.logger != nil {
		h.logger.Debug(msg, args...)
	}
}

func (h *Harvester) warn(msg string, args ...any) {
	if h.logger != nil {
		h.logger.Warn(msg, args...)
	}
}
