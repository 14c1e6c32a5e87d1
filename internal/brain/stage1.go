package brain

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"vestnik/internal/domain"
	"vestnik/internal/ports"
)

const stage1System = `You are Stage 1 of a news condensation system.
Task: drop duplicates, ads and reposts, keep the fact, remove emotion and opinion.
Compress every post to 1-2 neutral sentences without speculation. Translate non-English posts to English.

Constraints:
- summary: 1-2 sentences, at most 220 characters.
- summary must not contain double quotes, backslashes or line breaks.
- Return ONLY a valid JSON array, no markdown, no commentary.
- When unsure, return [].

Result format: a JSON array of objects with exactly these keys:
channel_ref, message_id, text_sha256, summary, url, channel_name`

const stage1RepairSystem = "You are a JSON validator. Always return only valid JSON."

// Stage1Config bounds one normalization run.
type Stage1Config struct {
	BatchSize       int
	TextMax         int
	MaxTokens       int
	RepairMaxTokens int
}

func (c Stage1Config) withDefaults() Stage1Config {
	if c.BatchSize <= 0 {
		c.BatchSize = 10
	}
	if c.TextMax <= 0 {
		c.TextMax = 1200
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = 1600
	}
	if c.RepairMaxTokens <= 0 {
		c.RepairMaxTokens = 1800
	}
	return c
}

// Normalizer turns raw posts into short neutral fact summaries via the
// summarization service, one call per batch.
type Normalizer struct {
	chat   ports.ChatClient
	cfg    Stage1Config
	logger *slog.Logger
}

// NewNormalizer wires the chat client with batch limits.
func NewNormalizer(chat ports.ChatClient, cfg Stage1Config, logger *slog.Logger) *Normalizer {
	return &Normalizer{chat: chat, cfg: cfg.withDefaults(), logger: logger}
}

type stage1Post struct {
	ChannelRef  string `json:"channel_ref"`
	MessageID   string `json:"message_id"`
	URL         string `json:"url"`
	ChannelName string `json:"channel_name"`
	TextSHA256  string `json:"text_sha256"`
	Text        string `json:"text"`
}

type stage1Row struct {
	ChannelRef  string `json:"channel_ref"`
	MessageID   string `json:"message_id"`
	TextSHA256  string `json:"text_sha256"`
	Summary     string `json:"summary"`
	URL         string `json:"url"`
	ChannelName string `json:"channel_name"`
}

type sourceMeta struct {
	sha  string
	url  string
	name string
}

// Normalize summarizes the given posts in fixed-size batches. A batch whose
// output stays malformed after one repair attempt yields zero items; chat
// transport failures propagate and fail the run.
func (n *Normalizer) Normalize(ctx context.Context, model string, posts []domain.Post) ([]domain.FactItem, error) {
	compact := make([]stage1Post, 0, len(posts))
	sources := make(map[domain.FactKey]sourceMeta, len(posts))

	for _, p := range posts {
		ref := firstRunes(strings.TrimSpace(p.ChannelRef), 200)
		mid := firstRunes(strings.TrimSpace(p.MessageID), 200)
		if ref == "" || mid == "" {
			continue
		}
		sp := stage1Post{
			ChannelRef:  ref,
			MessageID:   mid,
			URL:         firstRunes(strings.TrimSpace(p.URL), 1000),
			ChannelName: "@" + ref,
			TextSHA256:  Fingerprint(p.Text),
			Text:        firstRunes(p.Text, n.cfg.TextMax),
		}
		compact = append(compact, sp)
		sources[domain.FactKey{ChannelRef: ref, MessageID: mid}] = sourceMeta{
			sha:  sp.TextSHA256,
			url:  sp.URL,
			name: sp.ChannelName,
		}
	}

	out := make([]domain.FactItem, 0, len(compact))
	seen := make(map[domain.FactKey]struct{}, len(compact))

	for start := 0; start < len(compact); start += n.cfg.BatchSize {
		end := start + n.cfg.BatchSize
		if end > len(compact) {
			end = len(compact)
		}

		rows, err := n.normalizeBatch(ctx, model, compact[start:end])
		if err != nil {
			return nil, err
		}

		for _, row := range rows {
			item, ok := n.acceptRow(row, sources, seen, model)
			if ok {
				out = append(out, item)
			}
		}
	}

	return out, nil
}

func (n *Normalizer) normalizeBatch(ctx context.Context, model string, batch []stage1Post) ([]stage1Row, error) {
	payload, err := json.Marshal(batch)
	if err != nil {
		return nil, err
	}

	txt, err := n.chat.Complete(ctx, ports.ChatRequest{
		Model: model,
		Messages: []ports.ChatMessage{
			{Role: "system", Content: stage1System},
			{Role: "user", Content: "POSTS_JSON:\n" + string(payload)},
		},
		Temperature: 0,
		MaxTokens:   n.cfg.MaxTokens,
	})
	if err != nil {
		return nil, err
	}

	var rows []stage1Row
	if extractJSONArray(txt, &rows) {
		return rows, nil
	}

	// Single repair pass: ask the model to fix its own output, then give up.
	repaired, err := n.chat.Complete(ctx, ports.ChatRequest{
		Model: model,
		Messages: []ports.ChatMessage{
			{Role: "system", Content: stage1RepairSystem},
			{Role: "user", Content: "Fix and return ONLY a valid JSON array (no markdown). " +
				"Array items are objects with keys channel_ref, message_id, text_sha256, summary, url, channel_name.\n\nRAW_OUTPUT:\n" + txt},
		},
		Temperature: 0,
		MaxTokens:   n.cfg.RepairMaxTokens,
	})
	if err != nil {
		return nil, err
	}

	rows = nil
	if extractJSONArray(repaired, &rows) {
		return rows, nil
	}

	if n.logger != nil {
		n.logger.Warn("stage1 batch dropped", "reason", domain.ErrMalformedModelOutput, "batch_size", len(batch))
	}
	return nil, nil
}

func (n *Normalizer) acceptRow(row stage1Row, sources map[domain.FactKey]sourceMeta, seen map[domain.FactKey]struct{}, model string) (domain.FactItem, bool) {
	ref := strings.TrimSpace(row.ChannelRef)
	mid := strings.TrimSpace(row.MessageID)
	if ref == "" || mid == "" {
		return domain.FactItem{}, false
	}

	key := domain.FactKey{ChannelRef: ref, MessageID: mid}
	if _, dup := seen[key]; dup {
		return domain.FactItem{}, false
	}

	src := sources[key]

	sha := strings.TrimSpace(row.TextSHA256)
	if sha == "" {
		sha = src.sha
	}
	url := strings.TrimSpace(row.URL)
	if url == "" {
		url = src.url
	}
	name := strings.TrimSpace(row.ChannelName)
	if name == "" {
		name = src.name
	}
	if name == "" {
		name = "@" + ref
	}

	summary := sanitizeSummary(row.Summary)
	if sha == "" || summary == "" {
		return domain.FactItem{}, false
	}

	seen[key] = struct{}{}
	return domain.FactItem{
		ChannelRef:  ref,
		MessageID:   mid,
		TextSHA256:  sha,
		Summary:     summary,
		URL:         url,
		ChannelName: name,
		Model:       model,
	}, true
}
