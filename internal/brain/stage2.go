package brain

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"vestnik/internal/domain"
	"vestnik/internal/ports"
)

// MessageLimit is the messaging platform's hard ceiling for one message.
const MessageLimit = 4096

const stage2System = `You are Stage 2 of a news condensation system.
Style: sterile, neutral, no opinions.
Inventing facts not present in the input is forbidden.
Output: one text of at most 4096 characters.
Use only the links supplied in the input.`

// Stage2Config bounds one synthesis run. MinFacts is the policy threshold
// below which the external call is skipped and a local placeholder is
// produced instead.
type Stage2Config struct {
	MinFacts    int
	MaxTokens   int
	Temperature float32
}

func (c Stage2Config) withDefaults() Stage2Config {
	if c.MinFacts <= 0 {
		c.MinFacts = 3
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = 1400
	}
	if c.Temperature == 0 {
		c.Temperature = 0.2
	}
	return c
}

// Synthesizer merges ordered facts into the final delivered report text.
type Synthesizer struct {
	chat ports.ChatClient
	cfg  Stage2Config
}

// NewSynthesizer wires the chat client with synthesis limits.
func NewSynthesizer(chat ports.ChatClient, cfg Stage2Config) *Synthesizer {
	return &Synthesizer{chat: chat, cfg: cfg.withDefaults()}
}

type stage2Fact struct {
	Title   string `json:"title"`
	Summary string `json:"summary"`
	URL     string `json:"url"`
	Channel string `json:"channel"`
}

// Placeholder renders the deterministic "no significant events" report
// produced locally when the fact list is below the configured minimum.
func Placeholder(packTitle string, w domain.ReportWindow) string {
	txt := fmt.Sprintf("📅 CLEAN DIGEST: %s\nPeriod: %s\nNo significant events found for this period.\n", packTitle, w.Format())
	return clipRunes(txt, MessageLimit)
}

// Synthesize produces the report text for one pack window. Below the
// MinFacts threshold it returns the local placeholder without calling the
// summarization service; otherwise the output is hard-clipped to the message
// ceiling with a clean cut.
func (s *Synthesizer) Synthesize(ctx context.Context, model string, pack domain.Pack, w domain.ReportWindow, promptText string, facts []domain.FactItem) (string, error) {
	if len(facts) < s.cfg.MinFacts {
		return Placeholder(pack.Title, w), nil
	}

	compact := make([]stage2Fact, 0, len(facts))
	for _, f := range facts {
		summ := sanitizeLine(f.Summary)
		title := strings.TrimSpace(strings.SplitN(summ, ".", 2)[0])
		if r := []rune(title); len(r) > 140 {
			title = strings.TrimRight(string(r[:140]), " ") + "…"
		}
		compact = append(compact, stage2Fact{
			Title:   title,
			Summary: summ,
			URL:     strings.TrimSpace(f.URL),
			Channel: strings.TrimSpace(f.ChannelName),
		})
	}

	payload, err := json.Marshal(compact)
	if err != nil {
		return "", err
	}

	user := fmt.Sprintf(`PACK_NAME: %s
PACK_KEY: %s
PERIOD: %s

PROMPT_RULES:
%s

STAGE1_FACTS_JSON:
%s

Produce the report strictly in this template:
📅 CLEAN DIGEST: {PACK_NAME}
Period: {START} — {END}
Sources: {COUNT}
━━━━━━━━━━━━━━━━━━━━━━━━━━━━
🔥 FACTS & EVENTS
• ...
🔗 ...
━━━━━━━━━━━━━━━━━━━━━━━━━━━━
📈 TRENDS
━━━━━━━━━━━━━━━━━━━━━━━━━━━━
⚡️ SIGNALS
━━━━━━━━━━━━━━━━━━━━━━━━━━━━
📊 SYNTHESIS
━━━━━━━━━━━━━━━━━━━━━━━━━━━━
🏷 #vestnik #%s
Add nothing outside this template.`,
		pack.Title, pack.Key, w.Format(), strings.TrimSpace(promptText), payload, pack.Key)

	txt, err := s.chat.Complete(ctx, ports.ChatRequest{
		Model: model,
		Messages: []ports.ChatMessage{
			{Role: "system", Content: stage2System},
			{Role: "user", Content: user},
		},
		Temperature: s.cfg.Temperature,
		MaxTokens:   s.cfg.MaxTokens,
	})
	if err != nil {
		return "", err
	}

	return clipRunes(txt, MessageLimit), nil
}
