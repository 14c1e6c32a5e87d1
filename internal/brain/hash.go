package brain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"vestnik/internal/domain"
)

// Fingerprint returns the stable content hash of a post text. Pure; empty
// text hashes to the fixed sha256 of the empty string.
func Fingerprint(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// Fields are declared in lexicographic order so the serialized form has
// canonical key ordering regardless of process restarts.
type hashedFact struct {
	ChannelRef string `json:"channel_ref"`
	MessageID  string `json:"message_id"`
	Model      string `json:"model"`
	Summary    string `json:"summary"`
	TextSHA256 string `json:"text_sha256"`
}

type hashedInput struct {
	End     string       `json:"end"`
	Items   []hashedFact `json:"items"`
	Model   string       `json:"model"`
	PackKey string       `json:"pack_key"`
	Prompt  string       `json:"prompt"`
	Start   string       `json:"start"`
}

// InputHash folds window, pack identity, prompt, model, and the ordered fact
// list into one digest: the cache key of a finished report. Fact order is part
// of the identity (it affects narrative framing); url and channel name are
// presentation-only and excluded.
func InputHash(packKey string, w domain.ReportWindow, prompt, model string, facts []domain.FactItem) string {
	in := hashedInput{
		End:     w.End.UTC().Format(time.RFC3339),
		Items:   make([]hashedFact, 0, len(facts)),
		Model:   model,
		PackKey: packKey,
		Prompt:  prompt,
		Start:   w.Start.UTC().Format(time.RFC3339),
	}
	for _, f := range facts {
		in.Items = append(in.Items, hashedFact{
			ChannelRef: f.ChannelRef,
			MessageID:  f.MessageID,
			Model:      f.Model,
			Summary:    f.Summary,
			TextSHA256: f.TextSHA256,
		})
	}

	raw, _ := json.Marshal(in)
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}
