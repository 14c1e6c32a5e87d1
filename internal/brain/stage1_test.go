package brain

import (
	"context"
	"strings"
	"testing"

	"vestnik/internal/domain"
	"vestnik/internal/ports"
)

type fakeChat struct {
	replies []string
	reqs    []ports.ChatRequest
	err     error
}

func (f *fakeChat) Complete(_ context.Context, req ports.ChatRequest) (string, error) {
	f.reqs = append(f.reqs, req)
	if f.err != nil {
		return "", f.err
	}
	if len(f.replies) == 0 {
		return "", nil
	}
	reply := f.replies[0]
	f.replies = f.replies[1:]
	return reply, nil
}

func post(ref, id, text string) domain.Post {
	return domain.Post{ChannelRef: ref, MessageID: id, Text: text, URL: "https://t.me/" + ref + "/" + id}
}

const validArray = `[{"channel_ref":"alpha","message_id":"10","text_sha256":"","summary":"Something happened.","url":"","channel_name":""}]`

func TestNormalizeParsesFencedJSON(t *testing.T) {
	t.Parallel()

	plain := &fakeChat{replies: []string{validArray}}
	fenced := &fakeChat{replies: []string{"```json\n" + validArray + "\n```"}}

	n1 := NewNormalizer(plain, Stage1Config{}, nil)
	n2 := NewNormalizer(fenced, Stage1Config{}, nil)

	posts := []domain.Post{post("alpha", "10", "raw text")}

	got1, err := n1.Normalize(context.Background(), "m", posts)
	if err != nil {
		t.Fatalf("plain normalize: %v", err)
	}
	got2, err := n2.Normalize(context.Background(), "m", posts)
	if err != nil {
		t.Fatalf("fenced normalize: %v", err)
	}

	if len(got1) != 1 || len(got2) != 1 {
		t.Fatalf("expected one fact each, got %d and %d", len(got1), len(got2))
	}
	if got1[0] != got2[0] {
		t.Fatalf("fenced output must parse to the same fact: %+v vs %+v", got1[0], got2[0])
	}
	if len(fenced.reqs) != 1 {
		t.Fatalf("fenced parse must not trigger a repair call, got %d calls", len(fenced.reqs))
	}
}

func TestNormalizeFillsSourceMetadata(t *testing.T) {
	t.Parallel()

	chat := &fakeChat{replies: []string{validArray}}
	n := NewNormalizer(chat, Stage1Config{}, nil)

	p := post("alpha", "10", "raw text")
	got, err := n.Normalize(context.Background(), "gpt-4o-mini", []domain.Post{p})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected one fact, got %d", len(got))
	}

	f := got[0]
	if f.TextSHA256 != Fingerprint("raw text") {
		t.Fatalf("missing sha must be backfilled from the source post, got %s", f.TextSHA256)
	}
	if f.URL != p.URL {
		t.Fatalf("missing url must be backfilled, got %s", f.URL)
	}
	if f.ChannelName != "@alpha" {
		t.Fatalf("missing channel name must default to @ref, got %s", f.ChannelName)
	}
	if f.Model != "gpt-4o-mini" {
		t.Fatalf("fact must carry the stage-1 model, got %s", f.Model)
	}
}

func TestNormalizeRepairPass(t *testing.T) {
	t.Parallel()

	chat := &fakeChat{replies: []string{"sorry, here you go: {broken", validArray}}
	n := NewNormalizer(chat, Stage1Config{}, nil)

	got, err := n.Normalize(context.Background(), "m", []domain.Post{post("alpha", "10", "x")})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("repair pass should recover the batch, got %d facts", len(got))
	}
	if len(chat.reqs) != 2 {
		t.Fatalf("expected exactly one repair call, got %d total calls", len(chat.reqs))
	}
}

func TestNormalizeDropsUnrepairableBatch(t *testing.T) {
	t.Parallel()

	chat := &fakeChat{replies: []string{"not json", "still not json"}}
	n := NewNormalizer(chat, Stage1Config{}, nil)

	got, err := n.Normalize(context.Background(), "m", []domain.Post{post("alpha", "10", "x")})
	if err != nil {
		t.Fatalf("malformed output must fail soft, got error %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected zero facts, got %d", len(got))
	}
	if len(chat.reqs) != 2 {
		t.Fatalf("expected parse + one repair call only, got %d", len(chat.reqs))
	}
}

func TestNormalizeBatches(t *testing.T) {
	t.Parallel()

	chat := &fakeChat{replies: []string{"[]", "[]", "[]"}}
	n := NewNormalizer(chat, Stage1Config{BatchSize: 10}, nil)

	posts := make([]domain.Post, 0, 25)
	for i := 0; i < 25; i++ {
		posts = append(posts, post("alpha", string(rune('a'+i)), "text"))
	}

	if _, err := n.Normalize(context.Background(), "m", posts); err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if len(chat.reqs) != 3 {
		t.Fatalf("25 posts at batch 10 must take 3 calls, got %d", len(chat.reqs))
	}
}

func TestNormalizeValidation(t *testing.T) {
	t.Parallel()

	reply := `[
	  {"channel_ref":"alpha","message_id":"1","text_sha256":"aa","summary":"ok fact"},
	  {"channel_ref":"alpha","message_id":"1","text_sha256":"aa","summary":"duplicate key"},
	  {"channel_ref":"","message_id":"2","text_sha256":"bb","summary":"no ref"},
	  {"channel_ref":"alpha","message_id":"3","text_sha256":"cc","summary":""}
	]`
	chat := &fakeChat{replies: []string{reply}}
	n := NewNormalizer(chat, Stage1Config{}, nil)

	got, err := n.Normalize(context.Background(), "m", []domain.Post{post("alpha", "1", "x")})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected only the first valid row to survive, got %d", len(got))
	}
	if got[0].Summary != "ok fact" {
		t.Fatalf("unexpected surviving summary: %s", got[0].Summary)
	}
}

func TestSanitizeSummary(t *testing.T) {
	t.Parallel()

	in := "  line one\nline \"two\"  with \\ slashes\r\n"
	got := sanitizeSummary(in)
	if strings.ContainsAny(got, "\n\r\\\"") {
		t.Fatalf("sanitized summary still has forbidden characters: %q", got)
	}
	if got != "line one line 'two' with slashes" {
		t.Fatalf("unexpected sanitize result: %q", got)
	}

	long := strings.Repeat("слово ", 100)
	clipped := sanitizeSummary(long)
	if r := []rune(clipped); len(r) > 220 {
		t.Fatalf("summary longer than 220 runes: %d", len(r))
	}
	if !strings.HasSuffix(clipped, "…") {
		t.Fatalf("clipped summary must end with ellipsis: %q", clipped)
	}
}
