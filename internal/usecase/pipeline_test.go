package usecase

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"vestnik/internal/brain"
	"vestnik/internal/domain"
)

type fakePosts struct {
	posts  []domain.Post
	unsent []domain.Post
}

func (f *fakePosts) PostsInWindow(_ context.Context, _ []string, _ domain.ReportWindow, _ int) ([]domain.Post, error) {
	return f.posts, nil
}

func (f *fakePosts) UnsentPosts(_ context.Context, _ int64, _ []string, limit int) ([]domain.Post, error) {
	if len(f.unsent) > limit {
		return f.unsent[:limit], nil
	}
	return f.unsent, nil
}

type fakeFacts struct {
	items   map[domain.FactKey]domain.FactItem
	lookups int
	upserts int
}

func (f *fakeFacts) Lookup(_ context.Context, keys []domain.FactKey) (map[domain.FactKey]domain.FactItem, error) {
	f.lookups++
	out := map[domain.FactKey]domain.FactItem{}
	for _, k := range keys {
		if item, ok := f.items[k]; ok {
			out[k] = item
		}
	}
	return out, nil
}

func (f *fakeFacts) Upsert(_ context.Context, items []domain.FactItem) error {
	f.upserts++
	if f.items == nil {
		f.items = map[domain.FactKey]domain.FactItem{}
	}
	for _, item := range items {
		f.items[item.Key()] = item
	}
	return nil
}

type fakeReports struct {
	saved []*domain.Report
}

func (f *fakeReports) Find(_ context.Context, userID int64, packKey string, w domain.ReportWindow, inputHash string) (*domain.Report, error) {
	for i := len(f.saved) - 1; i >= 0; i-- {
		r := f.saved[i]
		if r.UserID == userID && r.PackKey == packKey && r.InputHash == inputHash &&
			r.Window.Start.Equal(w.Start) && r.Window.End.Equal(w.End) {
			return r, nil
		}
	}
	return nil, nil
}

func (f *fakeReports) Save(_ context.Context, r *domain.Report) error {
	if r.ID == "" {
		r.ID = fmt.Sprintf("report-%d", len(f.saved)+1)
	}
	f.saved = append(f.saved, r)
	return nil
}

type fakeDir struct {
	subs     []domain.Subscriber
	settings map[int64]domain.SubscriberSettings
	packs    map[int64][]domain.Pack
	refs     map[int64][]string
	touched  []int64
}

func (f *fakeDir) Subscribers(_ context.Context) ([]domain.Subscriber, error) {
	return f.subs, nil
}

func (f *fakeDir) Settings(_ context.Context, userID int64) (domain.SubscriberSettings, error) {
	if s, ok := f.settings[userID]; ok {
		return s, nil
	}
	return domain.SubscriberSettings{DeliveryEnabled: true, FormatMode: "digest"}, nil
}

func (f *fakeDir) SubscribedPacks(_ context.Context, userID int64) ([]domain.Pack, error) {
	return f.packs[userID], nil
}

func (f *fakeDir) PackByKey(_ context.Context, key string) (domain.Pack, error) {
	for _, packs := range f.packs {
		for _, p := range packs {
			if p.Key == key {
				return p, nil
			}
		}
	}
	return domain.Pack{}, errors.New("pack not found")
}

func (f *fakeDir) ChannelRefs(_ context.Context, packID int64) ([]string, error) {
	return f.refs[packID], nil
}

func (f *fakeDir) TouchLastSent(_ context.Context, userID int64) error {
	f.touched = append(f.touched, userID)
	return nil
}

type fakeStage1 struct {
	calls int
	seen  [][]domain.Post
}

func (f *fakeStage1) Normalize(_ context.Context, model string, posts []domain.Post) ([]domain.FactItem, error) {
	f.calls++
	f.seen = append(f.seen, posts)
	out := make([]domain.FactItem, 0, len(posts))
	for _, p := range posts {
		out = append(out, domain.FactItem{
			ChannelRef:  p.ChannelRef,
			MessageID:   p.MessageID,
			TextSHA256:  brain.Fingerprint(p.Text),
			Summary:     "condensed " + p.Text,
			URL:         p.URL,
			ChannelName: "@" + p.ChannelRef,
			Model:       model,
		})
	}
	return out, nil
}

type fakeStage2 struct {
	calls int
	err   error
}

func (f *fakeStage2) Synthesize(_ context.Context, _ string, pack domain.Pack, w domain.ReportWindow, _ string, facts []domain.FactItem) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return fmt.Sprintf("report %s %s facts=%d", pack.Key, w.Format(), len(facts)), nil
}

func testWindow() domain.ReportWindow {
	end := time.Date(2026, 2, 9, 18, 0, 0, 0, time.UTC)
	return domain.ReportWindow{Start: end.Add(-24 * time.Hour), End: end}
}

func testPosts(n int) []domain.Post {
	out := make([]domain.Post, 0, n)
	for i := n; i >= 1; i-- {
		out = append(out, domain.Post{
			ChannelRef: "techwire",
			MessageID:  fmt.Sprintf("%d", i),
			Text:       fmt.Sprintf("news item %d", i),
			URL:        fmt.Sprintf("https://t.me/techwire/%d", i),
		})
	}
	return out
}

func newTestPipeline(posts *fakePosts, facts *fakeFacts, reports *fakeReports, dir *fakeDir, s1 *fakeStage1, s2 *fakeStage2) *Pipeline {
	return NewPipeline(PipelineDeps{
		Posts:       posts,
		Facts:       facts,
		Reports:     reports,
		Directory:   dir,
		Normalizer:  s1,
		Synthesizer: s2,
		Config: PipelineConfig{
			Stage1Model:        "model-a",
			Stage2Model:        "model-b",
			FactCacheEnabled:   true,
			ReportCacheEnabled: true,
		},
	})
}

func TestBuildReportSecondRunHitsReportCache(t *testing.T) {
	dir := &fakeDir{refs: map[int64][]string{1: {"techwire"}}}
	facts := &fakeFacts{}
	reports := &fakeReports{}
	s1 := &fakeStage1{}
	s2 := &fakeStage2{}
	p := newTestPipeline(&fakePosts{posts: testPosts(4)}, facts, reports, dir, s1, s2)

	pack := domain.Pack{ID: 1, Key: "tech", Title: "Tech"}
	w := testWindow()

	first, cached, err := p.BuildReport(context.Background(), 10, pack, w)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if cached {
		t.Fatal("first run must not be a cache hit")
	}
	if s1.calls != 1 || s2.calls != 1 {
		t.Fatalf("expected one call per stage, got stage1=%d stage2=%d", s1.calls, s2.calls)
	}
	if first.FactCount != 4 {
		t.Fatalf("expected 4 facts, got %d", first.FactCount)
	}

	second, cached, err := p.BuildReport(context.Background(), 10, pack, w)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if !cached {
		t.Fatal("second run must hit the report cache")
	}
	if s2.calls != 1 {
		t.Fatalf("second run must not call stage2, got %d calls", s2.calls)
	}
	if second.Text != first.Text || second.ID != first.ID {
		t.Fatalf("cached report differs: %q vs %q", second.Text, first.Text)
	}
	if len(reports.saved) != 1 {
		t.Fatalf("expected a single stored report, got %d", len(reports.saved))
	}
}

func TestCondenseSkipsStage1ForCachedFacts(t *testing.T) {
	posts := testPosts(3)
	facts := &fakeFacts{items: map[domain.FactKey]domain.FactItem{}}
	for _, p := range posts[:2] {
		facts.items[p.Key()] = domain.FactItem{
			ChannelRef: p.ChannelRef,
			MessageID:  p.MessageID,
			TextSHA256: brain.Fingerprint(p.Text),
			Summary:    "cached " + p.Text,
			Model:      "model-a",
		}
	}

	dir := &fakeDir{refs: map[int64][]string{1: {"techwire"}}}
	s1 := &fakeStage1{}
	s2 := &fakeStage2{}
	p := newTestPipeline(&fakePosts{posts: posts}, facts, &fakeReports{}, dir, s1, s2)

	rep, _, err := p.BuildReport(context.Background(), 10, domain.Pack{ID: 1, Key: "tech"}, testWindow())
	if err != nil {
		t.Fatalf("BuildReport: %v", err)
	}

	if s1.calls != 1 {
		t.Fatalf("expected one stage1 call for the gap, got %d", s1.calls)
	}
	if len(s1.seen[0]) != 1 || s1.seen[0][0].MessageID != posts[2].MessageID {
		t.Fatalf("expected only the uncached post in stage1, got %+v", s1.seen[0])
	}
	if rep.FactCount != 3 {
		t.Fatalf("expected all 3 facts in the report, got %d", rep.FactCount)
	}
}

func TestCondenseRefreshesStaleFacts(t *testing.T) {
	posts := testPosts(1)
	stale := domain.FactItem{
		ChannelRef: posts[0].ChannelRef,
		MessageID:  posts[0].MessageID,
		TextSHA256: brain.Fingerprint("an older revision of the text"),
		Summary:    "stale summary",
		Model:      "model-a",
	}
	facts := &fakeFacts{items: map[domain.FactKey]domain.FactItem{posts[0].Key(): stale}}

	dir := &fakeDir{refs: map[int64][]string{1: {"techwire"}}}
	s1 := &fakeStage1{}
	p := newTestPipeline(&fakePosts{posts: posts}, facts, &fakeReports{}, dir, s1, &fakeStage2{})

	if _, _, err := p.BuildReport(context.Background(), 10, domain.Pack{ID: 1, Key: "tech"}, testWindow()); err != nil {
		t.Fatalf("BuildReport: %v", err)
	}
	if s1.calls != 1 {
		t.Fatalf("edited post must be re-condensed, stage1 calls=%d", s1.calls)
	}
	got := facts.items[posts[0].Key()]
	if got.Summary == "stale summary" {
		t.Fatal("stale fact was not replaced")
	}
	if got.TextSHA256 != brain.Fingerprint(posts[0].Text) {
		t.Fatal("refreshed fact carries the wrong text hash")
	}
}

func TestBuildReportPreservesPostOrder(t *testing.T) {
	posts := testPosts(5)
	dir := &fakeDir{refs: map[int64][]string{1: {"techwire"}}}
	facts := &fakeFacts{}
	reports := &fakeReports{}
	p := newTestPipeline(&fakePosts{posts: posts}, facts, reports, dir, &fakeStage1{}, &fakeStage2{})

	rep, _, err := p.BuildReport(context.Background(), 10, domain.Pack{ID: 1, Key: "tech"}, testWindow())
	if err != nil {
		t.Fatalf("BuildReport: %v", err)
	}

	ordered := make([]domain.FactItem, 0, len(posts))
	for _, post := range posts {
		ordered = append(ordered, facts.items[post.Key()])
	}
	want := brain.InputHash("tech", testWindow(), "", "model-b", ordered)
	if rep.InputHash != want {
		t.Fatal("input hash does not reflect loader post order")
	}
}

func TestBuildReportDisabledFactCache(t *testing.T) {
	posts := testPosts(2)
	facts := &fakeFacts{items: map[domain.FactKey]domain.FactItem{}}
	for _, p := range posts {
		facts.items[p.Key()] = domain.FactItem{
			ChannelRef: p.ChannelRef,
			MessageID:  p.MessageID,
			TextSHA256: brain.Fingerprint(p.Text),
			Summary:    "cached " + p.Text,
			Model:      "model-a",
		}
	}

	dir := &fakeDir{refs: map[int64][]string{1: {"techwire"}}}
	s1 := &fakeStage1{}
	p := NewPipeline(PipelineDeps{
		Posts:       &fakePosts{posts: posts},
		Facts:       facts,
		Reports:     &fakeReports{},
		Directory:   dir,
		Normalizer:  s1,
		Synthesizer: &fakeStage2{},
		Config: PipelineConfig{
			Stage1Model: "model-a",
			Stage2Model: "model-b",
		},
	})

	if _, _, err := p.BuildReport(context.Background(), 10, domain.Pack{ID: 1, Key: "tech"}, testWindow()); err != nil {
		t.Fatalf("BuildReport: %v", err)
	}
	if facts.lookups != 0 {
		t.Fatalf("disabled fact cache must not be read, lookups=%d", facts.lookups)
	}
	if s1.calls != 1 {
		t.Fatalf("all posts go through stage1 when the cache is off, calls=%d", s1.calls)
	}
}

func TestBuildReportZeroPosts(t *testing.T) {
	dir := &fakeDir{refs: map[int64][]string{1: {"techwire"}}}
	s1 := &fakeStage1{}
	s2 := &fakeStage2{}
	p := newTestPipeline(&fakePosts{}, &fakeFacts{}, &fakeReports{}, dir, s1, s2)

	rep, cached, err := p.BuildReport(context.Background(), 10, domain.Pack{ID: 1, Key: "tech", Title: "Tech"}, testWindow())
	if err != nil {
		t.Fatalf("BuildReport: %v", err)
	}
	if cached {
		t.Fatal("empty window still produces a fresh report")
	}
	if s1.calls != 0 {
		t.Fatalf("no posts means no stage1 calls, got %d", s1.calls)
	}
	if rep.FactCount != 0 {
		t.Fatalf("expected zero facts, got %d", rep.FactCount)
	}
	if rep.Text == "" {
		t.Fatal("empty window must still yield report text")
	}
}
