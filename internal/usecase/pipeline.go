package usecase

import (
	"context"
	"fmt"
	"log/slog"

	"vestnik/internal/brain"
	"vestnik/internal/domain"
	"vestnik/internal/ports"
)

// Stage1 condenses raw posts into short neutral facts.
type Stage1 interface {
	Normalize(ctx context.Context, model string, posts []domain.Post) ([]domain.FactItem, error)
}

// Stage2 merges ordered facts into the final report text.
type Stage2 interface {
	Synthesize(ctx context.Context, model string, pack domain.Pack, w domain.ReportWindow, promptText string, facts []domain.FactItem) (string, error)
}

// PipelineConfig holds the report-construction policy knobs.
type PipelineConfig struct {
	Stage1Model        string
	Stage2Model        string
	PostLimit          int
	FactCacheEnabled   bool
	ReportCacheEnabled bool
}

// PipelineDeps wires all driven adapters into the report pipeline.
type PipelineDeps struct {
	Posts       ports.PostLoader
	Facts       ports.FactCache
	Reports     ports.ReportCache
	Directory   ports.Directory
	Normalizer  Stage1
	Synthesizer Stage2
	Config      PipelineConfig
	Logger      *slog.Logger
}

// Pipeline builds one report per (subscriber, pack, window). Two layers of
// memoization keep repeated runs cheap: the fact cache skips stage-1 for
// already-condensed posts, and the report cache skips stage-2 entirely when
// the input hash matches a stored report.
type Pipeline struct {
	posts   ports.PostLoader
	facts   ports.FactCache
	reports ports.ReportCache
	dir     ports.Directory
	stage1  Stage1
	stage2  Stage2
	cfg     PipelineConfig
	logger  *slog.Logger
}

// NewPipeline constructs the orchestration component.
func NewPipeline(deps PipelineDeps) *Pipeline {
	cfg := deps.Config
	if cfg.PostLimit <= 0 {
		cfg.PostLimit = 120
	}
	return &Pipeline{
		posts:   deps.Posts,
		facts:   deps.Facts,
		reports: deps.Reports,
		dir:     deps.Directory,
		stage1:  deps.Normalizer,
		stage2:  deps.Synthesizer,
		cfg:     cfg,
		logger:  deps.Logger,
	}
}

// BuildReport produces the report for one subscriber, pack, and window.
// The second return is true when the text came from the report cache.
func (p *Pipeline) BuildReport(ctx context.Context, userID int64, pack domain.Pack, w domain.ReportWindow) (*domain.Report, bool, error) {
	refs, err := p.dir.ChannelRefs(ctx, pack.ID)
	if err != nil {
		return nil, false, fmt.Errorf("resolve channels for %s: %w", pack.Key, err)
	}

	posts, err := p.posts.PostsInWindow(ctx, refs, w, p.cfg.PostLimit)
	if err != nil {
		return nil, false, fmt.Errorf("load posts for %s: %w", pack.Key, err)
	}

	facts, err := p.condense(ctx, posts)
	if err != nil {
		return nil, false, fmt.Errorf("condense posts for %s: %w", pack.Key, err)
	}

	hash := brain.InputHash(pack.Key, w, pack.PromptText, p.cfg.Stage2Model, facts)

	if p.cfg.ReportCacheEnabled {
		cached, err := p.reports.Find(ctx, userID, pack.Key, w, hash)
		if err != nil {
			return nil, false, fmt.Errorf("find report for %s: %w", pack.Key, err)
		}
		if cached != nil {
			p.debug("report cache hit", "user", userID, "pack", pack.Key, "window", w.Format())
			return cached, true, nil
		}
	}

	text, err := p.stage2.Synthesize(ctx, p.cfg.Stage2Model, pack, w, pack.PromptText, facts)
	if err != nil {
		return nil, false, fmt.Errorf("synthesize report for %s: %w", pack.Key, err)
	}

	rep := &domain.Report{
		UserID:    userID,
		PackID:    pack.ID,
		PackKey:   pack.Key,
		Window:    w,
		Text:      text,
		InputHash: hash,
		Model:     p.cfg.Stage2Model,
		FactCount: len(facts),
	}
	if err := p.reports.Save(ctx, rep); err != nil {
		return nil, false, fmt.Errorf("save report for %s: %w", pack.Key, err)
	}

	p.debug("report built", "user", userID, "pack", pack.Key, "window", w.Format(),
		"posts", len(posts), "facts", len(facts))
	return rep, false, nil
}

// condense resolves each post to a fact: from the cache when the stored
// summary still matches the post's current text hash, otherwise via a fresh
// stage-1 call. Output preserves the loader's post order.
func (p *Pipeline) condense(ctx context.Context, posts []domain.Post) ([]domain.FactItem, error) {
	if len(posts) == 0 {
		return nil, nil
	}

	hashes := make(map[domain.FactKey]string, len(posts))
	for _, post := range posts {
		hashes[post.Key()] = brain.Fingerprint(post.Text)
	}

	cached := map[domain.FactKey]domain.FactItem{}
	if p.cfg.FactCacheEnabled {
		keys := make([]domain.FactKey, 0, len(posts))
		for _, post := range posts {
			keys = append(keys, post.Key())
		}
		var err error
		cached, err = p.facts.Lookup(ctx, keys)
		if err != nil {
			return nil, fmt.Errorf("fact lookup: %w", err)
		}
	}

	var missing []domain.Post
	for _, post := range posts {
		item, ok := cached[post.Key()]
		if ok && item.Usable(hashes[post.Key()]) {
			continue
		}
		missing = append(missing, post)
	}

	fresh := map[domain.FactKey]domain.FactItem{}
	if len(missing) > 0 {
		items, err := p.stage1.Normalize(ctx, p.cfg.Stage1Model, missing)
		if err != nil {
			return nil, fmt.Errorf("normalize: %w", err)
		}
		if len(items) > 0 {
			if err := p.facts.Upsert(ctx, items); err != nil {
				return nil, fmt.Errorf("fact upsert: %w", err)
			}
		}
		for _, item := range items {
			fresh[item.Key()] = item
		}
		p.debug("stage1 done", "posts", len(missing), "facts", len(items),
			"cache_hits", len(posts)-len(missing))
	}

	out := make([]domain.FactItem, 0, len(posts))
	for _, post := range posts {
		key := post.Key()
		if item, ok := fresh[key]; ok {
			out = append(out, item)
			continue
		}
		if item, ok := cached[key]; ok && item.Usable(hashes[key]) {
			out = append(out, item)
		}
		// Posts the model dropped (ads, duplicates) contribute nothing.
	}
	return out, nil
}

func (p *Pipeline) debug(msg string, args ...any) {
	if p.logger != nil {
		p.logger.Debug(msg, args...)
	}
}
