package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"vestnik/internal/domain"
	"vestnik/internal/ports"
	"vestnik/internal/window"
)

// postDigestBudget caps one raw-post digest message, leaving headroom under
// the 4096-char platform ceiling for the header line.
const postDigestBudget = 3800

// ReportBuilder is the pipeline surface the worker drives.
type ReportBuilder interface {
	BuildReport(ctx context.Context, userID int64, pack domain.Pack, w domain.ReportWindow) (*domain.Report, bool, error)
}

// WorkerConfig holds the delivery-loop policy knobs.
type WorkerConfig struct {
	Mode               string
	Hours              int
	Snap               window.Snap
	MaxPostsPerUser    int
	DefaultIntervalSec int
	DryRun             bool
	Parallelism        int
}

// WorkerDeps wires adapters into the delivery worker.
type WorkerDeps struct {
	Directory ports.Directory
	Posts     ports.PostLoader
	Ledger    ports.DeliveryLedger
	Messenger ports.Messenger
	Builder   ReportBuilder
	Config    WorkerConfig
	Logger    *slog.Logger
}

// Worker walks all due subscribers once per cycle and delivers either
// synthesized reports or raw post digests, depending on mode. A ledger
// reservation precedes every send; a reservation that later fails to send is
// never released, so delivery is at-most-once.
type Worker struct {
	dir       ports.Directory
	posts     ports.PostLoader
	ledger    ports.DeliveryLedger
	messenger ports.Messenger
	builder   ReportBuilder
	cfg       WorkerConfig
	logger    *slog.Logger
}

// NewWorker constructs the delivery worker.
func NewWorker(deps WorkerDeps) *Worker {
	cfg := deps.Config
	if cfg.Mode == "" {
		cfg.Mode = "report"
	}
	if cfg.Hours <= 0 {
		cfg.Hours = 24
	}
	if cfg.MaxPostsPerUser <= 0 {
		cfg.MaxPostsPerUser = 10
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = 1
	}
	return &Worker{
		dir:       deps.Directory,
		posts:     deps.Posts,
		ledger:    deps.Ledger,
		messenger: deps.Messenger,
		builder:   deps.Builder,
		cfg:       cfg,
		logger:    deps.Logger,
	}
}

// RunCycle serves every due subscriber once. Subscriber failures are logged
// and isolated; only the initial roster query can fail the cycle.
func (w *Worker) RunCycle(ctx context.Context, now time.Time) error {
	subs, err := w.dir.Subscribers(ctx)
	if err != nil {
		return fmt.Errorf("list subscribers: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.cfg.Parallelism)
	for _, sub := range subs {
		sub := sub
		g.Go(func() error {
			if err := w.serve(gctx, sub, now); err != nil {
				w.warn("subscriber cycle failed", "user", sub.ID, "error", err)
			}
			return nil
		})
	}
	return g.Wait()
}

func (w *Worker) serve(ctx context.Context, sub domain.Subscriber, now time.Time) error {
	settings, err := w.dir.Settings(ctx, sub.ID)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	if settings.IntervalSec <= 0 {
		settings.IntervalSec = w.cfg.DefaultIntervalSec
	}
	if !settings.Due(now) {
		return nil
	}

	packs, err := w.dir.SubscribedPacks(ctx, sub.ID)
	if err != nil {
		return fmt.Errorf("load packs: %w", err)
	}
	if len(packs) == 0 {
		return nil
	}

	if w.cfg.Mode == "posts" {
		return w.servePosts(ctx, sub, packs, settings.FormatMode)
	}
	return w.serveReports(ctx, sub, packs, now)
}

// serveReports builds and delivers one report per subscribed pack. A pack
// failure is logged and skipped so the remaining packs still go out.
func (w *Worker) serveReports(ctx context.Context, sub domain.Subscriber, packs []domain.Pack, now time.Time) error {
	win, err := window.Resolve(window.Request{Hours: w.cfg.Hours, Snap: w.cfg.Snap}, now)
	if err != nil {
		return fmt.Errorf("resolve window: %w", err)
	}

	sent := 0
	for _, pack := range packs {
		rep, cached, err := w.builder.BuildReport(ctx, sub.ID, pack, win)
		if err != nil {
			w.warn("report build failed", "user", sub.ID, "pack", pack.Key, "window", win.Format(), "error", err)
			continue
		}

		ok, err := w.ledger.ReserveReport(ctx, sub.ID, rep.ID)
		if err != nil {
			w.warn("report reservation failed", "user", sub.ID, "pack", pack.Key, "error", err)
			continue
		}
		if !ok {
			w.debug("report already delivered", "user", sub.ID, "pack", pack.Key, "window", win.Format())
			continue
		}

		if w.cfg.DryRun {
			w.info("dry run, send skipped", "user", sub.ID, "pack", pack.Key, "cached", cached)
			continue
		}

		if err := w.messenger.Send(ctx, sub.TgID, rep.Text); err != nil {
			// The reservation stays; this report will not be retried.
			w.warn("report send failed", "user", sub.ID, "pack", pack.Key, "window", win.Format(), "error", err)
			continue
		}
		sent++
	}

	if sent > 0 {
		if err := w.dir.TouchLastSent(ctx, sub.ID); err != nil {
			w.warn("last_sent update failed", "user", sub.ID, "error", err)
		}
	}
	return nil
}

// servePosts delivers raw unsent posts as one digest message, reserving each
// included post individually.
func (w *Worker) servePosts(ctx context.Context, sub domain.Subscriber, packs []domain.Pack, formatMode string) error {
	refs, err := w.packRefs(ctx, packs)
	if err != nil {
		return err
	}

	posts, err := w.posts.UnsentPosts(ctx, sub.ID, refs, w.cfg.MaxPostsPerUser)
	if err != nil {
		return fmt.Errorf("load unsent posts: %w", err)
	}
	if len(posts) == 0 {
		return nil
	}

	var b strings.Builder
	included := 0
	for _, post := range posts {
		entry := formatPostEntry(post, formatMode)
		if b.Len()+len(entry) > postDigestBudget {
			break
		}

		ok, err := w.ledger.ReservePost(ctx, sub.ID, post.Key())
		if err != nil {
			w.warn("post reservation failed", "user", sub.ID, "post", post.URL, "error", err)
			continue
		}
		if !ok {
			continue
		}

		b.WriteString(entry)
		included++
	}
	if included == 0 {
		return nil
	}

	if w.cfg.DryRun {
		w.info("dry run, send skipped", "user", sub.ID, "posts", included)
		return nil
	}

	if err := w.messenger.Send(ctx, sub.TgID, strings.TrimRight(b.String(), "\n")); err != nil {
		return fmt.Errorf("send digest: %w", err)
	}

	if err := w.dir.TouchLastSent(ctx, sub.ID); err != nil {
		w.warn("last_sent update failed", "user", sub.ID, "error", err)
	}
	return nil
}

func (w *Worker) packRefs(ctx context.Context, packs []domain.Pack) ([]string, error) {
	seen := map[string]struct{}{}
	var refs []string
	for _, pack := range packs {
		packRefs, err := w.dir.ChannelRefs(ctx, pack.ID)
		if err != nil {
			return nil, fmt.Errorf("resolve channels for %s: %w", pack.Key, err)
		}
		for _, ref := range packRefs {
			if _, dup := seen[ref]; dup {
				continue
			}
			seen[ref] = struct{}{}
			refs = append(refs, ref)
		}
	}
	return refs, nil
}

func formatPostEntry(post domain.Post, formatMode string) string {
	text := strings.Join(strings.Fields(post.Text), " ")
	if formatMode == "compact" {
		if r := []rune(text); len(r) > 100 {
			text = string(r[:100]) + "…"
		}
		return fmt.Sprintf("• %s\n%s\n", text, post.URL)
	}
	if r := []rune(text); len(r) > 280 {
		text = string(r[:280]) + "…"
	}
	return fmt.Sprintf("📨 @%s\n%s\n🔗 %s\n\n", post.ChannelRef, text, post.URL)
}

func (w *Worker) debug(msg string, args ...any) {
	if w.logger != nil {
		w.logger.Debug(msg, args...)
	}
}

func (w *Worker) info(msg string, args ...any) {
	if w.logger != nil {
		w.logger.Info(msg, args...)
	}
}

func (w *Worker) warn(msg string, args ...any) {
	if w.logger != nil {
		w.logger.Warn(msg, args...)
	}
}
