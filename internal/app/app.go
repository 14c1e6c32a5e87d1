package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"vestnik/internal/brain"
	"vestnik/internal/config"
	"vestnik/internal/domain"
	"vestnik/internal/infrastructure/harvester"
	"vestnik/internal/infrastructure/llm"
	"vestnik/internal/infrastructure/scheduler"
	"vestnik/internal/infrastructure/storage"
	"vestnik/internal/infrastructure/telegram"
	"vestnik/internal/logging"
	"vestnik/internal/usecase"
	"vestnik/internal/window"
)

// Application wires configuration to adapters, use cases, and the run loops.
type Application struct {
	cfg       config.Config
	logger    *slog.Logger
	db        *sql.DB
	store     *storage.Store
	pipeline  *usecase.Pipeline
	worker    *usecase.Worker
	harvester *harvester.Harvester
}

// New connects to the database and assembles every component. Close releases
// the connection pool.
func New(ctx context.Context, cfg config.Config, baseLogger *slog.Logger) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level)
	}

	db, err := storage.Open(ctx, cfg.Database.DSN)
	if err != nil {
		return nil, err
	}
	store := storage.New(db)

	chat := llm.New(cfg.AI, baseLogger.With("component", "llm"))
	normalizer := brain.NewNormalizer(chat, brain.Stage1Config{
		BatchSize: cfg.AI.Stage1Batch,
		TextMax:   cfg.AI.Stage1TextMax,
		MaxTokens: cfg.AI.Stage1MaxTokens,
	}, baseLogger.With("component", "stage1"))
	synthesizer := brain.NewSynthesizer(chat, brain.Stage2Config{
		MinFacts:    cfg.AI.MinFacts,
		MaxTokens:   cfg.AI.Stage2MaxTokens,
		Temperature: cfg.AI.Stage2Temperature,
	})

	pipeline := usecase.NewPipeline(usecase.PipelineDeps{
		Posts:       store.Posts(),
		Facts:       store.Facts(),
		Reports:     store.Reports(),
		Directory:   store.Directory(),
		Normalizer:  normalizer,
		Synthesizer: synthesizer,
		Config: usecase.PipelineConfig{
			Stage1Model:        cfg.AI.Stage1Model,
			Stage2Model:        cfg.AI.Stage2Model,
			PostLimit:          cfg.AI.Limit,
			FactCacheEnabled:   cfg.AI.FactCacheEnabled,
			ReportCacheEnabled: cfg.AI.ReportCacheEnabled,
		},
		Logger: baseLogger.With("component", "pipeline"),
	})

	worker := usecase.NewWorker(usecase.WorkerDeps{
		Directory: store.Directory(),
		Posts:     store.Posts(),
		Ledger:    store.Ledger(),
		Messenger: telegram.NewSender(cfg.Telegram.BotToken, cfg.Telegram.BaseURL),
		Builder:   pipeline,
		Config: usecase.WorkerConfig{
			Mode:               cfg.Worker.Mode,
			Hours:              cfg.AI.Hours,
			Snap:               window.ParseSnap(cfg.AI.Snap),
			MaxPostsPerUser:    cfg.Worker.MaxPostsPerUser,
			DefaultIntervalSec: cfg.Worker.DefaultIntervalSec,
			DryRun:             cfg.Worker.DryRun,
			Parallelism:        cfg.Worker.Parallelism,
		},
		Logger: baseLogger.With("component", "worker"),
	})

	harv := harvester.New(store.Posts(), nil, harvester.Config{
		BaseURL:         cfg.Harvester.BaseURL,
		LimitPerChannel: cfg.Harvester.LimitPerChannel,
		TTLHours:        cfg.Harvester.TTLHours,
	}, baseLogger.With("component", "harvester"))

	return &Application{
		cfg:       cfg,
		logger:    baseLogger,
		db:        db,
		store:     store,
		pipeline:  pipeline,
		worker:    worker,
		harvester: harv,
	}, nil
}

// Migrate applies the idempotent schema bootstrap.
func (a *Application) Migrate(ctx context.Context) error {
	return storage.EnsureSchema(ctx, a.db)
}

// Serve runs the harvest and delivery loops until the context ends.
func (a *Application) Serve(ctx context.Context) error {
	if err := a.Migrate(ctx); err != nil {
		return err
	}

	var schedulers []*scheduler.IntervalScheduler

	if a.cfg.Harvester.Enabled {
		s := scheduler.NewInterval(time.Duration(a.cfg.Harvester.IntervalSec) * time.Second)
		schedulers = append(schedulers, s)
		if err := s.Start(ctx, func(time.Time) {
			if _, err := a.harvester.Cycle(ctx); err != nil {
				a.logger.Error("harvest cycle failed", "error", err)
			}
		}); err != nil {
			return err
		}
	}

	if a.cfg.Worker.Enabled {
		s := scheduler.NewInterval(time.Duration(a.cfg.Worker.IntervalSec) * time.Second)
		schedulers = append(schedulers, s)
		if err := s.Start(ctx, func(now time.Time) {
			if err := a.worker.RunCycle(ctx, now); err != nil {
				a.logger.Error("delivery cycle failed", "error", err)
			}
		}); err != nil {
			return err
		}
	}

	a.logger.Info("serving",
		"worker", a.cfg.Worker.Enabled, "mode", a.cfg.Worker.Mode,
		"harvester", a.cfg.Harvester.Enabled)

	<-ctx.Done()
	for _, s := range schedulers {
		_ = s.Stop(context.Background())
	}
	return nil
}

// RunWorkerOnce performs a single delivery cycle.
func (a *Application) RunWorkerOnce(ctx context.Context) error {
	return a.worker.RunCycle(ctx, time.Now())
}

// RunHarvestOnce performs a single harvest cycle and returns inserted rows.
func (a *Application) RunHarvestOnce(ctx context.Context) (int, error) {
	return a.harvester.Cycle(ctx)
}

// BuildReport builds (or fetches from cache) one report for a user and pack
// key over a window ending at end. Used by the CLI.
func (a *Application) BuildReport(ctx context.Context, userID int64, packKey string, hours int, end *time.Time, snap string) (*domain.Report, bool, error) {
	pack, err := a.store.Directory().PackByKey(ctx, packKey)
	if err != nil {
		return nil, false, err
	}

	if hours <= 0 {
		hours = a.cfg.AI.Hours
	}
	if snap == "" {
		snap = a.cfg.AI.Snap
	}
	w, err := window.Resolve(window.Request{End: end, Hours: hours, Snap: window.ParseSnap(snap)}, time.Now())
	if err != nil {
		return nil, false, fmt.Errorf("resolve window: %w", err)
	}

	return a.pipeline.BuildReport(ctx, userID, pack, w)
}

// Close releases the database pool.
func (a *Application) Close() error {
	return a.db.Close()
}
