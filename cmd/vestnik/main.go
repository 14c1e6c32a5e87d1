package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"vestnik/internal/app"
	"vestnik/internal/config"
	"vestnik/internal/logging"
)

func main() {
	root := &cobra.Command{
		Use:           "vestnik",
		Short:         "Channel digest pipeline: harvest posts, condense them, deliver reports",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(serveCmd(), workerCmd(), harvestCmd(), reportCmd(), migrateCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newApp(ctx context.Context) (*app.Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return app.New(ctx, cfg, logging.New(cfg.Logging.Level))
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the harvest and delivery loops until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			return a.Serve(ctx)
		},
	}
}

func workerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "oneshot",
		Short: "Run one delivery cycle and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			return a.RunWorkerOnce(cmd.Context())
		},
	}
}

func harvestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "harvest",
		Short: "Run one harvest cycle and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			inserted, err := a.RunHarvestOnce(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("harvested %d new posts\n", inserted)
			return nil
		},
	}
}

func reportCmd() *cobra.Command {
	var (
		userID  int64
		packKey string
		hours   int
		endStr  string
		snap    string
	)

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Build one report and print it",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			var end *time.Time
			if endStr != "" {
				t, err := time.Parse(time.RFC3339, endStr)
				if err != nil {
					return fmt.Errorf("parse --end: %w", err)
				}
				end = &t
			}

			rep, cached, err := a.BuildReport(cmd.Context(), userID, packKey, hours, end, snap)
			if err != nil {
				return err
			}

			fmt.Println(rep.Text)
			fmt.Fprintf(os.Stderr, "window=%s facts=%d cached=%v\n", rep.Window.Format(), rep.FactCount, cached)
			return nil
		},
	}

	cmd.Flags().Int64Var(&userID, "user", 0, "subscriber id the report belongs to")
	cmd.Flags().StringVar(&packKey, "pack", "", "pack key to report on")
	cmd.Flags().IntVar(&hours, "hours", 0, "window length in hours (default from config)")
	cmd.Flags().StringVar(&endStr, "end", "", "window end, RFC3339 (default now)")
	cmd.Flags().StringVar(&snap, "snap", "", "window snap: none, minute, 5min, 10min, hour")
	_ = cmd.MarkFlagRequired("pack")

	return cmd
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the idempotent database schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			return a.Migrate(cmd.Context())
		},
	}
}
