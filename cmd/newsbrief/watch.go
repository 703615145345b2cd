package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gorhill/cronexpr"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func watchCmd(c *cli) *cobra.Command {
	var (
		spec   string
		query  string
		runs   int
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Run the same brief on a cron schedule, sharing memory between runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			if spec == "" {
				spec = c.cfg.Watch.Cron
			}
			if query == "" {
				query = c.cfg.Watch.Query
			}
			query = strings.TrimSpace(query)
			if query == "" {
				return fmt.Errorf("a query is required (--query or watch.query)")
			}
			expr, err := cronexpr.Parse(spec)
			if err != nil {
				return fmt.Errorf("invalid cron expression %q: %w", spec, err)
			}

			ctx := cmd.Context()
			a, err := newApp(ctx, c.cfg, c.logger)
			if err != nil {
				return err
			}
			defer a.Close()
			a.serveMetrics(ctx)

			w := &watcher{
				next:   expr.Next,
				now:    time.Now,
				logger: c.logger.Named("watch"),
				run: func(ctx context.Context) error {
					return runBrief(ctx, a, query, asJSON, cmd.OutOrStdout())
				},
			}
			return w.loop(ctx, runs)
		},
	}
	cmd.Flags().StringVar(&spec, "cron", "", "cron expression (default watch.cron)")
	cmd.Flags().StringVarP(&query, "query", "q", "", "query to brief (default watch.query)")
	cmd.Flags().IntVar(&runs, "runs", 0, "stop after this many runs (0 runs until interrupted)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print artifacts as JSON")
	return cmd
}

// watcher fires run at every schedule tick. A failed run is logged and the
// schedule continues.
type watcher struct {
	next   func(time.Time) time.Time
	now    func() time.Time
	run    func(ctx context.Context) error
	logger *zap.Logger
}

func (w *watcher) loop(ctx context.Context, limit int) error {
	for done := 0; limit <= 0 || done < limit; done++ {
		now := w.now()
		at := w.next(now)
		if at.IsZero() {
			return fmt.Errorf("schedule has no future occurrence")
		}
		w.logger.Info("next brief scheduled", zap.Time("at", at))

		timer := time.NewTimer(at.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}

		if err := w.run(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			w.logger.Error("scheduled brief failed", zap.Error(err))
		}
	}
	return nil
}
