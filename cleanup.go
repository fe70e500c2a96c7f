package main

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"insightpdf/shutdown"
)

// Bounds for --max-age-hours, the same as the HTTP cleanup endpoint.
const (
	minCleanupHours = 1
	maxCleanupHours = 168
)

func newCleanupCmd(env *environment) *cobra.Command {
	var maxAgeHours int
	var keepRuns bool
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Remove task records older than the given age",
		Long: `Remove finished task records older than --max-age-hours from the task store.
Tasks still processing are kept. Result files and page images are not
touched. With the sqlite store the run history is pruned to the same age
unless --keep-runs is set.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if maxAgeHours < minCleanupHours || maxAgeHours > maxCleanupHours {
				return fmt.Errorf("max-age-hours must be between %d and %d, got %d",
					minCleanupHours, maxCleanupHours, maxAgeHours)
			}
			return env.cleanup(cmd.Context(), time.Duration(maxAgeHours)*time.Hour, keepRuns)
		},
	}
	cmd.Flags().IntVar(&maxAgeHours, "max-age-hours", 24, "remove tasks not updated for this many hours")
	cmd.Flags().BoolVar(&keepRuns, "keep-runs", false, "keep the run history")
	return cmd
}

func (e *environment) cleanup(ctx context.Context, maxAge time.Duration, keepRuns bool) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, logger, err := e.setup(false)
	if err != nil {
		return err
	}
	defer logger.Sync()
	log := logger.Zap().Named("cleanup")

	a, err := newApp(ctx, cfg, logger, appOptions{})
	if err != nil {
		return err
	}
	defer a.close(context.Background())

	removed, err := a.store.Cleanup(ctx, maxAge)
	if err != nil {
		return fmt.Errorf("cleanup tasks: %w", err)
	}

	var pruned int64
	if a.runs != nil && !keepRuns {
		pruned, err = a.runs.PruneRuns(ctx, time.Now().Add(-maxAge))
		if err != nil {
			return fmt.Errorf("prune run history: %w", err)
		}
	}

	if err := shutdown.RemoveStaleFiles(log, cfg.DataDir)(ctx); err != nil {
		log.Warn("stale file cleanup failed", zap.Error(err))
	}

	log.Info("cleanup finished",
		zap.Int("tasks_removed", removed),
		zap.Int64("runs_pruned", pruned),
		zap.Duration("max_age", maxAge),
	)

	green := color.New(color.FgGreen)
	green.Fprintf(e.out, "✓ Removed %d task(s) older than %s\n", removed, maxAge)
	if a.runs != nil && !keepRuns {
		green.Fprintf(e.out, "✓ Pruned %d run record(s)\n", pruned)
	}
	return nil
}
