package shutdown

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"insightpdf/core"

	"go.uber.org/zap"
)

// TaskPurger removes task records older than maxAge. tasks.Store satisfies it.
type TaskPurger interface {
	Cleanup(ctx context.Context, maxAge time.Duration) (int, error)
}

// PurgeTasks returns a hook that drops task records older than maxAge.
// Failures are logged and never block shutdown.
func PurgeTasks(logger *zap.Logger, purger TaskPurger, maxAge time.Duration) core.ShutdownFunc {
	return func(ctx context.Context) error {
		if maxAge <= 0 {
			return nil
		}
		removed, err := purger.Cleanup(ctx, maxAge)
		if err != nil {
			logger.Warn("task purge failed", zap.Error(err))
			return nil
		}
		if removed > 0 {
			logger.Info("purged old tasks",
				zap.Int("removed", removed),
				zap.Duration("max_age", maxAge),
			)
		}
		return nil
	}
}

// RemoveStaleFiles returns a hook deleting leftovers of interrupted atomic
// writes (names containing ".tmp-") directly under dir.
func RemoveStaleFiles(logger *zap.Logger, dir string) core.ShutdownFunc {
	return func(ctx context.Context) error {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if !os.IsNotExist(err) {
				logger.Warn("cannot list directory for stale files",
					zap.String("dir", dir),
					zap.Error(err),
				)
			}
			return nil
		}

		removed := 0
		for _, entry := range entries {
			if ctx.Err() != nil {
				logger.Warn("stale file cleanup interrupted", zap.Int("removed", removed))
				return nil
			}
			if entry.IsDir() || !strings.Contains(entry.Name(), ".tmp-") {
				continue
			}
			path := filepath.Join(dir, entry.Name())
			if err := os.Remove(path); err != nil {
				logger.Warn("failed to remove stale file",
					zap.String("file", entry.Name()),
					zap.Error(err),
				)
				continue
			}
			removed++
		}
		if removed > 0 {
			logger.Info("removed stale files",
				zap.String("dir", dir),
				zap.Int("removed", removed),
			)
		}
		return nil
	}
}
