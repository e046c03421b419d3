package cleanup

import (
	"context"
	"fmt"
	"time"

	"github.com/lunikdev/JellyGrab/internal/logctx"
)

// HistoryPruner deletes download history rows.
type HistoryPruner interface {
	DeleteHistoryBefore(ctx context.Context, before time.Time) (int64, error)
}

// PruneHistory deletes history older than retention, measured from now.
// Downloaded files are never touched.
func PruneHistory(ctx context.Context, repo HistoryPruner, retention time.Duration, now time.Time) (int64, error) {
	if retention <= 0 {
		return 0, nil
	}

	removed, err := repo.DeleteHistoryBefore(ctx, now.Add(-retention))
	if err != nil {
		return 0, fmt.Errorf("failed to prune download history: %w", err)
	}

	if removed > 0 {
		logctx.LoggerFromContext(ctx).Info("pruned download history", "removed", removed, "retention", retention)
	}

	return removed, nil
}

// Run prunes once immediately and then every interval until ctx is done.
// Failures are logged and retried on the next tick.
func Run(ctx context.Context, repo HistoryPruner, retention, interval time.Duration) error {
	logger := logctx.LoggerFromContext(ctx)

	if interval <= 0 {
		interval = time.Hour
	}

	logger.Info("starting history cleanup", "retention", retention, "interval", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := PruneHistory(ctx, repo, retention, time.Now()); err != nil {
			logger.Error("history cleanup failed", "err", err)
		}

		select {
		case <-ctx.Done():
			logger.Info("shutting down history cleanup")

			return nil
		case <-ticker.C:
		}
	}
}
