package storage

import (
	"context"
	"database/sql"
	"time"

	"go.uber.org/zap"
)

// StartPruner starts a background goroutine that periodically deletes
// journal records older than retention. It stops when ctx is done.
func StartPruner(ctx context.Context, db *sql.DB, retention, interval time.Duration, logger *zap.Logger) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		// Do an initial cleanup
		pruneExpiredFetches(db, retention, logger)

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				pruneExpiredFetches(db, retention, logger)
			}
		}
	}()
}

func pruneExpiredFetches(db *sql.DB, retention time.Duration, logger *zap.Logger) int64 {
	deleted, err := DeleteExpiredFetches(db, time.Now().Add(-retention))
	if err != nil {
		logger.Error("error cleaning up expired fetches", zap.Error(err))
		return 0
	}
	if deleted > 0 {
		logger.Info("cleaned up expired fetches", zap.Int64("deleted", deleted))
	}
	return deleted
}
