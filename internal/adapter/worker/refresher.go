package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/kiruthick0007/library-lending/internal/core/domain"
	"github.com/kiruthick0007/library-lending/internal/port"
)

// RefreshLoop drains committed book states and writes availability snapshots
// to the cache. Failures are logged and skipped: the snapshot has a TTL and
// the next commit on the same book refreshes it.
func RefreshLoop(id int, queue <-chan domain.Book, cache port.CacheRepository, log *slog.Logger) {
	for book := range queue {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)

		if err := cache.SetAvailability(ctx, book); err != nil {
			log.Warn("cache refresh failed", "worker", id, "book_id", book.ID, "error", err)
		}

		cancel()
	}
}
