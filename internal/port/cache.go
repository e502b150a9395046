package port

import (
	"context"

	"github.com/kiruthick0007/library-lending/internal/core/domain"
)

// AvailabilitySnapshot is the display-read view of a book's counters. It may
// be stale and must never be used as the basis for a write.
type AvailabilitySnapshot struct {
	BookID          string `json:"book_id"`
	TotalCopies     int    `json:"total_copies"`
	AvailableCopies int    `json:"available_copies"`
	Version         int64  `json:"version"`
}

type CacheRepository interface {
	// GetAvailability returns the cached snapshot, or (nil, nil) on a miss.
	GetAvailability(ctx context.Context, bookID string) (*AvailabilitySnapshot, error)

	// SetAvailability stores a snapshot taken from a committed book state.
	SetAvailability(ctx context.Context, book domain.Book) error

	// SetIdempotency sets a key for idempotency check, returns false if already exists.
	SetIdempotency(ctx context.Context, key string) (bool, error)
}

// Authorizer answers the elevated-privilege question for returns and
// administrative inventory changes.
type Authorizer interface {
	IsPrivileged(ctx context.Context, userID string) (bool, error)
}
