package storage

import (
	"context"
	"errors"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/redis/go-redis/v9"

	"github.com/kiruthick0007/library-lending/internal/core/domain"
	"github.com/kiruthick0007/library-lending/internal/port"
)

const (
	availabilityKeyPrefix = "availability:"
	availabilityTTL       = 10 * time.Minute
	idempotencyKeyTTL     = 24 * time.Hour
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// RedisCache holds availability snapshots for display reads and idempotency
// keys for the borrow endpoint. Snapshots are refreshed after commits and may
// lag the store; they are never a basis for a write.
type RedisCache struct {
	client *redis.Client
}

func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

func (r *RedisCache) GetAvailability(ctx context.Context, bookID string) (*port.AvailabilitySnapshot, error) {
	data, err := r.client.Get(ctx, availabilityKeyPrefix+bookID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var snap port.AvailabilitySnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

func (r *RedisCache) SetAvailability(ctx context.Context, book domain.Book) error {
	snap := port.AvailabilitySnapshot{
		BookID:          book.ID,
		TotalCopies:     book.TotalCopies,
		AvailableCopies: book.AvailableCopies,
		Version:         book.Version,
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, availabilityKeyPrefix+book.ID, data, availabilityTTL).Err()
}

func (r *RedisCache) SetIdempotency(ctx context.Context, key string) (bool, error) {
	ok, err := r.client.SetNX(ctx, key, 1, idempotencyKeyTTL).Result()
	if err != nil {
		return false, err
	}
	return ok, nil
}
