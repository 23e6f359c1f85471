package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const eventDedupeRetention = 24 * time.Hour

// EventRepository remembers emitted event IDs so a host retrying an emission
// does not fan out twice.
type EventRepository interface {
	// Reserve returns false when eventID was already emitted in projectID.
	Reserve(ctx context.Context, projectID, eventID string) (bool, error)
	Release(ctx context.Context, projectID, eventID string) error
}

type eventRedisRepo struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewEventRepository(rdb *redis.Client, ttl time.Duration) EventRepository {
	if ttl <= 0 {
		ttl = eventDedupeRetention
	}
	return &eventRedisRepo{rdb: rdb, ttl: ttl}
}

func (r *eventRedisRepo) keyEvent(projectID, eventID string) string {
	return fmt.Sprintf("hookq:events:%s:%s", projectID, eventID)
}

func (r *eventRedisRepo) Reserve(ctx context.Context, projectID, eventID string) (bool, error) {
	ok, err := r.rdb.SetNX(ctx, r.keyEvent(projectID, eventID), "1", r.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis SETNX event: %w", err)
	}
	return ok, nil
}

func (r *eventRedisRepo) Release(ctx context.Context, projectID, eventID string) error {
	if err := r.rdb.Del(ctx, r.keyEvent(projectID, eventID)).Err(); err != nil {
		return fmt.Errorf("redis DEL event: %w", err)
	}
	return nil
}
