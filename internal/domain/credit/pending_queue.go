package credit

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// PendingRefundsKey is the Redis list holding reservation ids whose refund
// failed.
const PendingRefundsKey = "credits:pending_refunds"

// PendingQueue is a fast path for the reconciler. The refund_pending status
// in Postgres is the source of truth.
type PendingQueue interface {
	Push(ctx context.Context, reservationID uuid.UUID) error
	// Pop returns uuid.Nil and false when the queue is empty.
	Pop(ctx context.Context) (uuid.UUID, bool, error)
}

// RedisPendingQueue stores pending refunds in a Redis list.
type RedisPendingQueue struct {
	rdb *redis.Client
}

func NewRedisPendingQueue(rdb *redis.Client) *RedisPendingQueue {
	return &RedisPendingQueue{rdb: rdb}
}

func (q *RedisPendingQueue) Push(ctx context.Context, reservationID uuid.UUID) error {
	return q.rdb.LPush(ctx, PendingRefundsKey, reservationID.String()).Err()
}

func (q *RedisPendingQueue) Pop(ctx context.Context) (uuid.UUID, bool, error) {
	val, err := q.rdb.RPop(ctx, PendingRefundsKey).Result()
	if errors.Is(err, redis.Nil) {
		return uuid.Nil, false, nil
	}
	if err != nil {
		return uuid.Nil, false, err
	}
	id, err := uuid.Parse(val)
	if err != nil {
		// Drop garbage rather than wedging the queue.
		return uuid.Nil, true, nil
	}
	return id, true, nil
}
