package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// dedupeTTL keeps duplicate-delivery markers around for a week, well
	// past the queue's retry and redelivery horizon.
	dedupeTTL = 7 * 24 * time.Hour

	// counterTTL outlives the UTC day the counter belongs to so a send
	// landing just before midnight still counts against the right day.
	counterTTL = 48 * time.Hour
)

// Limiter enforces per-account daily send limits and at-most-once delivery
// per (run, step, lead) on top of Redis. Both guards are advisory: the
// dispatcher degrades to sending without them when Redis is unreachable.
type Limiter struct {
	client *redis.Client
}

func NewLimiter(client *redis.Client) *Limiter {
	return &Limiter{client: client}
}

func dedupeKey(runID, stepID, leadID string) string {
	return fmt.Sprintf("sent:%s:%s:%s", runID, stepID, leadID)
}

func counterKey(accountID string, day time.Time) string {
	return fmt.Sprintf("sends:%s:%s", accountID, day.UTC().Format("2006-01-02"))
}

// AlreadySent reports whether this exact delivery already went out. Checked
// before the transport call; redelivered jobs (worker crash after send,
// lease expiry) hit this and skip.
func (l *Limiter) AlreadySent(ctx context.Context, runID, stepID, leadID string) (bool, error) {
	n, err := l.client.Exists(ctx, dedupeKey(runID, stepID, leadID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// MarkSent records a completed delivery. Called only after the transport
// accepted the message.
func (l *Limiter) MarkSent(ctx context.Context, runID, stepID, leadID string) error {
	return l.client.Set(ctx, dedupeKey(runID, stepID, leadID), "1", dedupeTTL).Err()
}

// ReserveDailySlot atomically claims one send against the account's daily
// limit. When the limit is already exhausted the increment is rolled back
// and false is returned; the caller retries the job later.
func (l *Limiter) ReserveDailySlot(ctx context.Context, accountID string, limit int) (bool, error) {
	if limit <= 0 {
		return true, nil
	}
	key := counterKey(accountID, time.Now())
	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		return false, err
	}
	if count == 1 {
		l.client.Expire(ctx, key, counterTTL)
	}
	if count > int64(limit) {
		l.client.Decr(ctx, key)
		return false, nil
	}
	return true, nil
}
