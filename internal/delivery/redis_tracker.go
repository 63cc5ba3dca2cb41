// Package delivery records which webhook deliveries have been seen, so repeated
// deliveries of one submission can be reported. It never blocks ingestion.
package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const DefaultTTL = 7 * 24 * time.Hour

// Record is what is remembered about the first delivery of a submission.
type Record struct {
	ApplicationID string    `json:"application_id"`
	ReceivedAt    time.Time `json:"received_at"`
}

// RedisTracker stores one key per submission id with SETNX and a TTL.
type RedisTracker struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisTracker(client *redis.Client, ttl time.Duration) *RedisTracker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisTracker{client: client, prefix: "dealflow:delivery:", ttl: ttl}
}

func (t *RedisTracker) key(submissionID string) string {
	return t.prefix + submissionID
}

// Observe remembers the delivery and reports the first delivery's record when
// submissionID has been seen before within the TTL.
func (t *RedisTracker) Observe(ctx context.Context, submissionID string, record Record) (Record, bool, error) {
	data, err := json.Marshal(record)
	if err != nil {
		return Record{}, false, fmt.Errorf("marshal delivery record: %w", err)
	}

	key := t.key(submissionID)
	stored, err := t.client.SetNX(ctx, key, data, t.ttl).Result()
	if err != nil {
		return Record{}, false, fmt.Errorf("record delivery: %w", err)
	}
	if stored {
		return Record{}, false, nil
	}

	raw, err := t.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		// Expired between SETNX and GET; treat it as seen with no detail.
		return Record{}, true, nil
	}
	if err != nil {
		return Record{}, true, fmt.Errorf("lookup delivery: %w", err)
	}
	var first Record
	if err := json.Unmarshal(raw, &first); err != nil {
		return Record{}, true, fmt.Errorf("unmarshal delivery record: %w", err)
	}
	return first, true, nil
}

// Ping checks the Redis connection shared with the webhook rate limiter.
func (t *RedisTracker) Ping(ctx context.Context) error {
	return t.client.Ping(ctx).Err()
}
