// Package analytics keeps lightweight per-owner execution counters in
// Redis. Counters feed usage dashboards; losing them never affects jobs,
// so every write here is best-effort.
package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"taskvault/internal/domain"
	"taskvault/internal/executor"
)

// DefaultRetention is how long a counter bucket is kept.
const DefaultRetention = 30 * 24 * time.Hour

type RedisSink struct {
	client    *redis.Client
	retention time.Duration
	clock     func() time.Time
	log       zerolog.Logger
}

func NewRedisSink(client *redis.Client, log zerolog.Logger) *RedisSink {
	return &RedisSink{
		client:    client,
		retention: DefaultRetention,
		clock:     time.Now,
		log:       log.With().Str("component", "analytics").Logger(),
	}
}

// RecordExecution bumps the owner's daily counter for one execution.
func (s *RedisSink) RecordExecution(ctx context.Context, ownerID uuid.UUID, jobType domain.JobType, outcome string) {
	key := buildKey(ownerID.String(), string(jobType), outcome, s.clock())

	pipe := s.client.Pipeline()
	pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, s.retention)

	if _, err := pipe.Exec(ctx); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("execution counter not recorded")
	}
}

// ExecutionCount reads one owner's counter for a given day.
func (s *RedisSink) ExecutionCount(ctx context.Context, ownerID uuid.UUID, jobType domain.JobType, outcome string, day time.Time) (int64, error) {
	key := buildKey(ownerID.String(), string(jobType), outcome, day)
	count, err := s.client.Get(ctx, key).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read counter %s: %w", key, err)
	}
	return count, nil
}

func buildKey(ownerID, jobType, outcome string, t time.Time) string {
	return fmt.Sprintf("u:%s:t:%s:%s:%s", ownerID, jobType, outcome, dayBucket(t))
}

func dayBucket(t time.Time) string {
	return t.UTC().Format("20060102")
}

var _ executor.AnalyticsSink = (*RedisSink)(nil)
