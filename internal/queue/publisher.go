package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"

	"github.com/bobarin/beatframe/internal/models"
)

const (
	JobKeyPrefix  = "render:job:"
	StatusChannel = "render:jobs"

	publishTimeout = 2 * time.Second
)

// RedisPublisher mirrors job snapshots into Redis so other processes can
// poll a key or subscribe to the status channel.
type RedisPublisher struct {
	client *redis.Client
	ttl    time.Duration
	logger zerolog.Logger
}

func NewRedisPublisher(redisURL string, ttl time.Duration, logger zerolog.Logger) (*RedisPublisher, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisPublisher{client: client, ttl: ttl, logger: logger}, nil
}

func (p *RedisPublisher) Close() error {
	return p.client.Close()
}

// Observe implements Observer. Failures are logged, never propagated.
func (p *RedisPublisher) Observe(job models.JobView) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	if err := p.Publish(ctx, job); err != nil {
		p.logger.Warn().Err(err).Str("job_id", job.ID).Msg("failed to publish job status")
	}
}

// Publish stores the snapshot under render:job:{id} and announces it on
// the status channel.
func (p *RedisPublisher) Publish(ctx context.Context, job models.JobView) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	pipe := p.client.Pipeline()
	pipe.Set(ctx, JobKeyPrefix+job.ID, data, p.ttl)
	pipe.Publish(ctx, StatusChannel, data)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to publish job: %w", err)
	}
	return nil
}

// GetJob reads the last published snapshot. It returns nil when the key
// has expired or was never written.
func (p *RedisPublisher) GetJob(ctx context.Context, id string) (*models.JobView, error) {
	data, err := p.client.Get(ctx, JobKeyPrefix+id).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read job: %w", err)
	}

	var job models.JobView
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}
	return &job, nil
}
