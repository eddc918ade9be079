package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/dashclip/dashclip-agent/internal/logging"
	"github.com/dashclip/dashclip-agent/internal/pipeline"
)

// DefaultPollTimeout bounds each BRPOP so Dequeue notices cancellation.
const DefaultPollTimeout = 5 * time.Second

// Redis is a list-backed queue: producers LPUSH JSON jobs and consumers
// BRPOP them, so jobs are handed out oldest first and survive an agent
// restart.
type Redis struct {
	client      *redis.Client
	key         string
	pollTimeout time.Duration
	logger      *slog.Logger
	closed      atomic.Bool
}

type RedisConfig struct {
	Addr        string
	Key         string
	PollTimeout time.Duration
}

func NewRedis(cfg RedisConfig, logger *slog.Logger) (*Redis, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis queue requires an address")
	}
	if cfg.Key == "" {
		return nil, errors.New("redis queue requires a list key")
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = DefaultPollTimeout
	}
	return &Redis{
		client:      redis.NewClient(&redis.Options{Addr: cfg.Addr}),
		key:         cfg.Key,
		pollTimeout: cfg.PollTimeout,
		logger:      logging.WithComponent(logging.OrDiscard(logger), "queue.redis"),
	}, nil
}

// Ping checks connectivity.
func (r *Redis) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

func (r *Redis) Enqueue(ctx context.Context, req pipeline.Request) error {
	if r.closed.Load() {
		return ErrClosed
	}
	job := newJob(req)
	data, err := job.Encode()
	if err != nil {
		return err
	}
	if err := r.client.LPush(ctx, r.key, data).Err(); err != nil {
		return fmt.Errorf("redis lpush: %w", err)
	}
	return nil
}

// Dequeue polls with BRPOP until a job arrives. Entries that fail to decode
// are logged and dropped.
func (r *Redis) Dequeue(ctx context.Context) (*Job, error) {
	for {
		if r.closed.Load() {
			return nil, ErrClosed
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		val, err := r.client.BRPop(ctx, r.pollTimeout, r.key).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if r.closed.Load() {
				return nil, ErrClosed
			}
			return nil, fmt.Errorf("redis brpop: %w", err)
		}

		// val is [key, payload]
		job, err := DecodeJob([]byte(val[1]))
		if err != nil {
			r.logger.Warn("dropping malformed job", "error", err)
			continue
		}
		return job, nil
	}
}

// Len returns the list length.
func (r *Redis) Len(ctx context.Context) (int64, error) {
	return r.client.LLen(ctx, r.key).Result()
}

func (r *Redis) Close() error {
	if r.closed.Swap(true) {
		return nil
	}
	return r.client.Close()
}
