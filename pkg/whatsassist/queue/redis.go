package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisPollTimeout bounds each BRPOP so cancellation is noticed promptly.
const redisPollTimeout = 2 * time.Second

// Redis is a queue on a Redis list: LPUSH to publish, BRPOP to consume.
type Redis struct {
	rdb    *redis.Client
	key    string
	logger *slog.Logger
}

// NewRedis connects and pings the server.
func NewRedis(cfg RedisConfig, logger *slog.Logger) (*Redis, error) {
	if logger == nil {
		logger = slog.Default()
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("ping redis %s: %w", cfg.Addr, err)
	}

	logger.Info("redis queue ready", "addr", cfg.Addr, "key", cfg.Key)
	return &Redis{rdb: rdb, key: cfg.Key, logger: logger}, nil
}

// Publish pushes ev onto the list head.
func (q *Redis) Publish(ctx context.Context, ev Event) error {
	body, err := encode(ev)
	if err != nil {
		return err
	}
	if err := q.rdb.LPush(ctx, q.key, body).Err(); err != nil {
		if errors.Is(err, redis.ErrClosed) {
			return ErrClosed
		}
		return fmt.Errorf("publish event %s: %w", ev.ID, err)
	}
	return nil
}

// Consume pops from the list tail until ctx is cancelled.
func (q *Redis) Consume(ctx context.Context, h Handler) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		res, err := q.rdb.BRPop(ctx, redisPollTimeout, q.key).Result()
		switch {
		case errors.Is(err, redis.Nil):
			continue
		case ctx.Err() != nil:
			return nil
		case errors.Is(err, redis.ErrClosed):
			return ErrClosed
		case err != nil:
			q.logger.Warn("redis pop failed, retrying", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}

		// res is [key, value].
		ev, err := decode([]byte(res[1]))
		if err != nil {
			q.logger.Warn("dropping malformed message", "error", err)
			continue
		}
		if err := h(ctx, ev); err != nil {
			q.logger.Error("event handler failed",
				"event", ev.ID, "reminder", ev.ReminderID, "error", err)
		}
	}
}

// Close releases the client.
func (q *Redis) Close() error {
	return q.rdb.Close()
}
