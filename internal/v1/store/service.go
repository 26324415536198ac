// Package store wraps the shared Redis instance every replica
// coordinates through: string cells for election state, sets for room
// rosters, hash maps for question catalogs and round answers, and the
// pub/sub channel the game broadcasts ride on.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/triviaroyale/server/internal/v1/logging"
	"github.com/triviaroyale/server/internal/v1/metrics"
)

// Service handles all interaction with the shared Redis instance.
type Service struct {
	client *redis.Client
	cb     *gobreaker.CircuitBreaker
}

// Client returns the underlying Redis client.
func (s *Service) Client() *redis.Client {
	if s == nil {
		return nil
	}
	return s.client
}

// New creates a Service from a host:port address.
func New(addr, password string) (*Service, error) {
	return newService(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       0,
	})
}

// NewFromURL creates a Service from a redis:// URL.
func NewFromURL(url string) (*Service, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	return newService(opts)
}

func newService(opts *redis.Options) (*Service, error) {
	opts.DialTimeout = 10 * time.Second
	opts.ReadTimeout = 30 * time.Second
	opts.WriteTimeout = 30 * time.Second
	opts.PoolSize = 10
	opts.MinIdleConns = 2

	rdb := redis.NewClient(opts)

	// Ping to verify connection immediately
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	st := gobreaker.Settings{
		Name:        "redis",
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     15 * time.Second,
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			var stateVal float64
			switch to {
			case gobreaker.StateClosed:
				stateVal = 0
			case gobreaker.StateOpen:
				stateVal = 1
			case gobreaker.StateHalfOpen:
				stateVal = 2
			}
			metrics.CircuitBreakerState.WithLabelValues("redis").Set(stateVal)
		},
	}

	logging.Info(context.Background(), "connected to shared store", zap.String("addr", opts.Addr))
	return &Service{
		client: rdb,
		cb:     gobreaker.NewCircuitBreaker(st),
	}, nil
}

// execute runs op behind the circuit breaker, translating an open
// breaker into a counted error the caller can surface.
func (s *Service) execute(op func() (any, error)) (any, error) {
	res, err := s.cb.Execute(op)
	if err != nil && errors.Is(err, gobreaker.ErrOpenState) {
		metrics.CircuitBreakerFailures.WithLabelValues("redis").Inc()
	}
	return res, err
}

// --- String cells ---

// SetCellIfAbsent performs an atomic set-if-absent on a string cell.
// Returns true when this caller won the write. This is the primitive
// the cross-replica game election depends on.
func (s *Service) SetCellIfAbsent(ctx context.Context, key, value string) (bool, error) {
	res, err := s.execute(func() (any, error) {
		return s.client.SetNX(ctx, key, value, 0).Result()
	})
	if err != nil {
		return false, fmt.Errorf("setnx %s: %w", key, err)
	}
	return res.(bool), nil
}

// GetCell reads a string cell. A missing key reads as "".
func (s *Service) GetCell(ctx context.Context, key string) (string, error) {
	res, err := s.execute(func() (any, error) {
		val, err := s.client.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return val, err
	})
	if err != nil {
		return "", fmt.Errorf("get %s: %w", key, err)
	}
	return res.(string), nil
}

// DeleteKeys removes any number of keys (cells, sets, or hashes).
func (s *Service) DeleteKeys(ctx context.Context, keys ...string) error {
	_, err := s.execute(func() (any, error) {
		return nil, s.client.Del(ctx, keys...).Err()
	})
	if err != nil {
		return fmt.Errorf("del %v: %w", keys, err)
	}
	return nil
}

// --- Sets (room rosters) ---

func (s *Service) SetAdd(ctx context.Context, key, member string) error {
	_, err := s.execute(func() (any, error) {
		return nil, s.client.SAdd(ctx, key, member).Err()
	})
	if err != nil {
		return fmt.Errorf("sadd %s: %w", key, err)
	}
	return nil
}

func (s *Service) SetRem(ctx context.Context, key, member string) error {
	_, err := s.execute(func() (any, error) {
		return nil, s.client.SRem(ctx, key, member).Err()
	})
	if err != nil {
		return fmt.Errorf("srem %s: %w", key, err)
	}
	return nil
}

func (s *Service) SetIsMember(ctx context.Context, key, member string) (bool, error) {
	res, err := s.execute(func() (any, error) {
		return s.client.SIsMember(ctx, key, member).Result()
	})
	if err != nil {
		return false, fmt.Errorf("sismember %s: %w", key, err)
	}
	return res.(bool), nil
}

func (s *Service) SetCard(ctx context.Context, key string) (int64, error) {
	res, err := s.execute(func() (any, error) {
		return s.client.SCard(ctx, key).Result()
	})
	if err != nil {
		return 0, fmt.Errorf("scard %s: %w", key, err)
	}
	return res.(int64), nil
}

func (s *Service) SetMembers(ctx context.Context, key string) ([]string, error) {
	res, err := s.execute(func() (any, error) {
		return s.client.SMembers(ctx, key).Result()
	})
	if err != nil {
		return nil, fmt.Errorf("smembers %s: %w", key, err)
	}
	return res.([]string), nil
}

// --- Hash maps (question catalogs, round answer tables) ---

func (s *Service) HashSet(ctx context.Context, key, field, value string) error {
	_, err := s.execute(func() (any, error) {
		return nil, s.client.HSet(ctx, key, field, value).Err()
	})
	if err != nil {
		return fmt.Errorf("hset %s: %w", key, err)
	}
	return nil
}

func (s *Service) HashGetAll(ctx context.Context, key string) (map[string]string, error) {
	res, err := s.execute(func() (any, error) {
		return s.client.HGetAll(ctx, key).Result()
	})
	if err != nil {
		return nil, fmt.Errorf("hgetall %s: %w", key, err)
	}
	return res.(map[string]string), nil
}

// HashMGet fetches several fields in one round trip. Missing fields
// come back as nil entries.
func (s *Service) HashMGet(ctx context.Context, key string, fields ...string) ([]any, error) {
	res, err := s.execute(func() (any, error) {
		return s.client.HMGet(ctx, key, fields...).Result()
	})
	if err != nil {
		return nil, fmt.Errorf("hmget %s: %w", key, err)
	}
	return res.([]any), nil
}

func (s *Service) HashLen(ctx context.Context, key string) (int64, error) {
	res, err := s.execute(func() (any, error) {
		return s.client.HLen(ctx, key).Result()
	})
	if err != nil {
		return 0, fmt.Errorf("hlen %s: %w", key, err)
	}
	return res.(int64), nil
}

// --- Pub/sub ---

// Publish sends raw bytes on a channel. An open circuit breaker drops
// the message with a warning instead of failing the caller; a lost
// broadcast degrades one game, a crashed publisher ends it.
func (s *Service) Publish(ctx context.Context, channel string, data []byte) error {
	_, err := s.execute(func() (any, error) {
		return nil, s.client.Publish(ctx, channel, data).Err()
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) {
			logging.Warn(ctx, "circuit breaker open: dropping publish", zap.String("channel", channel))
			return nil
		}
		logging.Error(ctx, "publish failed", zap.String("channel", channel), zap.Error(err))
		return err
	}
	return nil
}

// Subscribe opens a subscription on channel and returns a channel of
// raw message payloads. The listener goroutine runs until ctx is
// cancelled or the connection dies, then closes the returned channel.
func (s *Service) Subscribe(ctx context.Context, channel string) <-chan []byte {
	pubsub := s.client.Subscribe(ctx, channel)
	out := make(chan []byte, 64)

	go func() {
		defer pubsub.Close()
		defer close(out)

		logging.Info(ctx, "subscribed to channel", zap.String("channel", channel))

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					logging.Warn(ctx, "subscription channel closed", zap.String("channel", channel))
					return
				}
				out <- []byte(msg.Payload)
			}
		}
	}()

	return out
}

// Ping checks Redis connectivity. Used by readiness checks.
func (s *Service) Ping(ctx context.Context) error {
	_, err := s.execute(func() (any, error) {
		return nil, s.client.Ping(ctx).Err()
	})
	return err
}

// Close gracefully shuts down the Redis connection.
func (s *Service) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}
