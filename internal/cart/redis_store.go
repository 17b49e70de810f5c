package cart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/safar/go-storefront/internal/models"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

// RedisStore keeps each cart as one JSON value under cart:<Session.Key()>
// with a TTL. Calls go through a circuit breaker so that an unavailable Redis
// fails requests fast instead of stalling them on timeouts.
type RedisStore struct {
	client  *redis.Client
	ttl     time.Duration
	breaker *gobreaker.CircuitBreaker[[]byte]
}

func NewRedisStore(client *redis.Client, ttl time.Duration, logger *zap.Logger) *RedisStore {
	if logger == nil {
		logger = zap.NewNop()
	}

	breaker := gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "redis-cart",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})

	return &RedisStore{
		client:  client,
		ttl:     ttl,
		breaker: breaker,
	}
}

type redisCart struct {
	Lines []models.CartLine `json:"lines"`
}

func (r *RedisStore) Get(ctx context.Context, key string) ([]models.CartLine, error) {
	data, err := r.breaker.Execute(func() ([]byte, error) {
		data, err := r.client.Get(ctx, cacheKey(key)).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return data, err
	})
	if err != nil {
		return nil, fmt.Errorf("redis get cart: %w", err)
	}
	if data == nil {
		return []models.CartLine{}, nil
	}

	var cart redisCart
	if err := json.Unmarshal(data, &cart); err != nil {
		return nil, fmt.Errorf("unmarshal cart: %w", err)
	}
	if cart.Lines == nil {
		cart.Lines = []models.CartLine{}
	}

	return cart.Lines, nil
}

func (r *RedisStore) Put(ctx context.Context, key string, lines []models.CartLine) error {
	data, err := json.Marshal(redisCart{Lines: lines})
	if err != nil {
		return fmt.Errorf("marshal cart: %w", err)
	}

	_, err = r.breaker.Execute(func() ([]byte, error) {
		return nil, r.client.Set(ctx, cacheKey(key), data, r.ttl).Err()
	})
	if err != nil {
		return fmt.Errorf("redis set cart: %w", err)
	}

	return nil
}

func (r *RedisStore) Delete(ctx context.Context, key string) error {
	_, err := r.breaker.Execute(func() ([]byte, error) {
		return nil, r.client.Del(ctx, cacheKey(key)).Err()
	})
	if err != nil {
		return fmt.Errorf("redis delete cart: %w", err)
	}

	return nil
}

func cacheKey(key string) string {
	return fmt.Sprintf("cart:%s", key)
}
