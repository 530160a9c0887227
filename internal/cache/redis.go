package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dannyCSStudent/mojara/internal/domain"
)

const (
	defaultTTL = 15 * time.Minute
	maxJitter  = 5
)

func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{
		client:  client,
		baseTTL: defaultTTL,
	}
}

type RedisCache struct {
	client  *redis.Client
	baseTTL time.Duration
}

func (r RedisCache) Get(ctx context.Context, orderID string) (*domain.Order, error) {
	data, err := r.client.Get(ctx, cacheKey(orderID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var order domain.Order
	if err := json.Unmarshal(data, &order); err != nil {
		return nil, fmt.Errorf("unmarshal order failed: %w", err)
	}

	return &order, nil
}

// Set stores the snapshot for base TTL plus up to a few minutes of jitter so
// entries written together do not expire together.
func (r RedisCache) Set(ctx context.Context, order *domain.Order) error {
	data, err := json.Marshal(order)
	if err != nil {
		return fmt.Errorf("marshal order failed: %w", err)
	}

	jitter := time.Duration(rand.IntN(maxJitter)) * time.Minute
	if err := r.client.Set(ctx, cacheKey(order.ID), data, r.baseTTL+jitter).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (r RedisCache) Delete(ctx context.Context, orderID string) error {
	if err := r.client.Del(ctx, cacheKey(orderID)).Err(); err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}

func cacheKey(orderID string) string {
	return fmt.Sprintf("order:%s", orderID)
}
