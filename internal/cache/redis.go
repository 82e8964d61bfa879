package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/fjod/go_storefront/internal/domain"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "catalog:"

func NewRedisCache(client *redis.Client, baseTTL time.Duration) *RedisCache {
	if baseTTL <= 0 {
		baseTTL = 15 * time.Minute
	}
	return &RedisCache{
		client:  client,
		baseTTL: baseTTL,
	}
}

type RedisCache struct {
	client  *redis.Client
	baseTTL time.Duration
}

func (r *RedisCache) GetProducts(ctx context.Context, category string) ([]domain.Product, error) {
	var products []domain.Product
	if err := r.get(ctx, listKey(category), &products); err != nil {
		return nil, err
	}
	return products, nil
}

func (r *RedisCache) SetProducts(ctx context.Context, category string, products []domain.Product) error {
	return r.set(ctx, listKey(category), products)
}

func (r *RedisCache) GetProduct(ctx context.Context, ref string) (*domain.Product, error) {
	var product domain.Product
	if err := r.get(ctx, productKey(ref), &product); err != nil {
		return nil, err
	}
	return &product, nil
}

func (r *RedisCache) SetProduct(ctx context.Context, ref string, product *domain.Product) error {
	return r.set(ctx, productKey(ref), product)
}

func (r *RedisCache) Invalidate(ctx context.Context) error {
	iter := r.client.Scan(ctx, 0, keyPrefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("redis scan failed: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}

func (r *RedisCache) get(ctx context.Context, key string, dst any) error {
	data, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrCacheMiss
	}
	if err != nil {
		return fmt.Errorf("redis get failed: %w", err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("unmarshal %s failed: %w", key, err)
	}
	return nil
}

func (r *RedisCache) set(ctx context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal %s failed: %w", key, err)
	}

	jitter := time.Duration(rand.Intn(5)) * time.Minute
	if err := r.client.Set(ctx, key, data, r.baseTTL+jitter).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func listKey(category string) string {
	if category == "" {
		category = domain.AllCategories
	}
	return fmt.Sprintf("%slist:%s", keyPrefix, category)
}

func productKey(ref string) string {
	return fmt.Sprintf("%sproduct:%s", keyPrefix, ref)
}
