// Package cache is a small Redis cache with JSON serialization and a
// cache-aside helper. Catalog lookups that are read on every progress
// recomputation go through it.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Cache stores JSON-encoded values in Redis.
type Cache struct {
	client *redis.Client
}

// NewCache wraps a Redis client.
func NewCache(client *redis.Client) *Cache {
	return &Cache{client: client}
}

// Get loads key into target. Returns ErrCacheMiss when the key is absent.
func (c *Cache) Get(ctx context.Context, key string, target interface{}) error {
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrCacheMiss
		}
		log.Error().Err(err).Str("key", key).Msg("Failed to get from cache")
		return fmt.Errorf("cache get error: %w", err)
	}

	if err := json.Unmarshal(data, target); err != nil {
		log.Error().Err(err).Str("key", key).Msg("Failed to unmarshal cached data")
		return fmt.Errorf("unmarshal error: %w", err)
	}

	return nil
}

// Set stores value under key for ttl.
func (c *Cache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal error: %w", err)
	}

	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		log.Error().Err(err).Str("key", key).Msg("Failed to set cache")
		return fmt.Errorf("cache set error: %w", err)
	}

	log.Debug().Str("key", key).Dur("ttl", ttl).Msg("Cached data")
	return nil
}

// Delete removes keys. Deleting a missing key is not an error.
func (c *Cache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		log.Error().Err(err).Strs("keys", keys).Msg("Failed to delete from cache")
		return fmt.Errorf("%w: %v", ErrCacheInvalidation, err)
	}
	return nil
}

// GetOrSet reads key into target, or on a miss calls loader, caches what it
// returns and copies it into target. A loader error is returned unchanged
// wrapped; a failure to write the cache is only logged.
//
// Example:
//
//	var total int
//	err := c.GetOrSet(ctx, CourseLessonsKey(courseID), ttl, &total, func() (interface{}, error) {
//	    return db.CountCourseLessons(ctx, courseID)
//	})
func (c *Cache) GetOrSet(ctx context.Context, key string, ttl time.Duration, target interface{}, loader func() (interface{}, error)) error {
	err := c.Get(ctx, key, target)
	if err == nil {
		log.Debug().Str("key", key).Msg("Cache hit")
		return nil
	}
	if !errors.Is(err, ErrCacheMiss) {
		return err
	}

	data, err := loader()
	if err != nil {
		return fmt.Errorf("loader error: %w", err)
	}

	if err := c.Set(ctx, key, data, ttl); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Failed to cache loaded data")
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal error: %w", err)
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return fmt.Errorf("unmarshal error: %w", err)
	}
	return nil
}
