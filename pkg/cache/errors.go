package cache

import "errors"

var (
	// ErrCacheMiss is returned by Get when the key is not cached. Callers
	// fall back to the source of truth.
	ErrCacheMiss = errors.New("cache miss")

	// ErrCacheInvalidation wraps Redis failures while deleting keys.
	ErrCacheInvalidation = errors.New("cache invalidation failed")
)
