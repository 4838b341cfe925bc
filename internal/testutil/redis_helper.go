package testutil

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/ieraasyl/LearnHub/internal/database"
	"github.com/ieraasyl/LearnHub/pkg/config"
	"github.com/redis/go-redis/v9"
)

// SetupMiniRedis starts a miniredis server bound to the test's lifetime.
func SetupMiniRedis(t *testing.T) (*miniredis.Miniredis, func()) {
	t.Helper()

	mr := miniredis.RunT(t)
	return mr, mr.Close
}

// NewTestRedisDB connects a RedisDB to mr and closes it with the test.
func NewTestRedisDB(t *testing.T, mr *miniredis.Miniredis) *database.RedisDB {
	t.Helper()

	db, err := database.NewRedisDB(&config.RedisConfig{
		Host: mr.Host(),
		Port: mr.Port(),
	})
	if err != nil {
		t.Fatalf("Failed to create test Redis DB: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	return db
}

// NewTestRedisClient returns a raw client connected to mr.
func NewTestRedisClient(t *testing.T, mr *miniredis.Miniredis) *redis.Client {
	t.Helper()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client
}
