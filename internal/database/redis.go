package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ieraasyl/LearnHub/pkg/config"
	"github.com/ieraasyl/LearnHub/pkg/utils"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// DirectoryEventsChannel carries account changes between agents.
const DirectoryEventsChannel = "directory:events"

// RedisDB wraps the Redis client. Keys:
//
//	client_session:{clientID}          current session of an agent slot
//	session:{userID}:{sessionID}       device session hash
//	refresh_token:{jti}                refresh token registry
//	blacklist:{jti}                    revoked access tokens
//	ratelimit:{ip}:{endpoint}          fixed-window counters
type RedisDB struct {
	client *redis.Client
}

// NewRedisDB connects and pings Redis with the same retry policy as
// NewPostgresDB.
func NewRedisDB(cfg *config.RedisConfig) (*RedisDB, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address(),
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	retryConfig := utils.DatabaseRetryConfig()
	retryConfig.InitialDelay = 100 * time.Millisecond
	retryConfig.MaxDelay = 3 * time.Second

	var lastErr error
	err := utils.Retry(ctx, retryConfig, func() error {
		pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
		defer pingCancel()

		if err := client.Ping(pingCtx).Err(); err != nil {
			lastErr = err
			log.Warn().Err(err).Msg("Failed to ping Redis, retrying...")
			return err
		}
		return nil
	})

	if err != nil {
		client.Close()
		if lastErr != nil {
			return nil, fmt.Errorf("failed to connect to Redis after retries: %w", lastErr)
		}
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	log.Info().Msg("Successfully connected to Redis")

	return &RedisDB{client: client}, nil
}

// Close releases the client.
func (r *RedisDB) Close() error {
	return r.client.Close()
}

// Client exposes the underlying client for the cache layer.
func (r *RedisDB) Client() *redis.Client {
	return r.client
}

// Ping reports whether Redis answers.
func (r *RedisDB) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// SetClientSession persists the serialized session of an agent slot.
func (r *RedisDB) SetClientSession(ctx context.Context, clientID string, data []byte, ttl time.Duration) error {
	if err := r.client.Set(ctx, "client_session:"+clientID, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store client session: %w", err)
	}
	return nil
}

// GetClientSession returns the persisted session of an agent slot, or
// ErrNotFound.
func (r *RedisDB) GetClientSession(ctx context.Context, clientID string) ([]byte, error) {
	data, err := r.client.Get(ctx, "client_session:"+clientID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("client session: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get client session: %w", err)
	}
	return data, nil
}

// DeleteClientSession forgets the session of an agent slot.
func (r *RedisDB) DeleteClientSession(ctx context.Context, clientID string) error {
	if err := r.client.Del(ctx, "client_session:"+clientID).Err(); err != nil {
		return fmt.Errorf("failed to delete client session: %w", err)
	}
	return nil
}

// SetRefreshToken registers a refresh token ID for userID until expiry.
func (r *RedisDB) SetRefreshToken(ctx context.Context, tokenID, userID string, expiry time.Duration) error {
	key := fmt.Sprintf("refresh_token:%s", tokenID)
	if err := r.client.Set(ctx, key, userID, expiry).Err(); err != nil {
		return fmt.Errorf("failed to set refresh token: %w", err)
	}
	return nil
}

// GetRefreshToken returns the user owning a refresh token ID, or ErrNotFound
// once it expired or was rotated.
func (r *RedisDB) GetRefreshToken(ctx context.Context, tokenID string) (string, error) {
	key := fmt.Sprintf("refresh_token:%s", tokenID)
	userID, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", fmt.Errorf("refresh token: %w", ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("failed to get refresh token: %w", err)
	}
	return userID, nil
}

// DeleteRefreshToken removes a refresh token ID.
func (r *RedisDB) DeleteRefreshToken(ctx context.Context, tokenID string) error {
	key := fmt.Sprintf("refresh_token:%s", tokenID)
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to delete refresh token: %w", err)
	}
	return nil
}

// SetSession records a device session.
func (r *RedisDB) SetSession(ctx context.Context, userID, sessionID, deviceInfo string, expiry time.Duration) error {
	key := fmt.Sprintf("session:%s:%s", userID, sessionID)

	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, key, map[string]interface{}{
		"device_info": deviceInfo,
		"created_at":  time.Now().Unix(),
	})
	pipe.Expire(ctx, key, expiry)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to set session: %w", err)
	}
	return nil
}

// GetSession returns the fields of a device session, or ErrNotFound.
func (r *RedisDB) GetSession(ctx context.Context, userID, sessionID string) (map[string]string, error) {
	key := fmt.Sprintf("session:%s:%s", userID, sessionID)
	result, err := r.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	if len(result) == 0 {
		return nil, fmt.Errorf("session: %w", ErrNotFound)
	}
	return result, nil
}

// SessionTTL returns the remaining lifetime of a device session.
func (r *RedisDB) SessionTTL(ctx context.Context, userID, sessionID string) (time.Duration, error) {
	key := fmt.Sprintf("session:%s:%s", userID, sessionID)
	ttl, err := r.client.TTL(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to get session ttl: %w", err)
	}
	return ttl, nil
}

// DeleteSession removes a device session.
func (r *RedisDB) DeleteSession(ctx context.Context, userID, sessionID string) error {
	key := fmt.Sprintf("session:%s:%s", userID, sessionID)
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// ListUserSessions returns the IDs of a user's device sessions. SCAN keeps
// Redis responsive while iterating.
func (r *RedisDB) ListUserSessions(ctx context.Context, userID string) ([]string, error) {
	pattern := fmt.Sprintf("session:%s:*", userID)
	prefix := fmt.Sprintf("session:%s:", userID)

	var sessions []string
	var cursor uint64
	for {
		keys, next, err := r.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to scan sessions: %w", err)
		}
		for _, key := range keys {
			if len(key) > len(prefix) {
				sessions = append(sessions, key[len(prefix):])
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return sessions, nil
}

// BlacklistToken revokes an access token ID until expiry.
func (r *RedisDB) BlacklistToken(ctx context.Context, jti string, expiry time.Duration) error {
	key := fmt.Sprintf("blacklist:%s", jti)
	if err := r.client.Set(ctx, key, "true", expiry).Err(); err != nil {
		return fmt.Errorf("failed to blacklist token: %w", err)
	}
	return nil
}

// IsTokenBlacklisted reports whether an access token ID was revoked.
func (r *RedisDB) IsTokenBlacklisted(ctx context.Context, jti string) (bool, error) {
	key := fmt.Sprintf("blacklist:%s", jti)
	exists, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check blacklist: %w", err)
	}
	return exists > 0, nil
}

// IncrementRateLimit bumps the fixed-window counter of ip on endpoint and
// returns the new count. The window starts with the first request.
func (r *RedisDB) IncrementRateLimit(ctx context.Context, ip, endpoint string, window time.Duration) (int64, error) {
	key := fmt.Sprintf("ratelimit:%s:%s", ip, endpoint)

	count, err := r.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to increment rate limit: %w", err)
	}
	if count == 1 {
		if err := r.client.Expire(ctx, key, window).Err(); err != nil {
			return 0, fmt.Errorf("failed to set rate limit expiry: %w", err)
		}
	}
	return count, nil
}

// PublishDirectoryEvent broadcasts an account change to every agent.
func (r *RedisDB) PublishDirectoryEvent(ctx context.Context, payload []byte) error {
	if err := r.client.Publish(ctx, DirectoryEventsChannel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish directory event: %w", err)
	}
	return nil
}

// SubscribeDirectoryEvents subscribes to the directory channel. Payloads are
// delivered on the returned channel until ctx is done or the close function
// is called; the channel is then closed.
func (r *RedisDB) SubscribeDirectoryEvents(ctx context.Context) (<-chan []byte, func() error, error) {
	ps := r.client.Subscribe(ctx, DirectoryEventsChannel)
	// Wait for the subscription confirmation so no publish is missed.
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, nil, fmt.Errorf("failed to subscribe to directory events: %w", err)
	}

	out := make(chan []byte, 16)
	go func() {
		defer close(out)
		msgs := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, ps.Close, nil
}
