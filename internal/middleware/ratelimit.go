package middleware

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/ieraasyl/LearnHub/pkg/utils"
	"github.com/rs/zerolog/log"
)

// RateCounter counts requests per client and endpoint within a window.
// database.RedisDB implements it with INCR and EXPIRE.
type RateCounter interface {
	IncrementRateLimit(ctx context.Context, ip, endpoint string, window time.Duration) (int64, error)
}

// RateLimiter limits requests per client IP and endpoint. Counters live in
// Redis under "ratelimit:{ip}:{endpoint}", so the limit holds across agent
// restarts.
type RateLimiter struct {
	counter RateCounter
	limit   int
	window  time.Duration
}

// NewRateLimiter allows limit requests per window.
//
// Example:
//
//	limiter := middleware.NewRateLimiter(redisDB, 10, time.Minute)
//	r.With(limiter.Limit("sign-in")).Post("/api/v1/auth/sign-in", authHandler.SignIn)
func NewRateLimiter(counter RateCounter, limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		counter: counter,
		limit:   limit,
		window:  window,
	}
}

// Limit applies the limiter to an endpoint. Over the limit the request gets
// 429 with Retry-After; every response carries X-RateLimit-Limit and
// X-RateLimit-Remaining. When the counter store fails the request is let
// through.
func (rl *RateLimiter) Limit(endpoint string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := utils.ExtractClientIP(r)

			count, err := rl.counter.IncrementRateLimit(r.Context(), ip, endpoint, rl.window)
			if err != nil {
				log.Error().Err(err).Str("ip", ip).Str("endpoint", endpoint).Msg("Failed to check rate limit")
				next.ServeHTTP(w, r)
				return
			}

			remaining := rl.limit - int(count)
			if remaining < 0 {
				remaining = 0
			}
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))

			if count > int64(rl.limit) {
				log.Warn().
					Str("ip", ip).
					Str("endpoint", endpoint).
					Int64("count", count).
					Msg("Rate limit exceeded")

				w.Header().Set("Retry-After", strconv.Itoa(int(rl.window.Seconds())))
				utils.RespondWithError(w, r, http.StatusTooManyRequests, "Rate limit exceeded, try again later")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
