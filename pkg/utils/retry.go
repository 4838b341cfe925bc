package utils

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/rs/zerolog/log"
)

// RetryConfig controls exponential backoff between attempts.
type RetryConfig struct {
	MaxAttempts  int           // including the first try
	InitialDelay time.Duration // delay before the second attempt
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       bool // ±25% random variance on every delay
}

// DatabaseRetryConfig is used while connecting to PostgreSQL and Redis at
// startup: 5 attempts, 50ms doubling up to 2s.
func DatabaseRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  5,
		InitialDelay: 50 * time.Millisecond,
		MaxDelay:     2 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// ExternalAPIRetryConfig is used for calls to third-party HTTP APIs such as
// the OAuth user info endpoint: 3 attempts, 500ms doubling up to 10s.
func ExternalAPIRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  3,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. Retry stops at the first
// permanent error and returns it wrapped.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Retry runs fn until it succeeds, returns a permanent error, exhausts
// config.MaxAttempts or ctx is done.
//
// Example:
//
//	err := utils.Retry(ctx, utils.DatabaseRetryConfig(), func() error {
//	    return db.PingContext(ctx)
//	})
func Retry(ctx context.Context, config RetryConfig, fn func() error) error {
	_, err := RetryWithResult(ctx, config, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// RetryWithResult is Retry for functions that produce a value.
//
// Example:
//
//	info, err := utils.RetryWithResult(ctx, utils.ExternalAPIRetryConfig(), func() (*GoogleUserInfo, error) {
//	    return s.fetchUserInfo(ctx, token)
//	})
func RetryWithResult[T any](ctx context.Context, config RetryConfig, fn func() (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		res, err := fn()
		if err == nil {
			if attempt > 1 {
				log.Info().
					Int("attempt", attempt).
					Int("max_attempts", config.MaxAttempts).
					Msg("Operation succeeded after retry")
			}
			return res, nil
		}

		lastErr = err

		var perm *permanentError
		if errors.As(err, &perm) {
			log.Debug().Err(err).Int("attempt", attempt).Msg("Error is not retryable, aborting")
			return zero, fmt.Errorf("non-retryable error: %w", perm.err)
		}

		if attempt >= config.MaxAttempts {
			log.Warn().Err(err).Int("attempts", attempt).Msg("Max retry attempts reached")
			break
		}

		delay := calculateDelay(attempt, config)

		log.Debug().
			Err(err).
			Int("attempt", attempt).
			Int("max_attempts", config.MaxAttempts).
			Dur("delay", delay).
			Msg("Operation failed, retrying after delay")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, fmt.Errorf("retry cancelled: %w", ctx.Err())
		case <-timer.C:
		}
	}

	return zero, fmt.Errorf("max retries exceeded (%d attempts): %w", config.MaxAttempts, lastErr)
}

// calculateDelay returns initialDelay * multiplier^(attempt-1), capped at
// MaxDelay, with optional jitter.
func calculateDelay(attempt int, config RetryConfig) time.Duration {
	delay := float64(config.InitialDelay) * math.Pow(config.Multiplier, float64(attempt-1))
	if max := float64(config.MaxDelay); max > 0 && delay > max {
		delay = max
	}
	if config.Jitter {
		delay += delay * 0.25 * (rand.Float64()*2 - 1)
	}
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}
