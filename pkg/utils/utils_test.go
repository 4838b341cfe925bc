package utils

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetry(attempts int) RetryConfig {
	return RetryConfig{MaxAttempts: attempts, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 2}
}

func TestRetry(t *testing.T) {
	t.Run("succeeds after transient failures", func(t *testing.T) {
		calls := 0
		err := Retry(context.Background(), fastRetry(3), func() error {
			calls++
			if calls < 3 {
				return errors.New("connection refused")
			}
			return nil
		})

		require.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("stops on permanent error", func(t *testing.T) {
		sentinel := errors.New("bad request")
		calls := 0
		_, err := RetryWithResult(context.Background(), fastRetry(5), func() (int, error) {
			calls++
			return 0, Permanent(sentinel)
		})

		assert.ErrorIs(t, err, sentinel)
		assert.Equal(t, 1, calls)
	})

	t.Run("gives up after max attempts", func(t *testing.T) {
		calls := 0
		err := Retry(context.Background(), fastRetry(2), func() error {
			calls++
			return errors.New("timeout")
		})

		assert.ErrorContains(t, err, "max retries exceeded")
		assert.Equal(t, 2, calls)
	})

	t.Run("honors cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		cfg := fastRetry(3)
		cfg.InitialDelay = time.Second
		cfg.MaxDelay = time.Second
		err := Retry(ctx, cfg, func() error { return errors.New("down") })

		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestCalculateDelay(t *testing.T) {
	cfg := RetryConfig{InitialDelay: 100 * time.Millisecond, MaxDelay: 300 * time.Millisecond, Multiplier: 2}

	assert.Equal(t, 100*time.Millisecond, calculateDelay(1, cfg))
	assert.Equal(t, 200*time.Millisecond, calculateDelay(2, cfg))
	assert.Equal(t, 300*time.Millisecond, calculateDelay(3, cfg))
}

func TestDayOf(t *testing.T) {
	almaty := time.FixedZone("ALMT", 5*3600)

	t.Run("uses the local calendar date", func(t *testing.T) {
		late := time.Date(2024, 3, 4, 23, 30, 0, 0, almaty)
		assert.Equal(t, "2024-03-04", DayKey(late))
		assert.Equal(t, time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC), DayOf(late))
	})

	t.Run("crosses month boundaries", func(t *testing.T) {
		day := DayOf(time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC))
		assert.Equal(t, "2024-02-29", AddDays(day, -1).Format(DayLayout))
	})
}

func TestExtractClientIP(t *testing.T) {
	tests := []struct {
		name     string
		headers  map[string]string
		remote   string
		expected string
	}{
		{"forwarded chain", map[string]string{"X-Forwarded-For": " 203.0.113.7, 10.0.0.1"}, "10.0.0.2:1234", "203.0.113.7"},
		{"real ip", map[string]string{"X-Real-IP": "198.51.100.3"}, "10.0.0.2:1234", "198.51.100.3"},
		{"ipv4 remote", nil, "127.0.0.1:5555", "127.0.0.1"},
		{"ipv6 remote", nil, "[::1]:5555", "::1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.expected, ExtractClientIP(req))
		})
	}
}

func TestPageParams(t *testing.T) {
	req := httptest.NewRequest("GET", "/?page=3&page_size=500", nil)
	params := ParsePageParams(req)

	assert.Equal(t, 3, params.Page)
	assert.Equal(t, MaxPageSize, params.Limit)
	assert.Equal(t, 200, params.Offset)

	meta := params.Meta(250)
	assert.Equal(t, 3, meta.TotalPages)
	assert.False(t, meta.HasNext)
	assert.True(t, meta.HasPrevious)

	t.Run("malformed values fall back to defaults", func(t *testing.T) {
		params := ParsePageParams(httptest.NewRequest("GET", "/?page=-2&page_size=abc", nil))
		assert.Equal(t, PageParams{Page: 1, PageSize: DefaultPageSize, Offset: 0, Limit: DefaultPageSize}, params)
	})

	t.Run("empty list has one page", func(t *testing.T) {
		meta := PageParams{Page: 1, PageSize: 20, Limit: 20}.Meta(0)
		assert.Equal(t, 1, meta.TotalPages)
		assert.False(t, meta.HasNext)
		assert.False(t, meta.HasPrevious)
	})
}
