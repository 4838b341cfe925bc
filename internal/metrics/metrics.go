// Package metrics holds the Prometheus collectors for domain events. HTTP
// request metrics live with the middleware that records them.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	authAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_attempts_total",
			Help: "Sign-in and sign-up attempts against the directory",
		},
		[]string{"method", "result"},
	)

	tokenRefreshTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_token_refresh_total",
			Help: "Session refreshes performed while reading the current session",
		},
		[]string{"result"},
	)

	authTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_state_transitions_total",
			Help: "Auth events handled by the session synchronization engine",
		},
		[]string{"event", "action"},
	)

	authReady = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "auth_state_ready",
			Help: "1 when the synchronized auth state is ready",
		},
	)

	identityResolutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "identity_resolutions_total",
			Help: "Identity resolutions by outcome",
		},
		[]string{"outcome"},
	)

	identityResolutionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "identity_resolution_duration_seconds",
			Help:    "Time to resolve a principal into a profile and role",
			Buckets: prometheus.DefBuckets,
		},
	)

	identityResolutionsDiscarded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "identity_resolutions_discarded_total",
			Help: "Resolution results dropped because the principal changed meanwhile",
		},
	)

	activityRecordsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "activity_records_total",
			Help: "Activity records written",
		},
		[]string{"kind", "result"},
	)

	streakRewardsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streak_rewards_granted_total",
			Help: "Streak rewards paid out by threshold",
		},
		[]string{"threshold"},
	)
)

func init() {
	prometheus.MustRegister(
		authAttemptsTotal,
		tokenRefreshTotal,
		authTransitionsTotal,
		authReady,
		identityResolutionsTotal,
		identityResolutionDuration,
		identityResolutionsDiscarded,
		activityRecordsTotal,
		streakRewardsTotal,
	)
}

func resultLabel(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

// AuthAttempt counts a sign-in or sign-up. method is "password", "oauth" or
// "sign-up".
func AuthAttempt(method string, ok bool) {
	authAttemptsTotal.WithLabelValues(method, resultLabel(ok)).Inc()
}

// TokenRefresh counts a session refresh.
func TokenRefresh(ok bool) {
	tokenRefreshTotal.WithLabelValues(resultLabel(ok)).Inc()
}

// AuthTransition counts an auth event and what the engine did with it
// ("resolve", "clear", "skip", "refresh", "ignore").
func AuthTransition(event, action string) {
	authTransitionsTotal.WithLabelValues(event, action).Inc()
}

// SetAuthReady mirrors the engine's readiness flag.
func SetAuthReady(ready bool) {
	if ready {
		authReady.Set(1)
		return
	}
	authReady.Set(0)
}

// IdentityResolved records one finished resolution.
func IdentityResolved(outcome string, d time.Duration) {
	identityResolutionsTotal.WithLabelValues(outcome).Inc()
	identityResolutionDuration.Observe(d.Seconds())
}

// IdentityDiscarded counts a stale resolution result.
func IdentityDiscarded() {
	identityResolutionsDiscarded.Inc()
}

// ActivityRecorded counts an activity write.
func ActivityRecorded(kind string, ok bool) {
	activityRecordsTotal.WithLabelValues(kind, resultLabel(ok)).Inc()
}

// StreakRewardGranted counts a reward payout.
func StreakRewardGranted(threshold int) {
	streakRewardsTotal.WithLabelValues(strconv.Itoa(threshold)).Inc()
}
