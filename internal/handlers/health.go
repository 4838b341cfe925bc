// Package handlers provides the HTTP handlers of the learner agent.
// Handlers parse and validate requests, call the engine or a service and
// format the response; they hold no state of their own.
//
// This package includes handlers for:
//   - Liveness and readiness probes
//   - Auth actions, the auth state snapshot and its websocket stream
//   - Device sessions and account administration
//   - Streaks, activity and course progress
package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/ieraasyl/LearnHub/internal/authsync"
	"github.com/ieraasyl/LearnHub/pkg/utils"
	"github.com/rs/zerolog/log"
)

// Pinger is a dependency checked by the readiness probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// StateSource reports the auth state. authsync.Engine implements it.
type StateSource interface {
	GetState() authsync.State
}

// HealthHandler handles health check endpoints for monitoring and orchestration.
// Readiness covers PostgreSQL, Redis and the auth state: an agent whose
// session has not been restored yet cannot answer signed-in requests.
type HealthHandler struct {
	postgres Pinger
	redis    Pinger
	auth     StateSource
}

// NewHealthHandler creates a new health handler.
//
// Parameters:
//   - postgres: PostgreSQL connection
//   - redis: Redis connection
//   - auth: session synchronization engine
//
// Example:
//
//	healthHandler := handlers.NewHealthHandler(postgresDB, redisDB, engine)
//	r.Get("/health", healthHandler.Health)
//	r.Get("/ready", healthHandler.Ready)
func NewHealthHandler(postgres, redis Pinger, auth StateSource) *HealthHandler {
	return &HealthHandler{
		postgres: postgres,
		redis:    redis,
		auth:     auth,
	}
}

// HealthResponse represents the health check response structure.
//
// JSON example:
//
//	{
//	  "status": "ok",
//	  "timestamp": "2024-01-20T14:30:00Z",
//	  "services": {
//	    "postgres": "healthy",
//	    "redis": "healthy",
//	    "auth": "ready"
//	  }
//	}
type HealthResponse struct {
	Status    string            `json:"status"`             // "ok" or "degraded"
	Timestamp time.Time         `json:"timestamp"`          // Current server time
	Services  map[string]string `json:"services,omitempty"` // Readiness only
}

// Health is the liveness probe. It always returns 200 while the process
// serves HTTP.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	utils.RespondWithJSON(w, r, http.StatusOK, HealthResponse{
		Status:    "ok",
		Timestamp: time.Now(),
	})
}

// Ready is the readiness probe. It returns 503 with status "degraded" when a
// store is unreachable or the auth state is not ready yet. Store checks
// share a 5 second timeout.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	services := make(map[string]string)
	allHealthy := true

	if err := h.postgres.Ping(ctx); err != nil {
		log.Error().Err(err).Msg("PostgreSQL health check failed")
		services["postgres"] = "unhealthy"
		allHealthy = false
	} else {
		services["postgres"] = "healthy"
	}

	if err := h.redis.Ping(ctx); err != nil {
		log.Error().Err(err).Msg("Redis health check failed")
		services["redis"] = "unhealthy"
		allHealthy = false
	} else {
		services["redis"] = "healthy"
	}

	if h.auth.GetState().Ready {
		services["auth"] = "ready"
	} else {
		services["auth"] = "initializing"
		allHealthy = false
	}

	response := HealthResponse{
		Status:    "ok",
		Timestamp: time.Now(),
		Services:  services,
	}

	statusCode := http.StatusOK
	if !allHealthy {
		response.Status = "degraded"
		statusCode = http.StatusServiceUnavailable
	}

	utils.RespondWithJSON(w, r, statusCode, response)
}
