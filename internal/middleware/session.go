// Package middleware provides the HTTP middleware of the learner agent:
// request logging, panic recovery, CORS, security headers, Prometheus
// metrics, Redis-backed rate limiting and the auth state gates.
//
// All middleware has the func(http.Handler) http.Handler shape used by chi.
package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/ieraasyl/LearnHub/internal/authsync"
	"github.com/ieraasyl/LearnHub/internal/models"
	"github.com/rs/zerolog/log"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

const (
	// UserIDKey holds the signed-in principal's id. Set by RequireSession.
	UserIDKey contextKey = "user_id"

	// RoleKey holds the resolved role. Set by RequireSession.
	RoleKey contextKey = "role"
)

// StateSource exposes the synchronized auth state. authsync.Engine
// implements it.
type StateSource interface {
	GetState() authsync.State
}

// RequireSession lets a request through only when the auth state is ready
// and signed in, and puts the principal id and role into its context.
//
// Responses:
//   - 503 with Retry-After while the state is not ready
//   - 401 when nobody is signed in
//
// Usage:
//
//	r.Group(func(r chi.Router) {
//	    r.Use(middleware.RequireSession(engine))
//	    r.Get("/api/v1/progress/streak", progressHandler.Streak)
//	})
func RequireSession(source StateSource) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			state := source.GetState()

			if !state.Ready {
				w.Header().Set("Retry-After", "1")
				http.Error(w, "Service Unavailable: auth state not ready", http.StatusServiceUnavailable)
				return
			}
			if !state.SignedIn() {
				http.Error(w, "Unauthorized: not signed in", http.StatusUnauthorized)
				return
			}

			role := state.Role
			if role == "" {
				role = models.RoleStudent
			}
			ctx := WithUser(r.Context(), state.Principal.ID, role)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole rejects requests whose role, as set by RequireSession, is not
// role. It must be mounted after RequireSession.
func RequireRole(role models.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, ok := GetRole(r.Context())
			if !ok {
				http.Error(w, "Unauthorized: not signed in", http.StatusUnauthorized)
				return
			}
			if got != role {
				userID, _ := GetUserID(r.Context())
				log.Warn().
					Str("user_id", userID.String()).
					Str("role", string(got)).
					Str("required", string(role)).
					Str("path", r.URL.Path).
					Msg("Forbidden by role")
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// WithUser stores the principal id and role in ctx.
func WithUser(ctx context.Context, userID uuid.UUID, role models.Role) context.Context {
	ctx = context.WithValue(ctx, UserIDKey, userID)
	return context.WithValue(ctx, RoleKey, role)
}

// GetUserID returns the signed-in principal's id set by RequireSession.
//
// Example:
//
//	userID, ok := middleware.GetUserID(r.Context())
//	if !ok {
//	    utils.RespondWithError(w, r, http.StatusUnauthorized, "Unauthorized")
//	    return
//	}
func GetUserID(ctx context.Context) (uuid.UUID, bool) {
	userID, ok := ctx.Value(UserIDKey).(uuid.UUID)
	return userID, ok
}

// GetRole returns the resolved role set by RequireSession.
func GetRole(ctx context.Context) (models.Role, bool) {
	role, ok := ctx.Value(RoleKey).(models.Role)
	return role, ok
}
