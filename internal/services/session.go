package services

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ieraasyl/LearnHub/internal/models"
	"github.com/mileusna/useragent"
	"github.com/rs/zerolog/log"
)

// SessionStore defines the Redis operations behind device sessions.
type SessionStore interface {
	SetSession(ctx context.Context, userID, sessionID, deviceInfo string, expiry time.Duration) error
	GetSession(ctx context.Context, userID, sessionID string) (map[string]string, error)
	SessionTTL(ctx context.Context, userID, sessionID string) (time.Duration, error)
	ListUserSessions(ctx context.Context, userID string) ([]string, error)
	DeleteSession(ctx context.Context, userID, sessionID string) error
}

// SessionService tracks the devices a user is signed in on.
//
// Every successful sign-in creates one device session. Its ID is embedded in
// the issued tokens ("sid" claim), so signing out locally removes exactly the
// device the client owns while a global sign-out removes all of them.
type SessionService struct {
	store         SessionStore
	sessionExpiry time.Duration
}

// NewSessionService creates a device session service.
//
// Parameters:
//   - store: Session store implementation (typically RedisDB)
//   - sessionExpiry: Lifetime of a device session, normally the refresh token expiry
//
// Example:
//
//	sessions := services.NewSessionService(redisDB, cfg.JWT.RefreshExpiry)
func NewSessionService(store SessionStore, sessionExpiry time.Duration) *SessionService {
	return &SessionService{
		store:         store,
		sessionExpiry: sessionExpiry,
	}
}

// CreateSession registers a new device session for a user and returns its ID.
//
// Parameters:
//   - ctx: Context for timeout and cancellation
//   - userID: UUID of the authenticated user
//   - deviceInfo: Human-readable device string (use ExtractDeviceInfo)
func (s *SessionService) CreateSession(ctx context.Context, userID uuid.UUID, deviceInfo string) (string, error) {
	sessionID := uuid.New().String()

	if err := s.store.SetSession(ctx, userID.String(), sessionID, deviceInfo, s.sessionExpiry); err != nil {
		log.Error().
			Err(err).
			Str("user_id", userID.String()).
			Msg("Failed to create device session")
		return "", fmt.Errorf("failed to create session: %w", err)
	}

	log.Info().
		Str("user_id", userID.String()).
		Str("session_id", sessionID).
		Str("device", deviceInfo).
		Msg("Device session created")

	return sessionID, nil
}

// GetSession returns one device session. ExpiresAt reflects the remaining
// Redis TTL, so sessions extended by a refresh report their new deadline.
func (s *SessionService) GetSession(ctx context.Context, userID uuid.UUID, sessionID string) (*models.DeviceSession, error) {
	data, err := s.store.GetSession(ctx, userID.String(), sessionID)
	if err != nil {
		return nil, fmt.Errorf("session not found: %w", err)
	}

	createdAtUnix, err := strconv.ParseInt(data["created_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid session data: %w", err)
	}
	createdAt := time.Unix(createdAtUnix, 0)

	expiresAt := createdAt.Add(s.sessionExpiry)
	if ttl, err := s.store.SessionTTL(ctx, userID.String(), sessionID); err == nil && ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	}

	return &models.DeviceSession{
		ID:         sessionID,
		DeviceInfo: data["device_info"],
		CreatedAt:  createdAt,
		ExpiresAt:  expiresAt,
	}, nil
}

// ListUserSessions returns the active device sessions of a user, newest
// first. currentID marks the session of the calling client.
//
// Invalid or expired sessions are skipped (logged but not returned).
func (s *SessionService) ListUserSessions(ctx context.Context, userID uuid.UUID, currentID string) ([]*models.DeviceSession, error) {
	sessionIDs, err := s.store.ListUserSessions(ctx, userID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	sessions := make([]*models.DeviceSession, 0, len(sessionIDs))
	for _, sessionID := range sessionIDs {
		info, err := s.GetSession(ctx, userID, sessionID)
		if err != nil {
			log.Warn().
				Err(err).
				Str("user_id", userID.String()).
				Str("session_id", sessionID).
				Msg("Failed to get session info")
			continue
		}
		info.Current = sessionID == currentID
		sessions = append(sessions, info)
	}

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.After(sessions[j].CreatedAt)
	})

	return sessions, nil
}

// Exists reports whether a device session is still registered. Revoking a
// device from another client makes its tokens unusable on the next refresh.
func (s *SessionService) Exists(ctx context.Context, userID uuid.UUID, sessionID string) bool {
	_, err := s.store.GetSession(ctx, userID.String(), sessionID)
	return err == nil
}

// RevokeSession deletes one device session.
func (s *SessionService) RevokeSession(ctx context.Context, userID uuid.UUID, sessionID string) error {
	if err := s.store.DeleteSession(ctx, userID.String(), sessionID); err != nil {
		return fmt.Errorf("failed to revoke session: %w", err)
	}

	log.Info().
		Str("user_id", userID.String()).
		Str("session_id", sessionID).
		Msg("Device session revoked")

	return nil
}

// RevokeAllSessions deletes every device session of a user. Individual
// deletion failures are logged and do not stop the sweep.
func (s *SessionService) RevokeAllSessions(ctx context.Context, userID uuid.UUID) error {
	sessionIDs, err := s.store.ListUserSessions(ctx, userID.String())
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}

	for _, sessionID := range sessionIDs {
		if err := s.store.DeleteSession(ctx, userID.String(), sessionID); err != nil {
			log.Warn().
				Err(err).
				Str("user_id", userID.String()).
				Str("session_id", sessionID).
				Msg("Failed to delete session")
		}
	}

	log.Info().
		Str("user_id", userID.String()).
		Int("count", len(sessionIDs)).
		Msg("All device sessions revoked")

	return nil
}

// ExtractDeviceInfo turns a User-Agent header into a display string such as
// "Chrome 120.0 · Windows 10 · Desktop". An empty header yields
// "Unknown Device".
func ExtractDeviceInfo(userAgent string) string {
	if userAgent == "" {
		return "Unknown Device"
	}

	ua := useragent.Parse(userAgent)

	var parts []string
	if ua.Name != "" {
		browser := ua.Name
		if ua.Version != "" {
			browser += " " + ua.Version
		}
		parts = append(parts, browser)
	}

	if ua.OS != "" {
		os := ua.OS
		if ua.OSVersion != "" {
			os += " " + ua.OSVersion
		}
		parts = append(parts, os)
	}

	switch {
	case ua.Mobile:
		parts = append(parts, "Mobile")
	case ua.Tablet:
		parts = append(parts, "Tablet")
	case ua.Desktop:
		parts = append(parts, "Desktop")
	}

	if len(parts) == 0 {
		if len(userAgent) > 100 {
			return userAgent[:100] + "..."
		}
		return userAgent
	}

	return strings.Join(parts, " · ")
}
