// Package models defines the data shared between the directory client, the
// identity and progress services and the HTTP layer.
//
// Sensitive fields carry `json:"-"` so they never reach API responses or logs.
package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Role is the authorization role of a learner.
type Role string

const (
	RoleStudent Role = "student"
	RoleAdmin   Role = "admin"
)

// ParseRole returns the recognized role named by s (case-insensitive).
func ParseRole(s string) (Role, bool) {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case RoleStudent:
		return RoleStudent, true
	case RoleAdmin:
		return RoleAdmin, true
	}
	return "", false
}

// Principal is the authenticated identity as the directory reports it.
//
// AppMetadata is asserted by the directory and cannot be changed by the user.
// UserMetadata is self-reported at sign-up (first_name, last_name, username)
// or copied from the OAuth provider (full_name, avatar_url).
type Principal struct {
	ID           uuid.UUID              `json:"id"`
	Email        string                 `json:"email"`
	AppMetadata  map[string]interface{} `json:"app_metadata,omitempty"`
	UserMetadata map[string]interface{} `json:"user_metadata,omitempty"`
}

// AppString returns a string field of AppMetadata, or "".
func (p *Principal) AppString(key string) string {
	return metadataString(p.AppMetadata, key)
}

// UserString returns a string field of UserMetadata, or "".
func (p *Principal) UserString(key string) string {
	return metadataString(p.UserMetadata, key)
}

// Clone returns a deep copy of p.
func (p *Principal) Clone() *Principal {
	if p == nil {
		return nil
	}
	c := *p
	c.AppMetadata = cloneMetadata(p.AppMetadata)
	c.UserMetadata = cloneMetadata(p.UserMetadata)
	return &c
}

func metadataString(m map[string]interface{}, key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)
	return strings.TrimSpace(s)
}

func cloneMetadata(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	c := make(map[string]interface{}, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}

// Session is the directory session held by this client.
//
// JSON example:
//
//	{
//	  "id": "3f0d9a3e-...",
//	  "user_id": "550e8400-e29b-41d4-a716-446655440000",
//	  "expires_at": "2024-01-20T15:00:00Z",
//	  "principal": {"id": "550e8400-...", "email": "ada@example.com"}
//	}
type Session struct {
	ID           string     `json:"id"`
	UserID       uuid.UUID  `json:"user_id"`
	AccessToken  string     `json:"-"`
	RefreshToken string     `json:"-"`
	ExpiresAt    time.Time  `json:"expires_at"`
	Principal    *Principal `json:"principal"`
}

// Clone returns a deep copy of s.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.Principal = s.Principal.Clone()
	return &c
}

// AuthEventKind names a transition on the directory's auth event stream.
type AuthEventKind string

const (
	EventInitialSession AuthEventKind = "initial-session"
	EventSignedIn       AuthEventKind = "signed-in"
	EventSignedOut      AuthEventKind = "signed-out"
	EventUserUpdated    AuthEventKind = "user-updated"
	EventUserDeleted    AuthEventKind = "user-deleted"
	EventTokenRefreshed AuthEventKind = "token-refreshed"
)

// AuthEvent is one notification from the directory. Session is nil for
// signed-out, user-deleted and an initial-session without a stored session.
type AuthEvent struct {
	Kind    AuthEventKind
	Session *Session
}

// SignOutScope selects which sessions a sign-out revokes.
type SignOutScope string

const (
	SignOutLocal  SignOutScope = "local"
	SignOutGlobal SignOutScope = "global"
)

// ParseSignOutScope defaults to SignOutLocal for anything but "global".
func ParseSignOutScope(s string) SignOutScope {
	if strings.EqualFold(s, string(SignOutGlobal)) {
		return SignOutGlobal
	}
	return SignOutLocal
}

// Credentials are an email/password pair.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// SignUpRequest carries the self-reported fields collected at registration.
type SignUpRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Username  string `json:"username"`
}

// AuthUser is a directory account row.
type AuthUser struct {
	ID           uuid.UUID              `json:"id"`
	Email        string                 `json:"email"`
	PasswordHash string                 `json:"-"`
	Provider     string                 `json:"provider"`
	ProviderID   string                 `json:"-"`
	AppMetadata  map[string]interface{} `json:"app_metadata"`
	UserMetadata map[string]interface{} `json:"user_metadata"`
	CreatedAt    time.Time              `json:"created_at"`
	UpdatedAt    time.Time              `json:"updated_at"`
	LastSignInAt *time.Time             `json:"last_sign_in_at,omitempty"`
}

// Principal projects the account onto the identity exposed to the engine.
func (u *AuthUser) Principal() *Principal {
	return &Principal{
		ID:           u.ID,
		Email:        u.Email,
		AppMetadata:  cloneMetadata(u.AppMetadata),
		UserMetadata: cloneMetadata(u.UserMetadata),
	}
}

// DeviceSession is one signed-in device of a user, as listed to the user.
type DeviceSession struct {
	ID         string    `json:"id"`
	DeviceInfo string    `json:"device_info"`
	CreatedAt  time.Time `json:"created_at"`
	ExpiresAt  time.Time `json:"expires_at"`
	Current    bool      `json:"current"`
}
