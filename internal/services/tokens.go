// Package services implements the remote directory the learner agent signs
// in against: password and Google OAuth authentication, JWT session tokens,
// per-device sessions and the auth event stream consumed by the session
// synchronization engine.
package services

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/ieraasyl/LearnHub/pkg/config"
	"github.com/rs/zerolog/log"
)

// Token types carried in the "typ" claim.
const (
	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"
)

var (
	// ErrInvalidToken wraps every signature, format and expiry failure.
	ErrInvalidToken = errors.New("invalid token")
	// ErrTokenRevoked is returned for a token whose ID is on the blacklist.
	ErrTokenRevoked = errors.New("token has been revoked")
)

// TokenStore is the Redis surface used by TokenService.
type TokenStore interface {
	SetRefreshToken(ctx context.Context, tokenID, userID string, expiry time.Duration) error
	GetRefreshToken(ctx context.Context, tokenID string) (string, error)
	DeleteRefreshToken(ctx context.Context, tokenID string) error
	BlacklistToken(ctx context.Context, jti string, expiry time.Duration) error
	IsTokenBlacklisted(ctx context.Context, jti string) (bool, error)
}

// TokenService issues and verifies the HS256 tokens of directory sessions.
//
// Access tokens are short lived and revocable through the blacklist. Refresh
// tokens are registered in Redis and rotated on every use: a refresh token
// that was already exchanged is rejected.
type TokenService struct {
	secret        []byte
	accessExpiry  time.Duration
	refreshExpiry time.Duration
	store         TokenStore
}

// TokenPair is the result of a sign-in or refresh.
type TokenPair struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"` // access token expiry
}

// Claims are the custom JWT claims. SessionID ties both tokens of a pair to
// the device session they were issued for.
type Claims struct {
	UserID    string `json:"user_id"`
	Email     string `json:"email"`
	SessionID string `json:"sid"`
	Type      string `json:"typ"`
	JTI       string `json:"jti"`
	jwt.RegisteredClaims
}

// NewTokenService creates a token service.
func NewTokenService(cfg *config.JWTConfig, store TokenStore) *TokenService {
	return &TokenService{
		secret:        cfg.Secret,
		accessExpiry:  cfg.AccessExpiry,
		refreshExpiry: cfg.RefreshExpiry,
		store:         store,
	}
}

// RefreshExpiry is how long a session survives without activity.
func (s *TokenService) RefreshExpiry() time.Duration {
	return s.refreshExpiry
}

// GenerateTokenPair issues an access and a refresh token for a device
// session and registers the refresh token.
//
// Example:
//
//	pair, err := tokens.GenerateTokenPair(ctx, user.ID, user.Email, sessionID)
//	if err != nil {
//	    return nil, fmt.Errorf("failed to issue tokens: %w", err)
//	}
func (s *TokenService) GenerateTokenPair(ctx context.Context, userID uuid.UUID, email, sessionID string) (*TokenPair, error) {
	accessJTI := generateJTI()
	accessToken, expiresAt, err := s.generateToken(userID.String(), email, sessionID, tokenTypeAccess, accessJTI, s.accessExpiry)
	if err != nil {
		return nil, fmt.Errorf("failed to generate access token: %w", err)
	}

	refreshJTI := generateJTI()
	refreshToken, _, err := s.generateToken(userID.String(), email, sessionID, tokenTypeRefresh, refreshJTI, s.refreshExpiry)
	if err != nil {
		return nil, fmt.Errorf("failed to generate refresh token: %w", err)
	}

	if err := s.store.SetRefreshToken(ctx, refreshJTI, userID.String(), s.refreshExpiry); err != nil {
		return nil, fmt.Errorf("failed to store refresh token: %w", err)
	}

	log.Debug().
		Str("user_id", userID.String()).
		Str("session_id", sessionID).
		Msg("Token pair generated")

	return &TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *TokenService) generateToken(userID, email, sessionID, typ, jti string, expiry time.Duration) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(expiry)

	claims := Claims{
		UserID:    userID,
		Email:     email,
		SessionID: sessionID,
		Type:      typ,
		JTI:       jti,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

func (s *TokenService) parse(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("%w: bad claims", ErrInvalidToken)
	}
	return claims, nil
}

// ValidateToken verifies signature, expiry and revocation of an access
// token. Expiry failures wrap both ErrInvalidToken and jwt.ErrTokenExpired;
// errors wrapping neither sentinel come from the token store.
func (s *TokenService) ValidateToken(ctx context.Context, tokenString string) (*Claims, error) {
	claims, err := s.parse(tokenString)
	if err != nil {
		return nil, err
	}
	if claims.Type != tokenTypeAccess {
		return nil, fmt.Errorf("%w: expected access token, got %q", ErrInvalidToken, claims.Type)
	}

	blacklisted, err := s.store.IsTokenBlacklisted(ctx, claims.JTI)
	if err != nil {
		return nil, fmt.Errorf("failed to verify token status: %w", err)
	}
	if blacklisted {
		return nil, ErrTokenRevoked
	}

	return claims, nil
}

// RefreshAccessToken exchanges a refresh token for a new pair bound to the
// same device session. The old refresh token is retired.
func (s *TokenService) RefreshAccessToken(ctx context.Context, refreshToken string) (*TokenPair, *Claims, error) {
	claims, err := s.parse(refreshToken)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid refresh token: %w", err)
	}
	if claims.Type != tokenTypeRefresh {
		return nil, nil, fmt.Errorf("invalid refresh token: expected refresh token, got %q", claims.Type)
	}

	storedUserID, err := s.store.GetRefreshToken(ctx, claims.JTI)
	if err != nil {
		return nil, nil, fmt.Errorf("refresh token not found or expired: %w", err)
	}
	if storedUserID != claims.UserID {
		return nil, nil, fmt.Errorf("token user mismatch")
	}

	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid user ID: %w", err)
	}

	pair, err := s.GenerateTokenPair(ctx, userID, claims.Email, claims.SessionID)
	if err != nil {
		return nil, nil, err
	}

	if err := s.store.DeleteRefreshToken(ctx, claims.JTI); err != nil {
		log.Warn().Err(err).Str("jti", claims.JTI).Msg("Failed to delete old refresh token")
	}

	return pair, claims, nil
}

// RevokeToken retires a token of either type: access tokens are
// blacklisted until they expire, refresh tokens are removed from the
// registry. Tokens that no longer parse or already expired are ignored.
func (s *TokenService) RevokeToken(ctx context.Context, tokenString string) error {
	claims, err := s.parse(tokenString)
	if err != nil {
		log.Debug().Err(err).Msg("Skipping revocation of unparsable token")
		return nil
	}

	if claims.Type == tokenTypeRefresh {
		return s.store.DeleteRefreshToken(ctx, claims.JTI)
	}

	ttl := time.Until(claims.ExpiresAt.Time)
	if ttl <= 0 {
		return nil
	}
	if err := s.store.BlacklistToken(ctx, claims.JTI, ttl); err != nil {
		return fmt.Errorf("failed to blacklist token: %w", err)
	}

	log.Debug().
		Str("jti", claims.JTI).
		Str("user_id", claims.UserID).
		Msg("Token revoked")

	return nil
}

func generateJTI() string {
	return randomToken()
}

// GenerateState returns a random OAuth state parameter.
func GenerateState() string {
	return randomToken()
}

func randomToken() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)
}
