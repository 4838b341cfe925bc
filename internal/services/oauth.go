package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/ieraasyl/LearnHub/internal/models"
	"github.com/ieraasyl/LearnHub/pkg/config"
	"github.com/ieraasyl/LearnHub/pkg/utils"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// ProviderGoogle is the provider name stored on OAuth accounts.
const ProviderGoogle = "google"

// OAuthUserStore upserts directory accounts created through OAuth.
type OAuthUserStore interface {
	UpsertOAuthUser(ctx context.Context, provider, providerID, email string, userMeta map[string]interface{}) (*models.AuthUser, error)
}

// OAuthService handles the Google OAuth 2.0 authorization code flow.
// It exchanges the code, reads the Google profile and turns it into a
// directory account whose user metadata carries full_name and avatar_url.
type OAuthService struct {
	config      *oauth2.Config
	userInfoURL string
	users       OAuthUserStore
	retry       utils.RetryConfig
}

// GoogleUserInfo is the response of Google's UserInfo API.
//
// JSON response example:
//
//	{
//	  "id": "1234567890",
//	  "email": "user@example.com",
//	  "name": "Ada Lovelace",
//	  "given_name": "Ada",
//	  "family_name": "Lovelace",
//	  "picture": "https://lh3.googleusercontent.com/..."
//	}
type GoogleUserInfo struct {
	ID         string `json:"id"`
	Email      string `json:"email"`
	Name       string `json:"name"`
	GivenName  string `json:"given_name"`
	FamilyName string `json:"family_name"`
	Picture    string `json:"picture"`
}

// NewOAuthService creates an OAuth service configured for Google with the
// profile and email scopes.
//
// Example:
//
//	oauthSvc := services.NewOAuthService(&cfg.OAuth, postgresDB)
func NewOAuthService(cfg *config.OAuthConfig, users OAuthUserStore) *OAuthService {
	return &OAuthService{
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes: []string{
				"https://www.googleapis.com/auth/userinfo.profile",
				"https://www.googleapis.com/auth/userinfo.email",
			},
			Endpoint: google.Endpoint,
		},
		userInfoURL: cfg.UserInfoURL,
		users:       users,
		retry:       utils.ExternalAPIRetryConfig(),
	}
}

// GetAuthURL returns the Google consent screen URL. state must be verified
// in the callback.
//
// Example:
//
//	state := services.GenerateState()
//	http.Redirect(w, r, oauthSvc.GetAuthURL(state), http.StatusTemporaryRedirect)
func (s *OAuthService) GetAuthURL(state string) string {
	return s.config.AuthCodeURL(state, oauth2.AccessTypeOnline)
}

// ExchangeCode exchanges an authorization code for a Google token.
func (s *OAuthService) ExchangeCode(ctx context.Context, code string) (*oauth2.Token, error) {
	token, err := s.config.Exchange(ctx, code)
	if err != nil {
		log.Error().Err(err).Msg("Failed to exchange authorization code")
		return nil, fmt.Errorf("failed to exchange code: %w", err)
	}
	return token, nil
}

// GetUserInfo fetches the Google profile for token. Network failures and 5xx
// responses are retried with backoff; 4xx responses fail immediately.
func (s *OAuthService) GetUserInfo(ctx context.Context, token *oauth2.Token) (*GoogleUserInfo, error) {
	client := s.config.Client(ctx, token)

	return utils.RetryWithResult(ctx, s.retry, func() (*GoogleUserInfo, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.userInfoURL, nil)
		if err != nil {
			return nil, utils.Permanent(fmt.Errorf("failed to build user info request: %w", err))
		}

		resp, err := client.Do(req)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to fetch user info from Google")
			return nil, fmt.Errorf("failed to get user info: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return nil, utils.Permanent(fmt.Errorf("failed to get user info: status %d", resp.StatusCode))
		}
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("failed to get user info: status %d", resp.StatusCode)
		}

		var info GoogleUserInfo
		if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
			return nil, utils.Permanent(fmt.Errorf("failed to decode user info: %w", err))
		}
		return &info, nil
	})
}

// AuthenticateUser runs the whole callback leg: code exchange, profile
// fetch and account upsert. Existing accounts keep the metadata they
// already have; new ones get full_name, given/family names and avatar_url
// from Google.
func (s *OAuthService) AuthenticateUser(ctx context.Context, code string) (*models.AuthUser, error) {
	token, err := s.ExchangeCode(ctx, code)
	if err != nil {
		return nil, err
	}

	info, err := s.GetUserInfo(ctx, token)
	if err != nil {
		return nil, err
	}
	if info.Email == "" {
		return nil, fmt.Errorf("google account has no email address")
	}

	meta := map[string]interface{}{
		"full_name":  info.Name,
		"avatar_url": info.Picture,
	}
	if info.GivenName != "" {
		meta["first_name"] = info.GivenName
	}
	if info.FamilyName != "" {
		meta["last_name"] = info.FamilyName
	}

	user, err := s.users.UpsertOAuthUser(ctx, ProviderGoogle, info.ID, info.Email, meta)
	if err != nil {
		log.Error().
			Err(err).
			Str("google_id", info.ID).
			Str("email", info.Email).
			Msg("Failed to create/update directory account")
		return nil, fmt.Errorf("failed to upsert user: %w", err)
	}

	log.Info().
		Str("user_id", user.ID.String()).
		Str("email", user.Email).
		Msg("OAuth user authenticated")

	return user, nil
}
