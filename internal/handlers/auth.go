package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/ieraasyl/LearnHub/internal/authsync"
	"github.com/ieraasyl/LearnHub/internal/database"
	"github.com/ieraasyl/LearnHub/internal/models"
	"github.com/ieraasyl/LearnHub/internal/services"
	"github.com/ieraasyl/LearnHub/pkg/utils"
	"github.com/rs/zerolog/log"
)

const (
	oauthStateCookie = "oauth_state"
	oauthStateMaxAge = 600 // seconds
)

// AuthEngine is the session synchronization engine as the HTTP layer sees it.
// authsync.Engine implements it.
type AuthEngine interface {
	GetState() authsync.State
	Subscribe(fn func(authsync.State)) func()
	SignIn(ctx context.Context, creds models.Credentials) error
	SignUp(ctx context.Context, req models.SignUpRequest) error
	SignInWithOAuth(ctx context.Context, code string) error
	SignOut(ctx context.Context, scope models.SignOutScope) error
}

// AccountDirectory covers the directory operations that do not go through
// the engine. services.DirectoryClient implements it.
type AccountDirectory interface {
	AuthURL(state string) (string, error)
	UpdateUser(ctx context.Context, meta map[string]interface{}) (*models.Session, error)
	UpdatePassword(ctx context.Context, current, next string) error
	DeleteUser(ctx context.Context, userID uuid.UUID) error
	ListDeviceSessions(ctx context.Context) ([]*models.DeviceSession, error)
	RevokeDeviceSession(ctx context.Context, sessionID string) error
}

// AuthHandler serves the auth endpoints of the learner agent.
//
// Actions (sign-in, sign-up, OAuth, sign-out) answer 202 Accepted: the
// resulting state is published by the engine once the identity is resolved
// and is read from /state or pushed over /stream.
type AuthHandler struct {
	engine       AuthEngine
	directory    AccountDirectory
	isProduction bool
	redirectURL  string
}

// NewAuthHandler creates a new auth handler.
//
// Parameters:
//   - engine: session synchronization engine
//   - directory: directory client for account and device operations
//   - isProduction: marks cookies Secure
//   - redirectURL: where the OAuth callback sends the browser
//
// Example:
//
//	authHandler := handlers.NewAuthHandler(engine, directory, cfg.Server.Environment == "production", cfg.Server.FrontendURL)
func NewAuthHandler(engine AuthEngine, directory AccountDirectory, isProduction bool, redirectURL string) *AuthHandler {
	if redirectURL == "" {
		redirectURL = "/"
	}
	return &AuthHandler{
		engine:       engine,
		directory:    directory,
		isProduction: isProduction,
		redirectURL:  redirectURL,
	}
}

// StateResponse is the public view of the synchronized auth state.
//
// JSON example:
//
//	{
//	  "ready": true,
//	  "authenticating": false,
//	  "signed_in": true,
//	  "role": "student",
//	  "principal": {"id": "550e8400-...", "email": "ada@example.com"},
//	  "profile": {"id": "550e8400-...", "username": "adalovelace", "bonus_points": 50},
//	  "session": {"id": "3f0d9a3e-...", "expires_at": "2024-01-20T15:00:00Z"}
//	}
type StateResponse struct {
	Ready          bool              `json:"ready"`
	Authenticating bool              `json:"authenticating"`
	SignedIn       bool              `json:"signed_in"`
	Role           models.Role       `json:"role,omitempty"`
	Principal      *models.Principal `json:"principal"`
	Profile        *models.Profile   `json:"profile"`
	Session        *models.Session   `json:"session"`
}

// NewStateResponse projects an engine snapshot. Role is only reported once
// the state is ready.
func NewStateResponse(s authsync.State) StateResponse {
	resp := StateResponse{
		Ready:          s.Ready,
		Authenticating: s.Authenticating,
		SignedIn:       s.SignedIn(),
		Principal:      s.Principal,
		Profile:        s.Profile,
		Session:        s.Session,
	}
	if s.Ready && s.SignedIn() {
		resp.Role = s.Role
	}
	return resp
}

// State returns the current auth state snapshot.
//
// Example request:
//
//	GET /api/v1/auth/state
func (h *AuthHandler) State(w http.ResponseWriter, r *http.Request) {
	utils.RespondWithJSON(w, r, http.StatusOK, NewStateResponse(h.engine.GetState()))
}

// SignIn starts an email/password sign-in.
//
// Example request:
//
//	POST /api/v1/auth/sign-in
//	{"email": "ada@example.com", "password": "correct horse"}
//
// Responses: 202 on accepted credentials, 400 on a malformed body, 401 on
// wrong credentials.
func (h *AuthHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	var creds models.Credentials
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		utils.RespondWithError(w, r, http.StatusBadRequest, "Invalid request body")
		return
	}
	if creds.Email == "" || creds.Password == "" {
		utils.RespondWithError(w, r, http.StatusBadRequest, "Email and password are required")
		return
	}

	if err := h.engine.SignIn(r.Context(), creds); err != nil {
		h.respondAuthError(w, r, err)
		return
	}
	h.respondAccepted(w, r)
}

// SignUp registers an account and signs it in.
//
// Example request:
//
//	POST /api/v1/auth/sign-up
//	{"email": "ada@example.com", "password": "correct horse", "first_name": "Ada", "last_name": "Lovelace"}
func (h *AuthHandler) SignUp(w http.ResponseWriter, r *http.Request) {
	var req models.SignUpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondWithError(w, r, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := h.engine.SignUp(r.Context(), req); err != nil {
		h.respondAuthError(w, r, err)
		return
	}
	h.respondAccepted(w, r)
}

// SignOut ends the current session. ?scope=global also revokes every other
// device session of the user.
func (h *AuthHandler) SignOut(w http.ResponseWriter, r *http.Request) {
	scope := models.ParseSignOutScope(r.URL.Query().Get("scope"))

	if err := h.engine.SignOut(r.Context(), scope); err != nil {
		h.respondAuthError(w, r, err)
		return
	}
	h.respondAccepted(w, r)
}

// GoogleLogin redirects the browser to the Google consent screen. The state
// parameter is kept in a short-lived cookie and checked by GoogleCallback.
func (h *AuthHandler) GoogleLogin(w http.ResponseWriter, r *http.Request) {
	state := services.GenerateState()

	url, err := h.directory.AuthURL(state)
	if err != nil {
		if errors.Is(err, services.ErrOAuthDisabled) {
			utils.RespondWithError(w, r, http.StatusNotFound, "OAuth sign-in is not configured")
			return
		}
		log.Error().Err(err).Msg("Failed to build OAuth URL")
		utils.RespondWithError(w, r, http.StatusInternalServerError, "Failed to start OAuth sign-in")
		return
	}

	utils.SetShortLivedCookie(w, oauthStateCookie, state, oauthStateMaxAge, h.isProduction)
	http.Redirect(w, r, url, http.StatusTemporaryRedirect)
}

// GoogleCallback completes the OAuth flow and sends the browser back to the
// learning UI.
func (h *AuthHandler) GoogleCallback(w http.ResponseWriter, r *http.Request) {
	stateCookie, err := r.Cookie(oauthStateCookie)
	if err != nil {
		log.Warn().Err(err).Msg("Missing OAuth state cookie")
		utils.RespondWithError(w, r, http.StatusBadRequest, "Invalid OAuth state")
		return
	}
	if r.URL.Query().Get("state") != stateCookie.Value {
		log.Warn().Msg("OAuth state mismatch")
		utils.RespondWithError(w, r, http.StatusBadRequest, "Invalid OAuth state")
		return
	}
	utils.ClearCookie(w, oauthStateCookie)

	code := r.URL.Query().Get("code")
	if code == "" {
		utils.RespondWithError(w, r, http.StatusBadRequest, "Missing authorization code")
		return
	}

	if err := h.engine.SignInWithOAuth(r.Context(), code); err != nil {
		if errors.Is(err, services.ErrOAuthDisabled) || errors.Is(err, authsync.ErrClosed) {
			h.respondAuthError(w, r, err)
			return
		}
		log.Error().Err(err).Msg("OAuth sign-in failed")
		utils.RespondWithError(w, r, http.StatusUnauthorized, "Authentication failed")
		return
	}
	http.Redirect(w, r, h.redirectURL, http.StatusSeeOther)
}

// UpdateUser merges fields into the signed-in user's metadata. The role key
// is ignored by the directory.
//
// Example request:
//
//	PATCH /api/v1/auth/user
//	{"first_name": "Augusta"}
func (h *AuthHandler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	var meta map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&meta); err != nil || len(meta) == 0 {
		utils.RespondWithError(w, r, http.StatusBadRequest, "Invalid request body")
		return
	}

	if _, err := h.directory.UpdateUser(r.Context(), meta); err != nil {
		h.respondAuthError(w, r, err)
		return
	}
	h.respondAccepted(w, r)
}

// UpdatePassword changes the signed-in user's password.
//
// Example request:
//
//	POST /api/v1/auth/password
//	{"current_password": "correct horse", "new_password": "battery staple"}
func (h *AuthHandler) UpdatePassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Current string `json:"current_password"`
		Next    string `json:"new_password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Next == "" {
		utils.RespondWithError(w, r, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := h.directory.UpdatePassword(r.Context(), req.Current, req.Next); err != nil {
		h.respondAuthError(w, r, err)
		return
	}
	utils.RespondWithMessage(w, r, http.StatusOK, "Password updated")
}

// ListSessions lists the device sessions of the signed-in user. The current
// device is flagged.
func (h *AuthHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.directory.ListDeviceSessions(r.Context())
	if err != nil {
		h.respondAuthError(w, r, err)
		return
	}
	if sessions == nil {
		sessions = []*models.DeviceSession{}
	}

	utils.RespondWithJSON(w, r, http.StatusOK, map[string]interface{}{
		"sessions": sessions,
		"total":    len(sessions),
	})
}

// RevokeSession revokes one device session. Revoking the current device
// signs this agent out.
func (h *AuthHandler) RevokeSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	if sessionID == "" {
		utils.RespondWithError(w, r, http.StatusBadRequest, "Session ID is required")
		return
	}

	if err := h.directory.RevokeDeviceSession(r.Context(), sessionID); err != nil {
		h.respondAuthError(w, r, err)
		return
	}
	utils.RespondWithMessage(w, r, http.StatusOK, "Session revoked successfully")
}

// DeleteUser removes an account with its learning data. Admin only.
func (h *AuthHandler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		utils.RespondWithError(w, r, http.StatusBadRequest, "Invalid user ID")
		return
	}

	if err := h.directory.DeleteUser(r.Context(), userID); err != nil {
		h.respondAuthError(w, r, err)
		return
	}
	utils.RespondWithMessage(w, r, http.StatusOK, "User deleted")
}

func (h *AuthHandler) respondAccepted(w http.ResponseWriter, r *http.Request) {
	utils.RespondWithJSON(w, r, http.StatusAccepted, NewStateResponse(h.engine.GetState()))
}

// respondAuthError maps directory and engine errors to HTTP statuses.
func (h *AuthHandler) respondAuthError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, services.ErrInvalidCredentials):
		utils.RespondWithError(w, r, http.StatusUnauthorized, "Invalid email or password")
	case errors.Is(err, services.ErrEmailTaken):
		utils.RespondWithError(w, r, http.StatusConflict, "Email is already registered")
	case errors.Is(err, services.ErrInvalidEmail):
		utils.RespondWithError(w, r, http.StatusBadRequest, "Invalid email address")
	case errors.Is(err, services.ErrWeakPassword):
		utils.RespondWithError(w, r, http.StatusBadRequest, "Password is too short")
	case errors.Is(err, services.ErrOAuthDisabled):
		utils.RespondWithError(w, r, http.StatusNotFound, "OAuth sign-in is not configured")
	case errors.Is(err, services.ErrNotSignedIn):
		utils.RespondWithError(w, r, http.StatusUnauthorized, "Not signed in")
	case errors.Is(err, database.ErrNotFound):
		utils.RespondWithError(w, r, http.StatusNotFound, "Not found")
	case errors.Is(err, authsync.ErrClosed):
		utils.RespondWithError(w, r, http.StatusServiceUnavailable, "Shutting down")
	default:
		log.Error().Err(err).Str("path", r.URL.Path).Msg("Auth request failed")
		utils.RespondWithError(w, r, http.StatusInternalServerError, "Internal server error")
	}
}
