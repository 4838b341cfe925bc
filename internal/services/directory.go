package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/ieraasyl/LearnHub/internal/database"
	"github.com/ieraasyl/LearnHub/internal/metrics"
	"github.com/ieraasyl/LearnHub/internal/models"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"
)

// MinPasswordLength is the shortest password accepted at sign-up.
const MinPasswordLength = 8

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidEmail       = errors.New("invalid email address")
	ErrWeakPassword       = fmt.Errorf("password must be at least %d characters", MinPasswordLength)
	ErrOAuthDisabled      = errors.New("oauth sign-in is not configured")
	ErrNotSignedIn        = errors.New("not signed in")
)

// UserStore is the relational surface of directory accounts.
type UserStore interface {
	CreateAuthUser(ctx context.Context, email, passwordHash string, userMeta map[string]interface{}) (*models.AuthUser, error)
	GetAuthUserByID(ctx context.Context, userID uuid.UUID) (*models.AuthUser, error)
	GetAuthUserByEmail(ctx context.Context, email string) (*models.AuthUser, error)
	UpdateAuthUserMetadata(ctx context.Context, userID uuid.UUID, meta map[string]interface{}) (*models.AuthUser, error)
	UpdateAuthUserPassword(ctx context.Context, userID uuid.UUID, passwordHash string) error
	UpdateLastSignIn(ctx context.Context, userID uuid.UUID) error
	DeleteAuthUser(ctx context.Context, userID uuid.UUID) error
}

// ClientSessionStore persists the session owned by one client slot.
type ClientSessionStore interface {
	SetClientSession(ctx context.Context, clientID string, data []byte, ttl time.Duration) error
	GetClientSession(ctx context.Context, clientID string) ([]byte, error)
	DeleteClientSession(ctx context.Context, clientID string) error
}

// EventBus carries account changes between directory clients.
type EventBus interface {
	PublishDirectoryEvent(ctx context.Context, payload []byte) error
	SubscribeDirectoryEvents(ctx context.Context) (<-chan []byte, func() error, error)
}

// OAuthProvider is the OAuth leg of sign-in. OAuthService implements it.
type OAuthProvider interface {
	GetAuthURL(state string) string
	AuthenticateUser(ctx context.Context, code string) (*models.AuthUser, error)
}

// DirectoryOptions configures a DirectoryClient.
type DirectoryOptions struct {
	ClientID     string        // client slot the session is persisted under
	DeviceName   string        // user agent recorded on device sessions
	PasswordCost int           // bcrypt cost, bcrypt.DefaultCost when zero
	OAuth        OAuthProvider // nil disables OAuth sign-in
}

// busEvent is the pub/sub payload. Origin identifies the publishing client
// so it can ignore its own messages.
type busEvent struct {
	Kind   models.AuthEventKind `json:"kind"`
	UserID uuid.UUID            `json:"user_id"`
	Origin string               `json:"origin"`
}

// storedSession is the persisted form of models.Session, which hides its
// tokens from JSON.
type storedSession struct {
	ID           string            `json:"id"`
	UserID       uuid.UUID         `json:"user_id"`
	AccessToken  string            `json:"access_token"`
	RefreshToken string            `json:"refresh_token"`
	ExpiresAt    time.Time         `json:"expires_at"`
	Principal    *models.Principal `json:"principal"`
}

// DirectoryClient is the remote directory as seen by one learner agent.
//
// It authenticates users, persists the resulting session in the client's
// Redis slot and reports every change as an models.AuthEvent to its
// subscribers. Events are delivered one at a time in emission order; handlers
// must not block.
type DirectoryClient struct {
	users    UserStore
	store    ClientSessionStore
	bus      EventBus
	tokens   *TokenService
	sessions *SessionService
	opts     DirectoryOptions
	origin   string

	// sessMu serializes reads and writes of the persisted session so two
	// concurrent readers never both spend the same refresh token.
	sessMu sync.Mutex

	mu       sync.Mutex
	handlers map[int]func(models.AuthEvent)
	nextID   int

	emitMu sync.Mutex
}

// NewDirectoryClient creates a directory client.
//
// Example:
//
//	directory := services.NewDirectoryClient(postgresDB, redisDB, redisDB, tokens, sessions,
//	    services.DirectoryOptions{ClientID: cfg.Client.ID, OAuth: oauthSvc})
func NewDirectoryClient(users UserStore, store ClientSessionStore, bus EventBus, tokens *TokenService, sessions *SessionService, opts DirectoryOptions) *DirectoryClient {
	if opts.PasswordCost == 0 {
		opts.PasswordCost = bcrypt.DefaultCost
	}
	if opts.ClientID == "" {
		opts.ClientID = "default"
	}
	return &DirectoryClient{
		users:    users,
		store:    store,
		bus:      bus,
		tokens:   tokens,
		sessions: sessions,
		opts:     opts,
		origin:   uuid.New().String(),
		handlers: make(map[int]func(models.AuthEvent)),
	}
}

// Subscribe registers handler for auth events and returns a function that
// removes it. The new subscriber alone receives one initial-session event
// with the current session, or none, shortly after registration.
func (c *DirectoryClient) Subscribe(handler func(models.AuthEvent)) func() {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.handlers[id] = handler
	c.mu.Unlock()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		session, err := c.GetCurrentSession(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to read session for new subscriber")
		}

		c.emitMu.Lock()
		defer c.emitMu.Unlock()
		c.mu.Lock()
		h, ok := c.handlers[id]
		c.mu.Unlock()
		if ok {
			h(models.AuthEvent{Kind: models.EventInitialSession, Session: session})
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.handlers, id)
			c.mu.Unlock()
		})
	}
}

func (c *DirectoryClient) emit(kind models.AuthEventKind, session *models.Session) {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()

	c.mu.Lock()
	handlers := make([]func(models.AuthEvent), 0, len(c.handlers))
	for _, h := range c.handlers {
		handlers = append(handlers, h)
	}
	c.mu.Unlock()

	log.Debug().Str("event", string(kind)).Int("subscribers", len(handlers)).Msg("Emitting auth event")
	for _, h := range handlers {
		h(models.AuthEvent{Kind: kind, Session: session.Clone()})
	}
}

// GetCurrentSession returns the session persisted for this client, or nil
// when signed out. An expired access token is refreshed first and reported
// with a token-refreshed event. A session that cannot be refreshed is
// discarded and reported as signed-out.
func (c *DirectoryClient) GetCurrentSession(ctx context.Context) (*models.Session, error) {
	c.sessMu.Lock()
	defer c.sessMu.Unlock()

	stored, err := c.load(ctx)
	if err != nil || stored == nil {
		return nil, err
	}

	_, err = c.tokens.ValidateToken(ctx, stored.AccessToken)
	switch {
	case err == nil:
		return stored.session(), nil
	case errors.Is(err, jwt.ErrTokenExpired):
		return c.refresh(ctx, stored)
	case errors.Is(err, ErrInvalidToken), errors.Is(err, ErrTokenRevoked):
		log.Info().Err(err).Str("user_id", stored.UserID.String()).Msg("Discarding unusable session")
		c.discard(ctx, stored)
		c.emit(models.EventSignedOut, nil)
		return nil, nil
	default:
		return nil, fmt.Errorf("failed to validate session: %w", err)
	}
}

func (c *DirectoryClient) refresh(ctx context.Context, stored *storedSession) (*models.Session, error) {
	fail := func(err error) (*models.Session, error) {
		metrics.TokenRefresh(false)
		log.Info().Err(err).Str("user_id", stored.UserID.String()).Msg("Session refresh failed, signing out")
		c.discard(ctx, stored)
		c.emit(models.EventSignedOut, nil)
		return nil, nil
	}

	if !c.sessions.Exists(ctx, stored.UserID, stored.ID) {
		return fail(errors.New("device session revoked"))
	}

	pair, _, err := c.tokens.RefreshAccessToken(ctx, stored.RefreshToken)
	if err != nil {
		return fail(err)
	}

	stored.AccessToken = pair.AccessToken
	stored.RefreshToken = pair.RefreshToken
	stored.ExpiresAt = pair.ExpiresAt
	if err := c.save(ctx, stored); err != nil {
		return nil, err
	}

	metrics.TokenRefresh(true)
	session := stored.session()
	c.emit(models.EventTokenRefreshed, session)
	return session, nil
}

// SignIn authenticates with email and password. Unknown emails, wrong
// passwords and OAuth-only accounts all fail with ErrInvalidCredentials.
func (c *DirectoryClient) SignIn(ctx context.Context, creds models.Credentials) (*models.Session, error) {
	email := normalizeEmail(creds.Email)

	user, err := c.users.GetAuthUserByEmail(ctx, email)
	if errors.Is(err, database.ErrNotFound) {
		metrics.AuthAttempt("password", false)
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up account: %w", err)
	}

	if user.PasswordHash == "" ||
		bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(creds.Password)) != nil {
		metrics.AuthAttempt("password", false)
		log.Info().Str("user_id", user.ID.String()).Msg("Password sign-in rejected")
		return nil, ErrInvalidCredentials
	}

	return c.establish(ctx, user, "password")
}

// SignUp registers an account and signs it in. FirstName, LastName and
// Username are stored as user metadata for the first profile.
func (c *DirectoryClient) SignUp(ctx context.Context, req models.SignUpRequest) (*models.Session, error) {
	email := normalizeEmail(req.Email)
	if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		return nil, ErrInvalidEmail
	}
	if len(req.Password) < MinPasswordLength {
		return nil, ErrWeakPassword
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), c.opts.PasswordCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	meta := map[string]interface{}{}
	for key, value := range map[string]string{
		"first_name": req.FirstName,
		"last_name":  req.LastName,
		"username":   req.Username,
	} {
		if v := strings.TrimSpace(value); v != "" {
			meta[key] = v
		}
	}

	user, err := c.users.CreateAuthUser(ctx, email, string(hash), meta)
	if errors.Is(err, database.ErrDuplicateKey) {
		metrics.AuthAttempt("sign-up", false)
		return nil, ErrEmailTaken
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create account: %w", err)
	}

	log.Info().Str("user_id", user.ID.String()).Msg("Account registered")
	return c.establish(ctx, user, "sign-up")
}

// OAuthEnabled reports whether SignInWithOAuth can be used.
func (c *DirectoryClient) OAuthEnabled() bool {
	return c.opts.OAuth != nil
}

// AuthURL returns the provider consent URL for state.
func (c *DirectoryClient) AuthURL(state string) (string, error) {
	if c.opts.OAuth == nil {
		return "", ErrOAuthDisabled
	}
	return c.opts.OAuth.GetAuthURL(state), nil
}

// SignInWithOAuth completes the OAuth code flow and signs the account in.
func (c *DirectoryClient) SignInWithOAuth(ctx context.Context, code string) (*models.Session, error) {
	if c.opts.OAuth == nil {
		return nil, ErrOAuthDisabled
	}

	user, err := c.opts.OAuth.AuthenticateUser(ctx, code)
	if err != nil {
		metrics.AuthAttempt("oauth", false)
		return nil, err
	}
	return c.establish(ctx, user, "oauth")
}

// establish opens a device session for user, persists the token pair and
// emits signed-in. A session already held by this client is retired first.
func (c *DirectoryClient) establish(ctx context.Context, user *models.AuthUser, method string) (*models.Session, error) {
	c.sessMu.Lock()
	defer c.sessMu.Unlock()

	if previous, err := c.load(ctx); err == nil && previous != nil {
		c.discard(ctx, previous)
	}

	sessionID, err := c.sessions.CreateSession(ctx, user.ID, ExtractDeviceInfo(c.opts.DeviceName))
	if err != nil {
		return nil, err
	}

	pair, err := c.tokens.GenerateTokenPair(ctx, user.ID, user.Email, sessionID)
	if err != nil {
		_ = c.sessions.RevokeSession(ctx, user.ID, sessionID)
		return nil, err
	}

	if err := c.users.UpdateLastSignIn(ctx, user.ID); err != nil {
		log.Warn().Err(err).Str("user_id", user.ID.String()).Msg("Failed to update last sign-in")
	}

	stored := &storedSession{
		ID:           sessionID,
		UserID:       user.ID,
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		ExpiresAt:    pair.ExpiresAt,
		Principal:    user.Principal(),
	}
	if err := c.save(ctx, stored); err != nil {
		return nil, err
	}

	metrics.AuthAttempt(method, true)
	log.Info().
		Str("user_id", user.ID.String()).
		Str("session_id", sessionID).
		Str("method", method).
		Msg("Signed in")

	session := stored.session()
	c.emit(models.EventSignedIn, session)
	return session, nil
}

// SignOut ends the session of this client. SignOutGlobal also revokes every
// other device session of the user and tells other clients to drop theirs.
// signed-out is emitted even when no session was held.
func (c *DirectoryClient) SignOut(ctx context.Context, scope models.SignOutScope) error {
	c.sessMu.Lock()
	defer c.sessMu.Unlock()

	stored, err := c.load(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to read session during sign-out")
	}

	if stored != nil {
		c.discard(ctx, stored)

		if scope == models.SignOutGlobal {
			if err := c.sessions.RevokeAllSessions(ctx, stored.UserID); err != nil {
				log.Warn().Err(err).Str("user_id", stored.UserID.String()).Msg("Failed to revoke all sessions")
			}
			c.publish(ctx, models.EventSignedOut, stored.UserID)
		}

		log.Info().
			Str("user_id", stored.UserID.String()).
			Str("scope", string(scope)).
			Msg("Signed out")
	}

	c.emit(models.EventSignedOut, nil)
	return nil
}

// UpdateUser merges meta into the signed-in user's metadata. The "role" key
// is reserved and ignored.
func (c *DirectoryClient) UpdateUser(ctx context.Context, meta map[string]interface{}) (*models.Session, error) {
	c.sessMu.Lock()
	defer c.sessMu.Unlock()

	stored, err := c.requireSession(ctx)
	if err != nil {
		return nil, err
	}

	clean := make(map[string]interface{}, len(meta))
	for k, v := range meta {
		if k != "role" {
			clean[k] = v
		}
	}

	user, err := c.users.UpdateAuthUserMetadata(ctx, stored.UserID, clean)
	if err != nil {
		return nil, fmt.Errorf("failed to update user: %w", err)
	}

	return c.applyUserUpdate(ctx, stored, user, true)
}

// UpdatePassword replaces the signed-in user's password after checking the
// current one. OAuth-only accounts may set a first password without it.
func (c *DirectoryClient) UpdatePassword(ctx context.Context, current, next string) error {
	c.sessMu.Lock()
	defer c.sessMu.Unlock()

	stored, err := c.requireSession(ctx)
	if err != nil {
		return err
	}
	if len(next) < MinPasswordLength {
		return ErrWeakPassword
	}

	user, err := c.users.GetAuthUserByID(ctx, stored.UserID)
	if err != nil {
		return fmt.Errorf("failed to load user: %w", err)
	}
	if user.PasswordHash != "" &&
		bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(current)) != nil {
		return ErrInvalidCredentials
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(next), c.opts.PasswordCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	if err := c.users.UpdateAuthUserPassword(ctx, user.ID, string(hash)); err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}

	_, err = c.applyUserUpdate(ctx, stored, user, true)
	return err
}

func (c *DirectoryClient) applyUserUpdate(ctx context.Context, stored *storedSession, user *models.AuthUser, publish bool) (*models.Session, error) {
	stored.Principal = user.Principal()
	if err := c.save(ctx, stored); err != nil {
		return nil, err
	}

	session := stored.session()
	c.emit(models.EventUserUpdated, session)
	if publish {
		c.publish(ctx, models.EventUserUpdated, user.ID)
	}
	return session, nil
}

// DeleteUser removes an account with all of its learning data and device
// sessions. Clients holding a session of that user are told through the bus;
// this client handles it directly.
func (c *DirectoryClient) DeleteUser(ctx context.Context, userID uuid.UUID) error {
	if err := c.users.DeleteAuthUser(ctx, userID); err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	if err := c.sessions.RevokeAllSessions(ctx, userID); err != nil {
		log.Warn().Err(err).Str("user_id", userID.String()).Msg("Failed to revoke sessions of deleted user")
	}

	log.Info().Str("user_id", userID.String()).Msg("Account deleted")

	c.publish(ctx, models.EventUserDeleted, userID)
	c.dropLocal(ctx, userID, models.EventUserDeleted)
	return nil
}

// ListDeviceSessions lists the device sessions of the signed-in user.
func (c *DirectoryClient) ListDeviceSessions(ctx context.Context) ([]*models.DeviceSession, error) {
	session, err := c.GetCurrentSession(ctx)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, ErrNotSignedIn
	}
	return c.sessions.ListUserSessions(ctx, session.UserID, session.ID)
}

// RevokeDeviceSession revokes one device session of the signed-in user.
// Revoking the current device is a local sign-out.
func (c *DirectoryClient) RevokeDeviceSession(ctx context.Context, sessionID string) error {
	session, err := c.GetCurrentSession(ctx)
	if err != nil {
		return err
	}
	if session == nil {
		return ErrNotSignedIn
	}
	if sessionID == session.ID {
		return c.SignOut(ctx, models.SignOutLocal)
	}
	return c.sessions.RevokeSession(ctx, session.UserID, sessionID)
}

// Listen relays account changes published by other clients until ctx is
// done. Only changes to the locally signed-in user produce events.
func (c *DirectoryClient) Listen(ctx context.Context) error {
	events, closeSub, err := c.bus.SubscribeDirectoryEvents(ctx)
	if err != nil {
		return fmt.Errorf("failed to subscribe to directory events: %w", err)
	}
	defer closeSub()

	log.Info().Str("client_id", c.opts.ClientID).Msg("Listening for directory events")

	for payload := range events {
		var ev busEvent
		if err := json.Unmarshal(payload, &ev); err != nil {
			log.Warn().Err(err).Msg("Ignoring malformed directory event")
			continue
		}
		if ev.Origin == c.origin {
			continue
		}
		c.handleBusEvent(ctx, ev)
	}
	return ctx.Err()
}

func (c *DirectoryClient) handleBusEvent(ctx context.Context, ev busEvent) {
	switch ev.Kind {
	case models.EventUserUpdated:
		c.sessMu.Lock()
		defer c.sessMu.Unlock()

		stored, err := c.load(ctx)
		if err != nil || stored == nil || stored.UserID != ev.UserID {
			return
		}
		user, err := c.users.GetAuthUserByID(ctx, ev.UserID)
		if err != nil {
			log.Warn().Err(err).Str("user_id", ev.UserID.String()).Msg("Failed to reload updated user")
			return
		}
		if _, err := c.applyUserUpdate(ctx, stored, user, false); err != nil {
			log.Warn().Err(err).Msg("Failed to apply remote user update")
		}
	case models.EventUserDeleted, models.EventSignedOut:
		c.dropLocal(ctx, ev.UserID, ev.Kind)
	default:
		log.Debug().Str("event", string(ev.Kind)).Msg("Ignoring directory event")
	}
}

// dropLocal clears this client's session when it belongs to userID and
// emits kind.
func (c *DirectoryClient) dropLocal(ctx context.Context, userID uuid.UUID, kind models.AuthEventKind) {
	c.sessMu.Lock()
	defer c.sessMu.Unlock()

	stored, err := c.load(ctx)
	if err != nil || stored == nil || stored.UserID != userID {
		return
	}
	c.discard(ctx, stored)
	c.emit(kind, nil)
}

func (c *DirectoryClient) publish(ctx context.Context, kind models.AuthEventKind, userID uuid.UUID) {
	payload, err := json.Marshal(busEvent{Kind: kind, UserID: userID, Origin: c.origin})
	if err != nil {
		return
	}
	if err := c.bus.PublishDirectoryEvent(ctx, payload); err != nil {
		log.Warn().Err(err).Str("event", string(kind)).Msg("Failed to publish directory event")
	}
}

func (c *DirectoryClient) requireSession(ctx context.Context) (*storedSession, error) {
	stored, err := c.load(ctx)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, ErrNotSignedIn
	}
	return stored, nil
}

// load reads the persisted session without validating it. A corrupt entry
// is removed and reported as absent.
func (c *DirectoryClient) load(ctx context.Context) (*storedSession, error) {
	data, err := c.store.GetClientSession(ctx, c.opts.ClientID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session: %w", err)
	}

	var stored storedSession
	if err := json.Unmarshal(data, &stored); err != nil || stored.Principal == nil {
		log.Warn().Err(err).Str("client_id", c.opts.ClientID).Msg("Dropping corrupt session")
		_ = c.store.DeleteClientSession(ctx, c.opts.ClientID)
		return nil, nil
	}
	return &stored, nil
}

func (c *DirectoryClient) save(ctx context.Context, stored *storedSession) error {
	data, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	if err := c.store.SetClientSession(ctx, c.opts.ClientID, data, c.tokens.RefreshExpiry()); err != nil {
		return fmt.Errorf("failed to persist session: %w", err)
	}
	return nil
}

// discard revokes the tokens and device session of stored and removes it
// from the client slot. Failures are logged.
func (c *DirectoryClient) discard(ctx context.Context, stored *storedSession) {
	for _, token := range []string{stored.AccessToken, stored.RefreshToken} {
		if err := c.tokens.RevokeToken(ctx, token); err != nil {
			log.Warn().Err(err).Msg("Failed to revoke token")
		}
	}
	if err := c.sessions.RevokeSession(ctx, stored.UserID, stored.ID); err != nil {
		log.Warn().Err(err).Str("session_id", stored.ID).Msg("Failed to revoke device session")
	}
	if err := c.store.DeleteClientSession(ctx, c.opts.ClientID); err != nil {
		log.Warn().Err(err).Str("client_id", c.opts.ClientID).Msg("Failed to delete client session")
	}
}

func (s *storedSession) session() *models.Session {
	return &models.Session{
		ID:           s.ID,
		UserID:       s.UserID,
		AccessToken:  s.AccessToken,
		RefreshToken: s.RefreshToken,
		ExpiresAt:    s.ExpiresAt,
		Principal:    s.Principal.Clone(),
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
