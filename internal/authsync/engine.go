// Package authsync owns the process-wide auth state: who is signed in, with
// which session, and what their profile and role are.
//
// The Engine consumes the directory's auth event stream on a single
// goroutine. Every state transition happens there, one message at a time,
// while identity resolution runs concurrently and reports back as a message
// of its own. A resolution result is applied only if it still belongs to the
// principal the engine is waiting for.
package authsync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ieraasyl/LearnHub/internal/identity"
	"github.com/ieraasyl/LearnHub/internal/models"
	"github.com/rs/zerolog/log"
)

// ErrClosed is returned by calls made after Close.
var ErrClosed = errors.New("auth engine closed")

// Directory is the session side of the remote directory.
type Directory interface {
	GetCurrentSession(ctx context.Context) (*models.Session, error)
	Subscribe(handler func(models.AuthEvent)) func()
	SignOut(ctx context.Context, scope models.SignOutScope) error
}

// Authenticator performs the credential exchanges. Outcomes arrive as
// directory events, not through the returned sessions.
type Authenticator interface {
	SignIn(ctx context.Context, creds models.Credentials) (*models.Session, error)
	SignUp(ctx context.Context, req models.SignUpRequest) (*models.Session, error)
	SignInWithOAuth(ctx context.Context, code string) (*models.Session, error)
}

// Resolver turns a principal into a role and profile. It must not fail.
type Resolver interface {
	Resolve(ctx context.Context, p *models.Principal) identity.Resolution
}

// State is a snapshot of the synchronized auth state. Profile and Role are
// only meaningful once Ready is true.
type State struct {
	Principal      *models.Principal `json:"principal"`
	Session        *models.Session   `json:"session"`
	Profile        *models.Profile   `json:"profile"`
	Role           models.Role       `json:"role,omitempty"`
	Ready          bool              `json:"ready"`
	Authenticating bool              `json:"authenticating"`
}

// SignedIn reports whether a principal is present.
func (s State) SignedIn() bool {
	return s.Principal != nil
}

// clone deep-copies the pointers so subscribers cannot alias engine state.
func (s State) clone() State {
	s.Principal = s.Principal.Clone()
	s.Session = s.Session.Clone()
	s.Profile = s.Profile.Clone()
	return s
}

// Options configures an Engine.
type Options struct {
	// SessionFetchTimeout bounds the session read of Initialize.
	SessionFetchTimeout time.Duration
}

// Engine is the session synchronization engine. Create it with New and
// release it with Close.
type Engine struct {
	directory Directory
	auth      Authenticator
	resolver  Resolver
	opts      Options

	inbox *mailbox

	// Owned by the loop goroutine.
	state        State
	inflight     *resolution
	seq          uint64
	actions      int
	initializing bool

	snapMu   sync.RWMutex
	snapshot State

	subMu   sync.Mutex
	subs    map[int]func(State)
	nextSub int

	initOnce sync.Once
	initDone chan struct{}
	initErr  error

	unsubscribe func()
	ctx         context.Context
	cancel      context.CancelFunc
	done        chan struct{}
	closeOnce   sync.Once
}

// New creates an engine, subscribes it to the directory's event stream and
// starts its loop.
func New(directory Directory, auth Authenticator, resolver Resolver, opts Options) (*Engine, error) {
	switch {
	case directory == nil:
		return nil, errors.New("auth engine requires a directory")
	case auth == nil:
		return nil, errors.New("auth engine requires an authenticator")
	case resolver == nil:
		return nil, errors.New("auth engine requires an identity resolver")
	}
	if opts.SessionFetchTimeout <= 0 {
		opts.SessionFetchTimeout = 10 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		directory: directory,
		auth:      auth,
		resolver:  resolver,
		opts:      opts,
		inbox:     newMailbox(),
		subs:      make(map[int]func(State)),
		initDone:  make(chan struct{}),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}

	go e.run()
	e.unsubscribe = directory.Subscribe(func(ev models.AuthEvent) {
		e.inbox.post(eventMsg{event: ev})
	})
	return e, nil
}

// Close unsubscribes from the directory and stops the loop. Resolutions
// still running are abandoned.
func (e *Engine) Close() {
	e.closeOnce.Do(func() {
		e.unsubscribe()
		e.cancel()
		<-e.done
		log.Info().Msg("Auth engine stopped")
	})
}

// GetState returns the current state.
func (e *Engine) GetState() State {
	e.snapMu.RLock()
	defer e.snapMu.RUnlock()
	return e.snapshot.clone()
}

// Subscribe registers fn for every state transition and returns a function
// that removes it. fn runs on the engine's loop and must not block; a
// panicking subscriber is logged and does not affect the others.
func (e *Engine) Subscribe(fn func(State)) func() {
	e.subMu.Lock()
	id := e.nextSub
	e.nextSub++
	e.subs[id] = fn
	e.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.subMu.Lock()
			delete(e.subs, id)
			e.subMu.Unlock()
		})
	}
}

// Initialize reads the current session once per engine and resolves it.
// Every call, concurrent or later, waits for that first run and returns the
// state it settled in. A failed session read leaves the engine signed out
// and ready; the failure is returned alongside that state.
func (e *Engine) Initialize(ctx context.Context) (State, error) {
	e.initOnce.Do(func() {
		go e.bootstrap()
	})

	select {
	case <-e.initDone:
		return e.GetState(), e.initErr
	case <-e.done:
		return e.GetState(), ErrClosed
	case <-ctx.Done():
		return e.GetState(), ctx.Err()
	}
}

func (e *Engine) bootstrap() {
	ctx, cancel := context.WithTimeout(e.ctx, e.opts.SessionFetchTimeout)
	defer cancel()

	session, err := e.directory.GetCurrentSession(ctx)
	if err != nil {
		e.initErr = fmt.Errorf("failed to fetch current session: %w", err)
		log.Warn().Err(err).Msg("Initial session fetch failed, starting signed out")
	}
	e.inbox.post(initMsg{session: session, err: err})
}

// SignIn starts an email/password sign-in. Success is observed as a state
// transition; the returned error is the credential failure, if any.
func (e *Engine) SignIn(ctx context.Context, creds models.Credentials) error {
	return e.act(ctx, "sign-in", func(ctx context.Context) error {
		_, err := e.auth.SignIn(ctx, creds)
		return err
	})
}

// SignUp registers a new account and signs it in.
func (e *Engine) SignUp(ctx context.Context, req models.SignUpRequest) error {
	return e.act(ctx, "sign-up", func(ctx context.Context) error {
		_, err := e.auth.SignUp(ctx, req)
		return err
	})
}

// SignInWithOAuth completes an OAuth code exchange.
func (e *Engine) SignInWithOAuth(ctx context.Context, code string) error {
	return e.act(ctx, "oauth", func(ctx context.Context) error {
		_, err := e.auth.SignInWithOAuth(ctx, code)
		return err
	})
}

// SignOut ends the session. The cleared state arrives with the signed-out
// event.
func (e *Engine) SignOut(ctx context.Context, scope models.SignOutScope) error {
	return e.act(ctx, "sign-out", func(ctx context.Context) error {
		return e.directory.SignOut(ctx, scope)
	})
}

// act marks the engine as authenticating for the duration of fn. The end
// marker is posted after fn returns, so it is handled after any event fn
// caused.
func (e *Engine) act(ctx context.Context, name string, fn func(context.Context) error) error {
	select {
	case <-e.done:
		return ErrClosed
	default:
	}

	e.inbox.post(actionMsg{delta: 1})
	defer e.inbox.post(actionMsg{delta: -1})

	if err := fn(ctx); err != nil {
		log.Info().Err(err).Str("action", name).Msg("Auth action failed")
		return err
	}
	return nil
}
