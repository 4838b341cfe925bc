package authsync

import (
	"sync"

	"github.com/google/uuid"
	"github.com/ieraasyl/LearnHub/internal/identity"
	"github.com/ieraasyl/LearnHub/internal/metrics"
	"github.com/ieraasyl/LearnHub/internal/models"
	"github.com/rs/zerolog/log"
)

type message interface{}

type eventMsg struct {
	event models.AuthEvent
}

type initMsg struct {
	session *models.Session
	err     error
}

type resolvedMsg struct {
	seq         uint64
	principalID uuid.UUID
	result      identity.Resolution
}

type actionMsg struct {
	delta int
}

// resolution is the identity resolution the engine is waiting for.
type resolution struct {
	seq         uint64
	principalID uuid.UUID
}

// mailbox is an unbounded queue. Posting never blocks, so directory
// handlers and resolver goroutines cannot stall on a busy loop.
type mailbox struct {
	mu    sync.Mutex
	queue []message
	wake  chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{wake: make(chan struct{}, 1)}
}

func (m *mailbox) post(msg message) {
	m.mu.Lock()
	m.queue = append(m.queue, msg)
	m.mu.Unlock()

	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *mailbox) drain() []message {
	m.mu.Lock()
	defer m.mu.Unlock()
	q := m.queue
	m.queue = nil
	return q
}

func (e *Engine) run() {
	defer close(e.done)

	for {
		select {
		case <-e.ctx.Done():
			return
		case <-e.inbox.wake:
			for _, msg := range e.inbox.drain() {
				e.handle(msg)
			}
		}
	}
}

func (e *Engine) handle(msg message) {
	switch m := msg.(type) {
	case eventMsg:
		e.handleEvent(m.event)
	case initMsg:
		e.handleInit(m)
	case resolvedMsg:
		e.handleResolved(m)
	case actionMsg:
		e.actions += m.delta
		e.publish()
	}
}

func (e *Engine) handleEvent(ev models.AuthEvent) {
	action := "ignore"
	defer func() {
		metrics.AuthTransition(string(ev.Kind), action)
	}()

	logger := log.With().Str("event", string(ev.Kind)).Logger()
	var principal *models.Principal
	if ev.Session != nil {
		principal = ev.Session.Principal
	}

	switch ev.Kind {
	case models.EventInitialSession:
		// A stored session is resolved by Initialize.
		if ev.Session != nil {
			return
		}
		if e.state.Principal != nil || e.inflight != nil {
			action = "skip"
			logger.Debug().Msg("Ignoring empty initial session, a sign-in is already known")
			return
		}
		action = "clear"
		e.clear()

	case models.EventSignedIn:
		if principal == nil {
			return
		}
		if e.isCurrent(principal.ID) {
			action = "refresh"
			e.state.Session = ev.Session
			e.publish()
			return
		}
		action = "resolve"
		e.startResolution(ev.Session, false)

	case models.EventUserUpdated:
		if principal == nil || e.state.Principal == nil || e.state.Principal.ID != principal.ID {
			return
		}
		if e.inflight != nil {
			action = "skip"
			logger.Info().
				Str("user_id", principal.ID.String()).
				Uint64("seq", e.inflight.seq).
				Msg("Dropping user update while a resolution is in flight")
			return
		}
		action = "resolve"
		e.startResolution(ev.Session, true)

	case models.EventTokenRefreshed:
		if principal == nil || e.state.Principal == nil || e.state.Principal.ID != principal.ID {
			return
		}
		action = "refresh"
		e.state.Session = ev.Session
		e.publish()

	case models.EventSignedOut, models.EventUserDeleted:
		action = "clear"
		if e.inflight != nil {
			logger.Debug().Uint64("seq", e.inflight.seq).Msg("Abandoning in-flight resolution")
		}
		e.clear()
	}
}

// isCurrent reports whether id is the principal already resolved or being
// resolved.
func (e *Engine) isCurrent(id uuid.UUID) bool {
	if e.state.Principal == nil || e.state.Principal.ID != id {
		return false
	}
	return e.inflight != nil || e.state.Ready
}

func (e *Engine) handleInit(m initMsg) {
	e.initializing = true

	switch {
	case m.err != nil, m.session == nil || m.session.Principal == nil:
		if e.state.Principal == nil && e.inflight == nil {
			e.clear()
			return
		}
		// An event got here first; its outcome stands.
		e.settleInit()
	case e.isCurrent(m.session.Principal.ID):
		e.settleInit()
	default:
		metrics.AuthTransition(string(models.EventInitialSession), "resolve")
		e.startResolution(m.session, false)
	}
}

// startResolution makes session's principal the current one and resolves
// it in the background. keepProfile keeps the previous profile visible
// while the same principal is re-resolved.
func (e *Engine) startResolution(session *models.Session, keepProfile bool) {
	principal := session.Principal.Clone()

	e.seq++
	e.inflight = &resolution{seq: e.seq, principalID: principal.ID}
	e.state.Principal = principal
	e.state.Session = session
	e.state.Ready = false
	if !keepProfile {
		e.state.Profile = nil
		e.state.Role = ""
	}
	e.publish()

	log.Debug().
		Str("user_id", principal.ID.String()).
		Uint64("seq", e.seq).
		Msg("Resolving identity")

	seq := e.seq
	go func() {
		result := e.resolver.Resolve(e.ctx, principal.Clone())
		e.inbox.post(resolvedMsg{seq: seq, principalID: principal.ID, result: result})
	}()
}

func (e *Engine) handleResolved(m resolvedMsg) {
	current := e.inflight
	if current == nil || current.seq != m.seq || current.principalID != m.principalID ||
		e.state.Principal == nil || e.state.Principal.ID != m.principalID {
		metrics.IdentityDiscarded()
		log.Debug().
			Str("user_id", m.principalID.String()).
			Uint64("seq", m.seq).
			Msg("Discarding stale identity resolution")
		return
	}

	e.inflight = nil
	e.state.Profile = m.result.Profile
	e.state.Role = m.result.Role
	e.state.Ready = true
	e.publish()
}

// clear signs the state out and marks it ready.
func (e *Engine) clear() {
	e.inflight = nil
	e.state = State{Ready: true}
	e.publish()
}

func (e *Engine) settleInit() {
	if e.initializing && e.state.Ready {
		e.initializing = false
		select {
		case <-e.initDone:
		default:
			close(e.initDone)
		}
	}
}

// publish stores the snapshot and notifies subscribers.
func (e *Engine) publish() {
	e.state.Authenticating = e.actions > 0 || e.inflight != nil

	snapshot := e.state.clone()
	e.snapMu.Lock()
	e.snapshot = snapshot
	e.snapMu.Unlock()
	metrics.SetAuthReady(snapshot.Ready)

	e.settleInit()

	e.subMu.Lock()
	subs := make([]func(State), 0, len(e.subs))
	for _, fn := range e.subs {
		subs = append(subs, fn)
	}
	e.subMu.Unlock()

	for _, fn := range subs {
		e.notify(fn, snapshot.clone())
	}
}

func (e *Engine) notify(fn func(State), s State) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("Auth state subscriber panicked")
		}
	}()
	fn(s)
}
