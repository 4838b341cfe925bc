// Package identity turns an authenticated principal into a role and a
// profile, creating the profile on first sign-in.
//
// Resolution never fails. Whatever the profile store does, Resolve returns
// some role, possibly with a nil profile, so a degraded store never leaves the
// user stuck.
package identity

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ieraasyl/LearnHub/internal/activity"
	"github.com/ieraasyl/LearnHub/internal/database"
	"github.com/ieraasyl/LearnHub/internal/metrics"
	"github.com/ieraasyl/LearnHub/internal/models"
	"github.com/rs/zerolog/log"
)

// ErrProfileFetchTimeout is reported when the profile read loses the race
// against the fetch timeout. It is handled like database.ErrNotFound.
var ErrProfileFetchTimeout = errors.New("profile fetch timed out")

// ProfileStore is the profile table as the resolver uses it.
type ProfileStore interface {
	GetProfile(ctx context.Context, userID uuid.UUID) (*models.Profile, error)
	GetProfileRole(ctx context.Context, userID uuid.UUID) (models.Role, error)
	CreateProfile(ctx context.Context, profile *models.Profile) (*models.Profile, bool, error)
}

// ActivityRecorder receives the login record of every resolution.
type ActivityRecorder interface {
	Record(ctx context.Context, userID uuid.UUID, kind models.ActivityKind, duration int) activity.Result
}

// Resolution is the outcome of resolving a principal.
type Resolution struct {
	Role    models.Role
	Profile *models.Profile // nil when the store could not be read
	// Created is true when this resolution inserted the profile row.
	Created bool
	// Persisted is false for a synthesized profile that could not be stored.
	Persisted bool
}

// Options bounds the remote calls of a Resolver.
type Options struct {
	// ProfileFetchTimeout bounds each profile store call: the stored role
	// lookup, the profile read and the insert of a new profile.
	ProfileFetchTimeout time.Duration
	LoginRecordTimeout  time.Duration
}

// Resolver resolves principals. It is safe for concurrent use.
type Resolver struct {
	store         ProfileStore
	recorder      ActivityRecorder
	sources       []RoleSource
	fetchTimeout  time.Duration
	recordTimeout time.Duration
	suffix        func() int

	pending sync.WaitGroup
}

// NewResolver creates a resolver with the default role chain: app metadata,
// user metadata, stored profile role, then student.
func NewResolver(store ProfileStore, recorder ActivityRecorder, opts Options) *Resolver {
	if opts.ProfileFetchTimeout <= 0 {
		opts.ProfileFetchTimeout = 15 * time.Second
	}
	if opts.LoginRecordTimeout <= 0 {
		opts.LoginRecordTimeout = 5 * time.Second
	}
	r := &Resolver{
		store:         store,
		recorder:      recorder,
		fetchTimeout:  opts.ProfileFetchTimeout,
		recordTimeout: opts.LoginRecordTimeout,
		suffix:        randomSuffix,
	}
	r.sources = []RoleSource{AppMetadataRole, UserMetadataRole, StoredRole(store, r.fetchTimeout)}
	return r
}

// Resolve determines the role and profile of p and records a login for it.
func (r *Resolver) Resolve(ctx context.Context, p *models.Principal) Resolution {
	if p == nil {
		return Resolution{Role: models.RoleStudent}
	}
	start := time.Now()
	logger := log.With().Str("user_id", p.ID.String()).Logger()

	chainRole := ResolveRole(ctx, p, r.sources)

	var res Resolution
	var outcome string

	profile, err := r.fetchProfile(ctx, p.ID)
	switch {
	case err == nil:
		res = Resolution{Role: chainRole, Profile: profile, Persisted: true}
		if stored, ok := models.ParseRole(string(profile.Role)); ok {
			res.Role = stored
		}
		outcome = "existing"
	case errors.Is(err, database.ErrNotFound), errors.Is(err, ErrProfileFetchTimeout):
		if errors.Is(err, ErrProfileFetchTimeout) {
			logger.Warn().Dur("timeout", r.fetchTimeout).Msg("Profile fetch timed out, treating as new profile")
		}
		res = r.createProfile(ctx, p)
		switch {
		case !res.Persisted:
			outcome = "unsaved"
		case res.Created:
			outcome = "created"
		default:
			outcome = "existing"
		}
	default:
		logger.Error().Err(err).Msg("Failed to fetch profile, continuing without it")
		res = Resolution{Role: chainRole}
		outcome = "degraded"
	}

	r.recordLogin(p.ID)

	metrics.IdentityResolved(outcome, time.Since(start))
	logger.Info().
		Str("role", string(res.Role)).
		Str("outcome", outcome).
		Dur("took", time.Since(start)).
		Msg("Identity resolved")

	return res
}

// fetchProfile reads the profile, giving up after the fetch timeout. A late
// result is dropped.
func (r *Resolver) fetchProfile(ctx context.Context, userID uuid.UUID) (*models.Profile, error) {
	profile, err := callBounded(ctx, r.fetchTimeout, func(ctx context.Context) (*models.Profile, error) {
		return r.store.GetProfile(ctx, userID)
	})
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return nil, ErrProfileFetchTimeout
	}
	return profile, err
}

// callBounded runs fn under a context that expires after d and stops
// waiting when it does, even if fn ignores the context. A late result is
// dropped.
func callBounded[T any](ctx context.Context, d time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	callCtx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	type result struct {
		value T
		err   error
	}
	done := make(chan result, 1)
	go func() {
		value, err := fn(callCtx)
		done <- result{value, err}
	}()

	select {
	case res := <-done:
		if res.err != nil && callCtx.Err() != nil {
			return res.value, callCtx.Err()
		}
		return res.value, res.err
	case <-callCtx.Done():
		var zero T
		return zero, callCtx.Err()
	}
}

// createProfile stores a synthesized profile unless one appeared meanwhile,
// in which case the stored row wins.
func (r *Resolver) createProfile(ctx context.Context, p *models.Principal) Resolution {
	profile := Synthesize(p, r.suffix)

	type insert struct {
		stored  *models.Profile
		created bool
	}
	res, err := callBounded(ctx, r.fetchTimeout, func(ctx context.Context) (insert, error) {
		stored, created, err := r.store.CreateProfile(ctx, profile)
		return insert{stored, created}, err
	})
	stored, created := res.stored, res.created
	if err != nil {
		log.Error().
			Err(err).
			Str("user_id", p.ID.String()).
			Msg("Failed to create profile, using unsaved profile")
		return Resolution{Role: models.RoleStudent, Profile: profile}
	}

	role, ok := models.ParseRole(string(stored.Role))
	if !ok {
		role = models.RoleStudent
	}
	if created {
		log.Info().
			Str("user_id", p.ID.String()).
			Str("username", stored.Username).
			Msg("Profile created")
	}
	return Resolution{Role: role, Profile: stored, Created: created, Persisted: true}
}

// recordLogin appends a login record in the background, detached from the
// caller's context.
func (r *Resolver) recordLogin(userID uuid.UUID) {
	r.pending.Add(1)
	go func() {
		defer r.pending.Done()
		ctx, cancel := context.WithTimeout(context.Background(), r.recordTimeout)
		defer cancel()
		r.recorder.Record(ctx, userID, models.ActivityLogin, 0)
	}()
}

// Wait blocks until background login records have finished.
func (r *Resolver) Wait() {
	r.pending.Wait()
}
