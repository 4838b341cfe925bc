package identity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/ieraasyl/LearnHub/internal/activity"
	"github.com/ieraasyl/LearnHub/internal/database"
	"github.com/ieraasyl/LearnHub/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockProfileStore is a mock implementation of ProfileStore
type MockProfileStore struct {
	mock.Mock
}

func (m *MockProfileStore) GetProfile(ctx context.Context, userID uuid.UUID) (*models.Profile, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Profile), args.Error(1)
}

func (m *MockProfileStore) GetProfileRole(ctx context.Context, userID uuid.UUID) (models.Role, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(models.Role), args.Error(1)
}

func (m *MockProfileStore) CreateProfile(ctx context.Context, profile *models.Profile) (*models.Profile, bool, error) {
	args := m.Called(ctx, profile)
	if args.Get(0) == nil {
		return nil, false, args.Error(2)
	}
	if fn, ok := args.Get(0).(func(*models.Profile) *models.Profile); ok {
		return fn(profile), args.Bool(1), args.Error(2)
	}
	return args.Get(0).(*models.Profile), args.Bool(1), args.Error(2)
}

// MockRecorder is a mock implementation of ActivityRecorder
type MockRecorder struct {
	mock.Mock
}

func (m *MockRecorder) Record(ctx context.Context, userID uuid.UUID, kind models.ActivityKind, duration int) activity.Result {
	args := m.Called(ctx, userID, kind, duration)
	return args.Get(0).(activity.Result)
}

// hangingStore accepts every call and answers only when the context ends.
type hangingStore struct{}

func (hangingStore) GetProfile(ctx context.Context, userID uuid.UUID) (*models.Profile, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (hangingStore) GetProfileRole(ctx context.Context, userID uuid.UUID) (models.Role, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func (hangingStore) CreateProfile(ctx context.Context, profile *models.Profile) (*models.Profile, bool, error) {
	<-ctx.Done()
	return nil, false, ctx.Err()
}

// stuckStore blocks every call until block is closed, whatever the context.
type stuckStore struct {
	block chan struct{}
}

func (s stuckStore) GetProfile(ctx context.Context, userID uuid.UUID) (*models.Profile, error) {
	<-s.block
	return nil, database.ErrNotFound
}

func (s stuckStore) GetProfileRole(ctx context.Context, userID uuid.UUID) (models.Role, error) {
	<-s.block
	return "", database.ErrNotFound
}

func (s stuckStore) CreateProfile(ctx context.Context, profile *models.Profile) (*models.Profile, bool, error) {
	<-s.block
	return nil, false, errors.New("closed")
}

func setupResolver(t *testing.T, timeout time.Duration) (*Resolver, *MockProfileStore, *MockRecorder) {
	t.Helper()

	store := new(MockProfileStore)
	recorder := new(MockRecorder)
	recorder.On("Record", mock.Anything, mock.Anything, models.ActivityLogin, 0).
		Return(activity.Result{Success: true})

	r := NewResolver(store, recorder, Options{ProfileFetchTimeout: timeout})
	return r, store, recorder
}

func ada() *models.Principal {
	return &models.Principal{
		ID:    uuid.New(),
		Email: "ada@example.com",
		UserMetadata: map[string]interface{}{
			"first_name": "Ada",
			"last_name":  "Lovelace",
		},
	}
}

func TestResolver_Resolve(t *testing.T) {
	ctx := context.Background()

	t.Run("creates a profile on first sign-in", func(t *testing.T) {
		r, store, recorder := setupResolver(t, time.Second)
		p := ada()

		store.On("GetProfileRole", mock.Anything, p.ID).Return(models.Role(""), database.ErrNotFound)
		store.On("GetProfile", mock.Anything, p.ID).Return(nil, database.ErrNotFound)
		store.On("CreateProfile", mock.Anything, mock.AnythingOfType("*models.Profile")).
			Return(func(profile *models.Profile) *models.Profile { return profile }, true, nil)

		res := r.Resolve(ctx, p)
		r.Wait()

		assert.Equal(t, models.RoleStudent, res.Role)
		assert.True(t, res.Created)
		assert.True(t, res.Persisted)
		require.NotNil(t, res.Profile)
		assert.Regexp(t, `^adalovelace\d{1,4}$`, res.Profile.Username)
		assert.Equal(t, "Ada", res.Profile.FirstName)
		recorder.AssertCalled(t, "Record", mock.Anything, p.ID, models.ActivityLogin, 0)
	})

	t.Run("stored role wins over metadata", func(t *testing.T) {
		r, store, _ := setupResolver(t, time.Second)
		p := ada()
		p.UserMetadata["role"] = "student"

		store.On("GetProfile", mock.Anything, p.ID).
			Return(&models.Profile{ID: p.ID, Username: "ada", Role: models.RoleAdmin}, nil)

		res := r.Resolve(ctx, p)
		r.Wait()

		assert.Equal(t, models.RoleAdmin, res.Role)
		assert.False(t, res.Created)
		store.AssertNotCalled(t, "CreateProfile", mock.Anything, mock.Anything)
	})

	t.Run("transient error keeps the metadata role without a profile", func(t *testing.T) {
		r, store, recorder := setupResolver(t, time.Second)
		p := ada()
		p.AppMetadata = map[string]interface{}{"role": "admin"}

		store.On("GetProfile", mock.Anything, p.ID).Return(nil, errors.New("connection reset"))

		res := r.Resolve(ctx, p)
		r.Wait()

		assert.Equal(t, models.RoleAdmin, res.Role)
		assert.Nil(t, res.Profile)
		recorder.AssertCalled(t, "Record", mock.Anything, p.ID, models.ActivityLogin, 0)
	})

	t.Run("insert failure returns the unsaved profile as student", func(t *testing.T) {
		r, store, _ := setupResolver(t, time.Second)
		p := ada()
		p.AppMetadata = map[string]interface{}{"role": "admin"}

		store.On("GetProfile", mock.Anything, p.ID).Return(nil, database.ErrNotFound)
		store.On("CreateProfile", mock.Anything, mock.Anything).Return(nil, false, errors.New("read-only transaction"))

		res := r.Resolve(ctx, p)
		r.Wait()

		assert.Equal(t, models.RoleStudent, res.Role)
		assert.False(t, res.Persisted)
		require.NotNil(t, res.Profile)
		assert.Equal(t, p.ID, res.Profile.ID)
	})

	t.Run("timeout is treated as not found", func(t *testing.T) {
		r, store, _ := setupResolver(t, 20*time.Millisecond)
		p := ada()

		store.On("GetProfileRole", mock.Anything, p.ID).Return(models.Role(""), database.ErrNotFound)
		store.On("GetProfile", mock.Anything, p.ID).
			Run(func(args mock.Arguments) {
				<-args.Get(0).(context.Context).Done()
			}).
			Return(nil, context.DeadlineExceeded)
		existing := &models.Profile{ID: p.ID, Username: "ada", Role: models.RoleAdmin}
		store.On("CreateProfile", mock.Anything, mock.Anything).Return(existing, false, nil)

		start := time.Now()
		res := r.Resolve(ctx, p)
		r.Wait()

		assert.Less(t, time.Since(start), time.Second)
		assert.Equal(t, models.RoleAdmin, res.Role)
		assert.False(t, res.Created)
		assert.Equal(t, "ada", res.Profile.Username)
	})

	t.Run("an unresponsive store cannot hold resolution past its bounds", func(t *testing.T) {
		r, _, _ := setupResolver(t, 50*time.Millisecond)
		r.store = hangingStore{}
		r.sources = []RoleSource{AppMetadataRole, UserMetadataRole, StoredRole(r.store, r.fetchTimeout)}
		p := ada()

		done := make(chan Resolution, 1)
		go func() { done <- r.Resolve(ctx, p) }()

		select {
		case res := <-done:
			assert.Equal(t, models.RoleStudent, res.Role)
			assert.False(t, res.Persisted)
			require.NotNil(t, res.Profile)
			assert.Regexp(t, `^adalovelace\d{1,4}$`, res.Profile.Username)
		case <-time.After(2 * time.Second):
			t.Fatal("Resolve did not return")
		}
		r.Wait()
	})

	t.Run("a store that ignores cancellation is abandoned", func(t *testing.T) {
		r, _, _ := setupResolver(t, 50*time.Millisecond)
		block := make(chan struct{})
		defer close(block)
		r.store = stuckStore{block: block}
		r.sources = []RoleSource{AppMetadataRole, UserMetadataRole, StoredRole(r.store, r.fetchTimeout)}

		start := time.Now()
		res := r.Resolve(ctx, ada())
		r.Wait()

		assert.Less(t, time.Since(start), time.Second)
		assert.Equal(t, models.RoleStudent, res.Role)
		assert.False(t, res.Persisted)
	})

	t.Run("nil principal resolves to student", func(t *testing.T) {
		r, _, recorder := setupResolver(t, time.Second)

		res := r.Resolve(ctx, nil)
		assert.Equal(t, models.RoleStudent, res.Role)
		assert.Nil(t, res.Profile)
		recorder.AssertNotCalled(t, "Record", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestResolveRole(t *testing.T) {
	ctx := context.Background()
	store := new(MockProfileStore)
	sources := []RoleSource{AppMetadataRole, UserMetadataRole, StoredRole(store, time.Second)}

	t.Run("app metadata first", func(t *testing.T) {
		p := &models.Principal{
			ID:           uuid.New(),
			AppMetadata:  map[string]interface{}{"role": "admin"},
			UserMetadata: map[string]interface{}{"role": "student"},
		}
		assert.Equal(t, models.RoleAdmin, ResolveRole(ctx, p, sources))
	})

	t.Run("unrecognized roles are skipped", func(t *testing.T) {
		p := &models.Principal{
			ID:           uuid.New(),
			AppMetadata:  map[string]interface{}{"role": "superuser"},
			UserMetadata: map[string]interface{}{"role": "Admin"},
		}
		assert.Equal(t, models.RoleAdmin, ResolveRole(ctx, p, sources))
	})

	t.Run("stored role when metadata is silent", func(t *testing.T) {
		p := &models.Principal{ID: uuid.New()}
		store.On("GetProfileRole", mock.Anything, p.ID).Return(models.RoleAdmin, nil).Once()
		assert.Equal(t, models.RoleAdmin, ResolveRole(ctx, p, sources))
	})

	t.Run("student by default", func(t *testing.T) {
		p := &models.Principal{ID: uuid.New()}
		store.On("GetProfileRole", mock.Anything, p.ID).Return(models.Role(""), errors.New("timeout")).Once()
		assert.Equal(t, models.RoleStudent, ResolveRole(ctx, p, sources))
	})
}

func TestSynthesize(t *testing.T) {
	fixed := func() int { return 42 }

	tests := []struct {
		name      string
		principal *models.Principal
		username  string
		first     string
		last      string
		avatar    string
	}{
		{
			name:      "supplied username is kept",
			principal: &models.Principal{Email: "a@example.com", UserMetadata: map[string]interface{}{"username": "countess", "first_name": "Ada"}},
			username:  "countess",
			first:     "Ada",
		},
		{
			name:      "names are lowercased and suffixed",
			principal: &models.Principal{UserMetadata: map[string]interface{}{"first_name": "Ada", "last_name": "Lovelace"}},
			username:  "adalovelace42",
			first:     "Ada",
			last:      "Lovelace",
		},
		{
			name: "provider full name is split",
			principal: &models.Principal{UserMetadata: map[string]interface{}{
				"full_name":  "Grace Brewster Hopper",
				"avatar_url": "https://example.com/g.png",
			}},
			username: "gracebrewsterhopper42",
			first:    "Grace",
			last:     "Brewster Hopper",
			avatar:   "https://example.com/g.png",
		},
		{
			name:      "email local part without names",
			principal: &models.Principal{Email: "Alan.Turing@example.com", UserMetadata: map[string]interface{}{"picture": "https://example.com/a.png"}},
			username:  "alan.turing42",
			avatar:    "https://example.com/a.png",
		},
		{
			name:      "nothing to go on",
			principal: &models.Principal{},
			username:  "learner42",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			profile := Synthesize(tt.principal, fixed)
			assert.Equal(t, tt.username, profile.Username)
			assert.Equal(t, tt.first, profile.FirstName)
			assert.Equal(t, tt.last, profile.LastName)
			assert.Equal(t, tt.avatar, profile.AvatarURL)
			assert.Equal(t, models.RoleStudent, profile.Role)
		})
	}

	t.Run("random suffix has at most four digits", func(t *testing.T) {
		for i := 0; i < 100; i++ {
			assert.Less(t, randomSuffix(), 10000)
		}
	})
}
