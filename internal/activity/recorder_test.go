package activity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/ieraasyl/LearnHub/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockStore is a mock implementation of Store
type MockStore struct {
	mock.Mock
}

func (m *MockStore) InsertActivity(ctx context.Context, rec *models.ActivityRecord) error {
	args := m.Called(ctx, rec)
	return args.Error(0)
}

func TestRecorder_Record(t *testing.T) {
	ctx := context.Background()
	userID := uuid.New()
	lateEvening := time.Date(2024, 3, 4, 23, 30, 0, 0, time.FixedZone("UTC+5", 5*3600))

	t.Run("records the local calendar day", func(t *testing.T) {
		store := new(MockStore)
		recorder := NewRecorder(store).WithClock(func() time.Time { return lateEvening })

		store.On("InsertActivity", ctx, mock.MatchedBy(func(rec *models.ActivityRecord) bool {
			return rec.UserID == userID &&
				rec.Kind == models.ActivityLessonCompleted &&
				rec.Duration == 15 &&
				rec.Date.Equal(time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC))
		})).Return(nil).Once()

		result := recorder.Record(ctx, userID, models.ActivityLessonCompleted, 15)
		assert.True(t, result.Success)
		assert.NoError(t, result.Err)
		store.AssertExpectations(t)
	})

	t.Run("does not de-duplicate", func(t *testing.T) {
		store := new(MockStore)
		recorder := NewRecorder(store)
		store.On("InsertActivity", ctx, mock.Anything).Return(nil).Twice()

		assert.True(t, recorder.Record(ctx, userID, models.ActivityLogin, 0).Success)
		assert.True(t, recorder.Record(ctx, userID, models.ActivityLogin, 0).Success)
		store.AssertNumberOfCalls(t, "InsertActivity", 2)
	})

	t.Run("clamps negative durations", func(t *testing.T) {
		store := new(MockStore)
		recorder := NewRecorder(store)
		store.On("InsertActivity", ctx, mock.MatchedBy(func(rec *models.ActivityRecord) bool {
			return rec.Duration == 0
		})).Return(nil).Once()

		assert.True(t, recorder.Record(ctx, userID, models.ActivityLogin, -5).Success)
		store.AssertExpectations(t)
	})

	t.Run("reports store failures without raising", func(t *testing.T) {
		store := new(MockStore)
		recorder := NewRecorder(store)
		store.On("InsertActivity", ctx, mock.Anything).Return(errors.New("connection refused"))

		result := recorder.Record(ctx, userID, models.ActivityLogin, 0)
		assert.False(t, result.Success)
		require.Error(t, result.Err)
		assert.Contains(t, result.Err.Error(), "connection refused")
	})

	t.Run("rejects a missing user", func(t *testing.T) {
		store := new(MockStore)
		recorder := NewRecorder(store)

		result := recorder.Record(ctx, uuid.Nil, models.ActivityLogin, 0)
		assert.False(t, result.Success)
		assert.ErrorIs(t, result.Err, ErrNoUser)
		store.AssertNotCalled(t, "InsertActivity", mock.Anything, mock.Anything)
	})
}
