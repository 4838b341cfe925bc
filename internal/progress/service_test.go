package progress

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/ieraasyl/LearnHub/internal/activity"
	"github.com/ieraasyl/LearnHub/internal/database"
	"github.com/ieraasyl/LearnHub/internal/models"
	"github.com/ieraasyl/LearnHub/pkg/config"
	"github.com/ieraasyl/LearnHub/pkg/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockStore is a mock implementation of Store
type MockStore struct {
	mock.Mock
}

func (m *MockStore) ListActivityDays(ctx context.Context, userID uuid.UUID) ([]time.Time, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]time.Time), args.Error(1)
}

func (m *MockStore) ListActivitySince(ctx context.Context, userID uuid.UUID, since time.Time) ([]models.ActivityRecord, error) {
	args := m.Called(ctx, userID, since)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.ActivityRecord), args.Error(1)
}

func (m *MockStore) ListActivity(ctx context.Context, userID uuid.UUID, offset, limit int) ([]models.ActivityRecord, int64, error) {
	args := m.Called(ctx, userID, offset, limit)
	if args.Get(0) == nil {
		return nil, 0, args.Error(2)
	}
	return args.Get(0).([]models.ActivityRecord), args.Get(1).(int64), args.Error(2)
}

func (m *MockStore) InsertLessonCompletion(ctx context.Context, c *models.LessonCompletion) error {
	args := m.Called(ctx, c)
	return args.Error(0)
}

func (m *MockStore) CountCompletedLessons(ctx context.Context, userID, courseID uuid.UUID) (int, error) {
	args := m.Called(ctx, userID, courseID)
	return args.Int(0), args.Error(1)
}

func (m *MockStore) GetCourseProgress(ctx context.Context, userID, courseID uuid.UUID) (*models.CourseProgress, error) {
	args := m.Called(ctx, userID, courseID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.CourseProgress), args.Error(1)
}

func (m *MockStore) UpsertCourseProgress(ctx context.Context, cp *models.CourseProgress) error {
	args := m.Called(ctx, cp)
	return args.Error(0)
}

func (m *MockStore) GrantStreakReward(ctx context.Context, userID uuid.UUID, level, points int) (bool, int, error) {
	args := m.Called(ctx, userID, level, points)
	return args.Bool(0), args.Int(1), args.Error(2)
}

func (m *MockStore) LowerStreakReward(ctx context.Context, userID uuid.UUID, level int) error {
	args := m.Called(ctx, userID, level)
	return args.Error(0)
}

// MockCatalog is a mock implementation of Catalog
type MockCatalog struct {
	mock.Mock
}

func (m *MockCatalog) TotalLessons(ctx context.Context, courseID uuid.UUID) (int, error) {
	args := m.Called(ctx, courseID)
	return args.Int(0), args.Error(1)
}

func (m *MockCatalog) InvalidateCourse(ctx context.Context, courseID uuid.UUID) error {
	args := m.Called(ctx, courseID)
	return args.Error(0)
}

// MockRecorder is a mock implementation of ActivityRecorder
type MockRecorder struct {
	mock.Mock
}

func (m *MockRecorder) Record(ctx context.Context, userID uuid.UUID, kind models.ActivityKind, duration int) activity.Result {
	args := m.Called(ctx, userID, kind, duration)
	return args.Get(0).(activity.Result)
}

var testNow = time.Date(2024, 3, 10, 14, 0, 0, 0, time.UTC)

func setupService(t *testing.T) (*Service, *MockStore, *MockCatalog, *MockRecorder) {
	t.Helper()

	store := new(MockStore)
	catalog := new(MockCatalog)
	recorder := new(MockRecorder)
	rewards := config.RewardsConfig{StreakThresholds: []int{10, 30}, BonusPoints: 50}

	svc := NewService(store, catalog, recorder, rewards).WithClock(func() time.Time { return testNow })
	return svc, store, catalog, recorder
}

// streakDays returns n consecutive days ending at testNow, newest first.
func streakDays(n int) []time.Time {
	days := make([]time.Time, n)
	for i := range days {
		days[i] = utils.AddDays(utils.DayOf(testNow), -i)
	}
	return days
}

func TestService_Streak(t *testing.T) {
	ctx := context.Background()
	userID := uuid.New()

	t.Run("below every threshold pays nothing", func(t *testing.T) {
		svc, store, _, _ := setupService(t)
		store.On("ListActivityDays", ctx, userID).Return(streakDays(3), nil)
		store.On("LowerStreakReward", ctx, userID, 0).Return(nil)

		result, err := svc.Streak(ctx, userID)
		require.NoError(t, err)
		assert.Equal(t, 3, result.Days)
		assert.Zero(t, result.Reward)
		store.AssertNotCalled(t, "GrantStreakReward", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("crossing a threshold pays once", func(t *testing.T) {
		svc, store, _, _ := setupService(t)
		store.On("ListActivityDays", ctx, userID).Return(streakDays(10), nil)
		store.On("LowerStreakReward", ctx, userID, 10).Return(nil)
		store.On("GrantStreakReward", ctx, userID, 10, 50).Return(true, 50, nil).Once()
		store.On("GrantStreakReward", ctx, userID, 10, 50).Return(false, 0, nil).Once()

		first, err := svc.Streak(ctx, userID)
		require.NoError(t, err)
		assert.Equal(t, 10, first.Reward)
		assert.Equal(t, 50, first.Balance)

		second, err := svc.Streak(ctx, userID)
		require.NoError(t, err)
		assert.Equal(t, 10, second.Days)
		assert.Zero(t, second.Reward)
		store.AssertNumberOfCalls(t, "GrantStreakReward", 2)
	})

	t.Run("highest crossed threshold is offered", func(t *testing.T) {
		svc, store, _, _ := setupService(t)
		store.On("ListActivityDays", ctx, userID).Return(streakDays(31), nil)
		store.On("LowerStreakReward", ctx, userID, 30).Return(nil)
		store.On("GrantStreakReward", ctx, userID, 30, 50).Return(true, 100, nil)

		result, err := svc.Streak(ctx, userID)
		require.NoError(t, err)
		assert.Equal(t, 30, result.Reward)
	})

	t.Run("broken streak lowers the marker", func(t *testing.T) {
		svc, store, _, _ := setupService(t)
		days := streakDays(13)[2:] // nothing today or yesterday
		store.On("ListActivityDays", ctx, userID).Return(days, nil)
		store.On("LowerStreakReward", ctx, userID, 0).Return(nil).Once()

		result, err := svc.Streak(ctx, userID)
		require.NoError(t, err)
		assert.Equal(t, 0, result.Days)
		store.AssertExpectations(t)
	})

	t.Run("streak waiting on today's activity keeps the marker", func(t *testing.T) {
		svc, store, _, _ := setupService(t)
		days := streakDays(11)[1:] // ten days ending yesterday
		store.On("ListActivityDays", ctx, userID).Return(days, nil)
		store.On("LowerStreakReward", ctx, userID, 10).Return(nil).Once()

		result, err := svc.Streak(ctx, userID)
		require.NoError(t, err)
		assert.Equal(t, 0, result.Days)
		store.AssertExpectations(t)
		store.AssertNotCalled(t, "GrantStreakReward", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("reward failures do not fail the read", func(t *testing.T) {
		svc, store, _, _ := setupService(t)
		store.On("ListActivityDays", ctx, userID).Return(streakDays(10), nil)
		store.On("LowerStreakReward", ctx, userID, 10).Return(errors.New("connection reset"))
		store.On("GrantStreakReward", ctx, userID, 10, 50).Return(false, 0, errors.New("connection reset"))

		result, err := svc.Streak(ctx, userID)
		require.NoError(t, err)
		assert.Equal(t, 10, result.Days)
		assert.Zero(t, result.Reward)
	})

	t.Run("store failure is returned", func(t *testing.T) {
		svc, store, _, _ := setupService(t)
		store.On("ListActivityDays", ctx, userID).Return(nil, errors.New("connection refused"))

		_, err := svc.Streak(ctx, userID)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to list activity days")
	})
}

// rewardStore keeps the reward marker and balance the way the profiles
// table does, so a sequence of reads can be checked end to end.
type rewardStore struct {
	*MockStore
	days    []time.Time
	marker  int
	balance int
}

func (r *rewardStore) ListActivityDays(ctx context.Context, userID uuid.UUID) ([]time.Time, error) {
	return r.days, nil
}

func (r *rewardStore) GrantStreakReward(ctx context.Context, userID uuid.UUID, level, points int) (bool, int, error) {
	if r.marker >= level {
		return false, 0, nil
	}
	r.marker = level
	r.balance += points
	return true, r.balance, nil
}

func (r *rewardStore) LowerStreakReward(ctx context.Context, userID uuid.UUID, level int) error {
	if r.marker > level {
		r.marker = level
	}
	return nil
}

func TestService_StreakRewardAcrossDays(t *testing.T) {
	ctx := context.Background()
	userID := uuid.New()
	rewards := config.RewardsConfig{StreakThresholds: []int{10}, BonusPoints: 50}

	day := utils.DayOf(testNow)
	now := testNow
	store := &rewardStore{MockStore: new(MockStore), days: streakDays(10)}
	svc := NewService(store, new(MockCatalog), new(MockRecorder), rewards).
		WithClock(func() time.Time { return now })

	t.Run("tenth day pays", func(t *testing.T) {
		result, err := svc.Streak(ctx, userID)
		require.NoError(t, err)
		assert.Equal(t, 10, result.Reward)
		assert.Equal(t, 50, store.balance)
	})

	t.Run("next morning before any activity", func(t *testing.T) {
		now = testNow.Add(24 * time.Hour)

		result, err := svc.Streak(ctx, userID)
		require.NoError(t, err)
		assert.Equal(t, 0, result.Days)
		assert.Equal(t, 10, store.marker)
	})

	t.Run("eleventh day does not pay again", func(t *testing.T) {
		store.days = append(store.days, utils.AddDays(day, 1))

		result, err := svc.Streak(ctx, userID)
		require.NoError(t, err)
		assert.Equal(t, 11, result.Days)
		assert.Zero(t, result.Reward)
		assert.Equal(t, 50, store.balance)
	})

	t.Run("a real break resets the marker", func(t *testing.T) {
		now = testNow.Add(3 * 24 * time.Hour)

		_, err := svc.Streak(ctx, userID)
		require.NoError(t, err)
		assert.Equal(t, 0, store.marker)
		assert.Equal(t, 50, store.balance)
	})
}

func TestService_Overview(t *testing.T) {
	userID := uuid.New()

	t.Run("combines streak and week", func(t *testing.T) {
		svc, store, _, _ := setupService(t)
		store.On("ListActivityDays", mock.Anything, userID).Return(streakDays(2), nil)
		store.On("LowerStreakReward", mock.Anything, userID, 0).Return(nil)
		store.On("ListActivitySince", mock.Anything, userID, time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)).
			Return([]models.ActivityRecord{
				{Date: time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC), Duration: 20},
				{Date: time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC), Duration: 15},
			}, nil)

		overview, err := svc.Overview(context.Background(), userID)
		require.NoError(t, err)
		assert.Equal(t, 2, overview.Streak.Days)
		require.Len(t, overview.Week, WeekDays)
		assert.Equal(t, 20, overview.Week[5].Duration)
		assert.Equal(t, 15, overview.Week[6].Duration)
	})

	t.Run("either failure fails the overview", func(t *testing.T) {
		svc, store, _, _ := setupService(t)
		store.On("ListActivityDays", mock.Anything, userID).Return(streakDays(2), nil)
		store.On("LowerStreakReward", mock.Anything, userID, 0).Return(nil)
		store.On("ListActivitySince", mock.Anything, userID, mock.Anything).Return(nil, errors.New("timeout"))

		_, err := svc.Overview(context.Background(), userID)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "weekly activity")
	})
}

func TestService_ActivityHistory(t *testing.T) {
	svc, store, _, _ := setupService(t)
	ctx := context.Background()
	userID := uuid.New()

	records := []models.ActivityRecord{{ID: 3, Kind: models.ActivityLogin}}
	store.On("ListActivity", ctx, userID, 20, 10).Return(records, int64(21), nil)

	page, err := svc.ActivityHistory(ctx, userID, utils.PageParams{Page: 3, PageSize: 10, Offset: 20, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, records, page.Data)
	assert.Equal(t, 3, page.Pagination.TotalPages)
	assert.False(t, page.Pagination.HasNext)
}

func TestService_MarkLessonComplete(t *testing.T) {
	ctx := context.Background()
	userID, courseID, lessonID := uuid.New(), uuid.New(), uuid.New()

	t.Run("first completion records activity", func(t *testing.T) {
		svc, store, catalog, recorder := setupService(t)
		store.On("InsertLessonCompletion", ctx, mock.MatchedBy(func(c *models.LessonCompletion) bool {
			return c.UserID == userID && c.LessonID == lessonID && c.CompletedAt.Equal(testNow)
		})).Return(nil)
		recorder.On("Record", ctx, userID, models.ActivityLessonCompleted, 12).Return(activity.Result{Success: true}).Once()
		store.On("CountCompletedLessons", ctx, userID, courseID).Return(1, nil)
		catalog.On("TotalLessons", ctx, courseID).Return(4, nil)
		store.On("GetCourseProgress", ctx, userID, courseID).Return(nil, database.ErrNotFound)
		store.On("UpsertCourseProgress", ctx, mock.Anything).Return(nil)

		result, err := svc.MarkLessonComplete(ctx, userID, courseID, lessonID, 12)
		require.NoError(t, err)
		assert.True(t, result.FirstTime)
		assert.Equal(t, 1, result.Progress.CompletedLessons)
		assert.InDelta(t, 25.0, result.Progress.ProgressPercent, 0.001)
		recorder.AssertExpectations(t)
	})

	t.Run("duplicate completion is a no-op that still recomputes", func(t *testing.T) {
		svc, store, catalog, recorder := setupService(t)
		store.On("InsertLessonCompletion", ctx, mock.Anything).
			Return(errors.Join(errors.New("insert lesson completion"), database.ErrDuplicateKey))
		store.On("CountCompletedLessons", ctx, userID, courseID).Return(1, nil)
		catalog.On("TotalLessons", ctx, courseID).Return(4, nil)
		store.On("GetCourseProgress", ctx, userID, courseID).Return(&models.CourseProgress{CompletedLessons: 1, TotalLessons: 4}, nil)
		store.On("UpsertCourseProgress", ctx, mock.Anything).Return(nil).Once()

		result, err := svc.MarkLessonComplete(ctx, userID, courseID, lessonID, 12)
		require.NoError(t, err)
		assert.False(t, result.FirstTime)
		assert.Equal(t, 1, result.Progress.CompletedLessons)
		recorder.AssertNotCalled(t, "Record", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		store.AssertExpectations(t)
	})

	t.Run("unknown lesson is not found", func(t *testing.T) {
		svc, store, _, recorder := setupService(t)
		store.On("InsertLessonCompletion", ctx, mock.Anything).Return(database.ErrNotFound)

		_, err := svc.MarkLessonComplete(ctx, userID, courseID, lessonID, 5)
		assert.ErrorIs(t, err, database.ErrNotFound)
		recorder.AssertNotCalled(t, "Record", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestService_RecomputeCourseProgress(t *testing.T) {
	ctx := context.Background()
	userID, courseID := uuid.New(), uuid.New()

	t.Run("new row starts now", func(t *testing.T) {
		svc, store, catalog, _ := setupService(t)
		store.On("CountCompletedLessons", ctx, userID, courseID).Return(2, nil)
		catalog.On("TotalLessons", ctx, courseID).Return(5, nil)
		store.On("GetCourseProgress", ctx, userID, courseID).Return(nil, database.ErrNotFound)
		store.On("UpsertCourseProgress", ctx, mock.Anything).Return(nil)

		cp, err := svc.RecomputeCourseProgress(ctx, userID, courseID)
		require.NoError(t, err)
		require.NotNil(t, cp.StartedAt)
		assert.True(t, cp.StartedAt.Equal(testNow))
		assert.False(t, cp.IsCompleted)
		assert.Nil(t, cp.CompletedAt)
	})

	t.Run("completion time is set once", func(t *testing.T) {
		svc, store, catalog, _ := setupService(t)
		started := testNow.Add(-72 * time.Hour)
		finished := testNow.Add(-24 * time.Hour)

		store.On("CountCompletedLessons", ctx, userID, courseID).Return(5, nil)
		catalog.On("TotalLessons", ctx, courseID).Return(5, nil)
		store.On("GetCourseProgress", ctx, userID, courseID).Return(nil, database.ErrNotFound).Once()
		store.On("GetCourseProgress", ctx, userID, courseID).Return(&models.CourseProgress{
			CompletedLessons: 5,
			TotalLessons:     5,
			IsCompleted:      true,
			StartedAt:        &started,
			CompletedAt:      &finished,
		}, nil).Once()
		store.On("UpsertCourseProgress", ctx, mock.Anything).Return(nil)

		first, err := svc.RecomputeCourseProgress(ctx, userID, courseID)
		require.NoError(t, err)
		assert.InDelta(t, 100.0, first.ProgressPercent, 0.001)
		assert.True(t, first.IsCompleted)
		require.NotNil(t, first.CompletedAt)
		assert.True(t, first.CompletedAt.Equal(testNow))

		again, err := svc.RecomputeCourseProgress(ctx, userID, courseID)
		require.NoError(t, err)
		assert.True(t, again.CompletedAt.Equal(finished))
		assert.True(t, again.StartedAt.Equal(started))
	})

	t.Run("stale cached total is reloaded", func(t *testing.T) {
		svc, store, catalog, _ := setupService(t)
		store.On("CountCompletedLessons", ctx, userID, courseID).Return(4, nil)
		catalog.On("TotalLessons", ctx, courseID).Return(3, nil).Once()
		catalog.On("InvalidateCourse", ctx, courseID).Return(nil).Once()
		catalog.On("TotalLessons", ctx, courseID).Return(6, nil).Once()
		store.On("GetCourseProgress", ctx, userID, courseID).Return(nil, database.ErrNotFound)
		store.On("UpsertCourseProgress", ctx, mock.Anything).Return(nil)

		cp, err := svc.RecomputeCourseProgress(ctx, userID, courseID)
		require.NoError(t, err)
		assert.Equal(t, 6, cp.TotalLessons)
		assert.False(t, cp.IsCompleted)
		catalog.AssertExpectations(t)
	})

	t.Run("transient read failure is returned", func(t *testing.T) {
		svc, store, catalog, _ := setupService(t)
		store.On("CountCompletedLessons", ctx, userID, courseID).Return(1, nil)
		catalog.On("TotalLessons", ctx, courseID).Return(2, nil)
		store.On("GetCourseProgress", ctx, userID, courseID).Return(nil, errors.New("connection reset"))

		_, err := svc.RecomputeCourseProgress(ctx, userID, courseID)
		require.Error(t, err)
		store.AssertNotCalled(t, "UpsertCourseProgress", mock.Anything, mock.Anything)
	})
}

func TestService_CourseProgress(t *testing.T) {
	ctx := context.Background()
	userID, courseID := uuid.New(), uuid.New()

	t.Run("stored row", func(t *testing.T) {
		svc, store, _, _ := setupService(t)
		stored := &models.CourseProgress{UserID: userID, CourseID: courseID, CompletedLessons: 2, TotalLessons: 4}
		store.On("GetCourseProgress", ctx, userID, courseID).Return(stored, nil)

		cp, err := svc.CourseProgress(ctx, userID, courseID)
		require.NoError(t, err)
		assert.Equal(t, stored, cp)
	})

	t.Run("zero progress when not started", func(t *testing.T) {
		svc, store, catalog, _ := setupService(t)
		store.On("GetCourseProgress", ctx, userID, courseID).Return(nil, database.ErrNotFound)
		catalog.On("TotalLessons", ctx, courseID).Return(7, nil)

		cp, err := svc.CourseProgress(ctx, userID, courseID)
		require.NoError(t, err)
		assert.Equal(t, 7, cp.TotalLessons)
		assert.Zero(t, cp.CompletedLessons)
		assert.Nil(t, cp.StartedAt)
	})
}
