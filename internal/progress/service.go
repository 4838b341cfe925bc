// Package progress derives streaks, weekly activity and course completion
// from the activity log, and pays streak rewards.
//
// Nothing here is cached as authoritative: every read recomputes from the
// stored rows, and recomputing is always safe to repeat.
package progress

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ieraasyl/LearnHub/internal/activity"
	"github.com/ieraasyl/LearnHub/internal/database"
	"github.com/ieraasyl/LearnHub/internal/metrics"
	"github.com/ieraasyl/LearnHub/internal/models"
	"github.com/ieraasyl/LearnHub/pkg/config"
	"github.com/ieraasyl/LearnHub/pkg/utils"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Store is the relational data the service reads and writes.
type Store interface {
	ListActivityDays(ctx context.Context, userID uuid.UUID) ([]time.Time, error)
	ListActivitySince(ctx context.Context, userID uuid.UUID, since time.Time) ([]models.ActivityRecord, error)
	ListActivity(ctx context.Context, userID uuid.UUID, offset, limit int) ([]models.ActivityRecord, int64, error)

	InsertLessonCompletion(ctx context.Context, c *models.LessonCompletion) error
	CountCompletedLessons(ctx context.Context, userID, courseID uuid.UUID) (int, error)
	GetCourseProgress(ctx context.Context, userID, courseID uuid.UUID) (*models.CourseProgress, error)
	UpsertCourseProgress(ctx context.Context, cp *models.CourseProgress) error

	GrantStreakReward(ctx context.Context, userID uuid.UUID, level, points int) (bool, int, error)
	LowerStreakReward(ctx context.Context, userID uuid.UUID, level int) error
}

// Catalog reports lesson totals per course. cache.CourseCache implements it.
type Catalog interface {
	TotalLessons(ctx context.Context, courseID uuid.UUID) (int, error)
	InvalidateCourse(ctx context.Context, courseID uuid.UUID) error
}

// ActivityRecorder appends lesson-completed records.
type ActivityRecorder interface {
	Record(ctx context.Context, userID uuid.UUID, kind models.ActivityKind, duration int) activity.Result
}

// StreakResult is a freshly computed streak and what the reward policy did
// with it.
type StreakResult struct {
	Days int `json:"days"`
	// Reward is the threshold paid by this computation, 0 when nothing was paid.
	Reward  int `json:"reward,omitempty"`
	Balance int `json:"balance,omitempty"`
}

// Overview combines the streak and the weekly activity.
type Overview struct {
	Streak StreakResult      `json:"streak"`
	Week   []models.DayTotal `json:"week"`
}

// CompletionResult is the outcome of marking a lesson complete.
type CompletionResult struct {
	// FirstTime is false when the lesson had already been completed.
	FirstTime bool                   `json:"first_time"`
	Progress  *models.CourseProgress `json:"progress"`
}

// Service implements the progress operations.
type Service struct {
	store    Store
	catalog  Catalog
	recorder ActivityRecorder
	rewards  config.RewardsConfig
	now      func() time.Time
}

// NewService creates a progress service.
func NewService(store Store, catalog Catalog, recorder ActivityRecorder, rewards config.RewardsConfig) *Service {
	return &Service{
		store:    store,
		catalog:  catalog,
		recorder: recorder,
		rewards:  rewards,
		now:      time.Now,
	}
}

// WithClock replaces the service's clock. The clock's location decides what
// "today" is.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Streak recomputes the user's streak and applies the reward policy.
//
// The reward marker is first lowered to the highest threshold the live run
// still reaches (see LiveRun), so a broken streak pays again on its next
// crossing while a streak waiting on today's activity keeps its marker.
// Then the current streak's threshold is granted; the store only pays when
// the marker is below it. Reward failures are logged and do not fail the read.
func (s *Service) Streak(ctx context.Context, userID uuid.UUID) (StreakResult, error) {
	days, err := s.store.ListActivityDays(ctx, userID)
	if err != nil {
		return StreakResult{}, fmt.Errorf("failed to list activity days: %w", err)
	}

	now := s.now()
	result := StreakResult{Days: ComputeStreak(days, now)}
	level := rewardLevel(result.Days, s.rewards.StreakThresholds)
	logger := log.With().Str("user_id", userID.String()).Int("streak", result.Days).Logger()

	kept := rewardLevel(LiveRun(days, now), s.rewards.StreakThresholds)
	if err := s.store.LowerStreakReward(ctx, userID, kept); err != nil {
		logger.Warn().Err(err).Msg("Failed to lower streak reward marker")
	}
	if level == 0 || s.rewards.BonusPoints <= 0 {
		return result, nil
	}

	granted, balance, err := s.store.GrantStreakReward(ctx, userID, level, s.rewards.BonusPoints)
	if err != nil {
		logger.Error().Err(err).Int("threshold", level).Msg("Failed to grant streak reward")
		return result, nil
	}
	if granted {
		result.Reward = level
		result.Balance = balance
		metrics.StreakRewardGranted(level)
		logger.Info().
			Int("threshold", level).
			Int("points", s.rewards.BonusPoints).
			Int("balance", balance).
			Msg("Streak reward granted")
	}
	return result, nil
}

// WeeklyActivity returns per-day activity minutes for the last seven days.
func (s *Service) WeeklyActivity(ctx context.Context, userID uuid.UUID) ([]models.DayTotal, error) {
	today := s.now()
	since := utils.AddDays(utils.DayOf(today), -(WeekDays - 1))

	records, err := s.store.ListActivitySince(ctx, userID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to list weekly activity: %w", err)
	}
	return WeekBuckets(records, today), nil
}

// Overview computes the streak and the weekly activity concurrently.
func (s *Service) Overview(ctx context.Context, userID uuid.UUID) (*Overview, error) {
	var overview Overview
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		streak, err := s.Streak(gctx, userID)
		if err != nil {
			return err
		}
		overview.Streak = streak
		return nil
	})
	g.Go(func() error {
		week, err := s.WeeklyActivity(gctx, userID)
		if err != nil {
			return err
		}
		overview.Week = week
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &overview, nil
}

// ActivityHistory pages through the user's activity log, newest first.
func (s *Service) ActivityHistory(ctx context.Context, userID uuid.UUID, params utils.PageParams) (utils.PaginatedResponse, error) {
	records, total, err := s.store.ListActivity(ctx, userID, params.Offset, params.Limit)
	if err != nil {
		return utils.PaginatedResponse{}, fmt.Errorf("failed to list activity: %w", err)
	}
	return utils.NewPaginatedResponse(records, params, total), nil
}

// MarkLessonComplete stores a lesson completion and recomputes the course
// progress.
//
// Completing a lesson twice is a no-op: the duplicate is swallowed, no
// second activity record is written, and progress is recomputed anyway.
// minutes is the time spent and goes into the activity record.
//
// Parameters:
//   - userID: the signed-in user
//   - courseID, lessonID: the lesson, which must belong to the course
//   - minutes: study time to record, clamped at 0
//
// Returns database.ErrNotFound when the lesson or course does not exist.
func (s *Service) MarkLessonComplete(ctx context.Context, userID, courseID, lessonID uuid.UUID, minutes int) (*CompletionResult, error) {
	completion := &models.LessonCompletion{
		UserID:      userID,
		CourseID:    courseID,
		LessonID:    lessonID,
		CompletedAt: s.now(),
	}

	firstTime := true
	if err := s.store.InsertLessonCompletion(ctx, completion); err != nil {
		if !errors.Is(err, database.ErrDuplicateKey) {
			return nil, fmt.Errorf("failed to store lesson completion: %w", err)
		}
		firstTime = false
		log.Debug().
			Str("user_id", userID.String()).
			Str("lesson_id", lessonID.String()).
			Msg("Lesson already completed")
	}

	if firstTime {
		s.recorder.Record(ctx, userID, models.ActivityLessonCompleted, minutes)
	}

	cp, err := s.RecomputeCourseProgress(ctx, userID, courseID)
	if err != nil {
		return nil, err
	}
	return &CompletionResult{FirstTime: firstTime, Progress: cp}, nil
}

// RecomputeCourseProgress derives the course progress from the stored
// completions and writes it.
//
// started_at is set when the row is first written. completed_at is set on
// the transition into completed and kept while the course stays completed.
func (s *Service) RecomputeCourseProgress(ctx context.Context, userID, courseID uuid.UUID) (*models.CourseProgress, error) {
	completed, err := s.store.CountCompletedLessons(ctx, userID, courseID)
	if err != nil {
		return nil, fmt.Errorf("failed to count completed lessons: %w", err)
	}

	total, err := s.catalog.TotalLessons(ctx, courseID)
	if err != nil {
		return nil, fmt.Errorf("failed to load course lessons: %w", err)
	}
	if completed > total {
		// The cached total predates lessons added to the course.
		if err := s.catalog.InvalidateCourse(ctx, courseID); err == nil {
			if total, err = s.catalog.TotalLessons(ctx, courseID); err != nil {
				return nil, fmt.Errorf("failed to reload course lessons: %w", err)
			}
		}
	}

	existing, err := s.store.GetCourseProgress(ctx, userID, courseID)
	if err != nil && !errors.Is(err, database.ErrNotFound) {
		return nil, fmt.Errorf("failed to load course progress: %w", err)
	}

	now := s.now()
	percent, done := ComputeCompletion(completed, total)
	cp := &models.CourseProgress{
		UserID:           userID,
		CourseID:         courseID,
		CompletedLessons: completed,
		TotalLessons:     total,
		ProgressPercent:  percent,
		IsCompleted:      done,
		StartedAt:        &now,
		LastAccessedAt:   &now,
	}
	if existing != nil && existing.StartedAt != nil {
		cp.StartedAt = existing.StartedAt
	}
	justCompleted := false
	if done {
		if existing != nil && existing.IsCompleted && existing.CompletedAt != nil {
			cp.CompletedAt = existing.CompletedAt
		} else {
			cp.CompletedAt = &now
			justCompleted = true
		}
	}

	if err := s.store.UpsertCourseProgress(ctx, cp); err != nil {
		return nil, fmt.Errorf("failed to save course progress: %w", err)
	}

	if justCompleted {
		log.Info().
			Str("user_id", userID.String()).
			Str("course_id", courseID.String()).
			Msg("Course completed")
	}
	return cp, nil
}

// CourseProgress returns the stored progress, or a zero-progress view when
// the user has not started the course.
func (s *Service) CourseProgress(ctx context.Context, userID, courseID uuid.UUID) (*models.CourseProgress, error) {
	cp, err := s.store.GetCourseProgress(ctx, userID, courseID)
	if err == nil {
		return cp, nil
	}
	if !errors.Is(err, database.ErrNotFound) {
		return nil, fmt.Errorf("failed to load course progress: %w", err)
	}

	total, err := s.catalog.TotalLessons(ctx, courseID)
	if err != nil {
		return nil, fmt.Errorf("failed to load course lessons: %w", err)
	}
	return &models.CourseProgress{UserID: userID, CourseID: courseID, TotalLessons: total}, nil
}
