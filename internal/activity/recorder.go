// Package activity appends day-bucketed activity records. Recording is best
// effort: failures are logged and counted but never returned as errors.
package activity

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/ieraasyl/LearnHub/internal/metrics"
	"github.com/ieraasyl/LearnHub/internal/models"
	"github.com/ieraasyl/LearnHub/pkg/utils"
	"github.com/rs/zerolog/log"
)

// ErrNoUser is reported for a record without a user.
var ErrNoUser = errors.New("activity record has no user")

// Store appends activity records.
type Store interface {
	InsertActivity(ctx context.Context, rec *models.ActivityRecord) error
}

// Result reports the outcome of one Record call. Callers may ignore it.
type Result struct {
	Success bool
	Err     error
}

// Recorder appends activity records for the calendar day of its clock.
type Recorder struct {
	store Store
	now   func() time.Time
}

// NewRecorder creates a recorder using the local wall clock.
func NewRecorder(store Store) *Recorder {
	return &Recorder{store: store, now: time.Now}
}

// WithClock returns a copy of r that reads the time from now.
func (r *Recorder) WithClock(now func() time.Time) *Recorder {
	c := *r
	c.now = now
	return &c
}

// Record appends one record of kind for today. Every call is kept, so
// durations on the same day add up; negative durations count as zero.
//
// Example:
//
//	// fire-and-forget, the result is informational
//	recorder.Record(ctx, userID, models.ActivityLessonCompleted, 15)
func (r *Recorder) Record(ctx context.Context, userID uuid.UUID, kind models.ActivityKind, duration int) Result {
	if userID == uuid.Nil {
		metrics.ActivityRecorded(string(kind), false)
		return Result{Err: ErrNoUser}
	}
	if duration < 0 {
		duration = 0
	}

	rec := &models.ActivityRecord{
		UserID:   userID,
		Date:     utils.DayOf(r.now()),
		Kind:     kind,
		Duration: duration,
	}

	if err := r.store.InsertActivity(ctx, rec); err != nil {
		metrics.ActivityRecorded(string(kind), false)
		log.Warn().
			Err(err).
			Str("user_id", userID.String()).
			Str("kind", string(kind)).
			Msg("Failed to record activity")
		return Result{Err: err}
	}

	metrics.ActivityRecorded(string(kind), true)
	log.Debug().
		Str("user_id", userID.String()).
		Str("kind", string(kind)).
		Str("day", utils.DayKey(rec.Date)).
		Int("duration", duration).
		Msg("Activity recorded")

	return Result{Success: true}
}
