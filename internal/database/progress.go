package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ieraasyl/LearnHub/internal/models"
	"github.com/ieraasyl/LearnHub/pkg/utils"
)

// InsertActivity appends one activity record. Records are never
// de-duplicated.
func (p *PostgresDB) InsertActivity(ctx context.Context, rec *models.ActivityRecord) error {
	query := `
		INSERT INTO activity_log (user_id, activity_date, kind, duration)
		VALUES ($1, $2::date, $3, $4)
		RETURNING id, created_at
	`
	err := p.db.QueryRowContext(ctx, query,
		rec.UserID,
		utils.DayKey(rec.Date),
		string(rec.Kind),
		rec.Duration,
	).Scan(&rec.ID, &rec.CreatedAt)
	if err != nil {
		return classify(err, "insert activity")
	}
	return nil
}

// ListActivityDays returns the distinct days with at least one activity
// record, newest first.
func (p *PostgresDB) ListActivityDays(ctx context.Context, userID uuid.UUID) ([]time.Time, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT DISTINCT activity_date
		FROM activity_log
		WHERE user_id = $1
		ORDER BY activity_date DESC
	`, userID)
	if err != nil {
		return nil, classify(err, "list activity days")
	}
	defer rows.Close()

	var days []time.Time
	for rows.Next() {
		var day time.Time
		if err := rows.Scan(&day); err != nil {
			return nil, fmt.Errorf("failed to scan activity day: %w", err)
		}
		days = append(days, day)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate activity days: %w", err)
	}
	return days, nil
}

// ListActivitySince returns records dated on or after since.
func (p *PostgresDB) ListActivitySince(ctx context.Context, userID uuid.UUID, since time.Time) ([]models.ActivityRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, user_id, activity_date, kind, duration, created_at
		FROM activity_log
		WHERE user_id = $1 AND activity_date >= $2::date
		ORDER BY activity_date ASC, id ASC
	`, userID, utils.DayKey(since))
	if err != nil {
		return nil, classify(err, "list activity")
	}
	defer rows.Close()

	return scanActivityRows(rows)
}

// ListActivity pages through a user's records newest first and reports the
// total count.
func (p *PostgresDB) ListActivity(ctx context.Context, userID uuid.UUID, offset, limit int) ([]models.ActivityRecord, int64, error) {
	var total int64
	if err := p.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM activity_log WHERE user_id = $1`, userID,
	).Scan(&total); err != nil {
		return nil, 0, classify(err, "count activity")
	}

	rows, err := p.db.QueryContext(ctx, `
		SELECT id, user_id, activity_date, kind, duration, created_at
		FROM activity_log
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, 0, classify(err, "list activity")
	}
	defer rows.Close()

	records, err := scanActivityRows(rows)
	if err != nil {
		return nil, 0, err
	}
	return records, total, nil
}

type rowsScanner interface {
	rowScanner
	Next() bool
	Err() error
}

func scanActivityRows(rows rowsScanner) ([]models.ActivityRecord, error) {
	records := []models.ActivityRecord{}
	for rows.Next() {
		var rec models.ActivityRecord
		var kind string
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.Date, &kind, &rec.Duration, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan activity record: %w", err)
		}
		rec.Kind = models.ActivityKind(kind)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate activity records: %w", err)
	}
	return records, nil
}

// InsertLessonCompletion stores a completion. A second completion of the
// same lesson by the same user fails with ErrDuplicateKey.
func (p *PostgresDB) InsertLessonCompletion(ctx context.Context, c *models.LessonCompletion) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO lesson_completions (user_id, course_id, lesson_id, completed_at)
		VALUES ($1, $2, $3, $4)
	`, c.UserID, c.CourseID, c.LessonID, c.CompletedAt)
	if err != nil {
		return classify(err, "insert lesson completion")
	}
	return nil
}

// CountCompletedLessons counts the user's completions within a course.
func (p *PostgresDB) CountCompletedLessons(ctx context.Context, userID, courseID uuid.UUID) (int, error) {
	var n int
	err := p.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM lesson_completions WHERE user_id = $1 AND course_id = $2`,
		userID, courseID,
	).Scan(&n)
	if err != nil {
		return 0, classify(err, "count completed lessons")
	}
	return n, nil
}

// CountCourseLessons counts the lessons of a course in the catalog.
func (p *PostgresDB) CountCourseLessons(ctx context.Context, courseID uuid.UUID) (int, error) {
	var n int
	err := p.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM lessons WHERE course_id = $1`, courseID).Scan(&n)
	if err != nil {
		return 0, classify(err, "count course lessons")
	}
	return n, nil
}

// GetCourseProgress loads a progress row.
func (p *PostgresDB) GetCourseProgress(ctx context.Context, userID, courseID uuid.UUID) (*models.CourseProgress, error) {
	var cp models.CourseProgress
	var startedAt, lastAccessedAt time.Time
	err := p.db.QueryRowContext(ctx, `
		SELECT user_id, course_id, completed_lessons, total_lessons, progress_percent,
			is_completed, started_at, last_accessed_at, completed_at
		FROM course_progress
		WHERE user_id = $1 AND course_id = $2
	`, userID, courseID).Scan(
		&cp.UserID,
		&cp.CourseID,
		&cp.CompletedLessons,
		&cp.TotalLessons,
		&cp.ProgressPercent,
		&cp.IsCompleted,
		&startedAt,
		&lastAccessedAt,
		&cp.CompletedAt,
	)
	if err != nil {
		return nil, classify(err, "get course progress")
	}
	cp.StartedAt = &startedAt
	cp.LastAccessedAt = &lastAccessedAt
	return &cp, nil
}

// UpsertCourseProgress writes a progress row. started_at keeps its first
// value and completed_at keeps its first value for as long as the course
// stays completed.
func (p *PostgresDB) UpsertCourseProgress(ctx context.Context, cp *models.CourseProgress) error {
	now := time.Now()
	startedAt, lastAccessedAt := now, now
	if cp.StartedAt != nil {
		startedAt = *cp.StartedAt
	}
	if cp.LastAccessedAt != nil {
		lastAccessedAt = *cp.LastAccessedAt
	}

	_, err := p.db.ExecContext(ctx, `
		INSERT INTO course_progress (user_id, course_id, completed_lessons, total_lessons,
			progress_percent, is_completed, started_at, last_accessed_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (user_id, course_id)
		DO UPDATE SET
			completed_lessons = EXCLUDED.completed_lessons,
			total_lessons = EXCLUDED.total_lessons,
			progress_percent = EXCLUDED.progress_percent,
			is_completed = EXCLUDED.is_completed,
			last_accessed_at = EXCLUDED.last_accessed_at,
			completed_at = CASE
				WHEN EXCLUDED.is_completed THEN COALESCE(course_progress.completed_at, EXCLUDED.completed_at)
				ELSE NULL
			END
	`,
		cp.UserID,
		cp.CourseID,
		cp.CompletedLessons,
		cp.TotalLessons,
		cp.ProgressPercent,
		cp.IsCompleted,
		startedAt,
		lastAccessedAt,
		cp.CompletedAt,
	)
	if err != nil {
		return classify(err, "upsert course progress")
	}
	return nil
}
