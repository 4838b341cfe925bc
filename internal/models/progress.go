package models

import (
	"time"

	"github.com/google/uuid"
)

// ActivityKind classifies an activity record.
type ActivityKind string

const (
	ActivityLogin           ActivityKind = "login"
	ActivityLessonCompleted ActivityKind = "lesson-completed"
)

// ActivityRecord is one append-only activity log entry. Date is the calendar
// day of the event (see utils.DayOf); Duration is in minutes.
type ActivityRecord struct {
	ID        int64        `json:"id"`
	UserID    uuid.UUID    `json:"user_id"`
	Date      time.Time    `json:"date"`
	Kind      ActivityKind `json:"kind"`
	Duration  int          `json:"duration"`
	CreatedAt time.Time    `json:"created_at"`
}

// DayTotal is the summed activity duration of one calendar day.
type DayTotal struct {
	Date     string `json:"date"` // YYYY-MM-DD
	Duration int    `json:"duration"`
}

// LessonCompletion marks a lesson as completed by a user. At most one exists
// per (user, lesson).
type LessonCompletion struct {
	UserID      uuid.UUID `json:"user_id"`
	CourseID    uuid.UUID `json:"course_id"`
	LessonID    uuid.UUID `json:"lesson_id"`
	CompletedAt time.Time `json:"completed_at"`
}

// CourseProgress is the derived progress of a user through one course.
type CourseProgress struct {
	UserID           uuid.UUID  `json:"user_id"`
	CourseID         uuid.UUID  `json:"course_id"`
	CompletedLessons int        `json:"completed_lessons"`
	TotalLessons     int        `json:"total_lessons"`
	ProgressPercent  float64    `json:"progress_percent"`
	IsCompleted      bool       `json:"is_completed"`
	StartedAt        *time.Time `json:"started_at,omitempty"`
	LastAccessedAt   *time.Time `json:"last_accessed_at,omitempty"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
}
