package cache

import (
	"fmt"

	"github.com/google/uuid"
)

// Key prefixes. Every key is "prefix:identifier".
const (
	CoursePrefix = "course:"
)

// CourseLessonsKey caches the number of lessons in a course.
//
// Example: "course:123e4567-e89b-12d3-a456-426614174000:lessons"
func CourseLessonsKey(courseID uuid.UUID) string {
	return fmt.Sprintf("%s%s:lessons", CoursePrefix, courseID.String())
}
