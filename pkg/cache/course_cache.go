package cache

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// CourseDatabase is the catalog lookup the cache sits in front of.
type CourseDatabase interface {
	CountCourseLessons(ctx context.Context, courseID uuid.UUID) (int, error)
}

// CourseCache caches per-course lesson totals. With caching disabled every
// call goes to the database.
type CourseCache struct {
	cache   *Cache
	db      CourseDatabase
	ttl     time.Duration
	enabled bool
}

// NewCourseCache creates a course cache. cache may be nil when enabled is false.
func NewCourseCache(cache *Cache, db CourseDatabase, ttl time.Duration, enabled bool) *CourseCache {
	return &CourseCache{
		cache:   cache,
		db:      db,
		ttl:     ttl,
		enabled: enabled && cache != nil,
	}
}

// TotalLessons returns the number of lessons in courseID.
func (cc *CourseCache) TotalLessons(ctx context.Context, courseID uuid.UUID) (int, error) {
	if !cc.enabled {
		return cc.db.CountCourseLessons(ctx, courseID)
	}

	var total int
	err := cc.cache.GetOrSet(ctx, CourseLessonsKey(courseID), cc.ttl, &total, func() (interface{}, error) {
		return cc.db.CountCourseLessons(ctx, courseID)
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}

// InvalidateCourse drops the cached total so the next read reloads it.
func (cc *CourseCache) InvalidateCourse(ctx context.Context, courseID uuid.UUID) error {
	if !cc.enabled {
		return nil
	}
	if err := cc.cache.Delete(ctx, CourseLessonsKey(courseID)); err != nil {
		log.Warn().Err(err).Str("course_id", courseID.String()).Msg("Failed to invalidate course cache")
		return err
	}
	return nil
}
