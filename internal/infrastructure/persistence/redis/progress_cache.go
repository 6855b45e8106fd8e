package redis

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/learnsphere/learnsphere-core/internal/domain/progress"
)

// ProgressCache caches course progress rows and enrollment listings.
//
// Every entry key carries a generation read from a small per-pair (or
// per-student) key. Invalidate replaces the generations, so a fill that read
// the store before a commit lands under a key no later reader looks up.
type ProgressCache struct {
	cache  *Cache
	ttl    time.Duration
	genTTL time.Duration
}

// NewProgressCache creates a ProgressCache. A non-positive ttl selects
// TTLCourseProgress.
func NewProgressCache(cache *Cache, ttl time.Duration) *ProgressCache {
	if ttl <= 0 {
		ttl = TTLCourseProgress
	}
	// Generations must outlive any entry written under them.
	return &ProgressCache{cache: cache, ttl: ttl, genTTL: 2 * ttl}
}

// initialGeneration is used while no invalidation happened yet.
const initialGeneration = "0"

// CourseProgressKey returns the key of a (student, course) progress entry.
func CourseProgressKey(studentID, courseID, gen string) string {
	return PrefixCourseProgress + studentID + ":" + courseID + "@" + gen
}

// EnrollmentsKey returns the key of a student's enrollment listing.
func EnrollmentsKey(studentID, gen string) string {
	return PrefixEnrollments + studentID + "@" + gen
}

func courseGenKey(studentID, courseID string) string {
	return PrefixGeneration + "course:" + studentID + ":" + courseID
}

func enrollmentsGenKey(studentID string) string {
	return PrefixGeneration + "enrollments:" + studentID
}

func (c *ProgressCache) generation(ctx context.Context, key string) (string, error) {
	gen, err := c.cache.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return initialGeneration, nil
	}
	return gen, err
}

// GetCourseProgress returns the cached row. On a miss the bool is false and
// gen is the generation a later SetCourseProgress must pass.
func (c *ProgressCache) GetCourseProgress(ctx context.Context, studentID, courseID string) (*progress.CourseProgress, string, bool, error) {
	gen, err := c.generation(ctx, courseGenKey(studentID, courseID))
	if err != nil {
		return nil, "", false, err
	}
	var cp progress.CourseProgress
	err = c.cache.Get(ctx, CourseProgressKey(studentID, courseID, gen), &cp)
	if errors.Is(err, ErrCacheMiss) {
		return nil, gen, false, nil
	}
	if err != nil {
		return nil, "", false, err
	}
	return &cp, gen, true, nil
}

// SetCourseProgress stores the row under gen.
func (c *ProgressCache) SetCourseProgress(ctx context.Context, gen string, cp *progress.CourseProgress) error {
	if cp == nil {
		return nil
	}
	return c.cache.Set(ctx, CourseProgressKey(cp.StudentID, cp.CourseID, gen), cp, c.ttl)
}

// GetEnrollments returns the cached listing. On a miss the bool is false and
// gen is the generation a later SetEnrollments must pass.
func (c *ProgressCache) GetEnrollments(ctx context.Context, studentID string) ([]*progress.EnrollmentView, string, bool, error) {
	gen, err := c.generation(ctx, enrollmentsGenKey(studentID))
	if err != nil {
		return nil, "", false, err
	}
	var views []*progress.EnrollmentView
	err = c.cache.Get(ctx, EnrollmentsKey(studentID, gen), &views)
	if errors.Is(err, ErrCacheMiss) {
		return nil, gen, false, nil
	}
	if err != nil {
		return nil, "", false, err
	}
	if views == nil {
		views = []*progress.EnrollmentView{}
	}
	return views, gen, true, nil
}

// SetEnrollments stores a student's listing under gen.
func (c *ProgressCache) SetEnrollments(ctx context.Context, gen, studentID string, views []*progress.EnrollmentView) error {
	return c.cache.Set(ctx, EnrollmentsKey(studentID, gen), views, c.ttl)
}

// Invalidate retires everything cached for the pair, including the student's
// enrollment listing since it carries the course percent.
func (c *ProgressCache) Invalidate(ctx context.Context, studentID, courseID string) error {
	_, err := c.cache.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, courseGenKey(studentID, courseID), uuid.NewString(), c.genTTL)
		pipe.Set(ctx, enrollmentsGenKey(studentID), uuid.NewString(), c.genTTL)
		return nil
	})
	return err
}
