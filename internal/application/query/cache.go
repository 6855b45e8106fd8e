// Package query contains read operations (CQRS - Queries).
package query

import (
	"context"

	"github.com/learnsphere/learnsphere-core/internal/domain/progress"
)

// ProgressCache is the read-through cache in front of the store.
// Implemented by the redis ProgressCache.
//
// A lookup miss returns the generation the fill must carry. Writes retire the
// generation after commit, so a fill computed from an older store read is
// never served.
type ProgressCache interface {
	GetCourseProgress(ctx context.Context, studentID, courseID string) (cp *progress.CourseProgress, gen string, hit bool, err error)
	SetCourseProgress(ctx context.Context, gen string, cp *progress.CourseProgress) error
	GetEnrollments(ctx context.Context, studentID string) (views []*progress.EnrollmentView, gen string, hit bool, err error)
	SetEnrollments(ctx context.Context, gen, studentID string, views []*progress.EnrollmentView) error
}

// FeatureGate decides per student whether a cached read is allowed.
type FeatureGate interface {
	IsEnabled(featureName, studentID string) bool
}
