package progress

import (
	"context"
	"fmt"

	"github.com/learnsphere/learnsphere-core/internal/domain/shared"
)

// CourseOutcome describes a course recompute.
type CourseOutcome struct {
	Progress *CourseProgress

	// Enrollment is nil when the student is not enrolled in the course.
	Enrollment *Enrollment

	CompletedTopics int
	TotalTopics     int
	PreviousPercent int

	// CourseCompleted is true only on the call that moved the enrollment to completed.
	CourseCompleted bool
}

// Changed reports whether the stored percent moved.
func (o *CourseOutcome) Changed() bool {
	return o.Progress.ProgressPercent != o.PreviousPercent
}

// CourseAggregator derives the course percent from topic completion and mirrors
// it onto the enrollment.
type CourseAggregator struct {
	clock shared.Clock
}

// NewCourseAggregator creates a CourseAggregator. A nil clock uses shared.SystemClock.
func NewCourseAggregator(clock shared.Clock) *CourseAggregator {
	if clock == nil {
		clock = shared.SystemClock
	}
	return &CourseAggregator{clock: clock}
}

// Recompute writes percent = round(100 * completed / total) to the CourseProgress
// row and to the enrollment, if any. touchedTopicID, when set, is recorded as the
// last visited topic.
//
// The CourseProgress row is locked before topic completion is read, so two
// concurrent recomputes for the same pair see each other's topic writes.
func (a *CourseAggregator) Recompute(ctx context.Context, tx Tx, studentID, courseID, touchedTopicID string) (*CourseOutcome, error) {
	if _, err := tx.GetCourse(ctx, courseID); err != nil {
		return nil, err
	}

	cp, err := tx.GetOrCreateCourseProgress(ctx, studentID, courseID)
	if err != nil {
		return nil, fmt.Errorf("get course progress: %w", err)
	}

	topicIDs, err := tx.ListTopicIDs(ctx, courseID)
	if err != nil {
		return nil, fmt.Errorf("list topics: %w", err)
	}

	var completed []string
	if len(topicIDs) > 0 {
		completed, err = tx.CompletedTopicIDs(ctx, studentID, topicIDs)
		if err != nil {
			return nil, fmt.Errorf("completed topics: %w", err)
		}
	}

	now := a.clock()
	out := &CourseOutcome{
		Progress:        cp.Row,
		CompletedTopics: len(completed),
		TotalTopics:     len(topicIDs),
		PreviousPercent: cp.Row.ProgressPercent,
	}

	stored := cp.Row.ApplyPercent(CalculatePercent(len(completed), len(topicIDs)), now)
	if touchedTopicID != "" {
		cp.Row.LastTopicID = touchedTopicID
	}
	if err := tx.SaveCourseProgress(ctx, cp.Row); err != nil {
		return nil, fmt.Errorf("save course progress: %w", err)
	}

	enrollment, err := tx.GetEnrollment(ctx, studentID, courseID)
	switch {
	case shared.IsNotFound(err):
		return out, nil
	case err != nil:
		return nil, fmt.Errorf("get enrollment: %w", err)
	}

	out.CourseCompleted = enrollment.ApplyPercent(stored, now)
	if err := tx.SaveEnrollment(ctx, enrollment); err != nil {
		return nil, fmt.Errorf("save enrollment: %w", err)
	}
	out.Enrollment = enrollment

	return out, nil
}
