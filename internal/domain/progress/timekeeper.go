package progress

import (
	"context"
	"fmt"

	"github.com/learnsphere/learnsphere-core/internal/domain/shared"
)

// MaxTopicSecondsPerCall bounds a single time report.
const MaxTopicSecondsPerCall int64 = 24 * 60 * 60

// TimeOutcome describes a RecordTopicTime call.
type TimeOutcome struct {
	Topic    *Topic
	Progress *TopicProgress
	Added    int64

	// Course and Enrollment are set when time was added.
	Course     *CourseProgress
	Enrollment *Enrollment
}

// Timekeeper accumulates time on topics and records skill scores. Neither
// changes completion.
type Timekeeper struct {
	clock shared.Clock
}

// NewTimekeeper creates a Timekeeper.
func NewTimekeeper(clock shared.Clock) *Timekeeper {
	if clock == nil {
		clock = shared.SystemClock
	}
	return &Timekeeper{clock: clock}
}

// RecordTopicTime adds seconds to the student's TopicProgress and refreshes the
// course's TotalTimeMinutes. Zero seconds returns the row unchanged.
func (k *Timekeeper) RecordTopicTime(ctx context.Context, tx Tx, studentID, topicID string, seconds int64) (*TimeOutcome, error) {
	if seconds < 0 || seconds >= MaxTopicSecondsPerCall {
		return nil, shared.ErrInvalidTimeSpent
	}

	topic, err := tx.GetTopic(ctx, topicID)
	if err != nil {
		return nil, err
	}
	if _, err := tx.GetStudent(ctx, studentID); err != nil {
		return nil, err
	}

	tp, err := tx.GetOrCreateTopicProgress(ctx, studentID, topicID)
	if err != nil {
		return nil, fmt.Errorf("get topic progress: %w", err)
	}
	out := &TimeOutcome{Topic: topic, Progress: tp.Row}
	if seconds == 0 {
		return out, nil
	}

	now := k.clock()
	tp.Row.AddTime(seconds, now)
	if err := tx.SaveTopicProgress(ctx, tp.Row); err != nil {
		return nil, fmt.Errorf("save topic progress: %w", err)
	}
	out.Added = seconds

	cp, err := tx.GetOrCreateCourseProgress(ctx, studentID, topic.CourseID)
	if err != nil {
		return nil, fmt.Errorf("get course progress: %w", err)
	}
	topicIDs, err := tx.ListTopicIDs(ctx, topic.CourseID)
	if err != nil {
		return nil, fmt.Errorf("list topics: %w", err)
	}
	total, err := tx.SumTopicSeconds(ctx, studentID, topicIDs)
	if err != nil {
		return nil, fmt.Errorf("sum topic time: %w", err)
	}
	cp.Row.TotalTimeMinutes = total / 60
	cp.Row.LastTopicID = topicID
	cp.Row.LastUpdated = now
	if err := tx.SaveCourseProgress(ctx, cp.Row); err != nil {
		return nil, fmt.Errorf("save course progress: %w", err)
	}
	out.Course = cp.Row

	enrollment, err := tx.GetEnrollment(ctx, studentID, topic.CourseID)
	switch {
	case shared.IsNotFound(err):
		return out, nil
	case err != nil:
		return nil, fmt.Errorf("get enrollment: %w", err)
	}
	enrollment.Touch(now)
	if err := tx.SaveEnrollment(ctx, enrollment); err != nil {
		return nil, fmt.Errorf("save enrollment: %w", err)
	}
	out.Enrollment = enrollment

	return out, nil
}

// RecordSkillScore stores a 0-100 skill score on the CourseProgress row.
// Returns shared.ErrCourseProgressNotFound when the student never enrolled.
func (k *Timekeeper) RecordSkillScore(ctx context.Context, tx Tx, studentID, courseID string, score int) (*CourseProgress, error) {
	if score < 0 || score > 100 {
		return nil, shared.ErrInvalidSkillScore
	}
	if _, err := tx.GetCourseProgress(ctx, studentID, courseID); err != nil {
		return nil, err
	}

	cp, err := tx.GetOrCreateCourseProgress(ctx, studentID, courseID)
	if err != nil {
		return nil, fmt.Errorf("get course progress: %w", err)
	}
	cp.Row.SkillScore = score
	cp.Row.LastUpdated = k.clock()
	if err := tx.SaveCourseProgress(ctx, cp.Row); err != nil {
		return nil, fmt.Errorf("save course progress: %w", err)
	}
	return cp.Row, nil
}
