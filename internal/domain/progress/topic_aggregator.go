package progress

import (
	"context"
	"fmt"

	"github.com/learnsphere/learnsphere-core/internal/domain/shared"
)

// TopicOutcome describes a topic re-evaluation.
type TopicOutcome struct {
	Topic    *Topic
	Progress *TopicProgress

	// Complete is the topic state after the call. A topic completed earlier
	// stays complete even if materials were added since.
	Complete bool

	// NewlyCompleted is true only on the call that completed the topic.
	NewlyCompleted bool

	// Course is set when the completion triggered a course recompute.
	Course *CourseOutcome
}

// TopicAggregator derives topic completion from material completion.
type TopicAggregator struct {
	courses *CourseAggregator
	policy  EmptyTopicPolicy
	clock   shared.Clock
}

// NewTopicAggregator creates a TopicAggregator.
func NewTopicAggregator(courses *CourseAggregator, policy EmptyTopicPolicy, clock shared.Clock) *TopicAggregator {
	if clock == nil {
		clock = shared.SystemClock
	}
	return &TopicAggregator{courses: courses, policy: policy, clock: clock}
}

// Policy returns the configured empty topic policy.
func (a *TopicAggregator) Policy() EmptyTopicPolicy {
	return a.policy
}

// Reevaluate marks the topic completed when every live material has a completed
// row for the student, then recomputes the owning course.
//
// The TopicProgress row is locked before material completion is read, so
// concurrent completions of two materials in one topic serialize here and the
// later one sees both.
func (a *TopicAggregator) Reevaluate(ctx context.Context, tx Tx, studentID, topicID string) (*TopicOutcome, error) {
	topic, err := tx.GetTopic(ctx, topicID)
	if err != nil {
		return nil, err
	}

	tp, err := tx.GetOrCreateTopicProgress(ctx, studentID, topicID)
	if err != nil {
		return nil, fmt.Errorf("get topic progress: %w", err)
	}

	out := &TopicOutcome{Topic: topic, Progress: tp.Row}

	if tp.Row.Completed {
		out.Complete = true
		return out, nil
	}

	materialIDs, err := tx.ListMaterialIDs(ctx, topicID)
	if err != nil {
		return nil, fmt.Errorf("list materials: %w", err)
	}

	var completed []string
	if len(materialIDs) > 0 {
		completed, err = tx.CompletedMaterialIDs(ctx, studentID, materialIDs)
		if err != nil {
			return nil, fmt.Errorf("completed materials: %w", err)
		}
	}

	if !a.policy.TopicComplete(materialIDs, completed) {
		return out, nil
	}

	now := a.clock()
	out.NewlyCompleted = tp.Row.MarkCompleted(now)
	out.Complete = true
	if err := tx.SaveTopicProgress(ctx, tp.Row); err != nil {
		return nil, fmt.Errorf("save topic progress: %w", err)
	}

	course, err := a.courses.Recompute(ctx, tx, studentID, topic.CourseID, topicID)
	if err != nil {
		return nil, fmt.Errorf("recompute course %s: %w", topic.CourseID, err)
	}
	out.Course = course

	return out, nil
}
