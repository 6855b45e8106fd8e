package progress

import (
	"context"
	"fmt"

	"github.com/learnsphere/learnsphere-core/internal/domain/shared"
)

// MaterialOutcome describes a MarkMaterialCompleted call.
type MaterialOutcome struct {
	Progress *MaterialProgress
	Material *Material
	CourseID string

	// Created is true on the first touch of the (student, material) pair.
	Created bool

	// NewlyCompleted is false on replays. Replays do not cascade.
	NewlyCompleted bool

	// Topic is set only when NewlyCompleted is true.
	Topic *TopicOutcome
}

// Tracker records material completion and starts the upward cascade.
type Tracker struct {
	topics *TopicAggregator
	clock  shared.Clock
}

// NewTracker creates a Tracker.
func NewTracker(topics *TopicAggregator, clock shared.Clock) *Tracker {
	if clock == nil {
		clock = shared.SystemClock
	}
	return &Tracker{topics: topics, clock: clock}
}

// MarkMaterialCompleted marks the material completed for the student. Marking an
// already completed material changes nothing, including CompletedAt.
func (t *Tracker) MarkMaterialCompleted(ctx context.Context, tx Tx, studentID, materialID string) (*MaterialOutcome, error) {
	material, err := tx.GetMaterial(ctx, materialID)
	if err != nil {
		return nil, err
	}
	topic, err := tx.GetTopic(ctx, material.TopicID)
	if err != nil {
		return nil, err
	}
	if _, err := tx.GetStudent(ctx, studentID); err != nil {
		return nil, err
	}

	mp, err := tx.GetOrCreateMaterialProgress(ctx, studentID, materialID)
	if err != nil {
		return nil, fmt.Errorf("get material progress: %w", err)
	}

	out := &MaterialOutcome{
		Progress: mp.Row,
		Material: material,
		CourseID: topic.CourseID,
		Created:  mp.Created,
	}

	if !mp.Row.MarkCompleted(t.clock()) {
		return out, nil
	}
	out.NewlyCompleted = true

	if err := tx.SaveMaterialProgress(ctx, mp.Row); err != nil {
		return nil, fmt.Errorf("save material progress: %w", err)
	}

	topicOut, err := t.topics.Reevaluate(ctx, tx, studentID, topic.ID)
	if err != nil {
		return nil, fmt.Errorf("reevaluate topic %s: %w", topic.ID, err)
	}
	out.Topic = topicOut

	return out, nil
}
