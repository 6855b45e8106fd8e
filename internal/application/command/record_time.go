package command

import (
	"context"
	"fmt"

	"github.com/learnsphere/learnsphere-core/internal/domain/progress"
	"github.com/learnsphere/learnsphere-core/internal/domain/shared"
	"github.com/learnsphere/learnsphere-core/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// RECORD TOPIC TIME / SKILL SCORE COMMANDS
// Neither changes completion.
// ══════════════════════════════════════════════════════════════════════════════

// RecordTopicTimeCommand adds seconds spent on a topic.
type RecordTopicTimeCommand struct {
	StudentID string
	TopicID   string
	Seconds   int64
}

// Validate validates the command.
func (c RecordTopicTimeCommand) Validate() error {
	if err := shared.RequireID("student_id", c.StudentID); err != nil {
		return err
	}
	if err := shared.RequireID("topic_id", c.TopicID); err != nil {
		return err
	}
	if c.Seconds < 0 || c.Seconds >= progress.MaxTopicSecondsPerCall {
		return shared.ErrInvalidTimeSpent
	}
	return nil
}

// RecordTopicTimeResult contains the updated rows.
type RecordTopicTimeResult struct {
	TopicProgress *progress.TopicProgress

	// CourseProgress is nil when no time was added.
	CourseProgress *progress.CourseProgress
}

// RecordTopicTimeHandler handles RecordTopicTimeCommand.
type RecordTopicTimeHandler struct {
	store     progress.Store
	services  *Services
	publisher publisher
}

// NewRecordTopicTimeHandler creates a new RecordTopicTimeHandler.
func NewRecordTopicTimeHandler(store progress.Store, services *Services, bus shared.EventPublisher, log *logger.Logger) *RecordTopicTimeHandler {
	return &RecordTopicTimeHandler{
		store:     store,
		services:  services,
		publisher: newPublisher(services, bus, log, "command.record_topic_time"),
	}
}

// Handle executes the command.
func (h *RecordTopicTimeHandler) Handle(ctx context.Context, cmd RecordTopicTimeCommand) (*RecordTopicTimeResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("record_topic_time: %w", err)
	}

	var out *progress.TimeOutcome
	err := h.store.WithinTx(ctx, func(ctx context.Context, tx progress.Tx) error {
		o, err := h.services.Timekeeper.RecordTopicTime(ctx, tx, cmd.StudentID, cmd.TopicID, cmd.Seconds)
		if err != nil {
			return err
		}
		out = o
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("record_topic_time: %w", err)
	}

	var events []shared.Event
	if out.Added > 0 {
		events = append(events,
			shared.NewTopicTimeRecordedEvent(cmd.StudentID, out.Topic.ID, out.Topic.CourseID, out.Added, out.Progress.TimeSpentSeconds))
	}
	h.publisher.committed(ctx, cmd.StudentID, out.Topic.CourseID, events)
	return &RecordTopicTimeResult{TopicProgress: out.Progress, CourseProgress: out.Course}, nil
}

// RecordSkillScoreCommand stores a 0-100 skill score for an enrolled pair.
type RecordSkillScoreCommand struct {
	StudentID string
	CourseID  string
	Score     int
}

// Validate validates the command.
func (c RecordSkillScoreCommand) Validate() error {
	if err := shared.RequireID("student_id", c.StudentID); err != nil {
		return err
	}
	if err := shared.RequireID("course_id", c.CourseID); err != nil {
		return err
	}
	if c.Score < 0 || c.Score > 100 {
		return shared.ErrInvalidSkillScore
	}
	return nil
}

// RecordSkillScoreHandler handles RecordSkillScoreCommand.
type RecordSkillScoreHandler struct {
	store     progress.Store
	services  *Services
	publisher publisher
}

// NewRecordSkillScoreHandler creates a new RecordSkillScoreHandler.
func NewRecordSkillScoreHandler(store progress.Store, services *Services, bus shared.EventPublisher, log *logger.Logger) *RecordSkillScoreHandler {
	return &RecordSkillScoreHandler{
		store:     store,
		services:  services,
		publisher: newPublisher(services, bus, log, "command.record_skill_score"),
	}
}

// Handle executes the command.
func (h *RecordSkillScoreHandler) Handle(ctx context.Context, cmd RecordSkillScoreCommand) (*progress.CourseProgress, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("record_skill_score: %w", err)
	}

	var cp *progress.CourseProgress
	err := h.store.WithinTx(ctx, func(ctx context.Context, tx progress.Tx) error {
		row, err := h.services.Timekeeper.RecordSkillScore(ctx, tx, cmd.StudentID, cmd.CourseID, cmd.Score)
		if err != nil {
			return err
		}
		cp = row
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("record_skill_score: %w", err)
	}

	h.publisher.committed(ctx, cmd.StudentID, cmd.CourseID, []shared.Event{shared.NewSkillScoreRecordedEvent(cmd.StudentID, cmd.CourseID, cmd.Score)})
	return cp, nil
}
