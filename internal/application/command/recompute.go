package command

import (
	"context"
	"fmt"

	"github.com/learnsphere/learnsphere-core/internal/domain/progress"
	"github.com/learnsphere/learnsphere-core/internal/domain/shared"
	"github.com/learnsphere/learnsphere-core/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// RECOMPUTE COMMANDS
// Explicit triggers for the aggregators, used after authoring changes or by
// operators. Both are safe to repeat.
// ══════════════════════════════════════════════════════════════════════════════

// RecomputeCourseCommand recomputes the course percent of one pair.
type RecomputeCourseCommand struct {
	StudentID string
	CourseID  string
}

// Validate validates the command.
func (c RecomputeCourseCommand) Validate() error {
	if err := shared.RequireID("student_id", c.StudentID); err != nil {
		return err
	}
	return shared.RequireID("course_id", c.CourseID)
}

// RecomputeCourseResult contains the stored percent.
type RecomputeCourseResult struct {
	Progress        *progress.CourseProgress
	CompletedTopics int
	TotalTopics     int
	Changed         bool
	CourseCompleted bool
}

// ReevaluateTopicCommand re-checks topic completion for one student.
type ReevaluateTopicCommand struct {
	StudentID string
	TopicID   string
}

// Validate validates the command.
func (c ReevaluateTopicCommand) Validate() error {
	if err := shared.RequireID("student_id", c.StudentID); err != nil {
		return err
	}
	return shared.RequireID("topic_id", c.TopicID)
}

// ReevaluateTopicResult contains the topic state after the call.
type ReevaluateTopicResult struct {
	Progress       *progress.TopicProgress
	Complete       bool
	NewlyCompleted bool
}

// RecomputeHandler handles both recompute commands.
type RecomputeHandler struct {
	store     progress.Store
	services  *Services
	publisher publisher
}

// NewRecomputeHandler creates a new RecomputeHandler.
func NewRecomputeHandler(store progress.Store, services *Services, bus shared.EventPublisher, log *logger.Logger) *RecomputeHandler {
	return &RecomputeHandler{
		store:     store,
		services:  services,
		publisher: newPublisher(services, bus, log, "command.recompute"),
	}
}

// RecomputeCourse executes RecomputeCourseCommand.
func (h *RecomputeHandler) RecomputeCourse(ctx context.Context, cmd RecomputeCourseCommand) (*RecomputeCourseResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("recompute_course: %w", err)
	}
	if _, err := h.store.GetStudent(ctx, cmd.StudentID); err != nil {
		return nil, fmt.Errorf("recompute_course: %w", err)
	}

	var (
		out    *progress.CourseOutcome
		events []shared.Event
	)
	err := h.store.WithinTx(ctx, func(ctx context.Context, tx progress.Tx) error {
		o, err := h.services.Courses.Recompute(ctx, tx, cmd.StudentID, cmd.CourseID, "")
		if err != nil {
			return err
		}
		evs, err := courseEvents(ctx, tx, o)
		if err != nil {
			return err
		}
		out, events = o, evs
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("recompute_course: %w", err)
	}

	h.publisher.committed(ctx, cmd.StudentID, cmd.CourseID, events)
	return &RecomputeCourseResult{
		Progress:        out.Progress,
		CompletedTopics: out.CompletedTopics,
		TotalTopics:     out.TotalTopics,
		Changed:         out.Changed(),
		CourseCompleted: out.CourseCompleted,
	}, nil
}

// ReevaluateTopic executes ReevaluateTopicCommand.
func (h *RecomputeHandler) ReevaluateTopic(ctx context.Context, cmd ReevaluateTopicCommand) (*ReevaluateTopicResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("reevaluate_topic: %w", err)
	}
	if _, err := h.store.GetStudent(ctx, cmd.StudentID); err != nil {
		return nil, fmt.Errorf("reevaluate_topic: %w", err)
	}

	var (
		out    *progress.TopicOutcome
		events []shared.Event
	)
	err := h.store.WithinTx(ctx, func(ctx context.Context, tx progress.Tx) error {
		o, err := h.services.Topics.Reevaluate(ctx, tx, cmd.StudentID, cmd.TopicID)
		if err != nil {
			return err
		}
		evs, err := topicEvents(ctx, tx, cmd.StudentID, o)
		if err != nil {
			return err
		}
		out, events = o, evs
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("reevaluate_topic: %w", err)
	}

	h.publisher.committed(ctx, cmd.StudentID, out.Topic.CourseID, events)
	return &ReevaluateTopicResult{
		Progress:       out.Progress,
		Complete:       out.Complete,
		NewlyCompleted: out.NewlyCompleted,
	}, nil
}
