package command

import (
	"context"
	"fmt"

	"github.com/learnsphere/learnsphere-core/internal/domain/progress"
	"github.com/learnsphere/learnsphere-core/internal/domain/shared"
	"github.com/learnsphere/learnsphere-core/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// MARK MATERIAL COMPLETED COMMAND
// The entry point of the progress cascade: material -> topic -> course.
// ══════════════════════════════════════════════════════════════════════════════

// MarkMaterialCompletedCommand marks one material completed for a student.
type MarkMaterialCompletedCommand struct {
	StudentID  string
	MaterialID string
}

// Validate validates the command.
func (c MarkMaterialCompletedCommand) Validate() error {
	if err := shared.RequireID("student_id", c.StudentID); err != nil {
		return err
	}
	return shared.RequireID("material_id", c.MaterialID)
}

// MarkMaterialCompletedResult reports the row and how far the cascade went.
type MarkMaterialCompletedResult struct {
	Progress *progress.MaterialProgress
	TopicID  string
	CourseID string

	// AlreadyCompleted is true on replays, which change nothing.
	AlreadyCompleted bool

	TopicCompleted  bool
	CoursePercent   int
	CourseCompleted bool

	// Events contains the events published after commit.
	Events []shared.Event
}

// MarkMaterialCompletedHandler handles MarkMaterialCompletedCommand.
type MarkMaterialCompletedHandler struct {
	store     progress.Store
	services  *Services
	publisher publisher
}

// NewMarkMaterialCompletedHandler creates a new MarkMaterialCompletedHandler.
func NewMarkMaterialCompletedHandler(store progress.Store, services *Services, bus shared.EventPublisher, log *logger.Logger) *MarkMaterialCompletedHandler {
	return &MarkMaterialCompletedHandler{
		store:     store,
		services:  services,
		publisher: newPublisher(services, bus, log, "command.mark_material_completed"),
	}
}

// Handle executes the command.
func (h *MarkMaterialCompletedHandler) Handle(ctx context.Context, cmd MarkMaterialCompletedCommand) (*MarkMaterialCompletedResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("mark_material_completed: %w", err)
	}

	var (
		out    *progress.MaterialOutcome
		events []shared.Event
	)
	err := h.store.WithinTx(ctx, func(ctx context.Context, tx progress.Tx) error {
		o, err := h.services.Tracker.MarkMaterialCompleted(ctx, tx, cmd.StudentID, cmd.MaterialID)
		if err != nil {
			return err
		}
		evs, err := materialEvents(ctx, tx, cmd.StudentID, o)
		if err != nil {
			return err
		}
		out, events = o, evs
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("mark_material_completed: %w", err)
	}

	h.publisher.committed(ctx, cmd.StudentID, out.CourseID, events)

	result := &MarkMaterialCompletedResult{
		Progress:         out.Progress,
		TopicID:          out.Material.TopicID,
		CourseID:         out.CourseID,
		AlreadyCompleted: !out.NewlyCompleted,
		Events:           events,
	}
	if out.Topic != nil {
		result.TopicCompleted = out.Topic.Complete
		if c := out.Topic.Course; c != nil {
			result.CoursePercent = c.Progress.ProgressPercent
			result.CourseCompleted = c.Enrollment != nil && c.Enrollment.Completed
		}
	}
	return result, nil
}
