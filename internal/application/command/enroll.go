package command

import (
	"context"
	"fmt"

	"github.com/learnsphere/learnsphere-core/internal/domain/progress"
	"github.com/learnsphere/learnsphere-core/internal/domain/shared"
	"github.com/learnsphere/learnsphere-core/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// ENROLL / UNENROLL COMMANDS
// ══════════════════════════════════════════════════════════════════════════════

// EnrollCommand enrolls one student in one course.
type EnrollCommand struct {
	StudentID string
	CourseID  string
}

// Validate validates the command.
func (c EnrollCommand) Validate() error {
	if err := shared.RequireID("student_id", c.StudentID); err != nil {
		return err
	}
	return shared.RequireID("course_id", c.CourseID)
}

// EnrollResult contains the created enrollment.
type EnrollResult struct {
	Enrollment *progress.Enrollment

	// Resumed is true when earlier course progress was kept from a previous enrollment.
	Resumed bool

	Events []shared.Event
}

// EnrollHandler handles EnrollCommand.
type EnrollHandler struct {
	store     progress.Store
	services  *Services
	publisher publisher
}

// NewEnrollHandler creates a new EnrollHandler.
func NewEnrollHandler(store progress.Store, services *Services, bus shared.EventPublisher, log *logger.Logger) *EnrollHandler {
	return &EnrollHandler{
		store:     store,
		services:  services,
		publisher: newPublisher(services, bus, log, "command.enroll"),
	}
}

// Handle executes the command. Returns shared.ErrAlreadyEnrolled on a duplicate
// and a not-found error when the student or course is unknown.
func (h *EnrollHandler) Handle(ctx context.Context, cmd EnrollCommand) (*EnrollResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("enroll: %w", err)
	}

	out, err := enroll(ctx, h.store, h.services.Ledger, cmd.StudentID, cmd.CourseID)
	if err != nil {
		return nil, fmt.Errorf("enroll: %w", err)
	}

	event := shared.NewStudentEnrolledEvent(out.Student.ID, out.Course.ID, out.Student.Email, out.Student.Name, out.Course.Title)
	events := []shared.Event{event}
	h.publisher.committed(ctx, cmd.StudentID, cmd.CourseID, events)

	return &EnrollResult{
		Enrollment: out.Enrollment,
		Resumed:    !out.CourseProgressCreated,
		Events:     events,
	}, nil
}

func enroll(ctx context.Context, store progress.Store, ledger *progress.Ledger, studentID, courseID string) (*progress.EnrollOutcome, error) {
	var out *progress.EnrollOutcome
	err := store.WithinTx(ctx, func(ctx context.Context, tx progress.Tx) error {
		o, err := ledger.Enroll(ctx, tx, studentID, courseID)
		if err != nil {
			return err
		}
		out = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// UnenrollCommand removes one enrollment. Topic and material progress stay.
type UnenrollCommand struct {
	StudentID string
	CourseID  string
}

// Validate validates the command.
func (c UnenrollCommand) Validate() error {
	if err := shared.RequireID("student_id", c.StudentID); err != nil {
		return err
	}
	return shared.RequireID("course_id", c.CourseID)
}

// UnenrollHandler handles UnenrollCommand.
type UnenrollHandler struct {
	store     progress.Store
	services  *Services
	publisher publisher
}

// NewUnenrollHandler creates a new UnenrollHandler.
func NewUnenrollHandler(store progress.Store, services *Services, bus shared.EventPublisher, log *logger.Logger) *UnenrollHandler {
	return &UnenrollHandler{
		store:     store,
		services:  services,
		publisher: newPublisher(services, bus, log, "command.unenroll"),
	}
}

// Handle executes the command. Returns shared.ErrEnrollmentNotFound when the
// pair is not enrolled.
func (h *UnenrollHandler) Handle(ctx context.Context, cmd UnenrollCommand) error {
	if err := cmd.Validate(); err != nil {
		return fmt.Errorf("unenroll: %w", err)
	}

	err := h.store.WithinTx(ctx, func(ctx context.Context, tx progress.Tx) error {
		return h.services.Ledger.Unenroll(ctx, tx, cmd.StudentID, cmd.CourseID)
	})
	if err != nil {
		return fmt.Errorf("unenroll: %w", err)
	}

	h.publisher.committed(ctx, cmd.StudentID, cmd.CourseID, []shared.Event{shared.NewStudentUnenrolledEvent(cmd.StudentID, cmd.CourseID)})
	return nil
}
