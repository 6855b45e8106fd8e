package command

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/learnsphere/learnsphere-core/internal/domain/progress"
	"github.com/learnsphere/learnsphere-core/internal/domain/shared"
	"github.com/learnsphere/learnsphere-core/internal/infrastructure/notify"
	"github.com/learnsphere/learnsphere-core/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONTACT ATTENDEES COMMAND
// Emails one message to every student enrolled in a course. Sends are
// independent: one failed recipient never stops the others.
// ══════════════════════════════════════════════════════════════════════════════

// NoAttendeesMessage is reported when the course has no enrollments.
const NoAttendeesMessage = "No students enrolled in this course"

// ContactAttendeesCommand sends Subject and Message to all attendees of CourseID.
type ContactAttendeesCommand struct {
	CourseID string
	Subject  string
	Message  string
}

// Validate validates the command.
func (c ContactAttendeesCommand) Validate() error {
	if err := shared.RequireID("course_id", c.CourseID); err != nil {
		return err
	}
	if strings.TrimSpace(c.Subject) == "" {
		return shared.ErrSubjectRequired
	}
	if strings.TrimSpace(c.Message) == "" {
		return shared.ErrMessageRequired
	}
	return nil
}

// ContactAttendeesResult reports every recipient. Sent lists emails in
// enrollment order; Failed holds "<email> (<reason>)".
type ContactAttendeesResult struct {
	CourseID      string   `json:"course_id"`
	TotalStudents int      `json:"total_students"`
	SentCount     int      `json:"sent_count"`
	Sent          []string `json:"sent"`
	Failed        []string `json:"failed"`
	Message       string   `json:"message"`
}

// ContactAttendeesHandler handles ContactAttendeesCommand.
type ContactAttendeesHandler struct {
	store       progress.Reader
	notifier    notify.Notifier
	logger      *logger.Logger
	concurrency int
}

// NewContactAttendeesHandler creates a new ContactAttendeesHandler. A
// non-positive concurrency sends with the bulk enroll default.
func NewContactAttendeesHandler(store progress.Reader, notifier notify.Notifier, log *logger.Logger, concurrency int) *ContactAttendeesHandler {
	if log == nil {
		log = logger.Nop()
	}
	if concurrency <= 0 {
		concurrency = DefaultBulkEnrollConfig().Concurrency
	}
	return &ContactAttendeesHandler{
		store:       store,
		notifier:    notifier,
		logger:      log.With(logger.Component("command.contact_attendees")),
		concurrency: concurrency,
	}
}

type attendeeOutcome struct {
	email  string
	reason string
}

// Handle executes the command. An unknown course is an error; an empty course
// is not, it returns NoAttendeesMessage.
func (h *ContactAttendeesHandler) Handle(ctx context.Context, cmd ContactAttendeesCommand) (*ContactAttendeesResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("contact_attendees: %w", err)
	}

	course, err := h.store.GetCourse(ctx, cmd.CourseID)
	if err != nil {
		return nil, fmt.Errorf("contact_attendees: %w", err)
	}
	enrollments, err := h.store.ListCourseEnrollments(ctx, course.ID)
	if err != nil {
		return nil, fmt.Errorf("contact_attendees: list enrollments: %w", err)
	}

	result := &ContactAttendeesResult{
		CourseID:      course.ID,
		TotalStudents: len(enrollments),
		Sent:          []string{},
		Failed:        []string{},
	}
	if len(enrollments) == 0 {
		result.Message = NoAttendeesMessage
		return result, nil
	}

	start := time.Now()
	log := h.logger.With(logger.CourseID(course.ID))
	outcomes := make([]attendeeOutcome, len(enrollments))

	var g errgroup.Group
	g.SetLimit(h.concurrency)
	for i, e := range enrollments {
		g.Go(func() error {
			outcomes[i] = h.contactOne(ctx, log, course, e.StudentID, cmd)
			return nil
		})
	}
	_ = g.Wait()

	for _, o := range outcomes {
		if o.reason == "" {
			result.SentCount++
			result.Sent = append(result.Sent, o.email)
			continue
		}
		result.Failed = append(result.Failed, fmt.Sprintf("%s (%s)", o.email, o.reason))
	}
	result.Message = fmt.Sprintf("Email sent to %d out of %d students", result.SentCount, result.TotalStudents)

	log.Info("course attendees contacted",
		logger.Int("students", result.TotalStudents),
		logger.Int("sent", result.SentCount),
		logger.Int("failed", len(result.Failed)),
		logger.Latency(time.Since(start)),
	)
	return result, nil
}

func (h *ContactAttendeesHandler) contactOne(ctx context.Context, log *logger.Logger, course *progress.Course, studentID string, cmd ContactAttendeesCommand) attendeeOutcome {
	student, err := h.store.GetStudent(ctx, studentID)
	if err != nil {
		if errors.Is(err, shared.ErrStudentNotFound) {
			return attendeeOutcome{email: studentID, reason: ReasonUserNotFound}
		}
		log.Error("attendee lookup failed", logger.StudentID(studentID), logger.Err(err))
		return attendeeOutcome{email: studentID, reason: ReasonInternal}
	}

	err = h.notifier.SendCourseMessage(ctx, notify.CourseMessage{
		To:          student.Email,
		StudentName: student.Name,
		CourseTitle: course.Title,
		Subject:     strings.TrimSpace(cmd.Subject),
		Body:        cmd.Message,
	})
	if err != nil {
		log.Warn("attendee email failed", logger.Email(student.Email), logger.Err(err))
		return attendeeOutcome{email: student.Email, reason: err.Error()}
	}
	return attendeeOutcome{email: student.Email}
}
