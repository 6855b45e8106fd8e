package command

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/learnsphere/learnsphere-core/internal/domain/progress"
	"github.com/learnsphere/learnsphere-core/internal/domain/shared"
	"github.com/learnsphere/learnsphere-core/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// BULK ENROLL COMMAND
// Enrolls a list of students, identified by email, in one course. Every item
// runs in its own transaction; one failing item never affects the others.
// ══════════════════════════════════════════════════════════════════════════════

// Failure reasons reported per item.
const (
	ReasonAlreadyEnrolled = "already enrolled"
	ReasonUserNotFound    = "user not found"
	ReasonInvalidEmail    = "invalid email"
	ReasonInternal        = "internal error"
)

// BulkEnrollCommand enrolls every email in CourseID.
type BulkEnrollCommand struct {
	CourseID string
	Emails   []string
}

// Validate validates the command.
func (c BulkEnrollCommand) Validate() error {
	return shared.RequireID("course_id", c.CourseID)
}

// BulkItem is the outcome of one email, in input order.
type BulkItem struct {
	Email     string `json:"email"`
	StudentID string `json:"student_id,omitempty"`
	Enrolled  bool   `json:"enrolled"`
	Reason    string `json:"reason,omitempty"`
}

// BulkEnrollResult summarizes a bulk call. Succeeded lists the enrolled emails
// in input order; Failed holds "<email> (<reason>)".
type BulkEnrollResult struct {
	BatchID        string     `json:"batch_id"`
	CourseID       string     `json:"course_id"`
	Processed      int        `json:"processed"`
	SucceededCount int        `json:"succeeded_count"`
	Succeeded      []string   `json:"succeeded"`
	Failed         []string   `json:"failed"`
	Details        []BulkItem `json:"details"`
}

// BulkEnrollConfig bounds a bulk call.
type BulkEnrollConfig struct {
	MaxItems    int
	Concurrency int
}

// DefaultBulkEnrollConfig returns default configuration.
func DefaultBulkEnrollConfig() BulkEnrollConfig {
	return BulkEnrollConfig{
		MaxItems:    500,
		Concurrency: 4,
	}
}

// BulkEnrollHandler handles BulkEnrollCommand.
type BulkEnrollHandler struct {
	store     progress.Store
	services  *Services
	publisher publisher
	logger    *logger.Logger
	config    BulkEnrollConfig
}

// NewBulkEnrollHandler creates a new BulkEnrollHandler.
func NewBulkEnrollHandler(store progress.Store, services *Services, bus shared.EventPublisher, log *logger.Logger, config BulkEnrollConfig) *BulkEnrollHandler {
	defaults := DefaultBulkEnrollConfig()
	if config.MaxItems <= 0 {
		config.MaxItems = defaults.MaxItems
	}
	if config.Concurrency <= 0 {
		config.Concurrency = defaults.Concurrency
	}
	p := newPublisher(services, bus, log, "command.bulk_enroll")
	return &BulkEnrollHandler{
		store:     store,
		services:  services,
		publisher: p,
		logger:    p.logger,
		config:    config,
	}
}

// Handle executes the command. An unknown course aborts the call before any
// item is processed; every other failure is reported per item.
func (h *BulkEnrollHandler) Handle(ctx context.Context, cmd BulkEnrollCommand) (*BulkEnrollResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("bulk_enroll: %w", err)
	}
	if len(cmd.Emails) > h.config.MaxItems {
		return nil, fmt.Errorf("bulk_enroll: %d > %d: %w", len(cmd.Emails), h.config.MaxItems, shared.ErrBulkTooLarge)
	}

	course, err := h.store.GetCourse(ctx, cmd.CourseID)
	if err != nil {
		return nil, fmt.Errorf("bulk_enroll: %w", err)
	}

	start := time.Now()
	result := &BulkEnrollResult{
		BatchID:   uuid.NewString(),
		CourseID:  course.ID,
		Succeeded: []string{},
		Failed:    []string{},
		Details:   make([]BulkItem, len(cmd.Emails)),
	}
	log := h.logger.With(logger.String("batch_id", result.BatchID), logger.CourseID(course.ID))

	var g errgroup.Group
	g.SetLimit(h.config.Concurrency)
	for i, raw := range cmd.Emails {
		g.Go(func() error {
			result.Details[i] = h.enrollOne(ctx, log, course, raw)
			return nil
		})
	}
	_ = g.Wait()

	for _, item := range result.Details {
		result.Processed++
		if item.Enrolled {
			result.SucceededCount++
			result.Succeeded = append(result.Succeeded, item.Email)
			continue
		}
		result.Failed = append(result.Failed, fmt.Sprintf("%s (%s)", item.Email, item.Reason))
	}

	log.Info("bulk enrollment finished",
		logger.Int("processed", result.Processed),
		logger.Int("succeeded", result.SucceededCount),
		logger.Int("failed", len(result.Failed)),
		logger.Latency(time.Since(start)),
	)
	return result, nil
}

func (h *BulkEnrollHandler) enrollOne(ctx context.Context, log *logger.Logger, course *progress.Course, raw string) BulkItem {
	item := BulkItem{Email: raw}

	email, err := shared.NewEmail(raw)
	if err != nil {
		item.Reason = ReasonInvalidEmail
		return item
	}
	item.Email = email.String()

	student, err := h.store.FindStudentByEmail(ctx, email.String())
	if err != nil {
		item.Reason = h.reason(log, item.Email, err)
		return item
	}
	item.StudentID = student.ID

	out, err := enroll(ctx, h.store, h.services.Ledger, student.ID, course.ID)
	if err != nil {
		item.Reason = h.reason(log, item.Email, err)
		return item
	}
	item.Enrolled = true

	h.publisher.committed(ctx, student.ID, course.ID, []shared.Event{
		shared.NewStudentEnrolledEvent(student.ID, course.ID, out.Student.Email, out.Student.Name, out.Course.Title).AsBulk(),
	})
	return item
}

func (h *BulkEnrollHandler) reason(log *logger.Logger, email string, err error) string {
	switch {
	case errors.Is(err, shared.ErrAlreadyEnrolled):
		return ReasonAlreadyEnrolled
	case errors.Is(err, shared.ErrStudentNotFound):
		return ReasonUserNotFound
	default:
		log.Error("bulk enrollment item failed", logger.Email(email), logger.Err(err))
		return ReasonInternal
	}
}
