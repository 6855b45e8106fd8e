// Package eventhandler contains the reactions to committed domain events.
package eventhandler

import (
	"context"
	"fmt"
	"time"

	"github.com/learnsphere/learnsphere-core/config"
	"github.com/learnsphere/learnsphere-core/internal/domain/shared"
	"github.com/learnsphere/learnsphere-core/internal/infrastructure/notify"
	"github.com/learnsphere/learnsphere-core/pkg/logger"
)

// ═══════════════════════════════════════════════════════════════════════════
// NOTIFICATION HANDLERS
// Enrollment confirmation and course completion emails. Both run after commit;
// a failed send is logged by the bus and never touches stored progress.
// ═══════════════════════════════════════════════════════════════════════════

// FeatureGate decides per student whether a side effect runs.
type FeatureGate interface {
	IsEnabled(featureName, studentID string) bool
}

// NotificationConfig holds the handler settings.
type NotificationConfig struct {
	// SendTimeout bounds one send including retries.
	SendTimeout time.Duration
}

// DefaultNotificationConfig returns the default configuration.
func DefaultNotificationConfig() NotificationConfig {
	return NotificationConfig{SendTimeout: 30 * time.Second}
}

// NotificationHandler turns enrollment and completion events into emails.
type NotificationHandler struct {
	notifier notify.Notifier
	features FeatureGate
	logger   *logger.Logger
	config   NotificationConfig
}

// NewNotificationHandler creates a NotificationHandler. features may be nil.
func NewNotificationHandler(notifier notify.Notifier, features FeatureGate, log *logger.Logger, cfg NotificationConfig) *NotificationHandler {
	if log == nil {
		log = logger.Nop()
	}
	if cfg.SendTimeout <= 0 {
		cfg = DefaultNotificationConfig()
	}
	return &NotificationHandler{
		notifier: notifier,
		features: features,
		logger:   log.With(logger.Component("eventhandler.notifications")),
		config:   cfg,
	}
}

// Register subscribes the handler to its events.
func (h *NotificationHandler) Register(bus shared.EventSubscriber) error {
	if err := bus.Subscribe(shared.EventStudentEnrolled, h.OnStudentEnrolled); err != nil {
		return err
	}
	return bus.Subscribe(shared.EventCourseCompleted, h.OnCourseCompleted)
}

func (h *NotificationHandler) enabled(feature, studentID string) bool {
	return h.features == nil || h.features.IsEnabled(feature, studentID)
}

// OnStudentEnrolled sends the enrollment confirmation.
func (h *NotificationHandler) OnStudentEnrolled(event shared.Event) error {
	e, ok := event.(shared.StudentEnrolledEvent)
	if !ok {
		h.logger.Warn("unexpected event", logger.String("event_type", string(event.EventType())))
		return nil
	}
	if !h.enabled(config.FeatureNotifyEnrollment, e.StudentID) || e.StudentEmail == "" {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.config.SendTimeout)
	defer cancel()

	err := h.notifier.SendEnrollmentEmail(ctx, notify.EnrollmentEmail{
		To:          e.StudentEmail,
		StudentName: e.StudentName,
		CourseTitle: e.CourseTitle,
		Bulk:        e.Bulk,
	})
	if err != nil {
		return fmt.Errorf("enrollment email to %s: %w", e.StudentEmail, err)
	}
	h.logger.Info("enrollment email sent",
		logger.StudentID(e.StudentID),
		logger.CourseID(e.CourseID),
		logger.Bool("bulk", e.Bulk),
	)
	return nil
}

// OnCourseCompleted sends the congratulation email.
func (h *NotificationHandler) OnCourseCompleted(event shared.Event) error {
	e, ok := event.(shared.CourseCompletedEvent)
	if !ok {
		h.logger.Warn("unexpected event", logger.String("event_type", string(event.EventType())))
		return nil
	}
	if !h.enabled(config.FeatureNotifyCourseCompleted, e.StudentID) || e.StudentEmail == "" {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.config.SendTimeout)
	defer cancel()

	err := h.notifier.SendCourseCompletedEmail(ctx, notify.CourseCompletedEmail{
		To:          e.StudentEmail,
		StudentName: e.StudentName,
		CourseTitle: e.CourseTitle,
	})
	if err != nil {
		return fmt.Errorf("completion email to %s: %w", e.StudentEmail, err)
	}
	h.logger.Info("course completion email sent",
		logger.StudentID(e.StudentID),
		logger.CourseID(e.CourseID),
	)
	return nil
}
