// Package command contains write operations (CQRS - Commands).
package command

import (
	"context"
	"fmt"
	"time"

	"github.com/learnsphere/learnsphere-core/internal/domain/progress"
	"github.com/learnsphere/learnsphere-core/internal/domain/shared"
	"github.com/learnsphere/learnsphere-core/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// SHARED WIRING
// Every handler runs domain services inside Store.WithinTx. After the commit it
// retires the cached reads of the pair, then publishes the resulting events.
// ══════════════════════════════════════════════════════════════════════════════

// Services bundles the progress domain services used by the handlers.
type Services struct {
	Tracker    *progress.Tracker
	Topics     *progress.TopicAggregator
	Courses    *progress.CourseAggregator
	Ledger     *progress.Ledger
	Timekeeper *progress.Timekeeper
	Clock      shared.Clock

	// Cache, when set, is invalidated synchronously after every commit.
	Cache CacheInvalidator
}

// CacheInvalidator drops cached reads of one (student, course) pair.
// Implemented by the redis ProgressCache.
type CacheInvalidator interface {
	Invalidate(ctx context.Context, studentID, courseID string) error
}

const invalidateTimeout = 2 * time.Second

// NewServices wires the cascade material -> topic -> course.
func NewServices(policy progress.EmptyTopicPolicy, clock shared.Clock) *Services {
	if clock == nil {
		clock = shared.SystemClock
	}
	courses := progress.NewCourseAggregator(clock)
	topics := progress.NewTopicAggregator(courses, policy, clock)
	return &Services{
		Tracker:    progress.NewTracker(topics, clock),
		Topics:     topics,
		Courses:    courses,
		Ledger:     progress.NewLedger(clock),
		Timekeeper: progress.NewTimekeeper(clock),
		Clock:      clock,
	}
}

// publisher runs the post-commit steps. Failures are logged and never
// surface to the caller: the write already happened.
type publisher struct {
	services *Services
	bus      shared.EventPublisher
	logger   *logger.Logger
}

func newPublisher(services *Services, bus shared.EventPublisher, log *logger.Logger, component string) publisher {
	if log == nil {
		log = logger.Nop()
	}
	return publisher{services: services, bus: bus, logger: log.With(logger.Component(component))}
}

// committed invalidates the pair before the handler returns, so the next read
// sees the write, then publishes events.
func (p publisher) committed(ctx context.Context, studentID, courseID string, events []shared.Event) {
	p.invalidate(ctx, studentID, courseID)
	p.publish(events)
}

func (p publisher) invalidate(ctx context.Context, studentID, courseID string) {
	if p.services == nil || p.services.Cache == nil || studentID == "" || courseID == "" {
		return
	}
	// The commit stands even if the caller went away.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), invalidateTimeout)
	defer cancel()
	if err := p.services.Cache.Invalidate(ctx, studentID, courseID); err != nil {
		p.logger.Warn("failed to invalidate cached progress",
			logger.StudentID(studentID),
			logger.CourseID(courseID),
			logger.Err(err),
		)
	}
}

func (p publisher) publish(events []shared.Event) {
	if p.bus == nil {
		return
	}
	for _, event := range events {
		if err := p.bus.Publish(event); err != nil {
			p.logger.Warn("failed to publish event",
				logger.String("event_type", string(event.EventType())),
				logger.String("aggregate_id", event.AggregateID()),
				logger.Err(err),
			)
		}
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// EVENT ASSEMBLY
// Runs inside the transaction so recipient data is read from the same snapshot.
// ══════════════════════════════════════════════════════════════════════════════

func materialEvents(ctx context.Context, tx progress.Tx, studentID string, out *progress.MaterialOutcome) ([]shared.Event, error) {
	if !out.NewlyCompleted {
		return nil, nil
	}
	completedAt := out.Progress.CompletedAt
	events := []shared.Event{
		shared.NewMaterialCompletedEvent(studentID, out.Material.ID, out.Material.TopicID, out.CourseID, *completedAt),
	}
	more, err := topicEvents(ctx, tx, studentID, out.Topic)
	if err != nil {
		return nil, err
	}
	return append(events, more...), nil
}

func topicEvents(ctx context.Context, tx progress.Tx, studentID string, out *progress.TopicOutcome) ([]shared.Event, error) {
	if out == nil || !out.NewlyCompleted {
		return nil, nil
	}
	events := []shared.Event{shared.NewTopicCompletedEvent(studentID, out.Topic.ID, out.Topic.CourseID)}
	more, err := courseEvents(ctx, tx, out.Course)
	if err != nil {
		return nil, err
	}
	return append(events, more...), nil
}

func courseEvents(ctx context.Context, tx progress.Tx, out *progress.CourseOutcome) ([]shared.Event, error) {
	if out == nil {
		return nil, nil
	}
	var events []shared.Event
	cp := out.Progress
	if out.Changed() {
		events = append(events, shared.NewCourseProgressUpdatedEvent(cp.StudentID, cp.CourseID, out.PreviousPercent, cp.ProgressPercent))
	}
	if !out.CourseCompleted {
		return events, nil
	}

	student, err := tx.GetStudent(ctx, cp.StudentID)
	if err != nil {
		return nil, fmt.Errorf("load completion recipient: %w", err)
	}
	course, err := tx.GetCourse(ctx, cp.CourseID)
	if err != nil {
		return nil, fmt.Errorf("load completed course: %w", err)
	}
	completedAt := cp.LastUpdated
	if out.Enrollment != nil && out.Enrollment.CompletedAt != nil {
		completedAt = *out.Enrollment.CompletedAt
	}
	events = append(events, shared.NewCourseCompletedEvent(cp.StudentID, cp.CourseID, completedAt).
		WithRecipient(student.Email, student.Name, course.Title))
	return events, nil
}
