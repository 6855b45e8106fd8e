// Package shared contains common domain types, errors, events, and value objects
// that are used across all domain packages.
package shared

import (
	"encoding/json"
	"time"
)

// EventType represents the type of domain event.
type EventType string

// Domain event types. Each event is published after the transaction that
// produced it has committed.
const (
	// Enrollment events
	EventStudentEnrolled   EventType = "enrollment.student_enrolled"
	EventStudentUnenrolled EventType = "enrollment.student_unenrolled"

	// Progress events
	EventMaterialCompleted     EventType = "progress.material_completed"
	EventTopicCompleted        EventType = "progress.topic_completed"
	EventCourseProgressUpdated EventType = "progress.course_updated"
	EventCourseCompleted       EventType = "progress.course_completed"
	EventTopicTimeRecorded     EventType = "progress.topic_time_recorded"
	EventSkillScoreRecorded    EventType = "progress.skill_score_recorded"
)

// Event is the base interface for all domain events.
type Event interface {
	// EventType returns the type of the event.
	EventType() EventType

	// OccurredAt returns when the event occurred.
	OccurredAt() time.Time

	// AggregateID returns the ID of the aggregate that produced this event.
	AggregateID() string

	// Payload returns the event data as a map for serialization.
	Payload() map[string]interface{}
}

// BaseEvent provides common event functionality.
type BaseEvent struct {
	Type          EventType `json:"type"`
	Timestamp     time.Time `json:"timestamp"`
	AggregateId   string    `json:"aggregate_id"`
	Version       int       `json:"version"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// EventType implements Event interface.
func (e BaseEvent) EventType() EventType {
	return e.Type
}

// OccurredAt implements Event interface.
func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// AggregateID implements Event interface.
func (e BaseEvent) AggregateID() string {
	return e.AggregateId
}

// NewBaseEvent creates a new base event.
func NewBaseEvent(eventType EventType, aggregateID string) BaseEvent {
	return BaseEvent{
		Type:        eventType,
		Timestamp:   time.Now().UTC(),
		AggregateId: aggregateID,
		Version:     1,
	}
}

// WithCorrelationID sets the correlation ID for tracing.
func (e BaseEvent) WithCorrelationID(id string) BaseEvent {
	e.CorrelationID = id
	return e
}

// pairID is the aggregate id for per-(student, course) events.
func pairID(studentID, courseID string) string {
	return studentID + ":" + courseID
}

// ═══════════════════════════════════════════════════════════════════════════
// Enrollment Events
// ═══════════════════════════════════════════════════════════════════════════

// StudentEnrolledEvent is emitted after an enrollment commits.
type StudentEnrolledEvent struct {
	BaseEvent
	StudentID    string `json:"student_id"`
	CourseID     string `json:"course_id"`
	StudentEmail string `json:"student_email"`
	StudentName  string `json:"student_name"`
	CourseTitle  string `json:"course_title"`
	Bulk         bool   `json:"bulk"`
}

// Payload implements Event interface.
func (e StudentEnrolledEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"student_id":    e.StudentID,
		"course_id":     e.CourseID,
		"student_email": e.StudentEmail,
		"student_name":  e.StudentName,
		"course_title":  e.CourseTitle,
		"bulk":          e.Bulk,
	}
}

// NewStudentEnrolledEvent creates a new StudentEnrolledEvent.
func NewStudentEnrolledEvent(studentID, courseID, email, name, courseTitle string) StudentEnrolledEvent {
	return StudentEnrolledEvent{
		BaseEvent:    NewBaseEvent(EventStudentEnrolled, pairID(studentID, courseID)),
		StudentID:    studentID,
		CourseID:     courseID,
		StudentEmail: email,
		StudentName:  name,
		CourseTitle:  courseTitle,
	}
}

// AsBulk marks the event as produced by a bulk enrollment.
func (e StudentEnrolledEvent) AsBulk() StudentEnrolledEvent {
	e.Bulk = true
	return e
}

// StudentUnenrolledEvent is emitted after an unenrollment commits.
type StudentUnenrolledEvent struct {
	BaseEvent
	StudentID string `json:"student_id"`
	CourseID  string `json:"course_id"`
}

// Payload implements Event interface.
func (e StudentUnenrolledEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"student_id": e.StudentID,
		"course_id":  e.CourseID,
	}
}

// NewStudentUnenrolledEvent creates a new StudentUnenrolledEvent.
func NewStudentUnenrolledEvent(studentID, courseID string) StudentUnenrolledEvent {
	return StudentUnenrolledEvent{
		BaseEvent: NewBaseEvent(EventStudentUnenrolled, pairID(studentID, courseID)),
		StudentID: studentID,
		CourseID:  courseID,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Progress Events
// ═══════════════════════════════════════════════════════════════════════════

// MaterialCompletedEvent is emitted when a material is completed for the first time.
type MaterialCompletedEvent struct {
	BaseEvent
	StudentID   string    `json:"student_id"`
	MaterialID  string    `json:"material_id"`
	TopicID     string    `json:"topic_id"`
	CourseID    string    `json:"course_id"`
	CompletedAt time.Time `json:"completed_at"`
}

// Payload implements Event interface.
func (e MaterialCompletedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"student_id":   e.StudentID,
		"material_id":  e.MaterialID,
		"topic_id":     e.TopicID,
		"course_id":    e.CourseID,
		"completed_at": e.CompletedAt.Format(time.RFC3339),
	}
}

// NewMaterialCompletedEvent creates a new MaterialCompletedEvent.
func NewMaterialCompletedEvent(studentID, materialID, topicID, courseID string, completedAt time.Time) MaterialCompletedEvent {
	return MaterialCompletedEvent{
		BaseEvent:   NewBaseEvent(EventMaterialCompleted, pairID(studentID, courseID)),
		StudentID:   studentID,
		MaterialID:  materialID,
		TopicID:     topicID,
		CourseID:    courseID,
		CompletedAt: completedAt,
	}
}

// TopicCompletedEvent is emitted when a topic becomes complete for a student.
type TopicCompletedEvent struct {
	BaseEvent
	StudentID string `json:"student_id"`
	TopicID   string `json:"topic_id"`
	CourseID  string `json:"course_id"`
}

// Payload implements Event interface.
func (e TopicCompletedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"student_id": e.StudentID,
		"topic_id":   e.TopicID,
		"course_id":  e.CourseID,
	}
}

// NewTopicCompletedEvent creates a new TopicCompletedEvent.
func NewTopicCompletedEvent(studentID, topicID, courseID string) TopicCompletedEvent {
	return TopicCompletedEvent{
		BaseEvent: NewBaseEvent(EventTopicCompleted, pairID(studentID, courseID)),
		StudentID: studentID,
		TopicID:   topicID,
		CourseID:  courseID,
	}
}

// CourseProgressUpdatedEvent is emitted whenever a course percent is written.
type CourseProgressUpdatedEvent struct {
	BaseEvent
	StudentID  string `json:"student_id"`
	CourseID   string `json:"course_id"`
	OldPercent int    `json:"old_percent"`
	NewPercent int    `json:"new_percent"`
}

// Payload implements Event interface.
func (e CourseProgressUpdatedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"student_id":  e.StudentID,
		"course_id":   e.CourseID,
		"old_percent": e.OldPercent,
		"new_percent": e.NewPercent,
	}
}

// NewCourseProgressUpdatedEvent creates a new CourseProgressUpdatedEvent.
func NewCourseProgressUpdatedEvent(studentID, courseID string, oldPercent, newPercent int) CourseProgressUpdatedEvent {
	return CourseProgressUpdatedEvent{
		BaseEvent:  NewBaseEvent(EventCourseProgressUpdated, pairID(studentID, courseID)),
		StudentID:  studentID,
		CourseID:   courseID,
		OldPercent: oldPercent,
		NewPercent: newPercent,
	}
}

// CourseCompletedEvent is emitted once, when an enrollment reaches 100%.
type CourseCompletedEvent struct {
	BaseEvent
	StudentID    string    `json:"student_id"`
	CourseID     string    `json:"course_id"`
	StudentEmail string    `json:"student_email"`
	StudentName  string    `json:"student_name"`
	CourseTitle  string    `json:"course_title"`
	CompletedAt  time.Time `json:"completed_at"`
}

// Payload implements Event interface.
func (e CourseCompletedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"student_id":    e.StudentID,
		"course_id":     e.CourseID,
		"student_email": e.StudentEmail,
		"student_name":  e.StudentName,
		"course_title":  e.CourseTitle,
		"completed_at":  e.CompletedAt.Format(time.RFC3339),
	}
}

// NewCourseCompletedEvent creates a new CourseCompletedEvent.
func NewCourseCompletedEvent(studentID, courseID string, completedAt time.Time) CourseCompletedEvent {
	return CourseCompletedEvent{
		BaseEvent:   NewBaseEvent(EventCourseCompleted, pairID(studentID, courseID)),
		StudentID:   studentID,
		CourseID:    courseID,
		CompletedAt: completedAt,
	}
}

// WithRecipient attaches the data the completion email needs.
func (e CourseCompletedEvent) WithRecipient(email, name, courseTitle string) CourseCompletedEvent {
	e.StudentEmail = email
	e.StudentName = name
	e.CourseTitle = courseTitle
	return e
}

// TopicTimeRecordedEvent is emitted when time on a topic is accumulated.
type TopicTimeRecordedEvent struct {
	BaseEvent
	StudentID    string `json:"student_id"`
	TopicID      string `json:"topic_id"`
	CourseID     string `json:"course_id"`
	SecondsAdded int64  `json:"seconds_added"`
	TotalSeconds int64  `json:"total_seconds"`
}

// Payload implements Event interface.
func (e TopicTimeRecordedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"student_id":    e.StudentID,
		"topic_id":      e.TopicID,
		"course_id":     e.CourseID,
		"seconds_added": e.SecondsAdded,
		"total_seconds": e.TotalSeconds,
	}
}

// NewTopicTimeRecordedEvent creates a new TopicTimeRecordedEvent.
func NewTopicTimeRecordedEvent(studentID, topicID, courseID string, added, total int64) TopicTimeRecordedEvent {
	return TopicTimeRecordedEvent{
		BaseEvent:    NewBaseEvent(EventTopicTimeRecorded, pairID(studentID, courseID)),
		StudentID:    studentID,
		TopicID:      topicID,
		CourseID:     courseID,
		SecondsAdded: added,
		TotalSeconds: total,
	}
}

// SkillScoreRecordedEvent is emitted when a course skill score is written.
type SkillScoreRecordedEvent struct {
	BaseEvent
	StudentID string `json:"student_id"`
	CourseID  string `json:"course_id"`
	Score     int    `json:"score"`
}

// Payload implements Event interface.
func (e SkillScoreRecordedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"student_id": e.StudentID,
		"course_id":  e.CourseID,
		"score":      e.Score,
	}
}

// NewSkillScoreRecordedEvent creates a new SkillScoreRecordedEvent.
func NewSkillScoreRecordedEvent(studentID, courseID string, score int) SkillScoreRecordedEvent {
	return SkillScoreRecordedEvent{
		BaseEvent: NewBaseEvent(EventSkillScoreRecorded, pairID(studentID, courseID)),
		StudentID: studentID,
		CourseID:  courseID,
		Score:     score,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Event Envelope (for serialization and transport)
// ═══════════════════════════════════════════════════════════════════════════

// EventEnvelope wraps an event for transport/storage.
type EventEnvelope struct {
	Type          EventType       `json:"type"`
	AggregateID   string          `json:"aggregate_id"`
	Timestamp     time.Time       `json:"timestamp"`
	Version       int             `json:"version"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

// NewEventEnvelope serializes an event's payload into an envelope.
func NewEventEnvelope(event Event) (EventEnvelope, error) {
	payload, err := json.Marshal(event.Payload())
	if err != nil {
		return EventEnvelope{}, err
	}
	env := EventEnvelope{
		Type:        event.EventType(),
		AggregateID: event.AggregateID(),
		Timestamp:   event.OccurredAt(),
		Version:     1,
		Payload:     payload,
	}
	if b, ok := event.(interface{ Base() BaseEvent }); ok {
		env.CorrelationID = b.Base().CorrelationID
	}
	return env, nil
}

// Base returns the embedded base event.
func (e BaseEvent) Base() BaseEvent {
	return e
}

// EventHandler is a function that handles an event.
type EventHandler func(event Event) error

// EventPublisher defines the interface for publishing events.
type EventPublisher interface {
	// Publish sends an event to subscribers.
	Publish(event Event) error
}

// EventSubscriber defines the interface for subscribing to events.
type EventSubscriber interface {
	// Subscribe registers a handler for an event type.
	Subscribe(eventType EventType, handler EventHandler) error

	// SubscribeAll registers a handler for all events.
	SubscribeAll(handler EventHandler) error
}

// EventBus combines publishing and subscribing.
type EventBus interface {
	EventPublisher
	EventSubscriber
}
