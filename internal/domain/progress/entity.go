package progress

import (
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// CATALOG ENTITIES
// Owned by course authoring. Only the counters matter here.
// ══════════════════════════════════════════════════════════════════════════════

// Student is a learner account.
type Student struct {
	ID    string
	Email string
	Name  string

	// CoursesEnrolled equals the number of live enrollments of the student.
	CoursesEnrolled int

	CreatedAt time.Time
}

// Course is a unit of instruction made of ordered topics.
type Course struct {
	ID    string
	Title string

	// TotalEnrollments equals the number of live enrollments in the course.
	TotalEnrollments int

	CreatedAt time.Time
}

// Topic belongs to exactly one course.
type Topic struct {
	ID       string
	CourseID string
	Title    string
	Position int

	// MaterialsCount equals the number of live materials under the topic.
	MaterialsCount int
}

// Material belongs to exactly one topic.
type Material struct {
	ID      string
	TopicID string
	Title   string
}

// ══════════════════════════════════════════════════════════════════════════════
// ENROLLMENT
// ══════════════════════════════════════════════════════════════════════════════

// Enrollment relates one student to one course. Unique per pair.
type Enrollment struct {
	ID        string
	StudentID string
	CourseID  string

	CompletionPercentage int
	Completed            bool

	EnrolledAt     time.Time
	LastAccessedAt time.Time
	CompletedAt    *time.Time
}

// NewEnrollment creates an enrollment starting at the given percent.
func NewEnrollment(studentID, courseID string, percent int, now time.Time) *Enrollment {
	e := &Enrollment{
		StudentID:      studentID,
		CourseID:       courseID,
		EnrolledAt:     now,
		LastAccessedAt: now,
	}
	e.ApplyPercent(percent, now)
	return e
}

// ApplyPercent mirrors the course percent onto the enrollment.
// Returns true when the enrollment became completed by this call.
// CompletedAt is written only once.
func (e *Enrollment) ApplyPercent(percent int, now time.Time) bool {
	e.CompletionPercentage = percent
	e.LastAccessedAt = now
	if percent < 100 || e.Completed {
		return false
	}
	e.Completed = true
	if e.CompletedAt == nil {
		t := now
		e.CompletedAt = &t
	}
	return true
}

// Touch records an access without changing progress.
func (e *Enrollment) Touch(now time.Time) {
	e.LastAccessedAt = now
}

// ══════════════════════════════════════════════════════════════════════════════
// PROGRESS ROWS
// ══════════════════════════════════════════════════════════════════════════════

// MaterialProgress records a student's completion of one material.
// A missing row means "not started" and is treated as incomplete.
type MaterialProgress struct {
	ID          string
	StudentID   string
	MaterialID  string
	Completed   bool
	CompletedAt *time.Time
}

// MarkCompleted marks the row completed. Returns false when it already was,
// in which case CompletedAt is left untouched.
func (m *MaterialProgress) MarkCompleted(now time.Time) bool {
	if m.Completed {
		return false
	}
	m.Completed = true
	if m.CompletedAt == nil {
		t := now
		m.CompletedAt = &t
	}
	return true
}

// TopicProgress records a student's state on one topic.
type TopicProgress struct {
	ID               string
	StudentID        string
	TopicID          string
	Completed        bool
	CompletedAt      *time.Time
	TimeSpentSeconds int64
	LastUpdated      time.Time
}

// MarkCompleted sets the topic completed. An existing CompletedAt is kept,
// so running this twice yields the same row.
func (t *TopicProgress) MarkCompleted(now time.Time) bool {
	wasCompleted := t.Completed
	t.Completed = true
	if t.CompletedAt == nil {
		ts := now
		t.CompletedAt = &ts
	}
	t.LastUpdated = now
	return !wasCompleted
}

// AddTime accumulates time spent on the topic.
func (t *TopicProgress) AddTime(seconds int64, now time.Time) {
	t.TimeSpentSeconds += seconds
	t.LastUpdated = now
}

// CourseProgress is the per-(student, course) rollup. Kept consistent with the
// enrollment's CompletionPercentage by the CourseAggregator.
type CourseProgress struct {
	ID               string
	StudentID        string
	CourseID         string
	ProgressPercent  int
	LastUpdated      time.Time
	LastTopicID      string
	SkillScore       int
	TotalTimeMinutes int64
}

// ApplyPercent writes a recomputed percent as is, so the row always matches the
// current topic set. Returns the stored percent.
func (c *CourseProgress) ApplyPercent(percent int, now time.Time) int {
	c.ProgressPercent = percent
	c.LastUpdated = now
	return c.ProgressPercent
}

// ══════════════════════════════════════════════════════════════════════════════
// READ MODELS
// ══════════════════════════════════════════════════════════════════════════════

// EnrollmentView is an enrollment joined with its course for listings.
type EnrollmentView struct {
	Enrollment
	CourseTitle string
}
