package progress

import (
	"context"
)

// ══════════════════════════════════════════════════════════════════════════════
// STORE INTERFACES
// Implemented in infrastructure/persistence (postgres, memory).
// ══════════════════════════════════════════════════════════════════════════════

// GetOrCreate is the result of a get-or-create lookup. Created is true when
// the row did not exist before the call.
type GetOrCreate[T any] struct {
	Row     *T
	Created bool
}

// Catalog is the read-only course/topic/material lookup used to resolve cascades.
type Catalog interface {
	// GetStudent returns shared.ErrStudentNotFound when absent.
	GetStudent(ctx context.Context, studentID string) (*Student, error)

	// FindStudentByEmail matches the normalized email.
	// Returns shared.ErrStudentNotFound when absent.
	FindStudentByEmail(ctx context.Context, email string) (*Student, error)

	// GetCourse returns shared.ErrCourseNotFound when absent.
	GetCourse(ctx context.Context, courseID string) (*Course, error)

	// GetTopic returns shared.ErrTopicNotFound when absent.
	GetTopic(ctx context.Context, topicID string) (*Topic, error)

	// GetMaterial returns shared.ErrMaterialNotFound when absent.
	GetMaterial(ctx context.Context, materialID string) (*Material, error)

	// ListMaterialIDs returns the live material ids of a topic.
	ListMaterialIDs(ctx context.Context, topicID string) ([]string, error)

	// ListTopicIDs returns the topic ids of a course in position order.
	ListTopicIDs(ctx context.Context, courseID string) ([]string, error)
}

// Reader holds the progress reads available inside and outside a transaction.
type Reader interface {
	Catalog

	// CompletedMaterialIDs returns the subset of materialIDs the student completed.
	CompletedMaterialIDs(ctx context.Context, studentID string, materialIDs []string) ([]string, error)

	// CompletedTopicIDs returns the subset of topicIDs the student completed.
	CompletedTopicIDs(ctx context.Context, studentID string, topicIDs []string) ([]string, error)

	// SumTopicSeconds returns the time the student spent on the given topics.
	SumTopicSeconds(ctx context.Context, studentID string, topicIDs []string) (int64, error)

	// GetTopicProgress returns shared.ErrTopicProgressNotFound when absent.
	GetTopicProgress(ctx context.Context, studentID, topicID string) (*TopicProgress, error)

	// GetCourseProgress returns shared.ErrCourseProgressNotFound when absent.
	GetCourseProgress(ctx context.Context, studentID, courseID string) (*CourseProgress, error)

	// GetEnrollment returns shared.ErrEnrollmentNotFound when absent.
	GetEnrollment(ctx context.Context, studentID, courseID string) (*Enrollment, error)

	// ListStudentEnrollments returns the student's enrollments joined with course titles,
	// most recent first.
	ListStudentEnrollments(ctx context.Context, studentID string) ([]*EnrollmentView, error)

	// ListCourseEnrollments returns all enrollments of a course, oldest first.
	ListCourseEnrollments(ctx context.Context, courseID string) ([]*Enrollment, error)

	// ListMaterialProgress returns all material progress rows of a student.
	ListMaterialProgress(ctx context.Context, studentID string) ([]*MaterialProgress, error)

	// ListTopicProgress returns all topic progress rows of a student.
	ListTopicProgress(ctx context.Context, studentID string) ([]*TopicProgress, error)
}

// Tx is a unit of work. Writes become visible only when the enclosing
// Store.WithinTx returns nil.
//
// GetOrCreate* insert the default row when it is absent and lock it for the
// rest of the transaction.
type Tx interface {
	Reader

	// GetOrCreateMaterialProgress locks and returns the (student, material) row.
	GetOrCreateMaterialProgress(ctx context.Context, studentID, materialID string) (GetOrCreate[MaterialProgress], error)
	SaveMaterialProgress(ctx context.Context, p *MaterialProgress) error

	// GetOrCreateTopicProgress locks and returns the (student, topic) row.
	GetOrCreateTopicProgress(ctx context.Context, studentID, topicID string) (GetOrCreate[TopicProgress], error)
	SaveTopicProgress(ctx context.Context, p *TopicProgress) error

	// GetOrCreateCourseProgress locks and returns the (student, course) row.
	GetOrCreateCourseProgress(ctx context.Context, studentID, courseID string) (GetOrCreate[CourseProgress], error)
	SaveCourseProgress(ctx context.Context, p *CourseProgress) error

	// CreateEnrollment inserts the row and fills its ID.
	// Returns shared.ErrAlreadyEnrolled when the pair exists.
	CreateEnrollment(ctx context.Context, e *Enrollment) error
	SaveEnrollment(ctx context.Context, e *Enrollment) error

	// DeleteEnrollment returns shared.ErrEnrollmentNotFound when absent.
	DeleteEnrollment(ctx context.Context, studentID, courseID string) error

	// AdjustCourseEnrollments atomically adds delta to Course.TotalEnrollments,
	// floored at zero, and returns the new value.
	AdjustCourseEnrollments(ctx context.Context, courseID string, delta int) (int, error)

	// AdjustStudentCourses atomically adds delta to Student.CoursesEnrolled,
	// floored at zero, and returns the new value.
	AdjustStudentCourses(ctx context.Context, studentID string, delta int) (int, error)
}

// Store is the progress persistence entry point.
type Store interface {
	Reader

	// WithinTx runs fn in one transaction, committed iff fn returns nil.
	// Implementations may call fn more than once when the transaction is
	// aborted by a serialization conflict.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}
