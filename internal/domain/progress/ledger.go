package progress

import (
	"context"
	"fmt"

	"github.com/learnsphere/learnsphere-core/internal/domain/shared"
)

// EnrollOutcome describes a successful enrollment.
type EnrollOutcome struct {
	Enrollment *Enrollment
	Student    *Student
	Course     *Course

	// CourseProgressCreated is false on re-enrollment, when progress survived
	// an earlier unenrollment.
	CourseProgressCreated bool
}

// Ledger maintains enrollments and the denormalized counters
// Course.TotalEnrollments and Student.CoursesEnrolled.
// It never touches topic or material progress.
type Ledger struct {
	clock shared.Clock
}

// NewLedger creates a Ledger.
func NewLedger(clock shared.Clock) *Ledger {
	if clock == nil {
		clock = shared.SystemClock
	}
	return &Ledger{clock: clock}
}

// Enroll creates the enrollment and bumps both counters by one.
// Returns shared.ErrAlreadyEnrolled when the pair is already enrolled, and
// a not-found error when the student or course does not exist.
//
// A re-enrolled student resumes at the percent kept in CourseProgress.
func (l *Ledger) Enroll(ctx context.Context, tx Tx, studentID, courseID string) (*EnrollOutcome, error) {
	student, err := tx.GetStudent(ctx, studentID)
	if err != nil {
		return nil, err
	}
	course, err := tx.GetCourse(ctx, courseID)
	if err != nil {
		return nil, err
	}

	_, err = tx.GetEnrollment(ctx, studentID, courseID)
	switch {
	case err == nil:
		return nil, shared.ErrAlreadyEnrolled
	case !shared.IsNotFound(err):
		return nil, fmt.Errorf("get enrollment: %w", err)
	}

	now := l.clock()

	cp, err := tx.GetOrCreateCourseProgress(ctx, studentID, courseID)
	if err != nil {
		return nil, fmt.Errorf("get course progress: %w", err)
	}
	if cp.Created {
		cp.Row.LastUpdated = now
		if err := tx.SaveCourseProgress(ctx, cp.Row); err != nil {
			return nil, fmt.Errorf("save course progress: %w", err)
		}
	}

	enrollment := NewEnrollment(studentID, courseID, cp.Row.ProgressPercent, now)
	if err := tx.CreateEnrollment(ctx, enrollment); err != nil {
		return nil, err
	}

	if student.CoursesEnrolled, err = tx.AdjustStudentCourses(ctx, studentID, 1); err != nil {
		return nil, fmt.Errorf("adjust student courses: %w", err)
	}
	if course.TotalEnrollments, err = tx.AdjustCourseEnrollments(ctx, courseID, 1); err != nil {
		return nil, fmt.Errorf("adjust course enrollments: %w", err)
	}

	return &EnrollOutcome{
		Enrollment:            enrollment,
		Student:               student,
		Course:                course,
		CourseProgressCreated: cp.Created,
	}, nil
}

// Unenroll deletes the enrollment and lowers both counters by one, floored at zero.
// Returns shared.ErrEnrollmentNotFound when the pair is not enrolled.
func (l *Ledger) Unenroll(ctx context.Context, tx Tx, studentID, courseID string) error {
	if err := tx.DeleteEnrollment(ctx, studentID, courseID); err != nil {
		return err
	}
	if _, err := tx.AdjustStudentCourses(ctx, studentID, -1); err != nil {
		return fmt.Errorf("adjust student courses: %w", err)
	}
	if _, err := tx.AdjustCourseEnrollments(ctx, courseID, -1); err != nil {
		return fmt.Errorf("adjust course enrollments: %w", err)
	}
	return nil
}
