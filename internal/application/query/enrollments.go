package query

import (
	"context"
	"fmt"
	"time"

	"github.com/learnsphere/learnsphere-core/internal/domain/progress"
	"github.com/learnsphere/learnsphere-core/internal/domain/shared"
	"github.com/learnsphere/learnsphere-core/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// ENROLLMENT QUERIES
// ══════════════════════════════════════════════════════════════════════════════

// EnrollmentDTO is an enrollment as returned to clients.
type EnrollmentDTO struct {
	ID                   string     `json:"id"`
	StudentID            string     `json:"student_id"`
	CourseID             string     `json:"course_id"`
	CourseTitle          string     `json:"course_title,omitempty"`
	CompletionPercentage int        `json:"completion_percentage"`
	Completed            bool       `json:"completed"`
	EnrolledAt           time.Time  `json:"enrolled_at"`
	LastAccessedAt       time.Time  `json:"last_accessed_at"`
	CompletedAt          *time.Time `json:"completed_at,omitempty"`
}

// NewEnrollmentDTO converts an enrollment.
func NewEnrollmentDTO(e *progress.Enrollment, courseTitle string) EnrollmentDTO {
	return EnrollmentDTO{
		ID:                   e.ID,
		StudentID:            e.StudentID,
		CourseID:             e.CourseID,
		CourseTitle:          courseTitle,
		CompletionPercentage: e.CompletionPercentage,
		Completed:            e.Completed,
		EnrolledAt:           e.EnrolledAt,
		LastAccessedAt:       e.LastAccessedAt,
		CompletedAt:          e.CompletedAt,
	}
}

// EnrollmentQueries serves enrollment reads. Student listings go through the
// cache when one is configured.
type EnrollmentQueries struct {
	store    progress.Reader
	cache    ProgressCache
	features FeatureGate
	logger   *logger.Logger
}

// NewEnrollmentQueries creates the enrollment read handlers. cache and features may be nil.
func NewEnrollmentQueries(store progress.Reader, cache ProgressCache, features FeatureGate, log *logger.Logger) *EnrollmentQueries {
	if log == nil {
		log = logger.Nop()
	}
	return &EnrollmentQueries{
		store:    store,
		cache:    cache,
		features: features,
		logger:   log.With(logger.Component("query.enrollments")),
	}
}

// GetStudentEnrollments lists the student's enrollments, most recent first.
// An unknown student yields shared.ErrStudentNotFound.
func (h *EnrollmentQueries) GetStudentEnrollments(ctx context.Context, studentID string) ([]EnrollmentDTO, error) {
	if err := shared.RequireID("student_id", studentID); err != nil {
		return nil, fmt.Errorf("get_student_enrollments: %w", err)
	}

	cached := useCache(h.cache, h.features, studentID)
	var gen string
	if cached {
		views, g, ok, err := h.cache.GetEnrollments(ctx, studentID)
		switch {
		case err != nil:
			h.logger.Warn("cache read failed", logger.StudentID(studentID), logger.Err(err))
			cached = false
		case ok:
			return viewsToDTO(views), nil
		}
		gen = g
	}

	if _, err := h.store.GetStudent(ctx, studentID); err != nil {
		return nil, fmt.Errorf("get_student_enrollments: %w", err)
	}
	views, err := h.store.ListStudentEnrollments(ctx, studentID)
	if err != nil {
		return nil, fmt.Errorf("get_student_enrollments: %w", err)
	}

	if cached {
		if err := h.cache.SetEnrollments(ctx, gen, studentID, views); err != nil {
			h.logger.Warn("cache write failed", logger.StudentID(studentID), logger.Err(err))
		}
	}
	return viewsToDTO(views), nil
}

func viewsToDTO(views []*progress.EnrollmentView) []EnrollmentDTO {
	out := make([]EnrollmentDTO, 0, len(views))
	for _, v := range views {
		out = append(out, NewEnrollmentDTO(&v.Enrollment, v.CourseTitle))
	}
	return out
}

// GetEnrollment returns one enrollment or shared.ErrEnrollmentNotFound.
func (h *EnrollmentQueries) GetEnrollment(ctx context.Context, studentID, courseID string) (*EnrollmentDTO, error) {
	if err := requirePair(studentID, courseID); err != nil {
		return nil, fmt.Errorf("get_enrollment: %w", err)
	}
	e, err := h.store.GetEnrollment(ctx, studentID, courseID)
	if err != nil {
		return nil, fmt.Errorf("get_enrollment: %w", err)
	}
	dto := NewEnrollmentDTO(e, "")
	return &dto, nil
}

// IsEnrolled reports whether the pair has a live enrollment.
func (h *EnrollmentQueries) IsEnrolled(ctx context.Context, studentID, courseID string) (bool, error) {
	if err := requirePair(studentID, courseID); err != nil {
		return false, fmt.Errorf("is_enrolled: %w", err)
	}
	_, err := h.store.GetEnrollment(ctx, studentID, courseID)
	switch {
	case err == nil:
		return true, nil
	case shared.IsNotFound(err):
		return false, nil
	default:
		return false, fmt.Errorf("is_enrolled: %w", err)
	}
}

// GetCourseEnrollments lists a course's enrollments, oldest first.
// An unknown course yields shared.ErrCourseNotFound.
func (h *EnrollmentQueries) GetCourseEnrollments(ctx context.Context, courseID string) ([]EnrollmentDTO, error) {
	if err := shared.RequireID("course_id", courseID); err != nil {
		return nil, fmt.Errorf("get_course_enrollments: %w", err)
	}
	course, err := h.store.GetCourse(ctx, courseID)
	if err != nil {
		return nil, fmt.Errorf("get_course_enrollments: %w", err)
	}
	list, err := h.store.ListCourseEnrollments(ctx, courseID)
	if err != nil {
		return nil, fmt.Errorf("get_course_enrollments: %w", err)
	}
	out := make([]EnrollmentDTO, 0, len(list))
	for _, e := range list {
		out = append(out, NewEnrollmentDTO(e, course.Title))
	}
	return out, nil
}

func requirePair(studentID, courseID string) error {
	if err := shared.RequireID("student_id", studentID); err != nil {
		return err
	}
	return shared.RequireID("course_id", courseID)
}
