package query

import (
	"context"
	"fmt"
	"time"

	"github.com/learnsphere/learnsphere-core/config"
	"github.com/learnsphere/learnsphere-core/internal/domain/progress"
	"github.com/learnsphere/learnsphere-core/internal/domain/shared"
	"github.com/learnsphere/learnsphere-core/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET COURSE PROGRESS QUERY
// Read-through: cache first, store on miss, cache filled after the store read
// under the generation seen before it.
// ══════════════════════════════════════════════════════════════════════════════

// GetCourseProgressQuery identifies one (student, course) pair.
type GetCourseProgressQuery struct {
	StudentID string
	CourseID  string
}

// Validate checks the query parameters.
func (q GetCourseProgressQuery) Validate() error {
	if err := shared.RequireID("student_id", q.StudentID); err != nil {
		return err
	}
	return shared.RequireID("course_id", q.CourseID)
}

// CourseProgressDTO is the course rollup as returned to clients.
type CourseProgressDTO struct {
	StudentID        string    `json:"student_id"`
	CourseID         string    `json:"course_id"`
	ProgressPercent  int       `json:"progress_percent"`
	SkillScore       int       `json:"skill_score"`
	TotalTimeMinutes int64     `json:"total_time_minutes"`
	LastTopicID      string    `json:"last_topic_id,omitempty"`
	LastUpdated      time.Time `json:"last_updated"`
	Completed        bool      `json:"completed"`
}

// NewCourseProgressDTO converts a CourseProgress row.
func NewCourseProgressDTO(cp *progress.CourseProgress) *CourseProgressDTO {
	return &CourseProgressDTO{
		StudentID:        cp.StudentID,
		CourseID:         cp.CourseID,
		ProgressPercent:  cp.ProgressPercent,
		SkillScore:       cp.SkillScore,
		TotalTimeMinutes: cp.TotalTimeMinutes,
		LastTopicID:      cp.LastTopicID,
		LastUpdated:      cp.LastUpdated,
		Completed:        shared.Percent(cp.ProgressPercent).IsComplete(),
	}
}

// GetCourseProgressHandler handles GetCourseProgressQuery.
type GetCourseProgressHandler struct {
	store    progress.Reader
	cache    ProgressCache
	features FeatureGate
	logger   *logger.Logger
}

// NewGetCourseProgressHandler creates a new handler. cache and features may be nil.
func NewGetCourseProgressHandler(store progress.Reader, cache ProgressCache, features FeatureGate, log *logger.Logger) *GetCourseProgressHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &GetCourseProgressHandler{
		store:    store,
		cache:    cache,
		features: features,
		logger:   log.With(logger.Component("query.get_course_progress")),
	}
}

// Handle executes the query. Returns shared.ErrCourseProgressNotFound when the
// student never enrolled in the course.
func (h *GetCourseProgressHandler) Handle(ctx context.Context, q GetCourseProgressQuery) (*CourseProgressDTO, error) {
	if err := q.Validate(); err != nil {
		return nil, fmt.Errorf("get_course_progress: %w", err)
	}

	cached := useCache(h.cache, h.features, q.StudentID)
	var gen string
	if cached {
		cp, g, ok, err := h.cache.GetCourseProgress(ctx, q.StudentID, q.CourseID)
		switch {
		case err != nil:
			h.logger.Warn("cache read failed", logger.StudentID(q.StudentID), logger.CourseID(q.CourseID), logger.Err(err))
			cached = false
		case ok:
			return NewCourseProgressDTO(cp), nil
		}
		gen = g
	}

	cp, err := h.store.GetCourseProgress(ctx, q.StudentID, q.CourseID)
	if err != nil {
		return nil, fmt.Errorf("get_course_progress: %w", err)
	}

	if cached {
		if err := h.cache.SetCourseProgress(ctx, gen, cp); err != nil {
			h.logger.Warn("cache write failed", logger.StudentID(q.StudentID), logger.CourseID(q.CourseID), logger.Err(err))
		}
	}
	return NewCourseProgressDTO(cp), nil
}

func useCache(cache ProgressCache, features FeatureGate, studentID string) bool {
	if cache == nil {
		return false
	}
	return features == nil || features.IsEnabled(config.FeatureCacheCourseProgress, studentID)
}
