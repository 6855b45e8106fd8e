package query

import (
	"context"
	"fmt"
	"time"

	"github.com/learnsphere/learnsphere-core/internal/domain/progress"
	"github.com/learnsphere/learnsphere-core/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// PROGRESS LISTINGS
// Raw material and topic rows of one student, for dashboards.
// ══════════════════════════════════════════════════════════════════════════════

// MaterialProgressDTO is one material row.
type MaterialProgressDTO struct {
	MaterialID  string     `json:"material_id"`
	Completed   bool       `json:"completed"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// TopicProgressDTO is one topic row.
type TopicProgressDTO struct {
	TopicID          string     `json:"topic_id"`
	Completed        bool       `json:"completed"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
	TimeSpentSeconds int64      `json:"time_spent_seconds"`
	LastUpdated      time.Time  `json:"last_updated"`
}

// ProgressListing serves the per-student row listings.
type ProgressListing struct {
	store progress.Reader
}

// NewProgressListing creates a ProgressListing.
func NewProgressListing(store progress.Reader) *ProgressListing {
	return &ProgressListing{store: store}
}

// GetMaterialProgress lists every material row of the student.
func (h *ProgressListing) GetMaterialProgress(ctx context.Context, studentID string) ([]MaterialProgressDTO, error) {
	if err := h.requireStudent(ctx, studentID); err != nil {
		return nil, fmt.Errorf("get_material_progress: %w", err)
	}
	rows, err := h.store.ListMaterialProgress(ctx, studentID)
	if err != nil {
		return nil, fmt.Errorf("get_material_progress: %w", err)
	}
	out := make([]MaterialProgressDTO, 0, len(rows))
	for _, r := range rows {
		out = append(out, MaterialProgressDTO{MaterialID: r.MaterialID, Completed: r.Completed, CompletedAt: r.CompletedAt})
	}
	return out, nil
}

// GetTopicProgress lists every topic row of the student.
func (h *ProgressListing) GetTopicProgress(ctx context.Context, studentID string) ([]TopicProgressDTO, error) {
	if err := h.requireStudent(ctx, studentID); err != nil {
		return nil, fmt.Errorf("get_topic_progress: %w", err)
	}
	rows, err := h.store.ListTopicProgress(ctx, studentID)
	if err != nil {
		return nil, fmt.Errorf("get_topic_progress: %w", err)
	}
	out := make([]TopicProgressDTO, 0, len(rows))
	for _, r := range rows {
		out = append(out, TopicProgressDTO{
			TopicID:          r.TopicID,
			Completed:        r.Completed,
			CompletedAt:      r.CompletedAt,
			TimeSpentSeconds: r.TimeSpentSeconds,
			LastUpdated:      r.LastUpdated,
		})
	}
	return out, nil
}

func (h *ProgressListing) requireStudent(ctx context.Context, studentID string) error {
	if err := shared.RequireID("student_id", studentID); err != nil {
		return err
	}
	_, err := h.store.GetStudent(ctx, studentID)
	return err
}
