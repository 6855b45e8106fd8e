package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/learnsphere/learnsphere-core/internal/application/command"
	"github.com/learnsphere/learnsphere-core/internal/application/query"
	"github.com/learnsphere/learnsphere-core/internal/domain/shared"
	"github.com/learnsphere/learnsphere-core/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH & STATUS HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.HealthChecker == nil {
		writeJSON(w, r, http.StatusOK, map[string]string{"status": "healthy", "uptime": s.Uptime().String()}, nil)
		return
	}
	status := s.deps.HealthChecker.Check(r.Context())
	code := http.StatusOK
	if !status.Healthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, r, code, status, nil)
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.deps.HealthChecker != nil {
		status := s.deps.HealthChecker.Check(r.Context())
		if !status.Ready {
			writeJSON(w, r, http.StatusServiceUnavailable, map[string]string{
				"status": "not_ready",
				"reason": status.Message,
			}, nil)
			return
		}
	}
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ready"}, nil)
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "alive"}, nil)
}

// ══════════════════════════════════════════════════════════════════════════════
// PROGRESS HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleMarkMaterialCompleted handles POST /api/v1/students/{studentID}/materials/{materialID}/complete
func (s *Server) handleMarkMaterialCompleted(w http.ResponseWriter, r *http.Request) {
	if s.deps.MarkMaterialCompleted == nil {
		notConfigured(w, r)
		return
	}
	res, err := s.deps.MarkMaterialCompleted.Handle(r.Context(), command.MarkMaterialCompletedCommand{
		StudentID:  r.PathValue("studentID"),
		MaterialID: r.PathValue("materialID"),
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	mp := res.Progress
	writeJSON(w, r, http.StatusOK, map[string]interface{}{
		"material_id":       mp.MaterialID,
		"completed":         mp.Completed,
		"completed_at":      mp.CompletedAt,
		"already_completed": res.AlreadyCompleted,
		"topic_id":          res.TopicID,
		"topic_completed":   res.TopicCompleted,
		"course_id":         res.CourseID,
		"course_percent":    res.CoursePercent,
		"course_completed":  res.CourseCompleted,
	}, nil)
}

// handleRecordTopicTime handles POST /api/v1/students/{studentID}/topics/{topicID}/time
func (s *Server) handleRecordTopicTime(w http.ResponseWriter, r *http.Request) {
	if s.deps.RecordTopicTime == nil {
		notConfigured(w, r)
		return
	}
	var body struct {
		Seconds int64 `json:"seconds"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	res, err := s.deps.RecordTopicTime.Handle(r.Context(), command.RecordTopicTimeCommand{
		StudentID: r.PathValue("studentID"),
		TopicID:   r.PathValue("topicID"),
		Seconds:   body.Seconds,
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	data := map[string]interface{}{
		"topic_id":           res.TopicProgress.TopicID,
		"time_spent_seconds": res.TopicProgress.TimeSpentSeconds,
	}
	if res.CourseProgress != nil {
		data["course_total_time_minutes"] = res.CourseProgress.TotalTimeMinutes
	}
	writeJSON(w, r, http.StatusOK, data, nil)
}

// handleGetCourseProgress handles GET /api/v1/students/{studentID}/courses/{courseID}/progress
func (s *Server) handleGetCourseProgress(w http.ResponseWriter, r *http.Request) {
	if s.deps.CourseProgress == nil {
		notConfigured(w, r)
		return
	}
	dto, err := s.deps.CourseProgress.Handle(r.Context(), query.GetCourseProgressQuery{
		StudentID: r.PathValue("studentID"),
		CourseID:  r.PathValue("courseID"),
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, dto, nil)
}

// handleRecordSkillScore handles PUT /api/v1/students/{studentID}/courses/{courseID}/skill-score
func (s *Server) handleRecordSkillScore(w http.ResponseWriter, r *http.Request) {
	if s.deps.RecordSkillScore == nil {
		notConfigured(w, r)
		return
	}
	var body struct {
		Score int `json:"score"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	cp, err := s.deps.RecordSkillScore.Handle(r.Context(), command.RecordSkillScoreCommand{
		StudentID: r.PathValue("studentID"),
		CourseID:  r.PathValue("courseID"),
		Score:     body.Score,
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, query.NewCourseProgressDTO(cp), nil)
}

// handleListMaterialProgress handles GET /api/v1/students/{studentID}/materials
func (s *Server) handleListMaterialProgress(w http.ResponseWriter, r *http.Request) {
	if s.deps.ProgressListing == nil {
		notConfigured(w, r)
		return
	}
	rows, err := s.deps.ProgressListing.GetMaterialProgress(r.Context(), r.PathValue("studentID"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, rows, &ResponseMeta{TotalCount: len(rows)})
}

// handleListTopicProgress handles GET /api/v1/students/{studentID}/topics
func (s *Server) handleListTopicProgress(w http.ResponseWriter, r *http.Request) {
	if s.deps.ProgressListing == nil {
		notConfigured(w, r)
		return
	}
	rows, err := s.deps.ProgressListing.GetTopicProgress(r.Context(), r.PathValue("studentID"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, rows, &ResponseMeta{TotalCount: len(rows)})
}

// ══════════════════════════════════════════════════════════════════════════════
// ENROLLMENT HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleEnroll handles POST /api/v1/courses/{courseID}/enrollments
func (s *Server) handleEnroll(w http.ResponseWriter, r *http.Request) {
	if s.deps.Enroll == nil {
		notConfigured(w, r)
		return
	}
	var body struct {
		StudentID string `json:"student_id"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	res, err := s.deps.Enroll.Handle(r.Context(), command.EnrollCommand{
		StudentID: body.StudentID,
		CourseID:  r.PathValue("courseID"),
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, query.NewEnrollmentDTO(res.Enrollment, ""), nil)
}

// handleUnenroll handles DELETE /api/v1/courses/{courseID}/enrollments/{studentID}
func (s *Server) handleUnenroll(w http.ResponseWriter, r *http.Request) {
	if s.deps.Unenroll == nil {
		notConfigured(w, r)
		return
	}
	err := s.deps.Unenroll.Handle(r.Context(), command.UnenrollCommand{
		StudentID: r.PathValue("studentID"),
		CourseID:  r.PathValue("courseID"),
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleBulkEnroll handles POST /api/v1/courses/{courseID}/enrollments/bulk
func (s *Server) handleBulkEnroll(w http.ResponseWriter, r *http.Request) {
	if s.deps.BulkEnroll == nil {
		notConfigured(w, r)
		return
	}
	var body struct {
		Emails []string `json:"emails"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	res, err := s.deps.BulkEnroll.Handle(r.Context(), command.BulkEnrollCommand{
		CourseID: r.PathValue("courseID"),
		Emails:   body.Emails,
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, res, nil)
}

// handleContactAttendees handles POST /api/v1/courses/{courseID}/attendees/contact
func (s *Server) handleContactAttendees(w http.ResponseWriter, r *http.Request) {
	if s.deps.ContactAttendees == nil {
		notConfigured(w, r)
		return
	}
	var body struct {
		Subject string `json:"subject"`
		Message string `json:"message"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	res, err := s.deps.ContactAttendees.Handle(r.Context(), command.ContactAttendeesCommand{
		CourseID: r.PathValue("courseID"),
		Subject:  body.Subject,
		Message:  body.Message,
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, res, nil)
}

// handleListStudentEnrollments handles GET /api/v1/students/{studentID}/enrollments
func (s *Server) handleListStudentEnrollments(w http.ResponseWriter, r *http.Request) {
	if s.deps.Enrollments == nil {
		notConfigured(w, r)
		return
	}
	list, err := s.deps.Enrollments.GetStudentEnrollments(r.Context(), r.PathValue("studentID"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, list, &ResponseMeta{TotalCount: len(list)})
}

// handleGetEnrollment handles GET /api/v1/students/{studentID}/courses/{courseID}/enrollment.
// With ?check=true it answers {"enrolled": bool} instead of 404.
func (s *Server) handleGetEnrollment(w http.ResponseWriter, r *http.Request) {
	if s.deps.Enrollments == nil {
		notConfigured(w, r)
		return
	}
	studentID, courseID := r.PathValue("studentID"), r.PathValue("courseID")

	if r.URL.Query().Get("check") == "true" {
		ok, err := s.deps.Enrollments.IsEnrolled(r.Context(), studentID, courseID)
		if err != nil {
			s.writeDomainError(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, map[string]bool{"enrolled": ok}, nil)
		return
	}

	dto, err := s.deps.Enrollments.GetEnrollment(r.Context(), studentID, courseID)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, dto, nil)
}

// handleListCourseEnrollments handles GET /api/v1/courses/{courseID}/enrollments
func (s *Server) handleListCourseEnrollments(w http.ResponseWriter, r *http.Request) {
	if s.deps.Enrollments == nil {
		notConfigured(w, r)
		return
	}
	list, err := s.deps.Enrollments.GetCourseEnrollments(r.Context(), r.PathValue("courseID"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, list, &ResponseMeta{TotalCount: len(list)})
}

// ══════════════════════════════════════════════════════════════════════════════
// OPERATOR HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleRecomputeCourse handles POST /api/v1/students/{studentID}/courses/{courseID}/recompute
func (s *Server) handleRecomputeCourse(w http.ResponseWriter, r *http.Request) {
	if s.deps.Recompute == nil {
		notConfigured(w, r)
		return
	}
	res, err := s.deps.Recompute.RecomputeCourse(r.Context(), command.RecomputeCourseCommand{
		StudentID: r.PathValue("studentID"),
		CourseID:  r.PathValue("courseID"),
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]interface{}{
		"progress":         query.NewCourseProgressDTO(res.Progress),
		"completed_topics": res.CompletedTopics,
		"total_topics":     res.TotalTopics,
		"changed":          res.Changed,
	}, nil)
}

// handleReevaluateTopic handles POST /api/v1/students/{studentID}/topics/{topicID}/reevaluate
func (s *Server) handleReevaluateTopic(w http.ResponseWriter, r *http.Request) {
	if s.deps.Recompute == nil {
		notConfigured(w, r)
		return
	}
	res, err := s.deps.Recompute.ReevaluateTopic(r.Context(), command.ReevaluateTopicCommand{
		StudentID: r.PathValue("studentID"),
		TopicID:   r.PathValue("topicID"),
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]interface{}{
		"topic_id":        res.Progress.TopicID,
		"complete":        res.Complete,
		"newly_completed": res.NewlyCompleted,
	}, nil)
}

// ══════════════════════════════════════════════════════════════════════════════
// ERROR MAPPING
// ══════════════════════════════════════════════════════════════════════════════

// writeDomainError maps domain error kinds onto HTTP statuses.
func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var de *shared.DomainError
	message := err.Error()
	if errors.As(err, &de) {
		message = de.Message
	}

	switch {
	case errors.Is(err, shared.ErrBulkTooLarge):
		writeJSONError(w, r, http.StatusRequestEntityTooLarge, "too_many_items", message)
	case shared.IsNotFound(err):
		writeJSONError(w, r, http.StatusNotFound, "not_found", message)
	case shared.IsAlreadyExists(err):
		writeJSONError(w, r, http.StatusConflict, "conflict", message)
	case shared.IsValidation(err):
		writeJSONError(w, r, http.StatusBadRequest, "invalid_request", message)
	default:
		logger.FromContext(r.Context()).Error("request failed", logger.String("path", r.URL.Path), logger.Err(err))
		writeJSONError(w, r, http.StatusInternalServerError, "internal_server_error", "An unexpected error occurred")
	}
}

func notConfigured(w http.ResponseWriter, r *http.Request) {
	writeJSONError(w, r, http.StatusNotImplemented, "not_implemented", "handler not configured")
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeJSONError(w, r, http.StatusBadRequest, "invalid_json", "request body must be valid JSON")
		return false
	}
	return true
}
