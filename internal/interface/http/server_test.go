package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/learnsphere/learnsphere-core/internal/application/command"
	"github.com/learnsphere/learnsphere-core/internal/application/query"
	"github.com/learnsphere/learnsphere-core/internal/domain/progress"
	"github.com/learnsphere/learnsphere-core/internal/infrastructure/messaging"
	"github.com/learnsphere/learnsphere-core/internal/infrastructure/notify"
	"github.com/learnsphere/learnsphere-core/internal/infrastructure/persistence/memory"
	"github.com/learnsphere/learnsphere-core/internal/interface/http/handlers"
)

type fixture struct {
	store    *memory.Store
	handler  http.Handler
	student  *progress.Student
	course   *progress.Course
	topic    *progress.Topic
	material *progress.Material
}

func newFixture(t *testing.T, keys ...string) *fixture {
	t.Helper()
	store := memory.NewStore()
	student := store.AddStudent("ada@example.com", "Ada")
	course := store.AddCourse("Go")
	topic, err := store.AddTopic(course.ID, "Basics")
	require.NoError(t, err)
	material, err := store.AddMaterial(topic.ID, "Variables")
	require.NoError(t, err)

	bus := messaging.NewInMemoryEventBus(messaging.InMemoryEventBusConfig{AsyncMode: false})
	svc := command.NewServices(progress.DefaultEmptyTopicPolicy, nil)

	health := handlers.NewCompositeHealthChecker("test")
	health.AddCheck("store", func(context.Context) error { return nil })

	cfg := DefaultConfig()
	cfg.APIKeys = keys
	srv := NewServer(cfg, Dependencies{
		MarkMaterialCompleted: command.NewMarkMaterialCompletedHandler(store, svc, bus, nil),
		Enroll:                command.NewEnrollHandler(store, svc, bus, nil),
		Unenroll:              command.NewUnenrollHandler(store, svc, bus, nil),
		BulkEnroll:            command.NewBulkEnrollHandler(store, svc, bus, nil, command.DefaultBulkEnrollConfig()),
		RecordTopicTime:       command.NewRecordTopicTimeHandler(store, svc, bus, nil),
		RecordSkillScore:      command.NewRecordSkillScoreHandler(store, svc, bus, nil),
		Recompute:             command.NewRecomputeHandler(store, svc, bus, nil),
		ContactAttendees:      command.NewContactAttendeesHandler(store, notify.NewLogNotifier(nil), nil, 0),
		CourseProgress:        query.NewGetCourseProgressHandler(store, nil, nil, nil),
		Enrollments:           query.NewEnrollmentQueries(store, nil, nil, nil),
		ProgressListing:       query.NewProgressListing(store),
		HealthChecker:         health,
	})

	return &fixture{
		store:    store,
		handler:  srv.Handler(),
		student:  student,
		course:   course,
		topic:    topic,
		material: material,
	}
}

type envelope struct {
	Success   bool            `json:"success"`
	Data      json.RawMessage `json:"data"`
	Error     *APIError       `json:"error"`
	RequestID string          `json:"request_id"`
}

func (f *fixture) do(t *testing.T, method, path, body string, headers ...string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var reader *bytes.Reader
	if body == "" {
		reader = bytes.NewReader(nil)
	} else {
		reader = bytes.NewReader([]byte(body))
	}
	req := httptest.NewRequest(method, path, reader)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	var env envelope
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	}
	return rec, env
}

func TestServer_EnrollCompleteAndRead(t *testing.T) {
	f := newFixture(t)

	rec, env := f.do(t, http.MethodPost, "/api/v1/courses/"+f.course.ID+"/enrollments", `{"student_id":"`+f.student.ID+`"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.True(t, env.Success)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	assert.Equal(t, rec.Header().Get("X-Request-ID"), env.RequestID)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))

	rec, _ = f.do(t, http.MethodPost, "/api/v1/courses/"+f.course.ID+"/enrollments", `{"student_id":"`+f.student.ID+`"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	base := "/api/v1/students/" + f.student.ID
	rec, env = f.do(t, http.MethodPost, base+"/materials/"+f.material.ID+"/complete", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var completed map[string]interface{}
	require.NoError(t, json.Unmarshal(env.Data, &completed))
	assert.Equal(t, true, completed["topic_completed"])
	assert.Equal(t, true, completed["course_completed"])
	assert.Equal(t, float64(100), completed["course_percent"])

	rec, env = f.do(t, http.MethodGet, base+"/courses/"+f.course.ID+"/progress", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var dto query.CourseProgressDTO
	require.NoError(t, json.Unmarshal(env.Data, &dto))
	assert.Equal(t, 100, dto.ProgressPercent)
	assert.True(t, dto.Completed)

	rec, env = f.do(t, http.MethodGet, base+"/enrollments", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list []query.EnrollmentDTO
	require.NoError(t, json.Unmarshal(env.Data, &list))
	require.Len(t, list, 1)
	assert.True(t, list[0].Completed)
	assert.Equal(t, "Go", list[0].CourseTitle)

	rec, env = f.do(t, http.MethodGet, base+"/courses/"+f.course.ID+"/enrollment?check=true", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"enrolled":true}`, string(env.Data))

	rec, _ = f.do(t, http.MethodGet, base+"/materials", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	rec, _ = f.do(t, http.MethodGet, base+"/topics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_TimeAndSkillScore(t *testing.T) {
	f := newFixture(t)
	_, err := command.NewEnrollHandler(f.store, command.NewServices(progress.DefaultEmptyTopicPolicy, nil), nil, nil).
		Handle(context.Background(), command.EnrollCommand{StudentID: f.student.ID, CourseID: f.course.ID})
	require.NoError(t, err)

	base := "/api/v1/students/" + f.student.ID
	rec, env := f.do(t, http.MethodPost, base+"/topics/"+f.topic.ID+"/time", `{"seconds":120}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"topic_id":"`+f.topic.ID+`","time_spent_seconds":120,"course_total_time_minutes":2}`, string(env.Data))

	rec, _ = f.do(t, http.MethodPost, base+"/topics/"+f.topic.ID+"/time", `{"seconds":-5}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, env = f.do(t, http.MethodPut, base+"/courses/"+f.course.ID+"/skill-score", `{"score":80}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var dto query.CourseProgressDTO
	require.NoError(t, json.Unmarshal(env.Data, &dto))
	assert.Equal(t, 80, dto.SkillScore)

	rec, _ = f.do(t, http.MethodPut, base+"/courses/"+f.course.ID+"/skill-score", `{"score":101}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_ErrorMapping(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		status int
		code   string
	}{
		{"unknown material", http.MethodPost, "/api/v1/students/" + f.student.ID + "/materials/nope/complete", "", http.StatusNotFound, "not_found"},
		{"unknown student", http.MethodGet, "/api/v1/students/nope/enrollments", "", http.StatusNotFound, "not_found"},
		{"missing enrollment", http.MethodGet, "/api/v1/students/" + f.student.ID + "/courses/" + f.course.ID + "/enrollment", "", http.StatusNotFound, "not_found"},
		{"unenroll without enrollment", http.MethodDelete, "/api/v1/courses/" + f.course.ID + "/enrollments/" + f.student.ID, "", http.StatusNotFound, "not_found"},
		{"bad json", http.MethodPost, "/api/v1/courses/" + f.course.ID + "/enrollments", `{"student_id":`, http.StatusBadRequest, "invalid_json"},
		{"unknown field", http.MethodPost, "/api/v1/courses/" + f.course.ID + "/enrollments", `{"user":"x"}`, http.StatusBadRequest, "invalid_json"},
		{"empty student id", http.MethodPost, "/api/v1/courses/" + f.course.ID + "/enrollments", `{"student_id":""}`, http.StatusBadRequest, "invalid_request"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, env := f.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			require.NotNil(t, env.Error)
			assert.False(t, env.Success)
			assert.Equal(t, tt.code, env.Error.Code)
		})
	}
}

func TestServer_Unenroll(t *testing.T) {
	f := newFixture(t)
	path := "/api/v1/courses/" + f.course.ID + "/enrollments"

	rec, _ := f.do(t, http.MethodPost, path, `{"student_id":"`+f.student.ID+`"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec, _ = f.do(t, http.MethodDelete, path+"/"+f.student.ID, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec, env := f.do(t, http.MethodGet, path, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, string(env.Data))
}

func TestServer_BulkEnrollRequiresKey(t *testing.T) {
	f := newFixture(t, "secret")
	f.store.AddStudent("bob@example.com", "Bob")
	path := "/api/v1/courses/" + f.course.ID + "/enrollments/bulk"
	body := `{"emails":["ada@example.com","bob@example.com","ghost@example.com"]}`

	rec, env := f.do(t, http.MethodPost, path, body)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "missing_api_key", env.Error.Code)

	rec, env = f.do(t, http.MethodPost, path, body, "X-API-Key", "wrong")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "invalid_api_key", env.Error.Code)

	rec, env = f.do(t, http.MethodPost, path, body, "Authorization", "Bearer secret")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res command.BulkEnrollResult
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.Equal(t, 3, res.Processed)
	assert.Equal(t, 2, res.SucceededCount)
	assert.Equal(t, []string{"ada@example.com", "bob@example.com"}, res.Succeeded)
	assert.Equal(t, []string{"ghost@example.com (user not found)"}, res.Failed)
	assert.NotEmpty(t, res.BatchID)
}

func TestServer_ContactAttendees(t *testing.T) {
	f := newFixture(t, "secret")
	path := "/api/v1/courses/" + f.course.ID + "/attendees/contact"
	auth := []string{"X-API-Key", "secret"}

	rec, _ := f.do(t, http.MethodPost, path, `{"subject":"Hi","message":"Welcome"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, env := f.do(t, http.MethodPost, path, `{"subject":"Hi","message":"Welcome"}`, auth...)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res command.ContactAttendeesResult
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.Equal(t, 0, res.TotalStudents)
	assert.Equal(t, command.NoAttendeesMessage, res.Message)

	rec, _ = f.do(t, http.MethodPost, "/api/v1/courses/"+f.course.ID+"/enrollments", `{"student_id":"`+f.student.ID+`"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec, env = f.do(t, http.MethodPost, path, `{"subject":"Hi","message":"Welcome"}`, auth...)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.Equal(t, 1, res.TotalStudents)
	assert.Equal(t, []string{"ada@example.com"}, res.Sent)
	assert.Empty(t, res.Failed)
	assert.Equal(t, "Email sent to 1 out of 1 students", res.Message)

	rec, env = f.do(t, http.MethodPost, path, `{"subject":" ","message":"Welcome"}`, auth...)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "subject is required", env.Error.Message)

	rec, _ = f.do(t, http.MethodPost, "/api/v1/courses/nope/attendees/contact", `{"subject":"Hi","message":"Welcome"}`, auth...)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_BulkEnrollTooLarge(t *testing.T) {
	f := newFixture(t)
	emails := make([]string, command.DefaultBulkEnrollConfig().MaxItems+1)
	for i := range emails {
		emails[i] = `"x@example.com"`
	}
	body := `{"emails":[` + strings.Join(emails, ",") + `]}`

	rec, env := f.do(t, http.MethodPost, "/api/v1/courses/"+f.course.ID+"/enrollments/bulk", body)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, "too_many_items", env.Error.Code)
}

func TestServer_Recompute(t *testing.T) {
	f := newFixture(t)
	base := "/api/v1/students/" + f.student.ID

	rec, _ := f.do(t, http.MethodPost, "/api/v1/courses/"+f.course.ID+"/enrollments", `{"student_id":"`+f.student.ID+`"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec, env := f.do(t, http.MethodPost, base+"/topics/"+f.topic.ID+"/reevaluate", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"topic_id":"`+f.topic.ID+`","complete":false,"newly_completed":false}`, string(env.Data))

	rec, env = f.do(t, http.MethodPost, base+"/courses/"+f.course.ID+"/recompute", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res struct {
		CompletedTopics int  `json:"completed_topics"`
		TotalTopics     int  `json:"total_topics"`
		Changed         bool `json:"changed"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.Equal(t, 0, res.CompletedTopics)
	assert.Equal(t, 1, res.TotalTopics)
	assert.False(t, res.Changed)
}

func TestServer_BodyLimit(t *testing.T) {
	f := newFixture(t)
	body := `{"student_id":"` + strings.Repeat("x", 2<<20) + `"}`

	rec, env := f.do(t, http.MethodPost, "/api/v1/courses/"+f.course.ID+"/enrollments", body)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, "payload_too_large", env.Error.Code)
}

func TestServer_Health(t *testing.T) {
	f := newFixture(t)

	rec, _ := f.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	rec, _ = f.do(t, http.MethodGet, "/ready", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	rec, _ = f.do(t, http.MethodGet, "/live", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	health := handlers.NewCompositeHealthChecker("test")
	health.AddCheck("postgres", func(context.Context) error { return errors.New("connection refused") })
	down := NewServer(DefaultConfig(), Dependencies{HealthChecker: health}).Handler()

	rec = httptest.NewRecorder()
	down.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	down.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/live", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_MissingDependencyAnswers501(t *testing.T) {
	h := NewServer(DefaultConfig(), Dependencies{}).Handler()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/students/s/enrollments", nil))
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}
