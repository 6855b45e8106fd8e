package command

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/learnsphere/learnsphere-core/internal/domain/progress"
	"github.com/learnsphere/learnsphere-core/internal/domain/shared"
	"github.com/learnsphere/learnsphere-core/internal/infrastructure/persistence/memory"
)

type recorder struct {
	mu     sync.Mutex
	events []shared.Event
}

func (r *recorder) Publish(event shared.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recorder) types() []shared.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]shared.EventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.EventType())
	}
	return out
}

func (r *recorder) reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}

type failingBus struct{}

func (failingBus) Publish(shared.Event) error { return errors.New("bus down") }

type world struct {
	store *memory.Store
	bus   *recorder
	svc   *Services

	student *progress.Student
	course  *progress.Course
	t1, t2  *progress.Topic
	m1, m2  *progress.Material // in t1
	m3      *progress.Material // in t2
}

func newWorld(t *testing.T) *world {
	t.Helper()
	base := time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)
	var n int
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		n++
		return base.Add(time.Duration(n) * time.Second)
	}

	w := &world{store: memory.NewStore(), bus: &recorder{}, svc: NewServices(progress.EmptyTopicComplete, clock)}
	w.student = w.store.AddStudent("ada@example.com", "Ada")
	w.course = w.store.AddCourse("Go")

	var err error
	w.t1, err = w.store.AddTopic(w.course.ID, "Basics")
	require.NoError(t, err)
	w.t2, err = w.store.AddTopic(w.course.ID, "Concurrency")
	require.NoError(t, err)
	w.m1, err = w.store.AddMaterial(w.t1.ID, "Variables")
	require.NoError(t, err)
	w.m2, err = w.store.AddMaterial(w.t1.ID, "Functions")
	require.NoError(t, err)
	w.m3, err = w.store.AddMaterial(w.t2.ID, "Channels")
	require.NoError(t, err)
	return w
}

func (w *world) enroll(t *testing.T, studentID string) {
	t.Helper()
	_, err := NewEnrollHandler(w.store, w.svc, nil, nil).Handle(context.Background(), EnrollCommand{StudentID: studentID, CourseID: w.course.ID})
	require.NoError(t, err)
}

func TestMarkMaterialCompleted_CascadesThroughTwoTopics(t *testing.T) {
	w := newWorld(t)
	w.enroll(t, w.student.ID)
	h := NewMarkMaterialCompletedHandler(w.store, w.svc, w.bus, nil)
	ctx := context.Background()

	res, err := h.Handle(ctx, MarkMaterialCompletedCommand{StudentID: w.student.ID, MaterialID: w.m1.ID})
	require.NoError(t, err)
	assert.True(t, res.Progress.Completed)
	assert.False(t, res.TopicCompleted)
	assert.Equal(t, []shared.EventType{shared.EventMaterialCompleted}, w.bus.types())

	w.bus.reset()
	res, err = h.Handle(ctx, MarkMaterialCompletedCommand{StudentID: w.student.ID, MaterialID: w.m2.ID})
	require.NoError(t, err)
	assert.True(t, res.TopicCompleted)
	assert.Equal(t, 50, res.CoursePercent)
	assert.Equal(t, []shared.EventType{
		shared.EventMaterialCompleted,
		shared.EventTopicCompleted,
		shared.EventCourseProgressUpdated,
	}, w.bus.types())

	w.bus.reset()
	res, err = h.Handle(ctx, MarkMaterialCompletedCommand{StudentID: w.student.ID, MaterialID: w.m3.ID})
	require.NoError(t, err)
	assert.Equal(t, 100, res.CoursePercent)
	assert.True(t, res.CourseCompleted)
	require.Len(t, res.Events, 4)

	done, ok := res.Events[3].(shared.CourseCompletedEvent)
	require.True(t, ok)
	assert.Equal(t, "ada@example.com", done.StudentEmail)
	assert.Equal(t, "Go", done.CourseTitle)

	enrollment, err := w.store.GetEnrollment(ctx, w.student.ID, w.course.ID)
	require.NoError(t, err)
	assert.True(t, enrollment.Completed)
	assert.Equal(t, 100, enrollment.CompletionPercentage)
}

func TestMarkMaterialCompleted_ReplayPublishesNothing(t *testing.T) {
	w := newWorld(t)
	h := NewMarkMaterialCompletedHandler(w.store, w.svc, w.bus, nil)
	ctx := context.Background()
	cmd := MarkMaterialCompletedCommand{StudentID: w.student.ID, MaterialID: w.m3.ID}

	first, err := h.Handle(ctx, cmd)
	require.NoError(t, err)
	w.bus.reset()

	again, err := h.Handle(ctx, cmd)
	require.NoError(t, err)
	assert.True(t, again.AlreadyCompleted)
	assert.Equal(t, first.Progress.CompletedAt, again.Progress.CompletedAt)
	assert.Empty(t, w.bus.types())
}

func TestMarkMaterialCompleted_Errors(t *testing.T) {
	w := newWorld(t)
	h := NewMarkMaterialCompletedHandler(w.store, w.svc, failingBus{}, nil)
	ctx := context.Background()

	_, err := h.Handle(ctx, MarkMaterialCompletedCommand{StudentID: w.student.ID, MaterialID: "missing"})
	assert.ErrorIs(t, err, shared.ErrMaterialNotFound)

	_, err = h.Handle(ctx, MarkMaterialCompletedCommand{StudentID: "", MaterialID: w.m1.ID})
	assert.True(t, shared.IsValidation(err))

	// A failing bus never fails a committed write.
	_, err = h.Handle(ctx, MarkMaterialCompletedCommand{StudentID: w.student.ID, MaterialID: w.m1.ID})
	assert.NoError(t, err)
}

func TestEnrollUnenroll_CountersAndEvents(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	enroll := NewEnrollHandler(w.store, w.svc, w.bus, nil)
	unenroll := NewUnenrollHandler(w.store, w.svc, w.bus, nil)
	cmd := EnrollCommand{StudentID: w.student.ID, CourseID: w.course.ID}

	res, err := enroll.Handle(ctx, cmd)
	require.NoError(t, err)
	assert.False(t, res.Resumed)
	assert.Equal(t, 0, res.Enrollment.CompletionPercentage)

	_, err = enroll.Handle(ctx, cmd)
	assert.ErrorIs(t, err, shared.ErrAlreadyEnrolled)
	assert.True(t, shared.IsAlreadyExists(err))

	course, err := w.store.GetCourse(ctx, w.course.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, course.TotalEnrollments)

	require.NoError(t, unenroll.Handle(ctx, UnenrollCommand{StudentID: w.student.ID, CourseID: w.course.ID}))
	err = unenroll.Handle(ctx, UnenrollCommand{StudentID: w.student.ID, CourseID: w.course.ID})
	assert.ErrorIs(t, err, shared.ErrEnrollmentNotFound)

	student, err := w.store.GetStudent(ctx, w.student.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, student.CoursesEnrolled)

	assert.Equal(t, []shared.EventType{shared.EventStudentEnrolled, shared.EventStudentUnenrolled}, w.bus.types())

	_, err = enroll.Handle(ctx, EnrollCommand{StudentID: w.student.ID, CourseID: "nope"})
	assert.ErrorIs(t, err, shared.ErrCourseNotFound)
}

func TestEnroll_ResumesKeptProgress(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	w.enroll(t, w.student.ID)

	mark := NewMarkMaterialCompletedHandler(w.store, w.svc, nil, nil)
	_, err := mark.Handle(ctx, MarkMaterialCompletedCommand{StudentID: w.student.ID, MaterialID: w.m3.ID})
	require.NoError(t, err)

	require.NoError(t, NewUnenrollHandler(w.store, w.svc, nil, nil).Handle(ctx, UnenrollCommand{StudentID: w.student.ID, CourseID: w.course.ID}))

	res, err := NewEnrollHandler(w.store, w.svc, nil, nil).Handle(ctx, EnrollCommand{StudentID: w.student.ID, CourseID: w.course.ID})
	require.NoError(t, err)
	assert.True(t, res.Resumed)
	assert.Equal(t, 50, res.Enrollment.CompletionPercentage)
}

func TestEnrollUnenroll_ConcurrentRoundTrips(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	enroll := NewEnrollHandler(w.store, w.svc, nil, nil)
	unenroll := NewUnenrollHandler(w.store, w.svc, nil, nil)

	students := make([]*progress.Student, 100)
	for i := range students {
		students[i] = w.store.AddStudent(fmt.Sprintf("s%d@example.com", i), "")
	}

	var wg sync.WaitGroup
	for _, s := range students {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := enroll.Handle(ctx, EnrollCommand{StudentID: id, CourseID: w.course.ID})
			assert.NoError(t, err)
			assert.NoError(t, unenroll.Handle(ctx, UnenrollCommand{StudentID: id, CourseID: w.course.ID}))
		}(s.ID)
	}
	wg.Wait()

	course, err := w.store.GetCourse(ctx, w.course.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, course.TotalEnrollments)
}

func TestBulkEnroll_ReportsPerItem(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	a := w.store.AddStudent("a@example.com", "A")
	b := w.store.AddStudent("b@example.com", "B")
	c := w.store.AddStudent("c@example.com", "C")
	w.enroll(t, b.ID)

	h := NewBulkEnrollHandler(w.store, w.svc, w.bus, nil, BulkEnrollConfig{MaxItems: 10, Concurrency: 2})
	res, err := h.Handle(ctx, BulkEnrollCommand{
		CourseID: w.course.ID,
		Emails:   []string{"a@example.com", " B@example.com ", "c@example.com", "ghost@example.com", "not-an-email"},
	})
	require.NoError(t, err)

	assert.Equal(t, 5, res.Processed)
	assert.Equal(t, 2, res.SucceededCount)
	assert.Equal(t, []string{"a@example.com", "c@example.com"}, res.Succeeded)
	assert.Equal(t, []string{
		"b@example.com (already enrolled)",
		"ghost@example.com (user not found)",
		"not-an-email (invalid email)",
	}, res.Failed)
	assert.NotEmpty(t, res.BatchID)

	require.Len(t, res.Details, 5)
	assert.Equal(t, a.ID, res.Details[0].StudentID)
	assert.True(t, res.Details[2].Enrolled)
	assert.Equal(t, c.ID, res.Details[2].StudentID)

	course, err := w.store.GetCourse(ctx, w.course.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, course.TotalEnrollments)

	for _, e := range w.bus.events {
		enrolled, ok := e.(shared.StudentEnrolledEvent)
		require.True(t, ok)
		assert.True(t, enrolled.Bulk)
	}
	assert.Len(t, w.bus.events, 2)
}

func TestBulkEnroll_Aborts(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	h := NewBulkEnrollHandler(w.store, w.svc, w.bus, nil, BulkEnrollConfig{MaxItems: 2})

	_, err := h.Handle(ctx, BulkEnrollCommand{CourseID: "missing", Emails: []string{"ada@example.com"}})
	assert.ErrorIs(t, err, shared.ErrCourseNotFound)

	_, err = h.Handle(ctx, BulkEnrollCommand{CourseID: w.course.ID, Emails: []string{"a@x.io", "b@x.io", "c@x.io"}})
	assert.ErrorIs(t, err, shared.ErrBulkTooLarge)

	student, err := w.store.GetStudent(ctx, w.student.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, student.CoursesEnrolled)
	assert.Empty(t, w.bus.types())
}

func TestRecordTopicTime(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	w.enroll(t, w.student.ID)
	h := NewRecordTopicTimeHandler(w.store, w.svc, w.bus, nil)

	res, err := h.Handle(ctx, RecordTopicTimeCommand{StudentID: w.student.ID, TopicID: w.t1.ID, Seconds: 90})
	require.NoError(t, err)
	assert.Equal(t, int64(90), res.TopicProgress.TimeSpentSeconds)
	require.NotNil(t, res.CourseProgress)
	assert.Equal(t, int64(1), res.CourseProgress.TotalTimeMinutes)

	res, err = h.Handle(ctx, RecordTopicTimeCommand{StudentID: w.student.ID, TopicID: w.t2.ID, Seconds: 30})
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.CourseProgress.TotalTimeMinutes)

	res, err = h.Handle(ctx, RecordTopicTimeCommand{StudentID: w.student.ID, TopicID: w.t1.ID, Seconds: 0})
	require.NoError(t, err)
	assert.Equal(t, int64(90), res.TopicProgress.TimeSpentSeconds)
	assert.Nil(t, res.CourseProgress)

	assert.Equal(t, []shared.EventType{shared.EventTopicTimeRecorded, shared.EventTopicTimeRecorded}, w.bus.types())

	_, err = h.Handle(ctx, RecordTopicTimeCommand{StudentID: w.student.ID, TopicID: w.t1.ID, Seconds: -1})
	assert.ErrorIs(t, err, shared.ErrInvalidTimeSpent)
	_, err = h.Handle(ctx, RecordTopicTimeCommand{StudentID: w.student.ID, TopicID: w.t1.ID, Seconds: progress.MaxTopicSecondsPerCall})
	assert.ErrorIs(t, err, shared.ErrValueOutOfRange)

	tp, err := w.store.GetTopicProgress(ctx, w.student.ID, w.t1.ID)
	require.NoError(t, err)
	assert.False(t, tp.Completed)
}

func TestRecordSkillScore(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	h := NewRecordSkillScoreHandler(w.store, w.svc, w.bus, nil)
	cmd := RecordSkillScoreCommand{StudentID: w.student.ID, CourseID: w.course.ID, Score: 80}

	_, err := h.Handle(ctx, cmd)
	assert.ErrorIs(t, err, shared.ErrCourseProgressNotFound)

	w.enroll(t, w.student.ID)
	cp, err := h.Handle(ctx, cmd)
	require.NoError(t, err)
	assert.Equal(t, 80, cp.SkillScore)

	_, err = h.Handle(ctx, RecordSkillScoreCommand{StudentID: w.student.ID, CourseID: w.course.ID, Score: 101})
	assert.ErrorIs(t, err, shared.ErrInvalidSkillScore)

	assert.Equal(t, []shared.EventType{shared.EventSkillScoreRecorded}, w.bus.types())
}

func TestRecompute_AfterAuthoringChange(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	w.enroll(t, w.student.ID)
	mark := NewMarkMaterialCompletedHandler(w.store, w.svc, nil, nil)
	h := NewRecomputeHandler(w.store, w.svc, w.bus, nil)

	_, err := mark.Handle(ctx, MarkMaterialCompletedCommand{StudentID: w.student.ID, MaterialID: w.m1.ID})
	require.NoError(t, err)

	// Removing the unfinished material makes t1 complete on re-evaluation.
	require.NoError(t, w.store.RemoveMaterial(w.m2.ID))

	topic, err := h.ReevaluateTopic(ctx, ReevaluateTopicCommand{StudentID: w.student.ID, TopicID: w.t1.ID})
	require.NoError(t, err)
	assert.True(t, topic.NewlyCompleted)

	course, err := h.RecomputeCourse(ctx, RecomputeCourseCommand{StudentID: w.student.ID, CourseID: w.course.ID})
	require.NoError(t, err)
	assert.Equal(t, 50, course.Progress.ProgressPercent)
	assert.False(t, course.Changed)
	assert.Equal(t, 1, course.CompletedTopics)
	assert.Equal(t, 2, course.TotalTopics)

	assert.Equal(t, []shared.EventType{shared.EventTopicCompleted, shared.EventCourseProgressUpdated}, w.bus.types())

	_, err = h.RecomputeCourse(ctx, RecomputeCourseCommand{StudentID: "ghost", CourseID: w.course.ID})
	assert.ErrorIs(t, err, shared.ErrStudentNotFound)
}
