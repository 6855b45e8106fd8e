// Package memory provides an in-memory implementation of progress.Store used
// for tests and local runs without a database.
//
// Transactions are serialized by a single mutex and run against a clone of the
// state. The clone replaces the live state only when the callback returns nil,
// so a failing callback leaves nothing behind.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/learnsphere/learnsphere-core/internal/domain/progress"
	"github.com/learnsphere/learnsphere-core/internal/domain/shared"
)

// Compile-time contract assertions.
var (
	_ progress.Store = (*Store)(nil)
	_ progress.Tx    = (*txn)(nil)
)

type pairKey struct {
	owner string
	item  string
}

type state struct {
	students  map[string]progress.Student
	courses   map[string]progress.Course
	topics    map[string]progress.Topic
	materials map[string]progress.Material

	enrollments      map[pairKey]progress.Enrollment
	materialProgress map[pairKey]progress.MaterialProgress
	topicProgress    map[pairKey]progress.TopicProgress
	courseProgress   map[pairKey]progress.CourseProgress
}

func newState() state {
	return state{
		students:         make(map[string]progress.Student),
		courses:          make(map[string]progress.Course),
		topics:           make(map[string]progress.Topic),
		materials:        make(map[string]progress.Material),
		enrollments:      make(map[pairKey]progress.Enrollment),
		materialProgress: make(map[pairKey]progress.MaterialProgress),
		topicProgress:    make(map[pairKey]progress.TopicProgress),
		courseProgress:   make(map[pairKey]progress.CourseProgress),
	}
}

// clone copies every map. Rows are values and their time pointers are never
// mutated in place, so copying the structs is enough.
func (s state) clone() state {
	c := newState()
	for k, v := range s.students {
		c.students[k] = v
	}
	for k, v := range s.courses {
		c.courses[k] = v
	}
	for k, v := range s.topics {
		c.topics[k] = v
	}
	for k, v := range s.materials {
		c.materials[k] = v
	}
	for k, v := range s.enrollments {
		c.enrollments[k] = v
	}
	for k, v := range s.materialProgress {
		c.materialProgress[k] = v
	}
	for k, v := range s.topicProgress {
		c.topicProgress[k] = v
	}
	for k, v := range s.courseProgress {
		c.courseProgress[k] = v
	}
	return c
}

// Store is an in-memory progress.Store for tests and local runs.
//
// One store-wide mutex serializes every transaction, so transactions on
// unrelated (student, course) pairs never run in parallel. It does not model
// the per-row locking the postgres store relies on; concurrency tests against
// it check outcomes, not throughput.
type Store struct {
	mu    sync.RWMutex
	state state
	clock shared.Clock
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{state: newState(), clock: shared.SystemClock}
}

// WithinTx runs fn against a private copy of the state and publishes the copy
// iff fn returns nil.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx progress.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	working := s.state.clone()
	tx := &txn{view: view{st: &working}, clock: s.clock}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	s.state = working
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// SEEDING
// Catalog authoring lives outside this service; tests and local runs seed it here.
// ══════════════════════════════════════════════════════════════════════════════

// AddStudent registers a student with a normalized email.
func (s *Store) AddStudent(email, name string) *progress.Student {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := progress.Student{
		ID:        uuid.NewString(),
		Email:     strings.ToLower(strings.TrimSpace(email)),
		Name:      name,
		CreatedAt: s.clock(),
	}
	s.state.students[st.ID] = st
	return &st
}

// AddCourse registers a course.
func (s *Store) AddCourse(title string) *progress.Course {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := progress.Course{ID: uuid.NewString(), Title: title, CreatedAt: s.clock()}
	s.state.courses[c.ID] = c
	return &c
}

// AddTopic appends a topic to the course.
func (s *Store) AddTopic(courseID, title string) (*progress.Topic, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.state.courses[courseID]; !ok {
		return nil, shared.ErrCourseNotFound
	}
	position := 0
	for _, t := range s.state.topics {
		if t.CourseID == courseID && t.Position >= position {
			position = t.Position + 1
		}
	}
	t := progress.Topic{ID: uuid.NewString(), CourseID: courseID, Title: title, Position: position}
	s.state.topics[t.ID] = t
	return &t, nil
}

// AddMaterial adds a material to the topic and bumps Topic.MaterialsCount.
func (s *Store) AddMaterial(topicID, title string) (*progress.Material, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.state.topics[topicID]
	if !ok {
		return nil, shared.ErrTopicNotFound
	}
	m := progress.Material{ID: uuid.NewString(), TopicID: topicID, Title: title}
	s.state.materials[m.ID] = m
	t.MaterialsCount++
	s.state.topics[topicID] = t
	return &m, nil
}

// RemoveMaterial deletes a material and its progress rows, lowering
// Topic.MaterialsCount.
func (s *Store) RemoveMaterial(materialID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.state.materials[materialID]
	if !ok {
		return shared.ErrMaterialNotFound
	}
	delete(s.state.materials, materialID)
	for k := range s.state.materialProgress {
		if k.item == materialID {
			delete(s.state.materialProgress, k)
		}
	}
	if t, ok := s.state.topics[m.TopicID]; ok && t.MaterialsCount > 0 {
		t.MaterialsCount--
		s.state.topics[t.ID] = t
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// READS OUTSIDE A TRANSACTION
// ══════════════════════════════════════════════════════════════════════════════

func read[T any](s *Store, fn func(v view) (T, error)) (T, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(view{st: &s.state})
}

func (s *Store) GetStudent(ctx context.Context, studentID string) (*progress.Student, error) {
	return read(s, func(v view) (*progress.Student, error) { return v.GetStudent(ctx, studentID) })
}

func (s *Store) FindStudentByEmail(ctx context.Context, email string) (*progress.Student, error) {
	return read(s, func(v view) (*progress.Student, error) { return v.FindStudentByEmail(ctx, email) })
}

func (s *Store) GetCourse(ctx context.Context, courseID string) (*progress.Course, error) {
	return read(s, func(v view) (*progress.Course, error) { return v.GetCourse(ctx, courseID) })
}

func (s *Store) GetTopic(ctx context.Context, topicID string) (*progress.Topic, error) {
	return read(s, func(v view) (*progress.Topic, error) { return v.GetTopic(ctx, topicID) })
}

func (s *Store) GetMaterial(ctx context.Context, materialID string) (*progress.Material, error) {
	return read(s, func(v view) (*progress.Material, error) { return v.GetMaterial(ctx, materialID) })
}

func (s *Store) ListMaterialIDs(ctx context.Context, topicID string) ([]string, error) {
	return read(s, func(v view) ([]string, error) { return v.ListMaterialIDs(ctx, topicID) })
}

func (s *Store) ListTopicIDs(ctx context.Context, courseID string) ([]string, error) {
	return read(s, func(v view) ([]string, error) { return v.ListTopicIDs(ctx, courseID) })
}

func (s *Store) CompletedMaterialIDs(ctx context.Context, studentID string, materialIDs []string) ([]string, error) {
	return read(s, func(v view) ([]string, error) { return v.CompletedMaterialIDs(ctx, studentID, materialIDs) })
}

func (s *Store) CompletedTopicIDs(ctx context.Context, studentID string, topicIDs []string) ([]string, error) {
	return read(s, func(v view) ([]string, error) { return v.CompletedTopicIDs(ctx, studentID, topicIDs) })
}

func (s *Store) SumTopicSeconds(ctx context.Context, studentID string, topicIDs []string) (int64, error) {
	return read(s, func(v view) (int64, error) { return v.SumTopicSeconds(ctx, studentID, topicIDs) })
}

func (s *Store) GetTopicProgress(ctx context.Context, studentID, topicID string) (*progress.TopicProgress, error) {
	return read(s, func(v view) (*progress.TopicProgress, error) { return v.GetTopicProgress(ctx, studentID, topicID) })
}

func (s *Store) GetCourseProgress(ctx context.Context, studentID, courseID string) (*progress.CourseProgress, error) {
	return read(s, func(v view) (*progress.CourseProgress, error) { return v.GetCourseProgress(ctx, studentID, courseID) })
}

func (s *Store) GetEnrollment(ctx context.Context, studentID, courseID string) (*progress.Enrollment, error) {
	return read(s, func(v view) (*progress.Enrollment, error) { return v.GetEnrollment(ctx, studentID, courseID) })
}

func (s *Store) ListStudentEnrollments(ctx context.Context, studentID string) ([]*progress.EnrollmentView, error) {
	return read(s, func(v view) ([]*progress.EnrollmentView, error) { return v.ListStudentEnrollments(ctx, studentID) })
}

func (s *Store) ListCourseEnrollments(ctx context.Context, courseID string) ([]*progress.Enrollment, error) {
	return read(s, func(v view) ([]*progress.Enrollment, error) { return v.ListCourseEnrollments(ctx, courseID) })
}

func (s *Store) ListMaterialProgress(ctx context.Context, studentID string) ([]*progress.MaterialProgress, error) {
	return read(s, func(v view) ([]*progress.MaterialProgress, error) { return v.ListMaterialProgress(ctx, studentID) })
}

func (s *Store) ListTopicProgress(ctx context.Context, studentID string) ([]*progress.TopicProgress, error) {
	return read(s, func(v view) ([]*progress.TopicProgress, error) { return v.ListTopicProgress(ctx, studentID) })
}

// ══════════════════════════════════════════════════════════════════════════════
// VIEW (reads over a state)
// ══════════════════════════════════════════════════════════════════════════════

type view struct {
	st *state
}

func (v view) GetStudent(_ context.Context, studentID string) (*progress.Student, error) {
	s, ok := v.st.students[studentID]
	if !ok {
		return nil, shared.ErrStudentNotFound
	}
	return &s, nil
}

func (v view) FindStudentByEmail(_ context.Context, email string) (*progress.Student, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	for _, s := range v.st.students {
		if s.Email == email {
			return &s, nil
		}
	}
	return nil, shared.ErrStudentNotFound
}

func (v view) GetCourse(_ context.Context, courseID string) (*progress.Course, error) {
	c, ok := v.st.courses[courseID]
	if !ok {
		return nil, shared.ErrCourseNotFound
	}
	return &c, nil
}

func (v view) GetTopic(_ context.Context, topicID string) (*progress.Topic, error) {
	t, ok := v.st.topics[topicID]
	if !ok {
		return nil, shared.ErrTopicNotFound
	}
	return &t, nil
}

func (v view) GetMaterial(_ context.Context, materialID string) (*progress.Material, error) {
	m, ok := v.st.materials[materialID]
	if !ok {
		return nil, shared.ErrMaterialNotFound
	}
	return &m, nil
}

func (v view) ListMaterialIDs(_ context.Context, topicID string) ([]string, error) {
	ids := make([]string, 0)
	for _, m := range v.st.materials {
		if m.TopicID == topicID {
			ids = append(ids, m.ID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (v view) ListTopicIDs(_ context.Context, courseID string) ([]string, error) {
	topics := make([]progress.Topic, 0)
	for _, t := range v.st.topics {
		if t.CourseID == courseID {
			topics = append(topics, t)
		}
	}
	sort.Slice(topics, func(i, j int) bool {
		if topics[i].Position != topics[j].Position {
			return topics[i].Position < topics[j].Position
		}
		return topics[i].ID < topics[j].ID
	})
	ids := make([]string, len(topics))
	for i, t := range topics {
		ids[i] = t.ID
	}
	return ids, nil
}

func (v view) CompletedMaterialIDs(_ context.Context, studentID string, materialIDs []string) ([]string, error) {
	done := make([]string, 0, len(materialIDs))
	for _, id := range materialIDs {
		if p, ok := v.st.materialProgress[pairKey{studentID, id}]; ok && p.Completed {
			done = append(done, id)
		}
	}
	return done, nil
}

func (v view) CompletedTopicIDs(_ context.Context, studentID string, topicIDs []string) ([]string, error) {
	done := make([]string, 0, len(topicIDs))
	for _, id := range topicIDs {
		if p, ok := v.st.topicProgress[pairKey{studentID, id}]; ok && p.Completed {
			done = append(done, id)
		}
	}
	return done, nil
}

func (v view) SumTopicSeconds(_ context.Context, studentID string, topicIDs []string) (int64, error) {
	var total int64
	for _, id := range topicIDs {
		if p, ok := v.st.topicProgress[pairKey{studentID, id}]; ok {
			total += p.TimeSpentSeconds
		}
	}
	return total, nil
}

func (v view) GetTopicProgress(_ context.Context, studentID, topicID string) (*progress.TopicProgress, error) {
	p, ok := v.st.topicProgress[pairKey{studentID, topicID}]
	if !ok {
		return nil, shared.ErrTopicProgressNotFound
	}
	return &p, nil
}

func (v view) GetCourseProgress(_ context.Context, studentID, courseID string) (*progress.CourseProgress, error) {
	p, ok := v.st.courseProgress[pairKey{studentID, courseID}]
	if !ok {
		return nil, shared.ErrCourseProgressNotFound
	}
	return &p, nil
}

func (v view) GetEnrollment(_ context.Context, studentID, courseID string) (*progress.Enrollment, error) {
	e, ok := v.st.enrollments[pairKey{studentID, courseID}]
	if !ok {
		return nil, shared.ErrEnrollmentNotFound
	}
	return &e, nil
}

func (v view) ListStudentEnrollments(_ context.Context, studentID string) ([]*progress.EnrollmentView, error) {
	out := make([]*progress.EnrollmentView, 0)
	for k, e := range v.st.enrollments {
		if k.owner != studentID {
			continue
		}
		out = append(out, &progress.EnrollmentView{
			Enrollment:  e,
			CourseTitle: v.st.courses[e.CourseID].Title,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].EnrolledAt.Equal(out[j].EnrolledAt) {
			return out[i].EnrolledAt.After(out[j].EnrolledAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (v view) ListCourseEnrollments(_ context.Context, courseID string) ([]*progress.Enrollment, error) {
	out := make([]*progress.Enrollment, 0)
	for k, e := range v.st.enrollments {
		if k.item != courseID {
			continue
		}
		e := e
		out = append(out, &e)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].EnrolledAt.Equal(out[j].EnrolledAt) {
			return out[i].EnrolledAt.Before(out[j].EnrolledAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (v view) ListMaterialProgress(_ context.Context, studentID string) ([]*progress.MaterialProgress, error) {
	out := make([]*progress.MaterialProgress, 0)
	for k, p := range v.st.materialProgress {
		if k.owner == studentID {
			p := p
			out = append(out, &p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MaterialID < out[j].MaterialID })
	return out, nil
}

func (v view) ListTopicProgress(_ context.Context, studentID string) ([]*progress.TopicProgress, error) {
	out := make([]*progress.TopicProgress, 0)
	for k, p := range v.st.topicProgress {
		if k.owner == studentID {
			p := p
			out = append(out, &p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TopicID < out[j].TopicID })
	return out, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// TRANSACTION (writes over the working copy)
// ══════════════════════════════════════════════════════════════════════════════

type txn struct {
	view
	clock shared.Clock
}

func (t *txn) GetOrCreateMaterialProgress(_ context.Context, studentID, materialID string) (progress.GetOrCreate[progress.MaterialProgress], error) {
	key := pairKey{studentID, materialID}
	if p, ok := t.st.materialProgress[key]; ok {
		return progress.GetOrCreate[progress.MaterialProgress]{Row: &p}, nil
	}
	if _, ok := t.st.students[studentID]; !ok {
		return progress.GetOrCreate[progress.MaterialProgress]{}, shared.ErrStudentNotFound
	}
	if _, ok := t.st.materials[materialID]; !ok {
		return progress.GetOrCreate[progress.MaterialProgress]{}, shared.ErrMaterialNotFound
	}
	p := progress.MaterialProgress{ID: uuid.NewString(), StudentID: studentID, MaterialID: materialID}
	t.st.materialProgress[key] = p
	return progress.GetOrCreate[progress.MaterialProgress]{Row: &p, Created: true}, nil
}

func (t *txn) SaveMaterialProgress(_ context.Context, p *progress.MaterialProgress) error {
	key := pairKey{p.StudentID, p.MaterialID}
	if _, ok := t.st.materialProgress[key]; !ok {
		return shared.NewDomainError("progress", "SaveMaterialProgress", shared.ErrNotFound, "material progress not found")
	}
	t.st.materialProgress[key] = *p
	return nil
}

func (t *txn) GetOrCreateTopicProgress(_ context.Context, studentID, topicID string) (progress.GetOrCreate[progress.TopicProgress], error) {
	key := pairKey{studentID, topicID}
	if p, ok := t.st.topicProgress[key]; ok {
		return progress.GetOrCreate[progress.TopicProgress]{Row: &p}, nil
	}
	if _, ok := t.st.students[studentID]; !ok {
		return progress.GetOrCreate[progress.TopicProgress]{}, shared.ErrStudentNotFound
	}
	if _, ok := t.st.topics[topicID]; !ok {
		return progress.GetOrCreate[progress.TopicProgress]{}, shared.ErrTopicNotFound
	}
	p := progress.TopicProgress{ID: uuid.NewString(), StudentID: studentID, TopicID: topicID, LastUpdated: t.clock()}
	t.st.topicProgress[key] = p
	return progress.GetOrCreate[progress.TopicProgress]{Row: &p, Created: true}, nil
}

func (t *txn) SaveTopicProgress(_ context.Context, p *progress.TopicProgress) error {
	key := pairKey{p.StudentID, p.TopicID}
	if _, ok := t.st.topicProgress[key]; !ok {
		return shared.ErrTopicProgressNotFound
	}
	t.st.topicProgress[key] = *p
	return nil
}

func (t *txn) GetOrCreateCourseProgress(_ context.Context, studentID, courseID string) (progress.GetOrCreate[progress.CourseProgress], error) {
	key := pairKey{studentID, courseID}
	if p, ok := t.st.courseProgress[key]; ok {
		return progress.GetOrCreate[progress.CourseProgress]{Row: &p}, nil
	}
	if _, ok := t.st.students[studentID]; !ok {
		return progress.GetOrCreate[progress.CourseProgress]{}, shared.ErrStudentNotFound
	}
	if _, ok := t.st.courses[courseID]; !ok {
		return progress.GetOrCreate[progress.CourseProgress]{}, shared.ErrCourseNotFound
	}
	p := progress.CourseProgress{ID: uuid.NewString(), StudentID: studentID, CourseID: courseID, LastUpdated: t.clock()}
	t.st.courseProgress[key] = p
	return progress.GetOrCreate[progress.CourseProgress]{Row: &p, Created: true}, nil
}

func (t *txn) SaveCourseProgress(_ context.Context, p *progress.CourseProgress) error {
	key := pairKey{p.StudentID, p.CourseID}
	if _, ok := t.st.courseProgress[key]; !ok {
		return shared.ErrCourseProgressNotFound
	}
	if !shared.Percent(p.ProgressPercent).IsValid() {
		return shared.ErrInvalidPercent
	}
	t.st.courseProgress[key] = *p
	return nil
}

func (t *txn) CreateEnrollment(_ context.Context, e *progress.Enrollment) error {
	key := pairKey{e.StudentID, e.CourseID}
	if _, ok := t.st.enrollments[key]; ok {
		return shared.ErrAlreadyEnrolled
	}
	if _, ok := t.st.students[e.StudentID]; !ok {
		return shared.ErrStudentNotFound
	}
	if _, ok := t.st.courses[e.CourseID]; !ok {
		return shared.ErrCourseNotFound
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	t.st.enrollments[key] = *e
	return nil
}

func (t *txn) SaveEnrollment(_ context.Context, e *progress.Enrollment) error {
	key := pairKey{e.StudentID, e.CourseID}
	if _, ok := t.st.enrollments[key]; !ok {
		return shared.ErrEnrollmentNotFound
	}
	if !shared.Percent(e.CompletionPercentage).IsValid() {
		return shared.ErrInvalidPercent
	}
	t.st.enrollments[key] = *e
	return nil
}

func (t *txn) DeleteEnrollment(_ context.Context, studentID, courseID string) error {
	key := pairKey{studentID, courseID}
	if _, ok := t.st.enrollments[key]; !ok {
		return shared.ErrEnrollmentNotFound
	}
	delete(t.st.enrollments, key)
	return nil
}

func (t *txn) AdjustCourseEnrollments(_ context.Context, courseID string, delta int) (int, error) {
	c, ok := t.st.courses[courseID]
	if !ok {
		return 0, shared.ErrCourseNotFound
	}
	c.TotalEnrollments = floorAdd(c.TotalEnrollments, delta)
	t.st.courses[courseID] = c
	return c.TotalEnrollments, nil
}

func (t *txn) AdjustStudentCourses(_ context.Context, studentID string, delta int) (int, error) {
	s, ok := t.st.students[studentID]
	if !ok {
		return 0, shared.ErrStudentNotFound
	}
	s.CoursesEnrolled = floorAdd(s.CoursesEnrolled, delta)
	t.st.students[studentID] = s
	return s.CoursesEnrolled, nil
}

func floorAdd(v, delta int) int {
	if v+delta < 0 {
		return 0
	}
	return v + delta
}

// SetClock replaces the clock used for default row timestamps. Test helper.
func (s *Store) SetClock(clock func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clock = clock
}
