package query

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/learnsphere/learnsphere-core/config"
	"github.com/learnsphere/learnsphere-core/internal/domain/progress"
	"github.com/learnsphere/learnsphere-core/internal/domain/shared"
	"github.com/learnsphere/learnsphere-core/internal/infrastructure/persistence/memory"
	rediscache "github.com/learnsphere/learnsphere-core/internal/infrastructure/persistence/redis"
)

type fixture struct {
	store   *memory.Store
	cache   *rediscache.ProgressCache
	student *progress.Student
	course  *progress.Course
	topic   *progress.Topic
	m1      *progress.Material
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	f := &fixture{
		store: memory.NewStore(),
		cache: rediscache.NewProgressCache(rediscache.NewCacheFromClient(client), 0),
	}
	f.student = f.store.AddStudent("ada@example.com", "Ada")
	f.course = f.store.AddCourse("Go")

	var err error
	f.topic, err = f.store.AddTopic(f.course.ID, "Basics")
	require.NoError(t, err)
	f.m1, err = f.store.AddMaterial(f.topic.ID, "Variables")
	require.NoError(t, err)
	return f
}

func (f *fixture) enroll(t *testing.T) {
	t.Helper()
	ledger := progress.NewLedger(nil)
	require.NoError(t, f.store.WithinTx(context.Background(), func(ctx context.Context, tx progress.Tx) error {
		_, err := ledger.Enroll(ctx, tx, f.student.ID, f.course.ID)
		return err
	}))
}

func (f *fixture) complete(t *testing.T, materialID string) {
	t.Helper()
	courses := progress.NewCourseAggregator(nil)
	tracker := progress.NewTracker(progress.NewTopicAggregator(courses, progress.DefaultEmptyTopicPolicy, nil), nil)
	require.NoError(t, f.store.WithinTx(context.Background(), func(ctx context.Context, tx progress.Tx) error {
		_, err := tracker.MarkMaterialCompleted(ctx, tx, f.student.ID, materialID)
		return err
	}))
}

func TestGetCourseProgress_ReadThrough(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	h := NewGetCourseProgressHandler(f.store, f.cache, nil, nil)
	q := GetCourseProgressQuery{StudentID: f.student.ID, CourseID: f.course.ID}

	_, err := h.Handle(ctx, q)
	assert.ErrorIs(t, err, shared.ErrCourseProgressNotFound)

	f.enroll(t)
	dto, err := h.Handle(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, 0, dto.ProgressPercent)

	// Without invalidation the cached value is served.
	f.complete(t, f.m1.ID)
	dto, err = h.Handle(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, 0, dto.ProgressPercent)

	require.NoError(t, f.cache.Invalidate(ctx, f.student.ID, f.course.ID))
	dto, err = h.Handle(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, 100, dto.ProgressPercent)
	assert.True(t, dto.Completed)
	assert.Equal(t, f.topic.ID, dto.LastTopicID)
}

func TestGetCourseProgress_FeatureFlagBypassesCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.enroll(t)

	flags := config.NewFeatureFlags()
	require.NoError(t, flags.DisableFeature(config.FeatureCacheCourseProgress))
	h := NewGetCourseProgressHandler(f.store, f.cache, flags, nil)
	q := GetCourseProgressQuery{StudentID: f.student.ID, CourseID: f.course.ID}

	_, err := h.Handle(ctx, q)
	require.NoError(t, err)

	_, _, hit, err := f.cache.GetCourseProgress(ctx, f.student.ID, f.course.ID)
	require.NoError(t, err)
	assert.False(t, hit)

	_, err = h.Handle(ctx, GetCourseProgressQuery{StudentID: f.student.ID})
	assert.True(t, shared.IsValidation(err))
}

func TestEnrollmentQueries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	h := NewEnrollmentQueries(f.store, f.cache, nil, nil)

	list, err := h.GetStudentEnrollments(ctx, f.student.ID)
	require.NoError(t, err)
	assert.Empty(t, list)

	ok, err := h.IsEnrolled(ctx, f.student.ID, f.course.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = h.GetEnrollment(ctx, f.student.ID, f.course.ID)
	assert.ErrorIs(t, err, shared.ErrEnrollmentNotFound)

	f.enroll(t)
	require.NoError(t, f.cache.Invalidate(ctx, f.student.ID, f.course.ID))

	list, err = h.GetStudentEnrollments(ctx, f.student.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Go", list[0].CourseTitle)

	ok, err = h.IsEnrolled(ctx, f.student.ID, f.course.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	byCourse, err := h.GetCourseEnrollments(ctx, f.course.ID)
	require.NoError(t, err)
	require.Len(t, byCourse, 1)
	assert.Equal(t, f.student.ID, byCourse[0].StudentID)

	_, err = h.GetCourseEnrollments(ctx, "missing")
	assert.ErrorIs(t, err, shared.ErrCourseNotFound)
	_, err = h.GetStudentEnrollments(ctx, "missing")
	assert.ErrorIs(t, err, shared.ErrStudentNotFound)
}

func TestProgressListing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	h := NewProgressListing(f.store)

	f.complete(t, f.m1.ID)

	materials, err := h.GetMaterialProgress(ctx, f.student.ID)
	require.NoError(t, err)
	require.Len(t, materials, 1)
	assert.True(t, materials[0].Completed)
	assert.NotNil(t, materials[0].CompletedAt)

	topics, err := h.GetTopicProgress(ctx, f.student.ID)
	require.NoError(t, err)
	require.Len(t, topics, 1)
	assert.Equal(t, f.topic.ID, topics[0].TopicID)
	assert.True(t, topics[0].Completed)

	_, err = h.GetTopicProgress(ctx, "missing")
	assert.ErrorIs(t, err, shared.ErrStudentNotFound)
}
