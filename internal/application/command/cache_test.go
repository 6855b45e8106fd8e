package command

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/learnsphere/learnsphere-core/internal/application/query"
	rediscache "github.com/learnsphere/learnsphere-core/internal/infrastructure/persistence/redis"
)

func withRedisCache(t *testing.T, w *world) *rediscache.ProgressCache {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	pc := rediscache.NewProgressCache(rediscache.NewCacheFromClient(client), 0)
	w.svc.Cache = pc
	return pc
}

func TestMarkMaterialCompleted_ReadAfterWriteSeesNewPercent(t *testing.T) {
	w := newWorld(t)
	pc := withRedisCache(t, w)
	w.enroll(t, w.student.ID)
	ctx := context.Background()

	reads := query.NewGetCourseProgressHandler(w.store, pc, nil, nil)
	listing := query.NewEnrollmentQueries(w.store, pc, nil, nil)
	q := query.GetCourseProgressQuery{StudentID: w.student.ID, CourseID: w.course.ID}

	// Warm both entries.
	dto, err := reads.Handle(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, 0, dto.ProgressPercent)
	views, err := listing.GetStudentEnrollments(ctx, w.student.ID)
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, 0, views[0].CompletionPercentage)

	mark := NewMarkMaterialCompletedHandler(w.store, w.svc, w.bus, nil)
	_, err = mark.Handle(ctx, MarkMaterialCompletedCommand{StudentID: w.student.ID, MaterialID: w.m1.ID})
	require.NoError(t, err)
	res, err := mark.Handle(ctx, MarkMaterialCompletedCommand{StudentID: w.student.ID, MaterialID: w.m2.ID})
	require.NoError(t, err)
	require.Equal(t, 50, res.CoursePercent)

	dto, err = reads.Handle(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, 50, dto.ProgressPercent)
	views, err = listing.GetStudentEnrollments(ctx, w.student.ID)
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, 50, views[0].CompletionPercentage)

	// The second read is served from the refilled entry.
	_, _, hit, err := pc.GetCourseProgress(ctx, w.student.ID, w.course.ID)
	require.NoError(t, err)
	assert.True(t, hit)
}

func TestUnenroll_DropsCachedListing(t *testing.T) {
	w := newWorld(t)
	pc := withRedisCache(t, w)
	w.enroll(t, w.student.ID)
	ctx := context.Background()

	listing := query.NewEnrollmentQueries(w.store, pc, nil, nil)
	views, err := listing.GetStudentEnrollments(ctx, w.student.ID)
	require.NoError(t, err)
	require.Len(t, views, 1)

	_, err = NewUnenrollHandler(w.store, w.svc, w.bus, nil).Handle(ctx, UnenrollCommand{StudentID: w.student.ID, CourseID: w.course.ID})
	require.NoError(t, err)

	views, err = listing.GetStudentEnrollments(ctx, w.student.ID)
	require.NoError(t, err)
	assert.Empty(t, views)
}

type failingInvalidator struct{ calls int }

func (f *failingInvalidator) Invalidate(context.Context, string, string) error {
	f.calls++
	return errors.New("redis down")
}

func TestPublisher_InvalidationFailureDoesNotFailCommand(t *testing.T) {
	w := newWorld(t)
	inv := &failingInvalidator{}
	w.svc.Cache = inv
	w.enroll(t, w.student.ID)

	res, err := NewMarkMaterialCompletedHandler(w.store, w.svc, w.bus, nil).
		Handle(context.Background(), MarkMaterialCompletedCommand{StudentID: w.student.ID, MaterialID: w.m1.ID})
	require.NoError(t, err)
	assert.True(t, res.Progress.Completed)
	// One call for the enrollment, one for the completion.
	assert.Equal(t, 2, inv.calls)
}
