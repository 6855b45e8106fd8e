package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/learnsphere/learnsphere-core/internal/domain/progress"
	"github.com/learnsphere/learnsphere-core/internal/domain/shared"
)

func TestWithinTx_RollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	student := s.AddStudent("a@example.com", "A")
	course := s.AddCourse("Go")

	boom := errors.New("boom")
	err := s.WithinTx(ctx, func(ctx context.Context, tx progress.Tx) error {
		_, err := tx.AdjustCourseEnrollments(ctx, course.ID, 1)
		require.NoError(t, err)
		_, err = tx.GetOrCreateCourseProgress(ctx, student.ID, course.ID)
		require.NoError(t, err)
		return boom
	})
	require.ErrorIs(t, err, boom)

	c, err := s.GetCourse(ctx, course.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, c.TotalEnrollments)

	_, err = s.GetCourseProgress(ctx, student.ID, course.ID)
	assert.ErrorIs(t, err, shared.ErrCourseProgressNotFound)
}

func TestAdjustCounters_FlooredAtZero(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	student := s.AddStudent("a@example.com", "A")
	course := s.AddCourse("Go")

	err := s.WithinTx(ctx, func(ctx context.Context, tx progress.Tx) error {
		n, err := tx.AdjustCourseEnrollments(ctx, course.ID, -3)
		require.NoError(t, err)
		assert.Equal(t, 0, n)

		n, err = tx.AdjustStudentCourses(ctx, student.ID, 2)
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		n, err = tx.AdjustStudentCourses(ctx, student.ID, -5)
		require.NoError(t, err)
		assert.Equal(t, 0, n)
		return nil
	})
	require.NoError(t, err)
}

func TestGetOrCreate_ReportsCreatedOnce(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	student := s.AddStudent("a@example.com", "A")
	course := s.AddCourse("Go")
	topic, err := s.AddTopic(course.ID, "Basics")
	require.NoError(t, err)
	material, err := s.AddMaterial(topic.ID, "Intro")
	require.NoError(t, err)

	for i, wantCreated := range []bool{true, false} {
		err := s.WithinTx(ctx, func(ctx context.Context, tx progress.Tx) error {
			got, err := tx.GetOrCreateMaterialProgress(ctx, student.ID, material.ID)
			require.NoError(t, err)
			assert.Equal(t, wantCreated, got.Created, "call %d", i)
			assert.False(t, got.Row.Completed)
			return nil
		})
		require.NoError(t, err)
	}

	err = s.WithinTx(ctx, func(ctx context.Context, tx progress.Tx) error {
		_, err := tx.GetOrCreateMaterialProgress(ctx, student.ID, "missing")
		return err
	})
	assert.ErrorIs(t, err, shared.ErrMaterialNotFound)
}

func TestAddMaterial_MaintainsMaterialsCount(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	course := s.AddCourse("Go")
	topic, err := s.AddTopic(course.ID, "Basics")
	require.NoError(t, err)

	m1, err := s.AddMaterial(topic.ID, "one")
	require.NoError(t, err)
	_, err = s.AddMaterial(topic.ID, "two")
	require.NoError(t, err)

	got, err := s.GetTopic(ctx, topic.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.MaterialsCount)

	require.NoError(t, s.RemoveMaterial(m1.ID))
	got, err = s.GetTopic(ctx, topic.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.MaterialsCount)

	ids, err := s.ListMaterialIDs(ctx, topic.ID)
	require.NoError(t, err)
	assert.Len(t, ids, 1)
}

func TestListTopicIDs_PositionOrder(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	course := s.AddCourse("Go")
	first, err := s.AddTopic(course.ID, "first")
	require.NoError(t, err)
	second, err := s.AddTopic(course.ID, "second")
	require.NoError(t, err)

	ids, err := s.ListTopicIDs(ctx, course.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{first.ID, second.ID}, ids)
}

func TestCreateEnrollment_Conflict(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	student := s.AddStudent("a@example.com", "A")
	course := s.AddCourse("Go")

	create := func() error {
		return s.WithinTx(ctx, func(ctx context.Context, tx progress.Tx) error {
			e := &progress.Enrollment{StudentID: student.ID, CourseID: course.ID}
			return tx.CreateEnrollment(ctx, e)
		})
	}
	require.NoError(t, create())
	err := create()
	assert.ErrorIs(t, err, shared.ErrAlreadyEnrolled)
	assert.True(t, shared.IsAlreadyExists(err))
}

func TestFindStudentByEmail_Normalizes(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	student := s.AddStudent("Mixed@Example.com", "M")

	got, err := s.FindStudentByEmail(ctx, "  mixed@example.COM ")
	require.NoError(t, err)
	assert.Equal(t, student.ID, got.ID)

	_, err = s.FindStudentByEmail(ctx, "nobody@example.com")
	assert.True(t, shared.IsNotFound(err))
}

func TestWithinTx_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := NewStore().WithinTx(ctx, func(ctx context.Context, tx progress.Tx) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}
