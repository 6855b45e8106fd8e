package eventhandler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/learnsphere/learnsphere-core/config"
	"github.com/learnsphere/learnsphere-core/internal/application/command"
	"github.com/learnsphere/learnsphere-core/internal/domain/progress"
	"github.com/learnsphere/learnsphere-core/internal/domain/shared"
	"github.com/learnsphere/learnsphere-core/internal/infrastructure/messaging"
	"github.com/learnsphere/learnsphere-core/internal/infrastructure/notify"
	"github.com/learnsphere/learnsphere-core/internal/infrastructure/persistence/memory"
)

type fakeNotifier struct {
	mu          sync.Mutex
	enrollments []notify.EnrollmentEmail
	completions []notify.CourseCompletedEmail
	messages    []notify.CourseMessage
	err         error
}

func (f *fakeNotifier) SendEnrollmentEmail(_ context.Context, msg notify.EnrollmentEmail) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enrollments = append(f.enrollments, msg)
	return f.err
}

func (f *fakeNotifier) SendCourseCompletedEmail(_ context.Context, msg notify.CourseCompletedEmail) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completions = append(f.completions, msg)
	return f.err
}

func (f *fakeNotifier) SendCourseMessage(_ context.Context, msg notify.CourseMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, msg)
	return f.err
}

func newBus() *messaging.InMemoryEventBus {
	return messaging.NewInMemoryEventBus(messaging.InMemoryEventBusConfig{AsyncMode: false})
}

func TestNotificationHandler_EndToEnd(t *testing.T) {
	store := memory.NewStore()
	student := store.AddStudent("ada@example.com", "Ada")
	course := store.AddCourse("Go")
	topic, err := store.AddTopic(course.ID, "Basics")
	require.NoError(t, err)
	material, err := store.AddMaterial(topic.ID, "Variables")
	require.NoError(t, err)

	bus := newBus()
	n := &fakeNotifier{}
	require.NoError(t, NewNotificationHandler(n, nil, nil, NotificationConfig{}).Register(bus))

	svc := command.NewServices(progress.DefaultEmptyTopicPolicy, nil)
	ctx := context.Background()
	_, err = command.NewEnrollHandler(store, svc, bus, nil).Handle(ctx, command.EnrollCommand{StudentID: student.ID, CourseID: course.ID})
	require.NoError(t, err)
	_, err = command.NewMarkMaterialCompletedHandler(store, svc, bus, nil).Handle(ctx, command.MarkMaterialCompletedCommand{StudentID: student.ID, MaterialID: material.ID})
	require.NoError(t, err)

	require.Len(t, n.enrollments, 1)
	assert.Equal(t, notify.EnrollmentEmail{To: "ada@example.com", StudentName: "Ada", CourseTitle: "Go"}, n.enrollments[0])
	require.Len(t, n.completions, 1)
	assert.Equal(t, "Go", n.completions[0].CourseTitle)
}

func TestNotificationHandler_FeatureFlagsAndFailures(t *testing.T) {
	bus := newBus()
	n := &fakeNotifier{err: errors.New("smtp down")}
	flags := config.NewFeatureFlags()
	flags.SetStudentOverride("quiet", config.FeatureNotifyEnrollment, false)
	require.NoError(t, NewNotificationHandler(n, flags, nil, NotificationConfig{SendTimeout: time.Second}).Register(bus))

	require.NoError(t, bus.Publish(shared.NewStudentEnrolledEvent("quiet", "c", "q@example.com", "Q", "Go")))
	assert.Empty(t, n.enrollments)

	// Send failures stay inside the bus.
	require.NoError(t, bus.Publish(shared.NewStudentEnrolledEvent("loud", "c", "l@example.com", "L", "Go").AsBulk()))
	require.Len(t, n.enrollments, 1)
	assert.True(t, n.enrollments[0].Bulk)
	assert.Equal(t, int64(1), bus.Metrics().Snapshot().HandlerFailures)

	// No recipient, no email.
	require.NoError(t, bus.Publish(shared.NewCourseCompletedEvent("s", "c", time.Now())))
	assert.Empty(t, n.completions)
}
