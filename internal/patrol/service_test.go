package patrol

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type recordSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *recordSink) Emit(e Event) {
	s.mu.Lock()
	s.events = append(s.events, e)
	s.mu.Unlock()
}

func (s *recordSink) types() []EventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]EventType, len(s.events))
	for i, e := range s.events {
		out[i] = e.Type
	}
	return out
}

type panicSink struct{}

func (panicSink) Emit(Event) { panic("sink exploded") }

type fakeNotifier struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (n *fakeNotifier) SendPatrolReport(_ context.Context, executionID string) error {
	n.mu.Lock()
	n.calls = append(n.calls, executionID)
	n.mu.Unlock()
	return n.err
}

func newTestService(t *testing.T, pool BrowserPool, sink EventSink, notifier Notifier) (*Service, *memTaskRepo, *memExecRepo) {
	t.Helper()
	tasks := newMemTaskRepo()
	execs := newMemExecRepo()
	svc := NewService(Options{
		Tasks:      tasks,
		Executions: execs,
		Pool:       pool,
		Notifier:   notifier,
		Events:     sink,
	})
	return svc, tasks, execs
}

func seedTask(t *testing.T, tasks *memTaskRepo, task *Task) {
	t.Helper()
	require.NoError(t, tasks.Create(context.Background(), task))
}

func TestExecutePatrolLifecycle(t *testing.T) {
	pool, _ := singlePagePool(func() (Page, error) { return newFakePage(), nil })
	sink := &recordSink{}
	svc, tasks, execs := newTestService(t, pool, sink, nil)

	// Two general pages (empty check lists pass) and one product page
	// with an empty DOM, which fails its whole suite.
	seedTask(t, tasks, &Task{
		ID:      "task-1",
		Name:    "Shop patrol",
		Enabled: true,
		URLs: []PatrolURL{
			{URL: "https://shop.example.com/blog/one", Name: "Blog One"},
			{URL: "https://shop.example.com/blog/two", Name: "Blog Two"},
			{URL: "https://shop.example.com/products/widget", Name: "Widget"},
		},
	})

	execID, err := svc.ExecutePatrol(context.Background(), "task-1")
	require.NoError(t, err)
	require.NotEmpty(t, execID)
	svc.Wait()

	exec, err := execs.FindByID(context.Background(), execID)
	require.NoError(t, err)
	require.NotNil(t, exec)

	assert.Equal(t, ExecutionCompleted, exec.Status)
	assert.Equal(t, 3, exec.TotalURLs, "one implicit desktop batch")
	assert.Equal(t, 2, exec.PassedURLs)
	assert.Equal(t, 1, exec.FailedURLs)
	assert.Equal(t, exec.TotalURLs, exec.PassedURLs+exec.FailedURLs)
	require.Len(t, exec.Results, 3)
	assert.Equal(t, "https://shop.example.com/blog/one", exec.Results[0].URL)
	assert.Equal(t, StatusFail, exec.Results[2].Status)
	assert.NotNil(t, exec.CompletedAt)

	assert.Equal(t,
		[]EventType{EventExecutionCreated, EventPatrolStarted, EventPatrolCompleted},
		sink.types())

	acquired, released := pool.counts()
	assert.Equal(t, 1, acquired)
	assert.Equal(t, 1, released, "the borrowed browser goes back exactly once")
}

func TestExecutePatrolRejectsDisabledAndUnknownTasks(t *testing.T) {
	pool, _ := singlePagePool(func() (Page, error) { return newFakePage(), nil })
	svc, tasks, _ := newTestService(t, pool, &recordSink{}, nil)

	seedTask(t, tasks, &Task{ID: "off", Name: "Disabled", Enabled: false})

	_, err := svc.ExecutePatrol(context.Background(), "off")
	assert.ErrorContains(t, err, "disabled")

	_, err = svc.ExecutePatrol(context.Background(), "ghost")
	assert.ErrorContains(t, err, "not found")
}

func TestExecutePatrolBrowserAcquisitionFailure(t *testing.T) {
	pool := &fakePool{acquire: func() (Browser, error) {
		return nil, errors.New("launcher unavailable")
	}}
	sink := &recordSink{}
	svc, tasks, execs := newTestService(t, pool, sink, nil)

	seedTask(t, tasks, &Task{
		ID:      "task-1",
		Name:    "Shop patrol",
		Enabled: true,
		URLs:    []PatrolURL{{URL: "https://shop.example.com/", Name: "Home"}},
	})

	execID, err := svc.ExecutePatrol(context.Background(), "task-1")
	require.NoError(t, err, "the execution is created; it fails in the background")
	svc.Wait()

	exec, err := execs.FindByID(context.Background(), execID)
	require.NoError(t, err)
	assert.Equal(t, ExecutionFailed, exec.Status)
	assert.Contains(t, exec.ErrorMessage, "launcher unavailable")
	assert.NotNil(t, exec.CompletedAt, "failed runs finalize with a completion time")
	assert.Equal(t, []EventType{EventExecutionCreated, EventPatrolFailed}, sink.types())
}

func TestNotificationDispatch(t *testing.T) {
	task := &Task{
		ID:                  "task-1",
		Name:                "Shop patrol",
		Enabled:             true,
		URLs:                []PatrolURL{{URL: "https://shop.example.com/blog/one", Name: "Blog"}},
		NotificationTargets: []string{"ops@example.com"},
	}

	t.Run("delivered and marked", func(t *testing.T) {
		pool, _ := singlePagePool(func() (Page, error) { return newFakePage(), nil })
		notifier := &fakeNotifier{}
		svc, tasks, execs := newTestService(t, pool, &recordSink{}, notifier)
		seedTask(t, tasks, task)

		execID, err := svc.ExecutePatrol(context.Background(), "task-1")
		require.NoError(t, err)
		svc.Wait()

		assert.Equal(t, []string{execID}, notifier.calls)
		exec, _ := execs.FindByID(context.Background(), execID)
		assert.True(t, exec.Notified)
		assert.NotNil(t, exec.NotifiedAt)
	})

	t.Run("delivery failure is swallowed", func(t *testing.T) {
		pool, _ := singlePagePool(func() (Page, error) { return newFakePage(), nil })
		notifier := &fakeNotifier{err: errors.New("webhook 503")}
		svc, tasks, execs := newTestService(t, pool, &recordSink{}, notifier)
		seedTask(t, tasks, task)

		execID, err := svc.ExecutePatrol(context.Background(), "task-1")
		require.NoError(t, err)
		svc.Wait()

		exec, _ := execs.FindByID(context.Background(), execID)
		assert.Equal(t, ExecutionCompleted, exec.Status, "a failed dispatch never flips the run")
		assert.False(t, exec.Notified)
	})

	t.Run("skipped without recipients", func(t *testing.T) {
		pool, _ := singlePagePool(func() (Page, error) { return newFakePage(), nil })
		notifier := &fakeNotifier{}
		svc, tasks, _ := newTestService(t, pool, &recordSink{}, notifier)
		bare := *task
		bare.NotificationTargets = nil
		seedTask(t, tasks, &bare)

		_, err := svc.ExecutePatrol(context.Background(), "task-1")
		require.NoError(t, err)
		svc.Wait()

		assert.Empty(t, notifier.calls)
	})
}

func TestMultiDeviceTotals(t *testing.T) {
	pool, _ := singlePagePool(func() (Page, error) { return newFakePage(), nil })
	svc, tasks, execs := newTestService(t, pool, &recordSink{}, nil)

	seedTask(t, tasks, &Task{
		ID:      "task-1",
		Name:    "Shop patrol",
		Enabled: true,
		URLs: []PatrolURL{
			{URL: "https://shop.example.com/blog/one", Name: "Blog One"},
			{URL: "https://shop.example.com/blog/two", Name: "Blog Two"},
		},
		Config: Config{Devices: []Device{
			DefaultDesktop(),
			{Type: DeviceMobile, Name: "Phone", Width: 390, Height: 844},
		}},
	})

	execID, err := svc.ExecutePatrol(context.Background(), "task-1")
	require.NoError(t, err)
	svc.Wait()

	exec, _ := execs.FindByID(context.Background(), execID)
	assert.Equal(t, 4, exec.TotalURLs, "2 urls x 2 devices")
	assert.Equal(t, 4, exec.PassedURLs+exec.FailedURLs)
	assert.Len(t, exec.Results, 4)
}

func TestEventSinkPanicDoesNotAbort(t *testing.T) {
	pool, _ := singlePagePool(func() (Page, error) { return newFakePage(), nil })
	svc, _, _ := newTestService(t, pool, panicSink{}, nil)

	created, err := svc.CreateTask(context.Background(), &Task{Name: "Patrol"})
	require.NoError(t, err, "emission trouble never fails the operation")
	assert.NotEmpty(t, created.ID)
}

func TestTaskCRUDEvents(t *testing.T) {
	pool, _ := singlePagePool(func() (Page, error) { return newFakePage(), nil })
	sink := &recordSink{}
	svc, _, _ := newTestService(t, pool, sink, nil)
	ctx := context.Background()

	task, err := svc.CreateTask(ctx, &Task{Name: "Patrol", Enabled: true})
	require.NoError(t, err)
	assert.NotEmpty(t, task.ID)
	assert.False(t, task.CreatedAt.IsZero())

	task.Name = "Patrol v2"
	before := task.UpdatedAt
	time.Sleep(time.Millisecond)
	updated, err := svc.UpdateTask(ctx, task)
	require.NoError(t, err)
	assert.True(t, updated.UpdatedAt.After(before))

	loaded, err := svc.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, "Patrol v2", loaded.Name)

	require.NoError(t, svc.DeleteTask(ctx, task.ID))
	gone, err := svc.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Nil(t, gone)

	assert.Equal(t,
		[]EventType{EventTaskCreated, EventTaskUpdated, EventTaskDeleted},
		sink.types())
}
