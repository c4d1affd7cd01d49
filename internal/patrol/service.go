package patrol

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Options wires the engine's collaborators. Repositories, pool, and
// event sink are required; screenshotter, comparer, and notifier are
// optional capabilities.
type Options struct {
	Logger     *zap.Logger
	Tasks      TaskRepository
	Executions ExecutionRepository
	Pool       BrowserPool
	Shots      Screenshotter
	Visual     VisualComparer
	Notifier   Notifier
	Events     EventSink
}

// Service is the execution lifecycle manager: it owns the
// pending→running→completed/failed transitions of patrol runs,
// aggregates totals, and emits lifecycle events.
type Service struct {
	log      *zap.Logger
	tasks    TaskRepository
	execs    ExecutionRepository
	pool     BrowserPool
	shots    Screenshotter
	visual   VisualComparer
	notifier Notifier
	events   EventSink

	wg sync.WaitGroup
}

type nopSink struct{}

func (nopSink) Emit(Event) {}

// NewService builds the engine from its collaborators.
func NewService(opts Options) *Service {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	events := opts.Events
	if events == nil {
		events = nopSink{}
	}
	return &Service{
		log:      log,
		tasks:    opts.Tasks,
		execs:    opts.Executions,
		pool:     opts.Pool,
		shots:    opts.Shots,
		visual:   opts.Visual,
		notifier: opts.Notifier,
		events:   events,
	}
}

// Wait blocks until all background patrol runs have settled. Intended
// for shutdown and tests.
func (s *Service) Wait() {
	s.wg.Wait()
}

// emit pushes a lifecycle event; sink trouble never aborts a run.
func (s *Service) emit(t EventType, taskID, executionID, msg string) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Warn("event emission panicked", zap.Any("panic", r))
		}
	}()
	s.events.Emit(Event{
		Type:        t,
		Timestamp:   time.Now(),
		TaskID:      taskID,
		ExecutionID: executionID,
		Message:     msg,
	})
}

// ExecutePatrol creates a pending execution for the task and returns
// its id immediately; the run proceeds in the background.
func (s *Service) ExecutePatrol(ctx context.Context, taskID string) (string, error) {
	task, err := s.tasks.FindByID(ctx, taskID)
	if err != nil {
		return "", fmt.Errorf("load task %s: %w", taskID, err)
	}
	if task == nil {
		return "", fmt.Errorf("patrol task %s not found", taskID)
	}
	if !task.Enabled {
		return "", fmt.Errorf("patrol task %s is disabled", taskID)
	}

	exec := &Execution{
		ID:        uuid.NewString(),
		TaskID:    taskID,
		Status:    ExecutionPending,
		StartedAt: time.Now(),
		TotalURLs: len(task.URLs) * len(task.Config.DeviceList()),
	}
	if err := s.execs.Create(ctx, exec); err != nil {
		return "", fmt.Errorf("create execution: %w", err)
	}
	s.emit(EventExecutionCreated, taskID, exec.ID, "")

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		// Detached from the request context: the caller returns
		// immediately while the run proceeds.
		s.run(context.Background(), exec.ID, task)
	}()

	return exec.ID, nil
}

// run drives one execution to a terminal state. Per-URL failures never
// escape their jobs; only browser acquisition failure at the very
// start flips the execution to failed.
func (s *Service) run(ctx context.Context, executionID string, task *Task) {
	start := time.Now()
	log := s.log.With(zap.String("execution_id", executionID), zap.String("task", task.Name))
	log.Info("patrol execution starting", zap.Int("urls", len(task.URLs)))

	runner := newBatchRunner(s.pool, log)
	if err := runner.start(ctx); err != nil {
		log.Error("patrol execution failed before start", zap.Error(err))
		s.finalizeFailed(ctx, executionID, task.ID, err, time.Since(start))
		return
	}
	defer runner.close()

	if err := s.execs.UpdateStatus(ctx, executionID, ExecutionRunning, ""); err != nil {
		log.Error("mark running failed", zap.Error(err))
	}
	s.emit(EventPatrolStarted, task.ID, executionID, "")

	test := func(ctx context.Context, page Page, u PatrolURL, dev Device) TestResult {
		return runWithRetry(ctx, log, task.Config.Retry, u.Name, func(n int) TestResult {
			return s.testURL(ctx, page, u, dev, task.Config)
		})
	}

	results, err := runner.run(ctx, task, test)
	if err != nil {
		log.Error("patrol execution failed", zap.Error(err))
		s.finalizeFailed(ctx, executionID, task.ID, err, time.Since(start))
		return
	}

	passed, failed := 0, 0
	for _, res := range results {
		if res.Status == StatusPass {
			passed++
		} else {
			failed++
		}
	}
	duration := time.Since(start)

	if err := s.execs.Complete(ctx, executionID, passed, failed, results, duration); err != nil {
		log.Error("persist completion failed", zap.Error(err))
	}
	s.emit(EventPatrolCompleted, task.ID, executionID,
		fmt.Sprintf("%d passed, %d failed", passed, failed))
	log.Info("patrol execution completed",
		zap.Int("passed", passed),
		zap.Int("failed", failed),
		zap.Duration("duration", duration))

	s.notify(ctx, executionID, task)
}

func (s *Service) finalizeFailed(ctx context.Context, executionID, taskID string, cause error, duration time.Duration) {
	if err := s.execs.Fail(ctx, executionID, cause.Error(), duration); err != nil {
		s.log.Error("mark failed failed", zap.String("execution_id", executionID), zap.Error(err))
	}
	s.emit(EventPatrolFailed, taskID, executionID, cause.Error())
}

// notify dispatches the report whenever at least one recipient is
// configured, regardless of the overall outcome. Delivery failure is
// swallowed: it never flips a completed run.
func (s *Service) notify(ctx context.Context, executionID string, task *Task) {
	if s.notifier == nil || len(task.NotificationTargets) == 0 {
		return
	}
	if err := s.notifier.SendPatrolReport(ctx, executionID); err != nil {
		s.log.Warn("patrol report dispatch failed",
			zap.String("execution_id", executionID),
			zap.Error(err))
		return
	}
	if err := s.execs.MarkNotified(ctx, executionID, time.Now()); err != nil {
		s.log.Warn("mark notified failed", zap.String("execution_id", executionID), zap.Error(err))
	}
}

// CreateTask persists a new task and emits its lifecycle event.
func (s *Service) CreateTask(ctx context.Context, task *Task) (*Task, error) {
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	now := time.Now()
	task.CreatedAt = now
	task.UpdatedAt = now
	if err := s.tasks.Create(ctx, task); err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	s.emit(EventTaskCreated, task.ID, "", task.Name)
	return task, nil
}

// UpdateTask persists task changes.
func (s *Service) UpdateTask(ctx context.Context, task *Task) (*Task, error) {
	task.UpdatedAt = time.Now()
	if err := s.tasks.Update(ctx, task); err != nil {
		return nil, fmt.Errorf("update task %s: %w", task.ID, err)
	}
	s.emit(EventTaskUpdated, task.ID, "", task.Name)
	return task, nil
}

// DeleteTask removes a task.
func (s *Service) DeleteTask(ctx context.Context, id string) error {
	if err := s.tasks.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete task %s: %w", id, err)
	}
	s.emit(EventTaskDeleted, id, "", "")
	return nil
}

// GetTask loads one task.
func (s *Service) GetTask(ctx context.Context, id string) (*Task, error) {
	return s.tasks.FindByID(ctx, id)
}

// ListTasks loads all tasks, optionally only enabled ones.
func (s *Service) ListTasks(ctx context.Context, enabledOnly bool) ([]*Task, error) {
	return s.tasks.FindAll(ctx, enabledOnly)
}

// GetExecutionHistory returns recent executions, newest first, for one
// task or across all tasks when taskID is empty.
func (s *Service) GetExecutionHistory(ctx context.Context, taskID string, limit int) ([]*Execution, error) {
	if limit <= 0 {
		limit = 50
	}
	if taskID != "" {
		return s.execs.FindByTaskID(ctx, taskID, limit)
	}
	return s.execs.FindAll(ctx, limit)
}

// GetExecutionDetail loads one execution with its full result list.
func (s *Service) GetExecutionDetail(ctx context.Context, executionID string) (*Execution, error) {
	return s.execs.FindByID(ctx, executionID)
}
