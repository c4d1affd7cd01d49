// Package schedule triggers patrol executions from task cron
// expressions. Tasks without a schedule run manually only.
package schedule

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"webpatrol/internal/patrol"
)

// Executor starts a patrol run; satisfied by the patrol service.
type Executor interface {
	ExecutePatrol(ctx context.Context, taskID string) (string, error)
}

// Scheduler keeps one cron entry per scheduled task and reconciles the
// entry set against the task repository.
type Scheduler struct {
	cron   *cron.Cron
	parser cron.Parser
	exec   Executor
	tasks  patrol.TaskRepository
	log    *zap.Logger

	mu      sync.Mutex
	entries map[string]cron.EntryID
	specs   map[string]string
}

func NewScheduler(exec Executor, tasks patrol.TaskRepository, log *zap.Logger) *Scheduler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Scheduler{
		cron:    cron.New(),
		parser:  cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		exec:    exec,
		tasks:   tasks,
		log:     log,
		entries: make(map[string]cron.EntryID),
		specs:   make(map[string]string),
	}
}

// Validate checks a cron expression without registering anything.
func (s *Scheduler) Validate(spec string) error {
	if spec == "" {
		return nil
	}
	if _, err := s.parser.Parse(spec); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	return nil
}

// Start syncs against the repository and begins firing entries.
func (s *Scheduler) Start(ctx context.Context) error {
	if err := s.Sync(ctx); err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

// Stop halts the cron runner and waits for in-flight trigger callbacks.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// Sync reconciles cron entries with the enabled, scheduled tasks in
// the repository. Safe to call while running.
func (s *Scheduler) Sync(ctx context.Context) error {
	tasks, err := s.tasks.FindAll(ctx, true)
	if err != nil {
		return fmt.Errorf("load tasks for scheduling: %w", err)
	}

	want := make(map[string]string)
	for _, t := range tasks {
		if t.Schedule != "" {
			want[t.ID] = t.Schedule
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for id, entryID := range s.entries {
		if spec, ok := want[id]; !ok || spec != s.specs[id] {
			s.cron.Remove(entryID)
			delete(s.entries, id)
			delete(s.specs, id)
		}
	}

	for id, spec := range want {
		if _, ok := s.entries[id]; ok {
			continue
		}
		taskID := id
		entryID, err := s.cron.AddFunc(spec, func() { s.trigger(taskID) })
		if err != nil {
			s.log.Error("invalid task schedule, skipping",
				zap.String("task_id", id),
				zap.String("schedule", spec),
				zap.Error(err))
			continue
		}
		s.entries[id] = entryID
		s.specs[id] = spec
		s.log.Info("task scheduled", zap.String("task_id", id), zap.String("schedule", spec))
	}
	return nil
}

// Scheduled reports whether a task currently has a cron entry.
func (s *Scheduler) Scheduled(taskID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[taskID]
	return ok
}

func (s *Scheduler) trigger(taskID string) {
	execID, err := s.exec.ExecutePatrol(context.Background(), taskID)
	if err != nil {
		// Disabled-since-sync and deleted tasks land here; the next
		// Sync drops their entries.
		s.log.Warn("scheduled patrol failed to start",
			zap.String("task_id", taskID),
			zap.Error(err))
		return
	}
	s.log.Info("scheduled patrol started",
		zap.String("task_id", taskID),
		zap.String("execution_id", execID))
}
