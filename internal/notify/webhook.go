// Package notify dispatches patrol reports to webhook targets.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"webpatrol/internal/patrol"
)

// Report is the JSON document POSTed to every webhook target.
type Report struct {
	TaskID      string         `json:"task_id"`
	TaskName    string         `json:"task_name"`
	ExecutionID string         `json:"execution_id"`
	Status      string         `json:"status"`
	StartedAt   time.Time      `json:"started_at"`
	DurationMs  int64          `json:"duration_ms"`
	TotalURLs   int            `json:"total_urls"`
	PassedURLs  int            `json:"passed_urls"`
	FailedURLs  int            `json:"failed_urls"`
	Failures    []FailureEntry `json:"failures,omitempty"`
}

// FailureEntry summarizes one failed URL for the report.
type FailureEntry struct {
	URL        string `json:"url"`
	Name       string `json:"name"`
	Device     string `json:"device,omitempty"`
	Error      string `json:"error,omitempty"`
	InfraError bool   `json:"infra_error,omitempty"`
}

// Webhook loads an execution and POSTs its report to every http(s)
// target configured on the task. Non-URL targets are skipped with a
// log line.
type Webhook struct {
	tasks  patrol.TaskRepository
	execs  patrol.ExecutionRepository
	client *http.Client
	log    *zap.Logger
}

func NewWebhook(tasks patrol.TaskRepository, execs patrol.ExecutionRepository, log *zap.Logger) *Webhook {
	if log == nil {
		log = zap.NewNop()
	}
	return &Webhook{
		tasks:  tasks,
		execs:  execs,
		client: &http.Client{Timeout: 15 * time.Second},
		log:    log,
	}
}

// SendPatrolReport dispatches the report for one execution. Targets
// fail independently; the combined error reports every failed one.
func (w *Webhook) SendPatrolReport(ctx context.Context, executionID string) error {
	exec, err := w.execs.FindByID(ctx, executionID)
	if err != nil {
		return fmt.Errorf("load execution %s: %w", executionID, err)
	}
	if exec == nil {
		return fmt.Errorf("execution %s not found", executionID)
	}
	task, err := w.tasks.FindByID(ctx, exec.TaskID)
	if err != nil {
		return fmt.Errorf("load task %s: %w", exec.TaskID, err)
	}
	if task == nil {
		return fmt.Errorf("task %s not found", exec.TaskID)
	}

	payload, err := json.Marshal(buildReport(task, exec))
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}

	var errs []error
	sent := 0
	for _, target := range task.NotificationTargets {
		if !strings.HasPrefix(target, "http://") && !strings.HasPrefix(target, "https://") {
			w.log.Info("skipping non-webhook notification target", zap.String("target", target))
			continue
		}
		if err := w.post(ctx, target, payload); err != nil {
			w.log.Warn("report delivery failed", zap.String("target", target), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", target, err))
			continue
		}
		sent++
	}

	if len(errs) > 0 {
		return fmt.Errorf("deliver report for %s: %w", executionID, errors.Join(errs...))
	}
	w.log.Info("patrol report dispatched",
		zap.String("execution_id", executionID),
		zap.Int("targets", sent))
	return nil
}

func (w *Webhook) post(ctx context.Context, target string, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}

func buildReport(task *patrol.Task, exec *patrol.Execution) Report {
	report := Report{
		TaskID:      task.ID,
		TaskName:    task.Name,
		ExecutionID: exec.ID,
		Status:      string(exec.Status),
		StartedAt:   exec.StartedAt,
		DurationMs:  exec.Duration.Milliseconds(),
		TotalURLs:   exec.TotalURLs,
		PassedURLs:  exec.PassedURLs,
		FailedURLs:  exec.FailedURLs,
	}
	for _, res := range exec.Results {
		if res.Status == patrol.StatusPass {
			continue
		}
		entry := FailureEntry{
			URL:        res.URL,
			Name:       res.Name,
			Error:      res.ErrorMessage,
			InfraError: res.InfraError,
		}
		if res.Device != nil {
			entry.Device = res.Device.Name
		}
		report.Failures = append(report.Failures, entry)
	}
	return report
}
