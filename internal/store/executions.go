package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"webpatrol/internal/patrol"
)

// ExecutionStore implements patrol.ExecutionRepository on SQLite.
type ExecutionStore struct {
	db *sql.DB
}

func (s *ExecutionStore) Create(ctx context.Context, e *patrol.Execution) error {
	results, err := json.Marshal(e.Results)
	if err != nil {
		return fmt.Errorf("marshal results: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO patrol_executions
			(id, task_id, status, started_at, total_urls, passed_urls, failed_urls,
			 results, notified, duration_ms, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.TaskID, string(e.Status), e.StartedAt, e.TotalURLs, e.PassedURLs,
		e.FailedURLs, string(results), e.Notified, e.Duration.Milliseconds(), e.ErrorMessage)
	if err != nil {
		return fmt.Errorf("insert execution %s: %w", e.ID, err)
	}
	return nil
}

func (s *ExecutionStore) UpdateStatus(ctx context.Context, id string, status patrol.ExecutionStatus, errMsg string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE patrol_executions SET status = ?, error_message = ? WHERE id = ?`,
		string(status), errMsg, id)
	if err != nil {
		return fmt.Errorf("update execution %s status: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("execution %s not found", id)
	}
	return nil
}

func (s *ExecutionStore) Complete(ctx context.Context, id string, passed, failed int, results []patrol.TestResult, duration time.Duration) error {
	payload, err := json.Marshal(results)
	if err != nil {
		return fmt.Errorf("marshal results: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE patrol_executions
		SET status = ?, passed_urls = ?, failed_urls = ?, results = ?,
			duration_ms = ?, completed_at = ?
		WHERE id = ?`,
		string(patrol.ExecutionCompleted), passed, failed, string(payload),
		duration.Milliseconds(), time.Now(), id)
	if err != nil {
		return fmt.Errorf("complete execution %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("execution %s not found", id)
	}
	return nil
}

func (s *ExecutionStore) Fail(ctx context.Context, id string, errMsg string, duration time.Duration) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE patrol_executions
		SET status = ?, error_message = ?, duration_ms = ?, completed_at = ?
		WHERE id = ?`,
		string(patrol.ExecutionFailed), errMsg, duration.Milliseconds(), time.Now(), id)
	if err != nil {
		return fmt.Errorf("fail execution %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("execution %s not found", id)
	}
	return nil
}

func (s *ExecutionStore) MarkNotified(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE patrol_executions SET notified = 1, notified_at = ? WHERE id = ?`, at, id)
	if err != nil {
		return fmt.Errorf("mark execution %s notified: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("execution %s not found", id)
	}
	return nil
}

const executionColumns = `
	id, task_id, status, started_at, completed_at, total_urls, passed_urls,
	failed_urls, results, notified, notified_at, duration_ms, error_message`

func (s *ExecutionStore) FindByID(ctx context.Context, id string) (*patrol.Execution, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+executionColumns+` FROM patrol_executions WHERE id = ?`, id)
	e, err := scanExecution(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return e, err
}

func (s *ExecutionStore) FindAll(ctx context.Context, limit int) ([]*patrol.Execution, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+executionColumns+` FROM patrol_executions ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	defer rows.Close()
	return collectExecutions(rows)
}

func (s *ExecutionStore) FindByTaskID(ctx context.Context, taskID string, limit int) ([]*patrol.Execution, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+executionColumns+` FROM patrol_executions
		 WHERE task_id = ? ORDER BY started_at DESC LIMIT ?`, taskID, limit)
	if err != nil {
		return nil, fmt.Errorf("list executions for task %s: %w", taskID, err)
	}
	defer rows.Close()
	return collectExecutions(rows)
}

func collectExecutions(rows *sql.Rows) ([]*patrol.Execution, error) {
	var execs []*patrol.Execution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		execs = append(execs, e)
	}
	return execs, rows.Err()
}

func scanExecution(row rowScanner) (*patrol.Execution, error) {
	var e patrol.Execution
	var status, results string
	var completedAt, notifiedAt sql.NullTime
	var durationMs int64

	err := row.Scan(&e.ID, &e.TaskID, &status, &e.StartedAt, &completedAt,
		&e.TotalURLs, &e.PassedURLs, &e.FailedURLs, &results, &e.Notified,
		&notifiedAt, &durationMs, &e.ErrorMessage)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan execution: %w", err)
	}

	e.Status = patrol.ExecutionStatus(status)
	e.Duration = time.Duration(durationMs) * time.Millisecond
	if completedAt.Valid {
		t := completedAt.Time
		e.CompletedAt = &t
	}
	if notifiedAt.Valid {
		t := notifiedAt.Time
		e.NotifiedAt = &t
	}
	if err := json.Unmarshal([]byte(results), &e.Results); err != nil {
		return nil, fmt.Errorf("decode results for execution %s: %w", e.ID, err)
	}
	return &e, nil
}
