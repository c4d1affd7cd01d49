package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"webpatrol/internal/patrol"
)

// TaskStore implements patrol.TaskRepository on SQLite.
type TaskStore struct {
	db *sql.DB
}

func (s *TaskStore) Create(ctx context.Context, t *patrol.Task) error {
	urls, targets, cfg, err := marshalTaskColumns(t)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO patrol_tasks
			(id, name, description, urls, notification_targets, schedule, enabled, config, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Name, t.Description, urls, targets, t.Schedule, t.Enabled, cfg, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert task %s: %w", t.ID, err)
	}
	return nil
}

func (s *TaskStore) Update(ctx context.Context, t *patrol.Task) error {
	urls, targets, cfg, err := marshalTaskColumns(t)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE patrol_tasks
		SET name = ?, description = ?, urls = ?, notification_targets = ?,
			schedule = ?, enabled = ?, config = ?, updated_at = ?
		WHERE id = ?`,
		t.Name, t.Description, urls, targets, t.Schedule, t.Enabled, cfg, t.UpdatedAt, t.ID)
	if err != nil {
		return fmt.Errorf("update task %s: %w", t.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("task %s not found", t.ID)
	}
	return nil
}

func (s *TaskStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM patrol_tasks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete task %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("task %s not found", id)
	}
	return nil
}

func (s *TaskStore) FindByID(ctx context.Context, id string) (*patrol.Task, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, urls, notification_targets, schedule, enabled, config, created_at, updated_at
		FROM patrol_tasks WHERE id = ?`, id)

	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return t, err
}

func (s *TaskStore) FindAll(ctx context.Context, enabledOnly bool) ([]*patrol.Task, error) {
	query := `
		SELECT id, name, description, urls, notification_targets, schedule, enabled, config, created_at, updated_at
		FROM patrol_tasks`
	if enabledOnly {
		query += ` WHERE enabled = 1`
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*patrol.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func marshalTaskColumns(t *patrol.Task) (urls, targets, cfg string, err error) {
	urlsJSON, err := json.Marshal(t.URLs)
	if err != nil {
		return "", "", "", fmt.Errorf("marshal urls: %w", err)
	}
	targetsJSON, err := json.Marshal(t.NotificationTargets)
	if err != nil {
		return "", "", "", fmt.Errorf("marshal notification targets: %w", err)
	}
	cfgJSON, err := json.Marshal(t.Config)
	if err != nil {
		return "", "", "", fmt.Errorf("marshal config: %w", err)
	}
	return string(urlsJSON), string(targetsJSON), string(cfgJSON), nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTask(row rowScanner) (*patrol.Task, error) {
	var t patrol.Task
	var urls, targets, cfg string
	if err := row.Scan(&t.ID, &t.Name, &t.Description, &urls, &targets, &t.Schedule, &t.Enabled, &cfg, &t.CreatedAt, &t.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan task: %w", err)
	}
	if err := json.Unmarshal([]byte(urls), &t.URLs); err != nil {
		return nil, fmt.Errorf("decode urls for task %s: %w", t.ID, err)
	}
	if err := json.Unmarshal([]byte(targets), &t.NotificationTargets); err != nil {
		return nil, fmt.Errorf("decode notification targets for task %s: %w", t.ID, err)
	}
	if err := json.Unmarshal([]byte(cfg), &t.Config); err != nil {
		return nil, fmt.Errorf("decode config for task %s: %w", t.ID, err)
	}
	return &t, nil
}
