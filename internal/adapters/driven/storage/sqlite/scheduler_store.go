package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/custodia-labs/ordersync/internal/core/domain"
	"github.com/custodia-labs/ordersync/internal/core/ports/driven"
)

const taskColumns = `id, name, interval_seconds, last_run, next_run, last_error, last_success, enabled`

// schedulerStore implements driven.SchedulerStore on the primary pool.
// Task state is not part of the order data, so it does not advance the
// commit sequence.
type schedulerStore struct {
	store *Store
}

var _ driven.SchedulerStore = (*schedulerStore)(nil)

// exec runs fn against the primary, initialising the schema once if a
// table is missing.
func (s *schedulerStore) exec(op string, fn func(db *sql.DB) error) error {
	err := classify(op, fn(s.store.primary))
	if isSchemaMissing(err) {
		if healErr := s.store.initSchema(); healErr != nil {
			return healErr
		}
		err = classify(op, fn(s.store.primary))
	}
	return err
}

// GetTask retrieves a scheduled task by ID.
// Returns nil and no error if the task does not exist.
func (s *schedulerStore) GetTask(ctx context.Context, taskID string) (*domain.ScheduledTask, error) {
	var task *domain.ScheduledTask
	err := s.exec("get task", func(db *sql.DB) error {
		var err error
		task, err = scanTask(db.QueryRowContext(ctx, "SELECT "+taskColumns+" FROM scheduled_tasks WHERE id = ?", taskID))
		return err
	})
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return task, nil
}

// ListTasks returns all scheduled tasks ordered by ID.
func (s *schedulerStore) ListTasks(ctx context.Context) ([]domain.ScheduledTask, error) {
	var tasks []domain.ScheduledTask
	err := s.exec("list tasks", func(db *sql.DB) error {
		tasks = nil
		rows, err := db.QueryContext(ctx, "SELECT "+taskColumns+" FROM scheduled_tasks ORDER BY id")
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			task, err := scanTask(rows)
			if err != nil {
				return err
			}
			tasks = append(tasks, *task)
		}
		return rows.Err()
	})
	return tasks, err
}

// SaveTask creates or updates a task by ID.
func (s *schedulerStore) SaveTask(ctx context.Context, task *domain.ScheduledTask) error {
	if task == nil {
		return domain.ErrInvalidInput
	}

	return s.exec("save task", func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO scheduled_tasks (`+taskColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				name = excluded.name,
				interval_seconds = excluded.interval_seconds,
				last_run = excluded.last_run,
				next_run = excluded.next_run,
				last_error = excluded.last_error,
				last_success = excluded.last_success,
				enabled = excluded.enabled
		`, task.ID, task.Name, int64(task.Interval/time.Second),
			formatTime(task.LastRun), formatTime(task.NextRun),
			nullString(task.LastError), formatTime(task.LastSuccess),
			boolToInt(task.Enabled))
		return err
	})
}

// DeleteTask removes a task. Deleting an unknown task is not an error.
func (s *schedulerStore) DeleteTask(ctx context.Context, taskID string) error {
	return s.exec("delete task", func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, "DELETE FROM scheduled_tasks WHERE id = ?", taskID)
		return err
	})
}

// RecordResult appends a task execution result.
func (s *schedulerStore) RecordResult(ctx context.Context, result *domain.TaskResult) error {
	if result == nil {
		return domain.ErrInvalidInput
	}

	return s.exec("record task result", func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO task_results (task_id, started_at, ended_at, success, error, items_processed)
			VALUES (?, ?, ?, ?, ?, ?)
		`, result.TaskID, formatTime(result.StartedAt), formatTime(result.EndedAt),
			boolToInt(result.Success), nullString(result.Error), result.ItemsProcessed)
		return err
	})
}

// GetTaskHistory returns up to limit results for a task, most recent first.
func (s *schedulerStore) GetTaskHistory(ctx context.Context, taskID string, limit int) ([]domain.TaskResult, error) {
	var results []domain.TaskResult
	err := s.exec("task history", func(db *sql.DB) error {
		results = nil
		rows, err := db.QueryContext(ctx, `
			SELECT task_id, started_at, ended_at, success, error, items_processed
			FROM task_results
			WHERE task_id = ?
			ORDER BY started_at DESC, id DESC
			LIMIT ?
		`, taskID, limit)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var r domain.TaskResult
			var startedAt, endedAt, errMsg sql.NullString
			var success int
			if err := rows.Scan(&r.TaskID, &startedAt, &endedAt, &success, &errMsg, &r.ItemsProcessed); err != nil {
				return err
			}
			r.StartedAt = parseTime(startedAt)
			r.EndedAt = parseTime(endedAt)
			r.Success = success == 1
			r.Error = errMsg.String
			results = append(results, r)
		}
		return rows.Err()
	})
	return results, err
}

// PruneHistory keeps the most recent keep results per task.
func (s *schedulerStore) PruneHistory(ctx context.Context, keep int) error {
	return s.exec("prune task history", func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			DELETE FROM task_results
			WHERE id NOT IN (
				SELECT id FROM (
					SELECT id, ROW_NUMBER() OVER (PARTITION BY task_id ORDER BY started_at DESC, id DESC) AS rn
					FROM task_results
				) WHERE rn <= ?
			)
		`, keep)
		return err
	})
}

// scanTask scans one row selected with taskColumns.
func scanTask(row scanner) (*domain.ScheduledTask, error) {
	var task domain.ScheduledTask
	var intervalSeconds int64
	var lastRun, nextRun, lastError, lastSuccess sql.NullString
	var enabled int

	if err := row.Scan(&task.ID, &task.Name, &intervalSeconds,
		&lastRun, &nextRun, &lastError, &lastSuccess, &enabled); err != nil {
		return nil, err
	}

	task.Interval = time.Duration(intervalSeconds) * time.Second
	task.LastRun = parseTime(lastRun)
	task.NextRun = parseTime(nextRun)
	task.LastError = lastError.String
	task.LastSuccess = parseTime(lastSuccess)
	task.Enabled = enabled == 1

	return &task, nil
}
