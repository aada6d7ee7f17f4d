package driven

import (
	"context"

	"github.com/custodia-labs/ordersync/internal/core/domain"
)

// SchedulerStore keeps scheduled task state and run history so that the
// schedule survives a restart.
type SchedulerStore interface {
	// GetTask returns (nil, nil) for an unknown task ID.
	GetTask(ctx context.Context, taskID string) (*domain.ScheduledTask, error)
	ListTasks(ctx context.Context) ([]domain.ScheduledTask, error)

	// SaveTask upserts by task ID.
	SaveTask(ctx context.Context, task *domain.ScheduledTask) error
	DeleteTask(ctx context.Context, taskID string) error

	// RecordResult appends one run to the history.
	RecordResult(ctx context.Context, result *domain.TaskResult) error

	// GetTaskHistory returns at most limit runs, newest first.
	GetTaskHistory(ctx context.Context, taskID string, limit int) ([]domain.TaskResult, error)

	// PruneHistory trims each task's history to its newest keep runs.
	PruneHistory(ctx context.Context, keep int) error
}
