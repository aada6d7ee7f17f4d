package domain

import "time"

// Task IDs for the built-in scheduled syncs.
const (
	TaskIDIncrementalSync = "order-sync"
	TaskIDFullSync        = "order-full-sync"
)

// SyncTask is a built-in scheduled sync: a stored task ID bound to the
// sync mode it runs.
type SyncTask struct {
	ID   string
	Name string
	Mode SyncMode
}

// SyncTasks lists the built-in scheduled syncs.
var SyncTasks = []SyncTask{
	{ID: TaskIDIncrementalSync, Name: "Incremental Order Sync", Mode: SyncModeIncremental},
	{ID: TaskIDFullSync, Name: "Full Order Sync", Mode: SyncModeFull},
}

// LookupSyncTask returns the built-in task with the given ID.
func LookupSyncTask(id string) (SyncTask, bool) {
	for _, t := range SyncTasks {
		if t.ID == id {
			return t, true
		}
	}
	return SyncTask{}, false
}

// ScheduledTask is the persisted state of a recurring task.
type ScheduledTask struct {
	ID       string        `json:"id"`
	Name     string        `json:"name"`
	Interval time.Duration `json:"interval"`
	Enabled  bool          `json:"enabled"`

	LastRun     time.Time `json:"last_run,omitzero"`
	NextRun     time.Time `json:"next_run,omitzero"`
	LastSuccess time.Time `json:"last_success,omitzero"`

	// LastError is the message of the most recent failed run, cleared on success.
	LastError string `json:"last_error,omitempty"`
}

// Due reports whether an enabled task should run at now. A task that has
// never been scheduled is due immediately.
func (t *ScheduledTask) Due(now time.Time) bool {
	return t.Enabled && !t.NextRun.After(now)
}

// Complete records a run that started at start and ended at end and
// schedules the next one an interval after end.
func (t *ScheduledTask) Complete(start, end time.Time, err error) {
	t.LastRun = start
	t.NextRun = end.Add(t.Interval)
	if err != nil {
		t.LastError = err.Error()
		return
	}
	t.LastError = ""
	t.LastSuccess = end
}

// TaskResult is one entry of a task's run history.
type TaskResult struct {
	TaskID    string    `json:"task_id"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
	Success   bool      `json:"success"`
	Error     string    `json:"error,omitempty"`

	// ItemsProcessed is the number of orders written, including those
	// written before a failure.
	ItemsProcessed int `json:"items_processed"`
}

// TaskConfig enables a task and sets its interval.
type TaskConfig struct {
	Enabled  bool
	Interval time.Duration
}

// SchedulerConfig is the master switch plus per-task settings keyed by task ID.
type SchedulerConfig struct {
	Enabled     bool
	TaskConfigs map[string]TaskConfig
}

// Task returns the settings for taskID, zero if unset. A task without a
// positive interval is reported as disabled.
func (c SchedulerConfig) Task(taskID string) TaskConfig {
	cfg := c.TaskConfigs[taskID]
	if cfg.Interval <= 0 {
		cfg.Enabled = false
	}
	return cfg
}

// DefaultSchedulerConfig returns the default schedule: hourly incremental
// sync, with the weekly full sync switched off.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Enabled: true,
		TaskConfigs: map[string]TaskConfig{
			TaskIDIncrementalSync: {Enabled: true, Interval: time.Hour},
			TaskIDFullSync:        {Enabled: false, Interval: 7 * 24 * time.Hour},
		},
	}
}
