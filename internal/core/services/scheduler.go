package services

import (
	"context"
	"sync"
	"time"

	"github.com/custodia-labs/ordersync/internal/core/domain"
	"github.com/custodia-labs/ordersync/internal/core/ports/driven"
	"github.com/custodia-labs/ordersync/internal/core/ports/driving"
	"github.com/custodia-labs/ordersync/internal/logger"
)

// Scheduler defaults.
const (
	DefaultSchedulerTick = time.Minute
	historyRetention     = 100
)

// Ensure Scheduler implements the interface.
var _ driving.Scheduler = (*Scheduler)(nil)

// Scheduler runs the periodic order sync tasks. Task state lives in the
// scheduler store so a restart picks up where the last run left off.
type Scheduler struct {
	config domain.SchedulerConfig
	store  driven.SchedulerStore
	syncer driving.SyncService

	tick time.Duration
	now  func() time.Time

	mu      sync.Mutex
	running bool
	active  map[string]bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewScheduler creates a scheduler with configuration.
func NewScheduler(
	config domain.SchedulerConfig,
	store driven.SchedulerStore,
	syncer driving.SyncService,
) *Scheduler {
	return &Scheduler{
		config: config,
		store:  store,
		syncer: syncer,
		tick:   DefaultSchedulerTick,
		now:    time.Now,
		active: make(map[string]bool),
	}
}

// Start begins the scheduler loop. This method blocks until Stop is called
// or ctx is cancelled. A disabled scheduler returns immediately.
func (s *Scheduler) Start(ctx context.Context) error {
	if !s.config.Enabled {
		logger.Debug("scheduler: disabled")
		return nil
	}

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil // Already running
	}
	s.running = true
	s.stopCh = make(chan struct{})
	stopCh := s.stopCh
	s.mu.Unlock()

	if err := s.initialiseTasks(ctx); err != nil {
		logger.Warn("scheduler: failed to initialise tasks: %v", err)
	}

	return s.run(ctx, stopCh)
}

// Stop gracefully shuts down the scheduler, waiting for running tasks.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()
	return nil
}

// initialiseTasks ensures every built-in task exists in the store with
// its configured interval and enabled state.
func (s *Scheduler) initialiseTasks(ctx context.Context) error {
	for _, t := range domain.SyncTasks {
		if err := s.ensureTask(ctx, t.ID, t.Name, s.config.Task(t.ID)); err != nil {
			return err
		}
	}
	return nil
}

// ensureTask creates or updates a task in the store.
func (s *Scheduler) ensureTask(ctx context.Context, id, name string, cfg domain.TaskConfig) error {
	task, err := s.store.GetTask(ctx, id)
	if err != nil {
		return err
	}

	now := s.now()
	if task == nil {
		task = &domain.ScheduledTask{
			ID:       id,
			Name:     name,
			Interval: cfg.Interval,
			Enabled:  cfg.Enabled,
			NextRun:  now.Add(cfg.Interval),
		}
	} else {
		if task.Interval != cfg.Interval {
			task.Interval = cfg.Interval
			task.NextRun = now.Add(cfg.Interval)
		}
		task.Name = name
		task.Enabled = cfg.Enabled
	}

	return s.store.SaveTask(ctx, task)
}

// run is the main scheduler loop.
func (s *Scheduler) run(ctx context.Context, stopCh <-chan struct{}) error {
	s.checkAndRunDueTasks(ctx)

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stopCh:
			return nil
		case <-ticker.C:
			s.checkAndRunDueTasks(ctx)
		}
	}
}

// checkAndRunDueTasks starts every enabled task whose next run has passed.
func (s *Scheduler) checkAndRunDueTasks(ctx context.Context) {
	tasks, err := s.store.ListTasks(ctx)
	if err != nil {
		logger.Warn("scheduler: failed to list tasks: %v", err)
		return
	}

	now := s.now()
	for i := range tasks {
		if tasks[i].Due(now) {
			s.runTask(ctx, &tasks[i])
		}
	}
}

// runTask executes a single task in the background. A task still running
// from an earlier tick is not started again.
func (s *Scheduler) runTask(ctx context.Context, task *domain.ScheduledTask) {
	def, ok := domain.LookupSyncTask(task.ID)
	if !ok {
		logger.Warn("scheduler: unknown task ID: %s", task.ID)
		return
	}

	s.mu.Lock()
	if s.active[task.ID] {
		s.mu.Unlock()
		logger.Debug("scheduler: %s still running, skipping", task.ID)
		return
	}
	s.active[task.ID] = true
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			delete(s.active, task.ID)
			s.mu.Unlock()
		}()

		result := &domain.TaskResult{
			TaskID:    task.ID,
			StartedAt: s.now(),
		}

		var err error
		result.ItemsProcessed, err = s.runSync(ctx, def.Mode)

		result.EndedAt = s.now()
		result.Success = err == nil
		if err != nil {
			result.Error = err.Error()
			logger.Warn("scheduler: %s failed: %v", task.ID, err)
		}
		task.Complete(result.StartedAt, result.EndedAt, err)

		if saveErr := s.store.SaveTask(ctx, task); saveErr != nil {
			logger.Warn("scheduler: failed to save task %s: %v", task.ID, saveErr)
		}
		if recordErr := s.store.RecordResult(ctx, result); recordErr != nil {
			logger.Warn("scheduler: failed to record result for %s: %v", task.ID, recordErr)
		}
		if pruneErr := s.store.PruneHistory(ctx, historyRetention); pruneErr != nil {
			logger.Warn("scheduler: failed to prune history: %v", pruneErr)
		}
	}()
}

// runSync runs one sync and returns the number of records written,
// including those written before a failure.
func (s *Scheduler) runSync(ctx context.Context, mode domain.SyncMode) (int, error) {
	if s.syncer == nil {
		return 0, nil
	}

	result, err := s.syncer.Sync(ctx, driving.SyncRequest{Mode: mode})
	if result == nil {
		return 0, err
	}
	return result.Written, err
}
