package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/custodia-labs/ordersync/internal/core/domain"
	"github.com/custodia-labs/ordersync/internal/core/ports/driven"
	"github.com/custodia-labs/ordersync/internal/core/ports/driving"
	"github.com/custodia-labs/ordersync/internal/logger"
)

// Sync defaults.
const (
	DefaultSyncPageSize   = 200
	DefaultLookback       = 90 * 24 * time.Hour
	DefaultPauseEvery     = 500
	DefaultPauseFor       = 2 * time.Second
	defaultStatusBookmark = driven.BookmarkFirstUnconstrained
)

// Ensure SyncOrchestrator implements the interface.
var _ driving.SyncService = (*SyncOrchestrator)(nil)

// SyncConfig tunes the sync loop. Zero fields take the defaults.
type SyncConfig struct {
	// PageSize is the number of records requested per page.
	PageSize int

	// Lookback is how far back the first incremental sync reaches when no
	// cursor is stored.
	Lookback time.Duration

	// PauseEvery is the number of written records between throttle pauses.
	PauseEvery int

	// PauseFor is the length of each throttle pause.
	PauseFor time.Duration

	// Retry bounds per-page retries of transient failures.
	Retry RetryPolicy

	// CompanyID, when set, tags every written order.
	CompanyID string
}

// DefaultSyncConfig returns the default sync tuning.
func DefaultSyncConfig() SyncConfig {
	return SyncConfig{
		PageSize:   DefaultSyncPageSize,
		Lookback:   DefaultLookback,
		PauseEvery: DefaultPauseEvery,
		PauseFor:   DefaultPauseFor,
		Retry:      DefaultRetryPolicy(),
	}
}

func (c SyncConfig) withDefaults() SyncConfig {
	if c.PageSize <= 0 {
		c.PageSize = DefaultSyncPageSize
	}
	if c.Lookback <= 0 {
		c.Lookback = DefaultLookback
	}
	if c.PauseEvery <= 0 {
		c.PauseEvery = DefaultPauseEvery
	}
	if c.PauseFor < 0 {
		c.PauseFor = 0
	}
	c.Retry = c.Retry.withDefaults()
	return c
}

// SyncOrchestrator runs order syncs from the CRM into the local store.
// Pages are processed one at a time: fetch, transform, write, then record
// progress. Concurrent runs are allowed; the idempotent upsert keeps them
// safe.
type SyncOrchestrator struct {
	source     driven.OrderSource
	normaliser driven.OrderNormaliser
	orders     driven.OrderStore
	cursors    driven.CursorStore
	cfg        SyncConfig

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	// Status tracking
	mu     sync.RWMutex
	runs   map[string]*driving.SyncStatus
	latest string
}

// NewSyncOrchestrator creates a new sync orchestrator.
func NewSyncOrchestrator(
	source driven.OrderSource,
	normaliser driven.OrderNormaliser,
	orders driven.OrderStore,
	cursors driven.CursorStore,
	cfg SyncConfig,
) *SyncOrchestrator {
	return &SyncOrchestrator{
		source:     source,
		normaliser: normaliser,
		orders:     orders,
		cursors:    cursors,
		cfg:        cfg.withDefaults(),
		now:        time.Now,
		sleep:      sleepContext,
		runs:       make(map[string]*driving.SyncStatus),
	}
}

// run holds the state of one Sync call.
type run struct {
	id      string
	mode    domain.SyncMode
	start   time.Time
	session driven.Session
	cursor  domain.SyncCursor
	result  *domain.SyncResult

	// sincePause counts records written since the last throttle pause.
	sincePause int
}

// Sync runs a full or incremental sync. On failure the error is a
// *domain.SyncError whose Result carries the partial progress.
func (o *SyncOrchestrator) Sync(ctx context.Context, req driving.SyncRequest) (*domain.SyncResult, error) {
	mode, err := domain.ParseSyncMode(string(req.Mode))
	if err != nil {
		return nil, fmt.Errorf("sync mode %q: %w", req.Mode, err)
	}

	session, err := o.orders.BeginSession(ctx, req.Bookmark)
	if err != nil {
		return nil, fmt.Errorf("begin session: %w", err)
	}

	r := &run{
		id:      uuid.NewString(),
		mode:    mode,
		start:   o.now().UTC(),
		session: session,
	}
	r.result = &domain.SyncResult{Mode: mode, StartedAt: r.start}

	o.track(r)
	defer o.untrack(r.id)

	logger.Info("Starting %s sync", mode)

	if err := o.execute(ctx, r); err != nil {
		return o.fail(r, err)
	}

	r.result.Success = true
	r.result.FinishedAt = o.now().UTC()
	r.result.Bookmark = session.Bookmark()
	o.setPhase(r.id, domain.PhaseIdle)

	logger.Info("Sync complete: %d fetched, %d written, %d failed, %d skipped",
		r.result.Fetched, r.result.Written, r.result.Failed, r.result.Skipped)
	return r.result, nil
}

// execute loads the cursor, walks every page and finally advances the cursor.
func (o *SyncOrchestrator) execute(ctx context.Context, r *run) error {
	cursor, err := o.loadCursor(ctx, r)
	if err != nil {
		return err
	}
	r.cursor = cursor

	var since time.Time
	if r.mode == domain.SyncModeIncremental {
		since = cursor.Position
		r.result.Since = since
		logger.Debug("sync: incremental from %s", since.Format(time.RFC3339))
	}

	offset := 0
	for {
		received, total, err := o.syncPage(ctx, r, domain.PageRequest{
			Offset: offset,
			Limit:  o.cfg.PageSize,
			Since:  since,
		})
		if err != nil {
			return err
		}
		offset += received

		// Progress only; runs always restart from the stored position.
		o.setPhase(r.id, domain.PhaseAdvancingCursor)
		r.cursor.Offset = offset
		r.cursor.Mode = r.mode
		r.cursor.UpdatedAt = o.now().UTC()
		if err := o.cursors.Set(ctx, r.cursor); err != nil {
			// The rows are written and the final save decides the position.
			logger.Warn("sync: saving cursor progress at offset %d: %v", offset, err)
		}

		if received < o.cfg.PageSize || (total > 0 && offset >= total) {
			break
		}
	}

	// The position moves to the run's start, never to a record's own
	// timestamp: remote timestamps may lag the moment they became visible.
	o.setPhase(r.id, domain.PhaseAdvancingCursor)
	final := r.cursor.Advance(r.start)
	final.Offset = 0
	final.LastSync = o.now().UTC()
	final.UpdatedAt = final.LastSync
	if err := o.cursors.Set(ctx, final); err != nil {
		return fmt.Errorf("advance cursor: %w", err)
	}
	r.result.Cursor = &final
	return nil
}

// loadCursor returns the stored cursor. An incremental run without a
// stored position starts Lookback before the run, never from the epoch:
// a full sync that failed part way leaves a cursor with no position.
func (o *SyncOrchestrator) loadCursor(ctx context.Context, r *run) (domain.SyncCursor, error) {
	c := domain.SyncCursor{Stream: domain.StreamOrders, Mode: r.mode}
	stored, err := o.cursors.Get(ctx, domain.StreamOrders)
	switch {
	case err == nil:
		c = *stored
	case !errors.Is(err, domain.ErrNotFound):
		return domain.SyncCursor{}, fmt.Errorf("load cursor: %w", err)
	}

	if r.mode == domain.SyncModeIncremental && c.Position.IsZero() {
		c.Position = r.start.Add(-o.cfg.Lookback)
	}
	return c, nil
}

// pageOutcome is the result of one attempt at a page.
type pageOutcome struct {
	received int
	total    int
	fetched  int
	skipped  int
	invalid  []domain.RecordError
	written  domain.UpsertResult
}

// syncPage processes one page, retrying transient failures from the fetch
// step onwards. It returns the number of records the CRM returned and the
// total it reported.
func (o *SyncOrchestrator) syncPage(ctx context.Context, r *run, req domain.PageRequest) (int, int, error) {
	policy := o.cfg.Retry
	for attempt := 1; ; attempt++ {
		r.result.Attempts++
		out, err := o.attemptPage(ctx, r, req)
		if err == nil {
			o.commit(r, out)
			r.result.Pages++
			if err := o.throttle(ctx, r, out.written.Written); err != nil {
				return 0, 0, err
			}
			return out.received, out.total, nil
		}

		if !policy.ShouldRetry(attempt, err) {
			// Records written by the failing attempt are durable; report them.
			o.commit(r, out)
			if domain.IsRetryable(err) {
				return 0, 0, fmt.Errorf("%w after %d attempts: %w", domain.ErrRetriesExhausted, attempt, err)
			}
			return 0, 0, err
		}

		delay := policy.Delay(attempt, err)
		logger.Warn("sync: page at offset %d failed (attempt %d/%d), retrying in %s: %v",
			req.Offset, attempt, policy.MaxAttempts, delay, err)
		o.setPhase(r.id, domain.PhaseFailed)
		if err := o.sleep(ctx, delay); err != nil {
			return 0, 0, err
		}
	}
}

// attemptPage fetches, transforms and writes one page.
func (o *SyncOrchestrator) attemptPage(ctx context.Context, r *run, req domain.PageRequest) (pageOutcome, error) {
	var out pageOutcome

	o.setPhase(r.id, domain.PhaseFetchingPage)
	page, err := o.source.FetchPage(ctx, req)
	if err != nil {
		return out, err
	}
	out.received = page.Received()
	out.total = page.Total
	out.fetched = page.Received()

	o.setPhase(r.id, domain.PhaseTransformingBatch)
	for _, rec := range page.Invalid {
		logger.Debug("sync: skipping undecodable record: %v", rec.Err)
		out.invalid = append(out.invalid, domain.RecordError{
			RemoteID: rec.Err.RemoteID,
			Kind:     domain.KindValidation,
			Message:  rec.Err.Error(),
		})
	}
	batch := make([]domain.Order, 0, len(page.Orders))
	for i := range page.Orders {
		order, err := o.normaliser.Normalise(&page.Orders[i], r.start)
		if err != nil {
			var validErr *domain.ValidationError
			if !errors.As(err, &validErr) {
				return out, err
			}
			logger.Debug("sync: skipping invalid record: %v", err)
			out.invalid = append(out.invalid, domain.RecordError{
				RemoteID: string(page.Orders[i].ID),
				Kind:     domain.KindValidation,
				Message:  err.Error(),
			})
			continue
		}
		if o.cfg.CompanyID != "" {
			order.CompanyID = o.cfg.CompanyID
		}
		// The CRM filters by day; drop anything older than the cursor.
		if !req.Since.IsZero() && order.ChangedAt().Before(req.Since) {
			out.skipped++
			continue
		}
		batch = append(batch, order)
	}

	o.setPhase(r.id, domain.PhaseWritingBatch)
	written, err := r.session.UpsertBatch(ctx, batch)
	out.written = written
	return out, err
}

// commit folds a page outcome into the run result.
func (o *SyncOrchestrator) commit(r *run, out pageOutcome) {
	res := r.result
	res.Fetched += out.fetched
	res.Skipped += out.skipped
	res.Written += out.written.Written
	res.Failed += out.written.Failed + len(out.invalid)
	for _, e := range out.invalid {
		res.AddError(e)
	}
	for _, chunk := range out.written.Chunks {
		for _, id := range chunk.RemoteIDs {
			res.AddError(domain.RecordError{
				RemoteID: id,
				Kind:     domain.KindOf(chunk.Err),
				Message:  chunk.Err.Error(),
			})
		}
	}

	o.mu.Lock()
	if st, ok := o.runs[r.id]; ok {
		st.RecordsProcessed = res.Written
		st.ErrorCount = res.Failed + res.Skipped
	}
	o.mu.Unlock()
}

// throttle pauses after every PauseEvery written records.
func (o *SyncOrchestrator) throttle(ctx context.Context, r *run, written int) error {
	r.sincePause += written
	for r.sincePause >= o.cfg.PauseEvery {
		r.sincePause -= o.cfg.PauseEvery
		logger.Debug("sync: pausing %s after %d records", o.cfg.PauseFor, o.cfg.PauseEvery)
		if err := o.sleep(ctx, o.cfg.PauseFor); err != nil {
			return err
		}
	}
	return nil
}

// fail finalises the result of a failed run and wraps err.
func (o *SyncOrchestrator) fail(r *run, err error) (*domain.SyncResult, error) {
	res := r.result
	res.Success = false
	res.SyncedBeforeError = res.Written
	res.ErrorCode = domain.ErrorCode(err)
	res.Message = err.Error()
	res.FinishedAt = o.now().UTC()
	res.Bookmark = r.session.Bookmark()
	o.setPhase(r.id, domain.PhaseFailed)

	logger.Error("Sync failed (%s) after %d records: %v", res.ErrorCode, res.Written, err)
	return res, &domain.SyncError{Code: res.ErrorCode, Result: res, Err: err}
}

// Status returns the stored cursor and record count, plus the progress of
// the most recently started run if one is in flight.
func (o *SyncOrchestrator) Status(ctx context.Context, bookmark string) (*driving.SyncStatus, error) {
	if bookmark == "" {
		bookmark = defaultStatusBookmark
	}
	session, err := o.orders.BeginSession(ctx, bookmark)
	if err != nil {
		return nil, fmt.Errorf("begin session: %w", err)
	}

	count, err := session.CountOrders(ctx)
	if err != nil {
		return nil, fmt.Errorf("count orders: %w", err)
	}

	status := o.inFlight()
	status.Stream = domain.StreamOrders
	status.TotalOrders = count
	status.Bookmark = session.Bookmark()

	cursor, err := o.cursors.Get(ctx, domain.StreamOrders)
	switch {
	case err == nil:
		status.Cursor = cursor
		status.LastSync = cursor.LastSync
	case !errors.Is(err, domain.ErrNotFound):
		return nil, fmt.Errorf("load cursor: %w", err)
	}
	return &status, nil
}

// ==================== Run Tracking ====================

func (o *SyncOrchestrator) track(r *run) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.runs[r.id] = &driving.SyncStatus{
		Stream:  domain.StreamOrders,
		Running: true,
		Phase:   domain.PhaseIdle,
	}
	o.latest = r.id
}

func (o *SyncOrchestrator) untrack(id string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.runs, id)
	if o.latest == id {
		o.latest = ""
		for other := range o.runs {
			o.latest = other
			break
		}
	}
}

func (o *SyncOrchestrator) setPhase(id string, phase domain.SyncPhase) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if st, ok := o.runs[id]; ok {
		st.Phase = phase
	}
}

// inFlight returns a copy of the latest run's status, or an idle status.
func (o *SyncOrchestrator) inFlight() driving.SyncStatus {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if st, ok := o.runs[o.latest]; ok {
		return *st
	}
	return driving.SyncStatus{Phase: domain.PhaseIdle}
}
