package domain

import "time"

// StreamOrders is the sync stream name for CRM orders.
const StreamOrders = "orders"

// MaxErrorSamples bounds the per-record error details returned with a sync result.
const MaxErrorSamples = 10

// SyncMode selects between a from-scratch rebuild and a catch-up sync.
type SyncMode string

const (
	// SyncModeIncremental fetches only records changed since the stored cursor.
	SyncModeIncremental SyncMode = "incremental"

	// SyncModeFull fetches every record from offset zero.
	SyncModeFull SyncMode = "full"
)

// ParseSyncMode maps a user-supplied mode to a SyncMode.
// Empty input selects incremental sync.
func ParseSyncMode(s string) (SyncMode, error) {
	switch SyncMode(s) {
	case "", SyncModeIncremental:
		return SyncModeIncremental, nil
	case SyncModeFull:
		return SyncModeFull, nil
	default:
		return "", ErrInvalidInput
	}
}

// SyncPhase is a state of the sync state machine.
type SyncPhase string

const (
	PhaseIdle              SyncPhase = "idle"
	PhaseFetchingPage      SyncPhase = "fetching_page"
	PhaseTransformingBatch SyncPhase = "transforming_batch"
	PhaseWritingBatch      SyncPhase = "writing_batch"
	PhaseAdvancingCursor   SyncPhase = "advancing_cursor"
	PhaseFailed            SyncPhase = "failed"
)

// SyncCursor tracks how far a stream has been synchronised.
type SyncCursor struct {
	// Stream names the sync stream (e.g. "orders").
	Stream string `json:"stream"`

	// Position is the time from which the next incremental sync fetches.
	// It never moves backwards.
	Position time.Time `json:"position"`

	// Offset is the number of records durably written in the run in
	// progress. It is progress information only; runs are not resumed from it.
	Offset int `json:"offset"`

	// Mode is the mode of the run that last touched the cursor.
	Mode SyncMode `json:"mode"`

	// LastSync is when the last run completed successfully.
	LastSync time.Time `json:"last_sync,omitzero"`

	// UpdatedAt is when the cursor was last written.
	UpdatedAt time.Time `json:"updated_at"`
}

// Advance returns a copy of the cursor moved to pos, keeping the position
// non-decreasing.
func (c SyncCursor) Advance(pos time.Time) SyncCursor {
	if pos.After(c.Position) {
		c.Position = pos
	}
	return c
}

// RecordError describes one record that could not be synced.
type RecordError struct {
	RemoteID string    `json:"remote_id,omitempty"`
	Kind     ErrorKind `json:"kind"`
	Message  string    `json:"message"`
}

// ChunkError reports one failed write chunk.
type ChunkError struct {
	// Index is the zero-based chunk number within the batch.
	Index int `json:"index"`

	// RemoteIDs lists the records the chunk contained.
	RemoteIDs []string `json:"remote_ids"`

	// Err is the failure, usually a *WriteError.
	Err error `json:"-"`
}

// UpsertResult is the outcome of writing one batch.
type UpsertResult struct {
	Written int          `json:"written"`
	Failed  int          `json:"failed"`
	Chunks  []ChunkError `json:"chunks,omitempty"`
}

// SyncResult summarises one sync run.
type SyncResult struct {
	Mode    SyncMode `json:"mode"`
	Success bool     `json:"success"`

	Fetched  int `json:"fetched"`
	Written  int `json:"written"`
	Failed   int `json:"failed"`
	Skipped  int `json:"skipped"`
	Pages    int `json:"pages"`
	Attempts int `json:"attempts"`

	// SyncedBeforeError is the number of records durably written before a failure.
	SyncedBeforeError int `json:"synced_before_error"`

	// Errors is a bounded sample of per-record failures.
	Errors []RecordError `json:"errors,omitempty"`

	// ErrorCode is a machine-readable code, set when Success is false.
	ErrorCode string `json:"error_code,omitempty"`
	Message   string `json:"message,omitempty"`

	// Since is the position the incremental run fetched from.
	Since time.Time `json:"since,omitzero"`

	// Cursor is the stream cursor after the run.
	Cursor *SyncCursor `json:"cursor,omitempty"`

	// Bookmark is the session bookmark after the run's writes.
	Bookmark string `json:"bookmark"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// AddError appends a record error while keeping the sample bounded.
func (r *SyncResult) AddError(e RecordError) {
	if len(r.Errors) < MaxErrorSamples {
		r.Errors = append(r.Errors, e)
	}
}
