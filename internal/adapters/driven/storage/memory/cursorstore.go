package memory

import (
	"context"
	"sync"

	"github.com/custodia-labs/ordersync/internal/core/domain"
	"github.com/custodia-labs/ordersync/internal/core/ports/driven"
)

// Ensure CursorStore implements the interface.
var _ driven.CursorStore = (*CursorStore)(nil)

// CursorStore is an in-memory implementation of driven.CursorStore.
// A stored position never moves backwards.
type CursorStore struct {
	mu      sync.RWMutex
	cursors map[string]domain.SyncCursor
}

// NewCursorStore creates a new in-memory cursor store.
func NewCursorStore() *CursorStore {
	return &CursorStore{
		cursors: make(map[string]domain.SyncCursor),
	}
}

// Set stores or updates a stream's cursor, keeping the later position.
func (s *CursorStore) Set(_ context.Context, cursor domain.SyncCursor) error {
	if cursor.Stream == "" {
		return domain.ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.cursors[cursor.Stream]; ok && existing.Position.After(cursor.Position) {
		cursor.Position = existing.Position
	}
	s.cursors[cursor.Stream] = cursor
	return nil
}

// Get retrieves the cursor for a stream.
func (s *CursorStore) Get(_ context.Context, stream string) (*domain.SyncCursor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cursor, ok := s.cursors[stream]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &cursor, nil
}

// Delete removes the cursor for a stream.
func (s *CursorStore) Delete(_ context.Context, stream string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cursors, stream)
	return nil
}
