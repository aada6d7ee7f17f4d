// Package redis provides a Redis-backed cursor store, for deployments
// where several ordersync processes share sync progress.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/custodia-labs/ordersync/internal/core/domain"
	"github.com/custodia-labs/ordersync/internal/core/ports/driven"
)

// KeyPrefix namespaces cursor keys.
const KeyPrefix = "ordersync:cursor:"

// maxWatchRetries bounds optimistic-lock retries when cursors race.
const maxWatchRetries = 5

// CursorStore implements driven.CursorStore. Each cursor is a JSON value
// under KeyPrefix+stream, with no expiry.
type CursorStore struct {
	client *redis.Client
}

var _ driven.CursorStore = (*CursorStore)(nil)

// NewClient parses a redis:// URL and checks the connection.
func NewClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, &domain.StorageError{Op: "connect redis", Transient: true, Err: err}
	}
	return client, nil
}

// NewCursorStore creates a cursor store on client.
func NewCursorStore(client *redis.Client) *CursorStore {
	return &CursorStore{client: client}
}

func key(stream string) string {
	return KeyPrefix + stream
}

// Set stores or updates a stream's cursor. The position never moves
// backwards, even when two syncs write concurrently.
func (s *CursorStore) Set(ctx context.Context, cursor domain.SyncCursor) error {
	if cursor.Stream == "" {
		return domain.ErrInvalidInput
	}
	k := key(cursor.Stream)

	txf := func(tx *redis.Tx) error {
		existing, err := decode(tx.Get(ctx, k))
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		if existing != nil && existing.Position.After(cursor.Position) {
			cursor.Position = existing.Position
		}

		data, err := json.Marshal(cursor)
		if err != nil {
			return fmt.Errorf("marshalling cursor: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, k, data, 0)
			return nil
		})
		return err
	}

	for range maxWatchRetries {
		err := s.client.Watch(ctx, txf, k)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return wrap("save cursor", err)
	}
	return &domain.StorageError{Op: "save cursor", Transient: true, Err: redis.TxFailedErr}
}

// Get retrieves the cursor for a stream.
func (s *CursorStore) Get(ctx context.Context, stream string) (*domain.SyncCursor, error) {
	cursor, err := decode(s.client.Get(ctx, key(stream)))
	if err != nil {
		return nil, wrap("get cursor", err)
	}
	return cursor, nil
}

// Delete removes the cursor for a stream.
func (s *CursorStore) Delete(ctx context.Context, stream string) error {
	return wrap("delete cursor", s.client.Del(ctx, key(stream)).Err())
}

func decode(cmd *redis.StringCmd) (*domain.SyncCursor, error) {
	data, err := cmd.Bytes()
	if err == redis.Nil {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var cursor domain.SyncCursor
	if err := json.Unmarshal(data, &cursor); err != nil {
		return nil, fmt.Errorf("unmarshalling cursor: %w", err)
	}
	return &cursor, nil
}

// wrap classifies a redis failure. Connection problems are transient.
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrInvalidInput) ||
		errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &domain.StorageError{Op: op, Transient: !isRedisReply(err), Err: err}
}

// isRedisReply reports whether the server answered with an error reply,
// as opposed to the request failing to reach it.
func isRedisReply(err error) bool {
	var replyErr redis.Error
	return errors.As(err, &replyErr)
}
