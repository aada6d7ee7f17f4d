package domain

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Domain errors represent business logic failures.
// These are distinct from infrastructure errors.
var (
	// ErrNotFound indicates a requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput indicates malformed or invalid input.
	ErrInvalidInput = errors.New("invalid input")

	// ErrAuthRequired indicates the CRM client has no credentials configured.
	ErrAuthRequired = errors.New("authentication required")

	// ErrAuthInvalid indicates the CRM rejected the configured credentials.
	ErrAuthInvalid = errors.New("authentication invalid")

	// ErrRateLimited indicates the CRM rate limit was exceeded.
	ErrRateLimited = errors.New("rate limited")

	// ErrRetriesExhausted indicates a transient failure persisted past the attempt ceiling.
	ErrRetriesExhausted = errors.New("retries exhausted")
)

// ErrorKind classifies failures so retry decisions never depend on message text.
type ErrorKind string

const (
	KindUnknown       ErrorKind = "unknown"
	KindTransport     ErrorKind = "transport"
	KindRemoteAPI     ErrorKind = "remote_api"
	KindMalformed     ErrorKind = "malformed_response"
	KindSchemaMissing ErrorKind = "schema_missing"
	KindStorage       ErrorKind = "storage"
	KindWrite         ErrorKind = "write"
	KindValidation    ErrorKind = "validation"
	KindCancelled     ErrorKind = "cancelled"
)

// TransportError is a network-level failure talking to the CRM.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error during %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// RemoteAPIError is a non-2xx response from the CRM.
type RemoteAPIError struct {
	StatusCode int
	Body       string

	// RetryAfter is the server-requested delay, zero if none was given.
	RetryAfter time.Duration
}

func (e *RemoteAPIError) Error() string {
	return fmt.Sprintf("remote API error %d: %s", e.StatusCode, truncate(e.Body, 200))
}

// Is lets errors.Is match the auth and rate-limit sentinels.
func (e *RemoteAPIError) Is(target error) bool {
	switch target {
	case ErrAuthInvalid:
		return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
	case ErrRateLimited:
		return e.StatusCode == http.StatusTooManyRequests
	case ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	}
	return false
}

// MalformedResponseError is a CRM response that could not be decoded.
type MalformedResponseError struct {
	Err error
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("malformed response: %v", e.Err)
}

func (e *MalformedResponseError) Unwrap() error { return e.Err }

// SchemaMissingError means the local store lacks a required table.
type SchemaMissingError struct {
	Object string
	Err    error
}

func (e *SchemaMissingError) Error() string {
	return fmt.Sprintf("schema object missing: %s", e.Object)
}

func (e *SchemaMissingError) Unwrap() error { return e.Err }

// StorageError is a local store failure. Transient failures (busy, locked)
// may succeed on retry.
type StorageError struct {
	Op        string
	Transient bool
	Err       error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error during %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// WriteError is a batch chunk that failed to persist.
type WriteError struct {
	Chunk int
	Err   error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write chunk %d failed: %v", e.Chunk, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// ValidationError is a remote record with an unexpected shape. The record
// is skipped; the rest of the batch proceeds.
type ValidationError struct {
	RemoteID string
	Field    string
	Reason   string
}

func (e *ValidationError) Error() string {
	if e.RemoteID == "" {
		return fmt.Sprintf("invalid record: %s %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid record %s: %s %s", e.RemoteID, e.Field, e.Reason)
}

// KindOf returns the kind of the outermost classified error in err's chain.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var (
		writeErr     *WriteError
		transportErr *TransportError
		apiErr       *RemoteAPIError
		malformedErr *MalformedResponseError
		schemaErr    *SchemaMissingError
		storageErr   *StorageError
		validErr     *ValidationError
	)
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCancelled
	case errors.As(err, &writeErr):
		return KindWrite
	case errors.As(err, &schemaErr):
		return KindSchemaMissing
	case errors.As(err, &storageErr):
		return KindStorage
	case errors.As(err, &transportErr):
		return KindTransport
	case errors.As(err, &apiErr):
		return KindRemoteAPI
	case errors.As(err, &malformedErr):
		return KindMalformed
	case errors.As(err, &validErr):
		return KindValidation
	default:
		return KindUnknown
	}
}

// IsRetryable reports whether err is transient and the failed step may be
// repeated: network loss, CRM rate limiting or server errors, and local
// storage busy/locked conditions.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindTransport:
		return true
	case KindRemoteAPI:
		var apiErr *RemoteAPIError
		errors.As(err, &apiErr)
		return apiErr.StatusCode == http.StatusTooManyRequests ||
			apiErr.StatusCode == http.StatusRequestTimeout ||
			apiErr.StatusCode >= http.StatusInternalServerError
	case KindStorage:
		var storageErr *StorageError
		errors.As(err, &storageErr)
		return storageErr.Transient
	case KindWrite:
		var writeErr *WriteError
		errors.As(err, &writeErr)
		return writeErr.Err != nil && IsRetryable(writeErr.Err)
	default:
		return false
	}
}

// SyncError is returned when a sync run fails. It carries the partial
// progress so callers can decide whether to resume.
type SyncError struct {
	Code   string
	Result *SyncResult
	Err    error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("sync failed (%s): %v", e.Code, e.Err)
}

func (e *SyncError) Unwrap() error { return e.Err }

// Machine-readable sync failure codes.
const (
	CodeRemoteUnavailable = "remote_unavailable"
	CodeRemoteRejected    = "remote_rejected"
	CodeUnauthorized      = "unauthorized"
	CodeMalformedResponse = "malformed_response"
	CodeSchemaMissing     = "schema_missing"
	CodeStorageFailure    = "storage_failure"
	CodeWriteFailed       = "write_failed"
	CodeCancelled         = "cancelled"
	CodeInternal          = "internal_error"
)

// ErrorCode maps err to a machine-readable failure code.
func ErrorCode(err error) string {
	switch KindOf(err) {
	case KindTransport:
		return CodeRemoteUnavailable
	case KindRemoteAPI:
		if errors.Is(err, ErrAuthInvalid) {
			return CodeUnauthorized
		}
		if IsRetryable(err) {
			return CodeRemoteUnavailable
		}
		return CodeRemoteRejected
	case KindMalformed:
		return CodeMalformedResponse
	case KindSchemaMissing:
		return CodeSchemaMissing
	case KindStorage:
		return CodeStorageFailure
	case KindWrite:
		return CodeWriteFailed
	case KindCancelled:
		return CodeCancelled
	default:
		if errors.Is(err, ErrAuthRequired) {
			return CodeUnauthorized
		}
		return CodeInternal
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
