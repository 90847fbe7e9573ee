package types

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrAuthRequired is returned when a session is opened without an identity.
	ErrAuthRequired = errors.New("auth required")
	// ErrNotFound is returned when an operation addresses an entity that does not exist.
	ErrNotFound = errors.New("not found")
	// ErrRemoteUnavailable is returned when a confirm call timed out or the server answered with a non-success status.
	ErrRemoteUnavailable = errors.New("remote unavailable")
	// ErrStorageFailure matches every *StorageError.
	ErrStorageFailure = errors.New("storage failure")
	// ErrInvalidInput is returned for payloads or patches that can not be applied to a record.
	ErrInvalidInput = errors.New("invalid input")
)

// StorageError is a failure of the persistence layer (I/O, codec, driver).
type StorageError struct {
	Op         string
	Collection Collection
	Err        error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage failure: %s %s: %s", e.Op, e.Collection, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func (e *StorageError) Is(target error) bool {
	return target == ErrStorageFailure
}

// NewStorageError wraps err as a StorageError. Nil, ErrNotFound and ErrInvalidInput are passed through unchanged.
func NewStorageError(op string, collection Collection, err error) error {
	if err == nil || errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalidInput) {
		return err
	}
	return &StorageError{Op: op, Collection: collection, Err: err}
}

// RemoteError describes a failed confirm call.
type RemoteError struct {
	Method     string
	Path       string
	StatusCode int // 0 if no response was received
	Err        error
}

func (e *RemoteError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("remote unavailable: %s %s: status %d", e.Method, e.Path, e.StatusCode)
	}
	return fmt.Sprintf("remote unavailable: %s %s: %s", e.Method, e.Path, e.Err)
}

func (e *RemoteError) Unwrap() error {
	return e.Err
}

func (e *RemoteError) Is(target error) bool {
	return target == ErrRemoteUnavailable
}
