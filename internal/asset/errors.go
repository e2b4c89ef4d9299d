package asset

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrNotFound         = errors.New("asset not found")
	ErrPermissionDenied = errors.New("permission denied")
	ErrMalformedInput   = errors.New("malformed input")
	ErrTimeout          = errors.New("operation timed out")
)

// UpstreamError wraps a failure of the record store, storage provider or policy gate.
type UpstreamError struct {
	Op  string
	Err error
}

func (e *UpstreamError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// upstream classifies err from an external call. Deadline expiry maps to ErrTimeout.
func upstream(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrTimeout) || errors.Is(err, ErrNotFound) || errors.Is(err, ErrPermissionDenied) || errors.Is(err, ErrMalformedInput) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w: %w", op, ErrTimeout, err)
	}
	return &UpstreamError{Op: op, Err: err}
}

var errNoDatabases = errors.New("record databases not configured")
