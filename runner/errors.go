package runner

import "errors"

var (
	// ErrInvalidHandle is returned synchronously for unknown, disposed or
	// closing handles. Such calls are never queued.
	ErrInvalidHandle = errors.New("invalid handle")

	// ErrOpenFailed wraps the cause of a failed open (Opened ok=false)
	ErrOpenFailed = errors.New("open failed")

	// ErrExecutionFailed wraps the cause of a failed exec (QueryFinished ok=false)
	ErrExecutionFailed = errors.New("execution failed")

	// ErrNotOpen is the cause of an exec against a database without a live connection
	ErrNotOpen = errors.New("database not open")

	// ErrResultTooLarge is the cause of an exec whose result exceeded MaxResultRows
	ErrResultTooLarge = errors.New("result too large")

	// ErrStopped is returned by enqueue operations once shutdown started
	ErrStopped = errors.New("runner stopped")
)
