package results

import (
	"errors"
	"fmt"
)

var (
	// ErrStop may be returned by an Each or Stream callback to end the
	// traversal early. The driver is cancelled and the traversal returns nil.
	ErrStop = errors.New("results: stop iteration")

	// Done is returned by Iterator.Next when no rows remain.
	Done = errors.New("results: no more rows")

	// ErrCancelled is returned by pulls past the buffered rows of a stream that
	// was cancelled before its query completed.
	ErrCancelled = errors.New("results: stream cancelled before completion")

	// ErrFailed is returned by pulls past the buffered rows of a failed stream
	// once its cause has been delivered. Err reports the cause.
	ErrFailed = errors.New("results: stream failed")

	// ErrNotRetained is returned when rows released by Stream are read again.
	ErrNotRetained = errors.New("results: rows were streamed and not retained")

	// ErrDriverPanic wraps a panic raised inside Driver.Perform.
	ErrDriverPanic = errors.New("results: driver panicked")
)

// DriverError is a failure reported by the driver's terminal marker or raised
// while submitting the query.
type DriverError struct {
	Err error
}

func (e *DriverError) Error() string {
	return fmt.Sprintf("results: driver error: %v", e.Err)
}

func (e *DriverError) Unwrap() error { return e.Err }

// TransformError is returned when the row transform fails for a row.
type TransformError struct {
	// Index is the position of the row in the result set.
	Index int
	Err   error
}

func (e *TransformError) Error() string {
	return fmt.Sprintf("results: transform row %d: %v", e.Index, e.Err)
}

func (e *TransformError) Unwrap() error { return e.Err }
