package results

import "time"

// SignalKind identifies what a driver is reporting.
type SignalKind int

const (
	// KindRow carries one data row.
	KindRow SignalKind = iota
	// KindHeader carries metadata known before the rows are drained, such as
	// column names or the total row count. Optional, at most once.
	KindHeader
	// KindFinal is the terminal marker. Exactly once per submission, also after
	// Cancel.
	KindFinal
)

func (k SignalKind) String() string {
	switch k {
	case KindRow:
		return "row"
	case KindHeader:
		return "header"
	case KindFinal:
		return "final"
	default:
		return "unknown"
	}
}

// UnknownTotal is the TotalRows value of metadata that does not know the count.
const UnknownTotal = -1

// Metadata describes a result set.
type Metadata struct {
	// TotalRows is the number of rows in the result, or UnknownTotal.
	TotalRows int
	// Columns are the column names, when the back-end has them.
	Columns []string
	// Extra holds back-end specific values (timings, warnings).
	Extra map[string]any
}

// Signal is one callback invocation from a driver.
type Signal[T any] struct {
	Kind SignalKind
	Row  T
	Meta Metadata
	// Err is set on a KindFinal signal when the query failed.
	Err error
}

// RowSignal builds a KindRow signal.
func RowSignal[T any](row T) Signal[T] {
	return Signal[T]{Kind: KindRow, Row: row}
}

// HeaderSignal builds a KindHeader signal.
func HeaderSignal[T any](meta Metadata) Signal[T] {
	return Signal[T]{Kind: KindHeader, Meta: meta}
}

// FinalSignal builds the terminal marker.
func FinalSignal[T any](meta Metadata, err error) Signal[T] {
	return Signal[T]{Kind: KindFinal, Meta: meta, Err: err}
}

// SignalFunc receives driver signals. It is safe to call from any goroutine.
type SignalFunc[T any] func(Signal[T])

// Driver is a single query submission.
//
// Perform starts the query and reports rows through onSignal, followed by
// exactly one KindFinal signal. limit <= 0 means no limit. Perform may return
// before the final signal has been sent.
//
// Cancel asks the driver to stop; the driver must still send its final signal.
// Cancel may be called more than once, from inside onSignal, and before or
// after Perform returns.
type Driver[T any] interface {
	Perform(limit int, onSignal SignalFunc[T])
	Cancel()
}

// Extender is implemented by drivers that pause once they have delivered
// limit rows instead of finishing, so the limit can be raised in place.
// Extend(0) lifts the limit.
type Extender interface {
	Extend(limit int)
}

// Executor runs a driver submission off the consumer's goroutine.
type Executor interface {
	Go(fn func()) error
}

// GoExecutor starts a new goroutine per submission.
type GoExecutor struct{}

// Go runs fn on a new goroutine.
func (GoExecutor) Go(fn func()) error {
	go fn()
	return nil
}

// Observer is notified of stream lifecycle events. Calls happen with no stream
// lock held.
type Observer interface {
	Submitted(limit int)
	RowDelivered()
	Finished(state State, rows int, elapsed time.Duration)
}

type nopObserver struct{}

func (nopObserver) Submitted(int) {}
func (nopObserver) RowDelivered() {}
func (nopObserver) Finished(State, int, time.Duration) {}
