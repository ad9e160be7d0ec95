package results

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Options configures a Stream.
type Options[T any] struct {
	// Limit caps the number of rows the query may deliver. 0 means no cap.
	// Drivers without Extender are submitted once with this limit.
	Limit int
	// Prefetch is how many rows beyond the current demand an Extender driver
	// is asked for.
	Prefetch int
	// Transform is applied lazily to each row on first access. nil leaves rows
	// unchanged.
	Transform Transform[T]
	// Executor runs the submission. Defaults to GoExecutor.
	Executor Executor
	// Observer receives lifecycle events.
	Observer Observer
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Stream is a lazy view over one query submission. Rows are buffered as they
// arrive and shared by all traversals. A Stream is meant for a single consumer;
// its methods must not be called concurrently, although the driver may deliver
// rows from any goroutine.
type Stream[T any] struct {
	driver    Driver[T]
	extender  Extender
	transform Transform[T]
	exec      Executor
	observer  Observer
	log       *slog.Logger
	limit     int
	prefetch  int

	mu      sync.Mutex
	changed chan struct{}
	done    chan struct{}

	state     State
	rows      []T
	memos     []memo[T]
	base      int // rows released by Stream
	delivered int
	requested int // limit granted to the driver, 0 = unbounded
	capped    bool
	streamed  bool
	complete  bool
	final     bool
	header    *Metadata
	meta      *Metadata
	cause     error
	pending   bool
	reported  bool
	started   time.Time
}

// New returns a Stream over d. Nothing is submitted until the first pull.
func New[T any](d Driver[T], opts Options[T]) *Stream[T] {
	s := &Stream[T]{
		driver:    d,
		transform: opts.Transform,
		exec:      opts.Executor,
		observer:  opts.Observer,
		log:       opts.Logger,
		limit:     opts.Limit,
		prefetch:  opts.Prefetch,
		changed:   make(chan struct{}),
		done:      make(chan struct{}),
	}
	if ext, ok := d.(Extender); ok {
		s.extender = ext
	}
	if _, ok := s.transform.(Identity[T]); ok {
		s.transform = nil
	}
	if s.exec == nil {
		s.exec = GoExecutor{}
	}
	if s.observer == nil {
		s.observer = nopObserver{}
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	if s.limit < 0 {
		s.limit = 0
	}
	if s.prefetch < 0 {
		s.prefetch = 0
	}
	return s
}

// State returns the lifecycle state.
func (s *Stream[T]) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// InProgress reports whether the query has been submitted and not yet ended.
func (s *Stream[T]) InProgress() bool {
	return s.State() == InProgress
}

// Finished reports whether the driver's terminal marker has been observed.
func (s *Stream[T]) Finished() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.final
}

// CompleteResultSet reports whether every row of the result is held in the
// buffer. It becomes true when a retaining read reaches the end of a completed
// query, and never after Stream.
func (s *Stream[T]) CompleteResultSet() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.complete
}

// Metadata returns the final metadata once the terminal marker has arrived.
func (s *Stream[T]) Metadata() (Metadata, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.meta == nil {
		return Metadata{TotalRows: UnknownTotal}, false
	}
	return *s.meta, true
}

// Err returns the cause of a failed stream.
func (s *Stream[T]) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cause
}

// Done is closed when the driver's terminal marker has been observed.
func (s *Stream[T]) Done() <-chan struct{} {
	return s.done
}

// Close cancels an in-flight query. Buffered rows stay readable.
func (s *Stream[T]) Close() error {
	s.mu.Lock()
	if s.state == NotStarted {
		s.state = Cancelled
		s.notifyLocked()
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()
	s.stop(nil)
	return nil
}

// notifyLocked wakes every waiter.
func (s *Stream[T]) notifyLocked() {
	close(s.changed)
	s.changed = make(chan struct{})
}

// capLimit applies the stream limit to a driver limit.
func (s *Stream[T]) capLimit(n int) int {
	if s.limit > 0 && (n <= 0 || n > s.limit) {
		return s.limit
	}
	return n
}

// demand makes sure the driver has been asked for at least n rows, n <= 0
// meaning all of them. It submits the query on the first call.
func (s *Stream[T]) demand(n int) {
	s.mu.Lock()
	switch s.state {
	case NotStarted:
		limit := s.limit
		if s.extender != nil {
			limit = s.capLimit(s.window(n))
		}
		s.state = InProgress
		s.requested = limit
		s.started = time.Now()
		s.notifyLocked()
		s.mu.Unlock()
		s.submit(limit)
		return
	case InProgress:
		if s.extender == nil || s.requested <= 0 || s.capped {
			break
		}
		if n > 0 && n <= s.requested {
			break
		}
		if s.limit > 0 && s.requested >= s.limit {
			break
		}
		limit := s.capLimit(s.window(n))
		s.requested = limit
		s.mu.Unlock()
		s.log.Debug("extending query limit", "limit", limit)
		s.extender.Extend(limit)
		return
	}
	s.mu.Unlock()
}

func (s *Stream[T]) window(n int) int {
	if n <= 0 {
		return 0
	}
	return n + s.prefetch
}

func (s *Stream[T]) submit(limit int) {
	s.log.Debug("submitting query", "limit", limit)
	s.observer.Submitted(limit)
	err := s.exec.Go(func() {
		defer func() {
			if r := recover(); r != nil {
				s.onSignal(FinalSignal[T](Metadata{TotalRows: UnknownTotal}, fmt.Errorf("%w: %v", ErrDriverPanic, r)))
			}
		}()
		s.driver.Perform(limit, s.onSignal)
	})
	if err != nil {
		s.onSignal(FinalSignal[T](Metadata{TotalRows: UnknownTotal}, fmt.Errorf("submit query: %w", err)))
	}
}

// onSignal is the driver side of the bridge.
func (s *Stream[T]) onSignal(sig Signal[T]) {
	s.mu.Lock()
	switch sig.Kind {
	case KindHeader:
		if s.state == InProgress && s.header == nil {
			h := sig.Meta
			s.header = &h
			s.notifyLocked()
		}
		s.mu.Unlock()
	case KindRow:
		if s.state != InProgress || s.final || s.capped {
			s.mu.Unlock()
			return
		}
		s.rows = append(s.rows, sig.Row)
		if s.transform != nil {
			s.memos = append(s.memos, memo[T]{})
		}
		s.delivered++
		// An Extender cannot be told a limit is final, so the stream ends the
		// submission itself once the cap is reached.
		hitCap := s.extender != nil && s.limit > 0 && s.delivered >= s.limit
		if hitCap {
			s.capped = true
		}
		s.notifyLocked()
		s.mu.Unlock()
		s.observer.RowDelivered()
		if hitCap {
			s.driver.Cancel()
		}
	case KindFinal:
		if s.final {
			s.mu.Unlock()
			return
		}
		s.final = true
		meta := sig.Meta
		if meta.Columns == nil && s.header != nil {
			meta.Columns = s.header.Columns
		}
		if s.state == InProgress {
			switch {
			case sig.Err != nil && !s.capped:
				s.state = Failed
				s.cause = &DriverError{Err: sig.Err}
				s.pending = true
			default:
				s.state = Completed
				if meta.TotalRows < 0 || s.capped {
					meta.TotalRows = s.delivered
				}
			}
		}
		s.meta = &meta
		close(s.done)
		s.notifyLocked()
		report := s.reportLocked()
		s.mu.Unlock()
		report()
	default:
		s.mu.Unlock()
	}
}

// stop ends an in-flight submission on behalf of the consumer. A nil cause
// cancels; otherwise the stream fails with cause, which the caller returns
// itself.
func (s *Stream[T]) stop(cause error) {
	s.mu.Lock()
	if s.state != InProgress {
		s.mu.Unlock()
		return
	}
	if cause != nil {
		s.state = Failed
		s.cause = cause
	} else {
		s.state = Cancelled
	}
	s.notifyLocked()
	report := s.reportLocked()
	s.mu.Unlock()

	s.log.Debug("cancelling query", "cause", cause)
	s.driver.Cancel()
	report()
}

// reportLocked returns a func that notifies the observer the first time the
// stream reaches a terminal state.
func (s *Stream[T]) reportLocked() func() {
	if s.reported || !s.state.Terminal() {
		return func() {}
	}
	s.reported = true
	state, rows, elapsed := s.state, s.delivered, time.Since(s.started)
	return func() {
		s.log.Debug("query finished", "state", state.String(), "rows", rows, "elapsed", elapsed)
		s.observer.Finished(state, rows, elapsed)
	}
}

// terminalErrLocked is the error for a pull past the buffered rows of a
// terminal stream. A pending cause is handed out once.
func (s *Stream[T]) terminalErrLocked() error {
	switch s.state {
	case Completed:
		return nil
	case Cancelled:
		return ErrCancelled
	}
	if s.pending {
		s.pending = false
		return s.cause
	}
	return ErrFailed
}

// await blocks until n rows have been delivered or the stream is terminal.
// n <= 0 waits for the terminal state.
func (s *Stream[T]) await(ctx context.Context, n int) error {
	s.demand(n)
	s.mu.Lock()
	for {
		if n > 0 && s.delivered >= n {
			s.mu.Unlock()
			return nil
		}
		if s.state.Terminal() {
			err := s.terminalErrLocked()
			s.mu.Unlock()
			return err
		}
		ch := s.changed
		s.mu.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
		s.mu.Lock()
	}
}

// at returns the transformed row at index i, which must have been delivered.
func (s *Stream[T]) at(i int) (T, error) {
	var zero T
	s.mu.Lock()
	if i < s.base {
		s.mu.Unlock()
		return zero, ErrNotRetained
	}
	raw := s.rows[i-s.base]
	if s.transform == nil {
		s.mu.Unlock()
		return raw, nil
	}
	if m := s.memos[i-s.base]; m.done {
		s.mu.Unlock()
		return m.row, m.err
	}
	s.mu.Unlock()

	row, err := s.transform.Apply(raw)
	if err != nil {
		row, err = zero, &TransformError{Index: i, Err: err}
	}

	s.mu.Lock()
	if i >= s.base {
		s.memos[i-s.base] = memo[T]{done: true, row: row, err: err}
	}
	s.mu.Unlock()
	return row, err
}

// read waits for row i and returns it. ok is false once the result is
// exhausted.
func (s *Stream[T]) read(ctx context.Context, i int) (row T, ok bool, err error) {
	if err := s.await(ctx, i+1); err != nil {
		return row, false, err
	}
	s.mu.Lock()
	avail := i < s.delivered
	if !avail {
		s.markCompleteLocked()
	}
	s.mu.Unlock()
	if !avail {
		return row, false, nil
	}
	row, err = s.at(i)
	return row, true, err
}

// release drops row i from the buffer if it is the oldest retained row.
func (s *Stream[T]) release(i int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i != s.base || len(s.rows) == 0 {
		return
	}
	var zero T
	s.rows[0] = zero
	s.rows = s.rows[1:]
	if s.transform != nil {
		s.memos[0] = memo[T]{}
		s.memos = s.memos[1:]
	}
	s.base++
}

// markCompleteLocked records that the buffer holds the whole result.
func (s *Stream[T]) markCompleteLocked() {
	if s.state == Completed && s.base == 0 && !s.streamed {
		s.complete = true
	}
}

func (s *Stream[T]) released() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.base > 0
}
