package results

import (
	"context"
	"errors"
	"iter"
)

// walk drives a traversal from index 0. A callback error other than ErrStop
// fails the stream; ErrStop and a transform error end it early.
func (s *Stream[T]) walk(ctx context.Context, release bool, fn func(T) error) error {
	for i := 0; ; i++ {
		row, ok, err := s.read(ctx, i)
		if err != nil {
			s.abort(err)
			return err
		}
		if !ok {
			return nil
		}
		if err := fn(row); err != nil {
			if errors.Is(err, ErrStop) {
				s.stop(nil)
				return nil
			}
			s.stop(err)
			return err
		}
		if release {
			s.release(i)
		}
	}
}

// abort cancels the driver when a traversal ends on a transform error.
func (s *Stream[T]) abort(err error) {
	var te *TransformError
	if errors.As(err, &te) {
		s.stop(err)
	}
}

// Each calls fn for every row in order, starting at the first row. Rows are
// retained, so Each can be called again without re-querying. If fn returns
// ErrStop the query is cancelled and Each returns nil; any other error cancels
// the query and is returned unchanged.
func (s *Stream[T]) Each(ctx context.Context, fn func(T) error) error {
	if s.released() {
		return ErrNotRetained
	}
	return s.walk(ctx, false, fn)
}

// Stream is like Each but drops every row from the buffer once fn has seen it.
// CompleteResultSet stays false and retaining reads of released rows return
// ErrNotRetained afterwards.
func (s *Stream[T]) Stream(ctx context.Context, fn func(T) error) error {
	if s.released() {
		return ErrNotRetained
	}
	s.mu.Lock()
	s.streamed = true
	s.mu.Unlock()
	return s.walk(ctx, true, fn)
}

// Rows returns a range-over-func traversal starting at the first row. Breaking
// out of the loop cancels the query. The sequence ends after yielding an error.
func (s *Stream[T]) Rows(ctx context.Context) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		if s.released() {
			var zero T
			yield(zero, ErrNotRetained)
			return
		}
		for i := 0; ; i++ {
			row, ok, err := s.read(ctx, i)
			if err != nil {
				s.abort(err)
				yield(row, err)
				return
			}
			if !ok {
				return
			}
			if !yield(row, nil) {
				s.stop(nil)
				return
			}
		}
	}
}

// Iter returns a pull iterator positioned at the first row.
func (s *Stream[T]) Iter() *Iterator[T] {
	return &Iterator[T]{s: s}
}

// Take returns up to n rows from the start of the result. Only the rows needed
// are requested from the driver, which is left running so later reads continue
// from where it is.
func (s *Stream[T]) Take(ctx context.Context, n int) ([]T, error) {
	if n <= 0 {
		return nil, nil
	}
	if s.released() {
		return nil, ErrNotRetained
	}
	s.demand(n)
	out := make([]T, 0, n)
	for i := 0; i < n; i++ {
		row, ok, err := s.read(ctx, i)
		if err != nil {
			s.abort(err)
			return out, err
		}
		if !ok {
			break
		}
		out = append(out, row)
	}
	return out, nil
}

// First returns the first row. ok is false when the result is empty.
func (s *Stream[T]) First(ctx context.Context) (row T, ok bool, err error) {
	rows, err := s.Take(ctx, 1)
	if err != nil || len(rows) == 0 {
		return row, false, err
	}
	return rows[0], true, nil
}

// All drives the query to completion and returns every row. Calling it again
// returns the same rows without re-querying.
func (s *Stream[T]) All(ctx context.Context) ([]T, error) {
	if s.released() {
		return nil, ErrNotRetained
	}
	werr := s.await(ctx, 0)
	if errors.Is(werr, context.Canceled) || errors.Is(werr, context.DeadlineExceeded) {
		return nil, werr
	}

	s.mu.Lock()
	n := s.delivered
	s.mu.Unlock()

	out := make([]T, 0, n)
	for i := 0; i < n; i++ {
		row, err := s.at(i)
		if err != nil {
			s.abort(err)
			return out, err
		}
		out = append(out, row)
	}
	if werr != nil {
		return out, werr
	}

	s.mu.Lock()
	s.markCompleteLocked()
	s.mu.Unlock()
	return out, nil
}

// Count returns the total number of rows. It uses metadata when the driver has
// reported a total, driving at most one row to obtain it; otherwise the query
// runs to completion. The result is stable across calls.
func (s *Stream[T]) Count(ctx context.Context) (int, error) {
	s.demand(1)
	s.mu.Lock()
	for {
		if n, ok := s.totalLocked(); ok {
			s.mu.Unlock()
			return n, nil
		}
		if s.state.Terminal() {
			err := s.terminalErrLocked()
			s.mu.Unlock()
			if err == nil {
				err = ErrFailed
			}
			return 0, err
		}
		if s.extender != nil && s.requested > 0 && s.delivered >= s.requested && !s.capped {
			// Paused at its limit without reporting a total: let it run out.
			s.mu.Unlock()
			s.demand(0)
			s.mu.Lock()
			continue
		}
		ch := s.changed
		s.mu.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
		s.mu.Lock()
	}
}

// Header returns the metadata reported before the rows, such as column names.
// It submits the query if needed and waits for the header, the first row or the
// end of the query, whichever comes first.
func (s *Stream[T]) Header(ctx context.Context) (Metadata, error) {
	s.demand(1)
	s.mu.Lock()
	for {
		switch {
		case s.header != nil:
			h := *s.header
			s.mu.Unlock()
			return h, nil
		case s.meta != nil:
			m := *s.meta
			s.mu.Unlock()
			return m, nil
		case s.delivered > 0 || s.state.Terminal():
			s.mu.Unlock()
			return Metadata{TotalRows: UnknownTotal}, nil
		}
		ch := s.changed
		s.mu.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			return Metadata{TotalRows: UnknownTotal}, ctx.Err()
		}
		s.mu.Lock()
	}
}

func (s *Stream[T]) totalLocked() (int, bool) {
	if s.meta != nil && s.meta.TotalRows >= 0 {
		return s.meta.TotalRows, true
	}
	if s.header != nil && s.header.TotalRows >= 0 {
		return s.header.TotalRows, true
	}
	return 0, false
}
