package results

import (
	"context"
	"errors"
)

// Iterator pulls rows one at a time. Each Iterator has its own position over
// the stream's shared buffer.
type Iterator[T any] struct {
	s    *Stream[T]
	next int
}

// Next returns the next row, or Done when the result is exhausted. A
// TransformError applies to that row only: the iterator moves past it and the
// following call returns the next row.
func (it *Iterator[T]) Next(ctx context.Context) (T, error) {
	row, ok, err := it.s.read(ctx, it.next)
	if err != nil {
		var te *TransformError
		if errors.As(err, &te) {
			it.next++
		}
		return row, err
	}
	if !ok {
		var zero T
		return zero, Done
	}
	it.next++
	return row, nil
}

// Index returns the position of the row the next call to Next will return.
func (it *Iterator[T]) Index() int { return it.next }
