package results

// Transform rewrites a row at consumption time.
type Transform[T any] interface {
	Apply(row T) (T, error)
}

// TransformFunc adapts a function to Transform.
type TransformFunc[T any] func(row T) (T, error)

// Apply calls f(row).
func (f TransformFunc[T]) Apply(row T) (T, error) { return f(row) }

// Identity returns rows unchanged.
type Identity[T any] struct{}

// Apply returns row.
func (Identity[T]) Apply(row T) (T, error) { return row, nil }

// memo holds the outcome of applying the transform to one row.
type memo[T any] struct {
	done bool
	row  T
	err  error
}
