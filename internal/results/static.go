package results

// Static is a Driver over rows already held in memory. It pauses at its limit
// like a paced back-end.
type Static[T any] struct {
	Pacer
	rows []T
	meta Metadata
}

// NewStatic returns a Static driver over rows. meta is reported as the header,
// with TotalRows set to len(rows).
func NewStatic[T any](rows []T, meta Metadata) *Static[T] {
	return &Static[T]{rows: rows, meta: meta}
}

// Perform sends the header, the rows and the final marker.
func (d *Static[T]) Perform(limit int, onSignal SignalFunc[T]) {
	d.Start(limit)
	meta := d.meta
	meta.TotalRows = len(d.rows)
	onSignal(HeaderSignal[T](meta))
	for i, row := range d.rows {
		if !d.Wait(i) {
			break
		}
		onSignal(RowSignal(row))
	}
	onSignal(FinalSignal[T](meta, nil))
}
