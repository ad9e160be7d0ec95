// Package results implements a lazy, single-submission view over a query whose
// rows are pushed asynchronously by a Driver running on another goroutine.
//
// A Stream submits its query at most once, on the first pull. Rows are buffered
// as they arrive and shared by every traversal, so Each, All, Take, First and
// Count can be called in any order without re-querying. Drivers that pause at
// their limit (Extender) are asked for more rows only when a traversal needs
// them; other drivers are submitted once with the stream's configured limit.
//
// Errors returned by a consumer callback or by the row transform cancel the
// driver and are returned to the caller at the row that produced them, exactly
// once. Driver failures surface at the first pull past the rows delivered
// before the failure.
//
// # Usage
//
//	s := results.New[driver.Row](query, results.Options[driver.Row]{})
//	defer s.Close()
//
//	first, ok, err := s.First(ctx)
//	n, err := s.Count(ctx)
//	for row, err := range s.Rows(ctx) {
//	    ...
//	}
package results
