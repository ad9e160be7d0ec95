package exporter

import (
	"context"
	"fmt"
	"time"

	"fluxquery/internal/driver"
	"fluxquery/internal/results"
)

// ExportResult contains stats about the export.
type ExportResult struct {
	RowsProcessed int64
	Duration      time.Duration
}

// Export writes a stream to enc: the header first, then every row. Rows go
// through Stream, so memory stays flat however large the result is. The
// encoder is flushed but not closed.
func Export(ctx context.Context, s *results.Stream[driver.Row], enc RowEncoder) (*ExportResult, error) {
	start := time.Now()

	header, err := s.Header(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	columns := header.Columns
	wroteHeader := false
	writeHeader := func() error {
		wroteHeader = true
		if err := enc.WriteHeader(columns); err != nil {
			return fmt.Errorf("failed to write header: %w", err)
		}
		return nil
	}
	if columns != nil {
		if err := writeHeader(); err != nil {
			return nil, err
		}
	}

	var rowCount int64
	err = s.Stream(ctx, func(row driver.Row) error {
		if !wroteHeader {
			columns = make([]string, len(row))
			for i := range columns {
				columns[i] = columnName(nil, i)
			}
			if err := writeHeader(); err != nil {
				return err
			}
		}
		if err := enc.WriteRow(row); err != nil {
			return fmt.Errorf("row write failed: %w", err)
		}
		rowCount++
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("stream rows: %w", err)
	}

	if err := enc.Flush(); err != nil {
		return nil, fmt.Errorf("flush error: %w", err)
	}
	if err := enc.Error(); err != nil {
		return nil, fmt.Errorf("encoder error: %w", err)
	}

	return &ExportResult{RowsProcessed: rowCount, Duration: time.Since(start)}, nil
}
