package exporter

import (
	"fmt"
	"io"

	"fluxquery/internal/driver"
)

// RowEncoder writes rows in one export format.
type RowEncoder interface {
	// WriteHeader writes the column headers. It is called once, before any
	// row.
	WriteHeader(columns []string) error

	// WriteRow writes a single row. The row length should match the header.
	WriteRow(row driver.Row) error

	// Flush ensures all buffered data is written to the underlying writer.
	Flush() error

	// Error returns the first error that occurred during encoding, if any.
	Error() error

	// Close flushes the encoder and releases any resources.
	io.Closer
}

// Formats lists the accepted format names.
var Formats = []string{"csv", "json", "excel", "pdf"}

// NewEncoder returns the encoder for format. An empty format means csv.
func NewEncoder(format string, w io.Writer) (RowEncoder, error) {
	switch format {
	case "", "csv":
		return NewCSVEncoder(w), nil
	case "json":
		return NewJSONEncoder(w), nil
	case "excel":
		return NewExcelEncoder(w), nil
	case "pdf":
		return NewPDFEncoder(w), nil
	}
	return nil, fmt.Errorf("unknown export format %q", format)
}

// Extension is the file extension for format.
func Extension(format string) string {
	switch format {
	case "", "csv":
		return "csv"
	case "excel":
		return "xlsx"
	}
	return format
}
