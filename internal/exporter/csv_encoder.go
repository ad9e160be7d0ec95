package exporter

import (
	"bufio"
	"encoding/csv"
	"io"

	"fluxquery/internal/driver"
)

// CSVEncoder writes RFC 4180 CSV through a 64KB buffer.
type CSVEncoder struct {
	w      *csv.Writer
	buf    *bufio.Writer
	record []string
}

func NewCSVEncoder(w io.Writer) *CSVEncoder {
	buf := bufio.NewWriterSize(w, 64*1024)
	return &CSVEncoder{w: csv.NewWriter(buf), buf: buf}
}

func (e *CSVEncoder) WriteHeader(columns []string) error {
	return e.w.Write(columns)
}

// WriteRow reuses one record buffer; csv.Writer does not retain it.
func (e *CSVEncoder) WriteRow(row driver.Row) error {
	if cap(e.record) < len(row) {
		e.record = make([]string, len(row))
	}
	e.record = e.record[:len(row)]
	for i, v := range row {
		e.record[i] = sanitizeCell(formatValue(v))
	}
	return e.w.Write(e.record)
}

func (e *CSVEncoder) Flush() error {
	e.w.Flush()
	if err := e.w.Error(); err != nil {
		return err
	}
	return e.buf.Flush()
}

func (e *CSVEncoder) Error() error {
	return e.w.Error()
}

func (e *CSVEncoder) Close() error {
	return e.Flush()
}
