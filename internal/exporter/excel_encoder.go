package exporter

import (
	"errors"
	"io"

	"github.com/xuri/excelize/v2"

	"fluxquery/internal/driver"
)

// MaxExcelRows is the sheet row limit of the xlsx format.
const MaxExcelRows = 1048576

var ErrExcelRowLimit = errors.New("excel row limit exceeded (1,048,576 rows)")

// ExcelEncoder writes one xlsx sheet through excelize's StreamWriter, which
// spools rows to disk instead of holding the sheet in memory.
type ExcelEncoder struct {
	f      *excelize.File
	sw     *excelize.StreamWriter
	w      io.Writer
	rowIdx int
	err    error
}

func NewExcelEncoder(w io.Writer) *ExcelEncoder {
	f := excelize.NewFile()
	sw, err := f.NewStreamWriter("Sheet1")
	if err != nil {
		_ = f.Close()
		return &ExcelEncoder{err: err}
	}
	return &ExcelEncoder{f: f, sw: sw, w: w, rowIdx: 1}
}

func (e *ExcelEncoder) WriteHeader(columns []string) error {
	cells := make([]any, len(columns))
	for i, col := range columns {
		cells[i] = col
	}
	return e.setRow(cells)
}

// WriteRow passes numbers and times through so excelize stores them typed;
// text is sanitised against formula injection.
func (e *ExcelEncoder) WriteRow(row driver.Row) error {
	cells := make([]any, len(row))
	for i, v := range row {
		switch val := v.(type) {
		case nil:
			cells[i] = nullText
		case []byte:
			cells[i] = sanitizeCell(string(val))
		case string:
			cells[i] = sanitizeCell(val)
		default:
			cells[i] = v
		}
	}
	return e.setRow(cells)
}

func (e *ExcelEncoder) setRow(cells []any) error {
	if e.err != nil {
		return e.err
	}
	if e.rowIdx > MaxExcelRows {
		e.err = ErrExcelRowLimit
		return e.err
	}
	cell, err := excelize.CoordinatesToCellName(1, e.rowIdx)
	if err != nil {
		e.err = err
		return err
	}
	if err := e.sw.SetRow(cell, cells); err != nil {
		e.err = err
		return err
	}
	e.rowIdx++
	return nil
}

// Flush finishes the sheet and writes the workbook. It can run only once.
func (e *ExcelEncoder) Flush() error {
	if e.err != nil {
		return e.err
	}
	if e.sw == nil {
		return nil
	}
	if err := e.sw.Flush(); err != nil {
		e.err = err
		return err
	}
	e.sw = nil
	if err := e.f.Write(e.w); err != nil {
		e.err = err
		return err
	}
	return nil
}

func (e *ExcelEncoder) Error() error {
	return e.err
}

func (e *ExcelEncoder) Close() error {
	err := e.Flush()
	if e.f != nil {
		_ = e.f.Close()
		e.f = nil
	}
	return err
}
