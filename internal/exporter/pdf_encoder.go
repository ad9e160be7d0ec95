package exporter

import (
	"bytes"
	"io"

	"github.com/go-pdf/fpdf"

	"fluxquery/internal/driver"
)

// PDFEncoder lays rows out as a landscape A4 grid. fpdf keeps the whole
// document in memory, so it suits small exports only.
type PDFEncoder struct {
	pdf      *fpdf.Fpdf
	w        io.Writer
	colWidth float64
	flushed  bool
}

const pdfRowHeight = 7.0

func NewPDFEncoder(w io.Writer) *PDFEncoder {
	pdf := fpdf.New("L", "mm", "A4", "")
	pdf.SetFont("Arial", "", 10)
	pdf.AddPage()
	return &PDFEncoder{pdf: pdf, w: w}
}

func (e *PDFEncoder) setWidth(columns int) {
	if columns == 0 {
		columns = 1
	}
	pageWidth, _ := e.pdf.GetPageSize()
	left, _, right, _ := e.pdf.GetMargins()
	e.colWidth = (pageWidth - left - right) / float64(columns)
}

func (e *PDFEncoder) WriteHeader(columns []string) error {
	e.setWidth(len(columns))
	e.pdf.SetFont("Arial", "B", 10)
	for _, col := range columns {
		e.pdf.CellFormat(e.colWidth, pdfRowHeight, e.fit(col), "1", 0, "C", false, 0, "")
	}
	e.pdf.Ln(-1)
	e.pdf.SetFont("Arial", "", 10)
	return e.pdf.Error()
}

func (e *PDFEncoder) WriteRow(row driver.Row) error {
	if e.colWidth == 0 {
		e.setWidth(len(row))
	}
	for _, v := range row {
		e.pdf.CellFormat(e.colWidth, pdfRowHeight, e.fit(formatValue(v)), "1", 0, "L", false, 0, "")
	}
	e.pdf.Ln(-1)
	return e.pdf.Error()
}

// fit truncates s so it stays inside one cell.
func (e *PDFEncoder) fit(s string) string {
	limit := e.colWidth - 2
	if e.pdf.GetStringWidth(s) <= limit {
		return s
	}
	b := []byte(s)
	for len(b) > 0 && e.pdf.GetStringWidth(string(b)+"...") > limit {
		b = b[:len(b)-1]
	}
	return string(bytes.TrimSpace(b)) + "..."
}

// Flush renders the document. It can run only once.
func (e *PDFEncoder) Flush() error {
	if e.flushed {
		return e.pdf.Error()
	}
	e.flushed = true
	return e.pdf.Output(e.w)
}

func (e *PDFEncoder) Error() error {
	return e.pdf.Error()
}

func (e *PDFEncoder) Close() error {
	return e.Flush()
}
