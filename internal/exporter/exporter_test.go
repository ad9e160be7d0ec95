package exporter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"fluxquery/internal/driver"
	"fluxquery/internal/results"
)

func fixtureStream(rows []driver.Row, columns ...string) *results.Stream[driver.Row] {
	d := results.NewStatic(rows, results.Metadata{TotalRows: results.UnknownTotal, Columns: columns})
	return results.New[driver.Row](d, results.Options[driver.Row]{})
}

func TestExport_CSV(t *testing.T) {
	rows := []driver.Row{
		{int64(1), "alice", nil},
		{int64(2), "=SUM(A1:A2)", []byte("raw")},
		{int64(3), "comma, inside", time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)},
	}
	var buf bytes.Buffer
	res, err := Export(context.Background(), fixtureStream(rows, "id", "name", "extra"), NewCSVEncoder(&buf))
	if err != nil {
		t.Fatal(err)
	}
	if res.RowsProcessed != 3 {
		t.Errorf("rows = %d, want 3", res.RowsProcessed)
	}

	want := "id,name,extra\n" +
		"1,alice,NULL\n" +
		"2,'=SUM(A1:A2),raw\n" +
		"3,\"comma, inside\",2024-01-02 03:04:05\n"
	if buf.String() != want {
		t.Errorf("csv output:\n%s\nwant:\n%s", buf.String(), want)
	}
}

func TestExport_JSONUsesColumnNames(t *testing.T) {
	rows := []driver.Row{{int64(1), "a", "extra"}}
	var buf bytes.Buffer
	if _, err := Export(context.Background(), fixtureStream(rows, "id", "name"), NewJSONEncoder(&buf)); err != nil {
		t.Fatal(err)
	}

	var obj map[string]any
	if err := json.Unmarshal(buf.Bytes(), &obj); err != nil {
		t.Fatalf("invalid json %q: %v", buf.String(), err)
	}
	if obj["id"] != float64(1) || obj["name"] != "a" || obj["column_2"] != "extra" {
		t.Errorf("object = %v", obj)
	}
}

func TestExport_JSONEmbedsDocuments(t *testing.T) {
	rows := []driver.Row{{`{"_id":"x","n":2}`}}
	var buf bytes.Buffer
	if _, err := Export(context.Background(), fixtureStream(rows, driver.DocumentColumn), NewJSONEncoder(&buf)); err != nil {
		t.Fatal(err)
	}
	if got := strings.TrimSpace(buf.String()); got != `{"document":{"_id":"x","n":2}}` {
		t.Errorf("output = %s", got)
	}
}

func TestExport_NoHeaderDerivesColumns(t *testing.T) {
	d := results.NewStatic([]driver.Row{{"a", "b"}}, results.Metadata{TotalRows: results.UnknownTotal})
	s := results.New[driver.Row](d, results.Options[driver.Row]{})

	var buf bytes.Buffer
	if _, err := Export(context.Background(), s, NewCSVEncoder(&buf)); err != nil {
		t.Fatal(err)
	}
	if buf.String() != "column_0,column_1\na,b\n" {
		t.Errorf("output = %q", buf.String())
	}
}

func TestExport_Excel(t *testing.T) {
	rows := []driver.Row{{int64(1), "+cmd"}, {int64(2), nil}}
	var buf bytes.Buffer
	enc := NewExcelEncoder(&buf)
	if _, err := Export(context.Background(), fixtureStream(rows, "id", "name"), enc); err != nil {
		t.Fatal(err)
	}
	if err := enc.Close(); err != nil {
		t.Fatal(err)
	}

	f, err := excelize.OpenReader(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	got, err := f.GetRows("Sheet1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 || got[0][1] != "name" || got[1][1] != "'+cmd" || got[2][1] != "NULL" {
		t.Errorf("sheet rows = %v", got)
	}
}

func TestExport_PDF(t *testing.T) {
	rows := []driver.Row{{int64(1), strings.Repeat("long text ", 40)}}
	var buf bytes.Buffer
	enc := NewPDFEncoder(&buf)
	if _, err := Export(context.Background(), fixtureStream(rows, "id", "body"), enc); err != nil {
		t.Fatal(err)
	}
	if err := enc.Close(); err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(buf.Bytes(), []byte("%PDF")) {
		t.Errorf("output does not look like a PDF: %q", buf.Bytes()[:min(8, buf.Len())])
	}
}

type failingEncoder struct {
	RowEncoder
	err error
}

func (f *failingEncoder) WriteRow(driver.Row) error { return f.err }

func TestExport_EncoderErrorCancelsStream(t *testing.T) {
	errDisk := errors.New("disk full")
	s := fixtureStream([]driver.Row{{"a"}, {"b"}, {"c"}}, "v")
	enc := &failingEncoder{RowEncoder: NewCSVEncoder(&bytes.Buffer{}), err: errDisk}

	_, err := Export(context.Background(), s, enc)
	if !errors.Is(err, errDisk) {
		t.Fatalf("Export error = %v, want %v", err, errDisk)
	}
	if s.State() != results.Failed {
		t.Errorf("state = %v, want failed", s.State())
	}
}

func TestNewEncoder(t *testing.T) {
	for _, format := range Formats {
		if _, err := NewEncoder(format, &bytes.Buffer{}); err != nil {
			t.Errorf("NewEncoder(%q): %v", format, err)
		}
	}
	if _, err := NewEncoder("xml", &bytes.Buffer{}); err == nil {
		t.Error("expected error for unknown format")
	}
	if Extension("excel") != "xlsx" || Extension("") != "csv" || Extension("json") != "json" {
		t.Error("unexpected extension mapping")
	}
}
