package driver

import (
	"bytes"
	"encoding/gob"
	"errors"
	"testing"
	"time"

	"fluxquery/internal/results"
)

type celsius float64

func (c celsius) String() string { return "21C" }

func TestFrame_NullsSurviveGob(t *testing.T) {
	when := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	in := FrameFor(results.RowSignal(Row{int64(7), nil, "x", []byte("raw"), when, celsius(21)}))

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(in); err != nil {
		t.Fatal(err)
	}
	var out Frame
	if err := gob.NewDecoder(&buf).Decode(&out); err != nil {
		t.Fatal(err)
	}

	sig := out.Signal()
	if sig.Kind != results.KindRow {
		t.Fatalf("kind = %v", sig.Kind)
	}
	row := sig.Row
	if len(row) != 6 {
		t.Fatalf("row = %v", row)
	}
	if row[0] != int64(7) || row[1] != nil || row[2] != "x" {
		t.Errorf("row = %#v", row)
	}
	if b, ok := row[3].([]byte); !ok || string(b) != "raw" {
		t.Errorf("bytes cell = %#v", row[3])
	}
	if ts, ok := row[4].(time.Time); !ok || !ts.Equal(when) {
		t.Errorf("time cell = %#v", row[4])
	}
	if row[5] != "21C" {
		t.Errorf("stringer cell = %#v", row[5])
	}
}

func TestFrame_FinalCarriesError(t *testing.T) {
	f := FrameFor(results.FinalSignal[Row](results.Metadata{TotalRows: 3}, errors.New("disk full")))
	sig := f.Signal()

	var ae *AgentError
	if sig.Kind != results.KindFinal || !errors.As(sig.Err, &ae) {
		t.Fatalf("signal = %+v", sig)
	}
	if ae.Message != "disk full" || sig.Meta.TotalRows != 3 {
		t.Errorf("signal = %+v", sig)
	}

	ok := FrameFor(results.FinalSignal[Row](results.Metadata{TotalRows: 3}, nil)).Signal()
	if ok.Err != nil {
		t.Errorf("clean final decoded with error %v", ok.Err)
	}
}

func TestFrame_Header(t *testing.T) {
	f := FrameFor(results.HeaderSignal[Row](results.Metadata{TotalRows: 10, Columns: []string{"a", "b"}}))
	sig := f.Signal()
	if sig.Kind != results.KindHeader || sig.Meta.TotalRows != 10 || len(sig.Meta.Columns) != 2 {
		t.Errorf("signal = %+v", sig)
	}
}
