package driver

import (
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/gorilla/websocket"

	"fluxquery/internal/results"
)

func init() {
	gob.Register([]interface{}{})
	gob.Register(map[string]interface{}{})
	gob.Register([]byte{})
	gob.Register(time.Time{})
}

// JobCommand opens a query on the agent. It is the first message of a
// connection and is sent as JSON text.
type JobCommand struct {
	ID    string `json:"id"`
	Query string `json:"query"`
	Limit int    `json:"limit"`
}

// Control messages follow the JobCommand on the same connection.
type Control struct {
	Type  string `json:"type"` // "extend" or "cancel"
	Limit int    `json:"limit,omitempty"`
}

const (
	ControlExtend = "extend"
	ControlCancel = "cancel"
)

// Frame is one signal on the wire, gob encoded in binary messages. gob cannot
// carry nil interface values, so NULL cells are listed in Nulls and sent as
// false.
type Frame struct {
	Kind    results.SignalKind
	Row     []any
	Nulls   []int
	Total   int
	Columns []string
	Err     string
}

// FrameFor converts a signal for the wire.
func FrameFor(sig results.Signal[Row]) Frame {
	f := Frame{Kind: sig.Kind, Total: sig.Meta.TotalRows, Columns: sig.Meta.Columns}
	if sig.Err != nil {
		f.Err = sig.Err.Error()
	}
	if sig.Kind == results.KindRow {
		f.Row = make([]any, len(sig.Row))
		for i, v := range sig.Row {
			if v == nil {
				f.Nulls = append(f.Nulls, i)
				f.Row[i] = false
				continue
			}
			f.Row[i] = wireValue(v)
		}
	}
	return f
}

// wireValue passes the types gob knows about and renders anything else as
// text.
func wireValue(v any) any {
	switch x := v.(type) {
	case string, []byte, bool, time.Time,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return v
	case fmt.Stringer:
		return x.String()
	}
	return fmt.Sprint(v)
}

// Signal converts a frame received from the agent.
func (f Frame) Signal() results.Signal[Row] {
	meta := results.Metadata{TotalRows: f.Total, Columns: f.Columns}
	switch f.Kind {
	case results.KindHeader:
		return results.HeaderSignal[Row](meta)
	case results.KindRow:
		row := Row(f.Row)
		for _, i := range f.Nulls {
			if i >= 0 && i < len(row) {
				row[i] = nil
			}
		}
		return results.RowSignal(row)
	}
	var err error
	if f.Err != "" {
		err = &AgentError{Message: f.Err}
	}
	return results.FinalSignal[Row](meta, err)
}

// AgentError is a query failure reported by the agent.
type AgentError struct {
	Message string
}

func (e *AgentError) Error() string {
	return "agent: " + e.Message
}

// WSReader presents consecutive websocket messages as one byte stream.
type WSReader struct {
	Conn   *websocket.Conn
	reader io.Reader
}

func (r *WSReader) Read(p []byte) (n int, err error) {
	for {
		if r.reader == nil {
			_, reader, err := r.Conn.NextReader()
			if err != nil {
				return 0, err
			}
			r.reader = reader
		}
		n, err = r.reader.Read(p)
		if errors.Is(err, io.EOF) {
			r.reader = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

// WSWriter sends every Write as one binary message.
type WSWriter struct {
	Conn *websocket.Conn
}

func (w *WSWriter) Write(p []byte) (n int, err error) {
	err = w.Conn.WriteMessage(websocket.BinaryMessage, p)
	if err != nil {
		return 0, err
	}
	return len(p), nil
}
