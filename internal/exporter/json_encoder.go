package exporter

import (
	"bufio"
	"encoding/json"
	"io"

	"fluxquery/internal/driver"
)

// JSONEncoder writes JSON Lines, one object per row keyed by column name.
type JSONEncoder struct {
	buf     *bufio.Writer
	enc     *json.Encoder
	columns []string
	err     error
}

func NewJSONEncoder(w io.Writer) *JSONEncoder {
	buf := bufio.NewWriterSize(w, 64*1024)
	return &JSONEncoder{buf: buf, enc: json.NewEncoder(buf)}
}

// WriteHeader records the keys; JSON Lines has no header line.
func (e *JSONEncoder) WriteHeader(columns []string) error {
	e.columns = columns
	return nil
}

func (e *JSONEncoder) WriteRow(row driver.Row) error {
	if e.err != nil {
		return e.err
	}

	obj := make(map[string]any, len(row))
	for i, v := range row {
		name := columnName(e.columns, i)
		switch val := v.(type) {
		case []byte:
			obj[name] = string(val)
		case string:
			// Mongo rows are already documents.
			if name == driver.DocumentColumn && json.Valid([]byte(val)) {
				obj[name] = json.RawMessage(val)
			} else {
				obj[name] = val
			}
		default:
			obj[name] = val
		}
	}

	if err := e.enc.Encode(obj); err != nil {
		e.err = err
		return err
	}
	return nil
}

func (e *JSONEncoder) Flush() error {
	if e.err != nil {
		return e.err
	}
	if err := e.buf.Flush(); err != nil {
		e.err = err
	}
	return e.err
}

func (e *JSONEncoder) Error() error {
	return e.err
}

func (e *JSONEncoder) Close() error {
	return e.Flush()
}
