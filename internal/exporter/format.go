package exporter

import (
	"fmt"
	"strconv"
	"time"
)

const nullText = "NULL"

// formatValue renders a database value as text without fmt on the common
// paths.
func formatValue(val any) string {
	switch v := val.(type) {
	case nil:
		return nullText
	case []byte:
		return string(v)
	case string:
		return v
	case time.Time:
		return v.Format("2006-01-02 15:04:05")
	case int64:
		return strconv.FormatInt(v, 10)
	case int32:
		return strconv.FormatInt(int64(v), 10)
	case int:
		return strconv.Itoa(v)
	case uint64:
		return strconv.FormatUint(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case bool:
		if v {
			return "1"
		}
		return "0"
	}
	return fmt.Sprint(val)
}

// sanitizeCell defuses spreadsheet formulas (CSV injection) by prefixing a
// single quote to text starting with =, +, - or @.
func sanitizeCell(s string) string {
	if len(s) > 0 {
		switch s[0] {
		case '=', '+', '-', '@':
			return "'" + s
		}
	}
	return s
}

// columnName is the name of column i, falling back to column_<i> past the end
// of the header.
func columnName(columns []string, i int) string {
	if i < len(columns) && columns[i] != "" {
		return columns[i]
	}
	return "column_" + strconv.Itoa(i)
}
