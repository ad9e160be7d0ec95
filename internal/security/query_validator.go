package security

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnsafeQuery     = errors.New("unsafe query detected")
	ErrMultipleQueries = errors.New("multi-statement queries are not allowed")
	ErrNotSelect       = errors.New("only SELECT queries are allowed")
)

var forbiddenKeywords = []string{
	"DELETE", "DROP", "INSERT", "UPDATE", "ALTER", "TRUNCATE", "GRANT", "REVOKE",
	"CREATE", "REPLACE", "CALL", "DO", "HANDLER", "LOAD", "UNION", "ATTACH", "PRAGMA",
	"USER(", "VERSION(", "DATABASE(", "LOAD_FILE(", "@@VERSION", "@@HOSTNAME",
}

var systemTables = []string{
	"INFORMATION_SCHEMA", "MYSQL", "PERFORMANCE_SCHEMA", "SYS",
	"PG_CATALOG", "PG_SHADOW", "SQLITE_MASTER", "SQLITE_SCHEMA",
}

// ValidateQuery accepts read-only SQL only:
//  1. Must be a SELECT statement, optionally behind a WITH clause.
//  2. Must not contain multiple statements (semicolons).
//  3. Must not contain destructive keywords (DELETE, DROP, UPDATE, etc.).
//  4. Must not access system catalogs (information_schema, pg_catalog, etc.).
func ValidateQuery(query string) error {
	q := strings.TrimSpace(query)
	upper := strings.ToUpper(q)

	if !strings.HasPrefix(upper, "SELECT") && !strings.HasPrefix(upper, "WITH") {
		return ErrNotSelect
	}
	if strings.Contains(q, ";") {
		return ErrMultipleQueries
	}
	for _, word := range forbiddenKeywords {
		if containsWord(upper, word) {
			return fmt.Errorf("%w: forbidden keyword %s", ErrUnsafeQuery, word)
		}
	}
	for _, table := range systemTables {
		if containsWord(upper, table) {
			return fmt.Errorf("%w: access to system table %s", ErrUnsafeQuery, table)
		}
	}
	return nil
}

// ValidateFind rejects Mongo filters that run server-side JavaScript.
func ValidateFind(statement string) error {
	for _, op := range []string{"$where", "$function", "$accumulator"} {
		if strings.Contains(statement, `"`+op+`"`) {
			return fmt.Errorf("%w: operator %s", ErrUnsafeQuery, op)
		}
	}
	return nil
}

// containsWord reports whether word occurs in s between SQL delimiters, so
// DELETE matches but IS_DELETED does not. s must already be upper case.
func containsWord(s, word string) bool {
	idx := 0
	for {
		i := strings.Index(s[idx:], word)
		if i == -1 {
			return false
		}
		start := idx + i
		end := start + len(word)

		before := start == 0 || isBoundary(s[start-1])
		after := end == len(s) || isBoundary(s[end])
		if before && after {
			return true
		}
		idx = start + 1
	}
}

func isBoundary(b byte) bool {
	switch b {
	case ' ', '\t', '\n', '\r', '(', ')', ',', '=', '<', '>', '`', '.', '"', '[', ']':
		return true
	}
	return false
}
