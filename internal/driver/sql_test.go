package driver

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"fluxquery/internal/results"
)

// newFixture creates a SQLite database with five items; item 3 has no note.
func newFixture(t *testing.T) *SQLDriver {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fixture.db")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatal(err)
	}
	stmts := []string{
		`CREATE TABLE items (id INTEGER PRIMARY KEY, name TEXT NOT NULL, note TEXT)`,
		`INSERT INTO items (id, name, note) VALUES (1, 'a', 'first'), (2, 'b', 'second'), (3, 'c', NULL), (4, 'd', 'fourth'), (5, 'e', 'fifth')`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatal(err)
		}
	}
	if err := db.Close(); err != nil {
		t.Fatal(err)
	}

	d := NewSQLiteDriver(path)
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func openStream(t *testing.T, d Driver, statement string, opts results.Options[Row]) *results.Stream[Row] {
	t.Helper()
	q, err := d.Query(statement)
	if err != nil {
		t.Fatal(err)
	}
	s := results.New(q, opts)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func waitFinished(t *testing.T, s *results.Stream[Row]) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("query did not finish")
	}
}

func TestSQLiteDriver_Ping(t *testing.T) {
	d := newFixture(t)
	if err := d.Ping(context.Background()); err != nil {
		t.Fatal(err)
	}
	if d.Name() != "sqlite" {
		t.Errorf("Name = %q", d.Name())
	}
}

func TestSQLiteDriver_AllRows(t *testing.T) {
	d := newFixture(t)
	s := openStream(t, d, "SELECT id, name, note FROM items ORDER BY id", results.Options[Row]{})

	rows, err := s.All(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 5 {
		t.Fatalf("got %d rows, want 5", len(rows))
	}
	if rows[0][1] != "a" || rows[4][2] != "fifth" {
		t.Errorf("unexpected rows %v", rows)
	}
	if rows[2][2] != nil {
		t.Errorf("NULL note scanned as %#v", rows[2][2])
	}

	meta, ok := s.Metadata()
	if !ok || meta.TotalRows != 5 {
		t.Errorf("metadata = %+v, %v", meta, ok)
	}
	if len(meta.Columns) != 3 || meta.Columns[0] != "id" || meta.Columns[2] != "note" {
		t.Errorf("columns = %v", meta.Columns)
	}
	if !s.CompleteResultSet() {
		t.Error("expected complete result set")
	}
}

func TestSQLiteDriver_HeaderBeforeRows(t *testing.T) {
	d := newFixture(t)
	s := openStream(t, d, "SELECT name FROM items", results.Options[Row]{})

	h, err := s.Header(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(h.Columns) != 1 || h.Columns[0] != "name" {
		t.Errorf("columns = %v", h.Columns)
	}
	if h.TotalRows != results.UnknownTotal {
		t.Errorf("header total = %d, want unknown", h.TotalRows)
	}
}

func TestSQLiteDriver_TakePausesCursor(t *testing.T) {
	d := newFixture(t)
	s := openStream(t, d, "SELECT id FROM items ORDER BY id", results.Options[Row]{})

	rows, err := s.Take(context.Background(), 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 || rows[1][0] != int64(2) {
		t.Fatalf("Take(2) = %v", rows)
	}
	if !s.InProgress() {
		t.Errorf("state = %v, want in progress", s.State())
	}

	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	waitFinished(t, s)
	if s.State() != results.Cancelled {
		t.Errorf("state = %v, want cancelled", s.State())
	}
}

func TestSQLiteDriver_TakeThenAllContinues(t *testing.T) {
	ctx := context.Background()
	d := newFixture(t)
	s := openStream(t, d, "SELECT id FROM items ORDER BY id", results.Options[Row]{})

	if _, err := s.Take(ctx, 2); err != nil {
		t.Fatal(err)
	}
	rows, err := s.All(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 5 || rows[4][0] != int64(5) {
		t.Errorf("All = %v", rows)
	}
}

func TestSQLiteDriver_Count(t *testing.T) {
	d := newFixture(t)
	s := openStream(t, d, "SELECT id FROM items WHERE id > 1", results.Options[Row]{})

	n, err := s.Count(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if n != 4 {
		t.Errorf("Count = %d, want 4", n)
	}
}

func TestSQLiteDriver_LimitCapsRows(t *testing.T) {
	d := newFixture(t)
	s := openStream(t, d, "SELECT id FROM items ORDER BY id", results.Options[Row]{Limit: 3})

	rows, err := s.All(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 3 {
		t.Errorf("got %d rows, want 3", len(rows))
	}
	if s.State() != results.Completed {
		t.Errorf("state = %v, want completed", s.State())
	}
}

func TestSQLiteDriver_BadStatementFails(t *testing.T) {
	d := newFixture(t)
	s := openStream(t, d, "SELECT nope FROM missing", results.Options[Row]{})

	_, err := s.All(context.Background())
	var de *results.DriverError
	if !errors.As(err, &de) {
		t.Fatalf("All error = %v, want DriverError", err)
	}
	if s.State() != results.Failed {
		t.Errorf("state = %v, want failed", s.State())
	}
}

func TestOpen(t *testing.T) {
	for _, kind := range []string{"mysql", "postgres", "sqlite", "mongo"} {
		d, err := Open(kind, "")
		if err != nil {
			t.Errorf("Open(%q): %v", kind, err)
			continue
		}
		if d.Name() != kind {
			t.Errorf("Open(%q).Name() = %q", kind, d.Name())
		}
	}
	if _, err := Open("oracle", ""); err == nil {
		t.Error("expected error for unknown driver")
	}
	if !IsSQL("sqlite") || IsSQL("mongo") {
		t.Error("IsSQL misclassified a driver")
	}
}
