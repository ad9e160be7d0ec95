package relay

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"fluxquery/internal/driver"
	"fluxquery/internal/results"
	"fluxquery/internal/security"
)

const testKey = "sk_test_relay_0123456789"

func newAgent(t *testing.T, obs results.Observer) (*httptest.Server, *driver.SQLDriver) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "agent.db")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec(`CREATE TABLE events (id INTEGER PRIMARY KEY, kind TEXT, payload TEXT)`); err != nil {
		t.Fatal(err)
	}
	for i := 1; i <= 6; i++ {
		var payload any
		if i != 4 {
			payload = "p" + string(rune('0'+i))
		}
		if _, err := db.Exec(`INSERT INTO events (id, kind, payload) VALUES (?, ?, ?)`, i, "click", payload); err != nil {
			t.Fatal(err)
		}
	}
	db.Close()

	hash, err := security.HashAgentKey(testKey)
	if err != nil {
		t.Fatal(err)
	}
	local := driver.NewSQLiteDriver(path)
	srv := httptest.NewServer(&Server{
		Driver:   local,
		Auth:     security.NewAuthenticator([]string{hash}, ""),
		Validate: security.ValidateQuery,
		Observer: obs,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	t.Cleanup(func() {
		srv.Close()
		_ = local.Close()
	})
	return srv, local
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func remoteStream(t *testing.T, d *driver.RemoteDriver, statement string, opts results.Options[driver.Row]) *results.Stream[driver.Row] {
	t.Helper()
	q, err := d.Query(statement)
	if err != nil {
		t.Fatal(err)
	}
	s := results.New(q, opts)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func waitDone(t *testing.T, s *results.Stream[driver.Row]) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("remote query did not finish")
	}
}

func TestRelay_Ping(t *testing.T) {
	srv, _ := newAgent(t, nil)

	if err := driver.NewRemoteDriver(wsURL(srv), testKey, "").Ping(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := driver.NewRemoteDriver(wsURL(srv), "sk_test_wrong", "").Ping(context.Background()); err == nil {
		t.Error("ping with a wrong key succeeded")
	}
}

func TestRelay_AllRows(t *testing.T) {
	srv, _ := newAgent(t, nil)
	d := driver.NewRemoteDriver(wsURL(srv), testKey, "")
	s := remoteStream(t, d, "SELECT id, kind, payload FROM events ORDER BY id", results.Options[driver.Row]{})

	rows, err := s.All(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 6 {
		t.Fatalf("got %d rows, want 6", len(rows))
	}
	if rows[0][0] != int64(1) || rows[0][2] != "p1" {
		t.Errorf("first row = %#v", rows[0])
	}
	if rows[3][2] != nil {
		t.Errorf("NULL payload relayed as %#v", rows[3][2])
	}
	meta, ok := s.Metadata()
	if !ok || meta.TotalRows != 6 || len(meta.Columns) != 3 {
		t.Errorf("metadata = %+v, %v", meta, ok)
	}
}

func TestRelay_TakeExtendsRemoteCursor(t *testing.T) {
	ctx := context.Background()
	srv, _ := newAgent(t, nil)
	d := driver.NewRemoteDriver(wsURL(srv), testKey, "")
	s := remoteStream(t, d, "SELECT id FROM events ORDER BY id", results.Options[driver.Row]{})

	first, err := s.Take(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(first) != 2 || !s.InProgress() {
		t.Fatalf("Take(2) = %v, state %v", first, s.State())
	}

	rows, err := s.All(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 6 || rows[5][0] != int64(6) {
		t.Errorf("All = %v", rows)
	}
}

func TestRelay_CloseCancelsAgentQuery(t *testing.T) {
	obs := &recorder{}
	srv, _ := newAgent(t, obs)
	d := driver.NewRemoteDriver(wsURL(srv), testKey, "")
	s := remoteStream(t, d, "SELECT id FROM events ORDER BY id", results.Options[driver.Row]{})

	if _, _, err := s.First(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	waitDone(t, s)
	if s.State() != results.Cancelled {
		t.Errorf("state = %v, want cancelled", s.State())
	}

	if !obs.waitFinished(5 * time.Second) {
		t.Fatal("agent never finished the query")
	}
	if rows := obs.rowCount(); rows >= 6 {
		t.Errorf("agent produced %d rows after cancel", rows)
	}
}

func TestRelay_CountDrainsRemote(t *testing.T) {
	srv, _ := newAgent(t, nil)
	d := driver.NewRemoteDriver(wsURL(srv), testKey, "")
	s := remoteStream(t, d, "SELECT id FROM events WHERE id > 2", results.Options[driver.Row]{})

	n, err := s.Count(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if n != 4 {
		t.Errorf("Count = %d, want 4", n)
	}
}

func TestRelay_RejectsUnsafeStatement(t *testing.T) {
	srv, _ := newAgent(t, nil)
	d := driver.NewRemoteDriver(wsURL(srv), testKey, "")
	s := remoteStream(t, d, "DELETE FROM events", results.Options[driver.Row]{})

	_, err := s.All(context.Background())
	var ae *driver.AgentError
	if !errors.As(err, &ae) {
		t.Fatalf("All error = %v, want AgentError", err)
	}
	if !strings.Contains(ae.Message, security.ErrNotSelect.Error()) {
		t.Errorf("agent message = %q", ae.Message)
	}
}

func TestRelay_Unauthorized(t *testing.T) {
	srv, _ := newAgent(t, nil)
	d := driver.NewRemoteDriver(wsURL(srv), "sk_test_wrong", "")
	s := remoteStream(t, d, "SELECT id FROM events", results.Options[driver.Row]{})

	_, err := s.All(context.Background())
	var de *results.DriverError
	if !errors.As(err, &de) {
		t.Fatalf("All error = %v, want DriverError", err)
	}
}

func TestRelay_BearerToken(t *testing.T) {
	secret := "relay-secret"
	path := filepath.Join(t.TempDir(), "tok.db")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatal(err)
	}
	for _, stmt := range []string{`CREATE TABLE t (v TEXT)`, `INSERT INTO t VALUES ('only')`} {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatal(err)
		}
	}
	db.Close()

	local := driver.NewSQLiteDriver(path)
	defer local.Close()
	srv := httptest.NewServer(&Server{
		Driver: local,
		Auth:   security.NewAuthenticator(nil, secret),
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	defer srv.Close()

	tok, err := security.IssueToken([]byte(secret), "ci", "query", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	d := driver.NewRemoteDriver(wsURL(srv), "", tok)
	s := remoteStream(t, d, "SELECT v FROM t", results.Options[driver.Row]{})
	rows, err := s.All(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0][0] != "only" {
		t.Errorf("rows = %v", rows)
	}
}

// recorder is a results.Observer for the agent side.
type recorder struct {
	mu       sync.Mutex
	rows     int
	finished chan struct{}
	once     sync.Once
}

func (r *recorder) done() chan struct{} {
	r.once.Do(func() { r.finished = make(chan struct{}) })
	return r.finished
}

func (r *recorder) Submitted(int) { r.done() }

func (r *recorder) RowDelivered() {
	r.mu.Lock()
	r.rows++
	r.mu.Unlock()
}

func (r *recorder) Finished(results.State, int, time.Duration) {
	close(r.done())
}

func (r *recorder) rowCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rows
}

func (r *recorder) waitFinished(timeout time.Duration) bool {
	select {
	case <-r.done():
		return true
	case <-time.After(timeout):
		return false
	}
}
