package driver

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"fluxquery/internal/results"
)

// SQLDriver runs statements through database/sql. MySQL, Postgres and SQLite
// differ only in the registered driver name and whether a snapshot
// transaction is available.
type SQLDriver struct {
	name     string
	dsn      string
	snapshot bool

	mu sync.Mutex
	db *sql.DB
}

func NewMySQLDriver(dsn string) *SQLDriver {
	return &SQLDriver{name: "mysql", dsn: dsn, snapshot: true}
}

func NewPostgresDriver(dsn string) *SQLDriver {
	return &SQLDriver{name: "postgres", dsn: dsn, snapshot: true}
}

// NewSQLiteDriver opens a SQLite database through modernc.org/sqlite.
func NewSQLiteDriver(dsn string) *SQLDriver {
	return &SQLDriver{name: "sqlite", dsn: dsn}
}

func (d *SQLDriver) Name() string {
	return d.name
}

// conn opens the pool on first use.
func (d *SQLDriver) conn() (*sql.DB, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.db == nil {
		db, err := sql.Open(d.name, d.dsn)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", d.name, err)
		}
		d.db = db
	}
	return d.db, nil
}

func (d *SQLDriver) Ping(ctx context.Context) error {
	db, err := d.conn()
	if err != nil {
		return err
	}
	return db.PingContext(ctx)
}

func (d *SQLDriver) Query(statement string) (results.Driver[Row], error) {
	db, err := d.conn()
	if err != nil {
		return nil, err
	}
	return &sqlQuery{db: db, statement: statement, snapshot: d.snapshot}, nil
}

func (d *SQLDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.db != nil {
		err := d.db.Close()
		d.db = nil
		return err
	}
	return nil
}

// sqlQuery is one statement. Each Perform runs it once; the pacer holds the
// cursor open between extensions.
type sqlQuery struct {
	results.Pacer
	db        *sql.DB
	statement string
	snapshot  bool

	mu     sync.Mutex
	cancel context.CancelFunc
}

func (q *sqlQuery) Perform(limit int, onSignal results.SignalFunc[Row]) {
	q.Start(limit)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.mu.Lock()
	q.cancel = cancel
	q.mu.Unlock()

	fail := func(err error) {
		if q.Cancelled() {
			err = nil
		}
		onSignal(results.FinalSignal[Row](results.Metadata{TotalRows: results.UnknownTotal}, err))
	}
	if q.Cancelled() {
		fail(nil)
		return
	}

	rows, done, err := q.open(ctx)
	if err != nil {
		fail(err)
		return
	}
	defer done()
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		fail(fmt.Errorf("read columns: %w", err))
		return
	}
	onSignal(results.HeaderSignal[Row](results.Metadata{TotalRows: results.UnknownTotal, Columns: columns}))

	// Scan into *any: database/sql copies []byte values, so each Row owns its
	// memory after the next call to Next.
	n := 0
	for q.Wait(n) && rows.Next() {
		values := make(Row, len(columns))
		pointers := make([]any, len(columns))
		for i := range values {
			pointers[i] = &values[i]
		}
		if err := rows.Scan(pointers...); err != nil {
			fail(fmt.Errorf("row scan failed: %w", err))
			return
		}
		onSignal(results.RowSignal(values))
		n++
	}

	err = rows.Err()
	if err != nil {
		err = fmt.Errorf("rows iteration error: %w", err)
	}
	if q.Cancelled() {
		err = nil
	}
	onSignal(results.FinalSignal[Row](results.Metadata{TotalRows: n, Columns: columns}, err))
}

// open runs the statement, inside a read-only repeatable-read transaction when
// the back-end offers one. done releases the transaction.
func (q *sqlQuery) open(ctx context.Context) (*sql.Rows, func(), error) {
	if !q.snapshot {
		rows, err := q.db.QueryContext(ctx, q.statement)
		if err != nil {
			return nil, nil, fmt.Errorf("query execution failed: %w", err)
		}
		return rows, func() {}, nil
	}

	tx, err := q.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true, Isolation: sql.LevelRepeatableRead})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	rows, err := tx.QueryContext(ctx, q.statement)
	if err != nil {
		_ = tx.Rollback()
		return nil, nil, fmt.Errorf("query execution failed: %w", err)
	}
	return rows, func() { _ = tx.Rollback() }, nil
}

// Cancel stops the pacer and aborts the statement on the server.
func (q *sqlQuery) Cancel() {
	q.Pacer.Cancel()
	q.mu.Lock()
	cancel := q.cancel
	q.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}
