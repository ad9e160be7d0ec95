package driver

import (
	"context"
	"fmt"

	"fluxquery/internal/results"
)

// Row is one result row, one value per column in header order.
type Row []any

// Driver abstracts the database connection. Queries it returns are lazy: nothing
// reaches the database until a stream pulls from them.
type Driver interface {
	// Name returns the driver name (e.g., "mysql", "postgres").
	Name() string

	// Ping verifies the connection to the database.
	Ping(ctx context.Context) error

	// Query prepares statement for a results.Stream. Syntax errors in the
	// statement itself may be reported here or by the query's final signal.
	Query(statement string) (results.Driver[Row], error)

	// Close closes the database connection.
	Close() error
}

// Open returns the Driver registered under kind.
func Open(kind, dsn string) (Driver, error) {
	switch kind {
	case "mysql":
		return NewMySQLDriver(dsn), nil
	case "postgres":
		return NewPostgresDriver(dsn), nil
	case "sqlite":
		return NewSQLiteDriver(dsn), nil
	case "mongo":
		return NewMongoDriver(dsn), nil
	default:
		return nil, fmt.Errorf("unknown driver %q", kind)
	}
}

// IsSQL reports whether statements for kind go through a SQL back-end.
func IsSQL(kind string) bool {
	switch kind {
	case "mysql", "postgres", "sqlite":
		return true
	}
	return false
}
