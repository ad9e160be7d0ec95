package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"fluxquery/internal/config"
	"fluxquery/internal/driver"
	"fluxquery/internal/results"
	"fluxquery/internal/security"
	"fluxquery/internal/worker"
)

var version = "dev"

// app is the state shared by the subcommands.
type app struct {
	cfg  *config.Config
	log  *slog.Logger
	db   driver.Driver
	exec *worker.Executor
}

var cli = &app{}

var rootCmd = &cobra.Command{
	Use:          "fluxquery",
	Short:        "Stream query results from SQL, Mongo or a remote agent",
	Version:      version,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return cli.setup(cmd)
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		return cli.teardown()
	},
}

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	rootCmd.AddCommand(queryCmd(), countCmd(), exportCmd(), tokenCmd(), hashKeyCmd())
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// setup loads configuration and, for commands that query, opens the driver
// and the executor.
func (a *app) setup(cmd *cobra.Command) error {
	a.cfg = config.Load()
	a.log = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: a.cfg.Level()}))
	slog.SetDefault(a.log)

	if cmd.Annotations["offline"] == "true" {
		return nil
	}
	if err := a.cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	db, err := a.openDriver()
	if err != nil {
		return err
	}
	exec, err := worker.NewExecutor(a.cfg.WorkerCount, a.cfg.MaxDBConcurrency, a.log)
	if err != nil {
		_ = db.Close()
		return err
	}
	a.db, a.exec = db, exec
	a.log.Debug("Driver ready", "driver", db.Name())
	return nil
}

func (a *app) teardown() error {
	if a.exec != nil {
		if err := a.exec.Release(a.cfg.QueryTimeout); err != nil {
			a.log.Warn("Executor did not drain", "error", err)
		}
	}
	if a.db != nil {
		return a.db.Close()
	}
	return nil
}

func (a *app) openDriver() (driver.Driver, error) {
	if a.cfg.DBDriver == "remote" {
		return driver.NewRemoteDriver(a.cfg.AgentURL, a.cfg.AgentKey, a.cfg.AgentToken), nil
	}
	return driver.Open(a.cfg.DBDriver, a.cfg.DBDSN)
}

// validator returns the statement check for the configured backend. A remote
// agent validates statements itself.
func (a *app) validator() func(string) error {
	switch {
	case driver.IsSQL(a.cfg.DBDriver):
		return security.ValidateQuery
	case a.cfg.DBDriver == "mongo":
		return security.ValidateFind
	}
	return nil
}

// open validates statement and returns a stream over it.
func (a *app) open(statement string, limit int) (*results.Stream[driver.Row], error) {
	if validate := a.validator(); validate != nil {
		if err := validate(statement); err != nil {
			return nil, err
		}
	}
	q, err := a.db.Query(statement)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = a.cfg.QueryLimit
	}
	return results.New(q, results.Options[driver.Row]{
		Limit:    limit,
		Prefetch: a.cfg.QueryPrefetch,
		Executor: a.exec,
		Logger:   a.log,
	}), nil
}
