package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"fluxquery/internal/config"
	"fluxquery/internal/driver"
	"fluxquery/internal/metrics"
	"fluxquery/internal/relay"
	"fluxquery/internal/security"
)

var version = "dev"

func main() {
	// Custom Usage/Help Message
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "FluxQuery Agent %s\n\n", version)
		fmt.Fprintf(os.Stderr, "Usage:\n")
		fmt.Fprintf(os.Stderr, "  fluxquery-agent [flags]\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
		fmt.Fprintf(os.Stderr, "  DB_DRIVER         mysql, postgres, sqlite or mongo\n")
		fmt.Fprintf(os.Stderr, "  DB_DSN            Database connection string\n")
		fmt.Fprintf(os.Stderr, "  AGENT_ADDR        Listen address (default :8090)\n")
		fmt.Fprintf(os.Stderr, "  AGENT_KEY_HASHES  Comma-separated bcrypt hashes of accepted agent keys\n")
		fmt.Fprintf(os.Stderr, "  API_SECRET        Secret for bearer tokens\n")
		fmt.Fprintf(os.Stderr, "  METRICS_ADDR      Serve /metrics on a separate address\n")
		fmt.Fprintf(os.Stderr, "\nExample:\n")
		fmt.Fprintf(os.Stderr, "  export DB_DRIVER=mysql\n")
		fmt.Fprintf(os.Stderr, "  export DB_DSN=\"user:pass@tcp(localhost:3306)/db\"\n")
		fmt.Fprintf(os.Stderr, "  export AGENT_KEY_HASHES=\"$(fluxquery hash-key sk_live_123 | cut -f2)\"\n")
		fmt.Fprintf(os.Stderr, "  fluxquery-agent\n")
	}

	showVersion := flag.Bool("version", false, "Show version")
	addr := flag.String("addr", "", "Listen address (overrides AGENT_ADDR)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("FluxQuery Agent %s\n", version)
		os.Exit(0)
	}

	_ = godotenv.Load()
	cfg := config.Load()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.Level()}))
	slog.SetDefault(logger)
	if *addr != "" {
		cfg.AgentAddr = *addr
	}

	if cfg.DBDriver == "remote" || cfg.DBDSN == "" {
		slog.Error("Missing configuration (DB_DRIVER must be local, DB_DSN is required)")
		os.Exit(1)
	}

	auth := security.NewAuthenticator(cfg.AgentKeyHashes, cfg.APISecret)
	if auth.Open() {
		slog.Warn("No AGENT_KEY_HASHES or API_SECRET configured; accepting unauthenticated clients")
	}

	// Initialize Driver
	dbDriver, err := driver.Open(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		slog.Error("Invalid driver", "error", err)
		os.Exit(1)
	}
	defer dbDriver.Close()

	pingCtx, cancelPing := context.WithTimeout(context.Background(), 10*time.Second)
	err = dbDriver.Ping(pingCtx)
	cancelPing()
	if err != nil {
		slog.Error("Failed to connect to Local DB", "error", err)
		os.Exit(1)
	}
	slog.Info("Connected to Local DB", "driver", dbDriver.Name())

	m := metrics.New()
	validate := security.ValidateQuery
	if !driver.IsSQL(cfg.DBDriver) {
		validate = security.ValidateFind
	}
	relayServer := &relay.Server{
		Driver:   dbDriver,
		Auth:     auth,
		Validate: validate,
		Observer: m,
		Logger:   logger,
	}

	mux := http.NewServeMux()
	mux.Handle("/", relayServer)
	servers := []*http.Server{{Addr: cfg.AgentAddr, Handler: mux}}
	if cfg.MetricsAddr != "" {
		servers = append(servers, &http.Server{Addr: cfg.MetricsAddr, Handler: m.Handler()})
	} else {
		mux.Handle("/metrics", m.Handler())
	}

	errCh := make(chan error, len(servers))
	for _, srv := range servers {
		go func() {
			slog.Info("Listening", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()
	}

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)

	select {
	case <-interrupt:
	case err := <-errCh:
		slog.Error("Server failed", "error", err)
	}

	slog.Info("Agent shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for _, srv := range servers {
		if err := srv.Shutdown(ctx); err != nil {
			slog.Error("Shutdown failed", "addr", srv.Addr, "error", err)
		}
	}
}
