package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kingdom/pool-engine/api"
	"github.com/kingdom/pool-engine/logging"
	"github.com/kingdom/pool-engine/pool"
	"github.com/kingdom/pool-engine/pool/store"
	"github.com/kingdom/pool-engine/store/sqlite"
)

const shutdownTimeout = 30 * time.Second

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 8080, "HTTP server port (env POOL_PORT)")
	serveCmd.Flags().Duration("close-interval", time.Hour, "How often the week closer checks the clock")
	serveCmd.Flags().StringSlice("cors-origin", nil, "Allowed CORS origins (default: local dashboard)")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Long: `Starts the HTTP API and the week closer. The Original units are created
on first start. SIGINT or SIGTERM stops accepting connections and waits up
to 30s for active requests.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

// backend is what the server needs from a store: the engine contract plus
// Reset for demo scenarios.
type backend interface {
	pool.Backend
	api.Resetter
}

// openBackend picks the store named by path. "memory" is the in-process
// store; anything else is a SQLite path, including ":memory:".
func openBackend(path string, log *logging.Logger) (backend, func() error, error) {
	if path == "memory" {
		log.Warn("using in-process store, data is lost on exit")
		return store.NewMemory(), func() error { return nil }, nil
	}
	s, err := sqlite.New(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open database %s: %w", path, err)
	}
	log.Info("database ready", "path", path, "schema_version", s.SchemaVersion())
	return s, s.Close, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	log, err := newLogger(cmd)
	if err != nil {
		return err
	}
	file, cfg, err := loadConfig(cmd)
	if err != nil {
		log.Error("configuration invalid", "error", err)
		return err
	}

	port, _ := cmd.Flags().GetInt("port")
	if v, ok := os.LookupEnv("POOL_PORT"); ok && !cmd.Flags().Changed("port") {
		if _, err := fmt.Sscanf(v, "%d", &port); err != nil {
			return fmt.Errorf("POOL_PORT %q: %w", v, err)
		}
	}
	interval, _ := cmd.Flags().GetDuration("close-interval")
	origins, _ := cmd.Flags().GetStringSlice("cors-origin")

	db, closeDB, err := openBackend(setting(cmd, "db", "POOL_DB"), log)
	if err != nil {
		return err
	}
	defer closeDB()

	engine, err := pool.NewEngine(db, cfg, pool.WithLogger(log.WithComponent("engine")))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if _, err := engine.Bootstrap(ctx); err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}

	handler := api.NewHandler(engine, db, file.CurrencyCode(), log)
	closer := api.NewWeekCloser(engine, log)
	closer.CheckInterval = interval
	handler.Closer = closer
	closer.Start()
	defer closer.Stop()

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      api.NewRouter(handler, origins...),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("server starting",
			"addr", server.Addr,
			"week", engine.CurrentWeek(),
			"roster", len(cfg.Roster),
			"currency", file.CurrencyCode(),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("server stopped", "error", err)
		return err
	}
	log.Info("server stopped")
	return nil
}
