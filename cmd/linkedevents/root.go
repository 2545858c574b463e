package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hyperengineering/linkedevents/internal/api"
	"github.com/hyperengineering/linkedevents/internal/archive"
	"github.com/hyperengineering/linkedevents/internal/config"
	"github.com/hyperengineering/linkedevents/internal/importer"
	"github.com/hyperengineering/linkedevents/internal/store"
	"github.com/hyperengineering/linkedevents/internal/worker"
)

// Version is set at build time via ldflags: -ldflags "-X main.Version=1.0.0"
var Version = "dev"

var configPath string

// cfg is loaded by the root PersistentPreRunE before any command runs.
var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:               "linkedevents",
	Short:             "Linked Events - event and place import service",
	SilenceUsage:      true,
	PersistentPreRunE: setup,
	RunE:              runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run scheduled imports and the admin API (default command)",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"Config file path (overrides LINKEDEVENTS_CONFIG_PATH)")
	rootCmd.AddCommand(serveCmd)
}

func setup(cmd *cobra.Command, args []string) error {
	var err error
	if configPath != "" {
		cfg, err = config.LoadFromFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.SetDefault(newLogger(cmd.ErrOrStderr(), cfg.Log))
	return nil
}

func newLogger(w io.Writer, lc config.LogConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(lc.Level)}
	if lc.Format == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// openRunner opens the store and the payload archive and returns a runner
// over them. The caller closes the store.
func openRunner() (*importer.Runner, *store.SQLiteStore, error) {
	db, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, nil, err
	}
	arch, err := archive.New(cfg.Archive)
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	return importer.NewRunner(db, cfg, arch), db, nil
}

// schedules converts the configured worker intervals.
func schedules() map[string]time.Duration {
	out := make(map[string]time.Duration, len(cfg.Worker.Schedules))
	for name, d := range cfg.Worker.Schedules {
		out[name] = time.Duration(d)
	}
	return out
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	if err := cfg.RequireAPIKey(); err != nil {
		return err
	}

	runner, db, err := openRunner()
	if err != nil {
		return err
	}
	slog.Info("store initialized", "path", cfg.Database.Path)

	handler := api.NewHandler(ctx, runner, db, cfg.Auth.APIKey, Version)
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      api.NewRouter(handler),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout),
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout),
	}

	var wg sync.WaitGroup
	coordinator := worker.NewImportCoordinator(runner, schedules())
	startWorker(ctx, &wg, "import-coordinator", coordinator.Run)

	go func() {
		slog.Info("server starting", "address", addr, "version", Version)
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	slog.Info("shutdown initiated")

	shutdownCtx, shutdownCancel := context.WithTimeout(
		context.Background(),
		time.Duration(cfg.Server.ShutdownTimeout))
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	// Imports see the cancelled context and record themselves as failed.
	wg.Wait()
	handler.Wait()

	if err := db.Close(); err != nil {
		slog.Error("store close error", "error", err)
	}
	slog.Info("shutdown complete")
	return nil
}

// startWorker launches a background worker goroutine that respects context cancellation.
// Workers are tracked via WaitGroup for graceful shutdown.
func startWorker(ctx context.Context, wg *sync.WaitGroup, name string, fn func(ctx context.Context)) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		slog.Info("worker started", "worker", name)
		fn(ctx)
		slog.Info("worker stopped", "worker", name)
	}()
}
