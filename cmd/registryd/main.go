// Command registryd is the composition root: it loads configuration,
// opens the SQLite-backed Blob Store and Manifest Index, wires the
// Session Tracker, Upload State Machine, Garbage Collector and Cleanup
// Scheduler, and serves the Distribution API and admin surface over
// HTTP (§6).
package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/afero"
	"github.com/urfave/cli/v3"
	_ "modernc.org/sqlite"

	"github.com/dockreef/registry/cleanup"
	"github.com/dockreef/registry/gc"
	"github.com/dockreef/registry/manifestindex"
	"github.com/dockreef/registry/pkg/auth"
	"github.com/dockreef/registry/pkg/config"
	"github.com/dockreef/registry/pkg/obslog"
	"github.com/dockreef/registry/registryapi"
	"github.com/dockreef/registry/session"
	"github.com/dockreef/registry/store"
	"github.com/dockreef/registry/upload"
)

// gracePeriod bounds how long in-flight requests get to finish during
// a graceful shutdown before the listener is forced closed.
const gracePeriod = 15 * time.Second

func main() {
	cmd := &cli.Command{
		Name:  "registryd",
		Usage: "OCI/Docker Distribution Registry HTTP API v2 daemon",
		Action: func(ctx context.Context, _ *cli.Command) error {
			return run(ctx)
		},
	}
	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "registryd: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("cannot load configuration: %w", err)
	}
	log := obslog.New(cfg)

	db, err := sql.Open("sqlite", cfg.DBPath)
	if err != nil {
		return fmt.Errorf("cannot open database %q: %w", cfg.DBPath, err)
	}
	defer db.Close()
	if _, err := db.ExecContext(ctx, store.Schema); err != nil {
		return fmt.Errorf("cannot apply blob schema: %w", err)
	}
	if _, err := db.ExecContext(ctx, manifestindex.Schema); err != nil {
		return fmt.Errorf("cannot apply manifest schema: %w", err)
	}

	fs := afero.NewOsFs()
	if err := fs.MkdirAll(cfg.SpoolDir, 0o755); err != nil {
		return fmt.Errorf("cannot create spool dir %q: %w", cfg.SpoolDir, err)
	}

	s := store.New(db, fs, cfg.SpoolDir)
	idx := manifestindex.New(db)
	tr := session.New()
	up := upload.New(s, tr)
	collector := gc.New(s, idx, tr)
	collector.SessionMaxAge = cfg.SessionMaxAge

	sched := cleanup.New(cleanup.Config{
		Interval:      cfg.GCInterval,
		SessionMaxAge: cfg.SessionMaxAge,
		DiskPath:      cfg.SpoolDir,
		DiskFloor:     cfg.DiskFloorPercent / 100,
	}, s, tr, log)

	schedCtx, cancelSched := context.WithCancel(ctx)
	defer cancelSched()
	go sched.Run(schedCtx)

	api := registryapi.New(s, idx, tr, up, collector, log)
	mux := http.NewServeMux()
	mux.Handle("/v2/", auth.Middleware(cfg, api))
	mux.Handle("/api/", auth.Middleware(cfg, registryapi.NewAdminRouter(api)))

	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: mux,
	}

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		log.Info("registryd listening", "addr", cfg.ListenAddr)
		serveErr <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("http server error: %w", err)
		}
	case <-sigCtx.Done():
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), gracePeriod)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
	}
	return nil
}
