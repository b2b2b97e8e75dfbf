// Package server hosts the web UI for batch downloads and a gRPC health
// endpoint.
package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/traces-scraper/config"
	"github.com/traces-scraper/jobs"
)

const (
	cleanupInterval = time.Hour
	shutdownTimeout = 30 * time.Second
)

// Options configure Run
type Options struct {
	Config  *config.Config
	Engine  Engine
	Logger  *log.Logger
	Version string
}

// Run serves HTTP and gRPC health until ctx is cancelled, then shuts both down
// and cancels running jobs
func Run(ctx context.Context, opts Options) error {
	cfg := opts.Config
	logger := opts.Logger
	if logger == nil {
		logger = log.New(os.Stdout, "[SERVER] ", log.LstdFlags)
	}

	store, err := openStore(cfg.Server.DB)
	if err != nil {
		return err
	}
	defer store.Close()

	formats, err := cfg.ReportFormats()
	if err != nil {
		return err
	}
	retention := time.Duration(cfg.Server.RetentionHours) * time.Hour
	manager, err := jobs.NewManager(ctx, store, cfg.Server.RunsDir, retention, formats, logger)
	if err != nil {
		return err
	}

	web, err := NewHTTPServer(cfg, manager, opts.Engine, logger, opts.Version)
	if err != nil {
		return err
	}
	httpSrv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           web.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	var grpcSrv *GRPCServer
	var grpcLis net.Listener
	if cfg.Server.GRPCPort != "" {
		grpcLis, err = net.Listen("tcp", ":"+cfg.Server.GRPCPort)
		if err != nil {
			return fmt.Errorf("failed to listen on gRPC port: %w", err)
		}
		grpcSrv = NewGRPCServer(logger)
	}

	g, gctx := errgroup.WithContext(ctx)
	manager.StartCleanup(gctx, cleanupInterval)

	g.Go(func() error {
		logger.Printf("HTTP server listening on %s", cfg.Server.Addr)
		logger.Printf("Runs directory: %s", cfg.Server.RunsDir)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if grpcSrv != nil {
		g.Go(func() error {
			return grpcSrv.Serve(grpcLis)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Println("Shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if grpcSrv != nil {
			grpcSrv.Shutdown()
		}
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			logger.Printf("HTTP shutdown: %v", err)
		}
		if err := manager.Shutdown(shutdownCtx); err != nil {
			logger.Printf("Jobs did not stop in time: %v", err)
		}
		return nil
	})

	return g.Wait()
}

func openStore(path string) (jobs.Store, error) {
	if path == "" {
		return jobs.NewMemoryStore(), nil
	}
	return jobs.OpenSQLite(path)
}
