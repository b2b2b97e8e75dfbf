// Package service runs the web UI as an operating system service.
package service

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/kardianos/service"

	"github.com/traces-scraper/config"
	"github.com/traces-scraper/server"
	"github.com/traces-scraper/updater"
)

// ServeFunc runs the server until ctx is done
type ServeFunc func(ctx context.Context, opts server.Options) error

// Program implements service.Interface
type Program struct {
	Logger     *log.Logger
	Config     *config.Config
	ConfigPath string
	Version    string

	// AutoUpdate checks GitHub releases periodically while running
	AutoUpdate bool

	// LogDir defaults to logs/ next to the executable
	LogDir string

	// Serve defaults to server.Run
	Serve ServeFunc

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	logFile *os.File
}

// Start is called when the service starts
func (p *Program) Start(s service.Service) error {
	var svcLogger service.Logger
	if s != nil {
		svcLogger, _ = s.Logger(nil)
	}

	if err := p.setupFileLogger(); err != nil && svcLogger != nil {
		_ = svcLogger.Error("Failed to setup file logger: " + err.Error())
	}
	if p.Logger == nil {
		p.Logger = log.New(os.Stderr, "[SERVICE] ", log.LstdFlags)
	}
	if svcLogger != nil {
		_ = svcLogger.Info("Service starting...")
	}
	p.Logger.Printf("Service Start() called, version %s", p.Version)

	p.ctx, p.cancel = context.WithCancel(context.Background())

	p.wg.Add(1)
	go p.run()
	return nil
}

// Stop is called when the service stops
func (p *Program) Stop(s service.Service) error {
	p.Logger.Println("Service stopping...")
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	p.Logger.Println("Service stopped")

	if p.logFile != nil {
		p.logFile.Close()
	}
	return nil
}

// setupFileLogger tees log output into LogDir/tracesdl.log
func (p *Program) setupFileLogger() error {
	logDir := p.LogDir
	if logDir == "" {
		exePath, err := os.Executable()
		if err != nil {
			return fmt.Errorf("failed to get executable path: %w", err)
		}
		logDir = filepath.Join(filepath.Dir(exePath), "logs")
	}
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return fmt.Errorf("failed to create log dir %s: %w", logDir, err)
	}

	logFile := filepath.Join(logDir, "tracesdl.log")
	f, err := os.OpenFile(logFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file %s: %w", logFile, err)
	}

	p.logFile = f
	p.Logger = log.New(io.MultiWriter(os.Stdout, f), "[SERVICE] ", log.LstdFlags)
	return nil
}

// run is the main service loop
func (p *Program) run() {
	defer p.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			p.Logger.Printf("run() panic recovered: %v", r)
		}
	}()

	cfg := p.Config
	if cfg == nil {
		var err error
		if cfg, err = config.Load(p.ConfigPath); err != nil {
			p.Logger.Printf("Failed to load config: %v", err)
			return
		}
	}

	// relative paths are relative to the executable, not the service manager's cwd
	if !filepath.IsAbs(cfg.Server.RunsDir) {
		exePath, _ := os.Executable()
		cfg.Server.RunsDir = filepath.Join(filepath.Dir(exePath), cfg.Server.RunsDir)
	}

	if p.AutoUpdate || cfg.Update.Enabled {
		p.startAutoUpdate(cfg)
	}

	serve := p.Serve
	if serve == nil {
		serve = server.Run
	}
	err := serve(p.ctx, server.Options{
		Config:  cfg,
		Logger:  p.Logger,
		Version: p.Version,
	})
	if err != nil {
		p.Logger.Printf("Server stopped: %v", err)
	}
}

// startAutoUpdate checks once at startup and then periodically
func (p *Program) startAutoUpdate(cfg *config.Config) {
	ucfg, err := updater.NewConfig(p.Version, cfg.Update.Repo, cfg.Update.Interval)
	if err != nil {
		p.Logger.Printf("Auto-update disabled: %v", err)
		return
	}
	u := updater.New(ucfg, log.New(p.Logger.Writer(), "[UPDATER] ", log.LstdFlags))

	apply := func() {
		defer func() {
			if r := recover(); r != nil {
				p.Logger.Printf("Auto-update panic recovered: %v", r)
			}
		}()
		updated, err := u.CheckAndApply(p.ctx)
		if err != nil {
			p.Logger.Printf("Update failed: %v", err)
			return
		}
		if !updated {
			return
		}
		p.Logger.Println("Update applied, restarting service...")
		if err := updater.RestartService(ServiceName, p.Logger); err != nil {
			p.Logger.Printf("Restart the service to run the new version: %v", err)
		}
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		apply()
		u.Watch(p.ctx, apply)
	}()
}
