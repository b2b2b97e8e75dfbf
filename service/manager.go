package service

import (
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"slices"

	svc "github.com/kardianos/service"
)

// Commands are the actions accepted by RunServiceCommand
var Commands = []string{"install", "uninstall", "start", "stop", "restart", "status", "run"}

// ErrUnknownCommand is returned for an action outside Commands
var ErrUnknownCommand = errors.New("unknown service command")

// Manager wraps the platform service for Program
type Manager struct {
	service svc.Service
	program *Program
}

// NewManager registers prg with the platform service manager
func NewManager(prg *Program) (*Manager, error) {
	s, err := svc.New(prg, NewServiceConfig(buildServiceArgs(prg)))
	if err != nil {
		return nil, fmt.Errorf("failed to create service: %w", err)
	}
	return &Manager{service: s, program: prg}, nil
}

// buildServiceArgs builds the command line the service manager runs
func buildServiceArgs(prg *Program) []string {
	args := []string{"service", "run"}

	if prg.ConfigPath != "" {
		configPath := prg.ConfigPath
		if absPath, err := filepath.Abs(configPath); err == nil {
			configPath = absPath
		}
		args = append(args, "--config="+configPath)
	}
	if prg.AutoUpdate {
		args = append(args, "--auto-update")
	}
	return args
}

// Run blocks until the service manager stops the service
func (m *Manager) Run() error {
	return m.service.Run()
}

// Control performs install, uninstall, start, stop or restart
func (m *Manager) Control(action string) error {
	if action == "uninstall" {
		// a running service cannot be removed on Windows
		_ = m.service.Stop()
	}
	if err := svc.Control(m.service, action); err != nil {
		return fmt.Errorf("failed to %s service: %w", action, err)
	}
	return nil
}

// Status describes the installed service state
func (m *Manager) Status() (string, error) {
	status, err := m.service.Status()
	switch {
	case errors.Is(err, svc.ErrNotInstalled):
		return "not installed", nil
	case err != nil:
		return "", fmt.Errorf("failed to get service status: %w", err)
	}
	switch status {
	case svc.StatusRunning:
		return "running", nil
	case svc.StatusStopped:
		return "stopped", nil
	}
	return "unknown", nil
}

// RunServiceCommand handles `tracesdl service <action>`
func RunServiceCommand(action string, prg *Program, logger *log.Logger) error {
	if !slices.Contains(Commands, action) {
		return fmt.Errorf("%w %q (valid: %v)", ErrUnknownCommand, action, Commands)
	}

	mgr, err := NewManager(prg)
	if err != nil {
		return err
	}

	switch action {
	case "run":
		return mgr.Run()
	case "status":
		status, err := mgr.Status()
		if err != nil {
			return err
		}
		logger.Printf("Service %s: %s", ServiceName, status)
		return nil
	}

	if err := mgr.Control(action); err != nil {
		return err
	}
	logger.Printf("Service %s: %s done", ServiceName, action)
	if action == "install" {
		logger.Println("To start the service, run: tracesdl service start")
	}
	return nil
}
