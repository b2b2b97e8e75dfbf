// Package updater replaces the running binary with the latest GitHub release.
package updater

import (
	"context"
	"fmt"
	"log"
	"os"
	"runtime"
	"time"

	"github.com/creativeprojects/go-selfupdate"
)

// Updater checks for and applies releases
type Updater struct {
	config *Config
	logger *log.Logger
}

// New creates a new Updater
func New(config *Config, logger *log.Logger) *Updater {
	if logger == nil {
		logger = log.New(os.Stdout, "[UPDATER] ", log.LstdFlags)
	}
	return &Updater{
		config: config,
		logger: logger,
	}
}

func (u *Updater) client() (*selfupdate.Updater, error) {
	source, err := selfupdate.NewGitHubSource(selfupdate.GitHubConfig{})
	if err != nil {
		return nil, fmt.Errorf("failed to create GitHub source: %w", err)
	}
	up, err := selfupdate.NewUpdater(selfupdate.Config{Source: source})
	if err != nil {
		return nil, fmt.Errorf("failed to create updater: %w", err)
	}
	return up, nil
}

// Check returns the latest release and whether it is newer than the running
// version
func (u *Updater) Check(ctx context.Context) (*selfupdate.Release, bool, error) {
	u.logger.Printf("Checking %s for updates (current: %s)", u.config.Repository, u.config.CurrentVersion)

	up, err := u.client()
	if err != nil {
		return nil, false, err
	}
	latest, found, err := up.DetectLatest(ctx, selfupdate.ParseSlug(u.config.Repository))
	if err != nil {
		return nil, false, fmt.Errorf("failed to detect latest version: %w", err)
	}
	if !found {
		u.logger.Printf("No release found for %s/%s", runtime.GOOS, runtime.GOARCH)
		return nil, false, nil
	}

	if latest.LessOrEqual(normalizeVersion(u.config.CurrentVersion)) {
		u.logger.Printf("Current version (%s) is up to date", u.config.CurrentVersion)
		return latest, false, nil
	}
	u.logger.Printf("New version available: %s (current: %s)", latest.Version(), u.config.CurrentVersion)
	return latest, true, nil
}

// Apply replaces the running executable with release
func (u *Updater) Apply(ctx context.Context, release *selfupdate.Release) error {
	u.logger.Printf("Downloading update %s...", release.Version())

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}
	up, err := u.client()
	if err != nil {
		return err
	}
	if err := up.UpdateTo(ctx, release, exe); err != nil {
		return fmt.Errorf("failed to update: %w", err)
	}

	u.logger.Printf("Successfully updated to version %s", release.Version())
	return nil
}

// CheckAndApply updates when a newer release exists and reports whether it did
func (u *Updater) CheckAndApply(ctx context.Context) (bool, error) {
	release, newer, err := u.Check(ctx)
	if err != nil || !newer {
		return false, err
	}
	if err := u.Apply(ctx, release); err != nil {
		return false, err
	}
	return true, nil
}

// Watch checks every CheckInterval, after StartupDelay, and calls onUpdate
// when a newer release exists. It returns when ctx is done.
func (u *Updater) Watch(ctx context.Context, onUpdate func()) {
	select {
	case <-time.After(u.config.StartupDelay):
	case <-ctx.Done():
		return
	}

	ticker := time.NewTicker(u.config.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			release, newer, err := u.Check(ctx)
			if err != nil {
				u.logger.Printf("Update check error: %v", err)
				continue
			}
			if newer {
				u.logger.Printf("Update available: %s", release.Version())
				if onUpdate != nil {
					onUpdate()
				}
			}
		case <-ctx.Done():
			u.logger.Println("Periodic update check stopped")
			return
		}
	}
}
