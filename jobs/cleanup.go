package jobs

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Cleanup deletes finished jobs and run directories older than the retention
// period and returns how many run directories were removed
func (m *Manager) Cleanup(ctx context.Context) (int, error) {
	if m.retention <= 0 {
		return 0, nil
	}
	cutoff := m.now().Add(-m.retention)

	jobs, err := m.store.List(ctx)
	if err != nil {
		return 0, err
	}
	removed := 0
	known := make(map[string]bool)
	for _, j := range jobs {
		known[filepath.Clean(j.RunDir)] = true
		if !j.Status.Terminal() || j.CreatedAt.After(cutoff) {
			continue
		}
		if j.RunDir != "" {
			if err := os.RemoveAll(j.RunDir); err != nil {
				m.logger.Printf("Cleanup: failed to remove %s: %v", j.RunDir, err)
				continue
			}
			removed++
		}
		if err := m.store.Delete(ctx, j.ID); err != nil {
			return removed, err
		}
	}

	// run directories without a job record, e.g. from an in-memory store
	entries, err := os.ReadDir(m.runsDir)
	if err != nil {
		return removed, err
	}
	for _, e := range entries {
		path := filepath.Join(m.runsDir, e.Name())
		if !e.IsDir() || !strings.HasPrefix(e.Name(), "run_") || known[filepath.Clean(path)] {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.RemoveAll(path); err != nil {
			m.logger.Printf("Cleanup: failed to remove %s: %v", path, err)
			continue
		}
		removed++
	}

	if removed > 0 {
		m.logger.Printf("Cleanup: removed %d old run(s)", removed)
	}
	return removed, nil
}

// StartCleanup runs Cleanup every interval until ctx is done
func (m *Manager) StartCleanup(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			if _, err := m.Cleanup(ctx); err != nil {
				m.logger.Printf("Cleanup failed: %v", err)
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}
