package service

import (
	"context"
	"io"
	"log"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/traces-scraper/config"
	"github.com/traces-scraper/server"
)

func TestBuildServiceArgs(t *testing.T) {
	assert.Equal(t, []string{"service", "run"}, buildServiceArgs(&Program{}))

	abs := filepath.Join(t.TempDir(), "tracesdl.yaml")
	args := buildServiceArgs(&Program{ConfigPath: abs, AutoUpdate: true})
	assert.Equal(t, []string{"service", "run", "--config=" + abs, "--auto-update"}, args)

	args = buildServiceArgs(&Program{ConfigPath: "tracesdl.yaml"})
	require.Len(t, args, 3)
	assert.True(t, filepath.IsAbs(args[2][len("--config="):]))
}

func TestNewServiceConfig(t *testing.T) {
	cfg := NewServiceConfig([]string{"service", "run"})
	assert.Equal(t, ServiceName, cfg.Name)
	assert.Equal(t, []string{"service", "run"}, cfg.Arguments)
	assert.Equal(t, "automatic", cfg.Option["StartType"])
}

func TestProgramStartStop(t *testing.T) {
	logDir := t.TempDir()
	cfg := config.Default()
	cfg.Server.RunsDir = t.TempDir()

	started := make(chan server.Options, 1)
	prg := &Program{
		Config:  cfg,
		Version: "1.0.0",
		LogDir:  logDir,
		Serve: func(ctx context.Context, opts server.Options) error {
			started <- opts
			<-ctx.Done()
			return nil
		},
	}

	require.NoError(t, prg.Start(nil))
	opts := <-started
	assert.Equal(t, "1.0.0", opts.Version)
	assert.Same(t, cfg, opts.Config)

	require.NoError(t, prg.Stop(nil))

	data, err := os.ReadFile(filepath.Join(logDir, "tracesdl.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "Service Start() called, version 1.0.0")
	assert.Contains(t, string(data), "Service stopped")
}

func TestProgramBadConfig(t *testing.T) {
	done := make(chan struct{})
	prg := &Program{
		ConfigPath: filepath.Join(t.TempDir(), "missing.yaml"),
		LogDir:     t.TempDir(),
		Serve: func(context.Context, server.Options) error {
			close(done)
			return nil
		},
	}
	require.NoError(t, prg.Start(nil))
	require.NoError(t, prg.Stop(nil))

	select {
	case <-done:
		t.Fatal("server started without a config")
	default:
	}
}

func TestRunServiceCommand_Unknown(t *testing.T) {
	err := RunServiceCommand("reinstall", &Program{}, log.New(io.Discard, "", 0))
	assert.ErrorIs(t, err, ErrUnknownCommand)
}
