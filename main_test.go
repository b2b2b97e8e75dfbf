package main

import (
	"archive/zip"
	"bytes"
	"context"
	"log"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/traces-scraper/download"
	"github.com/traces-scraper/model"
	"github.com/traces-scraper/report"
	"github.com/traces-scraper/scrapers"
)

// emptySession is a portal that never finds anyone
type emptySession struct {
	searches []string
	closed   bool
}

func (s *emptySession) Search(_ context.Context, query string) error {
	s.searches = append(s.searches, query)
	return nil
}

func (s *emptySession) ListResults(context.Context) ([]model.SearchResultEntry, error) {
	return nil, nil
}

func (s *emptySession) ClickDownload(context.Context, model.SearchResultEntry) error { return nil }

func (s *emptySession) Downloads() <-chan download.Event { return nil }

func (s *emptySession) Close() error {
	s.closed = true
	return nil
}

func useSession(t *testing.T, s scrapers.Session) {
	t.Helper()
	prev := sessionFactory
	sessionFactory = func(context.Context, *scrapers.Config, *log.Logger) (scrapers.Session, error) {
		return s, nil
	}
	t.Cleanup(func() { sessionFactory = prev })
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeCSV(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "suppliers.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestRun_WritesReports(t *testing.T) {
	sess := &emptySession{}
	useSession(t, sess)

	csvPath := writeCSV(t, "Supplier\nChoconut B.V\nOlivar S.L.\n")
	out := filepath.Join(t.TempDir(), "downloads")
	require.NoError(t, os.MkdirAll(out, 0o755))
	// left behind by a download that timed out in an earlier run
	require.NoError(t, os.WriteFile(filepath.Join(out, "5d1c7a0e-guid"), []byte("%PDF-1.4\n"), 0o644))

	stdout, err := execute(t, "run", "--suppliers", csvPath, "--out", out, "--delay", "0", "--report", "csv,md", "--zip")
	require.NoError(t, err)

	assert.Equal(t, []string{"choconut b.v", "olivar s.l."}, sess.searches)
	assert.True(t, sess.closed)
	assert.Contains(t, stdout, "0 downloaded, 2 not found, 0 ambiguous, 0 timed out, 0 errors (of 2)")

	for _, name := range []string{"report.json", "report.csv", "report.md"} {
		assert.FileExists(t, filepath.Join(out, name))
	}
	zr, err := zip.OpenReader(out + ".zip")
	require.NoError(t, err)
	defer zr.Close()
	var zipped []string
	for _, f := range zr.File {
		zipped = append(zipped, f.Name)
	}
	assert.Equal(t, []string{"report.json", "report.csv", "report.md"}, zipped)

	rep, err := report.ReadJSON(filepath.Join(out, "report.json"))
	require.NoError(t, err)
	require.Len(t, rep.Outcomes, 2)
	assert.Equal(t, "Choconut B.V", rep.Outcomes[0].Supplier)
	assert.Equal(t, model.OutcomeNotFound, rep.Outcomes[1].Kind)
}

func TestRun_JSONOnlyByDefault(t *testing.T) {
	useSession(t, &emptySession{})

	out := filepath.Join(t.TempDir(), "downloads")
	_, err := execute(t, "run", "--suppliers", writeCSV(t, "Choconut B.V\n"), "--out", out, "--delay", "0")
	require.NoError(t, err)

	assert.FileExists(t, filepath.Join(out, "report.json"))
	assert.NoFileExists(t, filepath.Join(out, "report.csv"))
	assert.NoFileExists(t, out+".zip")
}

func TestRun_InvalidInput(t *testing.T) {
	useSession(t, &emptySession{})
	csvPath := writeCSV(t, "Choconut B.V\n")

	tests := []struct {
		name string
		args []string
	}{
		{"missing suppliers", []string{"run", "--out", t.TempDir()}},
		{"missing file", []string{"run", "--suppliers", filepath.Join(t.TempDir(), "nope.csv")}},
		{"empty csv", []string{"run", "--suppliers", writeCSV(t, "Supplier\n")}},
		{"unknown report format", []string{"run", "--suppliers", csvPath, "--report", "pdf"}},
		{"zero timeout", []string{"run", "--suppliers", csvPath, "--timeout", "0"}},
		{"negative delay", []string{"run", "--suppliers", csvPath, "--delay", "-1"}},
		{"explicit config missing", []string{"run", "--suppliers", csvPath, "--config", filepath.Join(t.TempDir(), "x.yaml")}},
		{"positional argument", []string{"run", "suppliers.csv"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, tt.args...)
			assert.Error(t, err)
		})
	}
}

func TestRun_ConfigFileAndFlags(t *testing.T) {
	useSession(t, &emptySession{})

	dir := t.TempDir()
	out := filepath.Join(dir, "from-config")
	cfgPath := filepath.Join(dir, "tracesdl.yaml")
	cfg := "suppliers: " + writeCSV(t, "Choconut B.V\n") + "\noutput_dir: " + out + "\ndelay_seconds: 0\nreports: [json, csv]\n"
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfg), 0o644))

	_, err := execute(t, "run", "--config", cfgPath)
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(out, "report.csv"))

	// --report replaces the configured list
	_, err = execute(t, "run", "--config", cfgPath, "--report", "md")
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(out, "report.md"))
}

func TestVersionCmd(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "tracesdl "+Version)
}

func TestServiceCmd_RequiresAction(t *testing.T) {
	_, err := execute(t, "service")
	assert.Error(t, err)
}

func TestRootCmd_Subcommands(t *testing.T) {
	cmd := newRootCmd()
	var names []string
	for _, c := range cmd.Commands() {
		names = append(names, c.Name())
	}
	for _, want := range []string{"run", "serve", "service", "update", "version"} {
		assert.Contains(t, names, want)
	}
}
