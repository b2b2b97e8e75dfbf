package report

import (
	"archive/zip"
	"bytes"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/traces-scraper/model"
)

func sampleReport(dir string) *model.Report {
	r := &model.Report{
		StartedAt:  time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC),
		FinishedAt: time.Date(2025, 3, 1, 10, 5, 0, 0, time.UTC),
		OutputDir:  dir,
		Outcomes: []model.Outcome{
			model.Success(filepath.Join(dir, "choconut_b_v.pdf"), "Choconut B.V"),
			model.AmbiguousOutcome("Nuts 2 B.V", []string{"Nuts 2 B.V. Amsterdam", "Nuts 2 B.V. Rotterdam"}),
			model.NotFound("Olivar S.L."),
			model.Failed("Pipe Co", "portal navigation failed: navigate"),
		},
	}
	r.Finalize()
	return r
}

func TestParseFormats(t *testing.T) {
	tests := []struct {
		in      string
		want    []Format
		wantErr bool
	}{
		{"", []Format{FormatJSON}, false},
		{"json", []Format{FormatJSON}, false},
		{"csv, md", []Format{FormatJSON, FormatCSV, FormatMarkdown}, false},
		{"markdown,csv,csv", []Format{FormatJSON, FormatMarkdown, FormatCSV}, false},
		{"xml", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFormats(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestWriteAll_JSONRoundTrip(t *testing.T) {
	dir := t.TempDir()
	r := sampleReport(dir)

	paths, err := WriteAll(dir, r, []Format{FormatJSON, FormatCSV, FormatMarkdown})
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, JSONFile),
		filepath.Join(dir, CSVFile),
		filepath.Join(dir, MarkdownFile),
	}, paths)

	got, err := ReadJSON(filepath.Join(dir, JSONFile))
	require.NoError(t, err)
	assert.Equal(t, r.Summary, got.Summary)
	require.Len(t, got.Outcomes, 4)
	assert.Equal(t, "Choconut B.V", got.Outcomes[0].Supplier)
	assert.Equal(t, model.OutcomeAmbiguous, got.Outcomes[1].Kind)
	assert.Equal(t, r.Outcomes[1].Candidates, got.Outcomes[1].Candidates)
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, sampleReport("/out")))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 5)
	assert.Equal(t, csvHeader, rows[0])
	assert.Equal(t, []string{"Choconut B.V", "success", "choconut_b_v.pdf", "", "", "0"}, rows[1])
	assert.Equal(t, "Nuts 2 B.V. Amsterdam; Nuts 2 B.V. Rotterdam", rows[2][3])
	assert.Equal(t, "", rows[3][2])
	assert.Equal(t, "error", rows[4][1])
}

func TestWriteMarkdown(t *testing.T) {
	var buf bytes.Buffer
	r := sampleReport("/out")
	r.Aborted = "browser session lost"
	require.NoError(t, WriteMarkdown(&buf, r))

	out := buf.String()
	assert.Contains(t, out, "# TRACES Certificate Download Report")
	assert.Contains(t, out, "## Summary")
	assert.Contains(t, out, "Aborted - browser session lost")
	assert.Contains(t, out, "choconut_b_v.pdf")
	assert.Contains(t, out, "## Needs review")
	assert.Contains(t, out, "Nuts 2 B.V: Nuts 2 B.V. Amsterdam / Nuts 2 B.V. Rotterdam")
}

func TestWriteMarkdown_Empty(t *testing.T) {
	var buf bytes.Buffer
	r := &model.Report{}
	r.Finalize()
	require.NoError(t, WriteMarkdown(&buf, r))
	assert.Contains(t, buf.String(), "No suppliers were processed.")
	assert.NotContains(t, buf.String(), "Needs review")
}

func zipNames(t *testing.T, path string) []string {
	t.Helper()
	zr, err := zip.OpenReader(path)
	require.NoError(t, err)
	defer zr.Close()

	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	return names
}

func TestZipResult_OnlyReportedFiles(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"choconut_b_v.pdf": "%PDF-1.4 a",
		"olivar_s_l.pdf":   "%PDF-1.4 from an earlier run",
		"3f2a9c1e-guid":    "%PDF-1.4 late download",
		"abc.crdownload":   "partial",
		JSONFile:           "{}",
		MarkdownFile:       "# report",
	}
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
	}

	dest := filepath.Join(t.TempDir(), "certificates.zip")
	require.NoError(t, ZipResult(dir, dest, sampleReport(dir)))

	assert.Equal(t, []string{"choconut_b_v.pdf", JSONFile, MarkdownFile}, zipNames(t, dest))
}

func TestResultFiles_SkipsMissing(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, JSONFile), []byte("{}"), 0644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, CSVFile), 0755))

	// choconut_b_v.pdf is reported but was removed from disk
	assert.Equal(t, []string{JSONFile}, ResultFiles(dir, sampleReport(dir)))
}
