// Package report writes batch outcomes to the output directory.
package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/traces-scraper/model"
)

// Format is an output format of the report
type Format string

const (
	FormatJSON     Format = "json"
	FormatCSV      Format = "csv"
	FormatMarkdown Format = "md"
)

// File names inside the output directory
const (
	JSONFile     = "report.json"
	CSVFile      = "report.csv"
	MarkdownFile = "report.md"
)

// ParseFormats parses a comma separated list such as "json,csv,md".
// JSON is always included.
func ParseFormats(s string) ([]Format, error) {
	formats := []Format{FormatJSON}
	seen := map[Format]bool{FormatJSON: true}
	for _, part := range strings.Split(s, ",") {
		f := Format(strings.ToLower(strings.TrimSpace(part)))
		switch f {
		case "":
			continue
		case "markdown":
			f = FormatMarkdown
		case FormatJSON, FormatCSV, FormatMarkdown:
		default:
			return nil, fmt.Errorf("unknown report format %q", part)
		}
		if !seen[f] {
			seen[f] = true
			formats = append(formats, f)
		}
	}
	return formats, nil
}

func fileName(f Format) string {
	switch f {
	case FormatCSV:
		return CSVFile
	case FormatMarkdown:
		return MarkdownFile
	}
	return JSONFile
}

// WriteAll writes the report in every format into dir and returns the paths
func WriteAll(dir string, r *model.Report, formats []Format) ([]string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	var paths []string
	for _, f := range formats {
		path := filepath.Join(dir, fileName(f))
		if err := writeFile(path, r, f); err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func writeFile(path string, r *model.Report, f Format) error {
	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Base(path), err)
	}
	defer out.Close()

	switch f {
	case FormatCSV:
		err = WriteCSV(out, r)
	case FormatMarkdown:
		err = WriteMarkdown(out, r)
	default:
		err = WriteJSON(out, r)
	}
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	return out.Close()
}

// WriteJSON writes the report as indented JSON
func WriteJSON(w io.Writer, r *model.Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// ReadJSON loads a report written by WriteJSON
func ReadJSON(path string) (*model.Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var r model.Report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return &r, nil
}

var csvHeader = []string{"supplier", "status", "file", "candidates", "detail", "attempts"}

// WriteCSV writes one row per outcome, in input order
func WriteCSV(w io.Writer, r *model.Report) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, o := range r.Outcomes {
		row := []string{
			o.Supplier,
			string(o.Kind),
			filepath.Base(o.FilePath),
			strings.Join(o.Candidates, "; "),
			o.Detail,
			strconv.Itoa(o.Attempts),
		}
		if o.FilePath == "" {
			row[2] = ""
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
