// Package suppliers reads the supplier list a batch is run over.
package suppliers

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/traces-scraper/matcher"
	"github.com/traces-scraper/model"
)

// DefaultHeaderLabels are the first-cell values recognized as a header row
var DefaultHeaderLabels = []string{"supplier", "suppliers", "name", "names"}

// ErrNoSuppliers is returned when the input holds no supplier names at all
var ErrNoSuppliers = errors.New("no suppliers found in CSV")

// ReadFile reads suppliers from a UTF-8 CSV file
func ReadFile(path string, headerLabels []string) ([]model.Supplier, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("suppliers CSV not found: %s", path)
		}
		return nil, fmt.Errorf("failed to open suppliers CSV: %w", err)
	}
	defer f.Close()

	return Read(f, headerLabels)
}

// Read parses supplier names from the first column of r.
// Blank rows are skipped, as is a leading header row whose first cell matches
// one of headerLabels (case-insensitive). A nil headerLabels uses the defaults.
func Read(r io.Reader, headerLabels []string) ([]model.Supplier, error) {
	if headerLabels == nil {
		headerLabels = DefaultHeaderLabels
	}

	br := bufio.NewReader(r)
	if b, err := br.Peek(3); err == nil && string(b) == "\ufeff" {
		_, _ = br.Discard(3)
	}

	cr := csv.NewReader(br)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	var out []model.Supplier
	first := true
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}
		if len(rec) == 0 {
			continue
		}
		name := strings.TrimSpace(rec[0])
		if name == "" {
			continue
		}
		if first {
			first = false
			if isHeader(name, headerLabels) {
				continue
			}
		}
		out = append(out, model.Supplier{
			Name:           name,
			NormalizedName: matcher.Normalize(name),
		})
	}

	if len(out) == 0 {
		return nil, ErrNoSuppliers
	}
	return out, nil
}

func isHeader(cell string, labels []string) bool {
	for _, l := range labels {
		if strings.EqualFold(cell, strings.TrimSpace(l)) {
			return true
		}
	}
	return false
}
