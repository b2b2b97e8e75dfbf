package download

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

var (
	// letters and digits of any script are kept
	nonWord     = regexp.MustCompile(`[^\p{L}\p{N}_\-]+`)
	underscores = regexp.MustCompile(`_+`)
)

// Slugify turns a supplier name into a safe file name stem
func Slugify(name string) string {
	s := strings.ToLower(norm.NFC.String(strings.TrimSpace(name)))
	s = nonWord.ReplaceAllString(s, "_")
	s = underscores.ReplaceAllString(s, "_")
	s = strings.Trim(s, "_")
	if s == "" {
		return "unknown"
	}
	return s
}

// Namer hands out collision-free names inside one directory. Names given out
// earlier stay reserved even if the file is later removed.
type Namer struct {
	dir  string
	used map[string]struct{}
}

func NewNamer(dir string) *Namer {
	return &Namer{dir: dir, used: make(map[string]struct{})}
}

// Next returns the first free path for supplier with extension ext:
// <slug><ext>, then <slug>_2<ext>, <slug>_3<ext> and so on.
func (n *Namer) Next(supplier, ext string) string {
	stem := Slugify(supplier)
	for i := 1; ; i++ {
		name := stem + ext
		if i > 1 {
			name = fmt.Sprintf("%s_%d%s", stem, i, ext)
		}
		if _, taken := n.used[name]; taken {
			continue
		}
		if _, err := os.Lstat(filepath.Join(n.dir, name)); err == nil {
			continue
		}
		n.used[name] = struct{}{}
		return filepath.Join(n.dir, name)
	}
}

// Move renames src to the next free name for supplier. It never overwrites.
func (n *Namer) Move(src, supplier, ext string) (string, error) {
	dst := n.Next(supplier, ext)
	if _, err := os.Lstat(dst); err == nil {
		return "", fmt.Errorf("target exists: %s: %w", dst, os.ErrExist)
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", err
	}
	if err := os.Rename(src, dst); err != nil {
		return "", err
	}
	return dst, nil
}
