// Package manuals loads per-integration usage guidance: free-text notes
// that steer planning and extraction for a given platform.
package manuals

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Loader reads manuals from a directory, one markdown file per integration
// id.
type Loader struct {
	dir string
}

func NewLoader(dir string) *Loader {
	return &Loader{dir: dir}
}

// Load returns the manual for an integration, or "" when none exists.
// Absence is normal: most integrations carry no manual.
func (l *Loader) Load(id string) (string, error) {
	if l == nil || l.dir == "" || id == "" {
		return "", nil
	}
	path := filepath.Join(l.dir, id+".md")
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read manual %s: %w", path, err)
	}
	return strings.TrimSpace(string(raw)), nil
}

// Combined concatenates the manuals of the given integrations for use as
// workflow guidance during planning. Integrations without a manual are
// skipped.
func (l *Loader) Combined(ids []string) (string, error) {
	var parts []string
	for _, id := range ids {
		manual, err := l.Load(id)
		if err != nil {
			return "", err
		}
		if manual != "" {
			parts = append(parts, manual)
		}
	}
	return strings.Join(parts, "\n\n"), nil
}
