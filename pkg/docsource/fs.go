package docsource

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// FSLoader reads document text from a local directory.
type FSLoader struct {
	root string
}

// NewFSLoader creates a loader rooted at dir.
func NewFSLoader(dir string) *FSLoader {
	return &FSLoader{root: dir}
}

func (l *FSLoader) Load(ctx context.Context, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return os.ReadFile(filepath.Join(l.root, path))
}

// ListTextFiles walks the loader's root and returns the relative paths of
// every .txt and .md file, in walk order.
func (l *FSLoader) ListTextFiles() ([]string, error) {
	var paths []string
	err := filepath.WalkDir(l.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if ext != ".txt" && ext != ".md" {
			return nil
		}
		rel, err := filepath.Rel(l.root, path)
		if err != nil {
			return err
		}
		paths = append(paths, rel)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return paths, nil
}
