package cache

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/scholargraph/scholargraph/internal/util"
)

// Store is a content-addressed cache for raw extraction responses. Keys are
// derived from (document text, category, prompt version), so bumping the
// prompt version invalidates every prior entry without deleting anything.
//
// Entries are plain files named by key hash. Writes go to a temp file first
// and are renamed into place, so concurrent writers for the same key cannot
// leave a torn entry; identical keys imply identical content, so last-rename
// -wins is safe.
type Store struct {
	dir string
}

// New opens (creating if needed) a cache rooted at dir.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Key derives the cache key for one extraction call.
func Key(documentText, category, promptVersion string) string {
	return util.HashKey(documentText, category, promptVersion)
}

func (s *Store) path(key string) string {
	// Two-level fanout keeps directory listings manageable at scale.
	return filepath.Join(s.dir, key[:2], key)
}

// Get returns the cached payload for key, or ok=false on a miss.
func (s *Store) Get(key string) ([]byte, bool, error) {
	data, err := os.ReadFile(s.path(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to read cache entry: %w", err)
	}
	return data, true, nil
}

// Put stores payload under key atomically.
func (s *Store) Put(key string, payload []byte) error {
	target := s.path(key)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("failed to create cache shard dir: %w", err)
	}

	suffix, err := gonanoid.New()
	if err != nil {
		return err
	}
	tmp := target + ".tmp." + suffix
	if err := os.WriteFile(tmp, payload, 0o644); err != nil {
		return fmt.Errorf("failed to write cache temp file: %w", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to publish cache entry: %w", err)
	}
	return nil
}
