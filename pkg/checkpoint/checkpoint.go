package checkpoint

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
	"time"

	"github.com/scholargraph/scholargraph/pkg/model"
)

// Store persists per-document pipeline progress as one JSON line per mark.
// The newest line for a document wins on load, so Mark is append-or-overwrite
// and safe to call repeatedly. The file is replayed at startup to compute the
// pending set; Compact rewrites it atomically (write-temp-then-rename) to the
// latest state per document.
type Store struct {
	path string

	mu     sync.Mutex
	file   *os.File
	latest map[string]model.Checkpoint
}

// Open loads (or creates) the checkpoint file at path and replays it.
func Open(path string) (*Store, error) {
	latest := make(map[string]model.Checkpoint)

	data, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read checkpoint file: %w", err)
	}
	if err == nil {
		scanner := bufio.NewScanner(bytes.NewReader(data))
		scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}
			var cp model.Checkpoint
			if err := json.Unmarshal(line, &cp); err != nil {
				// A torn trailing line from a crash is expected; everything
				// before it is still valid.
				continue
			}
			latest[cp.DocumentID] = cp
		}
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint file: %w", err)
	}

	return &Store{path: path, file: file, latest: latest}, nil
}

// Close releases the underlying file.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

// Mark records a stage transition for a document. Idempotent: re-marking the
// same state appends a line whose replay result is unchanged.
func (s *Store) Mark(documentID string, stage model.Stage, outcome model.Outcome, cause error) error {
	cp := model.Checkpoint{
		DocumentID: documentID,
		Stage:      stage,
		Outcome:    outcome,
		Timestamp:  time.Now().UTC(),
	}
	if cause != nil {
		cp.Error = cause.Error()
	}

	line, err := json.Marshal(cp)
	if err != nil {
		return err
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return errors.New("checkpoint store is closed")
	}
	if _, err := s.file.Write(line); err != nil {
		return fmt.Errorf("failed to append checkpoint: %w", err)
	}
	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync checkpoint: %w", err)
	}
	s.latest[documentID] = cp
	return nil
}

// IsDone reports whether the document completed the pipeline successfully.
func (s *Store) IsDone(documentID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp, ok := s.latest[documentID]
	return ok && cp.Stage == model.StageDone && cp.Outcome == model.OutcomeOK
}

// Get returns the latest checkpoint for a document.
func (s *Store) Get(documentID string) (model.Checkpoint, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp, ok := s.latest[documentID]
	return cp, ok
}

// LoadPending returns exactly the subset of documentIDs not yet marked done.
func (s *Store) LoadPending(documentIDs []string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	pending := make([]string, 0, len(documentIDs))
	for _, id := range documentIDs {
		cp, ok := s.latest[id]
		if ok && cp.Stage == model.StageDone && cp.Outcome == model.OutcomeOK {
			continue
		}
		pending = append(pending, id)
	}
	return pending
}

// Compact rewrites the checkpoint file to one line per document, newest
// state only, using an atomic replace so a crash mid-compaction can never
// lose recorded checkpoints.
func (s *Store) Compact() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return errors.New("checkpoint store is closed")
	}

	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create compaction file: %w", err)
	}

	w := bufio.NewWriter(f)
	for _, cp := range s.latest {
		line, err := json.Marshal(cp)
		if err != nil {
			f.Close()
			os.Remove(tmp)
			return err
		}
		line = append(line, '\n')
		if _, err := w.Write(line); err != nil {
			f.Close()
			os.Remove(tmp)
			return fmt.Errorf("failed to write compaction file: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}

	if err := s.file.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace checkpoint file: %w", err)
	}

	file, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to reopen checkpoint file: %w", err)
	}
	s.file = file
	return nil
}
