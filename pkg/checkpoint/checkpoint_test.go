package checkpoint

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/scholargraph/scholargraph/pkg/model"
)

func TestMarkAndIsDone(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoints.jsonl")
	s, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	if s.IsDone("doc-1") {
		t.Error("fresh store should have no done documents")
	}

	if err := s.Mark("doc-1", model.StageExtract, model.OutcomeOK, nil); err != nil {
		t.Fatal(err)
	}
	if s.IsDone("doc-1") {
		t.Error("mid-pipeline stage must not count as done")
	}

	if err := s.Mark("doc-1", model.StageDone, model.OutcomeOK, nil); err != nil {
		t.Fatal(err)
	}
	if !s.IsDone("doc-1") {
		t.Error("doc-1 should be done")
	}

	// Idempotent re-mark.
	if err := s.Mark("doc-1", model.StageDone, model.OutcomeOK, nil); err != nil {
		t.Fatal(err)
	}
	if !s.IsDone("doc-1") {
		t.Error("re-marking done must not change the result")
	}
}

func TestFailedIsNotDone(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoints.jsonl")
	s, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	if err := s.Mark("doc-1", model.StageExtract, model.OutcomeFailed, errors.New("extraction timeout exhausted")); err != nil {
		t.Fatal(err)
	}
	if s.IsDone("doc-1") {
		t.Error("failed documents are not done")
	}

	cp, ok := s.Get("doc-1")
	if !ok {
		t.Fatal("expected checkpoint for doc-1")
	}
	if cp.Error != "extraction timeout exhausted" {
		t.Errorf("failure reason not recorded: %q", cp.Error)
	}
}

func TestLoadPendingSurvivesRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoints.jsonl")

	s, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	ids := []string{"a", "b", "c", "d"}
	if err := s.Mark("a", model.StageDone, model.OutcomeOK, nil); err != nil {
		t.Fatal(err)
	}
	if err := s.Mark("b", model.StageNormalize, model.OutcomeOK, nil); err != nil {
		t.Fatal(err)
	}
	if err := s.Mark("c", model.StageWrite, model.OutcomeFailed, errors.New("tx aborted")); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	// Simulated restart: replay the file.
	s2, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer s2.Close()

	pending := s2.LoadPending(ids)
	want := map[string]bool{"b": true, "c": true, "d": true}
	if len(pending) != len(want) {
		t.Fatalf("pending = %v, want b, c, d", pending)
	}
	for _, id := range pending {
		if !want[id] {
			t.Errorf("unexpected pending id %q", id)
		}
	}
}

func TestCompactPreservesState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoints.jsonl")
	s, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}

	for _, stage := range []model.Stage{model.StageExtract, model.StageValidate, model.StageNormalize, model.StageDone} {
		if err := s.Mark("doc-1", stage, model.OutcomeOK, nil); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.Compact(); err != nil {
		t.Fatal(err)
	}
	if !s.IsDone("doc-1") {
		t.Error("compaction lost document state")
	}

	// Store stays writable after compaction.
	if err := s.Mark("doc-2", model.StageExtract, model.OutcomeOK, nil); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	s2, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer s2.Close()
	if !s2.IsDone("doc-1") {
		t.Error("doc-1 lost across compact + restart")
	}
	if _, ok := s2.Get("doc-2"); !ok {
		t.Error("doc-2 lost across compact + restart")
	}
}
