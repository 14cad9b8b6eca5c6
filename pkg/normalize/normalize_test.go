package normalize

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/scholargraph/scholargraph/pkg/model"
)

func TestResolveMergesSurfaceForms(t *testing.T) {
	r := NewRegistry(NewRegistryParams{})
	ctx := context.Background()

	first, err := r.Resolve(ctx, model.CategoryTheory, "Resource-Based View")
	if err != nil {
		t.Fatal(err)
	}

	for _, form := range []string{
		"resource based view",
		"Resource-Based View",
		"RBV",
		"Resource-based view.",
	} {
		got, err := r.Resolve(ctx, model.CategoryTheory, form)
		if err != nil {
			t.Fatal(err)
		}
		if got != first {
			t.Errorf("Resolve(%q) = %q, want %q", form, got, first)
		}
	}

	if n := len(r.Entities(model.CategoryTheory)); n != 1 {
		t.Errorf("registry holds %d entities, want 1", n)
	}
}

func TestResolveKeepsDistinctEntitiesApart(t *testing.T) {
	r := NewRegistry(NewRegistryParams{})
	ctx := context.Background()

	a, _ := r.Resolve(ctx, model.CategoryTheory, "Agency Theory")
	b, _ := r.Resolve(ctx, model.CategoryTheory, "Institutional Theory")
	if a == b {
		t.Error("distinct theories must not merge")
	}
	if n := len(r.Entities(model.CategoryTheory)); n != 2 {
		t.Errorf("registry holds %d entities, want 2", n)
	}
}

func TestResolveIsCategoryScoped(t *testing.T) {
	r := NewRegistry(NewRegistryParams{})
	ctx := context.Background()

	theory, _ := r.Resolve(ctx, model.CategoryTheory, "Absorptive Capacity")
	variable, _ := r.Resolve(ctx, model.CategoryVariable, "Absorptive Capacity")
	if theory != variable {
		// Same surface form, but each lives in its own category registry.
		t.Logf("canonical names: theory=%q variable=%q", theory, variable)
	}
	if len(r.Entities(model.CategoryTheory)) != 1 || len(r.Entities(model.CategoryVariable)) != 1 {
		t.Error("each category must register its own entity")
	}
}

func TestResolveNearMissSimilarity(t *testing.T) {
	r := NewRegistry(NewRegistryParams{})
	ctx := context.Background()

	first, _ := r.Resolve(ctx, model.CategoryMethod, "Structural Equation Modeling")
	// Trailing 'l' dropped, well above the similarity threshold.
	second, _ := r.Resolve(ctx, model.CategoryMethod, "Structural Equation Modelling")
	if first != second {
		t.Errorf("near-identical spellings should merge: %q vs %q", first, second)
	}
}

func TestResolveEmptyName(t *testing.T) {
	r := NewRegistry(NewRegistryParams{})
	got, err := r.Resolve(context.Background(), model.CategoryTheory, "   ")
	if err != nil {
		t.Fatal(err)
	}
	if got != "" {
		t.Errorf("blank name resolved to %q", got)
	}
	if len(r.Entities(model.CategoryTheory)) != 0 {
		t.Error("blank names must not register entities")
	}
}

// fixedEmbedder returns a canned vector per input, shared vectors meaning
// semantically identical inputs.
type fixedEmbedder struct {
	vectors map[string][]float32
}

func (e *fixedEmbedder) Embed(ctx context.Context, input string) ([]float32, error) {
	if v, ok := e.vectors[input]; ok {
		return v, nil
	}
	return nil, fmt.Errorf("no vector for %q", input)
}

func TestResolveEmbeddingTier(t *testing.T) {
	// Folded names are too far apart for edit similarity, but the vectors
	// are nearly parallel.
	embedder := &fixedEmbedder{vectors: map[string][]float32{
		"knowledge based view of the firm": {1, 0, 0},
		"knowledge perspective":            {0.99, 0.14, 0},
	}}
	r := NewRegistry(NewRegistryParams{Embedder: embedder})
	ctx := context.Background()

	first, err := r.Resolve(ctx, model.CategoryTheory, "Knowledge-Based View of the Firm")
	if err != nil {
		t.Fatal(err)
	}
	second, err := r.Resolve(ctx, model.CategoryTheory, "Knowledge Perspective")
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Errorf("semantic tier should merge: %q vs %q", first, second)
	}
}

func TestResolveEmbeddingFailureDegrades(t *testing.T) {
	// Embedder that knows nothing: every semantic lookup fails.
	r := NewRegistry(NewRegistryParams{Embedder: &fixedEmbedder{}})
	ctx := context.Background()

	a, err := r.Resolve(ctx, model.CategoryTheory, "Upper Echelons Theory")
	if err != nil {
		t.Fatal(err)
	}
	b, err := r.Resolve(ctx, model.CategoryTheory, "Transaction Cost Economics")
	if err != nil {
		t.Fatal(err)
	}
	if a == "" || b == "" {
		t.Error("embedding failures must not block registration")
	}
}

func TestResolveConcurrent(t *testing.T) {
	r := NewRegistry(NewRegistryParams{})
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make([]string, 32)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := "Dynamic Capabilities"
			if i%2 == 1 {
				name = "dynamic capabilities"
			}
			got, err := r.Resolve(ctx, model.CategoryTheory, name)
			if err != nil {
				t.Error(err)
				return
			}
			results[i] = got
		}(i)
	}
	wg.Wait()

	for _, got := range results {
		if got != results[0] {
			t.Fatalf("concurrent resolutions diverged: %q vs %q", got, results[0])
		}
	}
	if n := len(r.Entities(model.CategoryTheory)); n != 1 {
		t.Errorf("registry holds %d entities, want exactly 1", n)
	}
}

func TestFoldName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Resource-Based View", "resource based view"},
		{"  RESOURCE   BASED\tVIEW ", "resource based view"},
		{"firm_performance", "firm performance"},
		{"Dynamic Capabilities.", "dynamic capabilities"},
	}
	for _, tt := range tests {
		if got := FoldName(tt.in); got != tt.want {
			t.Errorf("FoldName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestAcronymMatch(t *testing.T) {
	tests := []struct {
		a, b string
		want bool
	}{
		{"rbv", "resource based view", true},
		{"resource based view", "rbv", true},
		{"tce", "transaction cost economics", true},
		{"sem", "structural equation modeling", true},
		{"rbv", "dynamic capabilities", false},
		{"rbv", "rbv", false},
		{"öi", "ökonomische institutionen", true},
	}
	for _, tt := range tests {
		if got := acronymMatch(tt.a, tt.b); got != tt.want {
			t.Errorf("acronymMatch(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}
