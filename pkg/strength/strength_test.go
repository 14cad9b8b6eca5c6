package strength

import (
	"context"
	"math"
	"testing"

	"github.com/scholargraph/scholargraph/pkg/model"
)

func TestScoreStrongPairClampsToOne(t *testing.T) {
	e := NewEngine(DefaultConfig(), pairEmbedder{})

	snippet := "we test the resource-based view against firm performance data"
	source := model.Record{
		Category: model.CategoryTheory,
		Name:     "Resource-Based View",
		Role:     "primary",
		Section:  "results",
		Snippet:  snippet,
	}
	target := model.Record{
		Category: model.CategoryVariable,
		Name:     "Firm Performance",
		Section:  "results",
		Snippet:  snippet,
	}

	factors, strength := e.Score(context.Background(), source, target)

	if factors.RoleWeight != 0.4 {
		t.Errorf("role weight = %v, want 0.4", factors.RoleWeight)
	}
	if factors.SectionScore != 0.2 {
		t.Errorf("section score = %v, want 0.2", factors.SectionScore)
	}
	if factors.KeywordScore != 0.2 {
		t.Errorf("identical snippets should max the keyword factor, got %v", factors.KeywordScore)
	}
	if factors.ExplicitBonus != 0.1 {
		t.Errorf("explicit bonus = %v, want 0.1", factors.ExplicitBonus)
	}
	if strength != 1.0 {
		t.Errorf("strength = %v, want clamped 1.0", strength)
	}
	if !e.ShouldLink(strength) {
		t.Error("strong pair must produce an edge")
	}
}

func TestScoreWeakPairBelowThreshold(t *testing.T) {
	e := NewEngine(DefaultConfig(), nil)

	source := model.Record{
		Category: model.CategoryTheory,
		Name:     "Agency Theory",
		Role:     "challenging",
		Section:  "introduction",
		Snippet:  "critics of agency assumptions",
	}
	target := model.Record{
		Category: model.CategoryFinding,
		Name:     "Turnover declines with tenure",
		Section:  "conclusion",
		Snippet:  "our results show a clear decline",
	}

	factors, strength := e.Score(context.Background(), source, target)

	if factors.RoleWeight != 0.1 {
		t.Errorf("role weight = %v, want 0.1", factors.RoleWeight)
	}
	if factors.SectionScore != 0.05 {
		t.Errorf("distant sections = %v, want 0.05", factors.SectionScore)
	}
	if factors.KeywordScore != 0 || factors.SemanticScore != 0 {
		t.Errorf("disjoint snippets must zero the text factors: %+v", factors)
	}
	if math.Abs(strength-0.15) > 1e-9 {
		t.Errorf("strength = %v, want 0.15", strength)
	}
	if e.ShouldLink(strength) {
		t.Error("weak pair must not produce an edge")
	}
}

func TestScoreAdjacentSections(t *testing.T) {
	e := NewEngine(DefaultConfig(), nil)

	source := model.Record{Role: "supporting", Section: "methods", Snippet: "x"}
	target := model.Record{Section: "results", Snippet: "y"}

	factors, _ := e.Score(context.Background(), source, target)
	if factors.SectionScore != 0.1 {
		t.Errorf("adjacent sections = %v, want 0.1", factors.SectionScore)
	}
}

func TestScoreUnknownRoleUsesDefault(t *testing.T) {
	e := NewEngine(DefaultConfig(), nil)

	factors, _ := e.Score(context.Background(), model.Record{Role: "foundational"}, model.Record{})
	if factors.RoleWeight != 0.15 {
		t.Errorf("unknown role weight = %v, want the default 0.15", factors.RoleWeight)
	}
}

func TestScoreMissingFieldsScoreZero(t *testing.T) {
	e := NewEngine(DefaultConfig(), nil)

	factors, strength := e.Score(context.Background(), model.Record{Role: "supporting"}, model.Record{})
	if factors.SectionScore != 0 || factors.KeywordScore != 0 || factors.SemanticScore != 0 || factors.ExplicitBonus != 0 {
		t.Errorf("missing fields must zero their factors: %+v", factors)
	}
	if strength != 0.25 {
		t.Errorf("strength = %v, want bare role weight", strength)
	}
}

type pairEmbedder struct{}

func (pairEmbedder) Embed(ctx context.Context, input string) ([]float32, error) {
	// Same direction for everything: cosine 1.
	return []float32{1, 1}, nil
}

func TestScoreSemanticFactor(t *testing.T) {
	e := NewEngine(DefaultConfig(), pairEmbedder{})

	source := model.Record{Snippet: "alpha"}
	target := model.Record{Snippet: "beta"}
	factors, _ := e.Score(context.Background(), source, target)
	if math.Abs(factors.SemanticScore-0.2) > 1e-9 {
		t.Errorf("semantic score = %v, want 0.2", factors.SemanticScore)
	}
}

func TestSemanticFallbackWithoutEmbedder(t *testing.T) {
	e := NewEngine(DefaultConfig(), nil)

	same := model.Record{Snippet: "competitive advantage of the firm"}
	factors, _ := e.Score(context.Background(), same, same)
	if math.Abs(factors.SemanticScore-0.2) > 1e-9 {
		t.Errorf("identical snippets = %v, want the full 0.2", factors.SemanticScore)
	}

	other := model.Record{Snippet: "qqq zzz xxx"}
	factors, _ = e.Score(context.Background(), same, other)
	if factors.SemanticScore != 0 {
		t.Errorf("disjoint snippets = %v, want 0", factors.SemanticScore)
	}
}

func TestExplicitMentionFoldsNames(t *testing.T) {
	source := model.Record{
		Name:    "Resource-Based View",
		Snippet: "building on the resource based view, we posit that firm performance improves",
	}
	target := model.Record{Name: "Firm Performance", Snippet: "unrelated"}

	if !explicitMention(source, target) {
		t.Error("source snippet names the target entity")
	}

	neither := model.Record{Name: "Institutional Theory", Snippet: "nothing relevant"}
	if explicitMention(neither, target) {
		t.Error("no mention either way")
	}
}

func TestExplicitMentionMajorityTokens(t *testing.T) {
	source := model.Record{
		Name:    "Dynamic Capabilities Framework",
		Snippet: "background",
	}
	target := model.Record{
		Name:    "Market Volatility",
		Snippet: "we extend dynamic capabilities to volatile markets",
	}
	if !explicitMention(source, target) {
		t.Error("two of three name tokens in the target snippet is a majority")
	}

	sparse := model.Record{Name: "Dynamic Capabilities Framework"}
	weak := model.Record{Name: "x", Snippet: "only dynamic aspects are discussed"}
	if explicitMention(sparse, weak) {
		t.Error("one of three name tokens is not a majority")
	}
}

func TestTokenOverlap(t *testing.T) {
	tests := []struct {
		a, b string
		want float64
	}{
		{"the firm performs well", "the firm performs well", 1},
		{"alpha beta", "gamma delta", 0},
		{"", "anything", 0},
	}
	for _, tt := range tests {
		if got := tokenOverlap(tt.a, tt.b); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("tokenOverlap(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}
