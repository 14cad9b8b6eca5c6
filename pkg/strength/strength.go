// Package strength scores candidate edges between extracted records. The
// score is a sum of five bounded factors, clamped to [0,1]; pairs below the
// edge threshold produce no edge at all.
package strength

import (
	"context"
	"math"
	"strings"

	"github.com/scholargraph/scholargraph/internal/util"
	"github.com/scholargraph/scholargraph/pkg/model"
	"github.com/scholargraph/scholargraph/pkg/normalize"
	"github.com/scholargraph/scholargraph/pkg/schema"
)

// Config carries the factor weights. Every factor has a fixed ceiling; the
// defaults sum to 1.1, which is why the final score is clamped.
type Config struct {
	// RoleWeights maps a record's role onto its base weight, at most 0.4.
	RoleWeights map[string]float64
	// DefaultRoleWeight applies when the role is empty or unknown.
	DefaultRoleWeight float64
	// SameSection, AdjacentSection, and DistantSection are the section
	// factor values, at most 0.2. Distant applies whenever both records
	// carry a section but the sections are neither equal nor adjacent.
	SameSection     float64
	AdjacentSection float64
	DistantSection  float64
	// KeywordMax scales snippet token overlap, at most 0.2.
	KeywordMax float64
	// SemanticMax scales snippet similarity, at most 0.2. Embedding cosine
	// when the engine has an embedder, character trigram overlap otherwise.
	SemanticMax float64
	// ExplicitBonus is added when one record's snippet names the other
	// entity outright, at most 0.1.
	ExplicitBonus float64
	// EdgeThreshold is the minimum strength that produces an edge.
	EdgeThreshold float64
}

// DefaultConfig returns the standard weights.
func DefaultConfig() Config {
	return Config{
		RoleWeights: map[string]float64{
			"primary":     0.4,
			"supporting":  0.25,
			"extending":   0.2,
			"challenging": 0.1,
		},
		DefaultRoleWeight: 0.15,
		SameSection:       0.2,
		AdjacentSection:   0.1,
		DistantSection:    0.05,
		KeywordMax:        0.2,
		SemanticMax:       0.2,
		ExplicitBonus:     0.1,
		EdgeThreshold:     0.3,
	}
}

// Engine scores record pairs. Stateless apart from its configuration; safe
// for concurrent use. A nil embedder switches the semantic factor to the
// trigram fallback.
type Engine struct {
	cfg      Config
	embedder normalize.Embedder
}

func NewEngine(cfg Config, embedder normalize.Embedder) *Engine {
	return &Engine{cfg: cfg, embedder: embedder}
}

// Score computes the factor breakdown and clamped total for one ordered
// record pair. Scoring never fails: a broken embedding lookup just zeroes
// the semantic factor.
func (e *Engine) Score(ctx context.Context, source, target model.Record) (model.FactorScores, float64) {
	factors := model.FactorScores{
		RoleWeight:    e.roleWeight(source.Role),
		SectionScore:  e.sectionScore(source.Section, target.Section),
		KeywordScore:  e.cfg.KeywordMax * tokenOverlap(source.Snippet, target.Snippet),
		SemanticScore: e.semanticScore(ctx, source.Snippet, target.Snippet),
	}
	if explicitMention(source, target) {
		factors.ExplicitBonus = e.cfg.ExplicitBonus
	}

	total := factors.RoleWeight + factors.SectionScore + factors.KeywordScore + factors.SemanticScore + factors.ExplicitBonus
	return factors, clamp01(total)
}

// ShouldLink reports whether a strength clears the edge threshold.
func (e *Engine) ShouldLink(strength float64) bool {
	return strength >= e.cfg.EdgeThreshold
}

func (e *Engine) roleWeight(role string) float64 {
	if w, ok := e.cfg.RoleWeights[role]; ok {
		return w
	}
	return e.cfg.DefaultRoleWeight
}

func (e *Engine) sectionScore(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return e.cfg.SameSection
	}
	posA, okA := schema.SectionOrder[a]
	posB, okB := schema.SectionOrder[b]
	if okA && okB && abs(posA-posB) == 1 {
		return e.cfg.AdjacentSection
	}
	return e.cfg.DistantSection
}

func (e *Engine) semanticScore(ctx context.Context, a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	if e.embedder == nil {
		return e.cfg.SemanticMax * trigramOverlap(a, b)
	}
	va, err := e.embedder.Embed(ctx, a)
	if err != nil {
		return 0
	}
	vb, err := e.embedder.Embed(ctx, b)
	if err != nil {
		return 0
	}
	sim := cosine(va, vb)
	if sim < 0 {
		sim = 0
	}
	return e.cfg.SemanticMax * sim
}

// tokenOverlap is the Jaccard overlap of the snippets' token sets.
func tokenOverlap(a, b string) float64 {
	ta := util.Tokens(a)
	tb := util.Tokens(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}

	setA := make(map[string]bool, len(ta))
	for _, t := range ta {
		setA[t] = true
	}
	setB := make(map[string]bool, len(tb))
	for _, t := range tb {
		setB[t] = true
	}

	intersection := 0
	for t := range setA {
		if setB[t] {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	return float64(intersection) / float64(union)
}

// trigramOverlap is the Jaccard overlap of the snippets' character trigram
// sets, computed over the folded text.
func trigramOverlap(a, b string) float64 {
	ga := trigrams(normalize.FoldName(a))
	gb := trigrams(normalize.FoldName(b))
	if len(ga) == 0 || len(gb) == 0 {
		return 0
	}

	intersection := 0
	for g := range ga {
		if gb[g] {
			intersection++
		}
	}
	union := len(ga) + len(gb) - intersection
	return float64(intersection) / float64(union)
}

func trigrams(s string) map[string]bool {
	runes := []rune(s)
	if len(runes) < 3 {
		return nil
	}
	set := make(map[string]bool, len(runes))
	for i := 0; i+3 <= len(runes); i++ {
		set[string(runes[i:i+3])] = true
	}
	return set
}

// explicitMention reports whether either snippet names the other record's
// entity, the strongest textual evidence a pair can have.
func explicitMention(source, target model.Record) bool {
	return snippetNames(source.Snippet, target.Name) || snippetNames(target.Snippet, source.Name)
}

// snippetNames matches the full folded name, or a majority of its tokens for
// multi-word names.
func snippetNames(snippet, name string) bool {
	folded := normalize.FoldName(name)
	if folded == "" || snippet == "" {
		return false
	}
	haystack := normalize.FoldName(snippet)
	if strings.Contains(haystack, folded) {
		return true
	}

	nameTokens := util.Tokens(folded)
	if len(nameTokens) < 2 {
		return false
	}
	snippetTokens := make(map[string]bool)
	for _, tok := range util.Tokens(haystack) {
		snippetTokens[tok] = true
	}
	present := 0
	for _, tok := range nameTokens {
		if snippetTokens[tok] {
			present++
		}
	}
	return present*2 > len(nameTokens)
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func clamp01(x float64) float64 {
	return math.Max(0, math.Min(1, x))
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
