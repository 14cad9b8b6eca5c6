// Package normalize resolves surface forms of entity names onto shared
// canonical entities. Resolution is category-scoped and tiered: exact alias
// lookup first, then name folding, then string similarity, then optional
// embedding similarity. Only when every tier misses is a new canonical
// entity registered.
//
// The registry is shared across all documents of a run. Entities are never
// deleted; aliases only grow.
package normalize

import (
	"context"
	"math"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/scholargraph/scholargraph/internal/util"
	"github.com/scholargraph/scholargraph/pkg/logger"
	"github.com/scholargraph/scholargraph/pkg/model"
)

// Embedder is the slice of the AI client the registry needs for the semantic
// matching tier. A nil Embedder disables that tier.
type Embedder interface {
	Embed(ctx context.Context, input string) ([]float32, error)
}

const (
	// DefaultSimilarityThreshold is the minimum normalized edit similarity
	// for two folded names to be considered the same entity.
	DefaultSimilarityThreshold = 0.88
	// DefaultEmbeddingThreshold is the minimum cosine similarity for the
	// semantic tier.
	DefaultEmbeddingThreshold = 0.92
)

// Registry holds the canonical entities for every category. Safe for
// concurrent use; each category has its own lock, so documents resolving
// different categories never contend.
type Registry struct {
	embedder            Embedder
	similarityThreshold float64
	embeddingThreshold  float64

	categories map[model.Category]*categoryRegistry
}

type categoryRegistry struct {
	mu sync.RWMutex
	// canonical name -> entity
	entities map[string]*model.CanonicalEntity
	// folded alias -> canonical name
	aliases map[string]string
}

// NewRegistryParams configures a Registry. Zero thresholds fall back to the
// defaults; a nil Embedder disables the semantic tier.
type NewRegistryParams struct {
	Embedder            Embedder
	SimilarityThreshold float64
	EmbeddingThreshold  float64
}

func NewRegistry(params NewRegistryParams) *Registry {
	if params.SimilarityThreshold <= 0 {
		params.SimilarityThreshold = DefaultSimilarityThreshold
	}
	if params.EmbeddingThreshold <= 0 {
		params.EmbeddingThreshold = DefaultEmbeddingThreshold
	}
	categories := make(map[model.Category]*categoryRegistry, len(model.Categories))
	for _, c := range model.Categories {
		categories[c] = &categoryRegistry{
			entities: make(map[string]*model.CanonicalEntity),
			aliases:  make(map[string]string),
		}
	}
	return &Registry{
		embedder:            params.Embedder,
		similarityThreshold: params.SimilarityThreshold,
		embeddingThreshold:  params.EmbeddingThreshold,
		categories:          categories,
	}
}

// Resolve maps a raw surface form onto its canonical name, registering a new
// canonical entity when nothing matches. The surface form is recorded as an
// alias either way, so the next resolution of the same form is an exact hit.
func (r *Registry) Resolve(ctx context.Context, category model.Category, rawName string) (string, error) {
	folded := FoldName(rawName)
	if folded == "" {
		return "", nil
	}
	reg := r.categories[category]

	// Fast path: known alias.
	reg.mu.RLock()
	if canonical, ok := reg.aliases[folded]; ok {
		reg.mu.RUnlock()
		return canonical, nil
	}
	// Snapshot the candidates so similarity scoring runs without the lock.
	candidates := make([]*model.CanonicalEntity, 0, len(reg.entities))
	for _, e := range reg.entities {
		candidates = append(candidates, e)
	}
	reg.mu.RUnlock()

	canonical := r.match(ctx, category, folded, candidates)

	reg.mu.Lock()
	defer reg.mu.Unlock()

	// Another goroutine may have registered this alias in the meantime.
	if existing, ok := reg.aliases[folded]; ok {
		return existing, nil
	}

	if canonical != "" {
		entity := reg.entities[canonical]
		if entity != nil {
			entity.Aliases = append(entity.Aliases, rawName)
			reg.aliases[folded] = canonical
			return canonical, nil
		}
	}

	// New entity; the trimmed surface form becomes the canonical name.
	name := strings.TrimSpace(rawName)
	reg.entities[name] = &model.CanonicalEntity{
		Category:      category,
		CanonicalName: name,
		Aliases:       []string{rawName},
	}
	reg.aliases[folded] = name
	return name, nil
}

// match runs the fuzzy tiers over a candidate snapshot and returns the
// canonical name of the best acceptable match, or "".
func (r *Registry) match(ctx context.Context, category model.Category, folded string, candidates []*model.CanonicalEntity) string {
	best := ""
	bestScore := 0.0
	for _, candidate := range candidates {
		candidateFolded := FoldName(candidate.CanonicalName)

		if acronymMatch(folded, candidateFolded) {
			return candidate.CanonicalName
		}

		score := similarity(folded, candidateFolded)
		if score >= r.similarityThreshold && score > bestScore {
			best = candidate.CanonicalName
			bestScore = score
		}
	}
	if best != "" {
		return best
	}

	if r.embedder == nil {
		return ""
	}
	return r.matchByEmbedding(ctx, category, folded, candidates)
}

func (r *Registry) matchByEmbedding(ctx context.Context, category model.Category, folded string, candidates []*model.CanonicalEntity) string {
	query, err := r.embedder.Embed(ctx, folded)
	if err != nil {
		// Semantic matching is best effort; a miss here only means a
		// possible duplicate entity, never a lost record.
		logger.Warn("embedding lookup failed, skipping semantic match",
			"category", category,
			"error", err,
		)
		return ""
	}

	best := ""
	bestScore := 0.0
	for _, candidate := range candidates {
		embedding := r.entityEmbedding(ctx, category, candidate)
		if embedding == nil {
			continue
		}
		score := cosine(query, embedding)
		if score >= r.embeddingThreshold && score > bestScore {
			best = candidate.CanonicalName
			bestScore = score
		}
	}
	return best
}

// entityEmbedding returns the candidate's embedding, computing and storing
// it on first use.
func (r *Registry) entityEmbedding(ctx context.Context, category model.Category, candidate *model.CanonicalEntity) []float32 {
	reg := r.categories[category]

	reg.mu.RLock()
	embedding := candidate.Embedding
	reg.mu.RUnlock()
	if embedding != nil {
		return embedding
	}

	computed, err := r.embedder.Embed(ctx, FoldName(candidate.CanonicalName))
	if err != nil {
		return nil
	}

	reg.mu.Lock()
	if candidate.Embedding == nil {
		candidate.Embedding = computed
	}
	embedding = candidate.Embedding
	reg.mu.Unlock()
	return embedding
}

// Entities returns a copy of the canonical entities registered for one
// category, for the graph writer.
func (r *Registry) Entities(category model.Category) []model.CanonicalEntity {
	reg := r.categories[category]
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	out := make([]model.CanonicalEntity, 0, len(reg.entities))
	for _, e := range reg.entities {
		copied := *e
		copied.Aliases = append([]string(nil), e.Aliases...)
		out = append(out, copied)
	}
	return out
}

// FoldName normalizes a surface form for comparison: lowercase, hyphens and
// underscores become spaces, whitespace collapses, trailing punctuation goes.
func FoldName(name string) string {
	name = strings.NewReplacer("-", " ", "_", " ", "/", " ").Replace(name)
	name = util.CollapseWhitespace(name)
	return strings.Trim(name, " .,:;")
}

// acronymMatch reports whether one folded name is the initialism of the
// other, so "rbv" resolves to "resource based view".
func acronymMatch(a, b string) bool {
	return initialism(b) == strings.ReplaceAll(a, " ", "") && len(strings.Fields(b)) >= 2 ||
		initialism(a) == strings.ReplaceAll(b, " ", "") && len(strings.Fields(a)) >= 2
}

func initialism(folded string) string {
	words := strings.Fields(folded)
	if len(words) < 2 {
		return ""
	}
	var sb strings.Builder
	for _, w := range words {
		// Skip connective words so "theory of the firm" initializes to "tf".
		switch w {
		case "of", "the", "a", "an", "and", "for", "in", "on":
			continue
		}
		first, _ := utf8.DecodeRuneInString(w)
		sb.WriteRune(first)
	}
	return sb.String()
}

// similarity is normalized edit similarity in [0,1]: 1 means identical
// folded names.
func similarity(a, b string) float64 {
	if a == b {
		return 1
	}
	longest := max(len(a), len(b))
	if longest == 0 {
		return 1
	}
	return 1 - float64(levenshtein(a, b))/float64(longest)
}

func levenshtein(a, b string) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
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
