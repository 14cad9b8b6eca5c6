package model

import "time"

// Category identifies one kind of extracted entity. Every extraction,
// validation, and normalization step is category-scoped.
type Category string

const (
	CategoryTheory       Category = "theory"
	CategoryMethod       Category = "method"
	CategoryPhenomenon   Category = "phenomenon"
	CategoryVariable     Category = "variable"
	CategoryFinding      Category = "finding"
	CategoryContribution Category = "contribution"
	CategoryAuthor       Category = "author"
	CategoryCitation     Category = "citation"
)

// Categories lists every entity category in extraction order.
var Categories = []Category{
	CategoryTheory,
	CategoryMethod,
	CategoryPhenomenon,
	CategoryVariable,
	CategoryFinding,
	CategoryContribution,
	CategoryAuthor,
	CategoryCitation,
}

// Document is one source unit to process. Immutable once loaded.
type Document struct {
	ID           string
	RawText      string
	SourcePath   string
	DeclaredYear int // 0 when absent
}

// DocumentMeta is the document-level metadata returned by extraction. Any
// field may be empty; a document with no extractable metadata still
// produces a node with a synthesized identifier.
type DocumentMeta struct {
	Title    string `json:"title"`
	Abstract string `json:"abstract"`
	Year     int    `json:"year"`
}

// RawRecord is a loosely-shaped field map as returned by the extraction
// service. Field names are not trusted to match the canonical schema; the
// validator lifts these into Records before anything else touches them.
type RawRecord map[string]any

// ExtractionResult holds everything extracted from one document. Collections
// are always present, possibly empty, never nil.
type ExtractionResult struct {
	DocumentID string
	Meta       DocumentMeta
	Records    map[Category][]RawRecord
}

// NewExtractionResult returns a result with an empty record list for every
// category, so callers never see a missing collection.
func NewExtractionResult(documentID string) *ExtractionResult {
	records := make(map[Category][]RawRecord, len(Categories))
	for _, c := range Categories {
		records[c] = []RawRecord{}
	}
	return &ExtractionResult{DocumentID: documentID, Records: records}
}

// Record is a raw entity record reconciled against the canonical field
// schema. Fallback marks records repaired with best-effort defaults after
// strict validation failed; they carry a low-confidence marker into the
// graph rather than being dropped.
type Record struct {
	Category   Category
	Identifier string
	Name       string
	Role       string
	Section    string
	Snippet    string
	Extra      map[string]string
	Fallback   bool
}

// CanonicalEntity is the resolved identity for a category + normalized name.
// Shared across all documents; aliases grow over time, entities are never
// deleted. Embedding is computed lazily when semantic matching is enabled.
type CanonicalEntity struct {
	Category      Category
	CanonicalName string
	Aliases       []string
	Embedding     []float32
}

// FactorScores are the named sub-scores that combine into an edge strength.
type FactorScores struct {
	RoleWeight    float64 `json:"role_weight"`
	SectionScore  float64 `json:"section_score"`
	KeywordScore  float64 `json:"keyword_score"`
	SemanticScore float64 `json:"semantic_score"`
	ExplicitBonus float64 `json:"explicit_bonus"`
}

// Edge is a scored, directed link between two canonical entities, carrying
// the contributing document as provenance. Multiple edges may exist between
// the same pair, one per document.
type Edge struct {
	DocumentID     string
	SourceCategory Category
	SourceName     string
	TargetCategory Category
	TargetName     string
	Role           string
	Factors        FactorScores
	Strength       float64
}

// AggregatedEdge summarizes all per-document edges between one entity pair.
// Derived on read, never hand-edited.
type AggregatedEdge struct {
	SourceCategory Category `json:"source_category"`
	SourceName     string   `json:"source_name"`
	TargetCategory Category `json:"target_category"`
	TargetName     string   `json:"target_name"`
	AvgStrength    float64  `json:"avg_strength"`
	MinStrength    float64  `json:"min_strength"`
	MaxStrength    float64  `json:"max_strength"`
	DocumentCount  int      `json:"document_count"`
}

// Stage names one step of the per-document pipeline.
type Stage string

const (
	StageExtract   Stage = "extract"
	StageValidate  Stage = "validate"
	StageNormalize Stage = "normalize"
	StageScore     Stage = "score"
	StageWrite     Stage = "write"
	StageDone      Stage = "done"
)

// Outcome records how far a document got.
type Outcome string

const (
	OutcomeOK      Outcome = "ok"
	OutcomeFailed  Outcome = "failed"
	OutcomeSkipped Outcome = "skipped"
)

// Checkpoint is the durable per-document progress record.
type Checkpoint struct {
	DocumentID string    `json:"document_id"`
	Stage      Stage     `json:"stage"`
	Outcome    Outcome   `json:"outcome"`
	Error      string    `json:"error,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}
