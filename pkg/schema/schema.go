// Package schema reconciles the extraction service's loosely-shaped records
// against the canonical field schema. Raw field maps stop here: everything
// downstream (normalizer, scorer, graph writer) sees only typed Records.
//
// The guiding rule is that a record with any usable identifying information
// is never dropped. Records that fail strict validation are repaired with
// best-effort defaults and carry a fallback marker into the graph instead of
// being lost.
package schema

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/go-playground/validator"

	"github.com/scholargraph/scholargraph/internal/util"
	"github.com/scholargraph/scholargraph/pkg/model"
)

// fieldAliases maps the alternate keys the extraction service has been
// observed to emit onto canonical field names.
var fieldAliases = map[string]string{
	"name":         "name",
	"entity_name":  "name",
	"theory_name":  "name",
	"method_name":  "name",
	"label":        "name",
	"title":        "name",
	"term":         "name",
	"author_name":  "name",
	"finding":      "name",
	"statement":    "name",
	"contribution": "name",

	"id":         "identifier",
	"identifier": "identifier",
	"entity_id":  "identifier",
	"key":        "identifier",

	"role":              "role",
	"relationship_role": "role",
	"usage":             "role",
	"usage_type":        "role",

	"section":        "section",
	"source_section": "section",
	"location":       "section",
	"found_in":       "section",

	"snippet":      "snippet",
	"context":      "snippet",
	"evidence":     "snippet",
	"quote":        "snippet",
	"description":  "snippet",
	"context_text": "snippet",
}

// roles the strength engine understands, in descending weight order.
var knownRoles = map[string]bool{
	"primary":     true,
	"supporting":  true,
	"extending":   true,
	"challenging": true,
}

var validate = validator.New()

// strictRecord is the shape a record must satisfy to pass strict validation.
type strictRecord struct {
	Identifier string `validate:"required"`
	Name       string `validate:"required,min=2"`
	Role       string `validate:"omitempty,oneof=primary supporting extending challenging"`
}

// NormalizeShape lifts one raw record into a Record: field-name aliasing,
// case folding of enumerated fields, scalar/list coercion, and synthesis of
// a deterministic identifier when the service omitted one. Returns ok=false
// only when the record has no usable identifying information at all.
func NormalizeShape(raw model.RawRecord, category model.Category) (model.Record, bool) {
	rec := model.Record{
		Category: category,
		Extra:    make(map[string]string),
	}

	for key, value := range raw {
		canonical, known := fieldAliases[strings.ToLower(strings.TrimSpace(key))]
		text := coerceString(value)
		if text == "" {
			continue
		}
		if !known {
			rec.Extra[strings.ToLower(key)] = text
			continue
		}
		switch canonical {
		case "name":
			if rec.Name == "" {
				rec.Name = strings.TrimSpace(text)
			}
		case "identifier":
			if rec.Identifier == "" {
				rec.Identifier = strings.TrimSpace(text)
			}
		case "role":
			rec.Role = strings.ToLower(strings.TrimSpace(text))
		case "section":
			rec.Section = foldSection(text)
		case "snippet":
			if rec.Snippet == "" {
				rec.Snippet = strings.TrimSpace(text)
			}
		}
	}

	if rec.Name == "" && rec.Snippet == "" {
		return model.Record{}, false
	}

	if rec.Identifier == "" {
		// Deterministic so re-extraction produces the same identifier.
		rec.Identifier = util.ShortHash(string(category), rec.Name, rec.Snippet)
	}

	return rec, true
}

// Validate checks a normalized record against the strict schema. Records
// that fail are repaired with best-effort defaults and returned with the
// fallback marker set, never discarded.
func Validate(rec model.Record) model.Record {
	err := validate.Struct(strictRecord{
		Identifier: rec.Identifier,
		Name:       rec.Name,
		Role:       rec.Role,
	})
	if err == nil {
		return rec
	}

	repaired := rec
	repaired.Fallback = true
	if repaired.Name == "" {
		repaired.Name = fallbackName(rec)
	}
	if len(repaired.Name) < 2 {
		repaired.Name = fmt.Sprintf("unnamed %s %s", rec.Category, rec.Identifier)
	}
	if repaired.Identifier == "" {
		repaired.Identifier = util.ShortHash(string(rec.Category), repaired.Name, rec.Snippet)
	}
	if repaired.Role != "" && !knownRoles[repaired.Role] {
		repaired.Role = "supporting"
	}
	return repaired
}

// BuildRecords runs the full shape-normalization and validation pass over
// one category's raw records. The returned slice never contains a record
// without a name and identifier.
func BuildRecords(raws []model.RawRecord, category model.Category) []model.Record {
	out := make([]model.Record, 0, len(raws))
	for _, raw := range raws {
		rec, ok := NormalizeShape(raw, category)
		if !ok {
			continue
		}
		out = append(out, Validate(rec))
	}
	return out
}

// FallbackMeta produces usable document metadata when extraction failed to
// supply any: the document still gets a node with a synthesized title and
// whatever partial metadata exists.
func FallbackMeta(doc model.Document, meta model.DocumentMeta) model.DocumentMeta {
	if meta.Title == "" {
		meta.Title = fmt.Sprintf("document %s", doc.ID)
	}
	if meta.Year == 0 {
		meta.Year = doc.DeclaredYear
	}
	return meta
}

func fallbackName(rec model.Record) string {
	snippet := strings.TrimSpace(rec.Snippet)
	if snippet == "" {
		return ""
	}
	words := strings.Fields(snippet)
	if len(words) > 8 {
		words = words[:8]
	}
	return strings.Join(words, " ")
}

// foldSection maps free-form section labels onto a small canonical set so
// the strength engine can compare them.
func foldSection(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, " ", "_")
	switch {
	case strings.Contains(s, "intro"):
		return "introduction"
	case strings.Contains(s, "literature"), strings.Contains(s, "review"), strings.Contains(s, "background"), strings.Contains(s, "theor"):
		return "literature_review"
	case strings.Contains(s, "method"), strings.Contains(s, "data"), strings.Contains(s, "measure"):
		return "methods"
	case strings.Contains(s, "result"), strings.Contains(s, "finding"), strings.Contains(s, "analys"):
		return "results"
	case strings.Contains(s, "discuss"), strings.Contains(s, "implica"):
		return "discussion"
	case strings.Contains(s, "conclu"):
		return "conclusion"
	default:
		return s
	}
}

// SectionOrder gives each canonical section a position for adjacency
// checks; unknown sections share a sentinel position.
var SectionOrder = map[string]int{
	"introduction":      0,
	"literature_review": 1,
	"methods":           2,
	"results":           3,
	"discussion":        4,
	"conclusion":        5,
}

// coerceString renders a raw field value as a string. A list where a scalar
// is expected becomes its joined elements; a scalar where a list is expected
// is handled by the caller treating the single string as one element.
func coerceString(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case float64:
		if v == float64(int64(v)) {
			return strconv.FormatInt(int64(v), 10)
		}
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	case []any:
		parts := make([]string, 0, len(v))
		for _, item := range v {
			if s := coerceString(item); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, "; ")
	case map[string]any:
		// Nested objects occasionally appear for author fields; flatten the
		// likeliest name-bearing keys.
		for _, k := range []string{"name", "full_name", "value"} {
			if s, ok := v[k]; ok {
				return coerceString(s)
			}
		}
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}
