// Package extract turns raw document text into loosely-shaped entity records
// by prompting the structured-output endpoint of an AI backend, one request
// per category. Responses are cached on disk keyed by document text, category
// and prompt version, so reprocessing a corpus costs no model calls.
package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/scholargraph/scholargraph/internal/util"
	"github.com/scholargraph/scholargraph/pkg/ai"
	"github.com/scholargraph/scholargraph/pkg/cache"
	"github.com/scholargraph/scholargraph/pkg/logger"
	"github.com/scholargraph/scholargraph/pkg/model"
)

type extractRecord struct {
	Name    string `json:"name" jsonschema_description:"Canonical name of the instance as stated in the paper"`
	Role    string `json:"role" jsonschema_description:"How the paper uses it: primary, supporting, extending or challenging"`
	Section string `json:"section" jsonschema_description:"Paper section of the clearest mention"`
	Snippet string `json:"snippet" jsonschema_description:"Short verbatim passage evidencing the mention"`
}

type extractResponse struct {
	Records []extractRecord `json:"records" jsonschema_description:"All instances of the requested category found in the text"`
}

type metaResponse struct {
	Title    string `json:"title" jsonschema_description:"Full paper title, empty if not stated"`
	Abstract string `json:"abstract" jsonschema_description:"Abstract text verbatim, empty if absent"`
	Year     int    `json:"year" jsonschema_description:"Publication year as a four-digit number, 0 if not stated"`
}

// Extractor drives per-category extraction for one document at a time. Safe
// for concurrent use; the cache store handles its own synchronization.
type Extractor struct {
	client  ai.Client
	cache   *cache.Store
	retry   util.RetryPolicy
	timeout time.Duration
}

// NewExtractorParams configures an Extractor. Cache may be nil to disable
// response caching. A zero Timeout means no per-request deadline beyond the
// caller's context.
type NewExtractorParams struct {
	Client  ai.Client
	Cache   *cache.Store
	Retry   util.RetryPolicy
	Timeout time.Duration
}

func NewExtractor(params NewExtractorParams) *Extractor {
	return &Extractor{
		client:  params.Client,
		cache:   params.Cache,
		retry:   params.Retry,
		timeout: params.Timeout,
	}
}

// ExtractDocument runs metadata extraction plus one structured-output request
// per category. A metadata failure degrades to empty metadata; a category
// failure after retries fails the document. An extraction that succeeds but
// finds nothing is a valid empty result, not an error.
func (e *Extractor) ExtractDocument(ctx context.Context, doc model.Document) (*model.ExtractionResult, error) {
	result := model.NewExtractionResult(doc.ID)

	meta, err := e.extractMeta(ctx, doc)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		logger.Warn("metadata extraction failed, continuing with fallback metadata",
			"document", doc.ID,
			"error", err,
		)
	} else {
		result.Meta = meta
	}

	total := 0
	for _, category := range model.Categories {
		records, err := e.extractCategory(ctx, doc, category)
		if err != nil {
			return nil, fmt.Errorf("failed to extract %s records from document %s: %w", category, doc.ID, err)
		}
		result.Records[category] = records
		total += len(records)
	}

	if total == 0 {
		logger.Warn("extraction found no records in any category", "document", doc.ID)
	}

	return result, nil
}

func (e *Extractor) extractMeta(ctx context.Context, doc model.Document) (model.DocumentMeta, error) {
	var res metaResponse
	err := util.RetryDo(ctx, e.retry, func(ctx context.Context) error {
		ctx, cancel := e.withTimeout(ctx)
		defer cancel()
		return e.client.CompleteJSON(
			ctx,
			"extract_document_metadata",
			"Extract title, abstract and publication year from an academic paper.",
			doc.RawText,
			&res,
			ai.WithSystemPrompts(metaPrompt),
		)
	})
	if err != nil {
		return model.DocumentMeta{}, err
	}
	return model.DocumentMeta{Title: res.Title, Abstract: res.Abstract, Year: res.Year}, nil
}

func (e *Extractor) extractCategory(ctx context.Context, doc model.Document, category model.Category) ([]model.RawRecord, error) {
	var key string
	if e.cache != nil {
		key = cache.Key(doc.RawText, string(category), PromptVersion)
		if data, ok, err := e.cache.Get(key); err == nil && ok {
			var cached extractResponse
			if err := json.Unmarshal(data, &cached); err == nil {
				return toRawRecords(cached), nil
			}
			// Unreadable cache entry falls through to a fresh request.
			logger.Warn("discarding unreadable cache entry", "key", key, "category", category)
		}
	}

	prompt := fmt.Sprintf(categoryPrompt, category, category, categoryGuidance[string(category)])
	start := time.Now()

	var res extractResponse
	err := util.RetryDo(ctx, e.retry, func(ctx context.Context) error {
		ctx, cancel := e.withTimeout(ctx)
		defer cancel()
		return e.client.CompleteJSON(
			ctx,
			fmt.Sprintf("extract_%s_records", category),
			fmt.Sprintf("Extract every %s mentioned in an academic paper.", category),
			doc.RawText,
			&res,
			ai.WithSystemPrompts(prompt),
		)
	})
	if err != nil {
		return nil, err
	}
	logger.Debug("extraction call finished",
		"document", doc.ID,
		"category", category,
		"records", len(res.Records),
		"duration", time.Since(start),
	)

	if e.cache != nil {
		data, err := json.Marshal(res)
		if err == nil {
			if err := e.cache.Put(key, data); err != nil {
				logger.Warn("failed to cache extraction response", "key", key, "error", err)
			}
		}
	}

	return toRawRecords(res), nil
}

func (e *Extractor) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, e.timeout)
}

// toRawRecords lowers the typed response into the loose field maps the
// validator expects. Empty fields are omitted so the validator's fallback
// logic sees genuinely missing data.
func toRawRecords(res extractResponse) []model.RawRecord {
	out := make([]model.RawRecord, 0, len(res.Records))
	for _, r := range res.Records {
		raw := model.RawRecord{}
		if r.Name != "" {
			raw["name"] = r.Name
		}
		if r.Role != "" {
			raw["role"] = r.Role
		}
		if r.Section != "" {
			raw["section"] = r.Section
		}
		if r.Snippet != "" {
			raw["snippet"] = r.Snippet
		}
		if len(raw) == 0 {
			continue
		}
		out = append(out, raw)
	}
	return out
}
