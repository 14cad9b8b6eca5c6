// Package pipeline drives documents through the full processing sequence:
// extract, validate, normalize, score, write. A fixed-size worker pool
// processes documents concurrently while every stage transition is recorded
// in the checkpoint store, so an interrupted run resumes where it stopped
// instead of repeating finished work.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/scholargraph/scholargraph/internal/util"
	"github.com/scholargraph/scholargraph/pkg/checkpoint"
	"github.com/scholargraph/scholargraph/pkg/extract"
	"github.com/scholargraph/scholargraph/pkg/graphstore"
	"github.com/scholargraph/scholargraph/pkg/logger"
	"github.com/scholargraph/scholargraph/pkg/model"
	"github.com/scholargraph/scholargraph/pkg/normalize"
	"github.com/scholargraph/scholargraph/pkg/schema"
	"github.com/scholargraph/scholargraph/pkg/strength"
	"github.com/scholargraph/scholargraph/pkg/writerlock"
)

// GraphWriter is the slice of the graph store the pipeline needs.
type GraphWriter interface {
	WriteDocument(ctx context.Context, write graphstore.DocumentWrite) error
}

// Locker serializes graph writes per document across processes. A nil
// Locker skips locking, which is safe for single-process runs.
type Locker interface {
	WithLease(ctx context.Context, documentID string, opts writerlock.Options, fn func(ctx context.Context) error) error
}

// Orchestrator runs the per-document pipeline over a worker pool. Construct
// with New; zero-value orchestrators are not usable.
type Orchestrator struct {
	extractor   *extract.Extractor
	registry    *normalize.Registry
	engine      *strength.Engine
	store       GraphWriter
	checkpoints *checkpoint.Store
	locker      Locker

	workers      int
	stageTimeout time.Duration
	writeRetry   util.RetryPolicy
}

// NewOrchestratorParams wires the orchestrator. Workers defaults to 4; a
// zero StageTimeout disables per-stage deadlines. Checkpoints and Locker are
// optional.
type NewOrchestratorParams struct {
	Extractor    *extract.Extractor
	Registry     *normalize.Registry
	Engine       *strength.Engine
	Store        GraphWriter
	Checkpoints  *checkpoint.Store
	Locker       Locker
	Workers      int
	StageTimeout time.Duration
	WriteRetry   util.RetryPolicy
}

func NewOrchestrator(params NewOrchestratorParams) *Orchestrator {
	workers := params.Workers
	if workers <= 0 {
		workers = 4
	}
	return &Orchestrator{
		extractor:    params.Extractor,
		registry:     params.Registry,
		engine:       params.Engine,
		store:        params.Store,
		checkpoints:  params.Checkpoints,
		locker:       params.Locker,
		workers:      workers,
		stageTimeout: params.StageTimeout,
		writeRetry:   params.WriteRetry,
	}
}

// Summary is the outcome of one run. Failures maps document ID to the
// failure reason.
type Summary struct {
	Processed int
	Failed    int
	Skipped   int
	Failures  map[string]string
}

// Run processes documents over the worker pool and returns when all of them
// finished, failed, or the context was cancelled. Documents the checkpoint
// store already marks done are skipped. One document's failure never stops
// the others; cancellation lets in-flight stages finish, stops scheduling
// new work, and counts unfinished documents as skipped.
func (o *Orchestrator) Run(ctx context.Context, docs []model.Document) Summary {
	summary := Summary{Failures: make(map[string]string)}
	var mu sync.Mutex

	pending := docs
	if o.checkpoints != nil {
		ids := make([]string, len(docs))
		for i, doc := range docs {
			ids[i] = doc.ID
		}
		keep := make(map[string]bool, len(ids))
		for _, id := range o.checkpoints.LoadPending(ids) {
			keep[id] = true
		}
		pending = make([]model.Document, 0, len(docs))
		for _, doc := range docs {
			if !keep[doc.ID] {
				logger.Debug("[Pipeline] Skipping finished document", "document", doc.ID)
				summary.Skipped++
				continue
			}
			pending = append(pending, doc)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.workers)

	for _, doc := range pending {
		if gctx.Err() != nil {
			mu.Lock()
			summary.Skipped++
			mu.Unlock()
			continue
		}

		g.Go(func() error {
			err := o.processDocument(gctx, doc)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case errors.Is(err, errRunStopped):
				summary.Skipped++
				logger.Info("[Pipeline] Document left unfinished by stop request", "document", doc.ID)
			case err != nil:
				summary.Failed++
				summary.Failures[doc.ID] = err.Error()
				logger.Error("[Pipeline] Document failed", "document", doc.ID, "error", err)
			default:
				summary.Processed++
			}
			return nil
		})
	}

	_ = g.Wait()

	logger.Info("[Pipeline] Run finished",
		"processed", summary.Processed,
		"failed", summary.Failed,
		"skipped", summary.Skipped,
	)
	return summary
}

// errRunStopped reports that the run was cancelled between stages. The
// document is unfinished, not failed; its checkpoints keep the last stage
// that completed.
var errRunStopped = errors.New("run stopped before the document finished")

// processDocument walks one document through every stage, checkpointing
// each transition. Stages run detached from the stop signal so cancelling a
// run lets the stage in flight finish; the signal is honored between stages.
func (o *Orchestrator) processDocument(ctx context.Context, doc model.Document) error {
	logger.Info("[Pipeline] Processing document", "document", doc.ID, "source", doc.SourcePath)

	stageCtx := context.WithoutCancel(ctx)

	if ctx.Err() != nil {
		return errRunStopped
	}
	result, err := o.runExtract(stageCtx, doc)
	if err != nil {
		return o.fail(doc.ID, model.StageExtract, err)
	}
	o.mark(doc.ID, model.StageExtract)

	if ctx.Err() != nil {
		return errRunStopped
	}
	records, meta := o.runValidate(doc, result)
	o.mark(doc.ID, model.StageValidate)

	mentions, normalized, err := o.runNormalize(stageCtx, records)
	if err != nil {
		return o.fail(doc.ID, model.StageNormalize, err)
	}
	o.mark(doc.ID, model.StageNormalize)

	if ctx.Err() != nil {
		return errRunStopped
	}
	edges := o.runScore(stageCtx, doc.ID, normalized)
	o.mark(doc.ID, model.StageScore)

	if ctx.Err() != nil {
		return errRunStopped
	}
	if err := o.runWrite(stageCtx, doc, meta, mentions, edges); err != nil {
		return o.fail(doc.ID, model.StageWrite, err)
	}
	o.mark(doc.ID, model.StageWrite)

	if o.checkpoints != nil {
		if err := o.checkpoints.Mark(doc.ID, model.StageDone, model.OutcomeOK, nil); err != nil {
			logger.Warn("[Pipeline] Failed to checkpoint done", "document", doc.ID, "error", err)
		}
	}
	return nil
}

func (o *Orchestrator) runExtract(ctx context.Context, doc model.Document) (*model.ExtractionResult, error) {
	ctx, cancel := o.withStageTimeout(ctx)
	defer cancel()
	return o.extractor.ExtractDocument(ctx, doc)
}

// runValidate lifts the loose extraction output into typed records. This
// stage cannot fail: unusable records are dropped, repairable ones become
// fallbacks.
func (o *Orchestrator) runValidate(doc model.Document, result *model.ExtractionResult) (map[model.Category][]model.Record, model.DocumentMeta) {
	records := make(map[model.Category][]model.Record, len(model.Categories))
	for _, category := range model.Categories {
		records[category] = schema.BuildRecords(result.Records[category], category)
	}
	meta := schema.FallbackMeta(doc, result.Meta)
	return records, meta
}

// normalizedRecord pairs a validated record with its canonical name.
type normalizedRecord struct {
	record    model.Record
	canonical string
}

func (o *Orchestrator) runNormalize(ctx context.Context, records map[model.Category][]model.Record) ([]graphstore.Mention, map[model.Category][]normalizedRecord, error) {
	ctx, cancel := o.withStageTimeout(ctx)
	defer cancel()

	var mentions []graphstore.Mention
	normalized := make(map[model.Category][]normalizedRecord, len(records))

	for _, category := range model.Categories {
		for _, rec := range records[category] {
			canonical, err := o.registry.Resolve(ctx, category, rec.Name)
			if err != nil {
				return nil, nil, fmt.Errorf("failed to normalize %s %q: %w", category, rec.Name, err)
			}
			if canonical == "" {
				continue
			}
			normalized[category] = append(normalized[category], normalizedRecord{record: rec, canonical: canonical})
			mentions = append(mentions, graphstore.Mention{
				Category:      category,
				CanonicalName: canonical,
				Role:          rec.Role,
				Section:       rec.Section,
				Snippet:       rec.Snippet,
				Fallback:      rec.Fallback,
			})
		}
	}
	return mentions, normalized, nil
}

// Edge candidates pair the document's theoretical apparatus with what it
// studies. Other categories contribute mentions but no edges.
var edgeSources = []model.Category{model.CategoryTheory, model.CategoryMethod}
var edgeTargets = []model.Category{model.CategoryPhenomenon, model.CategoryVariable, model.CategoryFinding}

func (o *Orchestrator) runScore(ctx context.Context, documentID string, normalized map[model.Category][]normalizedRecord) []model.Edge {
	var edges []model.Edge
	for _, sourceCat := range edgeSources {
		for _, source := range normalized[sourceCat] {
			for _, targetCat := range edgeTargets {
				for _, target := range normalized[targetCat] {
					// Scoring sees the canonical names, not the raw
					// surface forms.
					src, tgt := source.record, target.record
					src.Name, tgt.Name = source.canonical, target.canonical
					factors, total := o.engine.Score(ctx, src, tgt)
					if !o.engine.ShouldLink(total) {
						continue
					}
					edges = append(edges, model.Edge{
						DocumentID:     documentID,
						SourceCategory: sourceCat,
						SourceName:     source.canonical,
						TargetCategory: targetCat,
						TargetName:     target.canonical,
						Role:           source.record.Role,
						Factors:        factors,
						Strength:       total,
					})
				}
			}
		}
	}
	return edges
}

func (o *Orchestrator) runWrite(ctx context.Context, doc model.Document, meta model.DocumentMeta, mentions []graphstore.Mention, edges []model.Edge) error {
	write := graphstore.DocumentWrite{
		Document: doc,
		Meta:     meta,
		Entities: o.referencedEntities(mentions),
		Mentions: mentions,
		Edges:    edges,
	}

	writeOnce := func(ctx context.Context) error {
		ctx, cancel := o.withStageTimeout(ctx)
		defer cancel()
		if o.locker == nil {
			return o.store.WriteDocument(ctx, write)
		}
		return o.locker.WithLease(ctx, doc.ID, writerlock.Options{Wait: true}, func(ctx context.Context) error {
			return o.store.WriteDocument(ctx, write)
		})
	}

	return util.RetryDo(ctx, o.writeRetry, writeOnce)
}

// referencedEntities returns the registry entities this document actually
// touches, so a write never carries the whole registry.
func (o *Orchestrator) referencedEntities(mentions []graphstore.Mention) []model.CanonicalEntity {
	referenced := make(map[string]bool, len(mentions))
	for _, m := range mentions {
		referenced[string(m.Category)+"|"+m.CanonicalName] = true
	}

	var out []model.CanonicalEntity
	for _, category := range model.Categories {
		for _, entity := range o.registry.Entities(category) {
			if referenced[string(entity.Category)+"|"+entity.CanonicalName] {
				out = append(out, entity)
			}
		}
	}
	return out
}

func (o *Orchestrator) withStageTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.stageTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, o.stageTimeout)
}

func (o *Orchestrator) mark(documentID string, stage model.Stage) {
	if o.checkpoints == nil {
		return
	}
	if err := o.checkpoints.Mark(documentID, stage, model.OutcomeOK, nil); err != nil {
		logger.Warn("[Pipeline] Failed to write checkpoint", "document", documentID, "stage", stage, "error", err)
	}
}

func (o *Orchestrator) fail(documentID string, stage model.Stage, cause error) error {
	if o.checkpoints != nil {
		if err := o.checkpoints.Mark(documentID, stage, model.OutcomeFailed, cause); err != nil {
			logger.Warn("[Pipeline] Failed to write failure checkpoint", "document", documentID, "stage", stage, "error", err)
		}
	}
	return fmt.Errorf("%s stage failed: %w", stage, cause)
}
