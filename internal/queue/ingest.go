package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/scholargraph/scholargraph/internal/util"
	"github.com/scholargraph/scholargraph/pkg/docsource"
	"github.com/scholargraph/scholargraph/pkg/logger"
	"github.com/scholargraph/scholargraph/pkg/model"
	"github.com/scholargraph/scholargraph/pkg/pipeline"
)

// ProcessIngestMessage loads a batch's documents and runs them through the
// pipeline. Returning an error requeues the whole batch; documents that
// already finished are skipped on the redelivery via their checkpoints, so
// a requeue only repeats the unfinished work.
func ProcessIngestMessage(
	ctx context.Context,
	loaders map[string]docsource.Loader,
	orch *pipeline.Orchestrator,
	maxTokens int,
	msg string,
) error {
	data := new(BatchMessage)
	if err := json.Unmarshal([]byte(msg), data); err != nil {
		return fmt.Errorf("failed to unmarshal batch message: %w", err)
	}

	loader, ok := loaders[data.Source]
	if !ok {
		return fmt.Errorf("batch %s names unknown source %q", data.BatchID, data.Source)
	}

	logger.Info("[Queue] Processing batch", "batch", data.BatchID, "documents", len(data.Paths), "source", data.Source)

	docs := make([]model.Document, 0, len(data.Paths))
	for _, path := range data.Paths {
		doc, err := docsource.BuildDocument(ctx, loader, path, maxTokens)
		if err != nil {
			if util.IsPermanent(err) {
				logger.Warn("[Queue] Skipping unusable document", "batch", data.BatchID, "path", path, "err", err)
				continue
			}
			return fmt.Errorf("failed to load document %s: %w", path, err)
		}
		docs = append(docs, doc)
	}

	summary := orch.Run(ctx, docs)
	logger.Info("[Queue] Batch finished",
		"batch", data.BatchID,
		"processed", summary.Processed,
		"failed", summary.Failed,
		"skipped", summary.Skipped,
	)

	if summary.Failed > 0 {
		return fmt.Errorf("batch %s: %d of %d documents failed", data.BatchID, summary.Failed, len(docs))
	}
	return nil
}
