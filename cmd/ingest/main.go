// Command ingest walks a local document directory and enqueues its files as
// ingestion batches, for bootstrapping a corpus without going through the
// API.
package main

import (
	"encoding/json"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/scholargraph/scholargraph/internal/queue"
	"github.com/scholargraph/scholargraph/internal/util"
	"github.com/scholargraph/scholargraph/pkg/docsource"
	"github.com/scholargraph/scholargraph/pkg/logger"
	"github.com/scholargraph/scholargraph/pkg/logger/console"
)

func main() {
	util.LoadEnv()

	debug := util.GetEnvBool("DEBUG", false)
	consoleBackend := console.NewConsoleBackend(console.ConsoleBackendParams{
		Debug: debug,
	})
	logger.Init(consoleBackend)

	dir := util.GetEnvString("DOCUMENTS_DIR", "data/documents")
	batchSize := util.GetEnvInt("INGEST_BATCH_SIZE", 25)

	loader := docsource.NewFSLoader(dir)
	paths, err := loader.ListTextFiles()
	if err != nil {
		logger.Fatal("Failed to list documents", "dir", dir, "err", err)
	}
	if len(paths) == 0 {
		logger.Info("No documents found", "dir", dir)
		return
	}

	conn := queue.Init()
	defer conn.Close()
	ch, err := conn.Channel()
	if err != nil {
		logger.Fatal("Failed to open channel", "err", err)
	}
	defer ch.Close()

	if err := queue.SetupQueues(ch, []string{queue.IngestQueue}); err != nil {
		logger.Fatal("Failed to set up queues", "err", err)
	}

	batches := 0
	for start := 0; start < len(paths); start += batchSize {
		end := min(start+batchSize, len(paths))

		batchID, err := gonanoid.New()
		if err != nil {
			logger.Fatal("Failed to generate batch ID", "err", err)
		}

		msg := queue.BatchMessage{
			BatchID: batchID,
			Source:  "fs",
			Paths:   paths[start:end],
		}
		data, err := json.Marshal(msg)
		if err != nil {
			logger.Fatal("Failed to marshal batch message", "err", err)
		}
		if err := queue.PublishFIFO(ch, queue.IngestQueue, data); err != nil {
			logger.Fatal("Failed to publish batch", "batch", batchID, "err", err)
		}

		logger.Info("Enqueued batch", "batch", batchID, "documents", end-start)
		batches++
	}

	logger.Info("Ingestion queued", "documents", len(paths), "batches", batches)
}
