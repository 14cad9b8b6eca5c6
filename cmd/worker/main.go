package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/scholargraph/scholargraph/internal/queue"
	"github.com/scholargraph/scholargraph/internal/util"
	"github.com/scholargraph/scholargraph/pkg/ai"
	olm "github.com/scholargraph/scholargraph/pkg/ai/ollama"
	oai "github.com/scholargraph/scholargraph/pkg/ai/openai"
	"github.com/scholargraph/scholargraph/pkg/cache"
	"github.com/scholargraph/scholargraph/pkg/checkpoint"
	"github.com/scholargraph/scholargraph/pkg/docsource"
	"github.com/scholargraph/scholargraph/pkg/extract"
	"github.com/scholargraph/scholargraph/pkg/graphstore"
	"github.com/scholargraph/scholargraph/pkg/logger"
	"github.com/scholargraph/scholargraph/pkg/logger/console"
	"github.com/scholargraph/scholargraph/pkg/normalize"
	"github.com/scholargraph/scholargraph/pkg/pipeline"
	"github.com/scholargraph/scholargraph/pkg/strength"
	"github.com/scholargraph/scholargraph/pkg/writerlock"
)

func main() {
	util.LoadEnv()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// logger
	debug := util.GetEnvBool("DEBUG", false)
	consoleBackend := console.NewConsoleBackend(console.ConsoleBackendParams{
		Debug: debug,
	})
	logger.Init(consoleBackend)

	// AI client
	adapter := util.GetEnv("AI_ADAPTER")
	var aiClient ai.Client

	switch adapter {
	case "ollama":
		client, err := olm.NewClient(olm.NewClientParams{
			ChatModel:      util.GetEnv("AI_CHAT_MODEL"),
			EmbeddingModel: util.GetEnv("AI_EMBED_MODEL"),
			BaseURL:        util.GetEnv("AI_CHAT_URL"),
			APIKey:         util.GetEnv("AI_CHAT_KEY"),
		})
		if err != nil {
			logger.Fatal("Could not create Ollama client", "err", err)
		}
		aiClient = client
	default:
		aiClient = oai.NewClient(oai.NewClientParams{
			ChatModel:      util.GetEnv("AI_CHAT_MODEL"),
			EmbeddingModel: util.GetEnv("AI_EMBED_MODEL"),
			ChatURL:        util.GetEnv("AI_CHAT_URL"),
			ChatKey:        util.GetEnv("AI_CHAT_KEY"),
			EmbeddingURL:   util.GetEnv("AI_EMBED_URL"),
			EmbeddingKey:   util.GetEnv("AI_EMBED_KEY"),
		})
	}

	// Init pgx client
	databaseURL := util.GetEnv("DATABASE_URL")
	migrationsDir := util.GetEnvString("MIGRATIONS_DIR", "migrations")
	if err := graphstore.RunMigrations(migrationsDir, databaseURL); err != nil {
		logger.Fatal("Failed to run migrations", "err", err)
	}

	pgConn, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		logger.Fatal("Unable to connect to database", "err", err)
	}
	defer pgConn.Close()
	pgConn.Config().AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	// Extraction cache and checkpoints
	cacheStore, err := cache.New(util.GetEnvString("CACHE_DIR", "data/cache"))
	if err != nil {
		logger.Fatal("Failed to open extraction cache", "err", err)
	}
	checkpoints, err := checkpoint.Open(util.GetEnvString("CHECKPOINT_PATH", "data/checkpoints.jsonl"))
	if err != nil {
		logger.Fatal("Failed to open checkpoint store", "err", err)
	}
	defer checkpoints.Close()
	if err := checkpoints.Compact(); err != nil {
		logger.Warn("Failed to compact checkpoint log", "err", err)
	}

	// Document loaders
	loaders := map[string]docsource.Loader{
		"fs": docsource.NewFSLoader(util.GetEnvString("DOCUMENTS_DIR", "data/documents")),
	}
	if util.GetEnv("AWS_BUCKET") != "" {
		s3Loader, err := docsource.NewS3Loader(ctx, docsource.NewS3LoaderParams{
			Bucket:    util.GetEnv("AWS_BUCKET"),
			Endpoint:  util.GetEnv("AWS_ENDPOINT"),
			Region:    util.GetEnvString("AWS_REGION", "us-east-1"),
			AccessKey: util.GetEnv("AWS_ACCESS_KEY_ID"),
			SecretKey: util.GetEnv("AWS_SECRET_ACCESS_KEY"),
		})
		if err != nil {
			logger.Fatal("Failed to create S3 loader", "err", err)
		}
		loaders["s3"] = s3Loader
	}

	// Pipeline
	var embedder normalize.Embedder
	if util.GetEnvBool("SEMANTIC_MATCHING", false) {
		embedder = aiClient
	}

	extractor := extract.NewExtractor(extract.NewExtractorParams{
		Client:  aiClient,
		Cache:   cacheStore,
		Retry:   util.DefaultRetryPolicy,
		Timeout: time.Duration(util.GetEnvInt("EXTRACT_TIMEOUT_SECONDS", 120)) * time.Second,
	})
	registry := normalize.NewRegistry(normalize.NewRegistryParams{
		Embedder:            embedder,
		SimilarityThreshold: util.GetEnvFloat("SIMILARITY_THRESHOLD", normalize.DefaultSimilarityThreshold),
		EmbeddingThreshold:  util.GetEnvFloat("EMBEDDING_THRESHOLD", normalize.DefaultEmbeddingThreshold),
	})
	scoring := strength.DefaultConfig()
	scoring.EdgeThreshold = util.GetEnvFloat("EDGE_THRESHOLD", scoring.EdgeThreshold)
	engine := strength.NewEngine(scoring, embedder)

	orch := pipeline.NewOrchestrator(pipeline.NewOrchestratorParams{
		Extractor:    extractor,
		Registry:     registry,
		Engine:       engine,
		Store:        graphstore.New(pgConn),
		Checkpoints:  checkpoints,
		Locker:       writerlock.New(pgConn),
		Workers:      util.GetEnvInt("PIPELINE_WORKERS", 4),
		StageTimeout: time.Duration(util.GetEnvInt("STAGE_TIMEOUT_SECONDS", 300)) * time.Second,
		WriteRetry:   util.DefaultRetryPolicy,
	})
	maxTokens := util.GetEnvInt("MAX_DOCUMENT_TOKENS", 24000)

	// Init rabbitmq
	conn := queue.Init()
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		logger.Fatal("Failed to open channel", "err", err)
	}
	defer ch.Close()

	queues := []string{queue.IngestQueue}
	if err := queue.SetupQueues(ch, queues); err != nil {
		logger.Fatal("Failed to set up queues", "err", err)
	}

	logger.Info("Listening for messages")

	consumerCh, err := conn.Channel()
	if err != nil {
		logger.Fatal("Failed to open consumer channel", "err", err)
	}
	defer consumerCh.Close()

	if err := consumerCh.Qos(1, 0, true); err != nil {
		logger.Fatal("Failed to set QoS", "err", err)
	}

	type queuedMessage struct {
		msg       amqp.Delivery
		queueName string
	}

	messageChan := make(chan queuedMessage)

	for _, queueName := range queues {
		go func(qName string) {
			consumerTag := fmt.Sprintf("%s_consumer", qName)
			msgs, err := consumerCh.Consume(
				qName,
				consumerTag,
				false, // autoAck
				false, // exclusive
				false, // noLocal
				false, // noWait
				nil,   // args
			)
			if err != nil {
				logger.Fatal("Failed to start consuming", "queue", qName, "err", err)
			}

			for {
				select {
				case <-ctx.Done():
					logger.Info("Stopping consumer", "queue", qName)
					return
				case msg, ok := <-msgs:
					if !ok {
						logger.Info("Message channel closed", "queue", qName)
						return
					}
					messageChan <- queuedMessage{msg: msg, queueName: qName}
				}
			}
		}(queueName)
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				logger.Info("Stopping message processor")
				return
			case qm := <-messageChan:
				startTime := time.Now()
				logger.Info("Received message", "queue", qm.queueName)

				var processingErr error
				switch qm.queueName {
				case queue.IngestQueue:
					processingErr = queue.ProcessIngestMessage(ctx, loaders, orch, maxTokens, string(qm.msg.Body))
				}

				if processingErr != nil {
					logger.Error("Error processing message", "queue", qm.queueName, "err", processingErr)
					queue.RetryOrDeadLetter(consumerCh, qm.msg, qm.queueName)
				} else {
					if err := qm.msg.Ack(false); err != nil {
						logger.Error("Failed to ack message", "err", err)
					}
					logger.Info("Message processed successfully", "queue", qm.queueName)
				}

				processingDuration := time.Since(startTime)
				hours := int(processingDuration.Hours())
				minutes := int(processingDuration.Minutes()) % 60
				seconds := int(processingDuration.Seconds()) % 60
				logger.Info(
					"Processing time",
					"duration", fmt.Sprintf("%02d:%02d:%02d", hours, minutes, seconds),
				)
				logger.Info("Waiting for next message")
			}
		}
	}()

	<-ctx.Done()
	logger.Info("Shutdown signal received, exiting...")
}
