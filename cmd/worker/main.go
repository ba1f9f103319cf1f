package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/OFFIS-RIT/ontograph/internal/database"
	"github.com/OFFIS-RIT/ontograph/internal/queue"
	"github.com/OFFIS-RIT/ontograph/internal/setup"
	"github.com/OFFIS-RIT/ontograph/internal/storage"
	"github.com/OFFIS-RIT/ontograph/internal/util"
	"github.com/OFFIS-RIT/ontograph/pkg/loader/s3"
	"github.com/OFFIS-RIT/ontograph/pkg/logger"
	"github.com/OFFIS-RIT/ontograph/pkg/logger/console"

	amqp "github.com/rabbitmq/amqp091-go"
)

func main() {
	util.LoadEnv()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// logger
	debug := util.GetEnvBool("DEBUG", false)
	consoleLogger := console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug: debug,
		JSON:  util.GetEnvBool("LOG_JSON", false),
	})
	logger.Init(consoleLogger)

	// Init s3 client
	s3Client, err := storage.NewS3Client(ctx)
	if err != nil {
		logger.Fatal("Could not create S3 client", "err", err)
	}

	aiClient, err := setup.NewAIClient()
	if err != nil {
		logger.Fatal("Could not create AI client", "err", err)
	}

	// Init pgx client
	databaseURL := util.GetEnv("DATABASE_URL")
	if err := database.RunMigrations(databaseURL, util.GetEnvString("MIGRATIONS_PATH", "migrations")); err != nil {
		logger.Fatal("Failed to migrate database", "err", err)
	}
	pgConn, err := database.Connect(ctx, databaseURL)
	if err != nil {
		logger.Fatal("Unable to connect to database", "err", err)
	}
	defer pgConn.Close()

	embeddings, closeCache, err := setup.NewEmbeddingService(aiClient, pgConn)
	if err != nil {
		logger.Fatal("Could not create embedding service", "err", err)
	}
	defer closeCache()

	graphStorage := setup.NewGraphStorage(pgConn)
	graphClient, err := setup.NewGraphClient(aiClient, embeddings, graphStorage)
	if err != nil {
		logger.Fatal("Could not create graph client", "err", err)
	}

	// Init rabbitmq
	conn := queue.Init()
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		logger.Fatal("Failed to open channel", "err", err)
	}
	defer ch.Close()

	if err := queue.SetupQueues(ch, []string{queue.ExtractQueue}); err != nil {
		logger.Fatal("Failed to set up queues", "err", err)
	}

	handler := queue.NewExtractHandler(queue.NewExtractHandlerParams{
		Graph:     graphClient,
		Storage:   graphStorage,
		Loader:    s3.NewS3GraphFileLoaderWithClient(util.GetEnvString("AWS_BUCKET", "ontograph"), s3Client),
		Publisher: ch,
	})

	// A single consumer channel with prefetch=1 keeps one job in flight.
	consumerCh, err := conn.Channel()
	if err != nil {
		logger.Fatal("Failed to open consumer channel", "err", err)
	}
	defer consumerCh.Close()

	if err := consumerCh.Qos(1, 0, false); err != nil {
		logger.Fatal("Failed to set QoS", "err", err)
	}

	msgs, err := consumerCh.Consume(
		queue.ExtractQueue,
		fmt.Sprintf("%s_consumer", queue.ExtractQueue),
		false, // autoAck
		false, // exclusive
		false, // noLocal
		false, // noWait
		nil,   // args
	)
	if err != nil {
		logger.Fatal("Failed to start consuming", "queue", queue.ExtractQueue, "err", err)
	}

	logger.Info("Listening for messages", "queue", queue.ExtractQueue)
	for {
		select {
		case <-ctx.Done():
			logger.Info("Shutdown signal received, exiting...")
			return
		case msg, ok := <-msgs:
			if !ok {
				logger.Info("Message channel closed", "queue", queue.ExtractQueue)
				return
			}
			process(ctx, handler, consumerCh, msg)
			setup.LogMetrics(aiClient)
		}
	}
}

func process(ctx context.Context, handler *queue.ExtractHandler, ch *amqp.Channel, msg amqp.Delivery) {
	startTime := time.Now()
	logger.Info("Received message", "queue", queue.ExtractQueue)

	if err := handler.Process(ctx, msg.Body); err != nil {
		logger.Error("Error processing message", "queue", queue.ExtractQueue, "err", err)
		queue.HandleProcessingError(ch, msg, queue.ExtractQueue, err)
	} else {
		if err := msg.Ack(false); err != nil {
			logger.Error("Failed to ack message", "err", err)
		}
		logger.Info("Message processed successfully", "queue", queue.ExtractQueue)
	}

	processingDuration := time.Since(startTime)
	hours := int(processingDuration.Hours())
	minutes := int(processingDuration.Minutes()) % 60
	seconds := int(processingDuration.Seconds()) % 60
	logger.Info(
		"Processing time",
		"duration", fmt.Sprintf("%02d:%02d:%02d", hours, minutes, seconds),
	)
}
