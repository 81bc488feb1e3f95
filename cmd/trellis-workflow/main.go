package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"trellis/internal/auth"
	"trellis/internal/config"
	"trellis/internal/formula"
	"trellis/internal/logging"
	"trellis/internal/pubsub"
	"trellis/internal/pubsub/nats"
	"trellis/internal/storage/mongo"
	"trellis/internal/workflow"
	"trellis/internal/workflow/handlers"
)

func main() {
	configDir := flag.String("config", ".", "directory containing config.yml")
	flag.Parse()

	// 1. Load Configuration
	cfg, err := config.Load(*configDir)
	if err != nil {
		log.Fatalf("Configuration error: %v", err)
	}

	// 2. Initialize Logging
	if err := logging.Initialize(cfg.Logging); err != nil {
		log.Fatalf("Failed to initialize logging: %v", err)
	}
	defer func() { _ = logging.Shutdown() }()

	logger := slog.Default()
	logger.Info("Trellis workflow service starting")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Setup signal handling
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// 3. Connect Storage
	provider, err := mongo.NewProvider(ctx, cfg.Storage)
	if err != nil {
		logger.Error("Failed to connect to MongoDB", "error", err)
		os.Exit(1)
	}
	defer func() {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer closeCancel()
		if err := provider.Close(closeCtx); err != nil {
			logger.Error("Failed to close MongoDB connection", "error", err)
		}
	}()

	// 4. Connect NATS
	nc, js, err := nats.Connect(cfg.Nats.URL)
	if err != nil {
		logger.Error("Failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer nc.Close()

	consumer, err := nats.NewConsumer(js, pubsub.ConsumerOptions{
		StreamName:     cfg.Workflow.StreamName,
		ConsumerName:   cfg.Workflow.ConsumerName,
		FilterSubject:  cfg.Workflow.FilterSubject,
		ChannelBufSize: cfg.Workflow.ChannelBufSize,
		Storage:        cfg.Nats.StorageTypeValue(),
	})
	if err != nil {
		logger.Error("Failed to create event consumer", "error", err)
		os.Exit(1)
	}

	publisher, err := nats.NewPublisher(js, pubsub.PublisherOptions{
		StreamName:    cfg.Workflow.PublishStream,
		SubjectPrefix: cfg.Workflow.PublishPrefix,
		Storage:       cfg.Nats.StorageTypeValue(),
	})
	if err != nil {
		logger.Error("Failed to create event publisher", "error", err)
		os.Exit(1)
	}
	defer func() { _ = publisher.Close() }()

	// 5. Token Service (signs outbound callout requests)
	tokens, err := auth.NewTokenServiceFromConfig(cfg.Auth)
	if err != nil {
		logger.Error("Failed to initialize token service", "error", err)
		os.Exit(1)
	}

	// 6. Formula Evaluator
	evaluator, err := formula.NewEvaluator()
	if err != nil {
		logger.Error("Failed to initialize formula evaluator", "error", err)
		os.Exit(1)
	}

	// 7. Workflow Service
	builtins := handlers.BuiltIn(handlers.Dependencies{
		Documents: provider.Documents(),
		Pending:   provider.Pending(),
		Publisher: publisher,
		Tokens:    tokens,
		Logger:    logger,
	}, handlers.Options{
		CalloutTimeout: cfg.Workflow.CalloutTimeout(),
	})

	svc, err := workflow.NewService(workflow.ServiceDependencies{
		Consumer:       consumer,
		Rules:          provider.Rules(),
		ExecutionLogs:  provider.ExecutionLogs(),
		ActionLogs:     provider.ActionLogs(),
		PendingActions: provider.Pending(),
		ActionTypes:    provider.ActionTypes(),
		Collections:    provider.Collections(),
		Formula:        evaluator,
		Handlers:       builtins,
		Logger:         logger,
	}, cfg.Workflow)
	if err != nil {
		logger.Error("Failed to build workflow service", "error", err)
		os.Exit(1)
	}

	// 8. Run until signalled
	errCh := make(chan error, 1)
	go func() {
		errCh <- svc.Start(ctx)
	}()

	select {
	case sig := <-sigCh:
		logger.Info("Received shutdown signal", "signal", sig.String())
		cancel()
		select {
		case err := <-errCh:
			if err != nil {
				logger.Error("Workflow service exited with error", "error", err)
			}
		case <-time.After(cfg.Workflow.ShutdownTimeout() + 10*time.Second):
			logger.Warn("Shutdown timed out, exiting")
		}
	case err := <-errCh:
		cancel()
		if err != nil {
			logger.Error("Workflow service exited with error", "error", err)
			os.Exit(1)
		}
	}

	logger.Info("Trellis workflow service stopped")
}
