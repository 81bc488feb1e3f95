package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"trellis/internal/formula"
	"trellis/internal/pubsub"
	"trellis/internal/workflow/config"
	"trellis/internal/workflow/types"
)

// pollerStopTimeout bounds how long shutdown waits for an in-flight poll.
const pollerStopTimeout = 10 * time.Second

// Service runs the workflow engine's ingestion and polling surfaces as one
// unit: the event consumer, the cron scheduler, and the pending-action
// executor, sharing one engine and handler registry.
type Service struct {
	engine    *Engine
	registry  *HandlerRegistry
	consumer  *EventConsumer
	scheduler *ScheduledExecutor
	pending   *PendingExecutor
	logger    *slog.Logger
}

// ServiceDependencies contains external dependencies for the workflow
// service.
type ServiceDependencies struct {
	Consumer       pubsub.Consumer
	Rules          RuleStore
	ExecutionLogs  ExecutionLogStore
	ActionLogs     ActionLogStore
	PendingActions PendingActionStore
	ActionTypes    ActionTypeStore
	Collections    CollectionResolver
	Formula        formula.Evaluator
	Handlers       []types.ActionHandler
	Logger         *slog.Logger
}

// NewService wires the engine, registry, consumer, and pollers.
func NewService(deps ServiceDependencies, cfg config.Config) (*Service, error) {
	if deps.Consumer == nil {
		return nil, fmt.Errorf("consumer is required for workflow service")
	}
	if deps.Rules == nil || deps.ExecutionLogs == nil || deps.ActionLogs == nil || deps.PendingActions == nil {
		return nil, fmt.Errorf("stores are required for workflow service")
	}
	if deps.Collections == nil {
		return nil, fmt.Errorf("collection resolver is required for workflow service")
	}
	if deps.Formula == nil {
		return nil, fmt.Errorf("formula evaluator is required for workflow service")
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	registry := NewHandlerRegistry(deps.Handlers, deps.ActionTypes, logger)

	engine := NewEngine(Dependencies{
		Rules:         deps.Rules,
		ExecutionLogs: deps.ExecutionLogs,
		ActionLogs:    deps.ActionLogs,
		Registry:      registry,
		Formula:       deps.Formula,
		Collections:   deps.Collections,
	}, Options{
		BatchConcurrency: cfg.BatchConcurrency,
		Logger:           logger,
	})

	var consumerOpts []ConsumerOption
	if cfg.ChannelBufSize > 0 {
		consumerOpts = append(consumerOpts, WithChannelBufferSize(cfg.ChannelBufSize))
	}
	if d := cfg.DrainTimeout(); d > 0 {
		consumerOpts = append(consumerOpts, WithDrainTimeout(d))
	}
	if d := cfg.ShutdownTimeout(); d > 0 {
		consumerOpts = append(consumerOpts, WithShutdownTimeout(d))
	}
	consumer := NewEventConsumer(deps.Consumer, engine, cfg.WorkerCount, logger, consumerOpts...)

	scheduler := NewScheduledExecutor(engine, deps.Rules, cfg.SchedulerPollInterval(), logger)
	pending := NewPendingExecutor(deps.PendingActions, engine.ResumePendingAction, cfg.PendingPollInterval(), logger)

	return &Service{
		engine:    engine,
		registry:  registry,
		consumer:  consumer,
		scheduler: scheduler,
		pending:   pending,
		logger:    logger.With("component", "workflow.service"),
	}, nil
}

// Engine exposes the engine for synchronous callers: before-save evaluation
// and manual rule execution.
func (s *Service) Engine() *Engine {
	return s.engine
}

// Registry exposes the handler registry, e.g. for design-time validation.
func (s *Service) Registry() *HandlerRegistry {
	return s.registry
}

// Start initializes the handler registry, launches both pollers, and blocks
// consuming events until ctx is cancelled. Pollers are drained before Start
// returns.
func (s *Service) Start(ctx context.Context) error {
	s.registry.Initialize(ctx)

	if err := s.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	if err := s.pending.Start(ctx); err != nil {
		return fmt.Errorf("failed to start pending executor: %w", err)
	}

	s.logger.Info("Workflow service started")

	err := s.consumer.Start(ctx)

	stopCtx, cancel := context.WithTimeout(context.Background(), pollerStopTimeout)
	defer cancel()
	if stopErr := s.Stop(stopCtx); stopErr != nil {
		s.logger.Warn("Pollers did not stop cleanly", "error", stopErr)
	}

	s.logger.Info("Workflow service stopped")
	return err
}

// Stop halts both pollers, waiting up to ctx for in-flight polls to finish.
// The consumer drains itself when the Start context is cancelled. Stop is
// safe to call more than once.
func (s *Service) Stop(ctx context.Context) error {
	schedErr := s.scheduler.Stop(ctx)
	pendErr := s.pending.Stop(ctx)
	if schedErr != nil {
		return schedErr
	}
	return pendErr
}
