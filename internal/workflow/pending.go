package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"trellis/internal/workflow/types"
)

// PendingRunner executes one due pending action. The returned error decides
// the row's terminal status.
type PendingRunner func(ctx context.Context, pending *types.PendingAction) error

// PendingExecutor polls deferred actions whose scheduled time has arrived
// and settles each one to EXECUTED or FAILED.
type PendingExecutor struct {
	store    PendingActionStore
	runner   PendingRunner
	interval time.Duration
	logger   *slog.Logger

	mu        sync.Mutex
	running   bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	triggerCh chan struct{}

	// Injected for tests.
	now func() time.Time
}

// NewPendingExecutor creates a pending-action poller. The runner typically
// resumes the owning rule via Engine.ResumePendingAction.
func NewPendingExecutor(store PendingActionStore, runner PendingRunner, interval time.Duration, logger *slog.Logger) *PendingExecutor {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &PendingExecutor{
		store:     store,
		runner:    runner,
		interval:  interval,
		logger:    logger.With("component", "workflow.pending"),
		triggerCh: make(chan struct{}, 1),
		now:       time.Now,
	}
}

// Start launches the poll loop.
func (p *PendingExecutor) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("pending executor already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.running = true
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.Run(runCtx)
	}()

	p.logger.Info("Pending action executor started", "interval", p.interval)
	return nil
}

// Stop halts the loop and waits for any in-flight poll to finish.
func (p *PendingExecutor) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.cancel()
	p.running = false
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("Pending action executor stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Trigger requests an immediate poll.
func (p *PendingExecutor) Trigger() {
	select {
	case p.triggerCh <- struct{}{}:
	default:
		// Already triggered
	}
}

// Run executes the poll loop until ctx is cancelled. Start/Stop wrap it for
// managed lifecycles; Run is the blocking core.
func (p *PendingExecutor) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	// Initial poll
	p.PollAndExecute(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.PollAndExecute(ctx)
		case <-p.triggerCh:
			p.PollAndExecute(ctx)
		}
	}
}

// PollAndExecute runs every due pending action. One bad item never blocks
// the rest of the queue.
func (p *PendingExecutor) PollAndExecute(ctx context.Context) {
	due, err := p.store.Due(ctx, p.now())
	if err != nil {
		p.logger.Error("Failed to load due pending actions", "error", err)
		return
	}
	if len(due) == 0 {
		return
	}

	p.logger.Info("Executing due pending actions", "count", len(due))

	for i := range due {
		if ctx.Err() != nil {
			return
		}
		p.execute(ctx, &due[i])
	}
}

// execute settles one pending action. A row whose EXECUTED status cannot be
// persisted is downgraded to FAILED rather than left PENDING, which would
// re-run it on the next poll.
func (p *PendingExecutor) execute(ctx context.Context, pending *types.PendingAction) {
	if err := p.runPending(ctx, pending); err != nil {
		p.logger.Error("Pending action failed",
			"pending_id", pending.ID, "rule_id", pending.RuleID, "error", err)
		if markErr := p.store.MarkFailed(ctx, pending.ID, err.Error()); markErr != nil {
			p.logger.Error("Failed to mark pending action failed",
				"pending_id", pending.ID, "error", markErr)
		}
		return
	}

	p.logger.Info("Pending action executed",
		"pending_id", pending.ID, "rule_id", pending.RuleID)

	if err := p.store.MarkExecuted(ctx, pending.ID); err != nil {
		p.logger.Error("Failed to mark pending action executed",
			"pending_id", pending.ID, "error", err)
		if markErr := p.store.MarkFailed(ctx, pending.ID, "status update failed: "+err.Error()); markErr != nil {
			p.logger.Error("Failed to mark pending action failed",
				"pending_id", pending.ID, "error", markErr)
		}
	}
}

// runPending invokes the runner with panic recovery.
func (p *PendingExecutor) runPending(ctx context.Context, pending *types.PendingAction) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return p.runner(ctx, pending)
}
