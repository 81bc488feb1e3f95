package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"trellis/internal/workflow/types"
)

// cronParser accepts 6-field expressions with a seconds column plus
// descriptors such as @daily.
var cronParser = cron.NewParser(
	cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ScheduledExecutor polls SCHEDULED rules and fires the ones whose cron
// schedule has come due since their last run.
type ScheduledExecutor struct {
	engine   *Engine
	rules    RuleStore
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

// NewScheduledExecutor creates a scheduler polling at the given interval.
func NewScheduledExecutor(engine *Engine, rules RuleStore, interval time.Duration, logger *slog.Logger) *ScheduledExecutor {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &ScheduledExecutor{
		engine:    engine,
		rules:     rules,
		interval:  interval,
		logger:    logger.With("component", "workflow.scheduler"),
		triggerCh: make(chan struct{}, 1),
		now:       time.Now,
	}
}

// Start launches the poll loop.
func (s *ScheduledExecutor) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("scheduled executor already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.Run(runCtx)
	}()

	s.logger.Info("Scheduled workflow executor started", "interval", s.interval)
	return nil
}

// Stop halts the loop and waits for any in-flight poll to finish.
func (s *ScheduledExecutor) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.cancel()
	s.running = false
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("Scheduled workflow executor stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Trigger requests an immediate poll.
func (s *ScheduledExecutor) Trigger() {
	select {
	case s.triggerCh <- struct{}{}:
	default:
		// Already triggered
	}
}

// Run executes the poll loop until ctx is cancelled. Start/Stop wrap it for
// managed lifecycles; Run is the blocking core.
func (s *ScheduledExecutor) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// Initial poll
	s.PollScheduledWorkflows(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.PollScheduledWorkflows(ctx)
		case <-s.triggerCh:
			s.PollScheduledWorkflows(ctx)
		}
	}
}

// PollScheduledWorkflows fires every due rule once, then stamps its
// lastScheduledRun. The stamp is written even when the execution fails so a
// broken rule cannot re-fire on every poll.
func (s *ScheduledExecutor) PollScheduledWorkflows(ctx context.Context) {
	rules, err := s.rules.ActiveScheduled(ctx)
	if err != nil {
		s.logger.Error("Failed to load scheduled rules", "error", err)
		return
	}
	if len(rules) == 0 {
		return
	}

	now := s.now()
	for i := range rules {
		if ctx.Err() != nil {
			return
		}
		rule := &rules[i]

		if !s.IsDue(rule, now) {
			continue
		}

		s.logger.Info("Scheduled rule is due",
			"rule", rule.Name, "tenant_id", rule.TenantID, "cron", rule.CronExpression)

		if err := s.engine.ExecuteScheduledRule(ctx, rule); err != nil {
			s.logger.Error("Scheduled rule execution failed", "rule", rule.Name, "error", err)
		}

		if err := s.rules.UpdateLastScheduledRun(ctx, rule.ID, now); err != nil {
			s.logger.Error("Failed to update last scheduled run", "rule", rule.Name, "error", err)
		}
	}
}

// IsDue reports whether the rule's schedule fires between its baseline and
// now. Blank and malformed cron expressions never fire. The baseline is the
// last scheduled run, falling back to the rule's creation time, then to 24h
// ago so a rule with no history cannot replay an unbounded backlog.
func (s *ScheduledExecutor) IsDue(rule *types.Rule, now time.Time) bool {
	expr := strings.TrimSpace(rule.CronExpression)
	if expr == "" {
		return false
	}

	schedule, err := cronParser.Parse(expr)
	if err != nil {
		s.logger.Warn("Invalid cron expression on scheduled rule",
			"rule", rule.Name, "cron", rule.CronExpression, "error", err)
		return false
	}

	loc := ruleLocation(rule.Timezone)

	baseline := now.Add(-24 * time.Hour)
	switch {
	case rule.LastScheduledRun != nil:
		baseline = *rule.LastScheduledRun
	case !rule.CreatedAt.IsZero():
		baseline = rule.CreatedAt
	}

	next := schedule.Next(baseline.In(loc))
	if next.IsZero() {
		return false
	}
	return !next.After(now)
}

// ruleLocation resolves a rule's timezone name, falling back to UTC for
// blank or unknown names.
func ruleLocation(name string) *time.Location {
	name = strings.TrimSpace(name)
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}
