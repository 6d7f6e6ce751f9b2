// Package reconcile implements the Reconciliation Loop: a periodic sweep
// that reconciles declared platform state with Registry state for every
// non-terminal agent, per spec §4.9.
package reconcile

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/nbaertsch/squadron/pkg/collaborators"
	"github.com/nbaertsch/squadron/pkg/config"
	"github.com/nbaertsch/squadron/pkg/models"
)

// Registry is the narrow slice of the Registry the loop depends on.
type Registry interface {
	ListNonTerminalAgents(ctx context.Context) ([]*models.Agent, error)
	RemoveBlocker(ctx context.Context, agentID string, issueID int64) error
}

// LifecycleManager is the narrow slice of the Agent Lifecycle Manager the
// loop drives: it never mutates agent records directly, it only calls back
// into the single writer.
type LifecycleManager interface {
	CompleteAgent(ctx context.Context, agentID string) error
	WakeAgent(ctx context.Context, agentID string, triggerEvent string) (*models.Agent, error)
	EscalateAgent(ctx context.Context, agentID string, reason string) error
	HasRunningTask(agentID string) bool
}

// Loop owns the cron schedule and one sweep implementation.
type Loop struct {
	reg      Registry
	manager  LifecycleManager
	platform collaborators.PlatformAPI
	cfg      *config.Config

	interval time.Duration

	cron *cron.Cron
}

// New builds a Loop. interval is the sweep period (spec default 300s); cfg
// supplies each role's resolved max_active_duration and the bot username
// that does not count as a "reassignment away" for an issue's owning agent.
func New(reg Registry, manager LifecycleManager, platform collaborators.PlatformAPI, cfg *config.Config, interval time.Duration) *Loop {
	return &Loop{
		reg:      reg,
		manager:  manager,
		platform: platform,
		cfg:      cfg,
		interval: interval,
	}
}

// Start schedules the periodic sweep and runs one sweep immediately so a
// freshly restarted process doesn't wait a full interval before catching up
// on state that changed while it was down.
func (l *Loop) Start(ctx context.Context) error {
	l.cron = cron.New()
	spec := "@every " + l.interval.String()
	_, err := l.cron.AddFunc(spec, func() { l.sweep(ctx) })
	if err != nil {
		return err
	}
	l.cron.Start()
	go l.sweep(ctx)
	return nil
}

// Stop halts the schedule, waiting for an in-flight sweep to finish.
func (l *Loop) Stop() {
	if l.cron != nil {
		<-l.cron.Stop().Done()
	}
}

// sweep runs the three responsibilities spec §4.9 assigns the loop. Each
// agent's checks are independent and best-effort: one agent's platform
// lookup failing must never stop the sweep from reaching the rest.
func (l *Loop) sweep(ctx context.Context) {
	agents, err := l.reg.ListNonTerminalAgents(ctx)
	if err != nil {
		slog.Error("reconciliation sweep: listing agents failed", "error", err)
		return
	}

	now := time.Now()
	for _, a := range agents {
		if l.completeIfPlatformStateChanged(ctx, a) {
			continue
		}
		if l.escalateIfWatchdogMissed(ctx, a, now) {
			continue
		}
		l.resumeIfUnblocked(ctx, a)
	}
}
