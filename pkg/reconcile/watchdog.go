package reconcile

import (
	"context"
	"log/slog"
	"time"

	"github.com/nbaertsch/squadron/pkg/models"
)

const defaultMaxActiveDuration = 30 * time.Minute

// escalateIfWatchdogMissed is the reconciliation backstop named in spec §4.4
// and §4.9: if an agent's per-turn watchdog never fired (process crash or
// restart race between the watchdog goroutine starting and the process
// dying), the agent can sit ACTIVE with active_since far in the past and no
// task ever running in this process. Reports true when the agent was
// escalated.
func (l *Loop) escalateIfWatchdogMissed(ctx context.Context, a *models.Agent, now time.Time) bool {
	if !a.IsActive() || a.ActiveSince == nil {
		return false
	}

	maxActive := resolveMaxActiveDuration(l.cfg.CircuitBreakersFor(a.Role).MaxActiveDuration)
	deadline := a.ActiveSince.Add(maxActive)
	if now.Before(deadline) {
		return false
	}

	// A task still running in this process means its own watchdog owns the
	// decision; the reconciliation loop only steps in when nothing is there.
	if l.manager.HasRunningTask(a.ID) {
		return false
	}

	slog.Error("reconciliation: watchdog-missed timeout, primary watchdog failed to fire",
		"agent_id", a.ID, "active_since", *a.ActiveSince, "max_active_duration", maxActive)
	if err := l.manager.EscalateAgent(ctx, a.ID, "reconciliation: max_active_duration exceeded, primary watchdog did not fire"); err != nil {
		slog.Error("reconciliation: escalating agent failed", "agent_id", a.ID, "error", err)
		return false
	}
	return true
}

func resolveMaxActiveDuration(s string) time.Duration {
	if s == "" {
		return defaultMaxActiveDuration
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultMaxActiveDuration
	}
	return d
}
