package watchdog

import (
	"context"
	"log/slog"
	"time"
)

// cleanupWindow is the bounded wait for a cancelled agent task to
// acknowledge cancellation before the watchdog forces escalation.
const cleanupWindow = 30 * time.Second

// RunDurationWatchdog is Layer 2. It waits until maxActiveDuration elapses
// (or done closes first, meaning the agent finished on its own), then
// cancels the task and waits up to cleanupWindow for taskDone before calling
// onEscalate. Every wait in this function is bounded per spec §5.
func RunDurationWatchdog(ctx context.Context, agentID string, maxActiveDuration time.Duration, cancelTask context.CancelFunc, taskDone <-chan struct{}, onEscalate func(reason string)) {
	timer := time.NewTimer(maxActiveDuration)
	defer timer.Stop()

	select {
	case <-taskDone:
		return
	case <-ctx.Done():
		return
	case <-timer.C:
	}

	slog.Warn("agent exceeded max_active_duration, cancelling", "agent_id", agentID, "max_active_duration", maxActiveDuration)
	cancelTask()

	cleanup := time.NewTimer(cleanupWindow)
	defer cleanup.Stop()

	select {
	case <-taskDone:
		slog.Info("agent acknowledged cancellation within cleanup window", "agent_id", agentID)
		return
	case <-cleanup.C:
		slog.Error("agent did not acknowledge cancellation, forcing escalation", "agent_id", agentID)
		onEscalate("duration watchdog: max_active_duration exceeded and cleanup window expired")
	}
}
