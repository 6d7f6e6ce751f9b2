package watchdog

import (
	"log/slog"
	"time"
)

// stallThreshold is how long an agent may show zero tool-call and zero turn
// activity before the heartbeat emits a NO-ACTIVITY ALERT.
const stallThreshold = 120 * time.Second

// ActivitySnapshot is read by the heartbeat each tick.
type ActivitySnapshot struct {
	ToolCallCount int
	TurnCount     int
}

// RunHeartbeat is the per-agent stall detector (spec §4.4's "Heartbeat /
// stall detector"). It is launched as a goroutine distinct from the agent's
// own turn-processing goroutine — see DESIGN.md for why a plain goroutine
// satisfies the spec's "independent of the cooperative runtime" requirement
// in Go's scheduler model, unlike the source runtime this was distilled
// from. stopCh signals the agent's stop / terminal transition.
func RunHeartbeat(agentID string, interval time.Duration, readActivity func() ActivitySnapshot, stopCh <-chan struct{}) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastToolCalls, lastTurns int
	var lastChangeAt = time.Now()

	for {
		select {
		case <-stopCh:
			return
		case now := <-ticker.C:
			snap := readActivity()
			if snap.ToolCallCount != lastToolCalls || snap.TurnCount != lastTurns {
				lastToolCalls, lastTurns = snap.ToolCallCount, snap.TurnCount
				lastChangeAt = now
				continue
			}
			if snap.ToolCallCount == 0 && snap.TurnCount == 0 && now.Sub(lastChangeAt) >= stallThreshold {
				slog.Warn("NO-ACTIVITY ALERT", "agent_id", agentID, "since", lastChangeAt)
			}
		}
	}
}
