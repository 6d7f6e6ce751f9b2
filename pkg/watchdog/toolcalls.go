// Package watchdog implements the two bounded enforcement layers plus the
// heartbeat/stall detector described in spec §4.4.
package watchdog

import (
	"context"
	"log/slog"
	"sync"
)

// ToolCallTracker is Layer 1: the pre-tool hook's tool-call counter. One
// instance guards a single agent's turn-spanning call count.
type ToolCallTracker struct {
	mu               sync.Mutex
	count            int
	maxCalls         int
	warningThreshold float64
	warned           bool
	persistEvery     int
	persist          func(ctx context.Context, count int) error
}

// NewToolCallTracker builds a tracker for one agent. persist is called every
// persistEvery increments to bound write amplification (default 10 per
// spec); it may be nil to skip persistence (e.g. in tests).
func NewToolCallTracker(maxCalls int, warningThreshold float64, persistEvery int, persist func(ctx context.Context, count int) error) *ToolCallTracker {
	if persistEvery <= 0 {
		persistEvery = 10
	}
	return &ToolCallTracker{
		maxCalls:         maxCalls,
		warningThreshold: warningThreshold,
		persistEvery:     persistEvery,
		persist:          persist,
	}
}

// PreTool increments the counter and reports whether the call is allowed.
// escalate is true exactly when the call is denied: either this call takes
// the count past maxCalls, or the count was already past it.
func (t *ToolCallTracker) PreTool(ctx context.Context, agentID string) (allow bool, escalate bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.maxCalls > 0 && t.count > t.maxCalls {
		return false, true
	}

	t.count++

	if t.maxCalls > 0 {
		threshold := t.warningThreshold
		if threshold <= 0 {
			threshold = 0.80
		}
		if !t.warned && float64(t.count) >= float64(t.maxCalls)*threshold {
			t.warned = true
			slog.Warn("agent approaching tool-call limit",
				"agent_id", agentID, "count", t.count, "max", t.maxCalls)
		}
		if t.count%t.persistEvery == 0 && t.persist != nil {
			if err := t.persist(ctx, t.count); err != nil {
				slog.Error("persisting tool_call_count failed", "agent_id", agentID, "error", err)
			}
		}
		if t.count > t.maxCalls {
			return false, true
		}
	}

	return true, false
}

// Count returns the current tool-call count.
func (t *ToolCallTracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.count
}
