package watchdog

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToolCallTracker_DeniesPastCap(t *testing.T) {
	tracker := NewToolCallTracker(5, 0.8, 10, nil)
	ctx := context.Background()

	var allowedCount int
	for i := 0; i < 6; i++ {
		allow, _ := tracker.PreTool(ctx, "agent-1")
		if allow {
			allowedCount++
		}
	}
	assert.Equal(t, 5, allowedCount)

	allow, escalate := tracker.PreTool(ctx, "agent-1")
	assert.False(t, allow)
	assert.True(t, escalate)
}

func TestToolCallTracker_PersistsEveryN(t *testing.T) {
	var persisted []int
	tracker := NewToolCallTracker(100, 0.8, 2, func(_ context.Context, count int) error {
		persisted = append(persisted, count)
		return nil
	})
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		tracker.PreTool(ctx, "a")
	}
	assert.Equal(t, []int{2, 4}, persisted)
}

func TestRunDurationWatchdog_CancelsTaskAfterMaxActiveDuration(t *testing.T) {
	taskDone := make(chan struct{})
	var cancelled, escalated atomic.Bool

	go RunDurationWatchdog(context.Background(), "agent-1", 10*time.Millisecond,
		func() { cancelled.Store(true) }, taskDone,
		func(reason string) { escalated.Store(true) })

	require.Eventually(t, func() bool { return cancelled.Load() }, time.Second, time.Millisecond)
	// taskDone never closes, simulating a stuck agent; the watchdog's
	// cleanup window is 30s in production but this test only verifies the
	// cancel call fired promptly — forcing the full window would slow the
	// suite, so we stop here.
}

func TestRunHeartbeat_StopsOnSignal(t *testing.T) {
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		RunHeartbeat("agent-1", 5*time.Millisecond, func() ActivitySnapshot {
			return ActivitySnapshot{}
		}, stop)
		close(done)
	}()
	close(stop)
	require.Eventually(t, func() bool {
		select {
		case <-done:
			return true
		default:
			return false
		}
	}, time.Second, time.Millisecond)
}
