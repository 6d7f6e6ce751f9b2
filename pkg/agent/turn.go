package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nbaertsch/squadron/pkg/collaborators"
	"github.com/nbaertsch/squadron/pkg/config"
	"github.com/nbaertsch/squadron/pkg/models"
	"github.com/nbaertsch/squadron/pkg/watchdog"
)

// scheduleTurn starts the agent's task goroutine plus its watchdog and
// heartbeat, per spec §4.6's "schedules the agent task and starts its
// watchdog and heartbeat". The task goroutine owns the concurrency slot
// acquired by the caller until the post-turn dispatch releases or hands it
// off again (e.g. a wake re-acquires its own slot).
func (m *Manager) scheduleTurn(parent context.Context, a *models.Agent, roleCfg *config.AgentRoleConfig, session collaborators.LLMSession, prompt string) {
	cb := m.cfg.CircuitBreakersFor(a.Role)
	taskCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	stopHeartbeat := make(chan struct{})

	tracker := m.newToolCallTracker(a.ID, cb)

	t := &agentTask{
		session:       session,
		tracker:       tracker,
		cancel:        cancel,
		done:          done,
		stopHeartbeat: stopHeartbeat,
	}
	m.registerTask(a.ID, t)

	maxActive := parseDuration(cb.MaxActiveDuration, 30*time.Minute)
	go watchdog.RunDurationWatchdog(taskCtx, a.ID, maxActive, cancel, done, func(reason string) {
		m.escalate(context.Background(), a.ID, reason)
	})

	go watchdog.RunHeartbeat(a.ID, heartbeatInterval, func() watchdog.ActivitySnapshot {
		cur, err := m.reg.GetAgent(context.Background(), a.ID)
		if err != nil {
			return watchdog.ActivitySnapshot{}
		}
		return watchdog.ActivitySnapshot{ToolCallCount: cur.ToolCallCount, TurnCount: cur.TurnCount}
	}, stopHeartbeat)

	go m.runTurn(taskCtx, a.ID, session, prompt, done)
}

// runTurn drives one send_prompt_and_await_turn call and, on completion,
// dispatches the post-turn state machine (spec §4.6).
func (m *Manager) runTurn(ctx context.Context, agentIDStr string, session collaborators.LLMSession, prompt string, done chan struct{}) {
	defer close(done)

	result, err := session.SendPromptAndAwaitTurn(ctx, prompt, turnTimeout)

	a, loadErr := m.reg.GetAgent(context.Background(), agentIDStr)
	if loadErr != nil {
		slog.Error("post-turn agent lookup failed", "agent_id", agentIDStr, "error", loadErr)
		return
	}
	a.TurnCount++

	if err != nil {
		slog.Error("agent turn failed", "agent_id", agentIDStr, "error", err)
		m.escalate(context.Background(), agentIDStr, fmt.Sprintf("turn error: %v", err))
		return
	}
	if result != nil {
		m.log(context.Background(), "turn_completed", map[string]any{
			"agent_id": agentIDStr, "status": result.Status, "tool_calls": result.ToolCalls,
		})
	}

	if err := m.reg.UpdateAgent(context.Background(), a); err != nil {
		slog.Error("persisting turn count failed", "agent_id", agentIDStr, "error", err)
	}

	m.postTurn(context.Background(), a)
}

// postTurn dispatches on the agent's freshly re-read status, per spec §4.6's
// post-turn state machine table.
func (m *Manager) postTurn(ctx context.Context, a *models.Agent) {
	switch a.Status {
	case models.AgentStatusSleeping:
		t := m.removeTask(a.ID)
		if t != nil {
			t.cancel()
			close(t.stopHeartbeat)
		}
		m.commitWIPBeforeSleep(ctx, a)
		if err := m.sandbox.TeardownSession(ctx, a.ID); err != nil {
			slog.Warn("stopping sandbox session on sleep failed", "agent_id", a.ID, "error", err)
		}
		roleCfg, err := m.cfg.GetRole(a.Role)
		if err == nil && roleCfg.Lifecycle == config.LifecycleEphemeral && !roleCfg.Singleton {
			m.mailCtr.Forget(a.ID)
		}
		m.releaseSlot()

	case models.AgentStatusCompleted:
		t := m.removeTask(a.ID)
		if t != nil {
			t.cancel()
			close(t.stopHeartbeat)
		}
		m.cleanupTerminal(ctx, a)
		m.notifyWorkflowTerminal(ctx, a.ID, a.Status)

	case models.AgentStatusEscalated, models.AgentStatusFailed:
		t := m.removeTask(a.ID)
		if t != nil {
			t.cancel()
			close(t.stopHeartbeat)
		}
		m.cleanupTerminal(ctx, a)
		m.postEscalationComment(ctx, a)
		m.notifyWorkflowTerminal(ctx, a.ID, a.Status)

	default:
		// Unchanged: normal turn finish. The task handle is removed — the
		// agent is left ACTIVE awaiting further stimulus and will be resumed
		// on the next relevant event rather than keeping a goroutine pinned.
		t := m.removeTask(a.ID)
		if t != nil {
			close(t.stopHeartbeat)
		}
		m.releaseSlot()
	}
}

// commitWIPBeforeSleep takes a best-effort work-in-progress commit and push
// before an agent's worktree and sandbox session are torn down, per spec
// §4.6's git integration contract: a WIP commit is taken before every
// sleep, and failure here is non-fatal and never blocks the transition.
func (m *Manager) commitWIPBeforeSleep(ctx context.Context, a *models.Agent) {
	if a.WorktreePath == "" {
		return
	}
	if _, stderr, err := m.git.RunInWorktree(ctx, a.WorktreePath, []string{"add", "-A"}, ""); err != nil {
		slog.Warn("staging WIP changes before sleep failed", "agent_id", a.ID, "error", err, "stderr", stderr)
		return
	}
	msg := fmt.Sprintf("WIP: %s sleeping", a.ID)
	if _, stderr, err := m.git.RunInWorktree(ctx, a.WorktreePath, []string{"commit", "--no-verify", "-m", msg}, ""); err != nil {
		slog.Warn("committing WIP changes before sleep failed", "agent_id", a.ID, "error", err, "stderr", stderr)
		return
	}
	if err := m.git.Push(ctx, "", a.Branch, false); err != nil {
		slog.Warn("pushing WIP commit before sleep failed", "agent_id", a.ID, "branch", a.Branch, "error", err)
	}
}

// escalate transitions an agent to ESCALATED from outside the normal
// post-turn path (watchdog-forced cancellation, turn exceptions).
func (m *Manager) escalate(ctx context.Context, agentIDStr string, reason string) {
	a, err := m.reg.GetAgent(ctx, agentIDStr)
	if err != nil {
		slog.Error("escalate: loading agent failed", "agent_id", agentIDStr, "error", err)
		return
	}
	if a.Status.IsTerminal() {
		return
	}
	a.Status = models.AgentStatusEscalated
	a.ActiveSince = nil
	if err := m.reg.UpdateAgent(ctx, a); err != nil {
		slog.Error("escalate: persisting failed", "agent_id", agentIDStr, "error", err)
		return
	}
	m.log(ctx, "agent_escalated", map[string]any{"agent_id": agentIDStr, "reason": reason})
	m.postTurn(ctx, a)
}

// postEscalationComment posts a single escalation notice to the agent's
// issue or PR. Best-effort.
func (m *Manager) postEscalationComment(ctx context.Context, a *models.Agent) {
	target := a.PRID
	if target == nil {
		target = a.IssueID
	}
	if target == nil || m.platform == nil {
		return
	}
	msg := fmt.Sprintf("Agent `%s` (role `%s`) was escalated and requires attention.", a.ID, a.Role)
	if _, err := m.platform.CreateComment(ctx, *target, msg); err != nil {
		slog.Warn("posting escalation comment failed", "agent_id", a.ID, "error", err)
	}
}

// ReportBlocked is called by the tool-execution layer when the agent invokes
// its blocking tool in-turn. It persists SLEEPING plus the blocker set
// before the turn itself returns, so the post-turn dispatch's re-read
// observes the transition per spec §4.6.
func (m *Manager) ReportBlocked(ctx context.Context, agentIDStr string, blockedOnIssueIDs []int64) error {
	a, err := m.reg.GetAgent(ctx, agentIDStr)
	if err != nil {
		return fmt.Errorf("loading agent %s to report blocked: %w", agentIDStr, err)
	}
	for _, issueID := range blockedOnIssueIDs {
		if err := m.reg.AddBlocker(ctx, agentIDStr, issueID); err != nil {
			return fmt.Errorf("recording blocker %d for %s: %w", issueID, agentIDStr, err)
		}
	}
	now := time.Now()
	a.Status = models.AgentStatusSleeping
	a.SleepingSince = &now
	a.ActiveSince = nil
	return m.reg.UpdateAgent(ctx, a)
}

// ReportComplete is called by the tool-execution layer when the agent
// invokes its completion tool in-turn.
func (m *Manager) ReportComplete(ctx context.Context, agentIDStr string) error {
	a, err := m.reg.GetAgent(ctx, agentIDStr)
	if err != nil {
		return fmt.Errorf("loading agent %s to report complete: %w", agentIDStr, err)
	}
	a.Status = models.AgentStatusCompleted
	a.ActiveSince = nil
	return m.reg.UpdateAgent(ctx, a)
}

// ToolHook returns the watchdog-backed pre/post tool hook for a running
// agent task, or false if no task is currently scheduled for it (e.g. the
// agent is sleeping).
func (m *Manager) ToolHook(agentIDStr string) (collaborators.ToolHook, bool) {
	t, ok := m.getTask(agentIDStr)
	if !ok {
		return nil, false
	}
	return &taskToolHook{manager: m, agentID: agentIDStr, tracker: t.tracker}, true
}

type taskToolHook struct {
	manager *Manager
	agentID string
	tracker *watchdog.ToolCallTracker
}

func (h *taskToolHook) PreTool(ctx context.Context, agentIDStr, toolName string) (collaborators.ToolHookDecision, error) {
	allow, escalate := h.tracker.PreTool(ctx, agentIDStr)
	if escalate {
		h.manager.escalate(ctx, agentIDStr, "tool-call cap exceeded")
	}
	if !allow {
		return collaborators.ToolHookDecision{Allow: false, Reason: "tool-call cap exceeded"}, nil
	}
	return collaborators.ToolHookDecision{Allow: true}, nil
}

func (h *taskToolHook) PostTool(ctx context.Context, agentIDStr, toolName string, duration time.Duration) {}
