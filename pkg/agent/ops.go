package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/nbaertsch/squadron/pkg/config"
	"github.com/nbaertsch/squadron/pkg/models"
	"github.com/nbaertsch/squadron/pkg/registry"
	"github.com/nbaertsch/squadron/pkg/watchdog"
)

// CreateAgent implements spec §4.6's createAgent operation: resolves
// lifecycle from config, applies singleton/duplicate guards, chooses a
// branch, acquires a concurrency slot, wires up mail before the registry
// insert to close the webhook race, and spawns the agent's worktree,
// sandbox session, and LLM session.
func (m *Manager) CreateAgent(ctx context.Context, role string, issueID int64, triggerEvent string, overrideBranch string) (*models.Agent, error) {
	roleCfg, err := m.cfg.GetRole(role)
	if err != nil {
		return nil, fmt.Errorf("resolving role %s: %w", role, err)
	}

	if roleCfg.Singleton {
		existing, err := m.reg.FindNonTerminalSingleton(ctx, role)
		if err != nil && !errors.Is(err, registry.ErrAgentNotFound) {
			return nil, err
		}
		if existing != nil {
			return existing, ErrSingletonActive
		}
	} else {
		existing, err := m.reg.FindActiveByRoleIssue(ctx, role, issueID)
		if err != nil && !errors.Is(err, registry.ErrAgentNotFound) {
			return nil, err
		}
		if existing != nil {
			return existing, ErrDuplicateAgent
		}
	}

	id := agentID(role, issueID)

	if stale, err := m.reg.GetAgent(ctx, id); err == nil && stale.Status.IsTerminal() {
		if err := m.reg.DeleteAgent(ctx, id); err != nil {
			return nil, fmt.Errorf("deleting stale terminal agent %s: %w", id, err)
		}
	} else if err != nil && !errors.Is(err, registry.ErrAgentNotFound) {
		return nil, fmt.Errorf("checking for stale agent %s: %w", id, err)
	}

	branch, err := m.resolveBranch(ctx, roleCfg, issueID, overrideBranch)
	if err != nil {
		return nil, fmt.Errorf("resolving branch for %s: %w", id, err)
	}

	if err := m.acquireSlot(ctx); err != nil {
		return nil, fmt.Errorf("acquiring concurrency slot for %s: %w", id, err)
	}
	acquired := true
	defer func() {
		if acquired {
			m.releaseSlot()
		}
	}()

	// Inbox and mail queue exist before the Registry row so an event arriving
	// the instant after this insert has somewhere to land.
	m.mailCtr.Inbox(id)
	m.mailCtr.Queue(id)

	a := &models.Agent{
		ID:      id,
		Role:    role,
		Status:  models.AgentStatusCreated,
		IssueID: &issueID,
		Branch:  branch,
	}

	ephemeral := roleCfg.Lifecycle == config.LifecycleEphemeral
	if !ephemeral {
		path, err := m.git.CreateWorktree(ctx, branch, m.cfg.Runtime.SparseCheckout, m.cfg.Runtime.WorktreeDir)
		if err != nil {
			return nil, fmt.Errorf("creating worktree for %s: %w", id, err)
		}
		a.WorktreePath = path
	}

	if err := m.sandbox.CreateSession(ctx, id); err != nil {
		m.log(ctx, "sandbox_session_failed", map[string]any{"agent_id": id, "error": err.Error()})
	}

	// The session id is the agent id: LLMSessionFactory doesn't mint its own
	// identifier, and a stable 1:1 mapping is all resumeSession needs.
	session, err := m.sessions.CreateSession(ctx, map[string]any{
		"agent_id": id, "role": role, "model": m.cfg.Runtime.DefaultModel, "provider": m.cfg.Runtime.Provider,
	})
	if err != nil {
		if !ephemeral {
			_ = m.git.RemoveWorktree(ctx, a.WorktreePath)
		}
		return nil, fmt.Errorf("creating llm session for %s: %w", id, err)
	}
	a.SessionID = id

	now := time.Now()
	a.ActiveSince = &now
	a.Status = models.AgentStatusActive

	if err := m.reg.CreateAgent(ctx, a); err != nil {
		_ = session.Stop()
		if !ephemeral {
			_ = m.git.RemoveWorktree(ctx, a.WorktreePath)
		}
		return nil, fmt.Errorf("inserting agent %s: %w", id, err)
	}

	prompt, err := m.freshPrompt(ctx, roleCfg, a, issueID, triggerEvent)
	if err != nil {
		m.log(ctx, "prompt_construction_failed", map[string]any{"agent_id": id, "error": err.Error()})
	}

	acquired = false // ownership of the slot transfers to the scheduled task
	m.scheduleTurn(ctx, a, roleCfg, session, prompt)

	return a, nil
}

// WakeAgent implements spec §4.6's wakeAgent: requires SLEEPING, acquires a
// slot, transitions to ACTIVE, increments iteration_count, recreates the
// sandbox session torn down on sleep, and resumes the persistent session
// with a wake prompt derived from the trigger.
func (m *Manager) WakeAgent(ctx context.Context, agentIDStr string, triggerEvent string) (*models.Agent, error) {
	a, err := m.reg.GetAgent(ctx, agentIDStr)
	if err != nil {
		return nil, fmt.Errorf("loading agent %s to wake: %w", agentIDStr, err)
	}
	if !a.IsSleeping() {
		return nil, ErrNotSleeping
	}

	roleCfg, err := m.cfg.GetRole(a.Role)
	if err != nil {
		return nil, fmt.Errorf("resolving role %s: %w", a.Role, err)
	}

	if err := m.acquireSlot(ctx); err != nil {
		return nil, fmt.Errorf("acquiring concurrency slot to wake %s: %w", agentIDStr, err)
	}
	acquired := true
	defer func() {
		if acquired {
			m.releaseSlot()
		}
	}()

	if err := m.sandbox.CreateSession(ctx, a.ID); err != nil {
		m.log(ctx, "sandbox_session_failed", map[string]any{"agent_id": a.ID, "error": err.Error()})
	}

	session, err := m.sessions.ResumeSession(ctx, a.SessionID, map[string]any{"agent_id": a.ID, "role": a.Role})
	if err != nil {
		return nil, fmt.Errorf("resuming session for %s: %w", agentIDStr, err)
	}

	now := time.Now()
	a.ActiveSince = &now
	a.SleepingSince = nil
	a.Status = models.AgentStatusActive
	a.IterationCount++

	if err := m.reg.UpdateAgent(ctx, a); err != nil {
		_ = session.Stop()
		return nil, fmt.Errorf("persisting wake for %s: %w", agentIDStr, err)
	}

	prompt := m.wakePrompt(a, triggerEvent)

	acquired = false
	m.scheduleTurn(ctx, a, roleCfg, session, prompt)

	return a, nil
}

// CompleteAgent implements spec §4.6's completeAgent: called by the
// reconciliation loop when the underlying issue/PR changed state out from
// under the agent. Cancels the task, transitions to COMPLETED, preserves the
// branch, and releases resources.
func (m *Manager) CompleteAgent(ctx context.Context, agentIDStr string) error {
	a, err := m.reg.GetAgent(ctx, agentIDStr)
	if err != nil {
		return fmt.Errorf("loading agent %s to complete: %w", agentIDStr, err)
	}

	if t := m.removeTask(agentIDStr); t != nil {
		t.cancel()
		close(t.stopHeartbeat)
	}

	a.Status = models.AgentStatusCompleted
	a.ActiveSince = nil
	if err := m.reg.UpdateAgent(ctx, a); err != nil {
		return fmt.Errorf("marking agent %s completed: %w", agentIDStr, err)
	}

	m.cleanupTerminal(ctx, a)
	m.notifyWorkflowTerminal(ctx, a.ID, a.Status)
	return nil
}

// EscalateAgent forces a non-terminal agent straight to ESCALATED. Used by
// the reconciliation loop when it finds an agent whose primary watchdog
// should have fired but didn't (the process that owned it died, or its
// timer never ran) — the loop is standing in for the watchdog here, so it
// needs the same "no task survives this" transition the watchdog itself
// uses, just reachable from outside the agent package.
func (m *Manager) EscalateAgent(ctx context.Context, agentIDStr string, reason string) error {
	a, err := m.reg.GetAgent(ctx, agentIDStr)
	if err != nil {
		return fmt.Errorf("loading agent %s to escalate: %w", agentIDStr, err)
	}
	if a.Status.IsTerminal() {
		return nil
	}
	if t := m.removeTask(agentIDStr); t != nil {
		t.cancel()
		close(t.stopHeartbeat)
	}
	a.Status = models.AgentStatusEscalated
	a.ActiveSince = nil
	if err := m.reg.UpdateAgent(ctx, a); err != nil {
		return fmt.Errorf("marking agent %s escalated: %w", agentIDStr, err)
	}
	m.log(ctx, "agent_escalated", map[string]any{"agent_id": agentIDStr, "reason": reason})
	m.cleanupTerminal(ctx, a)
	m.postEscalationComment(ctx, a)
	m.notifyWorkflowTerminal(ctx, a.ID, a.Status)
	return nil
}

// SpawnWorkflowAgent is the Pipeline Engine's variant of createAgent: the
// agent id includes the run and stage, and worktree creation is skipped —
// reviewer-style workflow agents run from the repo root.
func (m *Manager) SpawnWorkflowAgent(ctx context.Context, role string, issueID, prID int64, runID, stageID, action string) (*models.Agent, error) {
	roleCfg, err := m.cfg.GetRole(role)
	if err != nil {
		return nil, fmt.Errorf("resolving role %s: %w", role, err)
	}

	id := workflowAgentID(runID, stageID)
	if stale, err := m.reg.GetAgent(ctx, id); err == nil && stale.Status.IsTerminal() {
		_ = m.reg.DeleteAgent(ctx, id)
	}

	if err := m.acquireSlot(ctx); err != nil {
		return nil, fmt.Errorf("acquiring concurrency slot for %s: %w", id, err)
	}
	acquired := true
	defer func() {
		if acquired {
			m.releaseSlot()
		}
	}()

	m.mailCtr.Inbox(id)
	m.mailCtr.Queue(id)

	a := &models.Agent{
		ID:      id,
		Role:    role,
		Status:  models.AgentStatusCreated,
		IssueID: &issueID,
		PRID:    &prID,
	}

	if err := m.sandbox.CreateSession(ctx, id); err != nil {
		m.log(ctx, "sandbox_session_failed", map[string]any{"agent_id": id, "error": err.Error()})
	}

	session, err := m.sessions.CreateSession(ctx, map[string]any{
		"agent_id": id, "role": role, "action": action,
	})
	if err != nil {
		return nil, fmt.Errorf("creating llm session for %s: %w", id, err)
	}
	a.SessionID = id

	now := time.Now()
	a.ActiveSince = &now
	a.Status = models.AgentStatusActive

	if err := m.reg.CreateAgent(ctx, a); err != nil {
		_ = session.Stop()
		return nil, fmt.Errorf("inserting workflow agent %s: %w", id, err)
	}

	prompt := m.ephemeralPrompt(roleCfg, a, issueID, prID, action)

	acquired = false
	m.scheduleTurn(ctx, a, roleCfg, session, prompt)

	return a, nil
}

// resolveBranch applies spec §4.6's precedence: override -> existing open PR
// for the issue -> role branch template -> default template.
func (m *Manager) resolveBranch(ctx context.Context, roleCfg *config.AgentRoleConfig, issueID int64, overrideBranch string) (string, error) {
	if overrideBranch != "" {
		return overrideBranch, nil
	}
	if branch, ok, err := m.platform.FindOpenPRForIssue(ctx, issueID); err != nil {
		return "", fmt.Errorf("checking for existing open PR on issue %d: %w", issueID, err)
	} else if ok {
		return branch, nil
	}
	if roleCfg.BranchTemplate != "" {
		return strings.ReplaceAll(roleCfg.BranchTemplate, "{issue_number}", strconv.FormatInt(issueID, 10)), nil
	}
	return fmt.Sprintf("%s/issue-%d", m.cfg.BranchNaming.Feature, issueID), nil
}

// cleanupTerminal releases every resource owned by a terminal agent: LLM
// session, sandbox session, worktree, and mail structures. The inbox is
// drained before being forgotten so any pending events can be re-issued.
// Best-effort — failures are logged, never propagated, since the agent is
// already terminal.
func (m *Manager) cleanupTerminal(ctx context.Context, a *models.Agent) {
	if a.SessionID != "" {
		if err := m.sessions.DeleteSession(ctx, a.SessionID); err != nil {
			slog.Warn("deleting llm session failed", "agent_id", a.ID, "error", err)
		}
	}
	if err := m.sandbox.TeardownSession(ctx, a.ID); err != nil {
		slog.Warn("tearing down sandbox session failed", "agent_id", a.ID, "error", err)
	}
	if a.WorktreePath != "" {
		if err := m.git.RemoveWorktree(ctx, a.WorktreePath); err != nil {
			slog.Warn("removing worktree failed", "agent_id", a.ID, "path", a.WorktreePath, "error", err)
		}
	}
	pending := m.mailCtr.Inbox(a.ID).Drain()
	m.mailCtr.Forget(a.ID)
	m.respawnPendingInbox(ctx, a, pending)

	m.releaseSlot()
}

// respawnPendingInbox re-issues events still sitting in a terminal agent's
// inbox as fresh spawn requests, per spec §4.5: an ephemeral singleton
// role's replacement still needs a chance to react to whatever arrived
// while the old instance was wrapping up, rather than losing it silently.
func (m *Manager) respawnPendingInbox(ctx context.Context, a *models.Agent, pending []models.Event) {
	if len(pending) == 0 {
		return
	}
	roleCfg, err := m.cfg.GetRole(a.Role)
	if err != nil || roleCfg.Lifecycle != config.LifecycleEphemeral || !roleCfg.Singleton {
		return
	}
	for _, evt := range pending {
		issueID := a.IssueID
		if evt.IssueID != nil {
			issueID = evt.IssueID
		}
		if issueID == nil {
			continue
		}
		if err := m.fireSpawn(ctx, a.Role, *issueID, evt); err != nil {
			slog.Warn("respawning drained inbox event failed", "agent_id", a.ID, "role", a.Role, "error", err)
		}
	}
}

// persistToolCallCount is the ToolCallTracker's bounded-write-amplification
// persist callback: it re-reads the agent row so concurrent turn-count
// updates from the post-turn machine are never clobbered.
func (m *Manager) persistToolCallCount(ctx context.Context, agentIDStr string, count int) error {
	a, err := m.reg.GetAgent(ctx, agentIDStr)
	if err != nil {
		return err
	}
	a.ToolCallCount = count
	return m.reg.UpdateAgent(ctx, a)
}

func (m *Manager) newToolCallTracker(agentIDStr string, cb config.CircuitBreakerConfig) *watchdog.ToolCallTracker {
	return watchdog.NewToolCallTracker(cb.MaxToolCalls, cb.WarningThreshold, 10,
		func(ctx context.Context, count int) error {
			return m.persistToolCallCount(ctx, agentIDStr, count)
		})
}
