// Package agent implements the Lifecycle Manager: the single authority over
// agent creation, waking, completion, prompt construction, command routing,
// and the post-turn state machine described in spec §4.6.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nbaertsch/squadron/pkg/collaborators"
	"github.com/nbaertsch/squadron/pkg/config"
	"github.com/nbaertsch/squadron/pkg/mail"
	"github.com/nbaertsch/squadron/pkg/models"
	"github.com/nbaertsch/squadron/pkg/registry"
	"github.com/nbaertsch/squadron/pkg/watchdog"
)

var (
	// ErrSingletonActive is returned by CreateAgent when a singleton role
	// already has a non-terminal agent; callers should redirect the trigger
	// as Mail to the active agent instead of spawning a duplicate.
	ErrSingletonActive = errors.New("agent: singleton role already active")
	// ErrDuplicateAgent is returned by CreateAgent when a non-terminal agent
	// already exists for (role, issue).
	ErrDuplicateAgent = errors.New("agent: non-terminal agent already exists for role and issue")
	// ErrNotSleeping is returned by WakeAgent when the target agent is not
	// currently SLEEPING.
	ErrNotSleeping = errors.New("agent: wake requires a sleeping agent")
)

// turnTimeout bounds every send_prompt_and_await_turn call, per spec §5.
const turnTimeout = 15 * time.Minute

// heartbeatInterval is the default stall-detector tick, absent a per-role
// override (none is currently exposed in config; spec names 30s as typical).
const heartbeatInterval = 30 * time.Second

// Manager is the Lifecycle Manager. One instance owns every agent's inbox,
// mail queue, session handle, async task, watchdog, and heartbeat for the
// life of the process.
type Manager struct {
	reg      *registry.Registry
	cfg      *config.Config
	mailCtr  *mail.Center
	platform collaborators.PlatformAPI
	sessions collaborators.LLMSessionFactory
	git      collaborators.GitWorktree
	sandbox  collaborators.Sandbox
	logger   collaborators.ActivityLogger

	// sem is the global concurrency limiter; nil means unlimited.
	sem chan struct{}

	mu    sync.Mutex
	tasks map[string]*agentTask

	workflowCallback WorkflowNotifier
}

// WorkflowNotifier is the narrow slice of the Pipeline Engine the Lifecycle
// Manager calls back into whenever an agent it spawned for a pipeline stage
// (agent id prefixed "wf-") reaches a terminal status — spec §3's "the
// Lifecycle Manager reports agent terminal outcomes back into the engine".
type WorkflowNotifier interface {
	OnAgentTerminal(ctx context.Context, agentID string, status models.AgentStatus) error
}

// agentTask holds everything the Manager needs to manage one running agent's
// goroutines: its LLM session handle, cancellation, and stop signals for the
// watchdog/heartbeat pair.
type agentTask struct {
	session       collaborators.LLMSession
	tracker       *watchdog.ToolCallTracker
	cancel        context.CancelFunc
	done          chan struct{}
	stopHeartbeat chan struct{}
}

// New builds a Lifecycle Manager. platform/sessions/git/sandbox/logger are
// the external collaborators (spec §6); sandbox may be a no-op implementation
// when sandboxing is disabled.
func New(cfg *config.Config, reg *registry.Registry, mailCtr *mail.Center,
	platform collaborators.PlatformAPI, sessions collaborators.LLMSessionFactory,
	git collaborators.GitWorktree, sandbox collaborators.Sandbox, logger collaborators.ActivityLogger) *Manager {

	var sem chan struct{}
	if cfg.Runtime.MaxConcurrentAgents > 0 {
		sem = make(chan struct{}, cfg.Runtime.MaxConcurrentAgents)
	}

	return &Manager{
		reg:      reg,
		cfg:      cfg,
		mailCtr:  mailCtr,
		platform: platform,
		sessions: sessions,
		git:      git,
		sandbox:  sandbox,
		logger:   logger,
		sem:      sem,
		tasks:    make(map[string]*agentTask),
	}
}

// SetWorkflowNotifier wires the Pipeline Engine's terminal-status callback in
// after both components are constructed (cmd/squadron/main.go breaks the
// construction cycle this way, since the Engine itself depends on the
// Manager through the narrower AgentSpawner interface).
func (m *Manager) SetWorkflowNotifier(cb WorkflowNotifier) {
	m.workflowCallback = cb
}

func (m *Manager) notifyWorkflowTerminal(ctx context.Context, agentIDStr string, status models.AgentStatus) {
	if m.workflowCallback == nil || !isWorkflowAgentID(agentIDStr) {
		return
	}
	if err := m.workflowCallback.OnAgentTerminal(ctx, agentIDStr, status); err != nil {
		slog.Error("notifying pipeline engine of agent terminal status failed",
			"agent_id", agentIDStr, "status", status, "error", err)
	}
}

// acquireSlot blocks until a global concurrency slot is available or ctx is
// cancelled. A nil sem means the limiter is disabled.
func (m *Manager) acquireSlot(ctx context.Context) error {
	if m.sem == nil {
		return nil
	}
	select {
	case m.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) releaseSlot() {
	if m.sem == nil {
		return
	}
	select {
	case <-m.sem:
	default:
	}
}

// agentID deterministically names an agent record: role-scoped by issue so
// duplicate guards and lookups never need a secondary index.
func agentID(role string, issueID int64) string {
	return fmt.Sprintf("%s-%d", role, issueID)
}

// workflowAgentID names a Pipeline-Engine-spawned agent, scoped by run and
// stage so the same role may run concurrently across pipeline runs.
func workflowAgentID(runID, stageID string) string {
	return fmt.Sprintf("wf-%s-%s", runID, stageID)
}

func isWorkflowAgentID(id string) bool {
	return strings.HasPrefix(id, "wf-")
}

func (m *Manager) registerTask(id string, t *agentTask) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks[id] = t
}

func (m *Manager) removeTask(id string) *agentTask {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.tasks[id]
	delete(m.tasks, id)
	return t
}

func (m *Manager) getTask(id string) (*agentTask, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	return t, ok
}

// HasRunningTask reports whether this process currently holds a live turn
// task for agentID. The Reconciliation Loop uses this to tell an agent the
// Registry still lists ACTIVE/SLEEPING apart from one that is genuinely
// stale (no task survived a restart) and must be treated as a crash.
func (m *Manager) HasRunningTask(agentID string) bool {
	_, ok := m.getTask(agentID)
	return ok
}

func (m *Manager) log(ctx context.Context, event string, fields map[string]any) {
	if m.logger == nil {
		return
	}
	m.logger.Log(ctx, event, fields)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
