package agent

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/stretchr/testify/require"

	"github.com/nbaertsch/squadron/pkg/collaborators"
	"github.com/nbaertsch/squadron/pkg/config"
	"github.com/nbaertsch/squadron/pkg/mail"
	"github.com/nbaertsch/squadron/pkg/models"
	"github.com/nbaertsch/squadron/pkg/registry"
)

// newTestRegistry mirrors pkg/registry's own integration-test gate: skip
// unless a disposable database is configured.
func newTestRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	url := os.Getenv("SQUADRON_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("SQUADRON_TEST_DATABASE_URL not set, skipping lifecycle manager integration test")
	}
	db, err := sql.Open("pgx", url)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return registry.FromDB(db)
}

type fakePlatform struct{}

func (fakePlatform) GetIssue(ctx context.Context, issueID int64) (map[string]any, error) {
	return map[string]any{"title": "fix the thing", "body": "details", "labels": []string{"bug"}}, nil
}
func (fakePlatform) GetPullRequest(ctx context.Context, prID int64) (map[string]any, error) {
	return map[string]any{}, nil
}
func (fakePlatform) CreateComment(ctx context.Context, id int64, body string) (*collaborators.Comment, error) {
	return &collaborators.Comment{ID: "c1", Body: body}, nil
}
func (fakePlatform) ListComments(ctx context.Context, id int64) ([]collaborators.Comment, error) {
	return nil, nil
}
func (fakePlatform) SubmitReview(ctx context.Context, prID int64, state, body string) (*collaborators.Review, error) {
	return &collaborators.Review{}, nil
}
func (fakePlatform) ListReviews(ctx context.Context, prID int64) ([]collaborators.Review, error) {
	return nil, nil
}
func (fakePlatform) ListPRFiles(ctx context.Context, prID int64) ([]string, error) { return nil, nil }
func (fakePlatform) DeleteBranch(ctx context.Context, branch string) error          { return nil }
func (fakePlatform) CombinedStatus(ctx context.Context, ref string) (string, error) {
	return "success", nil
}
func (fakePlatform) MergePR(ctx context.Context, prID int64) error { return nil }
func (fakePlatform) FindOpenPRForIssue(ctx context.Context, issueID int64) (string, bool, error) {
	return "", false, nil
}

type fakeSession struct{}

func (fakeSession) SendPromptAndAwaitTurn(ctx context.Context, prompt string, timeout time.Duration) (*collaborators.SessionResult, error) {
	return &collaborators.SessionResult{Status: "ok"}, nil
}
func (fakeSession) Stop() error { return nil }

type fakeSessions struct{}

func (fakeSessions) CreateSession(ctx context.Context, cfg map[string]any) (collaborators.LLMSession, error) {
	return fakeSession{}, nil
}
func (fakeSessions) ResumeSession(ctx context.Context, id string, cfg map[string]any) (collaborators.LLMSession, error) {
	return fakeSession{}, nil
}
func (fakeSessions) DeleteSession(ctx context.Context, id string) error { return nil }

type fakeGit struct {
	worktreeDir string
	runCalls    []string
	pushCalls   []string
}

func (g *fakeGit) CreateWorktree(ctx context.Context, branch string, sparse bool, base string) (string, error) {
	return filepath.Join(g.worktreeDir, branch), nil
}
func (*fakeGit) RemoveWorktree(ctx context.Context, path string) error { return nil }
func (g *fakeGit) RunInWorktree(ctx context.Context, path string, args []string, auth string) (string, string, error) {
	g.runCalls = append(g.runCalls, path)
	return "", "", nil
}
func (g *fakeGit) Push(ctx context.Context, auth, branch string, force bool) error {
	g.pushCalls = append(g.pushCalls, branch)
	return nil
}

type fakeSandbox struct {
	createCalls   []string
	teardownCalls []string
}

func (s *fakeSandbox) CreateSession(ctx context.Context, agentID string) error {
	s.createCalls = append(s.createCalls, agentID)
	return nil
}
func (s *fakeSandbox) TeardownSession(ctx context.Context, agentID string) error {
	s.teardownCalls = append(s.teardownCalls, agentID)
	return nil
}
func (*fakeSandbox) GetWorkingDirectory(ctx context.Context, agentID string) (string, error) {
	return "", nil
}
func (*fakeSandbox) InspectDiffBeforePush(ctx context.Context, agentID string) error { return nil }

func testConfig(t *testing.T, roles map[string]*config.AgentRoleConfig) *config.Config {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "agents"), 0o755))
	for name, role := range roles {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "agents", role.AgentDefinition),
			[]byte("You are the "+name+" agent for {{.Project}}."), 0o644))
	}
	return config.NewForTest(dir, config.ProjectConfig{Name: "widget", Owner: "acme", Repo: "widget", BotUsername: "squadron-bot"},
		config.RuntimeConfig{MaxConcurrentAgents: 2, WorktreeDir: t.TempDir()},
		config.BranchNamingConfig{Feature: "feature"},
		config.CircuitBreakerConfig{MaxToolCalls: 50, MaxActiveDuration: "30m", WarningThreshold: 0.8},
		config.NewAgentRoleRegistry(roles))
}

func newManager(t *testing.T, roles map[string]*config.AgentRoleConfig) (*Manager, *registry.Registry) {
	m, reg, _, _, _ := newManagerWithFakes(t, roles)
	return m, reg
}

// newManagerWithFakes exposes the fake collaborators so tests can assert on
// sandbox/git/mail interactions directly instead of just agent state.
func newManagerWithFakes(t *testing.T, roles map[string]*config.AgentRoleConfig) (*Manager, *registry.Registry, *fakeSandbox, *fakeGit, *mail.Center) {
	reg := newTestRegistry(t)
	cfg := testConfig(t, roles)
	mailCtr := mail.NewCenter()
	sandbox := &fakeSandbox{}
	git := &fakeGit{worktreeDir: cfg.Runtime.WorktreeDir}
	m := New(cfg, reg, mailCtr, fakePlatform{}, fakeSessions{}, git, sandbox, nil)
	return m, reg, sandbox, git, mailCtr
}

func TestCreateAgent_EphemeralHappyPath(t *testing.T) {
	roles := map[string]*config.AgentRoleConfig{
		"triage": {AgentDefinition: "triage.md", Lifecycle: config.LifecycleEphemeral},
	}
	m, reg := newManager(t, roles)
	ctx := context.Background()

	a, err := m.CreateAgent(ctx, "triage", 7, "issues.opened", "")
	require.NoError(t, err)
	require.Equal(t, models.AgentStatusActive, a.Status)
	t.Cleanup(func() { _ = reg.DeleteAgent(ctx, a.ID) })

	time.Sleep(50 * time.Millisecond) // let the scheduled turn finish
}

func TestCreateAgent_DuplicateGuard(t *testing.T) {
	roles := map[string]*config.AgentRoleConfig{
		"feat-dev": {AgentDefinition: "feat-dev.md", Lifecycle: config.LifecyclePersistent},
	}
	m, reg := newManager(t, roles)
	ctx := context.Background()

	a, err := m.CreateAgent(ctx, "feat-dev", 99, "issues.assigned", "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = reg.DeleteAgent(ctx, a.ID) })

	_, err = m.CreateAgent(ctx, "feat-dev", 99, "issues.assigned", "")
	require.ErrorIs(t, err, ErrDuplicateAgent)
}

func TestWakeAgent_RequiresSleeping(t *testing.T) {
	roles := map[string]*config.AgentRoleConfig{
		"feat-dev": {AgentDefinition: "feat-dev.md", Lifecycle: config.LifecyclePersistent},
	}
	m, reg := newManager(t, roles)
	ctx := context.Background()

	a, err := m.CreateAgent(ctx, "feat-dev", 55, "issues.assigned", "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = reg.DeleteAgent(ctx, a.ID) })

	_, err = m.WakeAgent(ctx, a.ID, "workflow.wake_agent")
	require.ErrorIs(t, err, ErrNotSleeping)
}

func TestWakeAgent_RecreatesSandboxSession(t *testing.T) {
	roles := map[string]*config.AgentRoleConfig{
		"feat-dev": {AgentDefinition: "feat-dev.md", Lifecycle: config.LifecyclePersistent},
	}
	m, reg, sandbox, _, _ := newManagerWithFakes(t, roles)
	ctx := context.Background()

	a, err := m.CreateAgent(ctx, "feat-dev", 56, "issues.assigned", "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = reg.DeleteAgent(ctx, a.ID) })

	now := time.Now()
	a.Status = models.AgentStatusSleeping
	a.SleepingSince = &now
	a.ActiveSince = nil
	require.NoError(t, reg.UpdateAgent(ctx, a))
	sandbox.createCalls = nil // CreateAgent itself may have touched the sandbox

	woken, err := m.WakeAgent(ctx, a.ID, "workflow.wake_agent")
	require.NoError(t, err)
	require.Equal(t, models.AgentStatusActive, woken.Status)
	require.Contains(t, sandbox.createCalls, a.ID)

	time.Sleep(50 * time.Millisecond) // let the scheduled turn finish
}

func TestCompleteAgent_RespawnsDrainedInboxForEphemeralSingleton(t *testing.T) {
	roles := map[string]*config.AgentRoleConfig{
		"triage": {AgentDefinition: "triage.md", Lifecycle: config.LifecycleEphemeral, Singleton: true},
	}
	m, reg, _, _, mailCtr := newManagerWithFakes(t, roles)
	ctx := context.Background()

	issue := int64(57)
	a, err := m.CreateAgent(ctx, "triage", issue, "issues.opened", "")
	require.NoError(t, err)

	queuedIssue := int64(58)
	mailCtr.Inbox(a.ID).Push(models.Event{Type: models.EventIssueOpened, IssueID: &queuedIssue})

	require.NoError(t, m.CompleteAgent(ctx, a.ID))
	t.Cleanup(func() {
		_ = reg.DeleteAgent(ctx, a.ID)
		if replacement, err := reg.FindActiveByRoleIssue(ctx, "triage", queuedIssue); err == nil {
			_ = reg.DeleteAgent(ctx, replacement.ID)
		}
	})

	time.Sleep(50 * time.Millisecond) // let the respawned agent's scheduled turn finish

	replacement, err := reg.FindActiveByRoleIssue(ctx, "triage", queuedIssue)
	require.NoError(t, err, "drained inbox event should have respawned a triage agent for the queued issue")
	require.Equal(t, "triage", replacement.Role)
}

func TestPostTurn_SleepingCommitsWIPBeforeTeardown(t *testing.T) {
	roles := map[string]*config.AgentRoleConfig{
		"feat-dev": {AgentDefinition: "feat-dev.md", Lifecycle: config.LifecyclePersistent},
	}
	m, reg, sandbox, git, _ := newManagerWithFakes(t, roles)
	ctx := context.Background()

	a, err := m.CreateAgent(ctx, "feat-dev", 59, "issues.assigned", "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = reg.DeleteAgent(ctx, a.ID) })
	require.NotEmpty(t, a.WorktreePath)

	time.Sleep(50 * time.Millisecond) // let the initial scheduled turn finish first
	git.runCalls, git.pushCalls = nil, nil
	sandbox.teardownCalls = nil

	a.Status = models.AgentStatusSleeping
	m.postTurn(ctx, a)

	require.NotEmpty(t, git.runCalls, "sleeping must stage and commit WIP before teardown")
	require.Contains(t, git.pushCalls, a.Branch)
	require.Contains(t, sandbox.teardownCalls, a.ID)
}

func TestRouteCommand_SelfLoopGuard(t *testing.T) {
	roles := map[string]*config.AgentRoleConfig{
		"feat-dev": {AgentDefinition: "feat-dev.md", Lifecycle: config.LifecyclePersistent},
	}
	m, _ := newManager(t, roles)
	ctx := context.Background()

	issue := int64(1)
	evt := models.Event{
		IssueID: &issue,
		Sender:  AgentCommentIdentity("feat-dev"),
		Command: &models.Command{Role: "feat-dev", Message: "keep going"},
	}
	require.NoError(t, m.RouteCommand(ctx, evt))
}
