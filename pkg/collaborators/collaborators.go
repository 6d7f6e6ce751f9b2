// Package collaborators declares the narrow interfaces the core calls out
// to (spec §6). Concrete implementations — a real platform API client, an
// LLM session broker, sandboxed git worktrees — live outside this module's
// scope; the core only depends on these shapes.
package collaborators

import (
	"context"
	"time"
)

// Comment is a minimal platform comment record.
type Comment struct {
	ID   string
	Body string
}

// Review is a minimal platform PR review record.
type Review struct {
	ID    string
	State string
	Body  string
}

// PlatformAPI is issue/PR CRUD, comments, and reviews. All calls carry the
// 30s deadline floor from spec §5; callers pass a context already bounded
// that way.
type PlatformAPI interface {
	GetIssue(ctx context.Context, issueID int64) (map[string]any, error)
	GetPullRequest(ctx context.Context, prID int64) (map[string]any, error)
	CreateComment(ctx context.Context, issueOrPRID int64, body string) (*Comment, error)
	ListComments(ctx context.Context, issueOrPRID int64) ([]Comment, error)
	SubmitReview(ctx context.Context, prID int64, state, body string) (*Review, error)
	ListReviews(ctx context.Context, prID int64) ([]Review, error)
	ListPRFiles(ctx context.Context, prID int64) ([]string, error)
	DeleteBranch(ctx context.Context, branch string) error
	CombinedStatus(ctx context.Context, ref string) (string, error)
	MergePR(ctx context.Context, prID int64) error
	// FindOpenPRForIssue supports branch reuse for an issue that already has
	// an open PR, so createAgent doesn't open a duplicate branch.
	FindOpenPRForIssue(ctx context.Context, issueID int64) (string, bool, error)
}

// SessionResult is the outcome of one agent turn.
type SessionResult struct {
	Status       string
	ToolCalls    int
	FinalMessage string
}

// LLMSession is a bounded conversational session driving one agent.
type LLMSession interface {
	SendPromptAndAwaitTurn(ctx context.Context, prompt string, timeout time.Duration) (*SessionResult, error)
	Stop() error
}

// LLMSessionFactory creates and resumes sessions.
type LLMSessionFactory interface {
	CreateSession(ctx context.Context, config map[string]any) (LLMSession, error)
	ResumeSession(ctx context.Context, sessionID string, config map[string]any) (LLMSession, error)
	DeleteSession(ctx context.Context, sessionID string) error
}

// GitWorktree is the narrow git interface the Lifecycle Manager consumes.
// Auth tokens are injected into an ephemeral environment by the
// implementation and never exposed to the agent's own environment.
type GitWorktree interface {
	CreateWorktree(ctx context.Context, branch string, sparse bool, worktreeBase string) (path string, err error)
	RemoveWorktree(ctx context.Context, path string) error
	RunInWorktree(ctx context.Context, path string, args []string, authToken string) (stdout, stderr string, err error)
	Push(ctx context.Context, authToken, branch string, force bool) error
}

// Sandbox is optional process isolation. All methods are no-ops when the
// sandbox is disabled in runtime config.
type Sandbox interface {
	CreateSession(ctx context.Context, agentID string) error
	TeardownSession(ctx context.Context, agentID string) error
	GetWorkingDirectory(ctx context.Context, agentID string) (string, error)
	InspectDiffBeforePush(ctx context.Context, agentID string) error
}

// ToolHook is invoked around every tool call an agent session makes.
type ToolHookDecision struct {
	Allow  bool
	Reason string
}

type ToolHook interface {
	PreTool(ctx context.Context, agentID, toolName string) (ToolHookDecision, error)
	PostTool(ctx context.Context, agentID, toolName string, duration time.Duration)
}

// ActivityLogger is an append-only observability sink. Failures here are
// always swallowed by callers — never a correctness dependency.
type ActivityLogger interface {
	Log(ctx context.Context, event string, fields map[string]any)
}
