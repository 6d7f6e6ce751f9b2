package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/nbaertsch/squadron/pkg/collaborators"
)

// The platform API client, LLM session broker, and sandbox runtime are out
// of scope (spec §1 non-goals) — this module only depends on the narrow
// collaborator interfaces in pkg/collaborators. The stand-ins below let the
// binary wire and run the core end to end against a real database without
// a real source-hosting platform or LLM provider behind it; swap them for
// real clients to go from core-only to a working deployment.

// noopPlatform answers every PlatformAPI call with empty, "nothing to do"
// data. Issues and PRs always read back open and unassigned, so the
// reconciliation loop never completes an agent out from under a manual test.
type noopPlatform struct{}

func (noopPlatform) GetIssue(_ context.Context, issueID int64) (map[string]any, error) {
	return map[string]any{"state": "open"}, nil
}
func (noopPlatform) GetPullRequest(_ context.Context, prID int64) (map[string]any, error) {
	return map[string]any{"state": "open", "merged": false}, nil
}
func (noopPlatform) CreateComment(_ context.Context, id int64, body string) (*collaborators.Comment, error) {
	slog.Info("platform stub: create comment", "target", id, "body", body)
	return &collaborators.Comment{ID: fmt.Sprintf("stub-%d", id), Body: body}, nil
}
func (noopPlatform) ListComments(_ context.Context, _ int64) ([]collaborators.Comment, error) {
	return nil, nil
}
func (noopPlatform) SubmitReview(_ context.Context, _ int64, state, body string) (*collaborators.Review, error) {
	return &collaborators.Review{State: state, Body: body}, nil
}
func (noopPlatform) ListReviews(_ context.Context, _ int64) ([]collaborators.Review, error) {
	return nil, nil
}
func (noopPlatform) ListPRFiles(_ context.Context, _ int64) ([]string, error) { return nil, nil }
func (noopPlatform) DeleteBranch(_ context.Context, branch string) error {
	slog.Info("platform stub: delete branch", "branch", branch)
	return nil
}
func (noopPlatform) CombinedStatus(_ context.Context, _ string) (string, error) {
	return "success", nil
}
func (noopPlatform) MergePR(_ context.Context, prID int64) error {
	slog.Info("platform stub: merge pr", "pr_number", prID)
	return nil
}
func (noopPlatform) FindOpenPRForIssue(_ context.Context, _ int64) (string, bool, error) {
	return "", false, nil
}

// noopSession stands in for a live LLM conversation: every turn reports
// immediate completion, so an agent created against this stub runs its
// post-turn state machine once and then sits ACTIVE awaiting real mail.
type noopSession struct{ id string }

func (s noopSession) SendPromptAndAwaitTurn(_ context.Context, _ string, _ time.Duration) (*collaborators.SessionResult, error) {
	return &collaborators.SessionResult{Status: "ok"}, nil
}
func (s noopSession) Stop() error { return nil }

type noopSessionFactory struct{}

func (noopSessionFactory) CreateSession(_ context.Context, _ map[string]any) (collaborators.LLMSession, error) {
	return noopSession{id: "stub"}, nil
}
func (noopSessionFactory) ResumeSession(_ context.Context, id string, _ map[string]any) (collaborators.LLMSession, error) {
	return noopSession{id: id}, nil
}
func (noopSessionFactory) DeleteSession(_ context.Context, _ string) error { return nil }

// localGitWorktree creates plain, unsandboxed worktree directories under
// worktreeBase and removes them again. It does not run git: RunInWorktree and
// Push only log the call they were given.
type localGitWorktree struct{}

func (localGitWorktree) CreateWorktree(_ context.Context, branch string, _ bool, worktreeBase string) (string, error) {
	path := filepath.Join(worktreeBase, branch)
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", fmt.Errorf("creating worktree directory %s: %w", path, err)
	}
	return path, nil
}
func (localGitWorktree) RemoveWorktree(_ context.Context, path string) error {
	return os.RemoveAll(path)
}
func (localGitWorktree) RunInWorktree(_ context.Context, _ string, args []string, _ string) (string, string, error) {
	slog.Info("git stub: run in worktree", "args", args)
	return "", "", nil
}
func (localGitWorktree) Push(_ context.Context, _, branch string, force bool) error {
	slog.Info("git stub: push", "branch", branch, "force", force)
	return nil
}

// noopSandbox disables process isolation entirely; every method is a no-op,
// matching the contract Sandbox documents for "sandbox disabled".
type noopSandbox struct{}

func (noopSandbox) CreateSession(_ context.Context, _ string) error   { return nil }
func (noopSandbox) TeardownSession(_ context.Context, _ string) error { return nil }
func (noopSandbox) GetWorkingDirectory(_ context.Context, _ string) (string, error) {
	return "", nil
}
func (noopSandbox) InspectDiffBeforePush(_ context.Context, _ string) error { return nil }

// slogActivityLogger adapts the Lifecycle Manager's append-only activity
// feed onto structured logging.
type slogActivityLogger struct{}

func (slogActivityLogger) Log(_ context.Context, event string, fields map[string]any) {
	args := make([]any, 0, len(fields)*2+2)
	args = append(args, "event", event)
	for k, v := range fields {
		args = append(args, k, v)
	}
	slog.Info("activity", args...)
}
