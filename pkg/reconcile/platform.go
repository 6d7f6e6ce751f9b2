package reconcile

import (
	"context"
	"log/slog"

	"github.com/nbaertsch/squadron/pkg/models"
)

// completeIfPlatformStateChanged implements spec §4.9's first responsibility:
// an agent whose issue closed, whose PR merged or closed, or whose issue was
// reassigned to a non-bot identity has nothing left to do. Reports true when
// the agent was completed (the caller should stop processing it further).
func (l *Loop) completeIfPlatformStateChanged(ctx context.Context, a *models.Agent) bool {
	if l.platform == nil {
		return false
	}

	if a.PRID != nil {
		pr, err := l.platform.GetPullRequest(ctx, *a.PRID)
		if err != nil {
			slog.Warn("reconciliation: fetching PR failed", "agent_id", a.ID, "pr", *a.PRID, "error", err)
		} else if prClosed(pr) {
			return l.complete(ctx, a, "pr closed or merged")
		}
	}

	if a.IssueID != nil {
		issue, err := l.platform.GetIssue(ctx, *a.IssueID)
		if err != nil {
			slog.Warn("reconciliation: fetching issue failed", "agent_id", a.ID, "issue", *a.IssueID, "error", err)
			return false
		}
		if issueClosed(issue) {
			return l.complete(ctx, a, "issue closed")
		}
		if assignee, ok := issue["assignee"].(string); ok && assignee != "" && assignee != l.cfg.Project.BotUsername {
			return l.complete(ctx, a, "issue reassigned to "+assignee)
		}
	}

	return false
}

func (l *Loop) complete(ctx context.Context, a *models.Agent, reason string) bool {
	if err := l.manager.CompleteAgent(ctx, a.ID); err != nil {
		slog.Error("reconciliation: completing agent failed", "agent_id", a.ID, "reason", reason, "error", err)
		return false
	}
	slog.Info("reconciliation: completed agent on platform state change", "agent_id", a.ID, "reason", reason)
	return true
}

func issueClosed(issue map[string]any) bool {
	state, _ := issue["state"].(string)
	return state == "closed"
}

func prClosed(pr map[string]any) bool {
	if merged, ok := pr["merged"].(bool); ok && merged {
		return true
	}
	state, _ := pr["state"].(string)
	return state == "closed"
}
