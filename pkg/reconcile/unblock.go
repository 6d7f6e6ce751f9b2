package reconcile

import (
	"context"
	"log/slog"

	"github.com/nbaertsch/squadron/pkg/models"
)

// resumeIfUnblocked implements spec §4.9's third responsibility: an agent
// SLEEPING on one or more blocker issues is woken once every one of them has
// closed. Partial resolution (some blockers closed, not all) just shrinks
// blocked_by without waking the agent yet.
func (l *Loop) resumeIfUnblocked(ctx context.Context, a *models.Agent) {
	if !a.IsSleeping() || len(a.BlockedBy) == 0 {
		return
	}
	if l.platform == nil {
		return
	}

	var remaining []int64
	for _, issueID := range a.BlockedBy {
		issue, err := l.platform.GetIssue(ctx, issueID)
		if err != nil {
			slog.Warn("reconciliation: fetching blocker issue failed", "agent_id", a.ID, "issue", issueID, "error", err)
			remaining = append(remaining, issueID)
			continue
		}
		if issueClosed(issue) {
			if err := l.reg.RemoveBlocker(ctx, a.ID, issueID); err != nil {
				slog.Error("reconciliation: clearing blocker failed", "agent_id", a.ID, "issue", issueID, "error", err)
				remaining = append(remaining, issueID)
			}
			continue
		}
		remaining = append(remaining, issueID)
	}

	if len(remaining) > 0 {
		return
	}

	if _, err := l.manager.WakeAgent(ctx, a.ID, "blocker_resolved"); err != nil {
		slog.Error("reconciliation: waking unblocked agent failed", "agent_id", a.ID, "error", err)
	}
}
