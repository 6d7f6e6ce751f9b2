package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nbaertsch/squadron/pkg/config"
	"github.com/nbaertsch/squadron/pkg/models"
	"github.com/nbaertsch/squadron/pkg/registry"
)

// HandleTriggerEvent implements the role-trigger half of the Event Router's
// dispatch table (spec §3): every `agent_roles[name].triggers` entry whose
// event matches evt.Type, and whose label (if any) is present on the event,
// fires its configured action against that role's agent for evt.IssueID.
// Pipeline triggers are handled separately by the Pipeline Engine.
func (m *Manager) HandleTriggerEvent(ctx context.Context, evt models.Event) error {
	if evt.IssueID == nil {
		return nil
	}
	issueID := *evt.IssueID

	matches := m.cfg.Roles.TriggersFor(string(evt.Type))
	for role, triggers := range matches {
		for _, trig := range triggers {
			if trig.Label != "" && !containsString(evt.Labels, trig.Label) {
				continue
			}
			if err := m.fireTrigger(ctx, role, issueID, trig, evt); err != nil {
				slog.Error("firing role trigger failed",
					"role", role, "action", trig.Action, "issue", issueID, "error", err)
			}
		}
	}
	return nil
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

func (m *Manager) fireTrigger(ctx context.Context, role string, issueID int64, trig config.TriggerConfig, evt models.Event) error {
	switch trig.Action {
	case config.TriggerActionSpawn:
		return m.fireSpawn(ctx, role, issueID, evt)
	case config.TriggerActionWake:
		return m.fireWake(ctx, role, issueID)
	case config.TriggerActionComplete:
		return m.fireComplete(ctx, role, issueID)
	case config.TriggerActionSleep:
		return m.fireSleep(ctx, role, issueID)
	default:
		return fmt.Errorf("unknown trigger action %q for role %s", trig.Action, role)
	}
}

// fireSpawn creates the role's agent for issueID, or, if one is already
// running (duplicate or singleton-active), redirects the event into its
// mail queue rather than spawning a second one.
func (m *Manager) fireSpawn(ctx context.Context, role string, issueID int64, evt models.Event) error {
	_, err := m.CreateAgent(ctx, role, issueID, string(evt.Type), "")
	switch {
	case errors.Is(err, ErrSingletonActive):
		active, lookupErr := m.reg.FindNonTerminalSingleton(ctx, role)
		if lookupErr != nil {
			return lookupErr
		}
		return m.pushMail(active.ID, evt, fmt.Sprintf("trigger: %s", evt.Type))
	case errors.Is(err, ErrDuplicateAgent):
		active, lookupErr := m.reg.FindActiveByRoleIssue(ctx, role, issueID)
		if lookupErr != nil {
			return lookupErr
		}
		return m.pushMail(active.ID, evt, fmt.Sprintf("trigger: %s", evt.Type))
	default:
		return err
	}
}

func (m *Manager) fireWake(ctx context.Context, role string, issueID int64) error {
	a, err := m.findRoleAgent(ctx, role, issueID)
	if err != nil || a == nil {
		return err
	}
	if a.Status != models.AgentStatusSleeping {
		return nil
	}
	_, err = m.WakeAgent(ctx, a.ID, "trigger")
	return err
}

func (m *Manager) fireComplete(ctx context.Context, role string, issueID int64) error {
	a, err := m.findRoleAgent(ctx, role, issueID)
	if err != nil || a == nil {
		return err
	}
	if a.Status.IsTerminal() {
		return nil
	}
	return m.CompleteAgent(ctx, a.ID)
}

// fireSleep puts the role's active agent to SLEEPING with no blockers —
// distinct from report_blocked, which always carries at least one. It stays
// asleep until a matching wake trigger or command arrives; the
// reconciliation loop's unblock sweep ignores agents with an empty
// blocked_by set.
func (m *Manager) fireSleep(ctx context.Context, role string, issueID int64) error {
	a, err := m.findRoleAgent(ctx, role, issueID)
	if err != nil || a == nil {
		return err
	}
	if a.Status != models.AgentStatusActive {
		return nil
	}
	return m.ReportBlocked(ctx, a.ID, nil)
}

func (m *Manager) findRoleAgent(ctx context.Context, role string, issueID int64) (*models.Agent, error) {
	roleCfg, err := m.cfg.GetRole(role)
	if err != nil {
		return nil, fmt.Errorf("resolving role %s: %w", role, err)
	}
	if roleCfg.Singleton {
		a, err := m.reg.FindNonTerminalSingleton(ctx, role)
		if errors.Is(err, registry.ErrAgentNotFound) {
			return nil, nil
		}
		return a, err
	}
	a, err := m.reg.FindActiveByRoleIssue(ctx, role, issueID)
	if errors.Is(err, registry.ErrAgentNotFound) {
		return nil, nil
	}
	return a, err
}
