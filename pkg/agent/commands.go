package agent

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/nbaertsch/squadron/pkg/config"
	"github.com/nbaertsch/squadron/pkg/models"
)

// agentSenderPrefix tags comments an agent posts on its own behalf, so the
// self-loop guard in RouteCommand can recognize them without a database
// round trip.
const agentSenderPrefix = "squadron-agent:"

// AgentCommentIdentity is the sender string an agent should stamp on any
// comment it posts, so the command router's self-loop guard can recognize
// its own role.
func AgentCommentIdentity(role string) string {
	return agentSenderPrefix + role
}

// RouteCommand implements spec §4.6's command routing sub-handler for
// `@bot <role>: <message>` and `@bot help` comment directives.
func (m *Manager) RouteCommand(ctx context.Context, evt models.Event) error {
	cmd := evt.Command
	if cmd == nil {
		return nil
	}

	if cmd.Help {
		return m.postHelpTable(ctx, evt)
	}

	if senderRole, ok := strings.CutPrefix(evt.Sender, agentSenderPrefix); ok && senderRole == cmd.Role {
		return nil
	}

	roleCfg, err := m.cfg.GetRole(cmd.Role)
	if err != nil {
		return m.postUnknownRole(ctx, evt, cmd.Role)
	}

	if evt.IssueID == nil {
		return fmt.Errorf("command %q carries no issue id", cmd.Role)
	}
	issueID := *evt.IssueID

	if roleCfg.Lifecycle == config.LifecycleEphemeral && !roleCfg.Singleton {
		_, err := m.CreateAgent(ctx, cmd.Role, issueID, "command", "")
		return err
	}

	if roleCfg.Singleton {
		active, err := m.reg.FindNonTerminalSingleton(ctx, cmd.Role)
		if err == nil && active != nil {
			return m.pushMail(active.ID, evt, cmd.Message)
		}
		_, err = m.CreateAgent(ctx, cmd.Role, issueID, "command", "")
		return err
	}

	existing, err := m.reg.FindActiveByRoleIssue(ctx, cmd.Role, issueID)
	if err == nil && existing != nil {
		switch existing.Status {
		case models.AgentStatusSleeping:
			_, err := m.WakeAgent(ctx, existing.ID, "command")
			return err
		case models.AgentStatusActive, models.AgentStatusCreated:
			return m.pushMail(existing.ID, evt, cmd.Message)
		}
	}

	_, err = m.CreateAgent(ctx, cmd.Role, issueID, "command", "")
	return err
}

func (m *Manager) pushMail(agentIDStr string, evt models.Event, message string) error {
	m.mailCtr.Queue(agentIDStr).Push(models.MailMessage{
		AgentID:   agentIDStr,
		Sender:    evt.Sender,
		Body:      message,
		IssueID:   evt.IssueID,
		PRID:      evt.PRID,
		CommentID: commentID(evt),
	})
	return nil
}

func commentID(evt models.Event) *int64 {
	if evt.Comment == nil {
		return nil
	}
	return &evt.Comment.CommentID
}

func (m *Manager) postHelpTable(ctx context.Context, evt models.Event) error {
	roles := m.cfg.Roles.GetAll()
	names := make([]string, 0, len(roles))
	for name := range roles {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString("| Role | Lifecycle | Singleton |\n|---|---|---|\n")
	for _, name := range names {
		r := roles[name]
		fmt.Fprintf(&b, "| %s | %s | %t |\n", name, r.Lifecycle, r.Singleton)
	}
	return m.postReply(ctx, evt, b.String())
}

func (m *Manager) postUnknownRole(ctx context.Context, evt models.Event, role string) error {
	roles := m.cfg.Roles.GetAll()
	names := make([]string, 0, len(roles))
	for name := range roles {
		names = append(names, name)
	}
	sort.Strings(names)
	msg := fmt.Sprintf("Unknown role `%s`. Available roles: %s", role, strings.Join(names, ", "))
	return m.postReply(ctx, evt, msg)
}

func (m *Manager) postReply(ctx context.Context, evt models.Event, body string) error {
	if m.platform == nil {
		return nil
	}
	target := evt.PRID
	if target == nil {
		target = evt.IssueID
	}
	if target == nil {
		return nil
	}
	_, err := m.platform.CreateComment(ctx, *target, body)
	return err
}
