package agent

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/nbaertsch/squadron/pkg/config"
	"github.com/nbaertsch/squadron/pkg/models"
)

// freshPrompt builds prompt shape 1 (spec §4.6): a system message from the
// role definition template-interpolated with project and issue variables,
// plus a user turn describing the assignment.
func (m *Manager) freshPrompt(ctx context.Context, roleCfg *config.AgentRoleConfig, a *models.Agent, issueID int64, triggerEvent string) (string, error) {
	system, err := m.renderRoleDefinition(roleCfg, map[string]any{
		"Project": m.cfg.Project.Name,
		"Repo":    m.cfg.Project.Repo,
		"Issue":   issueID,
		"Role":    a.Role,
		"Branch":  a.Branch,
	})
	if err != nil {
		return "", err
	}

	var issueBody string
	var issueTitle string
	var labels []string
	if m.platform != nil {
		if issue, err := m.platform.GetIssue(ctx, issueID); err == nil {
			issueTitle, _ = issue["title"].(string)
			issueBody, _ = issue["body"].(string)
			if ls, ok := issue["labels"].([]string); ok {
				labels = ls
			}
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s\n\n", system)
	fmt.Fprintf(&b, "## Assignment\n\nIssue #%d: %s\n\n%s\n\n", issueID, issueTitle, issueBody)
	fmt.Fprintf(&b, "Role: %s\nBranch: %s\n", a.Role, a.Branch)
	if len(labels) > 0 {
		fmt.Fprintf(&b, "Labels: %s\n", strings.Join(labels, ", "))
	}
	if branch, ok, _ := m.platform.FindOpenPRForIssue(ctx, issueID); ok {
		fmt.Fprintf(&b, "Existing PR branch: %s\n", branch)
	}

	return m.prependMail(a.ID, b.String()), nil
}

// wakePrompt builds prompt shape 2: a `Session Resumed` header, trigger
// details, an instruction to call get_pr_feedback when the wake carries
// review information, and an inbox-size hint.
func (m *Manager) wakePrompt(a *models.Agent, triggerEvent string) string {
	var b strings.Builder
	b.WriteString("## Session Resumed\n\n")
	fmt.Fprintf(&b, "Trigger: %s\n", triggerEvent)
	if triggerEvent == string(models.EventPRReviewSubmitted) {
		b.WriteString("A review was submitted on your PR. Call `get_pr_feedback` to read it before continuing.\n")
	}
	if n := m.mailCtr.Inbox(a.ID).Len(); n > 0 {
		fmt.Fprintf(&b, "%d event(s) are waiting in your inbox. Call `check_for_events` to read them.\n", n)
	}
	return m.prependMail(a.ID, b.String())
}

// ephemeralPrompt builds prompt shape 3: the full event context embedded
// directly, with no wake/resume state, used for single-shot workflow agents.
func (m *Manager) ephemeralPrompt(roleCfg *config.AgentRoleConfig, a *models.Agent, issueID, prID int64, action string) string {
	var b strings.Builder
	system, err := m.renderRoleDefinition(roleCfg, map[string]any{
		"Project": m.cfg.Project.Name,
		"Repo":    m.cfg.Project.Repo,
		"Issue":   issueID,
		"PR":      prID,
		"Role":    a.Role,
	})
	if err == nil {
		fmt.Fprintf(&b, "%s\n\n", system)
	}
	fmt.Fprintf(&b, "## Task\n\nIssue #%d, PR #%d, action: %s\n", issueID, prID, action)
	return m.prependMail(a.ID, b.String())
}

// prependMail drains the agent's pending mail queue and prepends it to a
// user turn, per spec §4.6: "Before every prompt, the pending mail queue is
// drained and prepended to the user turn."
func (m *Manager) prependMail(agentIDStr, turn string) string {
	messages := m.mailCtr.Queue(agentIDStr).Drain()
	if len(messages) == 0 {
		return turn
	}
	var b strings.Builder
	b.WriteString("## Mail\n\n")
	for _, msg := range messages {
		fmt.Fprintf(&b, "- from %s: %s\n", msg.Sender, msg.Body)
	}
	b.WriteString("\n")
	b.WriteString(turn)
	return b.String()
}

// renderRoleDefinition loads the role's agent-definition markdown file from
// the configuration directory and template-interpolates it with vars.
func (m *Manager) renderRoleDefinition(roleCfg *config.AgentRoleConfig, vars map[string]any) (string, error) {
	path := filepath.Join(m.cfg.ConfigDir(), "agents", roleCfg.AgentDefinition)
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading agent definition %s: %w", roleCfg.AgentDefinition, err)
	}
	tmpl, err := template.New(roleCfg.AgentDefinition).Parse(string(raw))
	if err != nil {
		return "", fmt.Errorf("parsing agent definition %s: %w", roleCfg.AgentDefinition, err)
	}
	var out bytes.Buffer
	if err := tmpl.Execute(&out, vars); err != nil {
		return "", fmt.Errorf("rendering agent definition %s: %w", roleCfg.AgentDefinition, err)
	}
	return out.String(), nil
}
