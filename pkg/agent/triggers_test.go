package agent

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nbaertsch/squadron/pkg/config"
	"github.com/nbaertsch/squadron/pkg/models"
)

func TestHandleTriggerEvent_SpawnsConfiguredRole(t *testing.T) {
	roles := map[string]*config.AgentRoleConfig{
		"triage": {
			AgentDefinition: "triage.md",
			Lifecycle:       config.LifecycleEphemeral,
			Triggers: []config.TriggerConfig{
				{Event: "issues.opened", Action: config.TriggerActionSpawn},
			},
		},
	}
	m, reg := newManager(t, roles)
	ctx := context.Background()

	issue := int64(42)
	evt := models.Event{Type: models.EventIssueOpened, IssueID: &issue}
	require.NoError(t, m.HandleTriggerEvent(ctx, evt))

	a, err := reg.FindActiveByRoleIssue(ctx, "triage", issue)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reg.DeleteAgent(ctx, a.ID) })

	time.Sleep(50 * time.Millisecond) // let the scheduled turn finish
}

func TestHandleTriggerEvent_LabelFilterSkipsNonMatchingLabel(t *testing.T) {
	roles := map[string]*config.AgentRoleConfig{
		"triage": {
			AgentDefinition: "triage.md",
			Lifecycle:       config.LifecycleEphemeral,
			Triggers: []config.TriggerConfig{
				{Event: "issues.labeled", Label: "needs-triage", Action: config.TriggerActionSpawn},
			},
		},
	}
	m, reg := newManager(t, roles)
	ctx := context.Background()

	issue := int64(7)
	evt := models.Event{Type: models.EventIssueLabeled, IssueID: &issue, Labels: []string{"bug"}}
	require.NoError(t, m.HandleTriggerEvent(ctx, evt))

	_, err := reg.FindActiveByRoleIssue(ctx, "triage", issue)
	require.Error(t, err)
}

func TestHandleTriggerEvent_DuplicateSpawnRedirectsToMail(t *testing.T) {
	roles := map[string]*config.AgentRoleConfig{
		"feat-dev": {
			AgentDefinition: "feat-dev.md",
			Lifecycle:       config.LifecyclePersistent,
			Triggers: []config.TriggerConfig{
				{Event: "issue_comment.created", Action: config.TriggerActionSpawn},
			},
		},
	}
	m, reg := newManager(t, roles)
	ctx := context.Background()

	issue := int64(21)
	a, err := m.CreateAgent(ctx, "feat-dev", issue, "issues.assigned", "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = reg.DeleteAgent(ctx, a.ID) })

	evt := models.Event{Type: models.EventIssueComment, IssueID: &issue}
	require.NoError(t, m.HandleTriggerEvent(ctx, evt))

	msg := m.mailCtr.Queue(a.ID).Drain()
	require.Len(t, msg, 1)
}

func TestHandleTriggerEvent_WakeFiresOnlyWhenSleeping(t *testing.T) {
	roles := map[string]*config.AgentRoleConfig{
		"feat-dev": {
			AgentDefinition: "feat-dev.md",
			Lifecycle:       config.LifecyclePersistent,
			Triggers: []config.TriggerConfig{
				{Event: "pull_request_review.submitted", Action: config.TriggerActionWake},
			},
		},
	}
	m, reg := newManager(t, roles)
	ctx := context.Background()

	issue := int64(88)
	a, err := m.CreateAgent(ctx, "feat-dev", issue, "issues.assigned", "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = reg.DeleteAgent(ctx, a.ID) })

	require.NoError(t, m.ReportBlocked(ctx, a.ID, nil))

	evt := models.Event{Type: models.EventPRReviewSubmitted, IssueID: &issue}
	require.NoError(t, m.HandleTriggerEvent(ctx, evt))

	time.Sleep(50 * time.Millisecond)
	updated, err := reg.GetAgent(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, models.AgentStatusActive, updated.Status)
}
