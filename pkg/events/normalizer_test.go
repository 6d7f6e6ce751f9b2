package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nbaertsch/squadron/pkg/models"
)

func TestNormalize_KnownEventTypes(t *testing.T) {
	cases := []struct {
		name       string
		eventType  string
		action     string
		wantType   models.EventType
	}{
		{"issue opened", "issues", "opened", models.EventIssueOpened},
		{"issue assigned", "issues", "assigned", models.EventIssueAssigned},
		{"issue closed", "issues", "closed", models.EventIssueClosed},
		{"issue labeled", "issues", "labeled", models.EventIssueLabeled},
		{"issue comment", "issue_comment", "created", models.EventIssueComment},
		{"pr opened", "pull_request", "opened", models.EventPROpened},
		{"pr synchronize", "pull_request", "synchronize", models.EventPRSynchronize},
		{"pr closed", "pull_request", "closed", models.EventPRClosed},
		{"pr review submitted", "pull_request_review", "submitted", models.EventPRReviewSubmitted},
		{"pr review comment", "pull_request_review_comment", "created", models.EventPRReviewComment},
		{"wake agent", "workflow", "wake_agent", models.EventWakeAgent},
		{"blocker resolved", "workflow", "blocker_resolved", models.EventBlockerResolved},
		{"workflow internal", "workflow", "internal", models.EventWorkflowInternal},
		{"unrecognized", "deployment_status", "success", models.EventUnknown},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			evt := Normalize(RawWebhook{
				EventType:  tc.eventType,
				Action:     tc.action,
				DeliveryID: "d-1",
				Payload:    map[string]any{},
			})
			assert.Equal(t, tc.wantType, evt.Type)
			assert.Equal(t, "d-1", evt.DeliveryID)
		})
	}
}

func TestNormalize_ExtractsIssueAndPRIDs(t *testing.T) {
	evt := Normalize(RawWebhook{
		EventType: "issues",
		Action:    "assigned",
		Payload: map[string]any{
			"issue_number": 42,
			"sender_login": "alice",
		},
	})

	require.NotNil(t, evt.IssueID)
	assert.EqualValues(t, 42, *evt.IssueID)
	assert.Equal(t, "alice", evt.Sender)
	assert.Nil(t, evt.PRID)
}

func TestNormalize_PRReviewSubmittedCarriesReviewPayload(t *testing.T) {
	evt := Normalize(RawWebhook{
		EventType: "pull_request_review",
		Action:    "submitted",
		Payload: map[string]any{
			"pr_number":    7,
			"review_state": "approved",
			"review_id":    "rev-9",
			"review_body":  "LGTM",
		},
	})

	require.NotNil(t, evt.Review)
	assert.Equal(t, models.ReviewStateApproved, evt.Review.State)
	assert.Equal(t, "rev-9", evt.Review.ReviewID)
	assert.Equal(t, "LGTM", evt.Review.Body)
}

func TestNormalize_IssueCommentParsesCommand(t *testing.T) {
	evt := Normalize(RawWebhook{
		EventType: "issue_comment",
		Action:    "created",
		Payload: map[string]any{
			"comment_id":   int64(5),
			"comment_body": "@squadron-bot feat-dev: please rebase",
		},
	})

	require.NotNil(t, evt.Comment)
	assert.Equal(t, "@squadron-bot feat-dev: please rebase", evt.Comment.Body)
	require.NotNil(t, evt.Command)
	assert.False(t, evt.Command.Help)
	assert.Equal(t, "feat-dev", evt.Command.Role)
	assert.Equal(t, "please rebase", evt.Command.Message)
}

func TestNormalize_IssueCommentWithoutCommandLeavesCommandNil(t *testing.T) {
	evt := Normalize(RawWebhook{
		EventType: "issue_comment",
		Action:    "created",
		Payload: map[string]any{
			"comment_body": "just a regular comment",
		},
	})

	require.NotNil(t, evt.Comment)
	assert.Nil(t, evt.Command)
}

func TestParseCommand_Help(t *testing.T) {
	cmd := ParseCommand("@squadron-bot help")
	require.NotNil(t, cmd)
	assert.True(t, cmd.Help)
}

func TestParseCommand_NoMention(t *testing.T) {
	cmd := ParseCommand("feat-dev: do the thing")
	assert.Nil(t, cmd)
}
