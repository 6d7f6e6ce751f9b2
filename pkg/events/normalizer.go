// Package events implements the Event Normalizer: converting raw platform
// webhook payloads into the canonical models.Event the rest of the core
// operates on (spec §4.2).
package events

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/nbaertsch/squadron/pkg/models"
)

// RawWebhook is the minimal shape the (out-of-scope) webhook HTTP server
// hands the Normalizer: an event/action pair, the raw JSON payload already
// decoded into a generic map, and the delivery id from the platform's
// delivery header.
type RawWebhook struct {
	EventType  string
	Action     string
	DeliveryID string
	Payload    map[string]any
}

var commandPattern = regexp.MustCompile(`(?i)^\s*@(\S+)\s+(help|([a-zA-Z0-9_-]+)\s*:\s*(.*))$`)

// Normalize converts a raw webhook into the canonical Event. Unknown
// combinations of EventType/Action map to models.EventUnknown; the caller
// (Event Router) drops those without dispatch.
func Normalize(raw RawWebhook) models.Event {
	evt := models.Event{
		DeliveryID: raw.DeliveryID,
		Type:       mapEventType(raw.EventType, raw.Action),
		Sender:     stringField(raw.Payload, "sender_login"),
		Raw:        raw.Payload,
	}

	if id, ok := intField(raw.Payload, "issue_number"); ok {
		evt.IssueID = &id
	}
	if id, ok := intField(raw.Payload, "pr_number"); ok {
		evt.PRID = &id
	}
	if labels, ok := raw.Payload["labels"].([]string); ok {
		evt.Labels = labels
	}

	switch evt.Type {
	case models.EventPRReviewSubmitted:
		evt.Review = &models.ReviewPayload{
			State:    models.ReviewState(stringField(raw.Payload, "review_state")),
			ReviewID: stringField(raw.Payload, "review_id"),
			Body:     stringField(raw.Payload, "review_body"),
		}
	case models.EventIssueComment, models.EventPRReviewComment:
		body := stringField(raw.Payload, "comment_body")
		commentID, _ := intField(raw.Payload, "comment_id")
		evt.Comment = &models.CommentPayload{CommentID: commentID, Body: body}
		if cmd := ParseCommand(body); cmd != nil {
			evt.Command = cmd
		}
	}

	return evt
}

// ParseCommand extracts a `@bot <role>: <message>` or `@bot help` directive
// from a comment body. Returns nil if the body carries no recognizable
// command. The leading mention is not checked against a bot username, and
// the returned Command does not carry it.
func ParseCommand(body string) *models.Command {
	m := commandPattern.FindStringSubmatch(strings.TrimSpace(body))
	if m == nil {
		return nil
	}
	if strings.EqualFold(strings.TrimSpace(m[2]), "help") {
		return &models.Command{Help: true}
	}
	return &models.Command{Role: m[3], Message: strings.TrimSpace(m[4])}
}

func mapEventType(eventType, action string) models.EventType {
	key := eventType + "." + action
	switch key {
	case "issues.opened":
		return models.EventIssueOpened
	case "issues.assigned":
		return models.EventIssueAssigned
	case "issues.closed":
		return models.EventIssueClosed
	case "issues.labeled":
		return models.EventIssueLabeled
	case "issue_comment.created":
		return models.EventIssueComment
	case "pull_request.opened":
		return models.EventPROpened
	case "pull_request.synchronize":
		return models.EventPRSynchronize
	case "pull_request.closed":
		return models.EventPRClosed
	case "pull_request_review.submitted":
		return models.EventPRReviewSubmitted
	case "pull_request_review_comment.created":
		return models.EventPRReviewComment
	case "workflow.wake_agent":
		return models.EventWakeAgent
	case "workflow.blocker_resolved":
		return models.EventBlockerResolved
	case "workflow.internal":
		return models.EventWorkflowInternal
	default:
		return models.EventUnknown
	}
}

func stringField(payload map[string]any, key string) string {
	if v, ok := payload[key].(string); ok {
		return v
	}
	return ""
}

func intField(payload map[string]any, key string) (int64, bool) {
	switch v := payload[key].(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case float64:
		return int64(v), true
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}
