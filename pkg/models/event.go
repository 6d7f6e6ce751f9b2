package models

// EventType is the closed enum of canonical internal event types the Event
// Normalizer produces, per spec §4.2.
type EventType string

const (
	EventIssueOpened      EventType = "issues.opened"
	EventIssueAssigned    EventType = "issues.assigned"
	EventIssueClosed      EventType = "issues.closed"
	EventIssueLabeled     EventType = "issues.labeled"
	EventIssueComment     EventType = "issue_comment.created"
	EventPROpened         EventType = "pull_request.opened"
	EventPRSynchronize    EventType = "pull_request.synchronize"
	EventPRClosed         EventType = "pull_request.closed"
	EventPRReviewSubmitted EventType = "pull_request_review.submitted"
	EventPRReviewComment  EventType = "pull_request_review_comment.created"
	EventWakeAgent        EventType = "workflow.wake_agent"
	EventBlockerResolved  EventType = "workflow.blocker_resolved"
	EventWorkflowInternal EventType = "workflow.internal"
	// EventUnknown is the sentinel assigned to any raw webhook event the
	// Normalizer cannot map; the Router drops it without dispatch.
	EventUnknown EventType = "unknown"
)

// ReviewState is the closed set of PR review outcomes carried in a
// pull_request_review.submitted event's payload.
type ReviewState string

const (
	ReviewStateApproved        ReviewState = "approved"
	ReviewStateChangesRequested ReviewState = "changes_requested"
	ReviewStateCommented        ReviewState = "commented"
)

// Command is a parsed `@bot <role>: <message>` or `@bot help` directive
// extracted from a comment body by the Event Normalizer.
type Command struct {
	Help    bool
	Role    string
	Message string
}

// ReviewPayload carries PR-review-specific details for
// EventPRReviewSubmitted events.
type ReviewPayload struct {
	State    ReviewState
	ReviewID string
	Body     string
}

// CommentPayload carries comment body and metadata for comment-bearing events.
type CommentPayload struct {
	CommentID int64
	Body      string
}

// Event is the canonical internal representation every handler operates on.
type Event struct {
	Type       EventType
	DeliveryID string
	IssueID    *int64
	PRID       *int64
	Sender     string

	Labels []string

	Review  *ReviewPayload
	Comment *CommentPayload
	Command *Command

	// Raw holds the whole decoded webhook payload, for fields without a
	// dedicated field above (e.g. base_branch for PR events).
	Raw map[string]any
}
