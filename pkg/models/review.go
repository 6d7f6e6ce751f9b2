package models

import "time"

// PRReviewRequirement declares that a PR needs N non-stale approvals from a
// given role before it is merge-ready.
type PRReviewRequirement struct {
	ID            int64
	PRID          int64
	Role          string
	RequiredCount int
	PipelineRunID string
	CreatedAt     time.Time
}

// PRApproval is one append-only approval record. Invalidation never deletes
// a row; it flips Stale on every current approval for the PR.
type PRApproval struct {
	ID         int64
	PRID       int64
	Role       string
	Approved   bool
	ReviewID   string
	Stale      bool
	RecordedAt time.Time
}

// PRSequenceState tracks ordered-role review sequencing for a PR (see
// SPEC_FULL §4, AdvancePRSequence). It is stored state only: nothing in the
// core calls AdvancePRSequence or spawns reviewers from it.
type PRSequenceState struct {
	PRID          int64
	CurrentRole   string
	SequenceIndex int
	PipelineRunID string
}

// MailMessage is pushed directly into an active agent's next prompt. IssueID
// and PRID are copied from the originating event, so either or both may be set.
type MailMessage struct {
	ID         int64
	AgentID    string
	Sender     string
	Body       string
	IssueID    *int64
	PRID       *int64
	CommentID  *int64
	ReceivedAt time.Time
}
