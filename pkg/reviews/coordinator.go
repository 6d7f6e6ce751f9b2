// Package reviews implements the PR Review Coordinator named in SPEC_FULL.md
// §4: it is the component standing between the normalized review/synchronize
// events the Event Router delivers and the pr_approval gate check, which
// otherwise has no approval data to read.
package reviews

import (
	"context"
	"fmt"
	"strings"

	"github.com/nbaertsch/squadron/pkg/collaborators"
	"github.com/nbaertsch/squadron/pkg/models"
)

// agentSenderPrefix matches pkg/agent's own convention for comments an
// agent posts on its own behalf (pkg/agent/commands.go's agentSenderPrefix)
// — a reviewing agent's role is recovered from it the same way the self-loop
// guard recovers a commenting agent's role.
const agentSenderPrefix = "squadron-agent:"

// Store is the narrow registry slice the coordinator needs.
type Store interface {
	RecordPRApproval(ctx context.Context, prID int64, role string, approved bool, reviewID string) error
	InvalidatePRApprovals(ctx context.Context, prID int64) error
}

// Coordinator reacts to PR review webhook events: approvals and change
// requests are recorded against the reviewing role, and a new commit on the
// PR invalidates every approval recorded so far.
type Coordinator struct {
	store    Store
	platform collaborators.PlatformAPI
}

// New builds a PR Review Coordinator.
func New(store Store, platform collaborators.PlatformAPI) *Coordinator {
	return &Coordinator{store: store, platform: platform}
}

// HandleEvent is the coordinator's Router handler: it reacts to
// pull_request_review.submitted and pull_request.synchronize and ignores
// every other event type, matching the way HandleTriggerEvent and
// pipeline.Engine.HandleEvent are registered against the full routed set.
func (c *Coordinator) HandleEvent(ctx context.Context, evt models.Event) error {
	switch evt.Type {
	case models.EventPRReviewSubmitted:
		return c.handleReviewSubmitted(ctx, evt)
	case models.EventPRSynchronize:
		return c.HandleSynchronize(ctx, evt)
	default:
		return nil
	}
}

func (c *Coordinator) handleReviewSubmitted(ctx context.Context, evt models.Event) error {
	if evt.PRID == nil || evt.Review == nil {
		return nil
	}
	role := reviewerRole(evt.Sender)
	if role == "" {
		return nil // a human review carries no role requirement to track
	}
	approved := evt.Review.State == models.ReviewStateApproved
	if err := c.store.RecordPRApproval(ctx, *evt.PRID, role, approved, evt.Review.ReviewID); err != nil {
		return fmt.Errorf("recording pr approval for %d: %w", *evt.PRID, err)
	}
	return nil
}

// HandleSynchronize invalidates every approval recorded for the PR and
// posts an explanatory comment: a new commit means whatever was reviewed no
// longer reflects the PR's head, so prior approvals must not count toward
// merge readiness.
func (c *Coordinator) HandleSynchronize(ctx context.Context, evt models.Event) error {
	if evt.PRID == nil {
		return nil
	}
	if err := c.store.InvalidatePRApprovals(ctx, *evt.PRID); err != nil {
		return fmt.Errorf("invalidating pr approvals for %d: %w", *evt.PRID, err)
	}
	if c.platform == nil {
		return nil
	}
	const msg = "New commits were pushed to this PR — prior approvals no longer apply and will need to be re-reviewed."
	if _, err := c.platform.CreateComment(ctx, *evt.PRID, msg); err != nil {
		return fmt.Errorf("posting approval-invalidation comment on pr %d: %w", *evt.PRID, err)
	}
	return nil
}

// reviewerRole recovers the reviewing agent's role from its sender tag, or
// "" when the review came from a human account.
func reviewerRole(sender string) string {
	role, ok := strings.CutPrefix(sender, agentSenderPrefix)
	if !ok {
		return ""
	}
	return role
}
