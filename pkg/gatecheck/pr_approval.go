package gatecheck

import (
	"context"
	"fmt"

	"github.com/nbaertsch/squadron/pkg/models"
)

// PRMergeChecker is the narrow Registry slice pr_approval needs.
type PRMergeChecker interface {
	SetReviewRequirement(ctx context.Context, req *models.PRReviewRequirement) error
	CheckPRMergeReady(ctx context.Context, prID int64) (ready bool, missing []string, err error)
}

// BindPRApprovalCheck replaces the registry's placeholder pr_approval entry
// with one bound to store, since the check needs live approval counts.
// Config fields: pr_number (required), count (default 1), role (optional —
// when set, only that role's shortfall is checked). When role is set, the
// requirement row for it is upserted with count on every evaluation; without
// role, count is ignored and every stored requirement for the PR is checked. A pipeline
// author declares the required reviewer/count once, in the stage, rather
// than through a separate registration step.
func BindPRApprovalCheck(r *Registry, store PRMergeChecker) {
	r.Register("pr_approval", []string{
		"pull_request_review.submitted", "pull_request.synchronize",
	}, func(ctx context.Context, config map[string]any, _ map[string]any) (Result, error) {
		prID, ok := asInt64(config["pr_number"])
		if !ok {
			return Result{}, fmt.Errorf("gatecheck pr_approval: missing \"pr_number\"")
		}

		role, _ := config["role"].(string)
		count := 1
		if c, ok := asInt64(config["count"]); ok && c > 0 {
			count = int(c)
		}
		if role != "" {
			req := &models.PRReviewRequirement{PRID: prID, Role: role, RequiredCount: count}
			if err := store.SetReviewRequirement(ctx, req); err != nil {
				return Result{}, fmt.Errorf("setting review requirement for pr %d role %s: %w", prID, role, err)
			}
		}

		ready, missing, err := store.CheckPRMergeReady(ctx, prID)
		if err != nil {
			return Result{}, fmt.Errorf("checking merge readiness for pr %d: %w", prID, err)
		}

		if role != "" {
			for _, m := range missing {
				if hasPrefix(m, role+":") {
					return Result{Passed: false, Message: m}, nil
				}
			}
			return Result{Passed: true, Message: fmt.Sprintf("%s satisfied", role)}, nil
		}

		msg := "all requirements satisfied"
		if !ready {
			msg = fmt.Sprintf("unmet: %v", missing)
		}
		return Result{Passed: ready, Message: msg, Data: map[string]any{"missing": missing}}, nil
	})
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}
