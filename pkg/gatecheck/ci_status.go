package gatecheck

import (
	"context"
	"fmt"
)

// CIStatusChecker is the narrow platform-API slice ci_status needs.
type CIStatusChecker interface {
	CombinedStatus(ctx context.Context, ref string) (string, error)
}

// BindCIStatusCheck replaces the registry's placeholder ci_status entry with
// one bound to platform. Config fields: ref (required, a branch name or
// commit SHA), expect (default "success").
func BindCIStatusCheck(r *Registry, platform CIStatusChecker) {
	r.Register("ci_status", []string{"pull_request.synchronize"}, func(ctx context.Context, config map[string]any, _ map[string]any) (Result, error) {
		ref, _ := config["ref"].(string)
		if ref == "" {
			return Result{}, fmt.Errorf("gatecheck ci_status: missing \"ref\"")
		}
		expect, _ := config["expect"].(string)
		if expect == "" {
			expect = "success"
		}

		status, err := platform.CombinedStatus(ctx, ref)
		if err != nil {
			return Result{}, fmt.Errorf("checking combined status for %s: %w", ref, err)
		}

		return Result{
			Passed:  status == expect,
			Message: fmt.Sprintf("combined status %q, expected %q", status, expect),
			Data:    map[string]any{"status": status},
		}, nil
	})
}
