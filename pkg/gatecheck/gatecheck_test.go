package gatecheck

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nbaertsch/squadron/pkg/models"
)

func TestCommandCheck_DefaultExpectZero(t *testing.T) {
	res, err := CommandCheck(context.Background(), map[string]any{"command": "true"}, nil)
	require.NoError(t, err)
	assert.True(t, res.Passed)
}

func TestCommandCheck_NonZeroFailsDefault(t *testing.T) {
	res, err := CommandCheck(context.Background(), map[string]any{"command": "false"}, nil)
	require.NoError(t, err)
	assert.False(t, res.Passed)
}

func TestCommandCheck_NotEqualExpectation(t *testing.T) {
	res, err := CommandCheck(context.Background(), map[string]any{
		"command": "false",
		"expect":  "exit_code != 0",
	}, nil)
	require.NoError(t, err)
	assert.True(t, res.Passed)
}

func TestFileExistsCheck_MissingPath(t *testing.T) {
	res, err := FileExistsCheck(context.Background(), map[string]any{
		"paths": []any{"/definitely/does/not/exist-squadron"},
	}, nil)
	require.NoError(t, err)
	assert.False(t, res.Passed)
}

type fakeMergeChecker struct {
	ready   bool
	missing []string
}

func (f fakeMergeChecker) SetReviewRequirement(_ context.Context, _ *models.PRReviewRequirement) error {
	return nil
}

func (f fakeMergeChecker) CheckPRMergeReady(_ context.Context, _ int64) (bool, []string, error) {
	return f.ready, f.missing, nil
}

func TestBindPRApprovalCheck(t *testing.T) {
	reg := NewRegistry()
	BindPRApprovalCheck(reg, fakeMergeChecker{ready: false, missing: []string{"pr-review: 0/1"}})

	res, err := reg.Evaluate(context.Background(), "pr_approval", map[string]any{"pr_number": int64(10)}, nil)
	require.NoError(t, err)
	assert.False(t, res.Passed)
}

func TestLabelPresentCheck(t *testing.T) {
	runCtx := map[string]any{"labels": []string{"needs-review", "bug"}}

	res, err := LabelPresentCheck(context.Background(), map[string]any{"label": "bug"}, runCtx)
	require.NoError(t, err)
	assert.True(t, res.Passed)

	res, err = LabelPresentCheck(context.Background(), map[string]any{"label": "wontfix"}, runCtx)
	require.NoError(t, err)
	assert.False(t, res.Passed)
}

type fakeStatusChecker struct {
	status string
}

func (f fakeStatusChecker) CombinedStatus(_ context.Context, _ string) (string, error) {
	return f.status, nil
}

func TestBindCIStatusCheck(t *testing.T) {
	reg := NewRegistry()
	BindCIStatusCheck(reg, fakeStatusChecker{status: "success"})

	res, err := reg.Evaluate(context.Background(), "ci_status", map[string]any{"ref": "main"}, nil)
	require.NoError(t, err)
	assert.True(t, res.Passed)

	BindCIStatusCheck(reg, fakeStatusChecker{status: "failure"})
	res, err = reg.Evaluate(context.Background(), "ci_status", map[string]any{"ref": "main"}, nil)
	require.NoError(t, err)
	assert.False(t, res.Passed)
}

func TestRegistry_UnknownCheckType(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Evaluate(context.Background(), "nonexistent", nil, nil)
	require.Error(t, err)
}

func TestRegistry_ReactiveEvents(t *testing.T) {
	reg := NewRegistry()
	assert.True(t, reg.IsReactiveTo("pr_approval", "pull_request_review.submitted"))
	assert.False(t, reg.IsReactiveTo("command", "pull_request_review.submitted"))
}
