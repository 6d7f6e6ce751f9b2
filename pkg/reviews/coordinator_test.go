package reviews

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nbaertsch/squadron/pkg/collaborators"
	"github.com/nbaertsch/squadron/pkg/models"
)

type fakeStore struct {
	recorded    []recordedApproval
	invalidated []int64
}

type recordedApproval struct {
	prID     int64
	role     string
	approved bool
	reviewID string
}

func (f *fakeStore) RecordPRApproval(_ context.Context, prID int64, role string, approved bool, reviewID string) error {
	f.recorded = append(f.recorded, recordedApproval{prID, role, approved, reviewID})
	return nil
}

func (f *fakeStore) InvalidatePRApprovals(_ context.Context, prID int64) error {
	f.invalidated = append(f.invalidated, prID)
	return nil
}

type fakePlatform struct {
	collaborators.PlatformAPI
	comments []string
}

func (f *fakePlatform) CreateComment(_ context.Context, _ int64, body string) (*collaborators.Comment, error) {
	f.comments = append(f.comments, body)
	return &collaborators.Comment{Body: body}, nil
}

func TestHandleEvent_ReviewSubmittedRecordsApprovalByRole(t *testing.T) {
	store := &fakeStore{}
	c := New(store, &fakePlatform{})

	pr := int64(5)
	evt := models.Event{
		Type: models.EventPRReviewSubmitted,
		PRID: &pr,
		Sender: "squadron-agent:reviewer",
		Review: &models.ReviewPayload{State: models.ReviewStateApproved, ReviewID: "rv-1"},
	}
	require.NoError(t, c.HandleEvent(context.Background(), evt))

	require.Len(t, store.recorded, 1)
	assert.Equal(t, recordedApproval{prID: 5, role: "reviewer", approved: true, reviewID: "rv-1"}, store.recorded[0])
}

func TestHandleEvent_ReviewSubmittedFromHumanIsIgnored(t *testing.T) {
	store := &fakeStore{}
	c := New(store, &fakePlatform{})

	pr := int64(5)
	evt := models.Event{
		Type:   models.EventPRReviewSubmitted,
		PRID:   &pr,
		Sender: "a-human",
		Review: &models.ReviewPayload{State: models.ReviewStateApproved},
	}
	require.NoError(t, c.HandleEvent(context.Background(), evt))
	assert.Empty(t, store.recorded)
}

func TestHandleEvent_SynchronizeInvalidatesAndComments(t *testing.T) {
	store := &fakeStore{}
	platform := &fakePlatform{}
	c := New(store, platform)

	pr := int64(9)
	evt := models.Event{Type: models.EventPRSynchronize, PRID: &pr}
	require.NoError(t, c.HandleEvent(context.Background(), evt))

	assert.Equal(t, []int64{9}, store.invalidated)
	require.Len(t, platform.comments, 1)
}

func TestHandleEvent_IgnoresUnrelatedEventTypes(t *testing.T) {
	store := &fakeStore{}
	c := New(store, &fakePlatform{})

	require.NoError(t, c.HandleEvent(context.Background(), models.Event{Type: models.EventIssueOpened}))
	assert.Empty(t, store.recorded)
	assert.Empty(t, store.invalidated)
}
