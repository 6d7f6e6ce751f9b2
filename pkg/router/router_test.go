package router

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nbaertsch/squadron/pkg/models"
)

type fakeDeliveryChecker struct {
	mu   sync.Mutex
	seen map[string]bool
}

func newFakeDeliveryChecker() *fakeDeliveryChecker {
	return &fakeDeliveryChecker{seen: make(map[string]bool)}
}

func (f *fakeDeliveryChecker) MarkDeliverySeen(_ context.Context, deliveryID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.seen[deliveryID] {
		return false, nil
	}
	f.seen[deliveryID] = true
	return true, nil
}

func TestRouter_ExactlyOnceDispatch(t *testing.T) {
	checker := newFakeDeliveryChecker()
	r := New(checker, 8)

	var mu sync.Mutex
	var calls int
	r.On(models.EventIssueOpened, func(_ context.Context, _ models.Event) error {
		mu.Lock()
		calls++
		mu.Unlock()
		return nil
	})

	ctx := context.Background()
	r.Start(ctx)
	defer r.Stop()

	evt := models.Event{Type: models.EventIssueOpened, DeliveryID: "d-1"}
	require.NoError(t, r.Dispatch(ctx, evt))
	require.NoError(t, r.Dispatch(ctx, evt))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls == 1
	}, time.Second, 10*time.Millisecond)
}

func TestRouter_RegistrationOrderAndMultipleHandlers(t *testing.T) {
	r := New(newFakeDeliveryChecker(), 8)

	var mu sync.Mutex
	var order []int
	r.On(models.EventIssueOpened, func(_ context.Context, _ models.Event) error {
		mu.Lock()
		order = append(order, 1)
		mu.Unlock()
		return nil
	})
	r.On(models.EventIssueOpened, func(_ context.Context, _ models.Event) error {
		mu.Lock()
		order = append(order, 2)
		mu.Unlock()
		return nil
	})

	ctx := context.Background()
	r.Start(ctx)
	defer r.Stop()

	require.NoError(t, r.Dispatch(ctx, models.Event{Type: models.EventIssueOpened, DeliveryID: "d-2"}))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 2
	}, time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{1, 2}, order)
}

func TestRouter_UnknownEventDropped(t *testing.T) {
	r := New(newFakeDeliveryChecker(), 8)

	called := false
	r.On(models.EventUnknown, func(_ context.Context, _ models.Event) error {
		called = true
		return nil
	})

	ctx := context.Background()
	r.Start(ctx)
	defer r.Stop()

	require.NoError(t, r.Dispatch(ctx, models.Event{Type: models.EventUnknown, DeliveryID: "d-3"}))
	time.Sleep(50 * time.Millisecond)
	assert.False(t, called)
}

func TestRouter_HandlerPanicDoesNotStopRouter(t *testing.T) {
	r := New(newFakeDeliveryChecker(), 8)

	var mu sync.Mutex
	secondCalled := false
	r.On(models.EventIssueOpened, func(_ context.Context, _ models.Event) error {
		panic("boom")
	})
	r.On(models.EventIssueOpened, func(_ context.Context, _ models.Event) error {
		mu.Lock()
		secondCalled = true
		mu.Unlock()
		return nil
	})

	ctx := context.Background()
	r.Start(ctx)
	defer r.Stop()

	require.NoError(t, r.Dispatch(ctx, models.Event{Type: models.EventIssueOpened, DeliveryID: "d-4"}))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return secondCalled
	}, time.Second, 10*time.Millisecond)
}
