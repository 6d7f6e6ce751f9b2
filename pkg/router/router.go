// Package router implements the Event Router (spec §4.3): a single-consumer
// loop draining a bounded event channel, with delivery-id dedup fenced
// through the Registry and per-event-type handler dispatch in registration
// order.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nbaertsch/squadron/pkg/models"
)

// Handler processes one normalized event. A returned error is logged but
// never stops the router.
type Handler func(ctx context.Context, evt models.Event) error

// DeliveryChecker is the narrow slice of the Registry the router needs for
// its dedup fence. Accepting an interface here (rather than *registry.Registry
// directly) keeps the router testable without a live database.
type DeliveryChecker interface {
	MarkDeliverySeen(ctx context.Context, deliveryID string) (bool, error)
}

// Router is the single-consumer event dispatcher.
type Router struct {
	reg DeliveryChecker

	mu       sync.RWMutex
	handlers map[models.EventType][]Handler

	ch       chan models.Event
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a Router backed by reg for delivery-id dedup, with a channel
// of the given capacity. A capacity of 0 makes Dispatch synchronous with a
// single in-flight event.
func New(reg DeliveryChecker, capacity int) *Router {
	return &Router{
		reg:      reg,
		handlers: make(map[models.EventType][]Handler),
		ch:       make(chan models.Event, capacity),
		stopCh:   make(chan struct{}),
	}
}

// On registers h for eventType. Multiple handlers per type are invoked in
// registration order.
func (r *Router) On(eventType models.EventType, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[eventType] = append(r.handlers[eventType], h)
}

// Dispatch enqueues evt for processing. It blocks if the channel is full —
// per spec §9's back-pressure note, the core prefers blocking enqueue over
// dropping events; the (out-of-scope) webhook server is expected to apply
// its own bound upstream.
func (r *Router) Dispatch(ctx context.Context, evt models.Event) error {
	select {
	case r.ch <- evt:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-r.stopCh:
		return fmt.Errorf("router stopped")
	}
}

// Start begins the consumer loop in a goroutine.
func (r *Router) Start(ctx context.Context) {
	r.wg.Add(1)
	go r.run(ctx)
}

// Stop signals the loop to finish its current event, then discards anything
// still queued. Safe to call multiple times.
func (r *Router) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
	r.wg.Wait()
}

func (r *Router) run(ctx context.Context) {
	defer r.wg.Done()
	for {
		select {
		case <-r.stopCh:
			return
		case <-ctx.Done():
			return
		case evt := <-r.ch:
			r.process(ctx, evt)
		}
	}
}

func (r *Router) process(ctx context.Context, evt models.Event) {
	log := slog.With("event_type", evt.Type, "delivery_id", evt.DeliveryID)

	if evt.Type == models.EventUnknown {
		log.Debug("dropping unrecognized event")
		return
	}

	if evt.DeliveryID != "" {
		newlySeen, err := r.reg.MarkDeliverySeen(ctx, evt.DeliveryID)
		if err != nil {
			log.Error("delivery dedup check failed", "error", err)
			return
		}
		if !newlySeen {
			log.Debug("dropping duplicate delivery")
			return
		}
	}

	r.mu.RLock()
	handlers := append([]Handler(nil), r.handlers[evt.Type]...)
	r.mu.RUnlock()

	for _, h := range handlers {
		r.invoke(ctx, h, evt, log)
	}
}

func (r *Router) invoke(ctx context.Context, h Handler, evt models.Event, log *slog.Logger) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error("handler panicked", "recovered", rec)
		}
	}()
	if err := h(ctx, evt); err != nil {
		log.Error("handler returned error", "error", err)
	}
}
