// Package mail implements the per-agent Inbox and Mail queue described in
// spec §4.5: two structures, both keyed by agent id, tolerant of concurrent
// writers with a single reader (the owning agent's task, or the Lifecycle
// Manager draining into a prompt).
package mail

import (
	"sync"

	"github.com/nbaertsch/squadron/pkg/models"
)

// Inbox holds an unbounded queue of events pertaining to one agent, drained
// by the agent calling check_for_events.
type Inbox struct {
	mu     sync.Mutex
	events []models.Event
}

// Push appends an event. Safe for concurrent callers.
func (ib *Inbox) Push(evt models.Event) {
	ib.mu.Lock()
	defer ib.mu.Unlock()
	ib.events = append(ib.events, evt)
}

// Drain removes and returns every queued event.
func (ib *Inbox) Drain() []models.Event {
	ib.mu.Lock()
	defer ib.mu.Unlock()
	out := ib.events
	ib.events = nil
	return out
}

// Len reports the number of queued events without draining them, used for
// the wake-prompt's inbox-size hint.
func (ib *Inbox) Len() int {
	ib.mu.Lock()
	defer ib.mu.Unlock()
	return len(ib.events)
}

// Queue holds an ordered list of Mail messages pushed when a user @-mentions
// or targets an active agent. Drained implicitly before the agent's next
// turn — never also delivered via the Inbox, per spec's no-double-delivery
// invariant.
type Queue struct {
	mu       sync.Mutex
	messages []models.MailMessage
}

// Push appends a message.
func (q *Queue) Push(m models.MailMessage) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.messages = append(q.messages, m)
}

// Drain removes and returns every queued message, in arrival order.
func (q *Queue) Drain() []models.MailMessage {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.messages
	q.messages = nil
	return out
}

// Center owns one Inbox and one Queue per agent id, created lazily and
// retained for the agent's lifetime. The Lifecycle Manager holds the single
// Center instance for the process.
type Center struct {
	mu      sync.Mutex
	inboxes map[string]*Inbox
	queues  map[string]*Queue
}

// NewCenter returns an empty mail center.
func NewCenter() *Center {
	return &Center{
		inboxes: make(map[string]*Inbox),
		queues:  make(map[string]*Queue),
	}
}

// Inbox returns (creating if necessary) the inbox for agentID.
func (c *Center) Inbox(agentID string) *Inbox {
	c.mu.Lock()
	defer c.mu.Unlock()
	ib, ok := c.inboxes[agentID]
	if !ok {
		ib = &Inbox{}
		c.inboxes[agentID] = ib
	}
	return ib
}

// Queue returns (creating if necessary) the mail queue for agentID.
func (c *Center) Queue(agentID string) *Queue {
	c.mu.Lock()
	defer c.mu.Unlock()
	q, ok := c.queues[agentID]
	if !ok {
		q = &Queue{}
		c.queues[agentID] = q
	}
	return q
}

// Forget drops both structures for agentID, discarding any unread contents
// — used on terminal cleanup and, per spec §4.5, on sleep for non-singleton
// ephemeral roles.
func (c *Center) Forget(agentID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.inboxes, agentID)
	delete(c.queues, agentID)
}
