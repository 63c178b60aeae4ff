// Package events carries task lifecycle notifications to the web UI and
// the audit log.
package events

import (
	"sync"
	"time"
)

// Kind identifies what happened.
type Kind string

// Event kinds emitted by the workflow.
const (
	KindTaskCreated     Kind = "task_created"
	KindTaskApproved    Kind = "task_approved"
	KindTaskRejected    Kind = "task_rejected"
	KindTaskCompleted   Kind = "task_completed"
	KindTaskFailed      Kind = "task_failed"
	KindTaskPushed      Kind = "task_pushed"
	KindTaskRolledBack  Kind = "task_rolled_back"
	KindSuspendsCleared Kind = "suspensions_cleared"
)

// Event is one lifecycle notification. Payload holds kind-specific detail
// such as the commit hash or failure reason.
type Event struct {
	Kind      Kind           `json:"kind"`
	TaskID    string         `json:"task_id,omitempty"`
	Summary   string         `json:"summary"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload,omitempty"`
}

const subscriberBuffer = 16

// Broadcaster fans events out to subscribers. Delivery is fire and forget:
// a subscriber that stops draining its channel loses events rather than
// blocking the workflow.
type Broadcaster struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan Event
}

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[int]chan Event)}
}

// Subscribe registers a new subscriber. The returned cancel function must
// be called to release the channel.
func (b *Broadcaster) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan Event, subscriberBuffer)
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if ch, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(ch)
		}
	}
	return ch, cancel
}

// Broadcast sends the event to every subscriber without blocking.
func (b *Broadcaster) Broadcast(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// SubscriberCount reports the number of active subscribers.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
