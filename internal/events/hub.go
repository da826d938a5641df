package events

import (
	"encoding/json"
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

// Work item lifecycle event types.
const (
	ItemEnqueued  = "item.enqueued"
	ItemReserved  = "item.reserved"
	ItemReleased  = "item.released"
	OutputCreated = "item.output_created"
	FileAdded     = "item.file_added"
	FileRemoved   = "item.file_removed"
)

// Types lists every event type the hub publishes.
var Types = []string{ItemEnqueued, ItemReserved, ItemReleased, OutputCreated, FileAdded, FileRemoved}

type Event struct {
	ID        int64           `json:"id"`
	Type      string          `json:"type"`
	Workspace string          `json:"workspace,omitempty"`
	Item      string          `json:"item,omitempty"`
	At        time.Time       `json:"at"`
	Data      json.RawMessage `json:"data"`
}

// Filter selects events for a subscriber. Zero fields match everything.
type Filter struct {
	// Workspaces, when non-nil, restricts events to the listed workspaces.
	Workspaces []string
	Types      []string
	// Item matches the event's own item and outputs announced under it.
	Item string
}

func (f Filter) match(ev Event) bool {
	if f.Workspaces != nil && !slices.Contains(f.Workspaces, ev.Workspace) {
		return false
	}
	if len(f.Types) > 0 && !slices.Contains(f.Types, ev.Type) {
		return false
	}
	return f.Item == "" || f.Item == ev.Item
}

type subscriber struct {
	ch     chan Event
	filter Filter
}

// Hub fans item events out to subscribers and keeps the most recent ones in a
// ring so reconnecting clients can resume from Last-Event-ID.
type Hub struct {
	dropped atomic.Int64

	mu   sync.Mutex
	seq  int64
	ring []Event
	head int // index of the oldest event
	n    int

	subs   map[int]subscriber
	lastID int
}

func NewHub(capacity int) *Hub {
	if capacity <= 0 {
		capacity = 256
	}
	return &Hub{
		ring: make([]Event, capacity),
		subs: make(map[int]subscriber),
	}
}

// Publish records an event about item in workspace. data is marshalled to
// JSON; a value that cannot be marshalled is published as {}.
func (h *Hub) Publish(eventType, workspace, item string, data any) Event {
	ev := Event{
		Type:      eventType,
		Workspace: workspace,
		Item:      item,
		At:        time.Now().UTC(),
		Data:      json.RawMessage("{}"),
	}
	if data != nil {
		if b, err := json.Marshal(data); err == nil {
			ev.Data = b
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	// Ids are assigned under the lock so the ring stays in id order.
	h.seq++
	ev.ID = h.seq
	h.record(ev)
	for _, sub := range h.subs {
		if !sub.filter.match(ev) {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			// Subscriber is behind; it can catch up from the ring.
			h.dropped.Add(1)
		}
	}
	return ev
}

// Subscribe registers a subscriber. The returned func unsubscribes and closes
// the channel; calling it more than once is safe.
func (h *Hub) Subscribe(filter Filter) (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.lastID++
	id := h.lastID
	ch := make(chan Event, 64)
	h.subs[id] = subscriber{ch: ch, filter: filter}

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			close(ch)
		})
	}
}

// SnapshotSince returns buffered events matching filter with ID > lastID,
// oldest first.
func (h *Hub) SnapshotSince(lastID int64, filter Filter) []Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	var out []Event
	for i := range h.n {
		ev := h.ring[(h.head+i)%len(h.ring)]
		if ev.ID > lastID && filter.match(ev) {
			out = append(out, ev)
		}
	}
	return out
}

// Dropped reports how many deliveries were skipped because a subscriber's
// buffer was full.
func (h *Hub) Dropped() int64 { return h.dropped.Load() }

func (h *Hub) record(ev Event) {
	if h.n < len(h.ring) {
		h.ring[(h.head+h.n)%len(h.ring)] = ev
		h.n++
		return
	}
	h.ring[h.head] = ev
	h.head = (h.head + 1) % len(h.ring)
}
