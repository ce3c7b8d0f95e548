package channel

import (
	"sync"
	"time"

	"github.com/propfolio/researchd/internal/observability"
)

// Subscriber receives one session's events over a bounded buffer.
type Subscriber struct {
	C         chan Event
	sessionID string
}

// Hub fans session events out to subscribers. Publishing never blocks: when
// a subscriber's buffer is full, the oldest non-heartbeat event is dropped
// and counted.
type Hub struct {
	mu      sync.RWMutex
	subs    map[string]map[*Subscriber]struct{}
	bufSize int
	metrics *observability.Metrics
}

// NewHub creates a hub with the given per-subscriber buffer size.
func NewHub(bufSize int, metrics *observability.Metrics) *Hub {
	if bufSize <= 0 {
		bufSize = 64
	}
	return &Hub{
		subs:    make(map[string]map[*Subscriber]struct{}),
		bufSize: bufSize,
		metrics: metrics,
	}
}

// Subscribe registers a new subscriber for a session's events.
func (h *Hub) Subscribe(sessionID string) *Subscriber {
	sub := &Subscriber{C: make(chan Event, h.bufSize), sessionID: sessionID}
	h.mu.Lock()
	set := h.subs[sessionID]
	if set == nil {
		set = make(map[*Subscriber]struct{})
		h.subs[sessionID] = set
	}
	set[sub] = struct{}{}
	h.mu.Unlock()
	return sub
}

// Unsubscribe removes a subscriber. Its channel is not closed; the reader
// simply stops seeing new events.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	if set := h.subs[sub.sessionID]; set != nil {
		delete(set, sub)
		if len(set) == 0 {
			delete(h.subs, sub.sessionID)
		}
	}
	h.mu.Unlock()
}

// Publish delivers an event to every subscriber of the session,
// best-effort per subscriber.
func (h *Hub) Publish(sessionID string, ev Event) {
	ev.SessionID = sessionID
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	h.mu.RLock()
	subs := make([]*Subscriber, 0, len(h.subs[sessionID]))
	for sub := range h.subs[sessionID] {
		subs = append(subs, sub)
	}
	h.mu.RUnlock()

	for _, sub := range subs {
		h.offer(sub, ev)
	}
}

// offer enqueues without blocking. On overflow, an incoming heartbeat is
// discarded outright; otherwise the oldest buffered event makes room.
func (h *Hub) offer(sub *Subscriber, ev Event) {
	for {
		select {
		case sub.C <- ev:
			return
		default:
		}
		if ev.Type == EventHeartbeat {
			h.dropped(EventHeartbeat)
			return
		}
		select {
		case old := <-sub.C:
			h.dropped(old.Type)
		default:
			// A concurrent reader drained the buffer; retry the send.
		}
	}
}

func (h *Hub) dropped(t EventType) {
	if h.metrics != nil {
		h.metrics.DroppedEvents.WithLabelValues(string(t)).Inc()
	}
}
