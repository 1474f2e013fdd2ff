package progress

import (
	"context"
	"sync"
	"time"

	"pulmo/internal/registry"
)

// Subscription delivers request snapshots for a single request id. The
// channel always holds the most recent snapshot; intermediate updates may be
// dropped for slow readers but the latest one never is.
type Subscription struct {
	hub    *Hub
	id     string
	mu     sync.Mutex
	ch     chan registry.Request
	closed bool
}

// Updates returns the snapshot channel. It is closed when the subscription
// is closed.
func (s *Subscription) Updates() <-chan registry.Request {
	return s.ch
}

// Close detaches the subscription from the hub. Safe to call more than once.
func (s *Subscription) Close() {
	s.hub.unsubscribe(s)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}

// deliver performs a latest-wins send: if the one-slot buffer is occupied
// the stale snapshot is evicted first. Closed subscriptions drop the send.
func (s *Subscription) deliver(snap registry.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- snap:
		return
	default:
	}
	select {
	case <-s.ch:
	default:
	}
	select {
	case s.ch <- snap:
	default:
	}
}

// Hub fans request snapshots out to per-request subscribers. Publishing
// never blocks on a subscriber, and a periodic heartbeat re-emits the latest
// snapshot so stream clients can tell a quiet pipeline from a dead link.
type Hub struct {
	mu          sync.Mutex
	latest      map[string]registry.Request
	subscribers map[string]map[*Subscription]struct{}
	heartbeat   time.Duration
}

// NewHub constructs a hub. A zero heartbeat disables periodic re-emits.
func NewHub(heartbeat time.Duration) *Hub {
	return &Hub{
		latest:      make(map[string]registry.Request),
		subscribers: make(map[string]map[*Subscription]struct{}),
		heartbeat:   heartbeat,
	}
}

// Subscribe registers a listener for the given request id. If the hub has
// already seen a snapshot for the id it is delivered immediately.
func (h *Hub) Subscribe(id string) *Subscription {
	sub := &Subscription{hub: h, id: id, ch: make(chan registry.Request, 1)}

	h.mu.Lock()
	set, ok := h.subscribers[id]
	if !ok {
		set = make(map[*Subscription]struct{})
		h.subscribers[id] = set
	}
	set[sub] = struct{}{}
	snap, seen := h.latest[id]
	h.mu.Unlock()

	if seen {
		sub.deliver(snap.Clone())
	}
	return sub
}

// Publish records the snapshot as the latest for its request and forwards it
// to every subscriber without blocking.
func (h *Hub) Publish(req registry.Request) {
	snap := req.Clone()

	h.mu.Lock()
	h.latest[snap.ID] = snap
	subs := make([]*Subscription, 0, len(h.subscribers[snap.ID]))
	for sub := range h.subscribers[snap.ID] {
		subs = append(subs, sub)
	}
	h.mu.Unlock()

	for _, sub := range subs {
		sub.deliver(snap.Clone())
	}
}

// Latest returns the most recent snapshot seen for the request, if any.
func (h *Hub) Latest(id string) (registry.Request, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	snap, ok := h.latest[id]
	if !ok {
		return registry.Request{}, false
	}
	return snap.Clone(), true
}

// Forget drops the retained snapshot for a request, typically after the
// registry entry itself was cleared.
func (h *Hub) Forget(id string) {
	h.mu.Lock()
	delete(h.latest, id)
	h.mu.Unlock()
}

// Run re-emits the latest snapshot for every subscribed request on the
// heartbeat interval until the context is cancelled.
func (h *Hub) Run(ctx context.Context) {
	if h.heartbeat <= 0 {
		<-ctx.Done()
		return
	}
	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.emitHeartbeats()
		}
	}
}

func (h *Hub) emitHeartbeats() {
	type pending struct {
		sub  *Subscription
		snap registry.Request
	}

	h.mu.Lock()
	var batch []pending
	for id, set := range h.subscribers {
		snap, seen := h.latest[id]
		if !seen {
			continue
		}
		for sub := range set {
			batch = append(batch, pending{sub: sub, snap: snap.Clone()})
		}
	}
	h.mu.Unlock()

	for _, p := range batch {
		p.sub.deliver(p.snap)
	}
}

func (h *Hub) unsubscribe(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.subscribers[sub.id]
	if !ok {
		return
	}
	delete(set, sub)
	if len(set) == 0 {
		delete(h.subscribers, sub.id)
	}
}
