package changefeed

import (
	"log/slog"
	"sync"
)

// Hub fans events out to subscribers. Each subscriber owns a one-slot
// mailbox drained by its own goroutine: a burst of events while the
// subscriber is busy collapses into a single pending delivery, and a slow
// subscriber never blocks Publish.
type Hub struct {
	mu     sync.Mutex
	subs   map[uint64]*subscriber
	nextID uint64
	closed bool
}

type subscriber struct {
	collection string
	mailbox    chan Event
	done       chan struct{}
	onEvent    func(Event)
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[uint64]*subscriber)}
}

// Subscribe registers onEvent for changes to collection and returns a
// function that cancels the subscription. onEvent runs on a goroutine owned
// by the subscription, never concurrently with itself. Cancel is idempotent
// and does not wait for an in-flight onEvent to return.
func (h *Hub) Subscribe(collection string, onEvent func(Event)) (cancel func()) {
	s := &subscriber{
		collection: collection,
		mailbox:    make(chan Event, 1),
		done:       make(chan struct{}),
		onEvent:    onEvent,
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return func() {}
	}
	id := h.nextID
	h.nextID++
	h.subs[id] = s
	h.mu.Unlock()
	subscribers.Inc()

	go s.run()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			_, ok := h.subs[id]
			delete(h.subs, id)
			h.mu.Unlock()
			if ok {
				close(s.done)
				subscribers.Dec()
			}
		})
	}
}

// Publish delivers ev to every subscriber of its collection. Events for
// AllCollections reach everyone.
func (h *Hub) Publish(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, s := range h.subs {
		if ev.Collection != AllCollections && s.collection != ev.Collection {
			continue
		}
		select {
		case s.mailbox <- ev:
		default:
			eventsCoalesced.Inc()
		}
	}
}

// Len returns the number of active subscriptions.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close cancels every subscription. Later Subscribe calls get a no-op.
func (h *Hub) Close() {
	h.mu.Lock()
	subs := h.subs
	h.subs = make(map[uint64]*subscriber)
	h.closed = true
	h.mu.Unlock()

	for _, s := range subs {
		close(s.done)
		subscribers.Dec()
	}
}

func (s *subscriber) run() {
	for {
		select {
		case <-s.done:
			return
		case ev := <-s.mailbox:
			// done wins over a pending delivery.
			select {
			case <-s.done:
				return
			default:
			}
			s.deliver(ev)
		}
	}
}

func (s *subscriber) deliver(ev Event) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("change subscriber panicked", "collection", s.collection, "error", rec)
		}
	}()
	s.onEvent(ev)
}
