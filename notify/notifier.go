package notify

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gobwas/glob"
	"github.com/maxpert/sqlrunner/telemetry"
)

// defaultSignalBufferSize is the buffer size for subscriber channels.
// Subscribers that can't keep up will have signals dropped (non-blocking send).
const defaultSignalBufferSize = 64

// Signal is a copy of one completion event, published after the event
// reached the runner outbox.
type Signal struct {
	Kind      string // opened, closed, query_finished, mark_reached
	Database  string
	DBHandle  uint64
	Query     uint64
	Mark      uint64
	RequestID uint64
	OK        bool
	Err       string
}

// Filter selects signals. Empty fields match everything.
type Filter struct {
	Kinds     []string
	Databases []string // glob patterns with / as separator, e.g. "**/geobase.sql"
}

// subscription represents a single subscriber.
type subscription struct {
	id        uint64
	kinds     map[string]struct{}
	databases []glob.Glob
	ch        chan Signal
	closed    atomic.Bool

	// Unbounded subscriptions only. Signals queue in pending and a pump
	// goroutine, the sole sender on ch, forwards them in order.
	mu      sync.Mutex
	pending []Signal
	wake    chan struct{}
	done    bool
}

func (s *subscription) unbounded() bool {
	return s.wake != nil
}

// enqueue never blocks and never drops
func (s *subscription) enqueue(sig Signal) {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return
	}
	s.pending = append(s.pending, sig)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// pump forwards queued signals until the subscription is closed and its
// queue is empty, then closes ch
func (s *subscription) pump() {
	for {
		s.mu.Lock()
		batch := s.pending
		s.pending = nil
		done := s.done
		s.mu.Unlock()

		for _, sig := range batch {
			s.ch <- sig
		}

		if len(batch) > 0 {
			continue
		}
		if done {
			close(s.ch)
			return
		}
		<-s.wake
	}
}

// matches checks if the signal passes this subscription's filter.
func (s *subscription) matches(sig Signal) bool {
	if len(s.kinds) > 0 {
		if _, ok := s.kinds[sig.Kind]; !ok {
			return false
		}
	}

	if len(s.databases) == 0 {
		return true
	}
	for _, g := range s.databases {
		if g.Match(sig.Database) {
			return true
		}
	}
	return false
}

// close closes the subscription channel if not already closed. An
// unbounded subscription first delivers what it has queued.
func (s *subscription) close() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	if !s.unbounded() {
		close(s.ch)
		return
	}

	s.mu.Lock()
	s.done = true
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Hub is a broadcast tap of completion events. Regular subscriptions are
// best-effort; unbounded ones see every signal. Thread-safe; Signal never blocks.
type Hub struct {
	mu            sync.RWMutex
	subscriptions map[uint64]*subscription
	nextID        atomic.Uint64
	dropped       atomic.Uint64
	closed        atomic.Bool
}

// NewHub creates a new notification hub.
func NewHub() *Hub {
	return &Hub{
		subscriptions: make(map[uint64]*subscription),
	}
}

// Signal sends sig to all matching subscribers (non-blocking).
func (h *Hub) Signal(sig Signal) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.subscriptions {
		if !sub.matches(sig) {
			continue
		}
		if sub.unbounded() {
			sub.enqueue(sig)
			continue
		}

		select {
		case sub.ch <- sig:
		default:
			// Buffer full, skip this subscriber
			h.dropped.Add(1)
			telemetry.DroppedEventsTotal.With("tap_full").Inc()
		}
	}
}

// Subscribe creates a new subscription and returns the signal channel and cancel function.
// The cancel function is idempotent. Subscribing to a closed hub returns an
// already closed channel.
func (h *Hub) Subscribe(filter Filter) (<-chan Signal, func(), error) {
	return h.subscribe(filter, false)
}

// SubscribeUnbounded is Subscribe without loss: matching signals queue in
// memory until read, so the consumer must keep draining the channel until it
// closes. Cancel stops new signals; those already queued are still delivered
// before the channel closes.
func (h *Hub) SubscribeUnbounded(filter Filter) (<-chan Signal, func(), error) {
	return h.subscribe(filter, true)
}

func (h *Hub) subscribe(filter Filter, unbounded bool) (<-chan Signal, func(), error) {
	sub := &subscription{
		id: h.nextID.Add(1),
		ch: make(chan Signal, defaultSignalBufferSize),
	}
	if unbounded {
		sub.wake = make(chan struct{}, 1)
	}

	if len(filter.Kinds) > 0 {
		sub.kinds = make(map[string]struct{}, len(filter.Kinds))
		for _, k := range filter.Kinds {
			sub.kinds[k] = struct{}{}
		}
	}

	for _, pattern := range filter.Databases {
		g, err := glob.Compile(pattern, '/')
		if err != nil {
			return nil, nil, fmt.Errorf("invalid database pattern %q: %w", pattern, err)
		}
		sub.databases = append(sub.databases, g)
	}
	if unbounded {
		go sub.pump()
	}

	h.mu.Lock()
	if h.closed.Load() {
		h.mu.Unlock()
		sub.close()
		return sub.ch, func() {}, nil
	}
	h.subscriptions[sub.id] = sub
	h.mu.Unlock()

	cancel := func() {
		h.unsubscribe(sub.id)
	}

	return sub.ch, cancel, nil
}

// Dropped returns the number of signals skipped because a subscriber was full
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

// SubscriberCount returns the number of active subscriptions
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscriptions)
}

// Close closes every subscription. Idempotent.
func (h *Hub) Close() {
	if !h.closed.CompareAndSwap(false, true) {
		return
	}

	h.mu.Lock()
	subs := h.subscriptions
	h.subscriptions = make(map[uint64]*subscription)
	h.mu.Unlock()

	for _, sub := range subs {
		sub.close()
	}
}

// unsubscribe removes a subscription and closes its channel.
func (h *Hub) unsubscribe(id uint64) {
	h.mu.Lock()
	sub, ok := h.subscriptions[id]
	if ok {
		delete(h.subscriptions, id)
	}
	h.mu.Unlock()

	if ok {
		sub.close()
	}
}
