package runner

import (
	"context"
	"sync"

	"github.com/maxpert/sqlrunner/telemetry"
)

// outbox holds completion events until the caller pumps them
type outbox struct {
	mu     sync.Mutex
	events []Event
	ready  chan struct{}
}

func newOutbox() *outbox {
	return &outbox{ready: make(chan struct{}, 1)}
}

func (o *outbox) push(events ...Event) {
	o.mu.Lock()
	o.events = append(o.events, events...)
	o.mu.Unlock()
	o.signal()
}

func (o *outbox) signal() {
	select {
	case o.ready <- struct{}{}:
	default:
	}
}

func (o *outbox) take() []Event {
	o.mu.Lock()
	defer o.mu.Unlock()
	events := o.events
	o.events = nil
	return events
}

func (o *outbox) len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.events)
}

// Ready receives a value whenever events may be waiting. Use it in the
// caller's select loop and call Dispatch on receipt.
func (r *Runner) Ready() <-chan struct{} {
	return r.outbox.ready
}

// PendingEvents returns completion events waiting for Dispatch
func (r *Runner) PendingEvents() int {
	return r.outbox.len()
}

// Dispatch delivers every waiting completion event on the calling
// goroutine, in production order, and returns how many were taken.
// Must not be called concurrently with itself.
func (r *Runner) Dispatch() int {
	events := r.outbox.take()
	for i := range events {
		r.deliver(&events[i])
	}
	return len(events)
}

// Serve pumps the outbox on the calling goroutine until ctx is done or the
// runner stopped and its final events were delivered.
func (r *Runner) Serve(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.outbox.ready:
			r.Dispatch()
		case <-r.done:
			r.Dispatch()
			return nil
		}
	}
}

func (r *Runner) deliver(ev *Event) {
	r.hooksMu.RLock()
	onOpened, onClosed := r.onOpened, r.onClosed
	onQueryFinished, onMarkReached := r.onQueryFinished, r.onMarkReached
	r.hooksMu.RUnlock()

	switch ev.Kind {
	case EventOpened:
		if ev.database != nil {
			ev.database.observeOpened(ev.OK, ev.Err)
		}
		if onOpened != nil {
			onOpened(ev.DB, ev.OK)
		}

	case EventClosed:
		if ev.database != nil {
			ev.database.observeClosed()
		}
		if onClosed != nil {
			onClosed(ev.DB)
		}

	case EventQueryFinished:
		e, ok := r.queries.load(ev.Query)
		if !ok {
			telemetry.DroppedEventsTotal.With("disposed").Inc()
			r.logger.Debug().Uint64("query", uint64(ev.Query)).Msg("Dropping completion for removed query")
			return
		}
		if reason := e.facade.adopt(e, ev); reason != "" {
			telemetry.DroppedEventsTotal.With(reason).Inc()
			r.logger.Debug().Uint64("query", uint64(ev.Query)).Str("reason", reason).Msg("Dropping completion")
			return
		}
		e.facade.fireFinished(ev.OK)
		if onQueryFinished != nil {
			onQueryFinished(ev.Query, ev.OK)
		}

	case EventMarkReached:
		if onMarkReached != nil {
			onMarkReached(ev.Mark)
		}
	}
}
