package runner

import (
	"fmt"
	"runtime"
	"time"

	"github.com/maxpert/sqlrunner/telemetry"
)

func (r *Runner) run() {
	defer close(r.done)

	// Connections are only ever touched from this goroutine; keep it on
	// one OS thread so SQLite sees a single native thread per connection
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	ticker := time.NewTicker(r.opts.KeepaliveInterval)
	defer ticker.Stop()

	for {
		r.state.Store(int32(StateIdle))

		select {
		case <-r.queue.wake:
		case <-ticker.C:
			// Recovers from a wake that was lost; normally finds nothing
			telemetry.KeepaliveWakesTotal.Inc()
		case <-r.stopCh:
			r.shutdown()
			return
		}

		r.drain()
	}
}

// drain handles requests until the queue is empty
func (r *Runner) drain() {
	for {
		batch := r.queue.drainAll()
		if len(batch) == 0 {
			return
		}

		r.state.CompareAndSwap(int32(StateIdle), int32(StateDraining))
		telemetry.DrainBatchSize.Observe(float64(len(batch)))
		telemetry.PendingRequests.Set(float64(r.queue.pendingCount()))

		for _, req := range batch {
			r.execute(req)
			r.flush()
			r.queue.done()
		}
	}
}

func (r *Runner) shutdown() {
	r.state.Store(int32(StateShuttingDown))
	r.logger.Debug().Msg("Worker shutting down")

	// The queue is already closed; handle whatever made it in
	r.drain()
	r.closeAll()
	r.flush()

	telemetry.PendingRequests.Set(0)
	r.state.Store(int32(StateStopped))
	r.outbox.signal()

	r.logger.Info().
		Int64("live_queries", r.liveQueries.Load()).
		Msg("Runner stopped")
}

// execute runs one request. A panicking handler becomes a failed completion.
func (r *Runner) execute(req *request) {
	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			telemetry.HandlerPanicsTotal.Inc()
			r.logger.Error().
				Uint64("request_id", req.id).
				Str("kind", req.kind.String()).
				Interface("panic", p).
				Msg("Request handler panicked")
			r.fail(req, fmt.Errorf("handler panic: %v", p))
		}
		telemetry.RequestDurationSeconds.With(req.kind.String()).Observe(time.Since(start).Seconds())
	}()

	r.logger.Debug().
		Uint64("request_id", req.id).
		Str("kind", req.kind.String()).
		Uint64("db", uint64(req.db)).
		Uint64("query", uint64(req.query)).
		Msg("Handling request")

	switch req.kind {
	case reqOpen:
		r.handleOpen(req)
	case reqClose:
		r.handleClose(req)
	case reqPrepare:
		r.handlePrepare(req)
	case reqBind:
		r.handleBind(req)
	case reqExec:
		r.handleExec(req)
	case reqDispose:
		r.handleDispose(req)
	case reqMark:
		r.handleMark(req)
	default:
		r.logger.Warn().Uint64("request_id", req.id).Int("kind", int(req.kind)).Msg("Unknown request kind")
	}
}

// fail produces the completion a request owes after its handler panicked
func (r *Runner) fail(req *request, cause error) {
	switch req.kind {
	case reqOpen:
		if e, ok := r.databases.load(req.db); ok {
			err := fmt.Errorf("%w: %w", ErrOpenFailed, cause)
			if e.conn == nil {
				e.setState(DatabaseFailed, err)
			}
			r.emit(Event{Kind: EventOpened, RequestID: req.id, DB: e.handle, Database: e.name, Err: err, database: e.facade})
		}
	case reqClose:
		if e, ok := r.databases.remove(req.db); ok {
			e.setState(DatabaseClosed, cause)
			r.emit(Event{Kind: EventClosed, RequestID: req.id, DB: e.handle, Database: e.name, OK: false, Err: cause, database: e.facade})
		}
	case reqExec:
		if e, ok := r.queries.load(req.query); ok {
			res := queryResult{seq: req.seq, rowsAffected: -1, err: fmt.Errorf("%w: %w", ErrExecutionFailed, cause)}
			if e.stmt != nil {
				res.executed = e.stmt.ExecutedText()
			}
			e.finish(res)
			r.emit(Event{Kind: EventQueryFinished, RequestID: req.id, DB: e.owner, Query: e.handle, Err: res.err, seq: req.seq})
		}
	case reqMark:
		r.emit(Event{Kind: EventMarkReached, RequestID: req.id, Mark: req.id, Err: cause})
	}
}

func (r *Runner) emit(ev Event) {
	r.pendingEvents = append(r.pendingEvents, ev)
}

// flush moves worker-local events to the outbox and the tap
func (r *Runner) flush() {
	if len(r.pendingEvents) == 0 {
		return
	}
	events := r.pendingEvents
	r.pendingEvents = nil

	for _, ev := range events {
		telemetry.CompletionsTotal.With(ev.Kind.String(), telemetry.ResultLabel(ev.OK)).Inc()
	}
	r.outbox.push(events...)

	if r.opts.Tap != nil {
		for _, ev := range events {
			r.opts.Tap.Signal(ev.signal())
		}
	}
}
