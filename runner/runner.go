// Package runner executes SQL on one dedicated worker goroutine on behalf
// of callers that must never block on database I/O.
//
// Callers open databases and create queries through handle-addressed
// façades; every operation becomes a queued request. The worker drains the
// queue in FIFO order, buffers results, and posts completion events to an
// outbox that the caller pumps with Dispatch, Ready or Serve. Callbacks
// therefore run on the caller's goroutine, never on the worker.
package runner

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/maxpert/sqlrunner/id"
	"github.com/maxpert/sqlrunner/telemetry"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// WorkerState is the state of the worker loop
type WorkerState int32

const (
	StateIdle WorkerState = iota
	StateDraining
	StateShuttingDown
	StateStopped
)

func (s WorkerState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDraining:
		return "draining"
	case StateShuttingDown:
		return "shutting_down"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Runner owns the handle tables, the request queue, the completion outbox
// and the worker goroutine. Each Runner has its own id counter.
type Runner struct {
	opts   Options
	logger zerolog.Logger
	ids    *id.Counter
	ctx    context.Context

	queue     *requestQueue
	databases *databaseTable
	queries   *queryTable
	outbox    *outbox

	// worker-local completion events not yet flushed to the outbox
	pendingEvents []Event

	state       atomic.Int32
	liveQueries atomic.Int64
	openCount   atomic.Int64

	lifecycle sync.Mutex
	started   bool
	stopping  bool
	stopCh    chan struct{}
	done      chan struct{}

	hooksMu         sync.RWMutex
	onOpened        func(db Handle, ok bool)
	onClosed        func(db Handle)
	onQueryFinished func(q Handle, ok bool)
	onMarkReached   func(mark uint64)
}

// New creates a stopped Runner. Requests may be queued before Start.
func New(opts Options) *Runner {
	opts = opts.withDefaults()
	ids := id.NewCounter(opts.StartID)
	r := &Runner{
		opts:      opts,
		logger:    log.With().Str("component", "runner").Logger(),
		ids:       ids,
		ctx:       context.Background(),
		queue:     newRequestQueue(ids),
		databases: newDatabaseTable(),
		queries:   newQueryTable(),
		outbox:    newOutbox(),
		stopCh:    make(chan struct{}),
		done:      make(chan struct{}),
	}
	r.state.Store(int32(StateIdle))
	return r
}

// Start launches the worker. Starting twice is a no-op; starting after
// Stop returns ErrStopped.
func (r *Runner) Start() error {
	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()

	if r.stopping {
		return ErrStopped
	}
	if r.started {
		return nil
	}
	r.started = true
	go r.run()

	r.logger.Info().
		Dur("keepalive", r.opts.KeepaliveInterval).
		Int("max_result_rows", r.opts.MaxResultRows).
		Msg("Runner started")
	return nil
}

// Stop rejects new requests, lets the worker drain what is already queued,
// closes every database and waits for the worker to exit. Safe to call any
// number of times from any goroutine; every call returns after the worker
// stopped. Events produced during shutdown stay in the outbox for a final
// Dispatch.
func (r *Runner) Stop() {
	r.lifecycle.Lock()
	if !r.stopping {
		r.stopping = true
		r.queue.close()
		if !r.started {
			// Never started: run the worker anyway so queued work drains
			r.started = true
			go r.run()
		}
		close(r.stopCh)
		r.logger.Info().Int("pending", r.queue.pendingCount()).Msg("Runner stopping")
	}
	r.lifecycle.Unlock()

	<-r.done
}

// Done is closed once the worker has stopped
func (r *Runner) Done() <-chan struct{} {
	return r.done
}

// State returns the current worker state
func (r *Runner) State() WorkerState {
	return WorkerState(r.state.Load())
}

// OpenDatabase allocates a handle and queues the open. The handle is usable
// for building requests immediately; the connection exists only once an
// Opened event with ok=true has been dispatched.
func (r *Runner) OpenDatabase(name string) (*Database, error) {
	return r.OpenDatabaseFunc(name, nil)
}

// OpenDatabaseFunc is OpenDatabase with onOpened installed on the façade
// before the open is queued, so a concurrent Serve cannot miss it
func (r *Runner) OpenDatabaseFunc(name string, onOpened func(d *Database, ok bool)) (*Database, error) {
	entry := &dbEntry{
		handle: Handle(r.ids.NextID()),
		name:   name,
		state:  DatabaseOpening,
	}
	d := &Database{runner: r, handle: entry.handle, name: name, entry: entry, onOpened: onOpened}
	entry.facade = d
	r.databases.store(entry)

	if _, err := r.enqueue(&request{kind: reqOpen, db: entry.handle, text: name}); err != nil {
		r.databases.remove(entry.handle)
		return nil, err
	}
	return d, nil
}

// Database returns the façade for h, or nil if h is unknown or closed
func (r *Runner) Database(h Handle) *Database {
	if e, ok := r.databases.load(h); ok {
		return e.facade
	}
	return nil
}

// NewQuery registers a query owned by database h
func (r *Runner) NewQuery(h Handle) (*Query, error) {
	dbe, ok := r.databases.load(h)
	if !ok {
		return nil, fmt.Errorf("%w: database %d", ErrInvalidHandle, h)
	}
	if s := dbe.getState(); s == DatabaseClosing || s == DatabaseClosed {
		return nil, fmt.Errorf("%w: database %d is %s", ErrInvalidHandle, h, s)
	}

	// Registration must not interleave with the shutdown sweep
	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()
	if r.stopping {
		return nil, ErrStopped
	}

	entry := &queryEntry{
		handle: Handle(r.ids.NextID()),
		owner:  h,
		state:  QueryCreated,
	}
	q := newQuery(r, entry)
	entry.facade = q
	r.queries.store(entry)
	telemetry.LiveQueries.Set(float64(r.liveQueries.Add(1)))

	// A close that began after the check above may have swept the owner's
	// queries before this one was stored
	if s := dbe.getState(); s == DatabaseClosing || s == DatabaseClosed {
		r.freeQuery(entry.handle)
		return nil, fmt.Errorf("%w: database %d is %s", ErrInvalidHandle, h, s)
	}
	if _, ok := r.databases.load(h); !ok {
		r.freeQuery(entry.handle)
		return nil, fmt.Errorf("%w: database %d", ErrInvalidHandle, h)
	}
	return q, nil
}

// Query returns the façade for h, or nil if h is unknown or disposed
func (r *Runner) Query(h Handle) *Query {
	if e, ok := r.queries.load(h); ok {
		return e.facade
	}
	return nil
}

// Mark queues a barrier. MarkReached(mark) is emitted once every request
// queued before it has been handled.
func (r *Runner) Mark() (uint64, error) {
	return r.enqueue(&request{kind: reqMark})
}

// PendingRequestCount returns requests queued or being handled
func (r *Runner) PendingRequestCount() int {
	return r.queue.pendingCount()
}

// Throttled reports whether callers should stop submitting work
func (r *Runner) Throttled() bool {
	return r.opts.MaxPendingRequests > 0 && r.PendingRequestCount() >= r.opts.MaxPendingRequests
}

// LiveQueries returns query handles registered and not yet freed
func (r *Runner) LiveQueries() int64 {
	return r.liveQueries.Load()
}

// OpenDatabaseCount returns databases with a live connection
func (r *Runner) OpenDatabaseCount() int {
	return int(r.openCount.Load())
}

// DatabaseInfo describes one database handle
type DatabaseInfo struct {
	Handle  Handle `json:"handle"`
	Name    string `json:"name"`
	State   string `json:"state"`
	Queries int    `json:"queries"`
	Error   string `json:"error,omitempty"`
}

// Databases lists the database handles currently in the table
func (r *Runner) Databases() []DatabaseInfo {
	var out []DatabaseInfo
	r.databases.each(func(e *dbEntry) bool {
		e.mu.Lock()
		info := DatabaseInfo{Handle: e.handle, Name: e.name, State: e.state.String()}
		if e.err != nil {
			info.Error = e.err.Error()
		}
		e.mu.Unlock()
		info.Queries = len(r.queries.ownedBy(e.handle))
		out = append(out, info)
		return true
	})
	return out
}

// Options returns the effective options
func (r *Runner) Options() Options {
	return r.opts
}

// OnOpened sets the callback run by the dispatcher for Opened events
func (r *Runner) OnOpened(fn func(db Handle, ok bool)) {
	r.hooksMu.Lock()
	r.onOpened = fn
	r.hooksMu.Unlock()
}

// OnClosed sets the callback run by the dispatcher for Closed events
func (r *Runner) OnClosed(fn func(db Handle)) {
	r.hooksMu.Lock()
	r.onClosed = fn
	r.hooksMu.Unlock()
}

// OnQueryFinished sets the callback run by the dispatcher for QueryFinished events
func (r *Runner) OnQueryFinished(fn func(q Handle, ok bool)) {
	r.hooksMu.Lock()
	r.onQueryFinished = fn
	r.hooksMu.Unlock()
}

// OnMarkReached sets the callback run by the dispatcher for MarkReached events
func (r *Runner) OnMarkReached(fn func(mark uint64)) {
	r.hooksMu.Lock()
	r.onMarkReached = fn
	r.hooksMu.Unlock()
}

func (r *Runner) enqueue(req *request) (uint64, error) {
	rid, err := r.queue.enqueue(req)
	if err != nil {
		return 0, err
	}
	telemetry.RequestsTotal.With(req.kind.String()).Inc()
	return rid, nil
}
