package runner

import (
	"sync"

	"github.com/maxpert/sqlrunner/db"
	"github.com/puzpuzpuz/xsync/v3"
)

// DatabaseState is the worker-side lifecycle of a database handle
type DatabaseState int

const (
	DatabaseOpening DatabaseState = iota
	DatabaseOpen
	DatabaseFailed
	DatabaseClosing
	DatabaseClosed
)

func (s DatabaseState) String() string {
	switch s {
	case DatabaseOpening:
		return "opening"
	case DatabaseOpen:
		return "open"
	case DatabaseFailed:
		return "failed"
	case DatabaseClosing:
		return "closing"
	case DatabaseClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// QueryState is the lifecycle of a query handle
type QueryState int

const (
	QueryCreated QueryState = iota
	QueryPrepared
	QueryExecuting
	QueryFinished
)

func (s QueryState) String() string {
	switch s {
	case QueryCreated:
		return "created"
	case QueryPrepared:
		return "prepared"
	case QueryExecuting:
		return "executing"
	case QueryFinished:
		return "finished"
	default:
		return "unknown"
	}
}

type dbEntry struct {
	handle Handle
	name   string
	facade *Database

	mu    sync.Mutex
	state DatabaseState
	err   error

	// worker only
	conn db.Conn
}

func (e *dbEntry) getState() DatabaseState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *dbEntry) setState(state DatabaseState, err error) {
	e.mu.Lock()
	e.state = state
	e.err = err
	e.mu.Unlock()
}

// markClosing moves the entry to closing unless it already is closing or
// closed. Returns false when nothing changed.
func (e *dbEntry) markClosing() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == DatabaseClosing || e.state == DatabaseClosed {
		return false
	}
	e.state = DatabaseClosing
	return true
}

// queryResult is the buffered outcome of the latest exec
type queryResult struct {
	seq          uint64
	ok           bool
	rows         [][]any
	columns      []string
	rowsAffected int64
	executed     string
	err          error
}

type queryEntry struct {
	handle Handle
	owner  Handle
	facade *Query

	// worker only
	stmt db.Statement

	mu     sync.Mutex
	state  QueryState
	result queryResult
}

func (e *queryEntry) setState(state QueryState) {
	e.mu.Lock()
	e.state = state
	e.mu.Unlock()
}

func (e *queryEntry) getState() QueryState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *queryEntry) finish(res queryResult) {
	e.mu.Lock()
	e.state = QueryFinished
	e.result = res
	e.mu.Unlock()
}

// resultFor returns the buffered result if it belongs to exec seq
func (e *queryEntry) resultFor(seq uint64) (queryResult, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != QueryFinished || e.result.seq != seq {
		return queryResult{}, false
	}
	return e.result, true
}

type databaseTable struct {
	m *xsync.MapOf[Handle, *dbEntry]
}

func newDatabaseTable() *databaseTable {
	return &databaseTable{m: xsync.NewMapOf[Handle, *dbEntry]()}
}

func (t *databaseTable) load(h Handle) (*dbEntry, bool) {
	return t.m.Load(h)
}

func (t *databaseTable) store(e *dbEntry) {
	t.m.Store(e.handle, e)
}

func (t *databaseTable) remove(h Handle) (*dbEntry, bool) {
	return t.m.LoadAndDelete(h)
}

func (t *databaseTable) size() int {
	return t.m.Size()
}

func (t *databaseTable) handles() []Handle {
	var out []Handle
	t.m.Range(func(h Handle, _ *dbEntry) bool {
		out = append(out, h)
		return true
	})
	return out
}

func (t *databaseTable) each(fn func(*dbEntry) bool) {
	t.m.Range(func(_ Handle, e *dbEntry) bool {
		return fn(e)
	})
}

type queryTable struct {
	m *xsync.MapOf[Handle, *queryEntry]
}

func newQueryTable() *queryTable {
	return &queryTable{m: xsync.NewMapOf[Handle, *queryEntry]()}
}

func (t *queryTable) load(h Handle) (*queryEntry, bool) {
	return t.m.Load(h)
}

func (t *queryTable) store(e *queryEntry) {
	t.m.Store(e.handle, e)
}

func (t *queryTable) remove(h Handle) (*queryEntry, bool) {
	return t.m.LoadAndDelete(h)
}

func (t *queryTable) size() int {
	return t.m.Size()
}

// ownedBy returns the handles of every query owned by database h
func (t *queryTable) ownedBy(h Handle) []Handle {
	var out []Handle
	t.m.Range(func(qh Handle, e *queryEntry) bool {
		if e.owner == h {
			out = append(out, qh)
		}
		return true
	})
	return out
}

func (t *queryTable) handles() []Handle {
	var out []Handle
	t.m.Range(func(h Handle, _ *queryEntry) bool {
		out = append(out, h)
		return true
	})
	return out
}
