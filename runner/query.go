package runner

import (
	"fmt"
	"sync"

	"github.com/maxpert/sqlrunner/db"
)

// Query is the caller-side façade of a query handle. Prepare, Bind and
// Exec only queue work; results become visible once the matching
// QueryFinished event has been dispatched.
type Query struct {
	runner *Runner
	handle Handle
	owner  Handle
	entry  *queryEntry

	mu          sync.Mutex
	prepared    bool
	execSeq     uint64
	execStarted bool
	finished    bool
	disposed    bool
	ok          bool
	rows        [][]any
	columns     []string
	affected    int64
	executed    string
	err         error
	cursor      int
	onFinished  func(q *Query, ok bool)
}

func newQuery(r *Runner, e *queryEntry) *Query {
	return &Query{
		runner:   r,
		handle:   e.handle,
		owner:    e.owner,
		entry:    e,
		affected: -1,
		cursor:   -1,
	}
}

func (q *Query) Handle() Handle {
	return q.handle
}

// Database returns the owning database handle
func (q *Query) Database() Handle {
	return q.owner
}

// OnFinished sets the callback run by the dispatcher after results were adopted
func (q *Query) OnFinished(fn func(q *Query, ok bool)) {
	q.mu.Lock()
	q.onFinished = fn
	q.mu.Unlock()
}

// checkLive fails for disposed queries and queries freed by a close.
// Caller holds q.mu.
func (q *Query) checkLive() error {
	if q.disposed {
		return fmt.Errorf("%w: query %d disposed", ErrInvalidHandle, q.handle)
	}
	if _, ok := q.runner.queries.load(q.handle); !ok {
		return fmt.Errorf("%w: query %d", ErrInvalidHandle, q.handle)
	}
	return nil
}

// Prepare queues text for later Exec calls
func (q *Query) Prepare(text string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.checkLive(); err != nil {
		return err
	}
	if _, err := q.runner.enqueue(&request{kind: reqPrepare, db: q.owner, query: q.handle, text: text}); err != nil {
		return err
	}
	q.prepared = true
	return nil
}

// Bind queues a 0-based positional parameter for the prepared text
func (q *Query) Bind(index int, value any, typ db.ParamType) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.checkLive(); err != nil {
		return err
	}
	_, err := q.runner.enqueue(&request{
		kind:      reqBind,
		db:        q.owner,
		query:     q.handle,
		index:     index,
		value:     value,
		paramType: typ,
	})
	return err
}

// Exec queues execution of the prepared text with the bound parameters
func (q *Query) Exec() error {
	return q.exec("")
}

// ExecSQL queues a one-shot execution of text, ignoring bindings
func (q *Query) ExecSQL(text string) error {
	if text == "" {
		return db.ErrEmptyStatement
	}
	return q.exec(text)
}

func (q *Query) exec(text string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.checkLive(); err != nil {
		return err
	}

	seq := q.execSeq + 1
	if _, err := q.runner.enqueue(&request{kind: reqExec, db: q.owner, query: q.handle, text: text, seq: seq}); err != nil {
		return err
	}

	// Results of an earlier exec are no longer visible
	q.execSeq = seq
	q.execStarted = true
	q.finished = false
	q.ok = false
	q.rows = nil
	q.columns = nil
	q.affected = -1
	q.executed = ""
	q.err = nil
	q.cursor = -1
	return nil
}

// adopt takes the buffered result of ev. Returns a drop reason when the
// event must not reach the caller.
func (q *Query) adopt(e *queryEntry, ev *Event) string {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.disposed {
		return "disposed"
	}
	if ev.seq != q.execSeq {
		// A later exec was queued; only its completion counts
		return "stale"
	}
	res, ok := e.resultFor(ev.seq)
	if !ok {
		return "stale"
	}

	q.finished = true
	q.ok = res.ok
	q.err = res.err
	q.executed = res.executed
	q.affected = res.rowsAffected
	q.columns = res.columns
	q.cursor = -1
	if res.ok {
		q.rows = res.rows
	}
	return ""
}

func (q *Query) fireFinished(ok bool) {
	q.mu.Lock()
	fn := q.onFinished
	q.mu.Unlock()

	if fn != nil {
		fn(q, ok)
	}
}

// IsFinished reports whether the latest exec's completion was dispatched
func (q *Query) IsFinished() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.finished
}

// IsActive reports whether an exec was queued and has not finished yet
func (q *Query) IsActive() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.execStarted && !q.finished
}

// OK reports whether the latest finished exec succeeded
func (q *Query) OK() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.finished && q.ok
}

// Err returns the failure of the latest finished exec, wrapping ErrExecutionFailed
func (q *Query) Err() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.err
}

// State returns the caller-visible lifecycle state
func (q *Query) State() QueryState {
	q.mu.Lock()
	defer q.mu.Unlock()
	switch {
	case q.finished:
		return QueryFinished
	case q.execStarted:
		return QueryExecuting
	case q.prepared:
		return QueryPrepared
	default:
		return QueryCreated
	}
}

// ExecutedQuery returns the statement text the latest exec ran, available
// once finished; a failed exec keeps the attempted text
func (q *Query) ExecutedQuery() string {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.finished {
		return ""
	}
	return q.executed
}

// RowCount is 0 until finished
func (q *Query) RowCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.finished {
		return 0
	}
	return len(q.rows)
}

// RowsAffected is the affected-row count of a finished write, -1 for
// statements that return rows or before finishing
func (q *Query) RowsAffected() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.finished {
		return -1
	}
	return q.affected
}

// Columns returns the result column names once finished
func (q *Query) Columns() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.finished {
		return nil
	}
	return q.columns
}

// ColumnCount returns the number of result columns once finished
func (q *Query) ColumnCount() int {
	return len(q.Columns())
}

// Next advances the cursor and reports whether it is on a row
func (q *Query) Next() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.finished {
		return false
	}
	if q.cursor+1 < len(q.rows) {
		q.cursor++
		return true
	}
	q.cursor = len(q.rows)
	return false
}

// First moves the cursor to the first row without re-executing
func (q *Query) First() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.finished || len(q.rows) == 0 {
		return false
	}
	q.cursor = 0
	return true
}

// Seek moves the cursor to row; -1 positions before the first row
func (q *Query) Seek(row int) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.finished || row < -1 || row >= len(q.rows) {
		return false
	}
	q.cursor = row
	return row >= 0
}

// At returns the cursor position, -1 before the first row
func (q *Query) At() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.cursor
}

// Value returns column col of the current row, nil when out of range
func (q *Query) Value(col int) any {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.valueAt(q.cursor, col)
}

// ValueAt returns column col of row, nil when out of range
func (q *Query) ValueAt(row, col int) any {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.valueAt(row, col)
}

func (q *Query) valueAt(row, col int) any {
	if !q.finished || row < 0 || row >= len(q.rows) {
		return nil
	}
	r := q.rows[row]
	if col < 0 || col >= len(r) {
		return nil
	}
	return r[col]
}

// Dispose queues release of the handle. Later calls on the façade fail with
// ErrInvalidHandle and a completion still in flight is dropped. Idempotent.
func (q *Query) Dispose() {
	q.mu.Lock()
	if q.disposed {
		q.mu.Unlock()
		return
	}
	q.disposed = true
	q.rows = nil
	q.finished = false
	q.mu.Unlock()

	if _, err := q.runner.enqueue(&request{kind: reqDispose, db: q.owner, query: q.handle}); err != nil {
		// Shutdown frees every query
		q.runner.logger.Debug().Err(err).Uint64("query", uint64(q.handle)).Msg("Dispose after stop")
	}
}
