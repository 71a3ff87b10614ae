package runner

import (
	"fmt"

	"github.com/maxpert/sqlrunner/common"
	"github.com/maxpert/sqlrunner/db"
	"github.com/maxpert/sqlrunner/telemetry"
)

// corrupted records a request whose handle vanished between enqueue and
// processing. The handle's removal means nobody is waiting for it.
func (r *Runner) corrupted(req *request) {
	telemetry.CorruptedRequestsTotal.Inc()
	r.logger.Debug().
		Uint64("request_id", req.id).
		Str("kind", req.kind.String()).
		Uint64("db", uint64(req.db)).
		Uint64("query", uint64(req.query)).
		Msg("Ignoring request for vanished handle")
}

func (r *Runner) handleOpen(req *request) {
	e, ok := r.databases.load(req.db)
	if !ok {
		r.corrupted(req)
		return
	}

	conn, err := r.opts.Driver.Open(r.ctx, e.name)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrOpenFailed, err)
		e.mu.Lock()
		e.err = err
		if e.state == DatabaseOpening {
			e.state = DatabaseFailed
		}
		e.mu.Unlock()
		r.logger.Warn().Err(err).Str("name", e.name).Uint64("db", uint64(e.handle)).Msg("Open failed")
		r.emit(Event{Kind: EventOpened, RequestID: req.id, DB: e.handle, Database: e.name, OK: false, Err: err, database: e.facade})
		return
	}

	e.conn = conn
	// A Close queued behind this open keeps the entry in closing
	e.mu.Lock()
	if e.state == DatabaseOpening {
		e.state = DatabaseOpen
	}
	e.mu.Unlock()
	telemetry.OpenDatabases.Set(float64(r.openCount.Add(1)))

	r.logger.Debug().Str("name", e.name).Uint64("db", uint64(e.handle)).Msg("Database opened")
	r.emit(Event{Kind: EventOpened, RequestID: req.id, DB: e.handle, Database: e.name, OK: true, database: e.facade})
}

func (r *Runner) handleClose(req *request) {
	e, ok := r.databases.remove(req.db)
	if !ok {
		r.corrupted(req)
		return
	}

	err := r.closeEntry(e)
	r.emit(Event{Kind: EventClosed, RequestID: req.id, DB: e.handle, Database: e.name, OK: err == nil, Err: err, database: e.facade})
}

// closeEntry frees every query of e, then its connection
func (r *Runner) closeEntry(e *dbEntry) error {
	for _, qh := range r.queries.ownedBy(e.handle) {
		r.freeQuery(qh)
	}

	var err error
	if e.conn != nil {
		err = e.conn.Close()
		e.conn = nil
		telemetry.OpenDatabases.Set(float64(r.openCount.Add(-1)))
	}
	if err != nil {
		r.logger.Warn().Err(err).Str("name", e.name).Msg("Close failed")
	}
	e.setState(DatabaseClosed, err)
	return err
}

// closeAll closes every database still in the table and frees stray queries
func (r *Runner) closeAll() {
	for _, h := range r.databases.handles() {
		e, ok := r.databases.remove(h)
		if !ok {
			continue
		}
		err := r.closeEntry(e)
		r.emit(Event{Kind: EventClosed, DB: e.handle, Database: e.name, OK: err == nil, Err: err, database: e.facade})
	}

	for _, qh := range r.queries.handles() {
		r.freeQuery(qh)
	}
}

// freeQuery removes a query from the table and closes its statement
func (r *Runner) freeQuery(h Handle) bool {
	e, ok := r.queries.remove(h)
	if !ok {
		return false
	}
	if e.stmt != nil {
		if err := e.stmt.Close(); err != nil {
			r.logger.Debug().Err(err).Uint64("query", uint64(h)).Msg("Statement close failed")
		}
		e.stmt = nil
	}
	telemetry.LiveQueries.Set(float64(r.liveQueries.Add(-1)))
	return true
}

// statementFor returns the query's statement, creating it on the owner's
// connection the first time
func (r *Runner) statementFor(q *queryEntry) (db.Statement, error) {
	if q.stmt != nil {
		return q.stmt, nil
	}

	owner, ok := r.databases.load(q.owner)
	if !ok || owner.conn == nil {
		if ok {
			owner.mu.Lock()
			cause := owner.err
			owner.mu.Unlock()
			if cause != nil {
				return nil, fmt.Errorf("%w: %w", ErrNotOpen, cause)
			}
		}
		return nil, ErrNotOpen
	}

	q.stmt = owner.conn.NewStatement()
	return q.stmt, nil
}

func (r *Runner) handlePrepare(req *request) {
	q, ok := r.queries.load(req.query)
	if !ok {
		r.corrupted(req)
		return
	}

	stmt, err := r.statementFor(q)
	if err != nil {
		// Exec reports it
		r.logger.Debug().Err(err).Uint64("query", uint64(q.handle)).Msg("Prepare without connection")
		return
	}

	if err := stmt.Prepare(req.text); err != nil {
		r.logger.Debug().Err(err).Uint64("query", uint64(q.handle)).Str("sql", req.text).Msg("Prepare failed")
	}
	q.setState(QueryPrepared)
}

func (r *Runner) handleBind(req *request) {
	q, ok := r.queries.load(req.query)
	if !ok {
		r.corrupted(req)
		return
	}

	stmt, err := r.statementFor(q)
	if err != nil {
		return
	}

	if err := stmt.Bind(req.index, req.value, req.paramType); err != nil {
		r.logger.Debug().Err(err).Uint64("query", uint64(q.handle)).Int("index", req.index).Msg("Bind failed")
	}
}

func (r *Runner) handleExec(req *request) {
	q, ok := r.queries.load(req.query)
	if !ok {
		r.corrupted(req)
		return
	}
	q.setState(QueryExecuting)

	res := r.runExec(q, req)
	res.seq = req.seq
	res.ok = res.err == nil
	q.finish(res)

	code := common.Classify(res.executed)
	telemetry.StatementsTotal.With(code.String(), telemetry.ResultLabel(res.ok)).Inc()
	if res.ok {
		if res.rowsAffected >= 0 {
			telemetry.RowsAffected.Observe(float64(res.rowsAffected))
		} else {
			telemetry.RowsReturned.Observe(float64(len(res.rows)))
		}
	} else {
		r.logger.Warn().
			Err(res.err).
			Uint64("query", uint64(q.handle)).
			Str("sql", res.executed).
			Msg("Statement failed")
	}

	r.emit(Event{Kind: EventQueryFinished, RequestID: req.id, DB: q.owner, Query: q.handle, OK: res.ok, Err: res.err, seq: req.seq})
}

// runExec executes and eagerly materialises the full result set
func (r *Runner) runExec(q *queryEntry, req *request) queryResult {
	res := queryResult{rowsAffected: -1, executed: req.text}

	stmt, err := r.statementFor(q)
	if err != nil {
		res.err = fmt.Errorf("%w: %w", ErrExecutionFailed, err)
		return res
	}

	err = stmt.Exec(r.ctx, req.text)
	res.executed = stmt.ExecutedText()
	if err != nil {
		res.err = fmt.Errorf("%w: %w", ErrExecutionFailed, err)
		return res
	}

	limit := r.opts.MaxResultRows
	var rows [][]any
	for stmt.Next() {
		if limit > 0 && len(rows) >= limit {
			stmt.Reset()
			res.err = fmt.Errorf("%w: %w: more than %d rows", ErrExecutionFailed, ErrResultTooLarge, limit)
			return res
		}
		row := make([]any, stmt.ColumnCount())
		for c := range row {
			row[c] = stmt.Value(c)
		}
		rows = append(rows, row)
	}
	if err := stmt.Err(); err != nil {
		res.err = fmt.Errorf("%w: %w", ErrExecutionFailed, err)
		return res
	}

	res.rows = rows
	res.columns = append([]string(nil), stmt.Columns()...)
	res.rowsAffected = stmt.RowsAffected()
	return res
}

func (r *Runner) handleDispose(req *request) {
	if !r.freeQuery(req.query) {
		// Already freed, e.g. by closing its database
		r.logger.Debug().Uint64("query", uint64(req.query)).Msg("Dispose of freed query")
	}
}

func (r *Runner) handleMark(req *request) {
	r.emit(Event{Kind: EventMarkReached, RequestID: req.id, Mark: req.id, OK: true})
}
