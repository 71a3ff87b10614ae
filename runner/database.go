package runner

import (
	"fmt"
	"sync"
)

// Database is the caller-side façade of a database handle
type Database struct {
	runner *Runner
	handle Handle
	name   string
	entry  *dbEntry

	// caller-observed state, updated by Dispatch
	mu       sync.Mutex
	observed bool
	ok       bool
	closed   bool
	err      error
	onOpened func(d *Database, ok bool)
	onClosed func(d *Database)
}

func (d *Database) Handle() Handle {
	return d.handle
}

func (d *Database) Name() string {
	return d.name
}

// IsOpen reports whether an Opened event with ok=true was dispatched and
// no Closed event followed
func (d *Database) IsOpen() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.observed && d.ok && !d.closed
}

// IsClosed reports whether the Closed event was dispatched
func (d *Database) IsClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

// Err returns the open failure, wrapping ErrOpenFailed
func (d *Database) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.err
}

// State returns the worker-side state of the handle
func (d *Database) State() DatabaseState {
	return d.entry.getState()
}

// OnOpened sets the callback run by the dispatcher when the open completes
func (d *Database) OnOpened(fn func(d *Database, ok bool)) {
	d.mu.Lock()
	d.onOpened = fn
	d.mu.Unlock()
}

// OnClosed sets the callback run by the dispatcher when the close completes
func (d *Database) OnClosed(fn func(d *Database)) {
	d.mu.Lock()
	d.onClosed = fn
	d.mu.Unlock()
}

// NewQuery registers a query on this database
func (d *Database) NewQuery() (*Query, error) {
	return d.runner.NewQuery(d.handle)
}

// Exec is shorthand for NewQuery followed by ExecSQL
func (d *Database) Exec(text string) (*Query, error) {
	q, err := d.NewQuery()
	if err != nil {
		return nil, err
	}
	if err := q.ExecSQL(text); err != nil {
		q.Dispose()
		return nil, err
	}
	return q, nil
}

// Close queues the close. Queries of this database are freed by the
// worker. Closing twice is a no-op.
func (d *Database) Close() error {
	if _, ok := d.runner.databases.load(d.handle); !ok {
		return nil
	}
	if !d.entry.markClosing() {
		return nil
	}
	if _, err := d.runner.enqueue(&request{kind: reqClose, db: d.handle}); err != nil {
		return fmt.Errorf("close database %d: %w", d.handle, err)
	}
	return nil
}

func (d *Database) observeOpened(ok bool, err error) {
	d.mu.Lock()
	d.observed = true
	d.ok = ok
	d.err = err
	fn := d.onOpened
	d.mu.Unlock()

	if fn != nil {
		fn(d, ok)
	}
}

func (d *Database) observeClosed() {
	d.mu.Lock()
	d.closed = true
	fn := d.onClosed
	d.mu.Unlock()

	if fn != nil {
		fn(d)
	}
}
