// Package geobase is an asynchronous client for the map-data database:
// nodes, ways, relations, their tags and parcel assignments. Every call
// queues work on a runner and returns at once; lookups resolve futures from
// the runner's dispatch goroutine.
package geobase

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"
	"github.com/jizhuozhi/go-future"
	"github.com/maxpert/sqlrunner/cfg"
	"github.com/maxpert/sqlrunner/runner"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	// ErrNotStarted is returned by calls made before Start
	ErrNotStarted = errors.New("geobase not started")

	// ErrUnknownElement names a schema element without an embedded definition
	ErrUnknownElement = errors.New("unknown schema element")
)

// DefaultElements lists the schema elements checked at startup, in
// creation order
var DefaultElements = []string{
	"nodes",
	"nodelatindex",
	"nodelonindex",
	"ways",
	"nodetags",
	"waytags",
	"waynodes",
	"nodeparcels",
	"wayparcels",
	"relations",
	"relationparts",
	"relationtags",
}

// Client drives one geobase file through a runner
type Client struct {
	runner   *runner.Runner
	path     string
	elements []string
	dialect  goqu.DialectWrapper
	logger   zerolog.Logger

	startOnce sync.Once
	db        *runner.Database
	ready     *future.Promise[struct{}]

	// dispatch goroutine only
	checkErrs []error
	created   []string

	mu    sync.Mutex
	marks map[uint64]*future.Promise[uint64]

	writeFailures atomic.Int64
}

// NewClient creates a client for path. A nil or empty elements list
// means DefaultElements. The client takes over the runner's
// MarkReached callback.
func NewClient(r *runner.Runner, path string, elements []string) *Client {
	if len(elements) == 0 {
		elements = DefaultElements
	}
	c := &Client{
		runner:   r,
		path:     path,
		elements: append([]string(nil), elements...),
		dialect:  goqu.Dialect("sqlite3"),
		logger:   log.With().Str("component", "geobase").Str("path", path).Logger(),
		ready:    future.NewPromise[struct{}](),
		marks:    make(map[uint64]*future.Promise[uint64]),
	}
	r.OnMarkReached(c.markReached)
	return c
}

// NewClientFromConfig uses the [geobase] section
func NewClientFromConfig(r *runner.Runner, c *cfg.Configuration) *Client {
	return NewClient(r, c.Geobase.Path, c.Geobase.Elements)
}

// Start makes sure the file exists, queues the open and, once it is
// open, checks every schema element and creates the missing ones.
// Ready resolves when the check is complete. Calling Start again is a no-op.
func (c *Client) Start() error {
	var err error
	c.startOnce.Do(func() {
		if err = CheckFileExists(c.path); err != nil {
			c.ready.Set(struct{}{}, err)
			return
		}

		c.db, err = c.runner.OpenDatabaseFunc(c.path, c.opened)
		if err != nil {
			err = fmt.Errorf("open geobase %s: %w", c.path, err)
			c.ready.Set(struct{}{}, err)
			return
		}
		c.logger.Info().Uint64("db", uint64(c.db.Handle())).Msg("Geobase open requested")
	})
	return err
}

// Ready resolves once the schema check finished, with the first failure
// if the database could not be opened or an element could not be created
func (c *Client) Ready() *future.Future[struct{}] {
	return c.ready.Future()
}

// Database returns the runner façade, nil before Start
func (c *Client) Database() *runner.Database {
	return c.db
}

// Created lists the elements created by the schema check. Read it after
// Ready resolved.
func (c *Client) Created() []string {
	return append([]string(nil), c.created...)
}

// PendingRequestCount returns the runner's queued and in-flight requests
func (c *Client) PendingRequestCount() int {
	return c.runner.PendingRequestCount()
}

// Throttled reports whether producers should pause writes
func (c *Client) Throttled() bool {
	return c.runner.Throttled()
}

// WriteFailures returns how many fire-and-forget writes failed
func (c *Client) WriteFailures() int64 {
	return c.writeFailures.Load()
}

// Flush queues a mark; the future resolves with the mark id after every
// request queued before it has completed
func (c *Client) Flush() (*future.Future[uint64], error) {
	p := future.NewPromise[uint64]()

	// Hold the lock so the mark cannot be reached before it is registered
	c.mu.Lock()
	defer c.mu.Unlock()
	mark, err := c.runner.Mark()
	if err != nil {
		return nil, err
	}
	c.marks[mark] = p
	return p.Future(), nil
}

func (c *Client) markReached(mark uint64) {
	c.mu.Lock()
	p, ok := c.marks[mark]
	delete(c.marks, mark)
	c.mu.Unlock()

	if ok {
		p.Set(mark, nil)
	}
}

// Begin queues BEGIN on the geobase connection
func (c *Client) Begin() error {
	return c.fireAndForget("BEGIN", nil)
}

// Commit queues COMMIT on the geobase connection
func (c *Client) Commit() error {
	return c.fireAndForget("COMMIT", nil)
}

// Close queues the close of the geobase database
func (c *Client) Close() error {
	if c.db == nil {
		return ErrNotStarted
	}
	return c.db.Close()
}

// CheckFileExists creates filename, and its directory, when missing
func CheckFileExists(filename string) error {
	if _, err := os.Stat(filename); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(filename), 0755); err != nil {
		return fmt.Errorf("create geobase directory: %w", err)
	}
	f, err := os.OpenFile(filename, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return fmt.Errorf("create geobase file: %w", err)
	}
	return f.Close()
}
