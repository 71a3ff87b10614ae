package runner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/maxpert/sqlrunner/db"
)

// recordingDriver is an in-memory engine that logs every call it sees
type recordingDriver struct {
	mu       sync.Mutex
	calls    []string
	failOpen map[string]bool
	closed   map[string]int
}

func newRecordingDriver() *recordingDriver {
	return &recordingDriver{failOpen: map[string]bool{}, closed: map[string]int{}}
}

func (d *recordingDriver) record(format string, args ...any) {
	d.mu.Lock()
	d.calls = append(d.calls, fmt.Sprintf(format, args...))
	d.mu.Unlock()
}

func (d *recordingDriver) log() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.calls...)
}

func (d *recordingDriver) closeCount(name string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed[name]
}

func (d *recordingDriver) Open(_ context.Context, name string) (db.Conn, error) {
	d.record("open %s", name)
	d.mu.Lock()
	fail := d.failOpen[name]
	d.mu.Unlock()
	if fail {
		return nil, errors.New("cannot open " + name)
	}
	return &recordingConn{driver: d, name: name}, nil
}

type recordingConn struct {
	driver *recordingDriver
	name   string
}

func (c *recordingConn) Name() string { return c.name }

func (c *recordingConn) NewStatement() db.Statement {
	return &recordingStatement{conn: c}
}

func (c *recordingConn) Close() error {
	c.driver.record("close %s", c.name)
	c.driver.mu.Lock()
	c.driver.closed[c.name]++
	c.driver.mu.Unlock()
	return nil
}

// recordingStatement echoes its input as rows: one row per bound
// parameter, or a single row holding the executed text.
// Text containing FAIL errors, PANIC panics.
type recordingStatement struct {
	conn     *recordingConn
	prepared string
	params   []any
	executed string
	rows     [][]any
	cursor   int
}

func (s *recordingStatement) Prepare(text string) error {
	s.conn.driver.record("prepare %s", text)
	s.prepared = text
	s.params = nil
	return nil
}

func (s *recordingStatement) Bind(index int, value any, _ db.ParamType) error {
	s.conn.driver.record("bind %d=%v", index, value)
	for len(s.params) <= index {
		s.params = append(s.params, nil)
	}
	s.params[index] = value
	return nil
}

func (s *recordingStatement) Exec(_ context.Context, text string) error {
	s.rows = nil
	s.cursor = -1
	s.executed = text
	if text == "" {
		s.executed = s.prepared
	}
	s.conn.driver.record("exec %s", s.executed)

	if strings.Contains(s.executed, "PANIC") {
		panic("statement exploded")
	}
	if strings.Contains(s.executed, "FAIL") {
		return errors.New("syntax error near FAIL")
	}

	if text == "" && len(s.params) > 0 {
		for _, p := range s.params {
			s.rows = append(s.rows, []any{p})
		}
		return nil
	}
	s.rows = [][]any{{s.executed}}
	return nil
}

func (s *recordingStatement) Next() bool {
	if s.cursor+1 >= len(s.rows) {
		return false
	}
	s.cursor++
	return true
}

func (s *recordingStatement) Value(col int) any {
	if s.cursor < 0 || s.cursor >= len(s.rows) || col >= len(s.rows[s.cursor]) {
		return nil
	}
	return s.rows[s.cursor][col]
}

func (s *recordingStatement) ColumnCount() int     { return 1 }
func (s *recordingStatement) Columns() []string    { return []string{"value"} }
func (s *recordingStatement) RowsAffected() int64  { return -1 }
func (s *recordingStatement) ExecutedText() string { return s.executed }
func (s *recordingStatement) Err() error           { return nil }
func (s *recordingStatement) Reset() error         { s.rows = nil; return nil }
func (s *recordingStatement) Close() error         { return nil }
