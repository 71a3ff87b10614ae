package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/maxpert/sqlrunner/cfg"
	"github.com/maxpert/sqlrunner/common"
	"github.com/rs/zerolog/log"
)

// SQLiteOptions controls how SQLiteDriver opens connections
type SQLiteOptions struct {
	JournalMode        string
	Synchronous        string
	BusyTimeoutMS      int
	ForeignKeys        bool
	Pragmas            []string
	StatementCacheSize int
}

// SQLiteOptionsFromConfig maps the [sqlite] and [runner] sections
func SQLiteOptionsFromConfig(c *cfg.Configuration) SQLiteOptions {
	return SQLiteOptions{
		JournalMode:        c.SQLite.JournalMode,
		Synchronous:        c.SQLite.Synchronous,
		BusyTimeoutMS:      c.SQLite.BusyTimeoutMS,
		ForeignKeys:        c.SQLite.ForeignKeys,
		Pragmas:            c.SQLite.Pragmas,
		StatementCacheSize: c.Runner.StatementCacheSize,
	}
}

func (o SQLiteOptions) pragmas() []string {
	var pragmas []string
	if o.BusyTimeoutMS > 0 {
		pragmas = append(pragmas, fmt.Sprintf("PRAGMA busy_timeout = %d", o.BusyTimeoutMS))
	}
	if o.JournalMode != "" {
		pragmas = append(pragmas, "PRAGMA journal_mode = "+strings.ToUpper(o.JournalMode))
	}
	if o.Synchronous != "" {
		pragmas = append(pragmas, "PRAGMA synchronous = "+strings.ToUpper(o.Synchronous))
	}
	if o.ForeignKeys {
		pragmas = append(pragmas, "PRAGMA foreign_keys = ON")
	}
	return append(pragmas, o.Pragmas...)
}

// SQLiteDriver opens go-sqlite3 connections through the REGEXP-enabled driver
type SQLiteDriver struct {
	opts SQLiteOptions
}

func NewSQLiteDriver(opts SQLiteOptions) *SQLiteDriver {
	if opts.StatementCacheSize < 1 {
		opts.StatementCacheSize = 64
	}
	return &SQLiteDriver{opts: opts}
}

// Open connects to name, a file path or ":memory:". Parent directories are
// not created; a missing directory fails the open.
func (d *SQLiteDriver) Open(ctx context.Context, name string) (Conn, error) {
	if name == "" {
		return nil, errors.New("empty database name")
	}

	sqlDB, err := sql.Open(SQLiteDriverName, name)
	if err != nil {
		return nil, err
	}

	// Exactly one connection per database handle
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(0)

	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		sqlDB.Close()
		return nil, err
	}

	for _, pragma := range d.opts.pragmas() {
		if _, err := conn.ExecContext(ctx, pragma); err != nil {
			conn.Close()
			sqlDB.Close()
			return nil, fmt.Errorf("failed to set %s: %w", pragma, err)
		}
	}

	// Touch the schema so unreadable or non-database files fail here
	var n int
	if err := conn.QueryRowContext(ctx, "SELECT count(*) FROM sqlite_master").Scan(&n); err != nil {
		conn.Close()
		sqlDB.Close()
		return nil, err
	}

	stmts, err := NewStatementCache(conn, d.opts.StatementCacheSize)
	if err != nil {
		conn.Close()
		sqlDB.Close()
		return nil, err
	}

	return &SQLiteConn{name: name, db: sqlDB, conn: conn, stmts: stmts}, nil
}

// SQLiteConn is a dedicated connection plus its prepared statement cache
type SQLiteConn struct {
	name  string
	db    *sql.DB
	conn  *sql.Conn
	stmts *StatementCache
}

func (c *SQLiteConn) Name() string {
	return c.name
}

func (c *SQLiteConn) NewStatement() Statement {
	return &SQLiteStatement{conn: c, affected: -1}
}

func (c *SQLiteConn) Close() error {
	c.stmts.Purge()
	err := c.conn.Close()
	if dbErr := c.db.Close(); err == nil {
		err = dbErr
	}
	return err
}

type boundParam struct {
	set   bool
	value any
}

// SQLiteStatement implements Statement over database/sql
type SQLiteStatement struct {
	conn *SQLiteConn

	prepared   string
	prepareErr error
	owned      *sql.Stmt // uncacheable prepared statement, closed with us
	params     []boundParam
	bindErr    error

	rows     *sql.Rows
	columns  []string
	current  []any
	affected int64
	executed string
	err      error

	// set while a RETURNING cursor is open; affected is read once it drains
	countChanges bool
}

// Prepare validates text on the connection and keeps it for later Exec
// calls. Previous bindings are discarded. A failed prepare is reported
// again by the next Exec.
func (s *SQLiteStatement) Prepare(text string) error {
	s.Reset()
	s.releaseOwned()
	s.prepared = text
	s.params = s.params[:0]
	s.bindErr = nil

	stmt, owned, err := s.conn.stmts.Get(context.Background(), text)
	s.prepareErr = err
	if err != nil {
		return err
	}
	if owned {
		s.owned = stmt
	}
	return nil
}

// Bind sets the 0-based positional parameter index
func (s *SQLiteStatement) Bind(index int, value any, typ ParamType) error {
	if index < 0 {
		return fmt.Errorf("invalid bind index %d", index)
	}

	switch typ {
	case ParamOut, ParamInOut:
		err := fmt.Errorf("%w: %s at index %d", ErrUnsupportedParam, typ, index)
		if s.bindErr == nil {
			s.bindErr = err
		}
		return err
	case ParamBinary:
		if str, ok := value.(string); ok {
			value = []byte(str)
		}
	}

	for len(s.params) <= index {
		s.params = append(s.params, boundParam{})
	}
	s.params[index] = boundParam{set: true, value: value}
	return nil
}

func (s *SQLiteStatement) args() []any {
	args := make([]any, len(s.params))
	for i, p := range s.params {
		if p.set {
			args[i] = p.value
		}
	}
	return args
}

// Exec runs text once, or the prepared statement when text is empty
func (s *SQLiteStatement) Exec(ctx context.Context, text string) error {
	s.Reset()
	s.columns = nil
	s.affected = -1
	s.err = nil

	if text != "" {
		s.executed = text
		if strings.TrimSpace(text) == "" {
			return ErrEmptyStatement
		}
		return s.runText(ctx, text)
	}

	s.executed = s.prepared
	if s.prepared == "" {
		return ErrNotPrepared
	}
	if s.prepareErr != nil {
		return s.prepareErr
	}
	if s.bindErr != nil {
		return s.bindErr
	}

	stmt := s.owned
	if stmt == nil {
		var err error
		// Re-fetched every time; the cached copy may have been evicted since Prepare
		stmt, _, err = s.conn.stmts.Get(ctx, s.prepared)
		if err != nil {
			return err
		}
	}
	return s.run(ctx, s.prepared, "", stmt)
}

// runText executes ad hoc text. A script whose last statement yields rows
// runs its leading statements first so that every statement takes effect
// and the result set is the last one's.
func (s *SQLiteStatement) runText(ctx context.Context, text string) error {
	if !isScript(text) {
		return s.run(ctx, text, text, nil)
	}

	parts, err := common.SplitStatements(text)
	if err != nil || len(parts) < 2 {
		return s.run(ctx, text, text, nil)
	}

	last := parts[len(parts)-1]
	if !common.ReturnsRows(last) {
		// One call runs the whole script
		return s.runExec(ctx, text, nil, nil)
	}

	for _, part := range parts[:len(parts)-1] {
		if _, err := s.conn.conn.ExecContext(ctx, part); err != nil {
			return err
		}
	}
	return s.run(ctx, last, last, nil)
}

// isScript is a cheap pre-check for a ';' before the trailing one
func isScript(text string) bool {
	trimmed := strings.TrimRight(strings.TrimSpace(text), "; \t\r\n")
	return strings.Contains(trimmed, ";")
}

// run executes one statement, classified by source. Text is used when stmt is nil.
func (s *SQLiteStatement) run(ctx context.Context, source, text string, stmt *sql.Stmt) error {
	var args []any
	if stmt != nil {
		args = s.args()
	}

	// Mutations, DDL and transaction control go through Exec so that
	// multi-statement scripts run completely and affected rows are real
	if !common.ReturnsRows(source) {
		return s.runExec(ctx, text, stmt, args)
	}

	var (
		rows *sql.Rows
		err  error
	)
	if stmt != nil {
		rows, err = stmt.QueryContext(ctx, args...)
	} else {
		rows, err = s.conn.conn.QueryContext(ctx, text)
	}
	if err != nil {
		return err
	}

	columns, err := rows.Columns()
	if err != nil {
		rows.Close()
		return err
	}
	s.rows = rows
	s.columns = columns
	if common.Classify(source).IsMutation() {
		s.countChanges = true
	}
	return nil
}

func (s *SQLiteStatement) runExec(ctx context.Context, text string, stmt *sql.Stmt, args []any) error {
	var (
		res sql.Result
		err error
	)
	if stmt != nil {
		res, err = stmt.ExecContext(ctx, args...)
	} else {
		res, err = s.conn.conn.ExecContext(ctx, text)
	}
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil {
		s.affected = n
	}
	return nil
}

func (s *SQLiteStatement) Next() bool {
	s.current = nil
	if s.rows == nil {
		return false
	}

	if !s.rows.Next() {
		s.err = s.rows.Err()
		count := s.countChanges
		s.Reset()
		if count && s.err == nil {
			s.err = s.conn.conn.QueryRowContext(context.Background(), "SELECT changes()").Scan(&s.affected)
		}
		return false
	}

	values := make([]any, len(s.columns))
	ptrs := make([]any, len(s.columns))
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := s.rows.Scan(ptrs...); err != nil {
		s.err = err
		s.Reset()
		return false
	}
	s.current = values
	return true
}

func (s *SQLiteStatement) Value(col int) any {
	if col < 0 || col >= len(s.current) {
		return nil
	}
	return s.current[col]
}

func (s *SQLiteStatement) ColumnCount() int {
	return len(s.columns)
}

func (s *SQLiteStatement) Columns() []string {
	return s.columns
}

// RowsAffected is -1 for statements that return rows, except RETURNING
// mutations once their rows are drained
func (s *SQLiteStatement) RowsAffected() int64 {
	return s.affected
}

func (s *SQLiteStatement) ExecutedText() string {
	return s.executed
}

func (s *SQLiteStatement) Err() error {
	return s.err
}

// Reset closes an open cursor, keeping the prepared text and bindings
func (s *SQLiteStatement) Reset() error {
	s.countChanges = false
	if s.rows == nil {
		return nil
	}
	err := s.rows.Close()
	s.rows = nil
	return err
}

func (s *SQLiteStatement) releaseOwned() {
	if s.owned == nil {
		return
	}
	if err := s.owned.Close(); err != nil {
		log.Debug().Err(err).Str("sql", s.prepared).Msg("Failed to close statement")
	}
	s.owned = nil
}

func (s *SQLiteStatement) Close() error {
	err := s.Reset()
	s.releaseOwned()
	s.params = nil
	s.current = nil
	return err
}
