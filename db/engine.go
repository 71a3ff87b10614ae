package db

import (
	"context"
	"errors"
)

// ErrUnsupportedParam is returned by Exec when a parameter was bound with a
// direction the engine cannot honour
var ErrUnsupportedParam = errors.New("unsupported parameter type")

// ErrEmptyStatement is returned by Exec for blank one-shot text
var ErrEmptyStatement = errors.New("empty statement")

// ErrNotPrepared is returned by Exec when no text was prepared or supplied
var ErrNotPrepared = errors.New("statement not prepared")

// ParamType is the direction of a bound parameter
type ParamType int

const (
	ParamIn ParamType = iota
	ParamOut
	ParamInOut
	ParamBinary
)

func (p ParamType) String() string {
	switch p {
	case ParamIn:
		return "IN"
	case ParamOut:
		return "OUT"
	case ParamInOut:
		return "INOUT"
	case ParamBinary:
		return "BINARY"
	default:
		return "UNKNOWN"
	}
}

// Driver opens connections to named databases.
type Driver interface {
	Open(ctx context.Context, name string) (Conn, error)
}

// Conn is one open database connection. Not safe for concurrent use;
// the runner worker is its only user.
type Conn interface {
	Name() string
	NewStatement() Statement
	Close() error
}

// Statement is a reusable prepare/bind/exec/fetch cursor on a Conn.
//
// Exec with empty text runs the prepared text with the bound parameters;
// non-empty text runs that text once, ignoring bindings. After a
// successful Exec, Next steps through the result rows and Err reports any
// error hit while stepping. Reset abandons an unfinished cursor.
type Statement interface {
	Prepare(text string) error
	Bind(index int, value any, typ ParamType) error
	Exec(ctx context.Context, text string) error
	Next() bool
	Value(col int) any
	ColumnCount() int
	Columns() []string
	RowsAffected() int64
	ExecutedText() string
	Err() error
	Reset() error
	Close() error
}
