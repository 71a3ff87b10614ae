package db

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestConn(t *testing.T, opts SQLiteOptions) Conn {
	t.Helper()
	path := filepath.Join(t.TempDir(), "engine.db")
	conn, err := NewSQLiteDriver(opts).Open(context.Background(), path)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func collectRows(t *testing.T, stmt Statement) [][]any {
	t.Helper()
	var rows [][]any
	for stmt.Next() {
		row := make([]any, stmt.ColumnCount())
		for c := range row {
			row[c] = stmt.Value(c)
		}
		rows = append(rows, row)
	}
	require.NoError(t, stmt.Err())
	return rows
}

func TestSQLiteEngine_RoundTrip(t *testing.T) {
	conn := openTestConn(t, SQLiteOptions{JournalMode: "WAL", Synchronous: "NORMAL", BusyTimeoutMS: 1000})
	ctx := context.Background()
	stmt := conn.NewStatement()
	defer stmt.Close()

	require.NoError(t, stmt.Exec(ctx, "CREATE TABLE t (a INTEGER, b TEXT)"))
	assert.Equal(t, 0, stmt.ColumnCount())

	require.NoError(t, stmt.Prepare("INSERT INTO t (a, b) VALUES (?, ?)"))
	require.NoError(t, stmt.Bind(0, 1, ParamIn))
	require.NoError(t, stmt.Bind(1, "x", ParamIn))
	require.NoError(t, stmt.Exec(ctx, ""))
	assert.Equal(t, int64(1), stmt.RowsAffected())
	assert.Equal(t, "INSERT INTO t (a, b) VALUES (?, ?)", stmt.ExecutedText())

	require.NoError(t, stmt.Exec(ctx, "SELECT a, b FROM t"))
	assert.Equal(t, []string{"a", "b"}, stmt.Columns())
	assert.Equal(t, int64(-1), stmt.RowsAffected())

	rows := collectRows(t, stmt)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(1), rows[0][0])
	assert.Equal(t, "x", rows[0][1])
}

func TestSQLiteEngine_PreparedReuse(t *testing.T) {
	conn := openTestConn(t, SQLiteOptions{})
	ctx := context.Background()
	stmt := conn.NewStatement()
	defer stmt.Close()

	require.NoError(t, stmt.Exec(ctx, "CREATE TABLE nodes (nodeid TEXT PRIMARY KEY, lat REAL, lon REAL)"))
	require.NoError(t, stmt.Prepare("INSERT OR REPLACE INTO nodes (nodeid, lat, lon) VALUES (?, ?, ?)"))

	for i, id := range []string{"n1", "n2", "n3"} {
		require.NoError(t, stmt.Bind(0, id, ParamIn))
		require.NoError(t, stmt.Bind(1, 45.0+float64(i), ParamIn))
		require.NoError(t, stmt.Bind(2, -75.5, ParamIn))
		require.NoError(t, stmt.Exec(ctx, ""))
	}

	require.NoError(t, stmt.Prepare("SELECT nodeid, lat FROM nodes WHERE lat > ? ORDER BY nodeid"))
	require.NoError(t, stmt.Bind(0, 45.5, ParamIn))
	require.NoError(t, stmt.Exec(ctx, ""))

	rows := collectRows(t, stmt)
	require.Len(t, rows, 2)
	assert.Equal(t, "n2", rows[0][0])
	assert.Equal(t, 46.0, rows[0][1])
}

func TestSQLiteEngine_MultiStatementScript(t *testing.T) {
	conn := openTestConn(t, SQLiteOptions{})
	ctx := context.Background()
	stmt := conn.NewStatement()
	defer stmt.Close()

	script := `CREATE TABLE ways (wayid TEXT PRIMARY KEY);
		CREATE INDEX ways_idx ON ways (wayid);
		INSERT INTO ways VALUES ('w1');`
	require.NoError(t, stmt.Exec(ctx, script))

	require.NoError(t, stmt.Exec(ctx, "SELECT name FROM sqlite_master WHERE name = 'ways_idx'"))
	assert.Len(t, collectRows(t, stmt), 1)

	require.NoError(t, stmt.Exec(ctx, "SELECT count(*) FROM ways"))
	rows := collectRows(t, stmt)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(1), rows[0][0])
}

func TestSQLiteEngine_ScriptEndingInQuery(t *testing.T) {
	conn := openTestConn(t, SQLiteOptions{})
	ctx := context.Background()
	stmt := conn.NewStatement()
	defer stmt.Close()

	script := `CREATE TABLE relations (relid INTEGER PRIMARY KEY, name TEXT);
		INSERT INTO relations (name) VALUES ('r1');
		INSERT INTO relations (name) VALUES ('r2');
		SELECT count(*) FROM relations;`
	require.NoError(t, stmt.Exec(ctx, script))
	rows := collectRows(t, stmt)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(2), rows[0][0])
	assert.Equal(t, script, stmt.ExecutedText())
}

func TestSQLiteEngine_Returning(t *testing.T) {
	conn := openTestConn(t, SQLiteOptions{})
	ctx := context.Background()
	stmt := conn.NewStatement()
	defer stmt.Close()

	require.NoError(t, stmt.Exec(ctx, "CREATE TABLE t (a INTEGER PRIMARY KEY, b TEXT)"))

	require.NoError(t, stmt.Exec(ctx, "INSERT INTO t (b) VALUES ('x') RETURNING a, b"))
	assert.Equal(t, []string{"a", "b"}, stmt.Columns())
	rows := collectRows(t, stmt)
	require.Len(t, rows, 1)
	assert.Equal(t, []any{int64(1), "x"}, rows[0])
	assert.Equal(t, int64(1), stmt.RowsAffected())

	require.NoError(t, stmt.Prepare("UPDATE t SET b = ? RETURNING b"))
	require.NoError(t, stmt.Bind(0, "y", ParamIn))
	require.NoError(t, stmt.Exec(ctx, ""))
	rows = collectRows(t, stmt)
	require.Len(t, rows, 1)
	assert.Equal(t, "y", rows[0][0])
	assert.Equal(t, int64(1), stmt.RowsAffected())

	require.NoError(t, stmt.Exec(ctx, "DELETE FROM t RETURNING a"))
	assert.Len(t, collectRows(t, stmt), 1)
	assert.Equal(t, int64(1), stmt.RowsAffected())

	require.NoError(t, stmt.Exec(ctx, "SELECT count(*) FROM t"))
	rows = collectRows(t, stmt)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(0), rows[0][0])
	assert.Equal(t, int64(-1), stmt.RowsAffected())
}

func TestSQLiteEngine_ExecErrors(t *testing.T) {
	conn := openTestConn(t, SQLiteOptions{})
	ctx := context.Background()
	stmt := conn.NewStatement()
	defer stmt.Close()

	err := stmt.Exec(ctx, "SELEC nonsense")
	assert.Error(t, err)
	assert.Equal(t, "SELEC nonsense", stmt.ExecutedText())
	assert.False(t, stmt.Next())

	err = stmt.Exec(ctx, "")
	assert.ErrorIs(t, err, ErrNotPrepared)

	assert.Error(t, stmt.Prepare("SELECT * FROM missing_table"))
	err = stmt.Exec(ctx, "")
	assert.Error(t, err)
	assert.Equal(t, "SELECT * FROM missing_table", stmt.ExecutedText())
}

func TestSQLiteEngine_UnsupportedParam(t *testing.T) {
	conn := openTestConn(t, SQLiteOptions{})
	ctx := context.Background()
	stmt := conn.NewStatement()
	defer stmt.Close()

	require.NoError(t, stmt.Prepare("SELECT ?"))
	assert.ErrorIs(t, stmt.Bind(0, 1, ParamOut), ErrUnsupportedParam)
	assert.ErrorIs(t, stmt.Exec(ctx, ""), ErrUnsupportedParam)

	// Re-preparing clears the failed binding
	require.NoError(t, stmt.Prepare("SELECT ?"))
	require.NoError(t, stmt.Bind(0, "blob", ParamBinary))
	require.NoError(t, stmt.Exec(ctx, ""))
	rows := collectRows(t, stmt)
	require.Len(t, rows, 1)
	assert.Equal(t, []byte("blob"), rows[0][0])
}

func TestSQLiteEngine_ResetAbandonsCursor(t *testing.T) {
	conn := openTestConn(t, SQLiteOptions{})
	ctx := context.Background()
	stmt := conn.NewStatement()
	defer stmt.Close()

	require.NoError(t, stmt.Exec(ctx, "WITH RECURSIVE c(x) AS (SELECT 1 UNION ALL SELECT x+1 FROM c WHERE x < 100) SELECT x FROM c"))
	require.True(t, stmt.Next())
	assert.Equal(t, int64(1), stmt.Value(0))
	require.NoError(t, stmt.Reset())
	assert.False(t, stmt.Next())

	// Connection is usable again
	other := conn.NewStatement()
	defer other.Close()
	require.NoError(t, other.Exec(ctx, "SELECT 42"))
	rows := collectRows(t, other)
	assert.Equal(t, int64(42), rows[0][0])
}

func TestSQLiteEngine_Regexp(t *testing.T) {
	conn := openTestConn(t, SQLiteOptions{})
	stmt := conn.NewStatement()
	defer stmt.Close()

	require.NoError(t, stmt.Exec(context.Background(), "SELECT 'primary_link' REGEXP '^primary'"))
	rows := collectRows(t, stmt)
	assert.Equal(t, int64(1), rows[0][0])
}

func TestSQLiteEngine_OpenFailures(t *testing.T) {
	driver := NewSQLiteDriver(SQLiteOptions{})
	ctx := context.Background()

	_, err := driver.Open(ctx, "")
	assert.Error(t, err)

	_, err = driver.Open(ctx, filepath.Join(t.TempDir(), "no", "such", "dir", "x.db"))
	assert.Error(t, err)

	garbage := filepath.Join(t.TempDir(), "garbage.db")
	require.NoError(t, os.WriteFile(garbage, []byte(strings.Repeat("not a database ", 128)), 0644))
	_, err = driver.Open(ctx, garbage)
	assert.Error(t, err)

	bad := NewSQLiteDriver(SQLiteOptions{Pragmas: []string{"PRAGMA nonsense syntax here"}})
	_, err = bad.Open(ctx, filepath.Join(t.TempDir(), "p.db"))
	assert.Error(t, err)
}

func TestSQLiteEngine_MemoryDatabase(t *testing.T) {
	conn, err := NewSQLiteDriver(SQLiteOptions{ForeignKeys: true}).Open(context.Background(), ":memory:")
	require.NoError(t, err)
	defer conn.Close()

	assert.Equal(t, ":memory:", conn.Name())

	stmt := conn.NewStatement()
	require.NoError(t, stmt.Exec(context.Background(), "PRAGMA foreign_keys"))
	rows := collectRows(t, stmt)
	assert.Equal(t, int64(1), rows[0][0])
}
