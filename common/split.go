package common

import (
	"errors"
	"io"
	"strings"

	rqlitesql "github.com/rqlite/sql"
)

// SplitStatements parses a ';'-separated script into individual statements,
// each rendered back to SQLite text. Fails on the first statement the parser
// rejects.
func SplitStatements(script string) ([]string, error) {
	parser := rqlitesql.NewParser(strings.NewReader(script))

	var out []string
	for {
		stmt, err := parser.ParseStatement()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out = append(out, stmt.String())
	}
}
