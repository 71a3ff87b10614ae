package common

import (
	"strings"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"
	rqlitesql "github.com/rqlite/sql"
)

// Cache size for classified statements
const classifyCacheSize = 4096

// classifyCache memoises StatementCode keyed by XXH64 hash of the statement text
var classifyCache *lru.Cache[uint64, classifiedEntry]

type classifiedEntry struct {
	text      string
	code      StatementCode
	returning bool
}

func init() {
	var err error
	classifyCache, err = lru.New[uint64, classifiedEntry](classifyCacheSize)
	if err != nil {
		panic("failed to create classify cache: " + err.Error())
	}
}

// Classify returns the StatementCode of the first statement in sql.
// Uses the rqlite/sql SQLite parser; parse failures yield StatementUnsupported.
func Classify(sql string) StatementCode {
	return classify(sql).code
}

// ReturnsRows reports whether the first statement in sql produces a result
// set: queries, statements the parser could not place, and mutations with a
// RETURNING clause.
func ReturnsRows(sql string) bool {
	e := classify(sql)
	return e.returning || e.code.ReturnsRows()
}

func classify(sql string) classifiedEntry {
	text := strings.TrimSpace(sql)
	if text == "" {
		return classifiedEntry{code: StatementUnknown}
	}

	hash := xxhash.Sum64String(text)
	if cached, ok := classifyCache.Get(hash); ok && cached.text == text {
		return cached
	}

	code, returning := classifyFromAST(text)
	entry := classifiedEntry{text: text, code: code, returning: returning}
	classifyCache.Add(hash, entry)
	return entry
}

func classifyFromAST(text string) (StatementCode, bool) {
	parser := rqlitesql.NewParser(strings.NewReader(text))
	stmt, err := parser.ParseStatement()
	if err != nil {
		return StatementUnsupported, false
	}

	switch s := stmt.(type) {
	case *rqlitesql.InsertStatement:
		if s.InsertOrReplace.IsValid() || s.Replace.IsValid() {
			return StatementReplace, s.ReturningClause != nil
		}
		return StatementInsert, s.ReturningClause != nil
	case *rqlitesql.UpdateStatement:
		return StatementUpdate, s.ReturningClause != nil
	case *rqlitesql.DeleteStatement:
		return StatementDelete, s.ReturningClause != nil
	}
	return codeOf(stmt), false
}

func codeOf(stmt rqlitesql.Statement) StatementCode {
	switch stmt.(type) {
	case *rqlitesql.SelectStatement:
		return StatementSelect
	case *rqlitesql.CreateTableStatement,
		*rqlitesql.CreateIndexStatement,
		*rqlitesql.CreateViewStatement,
		*rqlitesql.CreateTriggerStatement,
		*rqlitesql.DropTableStatement,
		*rqlitesql.DropIndexStatement,
		*rqlitesql.DropViewStatement,
		*rqlitesql.DropTriggerStatement,
		*rqlitesql.AlterTableStatement:
		return StatementDDL
	case *rqlitesql.BeginStatement:
		return StatementBegin
	case *rqlitesql.CommitStatement:
		return StatementCommit
	case *rqlitesql.RollbackStatement:
		return StatementRollback
	case *rqlitesql.SavepointStatement, *rqlitesql.ReleaseStatement:
		return StatementSavepoint
	case *rqlitesql.AnalyzeStatement, *rqlitesql.ExplainStatement:
		return StatementAdmin
	default:
		return StatementUnsupported
	}
}
