// Package common provides statement classification shared by the engine and telemetry.
package common

// StatementCode categorizes SQL statements for execution routing and metrics.
type StatementCode int

const (
	StatementUnknown StatementCode = iota // 0 - means not yet classified
	StatementInsert
	StatementReplace
	StatementUpdate
	StatementDelete
	StatementDDL
	StatementBegin
	StatementCommit
	StatementRollback
	StatementSavepoint
	StatementSelect
	StatementAdmin
	StatementUnsupported
)

var statementNames = map[StatementCode]string{
	StatementUnknown:     "unknown",
	StatementInsert:      "insert",
	StatementReplace:     "replace",
	StatementUpdate:      "update",
	StatementDelete:      "delete",
	StatementDDL:         "ddl",
	StatementBegin:       "begin",
	StatementCommit:      "commit",
	StatementRollback:    "rollback",
	StatementSavepoint:   "savepoint",
	StatementSelect:      "select",
	StatementAdmin:       "admin",
	StatementUnsupported: "unsupported",
}

// String returns the lower-case label used in logs and metrics.
func (t StatementCode) String() string {
	if name, ok := statementNames[t]; ok {
		return name
	}
	return "unknown"
}

// IsMutation returns true if the statement type is a mutation operation.
func (t StatementCode) IsMutation() bool {
	switch t {
	case StatementInsert, StatementReplace, StatementUpdate, StatementDelete, StatementDDL:
		return true
	}
	return false
}

// IsTransactionControl returns true for BEGIN, COMMIT, ROLLBACK, SAVEPOINT and RELEASE.
func (t StatementCode) IsTransactionControl() bool {
	switch t {
	case StatementBegin, StatementCommit, StatementRollback, StatementSavepoint:
		return true
	}
	return false
}

// IsReadOnly returns true if the statement type is read-only.
func (t StatementCode) IsReadOnly() bool {
	return t == StatementSelect
}

// ReturnsRows reports whether the statement should be run as a query.
// Anything the parser could not place (PRAGMA, unknown syntax) is treated as
// row-returning so its output is never lost.
func (t StatementCode) ReturnsRows() bool {
	return !t.IsMutation() && !t.IsTransactionControl()
}
