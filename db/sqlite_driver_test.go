package db

import (
	"database/sql"
	"testing"
)

func TestRegexpBasicMatch(t *testing.T) {
	db, err := sql.Open(SQLiteDriverName, ":memory:")
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	tests := []struct {
		name     string
		text     string
		pattern  string
		expected bool
	}{
		{name: "prefix match", text: "highway", pattern: "^high", expected: true},
		{name: "prefix no match", text: "highway", pattern: "^way", expected: false},
		{name: "suffix match", text: "residential", pattern: "ial$", expected: true},
		{name: "alternation", text: "primary", pattern: "^(primary|secondary)$", expected: true},
		{name: "alternation no match", text: "tertiary", pattern: "^(primary|secondary)$", expected: false},
		{name: "digit pattern", text: "A38", pattern: "[0-9]+", expected: true},
		{name: "case sensitive", text: "Main Street", pattern: "main", expected: false},
		{name: "case insensitive flag", text: "Main Street", pattern: "(?i)main", expected: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var result bool
			err := db.QueryRow("SELECT ? REGEXP ?", tt.text, tt.pattern).Scan(&result)
			if err != nil {
				t.Fatalf("Query failed: %v", err)
			}
			if result != tt.expected {
				t.Errorf("%q REGEXP %q = %v, want %v", tt.text, tt.pattern, result, tt.expected)
			}
		})
	}
}

func TestRegexpWithTable(t *testing.T) {
	db, err := sql.Open(SQLiteDriverName, ":memory:")
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	_, err = db.Exec(`CREATE TABLE waytags (wayid TEXT, key TEXT, value TEXT)`)
	if err != nil {
		t.Fatalf("Failed to create table: %v", err)
	}

	_, err = db.Exec(`INSERT INTO waytags VALUES
		('w1', 'highway', 'primary'),
		('w2', 'highway', 'primary_link'),
		('w3', 'highway', 'residential'),
		('w4', 'name', 'Primary Avenue')`)
	if err != nil {
		t.Fatalf("Failed to insert data: %v", err)
	}

	rows, err := db.Query(`SELECT wayid FROM waytags WHERE key = 'highway' AND value REGEXP '^primary' ORDER BY wayid`)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			t.Fatalf("Scan failed: %v", err)
		}
		ids = append(ids, id)
	}

	if len(ids) != 2 || ids[0] != "w1" || ids[1] != "w2" {
		t.Errorf("Expected [w1 w2], got %v", ids)
	}
}

func TestRegexpErrorHandling(t *testing.T) {
	db, err := sql.Open(SQLiteDriverName, ":memory:")
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	var result bool
	err = db.QueryRow("SELECT 'text' REGEXP '[invalid'").Scan(&result)
	if err == nil {
		t.Error("Expected error for invalid regex pattern")
	}
}

func TestRegexpCachesCompiledPattern(t *testing.T) {
	pattern := "^cached-[a-z]+$"
	regexpCache.Remove(pattern)

	ok, err := regexpMatch(pattern, "cached-entry")
	if err != nil || !ok {
		t.Fatalf("Expected match, got %v %v", ok, err)
	}

	if _, found := regexpCache.Get(pattern); !found {
		t.Error("Expected compiled pattern to be cached")
	}

	ok, err = regexpMatch(pattern, "cached-ENTRY")
	if err != nil || ok {
		t.Errorf("Expected cached pattern to reject, got %v %v", ok, err)
	}
}
