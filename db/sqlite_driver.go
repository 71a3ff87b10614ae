package db

import (
	"database/sql"
	"regexp"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/mattn/go-sqlite3"
)

// SQLiteDriverName is the custom driver name with REGEXP support
const SQLiteDriverName = "sqlite3_runner"

const regexpCacheSize = 256

// Compiled REGEXP patterns, shared across connections
var regexpCache *lru.Cache[string, *regexp.Regexp]

func init() {
	var err error
	regexpCache, err = lru.New[string, *regexp.Regexp](regexpCacheSize)
	if err != nil {
		panic("failed to create regexp cache: " + err.Error())
	}

	sql.Register(SQLiteDriverName, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			// Usage: column REGEXP 'pattern'
			return conn.RegisterFunc("regexp", regexpMatch, true)
		},
	})
}

// regexpMatch backs the REGEXP operator: "X REGEXP Y" calls regexp(Y, X).
// Returns 1 if text matches pattern, 0 otherwise
func regexpMatch(pattern, text string) (bool, error) {
	re, ok := regexpCache.Get(pattern)
	if !ok {
		var err error
		re, err = regexp.Compile(pattern)
		if err != nil {
			return false, err
		}
		regexpCache.Add(pattern, re)
	}
	return re.MatchString(text), nil
}
