package db

import (
	"context"
	"database/sql"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog/log"
)

type cachedStmt struct {
	text string
	stmt *sql.Stmt
}

// StatementCache keeps prepared statements of one connection keyed by the
// XXH64 hash of their text. Evicted statements are closed.
type StatementCache struct {
	conn  *sql.Conn
	cache *lru.Cache[uint64, *cachedStmt]
}

func NewStatementCache(conn *sql.Conn, size int) (*StatementCache, error) {
	if size < 1 {
		size = 1
	}
	cache, err := lru.NewWithEvict[uint64, *cachedStmt](size, func(_ uint64, cs *cachedStmt) {
		if err := cs.stmt.Close(); err != nil {
			log.Debug().Err(err).Str("sql", cs.text).Msg("Failed to close evicted statement")
		}
	})
	if err != nil {
		return nil, err
	}
	return &StatementCache{conn: conn, cache: cache}, nil
}

// Get returns a prepared statement for text. owned is true when the
// statement could not be cached (hash collision) and the caller must close it.
func (c *StatementCache) Get(ctx context.Context, text string) (stmt *sql.Stmt, owned bool, err error) {
	key := xxhash.Sum64String(text)
	if cs, ok := c.cache.Get(key); ok {
		if cs.text == text {
			return cs.stmt, false, nil
		}
		stmt, err = c.conn.PrepareContext(ctx, text)
		return stmt, err == nil, err
	}

	stmt, err = c.conn.PrepareContext(ctx, text)
	if err != nil {
		return nil, false, err
	}
	c.cache.Add(key, &cachedStmt{text: text, stmt: stmt})
	return stmt, false, nil
}

func (c *StatementCache) Len() int {
	return c.cache.Len()
}

// Purge closes every cached statement
func (c *StatementCache) Purge() {
	c.cache.Purge()
}
