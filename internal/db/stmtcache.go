package db

import (
	"context"
	"database/sql"
	"fmt"
)

// fingerprint is FNV-1a over the statement text. A collision is possible,
// so on a hit the text itself stays the authority.
func fingerprint(text string) uint32 {
	h := uint32(0x811C9DC5)
	for i := 0; i < len(text); i++ {
		h ^= uint32(text[i])
		h *= 0x01000193
	}
	return h
}

type cachedStmt struct {
	stmt     *sql.Stmt
	text     string
	hash     uint32
	lastUsed int64
}

// stmtCache keeps prepared statements in a fixed slot table. Lookup and
// eviction-victim tracking share one scan: the least recently used slot is
// reprepared when the text is not found.
type stmtCache struct {
	conn    *sql.Conn
	entries []cachedStmt
	tick    int64
}

func newStmtCache(conn *sql.Conn, capacity int) *stmtCache {
	if capacity < 1 {
		capacity = 1
	}
	return &stmtCache{conn: conn, entries: make([]cachedStmt, capacity)}
}

func (c *stmtCache) prepare(ctx context.Context, text string) (*sql.Stmt, error) {
	hash := fingerprint(text)
	c.tick++

	victim := 0
	for i := range c.entries {
		e := &c.entries[i]
		if e.lastUsed < c.entries[victim].lastUsed {
			victim = i
		}
		if e.stmt != nil && e.hash == hash && e.text == text {
			e.lastUsed = c.tick
			return e.stmt, nil
		}
	}

	stmt, err := c.conn.PrepareContext(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("preparing statement: %w", err)
	}
	if old := c.entries[victim].stmt; old != nil {
		old.Close()
	}
	c.entries[victim] = cachedStmt{stmt: stmt, text: text, hash: hash, lastUsed: c.tick}
	return stmt, nil
}

func (c *stmtCache) close() {
	for i := range c.entries {
		if c.entries[i].stmt != nil {
			c.entries[i].stmt.Close()
			c.entries[i] = cachedStmt{}
		}
	}
}
