// Package db is the SQLite data layer of the query manager. It owns a
// single connection, a bounded prepared-statement cache and the schema
// version handshake. The single-threaded engine is the only caller, so
// nothing here locks.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "modernc.org/sqlite"
)

// DB wraps the SQLite database file behind typed query methods.
type DB struct {
	pool  *sql.DB
	conn  *sql.Conn
	stmts *stmtCache
	log   *slog.Logger
}

// Open opens (and if needed creates) the database file, verifies the schema
// handshake and applies pending upgrades. maxStatements bounds the prepared
// statement cache.
func Open(ctx context.Context, file string, maxStatements int, log *slog.Logger) (*DB, error) {
	pool, err := sql.Open("sqlite", file)
	if err != nil {
		return nil, fmt.Errorf("opening database %s: %w", file, err)
	}
	pool.SetMaxOpenConns(1)

	conn, err := pool.Conn(ctx)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database %s: %w", file, err)
	}

	d := &DB{
		pool:  pool,
		conn:  conn,
		stmts: newStmtCache(conn, maxStatements),
		log:   log,
	}
	if err := d.checkSchema(ctx); err != nil {
		d.Close()
		return nil, fmt.Errorf("checking database schema: %w", err)
	}
	return d, nil
}

func (d *DB) Close() error {
	d.stmts.close()
	if err := d.conn.Close(); err != nil {
		d.pool.Close()
		return fmt.Errorf("closing database connection: %w", err)
	}
	return d.pool.Close()
}

// query runs text through the statement cache and returns its rows.
func (d *DB) query(ctx context.Context, text string, args ...any) (*sql.Rows, error) {
	stmt, err := d.stmts.prepare(ctx, text)
	if err != nil {
		return nil, err
	}
	return stmt.QueryContext(ctx, args...)
}

// queryRow is query for statements returning at most one row.
func (d *DB) queryRow(ctx context.Context, text string, args ...any) (*sql.Row, error) {
	stmt, err := d.stmts.prepare(ctx, text)
	if err != nil {
		return nil, err
	}
	return stmt.QueryRowContext(ctx, args...), nil
}

// exec runs text through the statement cache and returns its result.
func (d *DB) exec(ctx context.Context, text string, args ...any) (sql.Result, error) {
	stmt, err := d.stmts.prepare(ctx, text)
	if err != nil {
		return nil, err
	}
	return stmt.ExecContext(ctx, args...)
}

// execChanged is exec returning whether any row was affected.
func (d *DB) execChanged(ctx context.Context, text string, args ...any) (bool, error) {
	res, err := d.exec(ctx, text, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
