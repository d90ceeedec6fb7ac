package db

import (
	"context"
	"fmt"
)

// Tx brackets a run of statements in an explicit transaction on the single
// connection. Close rolls back when Commit was never reached, so a handler
// that bails out mid-validation cannot leave a transaction open.
type Tx struct {
	db      *DB
	label   string
	running bool
}

// Transaction returns an unstarted transaction scope. The label shows up in
// logs and errors.
func (d *DB) Transaction(label string) *Tx {
	return &Tx{db: d, label: label}
}

func (t *Tx) Begin(ctx context.Context) error {
	if t.running {
		return fmt.Errorf("transaction %s: already running", t.label)
	}
	if _, err := t.db.conn.ExecContext(ctx, "BEGIN"); err != nil {
		return fmt.Errorf("transaction %s: begin: %w", t.label, err)
	}
	t.running = true
	return nil
}

func (t *Tx) Commit(ctx context.Context) error {
	if !t.running {
		return fmt.Errorf("transaction %s: not running", t.label)
	}
	if _, err := t.db.conn.ExecContext(ctx, "COMMIT"); err != nil {
		return fmt.Errorf("transaction %s: commit: %w", t.label, err)
	}
	t.running = false
	return nil
}

// Close rolls back a still-running transaction. Safe to defer next to a
// later Commit.
func (t *Tx) Close(ctx context.Context) {
	if !t.running {
		return
	}
	if _, err := t.db.conn.ExecContext(ctx, "ROLLBACK"); err != nil {
		t.db.log.Error("transaction rollback failed", "label", t.label, "error", err)
	}
	t.running = false
}
