package db

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
)

//go:embed sql/*.sql
var schemaFS embed.FS

// applicationID marks the database file as ours ('TiDB'). A foreign id is
// fatal; we never touch somebody else's database.
const applicationID = 0x54694442

func (d *DB) checkSchema(ctx context.Context) error {
	appID, err := d.pragmaInt(ctx, "application_id")
	if err != nil {
		return err
	}
	version, err := d.pragmaInt(ctx, "user_version")
	if err != nil {
		return err
	}

	if appID != applicationID {
		if appID != 0 {
			return fmt.Errorf("unknown application id %#08x", appID)
		}
		if version != 0 {
			return fmt.Errorf("no application id but user version %d", version)
		}
		if err := d.initSchema(ctx); err != nil {
			return err
		}
		version = 1
	}
	return d.upgradeSchema(ctx, version)
}

// initSchema creates all tables in a fresh database and stamps it, all in
// one transaction.
func (d *DB) initSchema(ctx context.Context) error {
	d.log.Info("initializing database schema")
	tx := d.Transaction("SchemaInit")
	defer tx.Close(ctx)
	if err := tx.Begin(ctx); err != nil {
		return err
	}
	if err := d.execScript(ctx, "sql/schema.sql"); err != nil {
		return err
	}
	if err := d.setPragma(ctx, "application_id", applicationID); err != nil {
		return err
	}
	if err := d.setPragma(ctx, "user_version", 1); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// upgradeSchema applies sql/upgrade-N.sql for every version from the
// current one up, each together with its user_version bump in one
// transaction. A missing file ends the chain.
func (d *DB) upgradeSchema(ctx context.Context, version int) error {
	for {
		name := fmt.Sprintf("sql/upgrade-%d.sql", version)
		if _, err := fs.Stat(schemaFS, name); err != nil {
			return nil
		}
		d.log.Info("upgrading database schema", "from", version, "to", version+1)

		tx := d.Transaction("SchemaUpgrade")
		if err := tx.Begin(ctx); err != nil {
			return err
		}
		if err := d.execScript(ctx, name); err != nil {
			tx.Close(ctx)
			return err
		}
		if err := d.setPragma(ctx, "user_version", version+1); err != nil {
			tx.Close(ctx)
			return err
		}
		if err := tx.Commit(ctx); err != nil {
			return err
		}
		version++
	}
}

func (d *DB) execScript(ctx context.Context, name string) error {
	script, err := schemaFS.ReadFile(name)
	if err != nil {
		return fmt.Errorf("reading %s: %w", name, err)
	}
	if _, err := d.conn.ExecContext(ctx, string(script)); err != nil {
		return fmt.Errorf("executing %s: %w", name, err)
	}
	return nil
}

func (d *DB) pragmaInt(ctx context.Context, name string) (int, error) {
	var v int
	if err := d.conn.QueryRowContext(ctx, "PRAGMA "+name).Scan(&v); err != nil {
		return 0, fmt.Errorf("reading pragma %s: %w", name, err)
	}
	return v, nil
}

// setPragma assembles the statement textually; pragma values cannot be
// bound as parameters.
func (d *DB) setPragma(ctx context.Context, name string, value int) error {
	if _, err := d.conn.ExecContext(ctx, fmt.Sprintf("PRAGMA %s = %d", name, value)); err != nil {
		return fmt.Errorf("setting pragma %s: %w", name, err)
	}
	return nil
}
