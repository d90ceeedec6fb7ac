package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// World is one row of the public world list.
type World struct {
	Name                  string
	Type                  int
	NumPlayers            int
	MaxPlayers            int
	OnlineRecord          int
	OnlineRecordTimestamp int64
}

// WorldConfig is the per-world game server configuration. Host is returned
// unresolved; the caller decides how to turn it into an address.
type WorldConfig struct {
	Type                int
	RebootTime          int
	Host                string
	Port                int
	MaxPlayers          int
	PremiumPlayerBuffer int
	MaxNewbies          int
	PremiumNewbieBuffer int
}

// WorldID resolves a world name to its id, 0 when unknown.
func (d *DB) WorldID(ctx context.Context, name string) (int, error) {
	row, err := d.queryRow(ctx, "SELECT WorldID FROM Worlds WHERE Name = ?1", name)
	if err != nil {
		return 0, err
	}
	var id int
	if err := row.Scan(&id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("getting world id: %w", err)
	}
	return id, nil
}

// Worlds lists all worlds with their live player counts.
func (d *DB) Worlds(ctx context.Context) ([]World, error) {
	rows, err := d.query(ctx,
		"WITH N (WorldID, NumPlayers) AS ("+
			" SELECT WorldID, COUNT(*) FROM OnlineCharacters GROUP BY WorldID)"+
			" SELECT W.Name, W.Type, COALESCE(N.NumPlayers, 0), W.MaxPlayers,"+
			" W.OnlineRecord, W.OnlineRecordTimestamp"+
			" FROM Worlds AS W LEFT JOIN N ON W.WorldID = N.WorldID")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var worlds []World
	for rows.Next() {
		var w World
		if err := rows.Scan(&w.Name, &w.Type, &w.NumPlayers, &w.MaxPlayers,
			&w.OnlineRecord, &w.OnlineRecordTimestamp); err != nil {
			return nil, fmt.Errorf("scanning world: %w", err)
		}
		worlds = append(worlds, w)
	}
	return worlds, rows.Err()
}

// WorldConfig loads the configuration of one world. ok is false when the
// world does not exist.
func (d *DB) WorldConfig(ctx context.Context, worldID int) (WorldConfig, bool, error) {
	row, err := d.queryRow(ctx,
		"SELECT Type, RebootTime, Host, Port, MaxPlayers, PremiumPlayerBuffer,"+
			" MaxNewbies, PremiumNewbieBuffer FROM Worlds WHERE WorldID = ?1", worldID)
	if err != nil {
		return WorldConfig{}, false, err
	}
	var cfg WorldConfig
	if err := row.Scan(&cfg.Type, &cfg.RebootTime, &cfg.Host, &cfg.Port, &cfg.MaxPlayers,
		&cfg.PremiumPlayerBuffer, &cfg.MaxNewbies, &cfg.PremiumNewbieBuffer); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return WorldConfig{}, false, nil
		}
		return WorldConfig{}, false, fmt.Errorf("getting world config: %w", err)
	}
	return cfg, true, nil
}

// CheckOnlineRecord bumps the world's online record when numCharacters
// exceeds it and reports whether a new record was set.
func (d *DB) CheckOnlineRecord(ctx context.Context, worldID, numCharacters int) (bool, error) {
	changed, err := d.execChanged(ctx,
		"UPDATE Worlds SET OnlineRecord = ?2, OnlineRecordTimestamp = UNIXEPOCH()"+
			" WHERE WorldID = ?1 AND OnlineRecord < ?2", worldID, numCharacters)
	if err != nil {
		return false, fmt.Errorf("checking online record: %w", err)
	}
	return changed, nil
}
