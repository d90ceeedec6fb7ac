package db

import (
	"context"
	"fmt"
)

// OnlineCharacter is one entry of a world's published player list.
type OnlineCharacter struct {
	Name       string
	Level      int
	Profession string
}

// KillStatistic is one race's kill/death tally on a world.
type KillStatistic struct {
	RaceName      string
	TimesKilled   int
	PlayersKilled int
}

// OnlineCharacters returns the world's currently published player list.
func (d *DB) OnlineCharacters(ctx context.Context, worldID int) ([]OnlineCharacter, error) {
	rows, err := d.query(ctx,
		"SELECT Name, Level, Profession FROM OnlineCharacters WHERE WorldID = ?1", worldID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var characters []OnlineCharacter
	for rows.Next() {
		var c OnlineCharacter
		if err := rows.Scan(&c.Name, &c.Level, &c.Profession); err != nil {
			return nil, fmt.Errorf("scanning online character: %w", err)
		}
		characters = append(characters, c)
	}
	return characters, rows.Err()
}

// DeleteOnlineCharacters clears the world's published player list.
func (d *DB) DeleteOnlineCharacters(ctx context.Context, worldID int) error {
	_, err := d.exec(ctx, "DELETE FROM OnlineCharacters WHERE WorldID = ?1", worldID)
	if err != nil {
		return fmt.Errorf("deleting online characters: %w", err)
	}
	return nil
}

// InsertOnlineCharacters publishes a fresh player list for the world.
func (d *DB) InsertOnlineCharacters(ctx context.Context, worldID int, characters []OnlineCharacter) error {
	for _, c := range characters {
		_, err := d.exec(ctx,
			"INSERT INTO OnlineCharacters (WorldID, Name, Level, Profession) VALUES (?1, ?2, ?3, ?4)",
			worldID, c.Name, c.Level, c.Profession)
		if err != nil {
			return fmt.Errorf("inserting online character: %w", err)
		}
	}
	return nil
}

// KillStatistics returns the world's kill statistics.
func (d *DB) KillStatistics(ctx context.Context, worldID int) ([]KillStatistic, error) {
	rows, err := d.query(ctx,
		"SELECT RaceName, TimesKilled, PlayersKilled FROM KillStatistics WHERE WorldID = ?1", worldID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats []KillStatistic
	for rows.Next() {
		var s KillStatistic
		if err := rows.Scan(&s.RaceName, &s.TimesKilled, &s.PlayersKilled); err != nil {
			return nil, fmt.Errorf("scanning kill statistic: %w", err)
		}
		stats = append(stats, s)
	}
	return stats, rows.Err()
}

// MergeKillStatistics adds the reported tallies onto the stored ones,
// creating rows for new races.
func (d *DB) MergeKillStatistics(ctx context.Context, worldID int, stats []KillStatistic) error {
	for _, s := range stats {
		_, err := d.exec(ctx,
			"INSERT INTO KillStatistics (WorldID, RaceName, TimesKilled, PlayersKilled)"+
				" VALUES (?1, ?2, ?3, ?4) ON CONFLICT DO UPDATE SET"+
				" TimesKilled = TimesKilled + Excluded.TimesKilled,"+
				" PlayersKilled = PlayersKilled + Excluded.PlayersKilled",
			worldID, s.RaceName, s.TimesKilled, s.PlayersKilled)
		if err != nil {
			return fmt.Errorf("merging kill statistics for %s: %w", s.RaceName, err)
		}
	}
	return nil
}
