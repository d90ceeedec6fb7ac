package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// CharacterLogin is the slice of a character row a game login needs. A zero
// CharacterID means no such character.
type CharacterLogin struct {
	WorldID     int
	CharacterID int
	AccountID   int
	Name        string
	Sex         int
	Guild       string
	Rank        string
	Title       string
	Deleted     bool
}

// Buddy is one entry of an account's buddy list on a world.
type Buddy struct {
	CharacterID int
	Name        string
}

// CharacterIndexEntry is one row of the incremental character index.
type CharacterIndexEntry struct {
	CharacterID int
	Name        string
}

// CharacterID resolves a character name on a world, 0 when unknown.
func (d *DB) CharacterID(ctx context.Context, worldID int, name string) (int, error) {
	row, err := d.queryRow(ctx,
		"SELECT CharacterID FROM Characters WHERE WorldID = ?1 AND Name = ?2", worldID, name)
	if err != nil {
		return 0, err
	}
	var id int
	if err := row.Scan(&id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("getting character id: %w", err)
	}
	return id, nil
}

// CharacterLoginData loads login data by character name across all worlds.
func (d *DB) CharacterLoginData(ctx context.Context, name string) (CharacterLogin, error) {
	row, err := d.queryRow(ctx,
		"SELECT WorldID, CharacterID, AccountID, Name, Sex, Guild, Rank, Title, Deleted"+
			" FROM Characters WHERE Name = ?1", name)
	if err != nil {
		return CharacterLogin{}, err
	}
	var c CharacterLogin
	if err := row.Scan(&c.WorldID, &c.CharacterID, &c.AccountID, &c.Name, &c.Sex,
		&c.Guild, &c.Rank, &c.Title, &c.Deleted); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return CharacterLogin{}, nil
		}
		return CharacterLogin{}, fmt.Errorf("getting character login data: %w", err)
	}
	return c, nil
}

// CharacterRight reports whether the character holds the named right.
func (d *DB) CharacterRight(ctx context.Context, characterID int, right string) (bool, error) {
	row, err := d.queryRow(ctx,
		`SELECT 1 FROM CharacterRights WHERE CharacterID = ?1 AND "Right" = ?2`, characterID, right)
	if err != nil {
		return false, err
	}
	var one int
	if err := row.Scan(&one); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("getting character right: %w", err)
	}
	return true, nil
}

// CharacterRights lists all rights of a character.
func (d *DB) CharacterRights(ctx context.Context, characterID int) ([]string, error) {
	rows, err := d.query(ctx,
		`SELECT "Right" FROM CharacterRights WHERE CharacterID = ?1`, characterID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rights []string
	for rows.Next() {
		var r string
		if err := rows.Scan(&r); err != nil {
			return nil, fmt.Errorf("scanning character right: %w", err)
		}
		rights = append(rights, r)
	}
	return rights, rows.Err()
}

// GuildLeader reports whether the character currently leads a guild.
func (d *DB) GuildLeader(ctx context.Context, worldID, characterID int) (bool, error) {
	row, err := d.queryRow(ctx,
		"SELECT Guild, Rank FROM Characters WHERE WorldID = ?1 AND CharacterID = ?2",
		worldID, characterID)
	if err != nil {
		return false, err
	}
	var guild, rank string
	if err := row.Scan(&guild, &rank); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("getting guild leader status: %w", err)
	}
	return guild != "" && strings.EqualFold(rank, "Leader"), nil
}

// AccountOnlineCharacters counts how many characters of the account are
// flagged online anywhere.
func (d *DB) AccountOnlineCharacters(ctx context.Context, accountID int) (int, error) {
	row, err := d.queryRow(ctx,
		"SELECT COUNT(*) FROM Characters WHERE AccountID = ?1 AND IsOnline > 0", accountID)
	if err != nil {
		return 0, err
	}
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("counting online characters: %w", err)
	}
	return n, nil
}

// IncrementIsOnline marks the character online; false when it does not
// exist on the world.
func (d *DB) IncrementIsOnline(ctx context.Context, worldID, characterID int) (bool, error) {
	changed, err := d.execChanged(ctx,
		"UPDATE Characters SET IsOnline = IsOnline + 1 WHERE WorldID = ?1 AND CharacterID = ?2",
		worldID, characterID)
	if err != nil {
		return false, fmt.Errorf("incrementing online counter: %w", err)
	}
	return changed, nil
}

// DecrementIsOnline reverses IncrementIsOnline and returns the new counter
// value so the caller can spot an underflow; false when the character does
// not exist on the world.
func (d *DB) DecrementIsOnline(ctx context.Context, worldID, characterID int) (int, bool, error) {
	row, err := d.queryRow(ctx,
		"UPDATE Characters SET IsOnline = IsOnline - 1 WHERE WorldID = ?1 AND CharacterID = ?2"+
			" RETURNING IsOnline",
		worldID, characterID)
	if err != nil {
		return 0, false, err
	}
	var online int
	if err := row.Scan(&online); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("decrementing online counter: %w", err)
	}
	return online, true, nil
}

// ClearIsOnline zeroes the online counter of every character on the world
// and returns how many rows changed.
func (d *DB) ClearIsOnline(ctx context.Context, worldID int) (int, error) {
	res, err := d.exec(ctx,
		"UPDATE Characters SET IsOnline = 0 WHERE WorldID = ?1 AND IsOnline != 0", worldID)
	if err != nil {
		return 0, fmt.Errorf("clearing online counters: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// LogoutCharacter persists end-of-session state and marks the character
// offline, returning the new online counter; false when it does not exist
// on the world.
func (d *DB) LogoutCharacter(ctx context.Context, worldID, characterID, level int,
	profession, residence string, lastLoginTime int64, tutorActivities int) (int, bool, error) {
	row, err := d.queryRow(ctx,
		"UPDATE Characters SET Level = ?3, Profession = ?4, Residence = ?5,"+
			" LastLoginTime = ?6, TutorActivities = ?7, IsOnline = IsOnline - 1"+
			" WHERE WorldID = ?1 AND CharacterID = ?2 RETURNING IsOnline",
		worldID, characterID, level, profession, residence, lastLoginTime, tutorActivities)
	if err != nil {
		return 0, false, err
	}
	var online int
	if err := row.Scan(&online); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("logging out character: %w", err)
	}
	return online, true, nil
}

// CharacterIndex pages through the world's characters by ascending id,
// starting at minimumID.
func (d *DB) CharacterIndex(ctx context.Context, worldID, minimumID, limit int) ([]CharacterIndexEntry, error) {
	rows, err := d.query(ctx,
		"SELECT CharacterID, Name FROM Characters WHERE WorldID = ?1 AND CharacterID >= ?2"+
			" ORDER BY CharacterID ASC LIMIT ?3", worldID, minimumID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []CharacterIndexEntry
	for rows.Next() {
		var e CharacterIndexEntry
		if err := rows.Scan(&e.CharacterID, &e.Name); err != nil {
			return nil, fmt.Errorf("scanning character index entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// InsertCharacterDeath records a death; no row is written when the
// character does not exist on the world.
func (d *DB) InsertCharacterDeath(ctx context.Context, worldID, characterID, level, offenderID int,
	remark string, unjustified bool, timestamp int64) error {
	_, err := d.exec(ctx,
		"INSERT INTO CharacterDeaths (CharacterID, Level, OffenderID, Remark, Unjustified, Timestamp)"+
			" SELECT ?2, ?3, ?4, ?5, ?6, ?7 FROM Characters WHERE WorldID = ?1 AND CharacterID = ?2",
		worldID, characterID, level, offenderID, remark, unjustified, timestamp)
	if err != nil {
		return fmt.Errorf("inserting character death: %w", err)
	}
	return nil
}

// InsertBuddy adds a buddy list entry when the buddy exists on the world;
// duplicates are ignored.
func (d *DB) InsertBuddy(ctx context.Context, worldID, accountID, buddyID int) error {
	_, err := d.exec(ctx,
		"INSERT OR IGNORE INTO Buddies (WorldID, AccountID, BuddyID)"+
			" SELECT ?1, ?2, ?3 FROM Characters WHERE WorldID = ?1 AND CharacterID = ?3",
		worldID, accountID, buddyID)
	if err != nil {
		return fmt.Errorf("inserting buddy: %w", err)
	}
	return nil
}

// DeleteBuddy removes a buddy list entry.
func (d *DB) DeleteBuddy(ctx context.Context, worldID, accountID, buddyID int) error {
	_, err := d.exec(ctx,
		"DELETE FROM Buddies WHERE WorldID = ?1 AND AccountID = ?2 AND BuddyID = ?3",
		worldID, accountID, buddyID)
	if err != nil {
		return fmt.Errorf("deleting buddy: %w", err)
	}
	return nil
}

// Buddies lists the account's buddies on the world, names included.
func (d *DB) Buddies(ctx context.Context, worldID, accountID int) ([]Buddy, error) {
	rows, err := d.query(ctx,
		"SELECT B.BuddyID, C.Name FROM Buddies AS B INNER JOIN Characters AS C"+
			" ON C.WorldID = B.WorldID AND C.CharacterID = B.BuddyID"+
			" WHERE B.WorldID = ?1 AND B.AccountID = ?2", worldID, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var buddies []Buddy
	for rows.Next() {
		var b Buddy
		if err := rows.Scan(&b.CharacterID, &b.Name); err != nil {
			return nil, fmt.Errorf("scanning buddy: %w", err)
		}
		buddies = append(buddies, b)
	}
	return buddies, rows.Err()
}

// WorldInvitation reports whether the character is invited to the world.
func (d *DB) WorldInvitation(ctx context.Context, worldID, characterID int) (bool, error) {
	row, err := d.queryRow(ctx,
		"SELECT 1 FROM WorldInvitations WHERE WorldID = ?1 AND CharacterID = ?2",
		worldID, characterID)
	if err != nil {
		return false, err
	}
	var one int
	if err := row.Scan(&one); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("getting world invitation: %w", err)
	}
	return true, nil
}
