package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// BanishmentStatus aggregates a character's account banishment history.
type BanishmentStatus struct {
	Banished      bool
	FinalWarning  bool
	TimesBanished int
}

// NamelockStatus tells whether a character's name is locked and whether a
// replacement name was approved.
type NamelockStatus struct {
	Namelocked bool
	Approved   bool
}

// AccountBanished reports whether the account has an active banishment.
// Rows with Until equal to Issued are permanent.
func (d *DB) AccountBanished(ctx context.Context, accountID int) (bool, error) {
	row, err := d.queryRow(ctx,
		"SELECT 1 FROM Banishments WHERE AccountID = ?1"+
			" AND (Until = Issued OR Until > UNIXEPOCH())", accountID)
	if err != nil {
		return false, err
	}
	var one int
	if err := row.Scan(&one); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("getting account banishment: %w", err)
	}
	return true, nil
}

// BanishmentStatus aggregates over every banishment of the character's
// account: total count, any standing final warning, any active banishment.
func (d *DB) BanishmentStatus(ctx context.Context, characterID int) (BanishmentStatus, error) {
	rows, err := d.query(ctx,
		"SELECT B.FinalWarning, (B.Until = B.Issued OR B.Until > UNIXEPOCH())"+
			" FROM Banishments AS B LEFT JOIN Characters AS C ON C.AccountID = B.AccountID"+
			" WHERE C.CharacterID = ?1", characterID)
	if err != nil {
		return BanishmentStatus{}, err
	}
	defer rows.Close()

	var status BanishmentStatus
	for rows.Next() {
		var finalWarning, active bool
		if err := rows.Scan(&finalWarning, &active); err != nil {
			return BanishmentStatus{}, fmt.Errorf("scanning banishment: %w", err)
		}
		status.TimesBanished++
		status.FinalWarning = status.FinalWarning || finalWarning
		status.Banished = status.Banished || active
	}
	return status, rows.Err()
}

// InsertBanishment banishes the character's account for durationSeconds
// counted from now. A zero duration leaves Until equal to Issued, which
// marks the banishment permanent. Returns the new banishment id, 0 when the
// character does not exist.
func (d *DB) InsertBanishment(ctx context.Context, characterID int, ipAddress uint32,
	gamemasterID int, reason, comment string, finalWarning bool, durationSeconds int64) (int, error) {
	row, err := d.queryRow(ctx,
		"INSERT INTO Banishments (AccountID, IPAddress, GamemasterID, Reason, Comment,"+
			" FinalWarning, Issued, Until)"+
			" SELECT AccountID, ?2, ?3, ?4, ?5, ?6, UNIXEPOCH(), UNIXEPOCH() + ?7"+
			" FROM Characters WHERE CharacterID = ?1 RETURNING BanishmentID",
		characterID, ipAddress, gamemasterID, reason, comment, finalWarning, durationSeconds)
	if err != nil {
		return 0, err
	}
	var id int
	if err := row.Scan(&id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("inserting banishment: %w", err)
	}
	return id, nil
}

// NamelockStatus looks up the character's namelock row, if any.
func (d *DB) NamelockStatus(ctx context.Context, characterID int) (NamelockStatus, error) {
	row, err := d.queryRow(ctx,
		"SELECT Approved FROM Namelocks WHERE CharacterID = ?1", characterID)
	if err != nil {
		return NamelockStatus{}, err
	}
	var status NamelockStatus
	if err := row.Scan(&status.Approved); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return NamelockStatus{}, nil
		}
		return NamelockStatus{}, fmt.Errorf("getting namelock status: %w", err)
	}
	status.Namelocked = true
	return status, nil
}

// InsertNamelock locks the character's name.
func (d *DB) InsertNamelock(ctx context.Context, characterID int, ipAddress uint32,
	gamemasterID int, reason, comment string) error {
	_, err := d.exec(ctx,
		"INSERT INTO Namelocks (CharacterID, IPAddress, GamemasterID, Reason, Comment)"+
			" VALUES (?1, ?2, ?3, ?4, ?5)", characterID, ipAddress, gamemasterID, reason, comment)
	if err != nil {
		return fmt.Errorf("inserting namelock: %w", err)
	}
	return nil
}

// NotationCount counts disciplinary notations against the character.
func (d *DB) NotationCount(ctx context.Context, characterID int) (int, error) {
	row, err := d.queryRow(ctx,
		"SELECT COUNT(*) FROM Notations WHERE CharacterID = ?1", characterID)
	if err != nil {
		return 0, err
	}
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("counting notations: %w", err)
	}
	return n, nil
}

// InsertNotation records a disciplinary notation.
func (d *DB) InsertNotation(ctx context.Context, characterID int, ipAddress uint32,
	gamemasterID int, reason, comment string) error {
	_, err := d.exec(ctx,
		"INSERT INTO Notations (CharacterID, IPAddress, GamemasterID, Reason, Comment)"+
			" VALUES (?1, ?2, ?3, ?4, ?5)", characterID, ipAddress, gamemasterID, reason, comment)
	if err != nil {
		return fmt.Errorf("inserting notation: %w", err)
	}
	return nil
}

// IPBanished reports whether the address has an active banishment.
func (d *DB) IPBanished(ctx context.Context, ipAddress uint32) (bool, error) {
	row, err := d.queryRow(ctx,
		"SELECT 1 FROM IPBanishments WHERE IPAddress = ?1"+
			" AND (Until = Issued OR Until > UNIXEPOCH())", ipAddress)
	if err != nil {
		return false, err
	}
	var one int
	if err := row.Scan(&one); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("getting ip banishment: %w", err)
	}
	return true, nil
}

// InsertIPBanishment banishes an address for durationSeconds from now.
func (d *DB) InsertIPBanishment(ctx context.Context, characterID int, ipAddress uint32,
	gamemasterID int, reason, comment string, durationSeconds int64) error {
	_, err := d.exec(ctx,
		"INSERT INTO IPBanishments (CharacterID, IPAddress, GamemasterID, Reason, Comment,"+
			" Issued, Until) VALUES (?1, ?2, ?3, ?4, ?5, UNIXEPOCH(), UNIXEPOCH() + ?6)",
		characterID, ipAddress, gamemasterID, reason, comment, durationSeconds)
	if err != nil {
		return fmt.Errorf("inserting ip banishment: %w", err)
	}
	return nil
}
