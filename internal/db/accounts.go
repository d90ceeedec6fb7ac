package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Account is the login-relevant slice of an account row. PremiumDays is the
// remaining live premium time rounded up to whole days.
type Account struct {
	ID                 int
	Email              string
	Auth               []byte
	PremiumDays        int
	PendingPremiumDays int
	Deleted            bool
}

// CharacterEndpoint is one character list entry for the account login
// reply: where the client finds the character. WorldHost is unresolved.
type CharacterEndpoint struct {
	Name      string
	WorldName string
	WorldHost string
	WorldPort int
}

// Account loads an account by id. A zero ID in the result means the account
// does not exist.
func (d *DB) Account(ctx context.Context, accountID int) (Account, error) {
	row, err := d.queryRow(ctx,
		"SELECT AccountID, Email, Auth, MAX(PremiumEnd - UNIXEPOCH(), 0),"+
			" PendingPremiumDays, Deleted FROM Accounts WHERE AccountID = ?1", accountID)
	if err != nil {
		return Account{}, err
	}
	var a Account
	var premiumSeconds int64
	if err := row.Scan(&a.ID, &a.Email, &a.Auth, &premiumSeconds,
		&a.PendingPremiumDays, &a.Deleted); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Account{}, nil
		}
		return Account{}, fmt.Errorf("getting account: %w", err)
	}
	a.PremiumDays = int((premiumSeconds + 86399) / 86400)
	return a, nil
}

// ActivatePendingPremiumDays converts pending premium days into live ones,
// counting from now or from the current premium end, whichever is later.
func (d *DB) ActivatePendingPremiumDays(ctx context.Context, accountID int) error {
	_, err := d.exec(ctx,
		"UPDATE Accounts SET PremiumEnd = MAX(PremiumEnd, UNIXEPOCH()) + PendingPremiumDays * 86400,"+
			" PendingPremiumDays = 0 WHERE AccountID = ?1 AND PendingPremiumDays > 0", accountID)
	if err != nil {
		return fmt.Errorf("activating pending premium days: %w", err)
	}
	return nil
}

// CharacterEndpoints lists the account's characters with their world
// endpoints.
func (d *DB) CharacterEndpoints(ctx context.Context, accountID int) ([]CharacterEndpoint, error) {
	rows, err := d.query(ctx,
		"SELECT C.Name, W.Name, W.Host, W.Port FROM Characters AS C"+
			" INNER JOIN Worlds AS W ON W.WorldID = C.WorldID WHERE C.AccountID = ?1", accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var endpoints []CharacterEndpoint
	for rows.Next() {
		var e CharacterEndpoint
		if err := rows.Scan(&e.Name, &e.WorldName, &e.WorldHost, &e.WorldPort); err != nil {
			return nil, fmt.Errorf("scanning character endpoint: %w", err)
		}
		endpoints = append(endpoints, e)
	}
	return endpoints, rows.Err()
}

// InsertLoginAttempt records one login attempt. Called outside any
// transaction so the audit row survives a rolled back login.
func (d *DB) InsertLoginAttempt(ctx context.Context, accountID int, ipAddress uint32, failed bool) error {
	_, err := d.exec(ctx,
		"INSERT INTO LoginAttempts (AccountID, IPAddress, Timestamp, Failed)"+
			" VALUES (?1, ?2, UNIXEPOCH(), ?3)", accountID, ipAddress, failed)
	if err != nil {
		return fmt.Errorf("inserting login attempt: %w", err)
	}
	return nil
}

// AccountFailedLoginAttempts counts failed attempts against an account in
// the trailing window.
func (d *DB) AccountFailedLoginAttempts(ctx context.Context, accountID, windowSeconds int) (int, error) {
	row, err := d.queryRow(ctx,
		"SELECT COUNT(*) FROM LoginAttempts WHERE AccountID = ?1"+
			" AND Timestamp >= (UNIXEPOCH() - ?2) AND Failed != 0", accountID, windowSeconds)
	if err != nil {
		return 0, err
	}
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("counting account login attempts: %w", err)
	}
	return n, nil
}

// IPFailedLoginAttempts counts failed attempts from an address in the
// trailing window.
func (d *DB) IPFailedLoginAttempts(ctx context.Context, ipAddress uint32, windowSeconds int) (int, error) {
	row, err := d.queryRow(ctx,
		"SELECT COUNT(*) FROM LoginAttempts WHERE IPAddress = ?1"+
			" AND Timestamp >= (UNIXEPOCH() - ?2) AND Failed != 0", ipAddress, windowSeconds)
	if err != nil {
		return 0, err
	}
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("counting ip login attempts: %w", err)
	}
	return n, nil
}
