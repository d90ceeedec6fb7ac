package db

import (
	"context"
	"fmt"
)

// HouseAuction is one drained auction result: who won which house for how
// much.
type HouseAuction struct {
	HouseID    int
	BidderID   int
	BidderName string
	BidAmount  int
	FinishTime int64
}

// HouseTransfer is one drained inter-player house sale.
type HouseTransfer struct {
	HouseID      int
	NewOwnerID   int
	NewOwnerName string
	Price        int
}

// HouseEviction names an owner whose house must be freed.
type HouseEviction struct {
	HouseID int
	OwnerID int
}

// HouseOwner is one current ownership row, name resolved when the owning
// character still exists.
type HouseOwner struct {
	HouseID   int
	OwnerID   int
	OwnerName string
	PaidUntil int64
}

// House is the static description of one house on a world.
type House struct {
	HouseID     int
	Name        string
	Rent        int
	Description string
	Size        int
	PositionX   int
	PositionY   int
	PositionZ   int
	Town        string
	GuildHouse  bool
}

// FinishHouseAuctions drains every auction on the world whose finish time
// has passed and returns the results.
func (d *DB) FinishHouseAuctions(ctx context.Context, worldID int) ([]HouseAuction, error) {
	rows, err := d.query(ctx,
		"DELETE FROM HouseAuctions WHERE WorldID = ?1 AND FinishTime IS NOT NULL"+
			" AND FinishTime <= UNIXEPOCH() RETURNING HouseID, BidderID, BidAmount, FinishTime,"+
			" (SELECT Name FROM Characters WHERE CharacterID = BidderID)", worldID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var auctions []HouseAuction
	for rows.Next() {
		var a HouseAuction
		var name *string
		if err := rows.Scan(&a.HouseID, &a.BidderID, &a.BidAmount, &a.FinishTime, &name); err != nil {
			return nil, fmt.Errorf("scanning finished auction: %w", err)
		}
		if name != nil {
			a.BidderName = *name
		}
		auctions = append(auctions, a)
	}
	return auctions, rows.Err()
}

// FinishHouseTransfers drains every pending house transfer on the world.
func (d *DB) FinishHouseTransfers(ctx context.Context, worldID int) ([]HouseTransfer, error) {
	rows, err := d.query(ctx,
		"DELETE FROM HouseTransfers WHERE WorldID = ?1 RETURNING HouseID, NewOwnerID, Price,"+
			" (SELECT Name FROM Characters WHERE CharacterID = NewOwnerID)", worldID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var transfers []HouseTransfer
	for rows.Next() {
		var t HouseTransfer
		var name *string
		if err := rows.Scan(&t.HouseID, &t.NewOwnerID, &t.Price, &name); err != nil {
			return nil, fmt.Errorf("scanning house transfer: %w", err)
		}
		if name != nil {
			t.NewOwnerName = *name
		}
		transfers = append(transfers, t)
	}
	return transfers, rows.Err()
}

// FreeAccountEvictions lists houses whose owner's account has no premium
// time left (or no account at all).
func (d *DB) FreeAccountEvictions(ctx context.Context, worldID int) ([]HouseEviction, error) {
	return d.evictions(ctx,
		"SELECT O.HouseID, O.OwnerID FROM HouseOwners AS O"+
			" LEFT JOIN Characters AS C ON C.CharacterID = O.OwnerID"+
			" LEFT JOIN Accounts AS A ON A.AccountID = C.AccountID"+
			" WHERE O.WorldID = ?1 AND (A.PremiumEnd IS NULL OR A.PremiumEnd < UNIXEPOCH())", worldID)
}

// DeletedCharacterEvictions lists houses whose owning character is deleted
// or gone.
func (d *DB) DeletedCharacterEvictions(ctx context.Context, worldID int) ([]HouseEviction, error) {
	return d.evictions(ctx,
		"SELECT O.HouseID, O.OwnerID FROM HouseOwners AS O"+
			" LEFT JOIN Characters AS C ON C.CharacterID = O.OwnerID"+
			" WHERE O.WorldID = ?1 AND (C.CharacterID IS NULL OR C.Deleted != 0)", worldID)
}

func (d *DB) evictions(ctx context.Context, text string, worldID int) ([]HouseEviction, error) {
	rows, err := d.query(ctx, text, worldID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var evictions []HouseEviction
	for rows.Next() {
		var e HouseEviction
		if err := rows.Scan(&e.HouseID, &e.OwnerID); err != nil {
			return nil, fmt.Errorf("scanning house eviction: %w", err)
		}
		evictions = append(evictions, e)
	}
	return evictions, rows.Err()
}

// InsertHouseOwner records a new ownership.
func (d *DB) InsertHouseOwner(ctx context.Context, worldID, houseID, ownerID int, paidUntil int64) error {
	_, err := d.exec(ctx,
		"INSERT INTO HouseOwners (WorldID, HouseID, OwnerID, PaidUntil) VALUES (?1, ?2, ?3, ?4)",
		worldID, houseID, ownerID, paidUntil)
	if err != nil {
		return fmt.Errorf("inserting house owner: %w", err)
	}
	return nil
}

// UpdateHouseOwner rewrites an existing ownership.
func (d *DB) UpdateHouseOwner(ctx context.Context, worldID, houseID, ownerID int, paidUntil int64) error {
	_, err := d.exec(ctx,
		"UPDATE HouseOwners SET OwnerID = ?3, PaidUntil = ?4 WHERE WorldID = ?1 AND HouseID = ?2",
		worldID, houseID, ownerID, paidUntil)
	if err != nil {
		return fmt.Errorf("updating house owner: %w", err)
	}
	return nil
}

// DeleteHouseOwner frees a house.
func (d *DB) DeleteHouseOwner(ctx context.Context, worldID, houseID int) error {
	_, err := d.exec(ctx,
		"DELETE FROM HouseOwners WHERE WorldID = ?1 AND HouseID = ?2", worldID, houseID)
	if err != nil {
		return fmt.Errorf("deleting house owner: %w", err)
	}
	return nil
}

// HouseOwners lists current ownerships on the world.
func (d *DB) HouseOwners(ctx context.Context, worldID int) ([]HouseOwner, error) {
	rows, err := d.query(ctx,
		"SELECT O.HouseID, O.OwnerID, C.Name, O.PaidUntil FROM HouseOwners AS O"+
			" LEFT JOIN Characters AS C ON C.CharacterID = O.OwnerID WHERE O.WorldID = ?1", worldID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var owners []HouseOwner
	for rows.Next() {
		var o HouseOwner
		var name *string
		if err := rows.Scan(&o.HouseID, &o.OwnerID, &name, &o.PaidUntil); err != nil {
			return nil, fmt.Errorf("scanning house owner: %w", err)
		}
		if name != nil {
			o.OwnerName = *name
		}
		owners = append(owners, o)
	}
	return owners, rows.Err()
}

// HouseAuctions lists houses currently up for auction on the world.
func (d *DB) HouseAuctions(ctx context.Context, worldID int) ([]int, error) {
	rows, err := d.query(ctx,
		"SELECT HouseID FROM HouseAuctions WHERE WorldID = ?1", worldID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var houseIDs []int
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning house auction: %w", err)
		}
		houseIDs = append(houseIDs, id)
	}
	return houseIDs, rows.Err()
}

// StartHouseAuction puts a house up for auction with no bid and no finish
// time yet.
func (d *DB) StartHouseAuction(ctx context.Context, worldID, houseID int) error {
	_, err := d.exec(ctx,
		"INSERT INTO HouseAuctions (WorldID, HouseID) VALUES (?1, ?2)", worldID, houseID)
	if err != nil {
		return fmt.Errorf("starting house auction: %w", err)
	}
	return nil
}

// DeleteHouses drops every house definition of the world ahead of a bulk
// reload.
func (d *DB) DeleteHouses(ctx context.Context, worldID int) error {
	_, err := d.exec(ctx, "DELETE FROM Houses WHERE WorldID = ?1", worldID)
	if err != nil {
		return fmt.Errorf("deleting houses: %w", err)
	}
	return nil
}

// InsertHouses bulk-loads house definitions for the world.
func (d *DB) InsertHouses(ctx context.Context, worldID int, houses []House) error {
	for _, h := range houses {
		_, err := d.exec(ctx,
			"INSERT INTO Houses (WorldID, HouseID, Name, Rent, Description, Size,"+
				" PositionX, PositionY, PositionZ, Town, GuildHouse)"+
				" VALUES (?1, ?2, ?3, ?4, ?5, ?6, ?7, ?8, ?9, ?10, ?11)",
			worldID, h.HouseID, h.Name, h.Rent, h.Description, h.Size,
			h.PositionX, h.PositionY, h.PositionZ, h.Town, h.GuildHouse)
		if err != nil {
			return fmt.Errorf("inserting house %d: %w", h.HouseID, err)
		}
	}
	return nil
}

// ExcludeFromAuctions bars the character from bidding. The exclusion may
// reference the banishment issued alongside it; no row is written when the
// character does not exist on the world.
func (d *DB) ExcludeFromAuctions(ctx context.Context, worldID, characterID int,
	durationSeconds int64, banishmentID int) error {
	_, err := d.exec(ctx,
		"INSERT INTO HouseAuctionExclusions (CharacterID, Issued, Until, BanishmentID)"+
			" SELECT ?2, UNIXEPOCH(), (UNIXEPOCH() + ?3), ?4 FROM Characters"+
			" WHERE WorldID = ?1 AND CharacterID = ?2",
		worldID, characterID, durationSeconds, banishmentID)
	if err != nil {
		return fmt.Errorf("excluding from auctions: %w", err)
	}
	return nil
}
