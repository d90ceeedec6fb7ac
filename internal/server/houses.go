package server

import (
	"context"

	"github.com/arkanis/querymanager/internal/db"
	"github.com/arkanis/querymanager/internal/protocol"
)

// handleFinishAuctions drains the world's matured auctions and returns the
// winners to the game server.
func (e *Engine) handleFinishAuctions(ctx context.Context, c *conn) {
	if !e.requireGame(c) {
		return
	}
	auctions, err := e.db.FinishHouseAuctions(ctx, c.worldID)
	if err != nil {
		e.fail(c, "finishing auctions", err)
		return
	}
	w := e.prepareResponse(c, protocol.StatusOK)
	w.Write16(uint16(len(auctions)))
	for _, a := range auctions {
		w.Write16(uint16(a.HouseID))
		w.Write32(uint32(a.BidderID))
		w.WriteString(a.BidderName)
		w.Write32(uint32(a.BidAmount))
		w.Write32(uint32(a.FinishTime))
	}
	e.sendResponse(c, w)
}

// handleTransferHouses drains the world's pending inter-player sales.
func (e *Engine) handleTransferHouses(ctx context.Context, c *conn) {
	if !e.requireGame(c) {
		return
	}
	transfers, err := e.db.FinishHouseTransfers(ctx, c.worldID)
	if err != nil {
		e.fail(c, "transferring houses", err)
		return
	}
	w := e.prepareResponse(c, protocol.StatusOK)
	w.Write16(uint16(len(transfers)))
	for _, t := range transfers {
		w.Write16(uint16(t.HouseID))
		w.Write32(uint32(t.NewOwnerID))
		w.WriteString(t.NewOwnerName)
		w.Write32(uint32(t.Price))
	}
	e.sendResponse(c, w)
}

func (e *Engine) handleEvictFreeAccounts(ctx context.Context, c *conn) {
	if !e.requireGame(c) {
		return
	}
	evictions, err := e.db.FreeAccountEvictions(ctx, c.worldID)
	if err != nil {
		e.fail(c, "listing free account evictions", err)
		return
	}
	e.sendEvictions(c, evictions)
}

func (e *Engine) handleEvictDeletedCharacters(ctx context.Context, c *conn) {
	if !e.requireGame(c) {
		return
	}
	evictions, err := e.db.DeletedCharacterEvictions(ctx, c.worldID)
	if err != nil {
		e.fail(c, "listing deleted character evictions", err)
		return
	}
	e.sendEvictions(c, evictions)
}

func (e *Engine) sendEvictions(c *conn, evictions []db.HouseEviction) {
	w := e.prepareResponse(c, protocol.StatusOK)
	w.Write16(uint16(len(evictions)))
	for _, ev := range evictions {
		w.Write16(uint16(ev.HouseID))
		w.Write32(uint32(ev.OwnerID))
	}
	e.sendResponse(c, w)
}

// handleEvictExGuildleaders filters the submitted guildhall owners down to
// the ones who no longer lead a guild.
func (e *Engine) handleEvictExGuildleaders(ctx context.Context, c *conn, r *protocol.ReadBuffer) {
	if !e.requireGame(c) {
		return
	}
	num := int(r.Read16())
	type owner struct {
		houseID int
		ownerID int
	}
	owners := make([]owner, 0, num)
	for i := 0; i < num && !r.Overflowed(); i++ {
		houseID := int(r.Read16())
		ownerID := int(r.Read32())
		owners = append(owners, owner{houseID: houseID, ownerID: ownerID})
	}
	if e.malformed(c, r) {
		return
	}

	var evict []int
	for _, o := range owners {
		leader, err := e.db.GuildLeader(ctx, c.worldID, o.ownerID)
		if err != nil {
			e.fail(c, "checking guild leadership", err)
			return
		}
		if !leader {
			evict = append(evict, o.houseID)
		}
	}
	w := e.prepareResponse(c, protocol.StatusOK)
	w.Write16(uint16(len(evict)))
	for _, houseID := range evict {
		w.Write16(uint16(houseID))
	}
	e.sendResponse(c, w)
}

func (e *Engine) handleInsertHouseOwner(ctx context.Context, c *conn, r *protocol.ReadBuffer) {
	if !e.requireGame(c) {
		return
	}
	houseID := int(r.Read16())
	ownerID := int(r.Read32())
	paidUntil := int64(r.Read32())
	if e.malformed(c, r) {
		return
	}
	if err := e.db.InsertHouseOwner(ctx, c.worldID, houseID, ownerID, paidUntil); err != nil {
		e.fail(c, "inserting house owner", err)
		return
	}
	e.sendOK(c)
}

func (e *Engine) handleUpdateHouseOwner(ctx context.Context, c *conn, r *protocol.ReadBuffer) {
	if !e.requireGame(c) {
		return
	}
	houseID := int(r.Read16())
	ownerID := int(r.Read32())
	paidUntil := int64(r.Read32())
	if e.malformed(c, r) {
		return
	}
	if err := e.db.UpdateHouseOwner(ctx, c.worldID, houseID, ownerID, paidUntil); err != nil {
		e.fail(c, "updating house owner", err)
		return
	}
	e.sendOK(c)
}

func (e *Engine) handleDeleteHouseOwner(ctx context.Context, c *conn, r *protocol.ReadBuffer) {
	if !e.requireGame(c) {
		return
	}
	houseID := int(r.Read16())
	if e.malformed(c, r) {
		return
	}
	if err := e.db.DeleteHouseOwner(ctx, c.worldID, houseID); err != nil {
		e.fail(c, "deleting house owner", err)
		return
	}
	e.sendOK(c)
}

func (e *Engine) handleGetHouseOwners(ctx context.Context, c *conn) {
	if !e.requireGame(c) {
		return
	}
	owners, err := e.db.HouseOwners(ctx, c.worldID)
	if err != nil {
		e.fail(c, "listing house owners", err)
		return
	}
	w := e.prepareResponse(c, protocol.StatusOK)
	w.Write16(uint16(len(owners)))
	for _, o := range owners {
		w.Write16(uint16(o.HouseID))
		w.Write32(uint32(o.OwnerID))
		w.WriteString(o.OwnerName)
		w.Write32(uint32(o.PaidUntil))
	}
	e.sendResponse(c, w)
}

func (e *Engine) handleGetAuctions(ctx context.Context, c *conn) {
	if !e.requireGame(c) {
		return
	}
	houseIDs, err := e.db.HouseAuctions(ctx, c.worldID)
	if err != nil {
		e.fail(c, "listing auctions", err)
		return
	}
	w := e.prepareResponse(c, protocol.StatusOK)
	w.Write16(uint16(len(houseIDs)))
	for _, houseID := range houseIDs {
		w.Write16(uint16(houseID))
	}
	e.sendResponse(c, w)
}

func (e *Engine) handleStartAuction(ctx context.Context, c *conn, r *protocol.ReadBuffer) {
	if !e.requireGame(c) {
		return
	}
	houseID := int(r.Read16())
	if e.malformed(c, r) {
		return
	}
	if err := e.db.StartHouseAuction(ctx, c.worldID, houseID); err != nil {
		e.fail(c, "starting auction", err)
		return
	}
	e.sendOK(c)
}

// handleInsertHouses replaces the world's house definitions in one
// transaction.
func (e *Engine) handleInsertHouses(ctx context.Context, c *conn, r *protocol.ReadBuffer) {
	if !e.requireGame(c) {
		return
	}
	num := int(r.Read16())
	houses := make([]db.House, 0, num)
	for i := 0; i < num && !r.Overflowed(); i++ {
		var h db.House
		h.HouseID = int(r.Read16())
		h.Name = r.ReadString()
		h.Rent = int(r.Read32())
		h.Description = r.ReadString()
		h.Size = int(r.Read16())
		h.PositionX = int(r.Read16())
		h.PositionY = int(r.Read16())
		h.PositionZ = int(r.Read8())
		h.Town = r.ReadString()
		h.GuildHouse = r.ReadFlag()
		houses = append(houses, h)
	}
	if e.malformed(c, r) {
		return
	}

	tx := e.db.Transaction("InsertHouses")
	defer tx.Close(ctx)
	if err := tx.Begin(ctx); err != nil {
		e.fail(c, "starting house reload", err)
		return
	}
	if err := e.db.DeleteHouses(ctx, c.worldID); err != nil {
		e.fail(c, "deleting houses", err)
		return
	}
	if err := e.db.InsertHouses(ctx, c.worldID, houses); err != nil {
		e.fail(c, "inserting houses", err)
		return
	}
	if err := tx.Commit(ctx); err != nil {
		e.fail(c, "committing house reload", err)
		return
	}
	e.sendOK(c)
}

// handleCancelHouseTransfer acknowledges the request; nothing to undo on
// this side since transfers are drained atomically.
func (e *Engine) handleCancelHouseTransfer(c *conn) {
	if !e.requireGame(c) {
		return
	}
	e.sendOK(c)
}
