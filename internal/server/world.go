package server

import (
	"context"

	"github.com/arkanis/querymanager/internal/db"
	"github.com/arkanis/querymanager/internal/protocol"
)

// characterIndexLimit caps one LOAD_PLAYERS page.
const characterIndexLimit = 10000

// handleClearIsOnline zeroes every online flag of the world after a game
// server restart.
func (e *Engine) handleClearIsOnline(ctx context.Context, c *conn) {
	if !e.requireGame(c) {
		return
	}
	cleared, err := e.db.ClearIsOnline(ctx, c.worldID)
	if err != nil {
		e.fail(c, "clearing online counters", err)
		return
	}
	if cleared > 0 {
		e.log.Warn("cleared stale online counters", "world", c.worldID, "count", cleared)
	}
	w := e.prepareResponse(c, protocol.StatusOK)
	w.Write32(uint32(cleared))
	e.sendResponse(c, w)
}

// handleCreatePlayerlist replaces the world's published player list and
// checks the online record, all in one transaction.
func (e *Engine) handleCreatePlayerlist(ctx context.Context, c *conn, r *protocol.ReadBuffer) {
	if !e.requireGame(c) {
		return
	}
	num := int(r.Read16())
	if num == 0xFFFF {
		// Reserved sentinel; no real list reaches this size.
		e.log.Error("player list count sentinel", "remote", c.remote)
		e.sendFailed(c)
		return
	}
	characters := make([]db.OnlineCharacter, 0, num)
	for i := 0; i < num && !r.Overflowed(); i++ {
		var oc db.OnlineCharacter
		oc.Name = r.ReadString()
		oc.Level = int(r.Read16())
		oc.Profession = r.ReadString()
		characters = append(characters, oc)
	}
	if e.malformed(c, r) {
		return
	}

	tx := e.db.Transaction("CreatePlayerlist")
	defer tx.Close(ctx)
	if err := tx.Begin(ctx); err != nil {
		e.fail(c, "starting player list update", err)
		return
	}
	if err := e.db.DeleteOnlineCharacters(ctx, c.worldID); err != nil {
		e.fail(c, "clearing player list", err)
		return
	}
	if err := e.db.InsertOnlineCharacters(ctx, c.worldID, characters); err != nil {
		e.fail(c, "publishing player list", err)
		return
	}
	newRecord, err := e.db.CheckOnlineRecord(ctx, c.worldID, len(characters))
	if err != nil {
		e.fail(c, "checking online record", err)
		return
	}
	if err := tx.Commit(ctx); err != nil {
		e.fail(c, "committing player list", err)
		return
	}

	w := e.prepareResponse(c, protocol.StatusOK)
	w.WriteFlag(newRecord)
	e.sendResponse(c, w)
}

// handleLogKilledCreatures merges a race kill report into the stored
// statistics.
func (e *Engine) handleLogKilledCreatures(ctx context.Context, c *conn, r *protocol.ReadBuffer) {
	if !e.requireGame(c) {
		return
	}
	num := int(r.Read16())
	stats := make([]db.KillStatistic, 0, num)
	for i := 0; i < num && !r.Overflowed(); i++ {
		var s db.KillStatistic
		s.RaceName = r.ReadString()
		s.TimesKilled = int(r.Read32())
		s.PlayersKilled = int(r.Read32())
		stats = append(stats, s)
	}
	if e.malformed(c, r) {
		return
	}
	if err := e.db.MergeKillStatistics(ctx, c.worldID, stats); err != nil {
		e.fail(c, "merging kill statistics", err)
		return
	}
	e.sendOK(c)
}

// handleLoadPlayers pages through the world's character index.
func (e *Engine) handleLoadPlayers(ctx context.Context, c *conn, r *protocol.ReadBuffer) {
	if !e.requireGame(c) {
		return
	}
	minimumID := int(r.Read32())
	if e.malformed(c, r) {
		return
	}
	entries, err := e.db.CharacterIndex(ctx, c.worldID, minimumID, characterIndexLimit)
	if err != nil {
		e.fail(c, "loading character index", err)
		return
	}
	w := e.prepareResponse(c, protocol.StatusOK)
	w.Write16(uint16(len(entries)))
	for _, entry := range entries {
		w.Write32(uint32(entry.CharacterID))
		w.WriteString(entry.Name)
	}
	e.sendResponse(c, w)
}

// handleLoadWorldConfig returns the connection's world configuration with
// the game host resolved to an address.
func (e *Engine) handleLoadWorldConfig(ctx context.Context, c *conn) {
	if !e.requireGame(c) {
		return
	}
	cfg, ok, err := e.db.WorldConfig(ctx, c.worldID)
	if err != nil {
		e.fail(c, "loading world config", err)
		return
	}
	if !ok {
		e.log.Error("world config missing", "world", c.worldID)
		e.sendFailed(c)
		return
	}
	addr, ok := e.hosts.Resolve(cfg.Host)
	if !ok {
		e.log.Error("world host does not resolve", "world", c.worldID, "host", cfg.Host)
		e.sendFailed(c)
		return
	}
	w := e.prepareResponse(c, protocol.StatusOK)
	w.Write8(uint8(cfg.Type))
	w.Write8(uint8(cfg.RebootTime))
	w.Write32BE(addr)
	w.Write16(uint16(cfg.Port))
	w.Write16(uint16(cfg.MaxPlayers))
	w.Write16(uint16(cfg.PremiumPlayerBuffer))
	w.Write16(uint16(cfg.MaxNewbies))
	w.Write16(uint16(cfg.PremiumNewbieBuffer))
	e.sendResponse(c, w)
}

// handleCreateKillStatistics serves a world's kill statistics to the web
// front end.
func (e *Engine) handleCreateKillStatistics(ctx context.Context, c *conn, r *protocol.ReadBuffer) {
	if !e.requireWeb(c) {
		return
	}
	worldID, ok := e.webWorld(ctx, c, r)
	if !ok {
		return
	}
	stats, err := e.db.KillStatistics(ctx, worldID)
	if err != nil {
		e.fail(c, "loading kill statistics", err)
		return
	}
	w := e.prepareResponse(c, protocol.StatusOK)
	w.Write16(uint16(len(stats)))
	for _, s := range stats {
		w.WriteString(s.RaceName)
		w.Write32(uint32(s.TimesKilled))
		w.Write32(uint32(s.PlayersKilled))
	}
	e.sendResponse(c, w)
}

// handleGetPlayersOnline serves a world's published player list to the web
// front end.
func (e *Engine) handleGetPlayersOnline(ctx context.Context, c *conn, r *protocol.ReadBuffer) {
	if !e.requireWeb(c) {
		return
	}
	worldID, ok := e.webWorld(ctx, c, r)
	if !ok {
		return
	}
	characters, err := e.db.OnlineCharacters(ctx, worldID)
	if err != nil {
		e.fail(c, "loading player list", err)
		return
	}
	w := e.prepareResponse(c, protocol.StatusOK)
	w.Write16(uint16(len(characters)))
	for _, oc := range characters {
		w.WriteString(oc.Name)
		w.Write16(uint16(oc.Level))
		w.WriteString(oc.Profession)
	}
	e.sendResponse(c, w)
}

// handleGetWorlds serves the world list with live player counts.
func (e *Engine) handleGetWorlds(ctx context.Context, c *conn) {
	if !e.requireWeb(c) {
		return
	}
	worlds, err := e.db.Worlds(ctx)
	if err != nil {
		e.fail(c, "loading worlds", err)
		return
	}
	w := e.prepareResponse(c, protocol.StatusOK)
	w.Write8(uint8(len(worlds)))
	for _, world := range worlds {
		w.WriteString(world.Name)
		w.Write8(uint8(world.Type))
		w.Write16(uint16(world.NumPlayers))
		w.Write16(uint16(world.MaxPlayers))
		w.Write16(uint16(world.OnlineRecord))
		w.Write32(uint32(world.OnlineRecordTimestamp))
	}
	e.sendResponse(c, w)
}

// webWorld reads a world name argument and resolves it for a web handler.
func (e *Engine) webWorld(ctx context.Context, c *conn, r *protocol.ReadBuffer) (int, bool) {
	worldName := r.ReadString()
	if e.malformed(c, r) {
		return 0, false
	}
	worldID, err := e.db.WorldID(ctx, worldName)
	if err != nil {
		e.fail(c, "looking up world", err)
		return 0, false
	}
	if worldID == 0 {
		e.log.Error("unknown world", "remote", c.remote, "world", worldName)
		e.sendFailed(c)
		return 0, false
	}
	return worldID, true
}
