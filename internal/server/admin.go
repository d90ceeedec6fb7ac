package server

import (
	"context"

	"github.com/arkanis/querymanager/internal/db"
	"github.com/arkanis/querymanager/internal/protocol"
)

// Right that shields a character from gamemaster sanctions.
const rightNoBanishment = "NO_BANISHMENT"

// IP banishments always run for 30 days.
const ipBanishmentSeconds = 30 * 86400

// compoundBanishment escalates a requested banishment against the
// account's record. A standing final warning makes the new banishment
// permanent (days 0); a repeat offender or a requested final warning
// raises the duration to at least 30 days, doubling anything longer.
func compoundBanishment(status db.BanishmentStatus, finalWarning bool, days int) (bool, int) {
	if status.FinalWarning {
		return false, 0
	}
	if status.TimesBanished > 5 || finalWarning {
		if days < 30 {
			days = 30
		} else {
			days *= 2
		}
		return true, days
	}
	return finalWarning, days
}

// handleSetNamelock locks a character's name pending a new one.
func (e *Engine) handleSetNamelock(ctx context.Context, c *conn, r *protocol.ReadBuffer) {
	if !e.requireGame(c) {
		return
	}
	characterName := r.ReadString()
	ipAddress := r.Read32BE()
	gamemasterID := int(r.Read32())
	reason := r.ReadString()
	comment := r.ReadString()
	if e.malformed(c, r) {
		return
	}

	tx := e.db.Transaction("SetNamelock")
	defer tx.Close(ctx)
	if err := tx.Begin(ctx); err != nil {
		e.fail(c, "starting namelock", err)
		return
	}

	characterID, err := e.db.CharacterID(ctx, c.worldID, characterName)
	if err != nil {
		e.fail(c, "looking up character", err)
		return
	}
	if characterID == 0 {
		e.sendError(c, 1)
		return
	}
	protected, err := e.db.CharacterRight(ctx, characterID, rightNoBanishment)
	if err != nil {
		e.fail(c, "checking character rights", err)
		return
	}
	if protected {
		e.sendError(c, 2)
		return
	}
	status, err := e.db.NamelockStatus(ctx, characterID)
	if err != nil {
		e.fail(c, "checking namelock status", err)
		return
	}
	if status.Namelocked {
		if !status.Approved {
			e.sendError(c, 3)
		} else {
			e.sendError(c, 4)
		}
		return
	}
	if err := e.db.InsertNamelock(ctx, characterID, ipAddress, gamemasterID, reason, comment); err != nil {
		e.fail(c, "inserting namelock", err)
		return
	}
	if err := tx.Commit(ctx); err != nil {
		e.fail(c, "committing namelock", err)
		return
	}
	e.sendOK(c)
}

// handleBanishAccount banishes a character's account, compounding the
// requested sanction with the account's history.
func (e *Engine) handleBanishAccount(ctx context.Context, c *conn, r *protocol.ReadBuffer) {
	if !e.requireGame(c) {
		return
	}
	characterName := r.ReadString()
	ipAddress := r.Read32BE()
	gamemasterID := int(r.Read32())
	reason := r.ReadString()
	comment := r.ReadString()
	finalWarning := r.ReadFlag()
	days := int(r.Read8())
	if e.malformed(c, r) {
		return
	}

	tx := e.db.Transaction("BanishAccount")
	defer tx.Close(ctx)
	if err := tx.Begin(ctx); err != nil {
		e.fail(c, "starting banishment", err)
		return
	}

	characterID, err := e.db.CharacterID(ctx, c.worldID, characterName)
	if err != nil {
		e.fail(c, "looking up character", err)
		return
	}
	if characterID == 0 {
		e.sendError(c, 1)
		return
	}
	protected, err := e.db.CharacterRight(ctx, characterID, rightNoBanishment)
	if err != nil {
		e.fail(c, "checking character rights", err)
		return
	}
	if protected {
		e.sendError(c, 2)
		return
	}
	status, err := e.db.BanishmentStatus(ctx, characterID)
	if err != nil {
		e.fail(c, "checking banishment status", err)
		return
	}
	if status.Banished {
		e.sendError(c, 3)
		return
	}

	finalWarning, days = compoundBanishment(status, finalWarning, days)
	banishmentID, err := e.db.InsertBanishment(ctx, characterID, ipAddress, gamemasterID,
		reason, comment, finalWarning, int64(days)*86400)
	if err != nil {
		e.fail(c, "inserting banishment", err)
		return
	}
	if err := tx.Commit(ctx); err != nil {
		e.fail(c, "committing banishment", err)
		return
	}

	w := e.prepareResponse(c, protocol.StatusOK)
	w.Write32(uint32(banishmentID))
	if days == 0 {
		w.Write8(0xFF) // permanent
	} else {
		w.Write8(uint8(days))
	}
	w.WriteFlag(finalWarning)
	e.sendResponse(c, w)
}

// handleSetNotation records a disciplinary notation against a character.
func (e *Engine) handleSetNotation(ctx context.Context, c *conn, r *protocol.ReadBuffer) {
	if !e.requireGame(c) {
		return
	}
	characterName := r.ReadString()
	ipAddress := r.Read32BE()
	gamemasterID := int(r.Read32())
	reason := r.ReadString()
	comment := r.ReadString()
	if e.malformed(c, r) {
		return
	}

	tx := e.db.Transaction("SetNotation")
	defer tx.Close(ctx)
	if err := tx.Begin(ctx); err != nil {
		e.fail(c, "starting notation", err)
		return
	}

	characterID, err := e.db.CharacterID(ctx, c.worldID, characterName)
	if err != nil {
		e.fail(c, "looking up character", err)
		return
	}
	if characterID == 0 {
		e.sendError(c, 1)
		return
	}
	protected, err := e.db.CharacterRight(ctx, characterID, rightNoBanishment)
	if err != nil {
		e.fail(c, "checking character rights", err)
		return
	}
	if protected {
		e.sendError(c, 2)
		return
	}
	if err := e.db.InsertNotation(ctx, characterID, ipAddress, gamemasterID, reason, comment); err != nil {
		e.fail(c, "inserting notation", err)
		return
	}
	count, err := e.db.NotationCount(ctx, characterID)
	if err != nil {
		e.fail(c, "counting notations", err)
		return
	}
	if err := tx.Commit(ctx); err != nil {
		e.fail(c, "committing notation", err)
		return
	}
	e.log.Info("notation recorded", "remote", c.remote,
		"character", characterID, "count", count)
	e.sendOK(c)
}

// handleReportStatement archives a chat excerpt and marks the designated
// statement reported.
func (e *Engine) handleReportStatement(ctx context.Context, c *conn, r *protocol.ReadBuffer) {
	if !e.requireGame(c) {
		return
	}
	reporterID := int(r.Read32())
	characterName := r.ReadString()
	reason := r.ReadString()
	comment := r.ReadString()
	banishmentID := int(r.Read32())
	reportedStatementID := int(r.Read32())
	numStatements := int(r.Read16())

	statements := make([]db.Statement, 0, numStatements)
	for i := 0; i < numStatements && !r.Overflowed(); i++ {
		var s db.Statement
		s.StatementID = int(r.Read32())
		s.Timestamp = int64(r.Read32())
		s.CharacterID = int(r.Read32())
		s.Channel = r.ReadString()
		s.Text = r.ReadString()
		statements = append(statements, s)
	}
	if e.malformed(c, r) {
		return
	}

	tx := e.db.Transaction("ReportStatement")
	defer tx.Close(ctx)
	if err := tx.Begin(ctx); err != nil {
		e.fail(c, "starting statement report", err)
		return
	}

	characterID, err := e.db.CharacterID(ctx, c.worldID, characterName)
	if err != nil {
		e.fail(c, "looking up character", err)
		return
	}
	if characterID == 0 {
		e.sendError(c, 1)
		return
	}
	protected, err := e.db.CharacterRight(ctx, characterID, rightNoBanishment)
	if err != nil {
		e.fail(c, "checking character rights", err)
		return
	}
	if protected {
		e.sendError(c, 2)
		return
	}

	// The reported statement must be part of the excerpt and belong to
	// the reported character.
	var reported *db.Statement
	for i := range statements {
		if statements[i].StatementID == reportedStatementID {
			reported = &statements[i]
			break
		}
	}
	if reported == nil || reported.CharacterID != characterID {
		e.log.Error("reported statement missing from excerpt", "remote", c.remote,
			"statement", reportedStatementID)
		e.sendFailed(c)
		return
	}

	if err := e.db.InsertStatements(ctx, c.worldID, statements); err != nil {
		e.fail(c, "archiving statements", err)
		return
	}
	// Overlapping reports of the same statement keep a single report row.
	duplicate, err := e.db.StatementReported(ctx, c.worldID, reported.Timestamp, reported.StatementID)
	if err != nil {
		e.fail(c, "checking for earlier report", err)
		return
	}
	if duplicate {
		e.log.Info("statement already reported", "remote", c.remote,
			"statement", reportedStatementID)
	} else if err := e.db.InsertReportedStatement(ctx, c.worldID, *reported, banishmentID,
		reporterID, reason, comment); err != nil {
		e.fail(c, "recording report", err)
		return
	}
	if err := tx.Commit(ctx); err != nil {
		e.fail(c, "committing statement report", err)
		return
	}
	e.sendOK(c)
}

// handleBanishIPAddress bans the character's last known address for the
// fixed 30 day term.
func (e *Engine) handleBanishIPAddress(ctx context.Context, c *conn, r *protocol.ReadBuffer) {
	if !e.requireGame(c) {
		return
	}
	characterName := r.ReadString()
	ipAddress := r.Read32BE()
	gamemasterID := int(r.Read32())
	reason := r.ReadString()
	comment := r.ReadString()
	if e.malformed(c, r) {
		return
	}

	tx := e.db.Transaction("BanishIPAddress")
	defer tx.Close(ctx)
	if err := tx.Begin(ctx); err != nil {
		e.fail(c, "starting ip banishment", err)
		return
	}

	characterID, err := e.db.CharacterID(ctx, c.worldID, characterName)
	if err != nil {
		e.fail(c, "looking up character", err)
		return
	}
	if characterID == 0 {
		e.sendError(c, 1)
		return
	}
	protected, err := e.db.CharacterRight(ctx, characterID, rightNoBanishment)
	if err != nil {
		e.fail(c, "checking character rights", err)
		return
	}
	if protected {
		e.sendError(c, 2)
		return
	}
	if err := e.db.InsertIPBanishment(ctx, characterID, ipAddress, gamemasterID,
		reason, comment, ipBanishmentSeconds); err != nil {
		e.fail(c, "inserting ip banishment", err)
		return
	}
	if err := tx.Commit(ctx); err != nil {
		e.fail(c, "committing ip banishment", err)
		return
	}
	e.sendOK(c)
}

// handleExcludeFromAuctions bars a character from house auctions,
// optionally issuing a companion banishment it references.
func (e *Engine) handleExcludeFromAuctions(ctx context.Context, c *conn, r *protocol.ReadBuffer) {
	if !e.requireGame(c) {
		return
	}
	characterName := r.ReadString()
	ipAddress := r.Read32BE()
	gamemasterID := int(r.Read32())
	reason := r.ReadString()
	comment := r.ReadString()
	duration := int64(r.Read32())
	banish := r.ReadFlag()
	if e.malformed(c, r) {
		return
	}

	tx := e.db.Transaction("ExcludeFromAuctions")
	defer tx.Close(ctx)
	if err := tx.Begin(ctx); err != nil {
		e.fail(c, "starting auction exclusion", err)
		return
	}

	characterID, err := e.db.CharacterID(ctx, c.worldID, characterName)
	if err != nil {
		e.fail(c, "looking up character", err)
		return
	}
	if characterID == 0 {
		e.sendError(c, 1)
		return
	}
	protected, err := e.db.CharacterRight(ctx, characterID, rightNoBanishment)
	if err != nil {
		e.fail(c, "checking character rights", err)
		return
	}
	if protected {
		e.sendError(c, 2)
		return
	}

	banishmentID := 0
	if banish {
		status, err := e.db.BanishmentStatus(ctx, characterID)
		if err != nil {
			e.fail(c, "checking banishment status", err)
			return
		}
		finalWarning, days := compoundBanishment(status, false, int(duration/86400))
		banishmentID, err = e.db.InsertBanishment(ctx, characterID, ipAddress, gamemasterID,
			reason, comment, finalWarning, int64(days)*86400)
		if err != nil {
			e.fail(c, "inserting banishment", err)
			return
		}
	}
	if err := e.db.ExcludeFromAuctions(ctx, c.worldID, characterID, duration, banishmentID); err != nil {
		e.fail(c, "inserting auction exclusion", err)
		return
	}
	if err := tx.Commit(ctx); err != nil {
		e.fail(c, "committing auction exclusion", err)
		return
	}
	e.sendOK(c)
}

// handleLogCharacterDeath appends to a character's death list.
func (e *Engine) handleLogCharacterDeath(ctx context.Context, c *conn, r *protocol.ReadBuffer) {
	if !e.requireGame(c) {
		return
	}
	characterID := int(r.Read32())
	level := int(r.Read16())
	offenderID := int(r.Read32())
	remark := r.ReadString()
	unjustified := r.ReadFlag()
	timestamp := int64(r.Read32())
	if e.malformed(c, r) {
		return
	}

	if err := e.db.InsertCharacterDeath(ctx, c.worldID, characterID, level, offenderID,
		remark, unjustified, timestamp); err != nil {
		e.fail(c, "logging character death", err)
		return
	}
	e.sendOK(c)
}

func (e *Engine) handleAddBuddy(ctx context.Context, c *conn, r *protocol.ReadBuffer) {
	if !e.requireGame(c) {
		return
	}
	accountID := int(r.Read32())
	buddyID := int(r.Read32())
	if e.malformed(c, r) {
		return
	}
	if err := e.db.InsertBuddy(ctx, c.worldID, accountID, buddyID); err != nil {
		e.fail(c, "adding buddy", err)
		return
	}
	e.sendOK(c)
}

func (e *Engine) handleRemoveBuddy(ctx context.Context, c *conn, r *protocol.ReadBuffer) {
	if !e.requireGame(c) {
		return
	}
	accountID := int(r.Read32())
	buddyID := int(r.Read32())
	if e.malformed(c, r) {
		return
	}
	if err := e.db.DeleteBuddy(ctx, c.worldID, accountID, buddyID); err != nil {
		e.fail(c, "removing buddy", err)
		return
	}
	e.sendOK(c)
}

func (e *Engine) handleDecrementIsOnline(ctx context.Context, c *conn, r *protocol.ReadBuffer) {
	if !e.requireGame(c) {
		return
	}
	characterID := int(r.Read32())
	if e.malformed(c, r) {
		return
	}
	online, ok, err := e.db.DecrementIsOnline(ctx, c.worldID, characterID)
	if err != nil {
		e.fail(c, "decrementing online counter", err)
		return
	}
	if !ok {
		e.log.Warn("no character to mark offline", "remote", c.remote, "character", characterID)
	} else if online < 0 {
		e.log.Warn("online counter underflow", "remote", c.remote,
			"character", characterID, "count", online)
	}
	e.sendOK(c)
}
