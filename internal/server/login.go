package server

import (
	"context"
	"crypto/subtle"

	"github.com/arkanis/querymanager/internal/crypto"
	"github.com/arkanis/querymanager/internal/db"
	"github.com/arkanis/querymanager/internal/protocol"
)

// Sliding windows and thresholds for failed login throttling.
const (
	accountAttemptLimit  = 10
	accountAttemptWindow = 300
	ipAttemptLimit       = 15
	ipAttemptWindow      = 1800
)

// Rights consulted during game login.
const (
	rightMultiClient = "ALLOW_MULTICLIENT"
	rightGamemaster  = "GAMEMASTER"
)

// handleLogin authorizes a connection. Game connections also bind to their
// world here. A bad password or unknown world answers failed but keeps the
// connection open.
func (e *Engine) handleLogin(ctx context.Context, c *conn, r *protocol.ReadBuffer) {
	applicationType := int(r.Read8())
	password := r.ReadString()

	var worldName string
	if applicationType == protocol.AppGame {
		worldName = r.ReadString()
	}
	if e.malformed(c, r) {
		return
	}
	switch applicationType {
	case protocol.AppGame, protocol.AppLogin, protocol.AppWeb:
	default:
		e.log.Error("unknown application type", "remote", c.remote, "type", applicationType)
		e.sendFailed(c)
		return
	}
	if subtle.ConstantTimeCompare([]byte(password), []byte(e.cfg.Password)) != 1 {
		e.log.Error("login with wrong password", "remote", c.remote)
		e.sendFailed(c)
		return
	}
	if applicationType == protocol.AppGame {
		worldID, err := e.db.WorldID(ctx, worldName)
		if err != nil {
			e.fail(c, "looking up world", err)
			return
		}
		if worldID == 0 {
			e.log.Error("login for unknown world", "remote", c.remote, "world", worldName)
			e.sendFailed(c)
			return
		}
		c.worldID = worldID
	}
	c.authorized = true
	c.applicationType = applicationType
	e.log.Info("connection authorized", "remote", c.remote, "type", applicationType)
	e.sendOK(c)
}

// handleCheckAccountPassword verifies account credentials for the login or
// web front end without any session side effects.
func (e *Engine) handleCheckAccountPassword(ctx context.Context, c *conn, r *protocol.ReadBuffer) {
	if c.applicationType != protocol.AppLogin && c.applicationType != protocol.AppWeb {
		e.log.Error("query requires a login or web connection", "remote", c.remote)
		e.sendFailed(c)
		return
	}
	accountID := int(r.Read32())
	password := r.ReadString()
	if e.malformed(c, r) {
		return
	}

	account, err := e.db.Account(ctx, accountID)
	if err != nil {
		e.fail(c, "loading account", err)
		return
	}
	if account.ID == 0 {
		e.sendError(c, 1)
		return
	}
	if !crypto.Verify(account.Auth, password) {
		e.sendError(c, 2)
		return
	}
	e.sendOK(c)
}

// handleLoginAccount is the client's account login: credentials and
// throttles checked, then the character list and premium days. The audit
// row is written outside the lookup transaction so it survives either way.
func (e *Engine) handleLoginAccount(ctx context.Context, c *conn, r *protocol.ReadBuffer) {
	if c.applicationType != protocol.AppLogin {
		e.log.Error("query requires a login connection", "remote", c.remote)
		e.sendFailed(c)
		return
	}
	accountID := int(r.Read32())
	password := r.ReadString()
	ipAddress := r.Read32BE()
	if e.malformed(c, r) {
		return
	}

	code, account, err := e.checkAccountLogin(ctx, accountID, password, ipAddress)
	if err != nil {
		e.fail(c, "checking account login", err)
		return
	}
	if err := e.db.InsertLoginAttempt(ctx, accountID, ipAddress, code != 0); err != nil {
		e.log.Error("recording login attempt", "remote", c.remote, "error", err)
	}
	if code != 0 {
		e.sendError(c, code)
		return
	}

	endpoints, err := e.db.CharacterEndpoints(ctx, accountID)
	if err != nil {
		e.fail(c, "loading character list", err)
		return
	}

	// Resolve first; characters on unresolvable worlds are left out.
	type resolved struct {
		endpoint db.CharacterEndpoint
		addr     uint32
	}
	var list []resolved
	for _, endpoint := range endpoints {
		addr, ok := e.hosts.Resolve(endpoint.WorldHost)
		if !ok {
			continue
		}
		list = append(list, resolved{endpoint: endpoint, addr: addr})
	}

	w := e.prepareResponse(c, protocol.StatusOK)
	w.Write8(uint8(len(list)))
	for _, entry := range list {
		w.WriteString(entry.endpoint.Name)
		w.WriteString(entry.endpoint.WorldName)
		w.Write32BE(entry.addr)
		w.Write16(uint16(entry.endpoint.WorldPort))
	}
	w.Write16(uint16(account.PremiumDays))
	e.sendResponse(c, w)
}

// checkAccountLogin runs the account login validation chain and returns
// the wire error code, 0 on success.
func (e *Engine) checkAccountLogin(ctx context.Context, accountID int, password string,
	ipAddress uint32) (uint8, db.Account, error) {
	tx := e.db.Transaction("LoginAccount")
	defer tx.Close(ctx)
	if err := tx.Begin(ctx); err != nil {
		return 0, db.Account{}, err
	}

	account, err := e.db.Account(ctx, accountID)
	if err != nil {
		return 0, account, err
	}
	if account.ID == 0 || account.Deleted {
		return 1, account, nil
	}
	if !crypto.Verify(account.Auth, password) {
		return 2, account, nil
	}
	accountAttempts, err := e.db.AccountFailedLoginAttempts(ctx, accountID, accountAttemptWindow)
	if err != nil {
		return 0, account, err
	}
	if accountAttempts >= accountAttemptLimit {
		return 3, account, nil
	}
	ipAttempts, err := e.db.IPFailedLoginAttempts(ctx, ipAddress, ipAttemptWindow)
	if err != nil {
		return 0, account, err
	}
	if ipAttempts >= ipAttemptLimit {
		return 4, account, nil
	}
	banished, err := e.db.AccountBanished(ctx, accountID)
	if err != nil {
		return 0, account, err
	}
	if banished {
		return 5, account, nil
	}
	ipBanished, err := e.db.IPBanished(ctx, ipAddress)
	if err != nil {
		return 0, account, err
	}
	if ipBanished {
		return 6, account, nil
	}
	return 0, account, tx.Commit(ctx)
}

// gameLoginReply is everything a successful game login sends back.
type gameLoginReply struct {
	character        db.CharacterLogin
	buddies          []db.Buddy
	rights           []string
	premiumDays      int
	premiumActivated bool
}

// handleLoginGame admits a character into this connection's world. The
// whole validation chain runs in one transaction; the audit row is written
// after it resolves.
func (e *Engine) handleLoginGame(ctx context.Context, c *conn, r *protocol.ReadBuffer) {
	if !e.requireGame(c) {
		return
	}
	accountID := int(r.Read32())
	characterName := r.ReadString()
	password := r.ReadString()
	ipAddress := r.Read32BE()
	privateWorld := r.ReadFlag()
	gamemasterRequired := r.ReadFlag()
	if e.malformed(c, r) {
		return
	}

	code, reply, err := e.checkGameLogin(ctx, c.worldID, accountID, characterName,
		password, ipAddress, privateWorld, gamemasterRequired)
	if err != nil {
		e.fail(c, "checking game login", err)
		return
	}
	if err := e.db.InsertLoginAttempt(ctx, accountID, ipAddress, code != 0); err != nil {
		e.log.Error("recording login attempt", "remote", c.remote, "error", err)
	}
	if code != 0 {
		e.sendError(c, code)
		return
	}

	w := e.prepareResponse(c, protocol.StatusOK)
	w.Write32(uint32(reply.character.CharacterID))
	w.Write8(uint8(reply.character.Sex))
	w.WriteString(reply.character.Guild)
	w.WriteString(reply.character.Rank)
	w.WriteString(reply.character.Title)
	w.Write16(uint16(len(reply.buddies)))
	for _, b := range reply.buddies {
		w.Write32(uint32(b.CharacterID))
		w.WriteString(b.Name)
	}
	w.Write16(uint16(len(reply.rights)))
	for _, right := range reply.rights {
		w.WriteString(right)
	}
	w.Write16(uint16(reply.premiumDays))
	w.WriteFlag(reply.premiumActivated)
	e.sendResponse(c, w)
}

func (e *Engine) checkGameLogin(ctx context.Context, worldID, accountID int,
	characterName, password string, ipAddress uint32,
	privateWorld, gamemasterRequired bool) (uint8, gameLoginReply, error) {
	var reply gameLoginReply

	tx := e.db.Transaction("LoginGame")
	defer tx.Close(ctx)
	if err := tx.Begin(ctx); err != nil {
		return 0, reply, err
	}

	character, err := e.db.CharacterLoginData(ctx, characterName)
	if err != nil {
		return 0, reply, err
	}
	reply.character = character
	if character.CharacterID == 0 {
		return 1, reply, nil
	}
	if character.Deleted {
		return 2, reply, nil
	}
	if character.WorldID != worldID {
		return 3, reply, nil
	}
	if privateWorld {
		invited, err := e.db.WorldInvitation(ctx, worldID, character.CharacterID)
		if err != nil {
			return 0, reply, err
		}
		if !invited {
			return 4, reply, nil
		}
	}

	account, err := e.db.Account(ctx, accountID)
	if err != nil {
		return 0, reply, err
	}
	if account.ID == 0 || account.Deleted {
		return 8, reply, nil
	}
	if character.AccountID != accountID {
		return 15, reply, nil
	}
	if !crypto.Verify(account.Auth, password) {
		return 6, reply, nil
	}
	accountAttempts, err := e.db.AccountFailedLoginAttempts(ctx, accountID, accountAttemptWindow)
	if err != nil {
		return 0, reply, err
	}
	if accountAttempts >= accountAttemptLimit {
		return 7, reply, nil
	}
	ipAttempts, err := e.db.IPFailedLoginAttempts(ctx, ipAddress, ipAttemptWindow)
	if err != nil {
		return 0, reply, err
	}
	if ipAttempts >= ipAttemptLimit {
		return 9, reply, nil
	}
	banished, err := e.db.AccountBanished(ctx, accountID)
	if err != nil {
		return 0, reply, err
	}
	if banished {
		return 10, reply, nil
	}
	namelock, err := e.db.NamelockStatus(ctx, character.CharacterID)
	if err != nil {
		return 0, reply, err
	}
	if namelock.Namelocked && !namelock.Approved {
		return 11, reply, nil
	}
	ipBanished, err := e.db.IPBanished(ctx, ipAddress)
	if err != nil {
		return 0, reply, err
	}
	if ipBanished {
		return 12, reply, nil
	}
	online, err := e.db.AccountOnlineCharacters(ctx, accountID)
	if err != nil {
		return 0, reply, err
	}
	if online > 0 {
		allowed, err := e.db.CharacterRight(ctx, character.CharacterID, rightMultiClient)
		if err != nil {
			return 0, reply, err
		}
		if !allowed {
			return 13, reply, nil
		}
	}
	if gamemasterRequired {
		gamemaster, err := e.db.CharacterRight(ctx, character.CharacterID, rightGamemaster)
		if err != nil {
			return 0, reply, err
		}
		if !gamemaster {
			return 14, reply, nil
		}
	}

	reply.premiumDays = account.PremiumDays
	if account.PremiumDays == 0 && account.PendingPremiumDays > 0 {
		if err := e.db.ActivatePendingPremiumDays(ctx, accountID); err != nil {
			return 0, reply, err
		}
		reply.premiumDays = account.PendingPremiumDays
		reply.premiumActivated = true
	}
	if _, err := e.db.IncrementIsOnline(ctx, worldID, character.CharacterID); err != nil {
		return 0, reply, err
	}
	reply.buddies, err = e.db.Buddies(ctx, worldID, accountID)
	if err != nil {
		return 0, reply, err
	}
	reply.rights, err = e.db.CharacterRights(ctx, character.CharacterID)
	if err != nil {
		return 0, reply, err
	}
	return 0, reply, tx.Commit(ctx)
}

// handleLogoutGame persists the character's end-of-session state.
func (e *Engine) handleLogoutGame(ctx context.Context, c *conn, r *protocol.ReadBuffer) {
	if !e.requireGame(c) {
		return
	}
	characterID := int(r.Read32())
	level := int(r.Read16())
	profession := r.ReadString()
	residence := r.ReadString()
	lastLoginTime := int64(r.Read32())
	tutorActivities := int(r.Read16())
	if e.malformed(c, r) {
		return
	}

	online, ok, err := e.db.LogoutCharacter(ctx, c.worldID, characterID, level,
		profession, residence, lastLoginTime, tutorActivities)
	if err != nil {
		e.fail(c, "logging out character", err)
		return
	}
	if !ok {
		e.sendError(c, 1)
		return
	}
	if online < 0 {
		e.log.Warn("online counter underflow", "remote", c.remote,
			"character", characterID, "count", online)
	}
	e.sendOK(c)
}
