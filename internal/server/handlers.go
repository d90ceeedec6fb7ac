package server

import (
	"context"
	"strconv"

	"github.com/arkanis/querymanager/internal/protocol"
)

// dispatch decodes the query code of a complete request frame and routes
// it. Unauthorized connections may only log in; anything else drops them
// without a response.
func (e *Engine) dispatch(ctx context.Context, c *conn) {
	r := protocol.NewReadBuffer(c.buf[:c.rwSize])
	code := int(r.Read8())

	if !c.authorized {
		if code != protocol.QueryLogin {
			e.log.Error("query before login", "remote", c.remote, "query", code)
			e.closeConn(c)
			return
		}
		e.handleLogin(ctx, c, r)
		return
	}

	e.mets.Queries.WithLabelValues(strconv.Itoa(code)).Inc()
	switch code {
	case protocol.QueryCheckAccountPassword:
		e.handleCheckAccountPassword(ctx, c, r)
	case protocol.QueryLoginAccount:
		e.handleLoginAccount(ctx, c, r)
	case protocol.QueryLoginGame:
		e.handleLoginGame(ctx, c, r)
	case protocol.QueryLogoutGame:
		e.handleLogoutGame(ctx, c, r)
	case protocol.QuerySetNamelock:
		e.handleSetNamelock(ctx, c, r)
	case protocol.QueryBanishAccount:
		e.handleBanishAccount(ctx, c, r)
	case protocol.QuerySetNotation:
		e.handleSetNotation(ctx, c, r)
	case protocol.QueryReportStatement:
		e.handleReportStatement(ctx, c, r)
	case protocol.QueryBanishIPAddress:
		e.handleBanishIPAddress(ctx, c, r)
	case protocol.QueryLogCharacterDeath:
		e.handleLogCharacterDeath(ctx, c, r)
	case protocol.QueryAddBuddy:
		e.handleAddBuddy(ctx, c, r)
	case protocol.QueryRemoveBuddy:
		e.handleRemoveBuddy(ctx, c, r)
	case protocol.QueryDecrementIsOnline:
		e.handleDecrementIsOnline(ctx, c, r)
	case protocol.QueryFinishAuctions:
		e.handleFinishAuctions(ctx, c)
	case protocol.QueryTransferHouses:
		e.handleTransferHouses(ctx, c)
	case protocol.QueryEvictFreeAccounts:
		e.handleEvictFreeAccounts(ctx, c)
	case protocol.QueryEvictDeletedChars:
		e.handleEvictDeletedCharacters(ctx, c)
	case protocol.QueryEvictExGuildleaders:
		e.handleEvictExGuildleaders(ctx, c, r)
	case protocol.QueryInsertHouseOwner:
		e.handleInsertHouseOwner(ctx, c, r)
	case protocol.QueryUpdateHouseOwner:
		e.handleUpdateHouseOwner(ctx, c, r)
	case protocol.QueryDeleteHouseOwner:
		e.handleDeleteHouseOwner(ctx, c, r)
	case protocol.QueryGetHouseOwners:
		e.handleGetHouseOwners(ctx, c)
	case protocol.QueryGetAuctions:
		e.handleGetAuctions(ctx, c)
	case protocol.QueryStartAuction:
		e.handleStartAuction(ctx, c, r)
	case protocol.QueryInsertHouses:
		e.handleInsertHouses(ctx, c, r)
	case protocol.QueryClearIsOnline:
		e.handleClearIsOnline(ctx, c)
	case protocol.QueryCreatePlayerlist:
		e.handleCreatePlayerlist(ctx, c, r)
	case protocol.QueryLogKilledCreatures:
		e.handleLogKilledCreatures(ctx, c, r)
	case protocol.QueryLoadPlayers:
		e.handleLoadPlayers(ctx, c, r)
	case protocol.QueryExcludeFromAuctions:
		e.handleExcludeFromAuctions(ctx, c, r)
	case protocol.QueryCancelHouseTransfer:
		e.handleCancelHouseTransfer(c)
	case protocol.QueryLoadWorldConfig:
		e.handleLoadWorldConfig(ctx, c)
	case protocol.QueryCreateKillStatistics:
		e.handleCreateKillStatistics(ctx, c, r)
	case protocol.QueryGetPlayersOnline:
		e.handleGetPlayersOnline(ctx, c, r)
	case protocol.QueryGetWorlds:
		e.handleGetWorlds(ctx, c)
	default:
		if code == protocol.QueryLoginAdmin ||
			(code >= protocol.QueryGetKeptCharacters && code <= protocol.QueryCancelPaymentNew) {
			e.log.Warn("unimplemented query", "remote", c.remote, "query", code)
		} else {
			e.log.Error("unknown query", "remote", c.remote, "query", code)
		}
		e.sendFailed(c)
	}
}

// requireGame gates a handler to game server connections.
func (e *Engine) requireGame(c *conn) bool {
	if c.applicationType != protocol.AppGame {
		e.log.Error("query requires a game connection", "remote", c.remote)
		e.sendFailed(c)
		return false
	}
	return true
}

// requireWeb gates a handler to web server connections.
func (e *Engine) requireWeb(c *conn) bool {
	if c.applicationType != protocol.AppWeb {
		e.log.Error("query requires a web connection", "remote", c.remote)
		e.sendFailed(c)
		return false
	}
	return true
}

// malformed rejects a request whose arguments ran past the frame.
func (e *Engine) malformed(c *conn, r *protocol.ReadBuffer) bool {
	if r.Overflowed() {
		e.log.Error("malformed request", "remote", c.remote)
		e.sendFailed(c)
		return true
	}
	return false
}
