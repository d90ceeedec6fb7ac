package server

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/arkanis/querymanager/internal/config"
	"github.com/arkanis/querymanager/internal/crypto"
	"github.com/arkanis/querymanager/internal/db"
	"github.com/arkanis/querymanager/internal/hostcache"
	"github.com/arkanis/querymanager/internal/metrics"
	"github.com/arkanis/querymanager/internal/protocol"
)

const testPassword = "queryPassword"

// testServer is a running engine plus a raw database handle for seeding.
type testServer struct {
	engine *Engine
	raw    *sql.DB
}

func startServer(t *testing.T, mutate func(*config.Config)) *testServer {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	file := filepath.Join(t.TempDir(), "qm.db")

	database, err := db.Open(context.Background(), file, 32, log)
	require.NoError(t, err)

	raw, err := sql.Open("sqlite", file)
	require.NoError(t, err)

	cfg := config.Default()
	cfg.Port = 0
	cfg.Password = testPassword
	cfg.UpdateRate = 200
	if mutate != nil {
		mutate(&cfg)
	}

	hosts := hostcache.New(cfg.MaxCachedHostNames, cfg.HostNameExpireTime, log)
	engine := New(cfg, database, hosts, metrics.New(prometheus.NewRegistry()), log)
	require.NoError(t, engine.Bind())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		engine.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		database.Close()
		raw.Close()
	})
	return &testServer{engine: engine, raw: raw}
}

func (s *testServer) seed(t *testing.T, text string, args ...any) {
	t.Helper()
	_, err := s.raw.Exec(text, args...)
	require.NoError(t, err)
}

func (s *testServer) seedWorld(t *testing.T, worldID int, name string) {
	s.seed(t, "INSERT INTO Worlds (WorldID, Name, Type, RebootTime, Host, Port, MaxPlayers,"+
		" PremiumPlayerBuffer, MaxNewbies, PremiumNewbieBuffer)"+
		" VALUES (?1, ?2, 1, 5, '127.0.0.1', 7172, 900, 50, 300, 30)", worldID, name)
}

func (s *testServer) seedAccount(t *testing.T, accountID int, password string) {
	salt := make([]byte, 32)
	for i := range salt {
		salt[i] = byte(accountID + i)
	}
	digest := crypto.Hash(password, salt)
	s.seed(t, "INSERT INTO Accounts (AccountID, Email, Auth) VALUES (?1, 'x@y.z', ?2)",
		accountID, append(digest[:], salt...))
}

func (s *testServer) seedCharacter(t *testing.T, characterID, worldID, accountID int, name string) {
	s.seed(t, "INSERT INTO Characters (CharacterID, WorldID, AccountID, Name, Sex)"+
		" VALUES (?1, ?2, ?3, ?4, 1)", characterID, worldID, accountID, name)
}

func (s *testServer) count(t *testing.T, text string, args ...any) int {
	t.Helper()
	var n int
	require.NoError(t, s.raw.QueryRow(text, args...).Scan(&n))
	return n
}

// client speaks the framed protocol against a running engine.
type client struct {
	t    *testing.T
	conn net.Conn
	buf  []byte
}

func dial(t *testing.T, s *testServer) *client {
	t.Helper()
	conn, err := net.Dial("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(s.engine.Port())))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &client{t: t, conn: conn, buf: make([]byte, 1<<20)}
}

// payload builds a request body.
func payload(build func(w *protocol.WriteBuffer)) []byte {
	buf := make([]byte, 1<<20)
	w := protocol.NewWriteBuffer(buf)
	build(w)
	return w.Bytes()
}

// request sends one frame, escaping to the wide length header when the
// body calls for it, and returns the response payload.
func (c *client) request(body []byte) *protocol.ReadBuffer {
	c.t.Helper()
	frame := make([]byte, 0, len(body)+6)
	if len(body) >= 0xFFFF {
		frame = append(frame, 0xFF, 0xFF,
			byte(len(body)), byte(len(body)>>8), byte(len(body)>>16), byte(len(body)>>24))
	} else {
		frame = append(frame, byte(len(body)), byte(len(body)>>8))
	}
	frame = append(frame, body...)
	require.NoError(c.t, c.conn.SetDeadline(time.Now().Add(5*time.Second)))
	_, err := c.conn.Write(frame)
	require.NoError(c.t, err)

	header := make([]byte, 2)
	_, err = io.ReadFull(c.conn, header)
	require.NoError(c.t, err)
	size := int(header[0]) | int(header[1])<<8
	if size == 0xFFFF {
		wide := make([]byte, 4)
		_, err = io.ReadFull(c.conn, wide)
		require.NoError(c.t, err)
		size = int(wide[0]) | int(wide[1])<<8 | int(wide[2])<<16 | int(wide[3])<<24
	}
	_, err = io.ReadFull(c.conn, c.buf[:size])
	require.NoError(c.t, err)
	return protocol.NewReadBuffer(c.buf[:size])
}

// expectClosed asserts the server dropped the connection.
func (c *client) expectClosed() {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, err := c.conn.Read(make([]byte, 1))
	require.ErrorIs(c.t, err, io.EOF)
}

// login authorizes the client and returns the response status.
func (c *client) login(applicationType int, password, worldName string) uint8 {
	r := c.request(payload(func(w *protocol.WriteBuffer) {
		w.Write8(protocol.QueryLogin)
		w.Write8(uint8(applicationType))
		w.WriteString(password)
		if applicationType == protocol.AppGame {
			w.WriteString(worldName)
		}
	}))
	return r.Read8()
}

func (c *client) loginGame(t *testing.T, worldName string) {
	t.Helper()
	require.Equal(t, uint8(protocol.StatusOK), c.login(protocol.AppGame, testPassword, worldName))
}

func TestQueryBeforeLoginClosesConnection(t *testing.T) {
	s := startServer(t, nil)
	c := dial(t, s)

	frame := []byte{1, 0, protocol.QueryGetHouseOwners}
	_, err := c.conn.Write(frame)
	require.NoError(t, err)
	c.expectClosed()
}

func TestZeroLengthFrameClosesConnection(t *testing.T) {
	s := startServer(t, nil)
	c := dial(t, s)

	_, err := c.conn.Write([]byte{0, 0})
	require.NoError(t, err)
	c.expectClosed()
}

func TestLoginWrongPasswordAnswersFailed(t *testing.T) {
	s := startServer(t, nil)
	s.seedWorld(t, 1, "Zanera")
	c := dial(t, s)

	assert.Equal(t, uint8(protocol.StatusFailed), c.login(protocol.AppGame, "wrong", "Zanera"))
	// The connection survives a failed login.
	assert.Equal(t, uint8(protocol.StatusOK), c.login(protocol.AppGame, testPassword, "Zanera"))
}

func TestLoginUnknownWorldAnswersFailed(t *testing.T) {
	s := startServer(t, nil)
	c := dial(t, s)
	assert.Equal(t, uint8(protocol.StatusFailed), c.login(protocol.AppGame, testPassword, "Atlantis"))
}

func TestUnknownQueryAnswersFailed(t *testing.T) {
	s := startServer(t, nil)
	s.seedWorld(t, 1, "Zanera")
	c := dial(t, s)
	c.loginGame(t, "Zanera")

	r := c.request([]byte{99})
	assert.Equal(t, uint8(protocol.StatusFailed), r.Read8())

	// Known but unimplemented codes answer failed the same way.
	r = c.request([]byte{protocol.QueryLoginAdmin})
	assert.Equal(t, uint8(protocol.StatusFailed), r.Read8())
	r = c.request([]byte{protocol.QueryCreateCensus})
	assert.Equal(t, uint8(protocol.StatusFailed), r.Read8())
}

func TestLoadWorldConfig(t *testing.T) {
	s := startServer(t, nil)
	s.seedWorld(t, 1, "Zanera")
	c := dial(t, s)
	c.loginGame(t, "Zanera")

	r := c.request([]byte{protocol.QueryLoadWorldConfig})
	require.Equal(t, uint8(protocol.StatusOK), r.Read8())
	assert.Equal(t, uint8(1), r.Read8())            // type
	assert.Equal(t, uint8(5), r.Read8())            // reboot time
	assert.Equal(t, uint32(0x7F000001), r.Read32BE()) // 127.0.0.1
	assert.Equal(t, uint16(7172), r.Read16())
	assert.Equal(t, uint16(900), r.Read16())
	assert.Equal(t, uint16(50), r.Read16())
	assert.Equal(t, uint16(300), r.Read16())
	assert.Equal(t, uint16(30), r.Read16())
	assert.False(t, r.Overflowed())
}

func TestCheckAccountPassword(t *testing.T) {
	s := startServer(t, nil)
	s.seedAccount(t, 1001, "hunter2")
	c := dial(t, s)
	require.Equal(t, uint8(protocol.StatusOK), c.login(protocol.AppLogin, testPassword, ""))

	check := func(accountID int, password string) *protocol.ReadBuffer {
		return c.request(payload(func(w *protocol.WriteBuffer) {
			w.Write8(protocol.QueryCheckAccountPassword)
			w.Write32(uint32(accountID))
			w.WriteString(password)
		}))
	}

	r := check(1001, "hunter2")
	assert.Equal(t, uint8(protocol.StatusOK), r.Read8())

	r = check(1001, "wrong")
	assert.Equal(t, uint8(protocol.StatusError), r.Read8())
	assert.Equal(t, uint8(2), r.Read8())

	r = check(4040, "hunter2")
	assert.Equal(t, uint8(protocol.StatusError), r.Read8())
	assert.Equal(t, uint8(1), r.Read8())
}

func loginAccountRequest(accountID int, password string, ip uint32) []byte {
	return payload(func(w *protocol.WriteBuffer) {
		w.Write8(protocol.QueryLoginAccount)
		w.Write32(uint32(accountID))
		w.WriteString(password)
		w.Write32BE(ip)
	})
}

func TestLoginAccount(t *testing.T) {
	s := startServer(t, nil)
	s.seedWorld(t, 1, "Zanera")
	s.seedAccount(t, 1001, "hunter2")
	s.seedCharacter(t, 100, 1, 1001, "Brutus")
	s.seed(t, "UPDATE Accounts SET PremiumEnd = UNIXEPOCH() + 5 * 86400 WHERE AccountID = 1001")

	c := dial(t, s)
	require.Equal(t, uint8(protocol.StatusOK), c.login(protocol.AppLogin, testPassword, ""))

	r := c.request(loginAccountRequest(1001, "hunter2", 0x7F000001))
	require.Equal(t, uint8(protocol.StatusOK), r.Read8())
	require.Equal(t, uint8(1), r.Read8())
	assert.Equal(t, "Brutus", r.ReadString())
	assert.Equal(t, "Zanera", r.ReadString())
	assert.Equal(t, uint32(0x7F000001), r.Read32BE())
	assert.Equal(t, uint16(7172), r.Read16())
	assert.Equal(t, uint16(5), r.Read16())
	assert.False(t, r.Overflowed())

	// Exactly one audit row, marked successful.
	assert.Equal(t, 1, s.count(t, "SELECT COUNT(*) FROM LoginAttempts WHERE AccountID = 1001"))
	assert.Equal(t, 0, s.count(t, "SELECT COUNT(*) FROM LoginAttempts WHERE AccountID = 1001 AND Failed != 0"))
}

func TestLoginAccountRateLimit(t *testing.T) {
	s := startServer(t, nil)
	s.seedAccount(t, 1001, "hunter2")
	for i := 0; i < 10; i++ {
		s.seed(t, "INSERT INTO LoginAttempts (AccountID, IPAddress, Timestamp, Failed)"+
			" VALUES (1001, 1, UNIXEPOCH(), 1)")
	}

	c := dial(t, s)
	require.Equal(t, uint8(protocol.StatusOK), c.login(protocol.AppLogin, testPassword, ""))

	r := c.request(loginAccountRequest(1001, "hunter2", 0x7F000001))
	require.Equal(t, uint8(protocol.StatusError), r.Read8())
	assert.Equal(t, uint8(3), r.Read8())

	// The rejected attempt is audited as failed.
	assert.Equal(t, 11, s.count(t, "SELECT COUNT(*) FROM LoginAttempts WHERE AccountID = 1001 AND Failed != 0"))
}

func loginGameRequest(accountID int, name, password string, ip uint32) []byte {
	return payload(func(w *protocol.WriteBuffer) {
		w.Write8(protocol.QueryLoginGame)
		w.Write32(uint32(accountID))
		w.WriteString(name)
		w.WriteString(password)
		w.Write32BE(ip)
		w.WriteFlag(false)
		w.WriteFlag(false)
	})
}

func TestLoginGame(t *testing.T) {
	s := startServer(t, nil)
	s.seedWorld(t, 1, "Zanera")
	s.seedAccount(t, 1001, "hunter2")
	s.seedCharacter(t, 100, 1, 1001, "Brutus")
	s.seedCharacter(t, 101, 1, 1001, "Cassia")
	s.seed(t, "UPDATE Characters SET Guild = 'Iron Fist', Rank = 'Leader', Title = 'the Bold'"+
		" WHERE CharacterID = 100")
	s.seed(t, "INSERT INTO Buddies (WorldID, AccountID, BuddyID) VALUES (1, 1001, 101)")
	s.seed(t, `INSERT INTO CharacterRights (CharacterID, "Right") VALUES (100, 'ALLOW_MULTICLIENT')`)
	s.seed(t, "UPDATE Accounts SET PendingPremiumDays = 3 WHERE AccountID = 1001")

	c := dial(t, s)
	c.loginGame(t, "Zanera")

	r := c.request(loginGameRequest(1001, "Brutus", "hunter2", 0x7F000001))
	require.Equal(t, uint8(protocol.StatusOK), r.Read8())
	assert.Equal(t, uint32(100), r.Read32())
	assert.Equal(t, uint8(1), r.Read8())
	assert.Equal(t, "Iron Fist", r.ReadString())
	assert.Equal(t, "Leader", r.ReadString())
	assert.Equal(t, "the Bold", r.ReadString())
	require.Equal(t, uint16(1), r.Read16())
	assert.Equal(t, uint32(101), r.Read32())
	assert.Equal(t, "Cassia", r.ReadString())
	require.Equal(t, uint16(1), r.Read16())
	assert.Equal(t, "ALLOW_MULTICLIENT", r.ReadString())
	assert.Equal(t, uint16(3), r.Read16()) // pending days activated
	assert.True(t, r.ReadFlag())
	assert.False(t, r.Overflowed())

	assert.Equal(t, 1, s.count(t, "SELECT IsOnline FROM Characters WHERE CharacterID = 100"))
	assert.Equal(t, 0, s.count(t, "SELECT PendingPremiumDays FROM Accounts WHERE AccountID = 1001"))
}

func TestLoginGameErrors(t *testing.T) {
	s := startServer(t, nil)
	s.seedWorld(t, 1, "Zanera")
	s.seedWorld(t, 2, "Harmonia")
	s.seedAccount(t, 1001, "hunter2")
	s.seedCharacter(t, 100, 1, 1001, "Brutus")
	s.seedCharacter(t, 200, 2, 1001, "Wanderer")

	c := dial(t, s)
	c.loginGame(t, "Zanera")

	expectError := func(body []byte, code uint8) {
		t.Helper()
		r := c.request(body)
		require.Equal(t, uint8(protocol.StatusError), r.Read8())
		assert.Equal(t, code, r.Read8())
	}

	expectError(loginGameRequest(1001, "Nobody", "hunter2", 1), 1)
	expectError(loginGameRequest(1001, "Wanderer", "hunter2", 1), 3)
	expectError(loginGameRequest(1001, "Brutus", "wrong", 1), 6)
	expectError(loginGameRequest(4040, "Brutus", "hunter2", 1), 8)

	// An active IP banishment outranks a valid login.
	s.seed(t, "INSERT INTO IPBanishments (IPAddress, Issued, Until)"+
		" VALUES (?1, UNIXEPOCH(), UNIXEPOCH() + 3600)", 0x0A000001)
	expectError(loginGameRequest(1001, "Brutus", "hunter2", 0x0A000001), 12)

	// Nothing was admitted.
	assert.Equal(t, 0, s.count(t, "SELECT IsOnline FROM Characters WHERE CharacterID = 100"))
}

func TestBanishAccountCompounding(t *testing.T) {
	s := startServer(t, nil)
	s.seedWorld(t, 1, "Zanera")
	s.seedAccount(t, 1001, "hunter2")
	s.seedCharacter(t, 100, 1, 1001, "Brutus")
	for i := 0; i < 6; i++ {
		s.seed(t, "INSERT INTO Banishments (AccountID, Issued, Until)"+
			" VALUES (1001, UNIXEPOCH() - 1000, UNIXEPOCH() - 500)")
	}

	c := dial(t, s)
	c.loginGame(t, "Zanera")

	r := c.request(payload(func(w *protocol.WriteBuffer) {
		w.Write8(protocol.QueryBanishAccount)
		w.WriteString("Brutus")
		w.Write32BE(0x7F000001)
		w.Write32(7) // gamemaster
		w.WriteString("Cheating")
		w.WriteString("caught twice")
		w.WriteFlag(false)
		w.Write8(7)
	}))
	require.Equal(t, uint8(protocol.StatusOK), r.Read8())
	assert.Greater(t, r.Read32(), uint32(0))
	assert.Equal(t, uint8(30), r.Read8()) // raised from 7 to 30
	assert.True(t, r.ReadFlag())          // escalated to a final warning

	// A second banishment is refused while the first is active.
	r = c.request(payload(func(w *protocol.WriteBuffer) {
		w.Write8(protocol.QueryBanishAccount)
		w.WriteString("Brutus")
		w.Write32BE(0x7F000001)
		w.Write32(7)
		w.WriteString("Cheating")
		w.WriteString("")
		w.WriteFlag(false)
		w.Write8(7)
	}))
	require.Equal(t, uint8(protocol.StatusError), r.Read8())
	assert.Equal(t, uint8(3), r.Read8())
}

func TestBanishAccountPermanent(t *testing.T) {
	s := startServer(t, nil)
	s.seedWorld(t, 1, "Zanera")
	s.seedAccount(t, 1001, "hunter2")
	s.seedCharacter(t, 100, 1, 1001, "Brutus")
	s.seed(t, "INSERT INTO Banishments (AccountID, FinalWarning, Issued, Until)"+
		" VALUES (1001, 1, UNIXEPOCH() - 1000, UNIXEPOCH() - 500)")

	c := dial(t, s)
	c.loginGame(t, "Zanera")

	r := c.request(payload(func(w *protocol.WriteBuffer) {
		w.Write8(protocol.QueryBanishAccount)
		w.WriteString("Brutus")
		w.Write32BE(0x7F000001)
		w.Write32(7)
		w.WriteString("Cheating")
		w.WriteString("")
		w.WriteFlag(false)
		w.Write8(7)
	}))
	require.Equal(t, uint8(protocol.StatusOK), r.Read8())
	r.Read32() // banishment id
	assert.Equal(t, uint8(0xFF), r.Read8())
	assert.False(t, r.ReadFlag())

	// Stored permanent: Until equals Issued.
	assert.Equal(t, 1, s.count(t,
		"SELECT COUNT(*) FROM Banishments WHERE AccountID = 1001 AND Until = Issued"))
}

func TestCreatePlayerlistOnlineRecord(t *testing.T) {
	s := startServer(t, nil)
	s.seedWorld(t, 1, "Zanera")
	c := dial(t, s)
	c.loginGame(t, "Zanera")

	publish := func(names ...string) bool {
		r := c.request(payload(func(w *protocol.WriteBuffer) {
			w.Write8(protocol.QueryCreatePlayerlist)
			w.Write16(uint16(len(names)))
			for _, name := range names {
				w.WriteString(name)
				w.Write16(10)
				w.WriteString("Knight")
			}
		}))
		require.Equal(t, uint8(protocol.StatusOK), r.Read8())
		return r.ReadFlag()
	}

	assert.True(t, publish("Brutus", "Cassia", "Drusus"))
	assert.False(t, publish("Brutus", "Cassia"))
	assert.Equal(t, 2, s.count(t, "SELECT COUNT(*) FROM OnlineCharacters WHERE WorldID = 1"))
	assert.Equal(t, 3, s.count(t, "SELECT OnlineRecord FROM Worlds WHERE WorldID = 1"))
}

func TestGetHouseOwners(t *testing.T) {
	s := startServer(t, nil)
	s.seedWorld(t, 1, "Zanera")
	s.seedAccount(t, 1001, "hunter2")
	s.seedCharacter(t, 100, 1, 1001, "Brutus")
	s.seed(t, "INSERT INTO HouseOwners (WorldID, HouseID, OwnerID, PaidUntil)"+
		" VALUES (1, 44, 100, 1700000000)")

	c := dial(t, s)
	c.loginGame(t, "Zanera")

	r := c.request([]byte{protocol.QueryGetHouseOwners})
	require.Equal(t, uint8(protocol.StatusOK), r.Read8())
	require.Equal(t, uint16(1), r.Read16())
	assert.Equal(t, uint16(44), r.Read16())
	assert.Equal(t, uint32(100), r.Read32())
	assert.Equal(t, "Brutus", r.ReadString())
	assert.Equal(t, uint32(1700000000), r.Read32())
	assert.False(t, r.Overflowed())
}

func TestWebHandlers(t *testing.T) {
	s := startServer(t, nil)
	s.seedWorld(t, 1, "Zanera")
	s.seed(t, "INSERT INTO OnlineCharacters (WorldID, Name, Level, Profession)"+
		" VALUES (1, 'Brutus', 10, 'Knight')")
	s.seed(t, "INSERT INTO KillStatistics (WorldID, RaceName, TimesKilled, PlayersKilled)"+
		" VALUES (1, 'dragon', 12, 3)")

	c := dial(t, s)
	require.Equal(t, uint8(protocol.StatusOK), c.login(protocol.AppWeb, testPassword, ""))

	r := c.request([]byte{protocol.QueryGetWorlds})
	require.Equal(t, uint8(protocol.StatusOK), r.Read8())
	require.Equal(t, uint8(1), r.Read8())
	assert.Equal(t, "Zanera", r.ReadString())
	assert.Equal(t, uint8(1), r.Read8())
	assert.Equal(t, uint16(1), r.Read16()) // one player online
	assert.Equal(t, uint16(900), r.Read16())

	r = c.request(payload(func(w *protocol.WriteBuffer) {
		w.Write8(protocol.QueryGetPlayersOnline)
		w.WriteString("Zanera")
	}))
	require.Equal(t, uint8(protocol.StatusOK), r.Read8())
	require.Equal(t, uint16(1), r.Read16())
	assert.Equal(t, "Brutus", r.ReadString())

	r = c.request(payload(func(w *protocol.WriteBuffer) {
		w.Write8(protocol.QueryCreateKillStatistics)
		w.WriteString("Zanera")
	}))
	require.Equal(t, uint8(protocol.StatusOK), r.Read8())
	require.Equal(t, uint16(1), r.Read16())
	assert.Equal(t, "dragon", r.ReadString())
	assert.Equal(t, uint32(12), r.Read32())
	assert.Equal(t, uint32(3), r.Read32())

	// Game queries are refused on a web connection.
	r = c.request([]byte{protocol.QueryGetHouseOwners})
	assert.Equal(t, uint8(protocol.StatusFailed), r.Read8())
}

func TestReportStatementDeduplicates(t *testing.T) {
	s := startServer(t, nil)
	s.seedWorld(t, 1, "Zanera")
	s.seedAccount(t, 1001, "hunter2")
	s.seedCharacter(t, 100, 1, 1001, "Brutus")

	c := dial(t, s)
	c.loginGame(t, "Zanera")

	report := payload(func(w *protocol.WriteBuffer) {
		w.Write8(protocol.QueryReportStatement)
		w.Write32(200) // reporter
		w.WriteString("Brutus")
		w.WriteString("Insulting")
		w.WriteString("chat log attached")
		w.Write32(0)
		w.Write32(7)
		w.Write16(2)
		w.Write32(6)
		w.Write32(1700000000)
		w.Write32(300)
		w.WriteString("Game-Chat")
		w.WriteString("hi")
		w.Write32(7)
		w.Write32(1700000001)
		w.Write32(100)
		w.WriteString("Game-Chat")
		w.WriteString("something rude")
	})

	r := c.request(report)
	require.Equal(t, uint8(protocol.StatusOK), r.Read8())

	// A second report of the same statement is acknowledged without a
	// second report row.
	r = c.request(report)
	require.Equal(t, uint8(protocol.StatusOK), r.Read8())

	assert.Equal(t, 1, s.count(t, "SELECT COUNT(*) FROM ReportedStatements WHERE WorldID = 1"))
	assert.Equal(t, 2, s.count(t, "SELECT COUNT(*) FROM Statements WHERE WorldID = 1"))
}

func TestWideFramesBothDirections(t *testing.T) {
	s := startServer(t, nil)
	s.seedWorld(t, 1, "Zanera")

	game := dial(t, s)
	game.loginGame(t, "Zanera")

	// 700 long names push both the request and the player list response
	// past the 16 bit length limit, forcing the 0xFFFF header escape.
	names := make([]string, 700)
	for i := range names {
		names[i] = fmt.Sprintf("Player %05d %s", i, strings.Repeat("x", 80))
	}
	body := payload(func(w *protocol.WriteBuffer) {
		w.Write8(protocol.QueryCreatePlayerlist)
		w.Write16(uint16(len(names)))
		for _, name := range names {
			w.WriteString(name)
			w.Write16(10)
			w.WriteString("Knight")
		}
	})
	require.Greater(t, len(body), 0xFFFF)

	r := game.request(body)
	require.Equal(t, uint8(protocol.StatusOK), r.Read8())
	assert.True(t, r.ReadFlag())
	assert.Equal(t, 700, s.count(t, "SELECT COUNT(*) FROM OnlineCharacters WHERE WorldID = 1"))

	web := dial(t, s)
	require.Equal(t, uint8(protocol.StatusOK), web.login(protocol.AppWeb, testPassword, ""))
	r = web.request(payload(func(w *protocol.WriteBuffer) {
		w.Write8(protocol.QueryGetPlayersOnline)
		w.WriteString("Zanera")
	}))
	require.Equal(t, uint8(protocol.StatusOK), r.Read8())
	require.Equal(t, uint16(700), r.Read16())
	assert.Equal(t, names[0], r.ReadString())
	assert.Equal(t, uint16(10), r.Read16())
	assert.Equal(t, "Knight", r.ReadString())
}

func TestOversizedResponseClosesConnection(t *testing.T) {
	s := startServer(t, func(cfg *config.Config) {
		cfg.MaxConnectionPacketSize = 64
	})
	s.seedWorld(t, 1, "Zanera")
	s.seedAccount(t, 1001, "hunter2")
	s.seedCharacter(t, 100, 1, 1001, "Brutus "+strings.Repeat("z", 50))
	s.seed(t, "INSERT INTO HouseOwners (WorldID, HouseID, OwnerID, PaidUntil)"+
		" VALUES (1, 44, 100, 1700000000)")

	c := dial(t, s)
	c.loginGame(t, "Zanera")

	// The owner list cannot fit the connection buffer; the response is
	// dropped with the connection instead of being truncated.
	_, err := c.conn.Write([]byte{1, 0, protocol.QueryGetHouseOwners})
	require.NoError(t, err)
	c.expectClosed()
}

func TestIdleConnectionEvicted(t *testing.T) {
	s := startServer(t, func(cfg *config.Config) {
		cfg.MaxConnectionIdleTime = 100 * time.Millisecond
	})
	c := dial(t, s)

	require.NoError(t, c.conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, err := c.conn.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF)
}

func TestConnectionLimit(t *testing.T) {
	s := startServer(t, func(cfg *config.Config) {
		cfg.MaxConnections = 1
	})
	s.seedWorld(t, 1, "Zanera")

	first := dial(t, s)
	first.loginGame(t, "Zanera")

	second := dial(t, s)
	second.expectClosed()

	// The slot still serves the first connection.
	r := first.request([]byte{protocol.QueryGetAuctions})
	assert.Equal(t, uint8(protocol.StatusOK), r.Read8())
}
