// Package server is the connection engine of the query manager: a
// single-threaded cooperative loop over a fixed table of nonblocking
// loopback connections. Each tick accepts pending connections, advances
// every slot's read or write state, dispatches complete frames and evicts
// dead or idle connections. No handler ever blocks on a socket.
package server

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sys/unix"

	"github.com/arkanis/querymanager/internal/config"
	"github.com/arkanis/querymanager/internal/db"
	"github.com/arkanis/querymanager/internal/hostcache"
	"github.com/arkanis/querymanager/internal/metrics"
)

var loopback = [4]byte{127, 0, 0, 1}

// Engine owns the listener and the connection slot table.
type Engine struct {
	cfg   config.Config
	log   *slog.Logger
	db    *db.DB
	hosts *hostcache.Cache
	mets  *metrics.Metrics

	listener int
	port     int
	conns    []conn
	pollfds  []unix.PollFd
	slots    []int

	start time.Time
}

func New(cfg config.Config, database *db.DB, hosts *hostcache.Cache,
	mets *metrics.Metrics, log *slog.Logger) *Engine {
	e := &Engine{
		cfg:      cfg,
		log:      log,
		db:       database,
		hosts:    hosts,
		mets:     mets,
		listener: -1,
		conns:    make([]conn, cfg.MaxConnections),
		pollfds:  make([]unix.PollFd, 0, cfg.MaxConnections),
		slots:    make([]int, 0, cfg.MaxConnections),
		start:    time.Now(),
	}
	for i := range e.conns {
		e.conns[i].fd = -1
	}
	return e
}

// nowMS is the engine's monotonic millisecond clock.
func (e *Engine) nowMS() int64 {
	return time.Since(e.start).Milliseconds()
}

// Bind creates the nonblocking loopback listener. With a configured port of
// 0 the kernel picks one; Port reports it.
func (e *Engine) Bind() error {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return fmt.Errorf("creating listener socket: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return fmt.Errorf("setting SO_REUSEADDR: %w", err)
	}
	sa := &unix.SockaddrInet4{Port: e.cfg.Port, Addr: loopback}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return fmt.Errorf("binding to 127.0.0.1:%d: %w", e.cfg.Port, err)
	}
	if err := unix.Listen(fd, 128); err != nil {
		unix.Close(fd)
		return fmt.Errorf("listening: %w", err)
	}
	bound, err := unix.Getsockname(fd)
	if err != nil {
		unix.Close(fd)
		return fmt.Errorf("getting listener address: %w", err)
	}
	e.listener = fd
	e.port = bound.(*unix.SockaddrInet4).Port
	e.log.Info("listener bound", "addr", fmt.Sprintf("127.0.0.1:%d", e.port))
	return nil
}

// Port returns the bound listener port.
func (e *Engine) Port() int {
	return e.port
}

// Run drives ticks at the configured update rate until ctx is done, then
// tears the engine down. Bind must have been called.
func (e *Engine) Run(ctx context.Context) error {
	if e.listener < 0 {
		return errors.New("engine is not bound")
	}
	updateRate := e.cfg.UpdateRate
	if updateRate < 1 {
		updateRate = 1
	}
	interval := time.Second / time.Duration(updateRate)
	e.log.Info("engine running", "updates_per_second", updateRate)

	timer := time.NewTimer(interval)
	defer timer.Stop()
	for {
		begin := time.Now()
		e.tick(ctx)

		wait := interval - time.Since(begin)
		if wait < 0 {
			wait = 0
		}
		timer.Reset(wait)
		select {
		case <-ctx.Done():
			e.shutdown()
			return nil
		case <-timer.C:
		}
	}
}

// tick runs one pass: accept, poll, per-slot input/output, housekeeping.
func (e *Engine) tick(ctx context.Context) {
	e.acceptPending()

	e.pollfds = e.pollfds[:0]
	e.slots = e.slots[:0]
	for i := range e.conns {
		if e.conns[i].fd < 0 {
			continue
		}
		e.pollfds = append(e.pollfds, unix.PollFd{Fd: int32(e.conns[i].fd), Events: unix.POLLIN | unix.POLLOUT})
		e.slots = append(e.slots, i)
	}
	if len(e.pollfds) > 0 {
		if _, err := unix.Poll(e.pollfds, 0); err != nil && !errors.Is(err, unix.EINTR) {
			e.log.Error("poll failed", "error", err)
			return
		}
	}

	now := e.nowMS()
	idleLimit := e.cfg.MaxConnectionIdleTime.Milliseconds()
	for n, slot := range e.slots {
		c := &e.conns[slot]
		revents := e.pollfds[n].Revents

		e.checkInput(ctx, c, revents)
		e.checkOutput(c, revents)

		if c.fd >= 0 && revents&(unix.POLLERR|unix.POLLHUP) != 0 {
			e.log.Info("connection lost", "remote", c.remote)
			e.closeConn(c)
		}
		if c.fd >= 0 && idleLimit > 0 && now-c.lastActive >= idleLimit {
			e.log.Warn("closing idle connection", "remote", c.remote)
			e.mets.IdleEvictions.Inc()
			e.closeConn(c)
		}
		if c.fd < 0 && c.state != stateFree {
			c.reset()
		}
	}
}

// acceptPending drains the listener's backlog into free slots. Non-loopback
// peers are rejected outright.
func (e *Engine) acceptPending() {
	for {
		fd, sa, err := unix.Accept4(e.listener, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if err != nil {
			if !errors.Is(err, unix.EAGAIN) && !errors.Is(err, unix.EWOULDBLOCK) && !errors.Is(err, unix.EINTR) {
				e.log.Error("accept failed", "error", err)
			}
			return
		}
		inet, ok := sa.(*unix.SockaddrInet4)
		if !ok || inet.Addr != loopback {
			e.log.Warn("rejecting non-loopback connection")
			e.mets.ConnectionsRejected.Inc()
			unix.Close(fd)
			continue
		}
		e.assign(fd, inet)
	}
}

func (e *Engine) assign(fd int, sa *unix.SockaddrInet4) {
	for i := range e.conns {
		c := &e.conns[i]
		if c.state != stateFree {
			continue
		}
		if c.buf == nil {
			c.buf = make([]byte, e.cfg.MaxConnectionPacketSize)
		}
		c.state = stateReading
		c.fd = fd
		c.remote = fmt.Sprintf("%d.%d.%d.%d:%d", sa.Addr[0], sa.Addr[1], sa.Addr[2], sa.Addr[3], sa.Port)
		c.lastActive = e.nowMS()
		c.rwSize = 0
		c.rwPos = 0
		c.authorized = false
		c.applicationType = 0
		c.worldID = 0
		e.mets.ConnectionsAssigned.Inc()
		e.log.Info("connection assigned", "remote", c.remote, "slot", i)
		return
	}
	e.log.Warn("rejecting connection, no free slot")
	e.mets.ConnectionsRejected.Inc()
	unix.Close(fd)
}

// checkInput advances the frame state machine: two header bytes, six with
// the 0xFFFF length escape, then the payload. A complete payload flips the
// slot to processing and dispatches.
func (e *Engine) checkInput(ctx context.Context, c *conn, revents int16) {
	if c.fd < 0 || revents&unix.POLLIN == 0 {
		return
	}
	if c.state != stateReading {
		// Data while a request is in flight is a protocol violation.
		e.log.Error("unexpected data", "remote", c.remote, "state", c.state)
		e.closeConn(c)
		return
	}

	for {
		target := c.rwSize
		if target == 0 {
			if c.rwPos < 2 {
				target = 2
			} else {
				target = 6
			}
		}
		n, err := unix.Read(c.fd, c.buf[c.rwPos:target])
		if err != nil {
			if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) || errors.Is(err, unix.EINTR) {
				return
			}
			e.log.Info("read failed", "remote", c.remote, "error", err)
			e.closeConn(c)
			return
		}
		if n == 0 {
			e.log.Info("connection closed by peer", "remote", c.remote)
			e.closeConn(c)
			return
		}
		c.rwPos += n
		if c.rwPos < target {
			continue
		}

		if c.rwSize != 0 {
			// Payload complete.
			c.state = stateProcessing
			c.lastActive = e.nowMS()
			e.dispatch(ctx, c)
			return
		}

		var size int
		if c.rwPos == 2 {
			size = int(binary.LittleEndian.Uint16(c.buf))
			if size == 0xFFFF {
				// Length escape, read the wide header.
				continue
			}
		} else {
			size = int(binary.LittleEndian.Uint32(c.buf[2:6]))
		}
		if size <= 0 || size > e.cfg.MaxConnectionPacketSize {
			e.log.Error("invalid frame length", "remote", c.remote, "length", size)
			e.closeConn(c)
			return
		}
		c.rwSize = size
		c.rwPos = 0
	}
}

// checkOutput pushes response bytes out. When the frame is fully written
// the slot goes back to reading.
func (e *Engine) checkOutput(c *conn, revents int16) {
	if c.fd < 0 || revents&unix.POLLOUT == 0 || c.state != stateWriting {
		return
	}
	for {
		n, err := unix.Write(c.fd, c.buf[c.rwPos:c.rwSize])
		if err != nil {
			if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) || errors.Is(err, unix.EINTR) {
				return
			}
			e.log.Info("write failed", "remote", c.remote, "error", err)
			e.closeConn(c)
			return
		}
		c.rwPos += n
		if c.rwPos >= c.rwSize {
			c.state = stateReading
			c.rwSize = 0
			c.rwPos = 0
			c.lastActive = e.nowMS()
			return
		}
	}
}

func (e *Engine) closeConn(c *conn) {
	if c.fd < 0 {
		return
	}
	unix.Close(c.fd)
	c.fd = -1
	e.mets.ConnectionsClosed.Inc()
}

func (e *Engine) shutdown() {
	e.log.Info("engine shutting down")
	if e.listener >= 0 {
		unix.Close(e.listener)
		e.listener = -1
	}
	for i := range e.conns {
		if e.conns[i].fd >= 0 {
			e.closeConn(&e.conns[i])
		}
		e.conns[i].reset()
	}
}
