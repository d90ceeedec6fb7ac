// Package hostcache resolves world host names to IPv4 addresses through a
// small bounded cache, so the single-threaded engine does not hit the
// resolver on every world config or character list query.
package hostcache

import (
	"log/slog"
	"net"
	"time"
)

type entry struct {
	host     string
	resolved bool
	addr     uint32
	stamp    int64
}

// Cache is a fixed-capacity host name cache. Failed resolutions are cached
// too, so an unreachable resolver cannot stall every tick. Entries expire
// after the configured TTL and the stalest entry is evicted on a miss.
// Not safe for concurrent use; the engine is the only caller.
type Cache struct {
	entries []entry
	ttl     int64
	now     func() int64
	lookup  func(host string) (uint32, bool)
	log     *slog.Logger
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock replaces the millisecond clock, for tests.
func WithClock(now func() int64) Option {
	return func(c *Cache) { c.now = now }
}

// WithLookup replaces the resolver, for tests.
func WithLookup(lookup func(host string) (uint32, bool)) Option {
	return func(c *Cache) { c.lookup = lookup }
}

func New(capacity int, ttl time.Duration, log *slog.Logger, opts ...Option) *Cache {
	if capacity < 1 {
		capacity = 1
	}
	start := time.Now()
	c := &Cache{
		entries: make([]entry, capacity),
		ttl:     ttl.Milliseconds(),
		now:     func() int64 { return time.Since(start).Milliseconds() },
		lookup:  resolveIPv4,
		log:     log,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Resolve returns the IPv4 address for host in host byte order, resolving
// and caching on a miss. ok is false when the name does not resolve.
func (c *Cache) Resolve(host string) (addr uint32, ok bool) {
	now := c.now()
	victim := 0
	found := -1
	for i := range c.entries {
		e := &c.entries[i]
		if e.host != "" && now-e.stamp >= c.ttl {
			*e = entry{}
		}
		// Free slots beat occupied ones, then the stalest entry loses.
		if e.host == "" {
			if c.entries[victim].host != "" {
				victim = i
			}
		} else if c.entries[victim].host != "" && e.stamp < c.entries[victim].stamp {
			victim = i
		}
		if e.host == host {
			found = i
		}
	}
	if found >= 0 {
		e := &c.entries[found]
		return e.addr, e.resolved
	}

	addr, ok = c.lookup(host)
	if !ok {
		c.log.Warn("failed to resolve host name", "host", host)
	}
	c.entries[victim] = entry{host: host, resolved: ok, addr: addr, stamp: now}
	return addr, ok
}

func resolveIPv4(host string) (uint32, bool) {
	if ip := net.ParseIP(host); ip != nil {
		return ipv4ToUint32(ip)
	}
	ips, err := net.LookupIP(host)
	if err != nil {
		return 0, false
	}
	for _, ip := range ips {
		if addr, ok := ipv4ToUint32(ip); ok {
			return addr, true
		}
	}
	return 0, false
}

func ipv4ToUint32(ip net.IP) (uint32, bool) {
	v4 := ip.To4()
	if v4 == nil {
		return 0, false
	}
	return uint32(v4[0])<<24 | uint32(v4[1])<<16 | uint32(v4[2])<<8 | uint32(v4[3]), true
}
