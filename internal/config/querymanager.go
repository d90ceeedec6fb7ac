package config

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all query manager settings.
type Config struct {
	// Database
	DatabaseFile        string
	MaxCachedStatements int

	// Host name resolution
	MaxCachedHostNames int
	HostNameExpireTime time.Duration

	// Networking
	Port                    int
	Password                string
	MaxConnections          int
	MaxConnectionIdleTime   time.Duration
	MaxConnectionPacketSize int

	// Main loop
	UpdateRate int

	// Observability; 0 disables the listener.
	MetricsPort int
}

// Default returns the built-in settings used when a key is absent.
func Default() Config {
	return Config{
		DatabaseFile:            "tibia.db",
		MaxCachedStatements:     100,
		MaxCachedHostNames:      100,
		HostNameExpireTime:      time.Minute,
		Port:                    7174,
		Password:                "",
		MaxConnections:          50,
		MaxConnectionIdleTime:   time.Minute,
		MaxConnectionPacketSize: 1 << 20,
		UpdateRate:              20,
		MetricsPort:             0,
	}
}

// Load reads a key=value config file. Keys are case-insensitive; lines
// whose first non-space character is '#' are comments; values may be
// wrapped in single, double or back quotes. Unknown keys are logged and
// skipped so old and new binaries can share a file.
func Load(path string, log *slog.Logger) (Config, error) {
	cfg := Default()

	f, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("opening config file: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := sc.Text()
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			log.Warn("ignoring malformed config line", "file", path, "line", lineNo)
			continue
		}
		key = strings.TrimSpace(key)
		value = unquote(strings.TrimSpace(value))

		if err := cfg.set(key, value, log); err != nil {
			return cfg, fmt.Errorf("config %s line %d: %w", path, lineNo, err)
		}
	}
	if err := sc.Err(); err != nil {
		return cfg, fmt.Errorf("reading config file: %w", err)
	}
	return cfg, nil
}

func (c *Config) set(key, value string, log *slog.Logger) error {
	var err error
	switch {
	case strings.EqualFold(key, "DatabaseFile"):
		c.DatabaseFile = value
	case strings.EqualFold(key, "MaxCachedStatements"):
		c.MaxCachedStatements, err = parseNumber(value)
	case strings.EqualFold(key, "MaxCachedHostNames"):
		c.MaxCachedHostNames, err = parseNumber(value)
	case strings.EqualFold(key, "HostNameExpireTime"):
		c.HostNameExpireTime, err = parseDuration(value)
	case strings.EqualFold(key, "Port"), strings.EqualFold(key, "QueryManagerPort"):
		c.Port, err = parseNumber(value)
	case strings.EqualFold(key, "Password"), strings.EqualFold(key, "QueryManagerPassword"):
		c.Password = value
	case strings.EqualFold(key, "MaxConnections"):
		c.MaxConnections, err = parseNumber(value)
	case strings.EqualFold(key, "MaxConnectionIdleTime"):
		c.MaxConnectionIdleTime, err = parseDuration(value)
	case strings.EqualFold(key, "MaxConnectionPacketSize"):
		c.MaxConnectionPacketSize, err = parseSize(value)
	case strings.EqualFold(key, "UpdateRate"):
		c.UpdateRate, err = parseNumber(value)
	case strings.EqualFold(key, "MetricsPort"):
		c.MetricsPort, err = parseNumber(value)
	default:
		log.Warn("unknown config key", "key", key)
	}
	if err != nil {
		return fmt.Errorf("key %s: %w", key, err)
	}
	return nil
}

func unquote(s string) string {
	if len(s) >= 2 {
		switch s[0] {
		case '"', '\'', '`':
			if s[len(s)-1] == s[0] {
				return s[1 : len(s)-1]
			}
		}
	}
	return s
}

// splitNumber separates the leading integer from a trailing unit suffix.
func splitNumber(s string) (int, string, error) {
	i := 0
	if i < len(s) && (s[i] == '+' || s[i] == '-') {
		i++
	}
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	n, err := strconv.Atoi(s[:i])
	if err != nil {
		return 0, "", fmt.Errorf("invalid number %q", s)
	}
	return n, strings.TrimSpace(s[i:]), nil
}

func parseNumber(s string) (int, error) {
	n, rest, err := splitNumber(s)
	if err != nil {
		return 0, err
	}
	if rest != "" {
		return 0, fmt.Errorf("trailing %q after number", rest)
	}
	return n, nil
}

// parseDuration accepts a bare millisecond count or an s, m or h suffix.
func parseDuration(s string) (time.Duration, error) {
	n, rest, err := splitNumber(s)
	if err != nil {
		return 0, err
	}
	switch strings.ToLower(rest) {
	case "":
		return time.Duration(n) * time.Millisecond, nil
	case "s":
		return time.Duration(n) * time.Second, nil
	case "m":
		return time.Duration(n) * time.Minute, nil
	case "h":
		return time.Duration(n) * time.Hour, nil
	}
	return 0, fmt.Errorf("unknown duration unit %q", rest)
}

// parseSize accepts a bare byte count or a k or m suffix.
func parseSize(s string) (int, error) {
	n, rest, err := splitNumber(s)
	if err != nil {
		return 0, err
	}
	switch strings.ToLower(rest) {
	case "":
		return n, nil
	case "k":
		return n * 1024, nil
	case "m":
		return n * 1024 * 1024, nil
	}
	return 0, fmt.Errorf("unknown size unit %q", rest)
}
