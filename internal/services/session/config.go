package session

import (
	"log/slog"
	"time"

	"swarmstream/internal/services/swarm/readiness"
)

const (
	DefaultConnectTimeout = 30 * time.Second

	defaultEventBuffer = 64
	minReapInterval    = time.Second
)

type Config struct {
	// ConnectTimeout bounds the time from session creation until the
	// session is ready. It covers the swarm join as well.
	ConnectTimeout time.Duration
	Readiness      readiness.Config
	// IdleEviction stops playable sessions nobody has looked at for this
	// long. Zero disables eviction.
	IdleEviction time.Duration
	// EventBuffer is the default channel capacity handed to subscribers.
	EventBuffer int
}

func (c Config) withDefaults() Config {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = defaultEventBuffer
	}
	if c.IdleEviction < 0 {
		c.IdleEviction = 0
	}
	return c
}

type Option func(*Manager)

func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithClock replaces the wall clock used for timestamps and idle tracking.
// Timeouts still run on real timers.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithHandleIDs replaces the generator of stream handle ids.
func WithHandleIDs(next func() string) Option {
	return func(m *Manager) {
		if next != nil {
			m.newHandleID = next
		}
	}
}
