package session

import (
	"log/slog"
	"sync"

	"swarmstream/internal/domain"
	"swarmstream/internal/metrics"
)

// Subscribe returns a feed of every session change and a func that ends the
// subscription. A subscriber that falls behind misses updates; it never
// slows a session down. The feed is closed by Shutdown.
func (m *Manager) Subscribe(buffer int) (<-chan domain.SessionSnapshot, func()) {
	if buffer <= 0 {
		buffer = m.cfg.EventBuffer
	}
	ch := make(chan domain.SessionSnapshot, buffer)

	m.subMu.Lock()
	if m.subsClosed {
		m.subMu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := m.nextSub
	m.nextSub++
	m.subs[id] = ch
	m.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.subMu.Lock()
			if c, ok := m.subs[id]; ok {
				delete(m.subs, id)
				close(c)
			}
			m.subMu.Unlock()
		})
	}
}

// publishLocked hands the session's snapshot to subscribers. Callers hold
// s.mu, which keeps the updates of one session in order.
func (m *Manager) publishLocked(s *session) {
	snap := s.snapshotLocked()

	m.subMu.Lock()
	defer m.subMu.Unlock()
	for _, ch := range m.subs {
		select {
		case ch <- snap:
		default:
			metrics.SubscriberDropsTotal.Inc()
			m.logger.Debug("subscriber lagging, update dropped",
				slog.String("contentId", string(snap.ContentID)),
				slog.String("status", string(snap.Status)),
			)
		}
	}
}

func (m *Manager) closeSubscribers() {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	m.subsClosed = true
	for id, ch := range m.subs {
		delete(m.subs, id)
		close(ch)
	}
}
