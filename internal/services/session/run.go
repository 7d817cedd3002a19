package session

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"swarmstream/internal/domain"
	"swarmstream/internal/domain/ports"
	"swarmstream/internal/metrics"
)

type outcome int

const (
	outcomeContinue outcome = iota
	outcomeReady
	outcomeTerminal
)

// run owns the session's transfer: it joins the swarm, applies the
// transfer's events in order and destroys the transfer on exit.
func (m *Manager) run(ctx context.Context, s *session) {
	defer m.loops.Done()
	defer close(s.done)

	timeout := time.NewTimer(m.cfg.ConnectTimeout)
	defer timeout.Stop()

	tr, ok := m.join(ctx, s, timeout.C)
	if !ok {
		return
	}
	defer m.destroy(s, tr)

	s.mu.Lock()
	s.transfer = tr
	s.mu.Unlock()

	deadline := timeout.C
	events := tr.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case <-deadline:
			m.fail(s, domain.ErrConnectionTimeout)
			return
		case ev, open := <-events:
			if !open {
				m.fail(s, domain.TransportError("event stream closed"))
				return
			}
			switch m.apply(s, tr, ev) {
			case outcomeTerminal:
				return
			case outcomeReady:
				deadline = nil
			}
		}
	}
}

// join runs Engine.Join so that the connect deadline and a stop both cut
// it short. A transfer that arrives after we gave up is destroyed.
func (m *Manager) join(ctx context.Context, s *session, deadline <-chan time.Time) (ports.Transfer, bool) {
	type joinResult struct {
		tr  ports.Transfer
		err error
	}
	joinCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	ch := make(chan joinResult, 1)
	go func() {
		tr, err := m.engine.Join(joinCtx, s.locator)
		ch <- joinResult{tr, err}
	}()

	select {
	case res := <-ch:
		if res.err != nil {
			metrics.SwarmJoinsTotal.WithLabelValues("error").Inc()
			if ctx.Err() == nil {
				m.fail(s, joinError(res.err))
			}
			return nil, false
		}
		metrics.SwarmJoinsTotal.WithLabelValues("ok").Inc()
		return res.tr, true
	case <-deadline:
		metrics.SwarmJoinsTotal.WithLabelValues("timeout").Inc()
		m.fail(s, domain.ErrConnectionTimeout)
	case <-ctx.Done():
		metrics.SwarmJoinsTotal.WithLabelValues("cancelled").Inc()
	}

	m.loops.Add(1)
	go func() {
		defer m.loops.Done()
		if res := <-ch; res.err == nil && res.tr != nil {
			m.destroy(s, res.tr)
		}
	}()
	return nil, false
}

func joinError(err error) error {
	if errors.Is(err, domain.ErrNoLocator) {
		return err
	}
	return domain.TransportError(err.Error())
}

func (m *Manager) destroy(s *session, tr ports.Transfer) {
	metrics.SwarmDestroysTotal.Inc()
	if err := m.engine.Destroy(tr); err != nil {
		m.logger.Warn("transfer destroy failed",
			slog.String("contentId", string(s.id)),
			slog.String("error", err.Error()),
		)
	}
}

func (m *Manager) apply(s *session, tr ports.Transfer, ev domain.SwarmEvent) outcome {
	switch ev := ev.(type) {
	case domain.ReadyEvent:
		return m.applyMetadata(s, tr, ev)
	case domain.ProgressEvent:
		return m.applyProgress(s, ev)
	case domain.ErrorEvent:
		m.fail(s, domain.TransportError(ev.Reason))
		return outcomeTerminal
	default:
		return outcomeContinue
	}
}

func (m *Manager) applyMetadata(s *session, tr ports.Transfer, ev domain.ReadyEvent) outcome {
	s.mu.Lock()
	terminal, selected := s.snap.Status.IsTerminal(), s.snap.File != nil
	s.mu.Unlock()
	if terminal {
		return outcomeTerminal
	}
	if selected {
		return outcomeContinue
	}

	file, ok := domain.SelectLargest(ev.Files)
	if !ok {
		m.fail(s, domain.ErrNoPlayableFile)
		return outcomeTerminal
	}
	if err := tr.SelectFile(file); err != nil {
		m.fail(s, domain.TransportError("select file: "+err.Error()))
		return outcomeTerminal
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	now := m.now()
	if !s.transitionLocked(domain.StatusDownloading, now) {
		return outcomeTerminal
	}
	s.snap.File = &file
	m.logger.Info("session downloading",
		slog.String("contentId", string(s.id)),
		slog.String("file", file.Path),
		slog.Int64("length", file.Length),
	)

	m.publishLocked(s)
	return outcomeContinue
}

// applyProgress records counters and drives readiness. Until a file is
// selected only rates and peers are taken from ev.
func (m *Manager) applyProgress(s *session, ev domain.ProgressEvent) outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snap.Status.IsTerminal() {
		return outcomeTerminal
	}
	now := m.now()
	if s.snap.File == nil {
		s.countersLocked(ev, now)
		m.publishLocked(s)
		return outcomeContinue
	}

	res := m.tracker.Evaluate(ev)
	advanced := s.progressLocked(ev, res.Percent, now)

	out := outcomeContinue
	switch s.snap.Status {
	case domain.StatusDownloading:
		if res.Ready && m.markReadyLocked(s, now) {
			out = outcomeReady
		}
	case domain.StatusReady:
		if advanced && s.snap.Progress > s.readyPercent {
			s.transitionLocked(domain.StatusStreaming, now)
		}
	}
	m.publishLocked(s)
	return out
}

func (m *Manager) markReadyLocked(s *session, now time.Time) bool {
	handle := domain.StreamHandle{ID: m.newHandleID(), ContentID: s.id, File: *s.snap.File}
	if !s.readyLocked(handle, now) {
		return false
	}
	metrics.TimeToReady.Observe(now.Sub(s.snap.CreatedAt).Seconds())
	metrics.SessionOutcomesTotal.WithLabelValues(string(domain.StatusReady), "").Inc()
	m.logger.Info("session ready",
		slog.String("contentId", string(s.id)),
		slog.String("handle", handle.ID),
		slog.Float64("progress", s.snap.Progress),
		slog.Duration("elapsed", now.Sub(s.snap.CreatedAt)),
	)
	return true
}

func (m *Manager) fail(s *session, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.failLocked(err, m.now()) {
		return
	}
	metrics.SessionOutcomesTotal.WithLabelValues(string(domain.StatusError), string(s.snap.ErrorKind)).Inc()
	m.logger.Info("session failed",
		slog.String("contentId", string(s.id)),
		slog.String("kind", string(s.snap.ErrorKind)),
		slog.String("error", err.Error()),
	)
	m.publishLocked(s)
}
