// Package session manages progressive streaming sessions: one swarm
// transfer per content id, driven through connecting, downloading and ready
// until it is stopped or fails.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"swarmstream/internal/domain"
	"swarmstream/internal/domain/ports"
	"swarmstream/internal/metrics"
	"swarmstream/internal/services/swarm/readiness"
)

type Manager struct {
	engine      ports.SwarmEngine
	cfg         Config
	tracker     *readiness.Tracker
	logger      *slog.Logger
	now         func() time.Time
	newHandleID func() string
	tracer      trace.Tracer

	mu       sync.RWMutex
	sessions map[domain.ContentID]*session
	closed   bool

	// loops counts run loops, late-join reapers and the idle reaper.
	loops        sync.WaitGroup
	reaperCancel context.CancelFunc

	subMu      sync.Mutex
	subs       map[int]chan domain.SessionSnapshot
	nextSub    int
	subsClosed bool

	closeEngineOnce sync.Once
	closeEngineErr  error
}

// NewManager takes ownership of engine: it is closed by Shutdown.
func NewManager(engine ports.SwarmEngine, cfg Config, opts ...Option) *Manager {
	cfg = cfg.withDefaults()
	m := &Manager{
		engine:      engine,
		cfg:         cfg,
		tracker:     readiness.New(cfg.Readiness),
		logger:      slog.Default(),
		now:         func() time.Time { return time.Now().UTC() },
		newHandleID: uuid.NewString,
		tracer:      otel.Tracer("swarmstream/session"),
		sessions:    make(map[domain.ContentID]*session),
		subs:        make(map[int]chan domain.SessionSnapshot),
	}
	for _, opt := range opts {
		opt(m)
	}

	if cfg.IdleEviction > 0 {
		ctx, cancel := context.WithCancel(context.Background())
		m.reaperCancel = cancel
		m.loops.Add(1)
		go m.idleReaper(ctx)
	}
	return m
}

// StreamSession starts or reuses the session for id and waits until it is
// ready or has failed. Giving up through ctx leaves the session running.
func (m *Manager) StreamSession(ctx context.Context, id domain.ContentID, locator domain.Locator) (domain.StreamHandle, error) {
	ctx, span := m.tracer.Start(ctx, "session.StreamSession",
		trace.WithAttributes(attribute.String("content.id", string(id))),
	)
	defer span.End()

	s, err := m.acquire(id, locator)
	if err != nil {
		recordSpanError(span, err)
		return domain.StreamHandle{}, err
	}
	s.touch(m.now())

	select {
	case <-s.resolved:
	case <-ctx.Done():
		recordSpanError(span, ctx.Err())
		return domain.StreamHandle{}, ctx.Err()
	}

	handle, err := s.outcome()
	if err != nil {
		recordSpanError(span, err)
		return domain.StreamHandle{}, err
	}
	span.SetAttributes(attribute.String("handle.id", handle.ID))
	return handle, nil
}

// Start is StreamSession without the wait.
func (m *Manager) Start(id domain.ContentID, locator domain.Locator) (domain.SessionSnapshot, error) {
	s, err := m.acquire(id, locator)
	if err != nil {
		return domain.SessionSnapshot{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastTouched = m.now()
	return s.snapshotLocked(), nil
}

func (m *Manager) acquire(id domain.ContentID, locator domain.Locator) (*session, error) {
	if strings.TrimSpace(string(id)) == "" {
		return nil, domain.ErrNoContentID
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, domain.ErrShutdown
	}
	prev, exists := m.sessions[id]
	if exists && !prev.terminal() {
		return prev, nil
	}
	if err := locator.Validate(); err != nil {
		return nil, err
	}
	if exists {
		prev.cancel()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := newSession(id, domain.Locator(locator.String()), m.now())
	s.cancel = cancel
	m.sessions[id] = s

	m.loops.Add(1)
	go m.run(ctx, s)

	metrics.SessionsStartedTotal.Inc()
	metrics.ActiveSessions.Set(float64(len(m.sessions)))
	m.logger.Info("session created",
		slog.String("contentId", string(id)),
		slog.String("locatorKind", string(locator.Kind())),
		slog.Bool("replaced", exists),
	)

	s.mu.Lock()
	m.publishLocked(s)
	s.mu.Unlock()
	return s, nil
}

// GetProgress returns the current snapshot of id without blocking on the
// swarm.
func (m *Manager) GetProgress(id domain.ContentID) (domain.SessionSnapshot, error) {
	s := m.lookup(id)
	if s == nil {
		return domain.SessionSnapshot{}, domain.ErrNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastTouched = m.now()
	return s.snapshotLocked(), nil
}

// ListSessions returns every session in the table, oldest first.
func (m *Manager) ListSessions() []domain.SessionSnapshot {
	m.mu.RLock()
	out := make([]domain.SessionSnapshot, 0, len(m.sessions))
	for _, s := range m.sessions {
		s.mu.Lock()
		out = append(out, s.snapshotLocked())
		s.mu.Unlock()
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ContentID < out[j].ContentID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// OpenStream returns a reader over the selected file of a playable session.
func (m *Manager) OpenStream(id domain.ContentID) (ports.StreamReader, domain.StreamHandle, error) {
	s := m.lookup(id)
	if s == nil {
		return nil, domain.StreamHandle{}, domain.ErrNotFound
	}
	s.mu.Lock()
	if !s.snap.Status.IsPlayable() || s.snap.Handle == nil || s.transfer == nil {
		status := s.snap.Status
		s.mu.Unlock()
		return nil, domain.StreamHandle{}, fmt.Errorf("%w: status %s", domain.ErrNotPlayable, status)
	}
	handle := *s.snap.Handle
	tr := s.transfer
	s.lastTouched = m.now()
	s.mu.Unlock()

	r, err := tr.NewReader(handle.File)
	if err != nil {
		return nil, domain.StreamHandle{}, domain.TransportError("open reader: " + err.Error())
	}
	return r, handle, nil
}

// StopSession stops and forgets the session for id. Unknown or already
// stopped ids are ignored.
func (m *Manager) StopSession(id domain.ContentID) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
		metrics.ActiveSessions.Set(float64(len(m.sessions)))
	}
	m.mu.Unlock()
	if ok {
		m.stop(s, "requested")
	}
}

func (m *Manager) stop(s *session, reason string) {
	s.mu.Lock()
	err := s.stopLocked(m.now())
	if err == nil {
		metrics.SessionOutcomesTotal.WithLabelValues(string(domain.StatusStopped), "").Inc()
		m.publishLocked(s)
	}
	s.mu.Unlock()
	s.cancel()

	if err != nil {
		m.logger.Debug("session already terminal",
			slog.String("contentId", string(s.id)),
			slog.String("reason", reason),
		)
		return
	}
	m.logger.Info("session stopped",
		slog.String("contentId", string(s.id)),
		slog.String("reason", reason),
	)
}

// Shutdown stops every session, waits for their transfers to be destroyed
// and closes the engine. The manager is unusable afterwards.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return domain.ErrShutdown
	}
	m.closed = true
	sessions := make([]*session, 0, len(m.sessions))
	for id, s := range m.sessions {
		sessions = append(sessions, s)
		delete(m.sessions, id)
	}
	m.mu.Unlock()
	metrics.ActiveSessions.Set(0)

	if m.reaperCancel != nil {
		m.reaperCancel()
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, s := range sessions {
		g.Go(func() error {
			m.stop(s, "shutdown")
			select {
			case <-s.done:
				return nil
			case <-gctx.Done():
				return gctx.Err()
			}
		})
	}
	waitErr := g.Wait()

	loopsDone := make(chan struct{})
	go func() {
		m.loops.Wait()
		close(loopsDone)
	}()
	if waitErr == nil {
		select {
		case <-loopsDone:
		case <-ctx.Done():
			waitErr = ctx.Err()
		}
	}
	if waitErr != nil {
		go func() {
			<-loopsDone
			_ = m.closeEngine()
			m.closeSubscribers()
		}()
		return fmt.Errorf("shutdown: %w", waitErr)
	}

	err := m.closeEngine()
	m.closeSubscribers()
	m.logger.Info("session manager shut down", slog.Int("sessions", len(sessions)))
	return err
}

func (m *Manager) closeEngine() error {
	m.closeEngineOnce.Do(func() {
		m.closeEngineErr = m.engine.Close()
	})
	return m.closeEngineErr
}

func (m *Manager) lookup(id domain.ContentID) *session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[id]
}

func (m *Manager) idleReaper(ctx context.Context) {
	defer m.loops.Done()
	interval := m.cfg.IdleEviction / 2
	if interval < minReapInterval {
		interval = minReapInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.reapIdle()
		}
	}
}

// reapIdle removes playable and terminal sessions that nobody touched for
// longer than IdleEviction. Playable ones are stopped first.
func (m *Manager) reapIdle() []domain.ContentID {
	if m.cfg.IdleEviction <= 0 {
		return nil
	}
	now := m.now()

	m.mu.Lock()
	var reaped []*session
	for id, s := range m.sessions {
		s.mu.Lock()
		status := s.snap.Status
		idle := now.Sub(s.lastTouched)
		s.mu.Unlock()
		if !status.IsPlayable() && !status.IsTerminal() {
			continue
		}
		if idle <= m.cfg.IdleEviction {
			continue
		}
		delete(m.sessions, id)
		reaped = append(reaped, s)
	}
	metrics.ActiveSessions.Set(float64(len(m.sessions)))
	m.mu.Unlock()

	ids := make([]domain.ContentID, 0, len(reaped))
	for _, s := range reaped {
		m.logger.Info("evicting idle session",
			slog.String("contentId", string(s.id)),
			slog.Duration("idleEviction", m.cfg.IdleEviction),
		)
		m.stop(s, "idle")
		ids = append(ids, s.id)
	}
	return ids
}

func recordSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	span.SetAttributes(attribute.String("error.kind", string(domain.KindOf(err))))
}
