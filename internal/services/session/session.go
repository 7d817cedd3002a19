package session

import (
	"context"
	"sync"
	"time"

	"swarmstream/internal/domain"
	"swarmstream/internal/domain/ports"
)

// session is one content id's streaming attempt. Its fields are written by
// its run loop and by lifecycle calls, always under mu.
type session struct {
	id      domain.ContentID
	locator domain.Locator

	cancel   context.CancelFunc
	done     chan struct{}
	resolved chan struct{}

	mu           sync.Mutex
	snap         domain.SessionSnapshot
	transfer     ports.Transfer
	err          error
	readyPercent float64
	lastTouched  time.Time
	isResolved   bool
}

func newSession(id domain.ContentID, locator domain.Locator, now time.Time) *session {
	return &session{
		id:       id,
		locator:  locator,
		done:     make(chan struct{}),
		resolved: make(chan struct{}),
		snap: domain.SessionSnapshot{
			ContentID: id,
			Locator:   locator,
			Status:    domain.StatusConnecting,
			CreatedAt: now,
			UpdatedAt: now,
		},
		lastTouched: now,
	}
}

func (s *session) terminal() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap.Status.IsTerminal()
}

func (s *session) touch(now time.Time) {
	s.mu.Lock()
	s.lastTouched = now
	s.mu.Unlock()
}

// outcome is what a StreamSession caller sees once the session resolved.
func (s *session) outcome() (domain.StreamHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snap.Handle != nil {
		return *s.snap.Handle, nil
	}
	if s.err != nil {
		return domain.StreamHandle{}, s.err
	}
	return domain.StreamHandle{}, domain.ErrSessionStopped
}

func (s *session) snapshotLocked() domain.SessionSnapshot {
	snap := s.snap
	if snap.File != nil {
		f := *snap.File
		snap.File = &f
	}
	if snap.Handle != nil {
		h := *snap.Handle
		snap.Handle = &h
	}
	if snap.ReadyAt != nil {
		t := *snap.ReadyAt
		snap.ReadyAt = &t
	}
	return snap
}

func (s *session) resolveLocked() {
	if s.isResolved {
		return
	}
	s.isResolved = true
	close(s.resolved)
}

func (s *session) transitionLocked(to domain.SessionStatus, now time.Time) bool {
	if !domain.CanTransition(s.snap.Status, to) {
		return false
	}
	s.snap.Status = to
	s.snap.UpdatedAt = now
	return true
}

func (s *session) failLocked(err error, now time.Time) bool {
	if !s.transitionLocked(domain.StatusError, now) {
		return false
	}
	s.err = err
	s.snap.Error = err.Error()
	s.snap.ErrorKind = domain.KindOf(err)
	s.snap.Handle = nil
	s.resolveLocked()
	return true
}

func (s *session) stopLocked(now time.Time) error {
	if !s.transitionLocked(domain.StatusStopped, now) {
		return domain.ErrAlreadyStopped
	}
	s.err = domain.ErrSessionStopped
	s.snap.Handle = nil
	s.resolveLocked()
	return nil
}

func (s *session) readyLocked(handle domain.StreamHandle, now time.Time) bool {
	if !s.transitionLocked(domain.StatusReady, now) {
		return false
	}
	s.snap.Handle = &handle
	readyAt := now
	s.snap.ReadyAt = &readyAt
	s.readyPercent = s.snap.Progress
	s.resolveLocked()
	return true
}

// progressLocked records counters from a progress event. The percentage
// only moves forward; it reports whether it advanced.
func (s *session) progressLocked(ev domain.ProgressEvent, percent float64, now time.Time) bool {
	s.countersLocked(ev, now)

	advanced := percent > s.snap.Progress
	if advanced {
		s.snap.Progress = percent
	}
	if s.snap.Progress >= 100 {
		s.snap.Progress = 100
		s.snap.Complete = true
	}
	return advanced
}

func (s *session) countersLocked(ev domain.ProgressEvent, now time.Time) {
	s.snap.DownloadRate = ev.DownloadRate
	s.snap.UploadRate = ev.UploadRate
	s.snap.Peers = ev.Peers
	s.snap.UpdatedAt = now
}
