package usecase

import (
	"context"
	"log/slog"
	"time"

	"swarmstream/internal/domain"
	"swarmstream/internal/domain/ports"
)

const (
	defaultProgressStep = 10.0
	defaultWriteTimeout = 5 * time.Second
)

// HistoryRecorder persists session snapshots. A record is written when the
// status or selected file changes, and when progress moved by ProgressStep
// percentage points since the last write.
type HistoryRecorder struct {
	Feed         SessionFeed
	Repo         ports.SessionRepository
	Logger       *slog.Logger
	Buffer       int
	ProgressStep float64
	WriteTimeout time.Duration
}

type recordedState struct {
	status   domain.SessionStatus
	progress float64
	file     bool
	created  time.Time
}

// Run consumes the feed until ctx is done or the feed is closed.
func (h HistoryRecorder) Run(ctx context.Context) {
	feed, unsubscribe := h.Feed.Subscribe(h.Buffer)
	defer unsubscribe()
	h.consume(ctx, feed)
}

// Start subscribes right away and records in the background. The returned
// func stops recording and returns once the subscription has ended, so no
// snapshot published after it returns is written.
func (h HistoryRecorder) Start(ctx context.Context) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	feed, unsubscribe := h.Feed.Subscribe(h.Buffer)
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer unsubscribe()
		h.consume(ctx, feed)
	}()
	return func() {
		cancel()
		<-done
	}
}

func (h HistoryRecorder) consume(ctx context.Context, feed <-chan domain.SessionSnapshot) {
	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}
	step := h.ProgressStep
	if step <= 0 {
		step = defaultProgressStep
	}
	timeout := h.WriteTimeout
	if timeout <= 0 {
		timeout = defaultWriteTimeout
	}

	last := make(map[domain.ContentID]recordedState)
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-feed:
			if !ok {
				return
			}
			prev, seen := last[snap.ContentID]
			if seen && !prev.created.Equal(snap.CreatedAt) {
				seen = false
			}
			if seen && !needsWrite(prev, snap, step) {
				continue
			}
			if err := h.write(ctx, snap, timeout); err != nil {
				logger.Warn("history: upsert failed",
					slog.String("contentId", string(snap.ContentID)),
					slog.String("status", string(snap.Status)),
					slog.String("error", err.Error()),
				)
				continue
			}
			if snap.Status.IsTerminal() {
				delete(last, snap.ContentID)
				continue
			}
			last[snap.ContentID] = recordedState{
				status:   snap.Status,
				progress: snap.Progress,
				file:     snap.File != nil,
				created:  snap.CreatedAt,
			}
		}
	}
}

func needsWrite(prev recordedState, snap domain.SessionSnapshot, step float64) bool {
	if prev.status != snap.Status || prev.file != (snap.File != nil) {
		return true
	}
	return snap.Progress-prev.progress >= step
}

func (h HistoryRecorder) write(ctx context.Context, snap domain.SessionSnapshot, timeout time.Duration) error {
	record := domain.RecordFromSnapshot(snap)
	if err := record.Validate(); err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return wrapRepo(h.Repo.Upsert(wctx, record))
}
