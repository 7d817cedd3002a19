package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"swarmstream/internal/domain"
)

func snapshot(id domain.ContentID, status domain.SessionStatus, progress float64) domain.SessionSnapshot {
	created := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)
	return domain.SessionSnapshot{
		ContentID: id,
		Locator:   testMagnet,
		Status:    status,
		Progress:  progress,
		CreatedAt: created,
		UpdatedAt: created,
	}
}

func runRecorder(t *testing.T, repo *fakeRepo) (*fakeFeed, func()) {
	t.Helper()
	feed := newFakeFeed()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		HistoryRecorder{Feed: feed, Repo: repo, Buffer: 8}.Run(ctx)
	}()
	return feed, func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatalf("recorder did not stop")
		}
	}
}

func TestHistoryRecorderWritesOnChanges(t *testing.T) {
	repo := newFakeRepo()
	feed, stop := runRecorder(t, repo)

	file := &domain.FileRef{Index: 1, Path: "a.flac", Length: 100}
	withFile := func(s domain.SessionSnapshot) domain.SessionSnapshot {
		s.File = file
		return s
	}

	feed.ch <- snapshot("x", domain.StatusConnecting, 0)             // first sight
	feed.ch <- snapshot("x", domain.StatusConnecting, 3)             // small step
	feed.ch <- withFile(snapshot("x", domain.StatusDownloading, 3))  // status and file
	feed.ch <- withFile(snapshot("x", domain.StatusDownloading, 8))  // small step
	feed.ch <- withFile(snapshot("x", domain.StatusDownloading, 14)) // step of 11
	feed.ch <- withFile(snapshot("x", domain.StatusReady, 14))       // status
	feed.ch <- withFile(snapshot("x", domain.StatusStreaming, 15))   // status
	feed.ch <- withFile(snapshot("x", domain.StatusStreaming, 100))  // step
	stop()

	got := repo.upsertsCopy()
	wantProgress := []float64{0, 3, 14, 14, 15, 100}
	if len(got) != len(wantProgress) {
		t.Fatalf("upserts = %d, want %d: %+v", len(got), len(wantProgress), got)
	}
	for i, p := range wantProgress {
		if got[i].Progress != p {
			t.Errorf("upsert %d progress = %v, want %v", i, got[i].Progress, p)
		}
	}
	if got[2].File == nil || got[2].Status != domain.StatusDownloading {
		t.Fatalf("upsert 2 = %+v, want downloading with file", got[2])
	}
}

func TestHistoryRecorderForgetsTerminalSessions(t *testing.T) {
	repo := newFakeRepo()
	feed, stop := runRecorder(t, repo)

	feed.ch <- snapshot("x", domain.StatusConnecting, 0)
	stopped := snapshot("x", domain.StatusStopped, 0)
	feed.ch <- stopped
	feed.ch <- snapshot("x", domain.StatusConnecting, 0)
	stop()

	if n := repo.upsertCount(); n != 3 {
		t.Fatalf("upserts = %d, want 3", n)
	}
}

func TestHistoryRecorderSkipsInvalidAndFailedWrites(t *testing.T) {
	repo := newFakeRepo()
	calls := 0
	repo.upsertFn = func(domain.SessionRecord) error {
		calls++
		if calls == 1 {
			return errors.New("db down")
		}
		return nil
	}
	feed, stop := runRecorder(t, repo)

	feed.ch <- snapshot("x", domain.StatusConnecting, 0) // fails
	feed.ch <- snapshot("x", domain.StatusConnecting, 1) // retried since nothing recorded
	feed.ch <- snapshot("", domain.StatusConnecting, 0)  // invalid, never reaches repo
	stop()

	if calls != 2 {
		t.Fatalf("upsert calls = %d, want 2", calls)
	}
	if n := repo.upsertCount(); n != 1 {
		t.Fatalf("stored upserts = %d, want 1", n)
	}
}

func TestHistoryRecorderStopsWhenFeedCloses(t *testing.T) {
	repo := newFakeRepo()
	feed := newFakeFeed()
	done := make(chan struct{})
	go func() {
		defer close(done)
		HistoryRecorder{Feed: feed, Repo: repo}.Run(context.Background())
	}()
	close(feed.ch)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("recorder did not return after feed closed")
	}
	select {
	case <-feed.unsubbed:
	default:
		t.Fatalf("recorder did not unsubscribe")
	}
}

func TestHistoryRecorderStopEndsRecordingBeforeReturning(t *testing.T) {
	repo := newFakeRepo()
	feed := newFakeFeed()
	stop := HistoryRecorder{Feed: feed, Repo: repo}.Start(context.Background())

	feed.ch <- snapshot("x", domain.StatusDownloading, 40)
	stop()
	if n := repo.upsertCount(); n != 1 {
		t.Fatalf("upserts = %d, want 1", n)
	}
	select {
	case <-feed.unsubbed:
	default:
		t.Fatalf("stop returned before the subscription ended")
	}

	// A shutdown publishes stopped snapshots after recording ended; they
	// must not overwrite the live record.
	select {
	case feed.ch <- snapshot("x", domain.StatusStopped, 40):
		t.Fatalf("recorder still consuming after stop")
	case <-time.After(50 * time.Millisecond):
	}
	rec, err := repo.Get(context.Background(), "x")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.Status != domain.StatusDownloading {
		t.Fatalf("stored status = %s, want downloading", rec.Status)
	}
}
