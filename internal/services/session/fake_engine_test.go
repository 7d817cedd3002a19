package session

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"swarmstream/internal/domain"
	"swarmstream/internal/domain/ports"
)

type fakeEngine struct {
	mu        sync.Mutex
	joins     int
	destroys  map[*fakeTransfer]int
	closes    int
	locators  []domain.Locator
	joinErr   error
	joinGate  chan struct{}
	selectErr error

	joined chan *fakeTransfer
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		destroys: make(map[*fakeTransfer]int),
		joined:   make(chan *fakeTransfer, 128),
	}
}

func (e *fakeEngine) Join(ctx context.Context, locator domain.Locator) (ports.Transfer, error) {
	e.mu.Lock()
	e.joins++
	e.locators = append(e.locators, locator)
	gate, joinErr, selectErr := e.joinGate, e.joinErr, e.selectErr
	e.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if joinErr != nil {
		return nil, joinErr
	}
	tr := &fakeTransfer{events: make(chan domain.SwarmEvent, 64), selectErr: selectErr}
	e.joined <- tr
	return tr, nil
}

func (e *fakeEngine) Destroy(t ports.Transfer) error {
	tr, ok := t.(*fakeTransfer)
	if !ok {
		return errors.New("unknown transfer")
	}
	e.mu.Lock()
	e.destroys[tr]++
	e.mu.Unlock()
	tr.close()
	return nil
}

func (e *fakeEngine) Close() error {
	e.mu.Lock()
	e.closes++
	e.mu.Unlock()
	return nil
}

func (e *fakeEngine) counts() (joins, destroys, closes int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, n := range e.destroys {
		destroys += n
	}
	return e.joins, destroys, e.closes
}

// maxDestroys returns the highest Destroy count seen for a single transfer.
func (e *fakeEngine) maxDestroys() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	max := 0
	for _, n := range e.destroys {
		if n > max {
			max = n
		}
	}
	return max
}

func (e *fakeEngine) nextTransfer(t *testing.T) *fakeTransfer {
	t.Helper()
	select {
	case tr := <-e.joined:
		return tr
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for Join")
		return nil
	}
}

type fakeTransfer struct {
	mu        sync.Mutex
	events    chan domain.SwarmEvent
	closed    bool
	selected  []domain.FileRef
	selectErr error
}

func (tr *fakeTransfer) Events() <-chan domain.SwarmEvent {
	return tr.events
}

func (tr *fakeTransfer) SelectFile(f domain.FileRef) error {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	if tr.selectErr != nil {
		return tr.selectErr
	}
	tr.selected = append(tr.selected, f)
	return nil
}

func (tr *fakeTransfer) NewReader(f domain.FileRef) (ports.StreamReader, error) {
	return &fakeReader{Reader: bytes.NewReader(make([]byte, f.Length))}, nil
}

func (tr *fakeTransfer) send(ev domain.SwarmEvent) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	if !tr.closed {
		tr.events <- ev
	}
}

func (tr *fakeTransfer) close() {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	if !tr.closed {
		tr.closed = true
		close(tr.events)
	}
}

func (tr *fakeTransfer) selectedFiles() []domain.FileRef {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return append([]domain.FileRef(nil), tr.selected...)
}

type fakeReader struct {
	*bytes.Reader
}

func (r *fakeReader) Close() error               { return nil }
func (r *fakeReader) SetContext(context.Context) {}
func (r *fakeReader) SetReadahead(int64)         {}

var _ io.ReadSeekCloser = (*fakeReader)(nil)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
