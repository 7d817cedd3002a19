package usecase

import (
	"context"
	"sort"
	"sync"

	"swarmstream/internal/domain"
)

type fakeRepo struct {
	mu       sync.Mutex
	records  map[domain.ContentID]domain.SessionRecord
	upserts  []domain.SessionRecord
	upsertFn func(domain.SessionRecord) error
	listErr  error
	limit    int
	statuses []domain.SessionStatus
}

func newFakeRepo(records ...domain.SessionRecord) *fakeRepo {
	r := &fakeRepo{records: make(map[domain.ContentID]domain.SessionRecord)}
	for _, rec := range records {
		r.records[rec.ContentID] = rec
	}
	return r
}

func (r *fakeRepo) Upsert(ctx context.Context, record domain.SessionRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.upsertFn != nil {
		if err := r.upsertFn(record); err != nil {
			return err
		}
	}
	r.upserts = append(r.upserts, record)
	r.records[record.ContentID] = record
	return nil
}

func (r *fakeRepo) Get(ctx context.Context, id domain.ContentID) (domain.SessionRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return domain.SessionRecord{}, domain.ErrNotFound
	}
	return rec, nil
}

func (r *fakeRepo) ListRecent(ctx context.Context, limit int) ([]domain.SessionRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.limit = limit
	if r.listErr != nil {
		return nil, r.listErr
	}
	out := r.sortedLocked()
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *fakeRepo) ListByStatus(ctx context.Context, statuses []domain.SessionStatus) ([]domain.SessionRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = statuses
	if r.listErr != nil {
		return nil, r.listErr
	}
	want := make(map[domain.SessionStatus]bool, len(statuses))
	for _, s := range statuses {
		want[s] = true
	}
	var out []domain.SessionRecord
	for _, rec := range r.sortedLocked() {
		if want[rec.Status] {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (r *fakeRepo) sortedLocked() []domain.SessionRecord {
	out := make([]domain.SessionRecord, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ContentID < out[j].ContentID })
	return out
}

func (r *fakeRepo) upsertCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.upserts)
}

func (r *fakeRepo) upsertsCopy() []domain.SessionRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.SessionRecord(nil), r.upserts...)
}

type fakeFeed struct {
	ch       chan domain.SessionSnapshot
	unsubbed chan struct{}
	buffer   int
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{
		ch:       make(chan domain.SessionSnapshot),
		unsubbed: make(chan struct{}),
	}
}

func (f *fakeFeed) Subscribe(buffer int) (<-chan domain.SessionSnapshot, func()) {
	f.buffer = buffer
	var once sync.Once
	return f.ch, func() { once.Do(func() { close(f.unsubbed) }) }
}

type fakeStarter struct {
	started []domain.ContentID
	errs    map[domain.ContentID]error
}

func (s *fakeStarter) Start(id domain.ContentID, locator domain.Locator) (domain.SessionSnapshot, error) {
	if err := s.errs[id]; err != nil {
		return domain.SessionSnapshot{}, err
	}
	s.started = append(s.started, id)
	return domain.SessionSnapshot{ContentID: id, Locator: locator, Status: domain.StatusConnecting}, nil
}
