// Package memory keeps torrent piece data in RAM so that a streaming session
// can run without touching the data directory.
package memory

import (
	"bytes"
	"container/list"
	"errors"
	"io"
	"os"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/anacrolix/missinggo/v2/resource"
)

// Store is a resource.Provider backed by byte slices. When a byte limit is
// set, least recently used blobs are dropped; the torrent client then sees
// those pieces as missing and fetches them again.
type Store struct {
	mu      sync.Mutex
	blobs   map[string]*blob
	lru     *list.List
	limit   int64
	used    int64
	evicted int64
	now     func() time.Time
}

type blob struct {
	data []byte
	mod  time.Time
	elem *list.Element
}

type Option func(*Store)

func WithLimit(bytes int64) Option {
	return func(s *Store) {
		if bytes > 0 {
			s.limit = bytes
		}
	}
}

func withClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

func NewStore(opts ...Option) *Store {
	s := &Store{
		blobs: make(map[string]*blob),
		lru:   list.New(),
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Usage reports bytes held and the number of blobs evicted so far.
type Usage struct {
	Bytes   int64
	Limit   int64
	Blobs   int
	Evicted int64
}

func (s *Store) Usage() Usage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Usage{Bytes: s.used, Limit: s.limit, Blobs: len(s.blobs), Evicted: s.evicted}
}

func (s *Store) NewInstance(name string) (resource.Instance, error) {
	key, err := normalizeKey(name)
	if err != nil {
		return nil, err
	}
	return &instance{store: s, key: key}, nil
}

type instance struct {
	store *Store
	key   string
}

func (i *instance) Get() (io.ReadCloser, error) {
	data, ok := i.store.load(i.key)
	if !ok {
		return nil, os.ErrNotExist
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (i *instance) Put(r io.Reader) error {
	if r == nil {
		return errors.New("nil reader")
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	i.store.replace(i.key, data)
	return nil
}

func (i *instance) PutSized(r io.Reader, size int64) error {
	if r == nil {
		return errors.New("nil reader")
	}
	if size < 0 {
		return errors.New("invalid size")
	}
	buf := make([]byte, size)
	if _, err := io.ReadFull(r, buf); err != nil {
		return err
	}
	i.store.replace(i.key, buf)
	return nil
}

func (i *instance) Stat() (os.FileInfo, error) {
	return i.store.stat(i.key)
}

func (i *instance) ReadAt(b []byte, off int64) (int, error) {
	return i.store.readAt(i.key, b, off)
}

func (i *instance) WriteAt(b []byte, off int64) (int, error) {
	return i.store.writeAt(i.key, b, off)
}

func (i *instance) Delete() error {
	i.store.mu.Lock()
	if b, ok := i.store.blobs[i.key]; ok {
		i.store.removeLocked(i.key, b)
	}
	i.store.mu.Unlock()
	return nil
}

func (i *instance) Readdirnames() ([]string, error) {
	return i.store.children(i.key)
}

func (s *Store) load(key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.blobs[key]
	if !ok {
		return nil, false
	}
	s.lru.MoveToFront(b.elem)
	out := make([]byte, len(b.data))
	copy(out, b.data)
	return out, true
}

func (s *Store) replace(key string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.blobLocked(key)
	s.used += int64(len(data)) - int64(len(b.data))
	b.data = data
	b.mod = s.now()
	s.evictLocked(key)
}

func (s *Store) readAt(key string, p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, errors.New("negative offset")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.blobs[key]
	if !ok {
		return 0, os.ErrNotExist
	}
	s.lru.MoveToFront(b.elem)
	if off >= int64(len(b.data)) {
		return 0, io.EOF
	}
	n := copy(p, b.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (s *Store) writeAt(key string, p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, errors.New("negative offset")
	}
	maxInt := int64(^uint(0) >> 1)
	if off > maxInt-int64(len(p)) {
		return 0, errors.New("offset too large")
	}
	end := int(off) + len(p)

	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.blobLocked(key)
	if end > len(b.data) {
		grown := make([]byte, end)
		copy(grown, b.data)
		s.used += int64(end - len(b.data))
		b.data = grown
	}
	copy(b.data[off:], p)
	b.mod = s.now()
	s.evictLocked(key)
	return len(p), nil
}

func (s *Store) stat(key string) (os.FileInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.blobs[key]; ok {
		return blobInfo{name: path.Base(key), size: int64(len(b.data)), mod: b.mod}, nil
	}
	prefix := key + "/"
	for k := range s.blobs {
		if strings.HasPrefix(k, prefix) {
			return blobInfo{name: path.Base(key), dir: true, mod: s.now()}, nil
		}
	}
	return nil, os.ErrNotExist
}

func (s *Store) children(key string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.blobs[key]; ok {
		return nil, errors.New("not a directory")
	}
	prefix := key + "/"
	seen := make(map[string]struct{})
	for k := range s.blobs {
		rest, ok := strings.CutPrefix(k, prefix)
		if !ok || rest == "" {
			continue
		}
		head, _, _ := strings.Cut(rest, "/")
		seen[head] = struct{}{}
	}
	if len(seen) == 0 {
		return nil, os.ErrNotExist
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// blobLocked returns the blob for key, creating it and marking it most
// recently used.
func (s *Store) blobLocked(key string) *blob {
	b, ok := s.blobs[key]
	if !ok {
		b = &blob{elem: s.lru.PushFront(key)}
		s.blobs[key] = b
		return b
	}
	s.lru.MoveToFront(b.elem)
	return b
}

func (s *Store) removeLocked(key string, b *blob) {
	s.used -= int64(len(b.data))
	s.lru.Remove(b.elem)
	delete(s.blobs, key)
}

// evictLocked drops least recently used blobs until the store fits its
// limit. The blob being written is never evicted.
func (s *Store) evictLocked(keep string) {
	if s.limit <= 0 {
		return
	}
	for s.used > s.limit {
		back := s.lru.Back()
		if back == nil {
			return
		}
		key := back.Value.(string)
		if key == keep {
			return
		}
		s.removeLocked(key, s.blobs[key])
		s.evicted++
	}
}

type blobInfo struct {
	name string
	size int64
	mod  time.Time
	dir  bool
}

func (f blobInfo) Name() string { return f.name }
func (f blobInfo) Size() int64  { return f.size }
func (f blobInfo) Mode() os.FileMode {
	if f.dir {
		return os.ModeDir | 0o755
	}
	return 0o644
}
func (f blobInfo) ModTime() time.Time { return f.mod }
func (f blobInfo) IsDir() bool        { return f.dir }
func (f blobInfo) Sys() interface{}   { return nil }

func normalizeKey(name string) (string, error) {
	trimmed := strings.ReplaceAll(strings.TrimSpace(name), "\\", "/")
	if trimmed == "" {
		return "", errors.New("empty path")
	}
	if strings.HasPrefix(trimmed, "/") || strings.Contains(trimmed, "\x00") {
		return "", errors.New("invalid path")
	}
	cleaned := path.Clean(trimmed)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", errors.New("invalid path")
	}
	return cleaned, nil
}
