// Package anacrolix implements the swarm engine port on top of
// github.com/anacrolix/torrent.
package anacrolix

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"github.com/anacrolix/torrent"
	"github.com/anacrolix/torrent/metainfo"
	"github.com/anacrolix/torrent/storage"

	"swarmstream/internal/domain"
	"swarmstream/internal/domain/ports"
	"swarmstream/internal/storage/memory"
)

const (
	StorageDisk   = "disk"
	StorageMemory = "memory"

	defaultMaxConns           = 35
	defaultPollInterval       = 500 * time.Millisecond
	defaultPrefixWindowPieces = 16

	eventBuffer = 16

	// addTimeout caps the wait for the client to accept a torrent. Adding
	// can block on the client mutex while another torrent resolves metadata.
	addTimeout   = 10 * time.Second
	fetchTimeout = 30 * time.Second

	maxAddAttempts = 3
)

// DefaultTrackers are announced to in addition to the trackers carried by
// the locator.
var DefaultTrackers = []string{
	"wss://tracker.btorrent.xyz",
	"wss://tracker.openwebtorrent.com",
}

var (
	ErrClosed          = errors.New("swarm engine closed")
	ErrClientBusy      = errors.New("torrent client busy, try again later")
	errForeignTransfer = errors.New("transfer was not created by this engine")
)

type Config struct {
	DataDir            string
	StorageMode        string
	MemoryLimitBytes   int64
	ListenPort         int
	Trackers           []string
	PollInterval       time.Duration
	PrefixWindowPieces int
	MaxConns           int
	NoUpload           bool
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.PrefixWindowPieces <= 0 {
		c.PrefixWindowPieces = defaultPrefixWindowPieces
	}
	if c.MaxConns <= 0 {
		c.MaxConns = defaultMaxConns
	}
	if c.StorageMode == "" {
		c.StorageMode = StorageDisk
	}
	return c
}

type Engine struct {
	client     *torrent.Client
	cfg        Config
	store      *memory.Store
	httpClient *http.Client

	mu        sync.Mutex
	refs      map[metainfo.Hash]int
	closed    bool
	closeOnce sync.Once
	closeErr  error
}

func New(cfg Config) (*Engine, error) {
	cfg = cfg.withDefaults()

	clientConfig := torrent.NewDefaultClientConfig()
	if cfg.DataDir != "" {
		clientConfig.DataDir = cfg.DataDir
	}
	if cfg.ListenPort > 0 {
		clientConfig.ListenPort = cfg.ListenPort
	}
	clientConfig.NoUpload = cfg.NoUpload
	clientConfig.EstablishedConnsPerTorrent = cfg.MaxConns

	var store *memory.Store
	switch cfg.StorageMode {
	case StorageDisk:
	case StorageMemory:
		store = memory.NewStore(memory.WithLimit(cfg.MemoryLimitBytes))
		clientConfig.DefaultStorage = storage.NewResourcePieces(store)
	default:
		return nil, fmt.Errorf("unknown storage mode %q", cfg.StorageMode)
	}

	client, err := torrent.NewClient(clientConfig)
	if err != nil {
		return nil, err
	}
	e := NewWithClient(client, cfg)
	e.store = store
	return e, nil
}

func NewWithClient(client *torrent.Client, cfg Config) *Engine {
	return &Engine{
		client:     client,
		cfg:        cfg.withDefaults(),
		httpClient: &http.Client{Timeout: fetchTimeout},
		refs:       make(map[metainfo.Hash]int),
	}
}

// MemoryUsage reports the piece store usage when running in memory mode.
func (e *Engine) MemoryUsage() (memory.Usage, bool) {
	if e.store == nil {
		return memory.Usage{}, false
	}
	return e.store.Usage(), true
}

// Join adds the torrent named by locator and starts pumping its events.
func (e *Engine) Join(ctx context.Context, locator domain.Locator) (ports.Transfer, error) {
	if err := locator.Validate(); err != nil {
		return nil, err
	}
	if e.client == nil {
		return nil, errors.New("torrent client not configured")
	}
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}

	add, err := e.adder(ctx, locator)
	if err != nil {
		return nil, err
	}
	t, err := e.addWithTimeout(ctx, add)
	if err != nil {
		return nil, err
	}

	if len(e.cfg.Trackers) > 0 {
		t.AddTrackers([][]string{e.cfg.Trackers})
	}
	t.SetMaxEstablishedConns(e.cfg.MaxConns)

	slog.Info("torrent joined",
		slog.String("infoHash", t.InfoHash().HexString()),
		slog.String("locatorKind", string(locator.Kind())),
	)
	return newTransfer(e, t), nil
}

func (e *Engine) adder(ctx context.Context, locator domain.Locator) (func() (*torrent.Torrent, error), error) {
	raw := locator.String()
	switch locator.Kind() {
	case domain.LocatorMagnet:
		return func() (*torrent.Torrent, error) { return e.client.AddMagnet(raw) }, nil
	case domain.LocatorTorrentFile:
		return func() (*torrent.Torrent, error) { return e.client.AddTorrentFromFile(raw) }, nil
	case domain.LocatorTorrentURL:
		mi, err := fetchMetainfo(ctx, e.httpClient, raw)
		if err != nil {
			return nil, err
		}
		return func() (*torrent.Torrent, error) { return e.client.AddTorrent(mi) }, nil
	default:
		return nil, domain.ErrNoLocator
	}
}

// addWithTimeout runs add without blocking the caller longer than
// addTimeout or ctx allow. The returned torrent carries a reference; a
// torrent added after we gave up has its reference released again.
func (e *Engine) addWithTimeout(ctx context.Context, add func() (*torrent.Torrent, error)) (*torrent.Torrent, error) {
	type addResult struct {
		t   *torrent.Torrent
		err error
	}
	ch := make(chan addResult, 1)
	go func() {
		t, err := e.acquire(add)
		ch <- addResult{t, err}
	}()

	releaseLate := func() {
		go func() {
			if res := <-ch; res.t != nil {
				if e.release(res.t) {
					freeOSMemory()
				}
			}
		}()
	}

	timer := time.NewTimer(addTimeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		return res.t, res.err
	case <-timer.C:
		releaseLate()
		return nil, ErrClientBusy
	case <-ctx.Done():
		releaseLate()
		return nil, ctx.Err()
	}
}

// acquire adds a torrent and takes a reference on it. The client hands out
// the torrent another transfer already holds for the same infohash; if the
// last holder dropped it between add and the reference, it is added again.
func (e *Engine) acquire(add func() (*torrent.Torrent, error)) (*torrent.Torrent, error) {
	for attempt := 0; attempt < maxAddAttempts; attempt++ {
		t, err := add()
		if err != nil || t == nil {
			return t, err
		}

		e.mu.Lock()
		select {
		case <-t.Closed():
			e.mu.Unlock()
			continue
		default:
		}
		e.refs[t.InfoHash()]++
		e.mu.Unlock()
		return t, nil
	}
	return nil, ErrClosed
}

// release gives back one reference on t and drops the torrent when it was
// the last one. Dropping happens under e.mu so acquire never counts a
// reference on a closed torrent.
func (e *Engine) release(t *torrent.Torrent) bool {
	hash := t.InfoHash()
	e.mu.Lock()
	defer e.mu.Unlock()
	e.refs[hash]--
	if e.refs[hash] > 0 {
		return false
	}
	delete(e.refs, hash)
	t.Drop()
	return true
}

// Destroy stops the transfer's pump and drops the torrent once no other
// transfer shares it. Repeated calls are no-ops.
func (e *Engine) Destroy(t ports.Transfer) error {
	tr, ok := t.(*transfer)
	if !ok || tr.engine != e {
		return errForeignTransfer
	}
	tr.destroyOnce.Do(func() {
		tr.stop()

		dropped := e.release(tr.torrent)
		if dropped {
			freeOSMemory()
		}
		slog.Info("torrent destroyed",
			slog.String("infoHash", tr.torrent.InfoHash().HexString()),
			slog.Bool("dropped", dropped),
		)
	})
	return nil
}

func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		e.mu.Lock()
		e.closed = true
		e.mu.Unlock()
		if e.client == nil {
			return
		}
		e.closeErr = errors.Join(e.client.Close()...)
	})
	return e.closeErr
}

// freeOSMemory returns memory freed by a dropped torrent to the OS.
func freeOSMemory() {
	runtime.GC()
	debug.FreeOSMemory()
}
