package anacrolix

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/anacrolix/torrent"
	"github.com/anacrolix/torrent/bencode"
	"github.com/anacrolix/torrent/metainfo"

	"swarmstream/internal/domain"
	"swarmstream/internal/domain/ports"
)

const testMagnet = domain.Locator("magnet:?xt=urn:btih:d2354010a3ca4ade5b7427bb093a62a3899ff381&dn=song")

// newOfflineEngine returns an engine on a loopback client without DHT or
// trackers.
func newOfflineEngine(t *testing.T) (*Engine, *torrent.ClientConfig) {
	t.Helper()
	cfg := torrent.TestingConfig(t)
	client, err := torrent.NewClient(cfg)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	e := NewWithClient(client, Config{DataDir: cfg.DataDir, PollInterval: 20 * time.Millisecond})
	t.Cleanup(func() { _ = e.Close() })
	return e, cfg
}

func refsFor(e *Engine, hash metainfo.Hash) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.refs[hash]
}

func torrentOf(t *testing.T, tr ports.Transfer) *torrent.Torrent {
	t.Helper()
	impl, ok := tr.(*transfer)
	if !ok {
		t.Fatalf("transfer type %T", tr)
	}
	return impl.torrent
}

func isClosed(tt *torrent.Torrent) bool {
	select {
	case <-tt.Closed():
		return true
	default:
		return false
	}
}

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// writeAlbumTorrent lays out a two-file album under dataDir and writes its
// .torrent next to it.
func writeAlbumTorrent(t *testing.T, dataDir string) (domain.Locator, metainfo.Hash) {
	t.Helper()
	root := filepath.Join(dataDir, "album")
	if err := os.MkdirAll(root, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	files := map[string][]byte{
		"cover.jpg":  bytes.Repeat([]byte{'c'}, 300),
		"track.flac": bytes.Repeat([]byte{'t'}, 70000),
	}
	for name, data := range files {
		if err := os.WriteFile(filepath.Join(root, name), data, 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}

	info := metainfo.Info{PieceLength: 16 << 10}
	if err := info.BuildFromFilePath(root); err != nil {
		t.Fatalf("build info: %v", err)
	}
	infoBytes, err := bencode.Marshal(info)
	if err != nil {
		t.Fatalf("marshal info: %v", err)
	}
	mi := metainfo.MetaInfo{InfoBytes: infoBytes}

	path := filepath.Join(t.TempDir(), "album.torrent")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create torrent file: %v", err)
	}
	defer f.Close()
	if err := mi.Write(f); err != nil {
		t.Fatalf("write torrent file: %v", err)
	}
	return domain.Locator(path), mi.HashInfoBytes()
}

func TestEngineSharedInfoHashDropsOnLastDestroy(t *testing.T) {
	e, _ := newOfflineEngine(t)
	ctx := context.Background()

	first, err := e.Join(ctx, testMagnet)
	if err != nil {
		t.Fatalf("first Join: %v", err)
	}
	second, err := e.Join(ctx, testMagnet)
	if err != nil {
		t.Fatalf("second Join: %v", err)
	}
	tt := torrentOf(t, first)
	if torrentOf(t, second) != tt {
		t.Fatalf("joins of one infohash got different torrents")
	}
	hash := tt.InfoHash()
	if n := refsFor(e, hash); n != 2 {
		t.Fatalf("refs = %d, want 2", n)
	}

	if err := e.Destroy(first); err != nil {
		t.Fatalf("Destroy(first): %v", err)
	}
	if err := e.Destroy(first); err != nil {
		t.Fatalf("repeated Destroy(first): %v", err)
	}
	if isClosed(tt) {
		t.Fatalf("torrent dropped while still held by the second transfer")
	}
	if n := refsFor(e, hash); n != 1 {
		t.Fatalf("refs after first Destroy = %d, want 1", n)
	}
	drained := make(chan struct{})
	go func() {
		for range first.Events() {
		}
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(2 * time.Second):
		t.Fatalf("event stream of the destroyed transfer not closed")
	}

	if err := e.Destroy(second); err != nil {
		t.Fatalf("Destroy(second): %v", err)
	}
	if !isClosed(tt) {
		t.Fatalf("torrent not dropped after the last Destroy")
	}
	if n := refsFor(e, hash); n != 0 {
		t.Fatalf("refs after last Destroy = %d, want 0", n)
	}
}

func TestEngineCancelledJoinKeepsSharedTorrent(t *testing.T) {
	e, _ := newOfflineEngine(t)

	live, err := e.Join(context.Background(), testMagnet)
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	tt := torrentOf(t, live)
	hash := tt.InfoHash()

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	for attempt := 0; attempt < 5; attempt++ {
		tr, err := e.Join(cancelled, testMagnet)
		switch {
		case err == nil:
			// The add won the race against the cancelled context.
			if err := e.Destroy(tr); err != nil {
				t.Fatalf("attempt %d: Destroy: %v", attempt, err)
			}
		case !errors.Is(err, context.Canceled):
			t.Fatalf("attempt %d: err = %v, want context.Canceled", attempt, err)
		}
		waitUntil(t, "late add released", func() bool { return refsFor(e, hash) == 1 })
		if isClosed(tt) {
			t.Fatalf("attempt %d: cancelled Join dropped the live transfer's torrent", attempt)
		}
	}

	if err := e.Destroy(live); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	if !isClosed(tt) {
		t.Fatalf("torrent not dropped after its last holder was destroyed")
	}
}

func TestAcquireReaddsTorrentDroppedBeforeReference(t *testing.T) {
	e, _ := newOfflineEngine(t)
	spec, err := torrent.TorrentSpecFromMagnetUri(testMagnet.String())
	if err != nil {
		t.Fatalf("parse magnet: %v", err)
	}

	stale, _, err := e.client.AddTorrentSpec(spec)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	stale.Drop()

	calls := 0
	got, err := e.acquire(func() (*torrent.Torrent, error) {
		calls++
		if calls == 1 {
			return stale, nil
		}
		return e.client.AddMagnet(testMagnet.String())
	})
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if calls != 2 {
		t.Fatalf("add calls = %d, want 2", calls)
	}
	if got == stale || isClosed(got) {
		t.Fatalf("acquire returned the dropped torrent")
	}
	if n := refsFor(e, got.InfoHash()); n != 1 {
		t.Fatalf("refs = %d, want 1", n)
	}
}

func TestEngineLocalTorrentFileEmitsMetadata(t *testing.T) {
	e, cfg := newOfflineEngine(t)
	locator, hash := writeAlbumTorrent(t, cfg.DataDir)

	tr, err := e.Join(context.Background(), locator)
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	defer func() { _ = e.Destroy(tr) }()
	if got := torrentOf(t, tr).InfoHash(); got != hash {
		t.Fatalf("info hash = %s, want %s", got.HexString(), hash.HexString())
	}

	var files []domain.FileRef
	timeout := time.After(5 * time.Second)
	for files == nil {
		select {
		case ev, open := <-tr.Events():
			if !open {
				t.Fatalf("event stream closed before metadata")
			}
			switch ev := ev.(type) {
			case domain.ReadyEvent:
				files = ev.Files
			case domain.ProgressEvent:
				if ev.Fraction != 0 || ev.Pieces != nil {
					t.Fatalf("progress before file selection = %+v", ev)
				}
			case domain.ErrorEvent:
				t.Fatalf("error event: %s", ev.Reason)
			}
		case <-timeout:
			t.Fatalf("no ReadyEvent")
		}
	}

	if len(files) != 2 {
		t.Fatalf("files = %+v, want 2", files)
	}
	track, ok := domain.SelectLargest(files)
	if !ok || track.Length != 70000 || !strings.HasSuffix(track.Path, "track.flac") {
		t.Fatalf("largest file = %+v", track)
	}

	if err := tr.SelectFile(domain.FileRef{Index: 7}); err == nil {
		t.Fatalf("SelectFile out of range: expected error")
	}
	if err := tr.SelectFile(track); err != nil {
		t.Fatalf("SelectFile: %v", err)
	}

	waitUntil(t, "piece map of the selected file", func() bool {
		select {
		case ev := <-tr.Events():
			p, ok := ev.(domain.ProgressEvent)
			return ok && p.Pieces != nil && p.Pieces.NumPieces > 0
		default:
			return false
		}
	})

	r, err := tr.NewReader(track)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("reader Close: %v", err)
	}
	if _, err := tr.NewReader(domain.FileRef{Index: -1}); err == nil {
		t.Fatalf("NewReader(-1): expected error")
	}
}
