package anacrolix

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/anacrolix/torrent"

	"swarmstream/internal/domain"
	"swarmstream/internal/domain/ports"
)

var errNoMetadata = errors.New("torrent metadata not available")

// transfer pumps the state of one torrent into an event channel. The pump
// owns the channel and closes it on exit.
type transfer struct {
	engine  *Engine
	torrent *torrent.Torrent
	events  chan domain.SwarmEvent

	poll   time.Duration
	window int

	cancel context.CancelFunc
	done   chan struct{}

	mu            sync.Mutex
	selected      *domain.FileRef
	speed         speedSample
	peakCompleted int64
	peakBitfield  []byte

	destroyOnce sync.Once
}

func newTransfer(e *Engine, t *torrent.Torrent) *transfer {
	ctx, cancel := context.WithCancel(context.Background())
	tr := &transfer{
		engine:  e,
		torrent: t,
		events:  make(chan domain.SwarmEvent, eventBuffer),
		poll:    e.cfg.PollInterval,
		window:  e.cfg.PrefixWindowPieces,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go tr.pump(ctx)
	return tr
}

func (tr *transfer) Events() <-chan domain.SwarmEvent {
	return tr.events
}

func (tr *transfer) pump(ctx context.Context) {
	defer close(tr.done)
	defer close(tr.events)

	ticker := time.NewTicker(tr.poll)
	defer ticker.Stop()

	gotInfo := tr.torrent.GotInfo()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tr.torrent.Closed():
			tr.emit(ctx, domain.ErrorEvent{Reason: "torrent closed by client"})
			return
		case <-gotInfo:
			gotInfo = nil
			files := mapFiles(tr.torrent)
			slog.Info("torrent metadata received",
				slog.String("infoHash", tr.torrent.InfoHash().HexString()),
				slog.Int("files", len(files)),
			)
			if !tr.emit(ctx, domain.ReadyEvent{Files: files}) {
				return
			}
		case now := <-ticker.C:
			if !tr.emit(ctx, tr.progress(now)) {
				return
			}
		}
	}
}

func (tr *transfer) emit(ctx context.Context, ev domain.SwarmEvent) bool {
	select {
	case tr.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func (tr *transfer) progress(now time.Time) (ev domain.ProgressEvent) {
	stats := tr.torrent.Stats()
	ev.Peers = stats.ActivePeers

	tr.mu.Lock()
	defer tr.mu.Unlock()
	ev.DownloadRate, ev.UploadRate = tr.speed.sample(stats, now)

	if tr.selected == nil || !torrentInfoReady(tr.torrent) {
		return ev
	}
	defer func() {
		if r := recover(); r != nil {
			slog.Error("progress sampling panic recovered",
				slog.Any("error", r),
				slog.String("stack", string(debug.Stack())),
			)
		}
	}()

	f := tr.torrent.Files()[tr.selected.Index]
	completed, length := f.BytesCompleted(), f.Length()
	ev.Pieces = tr.pieceMapLocked(f)
	tr.advanceWindowLocked(f)

	if completed > tr.peakCompleted {
		tr.peakCompleted = completed
	} else {
		completed = tr.peakCompleted
	}
	if length > 0 {
		ev.Fraction = float64(completed) / float64(length)
	}
	return ev
}

func (tr *transfer) pieceMapLocked(f *torrent.File) *domain.PieceMap {
	r, ok := tr.fileRange(f)
	if !ok {
		return nil
	}
	raw := encodeBitfield(r.len(), func(i int) bool {
		return tr.torrent.PieceState(r.start + i).Complete
	})
	tr.peakBitfield = mergeBitfield(tr.peakBitfield, raw)
	bits := make([]byte, len(tr.peakBitfield))
	copy(bits, tr.peakBitfield)
	return &domain.PieceMap{NumPieces: r.len(), Bitfield: bits}
}

// advanceWindowLocked raises the priority of the pieces right after the
// completed prefix of f so the file fills in order from its start.
func (tr *transfer) advanceWindowLocked(f *torrent.File) {
	r, ok := tr.fileRange(f)
	if !ok {
		return
	}
	slots := planPrefixWindow(r, func(i int) bool {
		return tr.torrent.PieceState(i).Complete
	}, tr.window)
	for _, s := range slots {
		tr.torrent.Piece(s.piece).SetPriority(mapPriority(s.prio))
	}
}

func (tr *transfer) fileRange(f *torrent.File) (pieceRange, bool) {
	info := tr.torrent.Info()
	if info == nil {
		return pieceRange{}, false
	}
	return filePieceRange(info.PieceLength, tr.torrent.NumPieces(), f.Offset(), f.Length())
}

// SelectFile restricts downloading to file and starts filling its prefix.
func (tr *transfer) SelectFile(file domain.FileRef) (err error) {
	if !torrentInfoReady(tr.torrent) {
		return errNoMetadata
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("select file %d: %v", file.Index, r)
		}
	}()

	files := tr.torrent.Files()
	if file.Index < 0 || file.Index >= len(files) {
		return fmt.Errorf("file index %d out of range (%d files)", file.Index, len(files))
	}
	for i, f := range files {
		if i != file.Index {
			f.SetPriority(torrent.PiecePriorityNone)
		}
	}
	target := files[file.Index]
	target.Download()

	tr.mu.Lock()
	selected := file
	tr.selected = &selected
	tr.peakCompleted = 0
	tr.peakBitfield = nil
	tr.advanceWindowLocked(target)
	tr.mu.Unlock()

	slog.Info("file selected",
		slog.String("infoHash", tr.torrent.InfoHash().HexString()),
		slog.Int("index", file.Index),
		slog.String("path", file.Path),
		slog.Int64("length", file.Length),
	)
	return nil
}

func (tr *transfer) NewReader(file domain.FileRef) (ports.StreamReader, error) {
	if !torrentInfoReady(tr.torrent) {
		return nil, errNoMetadata
	}
	files := tr.torrent.Files()
	if file.Index < 0 || file.Index >= len(files) {
		return nil, fmt.Errorf("file index %d out of range (%d files)", file.Index, len(files))
	}
	return files[file.Index].NewReader(), nil
}

// stop cancels the pump and waits until the event channel is closed.
func (tr *transfer) stop() {
	tr.cancel()
	<-tr.done
}

type speedSample struct {
	at           time.Time
	bytesRead    int64
	bytesWritten int64
}

// sample returns download and upload rates since the previous sample and
// records the current counters.
func (s *speedSample) sample(stats torrent.TorrentStats, now time.Time) (int64, int64) {
	currentRead := stats.BytesReadUsefulData.Int64()
	currentWritten := stats.BytesWrittenData.Int64()

	prev := *s
	*s = speedSample{at: now, bytesRead: currentRead, bytesWritten: currentWritten}

	if prev.at.IsZero() {
		return 0, 0
	}
	dt := now.Sub(prev.at).Seconds()
	if dt <= 0 {
		return 0, 0
	}

	deltaRead := currentRead - prev.bytesRead
	deltaWritten := currentWritten - prev.bytesWritten
	if deltaRead < 0 {
		deltaRead = 0
	}
	if deltaWritten < 0 {
		deltaWritten = 0
	}
	return int64(float64(deltaRead) / dt), int64(float64(deltaWritten) / dt)
}

func mapFiles(t *torrent.Torrent) (mapped []domain.FileRef) {
	if !torrentInfoReady(t) {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			slog.Error("mapFiles panic recovered",
				slog.Any("error", r),
				slog.String("stack", string(debug.Stack())),
			)
			mapped = nil
		}
	}()

	files := t.Files()
	mapped = make([]domain.FileRef, 0, len(files))
	for i, f := range files {
		mapped = append(mapped, domain.FileRef{
			Index:  i,
			Path:   f.Path(),
			Length: f.Length(),
		})
	}
	return mapped
}

func torrentInfoReady(t *torrent.Torrent) bool {
	if t == nil {
		return false
	}
	select {
	case <-t.GotInfo():
		return true
	default:
		return false
	}
}
