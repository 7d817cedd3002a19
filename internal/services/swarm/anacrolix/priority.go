package anacrolix

import (
	"github.com/anacrolix/torrent"

	"swarmstream/internal/domain"
)

// pieceRange is a half-open range of torrent piece indices.
type pieceRange struct {
	start int
	end   int
}

func (r pieceRange) len() int {
	if r.end <= r.start {
		return 0
	}
	return r.end - r.start
}

func mapPriority(prio domain.Priority) torrent.PiecePriority {
	switch prio {
	case domain.PriorityNone:
		return torrent.PiecePriorityNone
	case domain.PriorityHigh:
		return torrent.PiecePriorityNow
	case domain.PriorityNext:
		return torrent.PiecePriorityNext
	case domain.PriorityReadahead:
		return torrent.PiecePriorityReadahead
	case domain.PriorityNormal:
		return torrent.PiecePriorityNormal
	default:
		return torrent.PiecePriorityNormal
	}
}

// filePieceRange returns the pieces that overlap a file occupying
// [offset, offset+length) of the torrent.
func filePieceRange(pieceLength int64, numPieces int, offset, length int64) (pieceRange, bool) {
	if pieceLength <= 0 || numPieces <= 0 || length <= 0 || offset < 0 {
		return pieceRange{}, false
	}
	startPiece := int(offset / pieceLength)
	endPiece := int((offset + length + pieceLength - 1) / pieceLength)
	if startPiece >= numPieces {
		return pieceRange{}, false
	}
	if endPiece > numPieces {
		endPiece = numPieces
	}
	if endPiece <= startPiece {
		endPiece = startPiece + 1
	}
	return pieceRange{start: startPiece, end: endPiece}, true
}

type windowSlot struct {
	piece int
	prio  domain.Priority
}

// planPrefixWindow lays a window of width pieces over r starting at the
// first incomplete piece. The head of the window is needed now, the next
// few soon, the rest is readahead. Completed pieces inside the window are
// skipped but still count towards its width.
func planPrefixWindow(r pieceRange, complete func(int) bool, width int) []windowSlot {
	if r.len() == 0 || width <= 0 {
		return nil
	}
	first := r.start
	for first < r.end && complete(first) {
		first++
	}
	if first >= r.end {
		return nil
	}
	end := first + width
	if end > r.end {
		end = r.end
	}
	nextUntil := first + 1 + width/4

	slots := make([]windowSlot, 0, end-first)
	for i := first; i < end; i++ {
		if complete(i) {
			continue
		}
		prio := domain.PriorityReadahead
		switch {
		case i == first:
			prio = domain.PriorityHigh
		case i < nextUntil:
			prio = domain.PriorityNext
		}
		slots = append(slots, windowSlot{piece: i, prio: prio})
	}
	return slots
}

// encodeBitfield packs n completion flags MSB-first.
func encodeBitfield(n int, complete func(int) bool) []byte {
	if n <= 0 {
		return nil
	}
	buf := make([]byte, (n+7)/8)
	for i := 0; i < n; i++ {
		if complete(i) {
			buf[i/8] |= 1 << (7 - uint(i%8))
		}
	}
	return buf
}

// mergeBitfield ORs raw into peak so that a piece once reported complete
// stays complete while the client re-verifies storage.
func mergeBitfield(peak, raw []byte) []byte {
	if len(peak) < len(raw) {
		extended := make([]byte, len(raw))
		copy(extended, peak)
		peak = extended
	}
	for i, b := range raw {
		peak[i] |= b
	}
	return peak
}
