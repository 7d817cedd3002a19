package domain

// SwarmEvent is one notification from a transfer. Implementations are
// ReadyEvent, ProgressEvent and ErrorEvent.
type SwarmEvent interface {
	swarmEvent()
}

// ReadyEvent reports that swarm metadata (the file list) is available.
type ReadyEvent struct {
	Files []FileRef
}

// ProgressEvent carries the latest counters of a transfer. Fraction and
// Pieces describe the selected file and stay zero until one is selected.
type ProgressEvent struct {
	Fraction     float64
	DownloadRate int64
	UploadRate   int64
	Peers        int
	Pieces       *PieceMap
}

type ErrorEvent struct {
	Reason string
}

func (ReadyEvent) swarmEvent()    {}
func (ProgressEvent) swarmEvent() {}
func (ErrorEvent) swarmEvent()    {}

// PieceMap is a completion bitmap over the pieces of the selected file,
// MSB-first: bit i is (Bitfield[i/8] >> (7 - i%8)) & 1.
type PieceMap struct {
	NumPieces int
	Bitfield  []byte
}

func (m PieceMap) Complete(i int) bool {
	if i < 0 || i >= m.NumPieces || i/8 >= len(m.Bitfield) {
		return false
	}
	return m.Bitfield[i/8]&(1<<(7-uint(i%8))) != 0
}

// PrefixPieces returns how many pieces from the start are complete without a gap.
func (m PieceMap) PrefixPieces() int {
	n := 0
	for n < m.NumPieces && m.Complete(n) {
		n++
	}
	return n
}

func (m PieceMap) CompletePieces() int {
	n := 0
	for i := 0; i < m.NumPieces; i++ {
		if m.Complete(i) {
			n++
		}
	}
	return n
}
