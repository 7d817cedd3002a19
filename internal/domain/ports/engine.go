package ports

import (
	"context"

	"swarmstream/internal/domain"
)

// SwarmEngine is the peer-to-peer collaborator the session manager drives.
// One engine connection is shared by every session in the process.
type SwarmEngine interface {
	// Join begins peer discovery and metadata fetch for a locator.
	Join(ctx context.Context, locator domain.Locator) (Transfer, error)
	// Destroy releases all engine-side resources of a transfer. The manager
	// calls it exactly once per successful Join.
	Destroy(t Transfer) error
	Close() error
}

// Transfer is one joined swarm resource.
type Transfer interface {
	// Events delivers ready/progress/error notifications in order. The channel
	// is closed once the transfer has been destroyed.
	Events() <-chan domain.SwarmEvent
	// SelectFile makes the engine download the file prefix-first and report
	// file-level progress from then on.
	SelectFile(file domain.FileRef) error
	NewReader(file domain.FileRef) (StreamReader, error)
}
