package domain

import (
	"errors"
	"fmt"
)

var ErrNotFound = errors.New("not found")

var (
	ErrNoContentID       = errors.New("content id is required")
	ErrNoLocator         = errors.New("no usable locator")
	ErrNoPlayableFile    = errors.New("no playable file in swarm metadata")
	ErrConnectionTimeout = errors.New("connection timeout")
	ErrTransport         = errors.New("transport error")
	ErrAlreadyStopped    = errors.New("session already stopped")
	ErrSessionStopped    = errors.New("session stopped")
	ErrShutdown          = errors.New("session manager shut down")
	ErrNotPlayable       = errors.New("session not playable")
)

// ErrorKind is the stable, machine-readable classification of a session
// failure. It is what snapshots, metrics labels and HTTP payloads carry.
type ErrorKind string

const (
	KindNone              ErrorKind = ""
	KindInvalidRequest    ErrorKind = "invalid_request"
	KindNoLocator         ErrorKind = "no_locator"
	KindNoPlayableFile    ErrorKind = "no_playable_file"
	KindConnectionTimeout ErrorKind = "connection_timeout"
	KindTransport         ErrorKind = "transport_error"
	KindAlreadyStopped    ErrorKind = "already_stopped"
	KindStopped           ErrorKind = "stopped"
	KindShutdown          ErrorKind = "shutdown"
	KindNotFound          ErrorKind = "not_found"
	KindInternal          ErrorKind = "internal"
)

// TransportError wraps an engine-reported failure reason.
func TransportError(reason string) error {
	if reason == "" {
		reason = "unknown"
	}
	return fmt.Errorf("%w: %s", ErrTransport, reason)
}

func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrNoContentID):
		return KindInvalidRequest
	case errors.Is(err, ErrNoLocator):
		return KindNoLocator
	case errors.Is(err, ErrNoPlayableFile):
		return KindNoPlayableFile
	case errors.Is(err, ErrConnectionTimeout):
		return KindConnectionTimeout
	case errors.Is(err, ErrTransport):
		return KindTransport
	case errors.Is(err, ErrAlreadyStopped):
		return KindAlreadyStopped
	case errors.Is(err, ErrSessionStopped):
		return KindStopped
	case errors.Is(err, ErrShutdown):
		return KindShutdown
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	default:
		return KindInternal
	}
}
