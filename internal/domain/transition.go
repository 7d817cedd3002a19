package domain

import "errors"

var ErrInvalidTransition = errors.New("invalid state transition")

// validTransitions defines the adjacency list of allowed status transitions.
// Stopped and Error have no outgoing edges: a retry creates a new session.
var validTransitions = map[SessionStatus][]SessionStatus{
	StatusConnecting:  {StatusDownloading, StatusError, StatusStopped},
	StatusDownloading: {StatusReady, StatusError, StatusStopped},
	StatusReady:       {StatusStreaming, StatusError, StatusStopped},
	StatusStreaming:   {StatusError, StatusStopped},
}

// CanTransition reports whether a transition from one status to another is valid.
func CanTransition(from, to SessionStatus) bool {
	for _, t := range validTransitions[from] {
		if t == to {
			return true
		}
	}
	return false
}
