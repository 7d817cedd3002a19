package domain

type SessionStatus string

const (
	StatusConnecting  SessionStatus = "connecting"
	StatusDownloading SessionStatus = "downloading"
	StatusReady       SessionStatus = "ready"
	StatusStreaming   SessionStatus = "streaming"
	StatusStopped     SessionStatus = "stopped"
	StatusError       SessionStatus = "error"
)

// IsTerminal reports whether no further transition can leave the status.
func (s SessionStatus) IsTerminal() bool {
	return s == StatusStopped || s == StatusError
}

// IsPlayable reports whether a session in this status holds a stream handle.
// Ready and Streaming form one superstate; they differ only in presentation.
func (s SessionStatus) IsPlayable() bool {
	return s == StatusReady || s == StatusStreaming
}
