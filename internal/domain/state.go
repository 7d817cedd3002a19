package domain

import "time"

// StreamHandle references the seekable byte source of a playable session.
// It is minted once, on entering Ready, and never changes afterwards.
type StreamHandle struct {
	ID        string    `json:"id"`
	ContentID ContentID `json:"contentId"`
	File      FileRef   `json:"file"`
}

func (h StreamHandle) IsZero() bool {
	return h.ID == ""
}

type SessionSnapshot struct {
	ContentID    ContentID     `json:"contentId"`
	Locator      Locator       `json:"locator"`
	Status       SessionStatus `json:"status"`
	Progress     float64       `json:"progress"`
	DownloadRate int64         `json:"downloadRate"`
	UploadRate   int64         `json:"uploadRate"`
	Peers        int           `json:"peers"`
	Complete     bool          `json:"complete"`
	File         *FileRef      `json:"file,omitempty"`
	Handle       *StreamHandle `json:"handle,omitempty"`
	Error        string        `json:"error,omitempty"`
	ErrorKind    ErrorKind     `json:"errorKind,omitempty"`
	CreatedAt    time.Time     `json:"createdAt"`
	UpdatedAt    time.Time     `json:"updatedAt"`
	ReadyAt      *time.Time    `json:"readyAt,omitempty"`
}
