package domain

import (
	"errors"
	"time"
)

// SessionRecord is the persisted history entry of a content id's latest
// streaming attempt.
type SessionRecord struct {
	ContentID ContentID     `json:"contentId"`
	Locator   Locator       `json:"locator"`
	Status    SessionStatus `json:"status"`
	Progress  float64       `json:"progress"`
	File      *FileRef      `json:"file,omitempty"`
	ErrorKind ErrorKind     `json:"errorKind,omitempty"`
	Error     string        `json:"error,omitempty"`
	CreatedAt time.Time     `json:"createdAt"`
	UpdatedAt time.Time     `json:"updatedAt"`
	ReadyAt   *time.Time    `json:"readyAt,omitempty"`
}

func RecordFromSnapshot(s SessionSnapshot) SessionRecord {
	return SessionRecord{
		ContentID: s.ContentID,
		Locator:   s.Locator,
		Status:    s.Status,
		Progress:  s.Progress,
		File:      s.File,
		ErrorKind: s.ErrorKind,
		Error:     s.Error,
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
		ReadyAt:   s.ReadyAt,
	}
}

// Validate checks domain invariants for SessionRecord.
func (r SessionRecord) Validate() error {
	if r.ContentID == "" {
		return errors.New("content id is required")
	}
	if r.Progress < 0 || r.Progress > 100 {
		return errors.New("progress must be within 0..100")
	}
	switch r.Status {
	case StatusConnecting, StatusDownloading, StatusReady, StatusStreaming, StatusStopped, StatusError:
		// valid
	case "":
		return errors.New("status is required")
	default:
		return errors.New("invalid status: " + string(r.Status))
	}
	if r.Status == StatusError && r.ErrorKind == KindNone {
		return errors.New("error records need an error kind")
	}
	return nil
}
