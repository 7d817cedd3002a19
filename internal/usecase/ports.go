package usecase

import "swarmstream/internal/domain"

// SessionFeed delivers session snapshots as they change.
type SessionFeed interface {
	Subscribe(buffer int) (<-chan domain.SessionSnapshot, func())
}

// SessionStarter starts a session without waiting for it to become ready.
type SessionStarter interface {
	Start(id domain.ContentID, locator domain.Locator) (domain.SessionSnapshot, error)
}
