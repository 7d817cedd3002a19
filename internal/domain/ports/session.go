package ports

import (
	"context"

	"swarmstream/internal/domain"
)

// SessionRepository persists the latest record of every content id.
type SessionRepository interface {
	Upsert(ctx context.Context, r domain.SessionRecord) error
	Get(ctx context.Context, id domain.ContentID) (domain.SessionRecord, error)
	ListRecent(ctx context.Context, limit int) ([]domain.SessionRecord, error)
	ListByStatus(ctx context.Context, statuses []domain.SessionStatus) ([]domain.SessionRecord, error)
}
