package usecase

import (
	"context"

	"swarmstream/internal/domain"
	"swarmstream/internal/domain/ports"
)

const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 500
)

type ListHistory struct {
	Repo ports.SessionRepository
}

func (uc ListHistory) Execute(ctx context.Context, limit int) ([]domain.SessionRecord, error) {
	switch {
	case limit <= 0:
		limit = DefaultHistoryLimit
	case limit > MaxHistoryLimit:
		limit = MaxHistoryLimit
	}
	records, err := uc.Repo.ListRecent(ctx, limit)
	if err != nil {
		return nil, wrapRepo(err)
	}
	return records, nil
}
