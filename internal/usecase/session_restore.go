package usecase

import (
	"context"
	"errors"
	"log/slog"

	"swarmstream/internal/domain"
	"swarmstream/internal/domain/ports"
)

var liveStatuses = []domain.SessionStatus{
	domain.StatusConnecting,
	domain.StatusDownloading,
	domain.StatusReady,
	domain.StatusStreaming,
}

// RestoreSessions restarts the sessions that were live when the process
// last stopped.
type RestoreSessions struct {
	Repo     ports.SessionRepository
	Sessions SessionStarter
	Logger   *slog.Logger
}

func (uc RestoreSessions) Execute(ctx context.Context) (int, error) {
	logger := uc.Logger
	if logger == nil {
		logger = slog.Default()
	}

	records, err := uc.Repo.ListByStatus(ctx, liveStatuses)
	if err != nil {
		return 0, wrapRepo(err)
	}

	restored := 0
	for _, record := range records {
		if err := ctx.Err(); err != nil {
			return restored, err
		}
		if err := record.Locator.Validate(); err != nil {
			logger.Warn("restore: skipping record without locator",
				slog.String("contentId", string(record.ContentID)),
			)
			continue
		}
		if _, err := uc.Sessions.Start(record.ContentID, record.Locator); err != nil {
			if errors.Is(err, domain.ErrShutdown) {
				return restored, wrapEngine(err)
			}
			logger.Warn("restore: start session failed",
				slog.String("contentId", string(record.ContentID)),
				slog.String("error", err.Error()),
			)
			continue
		}
		restored++
	}
	return restored, nil
}
