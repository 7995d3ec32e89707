package sweeper

import (
	"context"
	"time"

	"github.com/nkiryanov/weatherapi/internal/logger"
)

const defaultInterval = 10 * time.Minute

type tokenManager interface {
	DeleteExpired(ctx context.Context) (int64, error)
}

// Sweeper periodically removes expired refresh tokens
// Expired tokens are useless anyway, they are removed only to keep the table small
type Sweeper struct {
	interval     time.Duration
	tokenManager tokenManager
	logger       logger.Logger
}

func New(interval time.Duration, tokenManager tokenManager, l logger.Logger) *Sweeper {
	if interval <= 0 {
		interval = defaultInterval
	}
	if l == nil {
		l = logger.NewNoOpLogger()
	}

	return &Sweeper{
		interval:     interval,
		tokenManager: tokenManager,
		logger:       l,
	}
}

// Start sweeping in background until context is done
// Returned channel is closed when sweeper stopped
func (s *Sweeper) Sweep(ctx context.Context) <-chan struct{} {
	idleStopped := make(chan struct{})
	s.logger.Debug("Starting sweeper", "interval", s.interval)

	go func() {
		defer close(idleStopped)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				s.logger.Debug("Sweeper stopped by context")
				return

			case <-ticker.C:
				count, err := s.tokenManager.DeleteExpired(ctx)
				if err != nil {
					s.logger.Error("Failed to delete expired refresh tokens", "error", err)
					continue
				}
				if count > 0 {
					s.logger.Info("Expired refresh tokens deleted", "count", count)
				}
			}
		}
	}()

	return idleStopped
}
