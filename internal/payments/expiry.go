package payments

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/chetannagda/payswift-backend/internal/domain"
)

// ExpirePending fails every PENDING transaction whose code deadline has
// passed and returns how many it moved.
func (s *Service) ExpirePending(ctx context.Context) (int, error) {
	due, err := s.store.ListExpiredPending(ctx, s.now())
	if err != nil {
		return 0, err
	}

	n := 0
	for _, t := range due {
		if _, err := s.fail(ctx, t, ReasonExpired); err != nil {
			// Settled or cancelled since the listing.
			if errors.Is(err, domain.ErrInvalidState) {
				continue
			}
			return n, err
		}
		n++
	}
	return n, nil
}

// RunExpiry calls ExpirePending every interval until ctx is done.
func (s *Service) RunExpiry(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.ExpirePending(ctx)
			if err != nil {
				s.logger.ErrorContext(ctx, "expire pending transactions", slog.Any("error", err))
				continue
			}
			if n > 0 {
				s.logger.InfoContext(ctx, "expired pending transactions", slog.Int("count", n))
			}
		}
	}
}
