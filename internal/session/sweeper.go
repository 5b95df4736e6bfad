// ABOUTME: Background worker that expires idle sessions on a fixed interval
// ABOUTME: Lazy expiry on access covers the gap between sweeps

package session

import (
	"context"
	"time"
)

// StartSweeper runs a background goroutine that periodically expires idle
// sessions until ctx is canceled. The returned channel closes when it exits.
func (s *Store) StartSweeper(ctx context.Context, interval time.Duration) <-chan struct{} {
	done := make(chan struct{})
	if interval <= 0 || s.idleTimeout <= 0 {
		close(done)
		return done
	}

	ticker := time.NewTicker(interval)
	go func() {
		defer close(done)
		defer ticker.Stop()
		s.logger.Info("session sweeper started", "interval", interval, "idle_timeout", s.idleTimeout)

		for {
			select {
			case <-ticker.C:
				n, err := s.ExpireIdle(ctx)
				if err != nil {
					s.logger.Error("session sweep failed", "error", err)
					continue
				}
				if n > 0 {
					s.logger.Info("expired idle sessions", "count", n)
				}
			case <-ctx.Done():
				s.logger.Info("session sweeper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
	return done
}
