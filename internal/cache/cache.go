// Package cache holds the read-side caches used by reporting.
package cache

import (
	"context"
	"log/slog"
	"time"
)

// Cleaner is implemented by caches that can drop expired entries.
type Cleaner interface {
	CleanExpired() int
}

// Sweeper periodically removes expired entries from registered caches.
type Sweeper struct {
	caches []Cleaner
	logger *slog.Logger
}

func NewSweeper(logger *slog.Logger, caches ...Cleaner) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{caches: caches, logger: logger}
}

// Run blocks until ctx is done, sweeping every interval.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 || len(s.caches) == 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			cleaned := 0
			for _, c := range s.caches {
				cleaned += c.CleanExpired()
			}
			if cleaned > 0 {
				s.logger.Debug("Expired cache entries removed", "count", cleaned)
			}
		case <-ctx.Done():
			return
		}
	}
}
