// Package sweeper periodically rejects disclosure requests that outlived
// their deadline.
package sweeper

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Expirer is satisfied by the disclosure service.
type Expirer interface {
	ExpireStale(ctx context.Context, limit int) (int, error)
}

const batchSize = 100

// Run blocks until ctx is done, sweeping every interval.
func Run(ctx context.Context, expirer Expirer, interval time.Duration, log *zap.Logger) {
	if interval <= 0 {
		return
	}
	if log == nil {
		log = zap.NewNop()
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			Sweep(ctx, expirer, log)
		}
	}
}

// Sweep expires stale requests in batches until a batch comes back short.
func Sweep(ctx context.Context, expirer Expirer, log *zap.Logger) int {
	total := 0
	for {
		n, err := expirer.ExpireStale(ctx, batchSize)
		total += n
		if err != nil {
			log.Error("expire stale requests", zap.Error(err))
			return total
		}
		if n < batchSize {
			break
		}
	}
	if total > 0 {
		log.Info("expired disclosure requests", zap.Int("count", total))
	}
	return total
}
