package invite

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper periodically persists expirado for overdue pendente invitations so that
// the ledger reflects expiry even for tokens nobody validates again.
type Sweeper struct {
	Service  *Service
	Interval time.Duration
	Limit    int
	Logger   *slog.Logger

	// OnSweep, when set, receives the number of rows moved by each pass.
	OnSweep func(n int)
}

// Run sweeps every Interval until ctx is done. A pass that fills Limit is repeated
// immediately so a backlog drains without waiting for the next tick.
func (sw *Sweeper) Run(ctx context.Context) {
	if sw == nil || sw.Service == nil || sw.Interval <= 0 {
		return
	}
	logger := sw.Logger
	if logger == nil {
		logger = slog.Default()
	}
	limit := sw.Limit
	if limit <= 0 {
		limit = defaultSweepLimit
	}

	ticker := time.NewTicker(sw.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		for {
			n, err := sw.Service.SweepExpired(ctx, time.Now(), limit)
			if err != nil {
				if ctx.Err() == nil {
					logger.Error("invite.sweep.fail", "err", err)
				}
				break
			}
			if sw.OnSweep != nil {
				sw.OnSweep(n)
			}
			if n > 0 {
				logger.Info("invite.sweep.expired", "count", n)
			}
			if n < limit {
				break
			}
		}
	}
}
