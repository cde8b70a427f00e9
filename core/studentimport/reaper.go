package studentimport

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"

	"github.com/Incrisz/school-nextjs-sub002/core"
)

// Reaper expires staged batches on a fixed interval.
type Reaper struct {
	svc      *Service
	interval time.Duration
	logger   core.Logger

	// OnReap, if set, is called with the number of batches expired by each successful tick.
	OnReap func(n int)
}

func NewReaper(svc *Service, interval time.Duration, logger core.Logger) *Reaper {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Reaper{svc: svc, interval: interval, logger: logger}
}

// Run blocks until ctx is done. A failing tick is logged and the loop goes on.
func (r *Reaper) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		n, err := r.svc.ReapExpired(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			r.logger.Warn(fmt.Sprintf("reaping expired batches: %v", err), err)
			continue
		}
		if n > 0 {
			r.logger.Info(fmt.Sprintf("%d import batch(es) expired", n))
		}
		if r.OnReap != nil {
			r.OnReap(n)
		}
	}
}
