package ledger

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper periodically expires stale ACTIVE reservations so a crashed or
// lost call cannot lock balance forever.
type Sweeper struct {
	svc      *Service
	interval time.Duration
	log      *slog.Logger
}

func NewSweeper(svc *Service, interval time.Duration, log *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	if log == nil {
		log = slog.Default()
	}
	return &Sweeper{svc: svc, interval: interval, log: log}
}

// Run sweeps until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			n, err := s.svc.ExpireStale(ctx, now.UTC())
			if err != nil {
				s.log.Error("reservation sweep failed", "err", err)
				continue
			}
			if n > 0 {
				s.log.Info("reservation sweep", "expired", n)
			}
		}
	}
}
