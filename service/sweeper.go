package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/quorumdao/gatehouse/ports"
)

// DefaultSweepInterval is how often expired credentials are purged.
const DefaultSweepInterval = 12 * time.Hour

// Sweeper periodically purges expired credentials from the store. A missed
// or failed sweep costs nothing but rows: expired credentials are rejected
// structurally regardless.
type Sweeper struct {
	creds    ports.CredentialStore
	interval time.Duration
	log      *slog.Logger
	now      func() time.Time
}

// NewSweeper creates a sweeper with the given interval (DefaultSweepInterval
// when zero).
func NewSweeper(creds ports.CredentialStore, interval time.Duration, log *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if log == nil {
		log = slog.Default()
	}

	return &Sweeper{
		creds:    creds,
		interval: interval,
		log:      log,
		now:      time.Now,
	}
}

// Run sweeps once immediately, then on every interval tick until ctx is
// cancelled. Failures are logged and retried on the next tick.
func (s *Sweeper) Run(ctx context.Context) {
	s.SweepOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce performs a single purge pass.
func (s *Sweeper) SweepOnce(ctx context.Context) {
	count, err := s.creds.DeleteExpired(ctx, s.now())
	if err != nil {
		s.log.Error("credential sweep failed", "err", err)
		return
	}
	if count > 0 {
		s.log.Info("purged expired credentials", "count", count)
	}
}
