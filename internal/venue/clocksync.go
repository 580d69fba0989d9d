package venue

import (
	"context"
	"time"

	"signalbot/internal/core"
)

// ClockSync periodically corrects the local/venue clock offset. It never
// touches trading state.
type ClockSync struct {
	venue    core.IVenue
	interval time.Duration
	timeout  time.Duration
	logger   core.ILogger
}

// NewClockSync creates a syncer running every interval
func NewClockSync(venue core.IVenue, interval time.Duration, logger core.ILogger) *ClockSync {
	if interval <= 0 {
		interval = 3 * time.Minute
	}
	return &ClockSync{
		venue:    venue,
		interval: interval,
		timeout:  10 * time.Second,
		logger:   logger.WithField("component", "clock_sync"),
	}
}

// Run syncs immediately and then on every interval until ctx is done
func (s *ClockSync) Run(ctx context.Context) error {
	s.logger.Info("Starting clock sync", "interval", s.interval)

	s.SyncOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Clock sync stopped")
			return nil
		case <-ticker.C:
			s.SyncOnce(ctx)
		}
	}
}

// SyncOnce performs one sync. Failures are logged; the next tick retries.
func (s *ClockSync) SyncOnce(ctx context.Context) {
	syncCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	offset, err := s.venue.SyncTime(syncCtx)
	if err != nil {
		s.logger.Warn("Clock sync failed", "error", err)
		return
	}
	s.logger.Debug("Clock synced", "offset_ms", offset.Milliseconds())
}
