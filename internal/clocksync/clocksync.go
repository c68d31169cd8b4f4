// Package clocksync maintains the signed offset between local time and a
// venue's server time (§4.6). The offset is a single atomic value; the
// only writers are the periodic resync routine and the TIMESTAMP_SKEW
// retry path (§5 "Shared-resource policy").
package clocksync

import (
	"context"
	"sync/atomic"
	"time"

	"gridbot/internal/core"
)

// RecvWindow is the fixed recvWindow (§4.6) every signed request declares.
const RecvWindow = 5000 * time.Millisecond

// ServerTimeFunc returns the venue's current server time.
type ServerTimeFunc func(ctx context.Context) (time.Time, error)

// Sync tracks offset = venueServerTime - localTime for one venue.
type Sync struct {
	offsetMillis atomic.Int64
	lastSynced   atomic.Int64 // unix nanos

	venue      string
	serverTime ServerTimeFunc
	logger     core.Logger
	metrics    clockMetrics
}

// clockMetrics is the subset of telemetry.MetricsHolder this package uses,
// kept as an interface so tests don't need to wire the whole OTel stack.
type clockMetrics interface {
	SetClockOffset(venue string, millis float64)
}

type noopMetrics struct{}

func (noopMetrics) SetClockOffset(string, float64) {}

// New builds a Sync for one venue. metrics may be nil to skip recording.
func New(venue string, serverTime ServerTimeFunc, logger core.Logger, metrics clockMetrics) *Sync {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &Sync{venue: venue, serverTime: serverTime, logger: logger.With("component", "clock_sync", "venue", venue), metrics: metrics}
}

// Offset returns the current signed offset.
func (s *Sync) Offset() time.Duration {
	return time.Duration(s.offsetMillis.Load()) * time.Millisecond
}

// Now returns localTime + offset, the timestamp every signed request uses.
func (s *Sync) Now() time.Time {
	return time.Now().Add(s.Offset())
}

// Resync fetches the venue's server time and recomputes the offset.
func (s *Sync) Resync(ctx context.Context) error {
	start := time.Now()
	serverTime, err := s.serverTime(ctx)
	if err != nil {
		return err
	}
	// Attribute half the round trip to each leg, matching the teacher's
	// venue-latency-aware offset convention.
	roundTrip := time.Since(start)
	localMid := start.Add(roundTrip / 2)

	offset := serverTime.Sub(localMid)
	s.offsetMillis.Store(offset.Milliseconds())
	s.lastSynced.Store(time.Now().UnixNano())
	s.metrics.SetClockOffset(s.venue, float64(offset.Milliseconds()))
	s.logger.Debug("clock resynced", "offset_ms", offset.Milliseconds())
	return nil
}

// LastSynced is when Resync last succeeded.
func (s *Sync) LastSynced() time.Time {
	nanos := s.lastSynced.Load()
	if nanos == 0 {
		return time.Time{}
	}
	return time.Unix(0, nanos)
}

// Run resyncs every interval until ctx is cancelled, implementing the
// engine's Runner shape (§5 "process lifecycle").
func (s *Sync) Run(ctx context.Context, interval time.Duration) error {
	if err := s.Resync(ctx); err != nil {
		s.logger.Warn("initial clock resync failed", "error", err)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.Resync(ctx); err != nil {
				s.logger.Warn("periodic clock resync failed", "error", err)
			}
		}
	}
}
