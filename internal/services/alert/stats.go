package alert

import (
	"sync/atomic"

	"github.com/vadiminshakov/vigil/internal/domain"
)

// Stats carries the pipeline counters shared between the gate and the
// dispatcher.
type Stats struct {
	TotalGenerated   atomic.Int64
	FilteredOut      atomic.Int64
	SentSuccessfully atomic.Int64
	DeliveryFailures atomic.Int64
	CooldownBlocks   atomic.Int64
	RateLimitBlocks  atomic.Int64
}

// NewStats creates an empty counter set.
func NewStats() *Stats {
	return &Stats{}
}

// Snapshot returns a point-in-time copy of the counters.
func (s *Stats) Snapshot() domain.AlertStatistics {
	return domain.AlertStatistics{
		TotalGenerated:   s.TotalGenerated.Load(),
		FilteredOut:      s.FilteredOut.Load(),
		SentSuccessfully: s.SentSuccessfully.Load(),
		DeliveryFailures: s.DeliveryFailures.Load(),
		CooldownBlocks:   s.CooldownBlocks.Load(),
		RateLimitBlocks:  s.RateLimitBlocks.Load(),
	}
}
