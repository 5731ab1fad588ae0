// Package memsource implements an in-memory pipeline.ReportSource for
// tests and local runs: a fixed queue of pre-built batches plus a
// dedup guard against redelivery, grounded on state/cat.go's
// jellydator/ttlcache/v3 last-seen cache usage.
package memsource

import (
	"context"
	"fmt"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/kestrelnet/tracker/report"
)

// dedupKey identifies a report for redelivery suppression: a sensor
// can legitimately resend the same (sensor, time) pair seconds later
// (e.g. a retried upload), and without a dedup window those resends
// would be silently dropped downstream as stale anyway, but dropping
// them here avoids wasted alignment/association work.
type dedupKey struct {
	sensor report.SensorID
	at     time.Time
}

// Source is a ReportSource over an explicit, ordered list of batches.
// Source does no locking and is not safe for concurrent use, including
// a Push concurrent with GetReports.
type Source struct {
	batches [][]report.Detection
	cursor  int
	seen    *ttlcache.Cache[dedupKey, struct{}]
}

// New returns a Source that yields batches in order, suppressing any
// report seen within dedupWindow of a prior delivery. A zero
// dedupWindow disables suppression.
func New(batches [][]report.Detection, dedupWindow time.Duration) *Source {
	var seen *ttlcache.Cache[dedupKey, struct{}]
	if dedupWindow > 0 {
		seen = ttlcache.New[dedupKey, struct{}](ttlcache.WithTTL[dedupKey, struct{}](dedupWindow))
	}
	return &Source{batches: batches, seen: seen}
}

// Push appends one more batch to the end of the queue, for producers
// that build up input incrementally (e.g. a test driving the pipeline
// one step at a time).
func (s *Source) Push(batch []report.Detection) {
	s.batches = append(s.batches, batch)
}

// GetReports implements pipeline.ReportSource.
func (s *Source) GetReports(ctx context.Context) ([]report.Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("memsource: %w", err)
	}
	if s.cursor >= len(s.batches) {
		return nil, nil
	}
	batch := s.batches[s.cursor]
	s.cursor++

	if s.seen == nil {
		return batch, nil
	}

	out := make([]report.Detection, 0, len(batch))
	for _, d := range batch {
		key := dedupKey{sensor: d.SensorID, at: d.SensorTime}
		if s.seen.Get(key) != nil {
			continue
		}
		s.seen.Set(key, struct{}{}, ttlcache.DefaultTTL)
		out = append(out, d)
	}
	return out, nil
}
