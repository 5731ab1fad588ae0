// Package align implements the Alignment Processor: splitting an
// arbitrary set of detection reports into successive time-windowed
// cohorts.
package align

import (
	"sort"
	"time"

	"github.com/kestrelnet/tracker/report"
)

// DefaultWindow is the Alignment Processor's default window_duration,
// per spec.md §4.1.
const DefaultWindow = time.Second

// Cohort is a set of reports whose sensor_time values fall within one
// alignment window.
type Cohort []report.Detection

// Processor groups reports into time-aligned cohorts by repeatedly
// draining the earliest window from an internal, time-sorted pool.
// Processor is not safe for concurrent use.
type Processor struct {
	window time.Duration
	pool   []report.Detection
}

// NewProcessor returns a Processor configured with the given window
// duration. A non-positive window falls back to DefaultWindow.
func NewProcessor(window time.Duration) *Processor {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Processor{window: window}
}

// SetReports accepts a new set of reports to align, resetting the
// cursor: any cohorts not yet drained from a prior SetReports call are
// discarded.
func (p *Processor) SetReports(reports []report.Detection) {
	pool := make([]report.Detection, len(reports))
	copy(pool, reports)
	sort.Slice(pool, func(i, j int) bool { return pool[i].Less(pool[j]) })
	p.pool = pool
}

// NextGroup returns the next cohort: every remaining report whose
// sensor_time falls in [t0, t0+window), where t0 is the earliest
// remaining report's sensor_time. Returns an empty, nil cohort once
// the pool is exhausted; calling NextGroup again after that remains
// idempotent (still empty).
func (p *Processor) NextGroup() Cohort {
	if len(p.pool) == 0 {
		return nil
	}
	t0 := p.pool[0].SensorTime
	cut := t0.Add(p.window)

	i := 0
	for i < len(p.pool) && p.pool[i].SensorTime.Before(cut) {
		i++
	}
	cohort := make(Cohort, i)
	copy(cohort, p.pool[:i])
	p.pool = p.pool[i:]
	return cohort
}

// Drain repeatedly calls NextGroup and returns every cohort until
// exhaustion, a convenience for callers (and tests) that want the full
// partition at once.
func (p *Processor) Drain() []Cohort {
	var cohorts []Cohort
	for {
		g := p.NextGroup()
		if len(g) == 0 {
			return cohorts
		}
		cohorts = append(cohorts, g)
	}
}
