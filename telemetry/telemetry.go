// Package telemetry records the operator-facing signals spec.md §7
// calls out as not-errors-but-countable (stale measurements) alongside
// the error kinds that do warrant a log line, and publishes a typed
// feed of track lifecycle events that callers may subscribe to.
package telemetry

import (
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/event"

	"github.com/kestrelnet/tracker/track"
)

// EventKind tags a lifecycle Event, mirroring assoc/comparator.go's
// closed-set-with-dispatch style rather than open polymorphism.
type EventKind int

const (
	EventBirth EventKind = iota
	EventRefresh
	EventExpire
	EventDegenerate
)

func (k EventKind) String() string {
	switch k {
	case EventBirth:
		return "birth"
	case EventRefresh:
		return "refresh"
	case EventExpire:
		return "expire"
	case EventDegenerate:
		return "degenerate"
	default:
		return "unknown"
	}
}

// Event is one track lifecycle transition, emitted on Feed.
type Event struct {
	Kind    EventKind
	TrackID track.ID
	At      time.Time
}

// Feed is a typed pub/sub of lifecycle Events, mirroring
// events/events.go's package-level event.FeedOf convention, scoped to
// one Recorder instance instead of a package var so tests can isolate
// subscriptions.
type Feed struct {
	feed event.FeedOf[Event]
}

// Subscribe registers ch to receive future Events. Callers must drain
// ch or cancel the returned Subscription; Send blocks a slow feed like
// any other go-ethereum event.Feed.
func (f *Feed) Subscribe(ch chan<- Event) event.Subscription {
	return f.feed.Subscribe(ch)
}

func (f *Feed) emit(e Event) {
	f.feed.Send(e)
}

// Recorder is the interface pipeline.Driver and its components record
// telemetry through. Implementations must not block the caller for
// long: the pipeline is logically single-threaded and a slow Recorder
// stalls the whole loop.
type Recorder interface {
	StaleMeasurement(id track.ID)
	BadInput(stage string, err error)
	FilterDegenerate(id track.ID)
	Birth(id track.ID)
	Refresh(id track.ID)
	Expire(id track.ID)
}

// Stats is a point-in-time read of Counters' tallies.
type Stats struct {
	StaleMeasurements uint64
	BadInputs         uint64
	FilterDegenerate  uint64
}

// Counters is the default Recorder: atomic counters plus a component
// logger, following common/slog.go's "one logger per component" style
// (slog.Default().With(...), no custom framework), and an optional
// Feed consumers can subscribe to.
type Counters struct {
	Feed *Feed

	logger *slog.Logger

	stale      atomic.Uint64
	badInput   atomic.Uint64
	degenerate atomic.Uint64
}

// NewCounters returns a Counters with a fresh Feed and the package's
// default component logger.
func NewCounters() *Counters {
	return &Counters{
		Feed:   &Feed{},
		logger: slog.Default().With("component", "telemetry"),
	}
}

func (c *Counters) StaleMeasurement(id track.ID) {
	c.stale.Add(1)
	c.logger.Debug("stale measurement dropped", "track", id)
}

func (c *Counters) BadInput(stage string, err error) {
	c.badInput.Add(1)
	c.logger.Warn("bad input rejected", "stage", stage, "error", err)
}

func (c *Counters) FilterDegenerate(id track.ID) {
	c.degenerate.Add(1)
	c.logger.Warn("filter degenerate, track marked unhealthy", "track", id)
	c.Feed.emit(Event{Kind: EventDegenerate, TrackID: id, At: time.Now()})
}

func (c *Counters) Birth(id track.ID) {
	c.logger.Debug("track born", "track", id)
	c.Feed.emit(Event{Kind: EventBirth, TrackID: id, At: time.Now()})
}

func (c *Counters) Refresh(id track.ID) {
	c.Feed.emit(Event{Kind: EventRefresh, TrackID: id, At: time.Now()})
}

func (c *Counters) Expire(id track.ID) {
	c.logger.Debug("track expired", "track", id)
	c.Feed.emit(Event{Kind: EventExpire, TrackID: id, At: time.Now()})
}

// Snapshot returns a point-in-time read of the counters.
func (c *Counters) Snapshot() Stats {
	return Stats{
		StaleMeasurements: c.stale.Load(),
		BadInputs:         c.badInput.Load(),
		FilterDegenerate:  c.degenerate.Load(),
	}
}

// ResetLevel temporarily overrides the default slog level, mirroring
// common/slog.go's SlogResetLevel. Intended for deferred use in tests
// that need to quiet or raise verbosity for one case.
func ResetLevel(level slog.Level) (reset func()) {
	oldLevel := slog.SetLogLoggerLevel(level)
	return func() {
		slog.SetLogLoggerLevel(oldLevel)
	}
}
