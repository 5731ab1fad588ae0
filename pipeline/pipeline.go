// Package pipeline implements the Data Manager: the top-level driver
// that repeatedly pulls batches of detection reports from a
// ReportSource, drains the Alignment Processor into cohorts, and for
// each cohort runs select -> associate -> birth -> fuse -> publish,
// per spec.md §2 and grounded on
// original_source/src/Model/datamanager.cpp's compute() loop.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/kestrelnet/tracker/align"
	"github.com/kestrelnet/tracker/assoc"
	"github.com/kestrelnet/tracker/filter"
	"github.com/kestrelnet/tracker/fuse"
	"github.com/kestrelnet/tracker/grouping"
	"github.com/kestrelnet/tracker/report"
	"github.com/kestrelnet/tracker/snapshot"
	"github.com/kestrelnet/tracker/telemetry"
	"github.com/kestrelnet/tracker/track"
	"github.com/kestrelnet/tracker/trackmgr"
)

// ErrCancelled is returned by Run when ctx is cancelled between
// batches or cohorts, per spec.md §5's cooperative-cancel contract.
var ErrCancelled = errors.New("pipeline: cancelled")

// ReportSource is the Report Source external collaborator (spec.md
// §6): a blocking pull of the next batch of reports, returning an
// empty, nil-error batch once the stream is drained.
type ReportSource interface {
	GetReports(ctx context.Context) ([]report.Detection, error)
}

// Config parameterizes a Driver. Every field corresponds to one of
// spec.md §6's enumerated configuration keys (Window <-
// alignment.window_ms, AssocThreshold <- association.threshold, and so
// on); FilterConfig and Selector carry the matrix/road-graph shaped
// values that don't fit a scalar config key.
type Config struct {
	Window               time.Duration
	TrackTTL             time.Duration
	FeatureTTLRefreshes  uint64
	AssocThreshold       float64
	AssocResultComparator assoc.ResultComparator
	AssocListComparator  assoc.ListComparator
	FilterConfig         filter.Config
	Selector             grouping.Selector
	Recorder             telemetry.Recorder
}

// Driver orchestrates the pipeline components described in spec.md
// §2's table. Driver is not safe for concurrent use: per spec.md §5 it
// runs single-threaded and logically sequential per batch; the only
// structure it touches that is safe for concurrent access is the
// snapshot Publisher.
type Driver struct {
	source ReportSource

	align      *align.Processor
	selector   grouping.Selector
	associator *assoc.Associator
	manager    *trackmgr.Manager
	publisher  *snapshot.Publisher

	filterPrototype *filter.Kalman
	rec             telemetry.Recorder
	logger          *slog.Logger

	lastObserved time.Time
	batches      uint64
	cohorts      uint64
}

// NewDriver wires a Driver from source and cfg, constructing its own
// Associator, Manager, filter prototype and Publisher. cfg.Selector
// must be non-nil; cfg.TrackTTL must be positive (spec.md §9's Open
// Question 1: there is no implicit default).
func NewDriver(source ReportSource, cfg Config) (*Driver, error) {
	if cfg.Selector == nil {
		return nil, fmt.Errorf("pipeline: Config.Selector is required")
	}
	if err := cfg.FilterConfig.Validate(); err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	f, err := filter.New(cfg.FilterConfig)
	if err != nil {
		return nil, fmt.Errorf("pipeline: building filter prototype: %w", err)
	}
	mgr, err := trackmgr.New(cfg.TrackTTL, cfg.FeatureTTLRefreshes)
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}

	return &Driver{
		source:          source,
		align:           align.NewProcessor(cfg.Window),
		selector:        cfg.Selector,
		associator:      assoc.New(cfg.AssocResultComparator, cfg.AssocListComparator, cfg.AssocThreshold),
		manager:         mgr,
		publisher:       snapshot.NewPublisher(),
		filterPrototype: f,
		rec:             cfg.Recorder,
		logger:          slog.Default().With("component", "pipeline"),
	}, nil
}

// Snapshots returns the Driver's Publisher, the sole structure a
// concurrent reader may touch while Run is in flight.
func (d *Driver) Snapshots() *snapshot.Publisher {
	return d.publisher
}

// Tracks returns the manager's live, uncloned track set. Intended for
// tests and diagnostics run from the same goroutine as Run; concurrent
// callers must use Snapshots instead.
func (d *Driver) Tracks() []*track.Track {
	return d.manager.Tracks()
}

// Run drives the pipeline to completion: it pulls batches from the
// ReportSource until one comes back empty (end-of-input, spec.md §7's
// empty-batch "not an error"), processing every cohort of every batch
// in between. ctx is checked for cancellation between batches and
// between cohorts (spec.md §5); a cancelled cohort has not yet begun,
// so no partial association can leak into the Track Manager.
func (d *Driver) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return ErrCancelled
		}

		batch, err := d.source.GetReports(ctx)
		if err != nil {
			return fmt.Errorf("pipeline: report source: %w", err)
		}
		if len(batch) == 0 {
			d.logger.Info("report source drained", "batches", d.batches, "cohorts", d.cohorts)
			return nil
		}
		d.batches++

		if err := report.ValidateAll(batch); err != nil {
			if d.rec != nil {
				d.rec.BadInput("intake", err)
			}
			d.logger.Warn("rejected batch at intake", "size", len(batch), "error", err)
			continue
		}

		d.align.SetReports(batch)
		for {
			if err := ctx.Err(); err != nil {
				return ErrCancelled
			}
			cohort := d.align.NextGroup()
			if len(cohort) == 0 {
				break
			}
			d.cohorts++
			if err := d.processCohort(cohort); err != nil {
				if d.rec != nil {
					d.rec.BadInput("cohort", err)
				}
				d.logger.Warn("rejected cohort", "size", len(cohort), "error", err)
				continue
			}
		}

		d.logger.Debug("batch processed",
			"size", humanize.Comma(int64(len(batch))),
			"last_observed", humanize.Time(d.lastObserved))
	}
}

// processCohort runs select -> associate -> birth -> fuse -> publish
// for one cohort. It either commits the cohort to the Track Manager in
// full or returns an error without having mutated it, per spec.md §5's
// all-or-nothing cohort commitment (the component calls below are all
// synchronous, non-suspending and fail before mutating state other
// than the Manager itself, so a returned error here only ever comes
// from grouping.Selector.Select or trackmgr.Manager.InitializeTracks,
// both of which run entirely before any track is touched).
func (d *Driver) processCohort(cohort align.Cohort) error {
	groups, err := d.selector.Select([]report.Detection(cohort))
	if err != nil {
		return err
	}

	d.associator.SetInput(groups, d.manager.Tracks())
	assigned := d.associator.TracksToReports()
	unassociated := d.associator.Unassociated()

	born, err := d.manager.InitializeTracks(unassociated, track.KindGeneric, d.filterPrototype, d.rec)
	if err != nil {
		return err
	}

	fuse.Apply(assigned, d.manager, d.rec)
	fuse.Apply(born, d.manager, d.rec)

	for _, dr := range cohort {
		if dr.SensorTime.After(d.lastObserved) {
			d.lastObserved = dr.SensorTime
		}
	}
	d.manager.Expire(d.lastObserved, d.rec)
	d.publisher.Publish(d.manager.Tracks(), d.lastObserved)
	return nil
}
