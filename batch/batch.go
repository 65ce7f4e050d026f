// Package batch drives tile generation for image records: one image on
// demand, or every image still lacking tiles.
package batch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"

	"github.com/eak1mov/orthotiles/geo"
	"github.com/eak1mov/orthotiles/internal/metrics"
	"github.com/eak1mov/orthotiles/progress"
	"github.com/eak1mov/orthotiles/pyramid"
	"github.com/eak1mov/orthotiles/raster"
	"github.com/eak1mov/orthotiles/record"
	"github.com/eak1mov/orthotiles/tile"
	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

var ErrStaleUnsupported = errors.New("orthotiles: record gateway cannot list stale images")

// Builder is the part of *pyramid.Builder used by the orchestrator.
type Builder interface {
	GenerateFromImage(ctx context.Context, sources raster.Locator, sourcePath string, bounds geo.Bounds, imageID int64, onProgress progress.Func) (pyramid.Result, error)
}

// Outcome classifies how one image was handled.
type Outcome int

const (
	OutcomeCompleted Outcome = iota
	OutcomeFailed
	OutcomeSkippedHasTiles
	OutcomeSkippedMissingSource
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCompleted:
		return "completed"
	case OutcomeFailed:
		return "failed"
	case OutcomeSkippedHasTiles:
		return "skipped_has_tiles"
	case OutcomeSkippedMissingSource:
		return "skipped_missing_source"
	}
	return "Outcome(" + strconv.Itoa(int(o)) + ")"
}

func (o Outcome) Skipped() bool {
	return o == OutcomeSkippedHasTiles || o == OutcomeSkippedMissingSource
}

// Report describes the processing of a single image.
type Report struct {
	ImageID int64
	Outcome Outcome
	Result  pyramid.Result
	// Err is the build failure when Outcome is OutcomeFailed.
	Err     error
	Elapsed time.Duration
}

// Summary aggregates a migration run.
type Summary struct {
	RunID     string
	Processed int
	Completed int
	Failed    int
	Skipped   int
	Tiles     int
	Elapsed   time.Duration
}

func (s Summary) String() string {
	return fmt.Sprintf("run %s: processed=%d completed=%d failed=%d skipped=%d tiles=%d elapsed=%v",
		s.RunID, s.Processed, s.Completed, s.Failed, s.Skipped, s.Tiles, s.Elapsed.Round(time.Millisecond))
}

func (s *Summary) add(r Report) {
	s.Processed++
	switch {
	case r.Outcome == OutcomeCompleted:
		s.Completed++
		s.Tiles += r.Result.TotalTiles
	case r.Outcome == OutcomeFailed:
		s.Failed++
	case r.Outcome.Skipped():
		s.Skipped++
	}
}

// Orchestrator applies the per-image processing policy.
type Orchestrator struct {
	gw       record.Gateway
	store    tile.Store
	builder  Builder
	sources  raster.Locator
	logger   logrus.FieldLogger
	workers  int
	progress func(imageID int64) progress.Func
	now      func() time.Time
	metrics  *metrics.Metrics
	inflight singleflight.Group
}

type Option func(*Orchestrator)

func WithLogger(logger logrus.FieldLogger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

// WithConcurrency sets how many images Migrate processes at once.
func WithConcurrency(n int) Option {
	return func(o *Orchestrator) { o.workers = max(n, 1) }
}

// WithProgress sets the progress callback factory. By default progress is
// written to the logger.
func WithProgress(f func(imageID int64) progress.Func) Option {
	return func(o *Orchestrator) { o.progress = f }
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

func New(gw record.Gateway, store tile.Store, builder Builder, sources raster.Locator, opts ...Option) *Orchestrator {
	discard := logrus.New()
	discard.SetOutput(io.Discard)
	o := &Orchestrator{
		gw:      gw,
		store:   store,
		builder: builder,
		sources: sources,
		logger:  discard,
		workers: 1,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.progress == nil {
		logger := o.logger
		o.progress = func(imageID int64) progress.Func {
			return progress.Log(logger.WithField("image_id", imageID))
		}
	}
	return o
}

// ProcessImage generates tiles for img unless it already has tiles or its
// source is missing. Build failures are recorded on the image and reported
// as OutcomeFailed; only gateway errors are returned.
func (o *Orchestrator) ProcessImage(ctx context.Context, img record.Image) (Outcome, error) {
	r, err := o.process(ctx, img)
	return r.Outcome, err
}

// RunOne processes the image with the given id.
func (o *Orchestrator) RunOne(ctx context.Context, id int64) (Report, error) {
	img, err := o.gw.GetImage(ctx, id)
	if err != nil {
		return Report{ImageID: id}, err
	}
	return o.process(ctx, img)
}

// process runs at most once at a time per image id. Concurrent callers for
// the same id share the result.
func (o *Orchestrator) process(ctx context.Context, img record.Image) (Report, error) {
	v, err, _ := o.inflight.Do(strconv.FormatInt(img.ID, 10), func() (any, error) {
		return o.processImage(ctx, img)
	})
	r, _ := v.(Report)
	return r, err
}

func (o *Orchestrator) processImage(ctx context.Context, img record.Image) (Report, error) {
	start := o.now()
	logger := o.logger.WithField("image_id", img.ID)
	report := Report{ImageID: img.ID}
	finish := func(outcome Outcome) (Report, error) {
		report.Outcome = outcome
		report.Elapsed = o.now().Sub(start)
		o.metrics.ObserveImage(outcome.String())
		return report, nil
	}

	if img.HasTiles {
		logger.Info("image already has tiles, skipping")
		return finish(OutcomeSkippedHasTiles)
	}

	exists, existsErr := o.sources.Exists(ctx, img.FilePath)
	if existsErr == nil && !exists {
		logger.WithField("path", img.FilePath).Warn("source image not found, skipping")
		return finish(OutcomeSkippedMissingSource)
	}

	err := o.gw.UpdateImage(ctx, img.ID, record.StatusPatch(record.GeneratingTiles, o.now()))
	if errors.Is(err, record.ErrInvalidTransition) {
		logger.WithError(err).Warn("image cannot be regenerated, skipping")
		report.Err = err
		return finish(OutcomeFailed)
	}
	if err != nil {
		return report, fmt.Errorf("orthotiles: mark image %d generating: %w", img.ID, err)
	}

	result, err := o.build(ctx, img, existsErr)
	if err != nil {
		logger.WithError(err).Error("tile generation failed")
		report.Err = err
		// The failure is recorded even when ctx was cancelled mid-build.
		ctx = context.WithoutCancel(ctx)
		if err := o.gw.UpdateImage(ctx, img.ID, record.StatusPatch(record.Failed, o.now())); err != nil {
			return report, fmt.Errorf("orthotiles: mark image %d failed: %w", img.ID, err)
		}
		return finish(OutcomeFailed)
	}

	report.Result = result
	patch := record.CompletePatch(result.MinZoom, result.MaxZoom, result.StoragePath, o.now())
	if err := o.gw.UpdateImage(ctx, img.ID, patch); err != nil {
		return report, fmt.Errorf("orthotiles: mark image %d complete: %w", img.ID, err)
	}
	o.metrics.ObserveBuild(result.TotalTiles, result.Elapsed)
	logger.WithFields(logrus.Fields{
		"min_zoom": result.MinZoom,
		"max_zoom": result.MaxZoom,
		"tiles":    result.TotalTiles,
		"elapsed":  result.Elapsed,
	}).Info("tile generation complete")
	return finish(OutcomeCompleted)
}

// build removes any partial pyramid of img and generates a new one.
func (o *Orchestrator) build(ctx context.Context, img record.Image, existsErr error) (pyramid.Result, error) {
	if existsErr != nil {
		return pyramid.Result{}, fmt.Errorf("%w: %v", pyramid.ErrSourceUnreadable, existsErr)
	}
	bounds, err := img.Bounds()
	if err != nil {
		return pyramid.Result{}, err
	}
	if err := o.store.Sweep(ctx, img.ID); err != nil {
		return pyramid.Result{}, fmt.Errorf("%w: sweep: %v", pyramid.ErrStorageWriteFailure, err)
	}
	return o.builder.GenerateFromImage(ctx, o.sources, img.FilePath, bounds, img.ID, o.progress(img.ID))
}

// Migrate processes every image that has no tiles yet. A gateway error
// cancels the remaining work and is returned with the partial summary.
func (o *Orchestrator) Migrate(ctx context.Context) (Summary, error) {
	start := o.now()
	summary := Summary{RunID: ulid.Make().String()}
	logger := o.logger.WithField("run_id", summary.RunID)

	images, err := o.gw.ListImagesNeedingTiles(ctx)
	if err != nil {
		return summary, fmt.Errorf("orthotiles: list images: %w", err)
	}
	logger.WithField("images", len(images)).Info("migration started")

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.workers)
	for _, img := range images {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			r, err := o.process(gctx, img)
			if err != nil {
				return err
			}
			logger.WithFields(logrus.Fields{"image_id": img.ID, "outcome": r.Outcome}).Info("image processed")
			mu.Lock()
			summary.add(r)
			mu.Unlock()
			return nil
		})
	}
	err = g.Wait()
	summary.Elapsed = o.now().Sub(start)
	if err == nil {
		err = ctx.Err()
	}
	logger.WithField("summary", summary.String()).Info("migration finished")
	return summary, err
}

// ResetStale marks images stuck in GeneratingTiles for longer than
// olderThan as Failed so the next migration retries them.
func (o *Orchestrator) ResetStale(ctx context.Context, olderThan time.Duration) (int, error) {
	lister, ok := o.gw.(record.StaleLister)
	if !ok {
		return 0, ErrStaleUnsupported
	}
	now := o.now()
	stale, err := lister.ListStale(ctx, record.GeneratingTiles, now.Add(-olderThan))
	if err != nil {
		return 0, err
	}
	reset := 0
	for _, img := range stale {
		err := o.gw.UpdateImage(ctx, img.ID, record.StatusPatch(record.Failed, now))
		if errors.Is(err, record.ErrInvalidTransition) {
			continue
		}
		if err != nil {
			return reset, err
		}
		o.logger.WithFields(logrus.Fields{
			"image_id": img.ID,
			"since":    img.StatusChangedAt,
		}).Warn("reset stale image")
		reset++
	}
	return reset, nil
}
