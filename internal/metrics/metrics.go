// Package metrics defines the Prometheus metrics of the tiling pipeline.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Metrics holds the pipeline collectors. A nil *Metrics records nothing.
type Metrics struct {
	images        *prometheus.CounterVec
	tilesWritten  prometheus.Counter
	buildDuration prometheus.Histogram
}

// New registers the pipeline collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		images: f.NewCounterVec(prometheus.CounterOpts{
			Name: "orthotiles_images_total",
			Help: "Images handled by the orchestrator, by outcome.",
		}, []string{"outcome"}),
		tilesWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "orthotiles_tiles_written_total",
			Help: "Tiles written by completed pyramid builds.",
		}),
		buildDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "orthotiles_build_duration_seconds",
			Help:    "Duration of pyramid builds.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		}),
	}
}

// NewRegistry returns a registry with the Go and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

func (m *Metrics) ObserveImage(outcome string) {
	if m == nil {
		return
	}
	m.images.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveBuild(tiles int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.tilesWritten.Add(float64(tiles))
	m.buildDuration.Observe(elapsed.Seconds())
}

// Serve exposes g on addr under /metrics until ctx is done.
func Serve(ctx context.Context, addr string, g prometheus.Gatherer, logger logrus.FieldLogger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.WithField("addr", addr).Info("serving metrics")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
