package main

import (
	"context"
	"fmt"
	"image/png"
	"os"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/eak1mov/orthotiles/batch"
	"github.com/eak1mov/orthotiles/internal/config"
	"github.com/eak1mov/orthotiles/internal/logging"
	"github.com/eak1mov/orthotiles/internal/metrics"
	"github.com/eak1mov/orthotiles/pyramid"
	"github.com/eak1mov/orthotiles/raster"
	"github.com/eak1mov/orthotiles/record"
	"github.com/eak1mov/orthotiles/record/rdb"
	"github.com/eak1mov/orthotiles/record/sqldb"
	"github.com/eak1mov/orthotiles/s3tiles"
	"github.com/eak1mov/orthotiles/tile"
	"github.com/eak1mov/orthotiles/xyz"
	"github.com/sirupsen/logrus"
)

type gateway interface {
	record.Gateway
	record.StaleLister
	Close() error
}

// app holds the collaborators wired from configuration.
type app struct {
	cfg     *config.Config
	logger  *logrus.Logger
	gw      gateway
	store   tile.Store
	sources raster.Locator
	builder *pyramid.Builder
	metrics *metrics.Metrics
	stop    context.CancelFunc
}

func newApp(ctx context.Context, configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.Log, os.Stderr)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger, stop: func() {}}
	if err := a.init(ctx); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *app) init(ctx context.Context) error {
	cfg := a.cfg
	var err error

	switch cfg.Records.Driver {
	case "sqlite":
		a.gw, err = sqldb.Open(cfg.Records.DSN, sqldb.WithLogger(a.logger))
	case "redis":
		a.gw, err = rdb.New(ctx, cfg.Records.RedisAddr, rdb.WithLogger(a.logger))
	}
	if err != nil {
		a.gw = nil
		return fmt.Errorf("open records: %w", err)
	}

	var s3Client *s3.Client
	if cfg.Tiles.Driver == "s3" || cfg.S3.Sources {
		if s3Client, err = s3tiles.NewClient(ctx, cfg.S3.Region, cfg.S3.Endpoint); err != nil {
			return fmt.Errorf("s3 client: %w", err)
		}
	}

	switch cfg.Tiles.Driver {
	case "fs":
		a.store = xyz.NewStore(cfg.Tiles.Root)
	case "s3":
		a.store = s3tiles.NewStore(s3Client, cfg.Tiles.Bucket, cfg.Tiles.Prefix, s3tiles.WithLogger(a.logger))
	}

	sources := raster.MultiLocator{Local: raster.NewFileLocator(cfg.Builder.MaxSourcePixels)}
	if cfg.S3.Sources {
		sources.S3 = raster.NewS3Locator(s3Client, cfg.Builder.MaxSourcePixels)
	}
	a.sources = sources

	a.builder = pyramid.NewBuilder(a.store,
		pyramid.WithLogger(a.logger),
		pyramid.WithBandRows(cfg.Builder.BandRows),
		pyramid.WithEncoder(pyramid.NewPNGEncoder(compressionLevel(cfg.Builder.PNGCompression))),
	)

	if cfg.Metrics.Addr != "" {
		reg := metrics.NewRegistry()
		a.metrics = metrics.New(reg)
		serveCtx, stop := context.WithCancel(ctx)
		a.stop = stop
		go func() {
			if err := metrics.Serve(serveCtx, cfg.Metrics.Addr, reg, a.logger); err != nil {
				a.logger.WithError(err).Error("metrics server failed")
			}
		}()
	}
	return nil
}

func (a *app) orchestrator(opts ...batch.Option) *batch.Orchestrator {
	opts = append([]batch.Option{
		batch.WithLogger(a.logger),
		batch.WithConcurrency(a.cfg.Batch.Concurrency),
		batch.WithMetrics(a.metrics),
	}, opts...)
	return batch.New(a.gw, a.store, a.builder, a.sources, opts...)
}

func (a *app) close() {
	a.stop()
	if a.gw != nil {
		if err := a.gw.Close(); err != nil {
			a.logger.WithError(err).Warn("closing records")
		}
	}
}

func compressionLevel(name string) png.CompressionLevel {
	switch name {
	case "speed":
		return png.BestSpeed
	case "best":
		return png.BestCompression
	case "none":
		return png.NoCompression
	}
	return png.DefaultCompression
}
