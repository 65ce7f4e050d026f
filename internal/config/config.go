// Package config loads orthotiles settings from an optional file,
// ORTHOTILES_* environment variables and defaults.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Records RecordsConfig `mapstructure:"records"`
	Tiles   TilesConfig   `mapstructure:"tiles"`
	S3      S3Config      `mapstructure:"s3"`
	Batch   BatchConfig   `mapstructure:"batch"`
	Builder BuilderConfig `mapstructure:"builder"`
	Log     LogConfig     `mapstructure:"log"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// RecordsConfig selects the image record store.
type RecordsConfig struct {
	Driver    string `mapstructure:"driver"`
	DSN       string `mapstructure:"dsn"`
	RedisAddr string `mapstructure:"redis_addr"`
}

// TilesConfig selects where tiles are written.
type TilesConfig struct {
	Driver string `mapstructure:"driver"`
	Root   string `mapstructure:"root"`
	Bucket string `mapstructure:"bucket"`
	Prefix string `mapstructure:"prefix"`
}

type S3Config struct {
	Region   string `mapstructure:"region"`
	Endpoint string `mapstructure:"endpoint"`
	// Sources enables reading s3:// source image paths.
	Sources bool `mapstructure:"sources"`
}

type BatchConfig struct {
	Concurrency int `mapstructure:"concurrency"`
}

type BuilderConfig struct {
	MaxSourcePixels int64  `mapstructure:"max_source_pixels"`
	BandRows        int    `mapstructure:"band_rows"`
	PNGCompression  string `mapstructure:"png_compression"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("records.driver", "sqlite")
	v.SetDefault("records.dsn", "orthotiles.db")
	v.SetDefault("records.redis_addr", "localhost:6379")

	v.SetDefault("tiles.driver", "fs")
	v.SetDefault("tiles.root", "tiles")
	v.SetDefault("tiles.bucket", "")
	v.SetDefault("tiles.prefix", "tiles")

	v.SetDefault("s3.region", "us-east-1")
	v.SetDefault("s3.endpoint", "")
	v.SetDefault("s3.sources", false)

	v.SetDefault("batch.concurrency", 1)

	v.SetDefault("builder.max_source_pixels", int64(1)<<30)
	v.SetDefault("builder.band_rows", 1)
	v.SetDefault("builder.png_compression", "default")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("metrics.addr", "")
}

// Load reads path when it is not empty, then applies environment
// overrides such as ORTHOTILES_TILES_ROOT.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("orthotiles")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read configuration: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	switch c.Records.Driver {
	case "sqlite":
		if c.Records.DSN == "" {
			errs = append(errs, errors.New("records.dsn is required for the sqlite driver"))
		}
	case "redis":
		if c.Records.RedisAddr == "" {
			errs = append(errs, errors.New("records.redis_addr is required for the redis driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown records.driver %q", c.Records.Driver))
	}

	switch c.Tiles.Driver {
	case "fs":
		if c.Tiles.Root == "" {
			errs = append(errs, errors.New("tiles.root is required for the fs driver"))
		}
	case "s3":
		if c.Tiles.Bucket == "" {
			errs = append(errs, errors.New("tiles.bucket is required for the s3 driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown tiles.driver %q", c.Tiles.Driver))
	}

	if c.Batch.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("batch.concurrency must be positive, got %d", c.Batch.Concurrency))
	}
	if c.Builder.MaxSourcePixels < 1 {
		errs = append(errs, fmt.Errorf("builder.max_source_pixels must be positive, got %d", c.Builder.MaxSourcePixels))
	}
	if c.Builder.BandRows < 1 {
		errs = append(errs, fmt.Errorf("builder.band_rows must be positive, got %d", c.Builder.BandRows))
	}
	switch c.Builder.PNGCompression {
	case "default", "speed", "best", "none":
	default:
		errs = append(errs, fmt.Errorf("unknown builder.png_compression %q", c.Builder.PNGCompression))
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown log.format %q", c.Log.Format))
	}
	return errors.Join(errs...)
}
