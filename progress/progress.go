// Package progress provides progress sinks for long running tile builds.
package progress

import (
	"sync"

	"github.com/schollz/progressbar/v3"
	"github.com/sirupsen/logrus"
)

// Func receives a completion percentage in [0, 100] and a stage label.
// Implementations must return quickly.
type Func func(percent float64, stage string)

// Nop discards progress reports.
func Nop(float64, string) {}

// Monotonic wraps f so that reported percentages never decrease and stay
// within [0, 100].
func Monotonic(f Func) Func {
	var mu sync.Mutex
	last := 0.0
	return func(percent float64, stage string) {
		mu.Lock()
		percent = min(max(percent, last), 100)
		last = percent
		mu.Unlock()
		f(percent, stage)
	}
}

// Tee reports to every non-nil sink in order.
func Tee(fs ...Func) Func {
	return func(percent float64, stage string) {
		for _, f := range fs {
			if f != nil {
				f(percent, stage)
			}
		}
	}
}

// Log writes one log line per report.
func Log(logger logrus.FieldLogger) Func {
	return func(percent float64, stage string) {
		logger.WithFields(logrus.Fields{
			"percent": int(percent),
			"stage":   stage,
		}).Info("progress")
	}
}

// Bar drives a progress bar sized 0..100.
func Bar(bar *progressbar.ProgressBar) Func {
	return func(percent float64, stage string) {
		bar.Describe(stage)
		_ = bar.Set(int(percent))
	}
}

// NewBar creates a percentage bar for one image.
func NewBar(description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(100,
		progressbar.OptionSetDescription(description),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionClearOnFinish(),
	)
}
