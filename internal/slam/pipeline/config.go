package pipeline

import (
	"errors"
	"fmt"
	"time"

	"github.com/antares511/DPVO/internal/config"
	"github.com/antares511/DPVO/internal/slam/backend"
	"github.com/antares511/DPVO/internal/slam/framestore"
	"github.com/antares511/DPVO/internal/slam/frontend"
)

// Config fixes the shape of a Coordinator's store and the cadence of its
// stages.
type Config struct {
	Capacity           int
	ImageWidth         int
	ImageHeight        int
	Stereo             bool
	NormalizationScale float64

	// FrontendIterations is the number of refinement passes per frame.
	FrontendIterations int

	// BackendIterations is the round count of cadence-driven and
	// end-of-stream optimisation.
	BackendIterations int

	// OptimizeEvery runs the backend after every N committed frames.
	// Zero disables the cadence; the backend then runs on demand and at
	// the end of Run.
	OptimizeEvery int

	MinFrames  int
	WindowSize int

	// BackendInterval is the tick period of BackendLoop.
	BackendInterval time.Duration
}

// DefaultConfig returns the values in config/tuning.defaults.json.
func DefaultConfig() Config {
	return ConfigFromTuning(config.EmptyTuningConfig())
}

// ConfigFromTuning maps a tuning file onto a Config. Unset fields take
// their defaults.
func ConfigFromTuning(t *config.TuningConfig) Config {
	return Config{
		Capacity:           t.GetBufferCapacity(),
		ImageWidth:         t.GetImageWidth(),
		ImageHeight:        t.GetImageHeight(),
		Stereo:             t.GetStereo(),
		NormalizationScale: t.GetNormalizationScale(),
		FrontendIterations: t.GetFrontendIterations(),
		BackendIterations:  t.GetBackendIterations(),
		OptimizeEvery:      t.GetOptimizeEvery(),
		MinFrames:          t.GetMinFrames(),
		WindowSize:         t.GetWindowSize(),
		BackendInterval:    t.GetBackendInterval(),
	}
}

// Validate reports every invalid field.
func (c Config) Validate() error {
	var errs []error
	if c.Capacity < 1 {
		errs = append(errs, fmt.Errorf("capacity must be positive, got %d", c.Capacity))
	}
	if c.ImageWidth < 1 || c.ImageHeight < 1 {
		errs = append(errs, fmt.Errorf("image size must be positive, got %dx%d", c.ImageWidth, c.ImageHeight))
	}
	if c.NormalizationScale < 0 {
		errs = append(errs, fmt.Errorf("normalization scale must be non-negative, got %f", c.NormalizationScale))
	}
	if c.FrontendIterations < 0 {
		errs = append(errs, fmt.Errorf("%w: frontend %d", frontend.ErrInvalidIterations, c.FrontendIterations))
	}
	if c.BackendIterations < 0 {
		errs = append(errs, fmt.Errorf("%w: backend %d", backend.ErrInvalidIterations, c.BackendIterations))
	}
	if c.OptimizeEvery < 0 {
		errs = append(errs, fmt.Errorf("optimize every must be non-negative, got %d", c.OptimizeEvery))
	}
	if c.MinFrames < 0 {
		errs = append(errs, fmt.Errorf("min frames must be non-negative, got %d", c.MinFrames))
	}
	if c.BackendInterval < 0 {
		errs = append(errs, fmt.Errorf("backend interval must be non-negative, got %s", c.BackendInterval))
	}
	return errors.Join(errs...)
}

// FieldSize returns the depth field size the store will be created with.
func (c Config) FieldSize() (width, height int) {
	return framestore.Config{
		ImageWidth:         c.ImageWidth,
		ImageHeight:        c.ImageHeight,
		NormalizationScale: c.NormalizationScale,
	}.FieldSize()
}
