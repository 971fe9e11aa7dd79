package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
const DefaultConfigPath = "config/tuning.defaults.json"

// TuningConfig is the root configuration for a SLAM pipeline run. Every
// field is optional; the Get* accessors supply defaults for omitted ones so
// partial files are safe.
type TuningConfig struct {
	// Frame store
	BufferCapacity     *int     `json:"buffer_capacity,omitempty"`
	ImageWidth         *int     `json:"image_width,omitempty"`
	ImageHeight        *int     `json:"image_height,omitempty"`
	Stereo             *bool    `json:"stereo,omitempty"`
	NormalizationScale *float64 `json:"normalization_scale,omitempty"`

	// Frontend
	FrontendIterations *int     `json:"frontend_iterations,omitempty"`
	PatchesPerFrame    *int     `json:"patches_per_frame,omitempty"`
	MotionHistory      *int     `json:"motion_history,omitempty"`
	RefineGain         *float64 `json:"refine_gain,omitempty"`
	AssumedDepth       *float64 `json:"assumed_depth,omitempty"`

	// Backend
	BackendIterations *int     `json:"backend_iterations,omitempty"`
	OptimizeEvery     *int     `json:"optimize_every,omitempty"`
	MinFrames         *int     `json:"min_frames,omitempty"`
	WindowSize        *int     `json:"window_size,omitempty"`
	BackendInterval   *string  `json:"backend_interval,omitempty"` // duration string like "500ms"
	PriorWeight       *float64 `json:"prior_weight,omitempty"`
	SmoothnessWeight  *float64 `json:"smoothness_weight,omitempty"`
	Damping           *float64 `json:"damping,omitempty"`
	DisparityRate     *float64 `json:"disparity_rate,omitempty"`
}

// EmptyTuningConfig returns a TuningConfig with all fields unset.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// LoadTuningConfig loads a TuningConfig from a JSON file. The file must
// have a .json extension and be under 1MB.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath, searching the current
// directory and its parents. Panics if the file cannot be loaded; intended
// for tests.
func MustLoadDefaultConfig() *TuningConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath,          // from internal/config/
		"../../../" + DefaultConfigPath,       // from internal/slam/pipeline/
		"../../../../" + DefaultConfigPath,    // from internal/slam/storage/sqlite/
		"../../../../../" + DefaultConfigPath, // deeper packages
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that every set value is in range.
func (c *TuningConfig) Validate() error {
	if c.BufferCapacity != nil && *c.BufferCapacity < 1 {
		return fmt.Errorf("buffer_capacity must be at least 1, got %d", *c.BufferCapacity)
	}
	if c.ImageWidth != nil && *c.ImageWidth < 1 {
		return fmt.Errorf("image_width must be positive, got %d", *c.ImageWidth)
	}
	if c.ImageHeight != nil && *c.ImageHeight < 1 {
		return fmt.Errorf("image_height must be positive, got %d", *c.ImageHeight)
	}
	if c.NormalizationScale != nil && *c.NormalizationScale <= 0 {
		return fmt.Errorf("normalization_scale must be positive, got %f", *c.NormalizationScale)
	}
	if c.FrontendIterations != nil && *c.FrontendIterations < 0 {
		return fmt.Errorf("frontend_iterations must be non-negative, got %d", *c.FrontendIterations)
	}
	if c.PatchesPerFrame != nil && *c.PatchesPerFrame < 0 {
		return fmt.Errorf("patches_per_frame must be non-negative, got %d", *c.PatchesPerFrame)
	}
	if c.MotionHistory != nil && *c.MotionHistory < 2 {
		return fmt.Errorf("motion_history must be at least 2, got %d", *c.MotionHistory)
	}
	if c.RefineGain != nil && (*c.RefineGain <= 0 || *c.RefineGain > 1) {
		return fmt.Errorf("refine_gain must be in (0, 1], got %f", *c.RefineGain)
	}
	if c.AssumedDepth != nil && *c.AssumedDepth <= 0 {
		return fmt.Errorf("assumed_depth must be positive, got %f", *c.AssumedDepth)
	}
	if c.BackendIterations != nil && *c.BackendIterations < 0 {
		return fmt.Errorf("backend_iterations must be non-negative, got %d", *c.BackendIterations)
	}
	if c.OptimizeEvery != nil && *c.OptimizeEvery < 0 {
		return fmt.Errorf("optimize_every must be non-negative, got %d", *c.OptimizeEvery)
	}
	if c.MinFrames != nil && *c.MinFrames < 2 {
		return fmt.Errorf("min_frames must be at least 2, got %d", *c.MinFrames)
	}
	if c.WindowSize != nil && *c.WindowSize < 0 {
		return fmt.Errorf("window_size must be non-negative, got %d", *c.WindowSize)
	}
	if c.WindowSize != nil && c.MinFrames != nil && *c.WindowSize > 0 && *c.WindowSize < *c.MinFrames {
		return fmt.Errorf("window_size %d is smaller than min_frames %d", *c.WindowSize, *c.MinFrames)
	}
	if c.BackendInterval != nil && *c.BackendInterval != "" {
		d, err := time.ParseDuration(*c.BackendInterval)
		if err != nil {
			return fmt.Errorf("invalid backend_interval '%s': %w", *c.BackendInterval, err)
		}
		if d <= 0 {
			return fmt.Errorf("backend_interval must be positive, got %s", d)
		}
	}
	if c.PriorWeight != nil && *c.PriorWeight <= 0 {
		return fmt.Errorf("prior_weight must be positive, got %f", *c.PriorWeight)
	}
	if c.SmoothnessWeight != nil && *c.SmoothnessWeight < 0 {
		return fmt.Errorf("smoothness_weight must be non-negative, got %f", *c.SmoothnessWeight)
	}
	if c.Damping != nil && *c.Damping < 0 {
		return fmt.Errorf("damping must be non-negative, got %f", *c.Damping)
	}
	if c.DisparityRate != nil && (*c.DisparityRate < 0 || *c.DisparityRate > 1) {
		return fmt.Errorf("disparity_rate must be in [0, 1], got %f", *c.DisparityRate)
	}
	return nil
}

// GetBufferCapacity returns the buffer_capacity value or the default.
func (c *TuningConfig) GetBufferCapacity() int {
	if c.BufferCapacity == nil {
		return 1024
	}
	return *c.BufferCapacity
}

// GetImageWidth returns the image_width value or the default.
func (c *TuningConfig) GetImageWidth() int {
	if c.ImageWidth == nil {
		return 320
	}
	return *c.ImageWidth
}

// GetImageHeight returns the image_height value or the default.
func (c *TuningConfig) GetImageHeight() int {
	if c.ImageHeight == nil {
		return 240
	}
	return *c.ImageHeight
}

// GetStereo returns the stereo value or the default.
func (c *TuningConfig) GetStereo() bool {
	if c.Stereo == nil {
		return false
	}
	return *c.Stereo
}

// GetNormalizationScale returns the normalization_scale value or the default.
func (c *TuningConfig) GetNormalizationScale() float64 {
	if c.NormalizationScale == nil {
		return 4.0
	}
	return *c.NormalizationScale
}

// GetFrontendIterations returns the frontend_iterations value or the default.
func (c *TuningConfig) GetFrontendIterations() int {
	if c.FrontendIterations == nil {
		return 12
	}
	return *c.FrontendIterations
}

// GetPatchesPerFrame returns the patches_per_frame value or the default.
func (c *TuningConfig) GetPatchesPerFrame() int {
	if c.PatchesPerFrame == nil {
		return 96
	}
	return *c.PatchesPerFrame
}

// GetMotionHistory returns the motion_history value or the default.
func (c *TuningConfig) GetMotionHistory() int {
	if c.MotionHistory == nil {
		return 8
	}
	return *c.MotionHistory
}

// GetRefineGain returns the refine_gain value or the default.
func (c *TuningConfig) GetRefineGain() float64 {
	if c.RefineGain == nil {
		return 0.5
	}
	return *c.RefineGain
}

// GetAssumedDepth returns the assumed_depth value or the default.
func (c *TuningConfig) GetAssumedDepth() float64 {
	if c.AssumedDepth == nil {
		return 1.0
	}
	return *c.AssumedDepth
}

// GetBackendIterations returns the backend_iterations value or the default.
func (c *TuningConfig) GetBackendIterations() int {
	if c.BackendIterations == nil {
		return 12
	}
	return *c.BackendIterations
}

// GetOptimizeEvery returns the optimize_every value or the default.
// Zero means the backend only runs once the stream is exhausted.
func (c *TuningConfig) GetOptimizeEvery() int {
	if c.OptimizeEvery == nil {
		return 0
	}
	return *c.OptimizeEvery
}

// GetMinFrames returns the min_frames value or the default.
func (c *TuningConfig) GetMinFrames() int {
	if c.MinFrames == nil {
		return 2
	}
	return *c.MinFrames
}

// GetWindowSize returns the window_size value or the default.
// Zero means the whole committed buffer.
func (c *TuningConfig) GetWindowSize() int {
	if c.WindowSize == nil {
		return 0
	}
	return *c.WindowSize
}

// GetBackendInterval parses and returns the BackendInterval.
func (c *TuningConfig) GetBackendInterval() time.Duration {
	if c.BackendInterval == nil || *c.BackendInterval == "" {
		return 500 * time.Millisecond
	}
	d, err := time.ParseDuration(*c.BackendInterval)
	if err != nil {
		return 500 * time.Millisecond
	}
	return d
}

// GetPriorWeight returns the prior_weight value or the default.
func (c *TuningConfig) GetPriorWeight() float64 {
	if c.PriorWeight == nil {
		return 1.0
	}
	return *c.PriorWeight
}

// GetSmoothnessWeight returns the smoothness_weight value or the default.
func (c *TuningConfig) GetSmoothnessWeight() float64 {
	if c.SmoothnessWeight == nil {
		return 4.0
	}
	return *c.SmoothnessWeight
}

// GetDamping returns the damping value or the default.
func (c *TuningConfig) GetDamping() float64 {
	if c.Damping == nil {
		return 1.0
	}
	return *c.Damping
}

// GetDisparityRate returns the disparity_rate value or the default.
func (c *TuningConfig) GetDisparityRate() float64 {
	if c.DisparityRate == nil {
		return 0.5
	}
	return *c.DisparityRate
}
