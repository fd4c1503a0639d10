package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
// This is the single source of truth for all default tuning values.
const DefaultConfigPath = "config/tuning.defaults.json"

// TuningConfig holds the tunable parameters for the detection pipeline.
// All fields are pointers so that partial JSON configs inherit defaults:
// fields omitted from the file fall back to the Get* accessor defaults.
type TuningConfig struct {
	// Spatial clustering params
	NeighborhoodRadiusM *float64 `json:"neighborhood_radius_m,omitempty"`
	MinClusterSize      *int     `json:"min_cluster_size,omitempty"`
	KeepNoiseSingletons *bool    `json:"keep_noise_singletons,omitempty"`

	// Temporal linking params
	MatchRadiusM      *float64 `json:"match_radius_m,omitempty"`
	ActiveWindow      *string  `json:"active_window,omitempty"`    // duration string like "24h"
	ClosureTimeout    *string  `json:"closure_timeout,omitempty"`  // duration string like "120h"
	AllowReactivation *bool    `json:"allow_reactivation,omitempty"`

	// Ingest params
	CoordinateDecimals *int    `json:"coordinate_decimals,omitempty"`
	RegionBBox         *string `json:"region_bbox,omitempty"` // "min_lon,min_lat,max_lon,max_lat"

	// Refresh params
	RefreshSchedule *string `json:"refresh_schedule,omitempty"` // cron expression
}

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
// Use LoadTuningConfig to load actual values from the defaults file.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file must have a .json extension and be under the max file size.
// Fields omitted from the JSON file retain their default values, so
// partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
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

// MustLoadDefaultConfig loads the canonical tuning defaults from DefaultConfigPath.
// It searches for the file in the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath, // from internal/config/
		"../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid. Non-positive
// radii, cluster sizes, and timeouts are configuration errors and fatal:
// the pipeline cannot produce meaningful clusters or lifecycles from them.
func (c *TuningConfig) Validate() error {
	if c.NeighborhoodRadiusM != nil && *c.NeighborhoodRadiusM <= 0 {
		return fmt.Errorf("neighborhood_radius_m must be positive, got %f", *c.NeighborhoodRadiusM)
	}
	if c.MinClusterSize != nil && *c.MinClusterSize < 1 {
		return fmt.Errorf("min_cluster_size must be >= 1, got %d", *c.MinClusterSize)
	}
	if c.MatchRadiusM != nil && *c.MatchRadiusM <= 0 {
		return fmt.Errorf("match_radius_m must be positive, got %f", *c.MatchRadiusM)
	}
	if c.CoordinateDecimals != nil && (*c.CoordinateDecimals < 0 || *c.CoordinateDecimals > 8) {
		return fmt.Errorf("coordinate_decimals must be between 0 and 8, got %d", *c.CoordinateDecimals)
	}

	activeWindow := time.Duration(0)
	if c.ActiveWindow != nil && *c.ActiveWindow != "" {
		d, err := time.ParseDuration(*c.ActiveWindow)
		if err != nil {
			return fmt.Errorf("invalid active_window '%s': %w", *c.ActiveWindow, err)
		}
		if d <= 0 {
			return fmt.Errorf("active_window must be positive, got %s", d)
		}
		activeWindow = d
	}
	if c.ClosureTimeout != nil && *c.ClosureTimeout != "" {
		d, err := time.ParseDuration(*c.ClosureTimeout)
		if err != nil {
			return fmt.Errorf("invalid closure_timeout '%s': %w", *c.ClosureTimeout, err)
		}
		if d <= 0 {
			return fmt.Errorf("closure_timeout must be positive, got %s", d)
		}
		if activeWindow > 0 && d <= activeWindow {
			return fmt.Errorf("closure_timeout (%s) must exceed active_window (%s)", d, activeWindow)
		}
	}

	return nil
}

// GetNeighborhoodRadiusM returns the neighborhood_radius_m value or the default.
// 1.1km is the diagonal of a 375m VIIRS pixel footprint with margin for
// geolocation jitter between passes.
func (c *TuningConfig) GetNeighborhoodRadiusM() float64 {
	if c.NeighborhoodRadiusM == nil {
		return 1100.0
	}
	return *c.NeighborhoodRadiusM
}

// GetMinClusterSize returns the min_cluster_size value or the default.
func (c *TuningConfig) GetMinClusterSize() int {
	if c.MinClusterSize == nil {
		return 5
	}
	return *c.MinClusterSize
}

// GetKeepNoiseSingletons returns the keep_noise_singletons value or the default.
func (c *TuningConfig) GetKeepNoiseSingletons() bool {
	if c.KeepNoiseSingletons == nil {
		return false
	}
	return *c.KeepNoiseSingletons
}

// GetMatchRadiusM returns the match_radius_m value or the default.
func (c *TuningConfig) GetMatchRadiusM() float64 {
	if c.MatchRadiusM == nil {
		return 2000.0
	}
	return *c.MatchRadiusM
}

// GetActiveWindow parses and returns the ActiveWindow as a time.Duration.
func (c *TuningConfig) GetActiveWindow() time.Duration {
	if c.ActiveWindow == nil || *c.ActiveWindow == "" {
		return 24 * time.Hour
	}
	d, err := time.ParseDuration(*c.ActiveWindow)
	if err != nil {
		return 24 * time.Hour
	}
	return d
}

// GetClosureTimeout parses and returns the ClosureTimeout as a time.Duration.
func (c *TuningConfig) GetClosureTimeout() time.Duration {
	if c.ClosureTimeout == nil || *c.ClosureTimeout == "" {
		return 120 * time.Hour
	}
	d, err := time.ParseDuration(*c.ClosureTimeout)
	if err != nil {
		return 120 * time.Hour
	}
	return d
}

// GetAllowReactivation returns the allow_reactivation value or the default.
func (c *TuningConfig) GetAllowReactivation() bool {
	if c.AllowReactivation == nil {
		return false
	}
	return *c.AllowReactivation
}

// GetCoordinateDecimals returns the coordinate_decimals value or the default.
func (c *TuningConfig) GetCoordinateDecimals() int {
	if c.CoordinateDecimals == nil {
		return 4
	}
	return *c.CoordinateDecimals
}

// GetRegionBBox returns the region_bbox value or an empty string when the
// pipeline should accept detections anywhere.
func (c *TuningConfig) GetRegionBBox() string {
	if c.RegionBBox == nil {
		return ""
	}
	return *c.RegionBBox
}

// GetRefreshSchedule returns the refresh_schedule cron expression or the default.
func (c *TuningConfig) GetRefreshSchedule() string {
	if c.RefreshSchedule == nil || *c.RefreshSchedule == "" {
		return "@every 1h"
	}
	return *c.RefreshSchedule
}
