// Package config provides configuration loading and management for hcipipe.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"
)

// Config represents the pipeline configuration loaded from YAML
type Config struct {
	// Reduction parameters
	Reduction struct {
		// FWHM is the resolution element diameter in pixels
		FWHM float64 `yaml:"fwhm"`

		// AnnulusWidth is the radial width of processing annuli in pixels
		AnnulusWidth float64 `yaml:"annulusWidth"`

		// RadiusInner is the innermost processed radius in pixels
		RadiusInner float64 `yaml:"radiusInner"`

		// DeltaRot scales the parallactic rejection threshold in FWHM units
		DeltaRot float64 `yaml:"deltaRot"`

		// MinFrames sizes the fallback reference window of the frame selection
		MinFrames int `yaml:"minFrames"`

		// Collapse selects how the derotated residual cube is combined (median or mean)
		Collapse string `yaml:"collapse"`

		// Workers bounds the number of parallel workers
		Workers int `yaml:"workers"`
	} `yaml:"reduction"`

	// Algorithm parameters
	Algorithm struct {
		// Name selects the reference model (median or pca)
		Name string `yaml:"name"`

		// Components is the number of principal components for pca
		Components int `yaml:"components"`

		// PRatio truncates the pca rank at this explained-variance ratio (0 disables)
		PRatio float64 `yaml:"pratio"`

		// Truncated selects the randomized truncated decomposition
		Truncated bool `yaml:"truncated"`
	} `yaml:"algorithm"`

	// Detection parameters
	Detection struct {
		// Statistic selects the detection map figure (snr or significance)
		Statistic string `yaml:"statistic"`

		// Fill is written outside the evaluable annulus of the map
		Fill float64 `yaml:"fill"`
	} `yaml:"detection"`

	// Contrast parameters
	Contrast struct {
		// Sigma is the confidence level of the curve in Gaussian sigmas
		Sigma float64 `yaml:"sigma"`

		// NBranch is the number of azimuthal injection branches
		NBranch int `yaml:"nbranch"`

		// Theta positions the first branch in degrees
		Theta float64 `yaml:"theta"`

		// InnerRad is the innermost probed separation in FWHM units
		InnerRad float64 `yaml:"innerRad"`

		// FcRadSep spaces simultaneous companions along a branch, in probe radii
		FcRadSep int `yaml:"fcRadSep"`

		// SNRTarget scales injected companions to this ratio over the local noise
		SNRTarget float64 `yaml:"snrTarget"`

		// Subsample interpolates the curve onto a one pixel radial grid
		Subsample bool `yaml:"subsample"`

		// Smooth applies Savitzky-Golay smoothing to the subsampled noise profile
		Smooth bool `yaml:"smooth"`

		// SplineOrder selects the throughput interpolant
		SplineOrder int `yaml:"splineOrder"`

		// StarPhot is the stellar flux reference (0 measures it from the cube)
		StarPhot float64 `yaml:"starphot"`
	} `yaml:"contrast"`

	// Output parameters
	Output struct {
		// CurvePath is where the contrast curve CSV is written
		CurvePath string `yaml:"curvePath"`

		// MapPath is where the detection map CSV is written (empty skips it)
		MapPath string `yaml:"mapPath"`

		// ImagePath is where the detection map PNG is written (empty skips it)
		ImagePath string `yaml:"imagePath"`

		// Verbose controls the level of logging output
		Verbose bool `yaml:"verbose"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	// Set default reduction parameters
	cfg.Reduction.FWHM = 4.0
	cfg.Reduction.AnnulusWidth = 4.0
	cfg.Reduction.RadiusInner = 0.0
	cfg.Reduction.DeltaRot = 1.0
	cfg.Reduction.MinFrames = 4
	cfg.Reduction.Collapse = "median"
	cfg.Reduction.Workers = runtime.NumCPU() // Use all available cores by default

	// Set default algorithm parameters
	cfg.Algorithm.Name = "pca"
	cfg.Algorithm.Components = 2
	cfg.Algorithm.PRatio = 0.0
	cfg.Algorithm.Truncated = false

	// Set default detection parameters
	cfg.Detection.Statistic = "snr"
	cfg.Detection.Fill = 0.0

	// Set default contrast parameters
	cfg.Contrast.Sigma = 5.0
	cfg.Contrast.NBranch = 1
	cfg.Contrast.Theta = 0.0
	cfg.Contrast.InnerRad = 1.0
	cfg.Contrast.FcRadSep = 3
	cfg.Contrast.SNRTarget = 100.0
	cfg.Contrast.Subsample = true
	cfg.Contrast.Smooth = true
	cfg.Contrast.SplineOrder = 2
	cfg.Contrast.StarPhot = 0.0

	// Set default output parameters
	cfg.Output.CurvePath = "contrast_curve.csv"
	cfg.Output.MapPath = ""
	cfg.Output.ImagePath = ""
	cfg.Output.Verbose = true

	return cfg
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	// Read config file
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	// Parse YAML
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	// Marshal config to YAML
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	// Write to file
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}
