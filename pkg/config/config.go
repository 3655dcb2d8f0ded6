// Package config provides configuration loading and management for bboxtool.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"

	"bboxtool/pkg/aggregate"
	"bboxtool/pkg/bbox"
	"bboxtool/pkg/normalize"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Data locates the raster stack
	Data struct {
		// BasePath holds one sub-folder per label: <basePath>/<label>/<label>.<ext>
		BasePath string `yaml:"basePath"`

		// Labels restricts and orders the stack; empty means every sub-folder, sorted
		Labels []string `yaml:"labels"`

		// CRS is assumed for rasters georeferenced by a world file only
		CRS string `yaml:"crs"`
	} `yaml:"data"`

	// BoundingBox optionally fixes the box up-front, skipping interactive selection
	BoundingBox struct {
		// LonLat is "lonMin,lonMax,latMin,latMax"
		LonLat string `yaml:"lonLat"`

		// Pixels is "x1,y1,x2,y2" on the reference (first) raster
		Pixels string `yaml:"pixels"`
	} `yaml:"boundingBox"`

	// Stretch controls percentile normalization
	Stretch normalize.Params `yaml:"stretch"`

	// Processing parameters
	Processing struct {
		// NumCores specifies how many rasters are clipped and normalized concurrently
		NumCores int `yaml:"numCores"`

		// Strict aborts the batch when any raster fails to clip
		Strict bool `yaml:"strict"`
	} `yaml:"processing"`

	// Output parameters
	Output struct {
		// Save writes the stacked composite image
		Save bool `yaml:"save"`

		// SavePath overrides <basePath>/deposit/stacked_rasters.png
		SavePath string `yaml:"savePath"`

		Colourbar      bool              `yaml:"colourbar"`
		ColourbarLabel string            `yaml:"colourbarLabel"`
		Cmap           string            `yaml:"cmap"`
		Titles         map[string]string `yaml:"titles"`

		// LogLevel is one of debug, info, warn, error
		LogLevel string `yaml:"logLevel"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Data.CRS = "EPSG:4326"

	cfg.Stretch = normalize.DefaultParams()

	cfg.Processing.NumCores = runtime.NumCPU()
	cfg.Processing.Strict = false

	cfg.Output.Save = true
	cfg.Output.Colourbar = true
	cfg.Output.ColourbarLabel = aggregate.DefaultColourbarLabel
	cfg.Output.Cmap = "gray"
	cfg.Output.LogLevel = "info"

	return cfg
}

// Validate checks values that would otherwise fail deep inside the pipeline
func (c *Config) Validate() error {
	if err := c.Stretch.Validate(); err != nil {
		return err
	}
	if c.BoundingBox.LonLat != "" && c.BoundingBox.Pixels != "" {
		return fmt.Errorf("%w: set either boundingBox.lonLat or boundingBox.pixels, not both", bbox.ErrValidation)
	}
	if c.BoundingBox.LonLat != "" {
		if _, err := bbox.Parse(c.BoundingBox.LonLat); err != nil {
			return err
		}
	}
	if c.BoundingBox.Pixels != "" {
		if _, err := bbox.ParsePixelCorners(c.BoundingBox.Pixels); err != nil {
			return err
		}
	}
	if c.Processing.NumCores < 1 {
		return fmt.Errorf("processing.numCores must be at least 1, got %d", c.Processing.NumCores)
	}
	return nil
}

// LoadConfig reads a YAML file over the defaults. A missing or empty file
// yields the defaults; unknown keys are rejected so typos do not pass silently.
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	f, err := os.Open(configPath)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("error parsing config file %s: %w", configPath, err)
	}
	return cfg, nil
}

// SaveConfig writes cfg as YAML, creating parent directories
func SaveConfig(cfg *Config, configPath string) error {
	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteString("# bboxtool configuration\n")
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}
	return nil
}

// CreateDefaultConfigFile writes the defaults to configPath. An existing file
// is left untouched and reported as an error.
func CreateDefaultConfigFile(configPath string) error {
	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("config file %s already exists", configPath)
	}
	return SaveConfig(DefaultConfig(), configPath)
}
