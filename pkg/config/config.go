// Package config provides configuration loading and management for
// volrender. It handles loading configuration from YAML files and
// provides default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config represents the renderer configuration loaded from YAML
type Config struct {
	// Output parameters
	Output struct {
		// Width and Height are the output buffer dimensions in pixels
		Width  int `yaml:"width"`
		Height int `yaml:"height"`

		// File is the path the rendered frame is saved to
		File string `yaml:"file"`

		// PreviewScale optionally rescales the saved image; 1.0 keeps
		// the native output size
		PreviewScale float64 `yaml:"previewScale"`
	} `yaml:"output"`

	// Rendering parameters
	Rendering struct {
		// Mode selects the per-ray algorithm: dvr, mip, minip or
		// isosurface
		Mode string `yaml:"mode"`

		// Quality selects the sampling preset: draft, standard, high
		// or ultra
		Quality string `yaml:"quality"`

		// Preset names the built-in transfer function to render with
		Preset string `yaml:"preset"`

		// Shading enables gradient-based Phong shading
		Shading bool `yaml:"shading"`

		// AdaptiveSampling shrinks march steps in high-gradient regions
		AdaptiveSampling bool `yaml:"adaptiveSampling"`

		// IsoValue is the isosurface threshold in windowed space
		IsoValue float64 `yaml:"isoValue"`
	} `yaml:"rendering"`

	// Camera parameters for the CLI's orbit camera
	Camera struct {
		// FOVDegrees is the vertical field of view
		FOVDegrees float64 `yaml:"fovDegrees"`

		// Distance is the eye distance from the volume center, in
		// multiples of the volume's largest extent
		Distance float64 `yaml:"distance"`

		// AzimuthDegrees and ElevationDegrees orbit the camera around
		// the volume center
		AzimuthDegrees   float64 `yaml:"azimuthDegrees"`
		ElevationDegrees float64 `yaml:"elevationDegrees"`
	} `yaml:"camera"`

	// Window overrides the volume's stored display window
	Window struct {
		// Auto derives the window from the intensity distribution and
		// takes precedence over Level/Width
		Auto bool `yaml:"auto"`

		// Level and Width override the stored window when Width is
		// positive
		Level float64 `yaml:"level"`
		Width float64 `yaml:"width"`
	} `yaml:"window"`

	// Memory parameters
	Memory struct {
		// BudgetFraction caps a volume upload at this fraction of
		// available memory; negative disables the check
		BudgetFraction float64 `yaml:"budgetFraction"`
	} `yaml:"memory"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	// Set default output parameters
	cfg.Output.Width = 512
	cfg.Output.Height = 512
	cfg.Output.File = "render.png"
	cfg.Output.PreviewScale = 1.0

	// Set default rendering parameters
	cfg.Rendering.Mode = "dvr"
	cfg.Rendering.Quality = "standard"
	cfg.Rendering.Preset = "bone"
	cfg.Rendering.Shading = true
	cfg.Rendering.AdaptiveSampling = false
	cfg.Rendering.IsoValue = 0.5

	// Set default camera parameters
	cfg.Camera.FOVDegrees = 45
	cfg.Camera.Distance = 2.5
	cfg.Camera.AzimuthDegrees = 0
	cfg.Camera.ElevationDegrees = 0

	// Set default memory parameters
	cfg.Memory.BudgetFraction = 0.5

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
