package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/koios/trmnl-server/pkg/models"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes environment overrides for app config keys
const EnvPrefix = "TRMNL_SERVER_"

// AppConfig is the YAML app config file. It is re-read on every access so
// edits take effect without a restart.
type AppConfig struct {
	BaseURL             string                `yaml:"base_url"`
	SetupImagePath      string                `yaml:"setup_image_path"`
	DisplayImageTimeout int                   `yaml:"display_image_timeout"` // seconds
	TemplatesPath       string                `yaml:"templates_path"`
	FontsPath           string                `yaml:"fonts_path"`
	DefaultContextPath  string                `yaml:"default_context_path"`
	RefreshRate         int                   `yaml:"refresh_rate"` // seconds
	Devices             []models.DeviceConfig `yaml:"devices"`
}

// ImageTimeout returns the capability token TTL
func (c *AppConfig) ImageTimeout() time.Duration {
	return time.Duration(c.DisplayImageTimeout) * time.Second
}

// RefreshInterval returns the device refresh interval
func (c *AppConfig) RefreshInterval() time.Duration {
	return time.Duration(c.RefreshRate) * time.Second
}

// Registry indexes the configured devices
func (c *AppConfig) Registry() *models.DeviceRegistry {
	return models.NewDeviceRegistry(c.Devices)
}

// Store loads the app config from a YAML file
type Store struct {
	path string
}

// NewStore creates a store reading from path
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the config file path
func (s *Store) Path() string {
	return s.path
}

// Load reads and validates the config file, then applies environment
// overrides.
func (s *Store) Load() (*AppConfig, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read app config: %w", err)
	}

	cfg := &AppConfig{
		DisplayImageTimeout: 60,
		RefreshRate:         3600,
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse app config: %w", err)
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func applyEnvOverrides(cfg *AppConfig) error {
	strs := map[string]*string{
		"BASE_URL":             &cfg.BaseURL,
		"SETUP_IMAGE_PATH":     &cfg.SetupImagePath,
		"TEMPLATES_PATH":       &cfg.TemplatesPath,
		"FONTS_PATH":           &cfg.FontsPath,
		"DEFAULT_CONTEXT_PATH": &cfg.DefaultContextPath,
	}
	for key, dst := range strs {
		if value := os.Getenv(EnvPrefix + key); value != "" {
			*dst = value
		}
	}

	ints := map[string]*int{
		"DISPLAY_IMAGE_TIMEOUT": &cfg.DisplayImageTimeout,
		"REFRESH_RATE":          &cfg.RefreshRate,
	}
	for key, dst := range ints {
		value := os.Getenv(EnvPrefix + key)
		if value == "" {
			continue
		}
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid %s%s: %w", EnvPrefix, key, err)
		}
		*dst = n
	}

	if value := os.Getenv(EnvPrefix + "DEVICES"); value != "" {
		var devices []models.DeviceConfig
		if err := yaml.Unmarshal([]byte(value), &devices); err != nil {
			return fmt.Errorf("invalid %sDEVICES: %w", EnvPrefix, err)
		}
		cfg.Devices = devices
	}

	return nil
}

func (c *AppConfig) validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base_url is required")
	}
	if _, err := url.Parse(c.BaseURL); err != nil {
		return fmt.Errorf("invalid base_url %q: %w", c.BaseURL, err)
	}
	if c.TemplatesPath == "" {
		return fmt.Errorf("templates_path is required")
	}
	if c.DisplayImageTimeout < 0 {
		return fmt.Errorf("display_image_timeout must not be negative")
	}
	if c.RefreshRate <= 0 {
		return fmt.Errorf("refresh_rate must be positive")
	}
	return nil
}
