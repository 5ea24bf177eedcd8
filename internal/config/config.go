// Package config provides configuration loading for the fulltext extractor.
// Supports YAML files, environment variables, and programmatic overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/spherical/fulltext-extractor/internal/domain"
)

// Config holds all configuration for the fulltext extractor.
type Config struct {
	Docker        DockerConfig        `yaml:"docker"`
	Extractor     ExtractorConfig     `yaml:"extractor"`
	Storage       StorageConfig       `yaml:"storage"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// DockerConfig holds container runtime connection settings.
type DockerConfig struct {
	// Host is the runtime endpoint, e.g. tcp://dind:2375. Empty means the
	// standard DOCKER_* environment is used.
	Host string `yaml:"host"`
}

// ExtractorConfig identifies the extractor image.
type ExtractorConfig struct {
	Image    string         `yaml:"image"`
	Version  string         `yaml:"version"`
	Registry RegistryConfig `yaml:"registry"`
}

// RegistryConfig holds optional credentials for pulling the extractor image.
type RegistryConfig struct {
	Username      string `yaml:"username"`
	Password      string `yaml:"password"`
	ServerAddress string `yaml:"server_address"`
}

// StorageConfig maps the shared volume into both namespaces.
type StorageConfig struct {
	WorkDir  string `yaml:"workdir"`
	MountDir string `yaml:"mountdir"`
}

// ObservabilityConfig holds logging settings.
type ObservabilityConfig struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// Load reads configuration from a YAML file and applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns a configuration with sensible defaults for development.
func DefaultConfig() *Config {
	return &Config{
		Extractor: ExtractorConfig{
			Image:   "arxiv/fulltext-extractor",
			Version: "0.3",
		},
		Storage: StorageConfig{
			WorkDir:  "/pdfs",
			MountDir: "/pdfs",
		},
		Observability: ObservabilityConfig{
			LogLevel:  "info",
			LogFormat: "json",
		},
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Extractor.Image == "" {
		return domain.ConfigError("extractor image is required", nil)
	}
	if c.Extractor.Version == "" {
		return domain.ConfigError("extractor version is required", nil)
	}
	if _, err := c.ImageRef(); err != nil {
		return domain.ConfigError("invalid extractor image", err)
	}

	if !filepath.IsAbs(c.Storage.WorkDir) {
		return domain.ConfigError(fmt.Sprintf("workdir must be an absolute path, got %q", c.Storage.WorkDir), nil)
	}
	if !filepath.IsAbs(c.Storage.MountDir) {
		return domain.ConfigError(fmt.Sprintf("mountdir must be an absolute path, got %q", c.Storage.MountDir), nil)
	}

	if c.Observability.LogFormat != "json" && c.Observability.LogFormat != "console" {
		return domain.ConfigError(fmt.Sprintf("invalid log format: %s", c.Observability.LogFormat), nil)
	}

	return nil
}

// ImageRef returns the configured default extractor image.
func (c *Config) ImageRef() (domain.ImageRef, error) {
	return domain.ParseImageRef(c.Extractor.Image + ":" + c.Extractor.Version)
}

// PathMapping returns the configured shared volume mapping.
func (c *Config) PathMapping() domain.PathMapping {
	return domain.PathMapping{
		WorkDir:  filepath.Clean(c.Storage.WorkDir),
		MountDir: filepath.Clean(c.Storage.MountDir),
	}
}

// HasRegistryAuth reports whether registry credentials were configured.
func (c *Config) HasRegistryAuth() bool {
	return c.Extractor.Registry.Username != "" || c.Extractor.Registry.Password != ""
}

// applyEnvOverrides applies environment variable overrides to config.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DOCKER_HOST"); v != "" {
		cfg.Docker.Host = v
	}

	if v := os.Getenv("EXTRACTOR_IMAGE"); v != "" {
		cfg.Extractor.Image = v
	}

	if v := os.Getenv("EXTRACTOR_VERSION"); v != "" {
		cfg.Extractor.Version = v
	}

	if v := os.Getenv("EXTRACTOR_REGISTRY_USERNAME"); v != "" {
		cfg.Extractor.Registry.Username = v
	}

	if v := os.Getenv("EXTRACTOR_REGISTRY_PASSWORD"); v != "" {
		cfg.Extractor.Registry.Password = v
	}

	if v := os.Getenv("EXTRACTOR_REGISTRY_SERVER"); v != "" {
		cfg.Extractor.Registry.ServerAddress = v
	}

	if v := os.Getenv("WORKDIR"); v != "" {
		cfg.Storage.WorkDir = v
	}

	if v := os.Getenv("MOUNTDIR"); v != "" {
		cfg.Storage.MountDir = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}

	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Observability.LogFormat = v
	}
}
