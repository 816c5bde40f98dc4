package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/ingate/ingate/internal/errors"
	"github.com/ingate/ingate/internal/handler"
)

// Config represents the main configuration structure
type Config struct {
	Server     ServerConfig           `yaml:"server"`
	Admission  AdmissionConfig        `yaml:"admission"`
	Throttle   handler.ThrottleConfig `yaml:"throttle"`
	Dispatcher DispatcherConfig       `yaml:"dispatcher"`
	Unit       UnitConfig             `yaml:"unit"`
	Logging    LoggingConfig          `yaml:"logging"`
}

// ServerConfig contains HTTP server specific configuration
type ServerConfig struct {
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// AdmissionConfig contains admission control configuration
type AdmissionConfig struct {
	MaximumConcurrentRequests int `yaml:"maximum_concurrent_requests"`
}

// DispatcherConfig contains worker pool configuration
type DispatcherConfig struct {
	Workers int `yaml:"workers"`
}

// UnitConfig contains managed unit configuration
type UnitConfig struct {
	Name           string `yaml:"name"`
	AsyncSupported bool   `yaml:"async_supported"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	File   string `yaml:"file"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Admission: AdmissionConfig{
			MaximumConcurrentRequests: 100,
		},
		Throttle: handler.ThrottleConfig{
			Enabled:           false,
			RequestsPerSecond: 100,
			BurstSize:         200,
		},
		Dispatcher: DispatcherConfig{
			Workers: 16,
		},
		Unit: UnitConfig{
			Name:           "default",
			AsyncSupported: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// LoadFromFile loads configuration from a YAML file
func LoadFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrCodeConfigLoad, "config",
			fmt.Sprintf("failed to read config file %s", filename))
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, errors.WrapError(err, errors.ErrCodeConfigLoad, "config",
			fmt.Sprintf("failed to parse config file %s", filename))
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// LoadFromEnv loads configuration from environment variables with
// defaults
func LoadFromEnv() *Config {
	config := DefaultConfig()

	if port := os.Getenv("INGATE_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}

	if max := os.Getenv("INGATE_MAX_CONCURRENT"); max != "" {
		if m, err := strconv.Atoi(max); err == nil {
			config.Admission.MaximumConcurrentRequests = m
		}
	}

	if logLevel := os.Getenv("INGATE_LOG_LEVEL"); logLevel != "" {
		config.Logging.Level = logLevel
	}

	return config
}

// Validate validates the configuration for correctness
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return errors.NewError(errors.ErrCodeInvalidConfig, "config",
			fmt.Sprintf("invalid port: %d", c.Server.Port))
	}

	if c.Admission.MaximumConcurrentRequests < 1 {
		return errors.NewInvalidMaximumError(c.Admission.MaximumConcurrentRequests)
	}

	if c.Dispatcher.Workers < 1 {
		return errors.NewError(errors.ErrCodeInvalidConfig, "config",
			fmt.Sprintf("dispatcher.workers must be positive: %d", c.Dispatcher.Workers))
	}

	if c.Unit.Name == "" {
		return errors.NewError(errors.ErrCodeInvalidConfig, "config", "unit.name cannot be empty")
	}

	if c.Throttle.Enabled {
		if c.Throttle.RequestsPerSecond <= 0 {
			return errors.NewError(errors.ErrCodeInvalidConfig, "config",
				"throttle.requests_per_second must be positive")
		}
		if c.Throttle.BurstSize <= 0 {
			return errors.NewError(errors.ErrCodeInvalidConfig, "config",
				"throttle.burst_size must be positive")
		}
	}

	validLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLevels[c.Logging.Level] {
		return errors.NewError(errors.ErrCodeInvalidConfig, "config",
			fmt.Sprintf("invalid log level: %s", c.Logging.Level))
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return errors.NewError(errors.ErrCodeInvalidConfig, "config",
			fmt.Sprintf("invalid log format: %s", c.Logging.Format))
	}

	validOutputs := map[string]bool{"stdout": true, "stderr": true, "file": true}
	if !validOutputs[c.Logging.Output] {
		return errors.NewError(errors.ErrCodeInvalidConfig, "config",
			fmt.Sprintf("invalid log output: %s", c.Logging.Output))
	}

	return nil
}

// SaveToFile saves the configuration to a YAML file
func (c *Config) SaveToFile(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return errors.WrapError(err, errors.ErrCodeInternalError, "config", "failed to marshal config")
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return errors.WrapError(err, errors.ErrCodeInternalError, "config",
			fmt.Sprintf("failed to write config file %s", filename))
	}

	return nil
}
