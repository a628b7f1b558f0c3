// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package config provides configuration management for the alert destination host.
package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	apperrors "github.com/soothill/alert-destinations/pkg/errors"
	"github.com/soothill/alert-destinations/pkg/util"
)

// Config represents the application configuration
type Config struct {
	Server         ServerConfig         `yaml:"server"`
	Logging        LoggingConfig        `yaml:"logging"`
	Destinations   []DestinationConfig  `yaml:"destinations" validate:"dive"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	History        HistoryConfig        `yaml:"history"`
}

// ServerConfig holds HTTP host settings
type ServerConfig struct {
	ListenAddress           string `yaml:"listen_address" validate:"required"`
	MaxConcurrentDeliveries int    `yaml:"max_concurrent_deliveries" validate:"min=1,max=256"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn warning error fatal panic"`
	Format string `yaml:"format" validate:"oneof=console json"`
}

// DestinationConfig is one configured destination instance. Options are kept
// untyped here and validated against the destination type's schema when the
// dispatcher is built.
type DestinationConfig struct {
	Name    string         `yaml:"name" validate:"required"`
	Type    string         `yaml:"type" validate:"required"`
	Options map[string]any `yaml:"options"`
}

// CircuitBreakerConfig holds the optional per-destination breaker settings
type CircuitBreakerConfig struct {
	Enabled     bool          `yaml:"enabled"`
	MaxFailures uint32        `yaml:"max_failures" validate:"min=1"`
	OpenTimeout time.Duration `yaml:"open_timeout"`
}

// HistoryConfig holds delivery history settings
type HistoryConfig struct {
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
}

// InfluxDBConfig holds InfluxDB connection settings
type InfluxDBConfig struct {
	URL          string `yaml:"url"`
	Token        string `yaml:"token"`
	Organization string `yaml:"organization"`
	Bucket       string `yaml:"bucket"`
}

// Enabled reports whether delivery history is configured.
func (h HistoryConfig) Enabled() bool {
	return h.InfluxDB.URL != ""
}

var validate = newValidator()

// newValidator reports fields by their YAML names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	return v
}

// Load reads configuration from a YAML file and applies environment variable overrides
func Load(path string) (*Config, error) {
	data, err := util.ReadFileSafely(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

// Parse decodes a YAML document, applies environment overrides and defaults
// and validates the result.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyEnvironmentOverrides()
	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// applyEnvironmentOverrides applies environment variable overrides to the configuration
func (c *Config) applyEnvironmentOverrides() {
	if addr := os.Getenv("LISTEN_ADDRESS"); addr != "" {
		c.Server.ListenAddress = addr
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if format := os.Getenv("LOG_FORMAT"); format != "" {
		c.Logging.Format = format
	}
	if url := os.Getenv("INFLUXDB_URL"); url != "" {
		c.History.InfluxDB.URL = url
	}
	if token := os.Getenv("INFLUXDB_TOKEN"); token != "" {
		c.History.InfluxDB.Token = token
	}
	if org := os.Getenv("INFLUXDB_ORG"); org != "" {
		c.History.InfluxDB.Organization = org
	}
	if bucket := os.Getenv("INFLUXDB_BUCKET"); bucket != "" {
		c.History.InfluxDB.Bucket = bucket
	}
	if limit := os.Getenv("MAX_CONCURRENT_DELIVERIES"); limit != "" {
		n, parseErr := strconv.Atoi(limit)
		if parseErr == nil {
			c.Server.MaxConcurrentDeliveries = n
		} else {
			fmt.Fprintf(os.Stderr, "Warning: Failed to parse MAX_CONCURRENT_DELIVERIES '%s': %v\n", limit, parseErr)
		}
	}
}

// setDefaults sets default values for configuration fields if not provided
func (c *Config) setDefaults() {
	if c.Server.ListenAddress == "" {
		c.Server.ListenAddress = "localhost:8080"
	}
	if c.Server.MaxConcurrentDeliveries == 0 {
		c.Server.MaxConcurrentDeliveries = 8
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	c.Logging.Level = strings.ToLower(c.Logging.Level)
	if c.Logging.Format == "" {
		c.Logging.Format = "console"
	}
	if c.CircuitBreaker.MaxFailures == 0 {
		c.CircuitBreaker.MaxFailures = 5
	}
	if c.CircuitBreaker.OpenTimeout == 0 {
		c.CircuitBreaker.OpenTimeout = time.Minute
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fromValidatorError(err)
	}

	if validateErr := c.validateServer(); validateErr != nil {
		return validateErr
	}

	if validateErr := c.validateDestinations(); validateErr != nil {
		return validateErr
	}

	if validateErr := c.validateCircuitBreaker(); validateErr != nil {
		return validateErr
	}

	if validateErr := c.validateHistory(); validateErr != nil {
		return validateErr
	}

	return nil
}

// fromValidatorError converts the first struct validation failure into a ConfigError
func fromValidatorError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return apperrors.NewConfigError("", "", err)
	}

	first := verrs[0]
	field := yamlPath(first.Namespace())
	reason := first.Tag()
	if first.Param() != "" {
		reason += "=" + first.Param()
	}
	return apperrors.NewConfigError(field, fmt.Sprint(first.Value()),
		fmt.Errorf("%w: failed %q check", apperrors.ErrInvalidConfig, reason))
}

// yamlPath strips the root struct name from a validator namespace such as
// "Config.server.listen_address".
func yamlPath(namespace string) string {
	if i := strings.Index(namespace, "."); i >= 0 {
		return namespace[i+1:]
	}
	return namespace
}

// validateServer validates the HTTP host configuration
func (c *Config) validateServer() error {
	if _, _, err := net.SplitHostPort(c.Server.ListenAddress); err != nil {
		return apperrors.NewConfigError("server.listen_address", c.Server.ListenAddress, err)
	}
	return nil
}

// validateDestinations checks instance names are unique
func (c *Config) validateDestinations() error {
	seen := make(map[string]bool, len(c.Destinations))
	for i, d := range c.Destinations {
		if seen[d.Name] {
			return apperrors.NewConfigError(fmt.Sprintf("destinations[%d].name", i), d.Name,
				fmt.Errorf("%w: duplicate destination name", apperrors.ErrInvalidConfig))
		}
		seen[d.Name] = true
	}
	return nil
}

// validateCircuitBreaker validates the circuit breaker configuration
func (c *Config) validateCircuitBreaker() error {
	if c.CircuitBreaker.OpenTimeout < time.Second {
		return fmt.Errorf("circuit_breaker.open_timeout must be at least 1 second")
	}
	if c.CircuitBreaker.OpenTimeout > 24*time.Hour {
		return fmt.Errorf("circuit_breaker.open_timeout must not exceed 24 hours")
	}
	return nil
}

// validateHistory validates the InfluxDB delivery history configuration
func (c *Config) validateHistory() error {
	if !c.History.Enabled() {
		return nil
	}
	influx := c.History.InfluxDB

	parsedURL, parseErr := url.Parse(influx.URL)
	if parseErr != nil {
		return fmt.Errorf("history.influxdb.url is not a valid URL: %w", parseErr)
	}

	if securityErr := validateURLSecurity(parsedURL); securityErr != nil {
		return securityErr
	}

	if influx.Token == "" {
		return fmt.Errorf("history.influxdb.token is required")
	}
	if len(influx.Token) < 8 {
		return fmt.Errorf("history.influxdb.token must be at least 8 characters long")
	}
	if influx.Organization == "" {
		return fmt.Errorf("history.influxdb.organization is required")
	}
	if influx.Bucket == "" {
		return fmt.Errorf("history.influxdb.bucket is required")
	}

	return nil
}

// validateURLSecurity checks if the URL uses HTTPS for non-local connections
func validateURLSecurity(parsedURL *url.URL) error {
	if parsedURL.Scheme != "http" {
		return nil
	}

	hostname := strings.ToLower(parsedURL.Hostname())
	isLocal := hostname == "localhost" ||
		hostname == "127.0.0.1" ||
		hostname == "::1" ||
		strings.HasPrefix(hostname, "192.168.") ||
		strings.HasPrefix(hostname, "10.") ||
		strings.HasPrefix(hostname, "172.")

	if !isLocal {
		return fmt.Errorf("history.influxdb.url must use HTTPS for non-local connections (got %s). Using HTTP transmits the token in plaintext", parsedURL.Scheme)
	}

	return nil
}
