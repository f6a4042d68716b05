// Package config provides process configuration for agent endpoints.
//
// Configuration is explicit: it is parsed once at startup and handed to
// components as values. No component reads the environment on a request
// path.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultModel is the completion-service model used when none is set.
const DefaultModel = "claude-3-5-haiku-latest"

// Config holds everything one agent endpoint process needs.
type Config struct {
	// AgentName identifies this endpoint in logs, metrics, and its card.
	AgentName string `yaml:"agent_name" mapstructure:"agent_name"`

	// ListenAddr is the HTTP listen address, e.g. ":8001".
	ListenAddr string `yaml:"listen_addr" mapstructure:"listen_addr"`

	// Model is the completion-service model for expert answers and routing.
	Model string `yaml:"model" mapstructure:"model"`

	// APIKey authenticates against the completion service. Usually left
	// empty in files and supplied via ANTHROPIC_API_KEY.
	APIKey string `yaml:"api_key" mapstructure:"api_key"`

	// DefaultLabel is the routing fallback when the classifier output
	// names no known label.
	DefaultLabel string `yaml:"default_label" mapstructure:"default_label"`

	// Registry maps routing labels to expert endpoint base URLs.
	// Only the manager role uses it.
	Registry map[string]string `yaml:"registry" mapstructure:"registry"`

	// WorkerTemperature is the sampling temperature for expert answers.
	WorkerTemperature float64 `yaml:"worker_temperature" mapstructure:"worker_temperature"`

	// WorkerMaxTokens caps expert answer length.
	WorkerMaxTokens int64 `yaml:"worker_max_tokens" mapstructure:"worker_max_tokens"`

	// ExecuteTimeoutSeconds bounds one task execution end to end.
	ExecuteTimeoutSeconds int `yaml:"execute_timeout_seconds" mapstructure:"execute_timeout_seconds"`

	// DelegateTimeoutSeconds bounds one delegation round trip.
	DelegateTimeoutSeconds int `yaml:"delegate_timeout_seconds" mapstructure:"delegate_timeout_seconds"`

	// TracingEnabled turns on OTLP trace export.
	TracingEnabled bool `yaml:"tracing_enabled" mapstructure:"tracing_enabled"`

	// OTLPEndpoint is the OTLP gRPC collector address.
	OTLPEndpoint string `yaml:"otlp_endpoint" mapstructure:"otlp_endpoint"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" mapstructure:"log_level"`
}

// Default returns a Config with default values. The registry defaults
// mirror the standard local four-process layout.
func Default() Config {
	return Config{
		AgentName:  "expertmesh",
		ListenAddr: ":8080",
		Model:      DefaultModel,

		DefaultLabel: "TECH",
		Registry: map[string]string{
			"TECH":   "http://localhost:8001",
			"HR":     "http://localhost:8000",
			"DESIGN": "http://localhost:8003",
		},

		WorkerTemperature: 0.7,
		WorkerMaxTokens:   1024,

		ExecuteTimeoutSeconds:  120,
		DelegateTimeoutSeconds: 120,

		TracingEnabled: false,
		OTLPEndpoint:   "localhost:4317",
		LogLevel:       "info",
	}
}

// FromYAML parses a config document over the defaults.
// Unknown keys are an error.
func FromYAML(data []byte) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(strings.NewReader(string(data)))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Load reads and parses a config file.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Default(), fmt.Errorf("read config: %w", err)
	}
	return FromYAML(data)
}

// Validate checks invariants that would otherwise surface as confusing
// runtime failures.
func (c Config) Validate() error {
	if c.AgentName == "" {
		return fmt.Errorf("agent_name must not be empty")
	}
	if c.ListenAddr == "" {
		return fmt.Errorf("listen_addr must not be empty")
	}
	if c.Model == "" {
		return fmt.Errorf("model must not be empty")
	}
	if c.WorkerTemperature < 0 || c.WorkerTemperature > 1 {
		return fmt.Errorf("worker_temperature must be in [0, 1], got %v", c.WorkerTemperature)
	}
	if c.WorkerMaxTokens <= 0 {
		return fmt.Errorf("worker_max_tokens must be positive, got %d", c.WorkerMaxTokens)
	}
	if c.ExecuteTimeoutSeconds <= 0 {
		return fmt.Errorf("execute_timeout_seconds must be positive, got %d", c.ExecuteTimeoutSeconds)
	}
	if c.DelegateTimeoutSeconds <= 0 {
		return fmt.Errorf("delegate_timeout_seconds must be positive, got %d", c.DelegateTimeoutSeconds)
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be one of debug, info, warn, error; got %q", c.LogLevel)
	}
	return nil
}

// ExecuteTimeout returns the task execution bound as a duration.
func (c Config) ExecuteTimeout() time.Duration {
	return time.Duration(c.ExecuteTimeoutSeconds) * time.Second
}

// DelegateTimeout returns the delegation bound as a duration.
func (c Config) DelegateTimeout() time.Duration {
	return time.Duration(c.DelegateTimeoutSeconds) * time.Second
}
