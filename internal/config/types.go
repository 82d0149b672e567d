// internal/config/types.go
package config

import (
	"fmt"
	"time"

	"github.com/velcourt/pageharvest/internal/fetch"
	"github.com/velcourt/pageharvest/internal/job"
	"github.com/velcourt/pageharvest/internal/output"
	"github.com/velcourt/pageharvest/internal/proxy"
)

// AppConfig is the top-level application configuration loaded from YAML.
// Component sections embed the component packages' own config structs so
// defaults and semantics live next to the code they tune.
type AppConfig struct {
	// LogLevel controls logger verbosity: debug, info, warn, error
	LogLevel string `yaml:"log_level" json:"log_level"`

	// TemplateDir is scanned for *.yaml template definitions
	TemplateDir string `yaml:"template_dir" json:"template_dir"`

	Proxy        proxy.Config  `yaml:"proxy" json:"proxy"`
	Fetch        fetch.Config  `yaml:"fetch" json:"fetch"`
	Orchestrator job.Config    `yaml:"orchestrator" json:"orchestrator"`
	Output       output.Config `yaml:"output" json:"output"`
	Server       ServerConfig  `yaml:"server" json:"server"`
	Metrics      MetricsConfig `yaml:"metrics" json:"metrics"`
}

// ServerConfig tunes the HTTP API server
type ServerConfig struct {
	Address         string        `yaml:"address" json:"address"`
	ReadTimeout     time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout" json:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
}

// MetricsConfig tunes the Prometheus endpoint
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
}

// applyDefaults fills in missing configuration values
func applyDefaults(c *AppConfig) {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.TemplateDir == "" {
		c.TemplateDir = "templates"
	}
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Server.ReadTimeout <= 0 {
		c.Server.ReadTimeout = 15 * time.Second
	}
	if c.Server.WriteTimeout <= 0 {
		c.Server.WriteTimeout = 30 * time.Second
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// Validate checks cross-field constraints that defaults cannot repair
func (c *AppConfig) Validate() error {
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.LogLevel)
	}
	if c.Proxy.Policy != "" && !c.Proxy.Policy.IsValid() {
		return fmt.Errorf("unknown proxy selection policy %q", c.Proxy.Policy)
	}
	if err := c.Output.Validate(); err != nil {
		return fmt.Errorf("output: %w", err)
	}
	return nil
}
