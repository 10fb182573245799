// Package config provides configuration loading for flowd.
//
// Configuration comes from a YAML file overridden by FLOWD_-prefixed
// environment variables, with hardcoded defaults below both.
package config

import (
	"fmt"
	"time"

	"github.com/fyrsmithlabs/flowd/internal/logging"
	"github.com/fyrsmithlabs/flowd/internal/routing"
	"github.com/fyrsmithlabs/flowd/internal/telemetry"
)

// Config holds the complete flowd configuration.
type Config struct {
	Server       ServerConfig       `koanf:"server"`
	Logging      logging.Config     `koanf:"logging"`
	Telemetry    telemetry.Config   `koanf:"telemetry"`
	Policy       PolicyConfig       `koanf:"policy"`
	Routing      RoutingConfig      `koanf:"routing"`
	QuickLane    QuickLaneConfig    `koanf:"quick_lane"`
	Capability   CapabilityConfig   `koanf:"capability"`
	Deliverables DeliverablesConfig `koanf:"deliverables"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// PolicyConfig points at the operation policy file.
type PolicyConfig struct {
	// Path is the policy file (YAML or JSON). Empty means no policy:
	// every operation is unrestricted.
	Path string `koanf:"path"`
}

// RoutingConfig holds the default model route, per-lane overrides, and
// the approval settings that gate policy-matched operations.
type RoutingConfig struct {
	Provider  string `koanf:"provider"`
	Model     string `koanf:"model"`
	MaxTokens int    `koanf:"max_tokens"`

	Overrides map[string]routing.Override `koanf:"overrides"`

	ApprovalMode       bool     `koanf:"approval_mode"`
	AutoApprove        bool     `koanf:"auto_approve"`
	ApprovedOperations []string `koanf:"approved_operations"`
}

// QuickLaneConfig holds quick-lane execution settings.
type QuickLaneConfig struct {
	// InitTimeout bounds quick-lane client construction and
	// initialization. A failure or timeout falls back to the complex lane.
	InitTimeout time.Duration `koanf:"init_timeout"`
}

// CapabilityConfig holds language-model provider credentials.
type CapabilityConfig struct {
	APIKey  string `koanf:"api_key"`
	BaseURL string `koanf:"base_url"`

	// RequestsPerMinute throttles outbound model calls per client.
	// Zero uses the capability package default.
	RequestsPerMinute float64 `koanf:"requests_per_minute"`
}

// DeliverablesConfig holds deliverable persistence settings.
type DeliverablesConfig struct {
	// Dir is the root directory deliverable artifacts are written under.
	Dir string `koanf:"dir"`
}

// Validate validates the configuration, naming the offending key.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port: invalid port %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server.shutdown_timeout: must be positive")
	}
	if err := c.Logging.Validate(); err != nil {
		return err
	}
	if err := c.Telemetry.Validate(); err != nil {
		return err
	}
	if c.Routing.Provider == "" || c.Routing.Model == "" {
		return fmt.Errorf("routing: provider and model are required")
	}
	if c.QuickLane.InitTimeout < 0 {
		return fmt.Errorf("quick_lane.init_timeout: must not be negative")
	}
	if c.Deliverables.Dir == "" {
		return fmt.Errorf("deliverables.dir: must not be empty")
	}
	return nil
}

// DefaultRoute returns the configured default model route.
func (c *Config) DefaultRoute() routing.ModelRoute {
	return routing.ModelRoute{
		Provider:  c.Routing.Provider,
		Model:     c.Routing.Model,
		MaxTokens: c.Routing.MaxTokens,
	}
}
