package config

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"

	"github.com/fyrsmithlabs/flowd/internal/telemetry"
)

const (
	maxConfigFileSize = 1024 * 1024 // 1MB

	envPrefix = "FLOWD_"
)

// Load loads configuration from an optional YAML file, then overrides
// with FLOWD_-prefixed environment variables.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (FLOWD_SERVER_PORT, FLOWD_ROUTING_MODEL, ...)
//  2. YAML config file
//  3. Hardcoded defaults
//
// An empty configPath skips the file layer entirely. Environment
// variables map section-first: FLOWD_SERVER_PORT becomes server.port and
// FLOWD_ROUTING_APPROVAL_MODE becomes routing.approval_mode.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			f, err := os.Open(configPath)
			if err != nil {
				return nil, fmt.Errorf("failed to open config file: %w", err)
			}
			defer f.Close()

			info, err := f.Stat()
			if err != nil {
				return nil, fmt.Errorf("failed to stat config file: %w", err)
			}
			if err := validateConfigFileProperties(info); err != nil {
				return nil, fmt.Errorf("config file validation failed: %w", err)
			}

			content, err := io.ReadAll(f)
			if err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
			if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
			}
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		// FLOWD_SERVER_PORT -> server.port
		// FLOWD_QUICK_LANE_INIT_TIMEOUT -> quick_lane.init_timeout
		// The split is on the first underscore, except the two-word
		// sections quick_lane and deliverables keep their own names.
		lower := strings.ToLower(strings.TrimPrefix(s, envPrefix))
		if rest, ok := strings.CutPrefix(lower, "quick_lane_"); ok {
			return "quick_lane." + rest
		}
		parts := strings.SplitN(lower, "_", 2)
		if len(parts) == 1 {
			return lower
		}
		return parts[0] + "." + parts[1]
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// validateConfigFileProperties checks file permissions and size.
func validateConfigFileProperties(info os.FileInfo) error {
	// Skip permission checks on Windows (different permission model).
	if runtime.GOOS != "windows" {
		perm := info.Mode().Perm()
		if perm&0o077 != 0 {
			return fmt.Errorf("insecure config file permissions: %v (expected 0600 or 0400)", perm)
		}
	}
	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}
	return nil
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 9090
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Telemetry.Endpoint == "" || cfg.Telemetry.ServiceName == "" {
		def := telemetry.NewDefaultConfig()
		if cfg.Telemetry.Endpoint == "" {
			cfg.Telemetry.Endpoint = def.Endpoint
		}
		if cfg.Telemetry.ServiceName == "" {
			cfg.Telemetry.ServiceName = def.ServiceName
		}
		if cfg.Telemetry.ServiceVersion == "" {
			cfg.Telemetry.ServiceVersion = def.ServiceVersion
		}
	}

	if cfg.Routing.Provider == "" {
		cfg.Routing.Provider = "openai"
	}
	if cfg.Routing.Model == "" {
		cfg.Routing.Model = "gpt-4o"
	}

	if cfg.QuickLane.InitTimeout == 0 {
		cfg.QuickLane.InitTimeout = 10 * time.Second
	}

	if cfg.Deliverables.Dir == "" {
		home, err := os.UserHomeDir()
		if err == nil {
			cfg.Deliverables.Dir = home + "/.local/share/flowd/deliverables"
		}
	}
}
