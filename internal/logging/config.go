// Package logging builds the flowd Zap logger and carries per-request
// correlation fields through context.
package logging

import (
	"fmt"

	"go.uber.org/zap/zapcore"
)

// Config holds logging configuration.
type Config struct {
	// Level is the minimum level emitted ("debug", "info", "warn", "error").
	Level string `koanf:"level"`

	// Format selects the encoder: "json" or "console".
	Format string `koanf:"format"`

	// Caller adds the calling file and line to every entry.
	Caller bool `koanf:"caller"`

	// OTEL mirrors every entry into the globally registered
	// OpenTelemetry logger provider.
	OTEL bool `koanf:"otel"`

	// Fields are constant fields attached to every entry.
	Fields map[string]string `koanf:"fields"`
}

// NewDefaultConfig returns production-ready defaults.
func NewDefaultConfig() *Config {
	return &Config{
		Level:  "info",
		Format: "json",
		Caller: true,
	}
}

// Validate checks the config, naming the offending key on failure.
func (c *Config) Validate() error {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(c.Level)); err != nil {
		return fmt.Errorf("logging.level: unknown level %q (expected debug, info, warn, or error)", c.Level)
	}
	if c.Format != "json" && c.Format != "console" {
		return fmt.Errorf("logging.format: unknown format %q (expected json or console)", c.Format)
	}
	return nil
}

// zapLevel converts the validated level string.
func (c *Config) zapLevel() zapcore.Level {
	var lvl zapcore.Level
	_ = lvl.UnmarshalText([]byte(c.Level))
	return lvl
}
