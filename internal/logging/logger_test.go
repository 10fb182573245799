package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_Validate(t *testing.T) {
	cfg := NewDefaultConfig()
	require.NoError(t, cfg.Validate())

	cfg.Level = "verbose"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "logging.level")

	cfg = NewDefaultConfig()
	cfg.Format = "xml"
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "logging.format")
}

func TestNew(t *testing.T) {
	logger, err := New(&Config{Level: "debug", Format: "console"})
	require.NoError(t, err)
	require.NotNil(t, logger)

	// Nil config falls back to defaults.
	logger, err = New(nil)
	require.NoError(t, err)
	require.NotNil(t, logger)
}

func TestNew_OTELBridge(t *testing.T) {
	// Without a registered OTEL logger provider the bridge is a no-op
	// core; entries still reach the primary encoder.
	logger, err := New(&Config{Level: "info", Format: "json", OTEL: true})
	require.NoError(t, err)
	require.NotNil(t, logger)
	logger.Info("bridge smoke test")
}

func TestContextFields(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, ContextFields(ctx))

	ctx = WithRequestID(ctx, "req-1")
	ctx = WithProjectID(ctx, "proj-1")

	fields := ContextFields(ctx)
	assert.Len(t, fields, 2)
	assert.Equal(t, "req-1", RequestIDFromContext(ctx))
	assert.Equal(t, "proj-1", ProjectIDFromContext(ctx))
}
