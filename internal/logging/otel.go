package logging

import (
	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.uber.org/zap/zapcore"
)

// otelCore bridges log entries into the globally registered OTEL logger
// provider. Without a configured provider the bridge is a no-op.
func otelCore() zapcore.Core {
	return otelzap.NewCore("flowd")
}
