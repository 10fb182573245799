package logging

import (
	"context"

	"go.uber.org/zap"
)

type requestCtxKey struct{}
type projectCtxKey struct{}

// WithRequestID attaches a request identifier to the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestCtxKey{}, requestID)
}

// RequestIDFromContext returns the request ID, or "" when unset.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestCtxKey{}).(string)
	return id
}

// WithProjectID attaches a project identifier to the context.
func WithProjectID(ctx context.Context, projectID string) context.Context {
	return context.WithValue(ctx, projectCtxKey{}, projectID)
}

// ProjectIDFromContext returns the project ID, or "" when unset.
func ProjectIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(projectCtxKey{}).(string)
	return id
}

// ContextFields extracts correlation data from context.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 2)
	if requestID := RequestIDFromContext(ctx); requestID != "" {
		fields = append(fields, zap.String("request.id", requestID))
	}
	if projectID := ProjectIDFromContext(ctx); projectID != "" {
		fields = append(fields, zap.String("project.id", projectID))
	}
	return fields
}
