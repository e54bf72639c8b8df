package logger

import (
	"context"

	"go.uber.org/zap"
)

// Context keys
type contextKey string

const (
	requestIDKey contextKey = "request_id"
	subjectIDKey contextKey = "subject_id"
	nodeIDKey    contextKey = "node_id"
)

// WithContext returns a logger with fields from context
func (l *Logger) WithContext(ctx context.Context) *Logger {
	if ctx == nil {
		return l
	}

	fields := make([]zap.Field, 0, 3)

	// Add request ID if present
	if requestID, ok := ctx.Value(requestIDKey).(string); ok && requestID != "" {
		fields = append(fields, zap.String("request_id", requestID))
	}

	// Add subject ID if present (checkout caller)
	if subjectID, ok := ctx.Value(subjectIDKey).(string); ok && subjectID != "" {
		fields = append(fields, zap.String("subject_id", subjectID))
	}

	// Add node ID if present (downstream peer)
	if nodeID, ok := ctx.Value(nodeIDKey).(string); ok && nodeID != "" {
		fields = append(fields, zap.String("node_id", nodeID))
	}

	if len(fields) == 0 {
		return l
	}

	return l.With(fields...)
}

// WithRequestID adds request ID to context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// WithSubjectID adds the checkout subject ID to context
func WithSubjectID(ctx context.Context, subjectID string) context.Context {
	return context.WithValue(ctx, subjectIDKey, subjectID)
}

// WithNodeID adds the peer node ID to context
func WithNodeID(ctx context.Context, nodeID string) context.Context {
	return context.WithValue(ctx, nodeIDKey, nodeID)
}

// GetRequestID extracts request ID from context
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(requestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// GetSubjectID extracts the checkout subject ID from context
func GetSubjectID(ctx context.Context) string {
	if subjectID, ok := ctx.Value(subjectIDKey).(string); ok {
		return subjectID
	}
	return ""
}

// GetNodeID extracts the peer node ID from context
func GetNodeID(ctx context.Context) string {
	if nodeID, ok := ctx.Value(nodeIDKey).(string); ok {
		return nodeID
	}
	return ""
}
