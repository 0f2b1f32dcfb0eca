package services

import "context"

type contextKey string

const (
	tipIDKey     contextKey = "tip_id"
	jobKey       contextKey = "job"
	requestIDKey contextKey = "request_id"
)

// WithTipID annotates context with the internal tip identifier.
func WithTipID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, tipIDKey, id)
}

// TipIDFromContext extracts the internal tip identifier if present.
func TipIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(tipIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithJob annotates context with the scheduler job name.
func WithJob(ctx context.Context, job string) context.Context {
	if job == "" {
		return ctx
	}
	return context.WithValue(ctx, jobKey, job)
}

// JobFromContext returns the job name if present.
func JobFromContext(ctx context.Context) (string, bool) {
	v := ctx.Value(jobKey)
	if str, ok := v.(string); ok && str != "" {
		return str, true
	}
	return "", false
}

// WithRequestID annotates context with a correlation identifier.
func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromContext extracts the correlation identifier if present.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(requestIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}
