package util

import (
	"context"
	"time"
)

type ctxKey string

const (
	ctxKeyRequestID ctxKey = "request_id"
	ctxKeyStartTime ctxKey = "start_time"
	ctxKeyService   ctxKey = "service"
	ctxKeyUpstream  ctxKey = "upstream"
	ctxKeySubject   ctxKey = "subject"
)

// ContextWithRequestID adds a correlation ID to the context.
func ContextWithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ctxKeyRequestID, requestID)
}

// RequestIDFromContext extracts the correlation ID from context.
func RequestIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeyRequestID).(string); ok {
		return v
	}
	return ""
}

// ContextWithStartTime records when the gateway accepted the request.
func ContextWithStartTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, ctxKeyStartTime, t)
}

// StartTimeFromContext extracts the start time from context.
func StartTimeFromContext(ctx context.Context) time.Time {
	if v, ok := ctx.Value(ctxKeyStartTime).(time.Time); ok {
		return v
	}
	return time.Time{}
}

// ContextWithService adds the logical service name to the context.
func ContextWithService(ctx context.Context, service string) context.Context {
	return context.WithValue(ctx, ctxKeyService, service)
}

// ServiceFromContext extracts the logical service name from context.
func ServiceFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeyService).(string); ok {
		return v
	}
	return ""
}

// ContextWithUpstream adds the selected upstream base URL to the context.
func ContextWithUpstream(ctx context.Context, upstream string) context.Context {
	return context.WithValue(ctx, ctxKeyUpstream, upstream)
}

// UpstreamFromContext extracts the selected upstream base URL from context.
func UpstreamFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeyUpstream).(string); ok {
		return v
	}
	return ""
}

// ContextWithSubject adds the authenticated token subject to the context.
func ContextWithSubject(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, ctxKeySubject, subject)
}

// SubjectFromContext extracts the authenticated token subject from context.
func SubjectFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeySubject).(string); ok {
		return v
	}
	return ""
}
