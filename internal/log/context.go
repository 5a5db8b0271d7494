// SPDX-License-Identifier: MIT

package log

import (
	"context"

	"github.com/rs/zerolog"
)

type ctxKey string

const (
	requestIDKey ctxKey = "request_id"
	reportIDKey  ctxKey = "report_id"
	viewerIDKey  ctxKey = "viewer_id"
)

// ContextWithRequestID stores the provided request ID in the context.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, requestIDKey, id)
}

// ContextWithReportID stores the provided report ID in the context.
func ContextWithReportID(ctx context.Context, id string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, reportIDKey, id)
}

// ContextWithViewerID stores the provided viewer identity in the context.
func ContextWithViewerID(ctx context.Context, id string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, viewerIDKey, id)
}

// RequestIDFromContext extracts the request ID from context if present.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// ReportIDFromContext extracts the report ID from context if present.
func ReportIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(reportIDKey).(string); ok {
		return v
	}
	return ""
}

// ViewerIDFromContext extracts the viewer identity from context if present.
func ViewerIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(viewerIDKey).(string); ok {
		return v
	}
	return ""
}

// WithContext returns the given logger enriched with any identifiers carried
// by the context.
func WithContext(ctx context.Context, l zerolog.Logger) zerolog.Logger {
	if ctx == nil {
		return l
	}
	lctx := l.With()
	if id := RequestIDFromContext(ctx); id != "" {
		lctx = lctx.Str(FieldRequestID, id)
	}
	if id := ReportIDFromContext(ctx); id != "" {
		lctx = lctx.Str(FieldReportID, id)
	}
	if id := ViewerIDFromContext(ctx); id != "" {
		lctx = lctx.Str(FieldViewerID, id)
	}
	return lctx.Logger()
}
