// SPDX-License-Identifier: MIT

package log

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
)

func TestContextWithRequestID(t *testing.T) {
	tests := []struct {
		name      string
		ctx       context.Context
		requestID string
		want      string
	}{
		{
			name:      "nil context",
			ctx:       nil,
			requestID: "test-id-123",
			want:      "test-id-123",
		},
		{
			name:      "background context",
			ctx:       context.Background(),
			requestID: "req-456",
			want:      "req-456",
		},
		{
			name:      "empty request ID",
			ctx:       context.Background(),
			requestID: "",
			want:      "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := ContextWithRequestID(tt.ctx, tt.requestID)
			got := RequestIDFromContext(ctx)
			if got != tt.want {
				t.Errorf("RequestIDFromContext() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestContextWithReportID(t *testing.T) {
	tests := []struct {
		name     string
		ctx      context.Context
		reportID string
		want     string
	}{
		{
			name:     "nil context",
			ctx:      nil,
			reportID: "rep-123",
			want:     "rep-123",
		},
		{
			name:     "background context",
			ctx:      context.Background(),
			reportID: "rep-456",
			want:     "rep-456",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := ContextWithReportID(tt.ctx, tt.reportID)
			got := ReportIDFromContext(ctx)
			if got != tt.want {
				t.Errorf("ReportIDFromContext() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRequestIDFromContextEmpty(t *testing.T) {
	tests := []struct {
		name string
		ctx  context.Context
		want string
	}{
		{
			name: "nil context",
			ctx:  nil,
			want: "",
		},
		{
			name: "context without request ID",
			ctx:  context.Background(),
			want: "",
		},
		{
			name: "context with wrong type",
			ctx:  context.WithValue(context.Background(), requestIDKey, 123),
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RequestIDFromContext(tt.ctx)
			if got != tt.want {
				t.Errorf("RequestIDFromContext() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestWithContext(t *testing.T) {
	var buf bytes.Buffer
	baseLogger := zerolog.New(&buf)

	ctx := ContextWithRequestID(context.Background(), "req-123")
	ctx = ContextWithReportID(ctx, "rep-456")
	ctx = ContextWithViewerID(ctx, "viewer-789")

	enriched := WithContext(ctx, baseLogger)
	enriched.Info().Msg("enriched")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse log output: %v", err)
	}
	if entry[FieldRequestID] != "req-123" {
		t.Errorf("expected request_id req-123, got %v", entry[FieldRequestID])
	}
	if entry[FieldReportID] != "rep-456" {
		t.Errorf("expected report_id rep-456, got %v", entry[FieldReportID])
	}
	if entry[FieldViewerID] != "viewer-789" {
		t.Errorf("expected viewer_id viewer-789, got %v", entry[FieldViewerID])
	}
}

func TestWithContextNilAndEmpty(t *testing.T) {
	baseLogger := WithComponent("test")

	logger := WithContext(nil, baseLogger)
	if logger.GetLevel() != baseLogger.GetLevel() {
		t.Error("logger level should be preserved for nil context")
	}

	logger = WithContext(context.Background(), baseLogger)
	if logger.GetLevel() != baseLogger.GetLevel() {
		t.Error("logger level should be preserved for empty context")
	}
}
