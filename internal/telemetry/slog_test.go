package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.in, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, ParseLevel(tc.in))
		})
	}
}

func TestTraceHandler_InjectsSpanContext(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := NewJSONLogger(&buf, "info")

	tp := sdktrace.NewTracerProvider()
	defer tp.Shutdown(context.Background()) //nolint:errcheck
	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	logger.InfoContext(ctx, "inside span")
	span.End()

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, span.SpanContext().TraceID().String(), rec["trace_id"])
	assert.Equal(t, span.SpanContext().SpanID().String(), rec["span_id"])
}

func TestTraceHandler_NoSpan(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	NewJSONLogger(&buf, "info").With("run_id", "r1").Info("no span")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "r1", rec["run_id"])
	_, hasTrace := rec["trace_id"]
	assert.False(t, hasTrace)
}

func TestTeeHandler_FansOutByLevel(t *testing.T) {
	t.Parallel()

	var debugBuf, warnBuf bytes.Buffer
	tee := NewTeeHandler(
		slog.NewJSONHandler(&debugBuf, &slog.HandlerOptions{Level: slog.LevelDebug}),
		slog.NewJSONHandler(&warnBuf, &slog.HandlerOptions{Level: slog.LevelWarn}),
	)
	logger := slog.New(tee).WithGroup("seed").With("image_code", "tlinux_ci")

	logger.Debug("only debug sink")
	logger.Warn("both sinks")

	assert.Contains(t, debugBuf.String(), "only debug sink")
	assert.Contains(t, debugBuf.String(), "both sinks")
	assert.NotContains(t, warnBuf.String(), "only debug sink")
	assert.Contains(t, warnBuf.String(), `"seed":{"image_code":"tlinux_ci"}`)
	assert.False(t, tee.Enabled(context.Background(), slog.LevelDebug-4))
}
