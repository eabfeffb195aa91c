package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestLoggerRedactsSecrets(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "debug", Output: &buf})

	cases := []struct {
		name   string
		msg    string
		args   []any
		secret string
	}{
		{"anthropic key in attr", "provider configured",
			[]any{"key", "sk-ant-REDACTED"}, "abcdefghijklmnopqrstuvwx"},
		{"bearer token in message", "auth failed: bearer abcdefghijklmnop1234", nil, "abcdefghijklmnop1234"},
		{"password assignment", "config", []any{"raw", "password=hunter2secret"}, "hunter2secret"},
		{"jwt in attr", "callback",
			[]any{"token", "eyJhbGciOi.eyJzdWIiOi.sflKxwRJSM"}, "eyJhbGciOi.eyJzdWIiOi.sflKxwRJSM"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			buf.Reset()
			logger.Info(tc.msg, tc.args...)
			out := buf.String()
			if strings.Contains(out, tc.secret) {
				t.Fatalf("secret leaked: %s", out)
			}
			if !strings.Contains(out, "REDACTED") {
				t.Fatalf("nothing redacted: %s", out)
			}
		})
	}
}

func TestLoggerKeepsPlainValues(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Output: &buf})
	logger.Info("session started", "session_id", "s-123", "workspace", "/tmp/ws")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if rec["session_id"] != "s-123" || rec["workspace"] != "/tmp/ws" {
		t.Fatalf("plain attrs mangled: %v", rec)
	}
}

func TestLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "warn", Output: &buf})
	logger.Info("hidden")
	if buf.Len() != 0 {
		t.Fatalf("info passed a warn filter: %s", buf.String())
	}
	logger.Warn("visible")
	if buf.Len() == 0 {
		t.Fatal("warn dropped")
	}
}

func TestLoggerWithAttrsRedacted(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Output: &buf}).With("api_key", "sk-ant-REDACTED")
	logger.Info("hello")
	if strings.Contains(buf.String(), "abcdefghijklmnopqrstuvwx") {
		t.Fatalf("preset attr leaked: %s", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]slog.Level{
		"debug": slog.LevelDebug, "info": slog.LevelInfo, "warning": slog.LevelWarn,
		"error": slog.LevelError, "": slog.LevelInfo, "bogus": slog.LevelInfo,
	} {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestMetricsObserveLLMRequest(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.ObserveLLMRequest("anthropic", "claude-sonnet-4", "success", 120, 30, 2*time.Second)
	m.ObserveLLMRequest("anthropic", "claude-sonnet-4", "error", 0, 0, time.Second)

	if got := testutil.ToFloat64(m.LLMRequests.WithLabelValues("anthropic", "claude-sonnet-4", "success")); got != 1 {
		t.Fatalf("success count = %v", got)
	}
	if got := testutil.ToFloat64(m.LLMTokens.WithLabelValues("anthropic", "claude-sonnet-4", "prompt")); got != 120 {
		t.Fatalf("prompt tokens = %v", got)
	}
}

func TestMetricsObserveTool(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.ObserveTool("file_read", "success", 10*time.Millisecond)
	m.ObserveTool("cmd_run", "error", time.Second)
	m.QueueDropped.Inc()
	m.ActiveSessions.Set(3)

	if got := testutil.ToFloat64(m.ToolExecutions.WithLabelValues("file_read", "success")); got != 1 {
		t.Fatalf("tool count = %v", got)
	}
	if got := testutil.ToFloat64(m.QueueDropped); got != 1 {
		t.Fatalf("dropped = %v", got)
	}
	if got := testutil.ToFloat64(m.ActiveSessions); got != 3 {
		t.Fatalf("active sessions = %v", got)
	}
}

func TestTracerDisabledWithoutEndpoint(t *testing.T) {
	tracer, shutdown, err := NewTracer(context.Background(), TraceConfig{})
	if err != nil {
		t.Fatalf("NewTracer: %v", err)
	}
	_, span := tracer.Start(context.Background(), "op")
	span.End()
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}
