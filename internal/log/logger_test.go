package log

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func newBufferLogger(component string) (*Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	logger := New(Config{
		Level:     slog.LevelDebug,
		Component: component,
		Handler:   slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}),
	})
	return logger, &buf
}

func TestLoggerStampsComponent(t *testing.T) {
	logger, buf := newBufferLogger(ComponentApp)

	logger.Info("server started", FieldStatusCode, 200)

	line := buf.String()
	if !strings.Contains(line, FieldComponent+"="+ComponentApp) {
		t.Errorf("line should carry the component field, got: %s", line)
	}
	if !strings.Contains(line, FieldStatusCode+"=200") {
		t.Errorf("line should carry the caller's fields, got: %s", line)
	}
}

func TestLoggerLevels(t *testing.T) {
	logger, buf := newBufferLogger(ComponentWorker)

	logger.Debug("debug line")
	logger.Warn("warn line")
	logger.Error("error line", FieldError, "boom")

	out := buf.String()
	for _, want := range []string{"debug line", "warn line", "error line", FieldError + "=boom"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q, got: %s", want, out)
		}
	}
	if got := strings.Count(out, FieldComponent+"="+ComponentWorker); got != 3 {
		t.Errorf("every line should be stamped, got %d of 3", got)
	}
}

func TestWithComponent(t *testing.T) {
	logger, buf := newBufferLogger(ComponentApp)

	sub := logger.WithComponent(ComponentWorker)
	if sub.Component() != ComponentWorker {
		t.Errorf("Component() = %q, want %q", sub.Component(), ComponentWorker)
	}

	sub.Info("sweep started")
	if !strings.Contains(buf.String(), FieldComponent+"="+ComponentWorker) {
		t.Errorf("derived logger should stamp its own component, got: %s", buf.String())
	}
}

func TestWithKeepsComponent(t *testing.T) {
	logger, buf := newBufferLogger(ComponentApp)

	logger.With(FieldRequestID, "req_abc").Info("request completed")

	line := buf.String()
	if !strings.Contains(line, FieldRequestID+"=req_abc") {
		t.Errorf("line should carry the bound field, got: %s", line)
	}
	if !strings.Contains(line, FieldComponent+"="+ComponentApp) {
		t.Errorf("line should still be stamped, got: %s", line)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Component != ComponentApp {
		t.Errorf("default component = %q, want %q", cfg.Component, ComponentApp)
	}
	if cfg.Level != slog.LevelInfo {
		t.Errorf("default level = %v, want %v", cfg.Level, slog.LevelInfo)
	}
}
