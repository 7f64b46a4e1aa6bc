package logging_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"upright/internal/config"
	"upright/internal/logging"
	"upright/internal/services"
)

func readLog(t *testing.T, path string) string {
	t.Helper()
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	return string(content)
}

func TestNewFromConfigWritesLogFile(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.LogDir = filepath.Join(t.TempDir(), "logs")

	logPath := filepath.Join(cfg.Paths.LogDir, "upright-run.log")
	logger, err := logging.NewFromConfig(&cfg, "", "", logPath)
	if err != nil {
		t.Fatalf("NewFromConfig returned error: %v", err)
	}
	logger.Info("hello from config")

	if !strings.Contains(readLog(t, logPath), "hello from config") {
		t.Fatal("expected message in daemon log file")
	}
}

func TestConsoleLoggerFormatsComponentAndFields(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "console.log")
	logger, err := logging.New(logging.Options{Format: "console", Level: "info", OutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	component := logging.NewComponentLogger(logger, "pipeline")
	component.Info("item completed", logging.String(logging.FieldPath, "/in/a b.jpg"), logging.Int(logging.FieldAngle, 90))
	component.Debug("hidden")

	content := readLog(t, logPath)
	if !strings.Contains(content, "INFO pipeline: item completed") {
		t.Fatalf("expected component prefix, got %q", content)
	}
	if !strings.Contains(content, `path="/in/a b.jpg"`) {
		t.Fatalf("expected quoted path, got %q", content)
	}
	if !strings.Contains(content, "angle=90") {
		t.Fatalf("expected angle field, got %q", content)
	}
	if strings.Contains(content, "hidden") {
		t.Fatal("debug line should be filtered at info level")
	}
	if strings.Contains(content, ".go:") {
		t.Fatalf("expected no caller information in info logs, got %q", content)
	}
}

func TestConsoleLoggerPromotesRelativePath(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "rel.log")
	logger, err := logging.New(logging.Options{Format: "console", Level: "info", OutputPaths: []string{logPath}, RunID: "run-3"})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	itemLogger := logging.NewComponentLogger(logger, "pipeline").With(
		logging.String(logging.FieldPath, "/in/sub/b.png"),
		logging.String(logging.FieldRelPath, "sub/b.png"),
	)
	itemLogger.WithGroup("decision").Info("item completed", logging.Int(logging.FieldAngle, 180))

	content := readLog(t, logPath)
	if !strings.Contains(content, "INFO pipeline: item completed (sub/b.png) decision.angle=180") {
		t.Fatalf("expected relative path in header, got %q", content)
	}
	for _, unwanted := range []string{"/in/sub/b.png", "rel_path=", "run_id=", "component="} {
		if strings.Contains(content, unwanted) {
			t.Fatalf("unexpected %q in %q", unwanted, content)
		}
	}
}

func TestConsoleLoggerIncludesCallerForDebug(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "debug.log")
	logger, err := logging.New(logging.Options{Format: "console", Level: "debug", OutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logger.Info("message with caller")
	if !strings.Contains(readLog(t, logPath), "logger_test.go:") {
		t.Fatal("expected caller information for debug level logger")
	}
}

func TestJSONLoggerWithRunID(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "json.log")
	logger, err := logging.New(logging.Options{Format: "json", Level: "info", OutputPaths: []string{logPath}, RunID: "run-1"})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logger.Warn("careful", logging.Error(errors.New("boom")))

	var payload map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(readLog(t, logPath))), &payload); err != nil {
		t.Fatalf("decode json log: %v", err)
	}
	if payload["level"] != "warn" || payload["msg"] != "careful" {
		t.Fatalf("unexpected payload: %v", payload)
	}
	if payload["run_id"] != "run-1" {
		t.Fatalf("expected run id, got %v", payload["run_id"])
	}
	if _, ok := payload["ts"]; !ok {
		t.Fatalf("expected ts key, got %v", payload)
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := logging.New(logging.Options{Format: "xml"}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestWithContextAddsFields(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "ctx.log")
	logger, err := logging.New(logging.Options{Format: "console", Level: "info", OutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	ctx := services.WithSourcePath(context.Background(), "/in/x.png")
	ctx = services.WithStage(ctx, "writing")
	ctx = services.WithRequestID(ctx, "abc")
	logging.WithContext(ctx, logger).Info("ctx line")

	content := readLog(t, logPath)
	for _, fragment := range []string{"path=/in/x.png", "stage=writing", "correlation_id=abc"} {
		if !strings.Contains(content, fragment) {
			t.Fatalf("expected %q in %q", fragment, content)
		}
	}
}

func TestWarnWithContextInjectsDefaults(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "warn.log")
	logger, err := logging.New(logging.Options{Format: "console", Level: "info", OutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logging.WarnWithContext(logger, "queue deep", "queue_overflow", logging.String(logging.FieldImpact, "latency grows"))

	content := readLog(t, logPath)
	if !strings.Contains(content, "event_type=queue_overflow") {
		t.Fatalf("expected event type, got %q", content)
	}
	if !strings.Contains(content, `impact="latency grows"`) {
		t.Fatalf("expected caller-provided impact to win, got %q", content)
	}
	if !strings.Contains(content, "error_hint=") {
		t.Fatalf("expected default error hint, got %q", content)
	}
}

func TestErrorWithContextKeepsCallerHint(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "error.log")
	logger, err := logging.New(logging.Options{Format: "json", Level: "info", OutputPaths: []string{logPath}, RunID: "run-2"})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logging.ErrorWithContext(logger, "decider unreachable", "decider_failed",
		logging.String(logging.FieldErrorHint, "start the decider service"))

	content := strings.TrimSpace(readLog(t, logPath))
	if n := strings.Count(content, `"error_hint"`); n != 1 {
		t.Fatalf("expected one error_hint key, found %d in %s", n, content)
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(content), &payload); err != nil {
		t.Fatalf("decode json log: %v", err)
	}
	if payload["error_hint"] != "start the decider service" || payload["event_type"] != "decider_failed" {
		t.Fatalf("unexpected payload: %v", payload)
	}
	if payload["run_id"] != "run-2" {
		t.Fatalf("expected run id, got %v", payload["run_id"])
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]string{"debug": "DEBUG", "WARN": "WARN", "error": "ERROR", "": "INFO", "bogus": "INFO"}
	for in, want := range cases {
		if got := logging.ParseLevel(in).String(); got != want {
			t.Fatalf("ParseLevel(%q) = %s, want %s", in, got, want)
		}
	}
}
