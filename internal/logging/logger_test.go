package logging_test

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"subsync/internal/logging"
)

func TestConsoleHandlerPullsComponentForward(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{Level: "info", Format: "console", Writer: &buf})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	logger.With("component", "sync").Info("stage complete", "source", "alpha", "targets", 3)

	line := strings.TrimSpace(buf.String())
	if !strings.Contains(line, " INFO sync: stage complete") {
		t.Fatalf("unexpected line: %q", line)
	}
	if !strings.Contains(line, "source=alpha") || !strings.Contains(line, "targets=3") {
		t.Fatalf("missing attrs in line: %q", line)
	}
}

func TestConsoleHandlerRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{Level: "warn", Format: "console", Writer: &buf})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	logger.Info("hidden")
	logger.Warn("visible")
	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info line should be suppressed: %q", out)
	}
	if !strings.Contains(out, "visible") {
		t.Fatalf("warn line missing: %q", out)
	}
}

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{Level: "info", Format: "json", Writer: &buf})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	logger.Info("hello", "k", "v")

	var payload map[string]any
	if err := json.Unmarshal(buf.Bytes(), &payload); err != nil {
		t.Fatalf("expected JSON output, got %q: %v", buf.String(), err)
	}
	if payload["msg"] != "hello" || payload["k"] != "v" {
		t.Fatalf("unexpected payload: %v", payload)
	}
	if payload["level"] != "info" {
		t.Fatalf("expected lowercase level, got %v", payload["level"])
	}
}

func TestUnsupportedFormatRejected(t *testing.T) {
	if _, err := logging.New(logging.Options{Format: "xml"}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}
