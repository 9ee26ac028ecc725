package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	mcperrors "github.com/fluffypony/universe/pkg/errors"
)

func TestLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, NewTextFormatter())
	logger.SetLevel(DebugLevel)

	logger.Debug("Debug message", String("key", "value"))
	logger.Info("Info message", Int("count", 42))
	logger.Warn("Warning message", Bool("flag", true))
	logger.Error("Error message", ErrorField(errors.New("test error")))

	output := buf.String()
	for _, want := range []string{
		"Debug message", "Info message", "Warning message", "Error message",
		"key=value", "count=42", "flag=true", "error=test error",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %q in output:\n%s", want, output)
		}
	}
}

func TestLogLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, NewTextFormatter())
	logger.SetLevel(WarnLevel)

	logger.Debug("Debug message")
	logger.Info("Info message")
	logger.Warn("Warning message")

	output := buf.String()
	if strings.Contains(output, "Debug message") || strings.Contains(output, "Info message") {
		t.Errorf("messages below warn should be filtered:\n%s", output)
	}
	if !strings.Contains(output, "Warning message") {
		t.Error("warning should be present")
	}
}

func TestChildSharesLevel(t *testing.T) {
	var buf bytes.Buffer
	parent := New(&buf, NewTextFormatter())
	child := parent.WithFields(String("component", "Engine"))

	parent.SetLevel(ErrorLevel)
	child.Info("hidden")
	if buf.Len() != 0 {
		t.Errorf("child should follow parent level, got %q", buf.String())
	}
}

func TestWithContext(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, NewTextFormatter())

	ctx := ContextWithRequestID(context.Background(), "req-123")
	ctx = ContextWithClientID(ctx, "client-7")
	logger.WithContext(ctx).Info("handled")

	output := buf.String()
	if !strings.Contains(output, "[req-123]") {
		t.Errorf("expected request ID in output: %s", output)
	}
	if !strings.Contains(output, "client_id=client-7") {
		t.Errorf("expected client ID in output: %s", output)
	}
}

func TestWithError(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, NewTextFormatter())

	err := mcperrors.Forbidden(mcperrors.ReasonServerDisabled, "").
		WithContext(&mcperrors.Context{
			RequestID: "req-9",
			Component: "Engine",
			Operation: "tools/call",
			Stage:     "authorized",
		})
	logger.WithError(err).Warn("request denied")

	output := buf.String()
	for _, want := range []string{"[req-9]", "Engine/tools/call:", "error_code=-32104", "error_category=forbidden", "stage=authorized"} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %q in output: %s", want, output)
		}
	}
}

func TestJSONFormatter(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, NewJSONFormatter())

	logger.Info("Test message", String("key", "value"), Int("count", 42))

	var entry map[string]interface{}
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("failed to parse JSON output: %v", err)
	}
	if entry["level"] != "INFO" || entry["message"] != "Test message" {
		t.Errorf("unexpected entry: %v", entry)
	}
	if entry["key"] != "value" || entry["count"] != float64(42) {
		t.Errorf("unexpected fields: %v", entry)
	}
	if _, ok := entry["timestamp"]; !ok {
		t.Error("expected timestamp field")
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]Level{"debug": DebugLevel, "": InfoLevel, "WARNING": WarnLevel, "error": ErrorLevel}
	for in, want := range tests {
		got, err := ParseLevel(in)
		if err != nil || got != want {
			t.Errorf("ParseLevel(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Error("expected error for unknown level")
	}
}

func TestConfigureInstallsGlobal(t *testing.T) {
	prev := Global()
	defer SetGlobal(prev)

	var buf bytes.Buffer
	logger, err := Configure(&buf, "debug", "json")
	if err != nil {
		t.Fatal(err)
	}
	if Global() != logger {
		t.Error("Configure should install the global logger")
	}
	Global().Debug("via global")
	if !strings.Contains(buf.String(), "via global") {
		t.Errorf("global logger did not write: %q", buf.String())
	}

	if _, err := Configure(&buf, "info", "xml"); err == nil {
		t.Error("expected error for unknown format")
	}
}

func TestNop(t *testing.T) {
	n := Nop()
	n.WithFields(String("a", "b")).WithError(errors.New("x")).Error("ignored")
	if n.GetLevel() != FatalLevel {
		t.Error("nop logger should report fatal level")
	}
}
