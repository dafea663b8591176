package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"edgauth.org/internal/obs"
)

func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := obs.SetLogger(obs.NewLogger("", &buf))
	t.Cleanup(func() { obs.SetLogger(prev) })
	return &buf
}

func TestLogEvent(t *testing.T) {
	buf := captureLog(t)

	ctx := WithRequestID(context.Background(), "req-123")
	if err := LogEvent(ctx, "auth.login", 42, map[string]any{"ip": "10.0.0.1"}); err != nil {
		t.Fatalf("LogEvent failed: %v", err)
	}

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log not valid JSON: %v", err)
	}
	if entry["type"] != "audit" {
		t.Fatalf("unexpected type: %v", entry["type"])
	}
	if entry["event"] != "auth.login" {
		t.Fatalf("unexpected event: %v", entry["event"])
	}
	if entry["request_id"] != "req-123" {
		t.Fatalf("unexpected request id: %v", entry["request_id"])
	}
	if entry["account_id"] != float64(42) {
		t.Fatalf("unexpected account id: %v", entry["account_id"])
	}
	fields, ok := entry["fields"].(map[string]any)
	if !ok || fields["ip"] != "10.0.0.1" {
		t.Fatalf("fields missing or incorrect: %v", entry["fields"])
	}
}

func TestLogEventAnonymous(t *testing.T) {
	buf := captureLog(t)

	if err := LogEvent(context.Background(), "auth.reset_requested", 0, nil); err != nil {
		t.Fatalf("LogEvent failed: %v", err)
	}
	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log not valid JSON: %v", err)
	}
	if _, ok := entry["account_id"]; ok {
		t.Fatalf("anonymous event must not carry account_id: %v", entry)
	}
	if _, ok := entry["request_id"]; ok {
		t.Fatalf("unexpected request id: %v", entry)
	}
}

func TestLogEventRequiresName(t *testing.T) {
	_ = captureLog(t)
	if err := LogEvent(context.Background(), "  ", 1, nil); err == nil {
		t.Fatal("expected error for empty event")
	}
}

func TestWithRequestIDIgnoresBlank(t *testing.T) {
	ctx := WithRequestID(context.Background(), " ")
	if RequestIDFromContext(ctx) != "" {
		t.Fatal("blank id must not be stored")
	}
}
