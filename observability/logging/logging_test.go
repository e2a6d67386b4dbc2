package logging

import (
	"bytes"
	"encoding/json"
	"testing"
)

func decodeLine(t *testing.T, raw []byte) map[string]any {
	t.Helper()
	var entry map[string]any
	if err := json.Unmarshal(raw, &entry); err != nil {
		t.Fatalf("failed to decode log payload: %v", err)
	}
	return entry
}

func TestSetupRenamesStandardKeys(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := Setup("relayd", "staging", WithWriter(buf))

	logger.Info("relayd started", "component", "main")

	entry := decodeLine(t, buf.Bytes())
	if entry["message"] != "relayd started" {
		t.Fatalf("expected renamed message key, got %v", entry)
	}
	if entry["severity"] != "INFO" {
		t.Fatalf("expected uppercased severity, got %v", entry["severity"])
	}
	if entry["service"] != "relayd" || entry["env"] != "staging" {
		t.Fatalf("expected service and env attrs, got %v", entry)
	}
	if _, ok := entry["timestamp"]; !ok {
		t.Fatalf("expected timestamp key, got %v", entry)
	}
}

func TestSetupLevelFollowsEnvironment(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := Setup("relayd", "development", WithWriter(buf))
	logger.Debug("offer admitted")
	if buf.Len() == 0 {
		t.Fatal("expected debug output outside production")
	}

	buf.Reset()
	logger = Setup("relayd", "production", WithWriter(buf))
	logger.Debug("offer admitted")
	if buf.Len() != 0 {
		t.Fatalf("expected debug suppressed in production, got %s", buf.Bytes())
	}
	logger.Info("offer admitted")
	if buf.Len() == 0 {
		t.Fatal("expected info output in production")
	}
}

func TestMaskFieldRedactsCredentials(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := Setup("relayd", "test", WithWriter(buf))

	secret := "s3cr3t-bearer-token"
	logger.Info("admin endpoints enabled",
		MaskField("admin_token", secret),
		MaskField("address", "9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin"))

	if IsAllowlisted("admin_token") {
		t.Fatalf("admin_token should not be allowlisted: %v", RedactionAllowlist())
	}

	raw := buf.Bytes()
	if bytes.Contains(raw, []byte(secret)) {
		t.Fatalf("log output leaked credential: %s", raw)
	}

	entry := decodeLine(t, raw)
	if entry["admin_token"] != RedactedValue {
		t.Fatalf("expected redacted token, got %v", entry["admin_token"])
	}
	if entry["address"] != "9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin" {
		t.Fatalf("expected allowlisted address untouched, got %v", entry["address"])
	}
}

func TestMaskValueIgnoresEmpty(t *testing.T) {
	if got := MaskValue(""); got != "" {
		t.Fatalf("expected empty value untouched, got %q", got)
	}
	if got := MaskValue("  "); got != "  " {
		t.Fatalf("expected blank value untouched, got %q", got)
	}
	if got := MaskValue("key-material"); got != RedactedValue {
		t.Fatalf("expected redaction, got %q", got)
	}
}
