package security

import (
	"bytes"
	"strings"
	"testing"

	"github.com/verdantlabs/oauth2core/internal/testutil"
)

func newTestAuditor(t *testing.T, enabled bool) (*Auditor, *bytes.Buffer) {
	t.Helper()
	logger, buf := testutil.CaptureLogger()
	return NewAuditor(logger, enabled), buf
}

func TestAuditorHashesUserID(t *testing.T) {
	auditor, buf := newTestAuditor(t, true)

	auditor.LogTokenIssued("alice@example.com", "client-1", "password", "read")

	out := buf.String()
	if strings.Contains(out, "alice@example.com") {
		t.Errorf("audit output contains raw user identifier: %s", out)
	}
	if !strings.Contains(out, HashForLogging("alice@example.com")) {
		t.Errorf("audit output missing hashed user identifier: %s", out)
	}
	if !strings.Contains(out, "token_issued") {
		t.Errorf("audit output missing event type: %s", out)
	}
	if !strings.Contains(out, "client-1") {
		t.Errorf("audit output missing client id: %s", out)
	}
}

func TestAuditorDisabled(t *testing.T) {
	auditor, buf := newTestAuditor(t, false)

	auditor.LogTokenIssued("alice", "client-1", "password", "read")
	auditor.LogGrantFailure("client-1", "password", "invalid credentials")

	if buf.Len() != 0 {
		t.Errorf("disabled auditor produced output: %s", buf.String())
	}
}

func TestAuditorNilReceiver(t *testing.T) {
	var auditor *Auditor

	// Must not panic; audit logging is optional everywhere in the engine.
	auditor.LogEvent(Event{Type: "token_issued"})
	auditor.LogGrantFailure("client-1", "password", "invalid credentials")
}

func TestHashForLogging(t *testing.T) {
	if got := HashForLogging(""); got != "<empty>" {
		t.Errorf("HashForLogging(\"\") = %q, want %q", got, "<empty>")
	}

	a := HashForLogging("user-a")
	b := HashForLogging("user-b")
	if a == b {
		t.Error("distinct inputs produced identical hashes")
	}
	if a != HashForLogging("user-a") {
		t.Error("hash is not stable for the same input")
	}
	if len(a) != 16 {
		t.Errorf("hash length = %d, want 16", len(a))
	}
}
