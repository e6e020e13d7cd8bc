package utils

import "testing"

func TestSessionSlotScriptsCompile(t *testing.T) {
	// Compile-time smoke test: scripts should be initialized.
	if sessionSlotAcquireScript == nil || sessionSlotReleaseScript == nil {
		t.Fatalf("expected scripts to be initialized")
	}
}

func TestSessionSlotKey(t *testing.T) {
	if got := SessionSlotKey("bk_1"); got != "call_session:slot:bk_1" {
		t.Fatalf("unexpected slot key %q", got)
	}
}
