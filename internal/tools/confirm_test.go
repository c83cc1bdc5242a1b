package tools

import (
	"testing"
	"time"
)

func TestConfirmRegistryRejectsConsumedTokenAsUsed(t *testing.T) {
	reg := NewConfirmRegistry("session-1")
	intent := Intent{Method: "desktop.typeText", Params: map[string]any{"text": "hi"}}
	token := reg.Issue(intent, time.Minute)

	ok, reason := reg.Validate(token.Value, intent)
	if !ok || reason != "" {
		t.Fatalf("expected first validation to succeed, got ok=%v reason=%q", ok, reason)
	}

	ok, reason = reg.Validate(token.Value, intent)
	if ok || reason != "used" {
		t.Fatalf("expected a re-presented token to be rejected with reason=\"used\", got ok=%v reason=%q", ok, reason)
	}
}
