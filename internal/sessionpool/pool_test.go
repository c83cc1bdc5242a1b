package sessionpool

import (
	"context"
	"testing"
	"time"
)

// These tests exercise the Pool's bookkeeping (keying, confirm-registry
// rebind on restart) rather than a full subprocess round trip, since a real
// `msgcode session` binary isn't available in this environment. /bin/true
// and /bin/false stand in as spawnable placeholders; the assertions never
// depend on their stdout.

func TestConfirmRegistryRebindsOnRestart(t *testing.T) {
	p := New("/bin/true", 5*time.Second)
	ctx := context.Background()

	reg, err := p.ConfirmRegistryFor(ctx, "/tmp/ws", "desktop")
	if err != nil {
		t.Fatalf("ConfirmRegistryFor: %v", err)
	}
	if reg == nil {
		t.Fatalf("expected non-nil confirm registry")
	}
	firstSessionID := reg.SessionID()

	if err := p.restart(ctx, "/tmp/ws", "desktop"); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if reg.SessionID() == firstSessionID {
		t.Fatalf("expected Rebind to change the session id after a restart")
	}

	p.Close()
}

func TestEntriesAreKeyedByWorkspaceAndKind(t *testing.T) {
	p := New("/bin/true", time.Second)
	ctx := context.Background()

	regA, err := p.ConfirmRegistryFor(ctx, "/tmp/wsA", "desktop")
	if err != nil {
		t.Fatalf("ConfirmRegistryFor A: %v", err)
	}
	regB, err := p.ConfirmRegistryFor(ctx, "/tmp/wsB", "desktop")
	if err != nil {
		t.Fatalf("ConfirmRegistryFor B: %v", err)
	}
	if regA == regB {
		t.Fatalf("expected distinct registries for distinct workspaces")
	}

	regSameKind, err := p.ConfirmRegistryFor(ctx, "/tmp/wsA", "desktop")
	if err != nil {
		t.Fatalf("ConfirmRegistryFor A again: %v", err)
	}
	if regA != regSameKind {
		t.Fatalf("expected the same entry to be reused for an existing (workspace, kind) key")
	}

	p.Close()
}
