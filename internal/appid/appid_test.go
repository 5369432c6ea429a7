package appid

import (
	"context"
	"strings"
	"testing"
)

func TestGetReturnsIdentity(t *testing.T) {
	identity, err := Get(context.Background())
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if identity.BinaryName != BinaryName {
		t.Fatalf("expected BinaryName %q, got %q", BinaryName, identity.BinaryName)
	}
	if !strings.HasSuffix(identity.EnvPrefix, "_") {
		t.Fatalf("expected env prefix to end with underscore, got %q", identity.EnvPrefix)
	}
	if identity.ConfigName == "" || identity.Vendor == "" {
		t.Fatalf("expected config name and vendor to be set")
	}
}

func TestGetReturnsCopy(t *testing.T) {
	first, err := Get(context.Background())
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	first.BinaryName = "mutated"

	second, err := Get(context.Background())
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if second.BinaryName != BinaryName {
		t.Fatalf("expected identity to be unaffected by caller mutation")
	}
}

func TestGetHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Get(ctx); err == nil {
		t.Fatalf("expected error for cancelled context")
	}
}
