package storage

import (
	"context"
	"testing"
)

func TestOwnerContext(t *testing.T) {
	ctx := context.Background()
	if got := GetOwner(ctx); got != "" {
		t.Errorf("GetOwner(empty) = %q, want empty", got)
	}

	ctx = SetOwner(ctx, "user_123")
	if got := GetOwner(ctx); got != "user_123" {
		t.Errorf("GetOwner = %q, want user_123", got)
	}

	ctx = SetOwner(ctx, "user_456")
	if got := GetOwner(ctx); got != "user_456" {
		t.Errorf("GetOwner after override = %q, want user_456", got)
	}
}
