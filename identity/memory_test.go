package identity

import (
	"context"
	"errors"
	"testing"
)

func TestMemoryProviderCreateAndLookup(t *testing.T) {
	ctx := context.Background()
	p := NewMemoryProvider()

	ident, err := p.Create(ctx, Attributes{Email: " Alice@Example.com "})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if ident.Role != "user" || ident.Status != StatusActive || !ident.EmailVerified {
		t.Fatalf("unexpected defaults: %+v", ident)
	}

	got, err := p.GetBySelector(ctx, "alice@example.com")
	if err != nil || got.ID != ident.ID {
		t.Fatalf("GetBySelector: %+v err=%v", got, err)
	}

	if _, err := p.Create(ctx, Attributes{Email: "ALICE@example.com"}); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
	if _, err := p.GetByID(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryProviderSetStatus(t *testing.T) {
	ctx := context.Background()
	p := NewMemoryProvider()
	ident, _ := p.Create(ctx, Attributes{Email: "bob@example.com"})

	if err := p.SetStatus(ident.ID, StatusSuspended); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	got, _ := p.GetByID(ctx, ident.ID)
	if got.Status != StatusSuspended {
		t.Fatalf("expected suspended, got %s", got.Status)
	}
	if err := p.SetStatus("missing", StatusActive); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
