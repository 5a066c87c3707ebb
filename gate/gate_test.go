package gate

import (
	"context"
	"errors"
	"testing"

	"github.com/MrEthical07/credlife/identity"
)

type stubProvider struct {
	ident identity.Identity
	err   error
}

func (s stubProvider) Create(context.Context, identity.Attributes) (identity.Identity, error) {
	return identity.Identity{}, errors.New("not implemented")
}

func (s stubProvider) GetByID(context.Context, string) (identity.Identity, error) {
	return s.ident, s.err
}

func (s stubProvider) GetBySelector(context.Context, string) (identity.Identity, error) {
	return s.ident, s.err
}

func TestCheckReasons(t *testing.T) {
	storeDown := errors.New("connection refused")

	tests := []struct {
		name            string
		provider        stubProvider
		requireVerified bool
		want            Reason
		wantErr         error
	}{
		{name: "active", provider: stubProvider{ident: identity.Identity{ID: "u1", Status: identity.StatusActive, EmailVerified: true}}},
		{name: "active unverified allowed", provider: stubProvider{ident: identity.Identity{ID: "u1", Status: identity.StatusActive}}},
		{name: "active unverified required", provider: stubProvider{ident: identity.Identity{ID: "u1", Status: identity.StatusActive}}, requireVerified: true, want: ReasonEmailUnverified},
		{name: "pending", provider: stubProvider{ident: identity.Identity{ID: "u1", Status: identity.StatusPendingVerification}}, want: ReasonEmailUnverified},
		{name: "suspended", provider: stubProvider{ident: identity.Identity{ID: "u1", Status: identity.StatusSuspended}}, want: ReasonSuspended},
		{name: "deleted", provider: stubProvider{ident: identity.Identity{ID: "u1", Status: identity.StatusDeleted}}, want: ReasonDeleted},
		{name: "missing", provider: stubProvider{err: identity.ErrNotFound}, want: ReasonNotFound},
		{name: "store down", provider: stubProvider{err: storeDown}, wantErr: storeDown},
	}

	for _, tc := range tests {
		g := New(tc.provider, tc.requireVerified)
		_, err := g.Check(context.Background(), "u1")

		switch {
		case tc.wantErr != nil:
			if !errors.Is(err, tc.wantErr) || errors.Is(err, ErrNotEligible) {
				t.Fatalf("%s: expected passthrough error, got %v", tc.name, err)
			}
		case tc.want == "":
			if err != nil {
				t.Fatalf("%s: expected eligible, got %v", tc.name, err)
			}
		default:
			if !errors.Is(err, ErrNotEligible) || ReasonOf(err) != tc.want {
				t.Fatalf("%s: expected reason %s, got %v", tc.name, tc.want, err)
			}
		}
	}
}
