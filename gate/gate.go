// Package gate decides whether an identity may receive or renew tokens.
//
// A rejection is terminal for the call in progress. It never revokes sessions;
// it only stops new issuance and refresh, so access degrades as outstanding
// access tokens expire.
package gate

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrEthical07/credlife/identity"
)

// Reason is the machine-readable cause of a rejection.
type Reason string

const (
	ReasonNotFound        Reason = "not_found"
	ReasonSuspended       Reason = "suspended"
	ReasonDeleted         Reason = "deleted"
	ReasonEmailUnverified Reason = "email_unverified"
)

// ErrNotEligible matches every *Error via errors.Is.
var ErrNotEligible = errors.New("gate: account not eligible")

// Error carries the rejection reason.
type Error struct {
	Reason Reason
}

func (e *Error) Error() string {
	return fmt.Sprintf("gate: account not eligible (%s)", e.Reason)
}

func (e *Error) Is(target error) bool {
	return target == ErrNotEligible
}

// Gate evaluates identity status.
type Gate struct {
	provider        identity.Provider
	requireVerified bool
}

// New returns a Gate reading from p. When requireVerified is set, active
// identities must also have a verified email address.
func New(p identity.Provider, requireVerified bool) *Gate {
	return &Gate{provider: p, requireVerified: requireVerified}
}

// Check fetches the identity and evaluates it. Provider failures other than
// identity.ErrNotFound are returned unchanged so callers can treat them as
// storage errors.
func (g *Gate) Check(ctx context.Context, identityID string) (identity.Identity, error) {
	ident, err := g.provider.GetByID(ctx, identityID)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return identity.Identity{}, &Error{Reason: ReasonNotFound}
		}
		return identity.Identity{}, err
	}
	if err := g.CheckIdentity(ident); err != nil {
		return ident, err
	}
	return ident, nil
}

// CheckIdentity evaluates an identity the caller already holds.
func (g *Gate) CheckIdentity(ident identity.Identity) error {
	switch ident.Status {
	case identity.StatusActive:
		if g.requireVerified && !ident.EmailVerified {
			return &Error{Reason: ReasonEmailUnverified}
		}
		return nil
	case identity.StatusPendingVerification:
		return &Error{Reason: ReasonEmailUnverified}
	case identity.StatusSuspended:
		return &Error{Reason: ReasonSuspended}
	case identity.StatusDeleted:
		return &Error{Reason: ReasonDeleted}
	default:
		return &Error{Reason: ReasonSuspended}
	}
}

// ReasonOf extracts the rejection reason, or "" if err is not a gate error.
func ReasonOf(err error) Reason {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Reason
	}
	return ""
}
