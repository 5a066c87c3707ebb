// Package identity defines the identity collaborator the engine reads from.
// Identity records are owned elsewhere. The engine creates them only at join
// and otherwise reads them.
package identity

import (
	"context"
	"errors"
)

// Status is the lifecycle state of an identity.
type Status uint8

const (
	StatusActive Status = iota
	StatusPendingVerification
	StatusSuspended
	StatusDeleted
)

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusPendingVerification:
		return "pending_verification"
	case StatusSuspended:
		return "suspended"
	case StatusDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}

var (
	ErrNotFound  = errors.New("identity: not found")
	ErrDuplicate = errors.New("identity: already exists")
)

// Identity is the read model of a principal.
type Identity struct {
	ID            string
	Email         string
	Role          string
	Status        Status
	EmailVerified bool
}

// Attributes are the caller-supplied fields used to create an identity at join.
type Attributes struct {
	Email    string            `validate:"required,email,max=254"`
	Role     string            `validate:"omitempty,max=64"`
	Metadata map[string]string `validate:"omitempty,max=32"`
}

// Provider is the external identity store.
type Provider interface {
	Create(ctx context.Context, attrs Attributes) (Identity, error)
	GetByID(ctx context.Context, id string) (Identity, error)
	// GetBySelector resolves a login selector such as an email address.
	GetBySelector(ctx context.Context, selector string) (Identity, error)
}
