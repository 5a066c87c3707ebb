package identity

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// MemoryProvider is an in-process Provider for tooling and tests. New
// identities start active with a verified email unless DefaultStatus says
// otherwise.
type MemoryProvider struct {
	mu            sync.RWMutex
	byID          map[string]Identity
	byEmail       map[string]string
	DefaultStatus Status
	DefaultRole   string
}

func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{
		byID:        make(map[string]Identity),
		byEmail:     make(map[string]string),
		DefaultRole: "user",
	}
}

func (m *MemoryProvider) Create(_ context.Context, attrs Attributes) (Identity, error) {
	email := normalizeEmail(attrs.Email)

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byEmail[email]; ok {
		return Identity{}, ErrDuplicate
	}

	role := attrs.Role
	if role == "" {
		role = m.DefaultRole
	}
	ident := Identity{
		ID:            uuid.NewString(),
		Email:         email,
		Role:          role,
		Status:        m.DefaultStatus,
		EmailVerified: m.DefaultStatus == StatusActive,
	}
	m.byID[ident.ID] = ident
	m.byEmail[email] = ident.ID
	return ident, nil
}

func (m *MemoryProvider) GetByID(_ context.Context, id string) (Identity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ident, ok := m.byID[id]
	if !ok {
		return Identity{}, ErrNotFound
	}
	return ident, nil
}

func (m *MemoryProvider) GetBySelector(ctx context.Context, selector string) (Identity, error) {
	m.mu.RLock()
	id, ok := m.byEmail[normalizeEmail(selector)]
	m.mu.RUnlock()
	if !ok {
		return Identity{}, ErrNotFound
	}
	return m.GetByID(ctx, id)
}

// SetStatus changes the status of an existing identity.
func (m *MemoryProvider) SetStatus(id string, status Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ident, ok := m.byID[id]
	if !ok {
		return ErrNotFound
	}
	ident.Status = status
	if status == StatusActive {
		ident.EmailVerified = true
	}
	m.byID[id] = ident
	return nil
}

// SetEmailVerified flips the verified flag of an existing identity.
func (m *MemoryProvider) SetEmailVerified(id string, verified bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ident, ok := m.byID[id]
	if !ok {
		return ErrNotFound
	}
	ident.EmailVerified = verified
	m.byID[id] = ident
	return nil
}

func normalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
