// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu     sync.RWMutex
	users  map[string]*User                  // keyed by user ID
	roles  map[string]map[RoleName]time.Time // keyed by user ID
	grants map[string]FeatureGrant           // keyed by "role|feature"
	slots  map[string]*SessionSlot           // keyed by slot name
}

var _ Store = (*MockStore)(nil)

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		users:  make(map[string]*User),
		roles:  make(map[string]map[RoleName]time.Time),
		grants: make(map[string]FeatureGrant),
		slots:  make(map[string]*SessionSlot),
	}
}

// CreateUser stores a new user.
func (m *MockStore) CreateUser(ctx context.Context, user *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, u := range m.users {
		if u.Username == user.Username {
			return ErrUsernameExists
		}
	}

	// Make a copy to avoid external modification
	u := *user
	m.users[u.ID] = &u
	return nil
}

// GetUser retrieves a user by ID.
func (m *MockStore) GetUser(ctx context.Context, id string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

// GetUserByUsername retrieves a user by username.
func (m *MockStore) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, u := range m.users {
		if u.Username == username {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrUserNotFound
}

// ListUsers returns all users ordered by creation time.
func (m *MockStore) ListUsers(ctx context.Context) ([]*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	users := make([]*User, 0, len(m.users))
	for _, u := range m.users {
		cp := *u
		users = append(users, &cp)
	}
	sort.Slice(users, func(i, j int) bool {
		if users[i].CreatedAt.Equal(users[j].CreatedAt) {
			return users[i].Username < users[j].Username
		}
		return users[i].CreatedAt.Before(users[j].CreatedAt)
	})
	return users, nil
}

// CountUsers returns the number of users.
func (m *MockStore) CountUsers(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.users), nil
}

// AddRole assigns a role. Idempotent.
func (m *MockStore) AddRole(ctx context.Context, userID string, role RoleName) error {
	if !ValidRole(role) {
		return fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	set, ok := m.roles[userID]
	if !ok {
		set = make(map[RoleName]time.Time)
		m.roles[userID] = set
	}
	if _, exists := set[role]; !exists {
		set[role] = time.Now().UTC()
	}
	return nil
}

// RemoveRole removes a role assignment. Idempotent.
func (m *MockStore) RemoveRole(ctx context.Context, userID string, role RoleName) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.roles[userID], role)
	return nil
}

// ListRoles returns the sorted roles of a user.
func (m *MockStore) ListRoles(ctx context.Context, userID string) ([]RoleName, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	roles := []RoleName{}
	for role := range m.roles[userID] {
		roles = append(roles, role)
	}
	sort.Slice(roles, func(i, j int) bool { return roles[i] < roles[j] })
	return roles, nil
}

// ListAllRoles returns every role assignment ordered by user then role.
func (m *MockStore) ListAllRoles(ctx context.Context) ([]UserRole, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []UserRole
	for userID, set := range m.roles {
		for role, at := range set {
			out = append(out, UserRole{UserID: userID, Role: role, CreatedAt: at})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UserID == out[j].UserID {
			return out[i].Role < out[j].Role
		}
		return out[i].UserID < out[j].UserID
	})
	return out, nil
}

// GrantFeature records a grant. Idempotent.
func (m *MockStore) GrantFeature(ctx context.Context, role RoleName, feature string) error {
	if !ValidRole(role) {
		return fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}
	if !ValidFeature(feature) {
		return fmt.Errorf("%w: %q", ErrInvalidFeature, feature)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := string(role) + "|" + feature
	if _, ok := m.grants[key]; !ok {
		m.grants[key] = FeatureGrant{Role: role, Feature: feature, CreatedAt: time.Now().UTC()}
	}
	return nil
}

// RevokeFeature removes a grant. Idempotent.
func (m *MockStore) RevokeFeature(ctx context.Context, role RoleName, feature string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.grants, string(role)+"|"+feature)
	return nil
}

// ListGrants returns every grant ordered by role then feature.
func (m *MockStore) ListGrants(ctx context.Context) ([]FeatureGrant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	grants := make([]FeatureGrant, 0, len(m.grants))
	for _, g := range m.grants {
		grants = append(grants, g)
	}
	sort.Slice(grants, func(i, j int) bool {
		if grants[i].Role == grants[j].Role {
			return grants[i].Feature < grants[j].Feature
		}
		return grants[i].Role < grants[j].Role
	})
	return grants, nil
}

// GetSlot returns a copy of the slot or ErrNotFound.
func (m *MockStore) GetSlot(ctx context.Context, slot string) (*SessionSlot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.slots[slot]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

// PutSlotToken stores a token and clears the logged-out sentinel.
func (m *MockStore) PutSlotToken(ctx context.Context, slot, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.slots[slot] = &SessionSlot{Slot: slot, Token: token, UpdatedAt: time.Now().UTC()}
	return nil
}

// ClearSlotToken drops the token of an existing slot.
func (m *MockStore) ClearSlotToken(ctx context.Context, slot string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.slots[slot]; ok {
		s.Token = ""
		s.UpdatedAt = time.Now().UTC()
	}
	return nil
}

// SetSlotLoggedOut sets the sentinel, creating the slot if needed.
func (m *MockStore) SetSlotLoggedOut(ctx context.Context, slot string, loggedOut bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.slots[slot]
	if !ok {
		s = &SessionSlot{Slot: slot}
		m.slots[slot] = s
	}
	s.LoggedOut = loggedOut
	s.UpdatedAt = time.Now().UTC()
	return nil
}

// DeleteSlot removes a slot. Idempotent.
func (m *MockStore) DeleteSlot(ctx context.Context, slot string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.slots, slot)
	return nil
}

// Close is a no-op for MockStore.
func (m *MockStore) Close() error {
	return nil
}
