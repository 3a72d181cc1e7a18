// ABOUTME: Store interfaces and data types for bizhub persistence
// ABOUTME: Defines users, role assignments, feature grants and session token slots

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrUserNotFound is returned when a user doesn't exist.
var ErrUserNotFound = errors.New("user not found")

// ErrUsernameExists is returned when trying to create a user with an existing username.
var ErrUsernameExists = errors.New("username already exists")

// ErrInvalidRole is returned for role names outside the allowed syntax.
var ErrInvalidRole = errors.New("invalid role name")

// ErrInvalidFeature is returned for feature codes outside the allowed syntax.
var ErrInvalidFeature = errors.New("invalid feature code")

// User is a person who can log in to the portal.
type User struct {
	ID           string
	Username     string
	PasswordHash string // bcrypt hash
	DisplayName  string
	CreatedAt    time.Time
}

// RoleName names a role that feature grants attach to.
type RoleName string

const (
	RoleOwner  RoleName = "owner"
	RoleAdmin  RoleName = "admin"
	RoleMember RoleName = "member"
)

// UserRole is one role assignment.
type UserRole struct {
	UserID    string
	Role      RoleName
	CreatedAt time.Time
}

// FeatureGrant gives every holder of Role access to Feature. A feature ending
// in ".*" covers every code under that prefix; "*" covers everything.
type FeatureGrant struct {
	Role      RoleName
	Feature   string
	CreatedAt time.Time
}

// SessionSlot is the durable token slot of one application instance.
type SessionSlot struct {
	Slot      string
	Token     string
	LoggedOut bool
	UpdatedAt time.Time
}

// UserStore persists portal users.
type UserStore interface {
	CreateUser(ctx context.Context, user *User) error
	GetUser(ctx context.Context, id string) (*User, error)
	GetUserByUsername(ctx context.Context, username string) (*User, error)
	ListUsers(ctx context.Context) ([]*User, error)
	CountUsers(ctx context.Context) (int, error)
}

// RoleStore persists role assignments.
type RoleStore interface {
	AddRole(ctx context.Context, userID string, role RoleName) error
	RemoveRole(ctx context.Context, userID string, role RoleName) error
	ListRoles(ctx context.Context, userID string) ([]RoleName, error)
	ListAllRoles(ctx context.Context) ([]UserRole, error)
}

// GrantStore persists feature grants.
type GrantStore interface {
	GrantFeature(ctx context.Context, role RoleName, feature string) error
	RevokeFeature(ctx context.Context, role RoleName, feature string) error
	ListGrants(ctx context.Context) ([]FeatureGrant, error)
}

// SlotStore persists session token slots.
type SlotStore interface {
	GetSlot(ctx context.Context, slot string) (*SessionSlot, error)
	PutSlotToken(ctx context.Context, slot, token string) error
	ClearSlotToken(ctx context.Context, slot string) error
	SetSlotLoggedOut(ctx context.Context, slot string, loggedOut bool) error
	DeleteSlot(ctx context.Context, slot string) error
}

// Store is the full persistence surface.
type Store interface {
	UserStore
	RoleStore
	GrantStore
	SlotStore

	// Close releases any resources held by the store
	Close() error
}
