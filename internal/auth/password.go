// ABOUTME: Password hashing and credential checks for portal users
// ABOUTME: bcrypt hashes live in the user store; Authenticator turns credentials into tokens

package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/2389/bizhub/internal/store"
)

// ErrInvalidCredentials is returned for an unknown username or a wrong password.
var ErrInvalidCredentials = errors.New("invalid credentials")

// HashPassword returns a bcrypt hash of password.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hashing password: %w", err)
	}
	return string(hash), nil
}

// CheckPassword reports whether password matches hash.
func CheckPassword(hash, password string) bool {
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// Authenticator checks credentials against the user store and issues tokens.
type Authenticator struct {
	users    store.UserStore
	verifier *JWTVerifier
	ttl      time.Duration
	logger   *slog.Logger

	dummyOnce sync.Once
	dummyHash []byte
}

// NewAuthenticator creates an Authenticator issuing tokens valid for ttl.
func NewAuthenticator(users store.UserStore, verifier *JWTVerifier, ttl time.Duration) *Authenticator {
	return &Authenticator{
		users:    users,
		verifier: verifier,
		ttl:      ttl,
		logger:   slog.Default().With("component", "auth"),
	}
}

// Login verifies username and password and returns a fresh token.
func (a *Authenticator) Login(ctx context.Context, username, password string) (string, *store.User, error) {
	user, err := a.users.GetUserByUsername(ctx, username)
	if errors.Is(err, store.ErrUserNotFound) {
		// Burn comparable time so unknown usernames are not distinguishable.
		a.dummyOnce.Do(func() {
			a.dummyHash, _ = bcrypt.GenerateFromPassword([]byte("bizhub"), bcrypt.DefaultCost)
		})
		_ = bcrypt.CompareHashAndPassword(a.dummyHash, []byte(password))
		return "", nil, ErrInvalidCredentials
	}
	if err != nil {
		return "", nil, fmt.Errorf("looking up user: %w", err)
	}

	if !CheckPassword(user.PasswordHash, password) {
		a.logger.Info("login rejected", "username", username)
		return "", nil, ErrInvalidCredentials
	}

	token, err := a.verifier.Generate(user.ID, a.ttl)
	if err != nil {
		return "", nil, fmt.Errorf("generating token: %w", err)
	}

	a.logger.Info("login accepted", "user_id", user.ID, "username", username)
	return token, user, nil
}
