// ABOUTME: Session Store holding identity, token and authentication status
// ABOUTME: Drives the Unauthenticated/Authenticating/Authenticated state machine

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Session errors
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrTokenInvalid       = errors.New("token invalid")
	ErrInvalidTransition  = errors.New("invalid session transition")
)

// AuthError reports a failed authentication. It clears the session and
// sends the user back to the login page. Unwrap yields ErrInvalidCredentials,
// ErrTokenInvalid, or the transport failure.
type AuthError struct {
	Op  string
	Err error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("session %s: %v", e.Op, e.Err)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// Status is the authentication state.
type Status int

const (
	Unauthenticated Status = iota
	Authenticating
	Authenticated
)

func (s Status) String() string {
	switch s {
	case Unauthenticated:
		return "unauthenticated"
	case Authenticating:
		return "authenticating"
	case Authenticated:
		return "authenticated"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// User is the identity returned by the identity endpoint.
type User struct {
	ID          string   `json:"id"`
	Username    string   `json:"username"`
	DisplayName string   `json:"displayName"`
	Roles       []string `json:"roles,omitempty"`
}

// Session is a point-in-time copy of the store's state.
type Session struct {
	Identity        *User
	Token           string
	Status          Status
	IsAuthenticated bool
	IsLoading       bool
}

// Credentials are what a user types into the login form.
type Credentials struct {
	Username string
	Password string
}

// IdentityService is the remote identity endpoint. Login reports rejected
// credentials with an error wrapping ErrInvalidCredentials; Me reports a
// rejected token with an error wrapping ErrTokenInvalid.
type IdentityService interface {
	Login(ctx context.Context, username, password string) (token string, user *User, err error)
	Me(ctx context.Context, token string) (*User, error)
}

// Invalidator drops cached entitlements. The permission oracle satisfies it.
type Invalidator interface {
	Invalidate()
}

// Store owns the single Session of one application instance.
type Store struct {
	mu       sync.Mutex
	status   Status
	identity *User
	token    string
	// epoch increments whenever the session is torn down, so results of
	// calls that started before the teardown are discarded.
	epoch uint64

	repo        Repository
	ids         IdentityService
	invalidator Invalidator
	onAuth      []func(context.Context)
	onChange    []func(Status)
	logger      *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger.With("component", "session")
	}
}

// WithInvalidator wires the cache that logout must clear.
func WithInvalidator(inv Invalidator) Option {
	return func(s *Store) {
		s.invalidator = inv
	}
}

// OnAuthenticated registers fn to run after each transition into
// Authenticated, outside the store lock.
func OnAuthenticated(fn func(ctx context.Context)) Option {
	return func(s *Store) {
		s.onAuth = append(s.onAuth, fn)
	}
}

// OnTransition registers fn to observe every status change. It runs under
// the store lock and must not call back into the Store.
func OnTransition(fn func(to Status)) Option {
	return func(s *Store) {
		s.onChange = append(s.onChange, fn)
	}
}

// NewStore creates an unauthenticated Store.
func NewStore(repo Repository, ids IdentityService, opts ...Option) *Store {
	s := &Store{
		repo:   repo,
		ids:    ids,
		logger: slog.Default().With("component", "session"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetInvalidator wires the cache after construction, for callers that build
// the cache from the store.
func (s *Store) SetInvalidator(inv Invalidator) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invalidator = inv
}

// Session returns a copy of the current state.
func (s *Store) Session() Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Token returns the credential token while authenticated, else "".
func (s *Store) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != Authenticated {
		return ""
	}
	return s.token
}

func (s *Store) snapshotLocked() Session {
	var identity *User
	if s.identity != nil {
		u := *s.identity
		u.Roles = append([]string(nil), s.identity.Roles...)
		identity = &u
	}
	return Session{
		Identity:        identity,
		Token:           s.token,
		Status:          s.status,
		IsAuthenticated: s.status == Authenticated,
		IsLoading:       s.status == Authenticating,
	}
}

// transitionLocked moves to the given status, rejecting edges outside the
// state machine.
func (s *Store) transitionLocked(to Status) error {
	from := s.status
	switch {
	case from == Unauthenticated && to == Authenticating:
	case from == Authenticating && (to == Authenticated || to == Unauthenticated):
	case from == Authenticated && to == Unauthenticated:
	default:
		return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, from, to)
	}
	s.status = to
	for _, fn := range s.onChange {
		fn(to)
	}
	return nil
}

// resetLocked drops identity and token and bumps the epoch.
func (s *Store) resetLocked() {
	s.epoch++
	s.identity = nil
	s.token = ""
	if s.status != Unauthenticated {
		s.status = Unauthenticated
		for _, fn := range s.onChange {
			fn(Unauthenticated)
		}
	}
	if s.invalidator != nil {
		s.invalidator.Invalidate()
	}
}

func (s *Store) fireAuthenticated(ctx context.Context) {
	for _, fn := range s.onAuth {
		fn(ctx)
	}
}

// Login authenticates with the identity endpoint. It is only valid from
// Unauthenticated. On success the token is persisted and the session becomes
// Authenticated; on failure it returns an *AuthError and stays Unauthenticated.
func (s *Store) Login(ctx context.Context, creds Credentials) (Session, error) {
	s.mu.Lock()
	if err := s.transitionLocked(Authenticating); err != nil {
		snap := s.snapshotLocked()
		s.mu.Unlock()
		return snap, err
	}
	epoch := s.epoch
	s.mu.Unlock()

	token, user, err := s.ids.Login(ctx, creds.Username, creds.Password)

	s.mu.Lock()
	if s.epoch != epoch {
		// Logged out while the call was in flight.
		snap := s.snapshotLocked()
		s.mu.Unlock()
		return snap, &AuthError{Op: "login", Err: context.Canceled}
	}
	if err != nil {
		_ = s.transitionLocked(Unauthenticated)
		snap := s.snapshotLocked()
		s.mu.Unlock()
		s.logger.Info("login failed", "username", creds.Username, "error", err)
		return snap, &AuthError{Op: "login", Err: err}
	}

	if err := s.repo.Save(ctx, token); err != nil {
		s.logger.Warn("failed to persist token", "error", err)
	}
	s.identity = user
	s.token = token
	_ = s.transitionLocked(Authenticated)
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.logger.Info("logged in", "user_id", user.ID, "username", user.Username)
	s.fireAuthenticated(ctx)
	return snap, nil
}

// Logout clears the persisted token, sets the logged-out sentinel, resets the
// session and invalidates the permission cache, all under one lock. The
// session is reset even when persistence fails.
func (s *Store) Logout(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := errors.Join(s.repo.Clear(ctx), s.repo.SetLoggedOut(ctx, true))
	s.resetLocked()

	if err != nil {
		s.logger.Warn("logout persisted partially", "error", err)
		return fmt.Errorf("clearing persisted session: %w", err)
	}
	s.logger.Info("logged out")
	return nil
}

// Expire ends the session after the token was rejected. Unlike Logout it
// leaves the logged-out sentinel alone.
func (s *Store) Expire(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status == Unauthenticated {
		return
	}
	if err := s.repo.Clear(ctx); err != nil {
		s.logger.Warn("failed to clear expired token", "error", err)
	}
	s.resetLocked()
	s.logger.Info("session expired")
}

// Restore hydrates the session from the persisted token. It never fails:
// a missing token, the logged-out sentinel, or a rejected token all leave
// the session Unauthenticated. Restore on a non-idle store is a no-op.
func (s *Store) Restore(ctx context.Context) {
	s.mu.Lock()
	if s.status != Unauthenticated {
		s.mu.Unlock()
		return
	}

	loggedOut, err := s.repo.LoggedOut(ctx)
	if err != nil {
		s.mu.Unlock()
		s.logger.Warn("failed to read logged-out flag", "error", err)
		return
	}
	if loggedOut {
		s.mu.Unlock()
		s.logger.Debug("restore skipped after explicit logout")
		return
	}

	token, err := s.repo.Load(ctx)
	if err != nil || token == "" {
		s.mu.Unlock()
		if err != nil {
			s.logger.Warn("failed to load persisted token", "error", err)
		}
		return
	}

	_ = s.transitionLocked(Authenticating)
	epoch := s.epoch
	s.mu.Unlock()

	user, err := s.ids.Me(ctx, token)

	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		return
	}
	if err != nil {
		if cerr := s.repo.Clear(ctx); cerr != nil {
			s.logger.Warn("failed to clear rejected token", "error", cerr)
		}
		_ = s.transitionLocked(Unauthenticated)
		s.mu.Unlock()
		s.logger.Info("restore rejected", "error", err)
		return
	}

	s.identity = user
	s.token = token
	_ = s.transitionLocked(Authenticated)
	s.mu.Unlock()

	s.logger.Info("session restored", "user_id", user.ID)
	s.fireAuthenticated(ctx)
}

// Refresh revalidates the token and updates the identity. A rejected token
// expires the session and returns an *AuthError. Transport failures are
// returned as-is and leave the session untouched.
func (s *Store) Refresh(ctx context.Context) error {
	s.mu.Lock()
	if s.status != Authenticated {
		status := s.status
		s.mu.Unlock()
		return fmt.Errorf("%w: refresh while %s", ErrInvalidTransition, status)
	}
	token, epoch := s.token, s.epoch
	s.mu.Unlock()

	user, err := s.ids.Me(ctx, token)
	if err != nil {
		if errors.Is(err, ErrTokenInvalid) {
			s.Expire(ctx)
			return &AuthError{Op: "refresh", Err: err}
		}
		return fmt.Errorf("refreshing session: %w", err)
	}

	s.mu.Lock()
	if s.epoch == epoch {
		s.identity = user
	}
	s.mu.Unlock()
	return nil
}
