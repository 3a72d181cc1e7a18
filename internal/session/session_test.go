// ABOUTME: Tests for the Session Store state machine and lifecycle operations
// ABOUTME: Uses a fake identity service and the in-memory repository

package session

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeIdentity accepts one username/password pair and one token.
type fakeIdentity struct {
	mu        sync.Mutex
	token     string
	user      *User
	password  string
	loginErr  error
	meErr     error
	meCalls   int
	loginHook func()
}

func newFakeIdentity() *fakeIdentity {
	return &fakeIdentity{
		token:    "tok-ana",
		password: "secret",
		user:     &User{ID: "u-1", Username: "ana", DisplayName: "Ana", Roles: []string{"member"}},
	}
}

func (f *fakeIdentity) Login(ctx context.Context, username, password string) (string, *User, error) {
	if f.loginHook != nil {
		f.loginHook()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.loginErr != nil {
		return "", nil, f.loginErr
	}
	if username != f.user.Username || password != f.password {
		return "", nil, ErrInvalidCredentials
	}
	u := *f.user
	return f.token, &u, nil
}

func (f *fakeIdentity) Me(ctx context.Context, token string) (*User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.meCalls++
	if f.meErr != nil {
		return nil, f.meErr
	}
	if token != f.token {
		return nil, ErrTokenInvalid
	}
	u := *f.user
	return &u, nil
}

type countingInvalidator struct{ calls int }

func (c *countingInvalidator) Invalidate() { c.calls++ }

func TestLogin_Success(t *testing.T) {
	repo := NewMemoryRepository()
	inv := &countingInvalidator{}
	var hooked int
	var seen []Status

	s := NewStore(repo, newFakeIdentity(),
		WithInvalidator(inv),
		OnAuthenticated(func(context.Context) { hooked++ }),
		OnTransition(func(to Status) { seen = append(seen, to) }),
	)

	sess, err := s.Login(context.Background(), Credentials{Username: "ana", Password: "secret"})
	require.NoError(t, err)

	assert.True(t, sess.IsAuthenticated)
	assert.False(t, sess.IsLoading)
	assert.Equal(t, Authenticated, sess.Status)
	assert.Equal(t, "ana", sess.Identity.Username)
	assert.Equal(t, "tok-ana", sess.Token)
	assert.Equal(t, 1, hooked)
	assert.Equal(t, []Status{Authenticating, Authenticated}, seen)

	token, _ := repo.Load(context.Background())
	assert.Equal(t, "tok-ana", token, "token persisted through the repository")
	assert.Equal(t, "tok-ana", s.Token())
}

func TestLogin_InvalidCredentials(t *testing.T) {
	s := NewStore(NewMemoryRepository(), newFakeIdentity())

	sess, err := s.Login(context.Background(), Credentials{Username: "ana", Password: "wrong"})

	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	assert.False(t, sess.IsAuthenticated)
	assert.Equal(t, Unauthenticated, s.Session().Status)
	assert.Empty(t, s.Token())
}

func TestLogin_TransportFailure(t *testing.T) {
	ids := newFakeIdentity()
	ids.loginErr = errors.New("connection refused")
	s := NewStore(NewMemoryRepository(), ids)

	_, err := s.Login(context.Background(), Credentials{Username: "ana", Password: "secret"})

	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Contains(t, err.Error(), "connection refused")
	assert.Equal(t, Unauthenticated, s.Session().Status)
}

func TestLogin_WhileAuthenticated(t *testing.T) {
	s := NewStore(NewMemoryRepository(), newFakeIdentity())
	ctx := context.Background()

	_, err := s.Login(ctx, Credentials{Username: "ana", Password: "secret"})
	require.NoError(t, err)

	_, err = s.Login(ctx, Credentials{Username: "ana", Password: "secret"})
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.True(t, s.Session().IsAuthenticated, "failed transition leaves the session as is")
}

func TestLogin_IsLoadingWhileAuthenticating(t *testing.T) {
	ids := newFakeIdentity()
	s := NewStore(NewMemoryRepository(), ids)

	var during Session
	ids.loginHook = func() { during = s.Session() }

	_, err := s.Login(context.Background(), Credentials{Username: "ana", Password: "secret"})
	require.NoError(t, err)

	assert.True(t, during.IsLoading)
	assert.Equal(t, Authenticating, during.Status)
	assert.False(t, during.IsAuthenticated)
}

func TestLogout(t *testing.T) {
	repo := NewMemoryRepository()
	inv := &countingInvalidator{}
	s := NewStore(repo, newFakeIdentity(), WithInvalidator(inv))
	ctx := context.Background()

	_, err := s.Login(ctx, Credentials{Username: "ana", Password: "secret"})
	require.NoError(t, err)

	require.NoError(t, s.Logout(ctx))

	sess := s.Session()
	assert.False(t, sess.IsAuthenticated)
	assert.Nil(t, sess.Identity)
	assert.Empty(t, sess.Token)
	assert.Equal(t, 1, inv.calls, "logout invalidates the permission cache")

	token, _ := repo.Load(ctx)
	assert.Empty(t, token)
	loggedOut, _ := repo.LoggedOut(ctx)
	assert.True(t, loggedOut)
}

func TestLogout_DiscardsInFlightLogin(t *testing.T) {
	ids := newFakeIdentity()
	s := NewStore(NewMemoryRepository(), ids)
	ctx := context.Background()

	ids.loginHook = func() { require.NoError(t, s.Logout(ctx)) }

	_, err := s.Login(ctx, Credentials{Username: "ana", Password: "secret"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, s.Session().IsAuthenticated)
}

func TestRestore_NoToken(t *testing.T) {
	ids := newFakeIdentity()
	s := NewStore(NewMemoryRepository(), ids)

	s.Restore(context.Background())

	assert.Equal(t, Unauthenticated, s.Session().Status)
	assert.Equal(t, 0, ids.meCalls, "no token means no identity call")
}

func TestRestore_ValidToken(t *testing.T) {
	repo := NewMemoryRepository()
	require.NoError(t, repo.Save(context.Background(), "tok-ana"))
	var hooked int
	s := NewStore(repo, newFakeIdentity(), OnAuthenticated(func(context.Context) { hooked++ }))

	s.Restore(context.Background())

	sess := s.Session()
	assert.True(t, sess.IsAuthenticated)
	assert.Equal(t, "u-1", sess.Identity.ID)
	assert.Equal(t, 1, hooked)
}

func TestRestore_RejectedTokenIsCleared(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	require.NoError(t, repo.Save(ctx, "tok-stale"))
	s := NewStore(repo, newFakeIdentity())

	s.Restore(ctx)

	assert.Equal(t, Unauthenticated, s.Session().Status)
	token, _ := repo.Load(ctx)
	assert.Empty(t, token)
	loggedOut, _ := repo.LoggedOut(ctx)
	assert.False(t, loggedOut, "a rejected token is not an explicit logout")
}

func TestRestore_TransportFailureResolvesUnauthenticated(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	require.NoError(t, repo.Save(ctx, "tok-ana"))
	ids := newFakeIdentity()
	ids.meErr = errors.New("timeout")
	s := NewStore(repo, ids)

	s.Restore(ctx)

	assert.Equal(t, Unauthenticated, s.Session().Status)
}

func TestRestore_HonoursLoggedOutSentinel(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	require.NoError(t, repo.Save(ctx, "tok-ana"))
	require.NoError(t, repo.SetLoggedOut(ctx, true))
	ids := newFakeIdentity()
	s := NewStore(repo, ids)

	s.Restore(ctx)

	assert.Equal(t, Unauthenticated, s.Session().Status)
	assert.Equal(t, 0, ids.meCalls)
}

func TestRefresh(t *testing.T) {
	ctx := context.Background()
	ids := newFakeIdentity()
	inv := &countingInvalidator{}
	s := NewStore(NewMemoryRepository(), ids, WithInvalidator(inv))

	assert.ErrorIs(t, s.Refresh(ctx), ErrInvalidTransition)

	_, err := s.Login(ctx, Credentials{Username: "ana", Password: "secret"})
	require.NoError(t, err)

	ids.user.DisplayName = "Ana Souza"
	require.NoError(t, s.Refresh(ctx))
	assert.Equal(t, "Ana Souza", s.Session().Identity.DisplayName)

	ids.meErr = errors.New("bad gateway")
	assert.Error(t, s.Refresh(ctx))
	assert.True(t, s.Session().IsAuthenticated, "transport errors keep the session")

	ids.meErr = ErrTokenInvalid
	err = s.Refresh(ctx)
	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	assert.False(t, s.Session().IsAuthenticated)
	assert.Equal(t, 1, inv.calls)
}

func TestExpire_KeepsSentinelClear(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	s := NewStore(repo, newFakeIdentity())

	_, err := s.Login(ctx, Credentials{Username: "ana", Password: "secret"})
	require.NoError(t, err)

	s.Expire(ctx)

	assert.False(t, s.Session().IsAuthenticated)
	loggedOut, _ := repo.LoggedOut(ctx)
	assert.False(t, loggedOut)
}

func TestStatus_String(t *testing.T) {
	assert.Equal(t, "unauthenticated", Unauthenticated.String())
	assert.Equal(t, "authenticating", Authenticating.String())
	assert.Equal(t, "authenticated", Authenticated.String())
}
