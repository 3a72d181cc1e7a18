// ABOUTME: Tests for token issuing, password login and HTTP auth middleware
// ABOUTME: Uses MockStore and httptest; no network access required

package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/bizhub/internal/store"
)

// testSecret is a 32-byte secret that meets MinSecretLength.
var testSecret = []byte("auth-package-test-secret-32byte!")

func newVerifier(t *testing.T) *JWTVerifier {
	t.Helper()
	v, err := NewJWTVerifier(testSecret)
	require.NoError(t, err)
	return v
}

func TestNewJWTVerifier_WeakSecret(t *testing.T) {
	_, err := NewJWTVerifier([]byte("short"))
	assert.ErrorIs(t, err, ErrWeakSecret)
}

func TestJWTVerifier_RoundTrip(t *testing.T) {
	v := newVerifier(t)

	token, err := v.Generate("user-123", time.Hour)
	require.NoError(t, err)

	got, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "user-123", got)
}

func TestJWTVerifier_Rejects(t *testing.T) {
	v := newVerifier(t)

	other, err := NewJWTVerifier([]byte("a-different-secret-of-32-bytes!!"))
	require.NoError(t, err)
	foreign, _ := other.Generate("user-123", time.Hour)

	noExp, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "user-123", "iss": "bizhub"}).SignedString(testSecret)
	noSub, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"iss": "bizhub", "exp": time.Now().Add(time.Hour).Unix()}).SignedString(testSecret)

	tests := []struct {
		name  string
		token string
		want  error
	}{
		{"empty token", "", ErrInvalidToken},
		{"garbage token", "not-a-jwt", ErrInvalidToken},
		{"wrong secret", foreign, ErrInvalidToken},
		{"missing exp", noExp, ErrInvalidToken},
		{"missing sub", noSub, ErrMissingClaim},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Verify(tt.token)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestJWTVerifier_Expired(t *testing.T) {
	v := newVerifier(t)

	token, err := v.Generate("user-123", -time.Minute)
	require.NoError(t, err)

	_, err = v.Verify(token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func seedUser(t *testing.T, s *store.MockStore, password string) *store.User {
	t.Helper()
	hash, err := HashPassword(password)
	require.NoError(t, err)

	user := &store.User{ID: "user-1", Username: "ana", PasswordHash: hash, DisplayName: "Ana", CreatedAt: time.Now()}
	require.NoError(t, s.CreateUser(context.Background(), user))
	require.NoError(t, s.AddRole(context.Background(), user.ID, store.RoleMember))
	return user
}

func TestAuthenticator_Login(t *testing.T) {
	s := store.NewMockStore()
	seedUser(t, s, "correct horse")
	v := newVerifier(t)
	a := NewAuthenticator(s, v, time.Hour)
	ctx := context.Background()

	token, user, err := a.Login(ctx, "ana", "correct horse")
	require.NoError(t, err)
	assert.Equal(t, "user-1", user.ID)

	sub, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", sub)

	_, _, err = a.Login(ctx, "ana", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, _, err = a.Login(ctx, "nobody", "correct horse")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestHTTPAuthMiddleware(t *testing.T) {
	s := store.NewMockStore()
	seedUser(t, s, "pw")
	v := newVerifier(t)
	valid, _ := v.Generate("user-1", time.Hour)
	unknown, _ := v.Generate("user-404", time.Hour)
	expired, _ := v.Generate("user-1", -time.Minute)

	var got *AuthContext
	handler := HTTPAuthMiddleware(s, s, v, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = FromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name   string
		header string
		status int
	}{
		{"valid", "Bearer " + valid, http.StatusOK},
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized},
		{"unknown user", "Bearer " + unknown, http.StatusUnauthorized},
		{"expired", "Bearer " + expired, http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got = nil
			req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.status, rec.Code)
			if tt.status == http.StatusOK {
				require.NotNil(t, got)
				assert.Equal(t, "ana", got.Username)
				assert.True(t, got.HasRole("member"))
			} else {
				assert.Nil(t, got)
			}
		})
	}
}

func TestFromContext_Missing(t *testing.T) {
	assert.Nil(t, FromContext(context.Background()))
	ctx := WithAuth(context.Background(), &AuthContext{UserID: "u"})
	assert.Equal(t, "u", FromContext(ctx).UserID)
}
