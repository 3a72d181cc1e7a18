// ABOUTME: Contract tests shared by every session Repository backend
// ABOUTME: Redis runs against miniredis, SQLite against a temp database

package session

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/bizhub/internal/store"
)

func newRedisRepository(t *testing.T) (*RedisRepository, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisRepository(rdb, "bizhub", "inst-1", time.Hour), mr
}

func repositories(t *testing.T) map[string]Repository {
	t.Helper()

	sqlite, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "portal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sqlite.Close() })

	rr, _ := newRedisRepository(t)

	return map[string]Repository{
		"memory": NewMemoryRepository(),
		"file":   NewFileRepository(filepath.Join(t.TempDir(), "nested", "session.json")),
		"slot":   NewSlotRepository(sqlite, "inst-1"),
		"mock":   NewSlotRepository(store.NewMockStore(), "inst-1"),
		"redis":  rr,
	}
}

func TestRepositoryContract(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			token, err := repo.Load(ctx)
			require.NoError(t, err)
			assert.Empty(t, token, "empty slot loads as no token")

			loggedOut, err := repo.LoggedOut(ctx)
			require.NoError(t, err)
			assert.False(t, loggedOut)

			require.NoError(t, repo.SetLoggedOut(ctx, true))
			require.NoError(t, repo.Save(ctx, "tok-1"))

			token, err = repo.Load(ctx)
			require.NoError(t, err)
			assert.Equal(t, "tok-1", token)

			loggedOut, err = repo.LoggedOut(ctx)
			require.NoError(t, err)
			assert.False(t, loggedOut, "save clears the sentinel")

			require.NoError(t, repo.Clear(ctx))
			require.NoError(t, repo.SetLoggedOut(ctx, true))

			token, err = repo.Load(ctx)
			require.NoError(t, err)
			assert.Empty(t, token)

			loggedOut, err = repo.LoggedOut(ctx)
			require.NoError(t, err)
			assert.True(t, loggedOut)
		})
	}
}

func TestFileRepository_Permissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	repo := NewFileRepository(path)

	require.NoError(t, repo.Save(context.Background(), "tok"))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestRedisRepository_TTL(t *testing.T) {
	repo, mr := newRedisRepository(t)
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, "tok"))
	assert.Equal(t, time.Hour, mr.TTL("bizhub:slot:inst-1"))

	mr.FastForward(2 * time.Hour)

	token, err := repo.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, token, "idle slots expire")
}

func TestRestoreAcrossStores(t *testing.T) {
	ctx := context.Background()
	repo, _ := newRedisRepository(t)

	first := NewStore(repo, newFakeIdentity())
	_, err := first.Login(ctx, Credentials{Username: "ana", Password: "secret"})
	require.NoError(t, err)

	second := NewStore(repo, newFakeIdentity())
	second.Restore(ctx)
	assert.True(t, second.Session().IsAuthenticated, "a second process restores from the shared slot")

	require.NoError(t, second.Logout(ctx))

	third := NewStore(repo, newFakeIdentity())
	third.Restore(ctx)
	assert.False(t, third.Session().IsAuthenticated, "explicit logout suppresses auto-restore")
}
