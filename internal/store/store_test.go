package store

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blindodon/mastodon-core/internal/remote"
	"github.com/blindodon/mastodon-core/internal/secrets"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestStore(t *testing.T, opts ...Option) (*Store, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	opts = append([]Option{WithClock(clock.now)}, opts...)
	s, err := Open(filepath.Join(t.TempDir(), "cache.db"), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, clock
}

func testAccount(id string) *Account {
	user, instance, _ := strings.Cut(id, "@")
	return &Account{
		ID:          id,
		InstanceURL: "https://" + instance,
		Username:    user,
		Acct:        user,
		DisplayName: strings.ToUpper(user),
		AccessToken: "token-" + user,
	}
}

func countDefaults(t *testing.T, s *Store) int {
	t.Helper()
	var n int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM accounts WHERE is_default = 1`).Scan(&n))
	return n
}

func TestSaveAndGetAccount(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	avatar := "https://example.social/a.png"
	a := testAccount("alice@example.social")
	a.AvatarURL = &avatar
	a.RefreshToken = "refresh"
	require.NoError(t, s.SaveAccount(ctx, a))

	got, err := s.GetAccount(ctx, "alice@example.social")
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Username)
	assert.Equal(t, "ALICE", got.DisplayName)
	assert.Equal(t, "token-alice", got.AccessToken)
	assert.Equal(t, "refresh", got.RefreshToken)
	require.NotNil(t, got.AvatarURL)
	assert.Equal(t, avatar, *got.AvatarURL)
	assert.False(t, got.AddedAt.IsZero())

	_, err = s.GetAccount(ctx, "nobody@example.social")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSaveAccountUpserts(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	a := testAccount("alice@example.social")
	require.NoError(t, s.SaveAccount(ctx, a))
	a.AccessToken = "rotated"
	a.DisplayName = "Alice B."
	require.NoError(t, s.SaveAccount(ctx, a))

	all, err := s.ListAccounts(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "rotated", all[0].AccessToken)
	assert.Equal(t, "Alice B.", all[0].DisplayName)
}

func TestAccountJSONOmitsTokens(t *testing.T) {
	a := testAccount("alice@example.social")
	a.RefreshToken = "refresh-secret"

	data, err := json.Marshal(a)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "token-alice")
	assert.NotContains(t, string(data), "refresh-secret")
	assert.Contains(t, string(data), `"instance_url":"https://example.social"`)
}

func TestAtMostOneDefault(t *testing.T) {
	ctx := context.Background()
	s, clock := newTestStore(t)

	for _, id := range []string{"a@one.social", "b@two.social", "c@three.social"} {
		acc := testAccount(id)
		acc.IsDefault = true
		require.NoError(t, s.SaveAccount(ctx, acc))
		clock.advance(time.Minute)
		assert.Equal(t, 1, countDefaults(t, s))
	}

	require.NoError(t, s.SetDefaultAccount(ctx, "a@one.social"))
	assert.Equal(t, 1, countDefaults(t, s))

	def, err := s.GetDefaultAccount(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a@one.social", def.ID)
	assert.True(t, def.IsDefault)
	assert.Equal(t, clock.t, def.LastUsedAt)

	assert.ErrorIs(t, s.SetDefaultAccount(ctx, "ghost@nowhere"), ErrNotFound)
	assert.Equal(t, 1, countDefaults(t, s), "failed set-default must not clear the flag")
}

func TestConcurrentDefaultSavesLeaveOneDefault(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	ids := []string{"a@one.social", "b@two.social", "c@three.social", "d@four.social", "e@five.social"}
	for round := 0; round < 20; round++ {
		var wg sync.WaitGroup
		for _, id := range ids {
			wg.Add(1)
			go func() {
				defer wg.Done()
				acc := testAccount(id)
				acc.IsDefault = true
				assert.NoError(t, s.SaveAccount(ctx, acc))
			}()
		}
		wg.Wait()
		require.Equal(t, 1, countDefaults(t, s), "round %d", round)
	}
}

func TestDefaultFallsBackToMostRecentlyUsed(t *testing.T) {
	ctx := context.Background()
	s, clock := newTestStore(t)

	_, err := s.GetDefaultAccount(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	older := testAccount("old@example.social")
	require.NoError(t, s.SaveAccount(ctx, older))
	clock.advance(time.Hour)
	newer := testAccount("new@example.social")
	require.NoError(t, s.SaveAccount(ctx, newer))

	def, err := s.GetDefaultAccount(ctx)
	require.NoError(t, err)
	assert.Equal(t, "new@example.social", def.ID)
	assert.False(t, def.IsDefault)

	list, err := s.ListAccounts(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "new@example.social", list[0].ID)
}

func TestDeleteAccount(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	require.NoError(t, s.SaveAccount(ctx, testAccount("alice@example.social")))
	require.NoError(t, s.CachePosts(ctx, "alice@example.social", []remote.Post{{ID: "1", Content: "<p>hi</p>"}}))

	require.NoError(t, s.DeleteAccount(ctx, "alice@example.social"))
	require.NoError(t, s.DeleteAccount(ctx, "alice@example.social"))

	_, err := s.GetAccount(ctx, "alice@example.social")
	assert.ErrorIs(t, err, ErrNotFound)

	var n int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM posts`).Scan(&n))
	assert.Zero(t, n)
}

func TestSettings(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	_, ok, err := s.GetSetting(ctx, "theme")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.SetSetting(ctx, "theme", "dark"))
	require.NoError(t, s.SetSetting(ctx, "theme", "dark"))
	require.NoError(t, s.SetSetting(ctx, "sound", ""))

	v, ok, err := s.GetSetting(ctx, "theme")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "dark", v)

	v, ok, err = s.GetSetting(ctx, "sound")
	require.NoError(t, err)
	assert.True(t, ok, "empty string is a stored value, not absence")
	assert.Empty(t, v)

	all, err := s.AllSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"theme": "dark", "sound": ""}, all)

	removed, err := s.DeleteSetting(ctx, "theme")
	require.NoError(t, err)
	assert.True(t, removed)
	removed, err = s.DeleteSetting(ctx, "theme")
	require.NoError(t, err)
	assert.False(t, removed)
	_, ok, err = s.GetSetting(ctx, "theme")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCachePostsAndCleanup(t *testing.T) {
	ctx := context.Background()
	s, clock := newTestStore(t)

	require.NoError(t, s.CachePosts(ctx, "a@x", []remote.Post{{ID: "1"}, {ID: "2"}}))
	clock.advance(5 * 24 * time.Hour)
	require.NoError(t, s.CachePosts(ctx, "a@x", []remote.Post{{ID: "2", Content: "edited"}, {ID: "3"}}))
	clock.advance(3 * 24 * time.Hour)

	removed, err := s.CleanupPosts(ctx, 7*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed, "only post 1 was cached more than a week ago")

	var content string
	require.NoError(t, s.db.QueryRow(`SELECT content FROM posts WHERE id = '2'`).Scan(&content))
	assert.Equal(t, "edited", content)
}

func TestSealedTokens(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "cache.db")

	s, err := Open(path, WithPassphrase("pw"))
	require.NoError(t, err)
	require.NoError(t, s.SaveAccount(ctx, testAccount("alice@example.social")))

	var raw string
	require.NoError(t, s.db.QueryRow(`SELECT access_token FROM accounts`).Scan(&raw))
	assert.True(t, secrets.IsSealed(raw))
	assert.NotContains(t, raw, "token-alice")
	require.NoError(t, s.Close())

	reopened, err := Open(path, WithPassphrase("pw"))
	require.NoError(t, err)
	got, err := reopened.GetAccount(ctx, "alice@example.social")
	require.NoError(t, err)
	assert.Equal(t, "token-alice", got.AccessToken)
	require.NoError(t, reopened.Close())

	wrong, err := Open(path, WithPassphrase("nope"))
	require.NoError(t, err)
	defer wrong.Close()
	_, err = wrong.GetAccount(ctx, "alice@example.social")
	assert.ErrorIs(t, err, ErrEncryption)
	assert.ErrorIs(t, err, secrets.ErrWrongPassphrase)
}
