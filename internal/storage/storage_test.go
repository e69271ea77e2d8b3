package storage

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "lovepush/pkg/logx"
)

func openDrivers(t *testing.T) map[string]Store {
	t.Helper()
	dir := t.TempDir()
	out := map[string]Store{}
	for _, cfg := range []Config{
		{Driver: "memory"},
		{Driver: "file", Path: filepath.Join(dir, "file", "state.json")},
		{Driver: "sqlite", Path: filepath.Join(dir, "sqlite", "state.db")},
	} {
		st, err := Open(cfg, logx.Nop())
		require.NoError(t, err, cfg.Driver)
		t.Cleanup(func() { _ = st.Close() })
		out[cfg.Driver] = st
	}
	return out
}

func TestKV(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	for name, st := range openDrivers(t) {
		t.Run(name, func(t *testing.T) {
			_, ok, err := st.Get(ctx, "missing")
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, st.Set(ctx, "love-notifications-enabled", "true"))
			require.NoError(t, st.Set(ctx, "love-notifications-enabled", "false"))
			v, ok, err := st.Get(ctx, "love-notifications-enabled")
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, "false", v)
		})
	}
}

func TestUsers(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	for name, st := range openDrivers(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, st.UpsertUser(ctx, User{ID: "b", Kind: KindPush, Endpoint: "https://push/b", P256dh: "k", Auth: "a", RegisteredAt: base.Add(time.Minute), Active: true}))
			require.NoError(t, st.UpsertUser(ctx, User{ID: "a", Kind: KindSimple, UserAgent: "ua", RegisteredAt: base, Active: true}))
			require.NoError(t, st.UpsertUser(ctx, User{ID: "c", Kind: KindSimple, RegisteredAt: base, Active: false}))

			users, err := st.ActiveUsers(ctx)
			require.NoError(t, err)
			require.Len(t, users, 2)
			assert.Equal(t, "a", users[0].ID)
			assert.Equal(t, "https://push/b", users[1].Endpoint)

			at := base.Add(time.Hour)
			require.NoError(t, st.MarkNotified(ctx, "b", at))
			require.NoError(t, st.DeactivateUser(ctx, "a"))
			require.NoError(t, st.DeactivateUser(ctx, "unknown"))

			users, err = st.ActiveUsers(ctx)
			require.NoError(t, err)
			require.Len(t, users, 1)
			require.NotNil(t, users[0].LastNotification)
			assert.True(t, users[0].LastNotification.Equal(at))
		})
	}
}

func TestFileStoreSurvivesReopen(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	cfg := Config{Driver: "file", Path: filepath.Join(t.TempDir(), "state.json")}

	st, err := Open(cfg, logx.Nop())
	require.NoError(t, err)
	fs := st.(*fileStore)
	fs.compactEvery = 2 // force a compaction mid-way
	require.NoError(t, st.Set(ctx, "k1", "v1"))
	require.NoError(t, st.Set(ctx, "k2", "v2"))
	require.NoError(t, st.Set(ctx, "k1", "v3"))
	require.NoError(t, st.UpsertUser(ctx, User{ID: "u", Kind: KindSimple, Active: true}))
	require.NoError(t, st.Close())

	_, _, err = st.Get(ctx, "k1")
	assert.ErrorIs(t, err, ErrClosed)

	st, err = Open(cfg, logx.Nop())
	require.NoError(t, err)
	defer st.Close()
	v, ok, err := st.Get(ctx, "k1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v3", v)
	users, err := st.ActiveUsers(ctx)
	require.NoError(t, err)
	assert.Len(t, users, 1)
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()
	_, err := Open(Config{Driver: "etcd"}, logx.Nop())
	assert.Error(t, err)
	_, err = Open(Config{Driver: "file"}, logx.Nop())
	assert.Error(t, err)
	_, err = Open(Config{Driver: "redis"}, logx.Nop())
	assert.Error(t, err)
}

func TestRedisKeysAndDecode(t *testing.T) {
	t.Parallel()
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	defer client.Close()
	s := newRedisStore(client, "", logx.Nop())
	assert.Equal(t, "lovepush:kv:last-notification-date", s.kvKey("last-notification-date"))
	assert.Equal(t, "lovepush:users", s.usersKey())

	enc := func(u User) string {
		b, err := json.Marshal(u)
		require.NoError(t, err)
		return string(b)
	}
	got := decodeActiveUsers(map[string]string{
		"x": enc(User{ID: "x", Active: true, RegisteredAt: time.Unix(2, 0)}),
		"y": enc(User{ID: "y", Active: false}),
		"z": "{broken",
		"w": enc(User{ID: "w", Active: true, RegisteredAt: time.Unix(1, 0)}),
	}, logx.Nop())
	require.Len(t, got, 2)
	assert.Equal(t, "w", got[0].ID)
	assert.Equal(t, "x", got[1].ID)
}
