package session

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func exerciseStore(t *testing.T, s Store, setNow func(time.Time)) {
	t.Helper()
	ctx := context.Background()

	_, ok, err := s.Get(ctx, "qwen", "s1")
	require.NoError(t, err)
	require.False(t, ok)

	base := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	setNow(base)
	require.NoError(t, s.Put(ctx, "qwen", "s1", "acp-1"))
	setNow(base.Add(time.Minute))
	require.NoError(t, s.Put(ctx, "qwen", "s2", "acp-2"))
	setNow(base.Add(2 * time.Minute))
	require.NoError(t, s.Put(ctx, "mock", "s1", "mock-1"))

	remote, ok, err := s.Get(ctx, "qwen", "s1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "acp-1", remote)

	setNow(base.Add(3 * time.Minute))
	require.NoError(t, s.Put(ctx, "qwen", "s1", "acp-3"))
	remote, _, err = s.Get(ctx, "qwen", "s1")
	require.NoError(t, err)
	require.Equal(t, "acp-3", remote)

	entries, err := s.List(ctx, "qwen")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "s1", entries[0].SessionID)
	require.Equal(t, "s2", entries[1].SessionID)
	require.True(t, entries[0].UpdatedAt.Equal(base.Add(3*time.Minute)))

	all, err := s.List(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 3)

	require.NoError(t, s.Delete(ctx, "qwen", "s1"))
	_, ok, err = s.Get(ctx, "qwen", "s1")
	require.NoError(t, err)
	require.False(t, ok)
	require.NoError(t, s.Delete(ctx, "qwen", "missing"))
}

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore()
	exerciseStore(t, s, func(ts time.Time) { s.now = func() time.Time { return ts } })
}

func TestSQLiteStore(t *testing.T) {
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "nested", "sessions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, s.Close()) })
	exerciseStore(t, s, func(ts time.Time) { s.now = func() time.Time { return ts } })
}

func TestSQLiteStoreSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.db")
	s, err := OpenSQLite(path)
	require.NoError(t, err)
	require.NoError(t, s.Put(context.Background(), "qwen", "s1", "acp-1"))
	require.NoError(t, s.Close())

	s, err = OpenSQLite(path)
	require.NoError(t, err)
	defer s.Close()
	remote, ok, err := s.Get(context.Background(), "qwen", "s1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "acp-1", remote)
}

func TestOpenSQLiteRequiresPath(t *testing.T) {
	_, err := OpenSQLite("  ")
	require.Error(t, err)
}

func TestMemoryStoreHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := NewMemoryStore()
	require.ErrorIs(t, s.Put(ctx, "qwen", "s1", "x"), context.Canceled)
}
