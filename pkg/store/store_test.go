package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// exerciseKV runs the same contract checks against any backend.
func exerciseKV(t *testing.T, kv KV) {
	t.Helper()
	ctx := context.Background()

	_, ok, err := kv.Get(ctx, NSSession, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, kv.Set(ctx, NSSession, KeyCompanionWindowID, "@3"))
	v, ok, err := kv.Get(ctx, NSSession, KeyCompanionWindowID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "@3", v)

	require.NoError(t, kv.Set(ctx, NSSession, KeyCompanionWindowID, "@7"))
	v, _, _ = kv.Get(ctx, NSSession, KeyCompanionWindowID)
	assert.Equal(t, "@7", v)

	// Namespaces are independent.
	_, ok, err = kv.Get(ctx, NSSettings, KeyCompanionWindowID)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, kv.SetMany(ctx, NSSettings, map[string]string{"a": "1", "b": "true"}))
	got, err := kv.GetMany(ctx, NSSettings, "a", "b", "c")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a": "1", "b": "true"}, got)

	require.NoError(t, kv.Delete(ctx, NSSession, KeyCompanionWindowID))
	_, ok, err = kv.Get(ctx, NSSession, KeyCompanionWindowID)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, kv.Delete(ctx, NSSession, KeyCompanionWindowID))
}

func TestMemoryKV(t *testing.T) {
	exerciseKV(t, NewMemory())
}

func TestSQLiteKV(t *testing.T) {
	kv, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "state", "lessonmate.db"))
	require.NoError(t, err)
	defer kv.Close()
	exerciseKV(t, kv)
}

func TestSQLiteSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "lessonmate.db")

	kv, err := OpenSQLite(ctx, path)
	require.NoError(t, err)
	require.NoError(t, kv.Set(ctx, NSSession, KeyCompanionWindowID, "@12"))
	require.NoError(t, kv.Close())

	kv, err = OpenSQLite(ctx, path)
	require.NoError(t, err)
	defer kv.Close()
	v, ok, err := kv.Get(ctx, NSSession, KeyCompanionWindowID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "@12", v)
}

func TestSQLiteUsesWAL(t *testing.T) {
	kv, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "wal.db"))
	require.NoError(t, err)
	defer kv.Close()

	var mode string
	require.NoError(t, kv.db.QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)
}

func TestRedisKV(t *testing.T) {
	url := os.Getenv("LESSONMATE_TEST_REDIS_URL")
	if url == "" {
		t.Skip("LESSONMATE_TEST_REDIS_URL not set")
	}
	kv, err := OpenRedis(context.Background(), url, "test-"+t.Name())
	require.NoError(t, err)
	defer kv.Close()
	exerciseKV(t, kv)
}

func TestOpenRejectsUnknownBackend(t *testing.T) {
	_, err := Open(context.Background(), Options{Backend: "etcd"})
	assert.Error(t, err)
}

func TestJSONHelpers(t *testing.T) {
	ctx := context.Background()
	kv := NewMemory()

	type reading struct {
		Title string `json:"title"`
	}
	var r reading
	ok, err := GetJSON(ctx, kv, NSLesson, KeyCurrentReading, &r)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, SetJSON(ctx, kv, NSLesson, KeyCurrentReading, reading{Title: "Aula 3"}))
	ok, err = GetJSON(ctx, kv, NSLesson, KeyCurrentReading, &r)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "Aula 3", r.Title)

	require.NoError(t, kv.Set(ctx, NSLesson, KeyCurrentReading, "{broken"))
	_, err = GetJSON(ctx, kv, NSLesson, KeyCurrentReading, &r)
	assert.Error(t, err)
}
