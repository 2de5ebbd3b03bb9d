package cache

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	nwferrors "github.com/wiheto/niworkflows/internal/errors"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestSaveAndRestoreRoundTrip(t *testing.T) {
	store := NewFileStore(t.TempDir())
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "deps", "a.txt"), "alpha")
	writeFile(t, filepath.Join(src, "deps", "sub", "b.txt"), "beta")

	require.NoError(t, store.Save("v1-deps-abc", src, []string{"deps"}))

	dst := t.TempDir()
	entry, err := store.Restore([]string{"v1-deps-abc"}, dst)
	require.NoError(t, err)
	assert.Equal(t, "v1-deps-abc", entry.Key)

	data, err := os.ReadFile(filepath.Join(dst, "deps", "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "alpha", string(data))

	data, err = os.ReadFile(filepath.Join(dst, "deps", "sub", "b.txt"))
	require.NoError(t, err)
	assert.Equal(t, "beta", string(data))
}

func TestPrefixFallback(t *testing.T) {
	store := NewFileStore(t.TempDir())
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "data"), "cached")

	require.NoError(t, store.Save("v1-", src, []string{"data"}))

	// Only "v1-" is stored; the first two candidates miss, the third
	// matches by prefix.
	entry, err := store.Lookup([]string{"v1-branchX-123", "v1-branchX-", "v1-"})
	require.NoError(t, err)
	assert.Equal(t, "v1-", entry.Key)
}

func TestExactMatchPreferredOverPrefix(t *testing.T) {
	store := NewFileStore(t.TempDir())
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "data"), "x")

	require.NoError(t, store.Save("v1-main-", src, []string{"data"}))
	require.NoError(t, store.Save("v1-main-123", src, []string{"data"}))

	entry, err := store.Lookup([]string{"v1-main-"})
	require.NoError(t, err)
	assert.Equal(t, "v1-main-", entry.Key, "exact match must beat prefixed entries")
}

func TestPrefixPicksMostRecent(t *testing.T) {
	dir := t.TempDir()
	store := NewFileStore(dir)
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "data"), "x")

	require.NoError(t, store.Save("v1-old", src, []string{"data"}))
	require.NoError(t, store.Save("v1-new", src, []string{"data"}))

	// Force distinct timestamps; Save granularity may be too fine.
	bump(t, dir, "v1-new", time.Now().Add(time.Hour))

	entry, err := store.Lookup([]string{"v1-"})
	require.NoError(t, err)
	assert.Equal(t, "v1-new", entry.Key)
}

func TestCandidateOrderWins(t *testing.T) {
	store := NewFileStore(t.TempDir())
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "data"), "x")

	require.NoError(t, store.Save("v1-exact", src, []string{"data"}))
	require.NoError(t, store.Save("v2-exact", src, []string{"data"}))

	entry, err := store.Lookup([]string{"v2-exact", "v1-exact"})
	require.NoError(t, err)
	assert.Equal(t, "v2-exact", entry.Key, "keys scan in declared order")
}

func TestMissingCacheIsCacheMiss(t *testing.T) {
	store := NewFileStore(t.TempDir())

	_, err := store.Lookup([]string{"v1-anything"})
	require.Error(t, err)
	assert.True(t, nwferrors.IsCacheMiss(err))

	_, err = store.Restore([]string{"v1-anything"}, t.TempDir())
	assert.True(t, nwferrors.IsCacheMiss(err))
}

func TestSaveRejectsDuplicateKey(t *testing.T) {
	store := NewFileStore(t.TempDir())
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "data"), "first")

	require.NoError(t, store.Save("v1-k", src, []string{"data"}))

	writeFile(t, filepath.Join(src, "data"), "second")
	err := store.Save("v1-k", src, []string{"data"})
	require.Error(t, err)
	assert.True(t, nwferrors.IsDuplicateKey(err))

	// Original content survives the rejected save.
	dst := t.TempDir()
	_, err = store.Restore([]string{"v1-k"}, dst)
	require.NoError(t, err)
	data, err := os.ReadFile(filepath.Join(dst, "data"))
	require.NoError(t, err)
	assert.Equal(t, "first", string(data))
}

// bump rewrites an entry's SavedAt for deterministic recency tests.
func bump(t *testing.T, dir, key string, at time.Time) {
	t.Helper()
	meta := filepath.Join(dir, keyHash(key), "entry.json")
	data, err := os.ReadFile(meta)
	require.NoError(t, err)

	var e Entry
	require.NoError(t, json.Unmarshal(data, &e))
	e.SavedAt = at.UTC()

	out, err := json.Marshal(e)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(meta, out, 0o644))
}
