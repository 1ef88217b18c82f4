package hashcache

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ImperialCollegeLondon/imap-pipeline-core-sub000/datastore"
	"github.com/ImperialCollegeLondon/imap-pipeline-core-sub000/paths"
	"github.com/ImperialCollegeLondon/imap-pipeline-core-sub000/utils"
)

func countingCache(t *testing.T, dir string) (*Cache, *int) {
	t.Helper()
	c, err := Open(dir, 16, utils.DiscardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	calls := 0
	c.Compute = func(p string) (string, error) {
		calls++
		return datastore.HashFile(p)
	}
	return c, &calls
}

func TestCache_HitsUntilFileChanges(t *testing.T) {
	c, calls := countingCache(t, "")
	p := filepath.Join(t.TempDir(), "f.cdf")
	require.NoError(t, os.WriteFile(p, []byte("one"), 0644))

	h1, err := c.Hash(p)
	require.NoError(t, err)
	h2, err := c.Hash(p)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
	assert.Equal(t, 1, *calls)

	want, err := datastore.HashFile(p)
	require.NoError(t, err)
	assert.Equal(t, want, h1)

	require.NoError(t, os.WriteFile(p, []byte("two!"), 0644))
	h3, err := c.Hash(p)
	require.NoError(t, err)
	assert.NotEqual(t, h1, h3)
	assert.Equal(t, 2, *calls)
}

func TestCache_Record(t *testing.T) {
	c, calls := countingCache(t, "")
	p := filepath.Join(t.TempDir(), "f.cdf")
	require.NoError(t, os.WriteFile(p, []byte("one"), 0644))

	require.NoError(t, c.Record(p, "recorded"))
	h, err := c.Hash(p)
	require.NoError(t, err)
	assert.Equal(t, "recorded", h)
	assert.Zero(t, *calls)
}

func TestCache_PersistsAcrossOpen(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "cache")
	p := filepath.Join(t.TempDir(), "f.cdf")
	require.NoError(t, os.WriteFile(p, []byte("one"), 0644))
	mtime := time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, os.Chtimes(p, mtime, mtime))

	first, err := Open(dir, 16, utils.DiscardLogger())
	require.NoError(t, err)
	h1, err := first.Hash(p)
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, calls := countingCache(t, dir)
	h2, err := second.Hash(p)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
	assert.Zero(t, *calls)
}

func TestCache_MissingFile(t *testing.T) {
	c, _ := countingCache(t, "")
	_, err := c.Hash(filepath.Join(t.TempDir(), "missing"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestCache_AsDatastoreHasher(t *testing.T) {
	c, calls := countingCache(t, "")
	root := t.TempDir()
	store := datastore.NewFileStore(root, c, utils.DiscardLogger())

	src := filepath.Join(t.TempDir(), "a.cdf")
	require.NoError(t, os.WriteFile(src, []byte("A"), 0644))
	day := time.Date(2025, 10, 17, 0, 0, 0, 0, time.UTC)

	_, err := store.Add(context.Background(), src, paths.NewScienceHandler("l1c", "norm-mago", day, "cdf"))
	require.NoError(t, err)
	assert.Equal(t, 1, *calls, "only the source is hashed through the cache, the copy is recorded")

	h := paths.NewScienceHandler("l1c", "norm-mago", day, "cdf")
	res, err := store.Add(context.Background(), src, h)
	require.NoError(t, err)
	assert.True(t, res.Reused)
	assert.Equal(t, 1, *calls)
}
