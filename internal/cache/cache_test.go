package cache

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPersistentTileCacheRoundTrip(t *testing.T) {
	dir := t.TempDir()
	c, err := NewPersistentTileCache(dir, 10, 30)
	require.NoError(t, err)
	defer c.Close()

	_, ok := c.Get("landsat", "abc", 9, 100, 200)
	assert.False(t, ok)

	require.NoError(t, c.Set("landsat", "abc", 9, 100, 200, []byte("png-bytes")))

	data, ok := c.Get("landsat", "abc", 9, 100, 200)
	require.True(t, ok)
	assert.Equal(t, []byte("png-bytes"), data)

	_, ok = c.Get("landsat", "other", 9, 100, 200)
	assert.False(t, ok, "variants are cached separately")

	assert.FileExists(t, filepath.Join(dir, "landsat", "abc", "9", "100", "200.png"))

	entries, size, max := c.Stats()
	assert.Equal(t, 1, entries)
	assert.Equal(t, int64(len("png-bytes")), size)
	assert.Equal(t, int64(10*1024*1024), max)
}

func TestPersistentTileCacheOverwrite(t *testing.T) {
	c, err := NewPersistentTileCache(t.TempDir(), 10, 30)
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Set("landsat", "v", 1, 0, 0, []byte("aaaa")))
	require.NoError(t, c.Set("landsat", "v", 1, 0, 0, []byte("bb")))

	entries, size, _ := c.Stats()
	assert.Equal(t, 1, entries)
	assert.Equal(t, int64(2), size)
}

func TestPersistentTileCacheRebuild(t *testing.T) {
	dir := t.TempDir()
	c, err := NewPersistentTileCache(dir, 10, 30)
	require.NoError(t, err)
	require.NoError(t, c.Set("landsat", "v", 8, 1, 2, []byte("tile")))
	require.NoError(t, c.Close())

	// Without the index the tiles are found by scanning
	require.NoError(t, os.Remove(filepath.Join(dir, metadataFile)))

	reopened, err := NewPersistentTileCache(dir, 10, 30)
	require.NoError(t, err)
	defer reopened.Close()

	data, ok := reopened.Get("landsat", "v", 8, 1, 2)
	require.True(t, ok)
	assert.Equal(t, []byte("tile"), data)
}

func TestPersistentTileCacheEvictsLRU(t *testing.T) {
	c, err := NewPersistentTileCache(t.TempDir(), 1, 30)
	require.NoError(t, err)
	defer c.Close()

	chunk := bytes.Repeat([]byte{1}, 400*1024)
	require.NoError(t, c.Set("landsat", "v", 1, 0, 0, chunk))
	require.NoError(t, c.Set("landsat", "v", 1, 1, 0, chunk))
	require.NoError(t, c.Set("landsat", "v", 1, 0, 1, chunk))

	c.evictOldTiles()

	_, size, max := c.Stats()
	assert.LessOrEqual(t, size, max*8/10)
	_, ok := c.Get("landsat", "v", 1, 0, 1)
	assert.True(t, ok, "most recent tile survives")
}

func TestPersistentTileCacheClear(t *testing.T) {
	dir := t.TempDir()
	c, err := NewPersistentTileCache(dir, 10, 30)
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Set("landsat", "v", 3, 1, 1, []byte("x")))
	require.NoError(t, c.Clear())

	entries, size, _ := c.Stats()
	assert.Zero(t, entries)
	assert.Zero(t, size)
	assert.NoFileExists(t, filepath.Join(dir, "landsat", "v", "3", "1", "1.png"))
}

func TestTileCacheRoundTrip(t *testing.T) {
	dir := t.TempDir()
	c, err := NewTileCache(dir, 10)
	require.NoError(t, err)
	defer c.Close()

	key := "https://tiles.example/8/1/2@2x.jpg?bands=4"
	require.NoError(t, c.Set(key, []byte("jpeg")))

	data, ok := c.Get(key)
	require.True(t, ok)
	assert.Equal(t, []byte("jpeg"), data)

	_, ok = c.Get(key + "&x=1")
	assert.False(t, ok)

	// A new cache over the same directory finds the entry again
	reopened, err := NewTileCache(dir, 10)
	require.NoError(t, err)
	defer reopened.Close()
	data, ok = reopened.Get(key)
	require.True(t, ok)
	assert.Equal(t, []byte("jpeg"), data)
}

func TestTileCacheEvict(t *testing.T) {
	c, err := NewTileCache(t.TempDir(), 1)
	require.NoError(t, err)
	defer c.Close()

	chunk := bytes.Repeat([]byte{2}, 300*1024)
	for _, k := range []string{"a", "b", "c", "d"} {
		require.NoError(t, c.Set(k, chunk))
	}
	c.evict()

	_, size, max := c.Stats()
	assert.LessOrEqual(t, size, max*9/10)
}

func TestTileCacheClear(t *testing.T) {
	c, err := NewTileCache(t.TempDir(), 10)
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Set("k", []byte("v")))
	require.NoError(t, c.Clear())
	_, ok := c.Get("k")
	assert.False(t, ok)
}

func TestConfigMerge(t *testing.T) {
	merged := Config{MaxSizeMB: 100}.Merge()
	assert.Equal(t, 100, merged.MaxSizeMB)
	assert.Equal(t, 30, merged.TTLDays)
	assert.Equal(t, 500, merged.BandMaxSizeMB)
}
