package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const bandFileExt = ".bin"

// TileCache is an LRU disk cache for raw band responses, keyed by request URL.
// Files are named by the SHA-256 of their key so the index can be rebuilt from disk.
type TileCache struct {
	baseDir   string
	maxSize   int64 // Maximum cache size in bytes
	currSize  int64 // Current cache size (atomic)
	mu        sync.RWMutex
	index     map[string]*CacheEntry // hash -> entry
	evictChan chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// CacheEntry represents a cached band response
type CacheEntry struct {
	Hash       string
	FilePath   string
	Size       int64
	AccessTime time.Time
	CreateTime time.Time
}

// NewTileCache creates a band cache in baseDir holding at most maxSizeMB
func NewTileCache(baseDir string, maxSizeMB int) (*TileCache, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	c := &TileCache{
		baseDir:   baseDir,
		maxSize:   int64(maxSizeMB) * 1024 * 1024,
		index:     make(map[string]*CacheEntry),
		evictChan: make(chan struct{}, 1),
		done:      make(chan struct{}),
	}

	if err := c.loadIndex(); err != nil {
		return nil, fmt.Errorf("failed to load cache index: %w", err)
	}

	go c.evictionWorker()

	return c, nil
}

func hashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

func (c *TileCache) pathFor(hash string) string {
	return filepath.Join(c.baseDir, hash[:2], hash+bandFileExt)
}

// Get retrieves a band response
func (c *TileCache) Get(key string) ([]byte, bool) {
	hash := hashKey(key)

	c.mu.RLock()
	entry, exists := c.index[hash]
	c.mu.RUnlock()
	if !exists {
		return nil, false
	}

	data, err := os.ReadFile(entry.FilePath)
	if err != nil {
		c.mu.Lock()
		if _, still := c.index[hash]; still {
			delete(c.index, hash)
			atomic.AddInt64(&c.currSize, -entry.Size)
		}
		c.mu.Unlock()
		return nil, false
	}

	c.mu.Lock()
	entry.AccessTime = time.Now()
	c.mu.Unlock()

	return data, true
}

// Set stores a band response
func (c *TileCache) Set(key string, data []byte) error {
	hash := hashKey(key)
	filePath := c.pathFor(hash)

	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return fmt.Errorf("failed to create cache subdirectory: %w", err)
	}
	if err := os.WriteFile(filePath, data, 0644); err != nil {
		return fmt.Errorf("failed to write cache file: %w", err)
	}

	now := time.Now()
	entry := &CacheEntry{
		Hash:       hash,
		FilePath:   filePath,
		Size:       int64(len(data)),
		AccessTime: now,
		CreateTime: now,
	}

	c.mu.Lock()
	if old, exists := c.index[hash]; exists {
		atomic.AddInt64(&c.currSize, -old.Size)
	}
	c.index[hash] = entry
	c.mu.Unlock()

	if atomic.AddInt64(&c.currSize, entry.Size) > c.maxSize {
		select {
		case c.evictChan <- struct{}{}:
		default: // Already signaled
		}
	}
	return nil
}

func (c *TileCache) evictionWorker() {
	for {
		select {
		case <-c.evictChan:
			c.evict()
		case <-c.done:
			return
		}
	}
}

// evict removes least recently used entries down to 90% of the limit
func (c *TileCache) evict() {
	c.mu.Lock()
	defer c.mu.Unlock()

	currSize := atomic.LoadInt64(&c.currSize)
	if currSize <= c.maxSize {
		return
	}
	targetSize := c.maxSize * 9 / 10

	entries := make([]*CacheEntry, 0, len(c.index))
	for _, e := range c.index {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].AccessTime.Before(entries[j].AccessTime)
	})

	for _, e := range entries {
		if currSize <= targetSize {
			break
		}
		os.Remove(e.FilePath)
		delete(c.index, e.Hash)
		atomic.AddInt64(&c.currSize, -e.Size)
		currSize -= e.Size
	}
}

// loadIndex rebuilds the in-memory index from the files on disk
func (c *TileCache) loadIndex() error {
	return filepath.Walk(c.baseDir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() || filepath.Ext(path) != bandFileExt {
			return nil
		}
		hash := strings.TrimSuffix(filepath.Base(path), bandFileExt)
		c.index[hash] = &CacheEntry{
			Hash:       hash,
			FilePath:   path,
			Size:       info.Size(),
			AccessTime: info.ModTime(),
			CreateTime: info.ModTime(),
		}
		atomic.AddInt64(&c.currSize, info.Size())
		return nil
	})
}

// Stats returns cache statistics
func (c *TileCache) Stats() (entries int, sizeBytes int64, maxBytes int64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.index), atomic.LoadInt64(&c.currSize), c.maxSize
}

// Clear removes all cached band responses
func (c *TileCache) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, e := range c.index {
		os.Remove(e.FilePath)
	}
	c.index = make(map[string]*CacheEntry)
	atomic.StoreInt64(&c.currSize, 0)
	return nil
}

// GetCachePath returns the base directory of the cache
func (c *TileCache) GetCachePath() string {
	return c.baseDir
}

// Close stops the eviction worker
func (c *TileCache) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}
