package cache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const (
	tileFileExt       = ".png"
	metadataFile      = "cache_index.json"
	maintenancePeriod = 5 * time.Minute
)

// PersistentTileCache stores composited tiles on disk in a ZXY layout.
// Cache structure: baseDir/{provider}/{variant}/{z}/{x}/{y}.png
// Metadata index: baseDir/cache_index.json
type PersistentTileCache struct {
	baseDir   string
	maxSize   int64 // Maximum cache size in bytes
	currSize  int64 // Current cache size (atomic)
	ttl       time.Duration
	mu        sync.RWMutex
	saveMu    sync.Mutex
	metadata  map[string]*TileMetadata
	evictChan chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	saves     sync.WaitGroup // In-flight background index saves
}

// TileMetadata stores information about a cached tile
type TileMetadata struct {
	Key        string    `json:"key"`
	Provider   string    `json:"provider"`
	Variant    string    `json:"variant"` // Hash of the layer style (mosaic, bands, color ops)
	Z          int       `json:"z"`
	X          int       `json:"x"`
	Y          int       `json:"y"`
	Size       int64     `json:"size"`
	AccessTime time.Time `json:"accessTime"`
	CreateTime time.Time `json:"createTime"`
}

// NewPersistentTileCache creates a composited tile cache
func NewPersistentTileCache(baseDir string, maxSizeMB int, ttlDays int) (*PersistentTileCache, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	c := &PersistentTileCache{
		baseDir:   baseDir,
		maxSize:   int64(maxSizeMB) * 1024 * 1024,
		ttl:       time.Duration(ttlDays) * 24 * time.Hour,
		metadata:  make(map[string]*TileMetadata),
		evictChan: make(chan struct{}, 1),
		done:      make(chan struct{}),
	}

	if err := c.loadMetadata(); err != nil {
		// Index missing or corrupt, scan the tiles instead
		if err := c.rebuildMetadata(); err != nil {
			return nil, fmt.Errorf("failed to initialize cache: %w", err)
		}
	}

	go c.maintenanceWorker()

	return c, nil
}

// Key builds the cache key of a tile
func Key(provider, variant string, z, x, y int) string {
	return fmt.Sprintf("%s:%s:%d:%d:%d", provider, variant, z, x, y)
}

// Get retrieves a tile from cache
func (c *PersistentTileCache) Get(provider, variant string, z, x, y int) ([]byte, bool) {
	key := Key(provider, variant, z, x, y)

	c.mu.RLock()
	meta, exists := c.metadata[key]
	c.mu.RUnlock()
	if !exists {
		return nil, false
	}

	if c.ttl > 0 && time.Since(meta.CreateTime) > c.ttl {
		c.evictTile(key)
		return nil, false
	}

	data, err := os.ReadFile(c.buildFilePath(meta))
	if err != nil {
		c.evictTile(key)
		return nil, false
	}

	c.mu.Lock()
	meta.AccessTime = time.Now()
	c.mu.Unlock()

	return data, true
}

// Set stores a tile
func (c *PersistentTileCache) Set(provider, variant string, z, x, y int, data []byte) error {
	now := time.Now()
	meta := &TileMetadata{
		Key:        Key(provider, variant, z, x, y),
		Provider:   provider,
		Variant:    variant,
		Z:          z,
		X:          x,
		Y:          y,
		Size:       int64(len(data)),
		AccessTime: now,
		CreateTime: now,
	}

	filePath := c.buildFilePath(meta)
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}
	if err := os.WriteFile(filePath, data, 0644); err != nil {
		return fmt.Errorf("failed to write cache file: %w", err)
	}

	c.mu.Lock()
	if old, exists := c.metadata[meta.Key]; exists {
		atomic.AddInt64(&c.currSize, -old.Size)
	}
	c.metadata[meta.Key] = meta
	c.mu.Unlock()

	if atomic.AddInt64(&c.currSize, meta.Size) > c.maxSize {
		select {
		case c.evictChan <- struct{}{}:
		default:
		}
	}

	c.saves.Add(1)
	go func() {
		defer c.saves.Done()
		c.saveMetadata()
	}()

	return nil
}

func (c *PersistentTileCache) buildFilePath(meta *TileMetadata) string {
	variant := meta.Variant
	if variant == "" {
		variant = "default"
	}
	return filepath.Join(c.baseDir, meta.Provider, variant,
		strconv.Itoa(meta.Z), strconv.Itoa(meta.X), strconv.Itoa(meta.Y)+tileFileExt)
}

func (c *PersistentTileCache) evictTile(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	meta, ok := c.metadata[key]
	if !ok {
		return
	}
	os.Remove(c.buildFilePath(meta))
	delete(c.metadata, key)
	atomic.AddInt64(&c.currSize, -meta.Size)
}

func (c *PersistentTileCache) maintenanceWorker() {
	ticker := time.NewTicker(maintenancePeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.evictChan:
			c.evictOldTiles()
		case <-ticker.C:
			c.evictExpiredTiles()
		case <-c.done:
			return
		}
	}
}

// evictOldTiles removes least recently used tiles down to 80% of the limit
func (c *PersistentTileCache) evictOldTiles() {
	c.mu.Lock()
	currSize := atomic.LoadInt64(&c.currSize)
	if currSize <= c.maxSize {
		c.mu.Unlock()
		return
	}
	targetSize := c.maxSize * 8 / 10

	entries := make([]*TileMetadata, 0, len(c.metadata))
	for _, meta := range c.metadata {
		entries = append(entries, meta)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].AccessTime.Before(entries[j].AccessTime)
	})

	for _, meta := range entries {
		if currSize <= targetSize {
			break
		}
		os.Remove(c.buildFilePath(meta))
		delete(c.metadata, meta.Key)
		atomic.AddInt64(&c.currSize, -meta.Size)
		currSize -= meta.Size
	}
	c.mu.Unlock()

	c.saveMetadata()
}

// evictExpiredTiles removes tiles older than the TTL
func (c *PersistentTileCache) evictExpiredTiles() {
	if c.ttl <= 0 {
		return
	}

	c.mu.Lock()
	evicted := 0
	for key, meta := range c.metadata {
		if time.Since(meta.CreateTime) > c.ttl {
			os.Remove(c.buildFilePath(meta))
			delete(c.metadata, key)
			atomic.AddInt64(&c.currSize, -meta.Size)
			evicted++
		}
	}
	c.mu.Unlock()

	if evicted > 0 {
		c.saveMetadata()
	}
}

func (c *PersistentTileCache) loadMetadata() error {
	data, err := os.ReadFile(filepath.Join(c.baseDir, metadataFile))
	if err != nil {
		return fmt.Errorf("failed to read metadata: %w", err)
	}

	var metadata map[string]*TileMetadata
	if err := json.Unmarshal(data, &metadata); err != nil {
		return fmt.Errorf("failed to parse metadata: %w", err)
	}
	if metadata == nil {
		metadata = make(map[string]*TileMetadata)
	}

	var totalSize int64
	for _, meta := range metadata {
		totalSize += meta.Size
	}

	c.mu.Lock()
	c.metadata = metadata
	c.mu.Unlock()
	atomic.StoreInt64(&c.currSize, totalSize)
	return nil
}

// saveMetadata writes the index through a temp file and rename
func (c *PersistentTileCache) saveMetadata() error {
	c.saveMu.Lock()
	defer c.saveMu.Unlock()

	c.mu.RLock()
	data, err := json.MarshalIndent(c.metadata, "", "  ")
	c.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	metaPath := filepath.Join(c.baseDir, metadataFile)
	tempPath := metaPath + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write metadata: %w", err)
	}
	if err := os.Rename(tempPath, metaPath); err != nil {
		return fmt.Errorf("failed to rename metadata file: %w", err)
	}
	return nil
}

// rebuildMetadata scans {provider}/{variant}/{z}/{x}/{y}.png files
func (c *PersistentTileCache) rebuildMetadata() error {
	metadata := make(map[string]*TileMetadata)
	var totalSize int64

	err := filepath.Walk(c.baseDir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() || filepath.Ext(path) != tileFileExt {
			return nil
		}
		relPath, _ := filepath.Rel(c.baseDir, path)
		parts := strings.Split(relPath, string(os.PathSeparator))
		if len(parts) != 5 {
			return nil
		}

		z, errZ := strconv.Atoi(parts[2])
		x, errX := strconv.Atoi(parts[3])
		y, errY := strconv.Atoi(strings.TrimSuffix(parts[4], tileFileExt))
		if errZ != nil || errX != nil || errY != nil {
			return nil
		}

		meta := &TileMetadata{
			Key:        Key(parts[0], parts[1], z, x, y),
			Provider:   parts[0],
			Variant:    parts[1],
			Z:          z,
			X:          x,
			Y:          y,
			Size:       info.Size(),
			AccessTime: info.ModTime(),
			CreateTime: info.ModTime(),
		}
		metadata[meta.Key] = meta
		totalSize += info.Size()
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to scan cache directory: %w", err)
	}

	c.mu.Lock()
	c.metadata = metadata
	c.mu.Unlock()
	atomic.StoreInt64(&c.currSize, totalSize)

	return c.saveMetadata()
}

// Stats returns cache statistics
func (c *PersistentTileCache) Stats() (entries int, sizeBytes int64, maxBytes int64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.metadata), atomic.LoadInt64(&c.currSize), c.maxSize
}

// Clear removes all cached tiles
func (c *PersistentTileCache) Clear() error {
	c.mu.Lock()
	for _, meta := range c.metadata {
		os.Remove(c.buildFilePath(meta))
	}
	c.metadata = make(map[string]*TileMetadata)
	atomic.StoreInt64(&c.currSize, 0)
	c.mu.Unlock()

	return c.saveMetadata()
}

// GetCachePath returns the base directory of the cache
func (c *PersistentTileCache) GetCachePath() string {
	return c.baseDir
}

// Close stops background maintenance and flushes the index
func (c *PersistentTileCache) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	c.saves.Wait()
	return c.saveMetadata()
}
