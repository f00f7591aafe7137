package cache

import (
	"os"
	"path/filepath"
	goruntime "runtime"
)

const appDirName = "landsat-desktop"

// Config represents cache configuration
type Config struct {
	MaxSizeMB     int `json:"maxSizeMB"`     // Composited tiles
	TTLDays       int `json:"ttlDays"`       // Composited tiles
	BandMaxSizeMB int `json:"bandMaxSizeMB"` // Raw band responses
}

// DefaultConfig returns default cache configuration
func DefaultConfig() *Config {
	return &Config{
		MaxSizeMB:     250,
		TTLDays:       30,
		BandMaxSizeMB: 500,
	}
}

// Merge returns c with non-positive fields taken from the defaults
func (c Config) Merge() Config {
	def := DefaultConfig()
	if c.MaxSizeMB <= 0 {
		c.MaxSizeMB = def.MaxSizeMB
	}
	if c.TTLDays <= 0 {
		c.TTLDays = def.TTLDays
	}
	if c.BandMaxSizeMB <= 0 {
		c.BandMaxSizeMB = def.BandMaxSizeMB
	}
	return c
}

// GetCacheDir returns the OS-specific cache directory
func GetCacheDir() string {
	homeDir, _ := os.UserHomeDir()

	switch goruntime.GOOS {
	case "darwin": // macOS
		return filepath.Join(homeDir, "Library", "Caches", appDirName)
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData == "" {
			appData = filepath.Join(homeDir, "AppData", "Roaming")
		}
		return filepath.Join(appData, appDirName, "cache")
	default: // Linux and others
		cacheHome := os.Getenv("XDG_CACHE_HOME")
		if cacheHome == "" {
			cacheHome = filepath.Join(homeDir, ".cache")
		}
		return filepath.Join(cacheHome, appDirName)
	}
}

// TilesDir holds composited tiles
func TilesDir(root string) string {
	return filepath.Join(root, "tiles")
}

// BandsDir holds raw band responses
func BandsDir(root string) string {
	return filepath.Join(root, "bands")
}
