package main

import (
	"landsat-desktop/internal/common"
	"landsat-desktop/internal/ratelimit"
)

// Rate Limit Management Functions (Wails-exported)

// ManualRetryRateLimit allows user to manually trigger a retry of the tile service
func (a *App) ManualRetryRateLimit() {
	if a.rateLimitHandler != nil {
		a.rateLimitHandler.ManualRetry(common.ProviderLandsat)
	}
}

// GetRateLimitStatus returns the current rate limit state of the tile service
func (a *App) GetRateLimitStatus() *ratelimit.RateLimitEvent {
	if a.rateLimitHandler != nil {
		return a.rateLimitHandler.GetCurrentState(common.ProviderLandsat)
	}
	return nil
}

// IsRateLimited checks if the tile service is currently rate limited
func (a *App) IsRateLimited() bool {
	if a.rateLimitHandler != nil {
		return a.rateLimitHandler.IsRateLimited(common.ProviderLandsat)
	}
	return false
}

// SetAutoRetryRateLimit enables or disables automatic rate limit retries
func (a *App) SetAutoRetryRateLimit(enabled bool) {
	if a.rateLimitHandler != nil {
		a.rateLimitHandler.SetAutoRetry(enabled)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.settings != nil {
		a.settings.AutoRetryOnRateLimit = enabled
	}
}

// Cache Management Functions (Wails-exported)

// CacheStats represents cache statistics for frontend
type CacheStats struct {
	Entries   int     `json:"entries"`
	SizeBytes int64   `json:"sizeBytes"`
	MaxBytes  int64   `json:"maxBytes"`
	SizeMB    float64 `json:"sizeMB"`
	MaxMB     float64 `json:"maxMB"`
	CachePath string  `json:"cachePath"`
}

func newCacheStats(entries int, sizeBytes, maxBytes int64, path string) CacheStats {
	return CacheStats{
		Entries:   entries,
		SizeBytes: sizeBytes,
		MaxBytes:  maxBytes,
		SizeMB:    float64(sizeBytes) / 1024 / 1024,
		MaxMB:     float64(maxBytes) / 1024 / 1024,
		CachePath: path,
	}
}

// GetCacheStats returns statistics of the composited tile cache
func (a *App) GetCacheStats() CacheStats {
	if a.tileCache == nil {
		return CacheStats{}
	}
	entries, sizeBytes, maxBytes := a.tileCache.Stats()
	return newCacheStats(entries, sizeBytes, maxBytes, a.tileCache.GetCachePath())
}

// GetBandCacheStats returns statistics of the raw band cache
func (a *App) GetBandCacheStats() CacheStats {
	if a.bandCache == nil {
		return CacheStats{}
	}
	entries, sizeBytes, maxBytes := a.bandCache.Stats()
	return newCacheStats(entries, sizeBytes, maxBytes, a.bandCache.GetCachePath())
}

// ClearCache removes all cached composited tiles and band images
func (a *App) ClearCache() error {
	if a.tileCache != nil {
		if err := a.tileCache.Clear(); err != nil {
			return err
		}
	}
	if a.bandCache != nil {
		return a.bandCache.Clear()
	}
	return nil
}
