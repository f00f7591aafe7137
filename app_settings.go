package main

import (
	"landsat-desktop/internal/config"
)

// ===================
// Settings Management
// ===================

// GetSettings returns current user settings
func (a *App) GetSettings() (*config.UserSettings, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	// Return a copy to prevent external modifications
	settingsCopy := *a.settings
	settingsCopy.RGBBands = append([]int(nil), a.settings.RGBBands...)
	return &settingsCopy, nil
}

// SaveSettings validates and saves user settings, then rebuilds the tile layer.
// Cache sizes apply on next restart.
func (a *App) SaveSettings(settings *config.UserSettings) error {
	a.mu.Lock()
	settings.InstallID = a.settings.InstallID
	a.mu.Unlock()

	if err := config.SaveSettings(settings); err != nil {
		return err
	}

	a.mu.Lock()
	a.settings = settings
	a.mu.Unlock()

	if a.rateLimitHandler != nil {
		a.rateLimitHandler.SetAutoRetry(settings.AutoRetryOnRateLimit)
	}
	a.log.Info("Settings saved")

	return a.rebuildLayer()
}

// GetSettingsPath returns the OS-specific settings file path
func (a *App) GetSettingsPath() string {
	return config.GetSettingsPath()
}

// SetShowTileGrid toggles the tile outline without touching the rest of the settings
func (a *App) SetShowTileGrid(enabled bool) error {
	a.mu.Lock()
	a.settings.ShowTileGrid = enabled
	settings := *a.settings
	a.mu.Unlock()

	a.tileServer.SetOutline(enabled)
	return config.SaveSettings(&settings)
}
