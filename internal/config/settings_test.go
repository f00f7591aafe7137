package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadSettingsMissingFile(t *testing.T) {
	s, err := LoadSettingsFrom(filepath.Join(t.TempDir(), "settings.json"))
	require.NoError(t, err)
	assert.Equal(t, DefaultSettings(), s)
}

func TestSaveAndLoadSettings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "settings.json")

	s := DefaultSettings()
	s.RGBBands = []int{7, 5, 3}
	s.ColorOps = "gamma RGB 2"
	s.CacheMaxSizeMB = 1024
	s.ShowTileGrid = true
	require.NoError(t, SaveSettingsTo(path, s))

	loaded, err := LoadSettingsFrom(path)
	require.NoError(t, err)
	assert.Equal(t, s, loaded)
}

func TestLoadSettingsPartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"mosaicUrl": "dynamodb://us-west-2/landsat8-2019-fall", "maxZoom": 11}`), 0644))

	s, err := LoadSettingsFrom(path)
	require.NoError(t, err)
	assert.Equal(t, "dynamodb://us-west-2/landsat8-2019-fall", s.MosaicURL)
	assert.Equal(t, 11, s.MaxZoom)
	assert.Equal(t, 7, s.MinZoom, "missing keys keep defaults")
	assert.Equal(t, []int{4, 3, 2}, s.RGBBands)
}

func TestLoadSettingsEnvOverride(t *testing.T) {
	t.Setenv("LANDSAT_MOSAICURL", "dynamodb://us-west-2/landsat8-2020-summer")
	t.Setenv("LANDSAT_CACHETTLDAYS", "7")

	s, err := LoadSettingsFrom(filepath.Join(t.TempDir(), "settings.json"))
	require.NoError(t, err)
	assert.Equal(t, "dynamodb://us-west-2/landsat8-2020-summer", s.MosaicURL)
	assert.Equal(t, 7, s.CacheTTLDays)
}

func TestLoadSettingsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"minZoom": 10, "maxZoom": 8}`), 0644))

	_, err := LoadSettingsFrom(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MaxZoom")

	require.NoError(t, os.WriteFile(path, []byte(`{not json`), 0644))
	_, err = LoadSettingsFrom(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*UserSettings)
		field  string
	}{
		{"two bands", func(s *UserSettings) { s.RGBBands = []int{4, 3} }, "RGBBands"},
		{"band out of range", func(s *UserSettings) { s.RGBBands = []int{4, 3, 12} }, "RGBBands"},
		{"empty mosaic", func(s *UserSettings) { s.MosaicURL = "" }, "MosaicURL"},
		{"bad tile service", func(s *UserSettings) { s.TileServiceURL = "not a url" }, "TileServiceURL"},
		{"zero cache", func(s *UserSettings) { s.CacheMaxSizeMB = 0 }, "CacheMaxSizeMB"},
		{"bad log level", func(s *UserSettings) { s.LogLevel = "loud" }, "LogLevel"},
		{"zero pan weight", func(s *UserSettings) { s.PanWeight = 0 }, "PanWeight"},
		{"negative pan weight", func(s *UserSettings) { s.PanWeight = -1 }, "PanWeight"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := DefaultSettings()
			tt.mutate(s)
			err := s.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.field)
		})
	}

	assert.NoError(t, DefaultSettings().Validate())
}

func TestEnsureInstallID(t *testing.T) {
	s := DefaultSettings()
	changed, err := s.EnsureInstallID()
	require.NoError(t, err)
	assert.True(t, changed)
	assert.NotEmpty(t, s.InstallID)

	id := s.InstallID
	changed, err = s.EnsureInstallID()
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, id, s.InstallID)
}
