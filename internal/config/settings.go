package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"github.com/teris-io/shortid"
)

// EnvPrefix prefixes environment overrides, e.g. LANDSAT_MOSAICURL
const EnvPrefix = "LANDSAT"

// DefaultMosaicURL is the spring 2015 Landsat 8 mosaic
const DefaultMosaicURL = "dynamodb://us-west-2/landsat8-2015-spring"

// UserSettings represents persistent user preferences
type UserSettings struct {
	// Imagery
	MosaicURL      string  `json:"mosaicUrl" mapstructure:"mosaicUrl" validate:"required"`
	RGBBands       []int   `json:"rgbBands" mapstructure:"rgbBands" validate:"len=3,dive,min=1,max=11"`
	ColorOps       string  `json:"colorOps" mapstructure:"colorOps"`
	TileServiceURL string  `json:"tileServiceUrl" mapstructure:"tileServiceUrl" validate:"required,url"`
	MinZoom        int     `json:"minZoom" mapstructure:"minZoom" validate:"min=0,max=22"`
	MaxZoom        int     `json:"maxZoom" mapstructure:"maxZoom" validate:"min=0,max=22,gtefield=MinZoom"`
	MaxRequests    int     `json:"maxRequests" mapstructure:"maxRequests" validate:"min=1,max=64"`
	PanWeight      float64 `json:"panWeight" mapstructure:"panWeight" validate:"gt=0,lte=10"`

	// Exports
	ExportPath string `json:"exportPath" mapstructure:"exportPath" validate:"required"`

	// Cache settings
	CacheMaxSizeMB     int `json:"cacheMaxSizeMB" mapstructure:"cacheMaxSizeMB" validate:"min=1"`
	CacheTTLDays       int `json:"cacheTTLDays" mapstructure:"cacheTTLDays" validate:"min=1"`
	BandCacheMaxSizeMB int `json:"bandCacheMaxSizeMB" mapstructure:"bandCacheMaxSizeMB" validate:"min=1"`

	// Rate limiting
	AutoRetryOnRateLimit bool `json:"autoRetryOnRateLimit" mapstructure:"autoRetryOnRateLimit"`

	// UI preferences
	ShowTileGrid bool   `json:"showTileGrid" mapstructure:"showTileGrid"`
	LogLevel     string `json:"logLevel" mapstructure:"logLevel" validate:"omitempty,oneof=trace debug info warn warning error"`

	// Analytics
	AnalyticsEnabled bool   `json:"analyticsEnabled" mapstructure:"analyticsEnabled"`
	InstallID        string `json:"installId" mapstructure:"installId"`
}

// DefaultSettings returns default user settings
func DefaultSettings() *UserSettings {
	return &UserSettings{
		MosaicURL:            DefaultMosaicURL,
		RGBBands:             []int{4, 3, 2},
		TileServiceURL:       "https://us-west-2-lambda.kylebarron.dev/landsat/tiles",
		MinZoom:              7,
		MaxZoom:              12,
		MaxRequests:          6,
		PanWeight:            0.2,
		ExportPath:           defaultExportPath(),
		CacheMaxSizeMB:       250,
		CacheTTLDays:         30,
		BandCacheMaxSizeMB:   500,
		AutoRetryOnRateLimit: true,
		ShowTileGrid:         false,
		LogLevel:             "info",
		AnalyticsEnabled:     true,
	}
}

var validate = validator.New()

// Validate checks field ranges
func (s *UserSettings) Validate() error {
	if err := validate.Struct(s); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("invalid setting %s: failed %q check", verrs[0].Field(), verrs[0].Tag())
		}
		return fmt.Errorf("invalid settings: %w", err)
	}
	return nil
}

// GetSettingsDir returns the settings directory, ~/.landsat-desktop/settings
func GetSettingsDir() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".landsat-desktop", "settings")
}

// GetSettingsPath returns the settings file path
func GetSettingsPath() string {
	return filepath.Join(GetSettingsDir(), "settings.json")
}

// GetQueueDir returns the directory of the persisted export queue
func GetQueueDir() string {
	return filepath.Join(filepath.Dir(GetSettingsDir()), "queue")
}

func defaultExportPath() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, "Downloads", "landsat-desktop")
}

// GetLogDir returns the directory of daily log files
func GetLogDir() string {
	return filepath.Join(filepath.Dir(GetSettingsDir()), "logs")
}

// LoadSettings loads user settings from the default path
func LoadSettings() (*UserSettings, error) {
	return LoadSettingsFrom(GetSettingsPath())
}

// LoadSettingsFrom reads settings from path. A missing file yields the
// defaults. LANDSAT_* environment variables override file values.
func LoadSettingsFrom(path string) (*UserSettings, error) {
	v := viper.New()
	v.SetConfigType("json")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults register every key so env overrides reach Unmarshal
	def := DefaultSettings()
	v.SetDefault("mosaicUrl", def.MosaicURL)
	v.SetDefault("rgbBands", def.RGBBands)
	v.SetDefault("colorOps", def.ColorOps)
	v.SetDefault("tileServiceUrl", def.TileServiceURL)
	v.SetDefault("minZoom", def.MinZoom)
	v.SetDefault("maxZoom", def.MaxZoom)
	v.SetDefault("maxRequests", def.MaxRequests)
	v.SetDefault("panWeight", def.PanWeight)
	v.SetDefault("exportPath", def.ExportPath)
	v.SetDefault("cacheMaxSizeMB", def.CacheMaxSizeMB)
	v.SetDefault("cacheTTLDays", def.CacheTTLDays)
	v.SetDefault("bandCacheMaxSizeMB", def.BandCacheMaxSizeMB)
	v.SetDefault("autoRetryOnRateLimit", def.AutoRetryOnRateLimit)
	v.SetDefault("showTileGrid", def.ShowTileGrid)
	v.SetDefault("logLevel", def.LogLevel)
	v.SetDefault("analyticsEnabled", def.AnalyticsEnabled)
	v.SetDefault("installId", def.InstallID)

	if _, err := os.Stat(path); err == nil {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read settings file: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to stat settings file: %w", err)
	}

	var settings UserSettings
	if err := v.Unmarshal(&settings); err != nil {
		return nil, fmt.Errorf("failed to parse settings: %w", err)
	}
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	return &settings, nil
}

// EnsureInstallID assigns a random install id when none is set. Reports whether it changed s.
func (s *UserSettings) EnsureInstallID() (bool, error) {
	if s.InstallID != "" {
		return false, nil
	}
	id, err := shortid.Generate()
	if err != nil {
		return false, fmt.Errorf("failed to generate install id: %w", err)
	}
	s.InstallID = id
	return true, nil
}

// SaveSettings saves user settings to the default path
func SaveSettings(settings *UserSettings) error {
	return SaveSettingsTo(GetSettingsPath(), settings)
}

// SaveSettingsTo validates settings and writes them as JSON
func SaveSettingsTo(path string, settings *UserSettings) error {
	if err := settings.Validate(); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create settings directory: %w", err)
	}

	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write settings file: %w", err)
	}
	return nil
}
