package common

// Provider name constants for consistent naming across the application
const (
	// ProviderLandsat is the cache, rate-limit and analytics identifier for the Landsat tile service
	ProviderLandsat = "landsat"

	// DisplayNameLandsat is the human-readable name shown in the UI
	DisplayNameLandsat = "Landsat 8"
)
