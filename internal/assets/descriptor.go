package assets

// Descriptor is one downloadable asset from the catalog.
type Descriptor struct {
	ID          string `toml:"id"`
	Name        string `toml:"name"`
	Description string `toml:"description"`
	SizeBytes   int64  `toml:"size_bytes"`
	URL         string `toml:"url"`
	Filename    string `toml:"filename"`
	Required    bool   `toml:"required"`
}

// InstalledAsset is a descriptor whose file is present in the install directory.
type InstalledAsset struct {
	Descriptor
	Path          string
	InstalledSize int64
	Complete      bool
}

// SizeTolerancePercent is how far an installed file may deviate from the
// catalog size and still count as complete.
const SizeTolerancePercent = 5

// IsComplete reports whether installed is within SizeTolerancePercent of
// expected, inclusive. With no expected size any non-empty file is complete.
func IsComplete(expected, installed int64) bool {
	if expected <= 0 {
		return installed > 0
	}
	diff := installed - expected
	if diff < 0 {
		diff = -diff
	}
	return diff*100 <= expected*SizeTolerancePercent
}
