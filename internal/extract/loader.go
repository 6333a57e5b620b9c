package extract

import (
	"embed"
	"log/slog"
	"os"
)

//go:embed selectors.json
var embeddedSelectors embed.FS

// LoadConfig tries to load selectors in the following order:
// 1. External file named by SELECTORS_CONFIG_PATH, when set
// 2. Embedded selectors.json
// 3. Hardcoded defaults
func LoadConfig() SelectorConfig {
	// 1. Explicit override, so selectors can be patched without a rebuild
	if configPath := os.Getenv("SELECTORS_CONFIG_PATH"); configPath != "" {
		if fileSel, err := LoadSelectors(configPath); err == nil {
			slog.Info("Loaded selectors from external file", "path", configPath)
			return fileSel
		} else {
			slog.Warn("Failed to load external selectors, trying embedded config", "path", configPath, "error", err)
		}
	}

	// 2. Embedded
	data, err := embeddedSelectors.ReadFile("selectors.json")
	if err == nil {
		sel, parseErr := LoadSelectorsFromBytes(data)
		if parseErr == nil {
			slog.Debug("Loaded selectors from embedded config.")
			return sel
		}
		slog.Warn("Embedded selectors failed to parse.", "error", parseErr)
	}

	// 3. Fallback to hardcoded defaults
	slog.Info("Using hardcoded default selectors")
	return DefaultSelectors()
}
