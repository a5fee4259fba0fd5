package docshot

import (
	"github.com/hazyhaar/docshot/docshot/internal/browser"
	"github.com/hazyhaar/docshot/docshot/internal/config"
)

// Config is the docshot configuration. See LoadConfig.
type Config = config.Config

// Viewport is the emulated browser window size.
type Viewport = browser.Viewport

// SinkConfig defines an output backend.
type SinkConfig = config.SinkConfig

// DefaultSchedule runs a cycle daily at midnight UTC.
const DefaultSchedule = config.DefaultSchedule

// LoadConfig reads, defaults and validates a YAML configuration file.
func LoadConfig(path string) (*Config, error) {
	return config.LoadFile(path)
}

// ParseConfig decodes, defaults and validates YAML configuration.
func ParseConfig(data []byte) (*Config, error) {
	return config.Parse(data)
}

// DefaultConfig returns the configuration used by docshot -defaults.
func DefaultConfig() *Config {
	return config.Default()
}
