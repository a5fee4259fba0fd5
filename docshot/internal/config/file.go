// Package config handles docshot configuration from YAML files.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is returned when a configuration fails validation.
var ErrInvalidConfig = errors.New("config: invalid")

// DefaultSchedule runs a cycle daily at midnight.
const DefaultSchedule = "0 0 * * *"

// Config is the top-level docshot configuration. It is loaded once and
// never mutated after Validate.
type Config struct {
	Targets    []string       `yaml:"targets"`
	Viewport   ViewportConfig `yaml:"viewport"`
	Snapshot   SnapshotConfig `yaml:"snapshot"`
	Compare    CompareConfig  `yaml:"compare"`
	Capture    CaptureConfig  `yaml:"capture"`
	Browser    BrowserConfig  `yaml:"browser"`
	Schedule   string         `yaml:"schedule"`
	RunOnStart *bool          `yaml:"run_on_start"`
	FailFast   bool           `yaml:"fail_fast"`
	Sinks      []SinkConfig   `yaml:"sinks"`
	Ledger     LedgerConfig   `yaml:"ledger"`
	HTTP       HTTPConfig     `yaml:"http"`
	MCP        MCPConfig      `yaml:"mcp"`
}

// ViewportConfig is the browser window size used for every capture.
type ViewportConfig struct {
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

// SnapshotConfig controls where snapshots and diffs live and how many are kept.
type SnapshotConfig struct {
	Dir         string `yaml:"dir"`
	DiffDir     string `yaml:"diff_dir"`
	Keep        int    `yaml:"keep"`        // 0 = unlimited, otherwise >= 2
	Granularity string `yaml:"granularity"` // day | second
}

// CompareConfig tunes the pixel comparison.
type CompareConfig struct {
	Threshold float64 `yaml:"threshold"`
}

// CaptureConfig controls page loading before the screenshot.
type CaptureConfig struct {
	Settle        time.Duration `yaml:"settle"`
	IdleWindow    time.Duration `yaml:"idle_window"`
	NavTimeout    time.Duration `yaml:"nav_timeout"`
	HideSelectors []string      `yaml:"hide_selectors"`
}

// BrowserConfig controls Chrome lifecycle.
type BrowserConfig struct {
	Remote           string        `yaml:"remote"`
	Stealth          string        `yaml:"stealth"` // headless | headful
	XvfbDisplay      string        `yaml:"xvfb_display"`
	RecycleInterval  time.Duration `yaml:"recycle_interval"`
	ResourceBlocking []string      `yaml:"resource_blocking"`
}

// SinkConfig defines an output backend.
type SinkConfig struct {
	Type        string        `yaml:"type"` // stdout | webhook
	URL         string        `yaml:"url"`  // for webhook
	ChangesOnly bool          `yaml:"changes_only"`
	Timeout     time.Duration `yaml:"timeout"`
}

// LedgerConfig enables the SQLite run ledger when Path is set.
type LedgerConfig struct {
	Path          string `yaml:"path"`
	RetentionDays int    `yaml:"retention_days"`
}

// HTTPConfig enables the HTTP API when Addr is set.
type HTTPConfig struct {
	Addr         string `yaml:"addr"`
	PasswordHash string `yaml:"password_hash"` // bcrypt; empty disables auth
}

// MCPConfig selects the MCP transport: "" (off), stdio or http.
type MCPConfig struct {
	Transport string `yaml:"transport"`
}

// LoadFile reads a YAML configuration file, applies defaults and validates it.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration, applies defaults and validates it.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a configuration for the built-in target list.
func Default() *Config {
	cfg := &Config{Targets: DefaultTargets()}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills unset fields with the standard values.
func (c *Config) ApplyDefaults() {
	if c.Viewport.Width <= 0 {
		c.Viewport.Width = 1280
	}
	if c.Viewport.Height <= 0 {
		c.Viewport.Height = 800
	}
	if c.Snapshot.Dir == "" {
		c.Snapshot.Dir = "screenshots"
	}
	if c.Snapshot.DiffDir == "" {
		c.Snapshot.DiffDir = "diffs"
	}
	if c.Snapshot.Keep > 0 && c.Snapshot.Keep < 2 {
		c.Snapshot.Keep = 2
	}
	if c.Snapshot.Granularity == "" {
		c.Snapshot.Granularity = "day"
	}
	if c.Compare.Threshold == 0 {
		c.Compare.Threshold = 0.1
	}
	if c.Capture.Settle <= 0 {
		c.Capture.Settle = 2 * time.Second
	}
	if c.Capture.IdleWindow <= 0 {
		c.Capture.IdleWindow = 500 * time.Millisecond
	}
	if c.Capture.NavTimeout <= 0 {
		c.Capture.NavTimeout = 60 * time.Second
	}
	if c.Browser.Stealth == "" {
		c.Browser.Stealth = "headless"
	}
	if c.Browser.XvfbDisplay == "" {
		c.Browser.XvfbDisplay = ":99"
	}
	if c.Browser.RecycleInterval <= 0 {
		c.Browser.RecycleInterval = 4 * time.Hour
	}
	if c.Schedule == "" {
		c.Schedule = DefaultSchedule
	}
	if c.RunOnStart == nil {
		on := true
		c.RunOnStart = &on
	}
	if len(c.Sinks) == 0 {
		c.Sinks = []SinkConfig{{Type: "stdout"}}
	}
}

// Validate checks the configuration. All problems are reported together.
func (c *Config) Validate() error {
	var errs []error
	if len(c.Targets) == 0 {
		errs = append(errs, errors.New("targets: at least one URL is required"))
	}
	seen := make(map[string]bool, len(c.Targets))
	for i, t := range c.Targets {
		if err := ValidateTarget(t); err != nil {
			errs = append(errs, fmt.Errorf("targets[%d]: %w", i, err))
		}
		if seen[t] {
			errs = append(errs, fmt.Errorf("targets[%d]: duplicate %q", i, t))
		}
		seen[t] = true
	}
	if c.Compare.Threshold < 0 || c.Compare.Threshold > 1 {
		errs = append(errs, fmt.Errorf("compare.threshold: %v not in [0,1]", c.Compare.Threshold))
	}
	if c.Snapshot.Keep < 0 {
		errs = append(errs, fmt.Errorf("snapshot.keep: %d is negative", c.Snapshot.Keep))
	}
	switch c.Snapshot.Granularity {
	case "day", "second":
	default:
		errs = append(errs, fmt.Errorf("snapshot.granularity: %q (want day or second)", c.Snapshot.Granularity))
	}
	switch c.Browser.Stealth {
	case "headless", "headful":
	default:
		errs = append(errs, fmt.Errorf("browser.stealth: %q (want headless or headful)", c.Browser.Stealth))
	}
	if _, err := cron.ParseStandard(c.Schedule); err != nil {
		errs = append(errs, fmt.Errorf("schedule: %w", err))
	}
	for i, s := range c.Sinks {
		switch s.Type {
		case "stdout":
		case "webhook":
			if s.URL == "" {
				errs = append(errs, fmt.Errorf("sinks[%d]: webhook requires url", i))
			}
			if s.Timeout < 0 {
				errs = append(errs, fmt.Errorf("sinks[%d]: timeout %s is negative", i, s.Timeout))
			}
		default:
			errs = append(errs, fmt.Errorf("sinks[%d]: unknown type %q", i, s.Type))
		}
	}
	if c.Ledger.RetentionDays < 0 {
		errs = append(errs, fmt.Errorf("ledger.retention_days: %d is negative", c.Ledger.RetentionDays))
	}
	switch c.MCP.Transport {
	case "", "stdio":
	case "http":
		if c.HTTP.Addr == "" {
			errs = append(errs, errors.New("mcp.transport http requires http.addr"))
		}
	default:
		errs = append(errs, fmt.Errorf("mcp.transport: %q (want stdio or http)", c.MCP.Transport))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// ValidateTarget checks that a target is an absolute http(s) URL with a host.
func ValidateTarget(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%q: scheme must be http or https", raw)
	}
	if u.Hostname() == "" {
		return fmt.Errorf("%q: missing host", raw)
	}
	return nil
}
