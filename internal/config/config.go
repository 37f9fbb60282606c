// Package config loads pixelwatch configuration from YAML with
// environment-variable overrides. Defaults match the hosted demo suite so a
// bare `pixelwatch run` works without a config file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all pixelwatch configuration.
type Config struct {
	// Execution context: CI runs persist ledger records, local runs skip them.
	CI bool `yaml:"ci"`

	// Device type for this run: "desktop" or "mobile".
	Device string `yaml:"device"`

	// Mismatch tolerance in percent. A run fails when mismatch >= tolerance.
	Tolerance float64 `yaml:"tolerance"`

	Browser   BrowserConfig   `yaml:"browser"`
	Readiness ReadinessConfig `yaml:"readiness"`
	Explain   ExplainConfig   `yaml:"explain"`
	Ledger    LedgerConfig    `yaml:"ledger"`
	Storage   StorageConfig   `yaml:"storage"`

	// Pages to validate.
	Targets []Target `yaml:"targets"`
}

// Target describes one page under test.
type Target struct {
	Name string `yaml:"name"` // test title; file names derive from it
	URL  string `yaml:"url"`
	// Optional CSS selector for element-scoped capture. Empty means full page.
	Selector string `yaml:"selector"`
}

// BrowserConfig configures the rod browser layer.
type BrowserConfig struct {
	DebuggerURL         string `yaml:"debugger_url"` // attach instead of launch
	Bin                 string `yaml:"bin"`
	Headless            bool   `yaml:"headless"`
	ViewportWidth       int    `yaml:"viewport_width"`
	ViewportHeight      int    `yaml:"viewport_height"`
	NavigationTimeoutMs int    `yaml:"navigation_timeout_ms"`
}

// ReadinessConfig bounds the page readiness detector.
type ReadinessConfig struct {
	OverallTimeoutMs   int `yaml:"overall_timeout_ms"`
	APIQuiesceMs       int `yaml:"api_quiesce_timeout_ms"`
	SettleBufferMs     int `yaml:"settle_buffer_ms"`
	LoaderTimeoutMs    int `yaml:"loader_timeout_ms"`
	AnimationTimeoutMs int `yaml:"animation_timeout_ms"`
	StabilityMs        int `yaml:"stability_duration_ms"`
	StabilityMaxWaitMs int `yaml:"stability_max_wait_ms"`
	ImageTimeoutMs     int `yaml:"image_timeout_ms"`
}

// ExplainConfig configures the AI diff-explanation chain.
type ExplainConfig struct {
	Enabled         bool   `yaml:"enabled"`
	GeminiAPIKey    string `yaml:"gemini_api_key"`
	GeminiModel     string `yaml:"gemini_model"`
	AnthropicAPIKey string `yaml:"anthropic_api_key"`
	AnthropicModel  string `yaml:"anthropic_model"`
	TimeoutMs       int    `yaml:"timeout_ms"`
}

// LedgerConfig configures the sqlite verdict store.
type LedgerConfig struct {
	// DBFile overrides the computed database file name (visual_<device>.db in
	// CI, visual.db otherwise).
	DBFile string `yaml:"db_file"`
	// Dir is the root for the screenshots/ tree. Defaults to the working dir.
	Dir string `yaml:"dir"`
}

// StorageConfig configures the object-storage uploader.
type StorageConfig struct {
	URL    string `yaml:"url"`   // Supabase project URL
	Token  string `yaml:"token"` // service key
	Bucket string `yaml:"bucket"`
	// PublicURL is the public prefix failed-verdict image URLs are built from.
	PublicURL string `yaml:"public_url"`
}

// Default returns the baseline configuration before file and env overrides.
func Default() Config {
	return Config{
		Device:    "desktop",
		Tolerance: 1.0,
		Browser: BrowserConfig{
			Headless:            true,
			ViewportWidth:       1920,
			ViewportHeight:      1080,
			NavigationTimeoutMs: 30000,
		},
		Readiness: ReadinessConfig{
			OverallTimeoutMs:   30000,
			APIQuiesceMs:       15000,
			SettleBufferMs:     200,
			LoaderTimeoutMs:    10000,
			AnimationTimeoutMs: 10000,
			StabilityMs:        500,
			StabilityMaxWaitMs: 10000,
			ImageTimeoutMs:     10000,
		},
		Explain: ExplainConfig{
			Enabled:        true,
			GeminiModel:    "gemini-2.5-pro",
			AnthropicModel: "claude-sonnet-4-5-20250929",
			TimeoutMs:      120000,
		},
	}
}

// Load reads the YAML config at path (when it exists) on top of defaults and
// applies environment overrides last. A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnv(&cfg)

	if cfg.Device != "desktop" && cfg.Device != "mobile" {
		return cfg, fmt.Errorf("invalid device %q (want desktop or mobile)", cfg.Device)
	}
	if cfg.Tolerance < 0 || cfg.Tolerance > 100 {
		return cfg, fmt.Errorf("tolerance %.2f out of range [0,100]", cfg.Tolerance)
	}
	return cfg, nil
}

// applyEnv layers environment variables over the loaded config. The variable
// names match the original suite so existing CI setups keep working.
func applyEnv(cfg *Config) {
	if v := os.Getenv("CI"); v != "" {
		cfg.CI = true
	}
	if v := os.Getenv("DEVICE_TYPE"); v != "" {
		cfg.Device = v
	}
	if v := os.Getenv("MISMATCH_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Tolerance = f
		}
	}
	if v := os.Getenv("DB_FILE"); v != "" {
		cfg.Ledger.DBFile = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		cfg.Explain.GeminiAPIKey = v
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		cfg.Explain.AnthropicAPIKey = v
	}
	if v := os.Getenv("SUPABASE_URL"); v != "" {
		cfg.Storage.URL = v
	}
	if v := os.Getenv("SUPABASE_TOKEN"); v != "" {
		cfg.Storage.Token = v
	}
	if v := os.Getenv("SUPABASE_BUCKET_NAME"); v != "" {
		cfg.Storage.Bucket = v
	}
	if v := os.Getenv("STORAGE_URL"); v != "" {
		cfg.Storage.PublicURL = v
	}
}

// NavigationTimeout returns the browser navigation timeout.
func (c BrowserConfig) NavigationTimeout() time.Duration {
	if c.NavigationTimeoutMs <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.NavigationTimeoutMs) * time.Millisecond
}

func ms(v, fallback int) time.Duration {
	if v <= 0 {
		v = fallback
	}
	return time.Duration(v) * time.Millisecond
}

// OverallTimeout returns the master readiness timeout.
func (c ReadinessConfig) OverallTimeout() time.Duration { return ms(c.OverallTimeoutMs, 30000) }

// APIQuiesceTimeout bounds the network quiescence signal.
func (c ReadinessConfig) APIQuiesceTimeout() time.Duration { return ms(c.APIQuiesceMs, 15000) }

// SettleBuffer is the grace period after the pending count reaches zero.
func (c ReadinessConfig) SettleBuffer() time.Duration { return ms(c.SettleBufferMs, 200) }

// LoaderTimeout bounds the loader-absence signal.
func (c ReadinessConfig) LoaderTimeout() time.Duration { return ms(c.LoaderTimeoutMs, 10000) }

// AnimationTimeout bounds the animation-completion signal.
func (c ReadinessConfig) AnimationTimeout() time.Duration { return ms(c.AnimationTimeoutMs, 10000) }

// StabilityDuration is the mutation-free window required for DOM stability.
func (c ReadinessConfig) StabilityDuration() time.Duration { return ms(c.StabilityMs, 500) }

// StabilityMaxWait is the hard backstop for the DOM stability signal.
func (c ReadinessConfig) StabilityMaxWait() time.Duration { return ms(c.StabilityMaxWaitMs, 10000) }

// ImageTimeout bounds the image-load signal.
func (c ReadinessConfig) ImageTimeout() time.Duration { return ms(c.ImageTimeoutMs, 10000) }

// Timeout returns the per-call explanation provider timeout.
func (c ExplainConfig) Timeout() time.Duration {
	if c.TimeoutMs <= 0 {
		return 2 * time.Minute
	}
	return time.Duration(c.TimeoutMs) * time.Millisecond
}
