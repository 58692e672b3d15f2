package common

import (
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration
type Config struct {
	Environment string         `toml:"environment"` // "development" or "production"
	Site        SiteConfig     `toml:"site"`
	Browser     BrowserConfig  `toml:"browser"`
	Timeouts    TimeoutConfig  `toml:"timeouts"`
	Retry       RetryConfig    `toml:"retry"`
	Pipeline    PipelineConfig `toml:"pipeline"`
	Files       FilesConfig    `toml:"files"`
	Logging     LoggingConfig  `toml:"logging"`
}

// SiteConfig holds the target site URL and its selector map. Selectors are
// presentation detail and expected to need updating whenever the site's
// rendering changes.
type SiteConfig struct {
	URL       string         `toml:"url"`
	Selectors SelectorConfig `toml:"selectors"`
}

type SelectorConfig struct {
	Overlay            string `toml:"overlay"`             // first-run notification overlay (optional)
	OverlayDismiss     string `toml:"overlay_dismiss"`     // close control inside the overlay
	CityDropdown       string `toml:"city_dropdown"`       // control that opens the province/city list
	CityOptions        string `toml:"city_options"`        // container of city option nodes
	PrefectureDropdown string `toml:"prefecture_dropdown"` // control that opens the district list
	PrefectureOptions  string `toml:"prefecture_options"`  // container of district option nodes
	WardDropdown       string `toml:"ward_dropdown"`       // control that opens the ward list
	WardOptions        string `toml:"ward_options"`        // ward option nodes; the first match is activated
	Submit             string `toml:"submit"`              // conversion trigger
	ResultMarker       string `toml:"result_marker"`       // element that becomes visible when a result renders
	ResultSection      string `toml:"result_section"`      // container holding the converted address text
	NewAddressLabel    string `toml:"new_address_label"`   // visible label preceding the converted name
	CopyLabel          string `toml:"copy_label"`          // "copy" affordance text excluded from extraction
}

type BrowserConfig struct {
	Headless       bool   `toml:"headless"`
	BlockResources bool   `toml:"block_resources"` // block images/fonts/stylesheets for faster loads
	UserAgent      string `toml:"user_agent"`
	NoSandbox      bool   `toml:"no_sandbox"`
	DisableGPU     bool   `toml:"disable_gpu"`
}

// TimeoutConfig holds UI wait bounds as duration strings (e.g., "5s", "1500ms")
type TimeoutConfig struct {
	Navigation  string `toml:"navigation"`   // page load bound
	ElementWait string `toml:"element_wait"` // option/element visibility bound
	ResultWait  string `toml:"result_wait"`  // submit-to-result bound
	StepDelay   string `toml:"step_delay"`   // fixed pause between UI operations
	Pace        string `toml:"pace"`         // minimum interval between records
}

type RetryConfig struct {
	MaxAttempts  int    `toml:"max_attempts"`  // attempts per record before the record is poisoned
	BackoffBase  string `toml:"backoff_base"`  // base unit for the 2^attempt backoff
	RefreshEvery int    `toml:"refresh_every"` // full session refresh every Nth failed attempt
}

type PipelineConfig struct {
	CheckpointEvery     int `toml:"checkpoint_every"`      // checkpoint write cadence in records
	SessionRefreshEvery int `toml:"session_refresh_every"` // proactive session refresh cadence in records
}

type FilesConfig struct {
	Input      string `toml:"input"`
	Output     string `toml:"output"`
	Checkpoint string `toml:"checkpoint"`
}

type LoggingConfig struct {
	Level  string   `toml:"level"`  // "debug", "info", "warn", "error"
	Output []string `toml:"output"` // "stdout", "file"
}

// DefaultConfig returns the balanced default profile
func DefaultConfig() *Config {
	return &Config{
		Environment: "production",
		Site: SiteConfig{
			URL: "https://sapnhap.bando.com.vn/",
			Selectors: SelectorConfig{
				Overlay:            "#thongbao-modal",
				OverlayDismiss:     "#thongbao-modal .btn-close",
				CityDropdown:       "#select-tinh .dropdown-toggle",
				CityOptions:        "#select-tinh .dropdown-menu",
				PrefectureDropdown: "#select-huyen .dropdown-toggle",
				PrefectureOptions:  "#select-huyen .dropdown-menu",
				WardDropdown:       "#select-xa .dropdown-toggle",
				WardOptions:        "#select-xa .dropdown-menu li",
				Submit:             "#btn-chuyendoi",
				ResultMarker:       "#ketqua .diachi-moi",
				ResultSection:      "#ketqua",
				NewAddressLabel:    "Địa chỉ mới",
				CopyLabel:          "Sao chép",
			},
		},
		Browser: BrowserConfig{
			Headless:       true,
			BlockResources: false,
			UserAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			NoSandbox:      true,
			DisableGPU:     true,
		},
		Timeouts: TimeoutConfig{
			Navigation:  "30s",
			ElementWait: "10s",
			ResultWait:  "20s",
			StepDelay:   "800ms",
			Pace:        "1500ms",
		},
		Retry: RetryConfig{
			MaxAttempts:  3,
			BackoffBase:  "1s",
			RefreshEvery: 2,
		},
		Pipeline: PipelineConfig{
			CheckpointEvery:     10,
			SessionRefreshEvery: 20,
		},
		Files: FilesConfig{
			Input:      "input.json",
			Output:     "output.json",
			Checkpoint: "checkpoint.json",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: []string{"stdout"},
		},
	}
}

// LoadFromFile loads configuration from a TOML file layered over defaults.
// An empty path returns the defaults unchanged.
func LoadFromFile(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyMode adjusts the configuration for a named run profile.
// "speed" shortens delays, blocks heavy resources and drops to a single
// attempt per record; "debug" runs a visible browser with generous waits.
// An empty mode keeps the balanced defaults.
func ApplyMode(cfg *Config, mode string) error {
	switch mode {
	case "":
		return nil
	case "speed":
		cfg.Browser.Headless = true
		cfg.Browser.BlockResources = true
		cfg.Timeouts.StepDelay = "300ms"
		cfg.Timeouts.Pace = "500ms"
		cfg.Retry.MaxAttempts = 1
		return nil
	case "debug":
		cfg.Browser.Headless = false
		cfg.Browser.BlockResources = false
		cfg.Timeouts.StepDelay = "2s"
		cfg.Timeouts.Pace = "3s"
		cfg.Timeouts.ElementWait = "20s"
		cfg.Timeouts.ResultWait = "40s"
		return nil
	default:
		return fmt.Errorf("unknown run mode %q (valid: speed, debug)", mode)
	}
}

// ApplyFlagOverrides applies command-line path overrides (highest priority).
// Empty values leave the configured paths untouched.
func ApplyFlagOverrides(cfg *Config, input, output, checkpoint string) {
	if input != "" {
		cfg.Files.Input = input
	}
	if output != "" {
		cfg.Files.Output = output
	}
	if checkpoint != "" {
		cfg.Files.Checkpoint = checkpoint
	}
}

// GetDuration parses a duration string, falling back to a default when the
// value is empty or unparsable
func GetDuration(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}

// NavigationTimeout returns the parsed page-load bound
func (t TimeoutConfig) NavigationTimeout() time.Duration {
	return GetDuration(t.Navigation, 30*time.Second)
}

// ElementWaitTimeout returns the parsed element-visibility bound
func (t TimeoutConfig) ElementWaitTimeout() time.Duration {
	return GetDuration(t.ElementWait, 10*time.Second)
}

// ResultWaitTimeout returns the parsed submit-to-result bound
func (t TimeoutConfig) ResultWaitTimeout() time.Duration {
	return GetDuration(t.ResultWait, 20*time.Second)
}

// StepDelayDuration returns the parsed inter-operation pause
func (t TimeoutConfig) StepDelayDuration() time.Duration {
	return GetDuration(t.StepDelay, 800*time.Millisecond)
}

// PaceDuration returns the parsed minimum interval between records
func (t TimeoutConfig) PaceDuration() time.Duration {
	return GetDuration(t.Pace, 1500*time.Millisecond)
}

// BackoffBaseDuration returns the parsed backoff base unit
func (r RetryConfig) BackoffBaseDuration() time.Duration {
	return GetDuration(r.BackoffBase, time.Second)
}
