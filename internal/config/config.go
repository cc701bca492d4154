// Package config loads PercyCore's configuration from a YAML file overlaid
// with environment variables, and validates the result.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-yaml"

	"github.com/percyio/percy-core/internal/percy"
)

// Defaults mirrored from spec §6.
const (
	DefaultPort                  = 5338
	DefaultMinHeight             = 1024
	DefaultDiscoveryConcurrency  = 5
	DefaultNetworkIdleTimeout    = 100 * time.Millisecond
	DefaultResponseCacheMaxBytes = 128 * 1024 * 1024
	DefaultBrowserLaunchTimeout  = 30 * time.Second
	DefaultNavigationTimeout     = 30 * time.Second
	DefaultBodyFetchTimeout      = 5 * time.Second
	DefaultAPITimeout            = 30 * time.Second
)

var defaultWidths = []int{375, 1280}

// SnapshotDefaults holds the defaults applied to every incoming snapshot
// payload before per-snapshot overrides.
type SnapshotDefaults struct {
	Widths    []int
	MinHeight int
	PercyCSS  string
}

// DiscoveryConfig configures the AssetDiscoverer and BrowserController.
type DiscoveryConfig struct {
	Concurrency         int
	AllowedHostnames    []string
	DisallowedHostnames []string
	NetworkIdleTimeout  time.Duration
	DisableAssetCache   bool
	RequestHeaders      map[string]string
	ResponseCacheBytes  int64
}

// Timeouts configures the bounded waits described in spec §5.
type Timeouts struct {
	BrowserLaunch time.Duration
	Navigation    time.Duration
	BodyFetch     time.Duration
	API           time.Duration
}

// Config is the fully-resolved, effective configuration for a PercyCore
// instance.
type Config struct {
	Token   string
	Port    int
	Server  bool

	Snapshot  SnapshotDefaults
	Discovery DiscoveryConfig
	Timeouts  Timeouts

	// ParallelNonce and ParallelTotal correlate concurrent PercyCore runs
	// against the same build (CI matrix builds); forwarded to the remote
	// API untouched.
	ParallelNonce string
	ParallelTotal int

	// Enabled controls whether discovery runs at all; when false the core
	// starts but snapshot() is a no-op success (PERCY_ENABLE=0).
	Enabled bool

	LogLevel string
}

// fileConfig is the subset of Config that may be set from a YAML file. Only
// fields present in the file override the defaults; env vars are applied on
// top of whatever the file produced.
type fileConfig struct {
	Token  string `yaml:"token"`
	Port   int    `yaml:"port"`
	Server *bool  `yaml:"server"`

	Snapshot struct {
		Widths    []int  `yaml:"widths"`
		MinHeight int    `yaml:"minHeight"`
		PercyCSS  string `yaml:"percyCSS"`
	} `yaml:"snapshot"`

	Discovery struct {
		Concurrency         int               `yaml:"concurrency"`
		AllowedHostnames    []string          `yaml:"allowedHostnames"`
		DisallowedHostnames []string          `yaml:"disallowedHostnames"`
		NetworkIdleTimeout  int               `yaml:"networkIdleTimeout"`
		DisableAssetCache   bool              `yaml:"disableAssetCache"`
		RequestHeaders      map[string]string `yaml:"requestHeaders"`
	} `yaml:"discovery"`
}

// Default returns a Config populated entirely with spec defaults.
func Default() *Config {
	return &Config{
		Port:    DefaultPort,
		Server:  true,
		Enabled: true,
		Snapshot: SnapshotDefaults{
			Widths:    append([]int(nil), defaultWidths...),
			MinHeight: DefaultMinHeight,
		},
		Discovery: DiscoveryConfig{
			Concurrency:        DefaultDiscoveryConcurrency,
			NetworkIdleTimeout: DefaultNetworkIdleTimeout,
			ResponseCacheBytes: DefaultResponseCacheMaxBytes,
		},
		Timeouts: Timeouts{
			BrowserLaunch: DefaultBrowserLaunchTimeout,
			Navigation:    DefaultNavigationTimeout,
			BodyFetch:     DefaultBodyFetchTimeout,
			API:           DefaultAPITimeout,
		},
		LogLevel: "info",
	}
}

// Load reads configFile (if non-empty) as YAML onto the defaults, then
// applies environment variable overrides, then validates. configFile may be
// "" to skip the file layer entirely.
func Load(configFile string) (*Config, error) {
	cfg := Default()

	if configFile != "" {
		data, err := os.ReadFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("config: failed to read %q: %w", configFile, err)
		}
		var fc fileConfig
		if err := yaml.Unmarshal(data, &fc); err != nil {
			return nil, fmt.Errorf("config: failed to parse %q: %w", configFile, err)
		}
		applyFile(cfg, &fc)
	}

	applyEnv(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func applyFile(cfg *Config, fc *fileConfig) {
	if fc.Token != "" {
		cfg.Token = fc.Token
	}
	if fc.Port != 0 {
		cfg.Port = fc.Port
	}
	if fc.Server != nil {
		cfg.Server = *fc.Server
	}
	if len(fc.Snapshot.Widths) > 0 {
		cfg.Snapshot.Widths = fc.Snapshot.Widths
	}
	if fc.Snapshot.MinHeight != 0 {
		cfg.Snapshot.MinHeight = fc.Snapshot.MinHeight
	}
	if fc.Snapshot.PercyCSS != "" {
		cfg.Snapshot.PercyCSS = fc.Snapshot.PercyCSS
	}
	if fc.Discovery.Concurrency != 0 {
		cfg.Discovery.Concurrency = fc.Discovery.Concurrency
	}
	if fc.Discovery.AllowedHostnames != nil {
		cfg.Discovery.AllowedHostnames = fc.Discovery.AllowedHostnames
	}
	if fc.Discovery.DisallowedHostnames != nil {
		cfg.Discovery.DisallowedHostnames = fc.Discovery.DisallowedHostnames
	}
	if fc.Discovery.NetworkIdleTimeout != 0 {
		cfg.Discovery.NetworkIdleTimeout = time.Duration(fc.Discovery.NetworkIdleTimeout) * time.Millisecond
	}
	cfg.Discovery.DisableAssetCache = fc.Discovery.DisableAssetCache
	if fc.Discovery.RequestHeaders != nil {
		cfg.Discovery.RequestHeaders = fc.Discovery.RequestHeaders
	}
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("PERCY_TOKEN"); v != "" {
		cfg.Token = v
	}
	if v := os.Getenv("PERCY_LOGLEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}
	if v := os.Getenv("PERCY_PARALLEL_NONCE"); v != "" {
		cfg.ParallelNonce = v
	}
	if v := os.Getenv("PERCY_PARALLEL_TOTAL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ParallelTotal = n
		}
	}
	if v := os.Getenv("PERCY_ENABLE"); v == "0" {
		cfg.Enabled = false
	}
}

// Validate checks the invariants named in spec §6.
func Validate(cfg *Config) error {
	if cfg.Token == "" {
		return fmt.Errorf("%w: token is required", percy.ErrConfigValidation)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range [1, 65535]", percy.ErrConfigValidation, cfg.Port)
	}
	if len(cfg.Snapshot.Widths) == 0 {
		return fmt.Errorf("%w: snapshot.widths must not be empty", percy.ErrConfigValidation)
	}
	for _, w := range cfg.Snapshot.Widths {
		if w < 1 || w > 2000 {
			return fmt.Errorf("%w: snapshot width %d out of range [1, 2000]", percy.ErrConfigValidation, w)
		}
	}
	if cfg.Snapshot.MinHeight < 1 || cfg.Snapshot.MinHeight > 2000 {
		return fmt.Errorf("%w: snapshot.minHeight %d out of range [1, 2000]", percy.ErrConfigValidation, cfg.Snapshot.MinHeight)
	}
	if cfg.Discovery.Concurrency < 1 {
		return fmt.Errorf("%w: discovery.concurrency must be >= 1", percy.ErrConfigValidation)
	}
	if err := percy.ValidateHostnamePatterns(cfg.Discovery.AllowedHostnames); err != nil {
		return err
	}
	if err := percy.ValidateHostnamePatterns(cfg.Discovery.DisallowedHostnames); err != nil {
		return err
	}
	return nil
}
