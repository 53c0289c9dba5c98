// File: internal/config/config.go
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"

	"github.com/dfmorales/rastreo-cli/api/schemas"
)

// Config holds the entire application configuration.
type Config struct {
	Logger       LoggerConfig              `mapstructure:"logger" yaml:"logger"`
	Database     DatabaseConfig            `mapstructure:"database" yaml:"database"`
	Browser      BrowserConfig             `mapstructure:"browser" yaml:"browser"`
	Wait         WaitConfig                `mapstructure:"wait" yaml:"wait"`
	Overlay      OverlayConfig             `mapstructure:"overlay" yaml:"overlay"`
	Providers    map[string]ProviderConfig `mapstructure:"providers" yaml:"providers"`
	Orchestrator OrchestratorConfig        `mapstructure:"orchestrator" yaml:"orchestrator"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
}

// DatabaseConfig holds the connection details for the location store.
// An empty URL disables persistence; records are only printed.
type DatabaseConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// BrowserConfig holds settings for the headless browser instances.
type BrowserConfig struct {
	Headless bool `mapstructure:"headless" yaml:"headless"`
	// ExecPath optionally points at a specific Chrome/Chromium binary.
	ExecPath     string   `mapstructure:"exec_path" yaml:"exec_path"`
	WindowWidth  int      `mapstructure:"window_width" yaml:"window_width"`
	WindowHeight int      `mapstructure:"window_height" yaml:"window_height"`
	Args         []string `mapstructure:"args" yaml:"args"`
	// StartupTimeout bounds browser process launch; exceeding it is fatal.
	StartupTimeout time.Duration `mapstructure:"startup_timeout" yaml:"startup_timeout"`
}

// WaitConfig tunes the adaptive wait engine.
type WaitConfig struct {
	DefaultPollInterval time.Duration `mapstructure:"default_poll_interval" yaml:"default_poll_interval"`
	FastPollInterval    time.Duration `mapstructure:"fast_poll_interval" yaml:"fast_poll_interval"`
	MinTimeout          time.Duration `mapstructure:"min_timeout" yaml:"min_timeout"`
	MaxTimeout          time.Duration `mapstructure:"max_timeout" yaml:"max_timeout"`
	// FastPathWindow is how recently an operation must have resolved fast for
	// the single synchronous probe to be attempted before a full poll.
	FastPathWindow time.Duration `mapstructure:"fast_path_window" yaml:"fast_path_window"`
}

// OverlayConfig tunes the nuisance-overlay handler.
type OverlayConfig struct {
	// MonitorInterval is the background sweep period while a slow step runs.
	MonitorInterval time.Duration `mapstructure:"monitor_interval" yaml:"monitor_interval"`
}

// ProviderConfig is the per-portal section.
type ProviderConfig struct {
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`
	// CallTimeout is the overall deadline for one Login or GetVehicleLocation
	// call. Step-level adaptive waits stay bounded on their own; this is the
	// outer guard.
	CallTimeout time.Duration `mapstructure:"call_timeout" yaml:"call_timeout"`
}

// OrchestratorConfig tunes the roster loop.
type OrchestratorConfig struct {
	// LookupsPerMinute paces vehicle lookups within one provider batch.
	LookupsPerMinute float64 `mapstructure:"lookups_per_minute" yaml:"lookups_per_minute"`
}

// SetDefaults initializes default values for all configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "rastreo")
	v.SetDefault("logger.log_file", "rastreo.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.window_width", 1600)
	v.SetDefault("browser.window_height", 900)
	v.SetDefault("browser.startup_timeout", "45s")

	// -- Wait engine --
	v.SetDefault("wait.default_poll_interval", "250ms")
	v.SetDefault("wait.fast_poll_interval", "100ms")
	v.SetDefault("wait.min_timeout", "2s")
	v.SetDefault("wait.max_timeout", "40s")
	v.SetDefault("wait.fast_path_window", "30s")

	// -- Overlay --
	v.SetDefault("overlay.monitor_interval", "2s")

	// -- Providers --
	v.SetDefault("providers.movilsat.base_url", "https://plataforma.movilsat.example")
	v.SetDefault("providers.movilsat.call_timeout", "4m")
	v.SetDefault("providers.geotrack.base_url", "https://portal.geotrack.example")
	v.SetDefault("providers.geotrack.call_timeout", "4m")
	v.SetDefault("providers.rastreosat.base_url", "https://app.rastreosat.example")
	v.SetDefault("providers.rastreosat.call_timeout", "4m")

	// -- Orchestrator --
	v.SetDefault("orchestrator.lookups_per_minute", 6.0)
}

// NewDefaultConfig creates a configuration populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// Cannot happen with defaults only.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// NewConfigFromViper creates a configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	v.BindEnv("database.url", "RASTREO_DATABASE_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// ConfigSearchPaths returns the directories viper should search for a config
// file: the working directory first, then ~/.rastreo.
func ConfigSearchPaths() []string {
	paths := []string{"."}
	if home, err := homedir.Dir(); err == nil {
		paths = append(paths, filepath.Join(home, ".rastreo"))
	}
	return paths
}

// Provider returns the section for one portal id.
func (c *Config) Provider(id schemas.ProviderID) (ProviderConfig, error) {
	pc, ok := c.Providers[string(id)]
	if !ok {
		return ProviderConfig{}, fmt.Errorf("no configuration for provider %q", id)
	}
	return pc, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.Browser.WindowWidth <= 0 || c.Browser.WindowHeight <= 0 {
		return fmt.Errorf("browser.window_width and browser.window_height must be positive")
	}
	if c.Wait.MinTimeout <= 0 || c.Wait.MaxTimeout < c.Wait.MinTimeout {
		return fmt.Errorf("wait.min_timeout must be positive and wait.max_timeout >= wait.min_timeout")
	}
	if c.Wait.DefaultPollInterval <= 0 || c.Wait.FastPollInterval <= 0 {
		return fmt.Errorf("wait poll intervals must be positive")
	}
	for name, pc := range c.Providers {
		if !schemas.IsKnownProvider(schemas.ProviderID(name)) {
			return fmt.Errorf("unknown provider section %q", name)
		}
		if pc.BaseURL == "" {
			return fmt.Errorf("providers.%s.base_url is required", name)
		}
		if !strings.HasPrefix(pc.BaseURL, "http://") && !strings.HasPrefix(pc.BaseURL, "https://") {
			return fmt.Errorf("providers.%s.base_url must be an absolute http(s) URL", name)
		}
		if pc.CallTimeout <= 0 {
			return fmt.Errorf("providers.%s.call_timeout must be positive", name)
		}
	}
	if c.Orchestrator.LookupsPerMinute <= 0 {
		return fmt.Errorf("orchestrator.lookups_per_minute must be positive")
	}
	return nil
}
