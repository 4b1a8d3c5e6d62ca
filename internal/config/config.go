// File: internal/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the entire application configuration.
type Config struct {
	Logger   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	Browser  BrowserConfig  `mapstructure:"browser" yaml:"browser"`
	Timeouts TimeoutsConfig `mapstructure:"timeouts" yaml:"timeouts"`
}

// LoggerConfig controls the global zap logger.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"` // "console" or "json"
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`

	// File rotation (lumberjack). Empty LogFile disables file output.
	LogFile    string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize    int    `mapstructure:"max_size" yaml:"max_size"` // megabytes
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge     int    `mapstructure:"max_age" yaml:"max_age"` // days
	Compress   bool   `mapstructure:"compress" yaml:"compress"`
}

// BrowserConfig controls how the remote engine is launched or attached to.
type BrowserConfig struct {
	// RemoteURL attaches to an already-running engine's debugging endpoint
	// instead of launching one.
	RemoteURL   string `mapstructure:"remote_url" yaml:"remote_url"`
	ExecPath    string `mapstructure:"exec_path" yaml:"exec_path"`
	UserDataDir string `mapstructure:"user_data_dir" yaml:"user_data_dir"`
	Headless    bool   `mapstructure:"headless" yaml:"headless"`
	NoSandbox   bool   `mapstructure:"no_sandbox" yaml:"no_sandbox"`
}

// TimeoutsConfig bounds every asynchronous wait the client performs.
type TimeoutsConfig struct {
	Goto     time.Duration `mapstructure:"goto" yaml:"goto"`
	Evaluate time.Duration `mapstructure:"evaluate" yaml:"evaluate"`
	// Wait bounds selector and predicate waits.
	Wait time.Duration `mapstructure:"wait" yaml:"wait"`
	// Poll is the tick between condition checks and deadline checks.
	Poll time.Duration `mapstructure:"poll" yaml:"poll"`
}

// Default returns a Config with every field at its documented default.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads configuration from the given file (optional), the CHROMY_*
// environment, and defaults, in ascending precedence of env over file.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("chromy")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("CHROMY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// A missing default config file is fine; an explicit one must exist.
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound || cfgFile != "" {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate applies defaults and rejects inconsistent settings.
func (c *Config) Validate() error {
	c.applyDefaults()

	if c.Timeouts.Poll <= 0 {
		return fmt.Errorf("timeouts.poll must be positive, got %v", c.Timeouts.Poll)
	}
	if c.Timeouts.Goto <= 0 {
		return fmt.Errorf("timeouts.goto must be positive, got %v", c.Timeouts.Goto)
	}
	if c.Timeouts.Evaluate <= 0 {
		return fmt.Errorf("timeouts.evaluate must be positive, got %v", c.Timeouts.Evaluate)
	}
	if c.Timeouts.Wait < 0 {
		return fmt.Errorf("timeouts.wait must not be negative, got %v", c.Timeouts.Wait)
	}
	switch c.Logger.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logger.format must be \"console\" or \"json\", got %q", c.Logger.Format)
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Logger.Level == "" {
		c.Logger.Level = "info"
	}
	if c.Logger.Format == "" {
		c.Logger.Format = "console"
	}
	if c.Logger.ServiceName == "" {
		c.Logger.ServiceName = "chromy"
	}
	if c.Logger.MaxSize == 0 {
		c.Logger.MaxSize = 100
	}
	if c.Logger.MaxBackups == 0 {
		c.Logger.MaxBackups = 3
	}
	if c.Logger.MaxAge == 0 {
		c.Logger.MaxAge = 28
	}
	if c.Timeouts.Goto == 0 {
		c.Timeouts.Goto = 30 * time.Second
	}
	if c.Timeouts.Evaluate == 0 {
		c.Timeouts.Evaluate = 20 * time.Second
	}
	if c.Timeouts.Wait == 0 {
		c.Timeouts.Wait = 30 * time.Second
	}
	if c.Timeouts.Poll == 0 {
		c.Timeouts.Poll = 50 * time.Millisecond
	}
	if !c.Browser.Headless && c.Browser.RemoteURL == "" && c.Browser.ExecPath == "" {
		// Headless is the sensible default when we launch the engine ourselves.
		c.Browser.Headless = true
	}
}
