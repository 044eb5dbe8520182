// Package config loads the runtime's configuration options (spec.md §6,
// "Configuration (recognised options)") via viper: command line flags,
// then environment variables, then a config file, then defaults, following
// the same priority order and viper/fsnotify wiring as the teacher's own
// cmd/looms config loader.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// LanguageModelConfig is opaque to the core beyond these three fields; the
// language-model adapter resolves provider/model/credentials into an
// actual client (spec.md §4.5, §6).
type LanguageModelConfig struct {
	Provider    string `mapstructure:"provider"`
	Model       string `mapstructure:"model"`
	Credentials string `mapstructure:"credentials"`
}

// DebounceConfig configures the LLM Loop's trigger debounce (spec.md §4.9).
type DebounceConfig struct {
	Quiet   time.Duration `mapstructure:"quiet"`
	MaxWait time.Duration `mapstructure:"max_wait"`
}

// LoggingConfig configures internal/logging's zap construction.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, console
	File   string `mapstructure:"file"`   // optional, defaults to stdout/stderr
}

// Config holds every recognised option from spec.md §6.
type Config struct {
	Port                 int                 `mapstructure:"port"`
	DataDir              string              `mapstructure:"data_dir"`
	LLMDebounce          DebounceConfig      `mapstructure:"llm_debounce"`
	ClockIntervalSeconds int                 `mapstructure:"clock_interval_seconds"`
	LanguageModel        LanguageModelConfig `mapstructure:"language_model"`
	Logging              LoggingConfig       `mapstructure:"logging"`
}

const (
	DefaultPort                 = 3000
	DefaultDataDir              = ".data/streams"
	DefaultDebounceQuiet        = 200 * time.Millisecond
	DefaultDebounceMaxWait      = 2 * time.Second
	DefaultClockIntervalSeconds = 1
	EnvPrefix                   = "AGENTRT"
)

// Load reads configuration from cfgFile (if non-empty; otherwise the first
// agentrt.yaml found in ./ or /etc/agentrt/) and AGENTRT_-prefixed
// environment variables. Values already set on v by command line flags win,
// then environment variables, then the config file, then defaults. A missing
// config file is not an error (spec.md §6).
func Load(v *viper.Viper, cfgFile string) (*Config, error) {
	setDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("agentrt")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/agentrt/")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config: read %s: %w", v.ConfigFileUsed(), err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", DefaultPort)
	v.SetDefault("data_dir", DefaultDataDir)
	v.SetDefault("llm_debounce.quiet", DefaultDebounceQuiet)
	v.SetDefault("llm_debounce.max_wait", DefaultDebounceMaxWait)
	v.SetDefault("clock_interval_seconds", DefaultClockIntervalSeconds)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
}

// Validate reports the first configuration error found.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("config: invalid port %d (must be 1-65535)", c.Port)
	}
	if c.DataDir == "" {
		return fmt.Errorf("config: data_dir is required")
	}
	if c.ClockIntervalSeconds < 1 {
		return fmt.Errorf("config: clock_interval_seconds must be >= 1")
	}
	if c.LLMDebounce.Quiet <= 0 {
		return fmt.Errorf("config: llm_debounce.quiet must be positive")
	}
	if c.LLMDebounce.MaxWait < c.LLMDebounce.Quiet {
		return fmt.Errorf("config: llm_debounce.max_wait must be >= llm_debounce.quiet")
	}
	return nil
}

// Watch re-loads the config file on change and invokes onChange with the
// freshly unmarshalled Config, mirroring viper's own fsnotify-backed
// WatchConfig (the teacher's cmd/looms reads the same config file once at
// startup; watching it is this runtime's addition since languageModel
// credentials are the kind of value an operator rotates without a
// restart).
func Watch(v *viper.Viper, onChange func(*Config, error)) {
	v.OnConfigChange(func(_ fsnotify.Event) {
		var cfg Config
		err := v.Unmarshal(&cfg)
		if err == nil {
			err = cfg.Validate()
		}
		onChange(&cfg, err)
	})
	v.WatchConfig()
}
