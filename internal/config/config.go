// Package config loads promptforge configuration with Viper from an optional
// YAML file, environment variables with the PROMPTFORGE_ prefix, and
// command-line flags, in ascending precedence.
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/promptforge/promptforge/internal/errors"
	"github.com/promptforge/promptforge/internal/memory"
)

type Config struct {
	Templates TemplatesConfig `yaml:"templates"`
	Cache     CacheConfig     `yaml:"cache"`
	Watch     WatchConfig     `yaml:"watch"`
	Memory    MemoryConfig    `yaml:"memory"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type TemplatesConfig struct {
	// Dirs are scanned non-recursively for .json/.jsonc template documents.
	Dirs []string `yaml:"dirs"`
	// PreloadFrequent loads the most-used templates eagerly at startup.
	PreloadFrequent int `yaml:"preload_frequent"`
}

type CacheConfig struct {
	MaxEntries int   `yaml:"max_entries"`
	MaxBytes   int64 `yaml:"max_bytes"`
}

type WatchConfig struct {
	Enabled    bool `yaml:"enabled"`
	DebounceMS int  `yaml:"debounce_ms"`
}

type MemoryConfig struct {
	Enabled    bool    `yaml:"enabled"`
	IntervalS  int     `yaml:"interval_s"`
	WarningMB  float64 `yaml:"warning_mb"`
	CleanupMB  float64 `yaml:"cleanup_mb"`
	CriticalMB float64 `yaml:"critical_mb"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// SetDefaults registers default values on the given Viper instance. Call it
// before reading the config file so file values win over defaults.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("templates.dirs", []string{"./templates"})
	v.SetDefault("templates.preload_frequent", 0)
	v.SetDefault("cache.max_entries", 50)
	v.SetDefault("cache.max_bytes", int64(10<<20))
	v.SetDefault("watch.enabled", false)
	v.SetDefault("watch.debounce_ms", 500)
	v.SetDefault("memory.enabled", false)
	v.SetDefault("memory.interval_s", 30)
	v.SetDefault("memory.warning_mb", 256.0)
	v.SetDefault("memory.cleanup_mb", 512.0)
	v.SetDefault("memory.critical_mb", 1024.0)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

// Load builds a Config from the given Viper instance and validates it.
func Load(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		Templates: TemplatesConfig{
			Dirs:            v.GetStringSlice("templates.dirs"),
			PreloadFrequent: v.GetInt("templates.preload_frequent"),
		},
		Cache: CacheConfig{
			MaxEntries: v.GetInt("cache.max_entries"),
			MaxBytes:   v.GetInt64("cache.max_bytes"),
		},
		Watch: WatchConfig{
			Enabled:    v.GetBool("watch.enabled"),
			DebounceMS: v.GetInt("watch.debounce_ms"),
		},
		Memory: MemoryConfig{
			Enabled:    v.GetBool("memory.enabled"),
			IntervalS:  v.GetInt("memory.interval_s"),
			WarningMB:  v.GetFloat64("memory.warning_mb"),
			CleanupMB:  v.GetFloat64("memory.cleanup_mb"),
			CriticalMB: v.GetFloat64("memory.critical_mb"),
		},
		Logging: LoggingConfig{
			Level:  v.GetString("logging.level"),
			Format: v.GetString("logging.format"),
		},
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// NewViper creates a Viper instance wired for promptforge: defaults set,
// PROMPTFORGE_ environment prefix, and an optional config file. A missing
// file at the default location is fine; an explicit file that cannot be read
// is an error.
func NewViper(configFile string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix("PROMPTFORGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.NewConfigError(errors.CodeDirectoryInvalid,
				"cannot read config file "+configFile+": "+err.Error())
		}
		return v, nil
	}

	v.SetConfigName(".promptforge")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, errors.NewConfigError(errors.CodeDirectoryInvalid,
				"cannot read config file: "+err.Error())
		}
	}
	return v, nil
}

// Validate checks structural constraints. It does not touch the filesystem;
// missing template directories surface later as recoverable load errors.
func (c *Config) Validate() error {
	if len(c.Templates.Dirs) == 0 {
		return errors.NewConfigError(errors.CodeDirectoryInvalid,
			"at least one template directory must be configured")
	}
	for _, dir := range c.Templates.Dirs {
		if strings.TrimSpace(dir) == "" {
			return errors.NewConfigError(errors.CodeDirectoryInvalid,
				"template directory must not be blank")
		}
	}
	if c.Cache.MaxEntries <= 0 {
		return errors.NewConfigError(errors.CodeThresholdsInvalid,
			"cache.max_entries must be positive")
	}
	if c.Cache.MaxBytes <= 0 {
		return errors.NewConfigError(errors.CodeThresholdsInvalid,
			"cache.max_bytes must be positive")
	}
	if c.Watch.DebounceMS <= 0 {
		return errors.NewConfigError(errors.CodeThresholdsInvalid,
			"watch.debounce_ms must be positive")
	}
	if c.Memory.Enabled {
		if c.Memory.IntervalS <= 0 {
			return errors.NewConfigError(errors.CodeThresholdsInvalid,
				"memory.interval_s must be positive")
		}
		if err := c.MemoryThresholds().Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Debounce returns the watch debounce as a duration.
func (c *Config) Debounce() time.Duration {
	return time.Duration(c.Watch.DebounceMS) * time.Millisecond
}

// MemoryInterval returns the memory sampling interval as a duration.
func (c *Config) MemoryInterval() time.Duration {
	return time.Duration(c.Memory.IntervalS) * time.Second
}

// MemoryThresholds converts the memory watermarks.
func (c *Config) MemoryThresholds() memory.Thresholds {
	return memory.Thresholds{
		WarningMB:  c.Memory.WarningMB,
		CleanupMB:  c.Memory.CleanupMB,
		CriticalMB: c.Memory.CriticalMB,
	}
}
