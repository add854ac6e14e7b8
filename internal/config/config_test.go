package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/promptforge/promptforge/internal/errors"
)

func TestDefaults(t *testing.T) {
	v := viper.New()
	SetDefaults(v)

	cfg, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, []string{"./templates"}, cfg.Templates.Dirs)
	assert.Equal(t, 50, cfg.Cache.MaxEntries)
	assert.Equal(t, int64(10<<20), cfg.Cache.MaxBytes)
	assert.False(t, cfg.Watch.Enabled)
	assert.Equal(t, 500*time.Millisecond, cfg.Debounce())
	assert.Equal(t, 30*time.Second, cfg.MemoryInterval())
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadFromYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "promptforge.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
templates:
  dirs:
    - ./prompts
    - ./shared
  preload_frequent: 10
cache:
  max_entries: 200
watch:
  enabled: true
  debounce_ms: 250
memory:
  enabled: true
  warning_mb: 100
  cleanup_mb: 200
  critical_mb: 400
logging:
  level: debug
  format: json
`), 0o644))

	v, err := NewViper(path)
	require.NoError(t, err)
	cfg, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, []string{"./prompts", "./shared"}, cfg.Templates.Dirs)
	assert.Equal(t, 10, cfg.Templates.PreloadFrequent)
	assert.Equal(t, 200, cfg.Cache.MaxEntries)
	// File values override defaults only where set.
	assert.Equal(t, int64(10<<20), cfg.Cache.MaxBytes)
	assert.True(t, cfg.Watch.Enabled)
	assert.Equal(t, 250*time.Millisecond, cfg.Debounce())
	assert.Equal(t, 100.0, cfg.MemoryThresholds().WarningMB)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestExplicitMissingFileFails(t *testing.T) {
	_, err := NewViper(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Equal(t, errors.KindConfig, errors.KindOf(err))
}

func TestEnvironmentOverride(t *testing.T) {
	t.Setenv("PROMPTFORGE_CACHE_MAX_ENTRIES", "7")
	t.Setenv("PROMPTFORGE_LOGGING_LEVEL", "warn")

	v, err := NewViper("")
	require.NoError(t, err)
	cfg, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.Cache.MaxEntries)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		v := viper.New()
		SetDefaults(v)
		cfg, err := Load(v)
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no template dirs", func(c *Config) { c.Templates.Dirs = nil }},
		{"blank template dir", func(c *Config) { c.Templates.Dirs = []string{"  "} }},
		{"zero cache entries", func(c *Config) { c.Cache.MaxEntries = 0 }},
		{"negative cache bytes", func(c *Config) { c.Cache.MaxBytes = -1 }},
		{"zero debounce", func(c *Config) { c.Watch.DebounceMS = 0 }},
		{"unordered memory thresholds", func(c *Config) {
			c.Memory.Enabled = true
			c.Memory.WarningMB = 500
			c.Memory.CleanupMB = 100
		}},
		{"zero memory interval", func(c *Config) {
			c.Memory.Enabled = true
			c.Memory.IntervalS = 0
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Equal(t, errors.KindConfig, errors.KindOf(err))
		})
	}

	// Memory thresholds are only checked when the monitor is enabled.
	cfg := base()
	cfg.Memory.WarningMB = 500
	cfg.Memory.CleanupMB = 100
	assert.NoError(t, cfg.Validate())
}
