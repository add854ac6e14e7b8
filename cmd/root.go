// Package cmd provides the promptforge command-line interface.
//
// Configuration is layered: command-line flags override environment
// variables with the PROMPTFORGE_ prefix (PROMPTFORGE_CACHE_MAX_ENTRIES,
// PROMPTFORGE_LOGGING_LEVEL, ...), which override an optional
// .promptforge.yaml file in the working directory or home directory.
package cmd

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/promptforge/promptforge/internal/config"
	"github.com/promptforge/promptforge/internal/logging"
	"github.com/promptforge/promptforge/internal/registry"
)

var (
	cfgFile  string
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "promptforge",
	Short: "Prompt template registry with caching, composition, and hot reload",
	Long: `Promptforge manages JSON prompt template documents: it loads them
lazily from configured directories, caches them with entry and byte ceilings,
resolves template inheritance and mixins, substitutes ${dotted.path}
variables, and optionally hot-reloads edited files.

Quick Start:
  promptforge list                       List available templates
  promptforge show code-review          Show one template
  promptforge render greet --var name=Ada   Render with variables
  promptforge stats                      Registry and cache statistics
  promptforge watch                      Watch template dirs for changes`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default .promptforge.yaml in . or $HOME)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "",
		"log level (debug, info, warn, error); overrides config")
}

// buildRegistry constructs a registry from the layered configuration and
// indexes the template directories. Callers must Close it.
func buildRegistry(ctx context.Context) (*registry.Registry, *config.Config, error) {
	v, err := config.NewViper(cfgFile)
	if err != nil {
		return nil, nil, err
	}
	if logLevel != "" {
		v.Set("logging.level", logLevel)
	}
	cfg, err := config.Load(v)
	if err != nil {
		return nil, nil, err
	}

	logger := logging.New(&logging.Config{
		Level:  logging.ParseLevel(cfg.Logging.Level),
		Format: cfg.Logging.Format,
		Output: os.Stderr,
	})

	reg := registry.New(cfg, logger)
	reg.Initialize(ctx)
	return reg, cfg, nil
}
