package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch template directories and hot-reload changes",
	Long: `Watch the configured template directories, reloading templates as
their files change. Bursts of writes to the same file are debounced. Runs
until interrupted.

Examples:
  promptforge watch
  promptforge watch --memory     # also sample heap usage`,
	RunE: runWatch,
}

var watchMemory bool

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().BoolVar(&watchMemory, "memory", false, "enable the memory monitor while watching")
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	reg, cfg, err := buildRegistry(ctx)
	if err != nil {
		return err
	}
	defer reg.Close()

	if err := reg.EnableHotReload(); err != nil {
		return err
	}
	if watchMemory || cfg.Memory.Enabled {
		if err := reg.StartMemoryMonitor(ctx); err != nil {
			return err
		}
	}

	fmt.Printf("watching %d directories (debounce %s); ctrl-c to stop\n",
		len(cfg.Templates.Dirs), cfg.Debounce())

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigs:
	case <-ctx.Done():
	}

	reg.DisableHotReload()
	return nil
}
