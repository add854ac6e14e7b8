package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show registry and cache statistics",
	Long: `Show counts and hot-path numbers for the registry: indexed and
loaded templates, cache hit rate and occupancy, memoized compositions, and
accumulated error counts.

Examples:
  promptforge stats
  promptforge stats -f json
  promptforge stats --preload    # load everything first for full numbers`,
	RunE: runStats,
}

var (
	statsFormat  string
	statsPreload bool
)

func init() {
	rootCmd.AddCommand(statsCmd)
	statsCmd.Flags().StringVarP(&statsFormat, "format", "f", "table", "output format (table, json)")
	statsCmd.Flags().BoolVar(&statsPreload, "preload", false, "load every indexed template before reporting")
}

func runStats(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	reg, _, err := buildRegistry(ctx)
	if err != nil {
		return err
	}
	defer reg.Close()

	if statsPreload {
		reg.Preload(ctx, nil)
	}
	stats := reg.Stats()
	perf := reg.PerformanceStats()

	if statsFormat == "json" {
		return printJSON(map[string]any{
			"registry":    stats,
			"performance": perf,
		})
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "templates loaded\t%d\n", stats.Templates)
	fmt.Fprintf(w, "templates indexed\t%d\n", stats.Indexed)
	fmt.Fprintf(w, "categories\t%d\n", stats.Categories)
	fmt.Fprintf(w, "compositions memoized\t%d\n", stats.Compositions)
	fmt.Fprintf(w, "cache entries\t%d / %d\n", stats.Cache.Entries, stats.Cache.MaxEntries)
	fmt.Fprintf(w, "cache bytes\t%d / %d\n", stats.Cache.Bytes, stats.Cache.MaxBytes)
	fmt.Fprintf(w, "cache hit rate\t%.1f%%\n", perf.CacheHitRate*100)
	fmt.Fprintf(w, "cache evictions\t%d\n", stats.Cache.Evictions)
	for kind, count := range stats.Errors {
		fmt.Fprintf(w, "errors (%s)\t%d\n", kind, count)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	for _, advisory := range reg.Advisories() {
		fmt.Fprintf(os.Stderr, "advisory: %s\n", advisory)
	}
	return nil
}
