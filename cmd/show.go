package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var showCmd = &cobra.Command{
	Use:   "show <key>",
	Short: "Show one template",
	Long: `Show a template by key, after lazy loading and inheritance
composition.

Examples:
  promptforge show code-review
  promptforge show code-review -f yaml`,
	Args: cobra.ExactArgs(1),
	RunE: runShow,
}

var showFormat string

func init() {
	rootCmd.AddCommand(showCmd)
	showCmd.Flags().StringVarP(&showFormat, "format", "f", "json", "output format (json, yaml)")
}

func runShow(cmd *cobra.Command, args []string) error {
	reg, _, err := buildRegistry(cmd.Context())
	if err != nil {
		return err
	}
	defer reg.Close()

	tmpl, err := reg.Get(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	switch showFormat {
	case "json":
		return printJSON(tmpl)
	case "yaml":
		return printYAML(tmpl)
	default:
		return fmt.Errorf("unknown format %q (expected json or yaml)", showFormat)
	}
}
