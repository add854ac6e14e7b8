package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/promptforge/promptforge/internal/types"
)

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List available templates",
	Long: `List every template known to the registry, loaded or not.

Examples:
  promptforge list                 # table of all templates
  promptforge list -f json         # machine-readable output
  promptforge list -c analysis     # only one category (loads templates)`,
	RunE: runList,
}

var (
	listFormat   string
	listCategory string
)

func init() {
	rootCmd.AddCommand(listCmd)
	listCmd.Flags().StringVarP(&listFormat, "format", "f", "table", "output format (table, json, yaml)")
	listCmd.Flags().StringVarP(&listCategory, "category", "c", "", "filter by category")
}

type listRow struct {
	ID       string `json:"id" yaml:"id"`
	Name     string `json:"name,omitempty" yaml:"name,omitempty"`
	Category string `json:"category,omitempty" yaml:"category,omitempty"`
	Version  string `json:"version,omitempty" yaml:"version,omitempty"`
}

func runList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	reg, _, err := buildRegistry(ctx)
	if err != nil {
		return err
	}
	defer reg.Close()

	var rows []listRow
	if listCategory != "" {
		cat := types.Category(listCategory)
		if !cat.Valid() {
			return fmt.Errorf("unknown category %q", listCategory)
		}
		// Category filtering needs template content, so load everything.
		reg.Preload(ctx, nil)
		for _, tmpl := range reg.GetByCategory(cat) {
			rows = append(rows, listRow{tmpl.ID, tmpl.Name, string(tmpl.Category), tmpl.Version})
		}
	} else {
		for _, key := range reg.Keys() {
			row := listRow{ID: key}
			if tmpl, err := reg.Get(ctx, key); err == nil {
				row.Name = tmpl.Name
				row.Category = string(tmpl.Category)
				row.Version = tmpl.Version
			}
			rows = append(rows, row)
		}
	}

	if len(rows) == 0 {
		fmt.Println("No templates found.")
		return nil
	}

	switch listFormat {
	case "json":
		return printJSON(rows)
	case "yaml":
		return printYAML(rows)
	case "table":
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tCATEGORY\tVERSION")
		for _, row := range rows {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", row.ID, row.Name, row.Category, row.Version)
		}
		return w.Flush()
	default:
		return fmt.Errorf("unknown format %q (expected table, json, or yaml)", listFormat)
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printYAML(v any) error {
	enc := yaml.NewEncoder(os.Stdout)
	defer enc.Close()
	return enc.Encode(v)
}
