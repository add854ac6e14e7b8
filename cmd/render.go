package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var renderCmd = &cobra.Command{
	Use:   "render <key>",
	Short: "Render a template with variables",
	Long: `Render a template: load it, compose inheritance, and substitute
${dotted.path} placeholders. Placeholders without a matching variable stay
literal.

Variables come from --var key=value flags and/or a YAML file; --var wins on
conflicts. Dotted keys create nested values, so --var user.name=Ada is
reachable as ${user.name}.

Examples:
  promptforge render greet --var name=Ada
  promptforge render review --vars-file vars.yaml --var lang=go
  promptforge render greet --var name=Ada -f json`,
	Args: cobra.ExactArgs(1),
	RunE: runRender,
}

var (
	renderVars     []string
	renderVarsFile string
	renderFormat   string
)

func init() {
	rootCmd.AddCommand(renderCmd)
	renderCmd.Flags().StringArrayVar(&renderVars, "var", nil, "variable as key=value (repeatable, dotted keys nest)")
	renderCmd.Flags().StringVar(&renderVarsFile, "vars-file", "", "YAML file with variables")
	renderCmd.Flags().StringVarP(&renderFormat, "format", "f", "text", "output format (text, json, yaml)")
}

func runRender(cmd *cobra.Command, args []string) error {
	vars, err := collectVars(renderVarsFile, renderVars)
	if err != nil {
		return err
	}

	reg, _, err := buildRegistry(cmd.Context())
	if err != nil {
		return err
	}
	defer reg.Close()

	result, err := reg.Render(cmd.Context(), args[0], vars)
	if err != nil {
		return err
	}

	switch renderFormat {
	case "json":
		return printJSON(result.Template)
	case "yaml":
		return printYAML(result.Template)
	case "text":
		body := result.Template.Body
		if body.Task != "" {
			fmt.Println(body.Task)
		}
		if body.Instructions != "" {
			fmt.Println()
			fmt.Println(body.Instructions)
		}
		if len(result.VariablesUsed) > 0 {
			fmt.Fprintf(os.Stderr, "variables: %s\n", strings.Join(result.VariablesUsed, ", "))
		}
		return nil
	default:
		return fmt.Errorf("unknown format %q (expected text, json, or yaml)", renderFormat)
	}
}

// collectVars merges the YAML vars file (when given) with --var flags, flags
// winning. Dotted flag keys build nested maps.
func collectVars(file string, flags []string) (map[string]any, error) {
	vars := make(map[string]any)

	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("reading vars file: %w", err)
		}
		if err := yaml.Unmarshal(data, &vars); err != nil {
			return nil, fmt.Errorf("parsing vars file %s: %w", file, err)
		}
	}

	for _, raw := range flags {
		key, value, ok := strings.Cut(raw, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --var %q (expected key=value)", raw)
		}
		setNested(vars, strings.Split(key, "."), value)
	}
	return vars, nil
}

func setNested(m map[string]any, path []string, value any) {
	if len(path) == 1 {
		m[path[0]] = value
		return
	}
	child, ok := m[path[0]].(map[string]any)
	if !ok {
		child = make(map[string]any)
		m[path[0]] = child
	}
	setNested(child, path[1:], value)
}
