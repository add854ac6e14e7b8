package substitute

import (
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/promptforge/promptforge/internal/types"
)

// TestPlaceholderProperties validates substitution invariants across
// generated inputs.
func TestPlaceholderProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.Rng.Seed(4242)
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	identifier := gen.RegexMatch(`[a-z][a-z0-9_]{0,15}`)

	// Property: a placeholder for an absent variable survives verbatim.
	properties.Property("missing variables keep their placeholder text", prop.ForAll(
		func(name, prefix, suffix string) bool {
			token := "${" + name + "}"
			template := &types.Template{
				ID:      "p",
				Version: "1.0.0",
				Body:    types.TemplateBody{Instructions: prefix + token + suffix},
			}

			result, err := New().Substitute(template, map[string]any{"present": "x"})
			if err != nil {
				return false
			}
			if name == "present" {
				return !strings.Contains(result.Template.Body.Instructions, token)
			}
			return strings.Contains(result.Template.Body.Instructions, token)
		},
		identifier,
		gen.AlphaString(),
		gen.AlphaString(),
	))

	// Property: a bound string variable is substituted verbatim and the
	// placeholder disappears.
	properties.Property("bound variables are rewritten verbatim", prop.ForAll(
		func(name, value string) bool {
			token := "${" + name + "}"
			template := &types.Template{
				ID:      "p",
				Version: "1.0.0",
				Body:    types.TemplateBody{Instructions: "a " + token + " z"},
			}

			result, err := New().Substitute(template, map[string]any{name: value})
			if err != nil {
				return false
			}
			return result.Template.Body.Instructions == "a "+value+" z"
		},
		identifier,
		gen.AlphaString(),
	))

	// Property: substitution never mutates its input.
	properties.Property("input template is never mutated", prop.ForAll(
		func(name, value string) bool {
			body := "keep ${" + name + "} intact"
			template := &types.Template{
				ID:      "p",
				Version: "1.0.0",
				Body:    types.TemplateBody{Instructions: body},
			}

			_, err := New().Substitute(template, map[string]any{name: value})
			return err == nil && template.Body.Instructions == body
		},
		identifier,
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}
