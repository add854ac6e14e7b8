// Package validate checks loaded template documents against the schema:
// required fields, identifier and version shape, and cross-field
// consistency. Hard errors make a template unusable; warnings are surfaced
// but never block registration.
package validate

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/promptforge/promptforge/internal/errors"
	"github.com/promptforge/promptforge/internal/types"
)

// Result carries the outcome of validating one template.
type Result struct {
	TemplateID string
	Errors     []string
	Warnings   []string
}

// Valid reports whether the template passed with no hard errors.
func (r *Result) Valid() bool { return len(r.Errors) == 0 }

// Err converts a failed result into a typed validation error, nil otherwise.
func (r *Result) Err() error {
	if r.Valid() {
		return nil
	}
	return errors.NewValidationError(r.TemplateID, strings.Join(r.Errors, "; "))
}

var versionPattern = regexp.MustCompile(`^\d+\.\d+\.\d+(-[0-9A-Za-z.-]+)?$`)

// Validator validates template documents.
type Validator struct{}

// New creates a Validator.
func New() *Validator { return &Validator{} }

// Validate checks a single template. Templates that declare inheritance may
// legitimately be partial (the parent supplies task/instructions), so an
// empty body only warns for them; standalone templates get a hard error.
func (v *Validator) Validate(tmpl *types.Template) *Result {
	result := &Result{TemplateID: tmpl.ID}

	v.checkIdentity(tmpl, result)
	v.checkBody(tmpl, result)
	v.checkConfig(tmpl, result)
	v.checkCrossField(tmpl, result)

	return result
}

// ValidateComposed re-checks a composed document. Composition must have
// produced a non-empty task or instructions string; partial bodies are no
// longer excusable here.
func (v *Validator) ValidateComposed(tmpl *types.Template) *Result {
	result := v.Validate(tmpl)
	if strings.TrimSpace(tmpl.Body.Task) == "" && strings.TrimSpace(tmpl.Body.Instructions) == "" {
		result.Errors = append(result.Errors, "composed template has neither task nor instructions")
	}
	return result
}

func (v *Validator) checkIdentity(tmpl *types.Template, result *Result) {
	switch {
	case tmpl.ID == "":
		result.Errors = append(result.Errors, "missing required field 'id'")
	case len(tmpl.ID) > types.MaxIDLength:
		result.Errors = append(result.Errors,
			fmt.Sprintf("id exceeds %d characters", types.MaxIDLength))
	case !types.IDPattern.MatchString(tmpl.ID):
		result.Errors = append(result.Errors,
			fmt.Sprintf("id %q contains characters outside [A-Za-z0-9_-]", tmpl.ID))
	}

	if tmpl.Name == "" {
		result.Errors = append(result.Errors, "missing required field 'name'")
	}
	if tmpl.Description == "" {
		result.Warnings = append(result.Warnings, "missing field 'description'")
	}

	if tmpl.Category == "" {
		result.Errors = append(result.Errors, "missing required field 'category'")
	} else if !tmpl.Category.Valid() {
		result.Errors = append(result.Errors,
			fmt.Sprintf("unknown category %q", tmpl.Category))
	}

	if tmpl.Version == "" {
		result.Errors = append(result.Errors, "missing required field 'version'")
	} else if !versionPattern.MatchString(tmpl.Version) {
		result.Errors = append(result.Errors,
			fmt.Sprintf("version %q is not semver-shaped", tmpl.Version))
	}

	if tmpl.SchemaVersion == "" {
		result.Errors = append(result.Errors, "missing required field 'schema_version'")
	}
}

func (v *Validator) checkBody(tmpl *types.Template, result *Result) {
	empty := strings.TrimSpace(tmpl.Body.Task) == "" &&
		strings.TrimSpace(tmpl.Body.Instructions) == ""
	if !empty {
		return
	}
	if tmpl.Inheritance.Empty() {
		result.Errors = append(result.Errors, "template has neither task nor instructions")
	} else {
		result.Warnings = append(result.Warnings,
			"template body is empty; relying on inheritance to supply it")
	}
}

func (v *Validator) checkConfig(tmpl *types.Template, result *Result) {
	for _, field := range tmpl.Config.ConfigurableFields {
		if _, ok := tmpl.Config.DefaultValues[field]; !ok {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("configurable field %q has no default value", field))
		}
	}
}

func (v *Validator) checkCrossField(tmpl *types.Template, result *Result) {
	if len(tmpl.Body.Variables) == 0 {
		return
	}
	haystack := tmpl.Body.Task + "\n" + tmpl.Body.Instructions + "\n" +
		flattenStrings(tmpl.Body.Context) + "\n" + flattenStrings(tmpl.Body.OutputFormat)
	for _, name := range tmpl.Body.Variables {
		if !strings.Contains(haystack, "${"+name) {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("declared variable %q has no placeholder in the template body", name))
		}
	}
}

// flattenStrings concatenates all string leaves of a value tree.
func flattenStrings(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case map[string]any:
		var b strings.Builder
		for _, item := range val {
			b.WriteString(flattenStrings(item))
			b.WriteByte('\n')
		}
		return b.String()
	case []any:
		var b strings.Builder
		for _, item := range val {
			b.WriteString(flattenStrings(item))
			b.WriteByte('\n')
		}
		return b.String()
	default:
		return ""
	}
}
