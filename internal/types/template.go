// Package types defines the core data model shared across the engine:
// templates, their composed variants, inheritance declarations, and the
// JSON value-tree helpers used by the composition and substitution code.
package types

import (
	"regexp"
	"time"
)

// Category classifies a template by intended use.
type Category string

const (
	CategoryCodeGeneration Category = "code-generation"
	CategoryRefactoring    Category = "refactoring"
	CategoryDocumentation  Category = "documentation"
	CategoryAnalysis       Category = "analysis"
	CategoryTesting        Category = "testing"
	CategoryGeneral        Category = "general"
)

// Categories lists all known template categories.
func Categories() []Category {
	return []Category{
		CategoryCodeGeneration,
		CategoryRefactoring,
		CategoryDocumentation,
		CategoryAnalysis,
		CategoryTesting,
		CategoryGeneral,
	}
}

// Valid reports whether the category is one of the known values.
func (c Category) Valid() bool {
	switch c {
	case CategoryCodeGeneration, CategoryRefactoring, CategoryDocumentation,
		CategoryAnalysis, CategoryTesting, CategoryGeneral:
		return true
	}
	return false
}

// IDPattern constrains template identifiers. IDs double as cache keys and
// file basenames, so the character set stays deliberately narrow.
var IDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// MaxIDLength is the upper bound on template identifier length.
const MaxIDLength = 100

// Template is the central entity: a structured prompt document mixing
// static structure with ${dotted.path} placeholders.
type Template struct {
	ID            string             `json:"id" yaml:"id"`
	Name          string             `json:"name" yaml:"name"`
	Description   string             `json:"description" yaml:"description"`
	Category      Category           `json:"category" yaml:"category"`
	Version       string             `json:"version" yaml:"version"`
	SchemaVersion string             `json:"schema_version" yaml:"schema_version"`
	Body          TemplateBody       `json:"template" yaml:"template"`
	Config        TemplateConfig     `json:"config" yaml:"config"`
	Inheritance   *InheritanceConfig `json:"inheritance,omitempty" yaml:"inheritance,omitempty"`

	// Provenance from the document store; not part of the wire format.
	FilePath string    `json:"-" yaml:"-"`
	ModTime  time.Time `json:"-" yaml:"-"`
}

// TemplateBody is the structured payload of a template.
type TemplateBody struct {
	Task         string         `json:"task" yaml:"task"`
	Instructions string         `json:"instructions" yaml:"instructions"`
	Context      map[string]any `json:"context" yaml:"context"`
	OutputFormat map[string]any `json:"output_format" yaml:"output_format"`
	Variables    []string       `json:"variables" yaml:"variables"`
}

// TemplateConfig carries the configurable surface of a template.
type TemplateConfig struct {
	ConfigurableFields []string       `json:"configurable_fields" yaml:"configurable_fields"`
	DefaultValues      map[string]any `json:"default_values" yaml:"default_values"`
	ValidationRules    map[string]any `json:"validation_rules" yaml:"validation_rules"`
}

// MergeMode selects how an explicit composition rule combines values.
type MergeMode string

const (
	MergeModeMerge   MergeMode = "merge"
	MergeModeReplace MergeMode = "replace"
	MergeModeAppend  MergeMode = "append"
	MergeModePrepend MergeMode = "prepend"
)

// Valid reports whether the merge mode is one of the known values.
func (m MergeMode) Valid() bool {
	switch m {
	case MergeModeMerge, MergeModeReplace, MergeModeAppend, MergeModePrepend:
		return true
	}
	return false
}

// CompositionRule is an explicit, typed merge instruction operating on a
// dotted target path within the template document. Source, when set, pulls
// the value from another dotted path in the same document; otherwise Value
// is used verbatim.
type CompositionRule struct {
	Mode   MergeMode `json:"mode" yaml:"mode"`
	Target string    `json:"target" yaml:"target"`
	Source string    `json:"source,omitempty" yaml:"source,omitempty"`
	Value  any       `json:"value,omitempty" yaml:"value,omitempty"`
}

// InheritanceConfig declares how a template is assembled from others.
type InheritanceConfig struct {
	Extends   string            `json:"extends,omitempty" yaml:"extends,omitempty"`
	Mixins    []string          `json:"mixins,omitempty" yaml:"mixins,omitempty"`
	Rules     []CompositionRule `json:"rules,omitempty" yaml:"rules,omitempty"`
	Overrides map[string]any    `json:"overrides,omitempty" yaml:"overrides,omitempty"`
}

// Empty reports whether the declaration carries no composition work.
func (ic *InheritanceConfig) Empty() bool {
	return ic == nil ||
		(ic.Extends == "" && len(ic.Mixins) == 0 && len(ic.Rules) == 0 && len(ic.Overrides) == 0)
}

// ComposedTemplate is a Template plus the provenance of its composition.
type ComposedTemplate struct {
	Template *Template

	// ParentID is the direct extends target, if any.
	ParentID string
	// AppliedMixins lists mixin ids in application order.
	AppliedMixins []string
	// Chain is the ordered inheritance chain walked to produce the result,
	// root ancestor first, the composed template last.
	Chain []string
	// Complete is false when composition degraded (missing mixin,
	// post-composition validation failure) but still produced a document.
	Complete bool
	// Warnings collects soft failures accumulated during composition.
	Warnings []string
}

// Clone returns a deep copy of the template. Composition never mutates its
// inputs; every merge happens on a clone.
func (t *Template) Clone() *Template {
	if t == nil {
		return nil
	}
	out := *t
	out.Body = TemplateBody{
		Task:         t.Body.Task,
		Instructions: t.Body.Instructions,
		Context:      CloneMap(t.Body.Context),
		OutputFormat: CloneMap(t.Body.OutputFormat),
		Variables:    append([]string(nil), t.Body.Variables...),
	}
	out.Config = TemplateConfig{
		ConfigurableFields: append([]string(nil), t.Config.ConfigurableFields...),
		DefaultValues:      CloneMap(t.Config.DefaultValues),
		ValidationRules:    CloneMap(t.Config.ValidationRules),
	}
	if t.Inheritance != nil {
		inh := InheritanceConfig{
			Extends:   t.Inheritance.Extends,
			Mixins:    append([]string(nil), t.Inheritance.Mixins...),
			Rules:     append([]CompositionRule(nil), t.Inheritance.Rules...),
			Overrides: CloneMap(t.Inheritance.Overrides),
		}
		out.Inheritance = &inh
	}
	return &out
}
