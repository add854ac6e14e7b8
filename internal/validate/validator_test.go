package validate

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/promptforge/promptforge/internal/errors"
	"github.com/promptforge/promptforge/internal/types"
)

func validTemplate() *types.Template {
	return &types.Template{
		ID:            "code-review",
		Name:          "Code Review",
		Description:   "Reviews a diff",
		Category:      types.CategoryAnalysis,
		Version:       "1.0.0",
		SchemaVersion: "1.0",
		Body: types.TemplateBody{
			Task:         "Review ${code}",
			Instructions: "Be thorough about ${code}",
			Variables:    []string{"code"},
		},
		Config: types.TemplateConfig{
			ConfigurableFields: []string{"language"},
			DefaultValues:      map[string]any{"language": "go"},
		},
	}
}

func TestValidTemplatePasses(t *testing.T) {
	result := New().Validate(validTemplate())

	assert.True(t, result.Valid())
	assert.Empty(t, result.Errors)
	assert.Empty(t, result.Warnings)
	assert.NoError(t, result.Err())
}

func TestMissingRequiredFields(t *testing.T) {
	result := New().Validate(&types.Template{})

	require.False(t, result.Valid())
	joined := strings.Join(result.Errors, "; ")
	for _, field := range []string{"id", "name", "category", "version", "schema_version"} {
		assert.Contains(t, joined, "'"+field+"'")
	}

	err := result.Err()
	require.Error(t, err)
	assert.Equal(t, errors.KindValidation, errors.KindOf(err))
}

func TestIDConstraints(t *testing.T) {
	testCases := []struct {
		name string
		id   string
		ok   bool
	}{
		{"simple", "t1", true},
		{"dashes and underscores", "a-b_c", true},
		{"spaces", "bad id", false},
		{"too long", strings.Repeat("a", 101), false},
		{"path traversal", "../../etc", false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			tmpl := validTemplate()
			tmpl.ID = tc.id
			assert.Equal(t, tc.ok, New().Validate(tmpl).Valid())
		})
	}
}

func TestVersionShape(t *testing.T) {
	tmpl := validTemplate()
	tmpl.Version = "1.0"
	assert.False(t, New().Validate(tmpl).Valid())

	tmpl.Version = "2.1.3-beta.1"
	assert.True(t, New().Validate(tmpl).Valid())
}

func TestUnknownCategory(t *testing.T) {
	tmpl := validTemplate()
	tmpl.Category = "mystery"
	result := New().Validate(tmpl)

	require.False(t, result.Valid())
	assert.Contains(t, strings.Join(result.Errors, " "), "mystery")
}

func TestEmptyBodyHardErrorWithoutInheritance(t *testing.T) {
	tmpl := validTemplate()
	tmpl.Body.Task = ""
	tmpl.Body.Instructions = "  "
	tmpl.Body.Variables = nil

	result := New().Validate(tmpl)
	assert.False(t, result.Valid())
}

func TestEmptyBodyOnlyWarnsWithInheritance(t *testing.T) {
	tmpl := validTemplate()
	tmpl.Body.Task = ""
	tmpl.Body.Instructions = ""
	tmpl.Body.Variables = nil
	tmpl.Inheritance = &types.InheritanceConfig{Extends: "base"}

	result := New().Validate(tmpl)
	assert.True(t, result.Valid())
	assert.NotEmpty(t, result.Warnings)
}

func TestValidateComposedRequiresBody(t *testing.T) {
	tmpl := validTemplate()
	tmpl.Body.Task = ""
	tmpl.Body.Instructions = ""
	tmpl.Body.Variables = nil
	tmpl.Inheritance = &types.InheritanceConfig{Extends: "base"}

	// Plain validation tolerates the empty body, composed validation does not.
	assert.True(t, New().Validate(tmpl).Valid())
	assert.False(t, New().ValidateComposed(tmpl).Valid())
}

func TestCrossFieldWarnings(t *testing.T) {
	tmpl := validTemplate()
	tmpl.Body.Variables = []string{"code", "ghost"}

	result := New().Validate(tmpl)
	require.True(t, result.Valid())
	assert.Contains(t, strings.Join(result.Warnings, " "), `"ghost"`)
}

func TestDeclaredVariableFoundInContext(t *testing.T) {
	tmpl := validTemplate()
	tmpl.Body.Context = map[string]any{"hint": "use ${style} here"}
	tmpl.Body.Variables = []string{"code", "style"}

	result := New().Validate(tmpl)
	assert.Empty(t, result.Warnings)
}

func TestConfigurableFieldWithoutDefaultWarns(t *testing.T) {
	tmpl := validTemplate()
	tmpl.Config.ConfigurableFields = []string{"language", "tone"}

	result := New().Validate(tmpl)
	require.True(t, result.Valid())
	assert.Contains(t, strings.Join(result.Warnings, " "), `"tone"`)
}
