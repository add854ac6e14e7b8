// Package errors defines the engine's error taxonomy. Every failure that
// crosses a package boundary is an *EngineError carrying a kind, a stable
// code, and optional template/file context, so callers can branch on
// category without string matching.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Kind categorizes engine errors.
type Kind string

const (
	KindDocumentParse Kind = "document_parse"
	KindValidation    Kind = "validation"
	KindComposition   Kind = "composition"
	KindSubstitution  Kind = "substitution"
	KindNotFound      Kind = "not_found"
	KindConfig        Kind = "config"
	KindInternal      Kind = "internal"
)

// Stable error codes.
const (
	CodeParseFailed       = "ERR_PARSE_FAILED"
	CodeValidationFailed  = "ERR_VALIDATION_FAILED"
	CodeInheritanceCycle  = "ERR_INHERITANCE_CYCLE"
	CodeMissingParent     = "ERR_MISSING_PARENT"
	CodeMissingMixin      = "ERR_MISSING_MIXIN"
	CodeSubstitution      = "ERR_SUBSTITUTION"
	CodeTemplateNotFound  = "ERR_TEMPLATE_NOT_FOUND"
	CodeDirectoryInvalid  = "ERR_DIRECTORY_INVALID"
	CodeThresholdsInvalid = "ERR_THRESHOLDS_INVALID"
	CodeInternal          = "ERR_INTERNAL"
)

// EngineError is the structured error type used throughout the engine.
type EngineError struct {
	Kind        Kind
	Code        string
	Message     string
	TemplateID  string
	FilePath    string
	Cause       error
	Context     map[string]any
	Recoverable bool
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	var parts []string
	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("[%s]", e.Code))
	}
	if e.TemplateID != "" {
		parts = append(parts, "template:"+e.TemplateID)
	}
	if e.FilePath != "" {
		parts = append(parts, e.FilePath)
	}
	parts = append(parts, e.Message)
	result := strings.Join(parts, " ")
	if e.Cause != nil {
		result += fmt.Sprintf(": %v", e.Cause)
	}
	return result
}

// Unwrap returns the underlying cause.
func (e *EngineError) Unwrap() error { return e.Cause }

// Is matches on kind and code so sentinel comparisons work across wrapping.
func (e *EngineError) Is(target error) bool {
	var t *EngineError
	if errors.As(target, &t) {
		return e.Kind == t.Kind && (t.Code == "" || e.Code == t.Code)
	}
	return false
}

// WithTemplate attaches template context.
func (e *EngineError) WithTemplate(id string) *EngineError {
	e.TemplateID = id
	return e
}

// WithFile attaches file context.
func (e *EngineError) WithFile(path string) *EngineError {
	e.FilePath = path
	return e
}

// WithContext attaches an arbitrary key/value pair.
func (e *EngineError) WithContext(key string, value any) *EngineError {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// NewDocumentParseError reports an unreadable or malformed document.
func NewDocumentParseError(path string, cause error) *EngineError {
	return &EngineError{
		Kind:        KindDocumentParse,
		Code:        CodeParseFailed,
		Message:     "failed to parse template document",
		FilePath:    path,
		Cause:       cause,
		Recoverable: true,
	}
}

// NewValidationError reports a structurally well-formed but invalid template.
func NewValidationError(id, message string) *EngineError {
	return &EngineError{
		Kind:        KindValidation,
		Code:        CodeValidationFailed,
		Message:     message,
		TemplateID:  id,
		Recoverable: true,
	}
}

// NewCompositionError reports an inheritance resolution failure.
func NewCompositionError(code, id, message string) *EngineError {
	return &EngineError{
		Kind:        KindComposition,
		Code:        code,
		Message:     message,
		TemplateID:  id,
		Recoverable: true,
	}
}

// NewCycleError reports an inheritance cycle, naming the full cycle path.
func NewCycleError(cycle []string) *EngineError {
	return NewCompositionError(
		CodeInheritanceCycle,
		cycle[0],
		"inheritance cycle detected: "+strings.Join(cycle, " -> "),
	).WithContext("cycle", cycle)
}

// NewSubstitutionError reports an engine-internal substitution failure.
// A missing variable is not an error; placeholders stay literal instead.
func NewSubstitutionError(id string, cause error) *EngineError {
	return &EngineError{
		Kind:        KindSubstitution,
		Code:        CodeSubstitution,
		Message:     "variable substitution failed",
		TemplateID:  id,
		Cause:       cause,
		Recoverable: true,
	}
}

// NewNotFoundError reports a key absent from both cache and lazy index.
// The message enumerates available keys so callers never see a bare
// "not found".
func NewNotFoundError(key string, available []string) *EngineError {
	msg := fmt.Sprintf("template %q not found", key)
	if len(available) > 0 {
		msg += "; available templates: " + strings.Join(available, ", ")
	} else {
		msg += "; no templates are registered"
	}
	return &EngineError{
		Kind:        KindNotFound,
		Code:        CodeTemplateNotFound,
		Message:     msg,
		TemplateID:  key,
		Context:     map[string]any{"available": available},
		Recoverable: true,
	}
}

// NewConfigError reports a configuration problem.
func NewConfigError(code, message string) *EngineError {
	return &EngineError{
		Kind:    KindConfig,
		Code:    code,
		Message: message,
	}
}

// NewInternalError wraps an unexpected failure.
func NewInternalError(message string, cause error) *EngineError {
	return &EngineError{
		Kind:    KindInternal,
		Code:    CodeInternal,
		Message: message,
		Cause:   cause,
	}
}

// As re-exports the standard library helper so callers need only one errors
// import.
func As(err error, target any) bool { return errors.As(err, target) }

// Is re-exports the standard library helper.
func Is(err, target error) bool { return errors.Is(err, target) }

// KindOf extracts the kind from any error, or KindInternal for plain errors.
func KindOf(err error) Kind {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsNotFound reports whether err is a not-found engine error.
func IsNotFound(err error) bool {
	return KindOf(err) == KindNotFound
}

// IsRecoverable reports whether err is marked recoverable.
func IsRecoverable(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Recoverable
	}
	return false
}
