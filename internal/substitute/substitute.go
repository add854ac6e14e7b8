// Package substitute implements the variable substitution engine. It walks
// a template's value tree and rewrites ${dotted.path} placeholders in string
// leaves from a caller-supplied variable map. A placeholder whose path is
// absent stays literal in the output, so a missing variable is visible in
// the rendered text instead of silently erased.
package substitute

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/promptforge/promptforge/internal/errors"
	"github.com/promptforge/promptforge/internal/types"
)

// placeholderPattern matches ${path} and ${path.to.var} tokens.
var placeholderPattern = regexp.MustCompile(`\$\{([A-Za-z0-9_-]+(?:\.[A-Za-z0-9_-]+)*)\}`)

// Undefined is the explicit "undefined" sentinel. A variable bound to
// Undefined renders as the literal text "undefined", distinct from a nil
// value which renders as "null", and from an absent variable which leaves
// the placeholder untouched.
var Undefined = undefined{}

type undefined struct{}

// Chunked substitution kicks in when any string variable value exceeds
// ChunkThreshold; the target string is then processed in windows of
// ChunkSize. Chunk boundaries are extended past any straddling placeholder
// so a token is never split.
const (
	ChunkThreshold = 10 * 1024
	ChunkSize      = 4 * 1024
)

// Result is the outcome of one substitution call.
type Result struct {
	// Template is a new template with placeholders rewritten; the input is
	// never mutated.
	Template *types.Template
	// VariablesUsed is the deduplicated union of placeholders actually
	// rewritten, variables the template declares, and keys present in the
	// caller's map. Callers audit template coverage with it.
	VariablesUsed []string
}

// Engine performs variable substitution.
type Engine struct{}

// New creates a substitution engine.
func New() *Engine { return &Engine{} }

// Substitute rewrites placeholders in a clone of tmpl using vars.
func (e *Engine) Substitute(tmpl *types.Template, vars map[string]any) (*Result, error) {
	out := tmpl.Clone()
	used := make(map[string]struct{})
	chunked := hasLargeStringValue(vars)

	var walkErr error
	rewrite := func(s string) string {
		if walkErr != nil {
			return s
		}
		result, err := e.substituteString(s, vars, used, chunked)
		if err != nil {
			walkErr = err
			return s
		}
		return result
	}

	out.Body.Task = rewrite(out.Body.Task)
	out.Body.Instructions = rewrite(out.Body.Instructions)
	out.Body.Context = walkMap(out.Body.Context, rewrite)
	out.Body.OutputFormat = walkMap(out.Body.OutputFormat, rewrite)

	if walkErr != nil {
		return nil, errors.NewSubstitutionError(tmpl.ID, walkErr)
	}

	for _, name := range tmpl.Body.Variables {
		used[name] = struct{}{}
	}
	for key := range vars {
		used[key] = struct{}{}
	}

	names := make([]string, 0, len(used))
	for name := range used {
		names = append(names, name)
	}
	sort.Strings(names)
	return &Result{Template: out, VariablesUsed: names}, nil
}

// substituteString rewrites placeholders in one string leaf.
func (e *Engine) substituteString(s string, vars map[string]any, used map[string]struct{}, chunked bool) (string, error) {
	if !strings.Contains(s, "${") {
		return s, nil
	}
	if !chunked || len(s) <= ChunkSize {
		return e.substituteWhole(s, vars, used)
	}

	var b strings.Builder
	b.Grow(len(s))
	for start := 0; start < len(s); {
		end := start + ChunkSize
		if end >= len(s) {
			end = len(s)
		} else {
			end = extendPastPlaceholder(s, end)
		}
		chunk, err := e.substituteWhole(s[start:end], vars, used)
		if err != nil {
			return "", err
		}
		b.WriteString(chunk)
		start = end
	}
	return b.String(), nil
}

func (e *Engine) substituteWhole(s string, vars map[string]any, used map[string]struct{}) (string, error) {
	var substErr error
	result := placeholderPattern.ReplaceAllStringFunc(s, func(token string) string {
		path := token[2 : len(token)-1]
		value, ok := types.LookupPath(anyMap(vars), path)
		if !ok {
			// Missing variable: leave the placeholder literal.
			return token
		}
		text, err := stringify(value)
		if err != nil {
			substErr = err
			return token
		}
		used[path] = struct{}{}
		return text
	})
	return result, substErr
}

// extendPastPlaceholder moves a tentative chunk boundary so it never splits
// a placeholder token.
func extendPastPlaceholder(s string, end int) int {
	// A "$" as the last byte of the chunk with "{" right after is invisible
	// to the LastIndex scan below; back the boundary up so the whole token
	// lands in the next chunk.
	if s[end-1] == '$' && s[end] == '{' {
		return end - 1
	}
	open := strings.LastIndex(s[:end], "${")
	if open == -1 {
		return end
	}
	if close := strings.IndexByte(s[open:end], '}'); close != -1 {
		return end
	}
	// Unclosed token at the boundary: push end past its closing brace, or
	// to the end of the string when it never closes.
	if close := strings.IndexByte(s[end:], '}'); close != -1 {
		return end + close + 1
	}
	return len(s)
}

// stringify renders a variable value as text.
func stringify(v any) (string, error) {
	switch val := v.(type) {
	case undefined:
		return "undefined", nil
	case nil:
		return "null", nil
	case string:
		return val, nil
	case bool:
		return strconv.FormatBool(val), nil
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), nil
	case int:
		return strconv.Itoa(val), nil
	case int64:
		return strconv.FormatInt(val, 10), nil
	case map[string]any, []any:
		data, err := json.MarshalIndent(val, "", "  ")
		if err != nil {
			return "", fmt.Errorf("encoding variable value: %w", err)
		}
		return string(data), nil
	default:
		data, err := json.Marshal(val)
		if err != nil {
			return "", fmt.Errorf("encoding variable value: %w", err)
		}
		return string(data), nil
	}
}

// walkMap rewrites every string leaf of a value tree, returning a new tree.
func walkMap(m map[string]any, rewrite func(string) string) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = walkValue(v, rewrite)
	}
	return out
}

func walkValue(v any, rewrite func(string) string) any {
	switch val := v.(type) {
	case string:
		return rewrite(val)
	case map[string]any:
		return walkMap(val, rewrite)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = walkValue(item, rewrite)
		}
		return out
	default:
		return v
	}
}

func anyMap(vars map[string]any) map[string]any {
	if vars == nil {
		return map[string]any{}
	}
	return vars
}

func hasLargeStringValue(vars map[string]any) bool {
	for _, v := range vars {
		if s, ok := v.(string); ok && len(s) > ChunkThreshold {
			return true
		}
	}
	return false
}
