// Package compose resolves template inheritance: extends chains, mixins,
// explicit merge rules, and final overrides flatten into a single composed
// document. Composition is best-effort: a missing mixin or a failed
// post-composition validation degrades the result (recorded in its
// warnings) instead of withholding it, because a still-imperfect template
// beats none. Inheritance cycles and missing parents are the exceptions;
// those fail hard.
package compose

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/zeebo/blake3"

	"github.com/promptforge/promptforge/internal/errors"
	"github.com/promptforge/promptforge/internal/logging"
	"github.com/promptforge/promptforge/internal/types"
	"github.com/promptforge/promptforge/internal/validate"
)

// Source supplies templates by id for parent and mixin resolution.
type Source interface {
	Lookup(id string) (*types.Template, bool)
}

// SourceFunc adapts a function to the Source interface.
type SourceFunc func(id string) (*types.Template, bool)

// Lookup implements Source.
func (f SourceFunc) Lookup(id string) (*types.Template, bool) { return f(id) }

// Resolver composes templates and memoizes resolved results.
type Resolver struct {
	source    Source
	validator *validate.Validator
	logger    logging.Logger

	mutex sync.Mutex
	memo  map[string]*types.ComposedTemplate
	// dependents maps a template id to every memo key whose inheritance
	// chain or mixin list mentions it, so re-registering an ancestor
	// invalidates all compositions built on it.
	dependents map[string]map[string]struct{}
}

// New creates a composition resolver.
func New(source Source, validator *validate.Validator, logger logging.Logger) *Resolver {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Resolver{
		source:     source,
		validator:  validator,
		logger:     logger.WithComponent("compose"),
		memo:       make(map[string]*types.ComposedTemplate),
		dependents: make(map[string]map[string]struct{}),
	}
}

// Compose flattens a template through its inheritance declaration. A nil
// cfg falls back to the template's own declaration. The input template is
// never mutated; it stays canonical for future re-composition.
func (r *Resolver) Compose(tmpl *types.Template, cfg *types.InheritanceConfig) (*types.ComposedTemplate, error) {
	if cfg == nil {
		cfg = tmpl.Inheritance
	}
	if cfg.Empty() {
		return &types.ComposedTemplate{
			Template: tmpl.Clone(),
			Chain:    []string{tmpl.ID},
			Complete: true,
		}, nil
	}

	key := memoKey(tmpl, cfg)

	r.mutex.Lock()
	if cached, ok := r.memo[key]; ok {
		r.mutex.Unlock()
		return cached, nil
	}
	r.mutex.Unlock()

	composed, err := r.resolve(tmpl, cfg, []string{tmpl.ID})
	if err != nil {
		return nil, err
	}

	if r.validator != nil {
		result := r.validator.ValidateComposed(composed.Template)
		if !result.Valid() {
			composed.Complete = false
			composed.Warnings = append(composed.Warnings, result.Errors...)
			r.logger.Warn(context.Background(), result.Err(),
				"composed template failed validation; returning best-effort result",
				"template_id", tmpl.ID)
		}
	}

	r.mutex.Lock()
	r.memo[key] = composed
	for _, id := range composed.Chain {
		r.addDependent(id, key)
	}
	for _, id := range composed.AppliedMixins {
		r.addDependent(id, key)
	}
	r.mutex.Unlock()

	return composed, nil
}

// Invalidate drops every memoized composition whose chain or mixins mention
// the given id. Call it whenever a template is re-registered or removed. It
// returns the ids of the dropped compositions so callers can evict their own
// copies.
func (r *Resolver) Invalidate(id string) []string {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	keys, ok := r.dependents[id]
	if !ok {
		return nil
	}
	var affected []string
	for key := range keys {
		if composed, ok := r.memo[key]; ok {
			affected = append(affected, composed.Template.ID)
			delete(r.memo, key)
		}
	}
	delete(r.dependents, id)
	return affected
}

// ClearMemo drops every memoized composition. Used under memory pressure;
// compositions rebuild lazily afterwards.
func (r *Resolver) ClearMemo() {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.memo = make(map[string]*types.ComposedTemplate)
	r.dependents = make(map[string]map[string]struct{})
}

// MemoSize reports the number of memoized compositions.
func (r *Resolver) MemoSize() int {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return len(r.memo)
}

func (r *Resolver) addDependent(id, key string) {
	if r.dependents[id] == nil {
		r.dependents[id] = make(map[string]struct{})
	}
	r.dependents[id][key] = struct{}{}
}

// resolve performs the actual composition. visiting is the ordered set of
// ancestor ids on the current resolution path, used for cycle detection.
func (r *Resolver) resolve(tmpl *types.Template, cfg *types.InheritanceConfig, visiting []string) (*types.ComposedTemplate, error) {
	if cfg == nil {
		cfg = &types.InheritanceConfig{}
	}
	out := &types.ComposedTemplate{
		Template: tmpl.Clone(),
		Chain:    []string{tmpl.ID},
		Complete: true,
	}
	// The composed document stands on its own.
	out.Template.Inheritance = nil

	// Step 1: resolve and merge the parent chain.
	if cfg.Extends != "" {
		for _, ancestor := range visiting {
			if ancestor == cfg.Extends {
				return nil, errors.NewCycleError(append(append([]string(nil), visiting...), cfg.Extends))
			}
		}
		parent, ok := r.source.Lookup(cfg.Extends)
		if !ok {
			return nil, errors.NewCompositionError(
				errors.CodeMissingParent, tmpl.ID,
				fmt.Sprintf("parent template %q not found", cfg.Extends),
			)
		}
		resolvedParent, err := r.resolve(parent, parent.Inheritance, append(visiting, cfg.Extends))
		if err != nil {
			return nil, err
		}
		mergeParent(out.Template, resolvedParent.Template)
		out.ParentID = cfg.Extends
		out.Chain = append(append([]string(nil), resolvedParent.Chain...), tmpl.ID)
		out.Complete = out.Complete && resolvedParent.Complete
		out.Warnings = append(out.Warnings, resolvedParent.Warnings...)
	}

	// Step 2: apply mixins in declared order. A missing mixin degrades the
	// result; it does not abort composition.
	for _, mixinID := range cfg.Mixins {
		mixin, ok := r.source.Lookup(mixinID)
		if !ok {
			out.Complete = false
			out.Warnings = append(out.Warnings, fmt.Sprintf("mixin %q not found", mixinID))
			r.logger.Warn(context.Background(), nil, "mixin not found; skipping",
				"template_id", tmpl.ID, "mixin", mixinID)
			continue
		}
		applyMixin(out.Template, mixin)
		out.AppliedMixins = append(out.AppliedMixins, mixinID)
	}

	// Step 3: explicit rules, then step 4: overrides, both on the document
	// tree so dotted paths can reach anywhere.
	if len(cfg.Rules) > 0 || len(cfg.Overrides) > 0 {
		if warnings := applyRulesAndOverrides(out.Template, cfg.Rules, cfg.Overrides); len(warnings) > 0 {
			out.Complete = false
			out.Warnings = append(out.Warnings, warnings...)
		}
	}

	return out, nil
}

// mergeParent merges a resolved parent into child in place: child scalar
// fields win when set, arrays are unioned, nested objects shallow-merge
// with child precedence.
func mergeParent(child, parent *types.Template) {
	if strings.TrimSpace(child.Body.Task) == "" {
		child.Body.Task = parent.Body.Task
	}
	if strings.TrimSpace(child.Body.Instructions) == "" {
		child.Body.Instructions = parent.Body.Instructions
	}
	if child.Description == "" {
		child.Description = parent.Description
	}
	if child.SchemaVersion == "" {
		child.SchemaVersion = parent.SchemaVersion
	}

	child.Body.Variables = types.UnionStrings(parent.Body.Variables, child.Body.Variables)
	child.Body.Context = types.MergeMaps(parent.Body.Context, child.Body.Context)
	child.Body.OutputFormat = types.MergeMaps(parent.Body.OutputFormat, child.Body.OutputFormat)

	child.Config.ConfigurableFields = types.UnionStrings(parent.Config.ConfigurableFields, child.Config.ConfigurableFields)
	child.Config.DefaultValues = types.MergeMaps(parent.Config.DefaultValues, child.Config.DefaultValues)
	child.Config.ValidationRules = types.MergeMaps(parent.Config.ValidationRules, child.Config.ValidationRules)
}

// applyMixin folds a mixin into the composed template: task/instructions
// string-merge without duplication, context merged with the current document
// winning conflicts, variables unioned.
func applyMixin(current *types.Template, mixin *types.Template) {
	current.Body.Task = mergeText(current.Body.Task, mixin.Body.Task)
	current.Body.Instructions = mergeText(current.Body.Instructions, mixin.Body.Instructions)
	current.Body.Context = types.MergeMaps(mixin.Body.Context, current.Body.Context)
	current.Body.Variables = types.UnionStrings(current.Body.Variables, mixin.Body.Variables)
}

// mergeText combines two instruction strings, avoiding duplication when one
// already contains the other (the longer string wins).
func mergeText(a, b string) string {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	switch {
	case a == "":
		return b
	case b == "":
		return a
	case strings.Contains(a, b):
		return a
	case strings.Contains(b, a):
		return b
	default:
		return a + "\n\n" + b
	}
}

// applyRulesAndOverrides round-trips the template through its JSON tree,
// applies rules in declared order and overrides last, then decodes back.
// A rule that produces an undecodable document is rejected wholesale and
// reported; the pre-rule template stays in effect.
func applyRulesAndOverrides(tmpl *types.Template, rules []types.CompositionRule, overrides map[string]any) []string {
	var warnings []string

	tree, err := templateTree(tmpl)
	if err != nil {
		return []string{"cannot apply composition rules: " + err.Error()}
	}

	for i, rule := range rules {
		if !rule.Mode.Valid() {
			warnings = append(warnings, fmt.Sprintf("rule %d: unknown mode %q", i, rule.Mode))
			continue
		}
		if rule.Target == "" {
			warnings = append(warnings, fmt.Sprintf("rule %d: empty target path", i))
			continue
		}
		value := rule.Value
		if rule.Source != "" {
			sourceValue, ok := types.LookupPath(tree, rule.Source)
			if !ok {
				warnings = append(warnings, fmt.Sprintf("rule %d: source path %q not found", i, rule.Source))
				continue
			}
			value = sourceValue
		}
		applyRule(tree, rule.Mode, rule.Target, value)
	}

	// Overrides are last-write-wins, applied in sorted key order for
	// determinism.
	paths := make([]string, 0, len(overrides))
	for path := range overrides {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	for _, path := range paths {
		types.SetPath(tree, path, types.CloneValue(overrides[path]))
	}

	updated, err := treeTemplate(tree)
	if err != nil {
		return append(warnings, "composition rules produced an invalid document: "+err.Error())
	}
	// Preserve provenance fields the tree round-trip drops.
	updated.FilePath = tmpl.FilePath
	updated.ModTime = tmpl.ModTime
	*tmpl = *updated
	return warnings
}

func applyRule(tree map[string]any, mode types.MergeMode, target string, value any) {
	existing, exists := types.LookupPath(tree, target)

	switch mode {
	case types.MergeModeReplace:
		types.SetPath(tree, target, types.CloneValue(value))

	case types.MergeModeMerge:
		existingMap, a := existing.(map[string]any)
		valueMap, b := value.(map[string]any)
		if exists && a && b {
			types.SetPath(tree, target, types.MergeMaps(existingMap, valueMap))
		} else {
			types.SetPath(tree, target, types.CloneValue(value))
		}

	case types.MergeModeAppend:
		types.SetPath(tree, target, combine(existing, value, false))

	case types.MergeModePrepend:
		types.SetPath(tree, target, combine(existing, value, true))
	}
}

// combine joins two values for append/prepend rules: strings concatenate,
// sequences splice, anything else becomes a sequence.
func combine(existing, value any, prepend bool) any {
	if existing == nil {
		return types.CloneValue(value)
	}
	if es, ok := existing.(string); ok {
		if vs, ok := value.(string); ok {
			if prepend {
				return vs + es
			}
			return es + vs
		}
	}
	existingSeq, eOK := existing.([]any)
	if !eOK {
		existingSeq = []any{existing}
	}
	valueSeq, vOK := value.([]any)
	if !vOK {
		valueSeq = []any{value}
	}
	if prepend {
		return append(types.CloneValue(valueSeq).([]any), existingSeq...)
	}
	return append(existingSeq, types.CloneValue(valueSeq).([]any)...)
}

func templateTree(tmpl *types.Template) (map[string]any, error) {
	data, err := json.Marshal(tmpl)
	if err != nil {
		return nil, err
	}
	var tree map[string]any
	if err := json.Unmarshal(data, &tree); err != nil {
		return nil, err
	}
	return tree, nil
}

func treeTemplate(tree map[string]any) (*types.Template, error) {
	data, err := json.Marshal(tree)
	if err != nil {
		return nil, err
	}
	var tmpl types.Template
	if err := json.Unmarshal(data, &tmpl); err != nil {
		return nil, err
	}
	return &tmpl, nil
}

// memoKey derives the memoization key for (id, version, inheritance config).
// encoding/json sorts map keys, so the hash is stable for equal configs.
func memoKey(tmpl *types.Template, cfg *types.InheritanceConfig) string {
	data, err := json.Marshal(cfg)
	if err != nil {
		data = []byte(fmt.Sprintf("%+v", cfg))
	}
	sum := blake3.Sum256(data)
	return fmt.Sprintf("%s@%s@%x", tmpl.ID, tmpl.Version, sum[:8])
}
