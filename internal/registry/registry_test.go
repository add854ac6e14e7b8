package registry

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/promptforge/promptforge/internal/config"
	"github.com/promptforge/promptforge/internal/errors"
	"github.com/promptforge/promptforge/internal/logging"
	"github.com/promptforge/promptforge/internal/types"
)

func testConfig(dirs ...string) *config.Config {
	return &config.Config{
		Templates: config.TemplatesConfig{Dirs: dirs},
		Cache:     config.CacheConfig{MaxEntries: 16, MaxBytes: 1 << 20},
		Watch:     config.WatchConfig{DebounceMS: 50},
		Memory: config.MemoryConfig{
			IntervalS: 30, WarningMB: 64, CleanupMB: 128, CriticalMB: 256,
		},
	}
}

func newTemplate(id string, category types.Category, task string) *types.Template {
	return &types.Template{
		ID:            id,
		Name:          id,
		Category:      category,
		Version:       "1.0.0",
		SchemaVersion: "1.0",
		Body:          types.TemplateBody{Task: task},
	}
}

func writeTemplate(t *testing.T, dir, id, body string) string {
	t.Helper()
	path := filepath.Join(dir, id+".json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func docJSON(id, task string) string {
	return fmt.Sprintf(`{
		"id": %q,
		"name": %q,
		"category": "general",
		"version": "1.0.0",
		"schema_version": "1.0",
		"template": {"task": %q}
	}`, id, id, task)
}

func TestRegisterAndGet(t *testing.T) {
	r := New(testConfig(t.TempDir()), logging.Nop())
	defer r.Close()

	require.NoError(t, r.Register(newTemplate("greeting", types.CategoryGeneral, "Say hello")))

	tmpl, ok := r.GetSync("greeting")
	require.True(t, ok)
	assert.Equal(t, "Say hello", tmpl.Body.Task)

	tmpl, err := r.Get(context.Background(), "greeting")
	require.NoError(t, err)
	assert.Equal(t, "Say hello", tmpl.Body.Task)
}

func TestRegisterRejectsInvalid(t *testing.T) {
	r := New(testConfig(t.TempDir()), logging.Nop())
	defer r.Close()

	err := r.Register(&types.Template{Name: "no id"})
	require.Error(t, err)
	assert.Equal(t, errors.KindValidation, errors.KindOf(err))

	require.Error(t, r.Register(nil))
}

func TestNotFoundEnumeratesKeys(t *testing.T) {
	r := New(testConfig(t.TempDir()), logging.Nop())
	defer r.Close()

	require.NoError(t, r.Register(newTemplate("alpha", types.CategoryAnalysis, "a")))
	require.NoError(t, r.Register(newTemplate("beta", types.CategoryGeneral, "b")))

	_, err := r.Get(context.Background(), "gamma")
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
	assert.Contains(t, err.Error(), "alpha")
	assert.Contains(t, err.Error(), "beta")
}

func TestLazyLoadFromDirectory(t *testing.T) {
	dir := t.TempDir()
	writeTemplate(t, dir, "summarize", docJSON("summarize", "Summarize ${input}"))

	r := New(testConfig(dir), logging.Nop())
	defer r.Close()
	r.Initialize(context.Background())

	assert.Contains(t, r.Keys(), "summarize")

	tmpl, err := r.Get(context.Background(), "summarize")
	require.NoError(t, err)
	assert.Equal(t, "Summarize ${input}", tmpl.Body.Task)

	// The loaded template is adopted into the category index.
	byCat := r.GetByCategory(types.CategoryGeneral)
	require.Len(t, byCat, 1)
	assert.Equal(t, "summarize", byCat[0].ID)
}

func TestUnregister(t *testing.T) {
	r := New(testConfig(t.TempDir()), logging.Nop())
	defer r.Close()

	require.NoError(t, r.Register(newTemplate("tmp", types.CategoryGeneral, "x")))
	assert.True(t, r.Unregister("tmp"))
	assert.False(t, r.Unregister("tmp"))

	_, ok := r.GetSync("tmp")
	assert.False(t, ok)
	_, err := r.Get(context.Background(), "tmp")
	assert.True(t, errors.IsNotFound(err))
	assert.Empty(t, r.GetByCategory(types.CategoryGeneral))
}

func TestGetByCategorySorted(t *testing.T) {
	r := New(testConfig(t.TempDir()), logging.Nop())
	defer r.Close()

	require.NoError(t, r.Register(newTemplate("zeta", types.CategoryAnalysis, "z")))
	require.NoError(t, r.Register(newTemplate("alpha", types.CategoryAnalysis, "a")))
	require.NoError(t, r.Register(newTemplate("other", types.CategoryGeneral, "o")))

	got := r.GetByCategory(types.CategoryAnalysis)
	require.Len(t, got, 2)
	assert.Equal(t, "alpha", got[0].ID)
	assert.Equal(t, "zeta", got[1].ID)

	cats := r.Categories()
	assert.Equal(t, []types.Category{types.CategoryAnalysis, types.CategoryGeneral}, cats)
}

func TestRender(t *testing.T) {
	r := New(testConfig(t.TempDir()), logging.Nop())
	defer r.Close()

	require.NoError(t, r.Register(newTemplate("greet", types.CategoryGeneral, "Hello ${user.name}!")))

	result, err := r.Render(context.Background(), "greet", map[string]any{
		"user": map[string]any{"name": "Ada"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Hello Ada!", result.Template.Body.Task)
	assert.Contains(t, result.VariablesUsed, "user.name")
}

func TestCompositionThroughRegistry(t *testing.T) {
	dir := t.TempDir()
	writeTemplate(t, dir, "base", docJSON("base", "Base task"))
	writeTemplate(t, dir, "child", `{
		"id": "child",
		"name": "child",
		"category": "general",
		"version": "1.0.0",
		"schema_version": "1.0",
		"template": {"instructions": "extra step"},
		"inheritance": {"extends": "base"}
	}`)

	r := New(testConfig(dir), logging.Nop())
	defer r.Close()
	r.Initialize(context.Background())

	// GetSync never loads; the child is not resident yet.
	_, ok := r.GetSync("child")
	assert.False(t, ok)

	tmpl, err := r.Get(context.Background(), "child")
	require.NoError(t, err)
	// Task inherited from the parent, own instructions kept.
	assert.Equal(t, "Base task", tmpl.Body.Task)
}

func TestReRegisterAncestorInvalidatesComposition(t *testing.T) {
	dir := t.TempDir()
	writeTemplate(t, dir, "parent", docJSON("parent", "old parent task"))
	writeTemplate(t, dir, "leaf", `{
		"id": "leaf",
		"name": "leaf",
		"category": "general",
		"version": "1.0.0",
		"schema_version": "1.0",
		"template": {},
		"inheritance": {"extends": "parent"}
	}`)

	r := New(testConfig(dir), logging.Nop())
	defer r.Close()
	r.Initialize(context.Background())

	tmpl, err := r.Get(context.Background(), "leaf")
	require.NoError(t, err)
	assert.Equal(t, "old parent task", tmpl.Body.Task)

	// Replacing the parent must drop the memoized composition and evict the
	// stale leaf so the next Get re-composes against the new parent.
	require.NoError(t, r.Register(newTemplate("parent", types.CategoryGeneral, "new parent task")))

	tmpl, err = r.Get(context.Background(), "leaf")
	require.NoError(t, err)
	assert.Equal(t, "new parent task", tmpl.Body.Task)
}

func TestHotReloadIntegration(t *testing.T) {
	dir := t.TempDir()
	writeTemplate(t, dir, "live", docJSON("live", "version one"))

	r := New(testConfig(dir), logging.Nop())
	defer r.Close()
	r.Initialize(context.Background())

	tmpl, err := r.Get(context.Background(), "live")
	require.NoError(t, err)
	assert.Equal(t, "version one", tmpl.Body.Task)

	require.NoError(t, r.EnableHotReload())
	writeTemplate(t, dir, "live", docJSON("live", "version two"))

	require.Eventually(t, func() bool {
		tmpl, ok := r.GetSync("live")
		return ok && tmpl.Body.Task == "version two"
	}, 3*time.Second, 20*time.Millisecond)

	r.DisableHotReload()
}

func TestHotReloadRecomposesInheritance(t *testing.T) {
	childJSON := func(instructions string) string {
		return fmt.Sprintf(`{
		"id": "child",
		"name": "child",
		"category": "general",
		"version": "1.0.0",
		"schema_version": "1.0",
		"template": {"instructions": %q},
		"inheritance": {"extends": "parent"}
	}`, instructions)
	}

	dir := t.TempDir()
	writeTemplate(t, dir, "parent", docJSON("parent", "parent task"))
	writeTemplate(t, dir, "child", childJSON("first step"))

	r := New(testConfig(dir), logging.Nop())
	defer r.Close()
	r.Initialize(context.Background())

	tmpl, err := r.Get(context.Background(), "child")
	require.NoError(t, err)
	assert.Equal(t, "parent task", tmpl.Body.Task)

	require.NoError(t, r.EnableHotReload())
	writeTemplate(t, dir, "child", childJSON("second step"))

	// The reloaded child must be recomposed, not served raw: it keeps the
	// inherited task alongside its own updated instructions.
	require.Eventually(t, func() bool {
		tmpl, ok := r.GetSync("child")
		return ok && tmpl.Body.Task == "parent task" && tmpl.Body.Instructions == "second step"
	}, 3*time.Second, 20*time.Millisecond)

	r.DisableHotReload()
}

func TestStats(t *testing.T) {
	r := New(testConfig(t.TempDir()), logging.Nop())
	defer r.Close()

	require.NoError(t, r.Register(newTemplate("one", types.CategoryGeneral, "t")))
	_, _ = r.GetSync("one")
	_, _ = r.GetSync("missing")

	stats := r.Stats()
	assert.Equal(t, 1, stats.Templates)
	assert.Equal(t, 1, stats.Categories)
	assert.Equal(t, 1, stats.CountByCategory[types.CategoryGeneral])
	assert.GreaterOrEqual(t, stats.Cache.Hits, int64(1))

	perf := r.PerformanceStats()
	assert.GreaterOrEqual(t, perf.CacheEntries, 1)
	assert.Contains(t, perf.FrequentKeys, "one")
}

func TestStartMemoryMonitor(t *testing.T) {
	r := New(testConfig(t.TempDir()), logging.Nop())
	require.NoError(t, r.StartMemoryMonitor(context.Background()))
	r.Close()
}
