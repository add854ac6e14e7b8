package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEngineErrorFormatting(t *testing.T) {
	err := NewValidationError("t1", "missing required field 'name'")
	msg := err.Error()

	assert.Contains(t, msg, CodeValidationFailed)
	assert.Contains(t, msg, "template:t1")
	assert.Contains(t, msg, "missing required field 'name'")
}

func TestEngineErrorUnwrap(t *testing.T) {
	cause := stderrors.New("unexpected EOF")
	err := NewDocumentParseError("/tmp/bad.json", cause)

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "/tmp/bad.json")
	assert.Contains(t, err.Error(), "unexpected EOF")
}

func TestEngineErrorIsMatchesKind(t *testing.T) {
	err := fmt.Errorf("lookup: %w", NewNotFoundError("nope", nil))

	assert.True(t, IsNotFound(err))
	assert.Equal(t, KindNotFound, KindOf(err))
	assert.False(t, IsNotFound(stderrors.New("plain")))
}

func TestNotFoundEnumeratesAvailableKeys(t *testing.T) {
	err := NewNotFoundError("nope", []string{"t1", "t2"})

	assert.Contains(t, err.Error(), `"nope"`)
	assert.Contains(t, err.Error(), "t1")
	assert.Contains(t, err.Error(), "t2")
}

func TestNotFoundEmptyRegistry(t *testing.T) {
	err := NewNotFoundError("nope", nil)
	assert.Contains(t, err.Error(), "no templates are registered")
}

func TestCycleErrorNamesFullCycle(t *testing.T) {
	err := NewCycleError([]string{"a", "b", "a"})

	assert.Equal(t, CodeInheritanceCycle, err.Code)
	assert.Contains(t, err.Error(), "a -> b -> a")
}

func TestIsRecoverable(t *testing.T) {
	assert.True(t, IsRecoverable(NewValidationError("t1", "bad")))
	assert.False(t, IsRecoverable(NewConfigError(CodeDirectoryInvalid, "missing dir")))
	assert.False(t, IsRecoverable(stderrors.New("plain")))
}

func TestCollectorRecordsAndCounts(t *testing.T) {
	c := NewCollector(0)

	c.Record(nil)
	c.Record(NewValidationError("t1", "bad"))
	c.Record(NewDocumentParseError("/tmp/a.json", stderrors.New("eof")))

	assert.True(t, c.HasErrors())
	assert.Len(t, c.Errors(), 2)
	assert.Equal(t, 1, c.CountByKind(KindValidation))
	assert.Equal(t, 1, c.CountByKind(KindDocumentParse))
}

func TestCollectorAdvisoryThreshold(t *testing.T) {
	c := NewCollector(3)

	for i := 0; i < 2; i++ {
		c.Record(NewDocumentParseError("/tmp/a.json", stderrors.New("eof")))
	}
	assert.Empty(t, c.Advisories())

	c.Record(NewDocumentParseError("/tmp/b.json", stderrors.New("eof")))
	advisories := c.Advisories()
	require.Contains(t, advisories, KindDocumentParse)
	assert.Contains(t, advisories[KindDocumentParse], "template directory")
}

func TestCollectorClear(t *testing.T) {
	c := NewCollector(1)
	c.Record(NewValidationError("t1", "bad"))
	require.True(t, c.HasErrors())
	require.NotEmpty(t, c.Advisories())

	c.Clear()

	assert.False(t, c.HasErrors())
	assert.Empty(t, c.Advisories())
	assert.Equal(t, 0, c.CountByKind(KindValidation))
}
