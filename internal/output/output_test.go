package output

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUsagefWrapsErrUsage(t *testing.T) {
	err := Usagef("expected %d args", 2)
	assert.True(t, errors.Is(err, ErrUsage))
	assert.Contains(t, err.Error(), "expected 2 args")
}

func TestPrintJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, PrintJSON(&buf, map[string]int{"files": 3}))
	assert.JSONEq(t, `{"files": 3}`, buf.String())
}

func TestSetModeLatches(t *testing.T) {
	t.Cleanup(func() { _ = SetMode(Mode{}) })

	require.NoError(t, SetMode(Mode{Verbose: true}))
	assert.True(t, IsVerbose())
	assert.False(t, IsQuiet())
	assert.False(t, IsJSON())
}

func TestSetModeJSONImpliesQuiet(t *testing.T) {
	t.Cleanup(func() { _ = SetMode(Mode{}) })

	require.NoError(t, SetMode(Mode{JSON: true}))
	assert.True(t, IsJSON())
	assert.True(t, IsQuiet())
}

func TestSetModeRejectsVerboseQuiet(t *testing.T) {
	err := SetMode(Mode{Verbose: true, Quiet: true})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUsage))
}
