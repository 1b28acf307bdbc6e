package harness

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_ScenarioFiles(t *testing.T) {
	files, err := filepath.Glob("testdata/scenarios/*.yaml")
	require.NoError(t, err)

	for _, f := range files {
		name := strings.TrimSuffix(filepath.Base(f), ".yaml")
		t.Run(name, func(t *testing.T) {
			s, err := LoadScenario(f)
			require.NoError(t, err)

			result, err := Run(s)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
			assert.Len(t, result.Trace, len(s.Edits))
			assert.NotEmpty(t, result.State)
		})
	}
}

func TestRun_CountsEveryDeliveryOrder(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/map_lww.yaml")
	require.NoError(t, err)

	result, err := Run(s)
	require.NoError(t, err)
	assert.Equal(t, 6, result.Orders)
	assert.Equal(t, `{"m":{"k":"b"}}`, result.State)
}

func TestRun_Deterministic(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/divergent_edits.yaml")
	require.NoError(t, err)

	first, err := Run(s)
	require.NoError(t, err)
	second, err := Run(s)
	require.NoError(t, err)
	assert.Equal(t, first.State, second.State)
	assert.Equal(t, first.Trace, second.Trace)
}

func TestRun_FailedAssertionsAreReported(t *testing.T) {
	s, err := ParseScenario([]byte(`
name: wrong
description: "expectations that do not hold"
replicas: [a, b]
edits:
  - replica: a
    ops: [{ type: insert_text, container: t, text: "x" }]
  - replica: b
    ops: [{ type: set, container: m, key: k, value: 1 }]
assertions:
  - { type: text, container: t, expect: "y" }
  - { type: map_entry, container: m, key: k, expect: 2 }
  - { type: map_entry, container: m, key: gone }
  - { type: array, container: l, expect: [1] }
  - { type: pending, expect: 3 }
  - { type: state, expect: "{}" }
`))
	require.NoError(t, err)

	result, err := Run(s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 5)
	assert.Contains(t, result.Errors[0], `t = "y"`)
	assert.Contains(t, result.Errors[1], `m["k"] = 2`)
	assert.Contains(t, result.Errors[2], "[]")
	assert.Contains(t, result.Errors[3], "3 pending operations")
	assert.Contains(t, result.Errors[4], "Assertion failed: state")
}

func TestRun_EditErrorFailsScenario(t *testing.T) {
	s, err := ParseScenario([]byte(`
name: bad_index
description: "delete past the end"
replicas: [a]
edits:
  - replica: a
    ops: [{ type: delete_text, container: t, index: 3, length: 1 }]
assertions:
  - { type: pending, expect: 0 }
`))
	require.NoError(t, err)

	_, err = Run(s)
	assert.Error(t, err)
}
