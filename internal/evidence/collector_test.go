package evidence

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/upgraded/internal/workflow"
)

func TestCollect(t *testing.T) {
	t.Run("accepts well-formed discover evidence", func(t *testing.T) {
		ev, err := Collect(workflow.PhaseDiscover, map[string]any{
			"current_version":  "3.1.0",
			"target_version":   "4.0.0",
			"dependency_count": 42,
		})
		require.NoError(t, err)

		assert.Equal(t, workflow.PhaseDiscover, ev.Phase)
		assert.False(t, ev.TimedOut)
		assert.False(t, ev.CollectedAt.IsZero())

		v, ok := ev.Field("target_version")
		require.True(t, ok)
		assert.Equal(t, "4.0.0", v)

		count, ok := ev.Field("dependency_count")
		require.True(t, ok)
		assert.Equal(t, int64(42), count, "ints normalize to int64")
	})

	t.Run("rejects missing required field", func(t *testing.T) {
		_, err := Collect(workflow.PhaseDiscover, map[string]any{
			"current_version": "3.1.0",
		})

		var shapeErr *ShapeError
		require.ErrorAs(t, err, &shapeErr)
		assert.Equal(t, "target_version", shapeErr.Field)
	})

	t.Run("rejects wrong field type", func(t *testing.T) {
		_, err := Collect(workflow.PhaseBuild, map[string]any{
			"build_passed": "yes",
		})

		var shapeErr *ShapeError
		require.ErrorAs(t, err, &shapeErr)
		assert.Equal(t, "build_passed", shapeErr.Field)
	})

	t.Run("rejects unknown phase", func(t *testing.T) {
		_, err := Collect(workflow.Phase(7), map[string]any{})
		var shapeErr *ShapeError
		assert.ErrorAs(t, err, &shapeErr)
	})
}

func TestCollectTimeoutSentinel(t *testing.T) {
	t.Run("timed out evidence needs no required fields", func(t *testing.T) {
		ev, err := Collect(workflow.PhaseVerify, map[string]any{
			"timed_out": true,
		})
		require.NoError(t, err)
		assert.True(t, ev.TimedOut)
		assert.Empty(t, ev.Fields)
	})

	t.Run("timed_out must be bool", func(t *testing.T) {
		_, err := Collect(workflow.PhaseVerify, map[string]any{
			"timed_out": "true",
		})
		var shapeErr *ShapeError
		require.ErrorAs(t, err, &shapeErr)
		assert.Equal(t, "timed_out", shapeErr.Field)
	})

	t.Run("false sentinel still requires fields", func(t *testing.T) {
		_, err := Collect(workflow.PhaseVerify, map[string]any{
			"timed_out": false,
		})
		assert.Error(t, err)
	})
}

func TestCollectJSONNumbers(t *testing.T) {
	// JSON decoding delivers all numbers as float64.
	ev, err := Collect(workflow.PhaseVerify, map[string]any{
		"tests_passed":     float64(120),
		"tests_failed":     float64(0),
		"coverage_percent": 87.5,
	})
	require.NoError(t, err)

	passed, _ := ev.Field("tests_passed")
	assert.Equal(t, int64(120), passed)

	cov, _ := ev.Field("coverage_percent")
	assert.Equal(t, 87.5, cov)

	_, err = Collect(workflow.PhaseVerify, map[string]any{
		"tests_passed": 1.5,
		"tests_failed": float64(0),
	})
	assert.Error(t, err, "fractional value is not an int")
}

func TestCollectExtras(t *testing.T) {
	ev, err := Collect(workflow.PhaseApply, map[string]any{
		"packages_upgraded": 3,
		"diff_lines":        812,
		"lockfile_changed":  true,
	})
	require.NoError(t, err)

	extra, ok := ev.Field("lockfile_changed")
	require.True(t, ok, "undeclared scalar observations are carried through")
	assert.Equal(t, true, extra)
}

func TestCollectCommands(t *testing.T) {
	t.Run("decodes command objects", func(t *testing.T) {
		ev, err := Collect(workflow.PhaseApply, map[string]any{
			"packages_upgraded": 1,
			"diff_lines":        10,
			"commands": []any{
				map[string]any{"command": "npm update", "exit_code": float64(0), "duration_ms": float64(1500)},
			},
		})
		require.NoError(t, err)
		require.Len(t, ev.Commands, 1)
		assert.Equal(t, "npm update", ev.Commands[0].Command)
		assert.Equal(t, 0, ev.Commands[0].ExitCode)
	})

	t.Run("rejects command without command string", func(t *testing.T) {
		_, err := Collect(workflow.PhaseApply, map[string]any{
			"packages_upgraded": 1,
			"diff_lines":        10,
			"commands":          []any{map[string]any{"exit_code": float64(0)}},
		})
		assert.Error(t, err)
	})

	t.Run("accepts typed command slice", func(t *testing.T) {
		ev, err := Collect(workflow.PhaseApply, map[string]any{
			"packages_upgraded": 1,
			"diff_lines":        10,
			"commands": []workflow.CommandExecution{
				{Command: "go get -u ./...", ExitCode: 0},
			},
		})
		require.NoError(t, err)
		assert.Len(t, ev.Commands, 1)
	})
}

func TestCollectArtifacts(t *testing.T) {
	ev, err := Collect(workflow.PhaseFinalize, map[string]any{
		"changelog_written": true,
		"artifacts": []any{
			map[string]any{"name": "changelog", "path": "CHANGELOG.md"},
		},
	})
	require.NoError(t, err)
	require.Len(t, ev.Artifacts, 1)
	assert.Equal(t, "changelog", ev.Artifacts[0].Name)
	assert.Equal(t, workflow.PhaseFinalize, ev.Artifacts[0].Phase)

	_, err = Collect(workflow.PhaseFinalize, map[string]any{
		"changelog_written": true,
		"artifacts":         []any{map[string]any{"path": "CHANGELOG.md"}},
	})
	assert.Error(t, err, "artifact entries need a name")
}

func TestShape(t *testing.T) {
	for _, phase := range workflow.AllPhases() {
		assert.NotEmpty(t, Shape(phase), "every phase declares an evidence shape")
	}
}
