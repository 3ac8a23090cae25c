package table

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikkeyboi/custom-neuropype/internal/model"
	"github.com/mikkeyboi/custom-neuropype/pkg/protocol"
)

func rows(trial int, details model.Details, markers ...string) []model.DerivedEvent {
	out := make([]model.DerivedEvent, len(markers))
	for i, m := range markers {
		out[i] = model.DerivedEvent{
			TrialIndex: trial,
			Marker:     m,
			Time:       float64(trial*10 + i),
			Fields:     details,
		}
	}
	return out
}

func TestAssemble(t *testing.T) {
	spec, err := protocol.Preset("saccade-v2")
	require.NoError(t, err)

	d := model.Details{
		"UnityTrialIndex":   2.0,
		"TaskType":          "AttendShape",
		"IsCorrect":         1,
		"TargetObjectIndex": 3,
		"ReactionTime":      0.25,
	}

	tbl := Assemble(spec, [][]model.DerivedEvent{
		rows(3, d, "Intertrial", "Feedback"),
		nil,
		rows(1, d, "Intertrial", "Go", "Feedback"),
	})

	assert.Equal(t, KindMarkers, tbl.Kind)
	assert.Equal(t, "saccade-v2", tbl.Protocol)
	assert.Equal(t, 5, tbl.Len())
	assert.Equal(t, []int{1, 3}, tbl.Trials())
	assert.Equal(t, []float64{10, 11, 12, 30, 31}, tbl.Times())

	names := tbl.ColumnNames()
	assert.Equal(t, []string{"Time", "Trial", "Marker", "UnityTrialIndex"}, names[:4])
	assert.Equal(t, "ReactionTime", names[len(names)-1])

	assert.Equal(t, 12.0, tbl.Value(2, "Time"))
	assert.Equal(t, 1, tbl.Value(2, "Trial"))
	assert.Equal(t, "Feedback", tbl.Value(2, "Marker"))

	// Values are coerced to their column types.
	assert.Equal(t, 2, tbl.Value(0, "UnityTrialIndex"))
	assert.Equal(t, true, tbl.Value(0, "IsCorrect"))
	assert.Equal(t, "AttendShape", tbl.Value(0, "TaskType"))
	assert.Equal(t, 0.25, tbl.Value(0, "ReactionTime"))

	// Missing values become the column's zero or NaN.
	assert.Equal(t, "", tbl.Value(0, "CuedPosition"))
	assert.Equal(t, 0, tbl.Value(0, "EnvironmentIndex"))
	assert.True(t, math.IsNaN(tbl.Value(0, "CountermandingDelay").(float64)))

	// Rows own their fields after assembly.
	tbl.Rows[0].Fields["TaskType"] = "AttendColour"
	assert.Equal(t, "AttendShape", tbl.Value(1, "TaskType"))
}

func TestAssemble_Empty(t *testing.T) {
	spec, err := protocol.Preset("saccade-v1")
	require.NoError(t, err)

	tbl := Assemble(spec, nil)
	assert.Zero(t, tbl.Len())
	assert.Empty(t, tbl.Trials())
	assert.Len(t, tbl.Columns, len(spec.Columns()))
}
