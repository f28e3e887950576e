package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/c360/semtopo/errors"
	"github.com/c360/semtopo/testutil"
	"github.com/c360/semtopo/topology"
)

func wordGraph(t *testing.T, splitTasks, countTasks int) *topology.Graph {
	t.Helper()
	b := topology.NewBuilder()
	b.SetSource("source", testutil.NewMockSource("msg").Factory(), 1)
	b.SetTransform("split", testutil.Transform(nil, []string{"word"}, testutil.SplitWords("msg")), splitTasks).
		Shuffle("source")
	b.SetTransform("count", testutil.Sink(nil), countTasks).Fields("split", "word")
	g, err := b.Build()
	require.NoError(t, err)
	return g
}

func TestPlacement_Defaults(t *testing.T) {
	pl, err := Placement{}.plan(wordGraph(t, 3, 2))
	require.NoError(t, err)

	assert.Equal(t, 1, pl.workers)
	assert.Equal(t, []string{"source", "split", "count"}, pl.order)
	assert.Equal(t, 6, pl.executors)

	split := pl.stages["split"]
	assert.Equal(t, 3, split.tasks)
	require.Len(t, split.executors, 3)
	for i, ep := range split.executors {
		assert.Equal(t, 1, ep.count)
		assert.Equal(t, i, ep.first)
		assert.Zero(t, ep.worker)
	}
}

func TestPlacement_ContiguousSplit(t *testing.T) {
	pl, err := Placement{
		Workers: 2,
		Stages: map[string]StagePlacement{
			"split": {Tasks: 8, Executors: 4},
			"count": {Tasks: 5, Executors: 2},
		},
	}.plan(wordGraph(t, 1, 1))
	require.NoError(t, err)

	split := pl.stages["split"]
	assert.Equal(t, 8, split.tasks)
	require.Len(t, split.executors, 4)
	for i, ep := range split.executors {
		assert.Equal(t, 2, ep.count)
		assert.Equal(t, 2*i, ep.first)
	}
	assert.Equal(t, []int{0, 0, 1, 1, 2, 2, 3, 3}, split.taskExec)

	count := pl.stages["count"]
	require.Len(t, count.executors, 2)
	assert.Equal(t, 3, count.executors[0].count)
	assert.Equal(t, 2, count.executors[1].count)
	assert.Equal(t, []int{0, 0, 0, 1, 1}, count.taskExec)

	// Round-robin over workers in topological order: source, split x4, count x2.
	assert.Equal(t, 0, pl.stages["source"].executors[0].worker)
	assert.Equal(t, []int{1, 0, 1, 0}, workersOf(split))
	assert.Equal(t, []int{1, 0}, workersOf(count))
}

func workersOf(sp *stagePlan) []int {
	out := make([]int, len(sp.executors))
	for i, ep := range sp.executors {
		out[i] = ep.worker
	}
	return out
}

func TestPlacement_ExecutorsCappedAtTasks(t *testing.T) {
	pl, err := Placement{
		Stages: map[string]StagePlacement{"split": {Tasks: 2, Executors: 10}},
	}.plan(wordGraph(t, 1, 1))
	require.NoError(t, err)
	assert.Len(t, pl.stages["split"].executors, 2)
}

func TestPlacement_Rejects(t *testing.T) {
	tests := []struct {
		name      string
		placement Placement
		contains  string
	}{
		{
			name:      "capacity exceeded",
			placement: Placement{Workers: 1, ContextsPerWorker: 2},
			contains:  "exceed capacity",
		},
		{
			name:      "unknown stage",
			placement: Placement{Stages: map[string]StagePlacement{"nope": {Tasks: 1}}},
			contains:  `unknown stage "nope"`,
		},
		{
			name:      "negative tasks",
			placement: Placement{Stages: map[string]StagePlacement{"split": {Tasks: -1}}},
			contains:  "tasks -1",
		},
		{
			name:      "negative workers",
			placement: Placement{Workers: -2},
			contains:  "workers -2",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.placement.plan(wordGraph(t, 1, 1))
			require.Error(t, err)
			assert.True(t, pkgerrors.IsValidation(err))
			assert.Contains(t, err.Error(), tt.contains)
		})
	}
}

func TestPlacement_TableOutOfRangeAfterOverride(t *testing.T) {
	b := topology.NewBuilder()
	b.SetSource("source", testutil.NewMockSource("msg").Factory(), 1)
	b.SetTransform("pin", testutil.Sink(nil), 4).Table("source", "msg", map[string]int{"x": 3})
	g, err := b.Build()
	require.NoError(t, err)

	_, err = Placement{Stages: map[string]StagePlacement{"pin": {Tasks: 2}}}.plan(g)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "outside [0, 2)")
}
