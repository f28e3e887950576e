package component

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/semtopo/tuple"
)

func TestState_String(t *testing.T) {
	tests := []struct {
		state    State
		expected string
	}{
		{StateCreated, "created"},
		{StateInitialized, "initialized"},
		{StateRunning, "running"},
		{StateStopped, "stopped"},
		{StateFailed, "failed"},
		{State(42), "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.state.String())
		})
	}
}

func TestState_CanTransition(t *testing.T) {
	assert.True(t, StateCreated.CanTransition(StateInitialized))
	assert.True(t, StateInitialized.CanTransition(StateRunning))
	assert.True(t, StateRunning.CanTransition(StateStopped))
	assert.True(t, StateRunning.CanTransition(StateFailed))
	assert.True(t, StateFailed.CanTransition(StateCreated))

	assert.False(t, StateCreated.CanTransition(StateRunning))
	assert.False(t, StateStopped.CanTransition(StateRunning))
}

func TestTaskContext_DecodeConfig(t *testing.T) {
	var cfg struct {
		Dir string `json:"dir"`
	}
	cfg.Dir = "default"

	require.NoError(t, TaskContext{}.DecodeConfig(&cfg))
	assert.Equal(t, "default", cfg.Dir)

	tc := TaskContext{Config: json.RawMessage(`{"dir":"/tmp/out"}`)}
	require.NoError(t, tc.DecodeConfig(&cfg))
	assert.Equal(t, "/tmp/out", cfg.Dir)

	assert.Error(t, TaskContext{Config: json.RawMessage(`{`)}.DecodeConfig(&cfg))
}

func TestTaskContext_LogDefaults(t *testing.T) {
	assert.NotNil(t, TaskContext{Stage: "split"}.Log())
}

func TestCollectorFunc(t *testing.T) {
	var got []tuple.Value
	c := CollectorFunc(func(values ...tuple.Value) error {
		got = append(got, values...)
		return nil
	})
	require.NoError(t, c.Emit(tuple.String("a"), tuple.Int(1)))
	assert.Len(t, got, 2)
}
