package file

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/semtopo/component"
	"github.com/c360/semtopo/errors"
	"github.com/c360/semtopo/tuple"
)

func newWriter(t *testing.T, cfg Config) *Writer {
	t.Helper()
	if cfg.Directory == "" {
		cfg.Directory = t.TempDir()
	}
	factory, err := NewFactory(cfg)
	require.NoError(t, err)
	w := factory().(*Writer)
	require.NoError(t, w.Init(context.Background(), component.TaskContext{Stage: "writer"}))
	t.Cleanup(func() { _ = w.Teardown() })
	return w
}

func record(t *testing.T, id string, fields []string, values ...tuple.Value) tuple.Record {
	t.Helper()
	rec, err := tuple.New(tuple.MustSchema(fields...), values...)
	require.NoError(t, err)
	return rec.WithIdentity(id, "test")
}

func lines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
}

func TestConfig_Validate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	tests := map[string]Config{
		"no directory":    {Format: FormatRaw},
		"bad format":      {Directory: "/tmp", Format: "xml"},
		"negative dedupe": {Directory: "/tmp", DedupeSize: -1},
	}
	for name, c := range tests {
		t.Run(name, func(t *testing.T) {
			err := c.Validate()
			require.Error(t, err)
			assert.True(t, errors.IsInvalid(err))
		})
	}
}

func TestWriter_OneLinePerRecordFlushed(t *testing.T) {
	w := newWriter(t, Config{FilePrefix: "out-"})
	assert.Nil(t, w.OutputFields())
	assert.True(t, strings.HasPrefix(filepath.Base(w.Path()), "out-"))

	for i, word := range []string{"STORM-1", "SPARK-2", "LINUX-3"} {
		rec := record(t, tuple.DeriveID("root", i), []string{"suffixName"}, tuple.String(word))
		require.NoError(t, w.Process(context.Background(), rec, nil))
	}

	// Readable before Teardown because every write is flushed.
	assert.Equal(t, []string{"STORM-1", "SPARK-2", "LINUX-3"}, lines(t, w.Path()))
	assert.Equal(t, int64(3), w.Stats().Written)
}

func TestWriter_SkipsReplayedIDs(t *testing.T) {
	w := newWriter(t, Config{DedupeSize: 2})

	a := record(t, "a", []string{"word"}, tuple.String("alpha"))
	b := record(t, "b", []string{"word"}, tuple.String("beta"))
	c := record(t, "c", []string{"word"}, tuple.String("gamma"))

	for _, rec := range []tuple.Record{a, b, a, c, a} {
		require.NoError(t, w.Process(context.Background(), rec, nil))
	}

	// a is evicted by c, so its third appearance is written again.
	assert.Equal(t, []string{"alpha", "beta", "gamma", "alpha"}, lines(t, w.Path()))
	assert.Equal(t, int64(1), w.Stats().Duplicates)
}

func TestWriter_DedupeDisabled(t *testing.T) {
	w := newWriter(t, Config{})
	a := record(t, "a", []string{"word"}, tuple.String("alpha"))
	require.NoError(t, w.Process(context.Background(), a, nil))
	require.NoError(t, w.Process(context.Background(), a, nil))
	assert.Len(t, lines(t, w.Path()), 2)
}

func TestWriter_FieldSelectionAndJSONL(t *testing.T) {
	w := newWriter(t, Config{Field: "n"})
	rec := record(t, "r1", []string{"word", "n"}, tuple.String("x"), tuple.Int(7))
	require.NoError(t, w.Process(context.Background(), rec, nil))
	assert.Equal(t, []string{"7"}, lines(t, w.Path()))

	missing := newWriter(t, Config{Field: "nope"})
	err := missing.Process(context.Background(), rec, nil)
	assert.ErrorIs(t, err, errors.ErrUnknownField)

	js := newWriter(t, Config{Format: FormatJSONL})
	require.NoError(t, js.Process(context.Background(), rec, nil))
	var got struct {
		ID     string         `json:"id"`
		Fields map[string]any `json:"fields"`
	}
	require.NoError(t, json.Unmarshal([]byte(lines(t, js.Path())[0]), &got))
	assert.Equal(t, "r1", got.ID)
	assert.Equal(t, "x", got.Fields["word"])
	assert.Equal(t, float64(7), got.Fields["n"])
}

func TestWriter_InstancesUseDistinctFiles(t *testing.T) {
	dir := t.TempDir()
	first := newWriter(t, Config{Directory: dir})
	second := newWriter(t, Config{Directory: dir})
	assert.NotEqual(t, first.Path(), second.Path())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestWriter_WriteAfterTeardownFails(t *testing.T) {
	w := newWriter(t, Config{})
	require.NoError(t, w.Teardown())
	require.NoError(t, w.Teardown(), "teardown is idempotent")

	err := w.Process(context.Background(), record(t, "x", []string{"w"}, tuple.String("v")), nil)
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))
}

func TestWriter_InputFields(t *testing.T) {
	assert.Equal(t, []string{"word"}, newWriter(t, Config{Field: "word"}).InputFields())
	assert.Nil(t, newWriter(t, Config{}).InputFields())
	assert.Nil(t, newWriter(t, Config{Field: "word", Format: FormatJSONL}).InputFields())
}

func TestWriter_DedupeIsPerInstance(t *testing.T) {
	dir := t.TempDir()
	first := newWriter(t, Config{Directory: dir, DedupeSize: 8})
	second := newWriter(t, Config{Directory: dir, DedupeSize: 8})
	a := record(t, "a", []string{"word"}, tuple.String("alpha"))

	require.NoError(t, first.Process(context.Background(), a, nil))
	require.NoError(t, second.Process(context.Background(), a, nil))
	assert.Len(t, lines(t, first.Path()), 1)
	assert.Len(t, lines(t, second.Path()), 1, "another instance does not know the id")

	// A restarted instance starts with an empty cache and a new file.
	require.NoError(t, first.Teardown())
	require.NoError(t, first.Init(context.Background(), component.TaskContext{Stage: "writer"}))
	require.NoError(t, first.Process(context.Background(), a, nil))
	assert.Len(t, lines(t, first.Path()), 1)
	assert.Zero(t, first.Stats().Duplicates)
}
