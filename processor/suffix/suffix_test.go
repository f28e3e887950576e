package suffix

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/semtopo/component"
	"github.com/c360/semtopo/pkg/timestamp"
	"github.com/c360/semtopo/tuple"
)

func TestSuffix_AppendsMillis(t *testing.T) {
	clock := timestamp.Fixed(1_700_000_000_123)
	tr := New(Config{}, WithClock(clock))()
	assert.Equal(t, []string{DefaultOutput}, tr.OutputFields())
	assert.Equal(t, []string{DefaultInput}, tr.(component.InputDeclarer).InputFields())

	rec, err := tuple.New(tuple.MustSchema(DefaultInput), tuple.String("STORM"))
	require.NoError(t, err)

	var got []string
	collect := component.CollectorFunc(func(values ...tuple.Value) error {
		got = append(got, values[0].AsString())
		return nil
	})
	require.NoError(t, tr.Process(context.Background(), rec, collect))
	clock.Advance(5 * time.Millisecond)
	require.NoError(t, tr.Process(context.Background(), rec, collect))

	assert.Equal(t, []string{"STORM-1700000000123", "STORM-1700000000128"}, got)
}

func TestSuffix_WallClock(t *testing.T) {
	tr := New(Config{Separator: "@"})()
	rec, err := tuple.New(tuple.MustSchema(DefaultInput), tuple.String("X"))
	require.NoError(t, err)

	var got string
	require.NoError(t, tr.Process(context.Background(), rec, component.CollectorFunc(func(values ...tuple.Value) error {
		got = values[0].AsString()
		return nil
	})))
	assert.Regexp(t, `^X@\d{13}$`, got)
}
