package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorClass_String(t *testing.T) {
	tests := []struct {
		class    ErrorClass
		expected string
	}{
		{ErrorTransient, "transient"},
		{ErrorInvalid, "invalid"},
		{ErrorFatal, "fatal"},
		{ErrorClass(999), "unknown"},
	}

	for _, test := range tests {
		t.Run(test.expected, func(t *testing.T) {
			result := test.class.String()
			if result != test.expected {
				t.Errorf("expected %s, got %s", test.expected, result)
			}
		})
	}
}

func TestKind_String(t *testing.T) {
	assert.Equal(t, "validation", KindValidation.String())
	assert.Equal(t, "source", KindSource.String())
	assert.Equal(t, "processing", KindProcessing.String())
	assert.Equal(t, "routing", KindRouting.String())
	assert.Equal(t, "unknown", Kind(0).String())
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"connection timeout", ErrConnectionTimeout, true},
		{"connection lost", ErrConnectionLost, true},
		{"context deadline exceeded", context.DeadlineExceeded, true},
		{"invalid data", ErrInvalidData, false},
		{"timeout in message", fmt.Errorf("operation timeout occurred"), true},
		{"network error", fmt.Errorf("network connection failed"), true},
		{"classified transient", &ClassifiedError{Class: ErrorTransient, Err: fmt.Errorf("test")}, true},
		{"classified fatal", &ClassifiedError{Class: ErrorFatal, Err: fmt.Errorf("test")}, false},
		{"transient source", SourceTransient("kafka", 0, fmt.Errorf("broker gone")), true},
		{"fatal source with timeout text", SourceFatal("kafka", 0, fmt.Errorf("timeout")), false},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			result := IsTransient(test.err)
			if result != test.expected {
				t.Errorf("expected %v, got %v for error: %v", test.expected, result, test.err)
			}
		})
	}
}

func TestIsFatal(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"invalid config", ErrInvalidConfig, true},
		{"missing config", ErrMissingConfig, true},
		{"invalid parallelism", ErrInvalidParallelism, true},
		{"connection timeout", ErrConnectionTimeout, false},
		{"routing", Routing("split", 1, ErrInvalidParallelism), true},
		{"classified fatal", &ClassifiedError{Class: ErrorFatal, Err: fmt.Errorf("test")}, true},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if got := IsFatal(test.err); got != test.expected {
				t.Errorf("expected %v, got %v for error: %v", test.expected, got, test.err)
			}
		})
	}
}

func TestIsInvalid(t *testing.T) {
	assert.False(t, IsInvalid(nil))
	assert.True(t, IsInvalid(ErrInvalidData))
	assert.True(t, IsInvalid(ErrSchemaMismatch))
	assert.True(t, IsInvalid(fmt.Errorf("wrapped: %w", ErrUnknownField)))
	assert.True(t, IsInvalid(Validationf("bad graph")))
	assert.False(t, IsInvalid(ErrConnectionLost))
}

func TestClassify(t *testing.T) {
	assert.Equal(t, ErrorTransient, Classify(nil))
	assert.Equal(t, ErrorTransient, Classify(fmt.Errorf("something odd")))
	assert.Equal(t, ErrorFatal, Classify(ErrInvalidConfig))
	assert.Equal(t, ErrorInvalid, Classify(ErrParsingFailed))
	assert.Equal(t, ErrorFatal, Classify(WrapFatal(fmt.Errorf("disk"), "FileOutput", "Process", "write")))
}

func TestTopologyError_Message(t *testing.T) {
	err := Processing("writer", 2, fmt.Errorf("disk full"))
	assert.Equal(t, "processing error in writer[2]: disk full", err.Error())

	err = Validationf("stage %q declared twice", "split")
	assert.Equal(t, `validation error: stage "split" declared twice`, err.Error())
}

func TestTopologyError_Predicates(t *testing.T) {
	cause := fmt.Errorf("boom")
	wrapped := fmt.Errorf("engine: %w", Processing("upper", 0, cause))

	assert.True(t, IsProcessing(wrapped))
	assert.False(t, IsSource(wrapped))
	assert.False(t, IsRouting(wrapped))
	assert.False(t, IsValidation(wrapped))
	assert.True(t, errors.Is(wrapped, cause))

	var te *TopologyError
	require.True(t, errors.As(wrapped, &te))
	assert.Equal(t, "upper", te.Stage)
	assert.Equal(t, 0, te.Instance)

	assert.True(t, IsSource(SourceFatal("kafka", 3, cause)))
	assert.True(t, IsRouting(Routing("kafka", 3, ErrInvalidParallelism)))
	assert.Equal(t, Kind(0), KindOf(cause))
}

func TestProcessing_DoesNotDoubleWrap(t *testing.T) {
	inner := Processing("split", 1, fmt.Errorf("bad"))
	outer := Processing("split", 1, inner)
	assert.Same(t, inner, outer)
}

func TestProcessing_KeepsClass(t *testing.T) {
	err := Processing("sink", 0, WrapFatal(fmt.Errorf("closed"), "FileOutput", "Process", "write"))
	assert.True(t, IsFatal(err))
	assert.False(t, IsTransient(err))
}

func TestConstructors_NilPassThrough(t *testing.T) {
	assert.NoError(t, Validation(nil))
	assert.NoError(t, SourceTransient("s", 0, nil))
	assert.NoError(t, SourceFatal("s", 0, nil))
	assert.NoError(t, Processing("s", 0, nil))
	assert.NoError(t, Routing("s", 0, nil))
	assert.NoError(t, WrapTransient(nil, "c", "m", "a"))
}

func TestValidationErrors(t *testing.T) {
	var problems ValidationErrors
	require.NoError(t, problems.Err())

	problems.Addf("stage %q: parallelism %d must be >= 1", "split", 0)
	problems.Addf("edge %s -> %s: unknown stage %q", "a", "b", "b")

	err := problems.Err()
	require.Error(t, err)
	assert.True(t, IsValidation(err))
	assert.True(t, IsInvalid(err))
	assert.True(t, strings.Contains(err.Error(), "parallelism 0"))
	assert.True(t, strings.Contains(err.Error(), "unknown stage"))

	var got ValidationErrors
	require.True(t, errors.As(err, &got))
	assert.Len(t, got, 2)
}

func TestWrap(t *testing.T) {
	base := fmt.Errorf("eof")
	err := Wrap(base, "KafkaSource", "Next", "poll fetches")
	assert.Equal(t, "KafkaSource.Next: poll fetches failed: eof", err.Error())
	assert.True(t, errors.Is(err, base))
	assert.Nil(t, Wrap(nil, "a", "b", "c"))

	tr := WrapTransient(base, "KafkaSource", "Next", "poll fetches")
	var ce *ClassifiedError
	require.True(t, errors.As(tr, &ce))
	assert.Equal(t, ErrorTransient, ce.Class)
	assert.Equal(t, "KafkaSource", ce.Component)
	assert.Equal(t, "Next", ce.Operation)

	inv := WrapInvalid(base, "Config", "Load", "parse")
	assert.True(t, IsInvalid(inv))
}

func TestAttribute(t *testing.T) {
	bare := Routing("", -1, ErrInvalidParallelism)
	got := Attribute(bare, "split", 2)
	assert.Equal(t, "routing error in split[2]: parallelism must be at least 1", got.Error())
	assert.True(t, errors.Is(got, ErrInvalidParallelism))
	assert.Equal(t, "routing error: parallelism must be at least 1", bare.Error())

	named := Processing("upper", 0, fmt.Errorf("bad"))
	assert.Same(t, named, Attribute(named, "split", 1))

	plain := fmt.Errorf("plain")
	assert.Same(t, plain, Attribute(plain, "split", 1))
}
