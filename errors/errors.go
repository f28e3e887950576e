// Package errors provides standardized error handling for topology components.
// It includes error classification, the topology error taxonomy, standard error
// variables, and helper functions for consistent wrapping across the engine.
package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorClass represents the classification of errors for handling purposes
type ErrorClass int

const (
	// ErrorTransient represents temporary errors that may be retried
	ErrorTransient ErrorClass = iota
	// ErrorInvalid represents errors due to invalid input or configuration
	ErrorInvalid
	// ErrorFatal represents unrecoverable errors that should stop processing
	ErrorFatal
)

// String returns the string representation of ErrorClass
func (ec ErrorClass) String() string {
	switch ec {
	case ErrorTransient:
		return "transient"
	case ErrorInvalid:
		return "invalid"
	case ErrorFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Kind identifies where in the topology an error originated.
type Kind int

const (
	// KindValidation is a malformed graph or configuration, detected before start.
	KindValidation Kind = iota + 1
	// KindSource is a read failure from the upstream stream.
	KindSource
	// KindProcessing is a failure raised by a transform.
	KindProcessing
	// KindRouting is a grouping invariant violation.
	KindRouting
)

// String returns the string representation of Kind
func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindSource:
		return "source"
	case KindProcessing:
		return "processing"
	case KindRouting:
		return "routing"
	default:
		return "unknown"
	}
}

// Standard error variables for common conditions
var (
	// Lifecycle errors
	ErrAlreadyStarted = errors.New("already started")
	ErrNotStarted     = errors.New("not started")
	ErrShuttingDown   = errors.New("shutting down")

	// Connection errors
	ErrNoConnection      = errors.New("no connection available")
	ErrConnectionLost    = errors.New("connection lost")
	ErrConnectionTimeout = errors.New("connection timeout")

	// Data errors
	ErrInvalidData    = errors.New("invalid data format")
	ErrSchemaMismatch = errors.New("record does not match declared schema")
	ErrParsingFailed  = errors.New("parsing failed")

	// Configuration errors
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrMissingConfig = errors.New("missing required configuration")

	// Routing errors
	ErrInvalidParallelism = errors.New("parallelism must be at least 1")
	ErrUnknownField       = errors.New("unknown field")

	// Retry errors
	ErrMaxRetriesExceeded = errors.New("maximum retries exceeded")
)

// ClassifiedError wraps an error with its classification
type ClassifiedError struct {
	Class     ErrorClass
	Err       error
	Message   string
	Component string
	Operation string
}

// Error implements the error interface
func (ce *ClassifiedError) Error() string {
	if ce.Message != "" {
		return ce.Message
	}
	return ce.Err.Error()
}

// Unwrap returns the underlying error
func (ce *ClassifiedError) Unwrap() error {
	return ce.Err
}

// TopologyError is an error raised by a stage, a grouping or the graph validator.
// Instance is -1 when the error is not tied to one task instance.
type TopologyError struct {
	Kind     Kind
	Class    ErrorClass
	Stage    string
	Instance int
	Err      error
}

// Error implements the error interface
func (te *TopologyError) Error() string {
	var b strings.Builder
	b.WriteString(te.Kind.String())
	b.WriteString(" error")
	if te.Stage != "" {
		b.WriteString(" in ")
		b.WriteString(te.Stage)
		if te.Instance >= 0 {
			fmt.Fprintf(&b, "[%d]", te.Instance)
		}
	}
	if te.Err != nil {
		b.WriteString(": ")
		b.WriteString(te.Err.Error())
	}
	return b.String()
}

// Unwrap returns the underlying error
func (te *TopologyError) Unwrap() error {
	return te.Err
}

// Validation creates a validation error. Use ValidationErrors to report
// several problems at once.
func Validation(err error) error {
	if err == nil {
		return nil
	}
	return &TopologyError{Kind: KindValidation, Class: ErrorInvalid, Instance: -1, Err: err}
}

// Validationf creates a validation error from a format string.
func Validationf(format string, args ...any) error {
	return Validation(fmt.Errorf(format, args...))
}

// SourceTransient marks a source read failure that the source's backoff may retry.
func SourceTransient(stage string, instance int, err error) error {
	if err == nil {
		return nil
	}
	return &TopologyError{Kind: KindSource, Class: ErrorTransient, Stage: stage, Instance: instance, Err: err}
}

// SourceFatal marks a source failure that stops the task instance.
func SourceFatal(stage string, instance int, err error) error {
	if err == nil {
		return nil
	}
	return &TopologyError{Kind: KindSource, Class: ErrorFatal, Stage: stage, Instance: instance, Err: err}
}

// Processing wraps a transform failure. The class of the underlying error is kept.
func Processing(stage string, instance int, err error) error {
	if err == nil {
		return nil
	}
	var te *TopologyError
	if errors.As(err, &te) && te.Kind == KindProcessing {
		return err
	}
	return &TopologyError{Kind: KindProcessing, Class: Classify(err), Stage: stage, Instance: instance, Err: err}
}

// Routing creates a routing error. Routing errors are always fatal.
func Routing(stage string, instance int, err error) error {
	if err == nil {
		return nil
	}
	return &TopologyError{Kind: KindRouting, Class: ErrorFatal, Stage: stage, Instance: instance, Err: err}
}

// Attribute sets the stage and instance of a topology error that was raised
// without them, such as a grouping error. Errors that already name a stage are
// returned unchanged.
func Attribute(err error, stage string, instance int) error {
	var te *TopologyError
	if !errors.As(err, &te) || te.Stage != "" {
		return err
	}
	cp := *te
	cp.Stage = stage
	cp.Instance = instance
	return &cp
}

// KindOf returns the topology kind of err, or 0 when err is not a TopologyError.
func KindOf(err error) Kind {
	var te *TopologyError
	if errors.As(err, &te) {
		return te.Kind
	}
	return 0
}

// IsValidation reports whether err is a validation error.
func IsValidation(err error) bool { return KindOf(err) == KindValidation }

// IsSource reports whether err is a source error.
func IsSource(err error) bool { return KindOf(err) == KindSource }

// IsProcessing reports whether err is a processing error.
func IsProcessing(err error) bool { return KindOf(err) == KindProcessing }

// IsRouting reports whether err is a routing error.
func IsRouting(err error) bool { return KindOf(err) == KindRouting }

// classOf returns the explicit class carried by err, if any.
func classOf(err error) (ErrorClass, bool) {
	var te *TopologyError
	if errors.As(err, &te) {
		return te.Class, true
	}
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class, true
	}
	return 0, false
}

// IsTransient checks if an error is transient and should be retried
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if class, ok := classOf(err); ok {
		return class == ErrorTransient
	}

	if errors.Is(err, ErrConnectionTimeout) ||
		errors.Is(err, ErrConnectionLost) ||
		errors.Is(err, ErrNoConnection) ||
		errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	errStr := strings.ToLower(err.Error())
	for _, pattern := range []string{"timeout", "connection", "temporary", "unavailable"} {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}

// IsFatal checks if an error is fatal and should stop processing
func IsFatal(err error) bool {
	if err == nil {
		return false
	}

	if class, ok := classOf(err); ok {
		return class == ErrorFatal
	}

	return errors.Is(err, ErrInvalidConfig) ||
		errors.Is(err, ErrMissingConfig) ||
		errors.Is(err, ErrInvalidParallelism)
}

// IsInvalid checks if an error is due to invalid input
func IsInvalid(err error) bool {
	if err == nil {
		return false
	}

	if class, ok := classOf(err); ok {
		return class == ErrorInvalid
	}

	return errors.Is(err, ErrInvalidData) ||
		errors.Is(err, ErrParsingFailed) ||
		errors.Is(err, ErrSchemaMismatch) ||
		errors.Is(err, ErrUnknownField)
}

// Classify returns the error class for an error.
// Unknown errors default to transient to allow retry.
func Classify(err error) ErrorClass {
	if err == nil {
		return ErrorTransient
	}
	if class, ok := classOf(err); ok {
		return class
	}
	if IsFatal(err) {
		return ErrorFatal
	}
	if IsInvalid(err) {
		return ErrorInvalid
	}
	return ErrorTransient
}

func newClassified(class ErrorClass, err error, component, operation, message string) *ClassifiedError {
	return &ClassifiedError{
		Class:     class,
		Err:       err,
		Message:   message,
		Component: component,
		Operation: operation,
	}
}

// Wrap creates a standardized error with context following the pattern:
// "component.method: action failed: %w"
func Wrap(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s.%s: %s failed: %w", component, method, action, err)
}

// WrapTransient wraps an error as transient with context
func WrapTransient(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorTransient, wrappedErr, component, method, wrappedErr.Error())
}

// WrapFatal wraps an error as fatal with context
func WrapFatal(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorFatal, wrappedErr, component, method, wrappedErr.Error())
}

// WrapInvalid wraps an error as invalid with context
func WrapInvalid(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorInvalid, wrappedErr, component, method, wrappedErr.Error())
}

// ValidationErrors collects every problem found by one validation pass.
type ValidationErrors []error

// Addf records one problem.
func (v *ValidationErrors) Addf(format string, args ...any) {
	*v = append(*v, fmt.Errorf(format, args...))
}

// Error joins all problem messages.
func (v ValidationErrors) Error() string {
	msgs := make([]string, len(v))
	for i, err := range v {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

// Unwrap exposes the individual problems to errors.Is and errors.As.
func (v ValidationErrors) Unwrap() []error {
	return v
}

// Err returns nil when no problem was recorded, otherwise a validation error
// carrying all of them.
func (v ValidationErrors) Err() error {
	if len(v) == 0 {
		return nil
	}
	return Validation(v)
}
