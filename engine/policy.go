package engine

import (
	"fmt"
	"strings"

	"github.com/c360/semtopo/errors"
)

// ErrorPolicy decides what a transform instance does after a processing error.
type ErrorPolicy int

const (
	// PolicyRestart tears the instance down and initializes a fresh one from
	// its factory.
	PolicyRestart ErrorPolicy = iota
	// PolicyContinue keeps the instance and moves on to the next record.
	PolicyContinue
)

// String returns the configuration name of the policy
func (p ErrorPolicy) String() string {
	switch p {
	case PolicyRestart:
		return "restart"
	case PolicyContinue:
		return "continue"
	default:
		return "unknown"
	}
}

// ParseErrorPolicy parses "restart" or "continue".
func ParseErrorPolicy(s string) (ErrorPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "restart":
		return PolicyRestart, nil
	case "continue":
		return PolicyContinue, nil
	default:
		return 0, errors.Validation(fmt.Errorf("%w: unknown error policy %q", errors.ErrInvalidConfig, s))
	}
}
