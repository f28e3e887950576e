// Package errors provides standardized error handling for semtopo components.
//
// # Overview
//
// Two orthogonal classifications are carried by errors in this module.
//
// The ErrorClass (transient, invalid, fatal) is used for handling decisions:
// transient errors may be retried with backoff, invalid errors are caused by
// bad input or configuration, fatal errors stop the failing task instance.
//
// The Kind (validation, source, processing, routing) records where in a
// topology the error originated:
//
//   - Validation: a malformed graph or placement, rejected before anything runs
//   - Source: a read failure from the upstream stream
//   - Processing: a failure raised by a transform's Process
//   - Routing: a grouping invariant violation, such as parallelism below 1
//
// # Usage
//
// Graph validation collects every problem before failing:
//
//	var problems errors.ValidationErrors
//	if decl.Parallelism < 1 {
//	    problems.Addf("stage %q: parallelism %d must be >= 1", decl.Name, decl.Parallelism)
//	}
//	return problems.Err()
//
// Runtime errors are tagged with the stage and task instance:
//
//	if err := t.Process(ctx, rec, out); err != nil {
//	    return errors.Processing(stage, instance, err)
//	}
//
// Predicates work through wrapping chains:
//
//	if errors.IsRouting(err) {
//	    // fatal to the emitting instance
//	}
//
// # Error Wrapping Pattern
//
// Wrapping with context follows the format "component.method: action failed: %w":
//
//	return errors.WrapTransient(err, "KafkaSource", "Next", "poll fetches")
package errors
