// Package worker provides a generic, thread-safe worker pool for concurrent task processing.
//
// # Overview
//
// A Pool runs a fixed number of goroutines that process items of type T from
// a bounded queue. The engine runs every transform executor as a pool with a
// single worker, which serializes all calls into the task instances that
// executor owns.
//
//	pool := worker.NewPool[Job](1, 1024, func(ctx context.Context, job Job) error {
//	    return handle(ctx, job)
//	})
//	if err := pool.Start(ctx); err != nil {
//	    return err
//	}
//
// # Submitting Work
//
// Submit never blocks and returns ErrQueueFull when the queue is at capacity.
// SubmitWait blocks until there is room, the context ends, or the intake is
// closed, which gives upstream producers backpressure.
//
// # Shutdown
//
// Shutdown happens in two phases:
//
//  1. Drain(ctx) closes the intake and lets the workers finish every queued
//     item. It returns ctx.Err() if the deadline passes first.
//  2. Stop(timeout) drops whatever is still queued, cancels the context seen
//     by running processors and waits up to timeout for them to return. A
//     processor that ignores cancellation makes Stop return ErrStopTimeout.
//
// CloseIntake is the gate between the two: once it returns, no submission
// can succeed. Items dropped by Stop are reported to the WithDropHandler
// callback so callers can account for them.
//
// # Observability
//
// Statistics are always tracked with atomic counters and available from
// Stats. Prometheus metrics are optional:
//
//	pool := worker.NewPool[Job](1, 1024, process,
//	    worker.WithMetricsRegistry[Job](registry, "executor_split_0"))
package worker
