// Package engine schedules a validated topology onto workers and runs it.
//
// Schedule turns every stage of a topology.Graph into task instances, groups
// them into execution contexts (executors) and assigns the executors
// round-robin to workers:
//
//	running, err := engine.Schedule(ctx, graph, engine.Placement{
//	    Workers:           2,
//	    ContextsPerWorker: 4,
//	    Stages: map[string]engine.StagePlacement{
//	        "split": {Tasks: 8, Executors: 4},
//	    },
//	}, engine.WithDelivery(delivery.DefaultConfig()))
//
// # Execution contexts
//
// A transform executor is a single-goroutine worker pool fed by a bounded
// queue, so the state of one task instance is never touched concurrently.
// A source executor is a goroutine polling its source instances, routing
// their emissions and running the Ack and Fail callbacks of the delivery
// tracker. Records routed to an executor on another worker are encoded with
// the tuple codec and decoded on arrival.
//
// Every instance is opened or initialized before any source starts polling.
//
// # Delivery
//
// The delivery mode must be chosen with WithDelivery. With tracking enabled
// every source record roots a delivery unit; units that time out are failed
// back to the source and the record is re-emitted with the same identity.
//
// # Failures
//
// A processing error either restarts the instance (PolicyRestart) or is
// logged and skipped (PolicyContinue). Unrecoverable errors raise an Alert,
// mark the instance unhealthy and stop it; other instances keep running.
//
// # Shutdown
//
// Shutdown stops the sources at their next poll, drains transform stages in
// topological order and, at the grace deadline, closes every inbound queue so
// no record is accepted afterwards. Remaining work is dropped and every
// instance whose execution context returns is torn down.
package engine
