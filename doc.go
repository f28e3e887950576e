// Package semtopo runs stream topologies: a directed acyclic graph of one or
// more sources and any number of transforms, each replicated into task
// instances and connected by grouping policies.
//
// # Architecture
//
//	┌─────────────────────────────────────┐
//	│            topology                 │  Builder, Graph validation,
//	│  (stages, edges, output schemas)    │  topological order
//	└─────────────────────────────────────┘
//	           ↓ scheduled by
//	┌─────────────────────────────────────┐
//	│             engine                  │  Placement, executors,
//	│  (tasks, queues, restarts, stop)    │  alerts, health, stats
//	└─────────────────────────────────────┘
//	           ↓ routes with            ↓ tracks with
//	┌──────────────────┐      ┌──────────────────────┐
//	│     grouping     │      │       delivery       │
//	│ shuffle, fields, │      │ XOR completion units │
//	│ all, global,     │      │ timeouts and replays │
//	│ table            │      │                      │
//	└──────────────────┘      └──────────────────────┘
//
// A record (package tuple) is an immutable list of values bound to a schema
// of field names, with a stable ID derived from its parent's ID. When
// delivery tracking is enabled, every source record starts a unit whose
// checksum is the XOR of the IDs still in flight. The unit completes when
// the checksum returns to zero; a unit that does not complete in time is
// replayed by its source under the same ID.
//
// # Packages
//
// Core:
//   - tuple: records, schemas, values and the binary codec
//   - component: Source and Transform contracts, TaskContext, lifecycle states
//   - grouping: routing policies between consecutive stages
//   - topology: graph building and validation
//   - engine: scheduling, execution, error policy, shutdown
//   - delivery: at-least-once tracking
//
// Infrastructure:
//   - config: JSON or YAML configuration with environment overrides
//   - errors: classified errors and the topology error taxonomy
//   - metric: Prometheus registry and HTTP exposition
//   - health: per-task and aggregated health
//   - natsclient: NATS connection and JetStream helpers
//   - pkg/worker: execution contexts
//   - pkg/retry: backoff policies
//   - pkg/tlsutil: client TLS for broker connections
//   - pkg/timestamp: clocks and millisecond timestamps
//
// Stages:
//   - input/kafka: consumer group source committing completed offsets
//   - input/jetstream: JetStream pull consumer source
//   - input/random: paced random word source
//   - processor/split, processor/upper, processor/suffix: demo transforms
//   - output/file: line-per-record sink with replay de-duplication
//
// # Usage
//
//	b := topology.NewBuilder()
//	b.SetSource("kafka", kafkaFactory, 1)
//	b.SetTransform("split", split.New(split.Config{}), 2).Shuffle("kafka")
//	b.SetTransform("writer", writerFactory, 4).Fields("split", "word")
//	g, err := b.Build()
//	if err != nil {
//	    return err
//	}
//
//	running, err := engine.Schedule(ctx, g, engine.Placement{Workers: 4},
//	    engine.WithDelivery(delivery.Config{Enabled: true, Timeout: 30 * time.Second}))
//	if err != nil {
//	    return err
//	}
//	defer running.Shutdown(30 * time.Second)
//
// # Binary
//
//	./bin/semtopo --config configs/kafka-wordsplit.yaml
//	./bin/semtopo --config configs/random-suffix.yaml --log-format=text
//	./bin/semtopo --config configs/jetstream-wordsplit.yaml --validate
package semtopo
