// Package config loads the configuration of a topology process.
//
// A configuration is one or more JSON or YAML files, picked by extension,
// merged key by key over Default. Durations are written as strings such as
// "500ms", "30s" or "2d". Unknown keys are rejected.
//
// Sections:
//
//	topology      name, kind (kafka-wordsplit | jetstream-wordsplit | random-suffix),
//	              per-stage parallelism overrides
//	placement     workers, contexts_per_worker, per-stage tasks and executors
//	delivery      enabled (required), timeout, shards, max_replays
//	shutdown      grace_period, force_timeout
//	error_policy  restart | continue
//	queue_size    per-executor queue capacity
//	kafka         brokers, topic, group, reset, fetch_max_wait, commit_interval
//	nats          url, credentials, stream, subjects, durable, batch, ack_wait
//	random        words, interval, limit, seed
//	output        directory, file_prefix, field, format, dedupe_size
//	metrics       enabled, port, path
//
// delivery.enabled has no default. A file must state whether records are
// tracked, and Validate fails with errors.ErrMissingConfig otherwise.
//
// Environment variables prefixed SEMTOPO_ override selected keys after the
// files are merged, for example SEMTOPO_KAFKA_BROKERS=a:9092,b:9092 or
// SEMTOPO_DELIVERY_ENABLED=true.
//
// # Basic Usage
//
//	loader := config.NewLoader()
//	loader.AddLayer("configs/base.yaml")
//	loader.AddLayer("configs/production.json") // Overrides base
//
//	cfg, err := loader.Load()
//	if err != nil {
//		return err
//	}
//
// The semtopo command passes every -config flag to AddLayer in order.
package config
