// Package kafka provides a topology source that consumes a Kafka topic as a
// consumer group member, together with a small producer used to feed it.
//
// Each task instance owns one franz-go client. Records are emitted with a
// single "message" field holding the record value as a string. When the
// topology tracks delivery, the source commits offsets only up to the longest
// contiguous run of acknowledged records per partition, so records that
// timed out or were still in flight at shutdown are read again by the next
// member of the group.
//
// Usage:
//
//	factory, err := kafka.NewFactory(kafka.Config{
//		Brokers: []string{"localhost:9092"},
//		Topic:   "demo",
//		Group:   "test",
//	}, kafka.WithMetricsRegistry(registry))
//	if err != nil {
//		return err
//	}
//	b.SetSource("kafka", factory, 2)
package kafka
