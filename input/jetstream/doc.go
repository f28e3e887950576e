// Package jetstream provides a topology source reading a NATS JetStream
// stream through a durable pull consumer.
//
// The source emits one record per message with a single "message" field.
// Messages are acked explicitly when the topology reports that every derived
// record completed. A delivery timeout extends the server's ack deadline
// while the engine replays the record.
package jetstream
