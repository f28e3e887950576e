// Package natsclient wraps a NATS connection and its JetStream handle for the
// JetStream source.
//
// The client connects with backoff, fails fast through a small circuit
// breaker after repeated failures, and exposes the few JetStream operations the
// topology needs: ensuring a stream, creating a durable pull consumer and
// publishing. Close drains the connection within a bounded time.
//
//	client, err := natsclient.NewClient("nats://localhost:4222",
//	    natsclient.WithLogger(logger),
//	    natsclient.WithMetrics(registry, 30*time.Second))
//	if err != nil {
//	    return err
//	}
//	if err := client.Connect(ctx); err != nil {
//	    return err
//	}
//	defer client.Close(context.Background())
//
//	cons, err := client.PullConsumer(ctx, "WORDS", jetstream.ConsumerConfig{
//	    Durable:   "semtopo",
//	    AckPolicy: jetstream.AckExplicitPolicy,
//	})
//
// # Testing
//
// NewTestClient starts a NATS server with JetStream in a container through
// testcontainers-go and returns a connected client. Tests using it carry the
// integration build tag.
package natsclient
