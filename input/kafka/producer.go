package kafka

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/c360/semtopo/errors"
)

// Producer writes plain text lines to the configured topic. It feeds the
// word split demo and the integration tests.
type Producer struct {
	topic  string
	client *kgo.Client
}

// NewProducer creates a producer for cfg.Topic.
func NewProducer(cfg Config, opts ...kgo.Opt) (*Producer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()

	dial, err := cfg.dialOpts()
	if err != nil {
		return nil, err
	}
	all := append(dial, kgo.ClientID(cfg.ClientID+"-producer"),
		kgo.DefaultProduceTopic(cfg.Topic),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.ProducerLinger(5*time.Millisecond))
	all = append(all, opts...)

	client, err := kgo.NewClient(all...)
	if err != nil {
		return nil, errors.WrapFatal(err, "KafkaProducer", "NewProducer", "create client")
	}
	return &Producer{topic: cfg.Topic, client: client}, nil
}

// EnsureTopic creates the topic with the given partition count. An existing
// topic is left as is.
func (p *Producer) EnsureTopic(ctx context.Context, partitions int32, replicationFactor int16) error {
	resp, err := kadm.NewClient(p.client).CreateTopics(ctx, partitions, replicationFactor, nil, p.topic)
	if err != nil {
		return errors.WrapTransient(err, "KafkaProducer", "EnsureTopic", "create topic")
	}
	if err := resp.Error(); err != nil && !stderrors.Is(err, kerr.TopicAlreadyExists) {
		return errors.Wrap(err, "KafkaProducer", "EnsureTopic", "create topic")
	}
	return nil
}

// Send produces each line as one record and waits for all of them to be acknowledged.
func (p *Producer) Send(ctx context.Context, lines ...string) error {
	records := make([]*kgo.Record, len(lines))
	for i, line := range lines {
		records[i] = &kgo.Record{Value: []byte(line)}
	}
	if err := p.client.ProduceSync(ctx, records...).FirstErr(); err != nil {
		return errors.WrapTransient(err, "KafkaProducer", "Send", "produce records")
	}
	return nil
}

// Close flushes buffered records and closes the client.
func (p *Producer) Close() {
	p.client.Close()
}
