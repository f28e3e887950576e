package jetstream

import (
	"context"
	stderrors "errors"
	"log/slog"

	"github.com/nats-io/nats.go"
	natsjs "github.com/nats-io/nats.go/jetstream"

	"github.com/c360/semtopo/component"
	"github.com/c360/semtopo/errors"
	"github.com/c360/semtopo/natsclient"
	"github.com/c360/semtopo/tuple"
)

// Source pulls messages from a durable JetStream consumer. Every task
// instance fetches from the same consumer, so the server spreads messages
// across them. A message is acked once every record derived from it was
// processed.
type Source struct {
	cfg    Config
	client *natsclient.Client

	consumer natsjs.Consumer
	buffer   []natsjs.Msg
	log      *slog.Logger
}

// NewFactory validates cfg and returns a factory sharing client across
// instances. The caller owns the client and must connect it before the
// topology starts.
func NewFactory(client *natsclient.Client, cfg Config) (component.SourceFactory, error) {
	if client == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "JetStreamSource", "NewFactory", "check client")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()
	return func() component.Source {
		return &Source{cfg: cfg, client: client}
	}, nil
}

// OutputFields implements component.Source.
func (s *Source) OutputFields() []string { return []string{MessageField} }

// Open ensures the stream and the durable consumer exist.
func (s *Source) Open(ctx context.Context, tc component.TaskContext) error {
	s.log = tc.Log().With("stream", s.cfg.Stream, "durable", s.cfg.Durable)

	if _, err := s.client.EnsureStream(ctx, natsjs.StreamConfig{
		Name:     s.cfg.Stream,
		Subjects: s.cfg.Subjects,
	}); err != nil {
		return err
	}

	consumerCfg := natsjs.ConsumerConfig{
		Durable:       s.cfg.Durable,
		AckPolicy:     natsjs.AckExplicitPolicy,
		AckWait:       s.cfg.AckWait,
		DeliverPolicy: natsjs.DeliverAllPolicy,
	}
	if len(s.cfg.Subjects) == 1 {
		consumerCfg.FilterSubject = s.cfg.Subjects[0]
	} else {
		consumerCfg.FilterSubjects = s.cfg.Subjects
	}
	cons, err := s.client.PullConsumer(ctx, s.cfg.Stream, consumerCfg)
	if err != nil {
		return err
	}
	s.consumer = cons
	s.log.Info("JetStream source opened")
	return nil
}

// Next implements component.Source.
func (s *Source) Next(ctx context.Context) (component.Emission, error) {
	if len(s.buffer) == 0 {
		if err := s.fetch(ctx); err != nil {
			return component.Emission{}, err
		}
	}
	if len(s.buffer) == 0 {
		return component.Emission{}, component.ErrEmpty
	}
	msg := s.buffer[0]
	s.buffer[0] = nil
	s.buffer = s.buffer[1:]
	return component.Emission{
		Values: []tuple.Value{tuple.String(string(msg.Data()))},
		MsgID:  msg,
	}, nil
}

func (s *Source) fetch(ctx context.Context) error {
	if ctx.Err() != nil {
		return nil
	}
	batch, err := s.consumer.Fetch(s.cfg.Batch, natsjs.FetchMaxWait(s.cfg.FetchMaxWait))
	if err != nil {
		return errors.WrapTransient(err, "JetStreamSource", "Next", "fetch")
	}
	for msg := range batch.Messages() {
		s.buffer = append(s.buffer, msg)
	}
	if err := batch.Error(); err != nil && !isEmptyFetch(err) {
		return errors.WrapTransient(err, "JetStreamSource", "Next", "fetch")
	}
	return nil
}

func isEmptyFetch(err error) bool {
	return stderrors.Is(err, natsjs.ErrNoMessages) ||
		stderrors.Is(err, nats.ErrTimeout) ||
		stderrors.Is(err, context.DeadlineExceeded)
}

// Ack implements component.Source.
func (s *Source) Ack(msgID any) {
	msg, ok := msgID.(natsjs.Msg)
	if !ok {
		return
	}
	if err := msg.Ack(); err != nil {
		s.log.Warn("Ack failed", "subject", msg.Subject(), "error", err)
	}
}

// Fail implements component.Source. The engine replays the record, so the
// server's redelivery timer is reset instead of letting it redeliver a duplicate.
func (s *Source) Fail(msgID any) {
	msg, ok := msgID.(natsjs.Msg)
	if !ok {
		return
	}
	if err := msg.InProgress(); err != nil {
		s.log.Debug("Extending ack deadline failed", "subject", msg.Subject(), "error", err)
	}
}

// Close naks fetched messages that were never emitted so the server
// redelivers them without waiting for AckWait.
func (s *Source) Close() error {
	for _, msg := range s.buffer {
		_ = msg.Nak()
	}
	if s.log != nil {
		s.log.Info("JetStream source closed", "returned", len(s.buffer))
	}
	s.buffer = nil
	return nil
}
