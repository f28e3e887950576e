package kafka

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/kmsg"
	"github.com/twmb/franz-go/plugin/kprom"

	"github.com/c360/semtopo/component"
	"github.com/c360/semtopo/errors"
	"github.com/c360/semtopo/metric"
	"github.com/c360/semtopo/tuple"
)

// msgRef identifies one consumed record. It is the message id handed to the engine.
type msgRef struct {
	Partition int32
	Offset    int64
}

func (m msgRef) String() string {
	return strconv.Itoa(int(m.Partition)) + "@" + strconv.FormatInt(m.Offset, 10)
}

// Source consumes one topic as a member of a consumer group. Offsets are
// committed only up to the longest prefix of records the topology acked,
// so a restart resumes after the last fully processed record.
type Source struct {
	cfg      Config
	clientOp []kgo.Opt
	metrics  *sourceMetrics
	reg      prometheus.Registerer

	client *kgo.Client
	log    *slog.Logger
	tc     component.TaskContext

	mu         sync.Mutex
	marks      *watermark
	buffer     []*kgo.Record
	lastCommit time.Time
}

// Option configures a source factory.
type Option func(*factoryOptions)

type factoryOptions struct {
	registry *metric.MetricsRegistry
	clientOp []kgo.Opt
}

// WithMetricsRegistry exports source and client metrics to registry.
func WithMetricsRegistry(registry *metric.MetricsRegistry) Option {
	return func(o *factoryOptions) { o.registry = registry }
}

// WithClientOpts appends raw franz-go options to every client the factory creates.
func WithClientOpts(opts ...kgo.Opt) Option {
	return func(o *factoryOptions) { o.clientOp = append(o.clientOp, opts...) }
}

// NewFactory validates cfg and returns a factory building one consumer per
// task instance. All instances join the same group.
func NewFactory(cfg Config, opts ...Option) (component.SourceFactory, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()

	var fo factoryOptions
	for _, opt := range opts {
		opt(&fo)
	}
	dial, err := cfg.dialOpts()
	if err != nil {
		return nil, err
	}
	fo.clientOp = append(dial, fo.clientOp...)

	var (
		m   *sourceMetrics
		reg prometheus.Registerer
	)
	if fo.registry != nil {
		if m, err = newSourceMetrics(fo.registry); err != nil {
			return nil, err
		}
		reg = fo.registry.PrometheusRegistry()
	}

	return func() component.Source {
		return &Source{
			cfg:      cfg,
			clientOp: fo.clientOp,
			metrics:  m,
			reg:      reg,
			marks:    newWatermark(),
		}
	}, nil
}

// OutputFields implements component.Source.
func (s *Source) OutputFields() []string { return []string{MessageField} }

// Open implements component.Source.
func (s *Source) Open(_ context.Context, tc component.TaskContext) error {
	s.tc = tc
	s.log = tc.Log().With("topic", s.cfg.Topic, "group", s.cfg.Group)

	reset := kgo.NewOffset().AtStart()
	if s.cfg.Reset == "latest" {
		reset = kgo.NewOffset().AtEnd()
	}

	opts := []kgo.Opt{
		kgo.ClientID(s.cfg.ClientID),
		kgo.ConsumerGroup(s.cfg.Group),
		kgo.ConsumeTopics(s.cfg.Topic),
		kgo.ConsumeResetOffset(reset),
		kgo.DisableAutoCommit(),
		kgo.FetchMinBytes(1),
		kgo.FetchMaxWait(s.cfg.FetchMaxWait),
		kgo.OnPartitionsRevoked(s.onRevoked),
		kgo.OnPartitionsLost(s.onLost),
	}
	if s.reg != nil {
		// One client per task; the task label keeps their series apart.
		wrapped := prometheus.WrapRegistererWith(prometheus.Labels{
			"stage": tc.Stage,
			"task":  strconv.Itoa(tc.Instance),
		}, s.reg)
		opts = append(opts, kgo.WithHooks(kprom.NewMetrics("semtopo_kafka",
			kprom.Registerer(wrapped),
			kprom.FetchAndProduceDetail(kprom.Batches, kprom.Records, kprom.CompressedBytes, kprom.UncompressedBytes))))
	}
	opts = append(opts, s.clientOp...)

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return errors.WrapFatal(err, "KafkaSource", "Open", "create client")
	}
	s.client = client
	s.lastCommit = time.Now()
	s.log.Info("Kafka source opened", "brokers", s.cfg.Brokers)
	return nil
}

// Next implements component.Source.
func (s *Source) Next(ctx context.Context) (component.Emission, error) {
	if rec, ok := s.pop(); ok {
		return s.emission(rec), nil
	}

	s.maybeCommit(ctx)

	pollCtx, cancel := context.WithTimeout(ctx, s.cfg.FetchMaxWait)
	fetches := s.client.PollFetches(pollCtx)
	cancel()

	if fetches.IsClientClosed() {
		return component.Emission{}, errors.WrapFatal(kgo.ErrClientClosed, "KafkaSource", "Next", "poll fetches")
	}
	for _, fe := range fetches.Errors() {
		if stderrors.Is(fe.Err, context.DeadlineExceeded) || stderrors.Is(fe.Err, context.Canceled) {
			continue
		}
		s.metrics.fetchError()
		return component.Emission{}, errors.WrapTransient(
			fmt.Errorf("%s[%d]: %w", fe.Topic, fe.Partition, fe.Err), "KafkaSource", "Next", "poll fetches")
	}

	s.mu.Lock()
	fetches.EachRecord(func(r *kgo.Record) {
		s.marks.track(r.Partition, r.Offset)
		s.buffer = append(s.buffer, r)
	})
	s.mu.Unlock()

	if rec, ok := s.pop(); ok {
		return s.emission(rec), nil
	}
	return component.Emission{}, component.ErrEmpty
}

func (s *Source) pop() (*kgo.Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.buffer) == 0 {
		return nil, false
	}
	rec := s.buffer[0]
	s.buffer[0] = nil
	s.buffer = s.buffer[1:]
	return rec, true
}

func (s *Source) emission(r *kgo.Record) component.Emission {
	s.metrics.consumed()
	return component.Emission{
		Values: []tuple.Value{tuple.String(string(r.Value))},
		MsgID:  msgRef{Partition: r.Partition, Offset: r.Offset},
	}
}

// Ack implements component.Source.
func (s *Source) Ack(msgID any) {
	ref, ok := msgID.(msgRef)
	if !ok {
		return
	}
	s.mu.Lock()
	s.marks.complete(ref.Partition, ref.Offset)
	s.mu.Unlock()
	s.metrics.acked()
}

// Fail implements component.Source. The engine replays the record itself,
// so the offset simply stays in flight.
func (s *Source) Fail(msgID any) {
	s.metrics.failed()
	if s.log != nil {
		s.log.Debug("Record timed out", "ref", msgID)
	}
}

func (s *Source) maybeCommit(ctx context.Context) {
	if time.Since(s.lastCommit) < s.cfg.CommitInterval {
		return
	}
	s.lastCommit = time.Now()
	if err := s.commit(ctx); err != nil {
		s.log.Warn("Offset commit failed", "error", err)
	}
}

// commit writes the current watermark of every partition that advanced.
func (s *Source) commit(ctx context.Context) error {
	s.mu.Lock()
	offsets := s.marks.committable()
	s.mu.Unlock()
	if len(offsets) == 0 {
		return nil
	}

	uncommitted := map[string]map[int32]kgo.EpochOffset{s.cfg.Topic: {}}
	for p, o := range offsets {
		uncommitted[s.cfg.Topic][p] = kgo.EpochOffset{Epoch: -1, Offset: o}
	}

	var commitErr error
	s.client.CommitOffsetsSync(ctx, uncommitted,
		func(_ *kgo.Client, _ *kmsg.OffsetCommitRequest, resp *kmsg.OffsetCommitResponse, err error) {
			if err != nil {
				commitErr = err
				return
			}
			for _, t := range resp.Topics {
				for _, p := range t.Partitions {
					if err := kerr.ErrorForCode(p.ErrorCode); err != nil && commitErr == nil {
						commitErr = fmt.Errorf("%s[%d]: %w", t.Topic, p.Partition, err)
					}
				}
			}
		})
	if commitErr != nil {
		return errors.WrapTransient(commitErr, "KafkaSource", "commit", "commit offsets")
	}

	s.mu.Lock()
	s.marks.markCommitted(offsets)
	s.mu.Unlock()
	s.metrics.committed(len(offsets))
	s.log.Debug("Offsets committed", "offsets", offsets)
	return nil
}

// onRevoked commits what completed on the revoked partitions and discards
// their buffered records. Their in-flight records are redelivered to the
// next owner.
func (s *Source) onRevoked(ctx context.Context, _ *kgo.Client, revoked map[string][]int32) {
	if err := s.commit(ctx); err != nil {
		s.log.Warn("Commit on revoke failed", "error", err)
	}
	s.drop(revoked[s.cfg.Topic])
}

func (s *Source) onLost(_ context.Context, _ *kgo.Client, lost map[string][]int32) {
	s.drop(lost[s.cfg.Topic])
}

func (s *Source) drop(partitions []int32) {
	if len(partitions) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.marks.forget(partitions...)
	gone := make(map[int32]bool, len(partitions))
	for _, p := range partitions {
		gone[p] = true
	}
	kept := s.buffer[:0]
	for _, r := range s.buffer {
		if !gone[r.Partition] {
			kept = append(kept, r)
		}
	}
	s.buffer = kept
	s.log.Info("Partitions released", "partitions", partitions)
}

// Close implements component.Source. Completed offsets are committed before
// the client leaves the group.
func (s *Source) Close() error {
	if s.client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.DialTimeout)
	defer cancel()
	err := s.commit(ctx)
	s.client.Close()
	s.client = nil

	s.mu.Lock()
	pending := s.marks.pending()
	s.mu.Unlock()
	s.log.Info("Kafka source closed", "uncommitted", pending)
	return err
}
