package config

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/c360/semtopo/delivery"
	"github.com/c360/semtopo/engine"
	"github.com/c360/semtopo/errors"
	"github.com/c360/semtopo/input/jetstream"
	"github.com/c360/semtopo/input/kafka"
	"github.com/c360/semtopo/input/random"
	"github.com/c360/semtopo/output/file"
	"github.com/c360/semtopo/pkg/tlsutil"
)

// Topology kinds the command can run.
const (
	KindKafkaWordSplit     = "kafka-wordsplit"
	KindJetStreamWordSplit = "jetstream-wordsplit"
	KindRandomSuffix       = "random-suffix"
)

// Config is the complete configuration of one topology process.
type Config struct {
	Topology    TopologyConfig   `json:"topology"`
	Placement   engine.Placement `json:"placement"`
	Delivery    DeliveryConfig   `json:"delivery"`
	Shutdown    ShutdownConfig   `json:"shutdown"`
	ErrorPolicy string           `json:"error_policy,omitempty"`
	QueueSize   int              `json:"queue_size,omitempty"`
	Kafka       KafkaConfig      `json:"kafka"`
	NATS        NATSConfig       `json:"nats"`
	Random      RandomConfig     `json:"random"`
	Output      file.Config      `json:"output"`
	Metrics     MetricsConfig    `json:"metrics"`
}

// TopologyConfig names the topology and picks which demo graph to build.
type TopologyConfig struct {
	Name string `json:"name"`
	Kind string `json:"kind"`
	// Parallelism overrides the declared parallelism of a stage by name.
	Parallelism map[string]int `json:"parallelism,omitempty"`
}

// DeliveryConfig configures at-least-once tracking. Enabled has no default:
// a config must state whether records are tracked.
type DeliveryConfig struct {
	Enabled    *bool    `json:"enabled"`
	Timeout    Duration `json:"timeout,omitempty"`
	Shards     int      `json:"shards,omitempty"`
	MaxReplays int      `json:"max_replays,omitempty"`
}

// ShutdownConfig bounds how long a stop may take.
type ShutdownConfig struct {
	GracePeriod  Duration `json:"grace_period,omitempty"`
	ForceTimeout Duration `json:"force_timeout,omitempty"`
}

// KafkaConfig is the Kafka source section.
type KafkaConfig struct {
	Brokers        []string       `json:"brokers,omitempty"`
	Topic          string         `json:"topic,omitempty"`
	Group          string         `json:"group,omitempty"`
	ClientID       string         `json:"client_id,omitempty"`
	Reset          string         `json:"reset,omitempty"`
	FetchMaxWait   Duration       `json:"fetch_max_wait,omitempty"`
	CommitInterval Duration       `json:"commit_interval,omitempty"`
	DialTimeout    Duration       `json:"dial_timeout,omitempty"`
	TLS            tlsutil.Config `json:"tls"`
}

// NATSConfig is the NATS connection and JetStream source section.
type NATSConfig struct {
	URL           string         `json:"url,omitempty"`
	Username      string         `json:"username,omitempty"`
	Password      string         `json:"password,omitempty"`
	Token         string         `json:"token,omitempty"`
	MaxReconnects int            `json:"max_reconnects,omitempty"`
	ReconnectWait Duration       `json:"reconnect_wait,omitempty"`
	Stream        string         `json:"stream,omitempty"`
	Subjects      []string       `json:"subjects,omitempty"`
	Durable       string         `json:"durable,omitempty"`
	Batch         int            `json:"batch,omitempty"`
	FetchMaxWait  Duration       `json:"fetch_max_wait,omitempty"`
	AckWait       Duration       `json:"ack_wait,omitempty"`
	TLS           tlsutil.Config `json:"tls"`
}

// RandomConfig is the random word source section.
type RandomConfig struct {
	Words    []string `json:"words,omitempty"`
	Interval Duration `json:"interval,omitempty"`
	Limit    int      `json:"limit,omitempty"`
	Seed     uint64   `json:"seed,omitempty"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Port    int    `json:"port,omitempty"`
	Path    string `json:"path,omitempty"`
}

// Default returns the configuration every file is merged onto. Delivery is
// left unset on purpose so that a missing choice fails validation.
func Default() *Config {
	k := kafka.DefaultConfig()
	j := jetstream.DefaultConfig()
	r := random.DefaultConfig()
	return &Config{
		Topology: TopologyConfig{Name: "semtopo", Kind: KindKafkaWordSplit},
		Delivery: DeliveryConfig{
			Timeout: Duration(30 * time.Second),
			Shards:  16,
		},
		Shutdown: ShutdownConfig{
			GracePeriod:  Duration(30 * time.Second),
			ForceTimeout: Duration(5 * time.Second),
		},
		ErrorPolicy: engine.PolicyRestart.String(),
		Kafka: KafkaConfig{
			Brokers:        k.Brokers,
			Topic:          k.Topic,
			Group:          k.Group,
			ClientID:       k.ClientID,
			Reset:          k.Reset,
			FetchMaxWait:   Duration(k.FetchMaxWait),
			CommitInterval: Duration(k.CommitInterval),
			DialTimeout:    Duration(k.DialTimeout),
		},
		NATS: NATSConfig{
			URL:           "nats://localhost:4222",
			MaxReconnects: -1,
			ReconnectWait: Duration(2 * time.Second),
			Stream:        j.Stream,
			Subjects:      j.Subjects,
			Durable:       j.Durable,
			Batch:         j.Batch,
			FetchMaxWait:  Duration(j.FetchMaxWait),
			AckWait:       Duration(j.AckWait),
		},
		Random: RandomConfig{
			Words:    r.Words,
			Interval: Duration(r.Interval),
		},
		Output:  file.DefaultConfig(),
		Metrics: MetricsConfig{Port: 9090, Path: "/metrics"},
	}
}

// Validate checks the whole configuration and reports every problem at once.
func (c *Config) Validate() error {
	var problems errors.ValidationErrors

	if c.Topology.Name == "" {
		problems.Addf("topology.name is required")
	}
	switch c.Topology.Kind {
	case KindKafkaWordSplit, KindJetStreamWordSplit, KindRandomSuffix:
	default:
		problems.Addf("topology.kind %q must be one of %s, %s, %s",
			c.Topology.Kind, KindKafkaWordSplit, KindJetStreamWordSplit, KindRandomSuffix)
	}
	for stage, n := range c.Topology.Parallelism {
		if n < 1 {
			problems.Addf("topology.parallelism.%s: %d must be >= 1", stage, n)
		}
	}

	if c.Delivery.Enabled == nil {
		problems = append(problems, fmt.Errorf("%w: delivery.enabled must be set to true or false", errors.ErrMissingConfig))
	} else if err := c.DeliveryConfig().Validate(); err != nil {
		problems.Addf("delivery: %v", err)
	}

	if c.Shutdown.GracePeriod < 0 || c.Shutdown.ForceTimeout < 0 {
		problems.Addf("shutdown durations cannot be negative")
	}
	if _, err := engine.ParseErrorPolicy(c.ErrorPolicy); err != nil {
		problems.Addf("error_policy: %q must be restart or continue", c.ErrorPolicy)
	}
	if c.QueueSize < 0 {
		problems.Addf("queue_size cannot be negative")
	}
	if c.Placement.Workers < 0 || c.Placement.ContextsPerWorker < 0 {
		problems.Addf("placement.workers and placement.contexts_per_worker cannot be negative")
	}

	switch c.Topology.Kind {
	case KindKafkaWordSplit:
		k := c.KafkaSource()
		if err := k.Validate(); err != nil {
			problems.Addf("kafka: %v", err)
		}
	case KindJetStreamWordSplit:
		if c.NATS.URL == "" {
			problems.Addf("nats.url is required")
		}
		j := c.JetStreamSource()
		if err := j.Validate(); err != nil {
			problems.Addf("nats: %v", err)
		}
		if err := c.NATS.TLS.Validate(); err != nil {
			problems.Addf("nats.tls: %v", err)
		}
	case KindRandomSuffix:
		r := c.RandomSource()
		if err := r.Validate(); err != nil {
			problems.Addf("random: %v", err)
		}
	}
	if err := c.Output.Validate(); err != nil {
		problems.Addf("output: %v", err)
	}
	if c.Metrics.Enabled && (c.Metrics.Port <= 0 || c.Metrics.Port > 65535) {
		problems.Addf("metrics.port %d is out of range", c.Metrics.Port)
	}

	return problems.Err()
}

// DeliveryConfig returns the tracker settings. It must only be called on a
// validated config or after checking that Enabled is set.
func (c *Config) DeliveryConfig() delivery.Config {
	enabled := c.Delivery.Enabled != nil && *c.Delivery.Enabled
	return delivery.Config{
		Enabled:    enabled,
		Timeout:    c.Delivery.Timeout.D(),
		Shards:     c.Delivery.Shards,
		MaxReplays: c.Delivery.MaxReplays,
	}
}

// Policy returns the parsed error policy.
func (c *Config) Policy() engine.ErrorPolicy {
	p, err := engine.ParseErrorPolicy(c.ErrorPolicy)
	if err != nil {
		return engine.PolicyRestart
	}
	return p
}

// KafkaSource returns the Kafka source settings.
func (c *Config) KafkaSource() kafka.Config {
	return kafka.Config{
		Brokers:        c.Kafka.Brokers,
		Topic:          c.Kafka.Topic,
		Group:          c.Kafka.Group,
		ClientID:       c.Kafka.ClientID,
		Reset:          c.Kafka.Reset,
		FetchMaxWait:   c.Kafka.FetchMaxWait.D(),
		CommitInterval: c.Kafka.CommitInterval.D(),
		DialTimeout:    c.Kafka.DialTimeout.D(),
		TLS:            c.Kafka.TLS,
	}
}

// JetStreamSource returns the JetStream source settings.
func (c *Config) JetStreamSource() jetstream.Config {
	return jetstream.Config{
		Stream:       c.NATS.Stream,
		Subjects:     c.NATS.Subjects,
		Durable:      c.NATS.Durable,
		Batch:        c.NATS.Batch,
		FetchMaxWait: c.NATS.FetchMaxWait.D(),
		AckWait:      c.NATS.AckWait.D(),
	}
}

// RandomSource returns the random word source settings.
func (c *Config) RandomSource() random.Config {
	return random.Config{
		Words:    c.Random.Words,
		Interval: c.Random.Interval.D(),
		Limit:    c.Random.Limit,
		Seed:     c.Random.Seed,
	}
}

// ParallelismOf returns the override for stage, or def.
func (c *Config) ParallelismOf(stage string, def int) int {
	if n, ok := c.Topology.Parallelism[stage]; ok && n > 0 {
		return n
	}
	return def
}

// Clone creates a deep copy of the configuration
func (c *Config) Clone() *Config {
	if c == nil {
		return &Config{}
	}
	data, err := json.Marshal(c)
	if err != nil {
		copied := *c
		return &copied
	}
	var clone Config
	if err := json.Unmarshal(data, &clone); err != nil {
		copied := *c
		return &copied
	}
	return &clone
}

// String returns the configuration as indented JSON with secrets masked.
func (c *Config) String() string {
	safe := c.Clone()
	if safe.NATS.Password != "" {
		safe.NATS.Password = "***"
	}
	if safe.NATS.Token != "" {
		safe.NATS.Token = "***"
	}
	data, err := json.MarshalIndent(safe, "", "  ")
	if err != nil {
		return fmt.Sprintf("Config{topology=%s}", c.Topology.Name)
	}
	return string(data)
}
