package kafka

import (
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/c360/semtopo/errors"
	"github.com/c360/semtopo/pkg/tlsutil"
)

// MessageField is the output field carrying the record value.
const MessageField = "message"

// Config configures the Kafka source and producer.
type Config struct {
	Brokers  []string `json:"brokers"   yaml:"brokers"`
	Topic    string   `json:"topic"     yaml:"topic"`
	Group    string   `json:"group"     yaml:"group"`
	ClientID string   `json:"client_id" yaml:"client_id"`
	// Reset is where a group without committed offsets starts: earliest or latest.
	Reset string `json:"reset" yaml:"reset"`
	// FetchMaxWait bounds one poll when no record is available.
	FetchMaxWait time.Duration `json:"fetch_max_wait" yaml:"fetch_max_wait"`
	// CommitInterval is how often the completed watermark is committed.
	CommitInterval time.Duration  `json:"commit_interval" yaml:"commit_interval"`
	DialTimeout    time.Duration  `json:"dial_timeout"    yaml:"dial_timeout"`
	TLS            tlsutil.Config `json:"tls"             yaml:"tls"`
}

// DefaultConfig returns the settings of the word split demo: topic "demo",
// group "test", reading from the earliest offset.
func DefaultConfig() Config {
	return Config{
		Brokers:        []string{"localhost:9092"},
		Topic:          "demo",
		Group:          "test",
		ClientID:       "semtopo",
		Reset:          "earliest",
		FetchMaxWait:   100 * time.Millisecond,
		CommitInterval: time.Second,
		DialTimeout:    10 * time.Second,
	}
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	invalid := func(msg string) error {
		return errors.WrapInvalid(fmt.Errorf("%w: %s", errors.ErrInvalidConfig, msg), "KafkaConfig", "Validate", "check config")
	}
	switch {
	case len(c.Brokers) == 0:
		return invalid("at least one broker is required")
	case c.Topic == "":
		return invalid("topic is required")
	case c.Group == "":
		return invalid("group is required")
	case c.Reset != "" && c.Reset != "earliest" && c.Reset != "latest":
		return invalid(fmt.Sprintf("reset must be earliest or latest, got %q", c.Reset))
	case c.FetchMaxWait < 0 || c.CommitInterval < 0 || c.DialTimeout < 0:
		return invalid("durations cannot be negative")
	}
	return c.TLS.Validate()
}

// dialOpts returns the connection options shared by consumers and producers.
func (c Config) dialOpts() ([]kgo.Opt, error) {
	opts := []kgo.Opt{
		kgo.SeedBrokers(c.Brokers...),
		kgo.DialTimeout(c.DialTimeout),
	}
	tlsCfg, err := tlsutil.Load(c.TLS)
	if err != nil {
		return nil, err
	}
	if tlsCfg != nil {
		opts = append(opts, kgo.DialTLSConfig(tlsCfg))
	}
	return opts, nil
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.ClientID == "" {
		c.ClientID = d.ClientID
	}
	if c.Reset == "" {
		c.Reset = d.Reset
	}
	if c.FetchMaxWait == 0 {
		c.FetchMaxWait = d.FetchMaxWait
	}
	if c.CommitInterval == 0 {
		c.CommitInterval = d.CommitInterval
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = d.DialTimeout
	}
	return c
}
