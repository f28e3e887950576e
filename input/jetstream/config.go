package jetstream

import (
	"fmt"
	"time"

	"github.com/c360/semtopo/errors"
)

// MessageField is the output field carrying the message payload.
const MessageField = "message"

// Config configures the JetStream source.
type Config struct {
	Stream   string   `json:"stream"   yaml:"stream"`
	Subjects []string `json:"subjects" yaml:"subjects"`
	// Durable names the pull consumer shared by all task instances.
	Durable string `json:"durable" yaml:"durable"`
	// Batch is the number of messages requested per fetch.
	Batch        int           `json:"batch"          yaml:"batch"`
	FetchMaxWait time.Duration `json:"fetch_max_wait" yaml:"fetch_max_wait"`
	// AckWait is how long the server waits for an ack before redelivering.
	// It should exceed the topology delivery timeout.
	AckWait time.Duration `json:"ack_wait" yaml:"ack_wait"`
}

// DefaultConfig returns the settings of the JetStream word split demo.
func DefaultConfig() Config {
	return Config{
		Stream:       "DEMO",
		Subjects:     []string{"demo.lines"},
		Durable:      "semtopo",
		Batch:        32,
		FetchMaxWait: 250 * time.Millisecond,
		AckWait:      time.Minute,
	}
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	invalid := func(msg string) error {
		return errors.WrapInvalid(fmt.Errorf("%w: %s", errors.ErrInvalidConfig, msg), "JetStreamConfig", "Validate", "check config")
	}
	switch {
	case c.Stream == "":
		return invalid("stream is required")
	case len(c.Subjects) == 0:
		return invalid("at least one subject is required")
	case c.Durable == "":
		return invalid("durable is required")
	case c.Batch < 0:
		return invalid("batch cannot be negative")
	case c.FetchMaxWait < 0 || c.AckWait < 0:
		return invalid("durations cannot be negative")
	}
	return nil
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Batch == 0 {
		c.Batch = d.Batch
	}
	if c.FetchMaxWait == 0 {
		c.FetchMaxWait = d.FetchMaxWait
	}
	if c.AckWait == 0 {
		c.AckWait = d.AckWait
	}
	return c
}
