// Package random provides a demo source emitting words picked at random from
// a fixed list at a steady rate.
package random

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"golang.org/x/time/rate"

	"github.com/c360/semtopo/component"
	"github.com/c360/semtopo/errors"
	"github.com/c360/semtopo/tuple"
)

// OriginField is the output field carrying the picked word.
const OriginField = "originName"

// DefaultWords is the list words are picked from when none is configured.
var DefaultWords = []string{"Hadoop", "Storm", "Apache", "Linux", "Nginx", "Tomcat", "Spark"}

// Config configures the random word source.
type Config struct {
	Words []string `json:"words" yaml:"words"`
	// Interval is the pause between two emissions of one task instance.
	Interval time.Duration `json:"interval" yaml:"interval"`
	// Limit stops emitting after this many records per instance. 0 is unlimited.
	Limit int `json:"limit" yaml:"limit"`
	// Seed makes the picks reproducible. 0 seeds from the clock.
	Seed uint64 `json:"seed" yaml:"seed"`
}

// DefaultConfig returns one word every 500ms from DefaultWords.
func DefaultConfig() Config {
	return Config{Words: DefaultWords, Interval: 500 * time.Millisecond}
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	switch {
	case c.Interval < 0:
		return errors.WrapInvalid(fmt.Errorf("%w: interval cannot be negative", errors.ErrInvalidConfig),
			"RandomConfig", "Validate", "check config")
	case c.Limit < 0:
		return errors.WrapInvalid(fmt.Errorf("%w: limit cannot be negative", errors.ErrInvalidConfig),
			"RandomConfig", "Validate", "check config")
	}
	for i, w := range c.Words {
		if w == "" {
			return errors.WrapInvalid(fmt.Errorf("%w: word %d is empty", errors.ErrInvalidConfig, i),
				"RandomConfig", "Validate", "check config")
		}
	}
	return nil
}

// maxWait bounds one Next call while the limiter holds back the next record.
const maxWait = 100 * time.Millisecond

// Source emits one random word per interval.
type Source struct {
	cfg     Config
	limiter *rate.Limiter
	rng     *rand.Rand
	seq     uint64
	log     *slog.Logger

	emitted int
	acked   int
	failed  int
}

// NewFactory returns a factory for random word sources.
func NewFactory(cfg Config) (component.SourceFactory, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(cfg.Words) == 0 {
		cfg.Words = DefaultWords
	}
	return func() component.Source { return &Source{cfg: cfg} }, nil
}

// OutputFields implements component.Source.
func (s *Source) OutputFields() []string { return []string{OriginField} }

// Open implements component.Source.
func (s *Source) Open(_ context.Context, tc component.TaskContext) error {
	limit := rate.Inf
	if s.cfg.Interval > 0 {
		limit = rate.Every(s.cfg.Interval)
	}
	s.limiter = rate.NewLimiter(limit, 1)

	seed := s.cfg.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	s.rng = rand.New(rand.NewPCG(seed, uint64(tc.Instance)))
	s.log = tc.Log()
	return nil
}

// Next implements component.Source.
func (s *Source) Next(ctx context.Context) (component.Emission, error) {
	if s.cfg.Limit > 0 && s.emitted >= s.cfg.Limit {
		return component.Emission{}, s.idle(ctx, maxWait)
	}

	res := s.limiter.Reserve()
	if delay := res.Delay(); delay > 0 {
		if delay > maxWait {
			res.Cancel()
			return component.Emission{}, s.idle(ctx, maxWait)
		}
		if err := s.idle(ctx, delay); err != component.ErrEmpty {
			res.Cancel()
			return component.Emission{}, err
		}
	}

	s.seq++
	s.emitted++
	word := s.cfg.Words[s.rng.IntN(len(s.cfg.Words))]
	return component.Emission{
		Values: []tuple.Value{tuple.String(word)},
		MsgID:  s.seq,
	}, nil
}

// idle waits for d or ctx and reports that nothing was emitted.
func (s *Source) idle(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return component.ErrEmpty
	}
}

// Ack implements component.Source.
func (s *Source) Ack(any) { s.acked++ }

// Fail implements component.Source.
func (s *Source) Fail(msgID any) {
	s.failed++
	s.log.Debug("Word timed out", "seq", msgID)
}

// Close implements component.Source.
func (s *Source) Close() error {
	if s.log != nil {
		s.log.Info("Random source closed", "emitted", s.emitted, "acked", s.acked, "failed", s.failed)
	}
	return nil
}
