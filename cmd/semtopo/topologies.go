package main

import (
	"fmt"

	"github.com/c360/semtopo/config"
	"github.com/c360/semtopo/engine"
	"github.com/c360/semtopo/input/jetstream"
	"github.com/c360/semtopo/input/kafka"
	"github.com/c360/semtopo/input/random"
	"github.com/c360/semtopo/metric"
	"github.com/c360/semtopo/natsclient"
	"github.com/c360/semtopo/output/file"
	"github.com/c360/semtopo/processor/split"
	"github.com/c360/semtopo/processor/suffix"
	"github.com/c360/semtopo/processor/upper"
	"github.com/c360/semtopo/topology"
)

// defaultWorkers is the worker count of every demo when the config sets none.
const defaultWorkers = 4

// Stage names shared by the demo graphs.
const (
	stageKafka     = "kafka"
	stageJetStream = "jetstream"
	stageRandom    = "random"
	stageSplit     = "split"
	stageUpper     = "upper"
	stageSuffix    = "suffix"
	stageWriter    = "writer"
)

// dependencies are the shared clients the graphs may need.
type dependencies struct {
	registry *metric.MetricsRegistry
	nats     *natsclient.Client
}

// healthOptions folds the state of shared connections into topology health.
func (d dependencies) healthOptions() []engine.Option {
	if d.nats == nil {
		return nil
	}
	return []engine.Option{engine.WithDependencyHealth(d.nats.Health)}
}

// buildTopology returns the graph and placement for cfg.Topology.Kind.
func buildTopology(cfg *config.Config, deps dependencies) (*topology.Graph, engine.Placement, error) {
	placement := clonePlacement(cfg.Placement)
	if placement.Workers == 0 {
		placement.Workers = defaultWorkers
	}

	b := topology.NewBuilder()
	var err error
	switch cfg.Topology.Kind {
	case config.KindKafkaWordSplit:
		err = kafkaWordSplit(b, cfg, deps)
	case config.KindJetStreamWordSplit:
		err = jetStreamWordSplit(b, cfg, deps)
	case config.KindRandomSuffix:
		err = randomSuffix(b, cfg, &placement)
	default:
		err = fmt.Errorf("unknown topology kind %q", cfg.Topology.Kind)
	}
	if err != nil {
		return nil, engine.Placement{}, err
	}

	g, err := b.Build()
	if err != nil {
		return nil, engine.Placement{}, err
	}
	return g, placement, nil
}

func kafkaWordSplit(b *topology.Builder, cfg *config.Config, deps dependencies) error {
	var opts []kafka.Option
	if deps.registry != nil {
		opts = append(opts, kafka.WithMetricsRegistry(deps.registry))
	}
	source, err := kafka.NewFactory(cfg.KafkaSource(), opts...)
	if err != nil {
		return err
	}
	b.SetSource(stageKafka, source, cfg.ParallelismOf(stageKafka, 1))
	return wordSplit(b, cfg, stageKafka, kafka.MessageField)
}

func jetStreamWordSplit(b *topology.Builder, cfg *config.Config, deps dependencies) error {
	source, err := jetstream.NewFactory(deps.nats, cfg.JetStreamSource())
	if err != nil {
		return err
	}
	b.SetSource(stageJetStream, source, cfg.ParallelismOf(stageJetStream, 1))
	return wordSplit(b, cfg, stageJetStream, jetstream.MessageField)
}

// wordSplit wires upstream -> split -> writer, routing words by value so each
// writer instance owns a disjoint set of words.
func wordSplit(b *topology.Builder, cfg *config.Config, upstream, field string) error {
	b.SetTransform(stageSplit, split.New(split.Config{InputField: field}),
		cfg.ParallelismOf(stageSplit, 1)).
		Shuffle(upstream)

	out := cfg.Output
	if out.Field == "" {
		out.Field = split.WordField
	}
	writer, err := file.NewFactory(out)
	if err != nil {
		return err
	}
	b.SetTransform(stageWriter, writer, cfg.ParallelismOf(stageWriter, defaultWorkers)).
		Fields(stageSplit, split.WordField)
	return nil
}

// randomSuffix wires random -> upper -> suffix -> writer. The source runs
// eight tasks on four executors unless the placement says otherwise.
func randomSuffix(b *topology.Builder, cfg *config.Config, placement *engine.Placement) error {
	source, err := random.NewFactory(cfg.RandomSource())
	if err != nil {
		return err
	}
	b.SetSource(stageRandom, source, cfg.ParallelismOf(stageRandom, defaultWorkers))
	if _, ok := placement.Stages[stageRandom]; !ok {
		placement.Stages[stageRandom] = engine.StagePlacement{Tasks: 8, Executors: 4}
	}

	b.SetTransform(stageUpper, upper.New(upper.Config{}), cfg.ParallelismOf(stageUpper, defaultWorkers)).
		Shuffle(stageRandom)
	b.SetTransform(stageSuffix, suffix.New(suffix.Config{}), cfg.ParallelismOf(stageSuffix, defaultWorkers)).
		Shuffle(stageUpper)

	out := cfg.Output
	if out.Field == "" {
		out.Field = suffix.DefaultOutput
	}
	writer, err := file.NewFactory(out)
	if err != nil {
		return err
	}
	b.SetTransform(stageWriter, writer, cfg.ParallelismOf(stageWriter, defaultWorkers)).
		Shuffle(stageSuffix)
	return nil
}

func clonePlacement(p engine.Placement) engine.Placement {
	stages := make(map[string]engine.StagePlacement, len(p.Stages))
	for k, v := range p.Stages {
		stages[k] = v
	}
	p.Stages = stages
	return p
}
