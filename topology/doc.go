// Package topology declares and validates the routing graph of a stream topology.
//
// A graph is a set of stage declarations, each replicated into Parallelism
// task instances, connected by edges that carry a grouping policy. Declare
// validates the whole graph at once and reports every problem it finds in a
// single validation error; a Graph that was returned is immutable.
//
// Field names are checked at build time: grouping keys and the fields a
// transform reads (component.InputDeclarer) must appear in the output fields
// of every upstream stage feeding it.
//
// The Builder offers a fluent way to declare the same thing. Upstream stages
// must be declared before the stages reading from them, which makes every
// built graph acyclic:
//
//	b := topology.NewBuilder()
//	b.SetSource("kafka", kafka.Factory(cfg), 1)
//	b.SetTransform("split", split.Factory(), 2).Shuffle("kafka")
//	b.SetTransform("writer", file.Factory(), 4).Fields("split", "word")
//	g, err := b.Build()
package topology
