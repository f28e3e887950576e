package topology

import (
	"encoding/json"
	"fmt"
	"slices"

	"github.com/c360/semtopo/component"
	"github.com/c360/semtopo/errors"
	"github.com/c360/semtopo/grouping"
	"github.com/c360/semtopo/tuple"
)

// StageKind distinguishes sources from transforms.
type StageKind int

const (
	// KindSource stages read from an external stream.
	KindSource StageKind = iota + 1
	// KindTransform stages consume records from upstream stages.
	KindTransform
)

// String returns the string representation of StageKind
func (k StageKind) String() string {
	switch k {
	case KindSource:
		return "source"
	case KindTransform:
		return "transform"
	default:
		return "unknown"
	}
}

// StageDeclaration describes one stage. Exactly one of Source or Transform is
// set, matching Kind. When OutputFields is nil it is taken from a probe
// instance built by the factory.
//
// InputFields lists the fields a transform reads; when nil it is taken from
// a probe instance implementing component.InputDeclarer.
type StageDeclaration struct {
	Name         string
	Kind         StageKind
	Parallelism  int
	OutputFields []string
	InputFields  []string
	Source       component.SourceFactory
	Transform    component.TransformFactory
	Config       json.RawMessage
}

// Edge connects an upstream stage to a downstream stage.
type Edge struct {
	From     string
	To       string
	Grouping grouping.Grouping
}

// Graph is a validated topology.
type Graph struct {
	stages   map[string]StageDeclaration
	schemas  map[string]tuple.Schema
	order    []string
	inbound  map[string][]Edge
	outbound map[string][]Edge
}

// Declare validates stages and edges and returns the resulting graph.
func Declare(stages []StageDeclaration, edges []Edge) (*Graph, error) {
	var problems errors.ValidationErrors

	g := &Graph{
		stages:   make(map[string]StageDeclaration, len(stages)),
		schemas:  make(map[string]tuple.Schema, len(stages)),
		inbound:  make(map[string][]Edge),
		outbound: make(map[string][]Edge),
	}
	declared := make([]string, 0, len(stages))
	sources := 0

	for _, decl := range stages {
		if decl.Name == "" {
			problems.Addf("stage name cannot be empty")
			continue
		}
		if _, exists := g.stages[decl.Name]; exists {
			problems.Addf("stage %q already declared", decl.Name)
			continue
		}
		if decl.Parallelism < 1 {
			problems.Addf("stage %q: parallelism %d must be >= 1", decl.Name, decl.Parallelism)
		}
		switch decl.Kind {
		case KindSource:
			sources++
			if decl.Source == nil {
				problems.Addf("source %q has no factory", decl.Name)
			}
		case KindTransform:
			if decl.Transform == nil {
				problems.Addf("transform %q has no factory", decl.Name)
			}
		default:
			problems.Addf("stage %q has unknown kind %d", decl.Name, decl.Kind)
		}

		decl.OutputFields = slices.Clone(resolveFields(decl))
		decl.InputFields = slices.Clone(resolveInputs(decl))
		schema, err := tuple.NewSchema(decl.OutputFields...)
		if err != nil {
			problems.Addf("stage %q output fields: %v", decl.Name, err)
		}
		decl.Config = slices.Clone(decl.Config)
		g.stages[decl.Name] = decl
		g.schemas[decl.Name] = schema
		declared = append(declared, decl.Name)
	}
	if len(stages) > 0 && sources == 0 {
		problems.Addf("topology has no source stage")
	}

	type pair struct{ from, to string }
	seen := make(map[pair]bool, len(edges))
	for _, e := range edges {
		from, okFrom := g.stages[e.From]
		to, okTo := g.stages[e.To]
		if !okFrom {
			problems.Addf("edge %s -> %s: unknown upstream stage %q", e.From, e.To, e.From)
		}
		if !okTo {
			problems.Addf("edge %s -> %s: unknown downstream stage %q", e.From, e.To, e.To)
		}
		if !okFrom || !okTo {
			continue
		}
		if to.Kind == KindSource {
			problems.Addf("edge %s -> %s: sources cannot have inbound edges", e.From, e.To)
			continue
		}
		if seen[pair{e.From, e.To}] {
			problems.Addf("edge %s -> %s declared more than once", e.From, e.To)
			continue
		}
		seen[pair{e.From, e.To}] = true
		if e.Grouping == nil {
			problems.Addf("edge %s -> %s has no grouping", e.From, e.To)
			continue
		}

		upstream := g.schemas[from.Name]
		for _, f := range e.Grouping.RequiredFields() {
			if !upstream.Contains(f) {
				problems.Addf("edge %s -> %s: %s grouping field %q not in upstream fields %v",
					e.From, e.To, e.Grouping.Name(), f, upstream.Fields())
			}
		}
		for _, f := range to.InputFields {
			if !upstream.Contains(f) {
				problems.Addf("edge %s -> %s: stage %q reads field %q not in upstream fields %v",
					e.From, e.To, e.To, f, upstream.Fields())
			}
		}
		if to.Parallelism >= 1 {
			if err := e.Grouping.Validate(to.Parallelism); err != nil {
				problems.Addf("edge %s -> %s: %v", e.From, e.To, err)
			}
		}

		g.outbound[e.From] = append(g.outbound[e.From], e)
		g.inbound[e.To] = append(g.inbound[e.To], e)
	}

	for _, name := range declared {
		if g.stages[name].Kind == KindTransform && len(g.inbound[name]) == 0 {
			problems.Addf("transform %q has no inbound edge", name)
		}
	}

	order, cyclic := g.sort(declared)
	if len(cyclic) > 0 {
		problems.Addf("cycle detected among stages %v", cyclic)
	}
	g.order = order

	if err := problems.Err(); err != nil {
		return nil, err
	}
	return g, nil
}

func resolveFields(decl StageDeclaration) []string {
	if decl.OutputFields != nil {
		return decl.OutputFields
	}
	switch {
	case decl.Kind == KindSource && decl.Source != nil:
		if s := decl.Source(); s != nil {
			return s.OutputFields()
		}
	case decl.Kind == KindTransform && decl.Transform != nil:
		if t := decl.Transform(); t != nil {
			return t.OutputFields()
		}
	}
	return nil
}

func resolveInputs(decl StageDeclaration) []string {
	if decl.InputFields != nil || decl.Kind != KindTransform || decl.Transform == nil {
		return decl.InputFields
	}
	if d, ok := decl.Transform().(component.InputDeclarer); ok {
		return d.InputFields()
	}
	return nil
}

// sort orders stages topologically with Kahn's algorithm, keeping
// declaration order among ready stages. Stages left over are on a cycle.
func (g *Graph) sort(declared []string) (order, cyclic []string) {
	indegree := make(map[string]int, len(declared))
	for _, name := range declared {
		indegree[name] = len(g.inbound[name])
	}

	ready := make([]string, 0, len(declared))
	for _, name := range declared {
		if indegree[name] == 0 {
			ready = append(ready, name)
		}
	}

	order = make([]string, 0, len(declared))
	for len(ready) > 0 {
		name := ready[0]
		ready = ready[1:]
		order = append(order, name)
		for _, e := range g.outbound[name] {
			indegree[e.To]--
			if indegree[e.To] == 0 {
				ready = append(ready, e.To)
			}
		}
	}

	for _, name := range declared {
		if indegree[name] > 0 {
			cyclic = append(cyclic, name)
		}
	}
	return order, cyclic
}

// Order returns stage names in topological order.
func (g *Graph) Order() []string {
	return slices.Clone(g.order)
}

// Stage returns the declaration of name.
func (g *Graph) Stage(name string) (StageDeclaration, bool) {
	decl, ok := g.stages[name]
	if !ok {
		return StageDeclaration{}, false
	}
	decl.OutputFields = slices.Clone(decl.OutputFields)
	decl.InputFields = slices.Clone(decl.InputFields)
	decl.Config = slices.Clone(decl.Config)
	return decl, true
}

// Stages returns every declaration in topological order.
func (g *Graph) Stages() []StageDeclaration {
	out := make([]StageDeclaration, 0, len(g.order))
	for _, name := range g.order {
		decl, _ := g.Stage(name)
		out = append(out, decl)
	}
	return out
}

// Schema returns the output schema of name.
func (g *Graph) Schema(name string) (tuple.Schema, bool) {
	s, ok := g.schemas[name]
	return s, ok
}

// Inbound returns the edges into name.
func (g *Graph) Inbound(name string) []Edge {
	return slices.Clone(g.inbound[name])
}

// Outbound returns the edges out of name.
func (g *Graph) Outbound(name string) []Edge {
	return slices.Clone(g.outbound[name])
}

// Sources returns the names of source stages in topological order.
func (g *Graph) Sources() []string {
	var out []string
	for _, name := range g.order {
		if g.stages[name].Kind == KindSource {
			out = append(out, name)
		}
	}
	return out
}

// String summarizes the graph for logs.
func (g *Graph) String() string {
	return fmt.Sprintf("topology(%d stages: %v)", len(g.order), g.order)
}
