package topology

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/c360/semtopo/component"
	pkgerrors "github.com/c360/semtopo/errors"
	"github.com/c360/semtopo/grouping"
)

// Builder assembles a graph declaration by declaration. Errors are collected
// and reported by Build.
type Builder struct {
	stages   []StageDeclaration
	edges    []Edge
	declared map[string]bool
	problems pkgerrors.ValidationErrors
}

// NewBuilder creates an empty builder.
func NewBuilder() *Builder {
	return &Builder{declared: make(map[string]bool)}
}

// SourceDeclarer configures a source added with SetSource.
type SourceDeclarer struct {
	b   *Builder
	idx int
}

// TransformDeclarer configures a transform added with SetTransform.
type TransformDeclarer struct {
	b   *Builder
	idx int
}

// SetSource declares a source stage.
func (b *Builder) SetSource(name string, factory component.SourceFactory, parallelism int) *SourceDeclarer {
	b.stages = append(b.stages, StageDeclaration{
		Name:        name,
		Kind:        KindSource,
		Parallelism: parallelism,
		Source:      factory,
	})
	b.declared[name] = true
	return &SourceDeclarer{b: b, idx: len(b.stages) - 1}
}

// SetTransform declares a transform stage. Its inputs are added with the
// grouping methods of the returned declarer.
func (b *Builder) SetTransform(name string, factory component.TransformFactory, parallelism int) *TransformDeclarer {
	b.stages = append(b.stages, StageDeclaration{
		Name:        name,
		Kind:        KindTransform,
		Parallelism: parallelism,
		Transform:   factory,
	})
	b.declared[name] = true
	return &TransformDeclarer{b: b, idx: len(b.stages) - 1}
}

// Config attaches a stage config.
func (d *SourceDeclarer) Config(cfg json.RawMessage) *SourceDeclarer {
	d.b.stages[d.idx].Config = cfg
	return d
}

// Fields overrides the declared output fields.
func (d *SourceDeclarer) Fields(fields ...string) *SourceDeclarer {
	d.b.stages[d.idx].OutputFields = fields
	return d
}

// Config attaches a stage config.
func (d *TransformDeclarer) Config(cfg json.RawMessage) *TransformDeclarer {
	d.b.stages[d.idx].Config = cfg
	return d
}

// Output overrides the declared output fields.
func (d *TransformDeclarer) Output(fields ...string) *TransformDeclarer {
	d.b.stages[d.idx].OutputFields = fields
	return d
}

// Grouping subscribes the transform to upstream with g. Upstream must
// already be declared.
func (d *TransformDeclarer) Grouping(upstream string, g grouping.Grouping) *TransformDeclarer {
	to := d.b.stages[d.idx].Name
	if !d.b.declared[upstream] || upstream == to {
		d.b.problems = append(d.b.problems,
			fmt.Errorf("stage %q reads from %q, which is not declared before it", to, upstream))
		return d
	}
	d.b.edges = append(d.b.edges, Edge{From: upstream, To: to, Grouping: g})
	return d
}

// Shuffle subscribes with a shuffle grouping.
func (d *TransformDeclarer) Shuffle(upstream string) *TransformDeclarer {
	return d.Grouping(upstream, grouping.Shuffle())
}

// Fields subscribes with a fields grouping on keys.
func (d *TransformDeclarer) Fields(upstream string, keys ...string) *TransformDeclarer {
	return d.Grouping(upstream, grouping.Fields(keys...))
}

// All subscribes with a broadcast grouping.
func (d *TransformDeclarer) All(upstream string) *TransformDeclarer {
	return d.Grouping(upstream, grouping.All())
}

// Global subscribes with a global grouping.
func (d *TransformDeclarer) Global(upstream string) *TransformDeclarer {
	return d.Grouping(upstream, grouping.Global())
}

// Table subscribes with an explicit key to instance table.
func (d *TransformDeclarer) Table(upstream, field string, table map[string]int) *TransformDeclarer {
	return d.Grouping(upstream, grouping.Table(field, table, nil))
}

// Build validates the declarations and returns the graph.
func (b *Builder) Build() (*Graph, error) {
	g, err := Declare(b.stages, b.edges)
	if len(b.problems) == 0 {
		return g, err
	}
	problems := append(pkgerrors.ValidationErrors{}, b.problems...)
	var declErrs pkgerrors.ValidationErrors
	if err != nil {
		if errors.As(err, &declErrs) {
			problems = append(problems, declErrs...)
		} else {
			problems = append(problems, err)
		}
	}
	return nil, problems.Err()
}
