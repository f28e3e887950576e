package grouping

import (
	"fmt"
	"maps"
	"slices"

	"github.com/c360/semtopo/errors"
	"github.com/c360/semtopo/tuple"
)

// Table routes records whose field value appears in table to the mapped
// instance. Other records are routed by fallback, which defaults to
// Fields(field) when nil.
func Table(field string, table map[string]int, fallback Grouping) Grouping {
	if fallback == nil {
		fallback = Fields(field)
	}
	return tableGrouping{field: field, table: maps.Clone(table), fallback: fallback}
}

type tableGrouping struct {
	field    string
	table    map[string]int
	fallback Grouping
}

func (t tableGrouping) Name() string { return fmt.Sprintf("table[%s]", t.field) }

func (t tableGrouping) RequiredFields() []string {
	req := []string{t.field}
	for _, f := range t.fallback.RequiredFields() {
		if !slices.Contains(req, f) {
			req = append(req, f)
		}
	}
	return req
}

func (t tableGrouping) Validate(parallelism int) error {
	if err := checkParallelism(parallelism); err != nil {
		return err
	}
	keys := slices.Sorted(maps.Keys(t.table))
	for _, k := range keys {
		if idx := t.table[k]; idx < 0 || idx >= parallelism {
			return errors.Validationf("table grouping on %q maps key %q to instance %d, outside [0, %d)",
				t.field, k, idx, parallelism)
		}
	}
	return t.fallback.Validate(parallelism)
}

func (t tableGrouping) Route(rec tuple.Record, parallelism int, dst []int) ([]int, error) {
	return t.route(t.fallback, rec, parallelism, dst)
}

func (t tableGrouping) NewRouter(seed uint64) Router {
	return &tableRouter{table: t, fallback: t.fallback.NewRouter(seed)}
}

func (t tableGrouping) route(fallback Router, rec tuple.Record, parallelism int, dst []int) ([]int, error) {
	if err := checkParallelism(parallelism); err != nil {
		return dst, err
	}
	v, ok := rec.Get(t.field)
	if !ok {
		return dst, errors.Routing("", -1, fmt.Errorf("%w: grouping key %q", errors.ErrUnknownField, t.field))
	}
	idx, ok := t.table[v.String()]
	if !ok {
		return fallback.Route(rec, parallelism, dst)
	}
	if idx < 0 || idx >= parallelism {
		return dst, errors.Routing("", -1, fmt.Errorf("table maps %q to instance %d but parallelism is %d",
			v.String(), idx, parallelism))
	}
	return append(dst, idx), nil
}

type tableRouter struct {
	table    tableGrouping
	fallback Router
}

func (r *tableRouter) Route(rec tuple.Record, parallelism int, dst []int) ([]int, error) {
	return r.table.route(r.fallback, rec, parallelism, dst)
}
