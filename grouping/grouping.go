package grouping

import (
	"fmt"
	"math/rand/v2"
	"slices"

	"github.com/cespare/xxhash/v2"

	"github.com/c360/semtopo/errors"
	"github.com/c360/semtopo/tuple"
)

// Router selects receiving instances for records. A Router returned by
// NewRouter is owned by one emitter and is not safe for concurrent use.
type Router interface {
	// Route appends the selected instance indexes in [0, parallelism) to dst.
	Route(rec tuple.Record, parallelism int, dst []int) ([]int, error)
}

// Grouping is a routing policy declared on a topology edge.
type Grouping interface {
	Router
	// Name identifies the policy in logs and errors.
	Name() string
	// RequiredFields lists the upstream fields the policy reads.
	RequiredFields() []string
	// Validate checks the policy against the receiving stage's parallelism.
	Validate(parallelism int) error
	// NewRouter returns a single-owner router seeded with seed.
	NewRouter(seed uint64) Router
}

func checkParallelism(parallelism int) error {
	if parallelism < 1 {
		return errors.Routing("", -1, fmt.Errorf("%w: got %d", errors.ErrInvalidParallelism, parallelism))
	}
	return nil
}

// Shuffle distributes records evenly and pseudo-randomly.
func Shuffle() Grouping { return shuffle{} }

type shuffle struct{}

func (shuffle) Name() string { return "shuffle" }
func (shuffle) RequiredFields() []string { return nil }
func (shuffle) Validate(parallelism int) error { return checkParallelism(parallelism) }

func (shuffle) Route(_ tuple.Record, parallelism int, dst []int) ([]int, error) {
	if err := checkParallelism(parallelism); err != nil {
		return dst, err
	}
	if parallelism == 1 {
		return append(dst, 0), nil
	}
	return append(dst, rand.IntN(parallelism)), nil
}

func (shuffle) NewRouter(seed uint64) Router {
	return &shuffleRouter{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// shuffleRouter deals instance indexes from a permutation that is reshuffled
// once exhausted, so every window of parallelism records covers each
// instance exactly once.
type shuffleRouter struct {
	rng  *rand.Rand
	perm []int
	next int
}

func (s *shuffleRouter) Route(_ tuple.Record, parallelism int, dst []int) ([]int, error) {
	if err := checkParallelism(parallelism); err != nil {
		return dst, err
	}
	if parallelism == 1 {
		return append(dst, 0), nil
	}
	if len(s.perm) != parallelism {
		s.perm = make([]int, parallelism)
		for i := range s.perm {
			s.perm[i] = i
		}
		s.next = parallelism
	}
	if s.next >= parallelism {
		s.rng.Shuffle(parallelism, func(i, j int) { s.perm[i], s.perm[j] = s.perm[j], s.perm[i] })
		s.next = 0
	}
	idx := s.perm[s.next]
	s.next++
	return append(dst, idx), nil
}

// Fields routes by a hash of the named key fields, so records with equal key
// values always reach the same instance.
func Fields(keys ...string) Grouping {
	return fields{keys: slices.Clone(keys)}
}

type fields struct {
	keys []string
}

func (f fields) Name() string { return fmt.Sprintf("fields%v", f.keys) }
func (f fields) RequiredFields() []string { return slices.Clone(f.keys) }

func (f fields) Validate(parallelism int) error {
	if len(f.keys) == 0 {
		return errors.Validationf("fields grouping needs at least one key")
	}
	return checkParallelism(parallelism)
}

func (f fields) Route(rec tuple.Record, parallelism int, dst []int) ([]int, error) {
	return f.route(rec, parallelism, dst, nil)
}

func (f fields) NewRouter(uint64) Router {
	return &fieldsRouter{fields: f}
}

func (f fields) route(rec tuple.Record, parallelism int, dst []int, buf *[]byte) ([]int, error) {
	if err := checkParallelism(parallelism); err != nil {
		return dst, err
	}
	var key []byte
	if buf != nil {
		key = (*buf)[:0]
	}
	for _, name := range f.keys {
		v, ok := rec.Get(name)
		if !ok {
			return dst, errors.Routing("", -1, fmt.Errorf("%w: grouping key %q", errors.ErrUnknownField, name))
		}
		key = v.AppendKey(key)
	}
	if buf != nil {
		*buf = key
	}
	if parallelism == 1 {
		return append(dst, 0), nil
	}
	return append(dst, int(xxhash.Sum64(key)%uint64(parallelism))), nil
}

type fieldsRouter struct {
	fields fields
	buf    []byte
}

func (r *fieldsRouter) Route(rec tuple.Record, parallelism int, dst []int) ([]int, error) {
	return r.fields.route(rec, parallelism, dst, &r.buf)
}

// All broadcasts every record to every instance.
func All() Grouping { return all{} }

type all struct{}

func (all) Name() string { return "all" }
func (all) RequiredFields() []string { return nil }
func (all) Validate(parallelism int) error { return checkParallelism(parallelism) }
func (a all) NewRouter(uint64) Router { return a }

func (all) Route(_ tuple.Record, parallelism int, dst []int) ([]int, error) {
	if err := checkParallelism(parallelism); err != nil {
		return dst, err
	}
	for i := 0; i < parallelism; i++ {
		dst = append(dst, i)
	}
	return dst, nil
}

// Global sends every record to instance 0.
func Global() Grouping { return global{} }

type global struct{}

func (global) Name() string { return "global" }
func (global) RequiredFields() []string { return nil }
func (global) Validate(parallelism int) error { return checkParallelism(parallelism) }
func (g global) NewRouter(uint64) Router { return g }

func (global) Route(_ tuple.Record, parallelism int, dst []int) ([]int, error) {
	if err := checkParallelism(parallelism); err != nil {
		return dst, err
	}
	return append(dst, 0), nil
}
