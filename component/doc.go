// Package component defines the contracts implemented by topology stages.
//
// A topology is built from one Source stage and any number of Transform
// stages. Each stage is replicated into task instances; every instance gets a
// fresh value from the stage's factory and a TaskContext naming its stage,
// instance index and worker.
//
// Sources are polled by the engine:
//
//	type ticker struct{ n int64 }
//
//	func (t *ticker) Next(ctx context.Context) (component.Emission, error) {
//	    t.n++
//	    return component.Emission{Values: []tuple.Value{tuple.Int(t.n)}, MsgID: t.n}, nil
//	}
//
// Transforms receive one record at a time and emit through a Collector:
//
//	func (u *upper) Process(ctx context.Context, rec tuple.Record, out component.Collector) error {
//	    name, err := rec.GetString("originName")
//	    if err != nil {
//	        return err
//	    }
//	    return out.Emit(tuple.String(strings.ToUpper(name)))
//	}
//
// An instance is never called concurrently with itself. Its lifecycle is
// tracked with State.
package component
