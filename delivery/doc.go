// Package delivery tracks delivery units for at-least-once processing.
//
// A delivery unit is the tree of records derived from one source record.
// The tracker keeps one 64-bit ledger per unit. Every delivery of a record to
// a task instance is identified by a random edge id; the source registers the
// XOR of the edge ids of its initial deliveries, and every transform, after
// processing a record successfully, acks the XOR of that record's edge id
// and the edge ids of the deliveries it emitted. Each edge id therefore
// enters the ledger exactly twice, and the ledger returns to zero once the
// whole tree has been processed.
//
// A unit completes at most once. Units not completed within Timeout are
// removed and reported as timed out to their owner, which replays the root
// record under a new unit. Acks that arrive for a unit that already
// completed, timed out or was discarded are ignored.
//
// The unit table is split into shards with their own locks. A single
// goroutine sweeps all shards every Timeout/4.
package delivery
