// Package tuple defines the record model that flows between topology stages.
//
// A Record is an immutable, ordered list of primitive values whose field
// names are given by the producing stage's Schema. Records carry an identity
// (ID), the name of the stage that produced them (Source) and the delivery
// Lineage used by the at-least-once tracker.
//
// Records are copied by value between stages inside one worker. When a record
// crosses a worker boundary it is encoded with Marshal and decoded with
// Unmarshal, which use msgpack on the wire.
package tuple
