// Package file provides the terminal file sink of the demo topologies.
//
// Every task instance opens its own file in Config.Directory, named by
// FilePrefix followed by a random uuid, and writes one line per record:
// either the selected field (raw format) or a JSON object holding the record
// ID and all fields (jsonl format). Each line is flushed before Process
// returns.
//
// Records replayed after a delivery timeout carry the same IDs as the first
// attempt. The writer remembers the last DedupeSize IDs in an LRU cache and
// skips records it already wrote, so a replay does not duplicate lines as
// long as the earlier attempt is still in the cache.
//
// The cache belongs to one task instance and starts empty after a restart.
// A replay only reaches the same instance when the writer is grouped by a
// field whose value the replay reproduces, such as Fields on "word" after a
// split. Behind Shuffle a replay may land on another instance and be written
// twice.
//
// Write failures are fatal: the engine reports them as processing errors and
// applies the topology's error policy.
//
// Example:
//
//	factory, err := file.NewFactory(file.Config{
//		Directory:  "/var/lib/semtopo/out",
//		Field:      "suffixName",
//		DedupeSize: 4096,
//	})
//	b.SetTransform("writer", factory, 2).Fields("suffix", "suffixName")
package file
