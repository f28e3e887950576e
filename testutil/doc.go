// Package testutil provides in-memory stages for topology tests.
//
// MockSource emits rows pushed by the test and records the Ack and Fail
// callbacks it receives. MockTransform runs a configurable Process function
// and reports every call to a shared Recorder, so a test can inspect which
// instance received which record:
//
//	rec := testutil.NewRecorder()
//	src := testutil.NewMockSource("msg")
//	src.Push(tuple.String("a b a"))
//
//	b := topology.NewBuilder()
//	b.SetSource("source", src.Factory(), 1)
//	b.SetTransform("sink", testutil.Sink(rec), 2).Shuffle("source")
//
// Every helper is safe for concurrent use.
package testutil
