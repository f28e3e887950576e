// Package grouping implements the policies that pick which downstream task
// instances receive a record.
//
// Every policy answers one question: given a record and the parallelism of
// the receiving stage, which instance indexes get it. Shuffle balances load,
// Fields keeps equal keys on one instance, All broadcasts, Global sends
// everything to instance 0 and Table pins known keys to explicit instances.
//
// A Grouping is shared by the whole topology and safe for concurrent use.
// Emitters that route at high rates should take their own Router from
// NewRouter so that no state is shared between them.
package grouping
