package testutil

import "strings"

// Sentences are sample source lines for word split topologies.
var Sentences = []string{
	"a b a",
	"the quick brown fox",
	"jumps over the lazy dog",
	"the dog sleeps",
}

func splitFields(s string) []string {
	return strings.Fields(s)
}
