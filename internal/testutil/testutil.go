// Package testutil holds helpers shared by package tests.
package testutil

import (
	"flag"
	"testing"
)

// RunLong enables the concurrency stress tests.
var RunLong = flag.Bool("long", false, "run long concurrency stress tests")

// RequireLong skips t unless the -long flag is set.
func RequireLong(t *testing.T) {
	t.Helper()
	if !*RunLong {
		t.Skip("skipping stress test (use -long to enable)")
	}
}
