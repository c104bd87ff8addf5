// Package debug provides cheap invariant checks that panic in
// development builds and collapse to no-ops in production, gated by a
// single switch.
/*
 * Copyright (c) 2024, Mokuro Reader Project.
 */
package debug

import "os"

// Enabled is on when MOKURO_DEBUG is set; keep it a var (not a const) so
// tests can flip it without rebuilding.
var Enabled = os.Getenv("MOKURO_DEBUG") != ""

// Assert panics with msg when cond is false and debug checks are enabled.
func Assert(cond bool, msg ...interface{}) {
	if !Enabled || cond {
		return
	}
	if len(msg) == 0 {
		panic("assertion failed")
	}
	panic(msg[0])
}

// AssertNoErr asserts a nil-error invariant, not an error the caller
// handles.
func AssertNoErr(err error) {
	Assert(err == nil, err)
}
