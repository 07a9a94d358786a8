// Package health provides composable probes for the ops listener.
//
// [Fixed] is static, [All] ANDs probes together and [CheckFunc] adapts a
// plain function. [Latch] starts failing and passes once opened, which is
// how a rewrite run reports that its build directory has been scanned.
package health
