// Package output renders trace lines and the end-of-run summary.
//
// Sink serializes whole lines from concurrent collectors so lines from
// different CPUs never interleave. Summary ranks the aggregate counters and
// writes the report block.
//
// Only trace output goes through this package; diagnostics go to the logger.
package output
