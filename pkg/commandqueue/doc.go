// Package commandqueue provides lane-based task execution with FIFO ordering
// per lane. Each conversation session gets its own single-slot lane, which
// serializes turns for that session while keeping sessions independent.
//
// Invariants:
// - Tasks in the same lane execute in FIFO order.
// - Tasks in different lanes may execute concurrently.
// - Queue activity is observable through enqueued/completed events and metrics.
package commandqueue
