// Package toolmanager decides which tools are available for a turn and
// dispatches the model's requested tool calls.
//
// Invariants:
// - One exclusive, forced tool wins the whole turn.
// - Dispatch results preserve (deduplicated, capped) request order regardless
//   of execution interleaving.
// - A failure inside one call never cancels or corrupts sibling calls.
package toolmanager
