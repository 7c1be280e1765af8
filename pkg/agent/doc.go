// Package agent drives one conversational turn: a bounded plan/execute loop
// that repeatedly asks the model to plan, routes tool-call requests to the
// tool manager, and terminates on an empty response, a tool-free completion,
// or iteration exhaustion.
//
// Invariants:
// - Iterations are strictly sequential; only tool execution inside one
//   iteration fans out.
// - The loop never runs body logic for an iteration index equal to the cap.
// - Per-tool failures never abort the loop; planner failures do.
package agent
