// Package subagent implements the A2A tool variant: a tool that forwards a
// synthesized user message to another, independently hosted agent session and
// waits for its reply.
//
// Invariants:
// - Sequence numbers are strictly increasing per assistant, regardless of
//   call interleaving or remote latency.
// - When session reuse is on, the session lock is held across the remote
//   call; when it is off, no locking happens at all (accepted relaxation for
//   stateless sub-agents).
// - A remembered remote chat id is written first-writer-wins and never
//   overwritten.
package subagent
