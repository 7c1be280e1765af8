// Package tool defines the contract every callable capability exposes to the
// orchestrator, the registry that maps tool names to constructors, and the
// concrete variants that do not need their own package (handler-backed
// internal tools, provider builtins, and MCP-bridged tools).
//
// Invariants:
// - Registration is last-writer-wins by name; overwriting is not an error.
// - Resolve/Build/BuildConfig fail with *NotFoundError for unknown names,
//   never with a generic error.
// - A Tool instance lives for one conversational turn and is owned by the
//   manager that built it.
package tool
