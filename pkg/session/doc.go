// Package session persists conversation state in SQLite: per-session turn
// history, remembered sub-agent chat ids, and turn outcomes. The store also
// backs the agent loop's History and the sub-agent guard's ChatMemory.
package session
