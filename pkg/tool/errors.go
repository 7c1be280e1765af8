package tool

import (
	"fmt"
	"time"
)

// NotFoundError reports a tool name that is not registered. Callers branch on
// this type to distinguish "missing tool" from "bad config".
type NotFoundError struct {
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("tool not found: %s", e.Name)
}

// ConfigurationError reports invalid options detected at setup, before any
// concurrent work starts.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s", e.Reason)
}

// ExecutionError wraps a failure raised inside one tool's execution. The
// dispatcher converts it to a failed Response; it never aborts the batch.
type ExecutionError struct {
	Tool string
	Err  error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("tool %s failed: %v", e.Tool, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// SubAgentTimeoutError reports that a sub-agent did not reply within the
// configured max wait. Terminal for that call, never retried.
type SubAgentTimeoutError struct {
	Assistant string
	MaxWait   time.Duration
}

func (e *SubAgentTimeoutError) Error() string {
	return fmt.Sprintf(
		"sub-agent %s did not reply within %s; raise max_wait if its runs legitimately take longer",
		e.Assistant, e.MaxWait,
	)
}
