package tool

import (
	"context"

	"github.com/rs/zerolog"
)

// Call is a single tool invocation requested by the model.
type Call struct {
	ID        string                 `json:"id"`
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

// Response is the outcome of executing exactly one Call. At most one Response
// exists per Call ID.
type Response struct {
	ID           string                 `json:"id"`
	Name         string                 `json:"name"`
	Content      string                 `json:"content,omitempty"`
	ErrorMessage string                 `json:"error_message,omitempty"`
	DebugInfo    map[string]interface{} `json:"debug_info,omitempty"`
}

// Successful reports whether the call completed without an error message.
func (r Response) Successful() bool {
	return r.ErrorMessage == ""
}

// SetDebug attaches a diagnostic key to the response, allocating the map on
// first use.
func (r *Response) SetDebug(key string, value interface{}) {
	if r.DebugInfo == nil {
		r.DebugInfo = make(map[string]interface{})
	}
	r.DebugInfo[key] = value
}

// Parameter describes one argument a tool accepts.
type Parameter struct {
	Name        string      `json:"name"`
	Type        string      `json:"type"`
	Description string      `json:"description"`
	Required    bool        `json:"required"`
	Default     interface{} `json:"default,omitempty"`
}

// Definition is the model-facing description of a tool.
type Definition struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Parameters  []Parameter `json:"parameters,omitempty"`
}

// InputSchema renders the definition's parameters as a JSON Schema object,
// the shape every provider adapter expects.
func (d Definition) InputSchema() map[string]interface{} {
	properties := make(map[string]interface{})
	required := []string{}

	for _, param := range d.Parameters {
		prop := map[string]interface{}{
			"type":        param.Type,
			"description": param.Description,
		}
		if param.Default != nil {
			prop["default"] = param.Default
		}
		properties[param.Name] = prop
		if param.Required {
			required = append(required, param.Name)
		}
	}

	schema := map[string]interface{}{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// Tool is the capability contract the orchestrator programs against. The four
// variants (handler-backed, sub-agent, MCP-bridged, provider builtin) share no
// state beyond this interface.
type Tool interface {
	// Name returns the unique tool name the model addresses.
	Name() string

	// Definition describes the tool to the model.
	Definition() Definition

	// Execute runs one call. Errors are isolated per call by the dispatcher;
	// implementations never need to recover sibling calls.
	Execute(ctx context.Context, call Call) (Response, error)

	// EvaluationChecks names the turn-level checks to run after this tool
	// succeeded.
	EvaluationChecks() []string

	// Exclusive reports whether this tool, when forced, must be the only tool
	// available for the turn.
	Exclusive() bool

	// Enabled reports whether the tool is usable at all this turn.
	Enabled() bool

	// TakesControl reports whether the tool takes over the conversation
	// surface while it runs (suppresses the loop's own assistant message).
	TakesControl() bool
}

// Runtime carries the per-turn context a constructor may need.
type Runtime struct {
	SessionKey string
	TurnID     string
	Logger     zerolog.Logger
}
