package tool

import (
	"context"
	"fmt"
)

// BuiltinConfig configures a provider builtin tool.
type BuiltinConfig struct {
	Description string `json:"description" mapstructure:"description"`
	Exclusive   bool   `json:"exclusive" mapstructure:"exclusive"`
	Enabled     *bool  `json:"enabled" mapstructure:"enabled"`
}

// BuiltinTool is the provider-builtin variant: the model's backend executes it
// server-side, so the orchestrator only advertises it and never runs it
// locally. A local Execute is a dispatch bug and yields a failed response.
type BuiltinTool struct {
	name string
	cfg  BuiltinConfig
}

// NewBuiltinTool creates a provider builtin marker tool.
func NewBuiltinTool(name string, cfg BuiltinConfig) (*BuiltinTool, error) {
	if name == "" {
		return nil, &ConfigurationError{Reason: "builtin tool name cannot be empty"}
	}
	return &BuiltinTool{name: name, cfg: cfg}, nil
}

func (t *BuiltinTool) Name() string { return t.name }

func (t *BuiltinTool) Definition() Definition {
	return Definition{Name: t.name, Description: t.cfg.Description}
}

func (t *BuiltinTool) EvaluationChecks() []string { return nil }

func (t *BuiltinTool) Exclusive() bool { return t.cfg.Exclusive }

func (t *BuiltinTool) Enabled() bool {
	if t.cfg.Enabled == nil {
		return true
	}
	return *t.cfg.Enabled
}

func (t *BuiltinTool) TakesControl() bool { return false }

func (t *BuiltinTool) Execute(ctx context.Context, call Call) (Response, error) {
	return Response{
		ID:           call.ID,
		Name:         t.name,
		ErrorMessage: fmt.Sprintf("builtin tool %s is executed by the model provider, not locally", t.name),
	}, nil
}
