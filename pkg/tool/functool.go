package tool

import (
	"context"
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

// Handler is the function signature a handler-backed tool executes.
type Handler func(ctx context.Context, args map[string]interface{}) (string, error)

// FuncConfig configures a handler-backed internal tool.
type FuncConfig struct {
	Description  string      `json:"description" mapstructure:"description"`
	Parameters   []Parameter `json:"parameters" mapstructure:"parameters"`
	Exclusive    bool        `json:"exclusive" mapstructure:"exclusive"`
	TakesControl bool        `json:"takes_control" mapstructure:"takes_control"`
	Enabled      *bool       `json:"enabled" mapstructure:"enabled"`
	Checks       []string    `json:"checks" mapstructure:"checks"`
}

// FuncTool is the internal tool variant: a named handler plus a generated
// argument schema validated before every execution.
type FuncTool struct {
	name    string
	cfg     FuncConfig
	handler Handler
	schema  *gojsonschema.Schema
}

// NewFuncTool creates a handler-backed tool and compiles its argument schema.
func NewFuncTool(name string, cfg FuncConfig, handler Handler) (*FuncTool, error) {
	if name == "" {
		return nil, &ConfigurationError{Reason: "tool name cannot be empty"}
	}
	if handler == nil {
		return nil, &ConfigurationError{Reason: fmt.Sprintf("tool %s has no handler", name)}
	}
	for _, param := range cfg.Parameters {
		if param.Name == "" {
			return nil, &ConfigurationError{Reason: fmt.Sprintf("tool %s has an unnamed parameter", name)}
		}
		switch param.Type {
		case "string", "number", "integer", "boolean", "object", "array":
		default:
			return nil, &ConfigurationError{
				Reason: fmt.Sprintf("tool %s parameter %s has invalid type %q", name, param.Name, param.Type),
			}
		}
	}

	def := Definition{Name: name, Description: cfg.Description, Parameters: cfg.Parameters}
	schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(def.InputSchema()))
	if err != nil {
		return nil, &ConfigurationError{Reason: fmt.Sprintf("tool %s schema: %v", name, err)}
	}

	return &FuncTool{
		name:    name,
		cfg:     cfg,
		handler: handler,
		schema:  schema,
	}, nil
}

func (t *FuncTool) Name() string { return t.name }

func (t *FuncTool) Definition() Definition {
	return Definition{
		Name:        t.name,
		Description: t.cfg.Description,
		Parameters:  t.cfg.Parameters,
	}
}

func (t *FuncTool) EvaluationChecks() []string { return t.cfg.Checks }

func (t *FuncTool) Exclusive() bool { return t.cfg.Exclusive }

func (t *FuncTool) Enabled() bool {
	if t.cfg.Enabled == nil {
		return true
	}
	return *t.cfg.Enabled
}

func (t *FuncTool) TakesControl() bool { return t.cfg.TakesControl }

// Execute validates the call's arguments against the generated schema and
// runs the handler.
func (t *FuncTool) Execute(ctx context.Context, call Call) (Response, error) {
	args := call.Arguments
	if args == nil {
		args = map[string]interface{}{}
	}

	result, err := t.schema.Validate(gojsonschema.NewGoLoader(args))
	if err != nil {
		return Response{}, &ExecutionError{Tool: t.name, Err: err}
	}
	if !result.Valid() {
		problems := []string{}
		for _, resultErr := range result.Errors() {
			problems = append(problems, resultErr.String())
		}
		return Response{}, &ExecutionError{
			Tool: t.name,
			Err:  fmt.Errorf("argument validation failed: %v", problems),
		}
	}

	content, err := t.handler(ctx, args)
	if err != nil {
		return Response{}, &ExecutionError{Tool: t.name, Err: err}
	}

	return Response{
		ID:      call.ID,
		Name:    t.name,
		Content: content,
	}, nil
}
