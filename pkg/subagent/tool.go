package subagent

import (
	"context"
	"fmt"
	"time"

	"github.com/drover-ai/drover/pkg/tool"
)

// Config configures the sub-agent tool variant.
type Config struct {
	AssistantID  string        `json:"assistant_id" mapstructure:"assistant_id"`
	Description  string        `json:"description" mapstructure:"description"`
	ReuseSession bool          `json:"reuse_session" mapstructure:"reuse_session"`
	PollInterval time.Duration `json:"poll_interval" mapstructure:"poll_interval"`
	MaxWait      time.Duration `json:"max_wait" mapstructure:"max_wait"`
	Exclusive    bool          `json:"exclusive" mapstructure:"exclusive"`
	TakesControl bool          `json:"takes_control" mapstructure:"takes_control"`
	Checks       []string      `json:"checks" mapstructure:"checks"`
}

// Tool forwards a synthesized user message to a remote assistant and returns
// its (reference-renumbered) answer.
type Tool struct {
	name    string
	cfg     Config
	session *Session
}

// NewTool creates a sub-agent tool with its own session guard.
func NewTool(name string, cfg Config, transport Transport, memory ChatMemory, rt tool.Runtime) (*Tool, error) {
	if name == "" {
		return nil, &tool.ConfigurationError{Reason: "sub-agent tool name cannot be empty"}
	}

	session, err := NewSession(SessionConfig{
		AssistantID:  cfg.AssistantID,
		ReuseSession: cfg.ReuseSession,
		PollInterval: cfg.PollInterval,
		MaxWait:      cfg.MaxWait,
		Logger:       rt.Logger,
	}, transport, memory)
	if err != nil {
		return nil, err
	}

	return &Tool{name: name, cfg: cfg, session: session}, nil
}

// Session exposes the guard for subscribing to progress events.
func (t *Tool) Session() *Session { return t.session }

func (t *Tool) Name() string { return t.name }

func (t *Tool) Definition() tool.Definition {
	return tool.Definition{
		Name:        t.name,
		Description: t.cfg.Description,
		Parameters: []tool.Parameter{
			{
				Name:        "message",
				Type:        "string",
				Description: "The message to forward to the sub-agent.",
				Required:    true,
			},
		},
	}
}

func (t *Tool) EvaluationChecks() []string { return t.cfg.Checks }

func (t *Tool) Exclusive() bool { return t.cfg.Exclusive }

func (t *Tool) Enabled() bool { return true }

func (t *Tool) TakesControl() bool { return t.cfg.TakesControl }

func (t *Tool) Execute(ctx context.Context, call tool.Call) (tool.Response, error) {
	message, ok := call.Arguments["message"].(string)
	if !ok || message == "" {
		return tool.Response{}, &tool.ExecutionError{
			Tool: t.name,
			Err:  fmt.Errorf("argument %q must be a non-empty string", "message"),
		}
	}

	result, err := t.session.Execute(ctx, message)
	if err != nil {
		return tool.Response{}, err
	}

	refs := make([]string, 0, len(result.References))
	for _, ref := range result.References {
		refs = append(refs, ref.Key())
	}

	return tool.Response{
		ID:      call.ID,
		Name:    t.name,
		Content: result.Text,
		DebugInfo: map[string]interface{}{
			"subagent_sequence": result.Sequence,
			"subagent_chat_id":  result.ChatID,
			"assessment":        result.Assessment,
			"references":        refs,
		},
	}, nil
}

// Registration binds a named sub-agent tool to the registry, sharing one
// transport and chat memory across rebuilds.
func Registration(name string, transport Transport, memory ChatMemory) tool.Registration {
	return tool.Registration{
		Name: name,
		NewConfig: func() interface{} {
			return &Config{
				ReuseSession: true,
				PollInterval: 2 * time.Second,
				MaxWait:      5 * time.Minute,
			}
		},
		Construct: func(ctx context.Context, config interface{}, rt tool.Runtime) (tool.Tool, error) {
			cfg, ok := config.(*Config)
			if !ok {
				return nil, &tool.ConfigurationError{
					Reason: fmt.Sprintf("sub-agent tool %s: unexpected config type %T", name, config),
				}
			}
			return NewTool(name, *cfg, transport, memory, rt)
		},
	}
}
