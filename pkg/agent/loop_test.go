package agent

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drover-ai/drover/pkg/tool"
	"github.com/drover-ai/drover/pkg/toolmanager"
)

// scriptedPlanner returns one scripted result per Complete call.
type scriptedPlanner struct {
	mu     sync.Mutex
	script []*PlanResult
	err    error
	calls  int
}

func (p *scriptedPlanner) Provider() string { return "scripted" }

func (p *scriptedPlanner) Complete(ctx context.Context, history []Message, tools []tool.Definition, opts PlanOptions) (*PlanResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.err != nil {
		return nil, p.err
	}

	idx := p.calls
	p.calls++
	if idx >= len(p.script) {
		// Past the script, keep requesting tools so exhaustion paths can run.
		return p.script[len(p.script)-1], nil
	}
	return p.script[idx], nil
}

type fakeChat struct {
	mu       sync.Mutex
	messages []string
	warnings []string
	thinking bool
}

func (c *fakeChat) UpsertAssistantMessage(ctx context.Context, iteration int, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, text)
	return nil
}

func (c *fakeChat) ShowWarning(ctx context.Context, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.warnings = append(c.warnings, text)
	return nil
}

func (c *fakeChat) ThinkingShown() bool { return c.thinking }

type fakeEvaluator struct {
	results []Evaluation
	got     []string
}

func (e *fakeEvaluator) RunEvaluations(ctx context.Context, names []string, responseText string) ([]Evaluation, error) {
	e.got = names
	return e.results, nil
}

func newFuncTool(t *testing.T, name string, checks []string, handler tool.Handler) tool.Tool {
	t.Helper()
	ft, err := tool.NewFuncTool(name, tool.FuncConfig{
		Description: name,
		Parameters: []tool.Parameter{
			{Name: "q", Type: "string", Description: "input", Required: false},
		},
		Checks: checks,
	}, handler)
	require.NoError(t, err)
	return ft
}

func newTestLoop(t *testing.T, planner Planner, tools []tool.Tool, mutate func(*LoopConfig)) (*Loop, *toolmanager.Manager) {
	t.Helper()

	manager, err := toolmanager.New(toolmanager.Config{Tools: tools, Logger: zerolog.Nop()})
	require.NoError(t, err)

	cfg := LoopConfig{
		Planner: planner,
		Manager: manager,
		History: NewMemoryHistory(Message{Role: "user", Content: "help me"}),
		Logger:  zerolog.Nop(),
	}
	if mutate != nil {
		mutate(&cfg)
	}

	loop, err := NewLoop(cfg)
	require.NoError(t, err)
	return loop, manager
}

func TestNewLoop_Validation(t *testing.T) {
	manager, err := toolmanager.New(toolmanager.Config{Logger: zerolog.Nop()})
	require.NoError(t, err)

	tests := []struct {
		name string
		cfg  LoopConfig
	}{
		{"missing planner", LoopConfig{Manager: manager, History: NewMemoryHistory()}},
		{"missing manager", LoopConfig{Planner: &scriptedPlanner{}, History: NewMemoryHistory()}},
		{"missing history", LoopConfig{Planner: &scriptedPlanner{}, Manager: manager}},
		{"negative iterations", LoopConfig{
			Planner: &scriptedPlanner{}, Manager: manager,
			History: NewMemoryHistory(), MaxIterations: -1,
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewLoop(tt.cfg)
			require.Error(t, err)

			var cfgErr *tool.ConfigurationError
			assert.ErrorAs(t, err, &cfgErr)
		})
	}
}

func TestLoop_EmptyResponseTerminates(t *testing.T) {
	planner := &scriptedPlanner{script: []*PlanResult{{}}}
	chat := &fakeChat{}

	loop, _ := newTestLoop(t, planner, nil, func(cfg *LoopConfig) {
		cfg.Chat = chat
	})

	outcome, err := loop.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, TerminatedEmptyResponse, outcome.Reason)
	assert.Equal(t, 1, outcome.Iterations)
	require.Len(t, chat.warnings, 1)
	assert.NotContains(t, chat.warnings[0], "panic")
}

func TestLoop_PlannerErrorSurfaces(t *testing.T) {
	planner := &scriptedPlanner{err: errors.New("rate limited")}
	loop, _ := newTestLoop(t, planner, nil, nil)

	_, err := loop.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model completion failed")
	assert.ErrorContains(t, err, "rate limited")
}

func TestLoop_NoToolCallsTerminates(t *testing.T) {
	planner := &scriptedPlanner{script: []*PlanResult{{Text: "final answer"}}}

	history := NewMemoryHistory(Message{Role: "user", Content: "help"})
	loop, _ := newTestLoop(t, planner, nil, func(cfg *LoopConfig) {
		cfg.History = history
	})

	outcome, err := loop.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, TerminatedEvaluationPassed, outcome.Reason)
	assert.Equal(t, 1, outcome.Iterations)
	assert.Equal(t, "final answer", outcome.FinalText)
	assert.Empty(t, outcome.FailedEvaluations)

	messages := history.Messages()
	require.Len(t, messages, 2)
	assert.Equal(t, "assistant", messages[1].Role)
	assert.Equal(t, "final answer", messages[1].Content)
}

func TestLoop_ToolCallsThenFinish(t *testing.T) {
	executed := []string{}
	var mu sync.Mutex

	search := newFuncTool(t, "search", []string{"citations"}, func(ctx context.Context, args map[string]interface{}) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		executed = append(executed, "search")
		return "three results", nil
	})

	planner := &scriptedPlanner{script: []*PlanResult{
		{
			Text: "let me look that up",
			ToolCalls: []tool.Call{
				// The duplicate pair collapses to one execution.
				{ID: "a", Name: "search", Arguments: map[string]interface{}{"q": "go"}},
				{ID: "b", Name: "search", Arguments: map[string]interface{}{"q": "go"}},
			},
		},
		{Text: "here is what I found"},
	}}

	evaluator := &fakeEvaluator{results: []Evaluation{{Name: "citations", IsPositive: true}}}
	history := NewMemoryHistory(Message{Role: "user", Content: "help"})

	loop, _ := newTestLoop(t, planner, []tool.Tool{search}, func(cfg *LoopConfig) {
		cfg.History = history
		cfg.Evaluator = evaluator
	})

	outcome, err := loop.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, TerminatedEvaluationPassed, outcome.Reason)
	assert.Equal(t, 2, outcome.Iterations)
	assert.Equal(t, []string{"search"}, executed)

	// Checks collected from the successful call reached the evaluator.
	assert.Equal(t, []string{"citations"}, evaluator.got)

	// History holds: user, assistant+calls, tool response, final assistant.
	messages := history.Messages()
	require.Len(t, messages, 4)
	assert.Equal(t, "tool", messages[2].Role)
	assert.Equal(t, "three results", messages[2].Content)
}

func TestLoop_FailedEvaluationStillTerminates(t *testing.T) {
	planner := &scriptedPlanner{script: []*PlanResult{{Text: "unchecked answer"}}}
	evaluator := &fakeEvaluator{results: []Evaluation{
		{Name: "citations", IsPositive: false, Details: "no sources cited"},
	}}

	loop, _ := newTestLoop(t, planner, nil, func(cfg *LoopConfig) {
		cfg.Evaluator = evaluator
	})

	outcome, err := loop.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, TerminatedEvaluationPassed, outcome.Reason)
	require.Len(t, outcome.FailedEvaluations, 1)
	assert.Equal(t, "citations", outcome.FailedEvaluations[0].Name)
}

func TestLoop_MaxIterationsReached(t *testing.T) {
	search := newFuncTool(t, "search", nil, func(ctx context.Context, args map[string]interface{}) (string, error) {
		return "more results", nil
	})

	// The planner always asks for another tool call.
	planner := &scriptedPlanner{script: []*PlanResult{{
		ToolCalls: []tool.Call{{ID: "a", Name: "search", Arguments: map[string]interface{}{"q": "go"}}},
	}}}

	chat := &fakeChat{}
	loop, _ := newTestLoop(t, planner, []tool.Tool{search}, func(cfg *LoopConfig) {
		cfg.MaxIterations = 3
		cfg.Chat = chat
	})

	outcome, err := loop.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, TerminatedMaxIterations, outcome.Reason)
	assert.Equal(t, 3, outcome.Iterations)
	assert.Equal(t, 3, planner.calls)
	require.Len(t, chat.warnings, 1)
}

func TestLoop_DefaultIterationBudget(t *testing.T) {
	search := newFuncTool(t, "search", nil, func(ctx context.Context, args map[string]interface{}) (string, error) {
		return "ok", nil
	})
	planner := &scriptedPlanner{script: []*PlanResult{{
		ToolCalls: []tool.Call{{ID: "a", Name: "search", Arguments: map[string]interface{}{"q": "go"}}},
	}}}

	loop, _ := newTestLoop(t, planner, []tool.Tool{search}, nil)

	outcome, err := loop.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxIterations, outcome.Iterations)
	assert.Equal(t, DefaultMaxIterations, planner.calls)
}

func TestLoop_AssistantTextSurfacedOncePerIteration(t *testing.T) {
	search := newFuncTool(t, "search", nil, func(ctx context.Context, args map[string]interface{}) (string, error) {
		return "ok", nil
	})

	planner := &scriptedPlanner{script: []*PlanResult{
		{
			Text:      "working on it",
			ToolCalls: []tool.Call{{ID: "a", Name: "search", Arguments: map[string]interface{}{"q": "go"}}},
		},
		{Text: "done"},
	}}

	chat := &fakeChat{}
	loop, _ := newTestLoop(t, planner, []tool.Tool{search}, func(cfg *LoopConfig) {
		cfg.Chat = chat
	})

	_, err := loop.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"working on it", "done"}, chat.messages)
}

func TestLoop_ThinkingSuppressesAssistantMessage(t *testing.T) {
	planner := &scriptedPlanner{script: []*PlanResult{{Text: "final"}}}
	chat := &fakeChat{thinking: true}

	loop, _ := newTestLoop(t, planner, nil, func(cfg *LoopConfig) {
		cfg.Chat = chat
	})

	_, err := loop.Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, chat.messages)
}

func TestLoop_Postprocessors(t *testing.T) {
	planner := &scriptedPlanner{script: []*PlanResult{{Text: "raw"}}}

	loop, _ := newTestLoop(t, planner, nil, func(cfg *LoopConfig) {
		cfg.Postprocessors = []Postprocessor{
			func(ctx context.Context, text string) (string, error) {
				return text + " [polished]", nil
			},
			func(ctx context.Context, text string) (string, error) {
				return "", errors.New("broken postprocessor")
			},
		}
	})

	outcome, err := loop.Run(context.Background())
	require.NoError(t, err)

	// The failing postprocessor is skipped, not fatal.
	assert.Equal(t, "raw [polished]", outcome.FinalText)
}

type collectingSink struct {
	mu   sync.Mutex
	refs []string
}

func (c *collectingSink) AddReferences(refs []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refs = append(c.refs, refs...)
}

func TestLoop_CollectsToolReferences(t *testing.T) {
	cited := &citingTool{name: "ask_researcher"}

	planner := &scriptedPlanner{script: []*PlanResult{
		{ToolCalls: []tool.Call{{ID: "a", Name: "ask_researcher", Arguments: map[string]interface{}{"q": "go"}}}},
		{Text: "done"},
	}}

	sink := &collectingSink{}
	loop, _ := newTestLoop(t, planner, []tool.Tool{cited}, func(cfg *LoopConfig) {
		cfg.References = sink
	})

	_, err := loop.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"researcher:1:1"}, sink.refs)
}

// citingTool emulates a sub-agent attaching citation keys to its response.
type citingTool struct {
	name string
}

func (c *citingTool) Name() string { return c.name }
func (c *citingTool) Definition() tool.Definition {
	return tool.Definition{Name: c.name}
}
func (c *citingTool) Execute(ctx context.Context, call tool.Call) (tool.Response, error) {
	return tool.Response{
		ID:      call.ID,
		Name:    c.name,
		Content: "answer [researcher:1:1]",
		DebugInfo: map[string]interface{}{
			"references": []string{"researcher:1:1"},
		},
	}, nil
}
func (c *citingTool) EvaluationChecks() []string { return nil }
func (c *citingTool) Exclusive() bool            { return false }
func (c *citingTool) Enabled() bool              { return true }
func (c *citingTool) TakesControl() bool         { return false }
