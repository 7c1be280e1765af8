package agent

import (
	"context"

	"github.com/drover-ai/drover/pkg/tool"
)

// Message is one entry of the conversation composed for the planner.
type Message struct {
	Role       string                 `json:"role"` // system, user, assistant, tool
	Content    string                 `json:"content"`
	ToolCalls  []tool.Call            `json:"tool_calls,omitempty"`
	ToolCallID string                 `json:"tool_call_id,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// PlanOptions are the per-turn model parameters.
type PlanOptions struct {
	Model        string  `json:"model"`
	Temperature  float64 `json:"temperature,omitempty"`
	MaxTokens    int     `json:"max_tokens,omitempty"`
	SystemPrompt string  `json:"system_prompt,omitempty"`
}

// PlanResult is the structured outcome of one model completion. The call may
// stream internally; the loop only acts once the result is fully available.
type PlanResult struct {
	Text       string      `json:"text"`
	ToolCalls  []tool.Call `json:"tool_calls,omitempty"`
	References []string    `json:"references,omitempty"`
}

// Planner is the model-completion collaborator.
type Planner interface {
	Complete(ctx context.Context, history []Message, tools []tool.Definition, opts PlanOptions) (*PlanResult, error)

	// Provider returns the backing provider name.
	Provider() string
}

// History is the append-only conversation sink the loop reads from and writes
// to. Persistence belongs to the implementation.
type History interface {
	Messages() []Message
	AppendAssistant(text string, calls []tool.Call)
	AppendToolResponses(responses []tool.Response)
}

// ReferenceSink accumulates citations across iterations.
type ReferenceSink interface {
	AddReferences(refs []string)
}

// DebugSink extracts per-call diagnostic metadata from tool responses.
type DebugSink interface {
	Extract(responses []tool.Response)
}

// Evaluation is one turn-level check result.
type Evaluation struct {
	Name       string `json:"name"`
	IsPositive bool   `json:"is_positive"`
	Details    string `json:"details,omitempty"`
}

// Evaluator runs the named turn-level checks against the final response.
type Evaluator interface {
	RunEvaluations(ctx context.Context, names []string, responseText string) ([]Evaluation, error)
}

// Postprocessor rewrites the final response text before it is surfaced.
type Postprocessor func(ctx context.Context, text string) (string, error)

// ChatSurface is the user-visible message collaborator.
type ChatSurface interface {
	// UpsertAssistantMessage creates or updates the iteration's assistant
	// message. Called at most once per iteration.
	UpsertAssistantMessage(ctx context.Context, iteration int, text string) error

	// ShowWarning surfaces a fixed human-readable warning.
	ShowWarning(ctx context.Context, text string) error

	// ThinkingShown reports whether a thinking UI already displays the
	// model's text, making a separate assistant message redundant.
	ThinkingShown() bool
}

// TerminationReason names why the loop exited.
type TerminationReason string

const (
	TerminatedEmptyResponse    TerminationReason = "empty_response"
	TerminatedEvaluationPassed TerminationReason = "no_tool_calls_and_evaluation_passed"
	TerminatedMaxIterations    TerminationReason = "max_iterations_reached"
)

// TurnOutcome summarizes one finished turn.
type TurnOutcome struct {
	Reason     TerminationReason `json:"reason"`
	Iterations int               `json:"iterations"`
	FinalText  string            `json:"final_text,omitempty"`

	// FailedEvaluations is non-empty when the turn ended without tool calls
	// but some checks were negative. The loop still terminates in that case;
	// retry-with-instruction is a recorded intent, not implemented behavior.
	FailedEvaluations []Evaluation `json:"failed_evaluations,omitempty"`
}

// MemoryHistory is an in-memory History for tests and embedders without their
// own persistence.
type MemoryHistory struct {
	messages []Message
}

// NewMemoryHistory seeds an in-memory history with initial messages.
func NewMemoryHistory(initial ...Message) *MemoryHistory {
	return &MemoryHistory{messages: initial}
}

func (h *MemoryHistory) Messages() []Message {
	out := make([]Message, len(h.messages))
	copy(out, h.messages)
	return out
}

func (h *MemoryHistory) AppendAssistant(text string, calls []tool.Call) {
	h.messages = append(h.messages, Message{
		Role:      "assistant",
		Content:   text,
		ToolCalls: calls,
	})
}

func (h *MemoryHistory) AppendToolResponses(responses []tool.Response) {
	for _, resp := range responses {
		content := resp.Content
		if !resp.Successful() {
			content = resp.ErrorMessage
		}
		h.messages = append(h.messages, Message{
			Role:       "tool",
			Content:    content,
			ToolCallID: resp.ID,
		})
	}
}
