package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/drover-ai/drover/internal/observability"
	"github.com/drover-ai/drover/pkg/tool"
	"github.com/drover-ai/drover/pkg/toolmanager"
)

// DefaultMaxIterations bounds the plan/execute loop.
const DefaultMaxIterations = 8

// Fixed user-visible messages; failures never surface as stack traces.
const (
	emptyResponseMessage = "I could not produce a response for that. Please try rephrasing your request."
	maxIterationsMessage = "I stopped after reaching the planning step limit. The answer so far may be incomplete."
)

// LoopConfig wires the loop's collaborators. Planner, Manager, and History
// are required; the remaining sinks are optional.
type LoopConfig struct {
	Planner        Planner
	Manager        *toolmanager.Manager
	History        History
	References     ReferenceSink
	Debug          DebugSink
	Evaluator      Evaluator
	Chat           ChatSurface
	Postprocessors []Postprocessor
	MaxIterations  int
	Options        PlanOptions
	Logger         zerolog.Logger
}

// Loop is the turn-level control state machine:
// PLANNING -> {TOOL_EXECUTION -> PLANNING} | TERMINATED.
type Loop struct {
	cfg LoopConfig

	// surfacedIteration makes the assistant-message side effect at-most-once
	// and idempotent within an iteration.
	surfacedIteration int
}

// NewLoop validates the wiring before any concurrent work starts.
func NewLoop(cfg LoopConfig) (*Loop, error) {
	if cfg.Planner == nil {
		return nil, &tool.ConfigurationError{Reason: "agent loop requires a planner"}
	}
	if cfg.Manager == nil {
		return nil, &tool.ConfigurationError{Reason: "agent loop requires a tool manager"}
	}
	if cfg.History == nil {
		return nil, &tool.ConfigurationError{Reason: "agent loop requires a history"}
	}
	if cfg.MaxIterations < 0 {
		return nil, &tool.ConfigurationError{
			Reason: fmt.Sprintf("max loop iterations cannot be negative, got %d", cfg.MaxIterations),
		}
	}
	if cfg.MaxIterations == 0 {
		cfg.MaxIterations = DefaultMaxIterations
	}

	observability.EnsureRegistered()

	return &Loop{cfg: cfg, surfacedIteration: -1}, nil
}

// Run drives the turn to termination. Planner and setup failures surface to
// the caller; per-tool failures are absorbed into tool responses.
func (l *Loop) Run(ctx context.Context) (*TurnOutcome, error) {
	logger := l.cfg.Logger

	for iteration := 0; iteration < l.cfg.MaxIterations; iteration++ {
		observability.RecordLoopIteration()

		start := time.Now()
		result, err := l.cfg.Planner.Complete(ctx, l.cfg.History.Messages(), l.cfg.Manager.Definitions(), l.cfg.Options)
		observability.RecordPlannerCall(time.Since(start))
		if err != nil {
			return nil, fmt.Errorf("model completion failed: %w", err)
		}

		if result.Text == "" && len(result.ToolCalls) == 0 {
			logger.Warn().Int("iteration", iteration).Msg("Model returned an empty response")
			l.showWarning(ctx, emptyResponseMessage)
			return l.terminate(TerminatedEmptyResponse, iteration+1, "", nil), nil
		}

		if len(result.References) > 0 && l.cfg.References != nil {
			l.cfg.References.AddReferences(result.References)
		}

		l.surfaceAssistantText(ctx, iteration, result.Text)

		if len(result.ToolCalls) == 0 {
			return l.finishWithoutTools(ctx, iteration, result.Text)
		}

		logger.Debug().
			Int("iteration", iteration).
			Int("tool_calls", len(result.ToolCalls)).
			Msg("Dispatching requested tool calls")

		l.cfg.History.AppendAssistant(result.Text, result.ToolCalls)
		responses := l.cfg.Manager.ExecuteSelectedTools(ctx, result.ToolCalls)
		l.cfg.History.AppendToolResponses(responses)

		l.collectReferences(responses)
		if l.cfg.Debug != nil {
			l.cfg.Debug.Extract(responses)
		}
	}

	logger.Warn().Int("max_iterations", l.cfg.MaxIterations).Msg("Loop iteration budget exhausted")
	l.showWarning(ctx, maxIterationsMessage)
	return l.terminate(TerminatedMaxIterations, l.cfg.MaxIterations, "", nil), nil
}

// finishWithoutTools runs evaluations and postprocessors on a tool-free
// response and terminates the turn. When checks fail, the failure is recorded
// on the outcome but the loop still exits; retrying with a corrective
// instruction is a known open follow-up, not current behavior.
func (l *Loop) finishWithoutTools(ctx context.Context, iteration int, text string) (*TurnOutcome, error) {
	failed := []Evaluation{}

	if l.cfg.Evaluator != nil {
		checklist := l.cfg.Manager.EvaluationChecklist()
		evaluations, err := l.cfg.Evaluator.RunEvaluations(ctx, checklist, text)
		if err != nil {
			l.cfg.Logger.Error().Err(err).Msg("Evaluation run failed")
		}
		for _, evaluation := range evaluations {
			if !evaluation.IsPositive {
				failed = append(failed, evaluation)
			}
		}
	}

	final := text
	for _, post := range l.cfg.Postprocessors {
		processed, err := post(ctx, final)
		if err != nil {
			l.cfg.Logger.Error().Err(err).Msg("Postprocessor failed")
			continue
		}
		final = processed
	}

	l.cfg.History.AppendAssistant(final, nil)

	if len(failed) > 0 {
		l.cfg.Logger.Warn().
			Int("failed_checks", len(failed)).
			Msg("Turn-level evaluation failed; terminating anyway pending retry-with-instruction support")
	}

	return l.terminate(TerminatedEvaluationPassed, iteration+1, final, failed), nil
}

// surfaceAssistantText performs the at-most-once per-iteration assistant
// message side effect.
func (l *Loop) surfaceAssistantText(ctx context.Context, iteration int, text string) {
	if text == "" || l.cfg.Chat == nil {
		return
	}
	if l.cfg.Chat.ThinkingShown() {
		return
	}
	if l.surfacedIteration == iteration {
		return
	}
	l.surfacedIteration = iteration

	if err := l.cfg.Chat.UpsertAssistantMessage(ctx, iteration, text); err != nil {
		l.cfg.Logger.Error().Err(err).Int("iteration", iteration).Msg("Failed to surface assistant message")
	}
}

// collectReferences forwards citation keys attached by tools (sub-agents in
// particular) to the reference sink.
func (l *Loop) collectReferences(responses []tool.Response) {
	if l.cfg.References == nil {
		return
	}
	for _, resp := range responses {
		refsData, ok := resp.DebugInfo["references"]
		if !ok {
			continue
		}
		if refs, ok := refsData.([]string); ok && len(refs) > 0 {
			l.cfg.References.AddReferences(refs)
		}
	}
}

func (l *Loop) showWarning(ctx context.Context, text string) {
	if l.cfg.Chat == nil {
		return
	}
	if err := l.cfg.Chat.ShowWarning(ctx, text); err != nil {
		l.cfg.Logger.Error().Err(err).Msg("Failed to surface warning message")
	}
}

func (l *Loop) terminate(reason TerminationReason, iterations int, finalText string, failed []Evaluation) *TurnOutcome {
	observability.RecordLoopTermination(string(reason))
	l.cfg.Logger.Info().
		Str("reason", string(reason)).
		Int("iterations", iterations).
		Msg("Agent loop terminated")

	return &TurnOutcome{
		Reason:            reason,
		Iterations:        iterations,
		FinalText:         finalText,
		FailedEvaluations: failed,
	}
}
