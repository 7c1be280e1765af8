package toolmanager

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/drover-ai/drover/internal/observability"
	"github.com/drover-ai/drover/pkg/tool"
)

// DefaultMaxToolCalls caps how many calls one dispatch executes.
const DefaultMaxToolCalls = 8

// Config holds manager configuration for one turn.
type Config struct {
	Tools         []tool.Tool
	ToolChoices   []string
	DisabledTools []string
	MaxToolCalls  int
	Logger        zerolog.Logger
}

// Manager owns the turn's availability filter, deduplicates and caps the
// model's requested calls, executes them concurrently, and accumulates the
// evaluation checklist from successful calls.
type Manager struct {
	filter       *Filter
	maxToolCalls int
	logger       zerolog.Logger

	mu        sync.Mutex
	checklist map[string]struct{}
}

// New creates a manager for one turn.
func New(cfg Config) (*Manager, error) {
	if cfg.MaxToolCalls < 0 {
		return nil, &tool.ConfigurationError{
			Reason: fmt.Sprintf("max tool calls cannot be negative, got %d", cfg.MaxToolCalls),
		}
	}
	if cfg.MaxToolCalls == 0 {
		cfg.MaxToolCalls = DefaultMaxToolCalls
	}

	observability.EnsureRegistered()

	return &Manager{
		filter:       NewFilter(cfg.Tools, cfg.ToolChoices, cfg.DisabledTools),
		maxToolCalls: cfg.MaxToolCalls,
		logger:       cfg.Logger,
		checklist:    make(map[string]struct{}),
	}, nil
}

// Available returns the tools usable this turn.
func (m *Manager) Available() []tool.Tool {
	return m.filter.Available()
}

// Definitions returns the model-facing definitions of the available tools.
func (m *Manager) Definitions() []tool.Definition {
	available := m.filter.Available()
	defs := make([]tool.Definition, 0, len(available))
	for _, t := range available {
		defs = append(defs, t.Definition())
	}
	return defs
}

// ForceTool force-adds a tool by name for the rest of the turn.
func (m *Manager) ForceTool(name string) error {
	return m.filter.ForceTool(name)
}

// ClearForced clears all forced tool choices.
func (m *Manager) ClearForced() {
	m.filter.ClearForced()
}

// EvaluationChecklist returns the check names collected from successful calls
// so far this turn, sorted for stable output.
func (m *Manager) EvaluationChecklist() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	names := make([]string, 0, len(m.checklist))
	for name := range m.checklist {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ExecuteSelectedTools deduplicates, caps, and concurrently executes the
// requested calls. The returned slice preserves the order of the surviving
// requests; per-call failures become failed responses and never abort the
// batch.
func (m *Manager) ExecuteSelectedTools(ctx context.Context, requests []tool.Call) []tool.Response {
	start := time.Now()

	deduped := dedupCalls(requests)
	if dropped := len(requests) - len(deduped); dropped > 0 {
		m.logger.Debug().
			Int("dropped", dropped).
			Msg("Deduplicated identical tool calls")
	}

	if len(deduped) > m.maxToolCalls {
		m.logger.Warn().
			Int("requested", len(deduped)).
			Int("max", m.maxToolCalls).
			Msg("Tool call cap exceeded, truncating to the first calls")
		deduped = deduped[:m.maxToolCalls]
	}

	available := make(map[string]tool.Tool)
	for _, t := range m.filter.Available() {
		available[t.Name()] = t
	}

	responses := make([]tool.Response, len(deduped))
	var wg sync.WaitGroup

	for i, call := range deduped {
		selected, ok := available[call.Name]
		if !ok {
			// Unknown or unavailable names fail locally, never the batch.
			responses[i] = tool.Response{
				ID:           call.ID,
				Name:         call.Name,
				ErrorMessage: fmt.Sprintf("tool %s is not available this turn", call.Name),
			}
			continue
		}

		wg.Add(1)
		go func(i int, call tool.Call, selected tool.Tool) {
			defer wg.Done()
			responses[i] = m.executeOne(ctx, selected, call)
		}(i, call, selected)
	}
	wg.Wait()

	for i := range responses {
		name := responses[i].Name
		exclusive := false
		if t, ok := available[name]; ok {
			exclusive = t.Exclusive()
		}
		responses[i].SetDebug("is_exclusive", exclusive)
		responses[i].SetDebug("is_forced", m.filter.Forced(name))

		if responses[i].Successful() {
			if t, ok := available[name]; ok {
				m.addChecks(t.EvaluationChecks())
			}
		}
	}

	observability.RecordDispatch(len(requests), len(deduped), time.Since(start))
	return responses
}

// executeOne runs a single call with panic and error isolation.
func (m *Manager) executeOne(ctx context.Context, selected tool.Tool, call tool.Call) (resp tool.Response) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error().
				Str("tool", call.Name).
				Interface("panic", r).
				Msg("Tool execution panicked")
			resp = tool.Response{
				ID:           call.ID,
				Name:         call.Name,
				ErrorMessage: fmt.Sprintf("tool %s panicked: %v", call.Name, r),
			}
		}
		observability.RecordToolExecution(call.Name, time.Since(start), resp.Successful())
	}()

	result, err := selected.Execute(ctx, call)
	if err != nil {
		m.logger.Error().
			Str("tool", call.Name).
			Err(err).
			Msg("Tool execution failed")
		return tool.Response{
			ID:           call.ID,
			Name:         call.Name,
			ErrorMessage: err.Error(),
		}
	}

	result.ID = call.ID
	result.Name = call.Name
	return result
}

func (m *Manager) addChecks(checks []string) {
	if len(checks) == 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, check := range checks {
		m.checklist[check] = struct{}{}
	}
}

// dedupCalls keeps the first occurrence of each (name, arguments) pair in
// original order. Structural equality uses canonical JSON, so key order in the
// arguments map does not matter.
func dedupCalls(requests []tool.Call) []tool.Call {
	seen := make(map[string]bool, len(requests))
	result := make([]tool.Call, 0, len(requests))

	for _, call := range requests {
		key := call.Name + "\x00" + canonicalArgs(call.Arguments)
		if seen[key] {
			continue
		}
		seen[key] = true
		result = append(result, call)
	}
	return result
}

func canonicalArgs(args map[string]interface{}) string {
	if len(args) == 0 {
		return ""
	}
	data, err := json.Marshal(args)
	if err != nil {
		return fmt.Sprintf("%v", args)
	}
	return string(data)
}
