package toolmanager

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drover-ai/drover/pkg/tool"
)

func newTestManager(t *testing.T, cfg Config) *Manager {
	t.Helper()
	cfg.Logger = zerolog.Nop()
	m, err := New(cfg)
	require.NoError(t, err)
	return m
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{MaxToolCalls: -1})
	require.Error(t, err)

	var cfgErr *tool.ConfigurationError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestManager_ExecuteSelectedTools_Dedup(t *testing.T) {
	var executions int32
	search := &stubTool{
		name:    "search",
		enabled: true,
		execute: func(ctx context.Context, call tool.Call) (tool.Response, error) {
			atomic.AddInt32(&executions, 1)
			return tool.Response{ID: call.ID, Name: "search", Content: "results"}, nil
		},
	}

	m := newTestManager(t, Config{Tools: []tool.Tool{search}})

	// Same name and structurally equal arguments; key order must not matter.
	responses := m.ExecuteSelectedTools(context.Background(), []tool.Call{
		{ID: "a", Name: "search", Arguments: map[string]interface{}{"q": "go", "limit": 5}},
		{ID: "b", Name: "search", Arguments: map[string]interface{}{"limit": 5, "q": "go"}},
		{ID: "c", Name: "search", Arguments: map[string]interface{}{"q": "rust"}},
	})

	require.Len(t, responses, 2)
	assert.Equal(t, int32(2), atomic.LoadInt32(&executions))

	// First occurrence survives.
	assert.Equal(t, "a", responses[0].ID)
	assert.Equal(t, "c", responses[1].ID)
}

func TestDedupCalls_Idempotent(t *testing.T) {
	calls := []tool.Call{
		{ID: "a", Name: "search", Arguments: map[string]interface{}{"q": "go"}},
		{ID: "b", Name: "search", Arguments: map[string]interface{}{"q": "go"}},
		{ID: "c", Name: "finish"},
	}

	once := dedupCalls(calls)
	twice := dedupCalls(once)

	assert.Equal(t, once, twice)
}

func TestManager_ExecuteSelectedTools_Cap(t *testing.T) {
	search := &stubTool{name: "search", enabled: true}
	m := newTestManager(t, Config{Tools: []tool.Tool{search}, MaxToolCalls: 2})

	responses := m.ExecuteSelectedTools(context.Background(), []tool.Call{
		{ID: "a", Name: "search", Arguments: map[string]interface{}{"q": "1"}},
		{ID: "b", Name: "search", Arguments: map[string]interface{}{"q": "2"}},
		{ID: "c", Name: "search", Arguments: map[string]interface{}{"q": "3"}},
	})

	require.Len(t, responses, 2)
	assert.Equal(t, "a", responses[0].ID)
	assert.Equal(t, "b", responses[1].ID)
}

func TestManager_ExecuteSelectedTools_UnknownTool(t *testing.T) {
	search := &stubTool{name: "search", enabled: true}
	m := newTestManager(t, Config{Tools: []tool.Tool{search}})

	responses := m.ExecuteSelectedTools(context.Background(), []tool.Call{
		{ID: "a", Name: "nonexistent"},
		{ID: "b", Name: "search", Arguments: map[string]interface{}{"q": "go"}},
	})

	require.Len(t, responses, 2)
	assert.False(t, responses[0].Successful())
	assert.Contains(t, responses[0].ErrorMessage, "not available this turn")
	assert.True(t, responses[1].Successful())
}

func TestManager_ExecuteSelectedTools_Isolation(t *testing.T) {
	panics := &stubTool{
		name:    "panics",
		enabled: true,
		execute: func(ctx context.Context, call tool.Call) (tool.Response, error) {
			panic("boom")
		},
	}
	fails := &stubTool{
		name:    "fails",
		enabled: true,
		execute: func(ctx context.Context, call tool.Call) (tool.Response, error) {
			return tool.Response{}, errors.New("backend down")
		},
	}
	works := &stubTool{name: "works", enabled: true}

	m := newTestManager(t, Config{Tools: []tool.Tool{panics, fails, works}})

	responses := m.ExecuteSelectedTools(context.Background(), []tool.Call{
		{ID: "a", Name: "panics"},
		{ID: "b", Name: "fails"},
		{ID: "c", Name: "works"},
	})

	require.Len(t, responses, 3)
	assert.False(t, responses[0].Successful())
	assert.Contains(t, responses[0].ErrorMessage, "panicked")
	assert.False(t, responses[1].Successful())
	assert.Contains(t, responses[1].ErrorMessage, "backend down")
	assert.True(t, responses[2].Successful())
	assert.Equal(t, "done", responses[2].Content)
}

func TestManager_ExecuteSelectedTools_DebugKeys(t *testing.T) {
	search := &stubTool{name: "search", enabled: true}
	finish := &stubTool{name: "finish", enabled: true, exclusive: true}

	m := newTestManager(t, Config{Tools: []tool.Tool{search, finish}})
	require.NoError(t, m.ForceTool("finish"))

	responses := m.ExecuteSelectedTools(context.Background(), []tool.Call{
		{ID: "a", Name: "finish"},
	})

	require.Len(t, responses, 1)
	assert.Equal(t, true, responses[0].DebugInfo["is_exclusive"])
	assert.Equal(t, true, responses[0].DebugInfo["is_forced"])
}

func TestManager_EvaluationChecklist(t *testing.T) {
	verified := &stubTool{name: "verified", enabled: true, checks: []string{"citations", "accuracy"}}
	failing := &stubTool{
		name:    "failing",
		enabled: true,
		checks:  []string{"never-collected"},
		execute: func(ctx context.Context, call tool.Call) (tool.Response, error) {
			return tool.Response{}, errors.New("nope")
		},
	}

	m := newTestManager(t, Config{Tools: []tool.Tool{verified, failing}})
	assert.Empty(t, m.EvaluationChecklist())

	m.ExecuteSelectedTools(context.Background(), []tool.Call{
		{ID: "a", Name: "verified"},
		{ID: "b", Name: "failing"},
	})

	// Checks union only from successful calls, sorted.
	assert.Equal(t, []string{"accuracy", "citations"}, m.EvaluationChecklist())

	// Repeated success does not duplicate entries.
	m.ExecuteSelectedTools(context.Background(), []tool.Call{
		{ID: "c", Name: "verified", Arguments: map[string]interface{}{"again": true}},
	})
	assert.Equal(t, []string{"accuracy", "citations"}, m.EvaluationChecklist())
}

func TestManager_Definitions(t *testing.T) {
	search := &stubTool{name: "search", enabled: true}
	hidden := &stubTool{name: "hidden", enabled: false}

	m := newTestManager(t, Config{Tools: []tool.Tool{search, hidden}})

	defs := m.Definitions()
	require.Len(t, defs, 1)
	assert.Equal(t, "search", defs[0].Name)
}
