package toolmanager

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drover-ai/drover/pkg/tool"
)

// stubTool is a minimal tool.Tool for exercising selection and dispatch.
type stubTool struct {
	name      string
	enabled   bool
	exclusive bool
	checks    []string
	execute   func(ctx context.Context, call tool.Call) (tool.Response, error)
}

func (s *stubTool) Name() string { return s.name }

func (s *stubTool) Definition() tool.Definition {
	return tool.Definition{Name: s.name, Description: "stub"}
}

func (s *stubTool) Execute(ctx context.Context, call tool.Call) (tool.Response, error) {
	if s.execute != nil {
		return s.execute(ctx, call)
	}
	return tool.Response{ID: call.ID, Name: s.name, Content: "done"}, nil
}

func (s *stubTool) EvaluationChecks() []string { return s.checks }
func (s *stubTool) Exclusive() bool            { return s.exclusive }
func (s *stubTool) Enabled() bool              { return s.enabled }
func (s *stubTool) TakesControl() bool         { return false }

func names(tools []tool.Tool) []string {
	out := []string{}
	for _, t := range tools {
		out = append(out, t.Name())
	}
	return out
}

func TestFilter_Available(t *testing.T) {
	search := &stubTool{name: "search", enabled: true}
	finish := &stubTool{name: "finish", enabled: true, exclusive: true}
	broken := &stubTool{name: "broken", enabled: false}
	notes := &stubTool{name: "notes", enabled: true}

	tests := []struct {
		name     string
		tools    []tool.Tool
		choices  []string
		disabled []string
		want     []string
	}{
		{
			"disabled tools dropped",
			[]tool.Tool{search, broken, notes},
			nil, nil,
			[]string{"search", "notes"},
		},
		{
			"deny list dropped",
			[]tool.Tool{search, notes},
			nil, []string{"notes"},
			[]string{"search"},
		},
		{
			"allow list narrows",
			[]tool.Tool{search, notes},
			[]string{"notes"}, nil,
			[]string{"notes"},
		},
		{
			"unforced exclusive dropped",
			[]tool.Tool{search, finish, notes},
			nil, nil,
			[]string{"search", "notes"},
		},
		{
			"forced exclusive wins alone",
			[]tool.Tool{search, finish, notes},
			[]string{"finish", "notes"}, nil,
			[]string{"finish"},
		},
		{
			"deny beats force",
			[]tool.Tool{search, finish},
			[]string{"finish"}, []string{"finish"},
			[]string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewFilter(tt.tools, tt.choices, tt.disabled)
			assert.Equal(t, tt.want, names(f.Available()))
		})
	}
}

func TestFilter_ExclusiveForcedStopsScan(t *testing.T) {
	first := &stubTool{name: "first", enabled: true, exclusive: true}
	second := &stubTool{name: "second", enabled: true, exclusive: true}

	f := NewFilter([]tool.Tool{first, second}, []string{"first", "second"}, nil)

	// Both are exclusive and forced; the first surviving one takes the turn.
	assert.Equal(t, []string{"first"}, names(f.Available()))
}

func TestFilter_ForceTool(t *testing.T) {
	search := &stubTool{name: "search", enabled: true}
	finish := &stubTool{name: "finish", enabled: true, exclusive: true}

	f := NewFilter([]tool.Tool{search, finish}, nil, nil)
	assert.Equal(t, []string{"search"}, names(f.Available()))

	require.NoError(t, f.ForceTool("finish"))
	assert.True(t, f.Forced("finish"))
	assert.Equal(t, []string{"finish"}, names(f.Available()))

	f.ClearForced()
	assert.False(t, f.Forced("finish"))
	assert.Equal(t, []string{"search"}, names(f.Available()))
}

func TestFilter_ForceToolUnknown(t *testing.T) {
	f := NewFilter([]tool.Tool{&stubTool{name: "search", enabled: true}}, nil, nil)

	err := f.ForceTool("missing")
	require.Error(t, err)

	var notFound *tool.NotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "missing", notFound.Name)
}

func TestFilter_ForceToolIdempotent(t *testing.T) {
	search := &stubTool{name: "search", enabled: true}
	f := NewFilter([]tool.Tool{search}, nil, nil)

	require.NoError(t, f.ForceTool("search"))
	require.NoError(t, f.ForceTool("search"))

	assert.Equal(t, []string{"search"}, names(f.Available()))
}

func TestFilter_CacheStableAcrossReads(t *testing.T) {
	search := &stubTool{name: "search", enabled: true}
	f := NewFilter([]tool.Tool{search}, nil, nil)

	first := f.Available()
	second := f.Available()
	assert.Equal(t, names(first), names(second))
}
