package tool

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noopHandler(ctx context.Context, args map[string]interface{}) (string, error) {
	return "ok", nil
}

func TestNewFuncTool_Validation(t *testing.T) {
	tests := []struct {
		name     string
		toolName string
		cfg      FuncConfig
		handler  Handler
		wantErr  bool
	}{
		{"valid", "clock", FuncConfig{}, noopHandler, false},
		{"empty name", "", FuncConfig{}, noopHandler, true},
		{"nil handler", "clock", FuncConfig{}, nil, true},
		{
			"unnamed parameter",
			"clock",
			FuncConfig{Parameters: []Parameter{{Type: "string"}}},
			noopHandler,
			true,
		},
		{
			"invalid parameter type",
			"clock",
			FuncConfig{Parameters: []Parameter{{Name: "tz", Type: "timestamp"}}},
			noopHandler,
			true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewFuncTool(tt.toolName, tt.cfg, tt.handler)
			if tt.wantErr {
				var cfgErr *ConfigurationError
				assert.ErrorAs(t, err, &cfgErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestFuncTool_Execute(t *testing.T) {
	ft, err := NewFuncTool("greet", FuncConfig{
		Description: "greets a person",
		Parameters: []Parameter{
			{Name: "who", Type: "string", Description: "who to greet", Required: true},
		},
	}, func(ctx context.Context, args map[string]interface{}) (string, error) {
		return "hello " + args["who"].(string), nil
	})
	require.NoError(t, err)

	t.Run("valid arguments", func(t *testing.T) {
		resp, err := ft.Execute(context.Background(), Call{
			ID:        "call-1",
			Name:      "greet",
			Arguments: map[string]interface{}{"who": "world"},
		})
		require.NoError(t, err)
		assert.Equal(t, "call-1", resp.ID)
		assert.Equal(t, "hello world", resp.Content)
		assert.True(t, resp.Successful())
	})

	t.Run("missing required argument", func(t *testing.T) {
		_, err := ft.Execute(context.Background(), Call{ID: "call-2", Name: "greet"})
		require.Error(t, err)

		var execErr *ExecutionError
		require.ErrorAs(t, err, &execErr)
		assert.Equal(t, "greet", execErr.Tool)
	})

	t.Run("wrong argument type", func(t *testing.T) {
		_, err := ft.Execute(context.Background(), Call{
			ID:        "call-3",
			Name:      "greet",
			Arguments: map[string]interface{}{"who": 42},
		})

		var execErr *ExecutionError
		assert.ErrorAs(t, err, &execErr)
	})
}

func TestFuncTool_ExecuteHandlerError(t *testing.T) {
	cause := errors.New("backend unavailable")
	ft, err := NewFuncTool("flaky", FuncConfig{}, func(ctx context.Context, args map[string]interface{}) (string, error) {
		return "", cause
	})
	require.NoError(t, err)

	_, err = ft.Execute(context.Background(), Call{ID: "call-1", Name: "flaky"})
	require.Error(t, err)
	assert.ErrorIs(t, err, cause)
}

func TestFuncTool_Enabled(t *testing.T) {
	enabled := false

	tests := []struct {
		name string
		cfg  FuncConfig
		want bool
	}{
		{"default on", FuncConfig{}, true},
		{"explicitly off", FuncConfig{Enabled: &enabled}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ft, err := NewFuncTool("t", tt.cfg, noopHandler)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ft.Enabled())
		})
	}
}

func TestDefinition_InputSchema(t *testing.T) {
	def := Definition{
		Name: "search",
		Parameters: []Parameter{
			{Name: "query", Type: "string", Description: "search query", Required: true},
			{Name: "limit", Type: "integer", Description: "max results", Default: 5},
		},
	}

	schema := def.InputSchema()
	assert.Equal(t, "object", schema["type"])

	properties := schema["properties"].(map[string]interface{})
	require.Contains(t, properties, "query")
	require.Contains(t, properties, "limit")
	assert.Equal(t, 5, properties["limit"].(map[string]interface{})["default"])

	assert.Equal(t, []string{"query"}, schema["required"])
}
