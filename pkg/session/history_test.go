package session

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drover-ai/drover/pkg/tool"
)

func TestHistory_WriteThrough(t *testing.T) {
	store := setupTestStore(t)

	h, err := NewHistory(store, "chat")
	require.NoError(t, err)
	assert.Empty(t, h.Messages())

	h.AppendUser("help me")
	h.AppendAssistant("let me check", []tool.Call{
		{ID: "call-1", Name: "search", Arguments: map[string]interface{}{"q": "go"}},
	})
	h.AppendToolResponses([]tool.Response{
		{ID: "call-1", Name: "search", Content: "three results"},
		{ID: "call-2", Name: "search", ErrorMessage: "backend down"},
	})

	messages := h.Messages()
	require.Len(t, messages, 4)
	assert.Equal(t, "user", messages[0].Role)
	assert.Equal(t, "tool", messages[2].Role)
	assert.Equal(t, "three results", messages[2].Content)

	// Failed responses surface their error message as content.
	assert.Equal(t, "backend down", messages[3].Content)
	assert.Equal(t, "call-2", messages[3].ToolCallID)

	// Everything reached the store too.
	stored, err := store.LoadMessages("chat")
	require.NoError(t, err)
	assert.Len(t, stored, 4)
}

func TestHistory_RestoresStoredConversation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.db")

	store, err := New(path)
	require.NoError(t, err)

	h, err := NewHistory(store, "chat")
	require.NoError(t, err)
	h.AppendUser("remember this")
	h.AppendAssistant("noted", nil)
	require.NoError(t, store.Close())

	reopened, err := New(path)
	require.NoError(t, err)
	defer reopened.Close()

	restored, err := NewHistory(reopened, "chat")
	require.NoError(t, err)

	messages := restored.Messages()
	require.Len(t, messages, 2)
	assert.Equal(t, "remember this", messages[0].Content)
	assert.Equal(t, "noted", messages[1].Content)
}
