package session

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drover-ai/drover/pkg/tool"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStore_CreateSession(t *testing.T) {
	store := setupTestStore(t)

	err := store.CreateSession("test-session")
	assert.NoError(t, err)

	// Creating again should succeed
	err = store.CreateSession("test-session")
	assert.NoError(t, err)

	sessions, err := store.ListSessions()
	require.NoError(t, err)
	assert.Equal(t, []string{"test-session"}, sessions)
}

func TestStore_ValidateSessionKey(t *testing.T) {
	tests := []struct {
		name      string
		key       string
		shouldErr bool
	}{
		{"valid key", "test-session", false},
		{"empty key", "", true},
		{"path traversal", "../etc/passwd", true},
		{"forward slash", "test/session", true},
		{"backslash", "test\\session", true},
		{"null byte", "test\x00session", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateSessionKey(tt.key)
			if tt.shouldErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestStore_AppendAndLoad(t *testing.T) {
	store := setupTestStore(t)

	require.NoError(t, store.AppendMessage("chat", Message{Role: "user", Content: "hello"}))
	require.NoError(t, store.AppendMessage("chat", Message{
		Role:    "assistant",
		Content: "let me check",
		ToolCalls: []tool.Call{
			{ID: "call-1", Name: "search", Arguments: map[string]interface{}{"q": "go"}},
		},
	}))
	require.NoError(t, store.AppendMessage("chat", Message{
		Role:       "tool",
		Content:    "three results",
		ToolCallID: "call-1",
	}))

	messages, err := store.LoadMessages("chat")
	require.NoError(t, err)
	require.Len(t, messages, 3)

	assert.Equal(t, "user", messages[0].Role)
	assert.Equal(t, "hello", messages[0].Content)
	assert.NotEmpty(t, messages[0].ID)

	require.Len(t, messages[1].ToolCalls, 1)
	assert.Equal(t, "search", messages[1].ToolCalls[0].Name)
	assert.Equal(t, "go", messages[1].ToolCalls[0].Arguments["q"])

	assert.Equal(t, "call-1", messages[2].ToolCallID)
}

func TestStore_AppendValidation(t *testing.T) {
	store := setupTestStore(t)

	assert.Error(t, store.AppendMessage("chat", Message{Content: "no role"}))
	assert.Error(t, store.AppendMessage("chat", Message{Role: "user"}))
	assert.Error(t, store.AppendMessage("../escape", Message{Role: "user", Content: "x"}))
}

func TestStore_LoadMissingSession(t *testing.T) {
	store := setupTestStore(t)

	messages, err := store.LoadMessages("never-created")
	require.NoError(t, err)
	assert.Empty(t, messages)
}

func TestStore_DeleteSession(t *testing.T) {
	store := setupTestStore(t)

	require.NoError(t, store.AppendMessage("chat", Message{Role: "user", Content: "hello"}))
	require.NoError(t, store.DeleteSession("chat"))

	sessions, err := store.ListSessions()
	require.NoError(t, err)
	assert.Empty(t, sessions)

	// Messages go with the session.
	messages, err := store.LoadMessages("chat")
	require.NoError(t, err)
	assert.Empty(t, messages)
}

func TestStore_SessionInfo(t *testing.T) {
	store := setupTestStore(t)

	require.NoError(t, store.AppendMessage("chat", Message{Role: "user", Content: "hello"}))
	require.NoError(t, store.AppendMessage("chat", Message{Role: "assistant", Content: "hi"}))

	info, err := store.GetSessionInfo("chat")
	require.NoError(t, err)
	assert.Equal(t, "chat", info.SessionKey)
	assert.Equal(t, 2, info.MessageCount)
	assert.False(t, info.Archived)
	assert.WithinDuration(t, time.Now(), info.LastModified, time.Minute)

	_, err = store.GetSessionInfo("missing")
	assert.Error(t, err)
}

func TestStore_ArchiveSession(t *testing.T) {
	store := setupTestStore(t)

	require.NoError(t, store.CreateSession("chat"))
	require.NoError(t, store.ArchiveSession("chat"))

	info, err := store.GetSessionInfo("chat")
	require.NoError(t, err)
	assert.True(t, info.Archived)

	assert.Error(t, store.ArchiveSession("missing"))
}

func TestStore_PruneSession(t *testing.T) {
	store := setupTestStore(t)

	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 10; i++ {
		require.NoError(t, store.AppendMessage("chat", Message{
			Role:      "user",
			Content:   string(rune('a' + i)),
			Timestamp: base.Add(time.Duration(i) * time.Second),
		}))
	}

	require.NoError(t, store.PruneSession("chat", 3))

	messages, err := store.LoadMessages("chat")
	require.NoError(t, err)
	require.Len(t, messages, 3)

	// The most recent entries survive, still in order.
	assert.Equal(t, "h", messages[0].Content)
	assert.Equal(t, "j", messages[2].Content)
}

func TestStore_ChatMemory(t *testing.T) {
	store := setupTestStore(t)

	chatID, err := store.LoadChatID("researcher")
	require.NoError(t, err)
	assert.Empty(t, chatID)

	require.NoError(t, store.SaveChatID("researcher", "chat-1"))

	// First writer wins.
	require.NoError(t, store.SaveChatID("researcher", "chat-2"))

	chatID, err = store.LoadChatID("researcher")
	require.NoError(t, err)
	assert.Equal(t, "chat-1", chatID)

	require.NoError(t, store.ForgetChatID("researcher"))
	chatID, err = store.LoadChatID("researcher")
	require.NoError(t, err)
	assert.Empty(t, chatID)
}

func TestStore_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.db")

	store, err := New(path)
	require.NoError(t, err)
	require.NoError(t, store.AppendMessage("chat", Message{Role: "user", Content: "hello"}))
	require.NoError(t, store.SaveChatID("researcher", "chat-1"))
	require.NoError(t, store.Close())

	reopened, err := New(path)
	require.NoError(t, err)
	defer reopened.Close()

	messages, err := reopened.LoadMessages("chat")
	require.NoError(t, err)
	require.Len(t, messages, 1)

	chatID, err := reopened.LoadChatID("researcher")
	require.NoError(t, err)
	assert.Equal(t, "chat-1", chatID)
}
