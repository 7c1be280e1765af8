package session

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/drover-ai/drover/pkg/agent"
	"github.com/drover-ai/drover/pkg/tool"
)

// History adapts the store to the agent loop's History contract for one
// session. Reads come from a write-through in-memory copy so the loop never
// re-queries mid-turn.
type History struct {
	store      *Store
	sessionKey string
	messages   []agent.Message
}

// NewHistory loads the session's stored messages and returns a history bound
// to it.
func NewHistory(store *Store, sessionKey string) (*History, error) {
	stored, err := store.LoadMessages(sessionKey)
	if err != nil {
		return nil, err
	}

	messages := make([]agent.Message, 0, len(stored))
	for _, msg := range stored {
		messages = append(messages, agent.Message{
			Role:       msg.Role,
			Content:    msg.Content,
			ToolCalls:  msg.ToolCalls,
			ToolCallID: msg.ToolCallID,
			Metadata:   msg.Metadata,
		})
	}

	return &History{store: store, sessionKey: sessionKey, messages: messages}, nil
}

// AppendUser records the user message that opens the turn.
func (h *History) AppendUser(text string) {
	h.append(agent.Message{Role: "user", Content: text})
}

func (h *History) Messages() []agent.Message {
	out := make([]agent.Message, len(h.messages))
	copy(out, h.messages)
	return out
}

func (h *History) AppendAssistant(text string, calls []tool.Call) {
	h.append(agent.Message{Role: "assistant", Content: text, ToolCalls: calls})
}

func (h *History) AppendToolResponses(responses []tool.Response) {
	for _, resp := range responses {
		content := resp.Content
		if !resp.Successful() {
			content = resp.ErrorMessage
		}
		h.append(agent.Message{Role: "tool", Content: content, ToolCallID: resp.ID})
	}
}

func (h *History) append(msg agent.Message) {
	h.messages = append(h.messages, msg)

	err := h.store.AppendMessage(h.sessionKey, Message{
		Role:       msg.Role,
		Content:    msg.Content,
		ToolCalls:  msg.ToolCalls,
		ToolCallID: msg.ToolCallID,
		Metadata:   msg.Metadata,
		Timestamp:  time.Now().UTC(),
	})
	if err != nil {
		// The in-memory turn continues; persistence failures must not end it.
		log.Error().Str("sessionKey", h.sessionKey).Err(err).Msg("Failed to persist message")
	}
}
