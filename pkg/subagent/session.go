package subagent

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/drover-ai/drover/internal/observability"
	"github.com/drover-ai/drover/pkg/tool"
)

// ChatMemory persists a remembered remote chat id outside the session's
// lifetime. Implementations live in external short-term memory collaborators.
type ChatMemory interface {
	LoadChatID(assistantID string) (string, error)
	SaveChatID(assistantID, chatID string) error
}

// Subscriber receives session events. Replies passed to OnReply are read-only;
// subscribers must not mutate them.
type Subscriber interface {
	// OnWaiting fires when a call found the session lock held and is about
	// to block. Informational only.
	OnWaiting(assistantID string)

	// OnReply fires with the raw reply and its sequence number, before any
	// post-processing.
	OnReply(assistantID string, sequence uint64, reply *Reply)
}

// SessionConfig configures a sub-agent session guard.
type SessionConfig struct {
	AssistantID  string
	ReuseSession bool
	PollInterval time.Duration
	MaxWait      time.Duration
	Logger       zerolog.Logger
}

// Result is the post-processed outcome of one sub-agent execution.
type Result struct {
	Text       string
	Assessment string
	Sequence   uint64
	ChatID     string
	References []Reference
}

// Session guards one remote assistant session: a mutex held across the remote
// call when the session is reused, a monotonic sequence counter, and the
// remembered chat id.
type Session struct {
	cfg       SessionConfig
	transport Transport
	memory    ChatMemory
	logger    zerolog.Logger

	mu  sync.Mutex // session lock, held across the remote call when reusing
	seq uint64     // last issued sequence number, atomic

	chatMu      sync.Mutex
	chatID      string
	subscribers []Subscriber
}

// NewSession creates a session guard. When memory is non-nil, a previously
// remembered chat id is restored from it.
func NewSession(cfg SessionConfig, transport Transport, memory ChatMemory) (*Session, error) {
	if cfg.AssistantID == "" {
		return nil, &tool.ConfigurationError{Reason: "sub-agent assistant id is required"}
	}
	if transport == nil {
		return nil, &tool.ConfigurationError{Reason: "sub-agent transport is required"}
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = 5 * time.Minute
	}

	observability.EnsureRegistered()

	s := &Session{
		cfg:       cfg,
		transport: transport,
		memory:    memory,
		logger:    cfg.Logger.With().Str("assistant", cfg.AssistantID).Logger(),
	}

	if memory != nil {
		chatID, err := memory.LoadChatID(cfg.AssistantID)
		if err != nil {
			s.logger.Warn().Err(err).Msg("Failed to restore remembered chat id")
		} else if chatID != "" {
			s.chatID = chatID
		}
	}

	return s, nil
}

// Subscribe registers a subscriber for session events.
func (s *Session) Subscribe(sub Subscriber) {
	s.chatMu.Lock()
	defer s.chatMu.Unlock()
	s.subscribers = append(s.subscribers, sub)
}

// ChatID returns the currently remembered remote chat id, if any.
func (s *Session) ChatID() string {
	s.chatMu.Lock()
	defer s.chatMu.Unlock()
	return s.chatID
}

// Sequence returns the last issued sequence number.
func (s *Session) Sequence() uint64 {
	return atomic.LoadUint64(&s.seq)
}

// Execute forwards userMessage to the remote assistant and waits for its
// reply. With session reuse on, the lock is held for the full remote call;
// otherwise calls run fully concurrently and server-side ordering is
// undefined, which is accepted for stateless sub-agents.
func (s *Session) Execute(ctx context.Context, userMessage string) (*Result, error) {
	if s.cfg.ReuseSession {
		if !s.mu.TryLock() {
			s.notifyWaiting()
			s.mu.Lock()
		}
		defer s.mu.Unlock()
	}

	// The sequence is issued before the remote call so queued callers see
	// strictly increasing numbers even when the call itself is slow.
	sequence := atomic.AddUint64(&s.seq, 1)
	chatID := s.ChatID()

	s.logger.Debug().
		Uint64("sequence", sequence).
		Bool("reuse_session", s.cfg.ReuseSession).
		Msg("Dispatching sub-agent message")

	start := time.Now()
	reply, err := s.transport.SendMessageAndWait(
		ctx, s.cfg.AssistantID, userMessage, chatID, s.cfg.PollInterval, s.cfg.MaxWait,
	)
	observability.RecordSubAgentCall(s.cfg.AssistantID, time.Since(start), err == nil)

	if err != nil {
		if errors.Is(err, ErrWaitTimeout) {
			return nil, &tool.SubAgentTimeoutError{
				Assistant: s.cfg.AssistantID,
				MaxWait:   s.cfg.MaxWait,
			}
		}
		return nil, err
	}

	s.rememberChatID(reply.ChatID)
	s.notifyReply(sequence, reply)

	text, refs := RenumberReferences(reply.Text, s.cfg.AssistantID, sequence)

	return &Result{
		Text:       text,
		Assessment: reply.Assessment,
		Sequence:   sequence,
		ChatID:     reply.ChatID,
		References: refs,
	}, nil
}

// rememberChatID persists the remote chat id first-writer-wins.
func (s *Session) rememberChatID(chatID string) {
	if chatID == "" {
		return
	}

	s.chatMu.Lock()
	if s.chatID != "" {
		s.chatMu.Unlock()
		return
	}
	s.chatID = chatID
	s.chatMu.Unlock()

	if s.memory != nil {
		if err := s.memory.SaveChatID(s.cfg.AssistantID, chatID); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to persist remembered chat id")
		}
	}
}

func (s *Session) notifyWaiting() {
	observability.RecordSubAgentLockWait(s.cfg.AssistantID)
	s.logger.Debug().Msg("Session lock held, waiting")
	for _, sub := range s.snapshot() {
		sub.OnWaiting(s.cfg.AssistantID)
	}
}

func (s *Session) notifyReply(sequence uint64, reply *Reply) {
	for _, sub := range s.snapshot() {
		sub.OnReply(s.cfg.AssistantID, sequence, reply)
	}
}

func (s *Session) snapshot() []Subscriber {
	s.chatMu.Lock()
	defer s.chatMu.Unlock()
	subs := make([]Subscriber, len(s.subscribers))
	copy(subs, s.subscribers)
	return subs
}
