// Package chat manages the tutor conversation scoped to one document.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/pavelanni/studyhelper/internal/model"
)

var (
	// ErrEmptyMessage is returned when the message is empty after trimming.
	ErrEmptyMessage = errors.New("message is empty")
	// ErrSendInFlight is returned while an earlier send has not completed.
	ErrSendInFlight = errors.New("a message is already being sent")
	// ErrClearInFlight is returned while a clear request has not completed.
	ErrClearInFlight = errors.New("chat history is being cleared")
)

// Service is the remote chat collaborator.
type Service interface {
	History(ctx context.Context, documentID string) ([]model.ChatMessage, error)
	Send(ctx context.Context, documentID, text string) (model.ChatReply, error)
	Clear(ctx context.Context, documentID string) error
}

// SuggestedQuestions are offered while the conversation holds only the greeting.
var SuggestedQuestions = []string{
	"Can you explain the main concepts in simpler terms?",
	"What are the most important points I should remember?",
	"Can you give me some examples related to this content?",
	"How does this relate to real-world applications?",
	"What should I focus on when studying this material?",
}

// Greeting builds the synthetic assistant message shown before any history exists.
func Greeting(prompt string) string {
	return fmt.Sprintf("Hi! I'm your AI tutor. I can help you understand your uploaded content better. Ask me anything about: \"%s\".", prompt)
}

// ClearedGreeting builds the synthetic assistant message shown after the history is cleared.
func ClearedGreeting(prompt string) string {
	return fmt.Sprintf("Chat cleared! I'm ready to help you with your content: \"%s\".", prompt)
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithGreetings replaces the greeting texts, e.g. with localized ones.
func WithGreetings(greeting, cleared func(prompt string) string) Option {
	return func(m *Manager) {
		if greeting != nil {
			m.greeting = greeting
		}
		if cleared != nil {
			m.cleared = cleared
		}
	}
}

// Manager owns the conversation log of one document. The log is append-only;
// it is only ever replaced wholesale by history load or clear.
type Manager struct {
	svc        Service
	documentID string
	prompt     string
	now        func() time.Time
	greeting   func(string) string
	cleared    func(string) string

	mu       sync.Mutex
	log      []model.ChatMessage
	gen      uint64
	sending  bool
	clearing bool
	lastErr  error
}

// NewManager creates the conversation for bundle, seeded with the greeting.
// Seeding never calls the service.
func NewManager(svc Service, bundle model.DocumentBundle, opts ...Option) *Manager {
	m := &Manager{
		svc:        svc,
		documentID: bundle.DocumentID,
		prompt:     bundle.UserPrompt,
		now:        time.Now,
		greeting:   Greeting,
		cleared:    ClearedGreeting,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.log = []model.ChatMessage{m.assistantMessage(m.greeting(m.prompt))}
	return m
}

// DocumentID returns the document this conversation is bound to.
func (m *Manager) DocumentID() string {
	return m.documentID
}

// Initialize loads remembered history. A non-empty history replaces the log verbatim;
// an empty history or a failed load keeps the greeting. Failures are logged, not returned.
func (m *Manager) Initialize(ctx context.Context) {
	m.mu.Lock()
	gen := m.gen
	m.mu.Unlock()

	history, err := m.svc.History(ctx, m.documentID)
	if err != nil {
		slog.Warn("load chat history", "document_id", m.documentID, "error", err)
		return
	}
	if len(history) == 0 {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gen != gen || m.sending || m.clearing {
		// The user already moved on; history would reorder what they see.
		slog.Debug("discarding stale chat history", "document_id", m.documentID)
		return
	}
	log := make([]model.ChatMessage, len(history))
	for i, msg := range history {
		msg.Delivery = model.DeliveryConfirmed
		log[i] = msg
	}
	m.log = log
	m.gen++
}

// Send appends the user's message, asks the service for a reply and appends it.
// If the service fails the user's message stays in the log, marked unconfirmed,
// and the failure is kept as the transient error.
func (m *Manager) Send(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyMessage
	}

	m.mu.Lock()
	if m.sending {
		m.mu.Unlock()
		return ErrSendInFlight
	}
	if m.clearing {
		m.mu.Unlock()
		return ErrClearInFlight
	}
	m.sending = true
	m.lastErr = nil
	idx := m.appendLocked(model.ChatMessage{
		Role:      model.RoleUser,
		Content:   text,
		Timestamp: m.now(),
		Delivery:  model.DeliveryPending,
	})
	m.mu.Unlock()

	reply, err := m.svc.Send(ctx, m.documentID, text)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sending = false
	if err != nil {
		m.log[idx].Delivery = model.DeliveryUnconfirmed
		m.lastErr = err
		slog.Warn("send chat message", "document_id", m.documentID, "error", err)
		return fmt.Errorf("send message: %w", err)
	}
	m.log[idx].Delivery = model.DeliveryConfirmed
	ts := reply.Timestamp
	if ts.IsZero() {
		ts = m.now()
	}
	m.appendLocked(model.ChatMessage{
		Role:      model.RoleAssistant,
		Content:   reply.Content,
		Timestamp: ts,
		Delivery:  model.DeliveryConfirmed,
	})
	return nil
}

// Clear asks the service to forget the conversation. On success the log restarts
// with a fresh greeting; on failure it is left untouched.
func (m *Manager) Clear(ctx context.Context) error {
	m.mu.Lock()
	if m.sending {
		m.mu.Unlock()
		return ErrSendInFlight
	}
	if m.clearing {
		m.mu.Unlock()
		return ErrClearInFlight
	}
	m.clearing = true
	m.mu.Unlock()

	err := m.svc.Clear(ctx, m.documentID)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.clearing = false
	if err != nil {
		m.lastErr = err
		slog.Warn("clear chat history", "document_id", m.documentID, "error", err)
		return fmt.Errorf("clear chat: %w", err)
	}
	m.log = []model.ChatMessage{m.assistantMessage(m.cleared(m.prompt))}
	m.lastErr = nil
	m.gen++
	return nil
}

// Messages returns a copy of the conversation log.
func (m *Manager) Messages() []model.ChatMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.ChatMessage, len(m.log))
	copy(out, m.log)
	return out
}

// InFlight reports whether a send is outstanding.
func (m *Manager) InFlight() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sending
}

// LastError returns the transient error of the latest failed send or clear.
func (m *Manager) LastError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// Suggestions returns starter questions while the log holds only the greeting.
func (m *Manager) Suggestions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.log) != 1 || m.sending {
		return nil
	}
	return SuggestedQuestions
}

func (m *Manager) assistantMessage(content string) model.ChatMessage {
	return model.ChatMessage{
		Role:      model.RoleAssistant,
		Content:   content,
		Timestamp: m.now(),
		Delivery:  model.DeliveryConfirmed,
	}
}

// appendLocked appends msg and returns its index. Timestamps never go backwards:
// a reply stamped earlier than the last message (server clock skew) takes the last timestamp.
func (m *Manager) appendLocked(msg model.ChatMessage) int {
	if n := len(m.log); n > 0 && msg.Timestamp.Before(m.log[n-1].Timestamp) {
		msg.Timestamp = m.log[n-1].Timestamp
	}
	m.log = append(m.log, msg)
	m.gen++
	return len(m.log) - 1
}
