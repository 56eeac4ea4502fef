// Package llm is a tutor that answers document questions by calling an
// OpenAI-compatible model directly. It can stand in for the backend chat service.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/pavelanni/studyhelper/internal/backend"
	"github.com/pavelanni/studyhelper/internal/llm/prompts"
	"github.com/pavelanni/studyhelper/internal/model"
)

const defaultMaxHistory = 20

// ContextSource supplies the grounding text for a document.
type ContextSource interface {
	DocumentContext(ctx context.Context, documentID string) (string, error)
}

// Config configures a Tutor.
type Config struct {
	BaseURL string
	APIKey  string
	Model   string
	Style   prompts.Style
	// MaxHistory bounds how many earlier messages are sent with each question.
	MaxHistory int
}

type conversation struct {
	userPrompt string
	context    string
	grounded   bool
	messages   []model.ChatMessage
}

// Tutor keeps one conversation per document for the lifetime of the process.
type Tutor struct {
	api        *openai.Client
	model      string
	style      prompts.Style
	maxHistory int
	contexts   ContextSource
	now        func() time.Time

	mu    sync.Mutex
	convs map[string]*conversation
}

// New creates a tutor. contexts may be nil, in which case answers are not grounded.
func New(cfg Config, contexts ContextSource) *Tutor {
	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}
	if !prompts.IsValidStyle(string(cfg.Style)) {
		slog.Warn("invalid tutor style, using standard", "style", cfg.Style)
		cfg.Style = prompts.StyleStandard
	}
	if cfg.MaxHistory <= 0 {
		cfg.MaxHistory = defaultMaxHistory
	}
	return &Tutor{
		api:        openai.NewClientWithConfig(config),
		model:      cfg.Model,
		style:      cfg.Style,
		maxHistory: cfg.MaxHistory,
		contexts:   contexts,
		now:        time.Now,
		convs:      make(map[string]*conversation),
	}
}

// SetUserPrompt tells the tutor what the student asked for when uploading.
func (t *Tutor) SetUserPrompt(documentID, userPrompt string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.conversationLocked(documentID).userPrompt = userPrompt
}

// History returns the conversation kept for the document.
func (t *Tutor) History(_ context.Context, documentID string) ([]model.ChatMessage, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.convs[documentID]
	if !ok {
		return nil, nil
	}
	out := make([]model.ChatMessage, len(c.messages))
	copy(out, c.messages)
	return out, nil
}

// Send asks the model about the document and records both sides of the exchange.
func (t *Tutor) Send(ctx context.Context, documentID, text string) (model.ChatReply, error) {
	const op = "tutor reply"

	t.ground(ctx, documentID)

	t.mu.Lock()
	c := t.conversationLocked(documentID)
	data := prompts.TutorData{UserPrompt: c.userPrompt, DocumentContext: c.context}
	history := c.messages
	if len(history) > t.maxHistory {
		history = history[len(history)-t.maxHistory:]
	}
	chatMsgs := make([]openai.ChatCompletionMessage, 0, len(history)+2)
	for _, m := range history {
		role := openai.ChatMessageRoleUser
		if m.Role == model.RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		chatMsgs = append(chatMsgs, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}
	t.mu.Unlock()

	systemPrompt, err := prompts.BuildTutorPrompt(t.style, data)
	if err != nil {
		return model.ChatReply{}, fmt.Errorf("build tutor prompt: %w", err)
	}
	chatMsgs = append([]openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleSystem, Content: systemPrompt}}, chatMsgs...)
	chatMsgs = append(chatMsgs, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: prompts.SanitizeMessage(text),
	})

	asked := t.now()
	resp, err := t.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       t.model,
		Messages:    chatMsgs,
		Temperature: 0.5,
	})
	if err != nil {
		return model.ChatReply{}, classify(op, err)
	}
	if len(resp.Choices) == 0 {
		return model.ChatReply{}, &backend.MalformedResponseError{Op: op, Detail: "no choices"}
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return model.ChatReply{}, &backend.MalformedResponseError{Op: op, Detail: "empty answer"}
	}
	slog.Debug("tutor reply", "document_id", documentID, "tokens", resp.Usage.TotalTokens)

	answered := t.now()
	t.mu.Lock()
	c = t.conversationLocked(documentID)
	c.messages = append(c.messages,
		model.ChatMessage{Role: model.RoleUser, Content: text, Timestamp: asked, Delivery: model.DeliveryConfirmed},
		model.ChatMessage{Role: model.RoleAssistant, Content: content, Timestamp: answered, Delivery: model.DeliveryConfirmed},
	)
	t.mu.Unlock()

	return model.ChatReply{Content: content, Timestamp: answered}, nil
}

// Clear forgets the document's conversation. The grounding context is kept.
func (t *Tutor) Clear(_ context.Context, documentID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if c, ok := t.convs[documentID]; ok {
		c.messages = nil
	}
	return nil
}

// ground fetches the document context once per document. A failed fetch is
// retried on the next question.
func (t *Tutor) ground(ctx context.Context, documentID string) {
	if t.contexts == nil {
		return
	}
	t.mu.Lock()
	grounded := t.conversationLocked(documentID).grounded
	t.mu.Unlock()
	if grounded {
		return
	}

	text, err := t.contexts.DocumentContext(ctx, documentID)
	if err != nil {
		slog.Warn("load document context", "document_id", documentID, "error", err)
		return
	}

	t.mu.Lock()
	c := t.conversationLocked(documentID)
	c.context = text
	c.grounded = true
	t.mu.Unlock()
}

func (t *Tutor) conversationLocked(documentID string) *conversation {
	c, ok := t.convs[documentID]
	if !ok {
		c = &conversation{}
		t.convs[documentID] = c
	}
	return c
}

// classify maps model API failures onto the backend error taxonomy so callers
// describe them the same way as chat service failures.
func classify(op string, err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &backend.ServiceError{Op: op, Status: apiErr.HTTPStatusCode, Message: apiErr.Message}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &backend.ServiceError{Op: op, Status: reqErr.HTTPStatusCode}
	}
	return &backend.NetworkError{Op: op, Err: err}
}
