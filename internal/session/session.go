// Package session drives one study session: it accepts an upload, waits for
// the analysis and binds the quiz, chat and export state to the resulting document.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pavelanni/studyhelper/internal/backend"
	"github.com/pavelanni/studyhelper/internal/chat"
	"github.com/pavelanni/studyhelper/internal/export"
	"github.com/pavelanni/studyhelper/internal/model"
	"github.com/pavelanni/studyhelper/internal/quiz"
	"github.com/pavelanni/studyhelper/internal/validate"
)

// State is the lifecycle state of a session.
type State string

const (
	StateIdle       State = "idle"
	StateSubmitting State = "submitting"
	StateReady      State = "ready"
	StateFailed     State = "failed"
)

var (
	// ErrBusy is returned while an upload is outstanding.
	ErrBusy = errors.New("an upload is already in progress")
	// ErrNotIdle is returned when submitting before the previous document was reset.
	ErrNotIdle = errors.New("session already has a document, reset it first")
)

// DocumentService analyzes uploaded documents.
type DocumentService interface {
	Upload(ctx context.Context, c model.UploadCandidate) (model.DocumentBundle, error)
}

// Study is everything bound to one active document. It is built when the
// document is adopted and discarded with it.
type Study struct {
	Bundle model.DocumentBundle
	Quiz   *quiz.Engine
	Chat   *chat.Manager
	Export *export.Coordinator
}

// Config wires a Controller to its collaborators.
type Config struct {
	Documents DocumentService
	Chat      chat.Service
	Exports   export.Service
	Saver     export.Saver
	// Gate defaults to validate.New().
	Gate          *validate.Gate
	ChatOptions   []chat.Option
	ExportOptions []export.Option
}

// Controller is the session state machine: Idle, Submitting, then Ready or Failed.
type Controller struct {
	cfg Config

	mu      sync.Mutex
	state   State
	study   *Study
	reason  string
	failure error
}

// New creates an idle session.
func New(cfg Config) *Controller {
	if cfg.Gate == nil {
		cfg.Gate = validate.New()
	}
	return &Controller{cfg: cfg, state: StateIdle}
}

// Submit validates the candidate and, if it passes, uploads it for analysis.
// A rejected candidate returns a *validate.Error and leaves the session idle.
// Any upload failure moves the session to Failed with a short reason.
func (c *Controller) Submit(ctx context.Context, cand model.UploadCandidate) error {
	c.mu.Lock()
	switch c.state {
	case StateSubmitting:
		c.mu.Unlock()
		return ErrBusy
	case StateReady, StateFailed:
		c.mu.Unlock()
		return ErrNotIdle
	}
	if err := c.cfg.Gate.Validate(cand); err != nil {
		c.mu.Unlock()
		return err
	}
	c.state = StateSubmitting
	c.mu.Unlock()

	slog.Info("submitting document", "filename", cand.Filename, "media_type", cand.MediaType, "size", cand.Size)
	bundle, err := c.cfg.Documents.Upload(ctx, cand)
	if err == nil {
		if verr := bundle.Validate(); verr != nil {
			err = &backend.MalformedResponseError{Op: "upload document", Detail: verr.Error()}
		}
	}
	if err != nil {
		c.mu.Lock()
		c.state = StateFailed
		c.reason = backend.Describe(err)
		c.failure = err
		c.mu.Unlock()
		slog.Warn("document upload failed", "error", err)
		return fmt.Errorf("submit document: %w", err)
	}

	c.adopt(ctx, bundle)
	return nil
}

// Adopt makes an already analyzed document the active one, as if it had just
// been uploaded. It is only allowed from Idle.
func (c *Controller) Adopt(ctx context.Context, bundle model.DocumentBundle) error {
	if err := bundle.Validate(); err != nil {
		return fmt.Errorf("adopt document: %w", err)
	}
	c.mu.Lock()
	switch c.state {
	case StateSubmitting:
		c.mu.Unlock()
		return ErrBusy
	case StateReady, StateFailed:
		c.mu.Unlock()
		return ErrNotIdle
	}
	c.state = StateSubmitting
	c.mu.Unlock()

	c.adopt(ctx, bundle)
	return nil
}

// adopt swaps in a fresh Study for bundle, then loads the remembered chat history.
func (c *Controller) adopt(ctx context.Context, bundle model.DocumentBundle) {
	study := &Study{
		Bundle: bundle,
		Quiz:   quiz.New(bundle.QuizQuestions),
		Chat:   chat.NewManager(c.cfg.Chat, bundle, c.cfg.ChatOptions...),
		Export: export.NewCoordinator(bundle.DocumentID, c.cfg.Exports, c.cfg.Saver, c.cfg.ExportOptions...),
	}

	c.mu.Lock()
	c.state = StateReady
	c.study = study
	c.reason = ""
	c.failure = nil
	c.mu.Unlock()
	slog.Info("document ready", "document_id", bundle.DocumentID, "questions", len(bundle.QuizQuestions))

	study.Chat.Initialize(ctx)
}

// Reset discards the active document and returns to Idle.
func (c *Controller) Reset() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateSubmitting {
		return ErrBusy
	}
	c.state = StateIdle
	c.study = nil
	c.reason = ""
	c.failure = nil
	return nil
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Study returns the state bound to the active document, or nil when not Ready.
func (c *Controller) Study() *Study {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.study
}

// Bundle returns the active document, if any.
func (c *Controller) Bundle() (model.DocumentBundle, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.study == nil {
		return model.DocumentBundle{}, false
	}
	return c.study.Bundle, true
}

// FailureReason returns why the last upload failed. It is empty unless the state is Failed.
func (c *Controller) FailureReason() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reason
}

// Failure returns the error behind the Failed state, or nil.
func (c *Controller) Failure() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failure
}

// Snapshot is a consistent view of the session.
type Snapshot struct {
	State         State                 `json:"state"`
	FailureReason string                `json:"failureReason,omitempty"`
	Document      *model.DocumentBundle `json:"document,omitempty"`
}

// Snapshot returns the state, failure reason and active document read under one lock.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Snapshot{State: c.state, FailureReason: c.reason}
	if c.study != nil {
		b := c.study.Bundle
		s.Document = &b
	}
	return s
}
