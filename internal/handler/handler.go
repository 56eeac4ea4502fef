// Package handler is the companion JSON API that exposes one study session
// to a local UI.
package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	appI18n "github.com/pavelanni/studyhelper/internal/i18n"
	"github.com/pavelanni/studyhelper/internal/model"
	"github.com/pavelanni/studyhelper/internal/session"
	"github.com/pavelanni/studyhelper/internal/store"
	"github.com/pavelanni/studyhelper/internal/validate"
)

// multipartOverhead is the room left for the prompt field and part headers.
const multipartOverhead = 1 << 20

// Config holds the API settings.
type Config struct {
	// AccessPasswordHash is a bcrypt hash. Empty leaves the API open.
	AccessPasswordHash string
	SecureCookies      bool
	RateLimitRPS       float64
	RateLimitBurst     int
}

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	session *session.Controller
	store   *store.Store
	config  Config
}

// New creates a new Handler. st may be nil when no access password is set;
// the downloads listing is then empty.
func New(sess *session.Controller, st *store.Store, cfg Config) (*Handler, error) {
	if cfg.AccessPasswordHash != "" && st == nil {
		return nil, errors.New("access password requires a database for tokens")
	}
	return &Handler{session: sess, store: st, config: cfg}, nil
}

// Router builds the full route tree with middleware.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(appI18n.Middleware())
	r.Use(RateLimit(h.config.RateLimitRPS, h.config.RateLimitBurst))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Post("/auth/login", h.handleLogin)
	r.Post("/auth/logout", h.handleLogout)

	r.Group(func(r chi.Router) {
		r.Use(h.requireAccess)
		h.Routes(r)
	})
	return r
}

// Routes registers the session routes.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/session", h.handleSession)
	r.Post("/session/upload", h.handleUpload)
	r.Post("/session/reset", h.handleReset)

	r.Get("/quiz", h.handleQuiz)
	r.Post("/quiz/answers/{index}", h.handleAnswer)
	r.Post("/quiz/flashcards/{index}/flip", h.handleFlip)
	r.Post("/quiz/reveal", h.handleReveal)
	r.Post("/quiz/reset", h.handleQuizReset)

	r.Get("/chat", h.handleChat)
	r.Post("/chat/messages", h.handleSendMessage)
	r.Delete("/chat", h.handleClearChat)

	r.Get("/exports", h.handleExports)
	r.Post("/exports/{kind}", h.handleExport)
	r.Get("/downloads", h.handleDownloads)
}

type sessionResponse struct {
	session.Snapshot
	Error string `json:"error,omitempty"`
}

func (h *Handler) handleSession(w http.ResponseWriter, r *http.Request) {
	resp := sessionResponse{Snapshot: h.session.Snapshot()}
	if resp.State == session.StateFailed {
		resp.Error = errorMessage(r.Context(), h.session.Failure())
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, validate.MaxUploadSize+multipartOverhead)
	if err := r.ParseMultipartForm(validate.MaxUploadSize + multipartOverhead); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, r, &validate.Error{Field: "Size", Reason: validate.ReasonTooLarge})
			return
		}
		writeMessage(w, http.StatusBadRequest, appI18n.T(r.Context(), "ErrBadRequest"))
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, hdr, err := r.FormFile("image")
	if err != nil {
		writeMessage(w, http.StatusBadRequest, appI18n.T(r.Context(), "ErrBadRequest"))
		return
	}
	defer file.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, file); err != nil {
		writeMessage(w, http.StatusBadRequest, appI18n.T(r.Context(), "ErrBadRequest"))
		return
	}

	mediaType := hdr.Header.Get("Content-Type")
	if mediaType == "" || mediaType == "application/octet-stream" {
		mediaType = validate.DetectMediaType(buf.Bytes())
	}

	cand := model.UploadCandidate{
		Data:        buf.Bytes(),
		Filename:    hdr.Filename,
		MediaType:   mediaType,
		Size:        hdr.Size,
		Instruction: r.FormValue("prompt"),
	}
	if err := h.session.Submit(r.Context(), cand); err != nil {
		writeError(w, r, err)
		return
	}

	snap := h.session.Snapshot()
	if h.store != nil && snap.Document != nil {
		err := h.store.RememberDocument(r.Context(), model.DocumentSummary{
			DocumentID: snap.Document.DocumentID,
			UserPrompt: snap.Document.UserPrompt,
			Filename:   hdr.Filename,
		})
		if err != nil {
			slog.Warn("remember document", "document_id", snap.Document.DocumentID, "error", err)
		}
	}
	writeJSON(w, http.StatusOK, sessionResponse{Snapshot: snap})
}

func (h *Handler) handleReset(w http.ResponseWriter, r *http.Request) {
	if err := h.session.Reset(); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{Snapshot: h.session.Snapshot()})
}

// study returns the active study or writes a 409 and returns nil.
func (h *Handler) study(w http.ResponseWriter, r *http.Request) *session.Study {
	s := h.session.Study()
	if s == nil {
		writeError(w, r, errNoDocument)
		return nil
	}
	return s
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": strings.TrimSpace(msg)})
}
