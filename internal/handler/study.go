package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/studyhelper/internal/export"
	appI18n "github.com/pavelanni/studyhelper/internal/i18n"
	"github.com/pavelanni/studyhelper/internal/model"
	"github.com/pavelanni/studyhelper/internal/quiz"
	"github.com/pavelanni/studyhelper/internal/session"
)

type quizResponse struct {
	Questions []quiz.QuestionReview `json:"questions"`
	Revealed  bool                  `json:"revealed"`
	Answered  string                `json:"answered"`
	Score     *quiz.Score           `json:"score,omitempty"`
	ScoreLine string                `json:"scoreLine,omitempty"`
}

func (h *Handler) writeQuiz(w http.ResponseWriter, r *http.Request, s *session.Study) {
	e := s.Quiz
	resp := quizResponse{
		Questions: e.Review(),
		Revealed:  e.Revealed(),
		Answered:  appI18n.Tp(r.Context(), "QuestionsAnswered", e.AnsweredCount()),
	}
	if resp.Revealed {
		score := e.Score()
		resp.Score = &score
		resp.ScoreLine = appI18n.Td(r.Context(), "ScoreLine", map[string]any{
			"Correct":    score.Correct,
			"Total":      score.Total,
			"Percentage": strconv.FormatFloat(score.Percentage, 'f', 0, 64),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleQuiz(w http.ResponseWriter, r *http.Request) {
	s := h.study(w, r)
	if s == nil {
		return
	}
	h.writeQuiz(w, r, s)
}

func questionIndex(r *http.Request) (int, bool) {
	idx, err := strconv.Atoi(chi.URLParam(r, "index"))
	return idx, err == nil
}

func (h *Handler) handleAnswer(w http.ResponseWriter, r *http.Request) {
	s := h.study(w, r)
	if s == nil {
		return
	}
	idx, ok := questionIndex(r)
	if !ok {
		writeError(w, r, quiz.ErrIndexOutOfRange)
		return
	}
	var body struct {
		Answer string `json:"answer"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeMessage(w, http.StatusBadRequest, appI18n.T(r.Context(), "ErrBadRequest"))
		return
	}
	if err := s.Quiz.SelectAnswer(idx, body.Answer); err != nil {
		writeError(w, r, err)
		return
	}
	h.writeQuiz(w, r, s)
}

func (h *Handler) handleFlip(w http.ResponseWriter, r *http.Request) {
	s := h.study(w, r)
	if s == nil {
		return
	}
	idx, ok := questionIndex(r)
	if !ok {
		writeError(w, r, quiz.ErrIndexOutOfRange)
		return
	}
	if err := s.Quiz.Flip(idx); err != nil {
		writeError(w, r, err)
		return
	}
	h.writeQuiz(w, r, s)
}

func (h *Handler) handleReveal(w http.ResponseWriter, r *http.Request) {
	s := h.study(w, r)
	if s == nil {
		return
	}
	s.Quiz.Reveal()
	h.writeQuiz(w, r, s)
}

func (h *Handler) handleQuizReset(w http.ResponseWriter, r *http.Request) {
	s := h.study(w, r)
	if s == nil {
		return
	}
	s.Quiz.Reset()
	h.writeQuiz(w, r, s)
}

type chatResponse struct {
	Messages    []model.ChatMessage `json:"messages"`
	InFlight    bool                `json:"inFlight"`
	Suggestions []string            `json:"suggestions,omitempty"`
	Error       string              `json:"error,omitempty"`
}

func (h *Handler) chatView(r *http.Request, s *session.Study) chatResponse {
	return chatResponse{
		Messages:    s.Chat.Messages(),
		InFlight:    s.Chat.InFlight(),
		Suggestions: s.Chat.Suggestions(),
		Error:       errorMessage(r.Context(), s.Chat.LastError()),
	}
}

func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	s := h.study(w, r)
	if s == nil {
		return
	}
	writeJSON(w, http.StatusOK, h.chatView(r, s))
}

func (h *Handler) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	s := h.study(w, r)
	if s == nil {
		return
	}
	var body struct {
		Message string `json:"message"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeMessage(w, http.StatusBadRequest, appI18n.T(r.Context(), "ErrBadRequest"))
		return
	}
	if err := s.Chat.Send(r.Context(), body.Message); err != nil {
		status, _ := classify(r.Context(), err)
		view := h.chatView(r, s)
		view.Error = errorMessage(r.Context(), err)
		writeJSON(w, status, view)
		return
	}
	writeJSON(w, http.StatusOK, h.chatView(r, s))
}

func (h *Handler) handleClearChat(w http.ResponseWriter, r *http.Request) {
	s := h.study(w, r)
	if s == nil {
		return
	}
	if err := s.Chat.Clear(r.Context()); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.chatView(r, s))
}

type exportCard struct {
	Kind        model.ExportKind `json:"kind"`
	Title       string           `json:"title"`
	Description string           `json:"description"`
	Available   bool             `json:"available"`
	Includes    []string         `json:"includes"`
	InFlight    bool             `json:"inFlight"`
	LastFile    string           `json:"lastFile,omitempty"`
	Error       string           `json:"error,omitempty"`
}

func (h *Handler) handleExports(w http.ResponseWriter, r *http.Request) {
	s := h.study(w, r)
	if s == nil {
		return
	}
	resp := struct {
		Exports []exportCard `json:"exports"`
		Error   string       `json:"error,omitempty"`
	}{}

	options, err := s.Export.ListOptions(r.Context())
	if err != nil {
		resp.Error = errorMessage(r.Context(), err)
		options = s.Export.Options()
	}
	for _, job := range s.Export.Jobs() {
		d := export.Describe(job.Kind)
		card := exportCard{
			Kind:        job.Kind,
			Title:       d.Title,
			Description: d.Description,
			InFlight:    job.InFlight,
			LastFile:    job.LastFile,
			Error:       errorMessage(r.Context(), s.Export.LastError(job.Kind)),
		}
		if opt, ok := options[job.Kind]; ok {
			card.Available = opt.Available
			card.Includes = opt.Includes
		}
		resp.Exports = append(resp.Exports, card)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	s := h.study(w, r)
	if s == nil {
		return
	}
	kind, ok := model.ParseExportKind(chi.URLParam(r, "kind"))
	if !ok {
		writeMessage(w, http.StatusNotFound, appI18n.T(r.Context(), "ErrUnknownExportKind"))
		return
	}
	res, err := s.Export.ExportAs(r.Context(), kind)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) handleDownloads(w http.ResponseWriter, r *http.Request) {
	downloads := []model.Download{}
	if h.store != nil {
		list, err := h.store.ListDownloads(r.Context(), r.URL.Query().Get("document"), 50)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if list != nil {
			downloads = list
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"downloads": downloads})
}
