package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/pavelanni/studyhelper/internal/backend"
	"github.com/pavelanni/studyhelper/internal/chat"
	"github.com/pavelanni/studyhelper/internal/export"
	appI18n "github.com/pavelanni/studyhelper/internal/i18n"
	"github.com/pavelanni/studyhelper/internal/quiz"
	"github.com/pavelanni/studyhelper/internal/session"
	"github.com/pavelanni/studyhelper/internal/validate"
)

var errNoDocument = errors.New("no document loaded")

var reasonMessages = map[validate.Reason]string{
	validate.ReasonUnsupportedType:    "ReasonUnsupportedType",
	validate.ReasonTooLarge:           "ReasonTooLarge",
	validate.ReasonMissingInstruction: "ReasonMissingInstruction",
}

var sentinelErrors = []struct {
	err    error
	status int
	msgID  string
}{
	{errNoDocument, http.StatusConflict, "ErrNoDocument"},
	{session.ErrBusy, http.StatusConflict, "ErrBusy"},
	{session.ErrNotIdle, http.StatusConflict, "ErrNotIdle"},
	{chat.ErrEmptyMessage, http.StatusBadRequest, "ErrEmptyMessage"},
	{chat.ErrSendInFlight, http.StatusConflict, "ErrSendInFlight"},
	{chat.ErrClearInFlight, http.StatusConflict, "ErrClearInFlight"},
	{export.ErrInFlight, http.StatusConflict, "ErrExportInFlight"},
	{export.ErrUnavailable, http.StatusUnprocessableEntity, "ErrExportUnavailable"},
	{quiz.ErrIndexOutOfRange, http.StatusNotFound, "ErrQuestionNotFound"},
	{quiz.ErrNotFlashcard, http.StatusBadRequest, "ErrNotFlashcard"},
}

// classify returns the status code and the localized message for err.
func classify(ctx context.Context, err error) (int, string) {
	var verr *validate.Error
	if errors.As(err, &verr) {
		return http.StatusUnprocessableEntity, appI18n.T(ctx, reasonMessages[verr.Reason])
	}
	for _, s := range sentinelErrors {
		if errors.Is(err, s.err) {
			return s.status, appI18n.T(ctx, s.msgID)
		}
	}
	var netErr *backend.NetworkError
	if errors.As(err, &netErr) {
		return http.StatusBadGateway, appI18n.T(ctx, "ErrNetwork")
	}
	var malformed *backend.MalformedResponseError
	if errors.As(err, &malformed) {
		return http.StatusBadGateway, appI18n.T(ctx, "ErrServer")
	}
	var svcErr *backend.ServiceError
	if errors.As(err, &svcErr) {
		if svcErr.Message == "" {
			return http.StatusBadGateway, appI18n.T(ctx, "ErrServer")
		}
		// Backend messages are passed through as the backend wrote them.
		return http.StatusBadGateway, svcErr.Message
	}
	return http.StatusInternalServerError, appI18n.T(ctx, "ErrInternal")
}

func errorMessage(ctx context.Context, err error) string {
	if err == nil {
		return ""
	}
	_, msg := classify(ctx, err)
	return msg
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := classify(r.Context(), err)
	if status >= http.StatusInternalServerError {
		slog.Error("request failed", "path", r.URL.Path, "status", status, "error", err)
	} else {
		slog.Debug("request rejected", "path", r.URL.Path, "status", status, "error", err)
	}
	writeMessage(w, status, msg)
}
