package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"errors"
	"os"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pavelanni/studyhelper/internal/backend"
	"github.com/pavelanni/studyhelper/internal/export"
	appI18n "github.com/pavelanni/studyhelper/internal/i18n"
	"github.com/pavelanni/studyhelper/internal/model"
	"github.com/pavelanni/studyhelper/internal/session"
	"github.com/pavelanni/studyhelper/internal/store"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00")

func TestMain(m *testing.M) {
	if err := appI18n.Init("en"); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

type fakeDocuments struct{}

func (fakeDocuments) Upload(_ context.Context, c model.UploadCandidate) (model.DocumentBundle, error) {
	return model.DocumentBundle{
		DocumentID: "doc-1",
		UserPrompt: c.Instruction,
		Analysis:   model.Analysis{Summary: "photosynthesis"},
		QuizQuestions: []model.QuizQuestion{
			{Kind: model.KindMultipleChoice, Prompt: "Pick", Options: []string{"a", "b"}, CorrectAnswer: "a"},
			{Kind: model.KindShortAnswer, Prompt: "Name", CorrectAnswer: "x"},
			{Kind: model.KindFlashcard, Prompt: "Card", CorrectAnswer: "back"},
		},
	}, nil
}

type fakeChat struct{}

func (fakeChat) History(context.Context, string) ([]model.ChatMessage, error) { return nil, nil }

func (fakeChat) Send(context.Context, string, string) (model.ChatReply, error) {
	return model.ChatReply{Content: "Chlorophyll absorbs light."}, nil
}

func (fakeChat) Clear(context.Context, string) error { return nil }

type fakeExports struct{}

func (fakeExports) Options(context.Context, string) (map[model.ExportKind]model.ExportOption, error) {
	return map[model.ExportKind]model.ExportOption{
		model.ExportSummary: {Available: true, Includes: []string{"summary"}},
		model.ExportQuiz:    {Available: false},
	}, nil
}

func (fakeExports) Export(context.Context, string, model.ExportKind) ([]byte, error) {
	return []byte("%PDF-1.4"), nil
}

// flakyExports answers like fakeExports until down is set.
type flakyExports struct {
	fakeExports
	down atomic.Bool
}

func (f *flakyExports) Options(ctx context.Context, id string) (map[model.ExportKind]model.ExportOption, error) {
	if f.down.Load() {
		return nil, &backend.NetworkError{Op: "export options", Err: errors.New("connection refused")}
	}
	return f.fakeExports.Options(ctx, id)
}

type testEnv struct {
	router http.Handler
	store  *store.Store
}

func newTestEnv(t *testing.T, passwordHash string) *testEnv {
	t.Helper()
	return newTestEnvWithExports(t, passwordHash, fakeExports{})
}

func newTestEnvWithExports(t *testing.T, passwordHash string, exports export.Service) *testEnv {
	t.Helper()
	st, err := store.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	sess := session.New(session.Config{
		Documents:     fakeDocuments{},
		Chat:          fakeChat{},
		Exports:       exports,
		Saver:         export.DirSaver{Dir: t.TempDir()},
		ExportOptions: []export.Option{export.WithLedger(st)},
	})
	h, err := New(sess, st, Config{
		AccessPasswordHash: passwordHash,
		RateLimitRPS:       1000,
		RateLimitBurst:     1000,
	})
	require.NoError(t, err)
	return &testEnv{router: h.Router(), store: st}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) upload(t *testing.T, contentType string, data []byte, prompt string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	hdr := make(textproto.MIMEHeader)
	hdr.Set("Content-Disposition", `form-data; name="image"; filename="notes.png"`)
	hdr.Set("Content-Type", contentType)
	part, err := mw.CreatePart(hdr)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.WriteField("prompt", prompt))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/session/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t, "")
	rec := env.do(t, http.MethodGet, "/healthz", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStudyRoutesRequireDocument(t *testing.T) {
	env := newTestEnv(t, "")
	for _, path := range []string{"/quiz", "/chat", "/exports"} {
		t.Run(path, func(t *testing.T) {
			rec := env.do(t, http.MethodGet, path, nil, nil)
			assert.Equal(t, http.StatusConflict, rec.Code)
			assert.Equal(t, "No document is loaded yet.", decode[map[string]string](t, rec)["error"])
		})
	}
}

func TestUploadRejected(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		prompt      string
		wantError   string
	}{
		{"unsupported type", "text/plain", "Explain", "Unsupported file type. Please upload an image (JPEG, PNG, GIF, BMP, WebP or TIFF)."},
		{"missing instruction", "image/png", "   ", "Please describe what you want to learn from this document."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, "")
			rec := env.upload(t, tt.contentType, pngHeader, tt.prompt)
			assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
			assert.Equal(t, tt.wantError, decode[map[string]string](t, rec)["error"])

			snap := decode[sessionResponse](t, env.do(t, http.MethodGet, "/session", nil, nil))
			assert.Equal(t, session.StateIdle, snap.State)
		})
	}
}

func TestUploadAndQuiz(t *testing.T) {
	env := newTestEnv(t, "")

	rec := env.upload(t, "application/octet-stream", pngHeader, "Explain photosynthesis")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	snap := decode[sessionResponse](t, rec)
	assert.Equal(t, session.StateReady, snap.State)
	require.NotNil(t, snap.Document)
	assert.Equal(t, "doc-1", snap.Document.DocumentID)

	recent, err := env.store.RecentDocuments(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "notes.png", recent[0].Filename)

	rec = env.upload(t, "image/png", pngHeader, "Again")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(t, http.MethodPost, "/quiz/answers/0", map[string]string{"answer": "a"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	q := decode[quizResponse](t, rec)
	assert.Equal(t, "1 question answered", q.Answered)
	assert.False(t, q.Revealed)

	rec = env.do(t, http.MethodPost, "/quiz/answers/9", map[string]string{"answer": "a"}, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodPost, "/quiz/flashcards/0/flip", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/quiz/flashcards/2/flip", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[quizResponse](t, rec).Questions[2].Flipped)

	rec = env.do(t, http.MethodPost, "/quiz/reveal", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	q = decode[quizResponse](t, rec)
	require.NotNil(t, q.Score)
	assert.Equal(t, 1, q.Score.Correct)
	assert.Equal(t, 2, q.Score.Total)
	assert.Equal(t, "Score: 1/2 (50%)", q.ScoreLine)

	rec = env.do(t, http.MethodPost, "/quiz/reset", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	q = decode[quizResponse](t, rec)
	assert.False(t, q.Revealed)
	assert.Equal(t, "0 questions answered", q.Answered)

	rec = env.do(t, http.MethodPost, "/session/reset", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, session.StateIdle, decode[sessionResponse](t, rec).State)
}

func TestChatRoutes(t *testing.T) {
	env := newTestEnv(t, "")
	require.Equal(t, http.StatusOK, env.upload(t, "image/png", pngHeader, "Explain photosynthesis").Code)

	rec := env.do(t, http.MethodGet, "/chat", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	view := decode[chatResponse](t, rec)
	require.Len(t, view.Messages, 1)
	assert.Contains(t, view.Messages[0].Content, `"Explain photosynthesis"`)
	assert.NotEmpty(t, view.Suggestions)

	rec = env.do(t, http.MethodPost, "/chat/messages", map[string]string{"message": "  "}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/chat/messages", map[string]string{"message": "What is chlorophyll?"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	view = decode[chatResponse](t, rec)
	require.Len(t, view.Messages, 3)
	assert.Equal(t, model.DeliveryConfirmed, view.Messages[1].Delivery)
	assert.Equal(t, "Chlorophyll absorbs light.", view.Messages[2].Content)
	assert.Empty(t, view.Suggestions)

	rec = env.do(t, http.MethodDelete, "/chat", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	view = decode[chatResponse](t, rec)
	require.Len(t, view.Messages, 1)
	assert.True(t, strings.HasPrefix(view.Messages[0].Content, "Chat cleared!"))
}

func TestExportRoutes(t *testing.T) {
	env := newTestEnv(t, "")
	require.Equal(t, http.StatusOK, env.upload(t, "image/png", pngHeader, "Explain photosynthesis").Code)

	rec := env.do(t, http.MethodPost, "/exports/poster", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodGet, "/exports", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	listing := decode[struct {
		Exports []exportCard `json:"exports"`
	}](t, rec)
	require.Len(t, listing.Exports, len(model.ExportKinds))
	assert.Equal(t, model.ExportSummary, listing.Exports[1].Kind)
	assert.True(t, listing.Exports[1].Available)
	assert.False(t, listing.Exports[2].Available)

	rec = env.do(t, http.MethodPost, "/exports/quiz", nil, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = env.do(t, http.MethodPost, "/exports/summary", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[export.Result](t, rec)
	assert.True(t, strings.HasPrefix(res.Filename, "study-material-summary-"))
	assert.FileExists(t, res.Path)

	rec = env.do(t, http.MethodGet, "/downloads", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	downloads := decode[map[string][]model.Download](t, rec)["downloads"]
	require.Len(t, downloads, 1)
	assert.Equal(t, "doc-1", downloads[0].DocumentID)
	assert.Equal(t, res.SHA256, downloads[0].SHA256)
}

func TestExportListingKeepsOptionsWhenRefreshFails(t *testing.T) {
	svc := &flakyExports{}
	env := newTestEnvWithExports(t, "", svc)
	require.Equal(t, http.StatusOK, env.upload(t, "image/png", pngHeader, "Explain photosynthesis").Code)

	type listing struct {
		Exports []exportCard `json:"exports"`
		Error   string       `json:"error"`
	}
	rec := env.do(t, http.MethodGet, "/exports", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	first := decode[listing](t, rec)
	assert.Empty(t, first.Error)
	assert.True(t, first.Exports[1].Available)

	svc.down.Store(true)
	rec = env.do(t, http.MethodGet, "/exports", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	second := decode[listing](t, rec)
	assert.NotEmpty(t, second.Error)
	require.Len(t, second.Exports, len(model.ExportKinds))
	assert.Equal(t, model.ExportSummary, second.Exports[1].Kind)
	assert.True(t, second.Exports[1].Available)
	assert.Equal(t, []string{"summary"}, second.Exports[1].Includes)
	assert.False(t, second.Exports[2].Available)

	rec = env.do(t, http.MethodPost, "/exports/summary", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestAccessPassword(t *testing.T) {
	hash, err := HashPassword("s3cret")
	require.NoError(t, err)
	env := newTestEnv(t, hash)

	rec := env.do(t, http.MethodGet, "/session", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodGet, "/healthz", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodPost, "/auth/login", map[string]string{"password": "wrong"}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Wrong password.", decode[map[string]string](t, rec)["error"])

	rec = env.do(t, http.MethodPost, "/auth/login", map[string]string{"password": "s3cret"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	token := decode[map[string]string](t, rec)["token"]
	require.NotEmpty(t, token)
	var cookie *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == accessCookieName {
			cookie = c
		}
	}
	require.NotNil(t, cookie)
	assert.True(t, cookie.HttpOnly)

	bearer := http.Header{"Authorization": {"Bearer " + token}}
	rec = env.do(t, http.MethodGet, "/session", nil, bearer)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/session", nil, http.Header{"Cookie": {accessCookieName + "=" + token}})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodPost, "/auth/logout", nil, bearer)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(t, http.MethodGet, "/session", nil, bearer)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestNewRequiresStoreForPassword(t *testing.T) {
	_, err := New(session.New(session.Config{}), nil, Config{AccessPasswordHash: "x"})
	assert.Error(t, err)
}

func TestLocalizedErrors(t *testing.T) {
	env := newTestEnv(t, "")
	rec := env.do(t, http.MethodGet, "/quiz", nil, http.Header{"Accept-Language": {"ru"}})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "ru", rec.Header().Get("Content-Language"))
	assert.NotEqual(t, "No document is loaded yet.", decode[map[string]string](t, rec)["error"])
}

func TestRateLimit(t *testing.T) {
	h := RateLimit(1, 2)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	codes := make([]int, 0, 3)
	for range 3 {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "198.51.100.7:4000"
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestClientIP(t *testing.T) {
	assert.Equal(t, "10.0.0.1", clientIP("10.0.0.1:5555"))
	assert.Equal(t, "::1", clientIP("[::1]:80"))
	assert.Equal(t, "unix", clientIP("unix"))
}
