// Package backend is the HTTP client for the study helper API: document
// upload and analysis, the document-scoped chat and PDF exports.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pavelanni/studyhelper/internal/model"
)

const (
	// DefaultBaseURL is where the backend listens in a local setup.
	DefaultBaseURL = "http://localhost:5001/api"
	// DefaultTimeout is generous because document analysis can take minutes.
	DefaultTimeout = 2 * time.Minute

	maxErrorBody = 700
)

// Config configures a Client.
type Config struct {
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Client talks to the backend's document, chat and export endpoints.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a backend client. Zero config values fall back to defaults.
func New(cfg Config) *Client {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		httpClient: cfg.HTTPClient,
	}
}

// envelope is the JSON wrapper every backend endpoint responds with.
type envelope[T any] struct {
	Success bool   `json:"success"`
	Data    *T     `json:"data"`
	Message string `json:"message"`
}

// Upload submits an image and the user's instruction for analysis.
func (c *Client) Upload(ctx context.Context, cand model.UploadCandidate) (model.DocumentBundle, error) {
	const op = "upload document"

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	filename := cand.Filename
	if filename == "" {
		filename = "document"
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="image"; filename=%q`, filename))
	h.Set("Content-Type", cand.MediaType)
	part, err := mw.CreatePart(h)
	if err != nil {
		return model.DocumentBundle{}, fmt.Errorf("create image part: %w", err)
	}
	if _, err := part.Write(cand.Data); err != nil {
		return model.DocumentBundle{}, fmt.Errorf("write image part: %w", err)
	}
	if err := mw.WriteField("prompt", cand.Instruction); err != nil {
		return model.DocumentBundle{}, fmt.Errorf("write prompt field: %w", err)
	}
	if err := mw.Close(); err != nil {
		return model.DocumentBundle{}, fmt.Errorf("close multipart body: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/documents/upload", &body)
	if err != nil {
		return model.DocumentBundle{}, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	bundle, err := doJSON[model.DocumentBundle](c, req, op)
	if err != nil {
		return model.DocumentBundle{}, err
	}
	if bundle.DocumentID == "" {
		return model.DocumentBundle{}, &MalformedResponseError{Op: op, Status: http.StatusOK, Detail: "missing documentId"}
	}
	return *bundle, nil
}

// GetDocument fetches a previously analyzed document.
func (c *Client) GetDocument(ctx context.Context, documentID string) (model.DocumentBundle, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/documents/"+url.PathEscape(documentID), nil)
	if err != nil {
		return model.DocumentBundle{}, err
	}
	bundle, err := doJSON[model.DocumentBundle](c, req, "get document")
	if err != nil {
		return model.DocumentBundle{}, err
	}
	return *bundle, nil
}

// ListDocuments returns one page of the backend's documents.
func (c *Client) ListDocuments(ctx context.Context, page, limit int) (model.DocumentPage, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("limit", strconv.Itoa(limit))
	req, err := c.newRequest(ctx, http.MethodGet, "/documents?"+q.Encode(), nil)
	if err != nil {
		return model.DocumentPage{}, err
	}
	p, err := doJSON[model.DocumentPage](c, req, "list documents")
	if err != nil {
		return model.DocumentPage{}, err
	}
	if p.Page == 0 {
		p.Page = page
	}
	return *p, nil
}

// DeleteDocument removes a document and its derived content from the backend.
func (c *Client) DeleteDocument(ctx context.Context, documentID string) error {
	req, err := c.newRequest(ctx, http.MethodDelete, "/documents/"+url.PathEscape(documentID), nil)
	if err != nil {
		return err
	}
	return doAck(c, req, "delete document")
}

// RegenerateQuiz asks the backend for a fresh set of quiz questions.
func (c *Client) RegenerateQuiz(ctx context.Context, documentID string) ([]model.QuizQuestion, error) {
	req, err := c.newRequest(ctx, http.MethodPost, "/documents/"+url.PathEscape(documentID)+"/regenerate-quiz", nil)
	if err != nil {
		return nil, err
	}
	data, err := doJSON[struct {
		QuizQuestions []model.QuizQuestion `json:"quizQuestions"`
	}](c, req, "regenerate quiz")
	if err != nil {
		return nil, err
	}
	return data.QuizQuestions, nil
}

// History returns the remembered conversation for a document.
func (c *Client) History(ctx context.Context, documentID string) ([]model.ChatMessage, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/chat/history/"+url.PathEscape(documentID), nil)
	if err != nil {
		return nil, err
	}
	data, err := doJSON[struct {
		Messages []model.ChatMessage `json:"messages"`
	}](c, req, "get chat history")
	if err != nil {
		return nil, err
	}
	return data.Messages, nil
}

// Send posts a user message and returns the assistant's reply.
func (c *Client) Send(ctx context.Context, documentID, text string) (model.ChatReply, error) {
	const op = "send chat message"
	payload, err := json.Marshal(map[string]string{"documentId": documentID, "message": text})
	if err != nil {
		return model.ChatReply{}, fmt.Errorf("marshal chat message: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/chat/send", bytes.NewReader(payload))
	if err != nil {
		return model.ChatReply{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	data, err := doJSON[struct {
		AIResponse string    `json:"aiResponse"`
		Timestamp  time.Time `json:"timestamp"`
	}](c, req, op)
	if err != nil {
		return model.ChatReply{}, err
	}
	if data.AIResponse == "" {
		return model.ChatReply{}, &MalformedResponseError{Op: op, Status: http.StatusOK, Detail: "missing aiResponse"}
	}
	ts := data.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return model.ChatReply{Content: data.AIResponse, Timestamp: ts}, nil
}

// Clear deletes the remembered conversation for a document.
func (c *Client) Clear(ctx context.Context, documentID string) error {
	req, err := c.newRequest(ctx, http.MethodDelete, "/chat/history/"+url.PathEscape(documentID), nil)
	if err != nil {
		return err
	}
	return doAck(c, req, "clear chat history")
}

// DocumentContext returns the text the backend uses to ground answers about a document.
func (c *Client) DocumentContext(ctx context.Context, documentID string) (string, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/chat/context/"+url.PathEscape(documentID), nil)
	if err != nil {
		return "", err
	}
	data, err := doJSON[struct {
		Context       string `json:"context"`
		ExtractedText string `json:"extractedText"`
	}](c, req, "get document context")
	if err != nil {
		return "", err
	}
	if data.Context != "" {
		return data.Context, nil
	}
	return data.ExtractedText, nil
}

// Options fetches which export kinds are available for a document.
func (c *Client) Options(ctx context.Context, documentID string) (map[model.ExportKind]model.ExportOption, error) {
	const op = "get export options"
	req, err := c.newRequest(ctx, http.MethodGet, "/export/"+url.PathEscape(documentID)+"/options", nil)
	if err != nil {
		return nil, err
	}
	data, err := doJSON[struct {
		ExportOptions map[model.ExportKind]model.ExportOption `json:"exportOptions"`
	}](c, req, op)
	if err != nil {
		return nil, err
	}
	if data.ExportOptions == nil {
		return nil, &MalformedResponseError{Op: op, Status: http.StatusOK, Detail: "missing exportOptions"}
	}
	return data.ExportOptions, nil
}

// Export downloads the PDF for one export kind. The payload is returned as-is.
func (c *Client) Export(ctx context.Context, documentID string, kind model.ExportKind) ([]byte, error) {
	op := "export " + string(kind)
	path := "/export/" + url.PathEscape(documentID)
	if kind != model.ExportComplete {
		path += "/" + string(kind)
	}
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/pdf")

	resp, err := c.do(req, op)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &NetworkError{Op: op, Err: fmt.Errorf("read body: %w", err)}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, serviceErrorFromBody(op, resp.StatusCode, body)
	}
	if len(body) == 0 {
		return nil, &MalformedResponseError{Op: op, Status: resp.StatusCode, Detail: "empty export payload"}
	}
	return body, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("create %s request: %w", path, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	return req, nil
}

func (c *Client) do(req *http.Request, op string) (*http.Response, error) {
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		slog.Debug("backend request failed", "op", op, "method", req.Method, "url", req.URL.Path, "error", err)
		return nil, &NetworkError{Op: op, Err: err}
	}
	slog.Debug("backend response",
		"op", op,
		"method", req.Method,
		"url", req.URL.Path,
		"status", resp.StatusCode,
		"request_id", req.Header.Get("X-Request-ID"),
		"elapsed", time.Since(start),
	)
	return resp, nil
}

// doJSON performs req and decodes the envelope's data field. A nil data field on success is malformed.
func doJSON[T any](c *Client, req *http.Request, op string) (*T, error) {
	env, status, err := doEnvelope[T](c, req, op)
	if err != nil {
		return nil, err
	}
	if env.Data == nil {
		return nil, &MalformedResponseError{Op: op, Status: status, Detail: "missing data"}
	}
	return env.Data, nil
}

// doAck performs req for endpoints that only report success.
func doAck(c *Client, req *http.Request, op string) error {
	_, _, err := doEnvelope[json.RawMessage](c, req, op)
	return err
}

func doEnvelope[T any](c *Client, req *http.Request, op string) (*envelope[T], int, error) {
	resp, err := c.do(req, op)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, &NetworkError{Op: op, Err: fmt.Errorf("read body: %w", err)}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, resp.StatusCode, serviceErrorFromBody(op, resp.StatusCode, body)
	}

	var env envelope[T]
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, resp.StatusCode, &MalformedResponseError{Op: op, Status: resp.StatusCode, Detail: err.Error()}
	}
	if !env.Success {
		msg := env.Message
		if msg == "" {
			msg = serverErrorMessage
		}
		return nil, resp.StatusCode, &ServiceError{Op: op, Status: resp.StatusCode, Message: msg}
	}
	return &env, resp.StatusCode, nil
}

func serviceErrorFromBody(op string, status int, body []byte) *ServiceError {
	var env struct {
		Message string `json:"message"`
	}
	msg := serverErrorMessage
	if err := json.Unmarshal(body, &env); err == nil && env.Message != "" {
		msg = env.Message
	}
	if len(msg) > maxErrorBody {
		msg = msg[:maxErrorBody]
	}
	return &ServiceError{Op: op, Status: status, Message: msg}
}
