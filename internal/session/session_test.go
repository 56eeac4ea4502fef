package session

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pavelanni/studyhelper/internal/backend"
	"github.com/pavelanni/studyhelper/internal/model"
	"github.com/pavelanni/studyhelper/internal/validate"
)

type fakeDocuments struct {
	bundles []model.DocumentBundle
	err     error
	calls   atomic.Int32
	block   chan struct{}
	entered chan struct{}
}

func (f *fakeDocuments) Upload(context.Context, model.UploadCandidate) (model.DocumentBundle, error) {
	n := f.calls.Add(1)
	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.block != nil {
		<-f.block
	}
	if f.err != nil {
		return model.DocumentBundle{}, f.err
	}
	return f.bundles[int(n-1)%len(f.bundles)], nil
}

type fakeChat struct {
	history []model.ChatMessage
}

func (f *fakeChat) History(context.Context, string) ([]model.ChatMessage, error) {
	return f.history, nil
}

func (f *fakeChat) Send(context.Context, string, string) (model.ChatReply, error) {
	return model.ChatReply{Content: "answer"}, nil
}

func (f *fakeChat) Clear(context.Context, string) error { return nil }

type fakeExports struct{}

func (fakeExports) Options(context.Context, string) (map[model.ExportKind]model.ExportOption, error) {
	return nil, nil
}

func (fakeExports) Export(context.Context, string, model.ExportKind) ([]byte, error) {
	return []byte("%PDF"), nil
}

type nopSaver struct{}

func (nopSaver) Save(_ context.Context, name string, _ []byte) (string, error) { return name, nil }

func bundle(id, prompt string) model.DocumentBundle {
	return model.DocumentBundle{
		DocumentID: id,
		UserPrompt: prompt,
		Analysis:   model.Analysis{Summary: "summary of " + id},
		QuizQuestions: []model.QuizQuestion{
			{Kind: model.KindMultipleChoice, Prompt: "Pick", Options: []string{"a", "b"}, CorrectAnswer: "a"},
			{Kind: model.KindShortAnswer, Prompt: "Name", CorrectAnswer: "x"},
			{Kind: model.KindFlashcard, Prompt: "Card", CorrectAnswer: "back"},
		},
	}
}

func goodCandidate() model.UploadCandidate {
	return model.UploadCandidate{
		Data:        []byte("jpeg"),
		Filename:    "page.jpg",
		MediaType:   "image/jpeg",
		Size:        1 << 20,
		Instruction: "summarize this",
	}
}

func newController(docs *fakeDocuments, ch *fakeChat) *Controller {
	return New(Config{Documents: docs, Chat: ch, Exports: fakeExports{}, Saver: nopSaver{}})
}

func TestSubmitSuccess(t *testing.T) {
	docs := &fakeDocuments{bundles: []model.DocumentBundle{bundle("doc-1", "summarize this")}}
	c := newController(docs, &fakeChat{})
	assert.Equal(t, StateIdle, c.State())

	require.NoError(t, c.Submit(context.Background(), goodCandidate()))

	assert.Equal(t, StateReady, c.State())
	assert.Equal(t, int32(1), docs.calls.Load())
	b, ok := c.Bundle()
	require.True(t, ok)
	assert.Equal(t, "doc-1", b.DocumentID)

	study := c.Study()
	require.NotNil(t, study)
	assert.Equal(t, 3, study.Quiz.Len())
	msgs := study.Chat.Messages()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].Content, "summarize this")
	assert.Len(t, study.Export.Jobs(), len(model.ExportKinds))

	snap := c.Snapshot()
	assert.Equal(t, StateReady, snap.State)
	require.NotNil(t, snap.Document)
	assert.Equal(t, "doc-1", snap.Document.DocumentID)
}

func TestSubmitRejectedStaysIdle(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*model.UploadCandidate)
		reason validate.Reason
	}{
		{"text file", func(c *model.UploadCandidate) { c.MediaType = "text/plain" }, validate.ReasonUnsupportedType},
		{"too large", func(c *model.UploadCandidate) { c.Size = 11 << 20 }, validate.ReasonTooLarge},
		{"blank instruction", func(c *model.UploadCandidate) { c.Instruction = "   " }, validate.ReasonMissingInstruction},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			docs := &fakeDocuments{bundles: []model.DocumentBundle{bundle("doc-1", "p")}}
			c := newController(docs, &fakeChat{})
			cand := goodCandidate()
			tt.mutate(&cand)

			err := c.Submit(context.Background(), cand)
			var verr *validate.Error
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.reason, verr.Reason)
			assert.Equal(t, StateIdle, c.State())
			assert.Zero(t, docs.calls.Load(), "rejected candidates never reach the service")
		})
	}
}

func TestSubmitFailure(t *testing.T) {
	tests := []struct {
		name   string
		docs   *fakeDocuments
		reason string
	}{
		{
			name:   "network",
			docs:   &fakeDocuments{err: &backend.NetworkError{Op: "upload document", Err: errors.New("dial tcp: refused")}},
			reason: "Network error - please check your connection",
		},
		{
			name:   "service",
			docs:   &fakeDocuments{err: &backend.ServiceError{Op: "upload document", Status: 400, Message: "Could not read image"}},
			reason: "Could not read image",
		},
		{
			name:   "malformed bundle",
			docs:   &fakeDocuments{bundles: []model.DocumentBundle{{UserPrompt: "no id"}}},
			reason: "Server error occurred",
		},
		{
			name: "correct answer not an option",
			docs: &fakeDocuments{bundles: []model.DocumentBundle{{
				DocumentID:    "doc-1",
				QuizQuestions: []model.QuizQuestion{{Kind: model.KindMultipleChoice, Prompt: "?", Options: []string{"a"}, CorrectAnswer: "z"}},
			}}},
			reason: "Server error occurred",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newController(tt.docs, &fakeChat{})
			err := c.Submit(context.Background(), goodCandidate())
			require.Error(t, err)
			var se *backend.ServiceError
			if tt.name != "network" {
				assert.ErrorAs(t, err, &se)
			}
			assert.Equal(t, StateFailed, c.State())
			assert.Equal(t, tt.reason, c.FailureReason())
			assert.Nil(t, c.Study(), "no partial bundle")
			_, ok := c.Bundle()
			assert.False(t, ok)
		})
	}
}

func TestSubmitWhileSubmitting(t *testing.T) {
	docs := &fakeDocuments{
		bundles: []model.DocumentBundle{bundle("doc-1", "p")},
		block:   make(chan struct{}),
		entered: make(chan struct{}, 1),
	}
	c := newController(docs, &fakeChat{})

	done := make(chan error, 1)
	go func() { done <- c.Submit(context.Background(), goodCandidate()) }()
	<-docs.entered

	assert.Equal(t, StateSubmitting, c.State())
	assert.ErrorIs(t, c.Submit(context.Background(), goodCandidate()), ErrBusy)
	assert.ErrorIs(t, c.Reset(), ErrBusy)

	close(docs.block)
	require.NoError(t, <-done)
	assert.Equal(t, int32(1), docs.calls.Load())
	assert.Equal(t, StateReady, c.State())
}

func TestSubmitRequiresReset(t *testing.T) {
	docs := &fakeDocuments{bundles: []model.DocumentBundle{bundle("doc-1", "p")}}
	c := newController(docs, &fakeChat{})
	require.NoError(t, c.Submit(context.Background(), goodCandidate()))
	assert.ErrorIs(t, c.Submit(context.Background(), goodCandidate()), ErrNotIdle)

	docs.err = errors.New("boom")
	require.NoError(t, c.Reset())
	require.Error(t, c.Submit(context.Background(), goodCandidate()))
	assert.Equal(t, StateFailed, c.State())
	assert.ErrorIs(t, c.Submit(context.Background(), goodCandidate()), ErrNotIdle)

	require.NoError(t, c.Reset())
	assert.Equal(t, StateIdle, c.State())
	assert.Empty(t, c.FailureReason())
}

func TestNewBundleResetsDependents(t *testing.T) {
	docs := &fakeDocuments{bundles: []model.DocumentBundle{bundle("doc-1", "first"), bundle("doc-2", "second")}}
	c := newController(docs, &fakeChat{})
	ctx := context.Background()

	require.NoError(t, c.Submit(ctx, goodCandidate()))
	first := c.Study()
	require.NoError(t, first.Quiz.SelectAnswer(0, "a"))
	first.Quiz.Reveal()
	require.NoError(t, first.Chat.Send(ctx, "question"))
	require.Len(t, first.Chat.Messages(), 3)

	require.NoError(t, c.Reset())
	require.NoError(t, c.Submit(ctx, goodCandidate()))

	second := c.Study()
	require.NotSame(t, first, second)
	assert.Equal(t, "doc-2", second.Bundle.DocumentID)
	assert.Equal(t, 0, second.Quiz.AnsweredCount())
	assert.False(t, second.Quiz.Revealed())
	msgs := second.Chat.Messages()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].Content, "second")
	assert.Equal(t, "doc-2", second.Chat.DocumentID())
}

func TestHistoryLoadedOnAdopt(t *testing.T) {
	ch := &fakeChat{history: []model.ChatMessage{
		{Role: model.RoleUser, Content: "earlier question"},
		{Role: model.RoleAssistant, Content: "earlier answer"},
	}}
	c := newController(&fakeDocuments{}, ch)

	require.NoError(t, c.Adopt(context.Background(), bundle("doc-9", "p")))
	assert.Equal(t, StateReady, c.State())
	msgs := c.Study().Chat.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "earlier question", msgs[0].Content)

	assert.ErrorIs(t, c.Adopt(context.Background(), bundle("doc-10", "p")), ErrNotIdle)
}

func TestAdoptRejectsMalformedBundle(t *testing.T) {
	c := newController(&fakeDocuments{}, &fakeChat{})
	err := c.Adopt(context.Background(), model.DocumentBundle{})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "documentId"))
	assert.Equal(t, StateIdle, c.State())
}
