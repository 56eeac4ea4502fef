package model

import (
	"errors"
	"fmt"
	"time"
)

// Role represents a chat message role.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// DeliveryStatus tracks whether a chat message is known to have reached the chat service.
type DeliveryStatus string

const (
	// DeliveryConfirmed is set on server-supplied messages and on user messages the service answered.
	DeliveryConfirmed DeliveryStatus = "confirmed"
	// DeliveryPending is set on an optimistic user message while its send is in flight.
	DeliveryPending DeliveryStatus = "pending"
	// DeliveryUnconfirmed is set on a user message whose send failed. The message stays in the log.
	DeliveryUnconfirmed DeliveryStatus = "unconfirmed"
)

// QuestionKind represents the type of a generated quiz question.
type QuestionKind string

const (
	KindMultipleChoice QuestionKind = "mcq"
	KindShortAnswer    QuestionKind = "short_answer"
	KindFlashcard      QuestionKind = "flashcard"
)

// Valid reports whether k is one of the known question kinds.
func (k QuestionKind) Valid() bool {
	switch k {
	case KindMultipleChoice, KindShortAnswer, KindFlashcard:
		return true
	}
	return false
}

// UploadCandidate is a document the user wants to submit, before the validation gate accepts it.
type UploadCandidate struct {
	Data        []byte
	Filename    string
	MediaType   string `validate:"accepted_image"`
	Size        int64  `validate:"max_upload_size"`
	Instruction string `validate:"notblank"`
}

// Analysis is the structured analysis of an uploaded document.
type Analysis struct {
	Summary     string   `json:"summary,omitempty"`
	KeyPoints   []string `json:"keyPoints"`
	Concepts    []string `json:"concepts"`
	Explanation string   `json:"explanation,omitempty"`
}

// QuizQuestion is one generated question. Its identity is its index in the owning bundle.
type QuizQuestion struct {
	Kind          QuestionKind `json:"type"`
	Prompt        string       `json:"question"`
	Options       []string     `json:"options,omitempty"`
	CorrectAnswer string       `json:"correctAnswer"`
	Explanation   string       `json:"explanation,omitempty"`
}

// Scored reports whether the question takes part in scoring. Flashcards are self-assessed.
func (q QuizQuestion) Scored() bool {
	return q.Kind != KindFlashcard
}

// VideoRef is a recommended video related to the document.
type VideoRef struct {
	VideoID      string `json:"videoId"`
	Title        string `json:"title"`
	ChannelTitle string `json:"channelTitle,omitempty"`
	URL          string `json:"url,omitempty"`
	ThumbnailURL string `json:"thumbnailUrl,omitempty"`
	ViewCount    string `json:"viewCount,omitempty"`
	PublishedAt  string `json:"publishedAt,omitempty"`
}

// DocumentBundle is the immutable analysis artifact for one uploaded document.
type DocumentBundle struct {
	DocumentID    string         `json:"documentId"`
	UserPrompt    string         `json:"userPrompt"`
	Analysis      Analysis       `json:"analysis"`
	QuizQuestions []QuizQuestion `json:"quizQuestions"`
	YoutubeVideos []VideoRef     `json:"youtubeVideos"`
}

// Validate reports whether the bundle is well-formed enough to become the active document.
func (b DocumentBundle) Validate() error {
	if b.DocumentID == "" {
		return errors.New("missing documentId")
	}
	for i, q := range b.QuizQuestions {
		if !q.Kind.Valid() {
			return fmt.Errorf("question %d: unknown type %q", i, q.Kind)
		}
		if q.Prompt == "" {
			return fmt.Errorf("question %d: empty question text", i)
		}
		if q.Kind != KindMultipleChoice {
			continue
		}
		if len(q.Options) == 0 {
			return fmt.Errorf("question %d: multiple choice without options", i)
		}
		found := false
		for _, o := range q.Options {
			if o == q.CorrectAnswer {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("question %d: correct answer is not one of the options", i)
		}
	}
	return nil
}

// ChatMessage is a single turn in a document's conversation log.
type ChatMessage struct {
	Role      Role           `json:"role"`
	Content   string         `json:"content"`
	Timestamp time.Time      `json:"timestamp"`
	Delivery  DeliveryStatus `json:"delivery"`
}

// ChatReply is the chat service's answer to one user message.
type ChatReply struct {
	Content   string
	Timestamp time.Time
}

// DocumentSummary is one entry of the backend's document listing.
type DocumentSummary struct {
	DocumentID string    `json:"documentId"`
	UserPrompt string    `json:"userPrompt"`
	Filename   string    `json:"originalName,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// DocumentPage is a page of the backend's document listing.
type DocumentPage struct {
	Documents []DocumentSummary `json:"documents"`
	Page      int               `json:"page"`
	Total     int               `json:"total"`
}
