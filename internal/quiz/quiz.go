// Package quiz tracks a user's attempt at the quiz generated for one document.
package quiz

import (
	"errors"
	"fmt"
	"sync"

	"github.com/pavelanni/studyhelper/internal/model"
)

// ErrIndexOutOfRange is returned for a question index the bundle does not have.
var ErrIndexOutOfRange = errors.New("question index out of range")

// ErrNotFlashcard is returned when flipping a question that is not a flashcard.
var ErrNotFlashcard = errors.New("question is not a flashcard")

// entry is the attempt state of one question. answered and value travel together
// so "has an answer" and "what the answer is" cannot disagree.
type entry struct {
	answered bool
	value    string
	flipped  bool
}

// Score is the result over the scored (non-flashcard) questions.
type Score struct {
	Correct    int     `json:"correct"`
	Total      int     `json:"total"`
	Percentage float64 `json:"percentage"`
}

// Verdict is how a question is marked once answers are revealed.
type Verdict string

const (
	VerdictNone      Verdict = ""
	VerdictCorrect   Verdict = "correct"
	VerdictIncorrect Verdict = "incorrect"
	VerdictSelfCheck Verdict = "self_check"
)

// QuestionReview is the per-question view of an attempt.
type QuestionReview struct {
	Index    int                `json:"index"`
	Question model.QuizQuestion `json:"question"`
	Answered bool               `json:"answered"`
	Answer   string             `json:"answer,omitempty"`
	Flipped  bool               `json:"flipped,omitempty"`
	Verdict  Verdict            `json:"verdict,omitempty"`
}

// Engine holds the attempt state over a fixed question list.
// The question list belongs to the document bundle and is never modified.
type Engine struct {
	mu        sync.Mutex
	questions []model.QuizQuestion
	entries   []entry
	revealed  bool
}

// New creates an empty attempt for questions.
func New(questions []model.QuizQuestion) *Engine {
	return &Engine{
		questions: questions,
		entries:   make([]entry, len(questions)),
	}
}

// Len returns the number of questions.
func (e *Engine) Len() int {
	return len(e.questions)
}

// Question returns the question at index.
func (e *Engine) Question(index int) (model.QuizQuestion, error) {
	if index < 0 || index >= len(e.questions) {
		return model.QuizQuestion{}, fmt.Errorf("question %d: %w", index, ErrIndexOutOfRange)
	}
	return e.questions[index], nil
}

// SelectAnswer records value as the answer at index, replacing any earlier answer.
// It is allowed before and after reveal.
func (e *Engine) SelectAnswer(index int, value string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if index < 0 || index >= len(e.entries) {
		return fmt.Errorf("select answer %d: %w", index, ErrIndexOutOfRange)
	}
	e.entries[index].answered = true
	e.entries[index].value = value
	return nil
}

// Answer returns the recorded answer at index, if any.
func (e *Engine) Answer(index int) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if index < 0 || index >= len(e.entries) {
		return "", false
	}
	return e.entries[index].value, e.entries[index].answered
}

// Flip shows the answer side of a single flashcard. Flashcards are self-assessed
// and are never marked right or wrong.
func (e *Engine) Flip(index int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if index < 0 || index >= len(e.entries) {
		return fmt.Errorf("flip card %d: %w", index, ErrIndexOutOfRange)
	}
	if e.questions[index].Kind != model.KindFlashcard {
		return fmt.Errorf("flip card %d: %w", index, ErrNotFlashcard)
	}
	e.entries[index].flipped = !e.entries[index].flipped
	return nil
}

// Flipped reports whether the flashcard at index shows its answer side.
func (e *Engine) Flipped(index int) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if index < 0 || index >= len(e.entries) {
		return false
	}
	return e.entries[index].flipped
}

// Reveal switches the attempt into reveal mode. Calling it again has no effect.
func (e *Engine) Reveal() {
	e.mu.Lock()
	e.revealed = true
	e.mu.Unlock()
}

// Revealed reports whether answers are revealed.
func (e *Engine) Revealed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.revealed
}

// Reset clears every answer and flip and leaves reveal mode.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.entries = make([]entry, len(e.questions))
	e.revealed = false
}

// AnsweredCount returns how many questions have a recorded answer.
func (e *Engine) AnsweredCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, en := range e.entries {
		if en.answered {
			n++
		}
	}
	return n
}

// Score counts exact-text matches against the correct answer over non-flashcard questions.
// Two options with identical text are indistinguishable, so either counts as correct.
func (e *Engine) Score() Score {
	e.mu.Lock()
	defer e.mu.Unlock()

	var s Score
	for i, q := range e.questions {
		if !q.Scored() {
			continue
		}
		s.Total++
		if en := e.entries[i]; en.answered && en.value == q.CorrectAnswer {
			s.Correct++
		}
	}
	if s.Total > 0 {
		s.Percentage = float64(s.Correct) / float64(s.Total) * 100
	}
	return s
}

// Review returns the per-question state. Verdicts are only set once answers are revealed.
func (e *Engine) Review() []QuestionReview {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]QuestionReview, len(e.questions))
	for i, q := range e.questions {
		en := e.entries[i]
		r := QuestionReview{
			Index:    i,
			Question: q,
			Answered: en.answered,
			Answer:   en.value,
			Flipped:  en.flipped,
		}
		if e.revealed {
			switch {
			case !q.Scored():
				r.Verdict = VerdictSelfCheck
			case !en.answered:
				r.Verdict = VerdictNone
			case en.value == q.CorrectAnswer:
				r.Verdict = VerdictCorrect
			default:
				r.Verdict = VerdictIncorrect
			}
		}
		out[i] = r
	}
	return out
}
