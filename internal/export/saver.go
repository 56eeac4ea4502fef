package export

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pavelanni/studyhelper/internal/model"
)

// DirSaver writes downloads into a directory. An existing file is never
// overwritten; a numbered name like "name (1).pdf" is used instead.
type DirSaver struct {
	Dir string
}

// Save writes data under filename and returns the path it used.
func (s DirSaver) Save(_ context.Context, filename string, data []byte) (string, error) {
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return "", fmt.Errorf("create download dir: %w", err)
	}

	ext := filepath.Ext(filename)
	stem := strings.TrimSuffix(filename, ext)
	for n := 0; n < 1000; n++ {
		name := filename
		if n > 0 {
			name = fmt.Sprintf("%s (%d)%s", stem, n, ext)
		}
		path := filepath.Join(s.Dir, name)
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("create %s: %w", name, err)
		}
		if _, err := f.Write(data); err != nil {
			f.Close()
			return "", fmt.Errorf("write %s: %w", name, err)
		}
		if err := f.Close(); err != nil {
			return "", fmt.Errorf("close %s: %w", name, err)
		}
		return path, nil
	}
	return "", fmt.Errorf("save %s: too many files with this name", filename)
}

// Descriptor is the human-facing label of an export kind.
type Descriptor struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

var descriptors = map[model.ExportKind]Descriptor{
	model.ExportComplete: {"Complete Study Pack", "Everything in one PDF - analysis, quiz, videos, and more"},
	model.ExportSummary:  {"Summary & Notes", "Key points, summary, and main concepts"},
	model.ExportQuiz:     {"Quiz Questions", "All quiz questions with answers and explanations"},
	model.ExportNotes:    {"Study Notes", "Concepts and explanation laid out for revision"},
	model.ExportChat:     {"Tutor Conversation", "The chat with your AI tutor about this document"},
}

// Describe returns the label of kind.
func Describe(kind model.ExportKind) Descriptor {
	if d, ok := descriptors[kind]; ok {
		return d
	}
	return Descriptor{Title: string(kind)}
}
