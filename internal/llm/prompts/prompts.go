package prompts

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"regexp"
	"strings"
	"sync"
	"text/template"
	"unicode/utf8"
)

//go:embed templates/*.txt
var templateFS embed.FS

var (
	contextTagRegex = regexp.MustCompile(`(?i)</?\s*document-context\b[^>]*>`)
	systemTagRegex  = regexp.MustCompile(`(?i)</?\s*system-instructions\b[^>]*>`)
)

const (
	maxContextRunes = 20000
	maxMessageRunes = 4000
)

// Style is a tutoring style.
type Style string

const (
	// StyleConcise answers briefly.
	StyleConcise Style = "concise"
	// StyleStandard is the default style.
	StyleStandard Style = "standard"
	// StyleSocratic guides with questions.
	StyleSocratic Style = "socratic"
)

var styles = []Style{StyleConcise, StyleStandard, StyleSocratic}

var (
	loadOnce  sync.Once
	loadErr   error
	templates map[Style]*template.Template
)

// IsValidStyle checks if a style name is valid.
func IsValidStyle(s string) bool {
	for _, st := range styles {
		if string(st) == s {
			return true
		}
	}
	return false
}

// TutorData holds template data for tutor system prompts.
type TutorData struct {
	UserPrompt      string
	DocumentContext string
}

// Load parses the tutor templates from fsys. Only the first call has an effect.
func Load(fsys fs.FS) error {
	loadOnce.Do(func() {
		templates = make(map[Style]*template.Template)
		for _, s := range styles {
			file := "templates/tutor_" + string(s) + ".txt"
			content, err := fs.ReadFile(fsys, file)
			if err != nil {
				loadErr = fmt.Errorf("read prompt file %s: %w", file, err)
				return
			}
			tmpl, err := template.New(string(s)).Parse(string(content))
			if err != nil {
				loadErr = fmt.Errorf("parse prompt template %s: %w", file, err)
				return
			}
			templates[s] = tmpl
		}
	})
	return loadErr
}

// BuildTutorPrompt renders the system prompt for style.
func BuildTutorPrompt(style Style, data TutorData) (string, error) {
	if err := Load(templateFS); err != nil {
		return "", fmt.Errorf("templates load failed: %w", err)
	}
	tmpl, ok := templates[style]
	if !ok {
		return "", errors.New("invalid tutor style: " + string(style))
	}

	data.UserPrompt = strings.TrimSpace(SanitizeMessage(data.UserPrompt))
	data.DocumentContext = truncate(stripTags(data.DocumentContext), maxContextRunes, "[Context truncated]")

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// SanitizeMessage strips prompt delimiters from user-supplied text and bounds its length.
func SanitizeMessage(text string) string {
	return truncate(stripTags(text), maxMessageRunes, "[Message truncated due to length]")
}

func stripTags(s string) string {
	s = contextTagRegex.ReplaceAllString(s, "")
	s = systemTagRegex.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}

func truncate(s string, max int, marker string) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max]) + "\n\n" + marker
}
