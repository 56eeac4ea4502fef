package validate

import (
	"bytes"
	"errors"
	"testing"

	"github.com/pavelanni/studyhelper/internal/model"
)

const mib = 1024 * 1024

func TestValidate(t *testing.T) {
	g := New()

	tests := []struct {
		name       string
		candidate  model.UploadCandidate
		wantReason Reason
	}{
		{"accepted jpeg", model.UploadCandidate{MediaType: "image/jpeg", Size: 1 * mib, Instruction: "summarize this"}, ""},
		{"accepted at ceiling", model.UploadCandidate{MediaType: "image/png", Size: 10 * mib, Instruction: "quiz me"}, ""},
		{"plain text", model.UploadCandidate{MediaType: "text/plain", Size: 1 * mib, Instruction: "summarize this"}, ReasonUnsupportedType},
		{"pdf", model.UploadCandidate{MediaType: "application/pdf", Size: 1 * mib, Instruction: "summarize this"}, ReasonUnsupportedType},
		{"empty type", model.UploadCandidate{Size: 1 * mib, Instruction: "summarize this"}, ReasonUnsupportedType},
		{"too large", model.UploadCandidate{MediaType: "image/jpeg", Size: 11 * mib, Instruction: "summarize this"}, ReasonTooLarge},
		{"one byte over", model.UploadCandidate{MediaType: "image/webp", Size: 10*mib + 1, Instruction: "summarize this"}, ReasonTooLarge},
		{"blank instruction", model.UploadCandidate{MediaType: "image/jpeg", Size: 1 * mib, Instruction: "   "}, ReasonMissingInstruction},
		{"empty instruction", model.UploadCandidate{MediaType: "image/gif", Size: 1 * mib}, ReasonMissingInstruction},
		{"type checked before size", model.UploadCandidate{MediaType: "text/plain", Size: 11 * mib}, ReasonUnsupportedType},
		{"size checked before instruction", model.UploadCandidate{MediaType: "image/tiff", Size: 11 * mib, Instruction: " "}, ReasonTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := g.Validate(tt.candidate)
			if tt.wantReason == "" {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			reason, ok := ReasonOf(err)
			if !ok {
				t.Fatalf("Validate() = %v, want rejection %q", err, tt.wantReason)
			}
			if reason != tt.wantReason {
				t.Errorf("reason = %q, want %q", reason, tt.wantReason)
			}
			if err.Error() != string(tt.wantReason) {
				t.Errorf("Error() = %q, want %q", err.Error(), tt.wantReason)
			}
		})
	}
}

func TestReasonOfWrapped(t *testing.T) {
	err := New().Validate(model.UploadCandidate{MediaType: "text/plain"})
	wrapped := errors.Join(errors.New("submit"), err)
	if r, ok := ReasonOf(wrapped); !ok || r != ReasonUnsupportedType {
		t.Errorf("ReasonOf(wrapped) = %q, %v", r, ok)
	}
	if _, ok := ReasonOf(errors.New("other")); ok {
		t.Error("ReasonOf should not match unrelated errors")
	}
}

func TestDetectMediaType(t *testing.T) {
	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")
	if got := DetectMediaType(png); got != "image/png" {
		t.Errorf("DetectMediaType(png) = %q, want image/png", got)
	}
	jpeg := append([]byte{0xFF, 0xD8, 0xFF, 0xE0}, bytes.Repeat([]byte{0}, 16)...)
	if got := DetectMediaType(jpeg); got != "image/jpeg" {
		t.Errorf("DetectMediaType(jpeg) = %q, want image/jpeg", got)
	}
	if got := DetectMediaType([]byte("just some notes")); got != "text/plain" {
		t.Errorf("DetectMediaType(text) = %q, want text/plain", got)
	}
}
