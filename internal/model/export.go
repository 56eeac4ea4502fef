package model

import "time"

// ExportKind selects which subset of a document bundle is rendered into a PDF.
type ExportKind string

const (
	ExportComplete ExportKind = "complete"
	ExportSummary  ExportKind = "summary"
	ExportQuiz     ExportKind = "quiz"
	ExportNotes    ExportKind = "notes"
	ExportChat     ExportKind = "chat"
)

// ExportKinds lists every export kind in display order.
var ExportKinds = []ExportKind{ExportComplete, ExportSummary, ExportQuiz, ExportNotes, ExportChat}

// ParseExportKind returns the export kind named by s.
func ParseExportKind(s string) (ExportKind, bool) {
	for _, k := range ExportKinds {
		if string(k) == s {
			return k, true
		}
	}
	return "", false
}

// ExportOption describes whether a kind can be exported and which sections it includes.
type ExportOption struct {
	Available bool     `json:"available"`
	Includes  []string `json:"includes"`
}

// ExportJob is the client-side record of the latest export request for one kind.
type ExportJob struct {
	Kind     ExportKind `json:"kind"`
	InFlight bool       `json:"inFlight"`
	LastFile string     `json:"lastFile,omitempty"`
	LastErr  string     `json:"lastError,omitempty"`
}

// Download is one saved export, as recorded in the local download ledger.
type Download struct {
	ID         int64      `json:"id"`
	DocumentID string     `json:"document_id"`
	Kind       ExportKind `json:"kind"`
	Filename   string     `json:"filename"`
	Path       string     `json:"path"`
	Bytes      int64      `json:"bytes"`
	SHA256     string     `json:"sha256"`
	SavedAt    time.Time  `json:"saved_at"`
}
