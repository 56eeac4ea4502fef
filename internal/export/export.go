// Package export coordinates PDF exports of the active document, one job per kind.
package export

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pavelanni/studyhelper/internal/model"
)

var (
	// ErrInFlight is returned when an export of the same kind has not completed.
	ErrInFlight = errors.New("export already in progress")
	// ErrUnavailable is returned for a kind the export options reported unavailable.
	ErrUnavailable = errors.New("export not available")
)

// Service is the remote export collaborator.
type Service interface {
	Options(ctx context.Context, documentID string) (map[model.ExportKind]model.ExportOption, error)
	Export(ctx context.Context, documentID string, kind model.ExportKind) ([]byte, error)
}

// Saver persists a downloaded payload and returns where it ended up.
type Saver interface {
	Save(ctx context.Context, filename string, data []byte) (string, error)
}

// Ledger records completed downloads.
type Ledger interface {
	RecordDownload(ctx context.Context, d model.Download) (int64, error)
}

// Result describes one completed export.
type Result struct {
	Kind     model.ExportKind `json:"kind"`
	Filename string           `json:"filename"`
	Path     string           `json:"path"`
	Bytes    int64            `json:"bytes"`
	SHA256   string           `json:"sha256"`
}

// Filename is the download name for kind on the given day.
func Filename(kind model.ExportKind, t time.Time) string {
	return fmt.Sprintf("study-material-%s-%s.pdf", kind, t.UTC().Format("2006-01-02"))
}

type job struct {
	inFlight bool
	lastFile string
	lastErr  error
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLedger records every saved export in l.
func WithLedger(l Ledger) Option {
	return func(c *Coordinator) { c.ledger = l }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// Coordinator runs exports for one document. Different kinds may run
// concurrently; a kind never has more than one request outstanding.
type Coordinator struct {
	documentID string
	svc        Service
	saver      Saver
	ledger     Ledger
	now        func() time.Time

	mu      sync.Mutex
	jobs    map[model.ExportKind]*job
	options map[model.ExportKind]model.ExportOption
}

// NewCoordinator creates a coordinator bound to documentID.
func NewCoordinator(documentID string, svc Service, saver Saver, opts ...Option) *Coordinator {
	c := &Coordinator{
		documentID: documentID,
		svc:        svc,
		saver:      saver,
		now:        time.Now,
		jobs:       make(map[model.ExportKind]*job),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ListOptions fetches the export options and remembers them, so later exports
// of a kind reported unavailable are refused without a request. A failed fetch
// keeps the options remembered before.
func (c *Coordinator) ListOptions(ctx context.Context) (map[model.ExportKind]model.ExportOption, error) {
	opts, err := c.svc.Options(ctx, c.documentID)
	if err != nil {
		return nil, fmt.Errorf("list export options: %w", err)
	}
	c.mu.Lock()
	c.options = opts
	c.mu.Unlock()
	return opts, nil
}

// Options returns the last options ListOptions fetched, or nil before the
// first successful fetch.
func (c *Coordinator) Options() map[model.ExportKind]model.ExportOption {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.options == nil {
		return nil
	}
	out := make(map[model.ExportKind]model.ExportOption, len(c.options))
	for k, v := range c.options {
		out[k] = v
	}
	return out
}

// ExportAs downloads the kind's PDF and saves it. Failures are kept on the
// job as its transient error and are never retried.
func (c *Coordinator) ExportAs(ctx context.Context, kind model.ExportKind) (Result, error) {
	c.mu.Lock()
	if c.options != nil {
		if opt, ok := c.options[kind]; !ok || !opt.Available {
			c.mu.Unlock()
			return Result{}, fmt.Errorf("export %s: %w", kind, ErrUnavailable)
		}
	}
	j := c.jobLocked(kind)
	if j.inFlight {
		c.mu.Unlock()
		return Result{}, fmt.Errorf("export %s: %w", kind, ErrInFlight)
	}
	j.inFlight = true
	j.lastErr = nil
	c.mu.Unlock()

	res, err := c.run(ctx, kind)

	c.mu.Lock()
	defer c.mu.Unlock()
	j.inFlight = false
	if err != nil {
		j.lastErr = err
		slog.Warn("export document", "document_id", c.documentID, "kind", kind, "error", err)
		return Result{}, err
	}
	j.lastFile = res.Filename
	return res, nil
}

func (c *Coordinator) run(ctx context.Context, kind model.ExportKind) (Result, error) {
	data, err := c.svc.Export(ctx, c.documentID, kind)
	if err != nil {
		// The service error already names the export kind.
		return Result{}, err
	}

	now := c.now()
	name := Filename(kind, now)
	path, err := c.saver.Save(ctx, name, data)
	if err != nil {
		return Result{}, fmt.Errorf("save %s: %w", name, err)
	}

	sum := sha256.Sum256(data)
	res := Result{
		Kind:     kind,
		Filename: name,
		Path:     path,
		Bytes:    int64(len(data)),
		SHA256:   hex.EncodeToString(sum[:]),
	}
	slog.Info("export saved", "document_id", c.documentID, "kind", kind, "path", path, "bytes", res.Bytes)

	if c.ledger != nil {
		_, err := c.ledger.RecordDownload(ctx, model.Download{
			DocumentID: c.documentID,
			Kind:       kind,
			Filename:   name,
			Path:       path,
			Bytes:      res.Bytes,
			SHA256:     res.SHA256,
			SavedAt:    now,
		})
		if err != nil {
			// The file is on disk; a ledger miss only affects the downloads listing.
			slog.Warn("record download", "path", path, "error", err)
		}
	}
	return res, nil
}

// Jobs returns the state of every kind, in display order.
func (c *Coordinator) Jobs() []model.ExportJob {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]model.ExportJob, 0, len(model.ExportKinds))
	for _, kind := range model.ExportKinds {
		ej := model.ExportJob{Kind: kind}
		if j, ok := c.jobs[kind]; ok {
			ej.InFlight = j.inFlight
			ej.LastFile = j.lastFile
			if j.lastErr != nil {
				ej.LastErr = j.lastErr.Error()
			}
		}
		out = append(out, ej)
	}
	return out
}

// InFlight reports whether kind has an outstanding request.
func (c *Coordinator) InFlight(kind model.ExportKind) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	j, ok := c.jobs[kind]
	return ok && j.inFlight
}

// LastError returns the transient error of kind's latest export.
func (c *Coordinator) LastError(kind model.ExportKind) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if j, ok := c.jobs[kind]; ok {
		return j.lastErr
	}
	return nil
}

func (c *Coordinator) jobLocked(kind model.ExportKind) *job {
	j, ok := c.jobs[kind]
	if !ok {
		j = &job{}
		c.jobs[kind] = j
	}
	return j
}
