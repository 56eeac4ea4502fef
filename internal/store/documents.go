package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/pavelanni/studyhelper/internal/model"
)

const lastDocumentKey = "last_document_id"

// SetSetting upserts a key-value pair.
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settings (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = ?`,
		key, value, value,
	)
	return err
}

// GetSetting returns the value for key.
// Returns empty string and nil error if the key is missing.
func (s *Store) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return value, err
}

// RememberDocument records that a document was opened and makes it the last one.
func (s *Store) RememberDocument(ctx context.Context, d model.DocumentSummary) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	openedAt := d.CreatedAt
	if openedAt.IsZero() {
		openedAt = time.Now()
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO recent_documents (document_id, user_prompt, filename, opened_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(document_id) DO UPDATE SET user_prompt = excluded.user_prompt,
		 filename = CASE WHEN excluded.filename = '' THEN recent_documents.filename ELSE excluded.filename END,
		 opened_at = excluded.opened_at`,
		d.DocumentID, d.UserPrompt, d.Filename, openedAt.UTC(),
	)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO settings (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		lastDocumentKey, d.DocumentID,
	)
	if err != nil {
		return err
	}
	return tx.Commit()
}

// LastDocumentID returns the most recently remembered document, or "".
func (s *Store) LastDocumentID(ctx context.Context) (string, error) {
	return s.GetSetting(ctx, lastDocumentKey)
}

// RecentDocuments returns remembered documents, most recently opened first.
func (s *Store) RecentDocuments(ctx context.Context, limit int) ([]model.DocumentSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT document_id, user_prompt, filename, opened_at FROM recent_documents
		 ORDER BY opened_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var docs []model.DocumentSummary
	for rows.Next() {
		var d model.DocumentSummary
		if err := rows.Scan(&d.DocumentID, &d.UserPrompt, &d.Filename, &d.CreatedAt); err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// ForgetDocument removes a document from the recent list.
func (s *Store) ForgetDocument(ctx context.Context, documentID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM recent_documents WHERE document_id = ?`, documentID)
	if err != nil {
		return err
	}
	last, err := s.LastDocumentID(ctx)
	if err != nil {
		return err
	}
	if last == documentID {
		_, err = s.db.ExecContext(ctx, `DELETE FROM settings WHERE key = ?`, lastDocumentKey)
	}
	return err
}
