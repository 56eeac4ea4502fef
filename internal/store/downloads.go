package store

import (
	"context"
	"fmt"

	"github.com/pavelanni/studyhelper/internal/model"
)

// RecordDownload appends a saved export to the ledger.
func (s *Store) RecordDownload(ctx context.Context, d model.Download) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO downloads (document_id, kind, filename, path, bytes, sha256, saved_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		d.DocumentID, d.Kind, d.Filename, d.Path, d.Bytes, d.SHA256, d.SavedAt.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("insert download: %w", err)
	}
	return res.LastInsertId()
}

// ListDownloads returns the newest downloads first. An empty documentID lists
// every document; limit <= 0 means no limit.
func (s *Store) ListDownloads(ctx context.Context, documentID string, limit int) ([]model.Download, error) {
	query := `SELECT id, document_id, kind, filename, path, bytes, sha256, saved_at FROM downloads WHERE 1=1`
	var args []any
	if documentID != "" {
		query += ` AND document_id = ?`
		args = append(args, documentID)
	}
	query += ` ORDER BY saved_at DESC, id DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var downloads []model.Download
	for rows.Next() {
		var d model.Download
		if err := rows.Scan(&d.ID, &d.DocumentID, &d.Kind, &d.Filename, &d.Path, &d.Bytes, &d.SHA256, &d.SavedAt); err != nil {
			return nil, err
		}
		downloads = append(downloads, d)
	}
	return downloads, rows.Err()
}

// DownloadCount returns how many downloads are recorded.
func (s *Store) DownloadCount(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM downloads`).Scan(&count)
	return count, err
}
