package store

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"time"
)

const accessTokenTTL = 24 * time.Hour

// CreateAccessToken issues a new token for the companion API.
func (s *Store) CreateAccessToken(ctx context.Context) (string, time.Time, error) {
	token, err := generateToken()
	if err != nil {
		return "", time.Time{}, err
	}
	now := time.Now().UTC()
	expires := now.Add(accessTokenTTL)
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO access_tokens (id, created_at, expires_at) VALUES (?, ?, ?)`,
		token, now, expires,
	)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, expires, nil
}

// ValidAccessToken reports whether token exists and has not expired.
// An expired token is deleted.
func (s *Store) ValidAccessToken(ctx context.Context, token string) (bool, error) {
	var expires time.Time
	err := s.db.QueryRowContext(ctx,
		`SELECT expires_at FROM access_tokens WHERE id = ?`, token,
	).Scan(&expires)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if time.Now().After(expires) {
		_ = s.DeleteAccessToken(ctx, token)
		return false, nil
	}
	return true, nil
}

// DeleteAccessToken revokes a token.
func (s *Store) DeleteAccessToken(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM access_tokens WHERE id = ?`, token)
	return err
}

// CleanupExpiredTokens removes all expired tokens.
func (s *Store) CleanupExpiredTokens(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM access_tokens WHERE expires_at < ?`, time.Now().UTC())
	return err
}

func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
