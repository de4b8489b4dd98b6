package playground

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// EnsureProviderKey verifies that the user has configured an API key for the
// provider and returns it decrypted.
func (s *Service) EnsureProviderKey(ctx context.Context, userID int64, provider string) (string, error) {
	key, err := s.GetProviderKey(ctx, userID, provider)
	if err != nil {
		return "", err
	}
	if key == "" {
		return "", errors.New("api key not configured")
	}
	return key, nil
}

// GetProviderKey returns the API key stored for the user/provider pair, or an
// empty string when none is configured.
func (s *Service) GetProviderKey(ctx context.Context, userID int64, provider string) (string, error) {
	if userID <= 0 {
		return "", errors.New("invalid user id")
	}
	provider = strings.TrimSpace(provider)
	if provider == "" {
		return "", errors.New("provider is required")
	}
	var stored string
	err := s.db.QueryRowContext(ctx,
		`SELECT api_key FROM apiKeys WHERE user_id = ? AND provider = ? LIMIT 1`,
		userID, provider,
	).Scan(&stored)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("lookup api key: %w", err)
	}
	if s.cipher == nil {
		return stored, nil
	}
	plain, err := s.cipher.Decrypt(stored)
	if err != nil {
		if errors.Is(err, errInvalidCiphertext) {
			// Keys stored before encryption was enabled stay readable.
			return stored, nil
		}
		return "", fmt.Errorf("decrypt api key: %w", err)
	}
	return plain, nil
}

// SetProviderKey persists or replaces the API key for a user/provider pair.
func (s *Service) SetProviderKey(ctx context.Context, userID int64, provider, key string) error {
	if userID <= 0 {
		return errors.New("invalid user id")
	}
	provider = strings.TrimSpace(provider)
	if provider == "" {
		return errors.New("provider is required")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return errors.New("api key is required")
	}

	var exists bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE id = ?)`, userID).Scan(&exists); err != nil {
		return fmt.Errorf("verify user: %w", err)
	}
	if !exists {
		return errors.New("user not found")
	}

	stored := key
	if s.cipher != nil {
		enc, err := s.cipher.Encrypt(key)
		if err != nil {
			return fmt.Errorf("encrypt api key: %w", err)
		}
		stored = enc
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO apiKeys (user_id, provider, api_key, created_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(user_id, provider) DO UPDATE SET api_key = excluded.api_key, created_at = excluded.created_at`,
		userID, provider, stored, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("store api key: %w", err)
	}
	return nil
}

// DeleteProviderKey removes the stored key for a provider.
func (s *Service) DeleteProviderKey(ctx context.Context, userID int64, provider string) error {
	if userID <= 0 {
		return errors.New("invalid user id")
	}
	provider = strings.TrimSpace(provider)
	if provider == "" {
		return errors.New("provider is required")
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM apiKeys WHERE user_id = ? AND provider = ?`, userID, provider,
	)
	if err != nil {
		return fmt.Errorf("delete api key: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ListProviderKeys returns the providers the user has keys for. Key material
// itself never leaves the service.
func (s *Service) ListProviderKeys(ctx context.Context, userID int64) ([]string, error) {
	if userID <= 0 {
		return nil, errors.New("invalid user id")
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT provider FROM apiKeys WHERE user_id = ? ORDER BY provider`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	defer rows.Close()

	var providers []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("scan provider: %w", err)
		}
		providers = append(providers, p)
	}
	return providers, rows.Err()
}
