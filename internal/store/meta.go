package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// GetMeta returns the value stored under key, or ErrNotFound.
func (s *Store) GetMeta(ctx context.Context, key string) (string, error) {
	var value string
	err := s.conn.QueryRowContext(ctx, s.q(`SELECT value FROM meta WHERE key = ?`), key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to read meta %s: %w", key, err)
	}
	return value, nil
}

// SetMeta overwrites the value stored under key.
func (s *Store) SetMeta(ctx context.Context, key, value string) error {
	query := `
	INSERT INTO meta (key, value, updated_at) VALUES (?, ?, ?)
	ON CONFLICT(key) DO UPDATE SET
		value = excluded.value,
		updated_at = excluded.updated_at
	`
	if _, err := s.conn.ExecContext(ctx, s.q(query), key, value, time.Now().Unix()); err != nil {
		return fmt.Errorf("failed to write meta %s: %w", key, err)
	}
	return nil
}

// ListMeta returns all meta entries whose key starts with prefix.
func (s *Store) ListMeta(ctx context.Context, prefix string) (map[string]string, error) {
	rows, err := s.conn.QueryContext(ctx, s.q(`SELECT key, value FROM meta WHERE key LIKE ? ORDER BY key`), prefix+"%")
	if err != nil {
		return nil, fmt.Errorf("failed to list meta: %w", err)
	}
	defer rows.Close()

	result := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("failed to scan meta: %w", err)
		}
		result[key] = value
	}
	return result, rows.Err()
}
