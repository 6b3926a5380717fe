package store

import (
	"context"
	"database/sql"
	"fmt"
)

// DedupResult summarizes one DedupUsers pass.
type DedupResult struct {
	// Merged counts placeholder users folded into a real id
	Merged int

	// Conflicts lists usernames shared by several real ids
	Conflicts []string
}

type placeholder struct {
	id       int64
	username string
	target   int64
	matches  int
}

// DedupUsers folds negative placeholder users into the positive user
// with the same username. Placeholders whose username maps to more than
// one positive id are reported and left alone.
func (s *Store) DedupUsers(ctx context.Context) (DedupResult, error) {
	var result DedupResult

	rows, err := s.conn.QueryContext(ctx, `
		SELECT n.id, n.username, MIN(p.id), COUNT(p.id)
		FROM users n
		JOIN users p ON p.username = n.username AND p.id > 0
		WHERE n.id < 0
		GROUP BY n.id, n.username
		ORDER BY n.id DESC`)
	if err != nil {
		return result, fmt.Errorf("failed to query placeholder users: %w", err)
	}

	var candidates []placeholder
	for rows.Next() {
		var p placeholder
		if err := rows.Scan(&p.id, &p.username, &p.target, &p.matches); err != nil {
			rows.Close()
			return result, fmt.Errorf("failed to scan placeholder user: %w", err)
		}
		candidates = append(candidates, p)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return result, err
	}
	rows.Close()

	for _, p := range candidates {
		if p.matches > 1 {
			result.Conflicts = append(result.Conflicts, p.username)
			continue
		}

		err := s.withTx(ctx, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx,
				s.q(`UPDATE topics SET creator_id = ? WHERE creator_id = ?`), p.target, p.id); err != nil {
				return fmt.Errorf("failed to repoint topics: %w", err)
			}
			if _, err := tx.ExecContext(ctx,
				s.q(`UPDATE posts SET user_id = ? WHERE user_id = ?`), p.target, p.id); err != nil {
				return fmt.Errorf("failed to repoint posts: %w", err)
			}
			if _, err := tx.ExecContext(ctx, s.q(`DELETE FROM users WHERE id = ?`), p.id); err != nil {
				return fmt.Errorf("failed to delete placeholder user: %w", err)
			}
			return nil
		})
		if err != nil {
			return result, fmt.Errorf("failed to merge user %d into %d: %w", p.id, p.target, err)
		}
		result.Merged++
	}

	return result, nil
}

// UserCount returns the number of stored users, placeholders included.
func (s *Store) UserCount(ctx context.Context) (int, error) {
	var n int
	if err := s.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count users: %w", err)
	}
	return n, nil
}
