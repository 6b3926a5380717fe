package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// IndexedCommit is one row of repo_commit.
type IndexedCommit struct {
	RepoID     string
	CommitID   string
	CommitTime int64
	CaptureMS  int64
	Message    string
}

// Capture is one commit touching a file.
type Capture struct {
	CommitID  string `json:"commit"`
	CaptureMS int64  `json:"capture_ms"`
	Deleted   bool   `json:"deleted,omitempty"`
}

// UpsertCommit records a commit in the per-repository commit table.
func (s *Store) UpsertCommit(ctx context.Context, c IndexedCommit) error {
	query := `
	INSERT INTO repo_commit (repo_id, commit_id, commit_time, capture_ms, message)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(repo_id, commit_id) DO UPDATE SET
		commit_time = excluded.commit_time,
		capture_ms = excluded.capture_ms,
		message = excluded.message
	`
	_, err := s.conn.ExecContext(ctx, s.q(query), c.RepoID, c.CommitID, c.CommitTime, c.CaptureMS, c.Message)
	if err != nil {
		return fmt.Errorf("failed to upsert commit %s: %w", c.CommitID, err)
	}
	return nil
}

// UpsertFilePath returns the id of path, inserting it when new.
func (s *Store) UpsertFilePath(ctx context.Context, path string) (int64, error) {
	if _, err := s.conn.ExecContext(ctx,
		s.q(`INSERT INTO file_path (path) VALUES (?) ON CONFLICT(path) DO NOTHING`), path); err != nil {
		return 0, fmt.Errorf("failed to upsert path %s: %w", path, err)
	}

	var id int64
	if err := s.conn.QueryRowContext(ctx, s.q(`SELECT id FROM file_path WHERE path = ?`), path).Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to read path id %s: %w", path, err)
	}
	return id, nil
}

// LinkFileCommit records that commitID touched fileID in repoID.
func (s *Store) LinkFileCommit(ctx context.Context, fileID int64, repoID, commitID, change string) error {
	query := `
	INSERT INTO file_commit (file_id, repo_id, commit_id, change) VALUES (?, ?, ?, ?)
	ON CONFLICT(file_id, repo_id, commit_id) DO UPDATE SET change = excluded.change
	`
	if _, err := s.conn.ExecContext(ctx, s.q(query), fileID, repoID, commitID, change); err != nil {
		return fmt.Errorf("failed to link file %d to %s: %w", fileID, commitID, err)
	}
	return nil
}

// Timestamps lists the captures of path in repoID, oldest first.
// Deletions are included and flagged.
func (s *Store) Timestamps(ctx context.Context, repoID, path string) ([]Capture, error) {
	query := `
	SELECT rc.commit_id, rc.capture_ms, fc.change
	FROM file_path fp
	JOIN file_commit fc ON fc.file_id = fp.id
	JOIN repo_commit rc ON rc.repo_id = fc.repo_id AND rc.commit_id = fc.commit_id
	WHERE fp.path = ? AND fc.repo_id = ?
	ORDER BY rc.capture_ms, rc.commit_time
	`
	rows, err := s.conn.QueryContext(ctx, s.q(query), path, repoID)
	if err != nil {
		return nil, fmt.Errorf("failed to query timestamps: %w", err)
	}
	defer rows.Close()

	var captures []Capture
	for rows.Next() {
		var (
			c      Capture
			change string
		)
		if err := rows.Scan(&c.CommitID, &c.CaptureMS, &change); err != nil {
			return nil, fmt.Errorf("failed to scan capture: %w", err)
		}
		c.Deleted = change == "D"
		captures = append(captures, c)
	}
	return captures, rows.Err()
}

// AsOf returns the latest capture of path at or before captureMS.
// Returns ErrNotFound when there is none or the file was deleted by then.
func (s *Store) AsOf(ctx context.Context, repoID, path string, captureMS int64) (Capture, error) {
	query := `
	SELECT rc.commit_id, rc.capture_ms, fc.change
	FROM file_path fp
	JOIN file_commit fc ON fc.file_id = fp.id
	JOIN repo_commit rc ON rc.repo_id = fc.repo_id AND rc.commit_id = fc.commit_id
	WHERE fp.path = ? AND fc.repo_id = ? AND rc.capture_ms <= ?
	ORDER BY rc.capture_ms DESC, rc.commit_time DESC
	LIMIT 1
	`
	var (
		c      Capture
		change string
	)
	err := s.conn.QueryRowContext(ctx, s.q(query), path, repoID, captureMS).Scan(&c.CommitID, &c.CaptureMS, &change)
	if errors.Is(err, sql.ErrNoRows) {
		return Capture{}, ErrNotFound
	}
	if err != nil {
		return Capture{}, fmt.Errorf("failed to query capture: %w", err)
	}
	if change == "D" {
		return Capture{}, ErrNotFound
	}
	return c, nil
}

// CountCommits returns the number of indexed commits for repoID.
func (s *Store) CountCommits(ctx context.Context, repoID string) (int, error) {
	var n int
	err := s.conn.QueryRowContext(ctx, s.q(`SELECT COUNT(*) FROM repo_commit WHERE repo_id = ?`), repoID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count commits: %w", err)
	}
	return n, nil
}
