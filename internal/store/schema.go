package store

import (
	"context"
	"fmt"
)

// sqliteSchema creates the tables on sqlite.
var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS repo_commit (
		repo_id TEXT NOT NULL,
		commit_id TEXT NOT NULL,
		commit_time INTEGER NOT NULL,
		capture_ms INTEGER NOT NULL,
		message TEXT NOT NULL,
		PRIMARY KEY (repo_id, commit_id)
	)`,
	`CREATE TABLE IF NOT EXISTS file_path (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		path TEXT NOT NULL UNIQUE
	)`,
	`CREATE TABLE IF NOT EXISTS file_commit (
		file_id INTEGER NOT NULL REFERENCES file_path(id),
		repo_id TEXT NOT NULL,
		commit_id TEXT NOT NULL,
		change TEXT NOT NULL,
		PRIMARY KEY (file_id, repo_id, commit_id)
	)`,
	`CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY,
		username TEXT NOT NULL,
		nickname TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS topics (
		category TEXT NOT NULL,
		id INTEGER NOT NULL,
		title TEXT NOT NULL,
		parent_id TEXT NOT NULL DEFAULT '',
		creator_id INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		state TEXT NOT NULL,
		hidden INTEGER NOT NULL DEFAULT 0,
		last_commit TEXT NOT NULL,
		PRIMARY KEY (category, id)
	)`,
	`CREATE TABLE IF NOT EXISTS posts (
		category TEXT NOT NULL,
		id INTEGER NOT NULL,
		topic_id INTEGER NOT NULL,
		user_id INTEGER NOT NULL,
		content TEXT NOT NULL,
		dateline INTEGER NOT NULL,
		state TEXT NOT NULL DEFAULT '',
		reply_to INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (category, id)
	)`,
	`CREATE TABLE IF NOT EXISTS likes (
		category TEXT NOT NULL,
		topic_id INTEGER NOT NULL,
		post_id INTEGER NOT NULL,
		value INTEGER NOT NULL,
		total INTEGER NOT NULL,
		PRIMARY KEY (category, post_id, value)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_file_commit_repo ON file_commit(repo_id, file_id)`,
	`CREATE INDEX IF NOT EXISTS idx_users_username ON users(username)`,
	`CREATE INDEX IF NOT EXISTS idx_posts_topic ON posts(category, topic_id)`,
	`CREATE INDEX IF NOT EXISTS idx_posts_user ON posts(user_id)`,
	`CREATE INDEX IF NOT EXISTS idx_likes_topic ON likes(category, topic_id)`,
}

// postgresSchema mirrors sqliteSchema with Postgres types.
var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS repo_commit (
		repo_id TEXT NOT NULL,
		commit_id TEXT NOT NULL,
		commit_time BIGINT NOT NULL,
		capture_ms BIGINT NOT NULL,
		message TEXT NOT NULL,
		PRIMARY KEY (repo_id, commit_id)
	)`,
	`CREATE TABLE IF NOT EXISTS file_path (
		id BIGSERIAL PRIMARY KEY,
		path TEXT NOT NULL UNIQUE
	)`,
	`CREATE TABLE IF NOT EXISTS file_commit (
		file_id BIGINT NOT NULL REFERENCES file_path(id),
		repo_id TEXT NOT NULL,
		commit_id TEXT NOT NULL,
		change TEXT NOT NULL,
		PRIMARY KEY (file_id, repo_id, commit_id)
	)`,
	`CREATE TABLE IF NOT EXISTS users (
		id BIGINT PRIMARY KEY,
		username TEXT NOT NULL,
		nickname TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS topics (
		category TEXT NOT NULL,
		id BIGINT NOT NULL,
		title TEXT NOT NULL,
		parent_id TEXT NOT NULL DEFAULT '',
		creator_id BIGINT NOT NULL,
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL,
		state TEXT NOT NULL,
		hidden INTEGER NOT NULL DEFAULT 0,
		last_commit TEXT NOT NULL,
		PRIMARY KEY (category, id)
	)`,
	`CREATE TABLE IF NOT EXISTS posts (
		category TEXT NOT NULL,
		id BIGINT NOT NULL,
		topic_id BIGINT NOT NULL,
		user_id BIGINT NOT NULL,
		content TEXT NOT NULL,
		dateline BIGINT NOT NULL,
		state TEXT NOT NULL DEFAULT '',
		reply_to BIGINT NOT NULL DEFAULT 0,
		PRIMARY KEY (category, id)
	)`,
	`CREATE TABLE IF NOT EXISTS likes (
		category TEXT NOT NULL,
		topic_id BIGINT NOT NULL,
		post_id BIGINT NOT NULL,
		value INTEGER NOT NULL,
		total INTEGER NOT NULL,
		PRIMARY KEY (category, post_id, value)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_file_commit_repo ON file_commit(repo_id, file_id)`,
	`CREATE INDEX IF NOT EXISTS idx_users_username ON users(username)`,
	`CREATE INDEX IF NOT EXISTS idx_posts_topic ON posts(category, topic_id)`,
	`CREATE INDEX IF NOT EXISTS idx_posts_user ON posts(user_id)`,
	`CREATE INDEX IF NOT EXISTS idx_likes_topic ON likes(category, topic_id)`,
}

// InitSchema creates the database schema if it doesn't exist.
// This is idempotent - safe to call multiple times.
func (s *Store) InitSchema(ctx context.Context) error {
	statements := sqliteSchema
	if s.dialect == DialectPostgres {
		statements = postgresSchema
	}

	for _, stmt := range statements {
		if _, err := s.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to initialize schema: %w", err)
		}
	}

	return nil
}
